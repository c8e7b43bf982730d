// Package mysql persists experiment runs and their metric series. It ships a
// journal-file repository for local development and a MySQL repository with
// embedded schema migrations for shared tracking servers; the tracker plugin
// selects one by driver name.
package mysql
