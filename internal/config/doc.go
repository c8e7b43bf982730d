// Package config loads the single-file YAML run configuration: the model
// and dataset sections, the ordered plugin identifier list, logging options,
// and one opaque block per plugin config_key handed through to the plugin
// layer untouched.
package config
