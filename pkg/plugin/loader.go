package plugin

import (
	"errors"
	"fmt"
	"path/filepath"
	goplugin "plugin"
	"strings"
)

// Factory instantiates the plugin set exposed by one identifier. A single
// identifier may contribute several plugins (a checkpoint module ships both
// a model loader and a tokenizer loader).
type Factory func() []Plugin

// Loader resolves plugin identifiers that are not in the built-in table.
type Loader interface {
	Load(identifier string) ([]Plugin, error)
}

// SharedObjectLoader resolves identifiers to shared objects built with
// -buildmode=plugin and searches them for a `Plugins` symbol.
type SharedObjectLoader struct {
	// Dir is prepended to relative identifiers.
	Dir string
}

// Load opens the shared object named by the identifier and extracts its
// plugin set. The symbol may be a []Plugin value, a pointer to one, or a
// factory function.
func (l SharedObjectLoader) Load(identifier string) ([]Plugin, error) {
	if identifier == "" {
		return nil, errors.New("plugin identifier cannot be empty")
	}
	path := identifier
	if !strings.HasSuffix(path, ".so") {
		path += ".so"
	}
	if !filepath.IsAbs(path) && l.Dir != "" {
		path = filepath.Join(l.Dir, path)
	}
	so, err := goplugin.Open(path)
	if err != nil {
		return nil, err
	}
	symbol, err := so.Lookup("Plugins")
	if err != nil {
		return nil, err
	}
	switch p := symbol.(type) {
	case []Plugin:
		return p, nil
	case *[]Plugin:
		if p == nil {
			return nil, errors.New("plugins symbol is nil")
		}
		return *p, nil
	case func() []Plugin:
		return p(), nil
	default:
		return nil, fmt.Errorf("plugins symbol in %s must be a []plugin.Plugin", path)
	}
}
