package plugin

import (
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Settings is the run-scoped slice of configuration the plugin layer needs:
// which plugins to load, where external shared objects live, and the raw
// per-plugin configuration blocks keyed by config_key.
type Settings struct {
	// Plugins is the ordered list of plugin identifiers from the run
	// configuration. Order is the tie-break for dependency resolution.
	Plugins []string
	// PluginDir is the directory searched for external shared objects.
	PluginDir string
	// Model is the top-level model block shared by loader plugins.
	Model map[string]any
	// Datasets is the top-level dataset block list.
	Datasets []map[string]any
	// Blocks maps config_key to the raw YAML block for that plugin.
	Blocks map[string]map[string]any
}

// Validate ensures the settings can drive a run.
func (s Settings) Validate() error {
	if len(s.Plugins) == 0 {
		return errors.New("plugins list cannot be empty")
	}
	seen := make(map[string]struct{}, len(s.Plugins))
	for _, id := range s.Plugins {
		if id == "" {
			return errors.New("plugin identifier cannot be empty")
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("plugin %s listed twice", id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

// Block returns the configuration block for the given config_key. The model
// and datasets keys resolve to the dedicated top-level sections.
func (s Settings) Block(key string) map[string]any {
	switch key {
	case "", "model":
		return s.Model
	default:
		return s.Blocks[key]
	}
}

// DecodeBlock converts a raw configuration block into a typed plugin config
// struct via a YAML round trip, so plugins declare their options with the
// same tags the run configuration uses.
func DecodeBlock(block map[string]any, out any) error {
	if out == nil {
		return errors.New("decode target cannot be nil")
	}
	if block == nil {
		return nil
	}
	raw, err := yaml.Marshal(block)
	if err != nil {
		return fmt.Errorf("encode plugin block: %w", err)
	}
	if err := yaml.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode plugin block: %w", err)
	}
	return nil
}
