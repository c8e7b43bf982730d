package plugin

import (
	"errors"
	"fmt"
	"slices"
)

// Capability names a feature a plugin provides or requires. Capabilities
// drive the load order and conflict detection performed by the resolver.
type Capability string

// Capabilities used by the built-in plugin set. External plugins may
// introduce new names; unknown capabilities are accepted but logged during
// registration so typos surface early.
const (
	CapabilityModel            Capability = "model"
	CapabilityTokenizer        Capability = "tokenizer"
	CapabilityAdapter          Capability = "adapter"
	CapabilityFullFinetune     Capability = "full_finetune"
	CapabilityDatasetLoader    Capability = "dataset_loader"
	CapabilityDatasetFormatter Capability = "dataset_formatter"
	CapabilityTrainer          Capability = "trainer"
	CapabilityLogging          Capability = "logging"
	CapabilityMetricsCollector Capability = "metrics_collector"
)

var knownCapabilities = []Capability{
	CapabilityModel,
	CapabilityTokenizer,
	CapabilityAdapter,
	CapabilityFullFinetune,
	CapabilityDatasetLoader,
	CapabilityDatasetFormatter,
	CapabilityTrainer,
	CapabilityLogging,
	CapabilityMetricsCollector,
}

// Known reports whether the capability belongs to the built-in vocabulary.
func (c Capability) Known() bool {
	return slices.Contains(knownCapabilities, c)
}

// Info contains the immutable descriptor a plugin declares at discovery
// time: its identity, the configuration block it reads, and its capability
// sets.
type Info struct {
	// Name uniquely identifies the plugin within a run.
	Name string
	// Description is a short human readable summary.
	Description string
	// Version of the plugin implementation.
	Version string
	// ConfigKey selects the top-level YAML block handed to this plugin.
	ConfigKey string
	// Provides lists the capabilities this plugin supplies.
	Provides []Capability
	// Requires lists capabilities that must be provided by some loaded plugin.
	Requires []Capability
	// Conflicts lists capabilities that must not be provided by any other
	// loaded plugin.
	Conflicts []Capability
}

// Validate checks the descriptor for internal consistency.
func (i Info) Validate() error {
	if i.Name == "" {
		return errors.New("plugin name cannot be empty")
	}
	for _, cap := range i.Provides {
		if slices.Contains(i.Conflicts, cap) {
			return fmt.Errorf("plugin %s both provides and conflicts with %s", i.Name, cap)
		}
	}
	return nil
}

// Unknown returns the declared capabilities outside the built-in vocabulary.
func (i Info) Unknown() []Capability {
	var out []Capability
	for _, set := range [][]Capability{i.Provides, i.Requires, i.Conflicts} {
		for _, cap := range set {
			if !cap.Known() && !slices.Contains(out, cap) {
				out = append(out, cap)
			}
		}
	}
	return out
}
