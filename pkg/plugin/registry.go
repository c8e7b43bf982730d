package plugin

import (
	"fmt"
	"log/slog"
)

// NotFoundError reports an identifier that resolved to neither a built-in
// plugin nor a loadable external module. It aborts the run before any hook
// executes.
type NotFoundError struct {
	Identifier string
	Err        error
}

func (e *NotFoundError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("plugin %s not found: %v", e.Identifier, e.Err)
	}
	return fmt.Sprintf("plugin %s not found", e.Identifier)
}

func (e *NotFoundError) Unwrap() error { return e.Err }

// Instance pairs a live plugin object with its descriptor and hook set.
// Hooks are read once at registration so dispatch never calls back into the
// plugin for its table.
type Instance struct {
	Plugin Plugin
	Info   Info
	Hooks  Hooks
	// Source records where the instance came from: "builtin" or "external".
	Source string
}

// Registry discovers and instantiates exactly one object per declared plugin
// class, preserving the configuration-declared order.
type Registry struct {
	settings  Settings
	builtins  map[string]Factory
	loader    Loader
	logger    *slog.Logger
	instances []*Instance
}

// Option modifies registry construction.
type Option func(*Registry)

// WithBuiltins installs the built-in identifier lookup table.
func WithBuiltins(table map[string]Factory) Option {
	return func(r *Registry) {
		r.builtins = table
	}
}

// WithLoader overrides the external module loader.
func WithLoader(loader Loader) Option {
	return func(r *Registry) {
		if loader != nil {
			r.loader = loader
		}
	}
}

// WithLogger sets the registry logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRegistry resolves every identifier in the settings and instantiates the
// declared plugins. Resolution checks the built-in table first, then falls
// back to the external loader, mirroring the configuration contract: an
// identifier is a built-in name or a shared object path.
func NewRegistry(settings Settings, opts ...Option) (*Registry, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	r := &Registry{
		settings: settings,
		loader:   SharedObjectLoader{Dir: settings.PluginDir},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	seen := make(map[string]struct{})
	for _, identifier := range settings.Plugins {
		plugins, source, err := r.resolve(identifier)
		if err != nil {
			return nil, err
		}
		if len(plugins) == 0 {
			return nil, &NotFoundError{Identifier: identifier, Err: fmt.Errorf("module exposes no plugins")}
		}
		for _, p := range plugins {
			info := p.Info()
			if err := info.Validate(); err != nil {
				return nil, fmt.Errorf("plugin from %s: %w", identifier, err)
			}
			if _, dup := seen[info.Name]; dup {
				return nil, fmt.Errorf("plugin %s registered twice", info.Name)
			}
			seen[info.Name] = struct{}{}
			if unknown := info.Unknown(); len(unknown) > 0 {
				r.logger.Warn("plugin declares capabilities outside the built-in vocabulary",
					"plugin", info.Name, "capabilities", unknown)
			}
			r.instances = append(r.instances, &Instance{
				Plugin: p,
				Info:   info,
				Hooks:  p.Hooks(),
				Source: source,
			})
		}
		r.logger.Info("plugin module loaded", "identifier", identifier, "source", source, "plugins", len(plugins))
	}
	return r, nil
}

func (r *Registry) resolve(identifier string) ([]Plugin, string, error) {
	if factory, ok := r.builtins[identifier]; ok {
		return factory(), "builtin", nil
	}
	if r.loader == nil {
		return nil, "", &NotFoundError{Identifier: identifier}
	}
	plugins, err := r.loader.Load(identifier)
	if err != nil {
		return nil, "", &NotFoundError{Identifier: identifier, Err: err}
	}
	return plugins, "external", nil
}

// Instances returns the plugin instances in declaration order.
func (r *Registry) Instances() []*Instance {
	return r.instances
}

// Settings returns the run-scoped plugin settings.
func (r *Registry) Settings() Settings {
	return r.settings
}

// Resolve computes the dependency-consistent load order for the registered
// instances.
func (r *Registry) Resolve() ([]*Instance, error) {
	return ResolveOrder(r.instances)
}
