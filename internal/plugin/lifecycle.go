package plugin

import "context"

// Lifecycle is the set of hooks a plugin may implement. A plugin that
// embeds BaseLifecycle gets a no-op for every hook it does not override.
type Lifecycle interface {
	// OnLoad runs once, after the factory has registered the plugin's
	// components. A non-nil error unregisters them and aborts the load
	// with coreerr.PluginLoadFault; the plugin is never enabled.
	OnLoad(ctx context.Context, cfg *Config) error
	// OnEnable runs after every declared component has registered
	// successfully, making the plugin live.
	OnEnable(ctx context.Context) error
	// OnDisable runs before a plugin's components are removed from the
	// registry, giving it a chance to release runtime resources while
	// its components can still be looked up.
	OnDisable(ctx context.Context) error
	// OnUnload runs last, after every component has been removed.
	OnUnload(ctx context.Context) error
}

// BaseLifecycle is an embeddable no-op Lifecycle; plugins implement
// only the hooks they need by overriding methods on a type that embeds
// this one.
type BaseLifecycle struct{}

func (BaseLifecycle) OnLoad(context.Context, *Config) error { return nil }
func (BaseLifecycle) OnEnable(context.Context) error        { return nil }
func (BaseLifecycle) OnDisable(context.Context) error       { return nil }
func (BaseLifecycle) OnUnload(context.Context) error        { return nil }

// State is a plugin's position in its lifecycle.
type State string

const (
	StateLoaded    State = "loaded"
	StateEnabled   State = "enabled"
	StateDisabled  State = "disabled"
	StateUnloaded  State = "unloaded"
	StateLoadError State = "load_error"
)

// Instance is a loaded plugin: its manifest, its lifecycle hooks, its
// merged config, and its current state.
type Instance struct {
	Manifest  Manifest
	Lifecycle Lifecycle
	Config    *Config
	State     State
	LoadError error
}
