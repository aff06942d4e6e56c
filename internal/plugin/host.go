package plugin

import (
	"context"
	"fmt"
	"sync"

	"github.com/coreagent/platform/internal/coreerr"
	"github.com/coreagent/platform/internal/platform/logger"
)

// Factory builds the Lifecycle implementation and registers a
// plugin's components once its manifest has passed dependency checks.
// Registration happens inside Factory so a plugin can close over its
// own Lifecycle state when constructing its components.
type Factory func(reg *Registry, cfg *Config) (Lifecycle, error)

// Host owns every loaded plugin and the component registry they
// register into. It drives the on_load -> on_enable -> on_disable ->
// on_unload sequence and never lets a failed load leave partial
// components registered.
type Host struct {
	log      *logger.Logger
	registry *Registry

	mu      sync.RWMutex
	plugins map[string]*Instance

	availableVersions map[string]string
}

// NewHost constructs a Host bound to its own component registry.
// availableVersions maps an import name to its installed version, used
// to resolve a plugin's declared dependencies; an empty map reports
// every dependency as absent, which fails a plugin with a required
// dependency and tolerates optional ones.
func NewHost(log *logger.Logger, availableVersions map[string]string) *Host {
	return &Host{
		log:               log.With("component", "PluginHost"),
		registry:          NewRegistry(),
		plugins:           make(map[string]*Instance),
		availableVersions: availableVersions,
	}
}

// Registry returns the component registry every loaded plugin
// registers into.
func (h *Host) Registry() *Registry { return h.registry }

// Load runs a plugin's full load sequence: dependency resolution,
// component registration via factory, on_load, on_enable. On any
// failure it unwinds whatever Register calls factory already made and
// the plugin never reaches StateEnabled.
func (h *Host) Load(ctx context.Context, m Manifest, cfg *Config, factory Factory) error {
	h.mu.Lock()
	if _, exists := h.plugins[m.Name]; exists {
		h.mu.Unlock()
		return fmt.Errorf("plugin %s already loaded", m.Name)
	}
	inst := &Instance{Manifest: m, Config: cfg, State: StateLoaded}
	h.plugins[m.Name] = inst
	h.mu.Unlock()

	reports := CheckDependencies(m.Dependencies, h.availableVersions)
	if missing := MissingRequired(reports); len(missing) > 0 {
		err := fmt.Errorf("missing required dependencies: %v", missing)
		h.failLoad(inst, err)
		return &coreerr.PluginLoadFault{Plugin: m.Name, Err: err}
	}
	for _, r := range reports {
		if r.VersionUnverified {
			h.log.Warn("dependency version unverified, proceeding", "plugin", m.Name, "dependency", r.Dependency.ImportName)
		}
	}

	lc, err := factory(h.registry, cfg)
	if err != nil {
		h.registry.UnregisterPlugin(m.Name)
		h.failLoad(inst, err)
		return &coreerr.PluginLoadFault{Plugin: m.Name, Err: err}
	}
	inst.Lifecycle = lc

	if err := lc.OnLoad(ctx, cfg); err != nil {
		h.registry.UnregisterPlugin(m.Name)
		h.failLoad(inst, err)
		return &coreerr.PluginLoadFault{Plugin: m.Name, Err: err}
	}

	if err := lc.OnEnable(ctx); err != nil {
		h.registry.UnregisterPlugin(m.Name)
		h.failLoad(inst, err)
		return &coreerr.PluginLoadFault{Plugin: m.Name, Err: err}
	}

	h.mu.Lock()
	inst.State = StateEnabled
	h.mu.Unlock()
	h.log.Info("plugin enabled", "plugin", m.Name, "version", m.Version)
	return nil
}

func (h *Host) failLoad(inst *Instance, err error) {
	h.mu.Lock()
	inst.State = StateLoadError
	inst.LoadError = err
	h.mu.Unlock()
	h.log.Error("plugin load failed", "plugin", inst.Manifest.Name, "error", err)
}

// Disable runs on_disable and removes the plugin's components from the
// registry, but keeps the Instance around in StateDisabled so it can
// be inspected or re-enabled later.
func (h *Host) Disable(ctx context.Context, name string) error {
	h.mu.RLock()
	inst, ok := h.plugins[name]
	h.mu.RUnlock()
	if !ok {
		return fmt.Errorf("plugin %s not loaded", name)
	}
	if inst.Lifecycle != nil {
		if err := inst.Lifecycle.OnDisable(ctx); err != nil {
			return &coreerr.PluginLoadFault{Plugin: name, Err: err}
		}
	}
	h.registry.UnregisterPlugin(name)
	h.mu.Lock()
	inst.State = StateDisabled
	h.mu.Unlock()
	return nil
}

// Unload runs on_unload and forgets the plugin entirely.
func (h *Host) Unload(ctx context.Context, name string) error {
	h.mu.RLock()
	inst, ok := h.plugins[name]
	h.mu.RUnlock()
	if !ok {
		return fmt.Errorf("plugin %s not loaded", name)
	}
	if inst.State == StateEnabled {
		if err := h.Disable(ctx, name); err != nil {
			return err
		}
	}
	if inst.Lifecycle != nil {
		if err := inst.Lifecycle.OnUnload(ctx); err != nil {
			return &coreerr.PluginLoadFault{Plugin: name, Err: err}
		}
	}
	h.mu.Lock()
	delete(h.plugins, name)
	h.mu.Unlock()
	return nil
}

// Get returns the loaded Instance for a plugin name.
func (h *Host) Get(name string) (*Instance, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	inst, ok := h.plugins[name]
	return inst, ok
}

// List returns every loaded plugin's instance snapshot.
func (h *Host) List() []*Instance {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Instance, 0, len(h.plugins))
	for _, inst := range h.plugins {
		out = append(out, inst)
	}
	return out
}
