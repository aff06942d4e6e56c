package plugin

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coreagent/platform/internal/coreerr"
	"github.com/coreagent/platform/internal/platform/logger"
)

func newTestHost(t *testing.T, versions map[string]string) *Host {
	t.Helper()
	log, err := logger.New("test")
	require.NoError(t, err)
	return NewHost(log, versions)
}

type okLifecycle struct {
	BaseLifecycle
	enabled bool
}

func (l *okLifecycle) OnEnable(context.Context) error {
	l.enabled = true
	return nil
}

func TestRegistryRejectsDuplicateComponent(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register("p1", KindAction, "greet", "first"))

	err := reg.Register("p2", KindAction, "greet", "second")
	var dup *coreerr.DuplicateComponent
	require.ErrorAs(t, err, &dup)
}

func TestHostLoadMissingRequiredDependencyFails(t *testing.T) {
	h := newTestHost(t, map[string]string{})
	m := Manifest{
		Name:         "needs-llm",
		Dependencies: []Dependency{{ImportName: "llm_engine", Optional: false}},
	}
	err := h.Load(context.Background(), m, nil, func(reg *Registry, cfg *Config) (Lifecycle, error) {
		t.Fatal("factory should not run when a required dependency is missing")
		return nil, nil
	})
	var fault *coreerr.PluginLoadFault
	require.ErrorAs(t, err, &fault)

	inst, ok := h.Get("needs-llm")
	require.True(t, ok)
	assert.Equal(t, StateLoadError, inst.State)
}

func TestHostLoadOptionalDependencyMissingStillLoads(t *testing.T) {
	h := newTestHost(t, map[string]string{})
	m := Manifest{
		Name:         "nice-to-have",
		Dependencies: []Dependency{{ImportName: "extra_tool", Optional: true}},
	}
	lc := &okLifecycle{}
	err := h.Load(context.Background(), m, nil, func(reg *Registry, cfg *Config) (Lifecycle, error) {
		require.NoError(t, reg.Register(m.Name, KindTool, "extra", "impl"))
		return lc, nil
	})
	require.NoError(t, err)
	assert.True(t, lc.enabled)

	inst, ok := h.Get("nice-to-have")
	require.True(t, ok)
	assert.Equal(t, StateEnabled, inst.State)
}

func TestHostDisableThenUnloadRemovesComponents(t *testing.T) {
	h := newTestHost(t, nil)
	m := Manifest{Name: "greeter"}
	err := h.Load(context.Background(), m, nil, func(reg *Registry, cfg *Config) (Lifecycle, error) {
		require.NoError(t, reg.Register(m.Name, KindCommand, "hello", "impl"))
		return &okLifecycle{}, nil
	})
	require.NoError(t, err)

	_, ok := h.Registry().Get(KindCommand, "hello")
	require.True(t, ok)

	require.NoError(t, h.Disable(context.Background(), "greeter"))
	_, ok = h.Registry().Get(KindCommand, "hello")
	assert.False(t, ok)

	require.NoError(t, h.Unload(context.Background(), "greeter"))
	_, ok = h.Get("greeter")
	assert.False(t, ok)
}

func TestConfigUsesSchemaDefaultsWithoutUserConfig(t *testing.T) {
	cfg, err := LoadConfig(map[string]any{"greeting": "hi", "loud": false}, "")
	require.NoError(t, err)
	assert.Equal(t, "hi", cfg.GetString("greeting", "x"))
	assert.False(t, cfg.GetBool("loud", true))
}
