package event

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coreagent/platform/internal/platform/logger"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	log, err := logger.New("test")
	require.NoError(t, err)
	return New(log)
}

func TestTriggerEventOrdersByWeightThenRegistration(t *testing.T) {
	m := newTestManager(t)
	var order []string

	m.Subscribe("msg.in", "low", 1, GroupSystem, func(ctx context.Context, name string, payload any) HandlerResult {
		order = append(order, "low")
		return HandlerResult{Success: true, ContinueProcess: true}
	})
	m.Subscribe("msg.in", "high", 10, GroupSystem, func(ctx context.Context, name string, payload any) HandlerResult {
		order = append(order, "high")
		return HandlerResult{Success: true, ContinueProcess: true}
	})
	m.Subscribe("msg.in", "mid-first", 5, GroupSystem, func(ctx context.Context, name string, payload any) HandlerResult {
		order = append(order, "mid-first")
		return HandlerResult{Success: true, ContinueProcess: true}
	})
	m.Subscribe("msg.in", "mid-second", 5, GroupSystem, func(ctx context.Context, name string, payload any) HandlerResult {
		order = append(order, "mid-second")
		return HandlerResult{Success: true, ContinueProcess: true}
	})

	m.TriggerEvent(context.Background(), "msg.in", nil, GroupSystem)
	assert.Equal(t, []string{"high", "mid-first", "mid-second", "low"}, order)
}

func TestTriggerEventStopsOnContinueProcessFalse(t *testing.T) {
	m := newTestManager(t)
	var ran []string

	m.Subscribe("msg.in", "first", 10, GroupSystem, func(ctx context.Context, name string, payload any) HandlerResult {
		ran = append(ran, "first")
		return HandlerResult{Success: true, ContinueProcess: false}
	})
	m.Subscribe("msg.in", "second", 1, GroupSystem, func(ctx context.Context, name string, payload any) HandlerResult {
		ran = append(ran, "second")
		return HandlerResult{Success: true, ContinueProcess: true}
	})

	agg := m.TriggerEvent(context.Background(), "msg.in", nil, GroupSystem)
	assert.Equal(t, []string{"first"}, ran)
	assert.True(t, agg.StoppedEarly)
	assert.Equal(t, "first", agg.StoppedByName)
}

func TestPermissionGroupGating(t *testing.T) {
	m := newTestManager(t)
	ran := false
	m.Subscribe("admin.cmd", "admin-only", 0, GroupAdmin, func(ctx context.Context, name string, payload any) HandlerResult {
		ran = true
		return HandlerResult{Success: true, ContinueProcess: true}
	})

	m.TriggerEvent(context.Background(), "admin.cmd", nil, GroupUser)
	assert.False(t, ran, "a user-group trigger must not reach an admin-only subscriber")

	m.TriggerEvent(context.Background(), "admin.cmd", nil, GroupSystem)
	assert.True(t, ran, "SYSTEM must reach every subscriber regardless of its group")
}

func TestDirectListenerRunsAfterDispatchAndCannotStopIt(t *testing.T) {
	m := newTestManager(t)
	var order []string

	m.Subscribe("tick", "stopper", 0, GroupSystem, func(ctx context.Context, name string, payload any) HandlerResult {
		order = append(order, "subscriber")
		return HandlerResult{Success: true, ContinueProcess: false}
	})
	m.RegisterDirectListener("tick", func(ctx context.Context, name string, payload any) {
		order = append(order, "direct")
	})

	m.TriggerEvent(context.Background(), "tick", nil, GroupSystem)
	assert.Equal(t, []string{"subscriber", "direct"}, order)
}

func TestHandlerPanicDoesNotAbortDispatch(t *testing.T) {
	m := newTestManager(t)
	var ran []string

	m.Subscribe("tick", "panics", 10, GroupSystem, func(ctx context.Context, name string, payload any) HandlerResult {
		panic("boom")
	})
	m.Subscribe("tick", "survives", 1, GroupSystem, func(ctx context.Context, name string, payload any) HandlerResult {
		ran = append(ran, "survives")
		return HandlerResult{Success: true, ContinueProcess: true}
	})

	agg := m.TriggerEvent(context.Background(), "tick", nil, GroupSystem)
	assert.Equal(t, []string{"survives"}, ran)
	require.Len(t, agg.Results, 2)
	assert.False(t, agg.Results[0].Success)
}
