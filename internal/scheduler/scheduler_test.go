package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coreagent/platform/internal/event"
	"github.com/coreagent/platform/internal/platform/logger"
)

func newTestScheduler(t *testing.T) (*Scheduler, *event.Manager) {
	t.Helper()
	log, err := logger.New("test")
	require.NoError(t, err)
	mgr := event.New(log)
	return New(log, mgr), mgr
}

func TestTriggerNowFiresActiveEntryImmediately(t *testing.T) {
	s, _ := newTestScheduler(t)
	defer s.Shutdown()

	fired := make(chan struct{}, 1)
	_, err := s.Create("e1", TriggerCustom, TimeTrigger{}, EventTrigger{}, CustomTrigger{Predicate: func(time.Time) bool { return false }},
		func(ctx context.Context, id string) error {
			fired <- struct{}{}
			return nil
		})
	require.NoError(t, err)

	ok, err := s.TriggerNow(context.Background(), "e1")
	require.NoError(t, err)
	assert.True(t, ok)

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("callback never fired")
	}
}

func TestTriggerNowOnPausedEntryIsNoOp(t *testing.T) {
	s, _ := newTestScheduler(t)
	defer s.Shutdown()

	fired := make(chan struct{}, 1)
	_, err := s.Create("e1", TriggerCustom, TimeTrigger{}, EventTrigger{}, CustomTrigger{Predicate: func(time.Time) bool { return false }},
		func(ctx context.Context, id string) error {
			fired <- struct{}{}
			return nil
		})
	require.NoError(t, err)

	require.True(t, s.Pause("e1"))

	ok, err := s.TriggerNow(context.Background(), "e1")
	assert.False(t, ok, "trigger_now on a paused entry must not wake it")
	assert.ErrorIs(t, err, ErrEntryPaused)

	select {
	case <-fired:
		t.Fatal("paused entry's callback must not run")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestTriggerNowOnUnknownEntryReturnsNotFound(t *testing.T) {
	s, _ := newTestScheduler(t)
	defer s.Shutdown()

	ok, err := s.TriggerNow(context.Background(), "does-not-exist")
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrEntryNotFound)
}

func TestEventTriggerEntryFiresOnMatchingEvent(t *testing.T) {
	s, mgr := newTestScheduler(t)
	defer s.Shutdown()

	var mu sync.Mutex
	var fired bool
	_, err := s.Create("e1", TriggerEvent, TimeTrigger{}, EventTrigger{EventName: "msg.in"}, CustomTrigger{},
		func(ctx context.Context, id string) error {
			mu.Lock()
			fired = true
			mu.Unlock()
			return nil
		})
	require.NoError(t, err)

	mgr.TriggerEvent(context.Background(), "msg.in", nil, event.GroupSystem)

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, fired)
}

func TestRemoveLastEventEntryUnregistersListener(t *testing.T) {
	s, mgr := newTestScheduler(t)
	defer s.Shutdown()

	_, err := s.Create("e1", TriggerEvent, TimeTrigger{}, EventTrigger{EventName: "msg.in"}, CustomTrigger{},
		func(ctx context.Context, id string) error { return nil })
	require.NoError(t, err)

	require.True(t, s.Remove("e1"))

	_, exists := s.listenerRefs["msg.in"]
	assert.False(t, exists)

	// Triggering after removal must not panic even though no listener
	// remains registered for "msg.in".
	mgr.TriggerEvent(context.Background(), "msg.in", nil, event.GroupSystem)
}

func TestStatsCountsByKindAndActive(t *testing.T) {
	s, _ := newTestScheduler(t)
	defer s.Shutdown()

	_, err := s.Create("time1", TriggerTime, TimeTrigger{At: time.Now().Add(time.Hour)}, EventTrigger{}, CustomTrigger{}, nil)
	require.NoError(t, err)
	_, err = s.Create("custom1", TriggerCustom, TimeTrigger{}, EventTrigger{}, CustomTrigger{Predicate: func(time.Time) bool { return false }}, nil)
	require.NoError(t, err)
	require.True(t, s.Pause("custom1"))

	st := s.Stats()
	assert.Equal(t, 2, st.Total)
	assert.Equal(t, 1, st.Active)
	assert.Equal(t, 1, st.ByKind[TriggerTime])
	assert.Equal(t, 1, st.ByKind[TriggerCustom])
}
