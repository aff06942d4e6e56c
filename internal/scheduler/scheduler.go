// Package scheduler implements the Unified Scheduler: time-based,
// event-based, and custom-predicate schedule entries driven by a
// one-second tick loop, with event-trigger entries additionally wired
// into the event manager as direct listeners.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/coreagent/platform/internal/event"
	"github.com/coreagent/platform/internal/platform/logger"
)

// ErrEntryPaused is returned by TriggerNow when the entry exists but is
// paused: a paused entry must be resumed before it will fire again,
// matching the platform's original scheduler behavior.
var ErrEntryPaused = errors.New("scheduler: entry is paused")

// ErrEntryNotFound is returned by TriggerNow when no entry with the
// given id is registered.
var ErrEntryNotFound = errors.New("scheduler: entry not found")

// TriggerKind is the kind of condition that fires a schedule entry.
type TriggerKind string

const (
	TriggerTime   TriggerKind = "time"
	TriggerEvent  TriggerKind = "event"
	TriggerCustom TriggerKind = "custom"
)

const tickInterval = time.Second

// Callback is invoked when an entry fires. A panic inside Callback is
// recovered and logged; it never brings down the tick loop.
type Callback func(ctx context.Context, entryID string) error

// TimeTrigger fires once at At, or every Every thereafter if Recurring.
type TimeTrigger struct {
	At        time.Time
	Every     time.Duration
	Recurring bool
}

// EventTrigger fires whenever EventName is triggered on the event
// manager, gated by an optional Filter over the event payload. A
// non-recurring entry is removed after its first firing.
type EventTrigger struct {
	EventName string
	Filter    func(payload any) bool
	Recurring bool
}

// CustomTrigger fires whenever Predicate reports true on a tick. A
// non-recurring entry is removed after its first firing.
type CustomTrigger struct {
	Predicate func(now time.Time) bool
	Recurring bool
}

// Entry is one scheduled unit of work.
type Entry struct {
	ID       string
	Kind     TriggerKind
	Time     TimeTrigger
	Event    EventTrigger
	Custom   CustomTrigger
	Callback Callback

	mu       sync.Mutex
	active   bool
	nextFire time.Time
	runCount int
	lastFire time.Time
	lastErr  error
}

// Info is a read-only snapshot of an entry's state.
type Info struct {
	ID       string
	Kind     TriggerKind
	Active   bool
	NextFire time.Time
	RunCount int
	LastFire time.Time
	LastErr  error
}

// Stats summarizes the scheduler's entries by trigger kind.
type Stats struct {
	Total  int
	Active int
	ByKind map[TriggerKind]int
}

// Scheduler owns every schedule entry and the single tick loop that
// evaluates TIME and CUSTOM entries. EVENT entries are fired directly
// from the event manager via a registered listener, not from the tick.
type Scheduler struct {
	log *logger.Logger
	mgr *event.Manager

	mu      sync.Mutex
	entries map[string]*Entry
	// listenerRefs counts how many entries share a direct listener for
	// an event name, so the last removal can unregister it.
	listenerRefs map[string]int

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a Scheduler bound to an event manager for EVENT-kind
// entries and starts its tick loop.
func New(log *logger.Logger, mgr *event.Manager) *Scheduler {
	s := &Scheduler{
		log:          log.With("component", "UnifiedScheduler"),
		mgr:          mgr,
		entries:      make(map[string]*Entry),
		listenerRefs: make(map[string]int),
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(1)
	go s.tickLoop(ctx)
	return s
}

// Create registers a new entry. For TIME entries, NextFire is computed
// from TimeTrigger.At. For EVENT entries, a direct listener is
// registered with the event manager (shared across entries for the
// same event name).
func (s *Scheduler) Create(id string, kind TriggerKind, time_ TimeTrigger, ev EventTrigger, custom CustomTrigger, cb Callback) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[id]; exists {
		return nil, fmt.Errorf("schedule entry %s already exists", id)
	}

	e := &Entry{ID: id, Kind: kind, Time: time_, Event: ev, Custom: custom, Callback: cb, active: true}
	if kind == TriggerTime {
		e.nextFire = time_.At
	}
	s.entries[id] = e

	if kind == TriggerEvent {
		s.listenerRefs[ev.EventName]++
		if s.listenerRefs[ev.EventName] == 1 {
			s.mgr.RegisterDirectListener(ev.EventName, s.makeEventListener(ev.EventName))
		}
	}
	return e, nil
}

// makeEventListener builds the direct listener shared by every entry
// registered against a given event name; it re-resolves matching
// entries on every firing rather than closing over one entry, so
// entries added or removed later are picked up automatically.
func (s *Scheduler) makeEventListener(eventName string) func(ctx context.Context, name string, payload any) {
	return func(ctx context.Context, name string, payload any) {
		s.mu.Lock()
		var matching []*Entry
		for _, e := range s.entries {
			if e.Kind == TriggerEvent && e.Event.EventName == eventName {
				matching = append(matching, e)
			}
		}
		s.mu.Unlock()

		for _, e := range matching {
			e.mu.Lock()
			active := e.active
			filter := e.Event.Filter
			e.mu.Unlock()
			if !active {
				continue
			}
			if filter != nil && !filter(payload) {
				continue
			}
			s.fire(ctx, e)
		}
	}
}

// Remove cancels and forgets an entry, unregistering its event listener
// if it was the last entry watching that event name.
func (s *Scheduler) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return false
	}
	delete(s.entries, id)
	if e.Kind == TriggerEvent {
		s.listenerRefs[e.Event.EventName]--
		if s.listenerRefs[e.Event.EventName] <= 0 {
			delete(s.listenerRefs, e.Event.EventName)
			s.mgr.UnregisterDirectListeners(e.Event.EventName)
		}
	}
	return true
}

// Pause deactivates an entry without removing it; it stops firing on
// future ticks or events.
func (s *Scheduler) Pause(id string) bool {
	s.mu.Lock()
	e, ok := s.entries[id]
	s.mu.Unlock()
	if !ok {
		return false
	}
	e.mu.Lock()
	e.active = false
	e.mu.Unlock()
	return true
}

// Resume reactivates a paused entry.
func (s *Scheduler) Resume(id string) bool {
	s.mu.Lock()
	e, ok := s.entries[id]
	s.mu.Unlock()
	if !ok {
		return false
	}
	e.mu.Lock()
	e.active = true
	e.mu.Unlock()
	return true
}

// TriggerNow fires an entry immediately regardless of its schedule. It
// reports ErrEntryNotFound if id isn't registered and ErrEntryPaused
// (a no-op, not a fault) if the entry is currently paused.
func (s *Scheduler) TriggerNow(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	e, ok := s.entries[id]
	s.mu.Unlock()
	if !ok {
		return false, ErrEntryNotFound
	}
	e.mu.Lock()
	active := e.active
	e.mu.Unlock()
	if !active {
		s.log.Warn("trigger_now ignored: entry is paused", "entry_id", id)
		return false, ErrEntryPaused
	}
	s.fire(ctx, e)
	return true, nil
}

// Info returns a snapshot of one entry's state.
func (s *Scheduler) Info(id string) (Info, bool) {
	s.mu.Lock()
	e, ok := s.entries[id]
	s.mu.Unlock()
	if !ok {
		return Info{}, false
	}
	return snapshot(e), true
}

// List returns a snapshot of every entry.
func (s *Scheduler) List() []Info {
	s.mu.Lock()
	entries := make([]*Entry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	s.mu.Unlock()

	out := make([]Info, 0, len(entries))
	for _, e := range entries {
		out = append(out, snapshot(e))
	}
	return out
}

// Stats summarizes entry counts by trigger kind and active state.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Stats{ByKind: make(map[TriggerKind]int)}
	for _, e := range s.entries {
		st.Total++
		st.ByKind[e.Kind]++
		e.mu.Lock()
		if e.active {
			st.Active++
		}
		e.mu.Unlock()
	}
	return st
}

// Shutdown stops the tick loop and waits for it to exit.
func (s *Scheduler) Shutdown() {
	s.cancel()
	s.wg.Wait()
}

func snapshot(e *Entry) Info {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Info{
		ID:       e.ID,
		Kind:     e.Kind,
		Active:   e.active,
		NextFire: e.nextFire,
		RunCount: e.runCount,
		LastFire: e.lastFire,
		LastErr:  e.lastErr,
	}
}

func (s *Scheduler) tickLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.checkAndTrigger(ctx, now)
		}
	}
}

// checkAndTrigger evaluates every TIME and CUSTOM entry against now,
// firing the due ones concurrently with a bounded worker limit so one
// slow callback never delays the rest of the tick.
func (s *Scheduler) checkAndTrigger(ctx context.Context, now time.Time) {
	s.mu.Lock()
	due := make([]*Entry, 0)
	for _, e := range s.entries {
		e.mu.Lock()
		active := e.active
		kind := e.Kind
		e.mu.Unlock()
		if !active || kind == TriggerEvent {
			continue
		}
		if s.isDue(e, now) {
			due = append(due, e)
		}
	}
	s.mu.Unlock()

	if len(due) == 0 {
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, e := range due {
		entry := e
		g.Go(func() error {
			s.fire(gctx, entry)
			return nil
		})
	}
	_ = g.Wait()
}

func (s *Scheduler) isDue(e *Entry, now time.Time) bool {
	switch e.Kind {
	case TriggerTime:
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.nextFire.IsZero() || now.Before(e.nextFire) {
			return false
		}
		return true
	case TriggerCustom:
		if e.Custom.Predicate == nil {
			return false
		}
		return e.Custom.Predicate(now)
	default:
		return false
	}
}

// fire invokes an entry's callback, recovering a panic and recording
// the outcome, then either advances a recurring TIME entry's next fire
// time or removes the entry outright — for every trigger kind, not
// just TIME — matching the tick algorithm's "for non-recurring
// entries, mark inactive and remove" rule.
func (s *Scheduler) fire(ctx context.Context, e *Entry) {
	err := s.invoke(ctx, e)

	e.mu.Lock()
	e.runCount++
	e.lastFire = time.Now()
	e.lastErr = err
	recurring := false
	switch e.Kind {
	case TriggerTime:
		if e.Time.Recurring && e.Time.Every > 0 {
			e.nextFire = e.nextFire.Add(e.Time.Every)
			recurring = true
		}
	case TriggerEvent:
		recurring = e.Event.Recurring
	case TriggerCustom:
		recurring = e.Custom.Recurring
	}
	if !recurring {
		e.active = false
	}
	e.mu.Unlock()

	if err != nil {
		s.log.Error("schedule callback failed", "entry_id", e.ID, "error", err)
	}
	if !recurring {
		s.Remove(e.ID)
	}
}

func (s *Scheduler) invoke(ctx context.Context, e *Entry) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("callback panicked: %v", r)
		}
	}()
	if e.Callback == nil {
		return nil
	}
	return e.Callback(ctx, e.ID)
}
