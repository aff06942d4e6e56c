// Package event implements the Event Manager: named-event
// subscription with weighted, order-stable dispatch, permission-group
// gating, and a direct-listener path used by the scheduler's
// event-triggered entries.
package event

import (
	"context"
	"sort"
	"sync"

	"github.com/coreagent/platform/internal/platform/logger"
)

// PermissionGroup gates which subscribers a trigger_event call may
// reach. SYSTEM matches every subscriber regardless of its own group.
type PermissionGroup string

const (
	GroupSystem PermissionGroup = "SYSTEM"
	GroupUser   PermissionGroup = "USER"
	GroupAdmin  PermissionGroup = "ADMIN"
)

// matches reports whether a trigger issued under callerGroup may reach
// a subscriber registered under subscriberGroup.
func matches(callerGroup, subscriberGroup PermissionGroup) bool {
	if callerGroup == GroupSystem || subscriberGroup == GroupSystem {
		return true
	}
	return callerGroup == subscriberGroup
}

// Handler processes one event occurrence and reports whether dispatch
// should continue to the next subscriber.
type Handler func(ctx context.Context, name string, payload any) HandlerResult

// HandlerResult is what a subscriber's handler reports back to the
// dispatcher.
type HandlerResult struct {
	Success         bool
	ContinueProcess bool
	Message         string
	HandlerName     string
}

// AggregatedResult is returned by TriggerEvent: the outcome of every
// subscriber that ran, in dispatch order, plus whether any one of them
// asked to stop the chain.
type AggregatedResult struct {
	Results []HandlerResult
	// AllSuccessful is true only if every handler that ran reported
	// Success; vacuously true if no handler ran at all.
	AllSuccessful bool
	StoppedEarly  bool
	// StoppedAt is the index into Results of the handler that stopped
	// the chain, or -1 if nothing stopped it.
	StoppedAt     int
	StoppedByName string
}

type subscription struct {
	name        string
	handlerName string
	weight      int
	group       PermissionGroup
	handler     Handler
	index       int
}

// Manager is the Event Manager: a table of named-event subscriptions
// dispatched by (weight desc, subscription-index asc), plus a parallel
// table of direct listeners that always run after ordinary dispatch and
// cannot short-circuit it.
type Manager struct {
	log *logger.Logger

	mu   sync.RWMutex
	subs map[string][]*subscription
	seq  int

	directMu   sync.RWMutex
	direct     map[string][]func(ctx context.Context, name string, payload any)
}

// New constructs an empty Manager.
func New(log *logger.Logger) *Manager {
	return &Manager{
		log:    log.With("component", "EventManager"),
		subs:   make(map[string][]*subscription),
		direct: make(map[string][]func(ctx context.Context, name string, payload any)),
	}
}

// Subscribe registers a handler for a named event. Weight defaults to
// 0; among equal weights, subscriptions run in registration order.
func (m *Manager) Subscribe(name, handlerName string, weight int, group PermissionGroup, h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	m.subs[name] = append(m.subs[name], &subscription{
		name:        name,
		handlerName: handlerName,
		weight:      weight,
		group:       group,
		handler:     h,
		index:       m.seq,
	})
}

// Unsubscribe removes every subscription registered under handlerName
// for a given event name.
func (m *Manager) Unsubscribe(name, handlerName string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	subs := m.subs[name]
	out := subs[:0]
	for _, s := range subs {
		if s.handlerName != handlerName {
			out = append(out, s)
		}
	}
	m.subs[name] = out
}

// RegisterDirectListener attaches a listener that observes every
// TriggerEvent call for name after ordinary dispatch completes. Direct
// listeners cannot see ContinueProcess=false and cannot themselves stop
// the chain; they exist for components (like the scheduler) that need
// to react to an event without competing for dispatch order.
func (m *Manager) RegisterDirectListener(name string, listener func(ctx context.Context, name string, payload any)) {
	m.directMu.Lock()
	defer m.directMu.Unlock()
	m.direct[name] = append(m.direct[name], listener)
}

// UnregisterDirectListeners removes every direct listener registered
// for name, used when the scheduler removes its last entry for an
// event trigger.
func (m *Manager) UnregisterDirectListeners(name string) {
	m.directMu.Lock()
	defer m.directMu.Unlock()
	delete(m.direct, name)
}

// TriggerEvent dispatches name to every matching subscriber in
// (weight desc, index asc) order, then to every direct listener, and
// returns the aggregated outcome.
func (m *Manager) TriggerEvent(ctx context.Context, name string, payload any, callerGroup PermissionGroup) AggregatedResult {
	m.mu.RLock()
	subs := append([]*subscription(nil), m.subs[name]...)
	m.mu.RUnlock()

	sort.SliceStable(subs, func(i, j int) bool {
		if subs[i].weight != subs[j].weight {
			return subs[i].weight > subs[j].weight
		}
		return subs[i].index < subs[j].index
	})

	agg := AggregatedResult{StoppedAt: -1}
	for _, s := range subs {
		if !matches(callerGroup, s.group) {
			continue
		}
		result := m.invoke(ctx, s, name, payload)
		agg.Results = append(agg.Results, result)
		if !result.ContinueProcess {
			agg.StoppedEarly = true
			agg.StoppedAt = len(agg.Results) - 1
			agg.StoppedByName = result.HandlerName
			break
		}
	}

	agg.AllSuccessful = true
	for _, r := range agg.Results {
		if !r.Success {
			agg.AllSuccessful = false
			break
		}
	}

	m.directMu.RLock()
	listeners := append([]func(ctx context.Context, name string, payload any){}, m.direct[name]...)
	m.directMu.RUnlock()
	for _, l := range listeners {
		m.invokeDirect(ctx, l, name, payload)
	}

	return agg
}

func (m *Manager) invoke(ctx context.Context, s *subscription, name string, payload any) (result HandlerResult) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("event handler panicked", "event", name, "handler", s.handlerName, "panic", r)
			result = HandlerResult{Success: false, ContinueProcess: true, HandlerName: s.handlerName, Message: "handler panicked"}
		}
	}()
	result = s.handler(ctx, name, payload)
	if result.HandlerName == "" {
		result.HandlerName = s.handlerName
	}
	return result
}

func (m *Manager) invokeDirect(ctx context.Context, l func(ctx context.Context, name string, payload any), name string, payload any) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("direct listener panicked", "event", name, "panic", r)
		}
	}()
	l(ctx, name, payload)
}
