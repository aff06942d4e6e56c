// Package bus implements the Message Bus & Adapter Boundary: a runtime
// that routes inbound envelopes to handlers by predicate and dispatches
// outbound envelopes to adapter sinks, usable in-process or across a
// subprocess boundary.
package bus

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/coreagent/platform/internal/coreerr"
	"github.com/coreagent/platform/internal/envelope"
	"github.com/coreagent/platform/internal/platform/logger"
)

// defaultQueueCapacity is the bounded inbound queue size per spec.md §5.
const defaultQueueCapacity = 1024

// Handler processes one incoming envelope. A handler that returns a
// *coreerr.SkipMessage is treated as an intentional short-circuit, not
// a fault.
type Handler func(ctx context.Context, e envelope.MessageEnvelope) error

// Predicate decides whether a route matches an envelope.
type Predicate func(e envelope.MessageEnvelope) bool

// BeforeHook runs before routing; returning a *coreerr.SkipMessage
// aborts processing of this envelope without treating it as an error.
type BeforeHook func(ctx context.Context, e envelope.MessageEnvelope) error

// AfterHook runs after a matched route's handler completes successfully.
type AfterHook func(ctx context.Context, e envelope.MessageEnvelope)

// ErrorHook observes a fault (or a SkipMessage) raised during routing.
// It never stops subsequent envelopes from being routed.
type ErrorHook func(ctx context.Context, e envelope.MessageEnvelope, err error)

type route struct {
	name        string
	predicate   Predicate
	handler     Handler
	messageType string // optional; empty means "generic"
	order       int
}

// Runtime accepts inbound envelopes from adapters, routes them to
// handlers, and exposes outbound send for the reply path.
type Runtime struct {
	log *logger.Logger

	inbound chan envelope.MessageEnvelope

	mu     sync.RWMutex
	routes []route
	seq    int

	hookMu       sync.RWMutex
	beforeHooks  []BeforeHook
	afterHooks   []AfterHook
	errorHooks   []ErrorHook

	sinkMu sync.RWMutex
	sinks  map[string]Sink

	bufferPolicy BufferPolicy

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// BufferPolicy decides what happens to push_incoming when the inbound
// queue is at capacity.
type BufferPolicy int

const (
	// BufferBlock blocks the caller until space is available.
	BufferBlock BufferPolicy = iota
	// BufferDrop drops the envelope and returns coreerr.BufferFull.
	BufferDrop
)

// Option configures a Runtime at construction.
type Option func(*Runtime)

// WithQueueCapacity overrides the default bounded inbound queue size.
func WithQueueCapacity(n int) Option {
	return func(r *Runtime) {
		if n > 0 {
			r.inbound = make(chan envelope.MessageEnvelope, n)
		}
	}
}

// WithBufferPolicy overrides the default block-on-full policy.
func WithBufferPolicy(p BufferPolicy) Option {
	return func(r *Runtime) { r.bufferPolicy = p }
}

// New constructs a Runtime and starts its dispatch loop.
func New(log *logger.Logger, opts ...Option) *Runtime {
	r := &Runtime{
		log:     log.With("component", "MessageRuntime"),
		inbound: make(chan envelope.MessageEnvelope, defaultQueueCapacity),
		sinks:   make(map[string]Sink),
	}
	for _, o := range opts {
		o(r)
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.wg.Add(1)
	go r.dispatchLoop(ctx)
	return r
}

// RegisterSink attaches an outbound Sink for a platform tag.
func (r *Runtime) RegisterSink(platform string, s Sink) {
	r.sinkMu.Lock()
	defer r.sinkMu.Unlock()
	r.sinks[platform] = s
}

// AddRoute registers a route. Route selection at dispatch time prefers,
// in order: routes with a matching message_type, then (for a notice or
// meta envelope) routes constrained to notice or meta, then generic
// routes with no message_type constraint at all. A route constrained to
// any other message_type is never selected.
func (r *Runtime) AddRoute(name string, predicate Predicate, handler Handler, messageType string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	r.routes = append(r.routes, route{
		name:        name,
		predicate:   predicate,
		handler:     handler,
		messageType: messageType,
		order:       r.seq,
	})
}

// RegisterBeforeHook adds a before-hook, run in registration order.
func (r *Runtime) RegisterBeforeHook(h BeforeHook) {
	r.hookMu.Lock()
	defer r.hookMu.Unlock()
	r.beforeHooks = append(r.beforeHooks, h)
}

// RegisterAfterHook adds an after-hook.
func (r *Runtime) RegisterAfterHook(h AfterHook) {
	r.hookMu.Lock()
	defer r.hookMu.Unlock()
	r.afterHooks = append(r.afterHooks, h)
}

// RegisterErrorHook adds an error-hook.
func (r *Runtime) RegisterErrorHook(h ErrorHook) {
	r.hookMu.Lock()
	defer r.hookMu.Unlock()
	r.errorHooks = append(r.errorHooks, h)
}

// PushIncoming enqueues an envelope for routing and returns once
// enqueued; it never blocks on handler work.
func (r *Runtime) PushIncoming(e envelope.MessageEnvelope) error {
	if r.bufferPolicy == BufferDrop {
		select {
		case r.inbound <- e:
			return nil
		default:
			return &coreerr.BufferFull{Capacity: cap(r.inbound)}
		}
	}
	r.inbound <- e
	return nil
}

// SendOutgoing synchronously hands an envelope to the adapter sink
// registered for its platform.
func (r *Runtime) SendOutgoing(ctx context.Context, e envelope.MessageEnvelope) error {
	r.sinkMu.RLock()
	s, ok := r.sinks[e.Platform]
	r.sinkMu.RUnlock()
	if !ok {
		return &coreerr.NoAdapterForPlatform{Platform: e.Platform}
	}
	return s.Send(ctx, e)
}

// Shutdown stops the dispatch loop and waits, until ctx is done, for the
// envelope being processed to finish. PushIncoming is not closed off:
// envelopes pushed afterwards, and any still queued, are not routed.
func (r *Runtime) Shutdown(ctx context.Context) error {
	r.cancel()
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runtime) dispatchLoop(ctx context.Context) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-r.inbound:
			r.process(ctx, e)
		}
	}
}

func (r *Runtime) process(ctx context.Context, e envelope.MessageEnvelope) {
	r.hookMu.RLock()
	before := append([]BeforeHook(nil), r.beforeHooks...)
	after := append([]AfterHook(nil), r.afterHooks...)
	errHooks := append([]ErrorHook(nil), r.errorHooks...)
	r.hookMu.RUnlock()

	for _, h := range before {
		if err := h(ctx, e); err != nil {
			r.runErrorHooks(ctx, errHooks, e, err)
			return
		}
	}

	matched := r.selectRoute(e)
	if matched == nil {
		return
	}

	if err := r.invokeHandler(ctx, matched.handler, e); err != nil {
		r.runErrorHooks(ctx, errHooks, e, &coreerr.HandlerFault{Component: matched.name, Err: err})
		return
	}

	for _, h := range after {
		h(ctx, e)
	}
}

// invokeHandler runs a handler and converts a panic into an error so a
// single broken handler never takes the runtime down.
func (r *Runtime) invokeHandler(ctx context.Context, h Handler, e envelope.MessageEnvelope) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = errRecovered(rec)
		}
	}()
	return h(ctx, e)
}

func (r *Runtime) selectRoute(e envelope.MessageEnvelope) *route {
	r.mu.RLock()
	defer r.mu.RUnlock()

	candidates := make([]route, len(r.routes))
	copy(candidates, r.routes)

	// Routes with a matching message_type take priority, then
	// event-typed (notice/meta) routes when the incoming envelope is
	// itself notice/meta-typed, then generic routes with no
	// message_type constraint. Ties within a tier keep registration
	// order.
	incomingIsEventTyped := e.MessageInfo.MessageType == envelope.KindNotice || e.MessageInfo.MessageType == envelope.KindMeta
	rank := func(rt route) int {
		if rt.messageType != "" && string(e.MessageInfo.MessageType) == rt.messageType {
			return 0
		}
		if incomingIsEventTyped && (rt.messageType == string(envelope.KindNotice) || rt.messageType == string(envelope.KindMeta)) {
			return 1
		}
		if rt.messageType == "" {
			return 2
		}
		return 3 // declared for a different message_type: never matches
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		ri, rj := rank(candidates[i]), rank(candidates[j])
		if ri != rj {
			return ri < rj
		}
		return candidates[i].order < candidates[j].order
	})

	for i := range candidates {
		if rank(candidates[i]) == 3 {
			continue
		}
		if candidates[i].predicate == nil || candidates[i].predicate(e) {
			return &candidates[i]
		}
	}
	return nil
}

func (r *Runtime) runErrorHooks(ctx context.Context, hooks []ErrorHook, e envelope.MessageEnvelope, err error) {
	var skip *coreerr.SkipMessage
	if errors.As(err, &skip) {
		r.log.Info("skip message", "stream_id", e.StreamID(), "reason", skip.Reason)
	} else {
		r.log.Error("handler fault", "stream_id", e.StreamID(), "error", err)
	}
	for _, h := range hooks {
		h(ctx, e, err)
	}
}

type recoveredPanic struct{ v any }

func (p *recoveredPanic) Error() string { return "panic recovered in handler" }

func errRecovered(v any) error { return &recoveredPanic{v: v} }
