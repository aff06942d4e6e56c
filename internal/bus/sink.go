package bus

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/coreagent/platform/internal/coreerr"
	"github.com/coreagent/platform/internal/envelope"
	"github.com/coreagent/platform/internal/platform/logger"
	"github.com/google/uuid"
)

// defaultAdapterTimeout bounds how long SendOutgoing waits for a
// SubprocessSink's echo-correlated response before failing with
// coreerr.AdapterTimeout.
const defaultAdapterTimeout = 10 * time.Second

// Sink is the adapter boundary: something that can deliver an outbound
// envelope to a platform and, for request/response transports, wait for
// acknowledgement.
type Sink interface {
	Send(ctx context.Context, e envelope.MessageEnvelope) error
}

// InProcessSink hands an outbound envelope directly to an in-memory
// function, for adapters compiled into the same binary.
type InProcessSink struct {
	deliver func(ctx context.Context, e envelope.MessageEnvelope) error
}

// NewInProcessSink wraps a delivery function as a Sink.
func NewInProcessSink(deliver func(ctx context.Context, e envelope.MessageEnvelope) error) *InProcessSink {
	return &InProcessSink{deliver: deliver}
}

// Send implements Sink.
func (s *InProcessSink) Send(ctx context.Context, e envelope.MessageEnvelope) error {
	return s.deliver(ctx, e)
}

// Frame is one message exchanged with a subprocess adapter over its
// duplex transport (a forked process, or a process reachable only via
// a framed pipe/socket).
type Frame struct {
	Echo    string          `json:"echo"`
	Payload json.RawMessage `json:"payload"`
	Err     string          `json:"error,omitempty"`
}

// Transport is the duplex byte-level channel a SubprocessSink frames
// Frame values over. A gorilla/websocket connection (see wsadapter)
// implements it directly.
type Transport interface {
	WriteFrame(ctx context.Context, f Frame) error
	// Frames returns a channel of inbound frames; it is closed when the
	// transport is closed.
	Frames() <-chan Frame
}

// SubprocessSink multiplexes a single duplex Transport across many
// concurrent Send calls by correlating requests and responses on an
// echo id, mirroring the promise-style correlation the platform's
// streaming inference client uses for SSE correlation.
type SubprocessSink struct {
	log       *logger.Logger
	transport Transport
	timeout   time.Duration

	mu      sync.Mutex
	waiters map[string]chan Frame

	closeOnce sync.Once
	done      chan struct{}
}

// NewSubprocessSink starts the reader loop that demultiplexes inbound
// frames to their waiting Send call.
func NewSubprocessSink(log *logger.Logger, t Transport, timeout time.Duration) *SubprocessSink {
	if timeout <= 0 {
		timeout = defaultAdapterTimeout
	}
	s := &SubprocessSink{
		log:       log.With("component", "SubprocessSink"),
		transport: t,
		timeout:   timeout,
		waiters:   make(map[string]chan Frame),
		done:      make(chan struct{}),
	}
	go s.readLoop()
	return s
}

func (s *SubprocessSink) readLoop() {
	for f := range s.transport.Frames() {
		s.mu.Lock()
		ch, ok := s.waiters[f.Echo]
		if ok {
			delete(s.waiters, f.Echo)
		}
		s.mu.Unlock()
		if ok {
			ch <- f
			close(ch)
		}
	}
	close(s.done)
}

// Send frames the envelope with a fresh echo id, writes it to the
// transport, and waits up to the configured timeout for the correlated
// response frame.
func (s *SubprocessSink) Send(ctx context.Context, e envelope.MessageEnvelope) error {
	payload, err := envelope.Encode(e)
	if err != nil {
		return err
	}
	echo := newEcho()
	wait := make(chan Frame, 1)

	s.mu.Lock()
	s.waiters[echo] = wait
	s.mu.Unlock()

	if err := s.transport.WriteFrame(ctx, Frame{Echo: echo, Payload: payload}); err != nil {
		s.mu.Lock()
		delete(s.waiters, echo)
		s.mu.Unlock()
		return err
	}

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	select {
	case f := <-wait:
		if f.Err != "" {
			return &coreerr.HandlerFault{Component: "subprocess-adapter", Err: errString(f.Err)}
		}
		return nil
	case <-ctx.Done():
		s.mu.Lock()
		delete(s.waiters, echo)
		s.mu.Unlock()
		return ctx.Err()
	case <-timer.C:
		s.mu.Lock()
		delete(s.waiters, echo)
		s.mu.Unlock()
		return &coreerr.AdapterTimeout{Echo: echo}
	}
}

// Close blocks until the transport's frame channel closes and the reader
// loop exits. Send calls still waiting for a response are not released;
// they end on their own timeout or context.
func (s *SubprocessSink) Close() {
	s.closeOnce.Do(func() {
		<-s.done
	})
}

type errStringT string

func (e errStringT) Error() string { return string(e) }
func errString(s string) error     { return errStringT(s) }

func newEcho() string { return uuid.NewString() }
