package bus

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coreagent/platform/internal/coreerr"
	"github.com/coreagent/platform/internal/envelope"
)

// fakeTransport is an in-memory bus.Transport double used to exercise
// SubprocessSink's echo correlation without a real subprocess.
type fakeTransport struct {
	mu       sync.Mutex
	written  []Frame
	inbound  chan Frame
	respond  func(Frame) (Frame, bool) // false means "drop, simulate no response"
}

func newFakeTransport(respond func(Frame) (Frame, bool)) *fakeTransport {
	return &fakeTransport{inbound: make(chan Frame, 16), respond: respond}
}

func (f *fakeTransport) WriteFrame(ctx context.Context, fr Frame) error {
	f.mu.Lock()
	f.written = append(f.written, fr)
	f.mu.Unlock()
	if resp, ok := f.respond(fr); ok {
		f.inbound <- resp
	}
	return nil
}

func (f *fakeTransport) Frames() <-chan Frame { return f.inbound }

func TestSubprocessSinkEchoCorrelation(t *testing.T) {
	transport := newFakeTransport(func(fr Frame) (Frame, bool) {
		return Frame{Echo: fr.Echo}, true
	})
	sink := NewSubprocessSink(testLogger(t), transport, time.Second)

	e := envelope.MessageEnvelope{
		Direction:      envelope.Outgoing,
		Platform:       "qq",
		MessageID:      "m1",
		MessageInfo:    envelope.MessageInfo{User: envelope.Identity{ID: "u1"}, MessageType: envelope.KindPrivate},
		MessageSegment: envelope.Segment{Type: envelope.SegText, Data: json.RawMessage(`{"text":"hi"}`)},
		SchemaVersion:  envelope.CurrentSchemaVersion,
	}

	err := sink.Send(context.Background(), e)
	require.NoError(t, err)
}

func TestSubprocessSinkTimesOutWithoutResponse(t *testing.T) {
	transport := newFakeTransport(func(fr Frame) (Frame, bool) {
		return Frame{}, false // never respond
	})
	sink := NewSubprocessSink(testLogger(t), transport, 30*time.Millisecond)

	e := envelope.MessageEnvelope{
		Direction:      envelope.Outgoing,
		Platform:       "qq",
		MessageID:      "m2",
		MessageInfo:    envelope.MessageInfo{User: envelope.Identity{ID: "u1"}, MessageType: envelope.KindPrivate},
		MessageSegment: envelope.Segment{Type: envelope.SegText, Data: json.RawMessage(`{"text":"hi"}`)},
		SchemaVersion:  envelope.CurrentSchemaVersion,
	}

	err := sink.Send(context.Background(), e)
	var timeout *coreerr.AdapterTimeout
	require.ErrorAs(t, err, &timeout)
}

func TestRuntimeSendOutgoingNoAdapterForPlatform(t *testing.T) {
	r := New(testLogger(t))
	defer r.Shutdown(context.Background())

	e := envelope.MessageEnvelope{
		Direction:      envelope.Outgoing,
		Platform:       "discord",
		MessageID:      "m3",
		MessageInfo:    envelope.MessageInfo{User: envelope.Identity{ID: "u1"}, MessageType: envelope.KindPrivate},
		MessageSegment: envelope.Segment{Type: envelope.SegText, Data: json.RawMessage(`{"text":"hi"}`)},
		SchemaVersion:  envelope.CurrentSchemaVersion,
	}
	err := r.SendOutgoing(context.Background(), e)
	var noAdapter *coreerr.NoAdapterForPlatform
	assert.ErrorAs(t, err, &noAdapter)
}
