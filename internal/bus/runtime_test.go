package bus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coreagent/platform/internal/coreerr"
	"github.com/coreagent/platform/internal/envelope"
	"github.com/coreagent/platform/internal/platform/logger"
)

func noopHandler(ctx context.Context, e envelope.MessageEnvelope) error { return nil }

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("test")
	require.NoError(t, err)
	return log
}

func textEnvelope(streamUser, id string) envelope.MessageEnvelope {
	raw, _ := jsonMarshalText("hi")
	return envelope.MessageEnvelope{
		Direction:   envelope.Incoming,
		Platform:    "qq",
		MessageID:   id,
		MessageInfo: envelope.MessageInfo{User: envelope.Identity{ID: streamUser}, MessageType: envelope.KindPrivate},
		MessageSegment: envelope.Segment{
			Type: envelope.SegText,
			Data: raw,
		},
		SchemaVersion: envelope.CurrentSchemaVersion,
	}
}

func jsonMarshalText(s string) ([]byte, error) {
	return []byte(`{"text":"` + s + `"}`), nil
}

func TestRuntimeRoutesToMatchingHandler(t *testing.T) {
	r := New(testLogger(t))
	defer r.Shutdown(context.Background())

	var got []string
	var mu sync.Mutex
	done := make(chan struct{}, 10)

	r.AddRoute("private-handler", func(e envelope.MessageEnvelope) bool {
		return e.MessageInfo.MessageType == envelope.KindPrivate
	}, func(ctx context.Context, e envelope.MessageEnvelope) error {
		mu.Lock()
		got = append(got, e.MessageID)
		mu.Unlock()
		done <- struct{}{}
		return nil
	}, string(envelope.KindPrivate))

	require.NoError(t, r.PushIncoming(textEnvelope("u1", "m1")))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler never ran")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"m1"}, got)
}

func TestRuntimePerStreamOrderingPreserved(t *testing.T) {
	r := New(testLogger(t))
	defer r.Shutdown(context.Background())

	var mu sync.Mutex
	var order []string
	done := make(chan struct{}, 5)

	r.AddRoute("recorder", func(envelope.MessageEnvelope) bool { return true },
		func(ctx context.Context, e envelope.MessageEnvelope) error {
			mu.Lock()
			order = append(order, e.MessageID)
			mu.Unlock()
			done <- struct{}{}
			return nil
		}, "")

	for i := 1; i <= 5; i++ {
		require.NoError(t, r.PushIncoming(textEnvelope("u1", string(rune('0'+i)))))
	}
	for i := 0; i < 5; i++ {
		<-done
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"1", "2", "3", "4", "5"}, order)
}

func TestSelectRoutePrefersExactMessageTypeOverGeneric(t *testing.T) {
	r := New(testLogger(t))
	defer r.Shutdown(context.Background())

	r.AddRoute("generic", func(envelope.MessageEnvelope) bool { return true }, noopHandler, "")
	r.AddRoute("private", func(envelope.MessageEnvelope) bool { return true }, noopHandler, string(envelope.KindPrivate))

	e := textEnvelope("u1", "m1")
	e.MessageInfo.MessageType = envelope.KindPrivate
	matched := r.selectRoute(e)
	require.NotNil(t, matched)
	assert.Equal(t, "private", matched.name)
}

func TestSelectRouteEventTypedRouteOnlyOutranksGenericForEventTypedEnvelope(t *testing.T) {
	r := New(testLogger(t))
	defer r.Shutdown(context.Background())

	r.AddRoute("generic", func(envelope.MessageEnvelope) bool { return true }, noopHandler, "")
	r.AddRoute("notice-handler", func(envelope.MessageEnvelope) bool { return true }, noopHandler, string(envelope.KindNotice))

	notice := textEnvelope("u1", "m1")
	notice.MessageInfo.MessageType = envelope.KindNotice
	matched := r.selectRoute(notice)
	require.NotNil(t, matched)
	assert.Equal(t, "notice-handler", matched.name, "a notice envelope should prefer the notice-typed route")

	private := textEnvelope("u1", "m2")
	private.MessageInfo.MessageType = envelope.KindPrivate
	matched = r.selectRoute(private)
	require.NotNil(t, matched)
	assert.Equal(t, "generic", matched.name, "a private envelope must not be outranked by a route declared for notice/meta")
}

func TestRuntimeSkipMessageDoesNotFireHandlerFault(t *testing.T) {
	r := New(testLogger(t))
	defer r.Shutdown(context.Background())

	var faults []error
	var mu sync.Mutex
	hooked := make(chan struct{}, 1)

	r.RegisterBeforeHook(func(ctx context.Context, e envelope.MessageEnvelope) error {
		return &coreerr.SkipMessage{Reason: "muted stream"}
	})
	r.RegisterErrorHook(func(ctx context.Context, e envelope.MessageEnvelope, err error) {
		mu.Lock()
		faults = append(faults, err)
		mu.Unlock()
		hooked <- struct{}{}
	})

	require.NoError(t, r.PushIncoming(textEnvelope("u1", "m1")))

	select {
	case <-hooked:
	case <-time.After(time.Second):
		t.Fatal("error hook never ran")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, faults, 1)
	var skip *coreerr.SkipMessage
	assert.ErrorAs(t, faults[0], &skip)
}

func TestPushIncomingDropsWhenBufferFull(t *testing.T) {
	r := New(testLogger(t), WithQueueCapacity(1), WithBufferPolicy(BufferDrop))
	defer r.Shutdown(context.Background())

	block := make(chan struct{})
	r.AddRoute("blocker", func(envelope.MessageEnvelope) bool { return true },
		func(ctx context.Context, e envelope.MessageEnvelope) error {
			<-block
			return nil
		}, "")

	require.NoError(t, r.PushIncoming(textEnvelope("u1", "m1")))
	time.Sleep(20 * time.Millisecond) // let dispatch loop pick m1 up, leaving the queue empty but the worker busy
	require.NoError(t, r.PushIncoming(textEnvelope("u1", "m2")))

	err := r.PushIncoming(textEnvelope("u1", "m3"))
	var bufFull *coreerr.BufferFull
	require.ErrorAs(t, err, &bufFull)

	close(block)
}
