package event

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/coreagent/platform/internal/platform/logger"
)

// wireEvent is the payload carried over the cross-process fanout
// channel: an event name plus its JSON-encoded payload.
type wireEvent struct {
	Name    string          `json:"name"`
	Payload json.RawMessage `json:"payload"`
}

// Fanout republishes locally triggered events to every other process
// sharing a Redis instance, and forwards events received from other
// processes into this process's Manager as if they had been triggered
// locally. It exists because a plugin host, a websocket adapter
// process, and a scheduler worker may run as separate processes that
// all need to observe the same event stream.
type Fanout struct {
	log     *logger.Logger
	rdb     *goredis.Client
	channel string
	mgr     *Manager
}

// NewFanout connects to Redis and pings it. Inbound events are forwarded
// into mgr only once StartForwarding subscribes to the channel.
func NewFanout(log *logger.Logger, mgr *Manager, addr, channel string) (*Fanout, error) {
	if addr == "" {
		return nil, fmt.Errorf("missing redis address")
	}
	if channel == "" {
		channel = "coreagent:events"
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	f := &Fanout{
		log:     log.With("component", "EventFanout"),
		rdb:     rdb,
		channel: channel,
		mgr:     mgr,
	}
	return f, nil
}

// Publish republishes a locally triggered event for other processes to
// observe. It never blocks TriggerEvent; callers invoke it from an
// after-dispatch hook or a direct listener.
func (f *Fanout) Publish(ctx context.Context, name string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	wire, err := json.Marshal(wireEvent{Name: name, Payload: raw})
	if err != nil {
		return err
	}
	return f.rdb.Publish(ctx, f.channel, wire).Err()
}

// StartForwarding subscribes to the shared channel and triggers
// received events against mgr under GroupSystem, until ctx is
// cancelled.
func (f *Fanout) StartForwarding(ctx context.Context) error {
	sub := f.rdb.Subscribe(ctx, f.channel)
	ch := sub.Channel()
	go func() {
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var we wireEvent
				if err := json.Unmarshal([]byte(msg.Payload), &we); err != nil {
					f.log.Warn("dropping malformed fanout event", "error", err)
					continue
				}
				var payload any
				_ = json.Unmarshal(we.Payload, &payload)
				f.mgr.TriggerEvent(ctx, we.Name, payload, GroupSystem)
			}
		}
	}()
	return nil
}

// Close releases the Redis connection.
func (f *Fanout) Close() error {
	return f.rdb.Close()
}
