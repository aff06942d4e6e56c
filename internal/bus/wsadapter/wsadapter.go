// Package wsadapter frames bus.Frame values over a gorilla/websocket
// connection, giving bus.SubprocessSink a concrete Transport for
// adapters that run as a separate process reachable only over a
// websocket (the platform's reference out-of-process adapter shape).
package wsadapter

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/coreagent/platform/internal/bus"
	"github.com/coreagent/platform/internal/platform/logger"
)

// Conn adapts a *websocket.Conn to bus.Transport. Each connection may
// be used by a single SubprocessSink at a time.
type Conn struct {
	log *logger.Logger
	ws  *websocket.Conn

	writeMu sync.Mutex
	frames  chan bus.Frame
}

// New wraps an established websocket connection and starts reading
// frames off it in the background.
func New(log *logger.Logger, ws *websocket.Conn) *Conn {
	c := &Conn{
		log:    log.With("component", "wsadapter"),
		ws:     ws,
		frames: make(chan bus.Frame, 64),
	}
	go c.readLoop()
	return c
}

func (c *Conn) readLoop() {
	defer close(c.frames)
	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			c.log.Info("websocket transport closed", "error", err)
			return
		}
		var f bus.Frame
		if err := json.Unmarshal(raw, &f); err != nil {
			c.log.Warn("dropping malformed frame", "error", err)
			continue
		}
		c.frames <- f
	}
}

// WriteFrame implements bus.Transport.
func (c *Conn) WriteFrame(ctx context.Context, f bus.Frame) error {
	raw, err := json.Marshal(f)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, raw)
}

// Frames implements bus.Transport.
func (c *Conn) Frames() <-chan bus.Frame {
	return c.frames
}

// Close closes the underlying websocket connection.
func (c *Conn) Close() error {
	return c.ws.Close()
}
