package wsadapter

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/coreagent/platform/internal/platform/logger"
)

// Upgrader holds the gorilla/websocket upgrade configuration shared by
// every adapter connection accepted over HTTP.
type Upgrader struct {
	log      *logger.Logger
	upgrader websocket.Upgrader
	onConn   func(*Conn)
}

// NewUpgrader builds an Upgrader that hands each accepted connection to
// onConn after wrapping it as a Conn.
func NewUpgrader(log *logger.Logger, onConn func(*Conn)) *Upgrader {
	return &Upgrader{
		log: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		onConn: onConn,
	}
}

// Handler returns a gin.HandlerFunc suitable for registering on the
// adapter's websocket route (e.g. router.GET("/adapter/ws", u.Handler())).
func (u *Upgrader) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ws, err := u.upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			u.log.Warn("websocket upgrade failed", "error", err)
			return
		}
		conn := New(u.log, ws)
		u.onConn(conn)
	}
}
