package app

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/coreagent/platform/internal/envelope"
)

// wireRouter builds the gin engine fronting the adapter ingestion
// endpoint, the websocket adapter upgrade route, and the read-only
// inspection endpoints spec.md §8 calls for over the scheduler and
// plugin host.
func (a *App) wireRouter() *gin.Engine {
	r := gin.Default()

	r.GET("/healthz", a.handleHealthz)
	r.POST("/adapter/messages", a.handleAdapterMessages)
	r.GET("/adapter/ws", a.wsUpgrader.Handler())
	r.GET("/scheduler/tasks", a.handleSchedulerTasks)
	r.GET("/plugins", a.handlePlugins)

	return r
}

func (a *App) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleAdapterMessages accepts a batch of incoming envelopes from an
// out-of-process adapter and pushes each one onto the bus runtime, the
// same entry point the websocket adapter path uses.
func (a *App) handleAdapterMessages(c *gin.Context) {
	var batch envelope.Batch
	if err := c.ShouldBindJSON(&batch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	accepted := 0
	for _, e := range batch.Items {
		if err := a.Bus.PushIncoming(e); err != nil {
			a.Log.Warn("rejected adapter envelope", "error", err)
			continue
		}
		accepted++
	}
	c.JSON(http.StatusAccepted, gin.H{"accepted": accepted, "received": len(batch.Items)})
}

func (a *App) handleSchedulerTasks(c *gin.Context) {
	c.JSON(http.StatusOK, a.Sched.List())
}

func (a *App) handlePlugins(c *gin.Context) {
	c.JSON(http.StatusOK, a.Host.List())
}
