// Package http exposes the REST surface of the collaboration server: a
// service banner, a liveness probe and a status snapshot of the live
// session state.
package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/codehive/backend/internal/presence"
	"github.com/codehive/backend/internal/terminal"
)

// Handlers serves the REST endpoints. All state is read through the
// presence registry and terminal manager; nothing here mutates.
type Handlers struct {
	registry  *presence.Registry
	terminals *terminal.Manager
	version   string
	started   time.Time
}

// NewHandlers builds the REST handler set.
func NewHandlers(registry *presence.Registry, terminals *terminal.Manager, version string) *Handlers {
	return &Handlers{
		registry:  registry,
		terminals: terminals,
		version:   version,
		started:   time.Now(),
	}
}

// Root returns the service banner.
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": "codehive-collab-server",
		"version": h.version,
		"status":  "running",
	})
}

// Health is the liveness probe.
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"uptime": time.Since(h.started).Round(time.Second).String(),
	})
}

// Status reports a snapshot of live channels, rooms and terminals.
func (h *Handlers) Status(c *gin.Context) {
	rooms := h.registry.Rooms()
	sessions := h.terminals.Sessions()

	terminals := make([]gin.H, 0, len(sessions))
	for _, info := range sessions {
		terminals = append(terminals, gin.H{
			"terminal_id": info.TerminalID,
			"project_id":  info.ProjectID,
			"owner":       info.OwnerUserID,
			"state":       info.State,
			"created_at":  info.CreatedAt.UnixMilli(),
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"channels":  len(h.registry.Channels()),
		"rooms":     rooms,
		"terminals": terminals,
		"uptime":    time.Since(h.started).Round(time.Second).String(),
	})
}
