package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GetStartup returns the current startup state.
func (h *Handlers) GetStartup(c *gin.Context) {
	body := gin.H{"state": h.state.Snapshot()}
	if h.trace != nil {
		body["launch_id"] = h.trace.LaunchID()
	}
	c.JSON(http.StatusOK, body)
}

// GetTrace returns the finished spans of this launch.
func (h *Handlers) GetTrace(c *gin.Context) {
	if h.trace == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "tracing disabled"})
		return
	}
	spans := h.trace.Spans()
	c.JSON(http.StatusOK, gin.H{
		"launch_id": h.trace.LaunchID(),
		"spans":     spans,
		"count":     len(spans),
	})
}
