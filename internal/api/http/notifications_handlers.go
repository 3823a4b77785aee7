package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/appshell/internal/domain/startup"
	"github.com/GriffinCanCode/appshell/internal/providers/notifications"
)

// DeliverRequest is a push message handed to the launcher by the platform
// bridge.
type DeliverRequest struct {
	ID    string            `json:"id"`
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data"`
}

// RespondRequest is the user's action on a delivered notification.
type RespondRequest struct {
	Action string `json:"action" binding:"required"`
}

// DeliverNotification dispatches an incoming push to the registered
// listeners.
func (h *Handlers) DeliverNotification(c *gin.Context) {
	if h.inbox == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": notifications.ErrDisabled.Error()})
		return
	}

	var req DeliverRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid notification"})
		return
	}

	n, err := h.inbox.Deliver(startup.Notification{
		ID:    req.ID,
		Title: req.Title,
		Body:  req.Body,
		Data:  req.Data,
	})
	if err != nil {
		notificationError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"notification": n})
}

// RespondNotification dispatches the user's action on a notification.
func (h *Handlers) RespondNotification(c *gin.Context) {
	if h.inbox == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": notifications.ErrDisabled.Error()})
		return
	}

	var req RespondRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid response"})
		return
	}

	if err := h.inbox.Respond(c.Param("id"), req.Action); err != nil {
		notificationError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func notificationError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, notifications.ErrDisabled):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	case errors.Is(err, notifications.ErrUnknownNotification):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	}
}
