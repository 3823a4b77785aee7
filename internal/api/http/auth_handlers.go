package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/appshell/internal/domain/startup"
	"github.com/GriffinCanCode/appshell/internal/providers/auth"
)

// SignUpRequest creates an account.
type SignUpRequest struct {
	Email       string `json:"email" binding:"required"`
	Password    string `json:"password" binding:"required"`
	DisplayName string `json:"display_name"`
}

// SignInRequest opens a session.
type SignInRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// SessionResponse is returned after a successful sign-up or sign-in.
type SessionResponse struct {
	User      *startup.User `json:"user"`
	Token     string        `json:"token"`
	ExpiresAt time.Time     `json:"expires_at"`
}

// SignUp creates an account and signs it in.
func (h *Handlers) SignUp(c *gin.Context) {
	var req SignUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid sign-up request"})
		return
	}

	user, session, err := h.auth.SignUp(req.Email, req.Password, req.DisplayName)
	if err != nil {
		h.authError(c, "sign-up", err)
		return
	}
	c.JSON(http.StatusCreated, SessionResponse{User: user, Token: session.Token, ExpiresAt: session.ExpiresAt})
}

// SignIn opens a session for an existing account.
func (h *Handlers) SignIn(c *gin.Context) {
	var req SignInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid sign-in request"})
		return
	}

	user, session, err := h.auth.SignIn(req.Email, req.Password)
	if err != nil {
		h.authError(c, "sign-in", err)
		return
	}
	c.JSON(http.StatusOK, SessionResponse{User: user, Token: session.Token, ExpiresAt: session.ExpiresAt})
}

// SignOut ends the device session.
func (h *Handlers) SignOut(c *gin.Context) {
	if err := h.auth.SignOut(); err != nil {
		h.authError(c, "sign-out", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Me returns the signed-in user.
func (h *Handlers) Me(c *gin.Context) {
	user, ok := h.auth.CurrentUser()
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": auth.ErrNotSignedIn.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}

func (h *Handlers) authError(c *gin.Context, op string, err error) {
	var invalid *auth.ValidationError
	switch {
	case errors.As(err, &invalid):
		c.JSON(http.StatusBadRequest, gin.H{"error": invalid.Error()})
	case errors.Is(err, auth.ErrInvalidCredentials), errors.Is(err, auth.ErrNotSignedIn):
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
	case errors.Is(err, auth.ErrEmailTaken):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, auth.ErrNotStarted), errors.Is(err, auth.ErrStoreUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		h.logger.Error("Auth operation failed", zap.String("op", op), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "auth operation failed"})
	}
}
