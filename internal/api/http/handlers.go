package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/appshell/internal/domain/errlog"
	"github.com/GriffinCanCode/appshell/internal/domain/startup"
	"github.com/GriffinCanCode/appshell/internal/infrastructure/logging"
	"github.com/GriffinCanCode/appshell/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/appshell/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/appshell/internal/providers/auth"
)

// Accounts is the account surface of the auth provider.
type Accounts interface {
	SignUp(email, password, displayName string) (*startup.User, *auth.Session, error)
	SignIn(email, password string) (*startup.User, *auth.Session, error)
	SignOut() error
	CurrentUser() (*startup.User, bool)
}

// Inbox accepts pushes and user responses for the notification registrar.
type Inbox interface {
	Deliver(n startup.Notification) (startup.Notification, error)
	Respond(notificationID, action string) error
	Token() string
}

// ErrorLog is the local error log as seen by the API.
type ErrorLog interface {
	Entries() []errlog.Entry
	Capacity() int
	Clear() error
}

// Deps are the collaborators the handlers serve.
type Deps struct {
	State   *startup.State
	Trace   *tracing.Trace
	Errors  ErrorLog
	Capture startup.ErrorSink
	Auth    Accounts
	// Inbox is nil when notifications are disabled
	Inbox   Inbox
	Metrics *monitoring.Metrics
	Logger  *logging.Logger
}

// Handlers contains HTTP request handlers
type Handlers struct {
	state   *startup.State
	trace   *tracing.Trace
	errors  ErrorLog
	capture startup.ErrorSink
	auth    Accounts
	inbox   Inbox
	metrics *monitoring.Metrics
	logger  *logging.Logger
	started time.Time
}

// NewHandlers creates a new handlers instance
func NewHandlers(deps Deps) *Handlers {
	if deps.Logger == nil {
		deps.Logger = logging.NewNop()
	}
	return &Handlers{
		state:   deps.State,
		trace:   deps.Trace,
		errors:  deps.Errors,
		capture: deps.Capture,
		auth:    deps.Auth,
		inbox:   deps.Inbox,
		metrics: deps.Metrics,
		logger:  deps.Logger.Named("api"),
		started: time.Now(),
	}
}

// Register mounts the JSON routes. authLimit, if non-nil, guards the
// credential endpoints.
func (h *Handlers) Register(r gin.IRoutes, authLimit gin.HandlerFunc) {
	r.GET("/health", h.Health)
	r.GET("/startup", h.GetStartup)
	r.GET("/startup/trace", h.GetTrace)

	r.GET("/errors", h.ListErrors)
	r.POST("/errors", h.ReportErrors)
	r.DELETE("/errors", h.ClearErrors)

	guarded := func(fn gin.HandlerFunc) []gin.HandlerFunc {
		if authLimit == nil {
			return []gin.HandlerFunc{fn}
		}
		return []gin.HandlerFunc{authLimit, fn}
	}
	r.POST("/auth/signup", guarded(h.SignUp)...)
	r.POST("/auth/signin", guarded(h.SignIn)...)
	r.POST("/auth/signout", h.SignOut)
	r.GET("/auth/me", h.Me)

	r.POST("/notifications", h.DeliverNotification)
	r.POST("/notifications/:id/respond", h.RespondNotification)
}

// Health handles health check
func (h *Handlers) Health(c *gin.Context) {
	uptime := time.Since(h.started)
	if h.metrics != nil {
		uptime = h.metrics.Uptime()
	}
	c.JSON(http.StatusOK, gin.H{
		"status":         "healthy",
		"ready":          h.state.IsReady(),
		"uptime_seconds": int64(uptime.Seconds()),
	})
}
