package errlog

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/appshell/internal/infrastructure/logging"
	"github.com/GriffinCanCode/appshell/internal/infrastructure/monitoring"
)

// Contexts used by the launcher when capturing.
const (
	ContextGlobal       = "Global Handler"
	ContextUnhandled    = "Unhandled Goroutine"
	ContextHTTPHandler  = "HTTP Handler"
	defaultAlertTimeout = 30 * time.Second
)

// ErrNoLog is returned by Install when no log is supplied.
var ErrNoLog = errors.New("errlog: install requires a log")

// Reporter forwards errors to a remote service.
type Reporter interface {
	Capture(err error, metadata map[string]string)
}

// Alerter shows a blocking alert to the user and returns once it is
// dismissed or ctx ends.
type Alerter interface {
	Alert(ctx context.Context, title, message string) error
}

// Options configures the process-wide handler.
type Options struct {
	Log        *Log
	Reporter   Reporter
	Alerter    Alerter
	Production bool
	Logger     *logging.Logger
	Metrics    *monitoring.Metrics
	// AlertTimeout bounds how long a development alert may block
	AlertTimeout time.Duration
}

var (
	installMu sync.Mutex
	installed *Hook
)

// Hook is the installed process-wide error handler.
type Hook struct {
	opts   Options
	logger *logging.Logger
	policy *bluemonday.Policy

	mu      sync.RWMutex
	removed bool
}

// Install registers the process-wide handler. Installing again while a
// handler is registered returns the existing one unchanged.
func Install(opts Options) (*Hook, error) {
	installMu.Lock()
	defer installMu.Unlock()

	if installed != nil {
		return installed, nil
	}
	if opts.Log == nil {
		return nil, ErrNoLog
	}
	if opts.AlertTimeout <= 0 {
		opts.AlertTimeout = defaultAlertTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}

	installed = &Hook{
		opts:   opts,
		logger: logger.Named("errlog"),
		policy: bluemonday.StrictPolicy(),
	}
	if opts.Reporter == nil {
		installed.logger.Info("Error reporter not configured; errors are kept locally")
	}
	return installed, nil
}

// Installed returns the registered hook, or nil.
func Installed() *Hook {
	installMu.Lock()
	defer installMu.Unlock()
	return installed
}

// Remove deregisters the hook. Captures through a removed hook are ignored.
func (h *Hook) Remove() {
	installMu.Lock()
	if installed == h {
		installed = nil
	}
	installMu.Unlock()

	h.mu.Lock()
	h.removed = true
	h.mu.Unlock()
}

// Log returns the local error log the hook appends to.
func (h *Hook) Log() *Log {
	return h.opts.Log
}

// Capture records err under context: append to the local log, forward to
// the reporter, and for fatal errors in development show a blocking alert.
// A fatal error in production is recorded but never crashes the process.
func (h *Hook) Capture(where string, err error, fatal bool) {
	h.capture(where, err, stackOf(err), fatal)
}

// CapturePanic records a recovered panic value.
func (h *Hook) CapturePanic(where string, recovered any, fatal bool) {
	err, ok := recovered.(error)
	if !ok {
		err = fmt.Errorf("panic: %v", recovered)
	}
	h.capture(where, err, string(debug.Stack()), fatal)
}

// Recover must be deferred directly. It captures a panic as a fatal error
// and swallows it.
func (h *Hook) Recover(where string) {
	if r := recover(); r != nil {
		h.CapturePanic(where, r, true)
	}
}

// Go runs fn on a new goroutine whose panic is captured instead of
// crashing the process.
func (h *Hook) Go(where string, fn func()) {
	go func() {
		defer h.Recover(where)
		fn()
	}()
}

// GinRecovery routes handler panics into the hook.
func (h *Hook) GinRecovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		h.CapturePanic(ContextHTTPHandler, recovered, false)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	})
}

func (h *Hook) capture(where string, err error, stack string, fatal bool) {
	h.mu.RLock()
	removed := h.removed
	h.mu.RUnlock()
	if removed {
		return
	}

	entry := NewEntry(where, err, stack, fatal)

	if appendErr := h.opts.Log.Append(entry); appendErr != nil {
		h.logger.Warn("Failed to persist error entry", zap.Error(appendErr))
	}
	if h.opts.Metrics != nil {
		h.opts.Metrics.RecordCapturedError(where, fatal)
	}

	fields := []zap.Field{
		zap.String("context", where),
		zap.String("entry_id", entry.ID.String()),
		zap.Bool("fatal", fatal),
		zap.String("error", entry.Message),
	}
	if fatal {
		h.logger.Error("Captured fatal error", fields...)
	} else {
		h.logger.Warn("Captured error", fields...)
	}

	if h.opts.Reporter != nil {
		h.opts.Reporter.Capture(err, map[string]string{
			"context":  where,
			"entry_id": entry.ID.String(),
			"fatal":    strconv.FormatBool(fatal),
		})
	}

	if fatal && !h.opts.Production && h.opts.Alerter != nil {
		h.alert(where, entry.Message)
	}
}

func (h *Hook) alert(where, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), h.opts.AlertTimeout)
	defer cancel()

	title := h.policy.Sanitize("Unexpected error: " + where)
	if err := h.opts.Alerter.Alert(ctx, title, h.policy.Sanitize(message)); err != nil {
		h.logger.Warn("Failed to show error alert", zap.Error(err))
	}
}

// StackTracer is implemented by errors that carry their own stack.
type StackTracer interface {
	StackTrace() string
}

func stackOf(err error) string {
	var st StackTracer
	if errors.As(err, &st) {
		return st.StackTrace()
	}
	return ""
}
