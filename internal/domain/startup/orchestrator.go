package startup

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/appshell/internal/infrastructure/logging"
	"github.com/GriffinCanCode/appshell/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/appshell/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/appshell/internal/shared/id"
)

// Error contexts recorded in the local error log.
const (
	ContextUpdateCheck    = "OTA Update Check"
	ContextUpdateListener = "OTA Update Listener"
	ContextConnectivity   = "Connectivity Check"
	ContextNotifications  = "Notification Registration"
	ContextAuthState      = "Auth State"
	ContextSequence       = "Startup Sequence"
)

// Step names used for metrics and trace spans.
const (
	StepUpdateCheck   = "update_check"
	StepConnectivity  = "connectivity"
	StepSettle        = "settle"
	StepAuthWait      = "auth_wait"
	StepNotifications = "notifications"
	StepMinDisplay    = "min_display"
)

const (
	DefaultSettleDelay = 500 * time.Millisecond
	DefaultAuthMaxWait = 3 * time.Second
	DefaultMinDisplay  = 2 * time.Second
)

// Options tunes the sequence.
type Options struct {
	// Production enables the OTA update check and listener
	Production  bool
	SettleDelay time.Duration
	AuthMaxWait time.Duration
	MinDisplay  time.Duration
	Clock       Clock
	Logger      *logging.Logger
	Metrics     *monitoring.Metrics
	Trace       *tracing.Trace
}

// Deps are the collaborators. Any of them may be nil, in which case the
// corresponding step or listener is skipped.
type Deps struct {
	Updates       UpdateService
	Auth          AuthService
	Errors        ErrorSink
	Notifications NotificationRegistrar
	Connectivity  ConnectivityProbe
	Listeners     DataListeners
	Prompter      Prompter

	OnNotification         func(Notification)
	OnNotificationResponse func(NotificationResponse)
}

// Outcome summarizes a finished run.
type Outcome struct {
	Route     Route         `json:"route"`
	Ready     bool          `json:"ready"`
	Reloading bool          `json:"reloading"`
	Online    bool          `json:"online"`
	PushToken string        `json:"push_token,omitempty"`
	Elapsed   time.Duration `json:"elapsed"`
	Paced     time.Duration `json:"paced"`
}

// Orchestrator runs the startup sequence once per launch and owns the
// listeners that may update the startup state concurrently.
type Orchestrator struct {
	opts   Options
	deps   Deps
	state  *State
	logger *logging.Logger
	trace  *tracing.Trace

	lifecycle *Lifecycle
	mountOnce sync.Once
	runOnce   sync.Once
	outcome   Outcome

	bgCtx    context.Context
	bgCancel context.CancelFunc
	bg       sync.WaitGroup
	updating atomic.Bool
}

// NewOrchestrator wires an orchestrator. Zero durations take the defaults.
func NewOrchestrator(opts Options, deps Deps) *Orchestrator {
	if opts.SettleDelay <= 0 {
		opts.SettleDelay = DefaultSettleDelay
	}
	if opts.AuthMaxWait <= 0 {
		opts.AuthMaxWait = DefaultAuthMaxWait
	}
	if opts.MinDisplay <= 0 {
		opts.MinDisplay = DefaultMinDisplay
	}
	if opts.Clock == nil {
		opts.Clock = RealClock()
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logger.Named("startup")

	trace := opts.Trace
	if trace == nil {
		trace = tracing.New(id.NewLaunchID(), logger.Logger)
	}
	if deps.Errors == nil {
		deps.Errors = logSink{logger: logger}
	}

	return &Orchestrator{
		opts:      opts,
		deps:      deps,
		state:     NewState(),
		logger:    logger,
		trace:     trace,
		lifecycle: NewLifecycle(logger),
	}
}

// State exposes the startup state.
func (o *Orchestrator) State() *State {
	return o.state
}

// Trace exposes the launch trace.
func (o *Orchestrator) Trace() *tracing.Trace {
	return o.trace
}

// Mount registers the auth-state, update-available and notification
// listeners. It runs once; the returned function deregisters everything
// and waits for background update work.
func (o *Orchestrator) Mount(ctx context.Context) (unmount func()) {
	o.mountOnce.Do(func() {
		o.bgCtx, o.bgCancel = context.WithCancel(ctx)
		o.lifecycle.Add("background", func() {
			o.bgCancel()
			o.bg.Wait()
		})

		if o.deps.Auth != nil {
			o.lifecycle.Add("auth", o.deps.Auth.OnStateChange(o.handleUser, o.handleAuthError))
		}
		if o.deps.Updates != nil && o.opts.Production {
			o.lifecycle.Add("updates", o.deps.Updates.Subscribe(o.handleUpdateAvailable))
		}
		if o.deps.Notifications != nil {
			sub := o.deps.Notifications.Subscribe(o.handleNotification, o.handleNotificationResponse)
			if sub != nil {
				o.lifecycle.Add("notifications", sub.Remove)
			}
		}
		if o.deps.Listeners != nil {
			o.lifecycle.Add("data", o.deps.Listeners.Detach)
		}
	})
	return o.lifecycle.Close
}

// Run executes the startup sequence. It never panics and, unless an update
// reload took over, always leaves the state ready with a route decided.
// Later calls return the first outcome.
func (o *Orchestrator) Run(ctx context.Context) Outcome {
	o.runOnce.Do(func() {
		o.outcome = o.run(ctx)
	})
	return o.outcome
}

func (o *Orchestrator) run(ctx context.Context) (out Outcome) {
	start := o.opts.Clock.Now()
	o.logger.Info("Startup sequence started",
		zap.String("launch_id", o.trace.LaunchID().String()),
		zap.Bool("production", o.opts.Production),
	)

	defer func() {
		if r := recover(); r != nil {
			o.deps.Errors.Capture(ContextSequence, fmt.Errorf("panic: %v", r), false)
			o.failSafe()
		}
		if !out.Reloading {
			o.finish(start, &out)
		}
	}()

	if o.checkForUpdate(ctx) {
		out.Reloading = true
		o.logger.Info("Update applied, reloading")
		return out
	}

	out.Online = o.probeConnectivity(ctx)
	o.settle(ctx)
	o.awaitAuth(ctx)
	out.PushToken = o.registerNotifications(ctx)
	out.Paced = o.enforceMinDisplay(ctx, start)
	return out
}

func (o *Orchestrator) finish(start time.Time, out *Outcome) {
	// Route must be decided before ready freezes the state
	o.state.SetRoute(RouteLogin)
	o.state.SetMessage("Ready")
	if o.state.MarkReady() && o.opts.Metrics != nil {
		o.opts.Metrics.RecordStartup(o.opts.Clock.Now().Sub(start))
	}

	out.Route = o.state.Route()
	out.Ready = o.state.IsReady()
	out.Elapsed = o.opts.Clock.Now().Sub(start)

	o.logger.Info("Startup complete",
		zap.Stringer("route", out.Route),
		zap.Duration("elapsed", out.Elapsed),
		zap.Bool("online", out.Online),
	)
}

func (o *Orchestrator) failSafe() {
	o.state.SetRoute(RouteLogin)
	o.state.MarkReady()
}

// step runs fn as one traced, timed step. Errors and panics are captured
// under where and never escape.
func (o *Orchestrator) step(name, where string, fn func(span *tracing.Span) error) (failed bool) {
	span := o.trace.StartSpan(name)
	timer := monitoring.NewTimer(o.opts.Metrics, name)

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic in %s: %v", name, r)
			o.deps.Errors.Capture(where, err, false)
			span.SetError(err)
			failed = true
		}
		timer.Stop(failed)
		span.Finish()
	}()

	if err := fn(span); err != nil {
		o.deps.Errors.Capture(where, err, false)
		span.SetError(err)
		return true
	}
	return false
}

// checkForUpdate reports whether a reload has taken over.
func (o *Orchestrator) checkForUpdate(ctx context.Context) bool {
	if !o.opts.Production || o.deps.Updates == nil {
		o.recordUpdateCheck("skipped")
		o.logger.Debug("Skipping update check outside production")
		return false
	}

	reloading := false
	o.step(StepUpdateCheck, ContextUpdateCheck, func(span *tracing.Span) error {
		o.state.SetMessage("Checking for updates...")

		check, err := o.deps.Updates.CheckForUpdate(ctx)
		if err != nil {
			o.recordUpdateCheck("error")
			return fmt.Errorf("update check failed: %w", err)
		}
		if !check.Available {
			o.recordUpdateCheck("none")
			span.SetTag("result", "none")
			return nil
		}

		o.recordUpdateCheck("available")
		span.SetTag("update_id", check.UpdateID)
		o.logger.Info("Update available", zap.String("update_id", check.UpdateID))

		o.state.SetMessage("Downloading update...")
		if err := o.deps.Updates.FetchUpdate(ctx); err != nil {
			return fmt.Errorf("update fetch failed: %w", err)
		}

		o.state.SetMessage("Applying update...")
		if err := o.deps.Updates.Reload(); err != nil {
			return fmt.Errorf("update reload failed: %w", err)
		}
		reloading = true
		return nil
	})
	return reloading
}

func (o *Orchestrator) recordUpdateCheck(result string) {
	if o.opts.Metrics != nil {
		o.opts.Metrics.RecordUpdateCheck(result)
	}
}

// probeConnectivity is a hint only; auth handles offline restore itself.
func (o *Orchestrator) probeConnectivity(ctx context.Context) bool {
	if o.deps.Connectivity == nil {
		return false
	}

	online := false
	o.step(StepConnectivity, ContextConnectivity, func(span *tracing.Span) error {
		net, err := o.deps.Connectivity.Fetch(ctx)
		if err != nil {
			return fmt.Errorf("connectivity probe failed: %w", err)
		}
		online = net.IsConnected
		span.SetTag("connected", fmt.Sprint(online))
		if online {
			o.logger.Debug("Network reachable", zap.String("type", net.Type))
		} else {
			o.logger.Info("Offline, relying on restored session")
		}
		return nil
	})
	return online
}

func (o *Orchestrator) settle(ctx context.Context) {
	o.step(StepSettle, ContextSequence, func(*tracing.Span) error {
		o.opts.Clock.Sleep(ctx, o.opts.SettleDelay)
		return nil
	})
}

func (o *Orchestrator) awaitAuth(ctx context.Context) {
	o.step(StepAuthWait, ContextSequence, func(span *tracing.Span) error {
		o.state.SetMessage("Checking authentication...")

		if !o.state.WaitAuth(ctx, o.opts.AuthMaxWait) {
			span.SetTag("timed_out", "true")
			o.logger.Warn("Auth state not resolved in time, continuing",
				zap.Duration("max_wait", o.opts.AuthMaxWait),
			)
		}
		if o.state.SetRoute(RouteLogin) {
			o.logger.Info("No auth decision, defaulting to Login")
		}
		return nil
	})
}

func (o *Orchestrator) registerNotifications(ctx context.Context) string {
	if o.deps.Notifications == nil {
		return ""
	}

	var token string
	o.step(StepNotifications, ContextNotifications, func(*tracing.Span) error {
		o.state.SetMessage("Setting up notifications...")
		t, err := o.deps.Notifications.Register(ctx)
		if err != nil {
			return fmt.Errorf("notification registration failed: %w", err)
		}
		token = t
		return nil
	})
	return token
}

// enforceMinDisplay sleeps out the remainder of the minimum loading time.
func (o *Orchestrator) enforceMinDisplay(ctx context.Context, start time.Time) time.Duration {
	var slept time.Duration
	o.step(StepMinDisplay, ContextSequence, func(span *tracing.Span) error {
		elapsed := o.opts.Clock.Now().Sub(start)
		if remaining := o.opts.MinDisplay - elapsed; remaining > 0 {
			o.opts.Clock.Sleep(ctx, remaining)
			slept = remaining
		}
		span.SetTag("paced", slept.String())
		return nil
	})
	return slept
}

// logSink stands in when no error handler is installed.
type logSink struct {
	logger *logging.Logger
}

func (s logSink) Capture(where string, err error, fatal bool) {
	s.logger.Warn("Startup error", zap.String("context", where), zap.Bool("fatal", fatal), zap.Error(err))
}
