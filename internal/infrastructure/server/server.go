package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apihttp "github.com/GriffinCanCode/appshell/internal/api/http"
	"github.com/GriffinCanCode/appshell/internal/api/middleware"
	"github.com/GriffinCanCode/appshell/internal/api/ws"
	"github.com/GriffinCanCode/appshell/internal/domain/errlog"
	"github.com/GriffinCanCode/appshell/internal/domain/startup"
	"github.com/GriffinCanCode/appshell/internal/infrastructure/config"
	"github.com/GriffinCanCode/appshell/internal/infrastructure/logging"
	"github.com/GriffinCanCode/appshell/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/appshell/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/appshell/internal/providers/auth"
	"github.com/GriffinCanCode/appshell/internal/providers/connectivity"
	"github.com/GriffinCanCode/appshell/internal/providers/notifications"
	"github.com/GriffinCanCode/appshell/internal/providers/reporter"
	"github.com/GriffinCanCode/appshell/internal/providers/updates"
	"github.com/GriffinCanCode/appshell/internal/shared/id"
)

const (
	shutdownTimeout = 5 * time.Second
	flushTimeout    = 2 * time.Second
)

// Options are process-level hooks supplied by the entry point.
type Options struct {
	// Reloader restarts the process on a staged bundle. Without one,
	// updates are staged and applied on the next launch.
	Reloader updates.Reloader
	// Logger overrides the logger built from config
	Logger *logging.Logger
}

// Server wraps the launcher's HTTP surface and the startup sequence
type Server struct {
	config  *config.Config
	logger  *logging.Logger
	metrics *monitoring.Metrics
	router  *gin.Engine
	http    *http.Server

	hook         *errlog.Hook
	reporter     *reporter.Reporter
	hub          *ws.Hub
	auth         *auth.Provider
	updates      *updates.Service
	orchestrator *startup.Orchestrator

	launchOnce sync.Once
	outcome    startup.Outcome
	stopState  func()
	closeOnce  sync.Once

	mu      sync.Mutex
	unmount func()
}

// NewServer creates a new server instance
func NewServer(cfg *config.Config, opts Options) (*Server, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewFromLevel(cfg.Logging.Level, cfg.Logging.Development)
	}
	production := cfg.IsProduction()

	logger.Info("Initializing launcher",
		zap.String("app", cfg.App.Name),
		zap.String("version", cfg.App.Version),
		zap.String("runtime_version", cfg.App.RuntimeVersion),
		zap.Bool("production", production),
	)

	if err := os.MkdirAll(cfg.App.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	// Initialize metrics first (needed by other components)
	metrics := monitoring.NewMetrics()

	errorLog, err := errlog.Open(errlog.NewFileStore(cfg.ErrorLogPath()), cfg.ErrorLog.Capacity)
	if err != nil {
		return nil, err
	}

	rep, err := reporter.New(reporter.Options{
		DSN:               cfg.Reporter.DSN,
		Environment:       cfg.App.Env,
		Release:           cfg.App.Name + "@" + cfg.App.Version,
		RequestsPerSecond: cfg.Reporter.RateLimit,
		QueueSize:         cfg.Reporter.QueueSize,
		Logger:            logger,
		Metrics:           metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create error reporter: %w", err)
	}

	s := &Server{
		config:   cfg,
		logger:   logger,
		metrics:  metrics,
		reporter: rep,
	}

	cors := middleware.DefaultCORSConfig()
	s.hub = ws.NewHub(ws.Options{
		Logger:      logger,
		Metrics:     metrics,
		Snapshot:    func() any { return s.orchestrator.State().Snapshot() },
		AllowOrigin: cors.Allowed,
	})

	hookOpts := errlog.Options{
		Log:        errorLog,
		Alerter:    s.hub,
		Production: production,
		Logger:     logger,
		Metrics:    metrics,
	}
	if rep.Enabled() {
		hookOpts.Reporter = rep
	}
	s.hook, err = errlog.Install(hookOpts)
	if err != nil {
		return nil, err
	}

	s.auth = auth.NewProvider(auth.Options{
		Store:      auth.NewFileStore(cfg.AuthStorePath()),
		SessionTTL: cfg.Auth.SessionTTL,
		Logger:     logger,
	})

	deps := startup.Deps{
		Auth:      s.auth,
		Errors:    s.hook,
		Listeners: ws.NewSessionFeed(s.hub),
		Prompter:  s.hub,
		OnNotification: func(n startup.Notification) {
			s.hub.Broadcast(ws.TypeNotification, n)
		},
	}

	if cfg.Updates.URL != "" {
		s.updates, err = updates.New(updates.Options{
			URL:            cfg.Updates.URL,
			Channel:        cfg.Updates.Channel,
			RuntimeVersion: cfg.App.RuntimeVersion,
			BundleDir:      cfg.BundleDir(),
			CheckInterval:  cfg.Updates.CheckInterval,
			KeepBundles:    cfg.Updates.KeepBundles,
			Reloader:       s.reloader(opts.Reloader),
			Logger:         logger,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create update service: %w", err)
		}
		deps.Updates = s.updates
	} else if production {
		logger.Warn("Update server not configured; OTA updates disabled")
	}

	if cfg.Connectivity.Target != "" {
		probe, err := connectivity.New(cfg.Connectivity.Target, cfg.Connectivity.Timeout, logger)
		if err != nil {
			logger.Warn("Connectivity probe disabled", zap.Error(err))
		} else {
			deps.Connectivity = probe
		}
	}

	var inbox apihttp.Inbox
	if cfg.Notifications.Enabled {
		registrar := notifications.New(notifications.Options{
			Enabled:          true,
			URL:              cfg.Notifications.URL,
			InstallationPath: cfg.InstallationPath(),
			AppName:          cfg.App.Name,
			Logger:           logger,
		})
		deps.Notifications = registrar
		inbox = registrar
	}

	trace := tracing.New(id.NewLaunchID(), logger.Logger)
	s.orchestrator = startup.NewOrchestrator(startup.Options{
		Production:  production,
		SettleDelay: cfg.Startup.SettleDelay,
		AuthMaxWait: cfg.Startup.AuthMaxWait,
		MinDisplay:  cfg.Startup.MinDisplay,
		Logger:      logger,
		Metrics:     metrics,
		Trace:       trace,
	}, deps)

	s.stopState = s.orchestrator.State().Subscribe(func(snap startup.Snapshot) {
		s.hub.Broadcast(ws.TypeState, snap)
	})

	// Create router
	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	// Add middleware
	router.Use(s.hook.GinRecovery())
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(cors))
	if cfg.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		limit := middleware.DefaultRateLimitConfig()
		limit.RequestsPerSecond = float64(cfg.RateLimit.RequestsPerSecond)
		limit.Burst = cfg.RateLimit.Burst
		router.Use(middleware.RateLimit(limit))
	}

	handlers := apihttp.NewHandlers(apihttp.Deps{
		State:   s.orchestrator.State(),
		Trace:   trace,
		Errors:  errorLog,
		Capture: s.hook,
		Auth:    s.auth,
		Inbox:   inbox,
		Metrics: metrics,
		Logger:  logger,
	})
	handlers.Register(router, middleware.RateLimit(middleware.AuthRateLimitConfig()))

	router.GET("/metrics", gin.WrapH(metrics.Handler()))
	router.GET("/stream", s.hub.HandleConnection)

	// Serve the active bundle when one has been installed
	if s.updates != nil {
		if dir := s.updates.CurrentDir(); dir != "" {
			router.Static("/app", dir)
			logger.Info("Serving installed bundle", zap.String("dir", dir))
		}
	}

	s.router = router
	s.http = &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Launcher initialized successfully")
	return s, nil
}

// reloader flushes pending error reports before handing the process over
// to next.
func (s *Server) reloader(next updates.Reloader) updates.Reloader {
	if next == nil {
		return nil
	}
	return func(dir string) error {
		s.reporter.Flush(flushTimeout)
		s.logger.Info("Reloading on new bundle", zap.String("dir", dir))
		_ = s.logger.Sync()
		return next(dir)
	}
}

// Handler exposes the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Orchestrator exposes the startup orchestrator.
func (s *Server) Orchestrator() *startup.Orchestrator {
	return s.orchestrator
}

// Launch mounts the startup listeners, restores the auth session and runs
// the startup sequence. It runs once; later calls return the first outcome.
func (s *Server) Launch(ctx context.Context) startup.Outcome {
	s.launchOnce.Do(func() {
		unmount := s.orchestrator.Mount(ctx)
		s.mu.Lock()
		s.unmount = unmount
		s.mu.Unlock()

		s.auth.Start(ctx)
		s.outcome = s.orchestrator.Run(ctx)

		s.logger.Info("Startup complete",
			zap.String("route", s.outcome.Route.String()),
			zap.Bool("online", s.outcome.Online),
			zap.Bool("reloading", s.outcome.Reloading),
			zap.Duration("elapsed", s.outcome.Elapsed),
		)
	})
	return s.outcome
}

// Run serves HTTP and launches the startup sequence in the background. It
// returns when the listener stops.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.http.Addr, err)
	}
	s.logger.Info("Starting HTTP server", zap.String("addr", ln.Addr().String()))

	s.hook.Go(startup.ContextSequence, func() { s.Launch(ctx) })

	if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close gracefully shuts down the server
func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.logger.Info("Shutting down launcher...")

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		s.hub.Close()
		if shutdownErr := s.http.Shutdown(ctx); shutdownErr != nil {
			s.logger.Error("HTTP shutdown failed", zap.Error(shutdownErr))
			err = fmt.Errorf("failed to shut down http server: %w", shutdownErr)
		}

		s.stopState()
		s.mu.Lock()
		unmount := s.unmount
		s.mu.Unlock()
		if unmount != nil {
			unmount()
		}
		s.orchestrator.Wait()

		s.reporter.Close(flushTimeout)
		s.hook.Remove()

		// Sync logger before exit
		_ = s.logger.Sync()
	})
	return err
}
