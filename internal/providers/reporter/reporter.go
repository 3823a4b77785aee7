package reporter

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/GriffinCanCode/appshell/internal/infrastructure/logging"
	"github.com/GriffinCanCode/appshell/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/appshell/internal/shared/httpclient"
	"github.com/GriffinCanCode/appshell/internal/shared/id"
)

// Event outcomes recorded in metrics.
const (
	OutcomeSent    = "sent"
	OutcomeFailed  = "failed"
	OutcomeDropped = "dropped"
)

const flushPoll = 10 * time.Millisecond

var ErrInvalidDSN = errors.New("invalid error reporter DSN")

// Event is one error report.
type Event struct {
	ID          id.EventID        `json:"event_id"`
	Timestamp   time.Time         `json:"timestamp"`
	Environment string            `json:"environment"`
	Release     string            `json:"release,omitempty"`
	Message     string            `json:"message"`
	Stack       string            `json:"stack,omitempty"`
	Tags        map[string]string `json:"tags,omitempty"`
}

// Options configures a Reporter.
type Options struct {
	// DSN is the ingest endpoint. User info, if present, is sent as a
	// bearer token. Empty disables reporting.
	DSN               string
	Environment       string
	Release           string
	RequestsPerSecond float64
	QueueSize         int
	Logger            *logging.Logger
	Metrics           *monitoring.Metrics
	// Client overrides the default HTTP client
	Client *httpclient.Client
}

// Reporter forwards captured errors to a remote ingest endpoint. Sending
// happens on a single worker so Capture never blocks the caller.
type Reporter struct {
	enabled  bool
	endpoint string
	env      string
	release  string
	client   *httpclient.Client
	limiter  *rate.Limiter
	logger   *logging.Logger
	metrics  *monitoring.Metrics

	queue   chan Event
	pending atomic.Int64
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}

	closeOnce sync.Once
}

// New creates a reporter. An empty or malformed DSN yields a disabled
// reporter that logs one diagnostic and drops everything.
func New(opts Options) (*Reporter, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logger.Named("reporter")

	r := &Reporter{
		env:     opts.Environment,
		release: opts.Release,
		logger:  logger,
		metrics: opts.Metrics,
		done:    make(chan struct{}),
	}

	if opts.DSN == "" {
		logger.Info("Error reporting disabled: ERROR_REPORTER_DSN not set")
		close(r.done)
		return r, nil
	}

	endpoint, token, err := parseDSN(opts.DSN)
	if err != nil {
		logger.Warn("Error reporting disabled: invalid ERROR_REPORTER_DSN", zap.Error(err))
		close(r.done)
		return r, nil
	}

	client := opts.Client
	if client == nil {
		client = httpclient.New(httpclient.DefaultOptions("error-reporter"))
	}
	if token != "" {
		client.SetBearerAuth(token)
	}

	if opts.QueueSize <= 0 {
		opts.QueueSize = 100
	}
	limit := rate.Inf
	burst := 0
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
		burst = max(1, int(opts.RequestsPerSecond))
	}

	r.enabled = true
	r.endpoint = endpoint
	r.client = client
	r.limiter = rate.NewLimiter(limit, burst)
	r.queue = make(chan Event, opts.QueueSize)
	r.ctx, r.cancel = context.WithCancel(context.Background())

	go r.run()

	logger.Info("Error reporting enabled", zap.String("endpoint", endpoint))
	return r, nil
}

// Enabled reports whether events leave the process.
func (r *Reporter) Enabled() bool {
	return r.enabled
}

// Capture enqueues err with metadata as tags. It never blocks; a full
// queue drops the event.
func (r *Reporter) Capture(err error, metadata map[string]string) {
	if !r.enabled || err == nil {
		return
	}

	event := Event{
		ID:          id.NewEventID(),
		Timestamp:   time.Now().UTC(),
		Environment: r.env,
		Release:     r.release,
		Message:     err.Error(),
		Stack:       stackOf(err),
		Tags:        copyTags(metadata),
	}

	if r.ctx.Err() != nil {
		r.record(OutcomeDropped)
		return
	}

	r.pending.Add(1)
	select {
	case r.queue <- event:
	default:
		r.pending.Add(-1)
		r.record(OutcomeDropped)
		r.logger.Warn("Error report queue full, dropping event", zap.String("event_id", event.ID.String()))
	}
}

// Flush waits for queued events to be sent, up to timeout. It reports
// whether the queue drained.
func (r *Reporter) Flush(timeout time.Duration) bool {
	if !r.enabled {
		return true
	}

	deadline := time.Now().Add(timeout)
	for r.pending.Load() > 0 {
		if time.Now().After(deadline) {
			r.logger.Warn("Error report flush timed out",
				zap.Duration("timeout", timeout),
				zap.Int64("pending", r.pending.Load()),
			)
			return false
		}
		time.Sleep(flushPoll)
	}
	return true
}

// Close flushes for up to timeout and stops the worker.
func (r *Reporter) Close(timeout time.Duration) {
	r.closeOnce.Do(func() {
		if !r.enabled {
			return
		}
		r.Flush(timeout)
		r.cancel()
		<-r.done
	})
}

func (r *Reporter) run() {
	defer close(r.done)
	for {
		select {
		case <-r.ctx.Done():
			r.drop()
			return
		case event := <-r.queue:
			r.send(event)
			r.pending.Add(-1)
		}
	}
}

// drop discards whatever is left after Close.
func (r *Reporter) drop() {
	for {
		select {
		case <-r.queue:
			r.record(OutcomeDropped)
			r.pending.Add(-1)
		default:
			return
		}
	}
}

func (r *Reporter) send(event Event) {
	if err := r.limiter.Wait(r.ctx); err != nil {
		r.record(OutcomeDropped)
		return
	}

	body, err := sonic.Marshal(event)
	if err != nil {
		r.record(OutcomeFailed)
		r.logger.Error("Failed to encode error report", zap.Error(err))
		return
	}

	req, err := r.client.Request(r.ctx)
	if err != nil {
		r.record(OutcomeFailed)
		r.logger.Warn("Error report not sent", zap.String("event_id", event.ID.String()), zap.Error(err))
		return
	}

	_, err = r.client.Execute(func() (*resty.Response, error) {
		return req.
			SetHeader("Content-Type", "application/json").
			SetBody(body).
			Post(r.endpoint)
	})
	if err != nil {
		r.record(OutcomeFailed)
		r.logger.Warn("Error report failed", zap.String("event_id", event.ID.String()), zap.Error(err))
		return
	}

	r.record(OutcomeSent)
	r.logger.Debug("Error report sent", zap.String("event_id", event.ID.String()))
}

func (r *Reporter) record(outcome string) {
	if r.metrics != nil {
		r.metrics.RecordReporterEvent(outcome)
	}
}

func parseDSN(dsn string) (endpoint, token string, err error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrInvalidDSN, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidDSN, dsn)
	}
	if u.User != nil {
		token = u.User.Username()
		u.User = nil
	}
	return u.String(), token, nil
}

func stackOf(err error) string {
	var st interface{ StackTrace() string }
	if errors.As(err, &st) {
		return st.StackTrace()
	}
	return ""
}

func copyTags(metadata map[string]string) map[string]string {
	if len(metadata) == 0 {
		return nil
	}
	out := make(map[string]string, len(metadata))
	for k, v := range metadata {
		out[k] = v
	}
	return out
}
