package httpclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"

	"github.com/GriffinCanCode/appshell/internal/infrastructure/resilience"
)

// ErrUnavailable is returned when the breaker refuses a call.
var ErrUnavailable = errors.New("remote service unavailable")

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Method string
	URL    string
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.URL, e.Status)
}

// Options configures a Client.
type Options struct {
	Name       string
	UserAgent  string
	Timeout    time.Duration
	MaxRetries int
	MinWait    time.Duration
	MaxWait    time.Duration
	// RequestsPerSecond <= 0 means unlimited
	RequestsPerSecond float64
	Breaker           resilience.Settings
}

// DefaultOptions returns options suited to launcher-side calls: short
// timeouts, a few retries, lenient breaker.
func DefaultOptions(name string) Options {
	return Options{
		Name:       name,
		UserAgent:  "appshell-launcher/1.0",
		Timeout:    15 * time.Second,
		MaxRetries: 2,
		MinWait:    500 * time.Millisecond,
		MaxWait:    5 * time.Second,
		Breaker: resilience.Settings{
			MaxRequests: 1,
			Interval:    60 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts resilience.Counts) bool {
				return counts.ConsecutiveFailures >= 5 ||
					(counts.Requests >= 20 && float64(counts.TotalFailures)/float64(counts.Requests) > 0.7)
			},
		},
	}
}

// Client wraps resty with rate limiting and a circuit breaker.
type Client struct {
	name    string
	resty   *resty.Client
	limiter *rate.Limiter
	breaker *resilience.Breaker
	mu      sync.RWMutex
}

// New creates a client from options.
func New(opts Options) *Client {
	// Retries happen below resty, in retryablehttp. The last response is
	// passed through so 5xx statuses still reach the breaker.
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = opts.MaxRetries
	retryClient.RetryWaitMin = opts.MinWait
	retryClient.RetryWaitMax = opts.MaxWait
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler
	retryClient.Logger = nil

	restyClient := resty.NewWithClient(retryClient.StandardClient()).
		SetTimeout(opts.Timeout).
		SetHeader("User-Agent", opts.UserAgent)

	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RequestsPerSecond > 0 {
		burst := int(opts.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}

	return &Client{
		name:    opts.Name,
		resty:   restyClient,
		limiter: limiter,
		breaker: resilience.New(opts.Name, opts.Breaker),
	}
}

// SetHeader adds a default header.
func (c *Client) SetHeader(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resty.SetHeader(key, value)
}

// SetBearerAuth configures bearer token authentication.
func (c *Client) SetBearerAuth(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resty.SetAuthToken(token)
}

// Request waits for the limiter and returns a request bound to ctx.
func (c *Client) Request(ctx context.Context) (*resty.Request, error) {
	if err := c.breaker.Allow(); err != nil {
		return nil, fmt.Errorf("%s: %w", c.name, ErrUnavailable)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit error: %w", err)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.resty.R().SetContext(ctx), nil
}

// Execute runs fn through the breaker. Transport errors and 5xx responses
// count as failures; other non-2xx statuses are returned as *StatusError
// without tripping the breaker.
func (c *Client) Execute(fn func() (*resty.Response, error)) (*resty.Response, error) {
	resp, err := resilience.Do(c.breaker, func() (*resty.Response, error) {
		resp, err := fn()
		if err != nil {
			return nil, err
		}
		if resp.StatusCode() >= http.StatusInternalServerError {
			return resp, statusError(resp)
		}
		return resp, nil
	})

	if errors.Is(err, resilience.ErrCircuitOpen) || errors.Is(err, resilience.ErrTooManyRequests) {
		return nil, fmt.Errorf("%s: %w", c.name, ErrUnavailable)
	}
	if err != nil {
		return resp, err
	}
	if resp.IsError() {
		return resp, statusError(resp)
	}
	return resp, nil
}

// BreakerState returns the current circuit breaker state.
func (c *Client) BreakerState() resilience.State {
	return c.breaker.State()
}

// BreakerCounts returns circuit breaker statistics.
func (c *Client) BreakerCounts() resilience.Counts {
	return c.breaker.Counts()
}

func statusError(resp *resty.Response) error {
	return &StatusError{
		Method: resp.Request.Method,
		URL:    resp.Request.URL,
		Status: resp.StatusCode(),
	}
}
