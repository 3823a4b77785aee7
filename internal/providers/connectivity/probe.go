package connectivity

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/GriffinCanCode/appshell/internal/domain/startup"
	"github.com/GriffinCanCode/appshell/internal/infrastructure/logging"
	"github.com/GriffinCanCode/appshell/internal/shared/httpclient"
)

// Network types reported in NetState.Type.
const (
	TypeHTTP = "http"
	TypeGRPC = "grpc"
	TypeNone = "none"
)

var ErrInvalidTarget = errors.New("invalid connectivity target")

const DefaultTimeout = 5 * time.Second

// Probe answers whether the target is reachable. Unreachable is a normal
// answer, not an error; errors are reserved for misconfiguration.
type Probe struct {
	target  *url.URL
	timeout time.Duration
	client  *httpclient.Client
	logger  *logging.Logger
}

// New parses target (http, https or grpc scheme).
func New(target string, timeout time.Duration, logger *logging.Logger) (*Probe, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTarget, err)
	}
	switch u.Scheme {
	case "http", "https", "grpc":
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidTarget, u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: missing host", ErrInvalidTarget)
	}

	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	p := &Probe{target: u, timeout: timeout, logger: logger.Named("connectivity")}
	if u.Scheme != "grpc" {
		opts := httpclient.DefaultOptions("connectivity")
		opts.Timeout = timeout
		opts.MaxRetries = 0
		p.client = httpclient.New(opts)
	}
	return p, nil
}

// Fetch probes the target once.
func (p *Probe) Fetch(ctx context.Context) (startup.NetState, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if p.target.Scheme == "grpc" {
		return p.fetchGRPC(ctx)
	}
	return p.fetchHTTP(ctx)
}

func (p *Probe) fetchHTTP(ctx context.Context) (startup.NetState, error) {
	req, err := p.client.Request(ctx)
	if err != nil {
		p.logger.Debug("Probe refused", zap.Error(err))
		return startup.NetState{Type: TypeNone}, nil
	}

	resp, err := p.client.Execute(func() (*resty.Response, error) {
		return req.Head(p.target.String())
	})
	var statusErr *httpclient.StatusError
	switch {
	case errors.As(err, &statusErr) && statusErr.Status < 500:
		// Any answer from the host proves reachability
		return startup.NetState{IsConnected: true, Type: TypeHTTP}, nil
	case err != nil:
		p.logger.Debug("Target unreachable", zap.String("target", p.target.String()), zap.Error(err))
		return startup.NetState{Type: TypeNone}, nil
	}

	p.logger.Debug("Target reachable", zap.Int("status", resp.StatusCode()))
	return startup.NetState{IsConnected: true, Type: TypeHTTP}, nil
}

func (p *Probe) fetchGRPC(ctx context.Context) (startup.NetState, error) {
	conn, err := grpc.NewClient(p.target.Host,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return startup.NetState{}, fmt.Errorf("%w: %v", ErrInvalidTarget, err)
	}
	defer conn.Close()

	service := ""
	if len(p.target.Path) > 1 {
		service = p.target.Path[1:]
	}

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		p.logger.Debug("Health check failed", zap.String("target", p.target.Host), zap.Error(err))
		return startup.NetState{Type: TypeNone}, nil
	}

	serving := resp.GetStatus() == healthpb.HealthCheckResponse_SERVING
	if !serving {
		p.logger.Debug("Target not serving", zap.Stringer("status", resp.GetStatus()))
	}
	return startup.NetState{IsConnected: serving, Type: TypeGRPC}, nil
}
