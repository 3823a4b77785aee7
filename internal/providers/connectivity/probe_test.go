package connectivity

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func TestNewRejectsBadTargets(t *testing.T) {
	for _, target := range []string{"ftp://example.com", "example.com", "http://", "://"} {
		_, err := New(target, time.Second, nil)
		assert.ErrorIs(t, err, ErrInvalidTarget, target)
	}
}

func TestFetchHTTP(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   bool
	}{
		{name: "no content", status: http.StatusNoContent, want: true},
		{name: "not found still reachable", status: http.StatusNotFound, want: true},
		{name: "server error", status: http.StatusServiceUnavailable, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodHead, r.Method)
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			p, err := New(srv.URL, time.Second, nil)
			require.NoError(t, err)

			state, err := p.Fetch(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.want, state.IsConnected)
		})
	}
}

func TestFetchHTTPUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	p, err := New(url, 200*time.Millisecond, nil)
	require.NoError(t, err)

	state, err := p.Fetch(context.Background())
	require.NoError(t, err)
	assert.False(t, state.IsConnected)
	assert.Equal(t, TypeNone, state.Type)
}

func TestFetchGRPC(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus("updates", healthpb.HealthCheckResponse_NOT_SERVING)

	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	go srv.Serve(lis)
	defer srv.Stop()

	tests := []struct {
		target string
		want   bool
	}{
		{target: "grpc://" + lis.Addr().String(), want: true},
		{target: "grpc://" + lis.Addr().String() + "/updates", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			p, err := New(tt.target, time.Second, nil)
			require.NoError(t, err)

			state, err := p.Fetch(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.want, state.IsConnected)
			assert.Equal(t, TypeGRPC, state.Type)
		})
	}
}
