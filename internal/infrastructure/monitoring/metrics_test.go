package monitoring

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsAreIndependent(t *testing.T) {
	a := NewMetrics()
	b := NewMetrics()

	a.RecordUpdateCheck("available")
	assert.Equal(t, 1.0, testutil.ToFloat64(a.UpdateChecks.WithLabelValues("available")))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.UpdateChecks.WithLabelValues("available")))
}

func TestRecordStartup(t *testing.T) {
	m := NewMetrics()
	m.RecordStep("auth_wait", 200*time.Millisecond, false)
	m.RecordStep("notifications", 10*time.Millisecond, true)
	m.RecordStartup(2 * time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Ready))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StepFailures.WithLabelValues("notifications")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.StepFailures.WithLabelValues("auth_wait")))
}

func TestRecordCapturedError(t *testing.T) {
	m := NewMetrics()
	m.RecordCapturedError("OTA Update Check", false)
	m.RecordCapturedError("Global Handler", true)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ErrorsCaptured.WithLabelValues("OTA Update Check", "false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ErrorsCaptured.WithLabelValues("Global Handler", "true")))
}

func TestMiddlewareAndHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := NewMetrics()

	router := gin.New()
	router.Use(Middleware(m))
	router.GET("/startup", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.GET("/metrics", gin.WrapH(m.Handler()))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/startup", nil))
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("GET", "/startup", "200")))

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "launcher_http_requests_total"))
}

func TestTimer(t *testing.T) {
	m := NewMetrics()
	timer := NewTimer(m, "settle")
	d := timer.Stop(false)
	assert.GreaterOrEqual(t, d, time.Duration(0))

	var nilTimer = NewTimer(nil, "settle")
	nilTimer.Stop(true)
}
