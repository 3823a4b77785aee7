package monitoring

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// Middleware creates a Gin middleware for metrics collection
func Middleware(metrics *Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		// Route template keeps label cardinality bounded
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metrics.RecordHTTPRequest(c.Request.Method, path, strconv.Itoa(c.Writer.Status()), time.Since(start))
	}
}

// Timer measures a startup step
type Timer struct {
	start   time.Time
	metrics *Metrics
	step    string
}

// NewTimer creates a new timer
func NewTimer(metrics *Metrics, step string) *Timer {
	return &Timer{
		start:   time.Now(),
		metrics: metrics,
		step:    step,
	}
}

// Stop records the step duration
func (t *Timer) Stop(failed bool) time.Duration {
	d := time.Since(t.start)
	if t.metrics != nil {
		t.metrics.RecordStep(t.step, d, failed)
	}
	return d
}
