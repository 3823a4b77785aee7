/*
Package monitoring provides Prometheus metrics for the launcher.

Tracked:
  - shell API requests (count, latency)
  - startup duration and per-step duration/failures
  - update checks by result
  - errors captured by the global handler, reporter outcomes
  - WebSocket connections and messages

# Usage

	metrics := monitoring.NewMetrics()
	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(metrics.Handler()))
*/
package monitoring
