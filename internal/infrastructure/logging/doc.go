// Package logging provides structured logging using uber/zap.
//
// Two modes:
//   - Production: JSON output for machine parsing
//   - Development: Colored console output for human readability
//
// Components take a named child logger so every line carries its origin:
//
//	logger := logging.NewFromLevel("info", false)
//	updatesLog := logger.Named("updates")
//	updatesLog.Warn("Update check failed", zap.Error(err))
package logging
