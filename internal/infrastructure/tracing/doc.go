/*
Package tracing records a per-launch timeline of startup steps.

Each launch gets a Trace; each step opens a Span and finishes it when done.
Finished spans are logged and kept in memory so the shell API can show where
startup time went.

	trace := tracing.New(id.NewLaunchID(), logger)
	span := trace.StartSpan("update_check")
	span.SetError(err)
	span.Finish()
*/
package tracing
