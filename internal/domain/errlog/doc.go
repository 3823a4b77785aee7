/*
Package errlog keeps the local error log and the process-wide error handler.

The log is a bounded ordered sequence (50 entries by default). Every append is
persisted immediately; once over the bound the oldest entries are dropped.

The handler is installed once per process:

	hook, err := errlog.Install(errlog.Options{
		Log:        log,
		Reporter:   reporter,   // nil when no DSN is configured
		Alerter:    hub,        // blocking alert on the UI shell
		Production: cfg.IsProduction(),
	})
	defer hook.Remove()

	hook.Go("Sync", func() { ... })   // panics become captured entries
	router.Use(hook.GinRecovery())

A fatal error in development surfaces as a blocking alert; in production it
is logged and the process keeps running.
*/
package errlog
