/*
Package resilience provides the circuit breaker used by outbound HTTP calls.

The launcher talks to three remote services (update server, error reporter,
push registration). None of them may hold up startup, so once a service keeps
failing the breaker opens and calls fail fast until the timeout elapses.

# Usage

	breaker := resilience.New("updates", resilience.Settings{
		Timeout: 30 * time.Second,
		ReadyToTrip: func(c resilience.Counts) bool {
			return c.ConsecutiveFailures >= 5
		},
	})

	manifest, err := resilience.Do(breaker, func() (*Manifest, error) {
		return fetchManifest(ctx)
	})

# States

	Closed --[failures]-> Open --[timeout]-> Half-Open --[successes]-> Closed
	                                           |
	                                       [failure]
	                                           v
	                                          Open
*/
package resilience
