/*
Package startup runs the launch sequence that decides the initial route and
flips the ready flag gating the UI shell.

The sequence is strictly ordered and every step is non-fatal:

 1. OTA update check (production only). An applied update reloads the
    process and ends the run.
 2. Connectivity probe, a hint for the logs.
 3. Settle delay.
 4. Bounded wait for the auth service; an undecided route becomes Login.
 5. Notification registration, best effort.
 6. Minimum display time so the loading gate does not flash.
 7. Ready.

Two listeners run beside the sequence. The auth listener decides the route
(first writer wins) and, after ready, attaches or detaches the user's data
listeners. The update listener fetches updates published after ready and asks
the Prompter whether to reload now.

	orch := startup.NewOrchestrator(opts, deps)
	unmount := orch.Mount(ctx)
	defer unmount()
	outcome := orch.Run(ctx)
*/
package startup
