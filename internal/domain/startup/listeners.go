package startup

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// handleUser is the auth-state callback. Before ready it decides the route
// (first writer wins); after ready it only toggles the data listeners.
func (o *Orchestrator) handleUser(u *User) {
	if !o.state.IsReady() {
		route := RouteLogin
		if u != nil {
			route = RouteMainApp
		}
		if o.state.SetRoute(route) {
			o.logger.Info("Initial route decided", zap.Stringer("route", route))
		}
		o.state.MarkAuthChecked()
		if u != nil && o.deps.Listeners != nil {
			o.deps.Listeners.Attach(*u)
		}
		return
	}

	if o.deps.Listeners == nil {
		return
	}
	if u == nil {
		o.logger.Info("Signed out, detaching data listeners")
		o.deps.Listeners.Detach()
		return
	}
	o.logger.Info("Signed in, attaching data listeners", zap.String("user_id", u.ID))
	o.deps.Listeners.Attach(*u)
}

func (o *Orchestrator) handleAuthError(err error) {
	o.deps.Errors.Capture(ContextAuthState, err, false)
	o.state.SetRoute(RouteLogin)
	o.state.MarkAuthChecked()
}

// handleUpdateAvailable reacts to updates published while the app runs.
// Events before ready are left to the sequence's own check.
func (o *Orchestrator) handleUpdateAvailable(check UpdateCheck) {
	if !o.state.IsReady() || o.bgCtx == nil {
		return
	}
	if !o.updating.CompareAndSwap(false, true) {
		o.logger.Debug("Update already in progress", zap.String("update_id", check.UpdateID))
		return
	}

	o.bg.Add(1)
	go func() {
		defer o.bg.Done()
		defer o.updating.Store(false)
		defer func() {
			if r := recover(); r != nil {
				o.deps.Errors.Capture(ContextUpdateListener, fmt.Errorf("panic: %v", r), false)
			}
		}()

		if err := o.applyUpdate(o.bgCtx, check); err != nil {
			o.deps.Errors.Capture(ContextUpdateListener, err, false)
		}
	}()
}

func (o *Orchestrator) applyUpdate(ctx context.Context, check UpdateCheck) error {
	o.logger.Info("Update published, fetching", zap.String("update_id", check.UpdateID))
	if err := o.deps.Updates.FetchUpdate(ctx); err != nil {
		return fmt.Errorf("update fetch failed: %w", err)
	}
	if o.deps.Prompter == nil {
		o.logger.Info("Update staged for next launch", zap.String("update_id", check.UpdateID))
		return nil
	}

	choice, err := o.deps.Prompter.PromptReload(ctx, check)
	if err != nil {
		return fmt.Errorf("reload prompt failed: %w", err)
	}
	o.logger.Info("Reload prompt answered", zap.Stringer("choice", choice))
	if choice != ReloadNow {
		return nil
	}
	if err := o.deps.Updates.Reload(); err != nil {
		return fmt.Errorf("update reload failed: %w", err)
	}
	return nil
}

func (o *Orchestrator) handleNotification(n Notification) {
	o.logger.Info("Notification received", zap.String("notification_id", n.ID), zap.String("title", n.Title))
	if o.deps.OnNotification != nil {
		o.deps.OnNotification(n)
	}
}

func (o *Orchestrator) handleNotificationResponse(r NotificationResponse) {
	o.logger.Info("Notification response", zap.String("notification_id", r.NotificationID), zap.String("action", r.Action))
	if o.deps.OnNotificationResponse != nil {
		o.deps.OnNotificationResponse(r)
	}
}

// Wait blocks until background update work has finished.
func (o *Orchestrator) Wait() {
	o.bg.Wait()
}
