package startup

import (
	"context"
	"time"
)

// Route is the screen the UI shell opens on.
type Route int

const (
	RouteUnset Route = iota
	RouteLogin
	RouteMainApp
)

func (r Route) String() string {
	switch r {
	case RouteLogin:
		return "Login"
	case RouteMainApp:
		return "MainApp"
	default:
		return ""
	}
}

// MarshalText encodes the route by name.
func (r Route) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// User is a signed-in account as reported by the auth service.
type User struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name,omitempty"`
}

// UpdateCheck describes the result of an OTA availability query.
type UpdateCheck struct {
	Available      bool      `json:"available"`
	UpdateID       string    `json:"update_id,omitempty"`
	RuntimeVersion string    `json:"runtime_version,omitempty"`
	CreatedAt      time.Time `json:"created_at,omitempty"`
	Message        string    `json:"message,omitempty"`
}

// NetState is the connectivity probe result.
type NetState struct {
	IsConnected bool   `json:"is_connected"`
	Type        string `json:"type,omitempty"`
}

// Notification is a push message delivered to the device.
type Notification struct {
	ID         string            `json:"id"`
	Title      string            `json:"title"`
	Body       string            `json:"body"`
	Data       map[string]string `json:"data,omitempty"`
	ReceivedAt time.Time         `json:"received_at"`
}

// NotificationResponse is the user's interaction with a notification.
type NotificationResponse struct {
	NotificationID string `json:"notification_id"`
	Action         string `json:"action"`
}

// ReloadChoice is the user's answer to an update prompt.
type ReloadChoice int

const (
	ReloadLater ReloadChoice = iota
	ReloadNow
)

func (c ReloadChoice) String() string {
	if c == ReloadNow {
		return "now"
	}
	return "later"
}

// UpdateService checks, downloads and applies OTA updates.
type UpdateService interface {
	CheckForUpdate(ctx context.Context) (UpdateCheck, error)
	FetchUpdate(ctx context.Context) error
	// Reload applies the fetched update and restarts the process. A nil
	// return means the restart has been handed off.
	Reload() error
	Subscribe(onAvailable func(UpdateCheck)) (unsubscribe func())
}

// AuthService reports session state. onUser fires at least once per launch,
// with nil when nobody is signed in.
type AuthService interface {
	OnStateChange(onUser func(*User), onError func(error)) (unsubscribe func())
}

// ErrorSink is the process-wide error handler.
type ErrorSink interface {
	Capture(where string, err error, fatal bool)
}

// Subscription is a registered listener that can be removed.
type Subscription interface {
	Remove()
}

// NotificationRegistrar registers the device for push messages.
type NotificationRegistrar interface {
	Register(ctx context.Context) (token string, err error)
	Subscribe(onReceived func(Notification), onResponse func(NotificationResponse)) Subscription
}

// ConnectivityProbe reports current reachability.
type ConnectivityProbe interface {
	Fetch(ctx context.Context) (NetState, error)
}

// DataListeners are downstream data subscriptions tied to a signed-in user.
type DataListeners interface {
	Attach(user User)
	Detach()
}

// Prompter asks the user whether to apply a downloaded update now.
type Prompter interface {
	PromptReload(ctx context.Context, update UpdateCheck) (ReloadChoice, error)
}
