package notifications

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/appshell/internal/domain/startup"
	"github.com/GriffinCanCode/appshell/internal/infrastructure/logging"
	"github.com/GriffinCanCode/appshell/internal/shared/httpclient"
	"github.com/GriffinCanCode/appshell/internal/shared/utils"
)

var (
	ErrDisabled            = errors.New("notifications disabled")
	ErrUnknownNotification = errors.New("unknown notification")
	ErrEmptyToken          = errors.New("registration returned no token")
)

// recentLimit bounds how many delivered notifications accept a response.
const recentLimit = 100

// Options configures a Registrar.
type Options struct {
	Enabled bool
	// URL is the push registration endpoint. Empty registers locally.
	URL              string
	InstallationPath string
	AppName          string
	Platform         string
	Logger           *logging.Logger
	Client           *httpclient.Client
	Now              func() time.Time
}

type registration struct {
	InstallationID string `json:"installation_id"`
	App            string `json:"app"`
	Platform       string `json:"platform"`
}

type registrationResponse struct {
	Token string `json:"token"`
}

type handlers struct {
	onReceived func(startup.Notification)
	onResponse func(startup.NotificationResponse)
}

// Registrar registers the installation for push messages and dispatches
// incoming notifications to subscribers.
type Registrar struct {
	opts   Options
	client *httpclient.Client
	logger *logging.Logger

	mu     sync.Mutex
	token  string
	subs   map[int]handlers
	nextID int
	recent []string
}

// New creates a registrar.
func New(opts Options) *Registrar {
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Platform == "" {
		opts.Platform = "desktop"
	}
	client := opts.Client
	if client == nil && opts.URL != "" {
		client = httpclient.New(httpclient.DefaultOptions("notifications"))
	}
	return &Registrar{
		opts:   opts,
		client: client,
		logger: opts.Logger.Named("notifications"),
		subs:   make(map[int]handlers),
	}
}

// Register ensures an installation ID and exchanges it for a push token.
func (r *Registrar) Register(ctx context.Context) (string, error) {
	if !r.opts.Enabled {
		return "", ErrDisabled
	}

	installID, err := r.installationID()
	if err != nil {
		return "", err
	}

	token := "local-" + installID
	if r.opts.URL != "" {
		token, err = r.register(ctx, installID)
		if err != nil {
			return "", err
		}
	}

	r.mu.Lock()
	r.token = token
	r.mu.Unlock()

	r.logger.Info("Registered for notifications",
		zap.String("installation_id", installID),
		zap.Bool("remote", r.opts.URL != ""),
	)
	return token, nil
}

func (r *Registrar) register(ctx context.Context, installID string) (string, error) {
	req, err := r.client.Request(ctx)
	if err != nil {
		return "", fmt.Errorf("push registration failed: %w", err)
	}

	var out registrationResponse
	_, err = r.client.Execute(func() (*resty.Response, error) {
		return req.
			SetBody(registration{InstallationID: installID, App: r.opts.AppName, Platform: r.opts.Platform}).
			SetResult(&out).
			Post(r.opts.URL)
	})
	if err != nil {
		return "", fmt.Errorf("push registration failed: %w", err)
	}
	if out.Token == "" {
		return "", ErrEmptyToken
	}
	return out.Token, nil
}

// Token returns the last registered push token.
func (r *Registrar) Token() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.token
}

// installationID reads the persisted installation ID, creating it once.
func (r *Registrar) installationID() (string, error) {
	path := r.opts.InstallationPath
	if path == "" {
		return "", fmt.Errorf("installation path not configured")
	}

	data, err := os.ReadFile(path)
	if err == nil {
		if parsed, perr := uuid.Parse(strings.TrimSpace(string(data))); perr == nil {
			return parsed.String(), nil
		}
		r.logger.Warn("Installation ID unreadable, regenerating", zap.String("path", path))
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("failed to read installation id: %w", err)
	}

	installID := uuid.NewString()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create installation dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(installID+"\n"), 0o644); err != nil {
		return "", fmt.Errorf("failed to persist installation id: %w", err)
	}
	return installID, nil
}

type subscription struct {
	once   sync.Once
	remove func()
}

func (s *subscription) Remove() {
	s.once.Do(s.remove)
}

// Subscribe registers handlers for received notifications and responses.
func (r *Registrar) Subscribe(onReceived func(startup.Notification), onResponse func(startup.NotificationResponse)) startup.Subscription {
	r.mu.Lock()
	key := r.nextID
	r.nextID++
	r.subs[key] = handlers{onReceived: onReceived, onResponse: onResponse}
	r.mu.Unlock()

	return &subscription{remove: func() {
		r.mu.Lock()
		delete(r.subs, key)
		r.mu.Unlock()
	}}
}

// Deliver validates n, stamps it and dispatches it to subscribers.
func (r *Registrar) Deliver(n startup.Notification) (startup.Notification, error) {
	if !r.opts.Enabled {
		return n, ErrDisabled
	}
	if err := utils.ValidateTitle(n.Title); err != nil {
		return n, err
	}
	if err := utils.ValidateMessage(n.Body); err != nil {
		return n, err
	}
	if err := utils.ValidateMetadata(n.Data); err != nil {
		return n, err
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if err := utils.ValidateID(n.ID, "id", true); err != nil {
		return n, err
	}
	n.ReceivedAt = r.opts.Now().UTC()

	r.mu.Lock()
	r.recent = append(r.recent, n.ID)
	if len(r.recent) > recentLimit {
		r.recent = r.recent[len(r.recent)-recentLimit:]
	}
	subs := r.handlers()
	r.mu.Unlock()

	for _, h := range subs {
		if h.onReceived != nil {
			h.onReceived(n)
		}
	}
	return n, nil
}

// Respond dispatches the user's action on a delivered notification.
func (r *Registrar) Respond(notificationID, action string) error {
	if err := utils.ValidateID(notificationID, "notification_id", true); err != nil {
		return err
	}
	if err := utils.ValidateAction(action); err != nil {
		return err
	}

	r.mu.Lock()
	known := false
	for _, nid := range r.recent {
		if nid == notificationID {
			known = true
			break
		}
	}
	subs := r.handlers()
	r.mu.Unlock()

	if !known {
		return ErrUnknownNotification
	}

	resp := startup.NotificationResponse{NotificationID: notificationID, Action: action}
	for _, h := range subs {
		if h.onResponse != nil {
			h.onResponse(resp)
		}
	}
	return nil
}

func (r *Registrar) handlers() []handlers {
	out := make([]handlers, 0, len(r.subs))
	for _, h := range r.subs {
		out = append(out, h)
	}
	return out
}
