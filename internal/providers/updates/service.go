package updates

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/appshell/internal/domain/startup"
	"github.com/GriffinCanCode/appshell/internal/infrastructure/logging"
	"github.com/GriffinCanCode/appshell/internal/shared/httpclient"
	"github.com/GriffinCanCode/appshell/internal/shared/utils"
)

var (
	ErrNotConfigured      = errors.New("update server not configured")
	ErrNoUpdate           = errors.New("no update available")
	ErrNoPendingUpdate    = errors.New("no pending update")
	ErrNoReloader         = errors.New("no reloader configured")
	ErrChecksumMismatch   = errors.New("bundle checksum mismatch")
	ErrIncompleteManifest = errors.New("manifest is missing bundle url or checksum")
)

const DefaultCheckInterval = 15 * time.Minute

// Reloader restarts the application on the given bundle directory.
type Reloader func(bundleDir string) error

// Options configures the update service.
type Options struct {
	URL            string
	Channel        string
	RuntimeVersion string
	BundleDir      string
	CheckInterval  time.Duration
	KeepBundles    int
	Reloader       Reloader
	Logger         *logging.Logger
	Client         *httpclient.Client
}

// Service checks an update server for new bundles, stages them on disk and
// hands them to the Reloader.
type Service struct {
	opts   Options
	client *httpclient.Client
	hasher *utils.Hasher
	logger *logging.Logger

	// fetchMu serializes downloads
	fetchMu sync.Mutex

	mu     sync.Mutex
	state  State
	latest *Manifest
}

// New creates the service and loads the on-disk state.
func New(opts Options) (*Service, error) {
	if opts.BundleDir == "" {
		return nil, fmt.Errorf("bundle dir is required")
	}
	if opts.CheckInterval <= 0 {
		opts.CheckInterval = DefaultCheckInterval
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}

	st, err := loadState(opts.BundleDir)
	if err != nil {
		return nil, err
	}

	client := opts.Client
	if client == nil {
		client = httpclient.New(httpclient.DefaultOptions("updates"))
	}

	return &Service{
		opts:   opts,
		client: client,
		hasher: utils.DefaultHasher(),
		logger: opts.Logger.Named("updates"),
		state:  st,
	}, nil
}

// State returns the installed and staged bundles.
func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// CurrentDir is the directory of the running bundle, or "" for the
// embedded one.
func (s *Service) CurrentDir() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Current == nil {
		return ""
	}
	return s.state.Current.Dir
}

// CheckForUpdate asks the server for the latest manifest.
func (s *Service) CheckForUpdate(ctx context.Context) (startup.UpdateCheck, error) {
	if s.opts.URL == "" {
		return startup.UpdateCheck{}, ErrNotConfigured
	}

	req, err := s.client.Request(ctx)
	if err != nil {
		return startup.UpdateCheck{}, err
	}

	var m Manifest
	resp, err := s.client.Execute(func() (*resty.Response, error) {
		return req.
			SetQueryParams(map[string]string{
				"runtime": s.opts.RuntimeVersion,
				"channel": s.opts.Channel,
			}).
			SetResult(&m).
			Get(s.opts.URL + "/manifest")
	})
	var statusErr *httpclient.StatusError
	if errors.As(err, &statusErr) && statusErr.Status == http.StatusNotFound {
		return startup.UpdateCheck{}, nil
	}
	if err != nil {
		return startup.UpdateCheck{}, fmt.Errorf("manifest request failed: %w", err)
	}
	if resp.StatusCode() == http.StatusNoContent || m.ID == "" {
		return startup.UpdateCheck{}, nil
	}

	check := startup.UpdateCheck{
		UpdateID:       m.ID,
		RuntimeVersion: m.RuntimeVersion,
		CreatedAt:      m.CreatedAt,
		Message:        m.Message,
	}

	if m.RuntimeVersion != s.opts.RuntimeVersion {
		s.logger.Info("Ignoring update for another runtime",
			zap.String("update_id", m.ID),
			zap.String("runtime_version", m.RuntimeVersion),
		)
		return check, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == s.state.currentID() {
		return check, nil
	}
	check.Available = true
	s.latest = &m
	return check, nil
}

// FetchUpdate downloads, verifies and stages the update found by the last
// CheckForUpdate.
func (s *Service) FetchUpdate(ctx context.Context) error {
	s.fetchMu.Lock()
	defer s.fetchMu.Unlock()

	s.mu.Lock()
	m := s.latest
	pending := s.state.pendingID()
	s.mu.Unlock()

	if m == nil {
		return ErrNoUpdate
	}
	if m.ID == pending {
		return nil
	}
	if m.BundleURL == "" || m.SHA256 == "" {
		return ErrIncompleteManifest
	}

	start := time.Now()
	archive := filepath.Join(s.opts.BundleDir, m.ID+downloadSuffix)
	defer os.Remove(archive)

	if err := s.download(ctx, m, archive); err != nil {
		return err
	}

	partial := filepath.Join(s.opts.BundleDir, m.ID+partialSuffix)
	os.RemoveAll(partial)
	if err := extract(ctx, archive, partial); err != nil {
		os.RemoveAll(partial)
		return err
	}
	files, size, err := verify(partial, m.Entry)
	if err != nil {
		os.RemoveAll(partial)
		return err
	}

	dir := filepath.Join(s.opts.BundleDir, m.ID)
	os.RemoveAll(dir)
	if err := os.Rename(partial, dir); err != nil {
		os.RemoveAll(partial)
		return fmt.Errorf("failed to stage bundle: %w", err)
	}

	bundle := &Bundle{
		ID:             m.ID,
		Dir:            dir,
		RuntimeVersion: m.RuntimeVersion,
		CreatedAt:      m.CreatedAt,
		Files:          files,
		Bytes:          size,
	}

	s.mu.Lock()
	next := s.state
	next.Pending = bundle
	if err := saveState(s.opts.BundleDir, next); err != nil {
		s.mu.Unlock()
		return err
	}
	s.state = next
	s.mu.Unlock()

	s.logger.Info("Update staged",
		zap.String("update_id", m.ID),
		zap.Int("files", files),
		zap.Int64("bytes", size),
		zap.Duration("duration", time.Since(start)),
	)
	return nil
}

func (s *Service) download(ctx context.Context, m *Manifest, dest string) error {
	if err := os.MkdirAll(s.opts.BundleDir, 0o755); err != nil {
		return fmt.Errorf("failed to create bundle dir: %w", err)
	}

	req, err := s.client.Request(ctx)
	if err != nil {
		return err
	}
	resp, err := s.client.Execute(func() (*resty.Response, error) {
		return req.SetDoNotParseResponse(true).Get(m.BundleURL)
	})
	if resp != nil && resp.RawBody() != nil {
		defer resp.RawBody().Close()
	}
	if err != nil {
		return fmt.Errorf("bundle download failed: %w", err)
	}

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("failed to create download file: %w", err)
	}
	digest, n, err := s.hasher.HashReader(io.TeeReader(resp.RawBody(), out))
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("bundle download failed: %w", err)
	}

	if !s.hasher.Verify(digest, m.SHA256) {
		s.logger.Warn("Bundle rejected",
			zap.String("update_id", m.ID),
			zap.String("expected", m.SHA256),
			zap.String("actual", digest),
		)
		return fmt.Errorf("%w: %s", ErrChecksumMismatch, m.ID)
	}

	s.logger.Debug("Bundle downloaded", zap.String("update_id", m.ID), zap.Int64("bytes", n))
	return nil
}

// Reload promotes the staged bundle to current and calls the Reloader.
// The promotion is persisted first, so a failed restart still picks the
// bundle up on the next launch.
func (s *Service) Reload() error {
	if s.opts.Reloader == nil {
		return ErrNoReloader
	}

	s.mu.Lock()
	if s.state.Pending == nil {
		s.mu.Unlock()
		return ErrNoPendingUpdate
	}
	next := State{Current: s.state.Pending}
	if err := saveState(s.opts.BundleDir, next); err != nil {
		s.mu.Unlock()
		return err
	}
	s.state = next
	s.latest = nil
	dir := next.Current.Dir
	id := next.Current.ID
	s.mu.Unlock()

	if removed, err := s.Prune(s.opts.KeepBundles); err != nil {
		s.logger.Warn("Bundle prune failed", zap.Error(err))
	} else if len(removed) > 0 {
		s.logger.Info("Pruned stale bundles", zap.Strings("removed", removed))
	}

	s.logger.Info("Reloading on new bundle", zap.String("update_id", id))
	if err := s.opts.Reloader(dir); err != nil {
		return fmt.Errorf("reload failed: %w", err)
	}
	return nil
}

// Prune removes stale bundle directories, keeping the newest keep besides
// the current and pending ones.
func (s *Service) Prune(keep int) ([]string, error) {
	s.mu.Lock()
	current, pending := s.state.currentID(), s.state.pendingID()
	s.mu.Unlock()
	return prune(s.opts.BundleDir, keep, current, pending)
}

// Subscribe polls the server every CheckInterval and calls onAvailable once
// per newly seen update.
func (s *Service) Subscribe(onAvailable func(startup.UpdateCheck)) (unsubscribe func()) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(s.opts.CheckInterval)
		defer ticker.Stop()

		var seen string
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			check, err := s.CheckForUpdate(ctx)
			if err != nil {
				if ctx.Err() == nil {
					s.logger.Debug("Background update check failed", zap.Error(err))
				}
				continue
			}
			if !check.Available || check.UpdateID == seen {
				continue
			}
			seen = check.UpdateID
			onAvailable(check)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}
}
