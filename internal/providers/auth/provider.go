package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/GriffinCanCode/appshell/internal/domain/startup"
	"github.com/GriffinCanCode/appshell/internal/infrastructure/logging"
	"github.com/GriffinCanCode/appshell/internal/shared/id"
	"github.com/GriffinCanCode/appshell/internal/shared/utils"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrEmailTaken         = errors.New("email already registered")
	ErrNotSignedIn        = errors.New("not signed in")
	ErrNotStarted         = errors.New("auth provider not started")
	ErrStoreUnavailable   = errors.New("account store unavailable")
)

// ValidationError wraps an input that failed validation.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string { return e.Err.Error() }
func (e *ValidationError) Unwrap() error { return e.Err }

const DefaultSessionTTL = 30 * 24 * time.Hour

// Options configures the provider.
type Options struct {
	Store      Store
	SessionTTL time.Duration
	// BcryptCost defaults to bcrypt.DefaultCost
	BcryptCost int
	Logger     *logging.Logger
	Now        func() time.Time
}

type listener struct {
	onUser  func(*startup.User)
	onError func(error)
}

// Provider is the local identity provider. It restores the device session on
// Start and notifies listeners on every sign-in and sign-out.
type Provider struct {
	store  Store
	ttl    time.Duration
	cost   int
	logger *logging.Logger
	now    func() time.Time

	mu        sync.Mutex
	rec       *Record
	current   *startup.User
	resolved  bool
	startErr  error
	loadErr   error
	started   bool
	listeners map[int]listener
	nextID    int
	done      chan struct{}
}

// NewProvider creates an auth provider.
func NewProvider(opts Options) *Provider {
	if opts.Store == nil {
		opts.Store = NewMemoryStore()
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = DefaultSessionTTL
	}
	if opts.BcryptCost == 0 {
		opts.BcryptCost = bcrypt.DefaultCost
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Provider{
		store:     opts.Store,
		ttl:       opts.SessionTTL,
		cost:      opts.BcryptCost,
		logger:    opts.Logger.Named("auth"),
		now:       opts.Now,
		listeners: make(map[int]listener),
		done:      make(chan struct{}),
	}
}

// Start restores the persisted session in the background. Listeners are
// notified once it resolves. Later calls are no-ops.
func (p *Provider) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	go func() {
		defer close(p.done)
		if ctx.Err() != nil {
			p.resolve(nil, ctx.Err())
			return
		}
		p.restore()
	}()
}

// Done is closed once Start has resolved the session.
func (p *Provider) Done() <-chan struct{} {
	return p.done
}

func (p *Provider) restore() {
	rec, err := p.store.Load()
	if err != nil {
		p.logger.Error("Session restore failed", zap.Error(err))
		// Writing now would replace the unreadable record with an empty one
		p.mu.Lock()
		p.loadErr = err
		p.mu.Unlock()
		p.resolve(nil, fmt.Errorf("session restore failed: %w", err))
		return
	}

	p.mu.Lock()
	p.rec = rec
	var user *startup.User
	if sess := rec.Session; sess != nil {
		if sess.Expired(p.now()) {
			p.logger.Info("Stored session expired", zap.Time("expires_at", sess.ExpiresAt))
			rec.Session = nil
		} else if acct := findByID(rec, sess.UserID); acct != nil {
			user = toUser(acct)
		}
	}
	p.mu.Unlock()

	if user != nil {
		p.logger.Info("Session restored", zap.String("user_id", user.ID))
	} else {
		p.logger.Info("No session to restore")
	}
	p.resolve(user, nil)
}

func (p *Provider) resolve(user *startup.User, err error) {
	p.mu.Lock()
	p.resolved = true
	p.current = user
	p.startErr = err
	if p.rec == nil {
		p.rec = &Record{}
	}
	ls := p.snapshotListeners()
	p.mu.Unlock()

	for _, l := range ls {
		deliver(l, user, err)
	}
}

// OnStateChange registers a listener. Once the session has resolved a new
// listener is called immediately with the current state.
func (p *Provider) OnStateChange(onUser func(*startup.User), onError func(error)) (unsubscribe func()) {
	l := listener{onUser: onUser, onError: onError}

	p.mu.Lock()
	key := p.nextID
	p.nextID++
	p.listeners[key] = l
	resolved, user, err := p.resolved, cloneUser(p.current), p.startErr
	p.mu.Unlock()

	if resolved {
		deliver(l, user, err)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.listeners, key)
			p.mu.Unlock()
		})
	}
}

func deliver(l listener, user *startup.User, err error) {
	if err != nil {
		if l.onError != nil {
			l.onError(err)
		}
		return
	}
	if l.onUser != nil {
		l.onUser(cloneUser(user))
	}
}

// SignUp creates an account and signs it in.
func (p *Provider) SignUp(email, password, displayName string) (*startup.User, *Session, error) {
	email = normalizeEmail(email)
	if err := utils.ValidateEmail(email, true); err != nil {
		return nil, nil, &ValidationError{Err: err}
	}
	if err := utils.ValidatePassword(password); err != nil {
		return nil, nil, &ValidationError{Err: err}
	}
	if err := utils.ValidateDisplayName(displayName); err != nil {
		return nil, nil, &ValidationError{Err: err}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), p.cost)
	if err != nil {
		return nil, nil, fmt.Errorf("password hashing failed: %w", err)
	}

	p.mu.Lock()
	if err := p.readyLocked(); err != nil {
		p.mu.Unlock()
		return nil, nil, err
	}
	if findByEmail(p.rec, email) != nil {
		p.mu.Unlock()
		return nil, nil, ErrEmailTaken
	}

	acct := account{
		ID:           id.NewUserID().String(),
		Email:        email,
		DisplayName:  displayName,
		PasswordHash: string(hash),
		CreatedAt:    p.now(),
	}
	next := cloneRecord(p.rec)
	next.Accounts = append(next.Accounts, acct)
	sess := p.newSession(acct.ID)
	next.Session = sess

	if err := p.store.Save(next); err != nil {
		p.mu.Unlock()
		return nil, nil, fmt.Errorf("failed to persist account: %w", err)
	}
	p.rec = next
	user := toUser(&acct)
	p.mu.Unlock()

	p.logger.Info("Account created", zap.String("user_id", acct.ID))
	p.setCurrent(user)
	return cloneUser(user), sess, nil
}

// SignIn verifies credentials and replaces the device session.
func (p *Provider) SignIn(email, password string) (*startup.User, *Session, error) {
	email = normalizeEmail(email)
	// Validation details are not revealed on sign-in
	if utils.ValidateEmail(email, true) != nil || utils.ValidatePassword(password) != nil {
		return nil, nil, ErrInvalidCredentials
	}

	p.mu.Lock()
	if err := p.readyLocked(); err != nil {
		p.mu.Unlock()
		return nil, nil, err
	}
	acct := findByEmail(p.rec, email)
	p.mu.Unlock()

	if acct == nil {
		return nil, nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(acct.PasswordHash), []byte(password)); err != nil {
		return nil, nil, ErrInvalidCredentials
	}

	p.mu.Lock()
	next := cloneRecord(p.rec)
	sess := p.newSession(acct.ID)
	next.Session = sess
	if err := p.store.Save(next); err != nil {
		p.mu.Unlock()
		return nil, nil, fmt.Errorf("failed to persist session: %w", err)
	}
	p.rec = next
	p.mu.Unlock()

	user := toUser(acct)
	p.logger.Info("Signed in", zap.String("user_id", user.ID))
	p.setCurrent(user)
	return cloneUser(user), sess, nil
}

// SignOut ends the device session.
func (p *Provider) SignOut() error {
	p.mu.Lock()
	if err := p.readyLocked(); err != nil {
		p.mu.Unlock()
		return err
	}
	if p.rec.Session == nil {
		p.mu.Unlock()
		return ErrNotSignedIn
	}
	next := cloneRecord(p.rec)
	next.Session = nil
	if err := p.store.Save(next); err != nil {
		p.mu.Unlock()
		return fmt.Errorf("failed to clear session: %w", err)
	}
	p.rec = next
	p.mu.Unlock()

	p.logger.Info("Signed out")
	p.setCurrent(nil)
	return nil
}

// CurrentUser returns the signed-in user, if any.
func (p *Provider) CurrentUser() (*startup.User, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return nil, false
	}
	return cloneUser(p.current), true
}

func (p *Provider) setCurrent(user *startup.User) {
	p.mu.Lock()
	p.current = user
	p.startErr = nil
	ls := p.snapshotListeners()
	p.mu.Unlock()

	for _, l := range ls {
		deliver(l, user, nil)
	}
}

func (p *Provider) readyLocked() error {
	if !p.resolved || p.rec == nil {
		return ErrNotStarted
	}
	if p.loadErr != nil {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, p.loadErr)
	}
	return nil
}

func (p *Provider) snapshotListeners() []listener {
	out := make([]listener, 0, len(p.listeners))
	for _, l := range p.listeners {
		out = append(out, l)
	}
	return out
}

func (p *Provider) newSession(userID string) *Session {
	now := p.now()
	return &Session{
		Token:     generateToken(),
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(p.ttl),
	}
}

func findByEmail(rec *Record, email string) *account {
	for i := range rec.Accounts {
		if rec.Accounts[i].Email == email {
			acct := rec.Accounts[i]
			return &acct
		}
	}
	return nil
}

func findByID(rec *Record, userID string) *account {
	for i := range rec.Accounts {
		if rec.Accounts[i].ID == userID {
			acct := rec.Accounts[i]
			return &acct
		}
	}
	return nil
}

func toUser(acct *account) *startup.User {
	return &startup.User{ID: acct.ID, Email: acct.Email, DisplayName: acct.DisplayName}
}

func cloneUser(u *startup.User) *startup.User {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func generateToken() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		// Never fall back to weak randomness for session tokens
		panic(fmt.Sprintf("crypto/rand failed: %v - cannot generate secure token", err))
	}
	return base64.URLEncoding.EncodeToString(b)
}
