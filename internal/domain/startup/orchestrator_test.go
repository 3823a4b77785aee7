package startup

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/appshell/internal/domain/errlog"
)

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(_ context.Context, d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

type mockUpdates struct {
	mock.Mock
}

func (m *mockUpdates) CheckForUpdate(ctx context.Context) (UpdateCheck, error) {
	args := m.Called(ctx)
	return args.Get(0).(UpdateCheck), args.Error(1)
}

func (m *mockUpdates) FetchUpdate(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockUpdates) Reload() error {
	return m.Called().Error(0)
}

func (m *mockUpdates) Subscribe(onAvailable func(UpdateCheck)) func() {
	args := m.Called(onAvailable)
	return args.Get(0).(func())
}

type mockListeners struct {
	mock.Mock
}

func (m *mockListeners) Attach(user User) { m.Called(user) }
func (m *mockListeners) Detach()          { m.Called() }

type mockPrompter struct {
	mock.Mock
}

func (m *mockPrompter) PromptReload(ctx context.Context, update UpdateCheck) (ReloadChoice, error) {
	args := m.Called(ctx, update)
	return args.Get(0).(ReloadChoice), args.Error(1)
}

// fakeAuth lets tests drive auth-state callbacks by hand.
type fakeAuth struct {
	mu      sync.Mutex
	onUser  func(*User)
	onError func(error)
	removed bool
}

func (a *fakeAuth) OnStateChange(onUser func(*User), onError func(error)) func() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onUser, a.onError = onUser, onError
	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		a.removed = true
	}
}

func (a *fakeAuth) emit(u *User) {
	a.mu.Lock()
	fn := a.onUser
	a.mu.Unlock()
	fn(u)
}

func (a *fakeAuth) fail(err error) {
	a.mu.Lock()
	fn := a.onError
	a.mu.Unlock()
	fn(err)
}

type probeFunc func(ctx context.Context) (NetState, error)

func (f probeFunc) Fetch(ctx context.Context) (NetState, error) { return f(ctx) }

type fakeRegistrar struct {
	token string
	err   error
	panic bool
}

func (r *fakeRegistrar) Register(context.Context) (string, error) {
	if r.panic {
		panic("registrar exploded")
	}
	return r.token, r.err
}

func (r *fakeRegistrar) Subscribe(func(Notification), func(NotificationResponse)) Subscription {
	return nil
}

type captured struct {
	where string
	err   error
}

type recordingSink struct {
	mu      sync.Mutex
	entries []captured
}

func (s *recordingSink) Capture(where string, err error, _ bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, captured{where: where, err: err})
}

func (s *recordingSink) contexts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.where)
	}
	return out
}

var testUser = &User{ID: "user_1", Email: "ada@example.com"}

func testOptions(clock Clock) Options {
	return Options{
		SettleDelay: 500 * time.Millisecond,
		AuthMaxWait: 20 * time.Millisecond,
		MinDisplay:  2 * time.Second,
		Clock:       clock,
	}
}

func TestRunDevelopmentNeverQueriesUpdates(t *testing.T) {
	updates := new(mockUpdates)
	auth := &fakeAuth{}

	o := NewOrchestrator(testOptions(newFakeClock()), Deps{Updates: updates, Auth: auth})
	defer o.Mount(context.Background())()

	auth.emit(testUser)
	out := o.Run(context.Background())

	updates.AssertNotCalled(t, "CheckForUpdate", mock.Anything)
	updates.AssertNotCalled(t, "Subscribe", mock.Anything)
	assert.True(t, out.Ready)
	assert.Equal(t, RouteMainApp, out.Route)
}

func TestRunAppliesAvailableUpdate(t *testing.T) {
	clock := newFakeClock()
	updates := new(mockUpdates)
	probeCalled := false
	probe := probeFunc(func(context.Context) (NetState, error) {
		probeCalled = true
		return NetState{IsConnected: true}, nil
	})

	mock.InOrder(
		updates.On("CheckForUpdate", mock.Anything).Return(UpdateCheck{Available: true, UpdateID: "u2"}, nil).Once(),
		updates.On("FetchUpdate", mock.Anything).Return(nil).Once(),
		updates.On("Reload").Return(nil).Once(),
	)

	opts := testOptions(clock)
	opts.Production = true
	o := NewOrchestrator(opts, Deps{Updates: updates, Connectivity: probe})

	out := o.Run(context.Background())

	updates.AssertExpectations(t)
	assert.True(t, out.Reloading)
	assert.False(t, out.Ready)
	assert.False(t, o.State().IsReady())
	assert.False(t, probeCalled)
	assert.Empty(t, clock.Sleeps())
}

func TestRunUpdateFailuresContinue(t *testing.T) {
	tests := []struct {
		name  string
		setup func(m *mockUpdates)
	}{
		{
			name: "check fails",
			setup: func(m *mockUpdates) {
				m.On("CheckForUpdate", mock.Anything).Return(UpdateCheck{}, errors.New("503 from update server"))
			},
		},
		{
			name: "fetch fails",
			setup: func(m *mockUpdates) {
				m.On("CheckForUpdate", mock.Anything).Return(UpdateCheck{Available: true, UpdateID: "u2"}, nil)
				m.On("FetchUpdate", mock.Anything).Return(errors.New("connection reset"))
			},
		},
		{
			name: "reload fails",
			setup: func(m *mockUpdates) {
				m.On("CheckForUpdate", mock.Anything).Return(UpdateCheck{Available: true, UpdateID: "u2"}, nil)
				m.On("FetchUpdate", mock.Anything).Return(nil)
				m.On("Reload").Return(errors.New("no pending update"))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			updates := new(mockUpdates)
			tt.setup(updates)
			sink := &recordingSink{}

			opts := testOptions(newFakeClock())
			opts.Production = true
			o := NewOrchestrator(opts, Deps{Updates: updates, Errors: sink})

			out := o.Run(context.Background())

			assert.False(t, out.Reloading)
			assert.True(t, out.Ready)
			assert.Equal(t, RouteLogin, out.Route)
			assert.Equal(t, []string{ContextUpdateCheck}, sink.contexts())
		})
	}
}

func TestRunUpdateCheckErrorIsLogged(t *testing.T) {
	log, err := errlog.Open(errlog.NewMemoryStore(), errlog.DefaultCapacity)
	require.NoError(t, err)
	hook, err := errlog.Install(errlog.Options{Log: log})
	require.NoError(t, err)
	t.Cleanup(hook.Remove)

	updates := new(mockUpdates)
	updates.On("CheckForUpdate", mock.Anything).Return(UpdateCheck{}, errors.New("network unreachable"))
	updates.On("Subscribe", mock.Anything).Return(func() {})
	auth := &fakeAuth{}

	opts := testOptions(newFakeClock())
	opts.Production = true
	o := NewOrchestrator(opts, Deps{Updates: updates, Auth: auth, Errors: hook})
	defer o.Mount(context.Background())()

	auth.emit(testUser)
	out := o.Run(context.Background())

	entries := log.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "OTA Update Check", entries[0].Context)
	assert.Contains(t, entries[0].Message, "network unreachable")
	assert.Equal(t, RouteMainApp, out.Route)
	assert.True(t, out.Ready)
}

func TestRunAuthRouting(t *testing.T) {
	tests := []struct {
		name  string
		drive func(a *fakeAuth)
		want  Route
	}{
		{name: "signed in", drive: func(a *fakeAuth) { a.emit(testUser) }, want: RouteMainApp},
		{name: "signed out", drive: func(a *fakeAuth) { a.emit(nil) }, want: RouteLogin},
		{name: "never answers", drive: func(*fakeAuth) {}, want: RouteLogin},
		{name: "auth error", drive: func(a *fakeAuth) { a.fail(errors.New("keychain locked")) }, want: RouteLogin},
		{
			name: "answers during the wait",
			drive: func(a *fakeAuth) {
				go func() {
					time.Sleep(5 * time.Millisecond)
					a.emit(testUser)
				}()
			},
			want: RouteMainApp,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			auth := &fakeAuth{}
			opts := testOptions(newFakeClock())
			if tt.name == "answers during the wait" {
				opts.AuthMaxWait = time.Second
			}
			o := NewOrchestrator(opts, Deps{Auth: auth, Errors: &recordingSink{}})
			defer o.Mount(context.Background())()

			tt.drive(auth)
			out := o.Run(context.Background())

			assert.True(t, out.Ready)
			assert.Equal(t, tt.want, out.Route)
		})
	}
}

func TestRunAuthErrorIsCaptured(t *testing.T) {
	auth := &fakeAuth{}
	sink := &recordingSink{}
	o := NewOrchestrator(testOptions(newFakeClock()), Deps{Auth: auth, Errors: sink})
	defer o.Mount(context.Background())()

	auth.fail(errors.New("token revoked"))
	o.Run(context.Background())

	assert.Equal(t, []string{ContextAuthState}, sink.contexts())
	assert.True(t, o.State().Snapshot().AuthChecked)
}

func TestRunMinimumDisplay(t *testing.T) {
	tests := []struct {
		name      string
		probeTime time.Duration
		wantPaced time.Duration
		wantSleep []time.Duration
	}{
		{
			// 500ms settle + 300ms probe = 800ms elapsed
			name:      "fast launch is paced",
			probeTime: 300 * time.Millisecond,
			wantPaced: 1200 * time.Millisecond,
			wantSleep: []time.Duration{500 * time.Millisecond, 1200 * time.Millisecond},
		},
		{
			name:      "exactly at floor",
			probeTime: 1500 * time.Millisecond,
			wantPaced: 0,
			wantSleep: []time.Duration{500 * time.Millisecond},
		},
		{
			name:      "slow launch is not paced",
			probeTime: 2 * time.Second,
			wantPaced: 0,
			wantSleep: []time.Duration{500 * time.Millisecond},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := newFakeClock()
			probe := probeFunc(func(context.Context) (NetState, error) {
				clock.Advance(tt.probeTime)
				return NetState{IsConnected: true, Type: "wifi"}, nil
			})
			auth := &fakeAuth{}

			o := NewOrchestrator(testOptions(clock), Deps{Auth: auth, Connectivity: probe})
			defer o.Mount(context.Background())()
			auth.emit(nil)

			out := o.Run(context.Background())

			assert.Equal(t, tt.wantPaced, out.Paced)
			assert.Equal(t, tt.wantSleep, clock.Sleeps())
			assert.True(t, out.Online)
			assert.True(t, out.Ready)
		})
	}
}

func TestRunStepPanicsDoNotEscape(t *testing.T) {
	tests := []struct {
		name string
		deps func() Deps
		want string
	}{
		{
			name: "connectivity",
			deps: func() Deps {
				return Deps{Connectivity: probeFunc(func(context.Context) (NetState, error) {
					panic("probe exploded")
				})}
			},
			want: ContextConnectivity,
		},
		{
			name: "notifications",
			deps: func() Deps {
				return Deps{Notifications: &fakeRegistrar{panic: true}}
			},
			want: ContextNotifications,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := &recordingSink{}
			deps := tt.deps()
			deps.Errors = sink

			o := NewOrchestrator(testOptions(newFakeClock()), deps)

			var out Outcome
			require.NotPanics(t, func() { out = o.Run(context.Background()) })

			assert.True(t, out.Ready)
			assert.Equal(t, RouteLogin, out.Route)
			assert.Equal(t, []string{tt.want}, sink.contexts())
		})
	}
}

func TestRunNotificationFailureIsIgnored(t *testing.T) {
	sink := &recordingSink{}
	o := NewOrchestrator(testOptions(newFakeClock()), Deps{
		Notifications: &fakeRegistrar{err: errors.New("permission denied")},
		Errors:        sink,
	})

	out := o.Run(context.Background())

	assert.True(t, out.Ready)
	assert.Empty(t, out.PushToken)
	assert.Equal(t, []string{ContextNotifications}, sink.contexts())
}

func TestRunReturnsFirstOutcome(t *testing.T) {
	o := NewOrchestrator(testOptions(newFakeClock()), Deps{
		Notifications: &fakeRegistrar{token: "push-token"},
	})

	first := o.Run(context.Background())
	second := o.Run(context.Background())

	assert.Equal(t, "push-token", first.PushToken)
	assert.Equal(t, first, second)
}

func TestAuthListenerAfterReady(t *testing.T) {
	auth := &fakeAuth{}
	listeners := new(mockListeners)
	listeners.On("Attach", *testUser).Return()
	listeners.On("Detach").Return()

	o := NewOrchestrator(testOptions(newFakeClock()), Deps{Auth: auth, Listeners: listeners})
	unmount := o.Mount(context.Background())

	auth.emit(testUser)
	o.Run(context.Background())
	require.Equal(t, RouteMainApp, o.State().Route())

	auth.emit(nil)
	assert.Equal(t, RouteMainApp, o.State().Route())
	listeners.AssertNumberOfCalls(t, "Detach", 1)

	auth.emit(testUser)
	assert.Equal(t, RouteMainApp, o.State().Route())
	listeners.AssertNumberOfCalls(t, "Attach", 2)

	unmount()
	assert.True(t, auth.removed)
	listeners.AssertNumberOfCalls(t, "Detach", 2)
}

func TestMountIsOnce(t *testing.T) {
	updates := new(mockUpdates)
	updates.On("Subscribe", mock.Anything).Return(func() {}).Once()

	opts := testOptions(newFakeClock())
	opts.Production = true
	o := NewOrchestrator(opts, Deps{Updates: updates})

	o.Mount(context.Background())
	o.Mount(context.Background())()

	updates.AssertNumberOfCalls(t, "Subscribe", 1)
}

func TestUpdateListener(t *testing.T) {
	check := UpdateCheck{Available: true, UpdateID: "u3"}

	tests := []struct {
		name       string
		choice     ReloadChoice
		wantReload bool
	}{
		{name: "reload now", choice: ReloadNow, wantReload: true},
		{name: "later", choice: ReloadLater, wantReload: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var onAvailable func(UpdateCheck)
			updates := new(mockUpdates)
			updates.On("Subscribe", mock.Anything).Run(func(args mock.Arguments) {
				onAvailable = args.Get(0).(func(UpdateCheck))
			}).Return(func() {})
			updates.On("CheckForUpdate", mock.Anything).Return(UpdateCheck{}, nil)
			updates.On("FetchUpdate", mock.Anything).Return(nil)
			updates.On("Reload").Return(nil)

			prompter := new(mockPrompter)
			prompter.On("PromptReload", mock.Anything, check).Return(tt.choice, nil)

			opts := testOptions(newFakeClock())
			opts.Production = true
			o := NewOrchestrator(opts, Deps{Updates: updates, Prompter: prompter})
			defer o.Mount(context.Background())()

			// Before ready the sequence owns updates
			onAvailable(check)
			o.Wait()
			updates.AssertNotCalled(t, "FetchUpdate", mock.Anything)

			o.Run(context.Background())
			onAvailable(check)
			o.Wait()

			updates.AssertNumberOfCalls(t, "FetchUpdate", 1)
			prompter.AssertExpectations(t)
			if tt.wantReload {
				updates.AssertNumberOfCalls(t, "Reload", 1)
			} else {
				updates.AssertNotCalled(t, "Reload")
			}
		})
	}
}

func TestUpdateListenerFetchFailureIsCaptured(t *testing.T) {
	var onAvailable func(UpdateCheck)
	updates := new(mockUpdates)
	updates.On("Subscribe", mock.Anything).Run(func(args mock.Arguments) {
		onAvailable = args.Get(0).(func(UpdateCheck))
	}).Return(func() {})
	updates.On("CheckForUpdate", mock.Anything).Return(UpdateCheck{}, nil)
	updates.On("FetchUpdate", mock.Anything).Return(errors.New("disk full"))
	prompter := new(mockPrompter)
	sink := &recordingSink{}

	opts := testOptions(newFakeClock())
	opts.Production = true
	o := NewOrchestrator(opts, Deps{Updates: updates, Prompter: prompter, Errors: sink})
	defer o.Mount(context.Background())()

	o.Run(context.Background())
	onAvailable(UpdateCheck{Available: true, UpdateID: "u4"})
	o.Wait()

	prompter.AssertNotCalled(t, "PromptReload", mock.Anything, mock.Anything)
	assert.Equal(t, []string{ContextUpdateListener}, sink.contexts())
}

func TestRunRecordsTrace(t *testing.T) {
	o := NewOrchestrator(testOptions(newFakeClock()), Deps{
		Connectivity:  probeFunc(func(context.Context) (NetState, error) { return NetState{}, errors.New("no route") }),
		Notifications: &fakeRegistrar{token: "t"},
		Errors:        &recordingSink{},
	})
	o.Run(context.Background())

	var names []string
	var failed []string
	for _, span := range o.Trace().Spans() {
		names = append(names, span.Name)
		if span.Error != "" {
			failed = append(failed, span.Name)
		}
	}
	assert.Equal(t, []string{StepConnectivity, StepSettle, StepAuthWait, StepNotifications, StepMinDisplay}, names)
	assert.Equal(t, []string{StepConnectivity}, failed)
}
