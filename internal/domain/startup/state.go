package startup

import (
	"context"
	"sync"
	"time"
)

// Snapshot is a point-in-time copy of the startup state.
type Snapshot struct {
	Ready          bool   `json:"ready"`
	InitialRoute   Route  `json:"initial_route"`
	LoadingMessage string `json:"loading_message"`
	AuthChecked    bool   `json:"auth_checked"`
}

// State is owned by the orchestrator. The route is set at most once and
// ready flips false to true exactly once; after that the state is frozen.
type State struct {
	// notifyMu orders mutations together with their deliveries; mu guards
	// the fields and is never held while subscribers run.
	notifyMu sync.Mutex
	mu       sync.Mutex

	ready       bool
	route       Route
	message     string
	authChecked bool

	authCh  chan struct{}
	readyCh chan struct{}

	subs    map[int]func(Snapshot)
	nextSub int
}

// NewState returns the initial state.
func NewState() *State {
	return &State{
		message: "Loading...",
		authCh:  make(chan struct{}),
		readyCh: make(chan struct{}),
		subs:    make(map[int]func(Snapshot)),
	}
}

// SetRoute records r if no route is set yet and the state is not ready.
// It reports whether r was taken.
func (s *State) SetRoute(r Route) bool {
	if r == RouteUnset {
		return false
	}
	return s.update(func() bool {
		if s.ready || s.route != RouteUnset {
			return false
		}
		s.route = r
		return true
	})
}

// MarkAuthChecked records that the auth service has answered and wakes
// any waiter.
func (s *State) MarkAuthChecked() {
	s.update(func() bool {
		if s.authChecked {
			return false
		}
		s.authChecked = true
		close(s.authCh)
		return true
	})
}

// WaitAuth blocks until the auth service has answered, max elapses or ctx
// ends. It reports whether auth was checked.
func (s *State) WaitAuth(ctx context.Context, max time.Duration) bool {
	timer := time.NewTimer(max)
	defer timer.Stop()

	select {
	case <-s.authCh:
		return true
	case <-timer.C:
	case <-ctx.Done():
	}

	// Answer may have landed together with the deadline
	select {
	case <-s.authCh:
		return true
	default:
		return false
	}
}

// SetMessage updates the loading message; ignored once ready.
func (s *State) SetMessage(msg string) {
	s.update(func() bool {
		if s.ready || s.message == msg {
			return false
		}
		s.message = msg
		return true
	})
}

// MarkReady flips ready. Only the first call returns true.
func (s *State) MarkReady() bool {
	return s.update(func() bool {
		if s.ready {
			return false
		}
		s.ready = true
		close(s.readyCh)
		return true
	})
}

// update applies fn under the state lock and, when fn reports a change,
// delivers the resulting snapshot. Deliveries are serialized in mutation
// order so subscribers never see an older snapshot after a newer one.
func (s *State) update(fn func() bool) bool {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	if !fn() {
		s.mu.Unlock()
		return false
	}
	snap, subs := s.snapshotLocked()
	s.mu.Unlock()

	notify(subs, snap)
	return true
}

// Snapshot returns the current state.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, _ := s.snapshotLocked()
	return snap
}

// IsReady reports whether the UI may render.
func (s *State) IsReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

// Route returns the decided route, or RouteUnset.
func (s *State) Route() Route {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.route
}

// Ready is closed once the state becomes ready.
func (s *State) Ready() <-chan struct{} {
	return s.readyCh
}

// Subscribe calls fn on every change, in order. fn runs outside the state
// lock but holds up other mutators, so it must not block or mutate the
// state.
func (s *State) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	s.mu.Lock()
	key := s.nextSub
	s.nextSub++
	s.subs[key] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, key)
			s.mu.Unlock()
		})
	}
}

func (s *State) snapshotLocked() (Snapshot, []func(Snapshot)) {
	snap := Snapshot{
		Ready:          s.ready,
		InitialRoute:   s.route,
		LoadingMessage: s.message,
		AuthChecked:    s.authChecked,
	}
	subs := make([]func(Snapshot), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	return snap, subs
}

func notify(subs []func(Snapshot), snap Snapshot) {
	for _, fn := range subs {
		fn(snap)
	}
}
