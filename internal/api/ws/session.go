package ws

import (
	"sync"

	"github.com/GriffinCanCode/appshell/internal/domain/startup"
)

// TypeSession carries the signed-in user, or null after sign-out.
const TypeSession = "session"

// SessionFeed streams the signed-in user to connected shells. It is the
// launcher's data listener set: shells resubscribe to user data when a
// session message arrives.
type SessionFeed struct {
	hub *Hub

	mu      sync.Mutex
	current *startup.User
}

// NewSessionFeed creates a feed that broadcasts through hub.
func NewSessionFeed(hub *Hub) *SessionFeed {
	return &SessionFeed{hub: hub}
}

// Attach publishes user as the active session.
func (f *SessionFeed) Attach(user startup.User) {
	f.mu.Lock()
	f.current = &user
	f.mu.Unlock()
	f.hub.Broadcast(TypeSession, user)
}

// Detach clears the active session.
func (f *SessionFeed) Detach() {
	f.mu.Lock()
	had := f.current != nil
	f.current = nil
	f.mu.Unlock()
	if had {
		f.hub.Broadcast(TypeSession, nil)
	}
}

// Current returns the attached user, if any.
func (f *SessionFeed) Current() (startup.User, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.current == nil {
		return startup.User{}, false
	}
	return *f.current, true
}
