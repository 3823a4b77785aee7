package ws

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/appshell/internal/domain/startup"
)

func TestSessionFeed(t *testing.T) {
	hub, url := setup(t, Options{})
	conn := dial(t, url)
	feed := NewSessionFeed(hub)

	_, ok := feed.Current()
	assert.False(t, ok)

	feed.Attach(startup.User{ID: "usr_1", Email: "a@example.com"})
	msg := read(t, conn)
	assert.Equal(t, TypeSession, msg.Type)
	assert.Contains(t, string(msg.Data), "usr_1")

	user, ok := feed.Current()
	require.True(t, ok)
	assert.Equal(t, "usr_1", user.ID)

	feed.Detach()
	msg = read(t, conn)
	assert.Equal(t, TypeSession, msg.Type)
	assert.Empty(t, msg.Data)

	_, ok = feed.Current()
	assert.False(t, ok)
}

func TestSessionFeedDetachWithoutUser(t *testing.T) {
	hub, url := setup(t, Options{})
	conn := dial(t, url)
	feed := NewSessionFeed(hub)

	feed.Detach()
	hub.Broadcast(TypePong, nil)

	// The first message seen is the marker, not a session message
	assert.Equal(t, TypePong, read(t, conn).Type)
}
