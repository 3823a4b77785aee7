package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/appshell/internal/domain/startup"
)

type received struct {
	Type string          `json:"type"`
	ID   string          `json:"id"`
	Data json.RawMessage `json:"data"`
}

func setup(t *testing.T, opts Options) (*Hub, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	if opts.Snapshot == nil {
		opts.Snapshot = func() any { return startup.Snapshot{LoadingMessage: "Loading..."} }
	}
	hub := NewHub(opts)
	router := gin.New()
	router.GET("/stream", hub.HandleConnection)

	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http") + "/stream"
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	// The state snapshot proves the client is registered
	msg := read(t, conn)
	require.Equal(t, TypeState, msg.Type)
	return conn
}

func read(t *testing.T, conn *websocket.Conn) received {
	t.Helper()
	msg, err := readMsg(conn)
	require.NoError(t, err)
	return msg
}

// readMsg is safe to call from helper goroutines.
func readMsg(conn *websocket.Conn) (received, error) {
	var msg received
	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		return msg, err
	}
	_, data, err := conn.ReadMessage()
	if err != nil {
		return msg, err
	}
	err = sonic.Unmarshal(data, &msg)
	return msg, err
}

func answer(conn *websocket.Conn, want string, reply Inbound) {
	msg, err := readMsg(conn)
	if err != nil || msg.Type != want {
		return
	}
	reply.ID = msg.ID
	data, _ := sonic.Marshal(reply)
	conn.WriteMessage(websocket.TextMessage, data)
}

func write(t *testing.T, conn *websocket.Conn, msg Inbound) {
	t.Helper()
	data, err := sonic.Marshal(msg)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

func TestConnectSendsSnapshot(t *testing.T) {
	hub, url := setup(t, Options{})
	dial(t, url)
	assert.Equal(t, 1, hub.Clients())
}

func TestPingPong(t *testing.T) {
	_, url := setup(t, Options{})
	conn := dial(t, url)

	write(t, conn, Inbound{Type: TypePing})
	assert.Equal(t, TypePong, read(t, conn).Type)

	write(t, conn, Inbound{Type: "bogus"})
	assert.Equal(t, TypeError, read(t, conn).Type)
}

func TestBroadcast(t *testing.T) {
	hub, url := setup(t, Options{})
	a := dial(t, url)
	b := dial(t, url)

	n := hub.Broadcast(TypeNotification, startup.Notification{ID: "n1", Title: "Hi"})
	assert.Equal(t, 2, n)

	for _, conn := range []*websocket.Conn{a, b} {
		msg := read(t, conn)
		assert.Equal(t, TypeNotification, msg.Type)
		assert.Contains(t, string(msg.Data), `"n1"`)
	}
}

func TestPromptReload(t *testing.T) {
	tests := []struct {
		name   string
		choice string
		want   startup.ReloadChoice
	}{
		{name: "now", choice: "now", want: startup.ReloadNow},
		{name: "later", choice: "later", want: startup.ReloadLater},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hub, url := setup(t, Options{})
			conn := dial(t, url)

			go answer(conn, TypeUpdateAvailable, Inbound{Type: TypeUpdateResponse, Choice: tt.choice})

			choice, err := hub.PromptReload(context.Background(), startup.UpdateCheck{Available: true, UpdateID: "u2"})
			require.NoError(t, err)
			assert.Equal(t, tt.want, choice)
		})
	}
}

func TestPromptReloadDefaultsToLater(t *testing.T) {
	t.Run("no clients", func(t *testing.T) {
		hub, _ := setup(t, Options{})
		choice, err := hub.PromptReload(context.Background(), startup.UpdateCheck{UpdateID: "u2"})
		require.NoError(t, err)
		assert.Equal(t, startup.ReloadLater, choice)
	})

	t.Run("unanswered", func(t *testing.T) {
		hub, url := setup(t, Options{PromptTimeout: 50 * time.Millisecond})
		dial(t, url)

		start := time.Now()
		choice, err := hub.PromptReload(context.Background(), startup.UpdateCheck{UpdateID: "u2"})
		require.NoError(t, err)
		assert.Equal(t, startup.ReloadLater, choice)
		assert.Less(t, time.Since(start), time.Second)
	})
}

func TestAlertWaitsForAck(t *testing.T) {
	hub, url := setup(t, Options{})
	conn := dial(t, url)

	go answer(conn, TypeAlert, Inbound{Type: TypeAlertAck})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.NoError(t, hub.Alert(ctx, "Unexpected error", "disk full"))
}

func TestAlertWithoutClients(t *testing.T) {
	hub, _ := setup(t, Options{})
	assert.ErrorIs(t, hub.Alert(context.Background(), "t", "m"), ErrNoClients)
}

func TestCloseDisconnects(t *testing.T) {
	hub, url := setup(t, Options{})
	conn := dial(t, url)

	hub.Close()
	assert.Equal(t, 0, hub.Clients())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}
