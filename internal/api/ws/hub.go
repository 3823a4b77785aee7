package ws

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/appshell/internal/domain/startup"
	"github.com/GriffinCanCode/appshell/internal/infrastructure/logging"
	"github.com/GriffinCanCode/appshell/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/appshell/internal/shared/id"
)

// Message types sent to the shell.
const (
	TypeState           = "state"
	TypeUpdateAvailable = "update_available"
	TypeAlert           = "alert"
	TypeNotification    = "notification"
	TypePong            = "pong"
	TypeError           = "error"
)

// Message types received from the shell.
const (
	TypeUpdateResponse = "update_response"
	TypeAlertAck       = "alert_ack"
	TypePing           = "ping"
)

var ErrNoClients = errors.New("no shell connected")

const (
	DefaultPromptTimeout = 5 * time.Minute
	writeWait            = 10 * time.Second
	pongWait             = 60 * time.Second
	pingPeriod           = (pongWait * 9) / 10
	sendBuffer           = 32
	maxMessageSize       = 64 * 1024
)

// Message is the envelope for everything sent to the shell.
type Message struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	Data      any    `json:"data,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// Inbound is a message from the shell.
type Inbound struct {
	Type   string `json:"type"`
	ID     string `json:"id,omitempty"`
	Choice string `json:"choice,omitempty"`
}

// AlertPayload is the data of an alert message.
type AlertPayload struct {
	Title   string `json:"title"`
	Message string `json:"message"`
}

// Options configures a Hub.
type Options struct {
	Logger  *logging.Logger
	Metrics *monitoring.Metrics
	// PromptTimeout bounds how long an update prompt waits for an answer
	PromptTimeout time.Duration
	// Snapshot, if set, is sent as a state message to each new client
	Snapshot func() any
	// AllowOrigin checks the Origin header; nil allows all
	AllowOrigin func(origin string) bool
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.send) })
}

// Hub fans launcher events out to connected shells and collects their
// answers to update prompts and alerts.
type Hub struct {
	opts     Options
	logger   *logging.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
	waiters map[string]chan Inbound
	closed  bool
}

// NewHub creates a hub.
func NewHub(opts Options) *Hub {
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	if opts.PromptTimeout <= 0 {
		opts.PromptTimeout = DefaultPromptTimeout
	}

	h := &Hub{
		opts:    opts,
		logger:  opts.Logger.Named("ws"),
		clients: make(map[*client]struct{}),
		waiters: make(map[string]chan Inbound),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if opts.AllowOrigin == nil {
				return true
			}
			return opts.AllowOrigin(r.Header.Get("Origin"))
		},
	}
	return h
}

// HandleConnection upgrades the request and serves the client until it
// disconnects.
func (h *Hub) HandleConnection(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	cl := &client{conn: conn, send: make(chan []byte, sendBuffer)}
	if !h.register(cl) {
		conn.Close()
		return
	}
	defer h.unregister(cl)

	go h.writePump(cl)

	if h.opts.Snapshot != nil {
		h.sendTo(cl, TypeState, "", h.opts.Snapshot())
	}
	h.readPump(cl)
}

func (h *Hub) register(cl *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[cl] = struct{}{}
	if h.opts.Metrics != nil {
		h.opts.Metrics.IncWSConnections()
	}
	h.logger.Debug("Shell connected", zap.Int("clients", len(h.clients)))
	return true
}

func (h *Hub) unregister(cl *client) {
	h.mu.Lock()
	if _, ok := h.clients[cl]; ok {
		delete(h.clients, cl)
		if h.opts.Metrics != nil {
			h.opts.Metrics.DecWSConnections()
		}
	}
	h.mu.Unlock()
	cl.close()
}

func (h *Hub) readPump(cl *client) {
	cl.conn.SetReadLimit(maxMessageSize)
	cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	cl.conn.SetPongHandler(func(string) error {
		return cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := cl.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("WebSocket read error", zap.Error(err))
			}
			return
		}

		var msg Inbound
		if err := sonic.Unmarshal(data, &msg); err != nil {
			h.sendTo(cl, TypeError, "", "malformed message")
			continue
		}
		h.recordMessage("in", msg.Type)
		h.handleInbound(cl, msg)
	}
}

func (h *Hub) handleInbound(cl *client, msg Inbound) {
	switch msg.Type {
	case TypePing:
		h.sendTo(cl, TypePong, "", nil)
	case TypeUpdateResponse, TypeAlertAck:
		h.mu.Lock()
		ch, ok := h.waiters[msg.ID]
		if ok {
			delete(h.waiters, msg.ID)
		}
		h.mu.Unlock()
		if ok {
			ch <- msg
		}
	default:
		h.sendTo(cl, TypeError, "", "unknown message type")
	}
}

func (h *Hub) writePump(cl *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		cl.conn.Close()
	}()

	for {
		select {
		case data, ok := <-cl.send:
			cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				cl.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := cl.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := cl.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func encode(msgType, msgID string, data any) ([]byte, error) {
	return sonic.Marshal(Message{Type: msgType, ID: msgID, Data: data, Timestamp: time.Now().Unix()})
}

func (h *Hub) sendTo(cl *client, msgType, msgID string, data any) {
	payload, err := encode(msgType, msgID, data)
	if err != nil {
		h.logger.Error("Failed to encode message", zap.String("type", msgType), zap.Error(err))
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.deliverLocked(cl, payload)
	h.recordMessage("out", msgType)
}

// deliverLocked queues payload; a client that cannot keep up is dropped.
func (h *Hub) deliverLocked(cl *client, payload []byte) {
	if _, ok := h.clients[cl]; !ok {
		return
	}
	select {
	case cl.send <- payload:
	default:
		h.logger.Warn("Dropping slow shell client")
		delete(h.clients, cl)
		if h.opts.Metrics != nil {
			h.opts.Metrics.DecWSConnections()
		}
		cl.close()
	}
}

// Broadcast sends a message to every connected shell and returns how many
// received it.
func (h *Hub) Broadcast(msgType string, data any) int {
	return h.broadcast(msgType, "", data)
}

func (h *Hub) broadcast(msgType, msgID string, data any) int {
	payload, err := encode(msgType, msgID, data)
	if err != nil {
		h.logger.Error("Failed to encode message", zap.String("type", msgType), zap.Error(err))
		return 0
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for cl := range h.clients {
		h.deliverLocked(cl, payload)
	}
	h.recordMessage("out", msgType)
	return len(h.clients)
}

// Clients returns the number of connected shells.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ask broadcasts a message and waits for the first answer with its id.
func (h *Hub) ask(ctx context.Context, msgType string, data any) (Inbound, error) {
	msgID := id.Default().GenerateWithPrefix("msg")
	ch := make(chan Inbound, 1)

	h.mu.Lock()
	h.waiters[msgID] = ch
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.waiters, msgID)
		h.mu.Unlock()
	}()

	if h.broadcast(msgType, msgID, data) == 0 {
		return Inbound{}, ErrNoClients
	}

	select {
	case msg := <-ch:
		return msg, nil
	case <-ctx.Done():
		return Inbound{}, ctx.Err()
	}
}

// PromptReload asks the shell whether to apply a downloaded update now.
// No answer within the prompt timeout means later.
func (h *Hub) PromptReload(ctx context.Context, update startup.UpdateCheck) (startup.ReloadChoice, error) {
	ctx, cancel := context.WithTimeout(ctx, h.opts.PromptTimeout)
	defer cancel()

	msg, err := h.ask(ctx, TypeUpdateAvailable, update)
	switch {
	case errors.Is(err, ErrNoClients), errors.Is(err, context.DeadlineExceeded):
		h.logger.Info("Update prompt unanswered, deferring", zap.String("update_id", update.UpdateID))
		return startup.ReloadLater, nil
	case err != nil:
		return startup.ReloadLater, err
	}

	if msg.Choice == startup.ReloadNow.String() {
		return startup.ReloadNow, nil
	}
	return startup.ReloadLater, nil
}

// Alert shows a blocking alert on the shell and waits until it is
// dismissed or ctx ends.
func (h *Hub) Alert(ctx context.Context, title, message string) error {
	_, err := h.ask(ctx, TypeAlert, AlertPayload{Title: title, Message: message})
	return err
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for cl := range h.clients {
		delete(h.clients, cl)
		if h.opts.Metrics != nil {
			h.opts.Metrics.DecWSConnections()
		}
		cl.close()
	}
}

func (h *Hub) recordMessage(direction, msgType string) {
	if h.opts.Metrics != nil {
		h.opts.Metrics.RecordWSMessage(direction, msgType)
	}
}
