package websocket

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"pump-control/internal/general/jwt"
	"pump-control/internal/general/logger"

	"github.com/gorilla/websocket"
)

const (
	wsWriteTimeout   = 5 * time.Second
	wsCloseAckWindow = 2 * time.Second
	wsAuthWindow     = 5 * time.Second
	wsIdleTimeout    = 60 * time.Second
	wsPingEvery      = 30 * time.Second
	clientBuffer     = 32
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Monitor streams settled relay exchanges to authenticated operators and keeps the most recent ones.
type Monitor struct {
	logger *logger.Logger
	jwtMgr *jwt.Manager

	mu      sync.RWMutex
	clients map[*client]struct{}
	recent  []ExchangeSummary
	keep    int
}

// NewMonitor creates a monitor that remembers the last keep exchanges.
func NewMonitor(logger *logger.Logger, jwtMgr *jwt.Manager, keep int) *Monitor {
	if keep < 1 {
		keep = 1
	}
	return &Monitor{
		logger:  logger,
		jwtMgr:  jwtMgr,
		clients: make(map[*client]struct{}),
		keep:    keep,
	}
}

// Connect upgrades the request and serves the live feed. The first frame must be
// {"type":"auth","token":"Bearer <jwt>"} carrying an OPERATOR token.
func (ws *Monitor) Connect(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		ws.logger.Error(ctx, "websocket_upgrade_failed", "Failed to upgrade to WebSocket", err, nil)
		return
	}
	defer conn.Close()

	c := &client{conn: conn, send: make(chan []byte, clientBuffer), done: make(chan struct{})}

	// authenticate within the auth window
	conn.SetReadLimit(1 << 16)
	_ = conn.SetReadDeadline(time.Now().Add(wsAuthWindow))
	msgType, firstFrame, err := conn.ReadMessage()
	if err != nil {
		ws.logger.Error(ctx, "ws_auth_read_failed", "Failed to read auth message", err, nil)
		_ = c.writeJSON(authError("authentication timeout: please send auth message within 5 seconds"))
		return
	}
	if msgType != websocket.TextMessage {
		_ = c.writeJSON(authError("auth message must be in text format"))
		return
	}

	res, err := jwt.ValidateWSAuth(firstFrame, ws.jwtMgr, jwt.RoleOperator)
	if err != nil {
		ws.logger.Error(ctx, "ws_auth_failed", "Invalid auth message or token", err, nil)
		_ = c.writeJSON(authError("authentication failed: " + err.Error()))
		c.writeClose(websocket.ClosePolicyViolation, "unauthorized")
		return
	}
	subject := res.Claims.Subject

	if err := c.writeJSON(map[string]any{
		"type":      "auth_success",
		"success":   true,
		"subject":   subject,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}); err != nil {
		ws.logger.Error(ctx, "ws_auth_success_failed", "Failed to send auth success message", err, nil)
		return
	}

	ws.register(c)
	defer ws.unregister(c)
	ws.logger.Info(ctx, "ws_connected", "Monitor WebSocket connected", map[string]any{"subject": subject})

	// single writer: queued summaries and keepalive pings
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.writeLoop()
	}()
	defer wg.Wait()
	defer close(c.done)

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsIdleTimeout))
	})

	for {
		_ = conn.SetReadDeadline(time.Now().Add(wsIdleTimeout))
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				ws.logger.Error(ctx, "ws_unexpected_close", "Monitor connection closed unexpectedly", err,
					map[string]any{"subject": subject})
			} else {
				ws.logger.Info(ctx, "ws_connection_closed", "Monitor connection closed",
					map[string]any{"subject": subject})
			}
			c.writeClose(websocket.CloseNormalClosure, "bye")
			return
		}

		var msg struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(payload, &msg); err != nil {
			c.enqueue([]byte(`{"type":"error","error":"bad json"}`))
			continue
		}

		switch msg.Type {
		case "recent":
			b, err := json.Marshal(map[string]any{"type": "recent", "exchanges": ws.Recent()})
			if err == nil {
				c.enqueue(b)
			}
		default:
			c.enqueue([]byte(`{"type":"error","error":"unknown message type"}`))
		}
	}
}

func authError(message string) map[string]any {
	return map[string]any{"type": "auth_error", "error": message, "success": false}
}

func (ws *Monitor) register(c *client) {
	ws.mu.Lock()
	ws.clients[c] = struct{}{}
	ws.mu.Unlock()
}

func (ws *Monitor) unregister(c *client) {
	ws.mu.Lock()
	delete(ws.clients, c)
	ws.mu.Unlock()
}

// Clients reports the number of authenticated feed connections.
func (ws *Monitor) Clients() int {
	ws.mu.RLock()
	defer ws.mu.RUnlock()
	return len(ws.clients)
}
