package websocket

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// client is one authenticated feed connection.
type client struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	send    chan []byte
	done    chan struct{}
}

// enqueue hands payload to the writer without blocking; it reports false when the client is too slow.
func (c *client) enqueue(payload []byte) bool {
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

func (c *client) writeLoop() {
	ticker := time.NewTicker(wsPingEvery)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case payload := <-c.send:
			if err := c.wsWriteMessage(websocket.TextMessage, payload); err != nil {
				// unblock the reader
				_ = c.conn.Close()
				return
			}
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout))
			c.writeMu.Unlock()
			if err != nil {
				_ = c.conn.Close()
				return
			}
		}
	}
}

// wsWriteMessage sets a short write deadline and writes a message.
func (c *client) wsWriteMessage(mt int, payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.conn.WriteMessage(mt, payload)
}

// writeJSON marshals v and writes a single TextMessage.
func (c *client) writeJSON(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.wsWriteMessage(websocket.TextMessage, payload)
}

// writeClose sends a close control frame with the given code and reason.
func (c *client) writeClose(code int, reason string) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(wsCloseAckWindow),
	)
}
