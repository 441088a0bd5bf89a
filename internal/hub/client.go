package hub

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// sendBufferSize is the per-client outbound frame buffer size.
const sendBufferSize = 256

// writeWait is the deadline applied to every outbound write.
const writeWait = 10 * time.Second

// wsConn is the slice of *websocket.Conn the client uses.
// Tests substitute an in-memory implementation.
type wsConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadLimit(limit int64)
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Client is one connected websocket session.
//
// A client's id starts out as a pending registration token (unknown
// devices) or a known identity id; web sessions rebind their id on
// successful LOGIN.
type Client struct {
	hub  *Hub
	conn wsConn
	send chan []byte

	mu sync.RWMutex
	id string
}

// newClient wraps a connection under the given initial id.
func newClient(h *Hub, conn wsConn, id string) *Client {
	return &Client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		id:   id,
	}
}

// IdentityID returns the id the client currently speaks under.
func (c *Client) IdentityID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.id
}

// bind rebinds the client to a new id. Used when a web session logs in
// and when a pending device is approved under a durable id.
func (c *Client) bind(id string) {
	c.mu.Lock()
	c.id = id
	c.mu.Unlock()
}

// sendEvent marshals and queues an event for this client.
func (c *Client) sendEvent(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		c.hub.logger.Error("marshalling outbound event", "type", ev.Type, "error", err)
		return
	}
	c.trySend(data)
}

// trySend attempts to queue data for the client.
// It silently handles closed channels (client disconnected during
// broadcast) and full buffers (slow client).
func (c *Client) trySend(data []byte) {
	defer func() {
		recover() //nolint:errcheck // Absorb send-on-closed-channel panic
	}()

	select {
	case c.send <- data:
	default:
		// Client buffer full, skip
	}
}

// readPump reads frames from the connection and dispatches them.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(int64(c.hub.cfg.MaxMessageSize))

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "id", c.IdentityID(), "error", err)
			} else {
				c.hub.logger.Debug("websocket closed", "id", c.IdentityID())
			}
			return
		}
		c.hub.dispatch(c, message)
	}
}

// writePump drains the send channel onto the connection.
func (c *Client) writePump() {
	defer c.conn.Close()

	for message := range c.send {
		//nolint:errcheck // Best-effort deadline; write error caught below
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}

	// Hub closed the channel
	//nolint:errcheck // Best-effort close message
	c.conn.WriteMessage(websocket.CloseMessage, nil)
}
