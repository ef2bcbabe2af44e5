package hub

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/msniranjan18/chit-call/pkg/events"
)

// Client is one websocket connection. It implements presence.Conn.
type Client struct {
	hub       *Hub
	id        string
	userID    string
	sessionID string
	conn      *websocket.Conn
	send      chan []byte

	mu     sync.Mutex
	closed bool
}

func (c *Client) ID() string        { return c.id }
func (c *Client) UserID() string    { return c.userID }
func (c *Client) SessionID() string { return c.sessionID }

// Send queues data without blocking. A full buffer or closed client refuses
// the frame.
func (c *Client) Send(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		c.hub.logger.Warn("Client send buffer full", "user_id", c.userID, "connection", c.id)
		return false
	}
}

// Close stops the write pump, which closes the socket.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// Attach registers a new client for conn and starts its pumps.
func (h *Hub) Attach(conn *websocket.Conn, userID, sessionID string) *Client {
	c := &Client{
		hub:       h,
		id:        uuid.New().String(),
		userID:    userID,
		sessionID: sessionID,
		conn:      conn,
		send:      make(chan []byte, max(h.ws.SendBuffer, 1)),
	}

	if !h.Connect(c) {
		conn.Close()
		return c
	}

	go c.WritePump()
	go c.ReadPump()

	h.logger.Info("WebSocket connection established",
		"user_id", userID, "session_id", sessionID, "connection", c.id)
	return c
}

func (c *Client) ReadPump() {
	defer func() {
		c.hub.Disconnect(c)
		c.conn.Close()
	}()

	ws := c.hub.ws
	c.conn.SetReadLimit(ws.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(ws.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(ws.PongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn("WebSocket read error", "error", err, "user_id", c.userID)
			}
			break
		}

		var env events.Envelope
		if err := json.Unmarshal(message, &env); err != nil {
			c.hub.logger.Warn("Error unmarshaling WebSocket message", "error", err, "user_id", c.userID)
			c.hub.reply(c, events.TypeError, events.Error{Code: events.CodeInvalidPayload, Message: "malformed frame"})
			continue
		}

		c.hub.Dispatch(c, env)
	}
}

// WritePump writes one frame per websocket message; clients parse each
// message as a single envelope.
func (c *Client) WritePump() {
	ws := c.hub.ws
	ticker := time.NewTicker(ws.PingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(ws.WriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(ws.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
