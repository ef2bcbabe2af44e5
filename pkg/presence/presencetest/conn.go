// Package presencetest provides an in-memory presence.Conn for tests.
package presencetest

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/msniranjan18/chit-call/pkg/events"
)

// Conn records every frame sent to it.
type Conn struct {
	id     string
	userID string

	mu     sync.Mutex
	frames [][]byte
	closed bool
	refuse bool
}

func NewConn(userID string) *Conn {
	return &Conn{id: uuid.NewString(), userID: userID}
}

func (c *Conn) ID() string     { return c.id }
func (c *Conn) UserID() string { return c.userID }

func (c *Conn) Send(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.refuse {
		return false
	}
	c.frames = append(c.frames, append([]byte(nil), data...))
	return true
}

func (c *Conn) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Refuse makes Send reject every frame, like a connection with a full buffer.
func (c *Conn) Refuse() {
	c.mu.Lock()
	c.refuse = true
	c.mu.Unlock()
}

// Envelopes decodes every frame received so far.
func (c *Conn) Envelopes() []events.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]events.Envelope, 0, len(c.frames))
	for _, f := range c.frames {
		var env events.Envelope
		if err := json.Unmarshal(f, &env); err == nil {
			out = append(out, env)
		}
	}
	return out
}

// OfType returns the received envelopes of type t.
func (c *Conn) OfType(t events.Type) []events.Envelope {
	var out []events.Envelope
	for _, env := range c.Envelopes() {
		if env.Type == t {
			out = append(out, env)
		}
	}
	return out
}

// Reset forgets the frames received so far.
func (c *Conn) Reset() {
	c.mu.Lock()
	c.frames = nil
	c.mu.Unlock()
}
