// Package presence tracks which users hold a live connection and tells every
// connected client when that changes.
package presence

import (
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/msniranjan18/chit-call/pkg/models"
)

// Conn is a live client connection as seen by the registry.
type Conn interface {
	ID() string
	UserID() string
	// Send queues data for delivery without blocking and reports whether it
	// was accepted.
	Send(data []byte) bool
	Close()
}

type session struct {
	conn        Conn
	connectedAt time.Time
}

// Registry maps a user to at most one live connection. A newer connection
// for the same user replaces the older one.
type Registry struct {
	clock clock.Clock

	mu       sync.RWMutex
	sessions map[string]*session
}

func NewRegistry(clk clock.Clock) *Registry {
	if clk == nil {
		clk = clock.New()
	}
	return &Registry{
		clock:    clk,
		sessions: make(map[string]*session),
	}
}

// Register makes conn the live connection for userID and returns the handle
// it replaced, if any, so the caller can close it.
func (r *Registry) Register(userID string, conn Conn) Conn {
	r.mu.Lock()
	defer r.mu.Unlock()

	var prev Conn
	if s, ok := r.sessions[userID]; ok && s.conn != conn {
		prev = s.conn
	}
	r.sessions[userID] = &session{conn: conn, connectedAt: r.clock.Now()}
	return prev
}

// Unregister removes the mapping for conn's user only if conn is still the
// registered handle. A late disconnect of a superseded connection is a no-op.
// It returns the disconnect time and whether a mapping was removed.
func (r *Registry) Unregister(conn Conn) (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[conn.UserID()]
	if !ok || s.conn != conn {
		return time.Time{}, false
	}
	delete(r.sessions, conn.UserID())
	return r.clock.Now(), true
}

// Snapshot returns the online user ids in sorted order.
func (r *Registry) Snapshot() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	_, ok := r.sessions[userID]
	r.mu.RUnlock()
	return ok
}

// Conn returns the live connection for userID.
func (r *Registry) Conn(userID string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[userID]
	if !ok {
		return nil, false
	}
	return s.conn, true
}

// IsCurrent reports whether conn is still the registered handle for its user.
func (r *Registry) IsCurrent(conn Conn) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[conn.UserID()]
	return ok && s.conn == conn
}

// Session describes the live session of userID.
func (r *Registry) Session(userID string) (models.ConnectedSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[userID]
	if !ok {
		return models.ConnectedSession{}, false
	}
	return models.ConnectedSession{
		UserID:       userID,
		ConnectionID: s.conn.ID(),
		ConnectedAt:  s.connectedAt,
	}, true
}

// SendTo queues data for userID's connection. It returns false when the user
// is offline or the connection refused the frame.
func (r *Registry) SendTo(userID string, data []byte) bool {
	conn, ok := r.Conn(userID)
	if !ok {
		return false
	}
	return conn.Send(data)
}

// Broadcast queues data on every live connection and returns how many
// accepted it. A connection that refuses the frame does not affect the rest.
func (r *Registry) Broadcast(data []byte) int {
	delivered := 0
	for _, conn := range r.Conns() {
		if conn.Send(data) {
			delivered++
		}
	}
	return delivered
}

// Conns returns the live connections.
func (r *Registry) Conns() []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]Conn, 0, len(r.sessions))
	for _, s := range r.sessions {
		conns = append(conns, s.conn)
	}
	return conns
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
