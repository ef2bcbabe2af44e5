package client

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/msniranjan18/chit-call/pkg/events"
)

// Roster mirrors the server's presence pushes: the online-users snapshot sent
// on connect and every user-status-update after it.
type Roster struct {
	logger *slog.Logger

	mu       sync.RWMutex
	online   map[string]bool
	lastSeen map[string]time.Time
	onChange func(events.UserStatus)
}

func NewRoster(logger *slog.Logger) *Roster {
	return &Roster{
		logger:   logger,
		online:   make(map[string]bool),
		lastSeen: make(map[string]time.Time),
	}
}

// OnChange registers fn for every status update.
func (r *Roster) OnChange(fn func(events.UserStatus)) {
	r.mu.Lock()
	r.onChange = fn
	r.mu.Unlock()
}

// Reset replaces the online set with a server snapshot.
func (r *Roster) Reset(userIDs []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.online = make(map[string]bool, len(userIDs))
	for _, id := range userIDs {
		r.online[id] = true
	}
}

func (r *Roster) Apply(s events.UserStatus) {
	r.mu.Lock()
	if s.IsOnline {
		r.online[s.UserID] = true
	} else {
		delete(r.online, s.UserID)
		if !s.LastSeen.IsZero() {
			r.lastSeen[s.UserID] = s.LastSeen
		}
	}
	fn := r.onChange
	r.mu.Unlock()

	if fn != nil {
		fn(s)
	}
}

func (r *Roster) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.online[userID]
}

// LastSeen returns when userID was last seen going offline, if known.
func (r *Roster) LastSeen(userID string) (time.Time, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.lastSeen[userID]
	return t, ok
}

func (r *Roster) Online() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.online))
	for id := range r.online {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

func (r *Roster) Bind(s *Socket) {
	s.On(events.TypeOnlineUsers, func(env events.Envelope) {
		var p events.OnlineUsers
		if err := env.Decode(&p); err != nil {
			r.logger.Warn("Bad online-users push", "error", err)
			return
		}
		r.Reset(p.UserIDs)
	})
	s.On(events.TypeUserStatus, func(env events.Envelope) {
		var p events.UserStatus
		if err := env.Decode(&p); err != nil {
			r.logger.Warn("Bad user-status-update push", "error", err)
			return
		}
		r.Apply(p)
	})
}
