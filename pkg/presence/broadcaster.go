package presence

import (
	"context"
	"log/slog"
	"time"

	"github.com/msniranjan18/chit-call/pkg/events"
)

// LastSeenWriter persists the time a user was last connected. A write older
// than the stored value is ignored, so settles may finish in any order.
type LastSeenWriter interface {
	UpdateUserLastSeen(ctx context.Context, userID string, lastSeen time.Time) error
}

// StatusPublisher forwards status deltas to other server instances.
type StatusPublisher interface {
	PublishStatus(ctx context.Context, status events.UserStatus) error
}

// Broadcaster owns presence transitions: it updates the registry and fans the
// result out to every connected client.
type Broadcaster struct {
	registry  *Registry
	lastSeen  LastSeenWriter
	publisher StatusPublisher
	logger    *slog.Logger
}

func NewBroadcaster(registry *Registry, lastSeen LastSeenWriter, logger *slog.Logger) *Broadcaster {
	return &Broadcaster{
		registry: registry,
		lastSeen: lastSeen,
		logger:   logger,
	}
}

// SetPublisher enables cross-instance status deltas.
func (b *Broadcaster) SetPublisher(p StatusPublisher) {
	b.publisher = p
}

func (b *Broadcaster) Registry() *Registry {
	return b.registry
}

// Connected registers conn for its user, closes the connection it replaced
// and announces the user as online.
func (b *Broadcaster) Connected(ctx context.Context, conn Conn) {
	userID := conn.UserID()
	if prev := b.registry.Register(userID, conn); prev != nil {
		b.logger.Info("Replacing stale connection",
			"user_id", userID, "old_connection", prev.ID(), "new_connection", conn.ID())
		prev.Close()
	}

	b.announce(ctx, events.UserStatus{UserID: userID, IsOnline: true})
}

// Detach removes conn from the registry if it is still current. It is the
// synchronous half of a disconnect; Settle finishes it.
func (b *Broadcaster) Detach(conn Conn) (time.Time, bool) {
	return b.registry.Unregister(conn)
}

// Settle persists lastSeen for userID and announces the user as offline,
// unless the user reconnected while the write was in flight.
func (b *Broadcaster) Settle(ctx context.Context, userID string, lastSeen time.Time) {
	if b.lastSeen != nil {
		if err := b.lastSeen.UpdateUserLastSeen(ctx, userID, lastSeen); err != nil {
			b.logger.Error("Failed to persist last seen", "error", err, "user_id", userID)
		}
	}

	if b.registry.IsOnline(userID) {
		b.logger.Debug("User reconnected before offline announcement", "user_id", userID)
		return
	}

	b.announce(ctx, events.UserStatus{UserID: userID, IsOnline: false, LastSeen: lastSeen})
}

// Disconnected runs Detach and Settle back to back. It reports false when
// conn had already been superseded.
func (b *Broadcaster) Disconnected(ctx context.Context, conn Conn) bool {
	at, ok := b.Detach(conn)
	if !ok {
		b.logger.Debug("Ignoring disconnect of superseded connection",
			"user_id", conn.UserID(), "connection", conn.ID())
		return false
	}
	b.Settle(ctx, conn.UserID(), at)
	return true
}

// DeliverRemote fans a status delta received from another instance out to
// local clients.
func (b *Broadcaster) DeliverRemote(status events.UserStatus) {
	b.broadcastStatus(status)
}

func (b *Broadcaster) announce(ctx context.Context, status events.UserStatus) {
	snapshot := b.registry.Snapshot()
	if data, err := events.Encode(events.TypeOnlineUsers, "", events.OnlineUsers{UserIDs: snapshot}); err != nil {
		b.logger.Error("Failed to encode online users", "error", err)
	} else {
		b.registry.Broadcast(data)
	}

	b.broadcastStatus(status)

	if b.publisher != nil {
		if err := b.publisher.PublishStatus(ctx, status); err != nil {
			b.logger.Warn("Failed to publish status", "error", err, "user_id", status.UserID)
		}
	}

	b.logger.Info("Presence changed",
		"user_id", status.UserID, "is_online", status.IsOnline, "online_count", len(snapshot))
}

func (b *Broadcaster) broadcastStatus(status events.UserStatus) {
	data, err := events.Encode(events.TypeUserStatus, "", status)
	if err != nil {
		b.logger.Error("Failed to encode user status", "error", err)
		return
	}
	if delivered := b.registry.Broadcast(data); delivered < b.registry.Count() {
		b.logger.Warn("Status delta not accepted by every connection",
			"user_id", status.UserID, "delivered", delivered)
	}
}
