// Package hub owns the live websocket connections. A single loop serializes
// connects, disconnects and inbound events; presence and call signaling run
// on top of it.
package hub

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/msniranjan18/chit-call/config"
	"github.com/msniranjan18/chit-call/pkg/events"
	"github.com/msniranjan18/chit-call/pkg/presence"
	"github.com/msniranjan18/chit-call/pkg/signaling"
)

type Options struct {
	WebSocket   config.WebSocketConfig
	RingTimeout time.Duration
	Clock       clock.Clock
}

type inbound struct {
	conn presence.Conn
	env  events.Envelope
}

type Hub struct {
	registry    *presence.Registry
	broadcaster *presence.Broadcaster
	typing      *presence.Typing
	calls       *signaling.Coordinator
	relay       *Relay
	ws          config.WebSocketConfig
	logger      *slog.Logger

	register   chan presence.Conn
	unregister chan presence.Conn
	inbound    chan inbound
	done       chan struct{}

	settling sync.WaitGroup
}

func NewHub(lastSeen presence.LastSeenWriter, opts Options, logger *slog.Logger) *Hub {
	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}

	registry := presence.NewRegistry(clk)
	return &Hub{
		registry:    registry,
		broadcaster: presence.NewBroadcaster(registry, lastSeen, logger),
		typing:      presence.NewTyping(),
		calls: signaling.NewCoordinator(registry, logger,
			signaling.WithClock(clk), signaling.WithRingTimeout(opts.RingTimeout)),
		ws:         opts.WebSocket,
		logger:     logger,
		register:   make(chan presence.Conn),
		unregister: make(chan presence.Conn),
		inbound:    make(chan inbound, 256),
		done:       make(chan struct{}),
	}
}

// SetRelay enables cross-instance delivery. Call before Run.
func (h *Hub) SetRelay(r *Relay) {
	h.relay = r
	h.broadcaster.SetPublisher(r)
}

func (h *Hub) Registry() *presence.Registry {
	return h.registry
}

func (h *Hub) Calls() *signaling.Coordinator {
	return h.calls
}

// Run processes hub events until ctx is cancelled, then ends every call and
// closes every connection.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("WebSocket hub started")
	for {
		select {
		case conn := <-h.register:
			h.broadcaster.Connected(ctx, conn)
			h.logger.Info("Client registered", "user_id", conn.UserID(), "connection", conn.ID())

		case conn := <-h.unregister:
			h.handleUnregister(ctx, conn)

		case in := <-h.inbound:
			h.handleInbound(in.conn, in.env)

		case <-ctx.Done():
			h.shutdown()
			return
		}
	}
}

// Connect registers conn. It returns false once the hub has stopped.
func (h *Hub) Connect(conn presence.Conn) bool {
	select {
	case h.register <- conn:
		return true
	case <-h.done:
		return false
	}
}

// Disconnect unregisters conn; a conn that was already replaced is ignored.
func (h *Hub) Disconnect(conn presence.Conn) {
	select {
	case h.unregister <- conn:
	case <-h.done:
	}
}

// Dispatch queues an inbound event from conn. From is overwritten with the
// connection's user.
func (h *Hub) Dispatch(conn presence.Conn, env events.Envelope) {
	env.From = conn.UserID()
	select {
	case h.inbound <- inbound{conn: conn, env: env}:
	case <-h.done:
	}
}

// Notify delivers an event to userID's connection, on this instance or, with
// a relay, on another. It reports whether the event was handed off.
func (h *Hub) Notify(ctx context.Context, userID string, t events.Type, from string, payload any) bool {
	data, err := events.Encode(t, from, payload)
	if err != nil {
		h.logger.Error("Failed to encode event", "error", err, "type", t)
		return false
	}
	if h.registry.SendTo(userID, data) {
		return true
	}
	if h.relay != nil && !h.registry.IsOnline(userID) {
		if err := h.relay.PublishTo(ctx, userID, data); err != nil {
			h.logger.Warn("Failed to relay event", "error", err, "user_id", userID, "type", t)
			return false
		}
		return true
	}
	h.logger.Debug("Event not delivered", "user_id", userID, "type", t)
	return false
}

func (h *Hub) handleUnregister(ctx context.Context, conn presence.Conn) {
	conn.Close()

	lastSeen, ok := h.broadcaster.Detach(conn)
	if !ok {
		h.logger.Debug("Ignoring disconnect of superseded connection",
			"user_id", conn.UserID(), "connection", conn.ID())
		return
	}

	userID := conn.UserID()
	h.logger.Info("Client unregistered", "user_id", userID, "connection", conn.ID())

	if n := h.calls.DropUser(userID); n > 0 {
		h.logger.Info("Ended calls of disconnected user", "user_id", userID, "calls", n)
	}
	for _, t := range h.typing.ClearUser(userID) {
		h.Notify(ctx, t.To, events.TypeTyping, userID,
			events.Typing{ConversationID: t.ConversationID, IsTyping: false})
	}

	// The last-seen write runs off the loop; Settle re-checks presence
	// before announcing the user offline.
	h.settling.Add(1)
	go func() {
		defer h.settling.Done()
		h.broadcaster.Settle(context.WithoutCancel(ctx), userID, lastSeen)
	}()
}

func (h *Hub) shutdown() {
	close(h.done)

	n := h.calls.Shutdown()
	conns := h.registry.Conns()
	for _, conn := range conns {
		conn.Close()
	}
	h.settling.Wait()

	h.logger.Info("WebSocket hub stopped", "calls_ended", n, "connections_closed", len(conns))
}

// Done is closed once the hub has stopped.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}
