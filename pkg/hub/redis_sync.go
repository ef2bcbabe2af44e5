package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/msniranjan18/chit-call/pkg/events"
)

const syncChannel = "chat_sync"

// relayMessage is the chat_sync payload. Target set means a frame for one
// user; Status set means a presence delta for everyone.
type relayMessage struct {
	Origin string             `json:"origin"`
	Target string             `json:"target,omitempty"`
	Frame  json.RawMessage    `json:"frame,omitempty"`
	Status *events.UserStatus `json:"status,omitempty"`
}

// Relay publishes events for users connected to other instances.
type Relay struct {
	rdb        *redis.Client
	instanceID string
	logger     *slog.Logger
}

func NewRelay(rdb *redis.Client, logger *slog.Logger) *Relay {
	return &Relay{rdb: rdb, instanceID: uuid.New().String(), logger: logger}
}

func (r *Relay) PublishTo(ctx context.Context, userID string, frame []byte) error {
	return r.publish(ctx, relayMessage{Origin: r.instanceID, Target: userID, Frame: frame})
}

func (r *Relay) PublishStatus(ctx context.Context, status events.UserStatus) error {
	return r.publish(ctx, relayMessage{Origin: r.instanceID, Status: &status})
}

func (r *Relay) publish(ctx context.Context, msg relayMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal relay message: %w", err)
	}
	return r.rdb.Publish(ctx, syncChannel, payload).Err()
}

// ListenToRedis delivers relayed events to local connections until ctx is
// cancelled. Publications from this instance are ignored.
func (h *Hub) ListenToRedis(ctx context.Context) {
	if h.relay == nil {
		return
	}

	pubsub := h.relay.rdb.Subscribe(ctx, syncChannel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	h.logger.Info("Listening for Redis Pub/Sub messages", "instance_id", h.relay.instanceID)

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			h.handleRelayed([]byte(msg.Payload))
		}
	}
}

func (h *Hub) handleRelayed(payload []byte) {
	var incoming relayMessage
	if err := json.Unmarshal(payload, &incoming); err != nil {
		h.logger.Warn("Error unmarshaling Redis message", "error", err)
		return
	}
	if h.relay != nil && incoming.Origin == h.relay.instanceID {
		return
	}

	switch {
	case incoming.Target != "":
		if h.registry.SendTo(incoming.Target, incoming.Frame) {
			h.logger.Debug("Delivered relayed event", "user_id", incoming.Target)
		}
	case incoming.Status != nil:
		h.broadcaster.DeliverRemote(*incoming.Status)
	default:
		h.logger.Warn("Ignoring empty Redis message", "origin", incoming.Origin)
	}
}
