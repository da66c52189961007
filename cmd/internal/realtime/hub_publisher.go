package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"relay/cmd/internal/presence"
	v1 "relay/shared/contracts/realtime/v1"
)

// HubPublisher adapts presence broadcasts onto the hub fanout: payloads
// published on presence topics are wrapped in protocol envelopes and
// delivered to the connected members of the room they concern.
type HubPublisher struct {
	log *slog.Logger
	hub *Hub
}

// NewHubPublisher constructs a hub-backed presence publisher.
func NewHubPublisher(log *slog.Logger, hub *Hub) *HubPublisher {
	if log == nil {
		log = slog.Default()
	}
	return &HubPublisher{log: log, hub: hub}
}

func (p *HubPublisher) Publish(_ context.Context, topic string, payload []byte) error {
	if p == nil || p.hub == nil {
		return nil
	}

	var (
		roomID string
		typ    string
	)

	switch {
	case topic == presence.TopicPresenceCount:
		var cu presence.CountUpdate
		if err := json.Unmarshal(payload, &cu); err != nil {
			return err
		}
		roomID, typ = cu.RoomID, v1.TypePresenceCount

	case strings.HasPrefix(topic, "room.") && strings.HasSuffix(topic, ".participants"):
		roomID = strings.TrimSuffix(strings.TrimPrefix(topic, "room."), ".participants")
		typ = v1.TypePresenceList

	case strings.HasPrefix(topic, "room.") && strings.HasSuffix(topic, ".messages"):
		roomID = strings.TrimSuffix(strings.TrimPrefix(topic, "room."), ".messages")
		typ = v1.TypeMessageNew

	default:
		// Not a hub-facing topic.
		return nil
	}

	room := p.hub.Room(roomID)
	if room == nil {
		// Nobody connected in this process; nothing to fan out.
		return nil
	}

	env := v1.Envelope{
		V:       v1.Version,
		Type:    typ,
		ID:      NewRandomHex(10),
		RoomID:  roomID,
		TS:      time.Now().UTC(),
		Payload: payload,
	}
	room.Broadcast(env)
	return nil
}
