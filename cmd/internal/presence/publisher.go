package presence

import (
	"context"
	"errors"
)

// Topic layout. presence.count is shared by every room; the per-room topics
// scope messages and roster updates to their room.
const TopicPresenceCount = "presence.count"

// TopicRoomMessages names the per-room chat message topic.
func TopicRoomMessages(roomID string) string { return "room." + roomID + ".messages" }

// TopicRoomParticipants names the per-room roster topic.
func TopicRoomParticipants(roomID string) string { return "room." + roomID + ".participants" }

// Publisher delivers presence and message payloads to observers. The hub
// implementation fans out to connected websocket clients; the Redis
// implementation feeds cross-process observers over PUB/SUB.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// MultiPublisher fans a publish out to several publishers. Every publisher
// is attempted; errors are joined.
type MultiPublisher []Publisher

func (m MultiPublisher) Publish(ctx context.Context, topic string, payload []byte) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, topic, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NopPublisher discards everything. Used when no transport is wired.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, []byte) error { return nil }
