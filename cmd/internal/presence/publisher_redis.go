package presence

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

// RedisPublisher mirrors presence traffic onto Redis PUB/SUB channels so
// observers outside this process can follow counts and rosters. Channel
// names are the presence topics verbatim.
type RedisPublisher struct {
	client *redis.Client
}

// NewRedisPublisher constructs a Redis-backed publisher.
func NewRedisPublisher(client *redis.Client) (*RedisPublisher, error) {
	if client == nil {
		return nil, errors.New("presence: nil redis client")
	}
	return &RedisPublisher{client: client}, nil
}

func (p *RedisPublisher) Publish(ctx context.Context, topic string, payload []byte) error {
	return p.client.Publish(ctx, topic, payload).Err()
}
