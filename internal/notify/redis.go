package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const (
	channelUpdates      = "billing:updates"
	channelTerminations = "billing:terminations"
)

// RedisSink publishes billing events as JSON on redis pub/sub channels.
// Fire-and-forget: subscribers that are offline miss events, which is
// acceptable for the best-effort notification contract.
type RedisSink struct {
	rdb *redis.Client
}

func NewRedisSink(rdb *redis.Client) *RedisSink {
	return &RedisSink{rdb: rdb}
}

func (s *RedisSink) BillingUpdated(ctx context.Context, ev BillingUpdate) error {
	return s.publish(ctx, channelUpdates, ev)
}

func (s *RedisSink) CallEnded(ctx context.Context, ev CallEnded) error {
	return s.publish(ctx, channelTerminations, ev)
}

func (s *RedisSink) publish(ctx context.Context, channel string, ev any) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", channel, err)
	}
	if err := s.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", channel, err)
	}
	return nil
}
