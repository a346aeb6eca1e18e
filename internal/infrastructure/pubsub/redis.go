package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/vitos/options_signal_engine/internal/domain"
	"go.uber.org/zap"
)

// RedisPublisher sends JSON messages with PUBLISH.
type RedisPublisher struct {
	client *redis.Client
}

func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client}
}

func (p *RedisPublisher) Publish(ctx context.Context, channel string, message any) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}
	if err := p.client.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", channel, err)
	}
	return nil
}

// Fanout publishes to every target. A failing target is logged and does not stop the others.
type Fanout struct {
	targets []domain.Publisher
	logger  *zap.Logger
}

func NewFanout(logger *zap.Logger, targets ...domain.Publisher) *Fanout {
	return &Fanout{targets: targets, logger: logger}
}

// Publish returns the first error seen, after trying every target.
func (f *Fanout) Publish(ctx context.Context, channel string, message any) error {
	var first error
	for _, t := range f.targets {
		if err := t.Publish(ctx, channel, message); err != nil {
			f.logger.Warn("Publish failed", zap.String("channel", channel), zap.Error(err))
			if first == nil {
				first = err
			}
		}
	}
	return first
}
