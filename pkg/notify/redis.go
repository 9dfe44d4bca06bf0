package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/nicktill/dbpulse/pkg/models"
)

// RedisPublisher publishes alert events on a Redis pub/sub channel.
type RedisPublisher struct {
	rdb     *redis.Client
	channel string
}

// NewRedisPublisher connects to addr and verifies the connection with PING.
func NewRedisPublisher(ctx context.Context, addr, channel string, log *slog.Logger) (*RedisPublisher, error) {
	if log == nil {
		log = slog.Default()
	}

	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	log.Info("alert events will be published to redis", "module", "redis", "addr", addr, "channel", channel)
	return &RedisPublisher{rdb: rdb, channel: channel}, nil
}

// Notify publishes ev to the channel.
func (p *RedisPublisher) Notify(ctx context.Context, ev models.AlertEvent) error {
	data, err := Encode(ev)
	if err != nil {
		return err
	}
	if err := p.rdb.Publish(ctx, p.channel, data).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Name identifies the sink in health output.
func (p *RedisPublisher) Name() string { return "redis" }

// Check pings the server.
func (p *RedisPublisher) Check(ctx context.Context) error {
	return p.rdb.Ping(ctx).Err()
}

// Close closes the client.
func (p *RedisPublisher) Close() error {
	return p.rdb.Close()
}
