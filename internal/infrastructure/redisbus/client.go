// Package redisbus publishes playout events on a Redis pub/sub channel so
// that downstream services (graphics, prompter, multiviewer) can follow a
// studio without polling the API.
package redisbus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nerrad567/playout-core/internal/infrastructure/config"
)

const defaultPingTimeout = 5 * time.Second

var (
	// ErrDisabled indicates Redis fan-out is disabled in config.
	ErrDisabled = errors.New("redisbus: disabled in configuration")

	// ErrConnectionFailed indicates the initial ping failed.
	ErrConnectionFailed = errors.New("redisbus: connection failed")

	// ErrPublishFailed indicates a publish command failed.
	ErrPublishFailed = errors.New("redisbus: publish failed")
)

// Bus publishes JSON messages on one Redis channel.
type Bus struct {
	rdb     *redis.Client
	channel string
}

// Connect creates a Bus and verifies Redis answers a ping.
func Connect(ctx context.Context, cfg config.RedisConfig) (*Bus, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	b := New(rdb, cfg.Channel)
	if err := b.HealthCheck(ctx); err != nil {
		rdb.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	return b, nil
}

// New wraps an existing client.
func New(rdb *redis.Client, channel string) *Bus {
	return &Bus{rdb: rdb, channel: channel}
}

// Channel returns the pub/sub channel name.
func (b *Bus) Channel() string {
	return b.channel
}

// Publish sends payload on the bus channel.
func (b *Bus) Publish(ctx context.Context, payload []byte) error {
	if err := b.rdb.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

// HealthCheck pings Redis.
func (b *Bus) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()
	if err := b.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}

// Close closes the underlying client.
func (b *Bus) Close() error {
	return b.rdb.Close()
}
