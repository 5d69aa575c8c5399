package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nerrad567/playout-core/internal/infrastructure/mqtt"
)

// MQTTPublisher is the part of the MQTT client used by MQTTSink.
type MQTTPublisher interface {
	PublishRetained(topic string, payload []byte) error
	PublishEvent(topic string, payload []byte) error
}

// MQTTSink publishes playlist snapshots as retained state and everything
// else as studio events.
type MQTTSink struct {
	client MQTTPublisher
	topics mqtt.Topics
}

// NewMQTTSink creates an MQTTSink.
func NewMQTTSink(client MQTTPublisher) *MQTTSink {
	return &MQTTSink{client: client}
}

// Name implements Sink.
func (s *MQTTSink) Name() string { return "mqtt" }

// Send implements Sink.
func (s *MQTTSink) Send(_ context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding %s event: %w", e.Type, err)
	}
	if e.Type == TypePlaylistChanged && e.PlaylistID != "" {
		return s.client.PublishRetained(s.topics.PlaylistState(e.StudioID, e.PlaylistID), payload)
	}
	return s.client.PublishEvent(s.topics.StudioEvent(e.StudioID, e.Type), payload)
}

// RedisPublisher is the part of redisbus.Bus used by RedisSink.
type RedisPublisher interface {
	Publish(ctx context.Context, payload []byte) error
}

// RedisSink publishes every event as JSON on the bus channel.
type RedisSink struct {
	bus RedisPublisher
}

// NewRedisSink creates a RedisSink.
func NewRedisSink(bus RedisPublisher) *RedisSink {
	return &RedisSink{bus: bus}
}

// Name implements Sink.
func (s *RedisSink) Name() string { return "redis" }

// Send implements Sink.
func (s *RedisSink) Send(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding %s event: %w", e.Type, err)
	}
	return s.bus.Publish(ctx, payload)
}
