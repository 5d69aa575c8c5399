// Package events fans playout state changes out to external subscribers:
// MQTT tally panels, Redis consumers and WebSocket clients.
//
// Publishing never fails the caller. A sink that errors is logged and the
// remaining sinks still receive the event.
package events

import (
	"context"
	"sync"
	"time"
)

// Event types.
const (
	// TypePlaylistChanged carries a playlist snapshot after a job changed it.
	TypePlaylistChanged = "playlist.changed"
	// TypeTake is emitted once per successful take.
	TypeTake = "take"
	// TypeJobCompleted is emitted by the API when a submitted job resolves.
	TypeJobCompleted = "job.completed"
)

// Event is one message delivered to every sink.
type Event struct {
	Type       string    `json:"type"`
	StudioID   string    `json:"studio_id"`
	PlaylistID string    `json:"playlist_id,omitempty"`
	Time       time.Time `json:"time"`
	Data       any       `json:"data,omitempty"`
}

// Publisher accepts events.
type Publisher interface {
	Publish(ctx context.Context, e Event)
}

// Sink delivers events to one transport.
type Sink interface {
	Name() string
	Send(ctx context.Context, e Event) error
}

// Logger is the logging interface used by the fan-out.
type Logger interface {
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any) {}

// Fanout publishes each event to every registered sink in order.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Fanout struct {
	mu     sync.RWMutex
	sinks  []Sink
	logger Logger
}

// NewFanout creates a Fanout over sinks.
func NewFanout(sinks ...Sink) *Fanout {
	return &Fanout{sinks: sinks, logger: noopLogger{}}
}

// SetLogger sets the logger for sink failures.
func (f *Fanout) SetLogger(logger Logger) {
	f.mu.Lock()
	f.logger = logger
	f.mu.Unlock()
}

// Add registers another sink.
func (f *Fanout) Add(s Sink) {
	f.mu.Lock()
	f.sinks = append(f.sinks, s)
	f.mu.Unlock()
}

// Publish implements Publisher.
func (f *Fanout) Publish(ctx context.Context, e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	f.mu.RLock()
	sinks := f.sinks
	logger := f.logger
	f.mu.RUnlock()

	for _, s := range sinks {
		if err := s.Send(ctx, e); err != nil {
			logger.Warn("event delivery failed",
				"sink", s.Name(),
				"type", e.Type,
				"studio_id", e.StudioID,
				"error", err,
			)
		}
	}
}

// Discard drops every event.
type Discard struct{}

// Publish implements Publisher.
func (Discard) Publish(context.Context, Event) {}
