package playout

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/playout-core/internal/events"
	"github.com/nerrad567/playout-core/internal/infrastructure/config"
	"github.com/nerrad567/playout-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/playout-core/internal/jobs"
	"github.com/nerrad567/playout-core/internal/lock"
	"github.com/nerrad567/playout-core/internal/playout/cache"
	"github.com/nerrad567/playout-core/internal/rundown"
	"github.com/nerrad567/playout-core/internal/showstyle"
)

// QueuePrefix prefixes the job queue of every studio.
const QueuePrefix = "playout:"

// QueueName returns the job queue that serialises a studio's playout work.
func QueueName(studioID string) string { return QueuePrefix + studioID }

// Enqueuer submits follow-up jobs such as autonext takes.
type Enqueuer interface {
	Enqueue(queueName, jobName string, payload any, opts jobs.EnqueueOptions) *jobs.Handle
}

// ShowStyleSource resolves show styles by ID. showstyle.Loader
// implements it.
type ShowStyleSource interface {
	Get(id string) (*showstyle.ShowStyle, error)
}

// TakeMetrics receives one sample per successful take.
type TakeMetrics interface {
	WriteTakeMetric(s influxdb.TakeSample)
}

// Logger is the logging interface used by the playout service.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Config holds the collaborators of a Service.
type Config struct {
	Store   rundown.Store
	Locks   cache.Locker
	Studios []config.StudioConfig

	// ShowStyles maps a studio ID to the show styles available in it.
	ShowStyles map[string]ShowStyleSource

	// Scheduler receives autonext takes. Nil disables autonext.
	Scheduler Enqueuer
	// Timeline regenerates a studio's output. Defaults to a TimelineBuilder
	// over Store.
	Timeline TimelineHook
	Events   events.Publisher
	Metrics  TakeMetrics
	Now      func() time.Time
}

// Service runs the take/next/hold state machine of every playlist.
//
// Each operation loads a PlayoutCache under the playlist lock, mutates it,
// flushes once and releases the lock. Operations for one studio are
// expected to arrive through that studio's job queue, one at a time.
type Service struct {
	store     rundown.Store
	locks     cache.Locker
	scheduler Enqueuer
	styles    map[string]ShowStyleSource
	timeline  TimelineHook
	events    events.Publisher
	metrics   TakeMetrics
	now       func() time.Time

	mu       sync.RWMutex
	settings map[string]config.StudioSettings
	logger   Logger
}

// New creates a Service.
func New(cfg Config) *Service {
	s := &Service{
		store:     cfg.Store,
		locks:     cfg.Locks,
		scheduler: cfg.Scheduler,
		styles:    cfg.ShowStyles,
		timeline:  cfg.Timeline,
		events:    cfg.Events,
		metrics:   cfg.Metrics,
		now:       cfg.Now,
		settings:  make(map[string]config.StudioSettings, len(cfg.Studios)),
		logger:    noopLogger{},
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.timeline == nil {
		s.timeline = NewTimelineBuilder(cfg.Store, s.now)
	}
	if s.events == nil {
		s.events = events.Discard{}
	}
	for _, st := range cfg.Studios {
		s.settings[st.ID] = st.Settings
	}
	return s
}

// SetLogger sets the logger.
func (s *Service) SetLogger(logger Logger) {
	s.mu.Lock()
	s.logger = logger
	s.mu.Unlock()
}

func (s *Service) getLogger() Logger {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.logger
}

// Now returns the service clock.
func (s *Service) Now() time.Time { return s.now() }

// Store returns the backing store.
func (s *Service) Store() rundown.Store { return s.store }

// Settings returns the playout settings of a studio. Unknown studios get
// the defaults.
func (s *Service) Settings(studioID string) config.StudioSettings {
	s.mu.RLock()
	st, ok := s.settings[studioID]
	s.mu.RUnlock()
	if !ok {
		st = config.StudioSettings{MinimumTakeSpanMS: 1000}
	}
	return st
}

// ShowStyle resolves a show style of a studio.
func (s *Service) ShowStyle(studioID, showStyleID string) (*showstyle.ShowStyle, error) {
	src, ok := s.styles[studioID]
	if !ok {
		return nil, fmt.Errorf("%w: studio %s has no show styles", showstyle.ErrNotFound, studioID)
	}
	return src.Get(showStyleID)
}

// RunWithCache runs fn against the playlist's PlayoutCache.
//
// The playlist lock is held from load until the flush completes. When fn
// fails nothing is written. After the lock is released the studio timeline
// is regenerated if fn requested it, deferred work runs and a
// playlist.changed event is published. The returned playlist is the
// flushed state. A timeline failure is returned alongside it: the flush
// has committed and the deferred work has still run.
func (s *Service) RunWithCache(ctx context.Context, playlistID string, fn func(ctx context.Context, c *cache.PlayoutCache) error) (*rundown.Playlist, error) {
	c, err := cache.Load(ctx, s.locks, s.store, playlistID, cache.WithNow(s.now))
	if err != nil {
		return nil, err
	}

	if err := fn(ctx, c); err != nil {
		c.Release()
		return nil, err
	}
	dirty := c.IsDirty()
	if err := c.Flush(ctx); err != nil {
		c.Release()
		return nil, err
	}
	playlist := c.Playlist()
	deferred := c.AfterRelease()
	wantTimeline := c.TimelineUpdateRequested()
	c.Release()

	var timelineErr error
	if wantTimeline {
		timelineErr = s.UpdateTimeline(ctx, playlist.StudioID, playlist.ID)
	}

	logger := s.getLogger()
	if timelineErr != nil {
		logger.Error("timeline regeneration failed after flush", "playlist_id", playlistID, "error", timelineErr)
	}
	for _, f := range deferred {
		if err := f(ctx); err != nil {
			logger.Warn("deferred playout work failed", "playlist_id", playlistID, "error", err)
		}
	}

	if dirty {
		s.events.Publish(ctx, events.Event{
			Type:       events.TypePlaylistChanged,
			StudioID:   playlist.StudioID,
			PlaylistID: playlist.ID,
			Time:       s.now(),
			Data:       playlist,
		})
	}
	return playlist, timelineErr
}

// UpdateTimeline regenerates a studio timeline under the studio lock. The
// caller must not hold any playlist lock.
func (s *Service) UpdateTimeline(ctx context.Context, studioID, playlistID string) error {
	l, err := s.locks.Acquire(ctx, lock.StudioKey(studioID))
	if err != nil {
		return fmt.Errorf("locking studio %s: %w", studioID, err)
	}
	defer l.Release()

	if err := s.timeline.UpdateTimeline(ctx, studioID, playlistID); err != nil {
		return fmt.Errorf("updating timeline of studio %s: %w", studioID, err)
	}
	return nil
}

func requireActive(c *cache.PlayoutCache) (*rundown.Playlist, error) {
	p := c.Playlist()
	if !p.IsActive() {
		return nil, ErrPlaylistNotActive
	}
	return p, nil
}
