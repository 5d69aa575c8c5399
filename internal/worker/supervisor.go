package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Status represents the current state of a supervised dispatch loop.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusFailed   Status = "failed"
)

// maxConsecutiveFailures is how many failed health checks mark a loop frozen.
const maxConsecutiveFailures = 3

// Rejecter fails the running jobs of abandoned loops.
type Rejecter interface {
	RejectRunning(queueNames ...string) int
}

// LockReleaser force-releases the locks held by an abandoned loop.
type LockReleaser interface {
	ReleaseOwner(owner string) []string
}

// Config holds configuration for a supervised dispatch loop.
type Config struct {
	// Queue is the queue the loop consumes.
	Queue string

	Source   Source
	Rejecter Rejecter
	Locks    LockReleaser
	Handlers *Registry
	Metrics  MetricsSink

	// RestartDelay is the time to wait before restarting after a failure.
	RestartDelay time.Duration

	// MaxRestartAttempts limits restart attempts. 0 means unlimited.
	MaxRestartAttempts int

	// FreezeTimeout is how long a single job may run before the health
	// check reports the loop as frozen.
	FreezeTimeout time.Duration

	// HealthCheckInterval is how often the running job's age is checked.
	HealthCheckInterval time.Duration

	// OnStart is called each time a loop generation starts.
	OnStart func()

	// OnStop is called when a loop generation ends.
	OnStop func(err error)

	// OnRestart is called before each restart attempt.
	OnRestart func(attempt int)
}

// Supervisor runs a dispatch loop and replaces it when it crashes or
// freezes. A replaced loop's running jobs are failed and its locks revoked,
// so the new generation can take over the same shows.
type Supervisor struct {
	config Config
	logger Logger
	now    func() time.Time

	mu           sync.RWMutex
	status       Status
	loop         *Loop
	generation   int
	restartCount int
	lastError    error
	startTime    time.Time
}

// NewSupervisor creates a supervisor with the given configuration.
func NewSupervisor(cfg Config) *Supervisor {
	if cfg.RestartDelay == 0 {
		cfg.RestartDelay = time.Second
	}
	if cfg.FreezeTimeout == 0 {
		cfg.FreezeTimeout = 30 * time.Second
	}
	if cfg.HealthCheckInterval == 0 {
		cfg.HealthCheckInterval = 5 * time.Second
	}
	if cfg.Handlers == nil {
		cfg.Handlers = NewRegistry()
	}

	return &Supervisor{
		config: cfg,
		logger: noopLogger{},
		now:    time.Now,
		status: StatusStopped,
	}
}

// SetLogger sets the logger for the supervisor and its loops.
func (s *Supervisor) SetLogger(logger Logger) {
	s.logger = logger
}

// Run blocks, running loop generations until ctx is cancelled, the
// scheduler closes, or restart attempts are exhausted.
func (s *Supervisor) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.status == StatusRunning || s.status == StatusStarting {
		s.mu.Unlock()
		return fmt.Errorf("dispatch loop %s is already running", s.config.Queue)
	}
	s.status = StatusStarting
	s.mu.Unlock()

	for {
		err := s.runGeneration(ctx)

		if ctx.Err() != nil || err == nil {
			s.setStatus(StatusStopped)
			s.logger.Info("dispatch loop stopped", "queue", s.config.Queue)
			if s.config.OnStop != nil {
				s.config.OnStop(nil)
			}
			return nil
		}

		s.logger.Warn("dispatch loop failed", "queue", s.config.Queue, "error", err)

		s.mu.Lock()
		s.lastError = err
		s.status = StatusFailed
		s.restartCount++
		attempt := s.restartCount
		s.mu.Unlock()

		if s.config.OnStop != nil {
			s.config.OnStop(err)
		}

		if s.config.MaxRestartAttempts > 0 && attempt > s.config.MaxRestartAttempts {
			s.logger.Error("max restart attempts reached", "queue", s.config.Queue, "attempts", attempt)
			return fmt.Errorf("dispatch loop %s: %w", s.config.Queue, err)
		}

		s.logger.Info("restarting dispatch loop",
			"queue", s.config.Queue,
			"attempt", attempt,
			"delay", s.config.RestartDelay,
		)
		if s.config.OnRestart != nil {
			s.config.OnRestart(attempt)
		}

		select {
		case <-ctx.Done():
			s.setStatus(StatusStopped)
			return nil
		case <-time.After(s.config.RestartDelay):
		}
	}
}

// runGeneration runs one loop until it exits, panics or freezes. A nil
// return means a clean stop.
func (s *Supervisor) runGeneration(ctx context.Context) error {
	s.mu.Lock()
	s.generation++
	owner := fmt.Sprintf("%s#%d", s.config.Queue, s.generation)
	loop := NewLoop(LoopConfig{
		Queue:    s.config.Queue,
		Owner:    owner,
		Source:   s.config.Source,
		Handlers: s.config.Handlers,
		Metrics:  s.config.Metrics,
		Logger:   s.logger,
		Now:      s.now,
	})
	s.loop = loop
	s.status = StatusRunning
	s.startTime = s.now()
	s.mu.Unlock()

	s.logger.Info("dispatch loop started", "queue", s.config.Queue, "owner", owner)
	if s.config.OnStart != nil {
		s.config.OnStart()
	}

	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	exitCh := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				exitCh <- fmt.Errorf("%w: %v", ErrLoopPanicked, r)
			}
		}()
		exitCh <- loop.Run(loopCtx)
	}()

	err := s.waitForExitOrFreeze(ctx, loop, exitCh)
	if err == nil || ctx.Err() != nil {
		return nil
	}

	// The old goroutine may still be stuck inside a handler. Cut it off from
	// its jobs and locks; any late Complete it makes is dropped.
	cancel()
	if s.config.Rejecter != nil {
		if n := s.config.Rejecter.RejectRunning(s.config.Queue); n > 0 {
			s.logger.Warn("aborted running jobs", "queue", s.config.Queue, "count", n)
		}
	}
	if s.config.Locks != nil {
		if keys := s.config.Locks.ReleaseOwner(owner); len(keys) > 0 {
			s.logger.Warn("revoked locks of failed loop", "queue", s.config.Queue, "owner", owner, "keys", keys)
		}
	}
	return err
}

// waitForExitOrFreeze waits for the loop to exit or for a job to run past
// FreezeTimeout on maxConsecutiveFailures consecutive checks.
func (s *Supervisor) waitForExitOrFreeze(ctx context.Context, loop *Loop, exitCh <-chan error) error {
	ticker := time.NewTicker(s.config.HealthCheckInterval)
	defer ticker.Stop()

	consecutiveFailures := 0

	for {
		select {
		case err := <-exitCh:
			if errors.Is(err, context.Canceled) && ctx.Err() != nil {
				return nil
			}
			return err

		case <-ctx.Done():
			return nil

		case <-ticker.C:
			err := s.checkHealth(loop)
			if err == nil {
				if consecutiveFailures > 0 {
					s.logger.Info("dispatch loop recovered",
						"queue", s.config.Queue,
						"previous_failures", consecutiveFailures,
					)
				}
				consecutiveFailures = 0
				continue
			}

			consecutiveFailures++
			s.logger.Warn("health check failed",
				"queue", s.config.Queue,
				"error", err,
				"consecutive_failures", consecutiveFailures,
			)
			if consecutiveFailures >= maxConsecutiveFailures {
				s.logger.Error("dispatch loop frozen, abandoning it",
					"queue", s.config.Queue,
					"failures", consecutiveFailures,
				)
				return fmt.Errorf("%w: %v", ErrLoopFrozen, err)
			}
		}
	}
}

func (s *Supervisor) checkHealth(loop *Loop) error {
	cur, ok := loop.Current()
	if !ok {
		return nil
	}
	if age := s.now().Sub(cur.Started); age > s.config.FreezeTimeout {
		return fmt.Errorf("job %s (%s) running for %s", cur.Name, cur.ID, age.Round(time.Millisecond))
	}
	return nil
}

func (s *Supervisor) setStatus(st Status) {
	s.mu.Lock()
	s.status = st
	s.mu.Unlock()
}

// Status returns the current status of the dispatch loop.
func (s *Supervisor) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Queue returns the supervised queue name.
func (s *Supervisor) Queue() string { return s.config.Queue }

// RestartCount returns the number of times the loop has been restarted.
func (s *Supervisor) RestartCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.restartCount
}

// Stats describes a supervised dispatch loop.
type Stats struct {
	Queue        string        `json:"queue"`
	Status       Status        `json:"status"`
	Generation   int           `json:"generation"`
	Uptime       time.Duration `json:"uptime,omitempty"`
	RestartCount int           `json:"restart_count"`
	LastError    string        `json:"last_error,omitempty"`
	CurrentJob   *CurrentJob   `json:"current_job,omitempty"`
}

// Stats returns current statistics for the loop.
func (s *Supervisor) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{
		Queue:        s.config.Queue,
		Status:       s.status,
		Generation:   s.generation,
		RestartCount: s.restartCount,
	}
	if s.status == StatusRunning {
		stats.Uptime = s.now().Sub(s.startTime)
		if s.loop != nil {
			if cur, ok := s.loop.Current(); ok {
				stats.CurrentJob = &cur
			}
		}
	}
	if s.lastError != nil {
		stats.LastError = s.lastError.Error()
	}
	return stats
}

// RunAll runs every supervisor until ctx is cancelled or one of them gives
// up, in which case the others are stopped too.
func RunAll(ctx context.Context, sups ...*Supervisor) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, s := range sups {
		g.Go(func() error { return s.Run(gctx) })
	}
	return g.Wait()
}
