package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/playout-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/playout-core/internal/jobs"
	"github.com/nerrad567/playout-core/internal/lock"
)

// Source is the scheduler surface a Loop consumes.
type Source interface {
	WaitForNext(ctx context.Context, queueName string) error
	Dequeue(queueName string) (jobs.Next, bool)
	Complete(jobID string, startedAt, finishedAt time.Time, jobErr error, result any) error
}

// MetricsSink receives one sample per completed job. A nil *influxdb.Client
// is a valid sink that drops samples.
type MetricsSink interface {
	WriteJobMetric(s influxdb.JobSample)
}

// Logger is the logging surface used by this package.
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

// CurrentJob describes the job a loop is executing.
type CurrentJob struct {
	ID      string    `json:"id"`
	Name    string    `json:"name"`
	Started time.Time `json:"started"`
}

// Loop executes the jobs of one queue, one at a time.
type Loop struct {
	queue    string
	owner    string
	source   Source
	handlers *Registry
	metrics  MetricsSink
	logger   Logger
	now      func() time.Time

	mu      sync.Mutex
	current *CurrentJob
}

// LoopConfig configures a Loop.
type LoopConfig struct {
	Queue    string
	Owner    string // lock owner identity; defaults to Queue
	Source   Source
	Handlers *Registry
	Metrics  MetricsSink
	Logger   Logger
	Now      func() time.Time
}

// NewLoop creates a Loop.
func NewLoop(cfg LoopConfig) *Loop {
	l := &Loop{
		queue:    cfg.Queue,
		owner:    cfg.Owner,
		source:   cfg.Source,
		handlers: cfg.Handlers,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger,
		now:      cfg.Now,
	}
	if l.owner == "" {
		l.owner = l.queue
	}
	if l.logger == nil {
		l.logger = noopLogger{}
	}
	if l.now == nil {
		l.now = time.Now
	}
	if l.handlers == nil {
		l.handlers = NewRegistry()
	}
	return l
}

// Owner returns the lock owner identity of this loop.
func (l *Loop) Owner() string { return l.owner }

// Current returns the job being executed, if any.
func (l *Loop) Current() (CurrentJob, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.current == nil {
		return CurrentJob{}, false
	}
	return *l.current, true
}

// Run processes jobs until ctx ends or the scheduler closes. A handler
// panic propagates; the Supervisor turns it into a restart.
func (l *Loop) Run(ctx context.Context) error {
	ctx = lock.WithOwner(ctx, l.owner)

	for {
		err := l.source.WaitForNext(ctx, l.queue)
		switch {
		case ctx.Err() != nil:
			return ctx.Err()
		case errors.Is(err, jobs.ErrWaiterSuperseded):
			continue
		case errors.Is(err, jobs.ErrSchedulerClosed):
			return nil
		case err != nil:
			return fmt.Errorf("waiting on %s: %w", l.queue, err)
		}

		next, ok := l.source.Dequeue(l.queue)
		if !ok {
			continue
		}
		switch next.Kind {
		case jobs.KindInterrupt:
			continue
		case jobs.KindJob:
			l.execute(ctx, next.Job)
		default:
			return fmt.Errorf("dequeue on %s returned unknown kind %v", l.queue, next.Kind)
		}
	}
}

func (l *Loop) execute(ctx context.Context, job jobs.Job) {
	started := l.now()
	l.mu.Lock()
	l.current = &CurrentJob{ID: job.ID, Name: job.Name, Started: started}
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		l.current = nil
		l.mu.Unlock()
	}()

	var (
		result any
		jobErr error
	)
	if h, ok := l.handlers.Lookup(job.Name); ok {
		result, jobErr = h(ctx, job)
	} else {
		jobErr = fmt.Errorf("%w: %s", ErrUnknownJob, job.Name)
	}
	finished := l.now()

	if err := l.source.Complete(job.ID, started, finished, jobErr, result); err != nil {
		// Already failed by the supervisor after this loop was abandoned.
		l.logger.Debug("completion dropped", "queue", l.queue, "job", job.Name, "job_id", job.ID, "error", err)
		return
	}

	if jobErr != nil {
		l.logger.Warn("job failed", "queue", l.queue, "job", job.Name, "job_id", job.ID, "error", jobErr)
	} else {
		l.logger.Debug("job completed", "queue", l.queue, "job", job.Name, "job_id", job.ID,
			"duration", finished.Sub(started))
	}

	if l.metrics != nil {
		l.metrics.WriteJobMetric(influxdb.JobSample{
			Queue:    l.queue,
			Name:     job.Name,
			Queued:   job.QueuedAt,
			Started:  started,
			Finished: finished,
			Failed:   jobErr != nil,
		})
	}
}
