package jobs

import (
	"context"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EnqueueOptions control priority and debouncing of a job.
type EnqueueOptions struct {
	// LowPriority places the job in the low tier. High-tier jobs are always
	// dequeued first.
	LowPriority bool

	// Debounce delays the job and coalesces identical debounced requests
	// made before it runs.
	Debounce time.Duration
}

// Job is a unit of work handed to a dispatch loop.
type Job struct {
	ID       string
	Queue    string
	Name     string
	Payload  any
	QueuedAt time.Time
}

// Kind discriminates the values returned by Dequeue.
type Kind int

const (
	// KindJob carries a job to execute.
	KindJob Kind = iota + 1
	// KindInterrupt asks the loop to re-enter without executing anything.
	KindInterrupt
)

func (k Kind) String() string {
	switch k {
	case KindJob:
		return "job"
	case KindInterrupt:
		return "interrupt"
	default:
		return "unknown"
	}
}

// Next is the tagged result of Dequeue. Job is set only for KindJob.
type Next struct {
	Kind Kind
	Job  Job
}

// RunningJob describes a dequeued job awaiting Complete.
type RunningJob struct {
	ID         string
	Queue      string
	Name       string
	DequeuedAt time.Time
}

// QueueStats is a snapshot of one queue.
type QueueStats struct {
	Queue     string `json:"queue"`
	High      int    `json:"high"`
	Low       int    `json:"low"`
	Running   int    `json:"running"`
	Succeeded uint64 `json:"succeeded"`
	Failed    uint64 `json:"failed"`
	Coalesced uint64 `json:"coalesced"`
	Waiting   bool   `json:"waiting"`
}

// Logger is the logging surface used by Scheduler.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

type entry struct {
	job       Job
	interrupt bool
	debounced bool
	notBefore time.Time // zero means ready immediately
	timer     Timer
	handles   []*Handle
}

func (e *entry) ready(now time.Time) bool {
	return e.interrupt || e.notBefore.IsZero() || !e.notBefore.After(now)
}

type waiter struct {
	ch chan error // buffered; receives nil on wake or a supersede error
}

type queue struct {
	name      string
	high      []*entry
	low       []*entry
	waiter    *waiter
	succeeded uint64
	failed    uint64
	coalesced uint64
}

type runningEntry struct {
	entry      *entry
	queue      *queue
	dequeuedAt time.Time
}

// Scheduler owns every queue of the process. Build one in main and pass it
// to the dispatch loops and producers.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Scheduler struct {
	mu      sync.Mutex
	clock   Clock
	queues  map[string]*queue
	running map[string]*runningEntry
	closed  bool
	logger  Logger
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock replaces the system clock.
func WithClock(c Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithLogger sets the scheduler logger.
func WithLogger(l Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// NewScheduler creates an empty Scheduler.
func NewScheduler(opts ...Option) *Scheduler {
	s := &Scheduler{
		clock:   systemClock{},
		queues:  make(map[string]*queue),
		running: make(map[string]*runningEntry),
		logger:  noopLogger{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// queueLocked returns the named queue, creating it. Caller holds s.mu.
func (s *Scheduler) queueLocked(name string) *queue {
	q := s.queues[name]
	if q == nil {
		q = &queue{name: name}
		s.queues[name] = q
	}
	return q
}

// Enqueue adds a job and returns a handle resolved when it completes.
// It never blocks. Invalid input and a closed scheduler yield a handle
// that is already failed.
func (s *Scheduler) Enqueue(queueName, jobName string, payload any, opts EnqueueOptions) *Handle {
	if queueName == "" || jobName == "" {
		h := newHandle("")
		h.resolve(nil, ErrInvalidJob, Timings{})
		return h
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		h := newHandle("")
		h.resolve(nil, ErrSchedulerClosed, Timings{})
		return h
	}

	now := s.clock.Now()
	q := s.queueLocked(queueName)

	if opts.Debounce > 0 {
		if e, inLow := q.findDebounced(jobName, payload); e != nil {
			if nb := now.Add(opts.Debounce); nb.After(e.notBefore) {
				e.notBefore = nb
			}
			if inLow && !opts.LowPriority {
				q.low = removeEntry(q.low, e)
				q.high = append(q.high, e)
			}
			h := newHandle(e.job.ID)
			e.handles = append(e.handles, h)
			q.coalesced++
			s.scheduleWakeLocked(q, e, now)
			s.logger.Debug("debounced job coalesced",
				"queue", queueName, "job", jobName, "job_id", e.job.ID, "not_before", e.notBefore)
			return h
		}
	}

	e := &entry{
		job: Job{
			ID:       uuid.NewString(),
			Queue:    queueName,
			Name:     jobName,
			Payload:  payload,
			QueuedAt: now,
		},
	}
	h := newHandle(e.job.ID)
	e.handles = []*Handle{h}

	if opts.LowPriority {
		q.low = append(q.low, e)
	} else {
		q.high = append(q.high, e)
	}

	if opts.Debounce > 0 {
		e.debounced = true
		e.notBefore = now.Add(opts.Debounce)
		s.scheduleWakeLocked(q, e, now)
	} else {
		q.wake()
	}

	return h
}

// findDebounced looks for a coalescable entry in either tier.
func (q *queue) findDebounced(name string, payload any) (e *entry, inLow bool) {
	for _, c := range q.high {
		if c.debounced && c.job.Name == name && reflect.DeepEqual(c.job.Payload, payload) {
			return c, false
		}
	}
	for _, c := range q.low {
		if c.debounced && c.job.Name == name && reflect.DeepEqual(c.job.Payload, payload) {
			return c, true
		}
	}
	return nil, false
}

func (s *Scheduler) scheduleWakeLocked(q *queue, e *entry, now time.Time) {
	if e.timer != nil {
		e.timer.Stop()
	}
	e.timer = s.clock.AfterFunc(e.notBefore.Sub(now), func() {
		s.mu.Lock()
		q.wake()
		s.mu.Unlock()
	})
}

// wake resolves the registered waiter, if any. Caller holds s.mu.
func (q *queue) wake() {
	if q.waiter == nil {
		return
	}
	q.waiter.ch <- nil
	q.waiter = nil
}

func (q *queue) hasReady(now time.Time) bool {
	for _, e := range q.high {
		if e.ready(now) {
			return true
		}
	}
	for _, e := range q.low {
		if e.ready(now) {
			return true
		}
	}
	return false
}

// WaitForNext blocks until the queue may have ready work. It returns nil
// immediately if something is ready, ErrWaiterSuperseded if another waiter
// registers first, or the context error.
func (s *Scheduler) WaitForNext(ctx context.Context, queueName string) error {
	// A cancelled caller must not supersede a live waiter.
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSchedulerClosed
	}
	q := s.queueLocked(queueName)
	if q.hasReady(s.clock.Now()) {
		s.mu.Unlock()
		return nil
	}

	// The previous waiter is failed before the new one exists, so it always
	// observes the supersede first.
	if q.waiter != nil {
		q.waiter.ch <- ErrWaiterSuperseded
		q.waiter = nil
	}
	w := &waiter{ch: make(chan error, 1)}
	q.waiter = w
	s.mu.Unlock()

	select {
	case err := <-w.ch:
		return err
	case <-ctx.Done():
		s.mu.Lock()
		if q.waiter == w {
			q.waiter = nil
		}
		s.mu.Unlock()
		return ctx.Err()
	}
}

// Interrupt wakes the queue's waiter, or, if nobody waits, leaves an
// interrupt marker at the head of the high tier for the next Dequeue.
func (s *Scheduler) Interrupt(queueName string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.queueLocked(queueName)
	if q.waiter != nil {
		q.wake()
		return
	}
	q.high = append([]*entry{{interrupt: true}}, q.high...)
}

// Dequeue returns the first ready entry, high tier first, FIFO within a
// tier. A job is moved to the running registry until Complete is called.
func (s *Scheduler) Dequeue(queueName string) (Next, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.queues[queueName]
	if q == nil {
		return Next{}, false
	}
	now := s.clock.Now()

	for _, tier := range []*[]*entry{&q.high, &q.low} {
		for i, e := range *tier {
			if !e.ready(now) {
				continue
			}
			*tier = append((*tier)[:i:i], (*tier)[i+1:]...)
			if e.interrupt {
				return Next{Kind: KindInterrupt}, true
			}
			if e.timer != nil {
				e.timer.Stop()
				e.timer = nil
			}
			s.running[e.job.ID] = &runningEntry{entry: e, queue: q, dequeuedAt: now}
			return Next{Kind: KindJob, Job: e.job}, true
		}
	}
	return Next{}, false
}

// Complete finalises a running job and resolves every caller attached to it.
func (s *Scheduler) Complete(jobID string, startedAt, finishedAt time.Time, jobErr error, result any) error {
	s.mu.Lock()
	r := s.running[jobID]
	if r == nil {
		s.mu.Unlock()
		return ErrJobNotRunning
	}
	delete(s.running, jobID)
	if jobErr != nil {
		r.queue.failed++
	} else {
		r.queue.succeeded++
	}
	completed := s.clock.Now()
	s.mu.Unlock()

	if jobErr != nil {
		result = nil
	}
	timings := Timings{
		Queued:    r.entry.job.QueuedAt,
		Started:   startedAt,
		Finished:  finishedAt,
		Completed: completed,
	}
	for _, h := range r.entry.handles {
		h.resolve(result, jobErr, timings)
	}
	return nil
}

// RejectAllRunning fails every running job with ErrExecutionAborted.
// Queued jobs are untouched. It returns the number of jobs failed.
func (s *Scheduler) RejectAllRunning() int {
	return s.reject(func(*runningEntry) bool { return true })
}

// RejectRunning fails the running jobs of the named queues only, for use
// when a single dispatch loop dies while others are healthy.
func (s *Scheduler) RejectRunning(queueNames ...string) int {
	names := make(map[string]bool, len(queueNames))
	for _, n := range queueNames {
		names[n] = true
	}
	return s.reject(func(r *runningEntry) bool { return names[r.queue.name] })
}

func (s *Scheduler) reject(match func(*runningEntry) bool) int {
	s.mu.Lock()
	var victims []*runningEntry
	for id, r := range s.running {
		if match(r) {
			victims = append(victims, r)
			delete(s.running, id)
			r.queue.failed++
		}
	}
	now := s.clock.Now()
	s.mu.Unlock()

	for _, r := range victims {
		s.logger.Warn("running job aborted", "queue", r.queue.name, "job", r.entry.job.Name, "job_id", r.entry.job.ID)
		for _, h := range r.entry.handles {
			h.resolve(nil, ErrExecutionAborted, Timings{Queued: r.entry.job.QueuedAt, Completed: now})
		}
	}
	return len(victims)
}

// Running lists the running jobs of a queue, oldest first.
func (s *Scheduler) Running(queueName string) []RunningJob {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []RunningJob
	for id, r := range s.running {
		if r.queue.name != queueName {
			continue
		}
		out = append(out, RunningJob{ID: id, Queue: queueName, Name: r.entry.job.Name, DequeuedAt: r.dequeuedAt})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DequeuedAt.Before(out[j].DequeuedAt) })
	return out
}

// Stats returns a snapshot of a queue.
func (s *Scheduler) Stats(queueName string) QueueStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := QueueStats{Queue: queueName}
	q := s.queues[queueName]
	if q == nil {
		return st
	}
	for _, e := range q.high {
		if !e.interrupt {
			st.High++
		}
	}
	for _, e := range q.low {
		if !e.interrupt {
			st.Low++
		}
	}
	for _, r := range s.running {
		if r.queue == q {
			st.Running++
		}
	}
	st.Succeeded = q.succeeded
	st.Failed = q.failed
	st.Coalesced = q.coalesced
	st.Waiting = q.waiter != nil
	return st
}

// Close fails every waiter and queued job with ErrSchedulerClosed and
// refuses further work. Running jobs may still Complete.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true

	var pending []*entry
	for _, q := range s.queues {
		if q.waiter != nil {
			q.waiter.ch <- ErrSchedulerClosed
			q.waiter = nil
		}
		for _, e := range append(q.high, q.low...) {
			if e.timer != nil {
				e.timer.Stop()
			}
			if !e.interrupt {
				pending = append(pending, e)
			}
		}
		q.high, q.low = nil, nil
	}
	now := s.clock.Now()
	s.mu.Unlock()

	for _, e := range pending {
		for _, h := range e.handles {
			h.resolve(nil, ErrSchedulerClosed, Timings{Queued: e.job.QueuedAt, Completed: now})
		}
	}
}

func removeEntry(list []*entry, e *entry) []*entry {
	for i, c := range list {
		if c == e {
			return append(list[:i:i], list[i+1:]...)
		}
	}
	return list
}
