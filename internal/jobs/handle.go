package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Timings are the wall-clock milestones of a job.
type Timings struct {
	Queued    time.Time `json:"queued"`    // first enqueue of the (possibly coalesced) entry
	Started   time.Time `json:"started"`   // reported by the dispatch loop
	Finished  time.Time `json:"finished"`  // reported by the dispatch loop
	Completed time.Time `json:"completed"` // when the scheduler resolved the handle
}

// Handle is the caller's view of an enqueued job. Result and Timings can be
// awaited independently; both resolve together when the job completes.
type Handle struct {
	jobID string

	once    sync.Once
	done    chan struct{}
	result  any
	err     error
	timings Timings
}

func newHandle(jobID string) *Handle {
	return &Handle{jobID: jobID, done: make(chan struct{})}
}

// JobID returns the ID of the queue entry this caller is attached to.
// Coalesced callers share an ID.
func (h *Handle) JobID() string { return h.jobID }

// Done is closed when the job has completed or failed.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Result waits for the job's result or error.
func (h *Handle) Result(ctx context.Context) (any, error) {
	select {
	case <-h.done:
		return h.result, h.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Timings waits for the job's timing milestones.
func (h *Handle) Timings(ctx context.Context) (Timings, error) {
	select {
	case <-h.done:
		return h.timings, nil
	case <-ctx.Done():
		return Timings{}, ctx.Err()
	}
}

func (h *Handle) resolve(result any, err error, timings Timings) {
	h.once.Do(func() {
		h.result = result
		h.err = err
		h.timings = timings
		close(h.done)
	})
}

// Await waits for h and asserts the result type.
func Await[T any](ctx context.Context, h *Handle) (T, error) {
	var zero T
	res, err := h.Result(ctx)
	if err != nil {
		return zero, err
	}
	if res == nil {
		return zero, nil
	}
	v, ok := res.(T)
	if !ok {
		return zero, fmt.Errorf("jobs: result of job %s is %T, not %T", h.jobID, res, zero)
	}
	return v, nil
}
