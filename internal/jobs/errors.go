package jobs

import "errors"

var (
	// ErrWaiterSuperseded is returned by WaitForNext when another waiter
	// registered on the same queue. Loops treat it as "poll again".
	ErrWaiterSuperseded = errors.New("jobs: waiter superseded")

	// ErrExecutionAborted is delivered to callers whose job was dequeued by
	// a dispatch loop that died before completing it. Retryable.
	ErrExecutionAborted = errors.New("jobs: execution aborted")

	// ErrJobNotRunning is returned by Complete for an unknown job ID.
	ErrJobNotRunning = errors.New("jobs: job not running")

	// ErrSchedulerClosed is returned once Close has been called.
	ErrSchedulerClosed = errors.New("jobs: scheduler closed")

	// ErrInvalidJob is returned by Enqueue for an empty queue or job name.
	ErrInvalidJob = errors.New("jobs: queue and job name are required")
)
