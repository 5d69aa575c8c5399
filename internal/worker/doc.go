// Package worker runs dispatch loops over job queues.
//
// A Loop repeatedly waits on one queue, dequeues, executes the registered
// handler and reports completion back to the scheduler. A Supervisor owns a
// Loop for its whole life: when the loop panics, returns an error or
// freezes on one job for longer than the freeze timeout, the supervisor
// abandons it, fails every job it had dequeued with jobs.ErrExecutionAborted,
// revokes the locks it held and starts a fresh loop after a delay.
//
// A frozen goroutine cannot be killed; it is cancelled and left behind.
// Because its locks were revoked it can no longer flush a playout cache.
package worker
