package worker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/nerrad567/playout-core/internal/jobs"
)

var (
	// ErrUnknownJob is reported for a job name with no registered handler.
	ErrUnknownJob = errors.New("worker: no handler for job")

	// ErrBadPayload is reported when a payload has the wrong type.
	ErrBadPayload = errors.New("worker: unexpected payload type")

	// ErrLoopPanicked is reported when a handler panics.
	ErrLoopPanicked = errors.New("worker: dispatch loop panicked")

	// ErrLoopFrozen is reported when one job outlives the freeze timeout.
	ErrLoopFrozen = errors.New("worker: dispatch loop frozen")
)

// HandlerFunc executes one job.
type HandlerFunc func(ctx context.Context, job jobs.Job) (any, error)

// Registry maps job names to handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]HandlerFunc)}
}

// Register adds or replaces the handler for name.
func (r *Registry) Register(name string, h HandlerFunc) {
	r.mu.Lock()
	r.handlers[name] = h
	r.mu.Unlock()
}

// Lookup returns the handler for name.
func (r *Registry) Lookup(name string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

// Names returns the registered job names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for n := range r.handlers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Handle registers a handler taking a typed payload. Both P and *P payloads
// are accepted.
func Handle[P any](r *Registry, name string, fn func(ctx context.Context, payload P) (any, error)) {
	r.Register(name, func(ctx context.Context, job jobs.Job) (any, error) {
		switch p := job.Payload.(type) {
		case P:
			return fn(ctx, p)
		case *P:
			if p != nil {
				return fn(ctx, *p)
			}
		}
		var zero P
		return nil, fmt.Errorf("%w: job %s got %T, want %T", ErrBadPayload, job.Name, job.Payload, zero)
	})
}
