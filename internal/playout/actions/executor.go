package actions

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/nerrad567/playout-core/internal/playout"
	"github.com/nerrad567/playout-core/internal/playout/cache"
	"github.com/nerrad567/playout-core/internal/rundown"
	"github.com/nerrad567/playout-core/internal/showstyle"
	"github.com/nerrad567/playout-core/internal/worker"
)

// JobExecuteAction is the job name of an operator action.
const JobExecuteAction = "executeAction"

// Handler implements an action. action carries the show style entry,
// including its options; userData is whatever the caller sent with the
// trigger. Returning an error discards every change the handler made.
type Handler func(ctx context.Context, ac *Context, action showstyle.Action, userData map[string]any) error

// ExecutePayload is the payload of JobExecuteAction.
type ExecutePayload struct {
	PlaylistID string         `json:"playlist_id"`
	ActionID   string         `json:"action_id"`
	UserData   map[string]any `json:"user_data,omitempty"`
}

// Logger is the logging interface used by the executor.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Executor runs show style actions against a playlist.
//
// Thread Safety: handlers may be registered while jobs run.
type Executor struct {
	svc *playout.Service

	mu       sync.RWMutex
	handlers map[string]Handler
	logger   Logger
}

// NewExecutor creates an Executor with the built-in handlers registered.
func NewExecutor(svc *playout.Service) *Executor {
	e := &Executor{
		svc:      svc,
		handlers: make(map[string]Handler),
		logger:   noopLogger{},
	}
	registerBuiltins(e)
	return e
}

// SetLogger sets the logger.
func (e *Executor) SetLogger(logger Logger) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.logger = logger
}

func (e *Executor) getLogger() Logger {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.logger
}

// Register adds or replaces the handler with the given name.
func (e *Executor) Register(name string, h Handler) {
	e.mu.Lock()
	e.handlers[name] = h
	e.mu.Unlock()
}

func (e *Executor) handler(name string) (Handler, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	h, ok := e.handlers[name]
	return h, ok
}

// Execute runs one action in its own playout cache.
func (e *Executor) Execute(ctx context.Context, pl ExecutePayload) (*rundown.Playlist, error) {
	return e.svc.RunWithCache(ctx, pl.PlaylistID, func(ctx context.Context, c *cache.PlayoutCache) error {
		return e.execute(ctx, c, pl)
	})
}

func (e *Executor) execute(ctx context.Context, c *cache.PlayoutCache, pl ExecutePayload) error {
	p := c.Playlist()
	if !p.IsActive() {
		return playout.ErrPlaylistNotActive
	}

	style, err := e.showStyleOf(c, p)
	if err != nil {
		return err
	}
	action, ok := style.Action(pl.ActionID)
	if !ok {
		return playout.ErrActionNotFound.WithArgs(map[string]any{"action_id": pl.ActionID})
	}
	h, ok := e.handler(action.Handler)
	if !ok {
		return playout.ErrActionNotFound.WithArgs(map[string]any{
			"action_id": pl.ActionID,
			"handler":   action.Handler,
		})
	}

	ac := newContext(e.svc, c, style, p.StudioID)
	if err := h(ctx, ac, action, pl.UserData); err != nil {
		var ue *playout.UserError
		if errors.As(err, &ue) {
			return err
		}
		return &Error{ActionID: pl.ActionID, Err: err}
	}

	e.getLogger().Debug("action executed",
		"playlist_id", p.ID,
		"action_id", pl.ActionID,
		"current_change", ac.currentChange.String(),
		"next_change", ac.nextChange.String(),
		"take", ac.takeAfter,
	)
	return e.afterExecute(ctx, c, ac)
}

// afterExecute does the follow-up work the action's changes call for.
func (e *Executor) afterExecute(ctx context.Context, c *cache.PlayoutCache, ac *Context) error {
	changed := ac.currentChange != ChangeNone || ac.nextChange != ChangeNone
	if changed {
		playout.SyncNextInfinites(c)
	}
	for _, id := range ac.changedPartInstances() {
		if !c.PartInstances.Has(id) {
			continue
		}
		if err := playout.RecomputeExpectedDuration(c, id); err != nil {
			return err
		}
	}

	if ac.takeAfter {
		from := ""
		if current, ok := c.Selected(rundown.PartCurrent); ok {
			from = current.ID
		}
		return e.svc.Take(ctx, c, from)
	}
	if changed {
		c.RequestTimelineUpdate()
	}
	return nil
}

// showStyleOf resolves the show style of the rundown on air, or next, or
// the playlist's first rundown.
func (e *Executor) showStyleOf(c *cache.PlayoutCache, p *rundown.Playlist) (*showstyle.ShowStyle, error) {
	rundownID := ""
	for _, ref := range []rundown.PartRef{rundown.PartCurrent, rundown.PartNext} {
		if inst, ok := c.Selected(ref); ok {
			rundownID = inst.RundownID
			break
		}
	}
	if rundownID == "" && len(p.RundownIDs) > 0 {
		rundownID = p.RundownIDs[0]
	}
	r, ok := c.Rundown(rundownID)
	if !ok {
		return nil, fmt.Errorf("playlist %s has no rundown to resolve a show style from", p.ID)
	}
	return e.svc.ShowStyle(p.StudioID, r.ShowStyleID)
}

// RegisterHandlers registers JobExecuteAction with reg.
func (e *Executor) RegisterHandlers(reg *worker.Registry) {
	worker.Handle(reg, JobExecuteAction, func(ctx context.Context, pl ExecutePayload) (any, error) {
		p, err := e.Execute(ctx, pl)
		if err != nil {
			return nil, err
		}
		return p, nil
	})
}
