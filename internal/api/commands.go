package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/playout-core/internal/auth"
	"github.com/nerrad567/playout-core/internal/events"
	"github.com/nerrad567/playout-core/internal/jobs"
	"github.com/nerrad567/playout-core/internal/playout"
	"github.com/nerrad567/playout-core/internal/playout/actions"
)

// Command names accepted over HTTP and from panels.
const (
	CmdActivate         = "activate"
	CmdDeactivate       = "deactivate"
	CmdReset            = "reset"
	CmdTake             = "take"
	CmdNext             = "next"
	CmdMoveNext         = "move-next"
	CmdQueueSegment     = "queue-segment"
	CmdHold             = "hold"
	CmdCancelHold       = "cancel-hold"
	CmdDisableNextPiece = "disable-next-piece"
	CmdAction           = "action"
	CmdPlaybackStarted  = "playback-started"
	CmdTimeline         = "timeline"
)

// timelineDebounce coalesces bursts of timeline regeneration requests.
const timelineDebounce = 250 * time.Millisecond

// target identifies what a command addresses.
type target struct {
	PlaylistID string
	ActionID   string
}

// command maps an operator command to a playout job.
type command struct {
	job    string
	perm   auth.Permission
	opts   jobs.EnqueueOptions
	decode func(t target, body []byte) (any, error)
}

// commands is the full command set. Panels reach the same table through
// the MQTT bridge, minus the on-air commands.
var commands = map[string]command{
	CmdActivate: {
		job: playout.JobActivatePlaylist, perm: auth.PermPlaylistOnAir,
		decode: payload(func(p *playout.ActivatePayload, t target) { p.PlaylistID = t.PlaylistID }),
	},
	CmdDeactivate: {
		job: playout.JobDeactivatePlaylist, perm: auth.PermPlaylistOnAir,
		decode: playlistPayload,
	},
	CmdReset: {
		job: playout.JobResetPlaylist, perm: auth.PermPlaylistOnAir,
		decode: playlistPayload,
	},
	CmdTake: {
		job: playout.JobTakeNextPart, perm: auth.PermPlayoutControl,
		decode: payload(func(p *playout.TakePayload, t target) { p.PlaylistID = t.PlaylistID }),
	},
	CmdNext: {
		job: playout.JobSetNextPart, perm: auth.PermPlayoutControl,
		decode: payload(func(p *playout.SetNextPayload, t target) { p.PlaylistID = t.PlaylistID }),
	},
	CmdMoveNext: {
		job: playout.JobMoveNextPart, perm: auth.PermPlayoutControl,
		decode: payload(func(p *playout.MoveNextPayload, t target) { p.PlaylistID = t.PlaylistID }),
	},
	CmdQueueSegment: {
		job: playout.JobQueueNextSegment, perm: auth.PermPlayoutControl,
		decode: payload(func(p *playout.QueueSegmentPayload, t target) { p.PlaylistID = t.PlaylistID }),
	},
	CmdHold: {
		job: playout.JobActivateHold, perm: auth.PermPlayoutControl,
		decode: playlistPayload,
	},
	CmdCancelHold: {
		job: playout.JobDeactivateHold, perm: auth.PermPlayoutControl,
		decode: playlistPayload,
	},
	CmdDisableNextPiece: {
		job: playout.JobDisableNextPiece, perm: auth.PermPlayoutControl,
		decode: payload(func(p *playout.DisableNextPiecePayload, t target) { p.PlaylistID = t.PlaylistID }),
	},
	CmdAction: {
		job: actions.JobExecuteAction, perm: auth.PermActionExecute,
		decode: payload(func(p *actions.ExecutePayload, t target) {
			p.PlaylistID = t.PlaylistID
			if t.ActionID != "" {
				p.ActionID = t.ActionID
			}
		}),
	},
	CmdPlaybackStarted: {
		job: playout.JobOnPartPlaybackStarted, perm: auth.PermTimelineControl,
		decode: payload(func(p *playout.PlaybackStartedPayload, t target) {
			p.PlaylistID = t.PlaylistID
			if p.StartedAt.IsZero() {
				p.StartedAt = time.Now()
			}
		}),
	},
	CmdTimeline: {
		job: playout.JobUpdateTimeline, perm: auth.PermTimelineControl,
		opts:   jobs.EnqueueOptions{LowPriority: true, Debounce: timelineDebounce},
		decode: playlistPayload,
	},
}

// payload builds a decoder for P. An empty body decodes to the zero value.
// bind fills in what the route addresses, overriding the body.
func payload[P any](bind func(*P, target)) func(target, []byte) (any, error) {
	return func(t target, body []byte) (any, error) {
		var p P
		if len(bytes.TrimSpace(body)) > 0 {
			if err := json.Unmarshal(body, &p); err != nil {
				return nil, fmt.Errorf("invalid request body: %w", err)
			}
		}
		bind(&p, t)
		return p, nil
	}
}

var playlistPayload = payload(func(p *playout.PlaylistPayload, t target) { p.PlaylistID = t.PlaylistID })

// JobCompleted is the data of an events.TypeJobCompleted event.
type JobCompleted struct {
	JobID   string       `json:"job_id"`
	Job     string       `json:"job"`
	Command string       `json:"command"`
	Source  string       `json:"source"`
	Error   *Error       `json:"error,omitempty"`
	Timings *jobs.Timings `json:"timings,omitempty"`
}

// submission is a decoded command ready to enqueue.
type submission struct {
	name     string
	cmd      command
	studioID string
	target   target
	payload  any
	source   string
	subject  string // token subject, empty for panels
}

// submit enqueues the command on the studio queue and waits for its result.
// Completion is published as a job.completed event whether or not the
// caller is still waiting.
func (s *Server) submit(ctx context.Context, sub submission) (any, string, error) {
	h := s.scheduler.Enqueue(playout.QueueName(sub.studioID), sub.cmd.job, sub.payload, sub.cmd.opts)
	go s.publishCompletion(h, sub)

	ctx, cancel := context.WithTimeout(ctx, s.resultTimeout)
	defer cancel()
	res, err := h.Result(ctx)
	return res, h.JobID(), err
}

func (s *Server) publishCompletion(h *jobs.Handle, sub submission) {
	ctx, cancel := context.WithTimeout(context.Background(), s.resultTimeout+time.Minute)
	defer cancel()

	_, err := h.Result(ctx)
	if ctx.Err() != nil {
		return
	}
	done := JobCompleted{
		JobID:   h.JobID(),
		Job:     sub.cmd.job,
		Command: sub.name,
		Source:  sub.source,
	}
	if err != nil {
		e := jobError(err)
		done.Error = &e
		if e.Status >= 500 {
			s.logger.Error("playout job failed",
				"job_id", h.JobID(),
				"job", sub.cmd.job,
				"studio_id", sub.studioID,
				"error", err,
			)
		}
	}
	if t, terr := h.Timings(ctx); terr == nil {
		done.Timings = &t
	}
	s.recordAudit(sub, done)
	s.events.Publish(ctx, events.Event{
		Type:       events.TypeJobCompleted,
		StudioID:   sub.studioID,
		PlaylistID: sub.target.PlaylistID,
		Data:       done,
	})
}

