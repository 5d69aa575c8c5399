package playout

import (
	"context"
	"time"

	"github.com/nerrad567/playout-core/internal/playout/cache"
	"github.com/nerrad567/playout-core/internal/rundown"
	"github.com/nerrad567/playout-core/internal/worker"
)

// Job names handled by the playout service.
const (
	JobActivatePlaylist      = "activatePlaylist"
	JobDeactivatePlaylist    = "deactivatePlaylist"
	JobResetPlaylist         = "resetPlaylist"
	JobTakeNextPart          = "takeNextPart"
	JobSetNextPart           = "setNextPart"
	JobMoveNextPart          = "moveNextPart"
	JobActivateHold          = "activateHold"
	JobDeactivateHold        = "deactivateHold"
	JobDisableNextPiece      = "disableNextPiece"
	JobQueueNextSegment      = "queueNextSegment"
	JobOnPartPlaybackStarted = "onPartPlaybackStarted"
	JobUpdateTimeline        = "updateTimeline"
)

// PlaylistPayload addresses a playlist.
type PlaylistPayload struct {
	PlaylistID string `json:"playlist_id"`
}

// ActivatePayload is the payload of JobActivatePlaylist.
type ActivatePayload struct {
	PlaylistID string `json:"playlist_id"`
	Rehearsal  bool   `json:"rehearsal"`
}

// TakePayload is the payload of JobTakeNextPart.
type TakePayload struct {
	PlaylistID         string `json:"playlist_id"`
	FromPartInstanceID string `json:"from_part_instance_id"`
}

// SetNextPayload is the payload of JobSetNextPart. An empty PartID clears
// the next part.
type SetNextPayload struct {
	PlaylistID string         `json:"playlist_id"`
	PartID     string         `json:"part_id"`
	TimeOffset *time.Duration `json:"time_offset,omitempty"`
}

// MoveNextPayload is the payload of JobMoveNextPart.
type MoveNextPayload struct {
	PlaylistID   string `json:"playlist_id"`
	PartDelta    int    `json:"part_delta"`
	SegmentDelta int    `json:"segment_delta"`
}

// MoveNextResult is the result of JobMoveNextPart. PartID is empty when
// the move ran off the end of the show.
type MoveNextResult struct {
	PartID   string            `json:"part_id"`
	Playlist *rundown.Playlist `json:"playlist"`
}

// DisableNextPiecePayload is the payload of JobDisableNextPiece.
type DisableNextPiecePayload struct {
	PlaylistID string `json:"playlist_id"`
	Undo       bool   `json:"undo"`
}

// QueueSegmentPayload is the payload of JobQueueNextSegment. An empty
// SegmentID clears the queue.
type QueueSegmentPayload struct {
	PlaylistID string `json:"playlist_id"`
	SegmentID  string `json:"segment_id"`
}

// PlaybackStartedPayload is the payload of JobOnPartPlaybackStarted.
type PlaybackStartedPayload struct {
	PlaylistID     string    `json:"playlist_id"`
	PartInstanceID string    `json:"part_instance_id"`
	StartedAt      time.Time `json:"started_at"`
}

// ─── Job-level operations ─────────────────────────────────────────

// ActivatePlaylist runs Activate in its own cache.
func (s *Service) ActivatePlaylist(ctx context.Context, pl ActivatePayload) (*rundown.Playlist, error) {
	return s.RunWithCache(ctx, pl.PlaylistID, func(ctx context.Context, c *cache.PlayoutCache) error {
		return s.Activate(ctx, c, pl.Rehearsal)
	})
}

// DeactivatePlaylist runs Deactivate in its own cache.
func (s *Service) DeactivatePlaylist(ctx context.Context, pl PlaylistPayload) (*rundown.Playlist, error) {
	return s.RunWithCache(ctx, pl.PlaylistID, func(_ context.Context, c *cache.PlayoutCache) error {
		return s.Deactivate(c)
	})
}

// ResetPlaylist runs Reset in its own cache.
func (s *Service) ResetPlaylist(ctx context.Context, pl PlaylistPayload) (*rundown.Playlist, error) {
	return s.RunWithCache(ctx, pl.PlaylistID, func(_ context.Context, c *cache.PlayoutCache) error {
		return s.Reset(c)
	})
}

// TakeNextPart runs Take in its own cache.
func (s *Service) TakeNextPart(ctx context.Context, pl TakePayload) (*rundown.Playlist, error) {
	return s.RunWithCache(ctx, pl.PlaylistID, func(ctx context.Context, c *cache.PlayoutCache) error {
		return s.Take(ctx, c, pl.FromPartInstanceID)
	})
}

// SetNext resolves the part and runs SetNextPart in its own cache. The
// operator's choice is manual and drops a queued segment it bypasses.
func (s *Service) SetNext(ctx context.Context, pl SetNextPayload) (*rundown.Playlist, error) {
	return s.RunWithCache(ctx, pl.PlaylistID, func(_ context.Context, c *cache.PlayoutCache) error {
		p, err := requireActive(c)
		if err != nil {
			return err
		}
		if p.HoldState == rundown.HoldPending || p.HoldState == rundown.HoldActive {
			return ErrDuringHold
		}
		if pl.PartID == "" {
			return s.SetNextPart(c, nil, true, nil, false)
		}
		part, ok := c.Part(pl.PartID)
		if !ok {
			return ErrPartNotFound.WithArgs(map[string]any{"part_id": pl.PartID})
		}
		return s.SetNextPart(c, part, true, pl.TimeOffset, true)
	})
}

// MoveNext runs MoveNextPart in its own cache.
func (s *Service) MoveNext(ctx context.Context, pl MoveNextPayload) (*MoveNextResult, error) {
	var partID string
	playlist, err := s.RunWithCache(ctx, pl.PlaylistID, func(_ context.Context, c *cache.PlayoutCache) error {
		id, err := s.MoveNextPart(c, pl.PartDelta, pl.SegmentDelta)
		partID = id
		return err
	})
	if err != nil {
		return nil, err
	}
	return &MoveNextResult{PartID: partID, Playlist: playlist}, nil
}

// StartHold runs ActivateHold in its own cache.
func (s *Service) StartHold(ctx context.Context, pl PlaylistPayload) (*rundown.Playlist, error) {
	return s.RunWithCache(ctx, pl.PlaylistID, func(_ context.Context, c *cache.PlayoutCache) error {
		return s.ActivateHold(c)
	})
}

// CancelHold runs DeactivateHold in its own cache.
func (s *Service) CancelHold(ctx context.Context, pl PlaylistPayload) (*rundown.Playlist, error) {
	return s.RunWithCache(ctx, pl.PlaylistID, func(_ context.Context, c *cache.PlayoutCache) error {
		return s.DeactivateHold(c)
	})
}

// DisablePiece runs DisableNextPiece in its own cache.
func (s *Service) DisablePiece(ctx context.Context, pl DisableNextPiecePayload) (*rundown.Playlist, error) {
	return s.RunWithCache(ctx, pl.PlaylistID, func(_ context.Context, c *cache.PlayoutCache) error {
		return s.DisableNextPiece(c, pl.Undo)
	})
}

// QueueSegment runs QueueNextSegment in its own cache.
func (s *Service) QueueSegment(ctx context.Context, pl QueueSegmentPayload) (*rundown.Playlist, error) {
	return s.RunWithCache(ctx, pl.PlaylistID, func(_ context.Context, c *cache.PlayoutCache) error {
		return s.QueueNextSegment(c, pl.SegmentID)
	})
}

// PlaybackStarted runs PartPlaybackStarted in its own cache.
func (s *Service) PlaybackStarted(ctx context.Context, pl PlaybackStartedPayload) (*rundown.Playlist, error) {
	return s.RunWithCache(ctx, pl.PlaylistID, func(_ context.Context, c *cache.PlayoutCache) error {
		return s.PartPlaybackStarted(c, pl.PartInstanceID, pl.StartedAt)
	})
}

// RegenerateTimeline rebuilds a playlist's studio timeline without
// changing the playlist.
func (s *Service) RegenerateTimeline(ctx context.Context, pl PlaylistPayload) (*rundown.Playlist, error) {
	p, err := s.store.GetPlaylist(ctx, pl.PlaylistID)
	if err != nil {
		return nil, err
	}
	if err := s.UpdateTimeline(ctx, p.StudioID, p.ID); err != nil {
		return nil, err
	}
	return p, nil
}

// RegisterHandlers registers every playout job with reg.
func (s *Service) RegisterHandlers(reg *worker.Registry) {
	worker.Handle(reg, JobActivatePlaylist, adapt(s.ActivatePlaylist))
	worker.Handle(reg, JobDeactivatePlaylist, adapt(s.DeactivatePlaylist))
	worker.Handle(reg, JobResetPlaylist, adapt(s.ResetPlaylist))
	worker.Handle(reg, JobTakeNextPart, adapt(s.TakeNextPart))
	worker.Handle(reg, JobSetNextPart, adapt(s.SetNext))
	worker.Handle(reg, JobMoveNextPart, adapt(s.MoveNext))
	worker.Handle(reg, JobActivateHold, adapt(s.StartHold))
	worker.Handle(reg, JobDeactivateHold, adapt(s.CancelHold))
	worker.Handle(reg, JobDisableNextPiece, adapt(s.DisablePiece))
	worker.Handle(reg, JobQueueNextSegment, adapt(s.QueueSegment))
	worker.Handle(reg, JobOnPartPlaybackStarted, adapt(s.PlaybackStarted))
	worker.Handle(reg, JobUpdateTimeline, adapt(s.RegenerateTimeline))
}

// adapt widens a typed operation to the registry's result type.
func adapt[P, R any](fn func(context.Context, P) (R, error)) func(context.Context, P) (any, error) {
	return func(ctx context.Context, p P) (any, error) {
		r, err := fn(ctx, p)
		if err != nil {
			return nil, err
		}
		return r, nil
	}
}
