package playout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/playout-core/internal/rundown"
)

// TimelineHook regenerates the output timeline of a studio. It is called
// with the studio lock held and no playlist lock.
type TimelineHook interface {
	UpdateTimeline(ctx context.Context, studioID, playlistID string) error
}

// Timeline object priorities.
const (
	priorityLookahead = 0
	priorityHold      = 1
	priorityOnAir     = 2
)

// TimelineBuilder writes a simple timeline from the stored playlist
// state: one object per enabled piece of the current part, pieces held
// over from the previous part during a hold, and lookahead objects for the
// next part on layers the current part leaves free.
type TimelineBuilder struct {
	store rundown.Store
	now   func() time.Time
}

// NewTimelineBuilder creates a TimelineBuilder.
func NewTimelineBuilder(store rundown.Store, now func() time.Time) *TimelineBuilder {
	if now == nil {
		now = time.Now
	}
	return &TimelineBuilder{store: store, now: now}
}

// UpdateTimeline implements TimelineHook.
func (b *TimelineBuilder) UpdateTimeline(ctx context.Context, studioID, playlistID string) error {
	tl, err := b.Build(ctx, studioID, playlistID)
	if err != nil {
		return err
	}
	return b.store.WriteTimeline(ctx, tl)
}

// Build generates the timeline without writing it.
func (b *TimelineBuilder) Build(ctx context.Context, studioID, playlistID string) (*rundown.Timeline, error) {
	now := b.now()
	tl := &rundown.Timeline{StudioID: studioID, Generated: now}

	p, err := b.store.GetPlaylist(ctx, playlistID)
	if err != nil {
		if errors.Is(err, rundown.ErrPlaylistNotFound) {
			return tl, nil
		}
		return nil, err
	}
	if !p.IsActive() {
		return tl, nil
	}
	tl.PlaylistID = p.ID

	ids := p.SelectedPartInstanceIDs()
	instances, err := b.store.PartInstances(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("loading part instances: %w", err)
	}
	pieces, err := b.store.PieceInstances(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("loading piece instances: %w", err)
	}

	byID := make(map[string]*rundown.PartInstance, len(instances))
	for _, inst := range instances {
		byID[inst.ID] = inst
	}
	piecesOf := make(map[string][]*rundown.PieceInstance)
	for _, pi := range pieces {
		if !pi.Disabled {
			piecesOf[pi.PartInstanceID] = append(piecesOf[pi.PartInstanceID], pi)
		}
	}
	slot := func(ref rundown.PartRef) *rundown.PartInstance {
		if info := p.PartInfo(ref); info != nil {
			return byID[info.PartInstanceID]
		}
		return nil
	}

	busy := make(map[string]bool)
	if current := slot(rundown.PartCurrent); current != nil {
		start := now
		if current.Timings.PlannedStartedPlayback != nil {
			start = *current.Timings.PlannedStartedPlayback
		}
		for _, pi := range piecesOf[current.ID] {
			obj := pieceObject(current, pi, start, priorityOnAir)
			if isHoldExtension(pi) {
				obj.Priority = priorityHold
			}
			tl.Objects = append(tl.Objects, obj)
			busy[obj.Layer] = true
		}
	}

	if next := slot(rundown.PartNext); next != nil {
		for _, pi := range piecesOf[next.ID] {
			if pi.IsInfiniteContinuation() || busy[layerOf(pi)] {
				continue
			}
			obj := pieceObject(next, pi, now, priorityLookahead)
			obj.ID = "lookahead_" + pi.ID
			obj.IsLookahead = true
			obj.Duration = nil
			tl.Objects = append(tl.Objects, obj)
		}
	}
	return tl, nil
}

func layerOf(pi *rundown.PieceInstance) string {
	if pi.Piece.OutputLayerID != "" {
		return pi.Piece.OutputLayerID + "/" + pi.Piece.SourceLayerID
	}
	return pi.Piece.SourceLayerID
}

func pieceObject(inst *rundown.PartInstance, pi *rundown.PieceInstance, partStart time.Time, priority int) rundown.TimelineObject {
	start := partStart.Add(pi.Piece.Enable.Start)
	if pi.PlannedStartedPlayback != nil {
		start = *pi.PlannedStartedPlayback
	}

	var duration *time.Duration
	switch {
	case pi.UserDuration != nil:
		d := partStart.Add(*pi.UserDuration).Sub(start)
		duration = &d
	case pi.Piece.Enable.Duration != nil:
		d := *pi.Piece.Enable.Duration
		duration = &d
	}
	if duration != nil && *duration < 0 {
		zero := time.Duration(0)
		duration = &zero
	}

	return rundown.TimelineObject{
		ID:              "piece_" + pi.ID,
		Layer:           layerOf(pi),
		PartInstanceID:  inst.ID,
		PieceInstanceID: pi.ID,
		Start:           start,
		Duration:        duration,
		Priority:        priority,
		Content:         pi.Piece.Content,
	}
}
