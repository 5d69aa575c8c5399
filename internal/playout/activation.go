package playout

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/playout-core/internal/playout/cache"
	"github.com/nerrad567/playout-core/internal/rundown"
)

// Activate puts the playlist live, or switches an active playlist between
// rehearsal and on-air. Only one playlist per studio may be active. A
// freshly activated playlist has its first playable part set as next.
func (s *Service) Activate(ctx context.Context, c *cache.PlayoutCache, rehearsal bool) error {
	p := c.Playlist()

	others, err := s.store.ListPlaylists(ctx, p.StudioID)
	if err != nil {
		return fmt.Errorf("listing playlists of studio %s: %w", p.StudioID, err)
	}
	for _, o := range others {
		if o.ID != p.ID && o.IsActive() {
			return ErrStudioHasActivePlaylist.WithArgs(map[string]any{"active_playlist_id": o.ID})
		}
	}

	if p.IsActive() {
		if p.Rehearsal != rehearsal {
			c.UpdatePlaylist(func(pl *rundown.Playlist) { pl.Rehearsal = rehearsal })
			c.RequestTimelineUpdate()
		}
		return nil
	}

	c.UpdatePlaylist(func(pl *rundown.Playlist) {
		pl.ActivationID = uuid.NewString()
		pl.Rehearsal = rehearsal
		pl.HoldState = rundown.HoldNone
		pl.PreviousPartInfo = nil
		pl.CurrentPartInfo = nil
		pl.NextPartInfo = nil
		pl.NextTimeOffset = nil
	})
	if sel := SelectNextPart(c, nil); sel != nil {
		if err := s.SetNextPart(c, sel.Part, false, nil, false); err != nil {
			return err
		}
	}
	c.RequestTimelineUpdate()
	s.getLogger().Info("playlist activated", "playlist_id", p.ID, "studio_id", p.StudioID, "rehearsal", rehearsal)
	return nil
}

// Deactivate takes the playlist off air. Instances stay in the store until
// the playlist is reset.
func (s *Service) Deactivate(c *cache.PlayoutCache) error {
	p, err := requireActive(c)
	if err != nil {
		return err
	}

	now := s.now()
	if current, ok := c.Selected(rundown.PartCurrent); ok && current.Timings.PlannedStoppedPlayback == nil {
		if err := c.PartInstances.Update(current.ID, func(pi *rundown.PartInstance) {
			pi.Timings.PlannedStoppedPlayback = &now
		}); err != nil {
			return err
		}
	}

	c.UpdatePlaylist(func(pl *rundown.Playlist) {
		pl.ActivationID = ""
		pl.Rehearsal = false
		pl.HoldState = rundown.HoldNone
		pl.PreviousPartInfo = nil
		pl.CurrentPartInfo = nil
		pl.NextPartInfo = nil
		pl.NextTimeOffset = nil
		pl.QueuedSegmentID = ""
	})
	c.RequestTimelineUpdate()
	s.getLogger().Info("playlist deactivated", "playlist_id", p.ID, "studio_id", p.StudioID)
	return nil
}

// Reset discards every instance and playback timing of the playlist. An
// active playlist gets its first part set as next again. Resetting while
// on air requires the studio's allow_reset_on_air setting.
func (s *Service) Reset(c *cache.PlayoutCache) error {
	p := c.Playlist()
	if p.IsActive() && !p.Rehearsal && !s.Settings(p.StudioID).AllowResetOnAir {
		return ErrResetOnAir
	}

	now := s.now()
	c.ClearAllInstances()
	c.UpdatePlaylist(func(pl *rundown.Playlist) {
		pl.PreviousPartInfo = nil
		pl.CurrentPartInfo = nil
		pl.NextPartInfo = nil
		pl.NextTimeOffset = nil
		pl.HoldState = rundown.HoldNone
		pl.QueuedSegmentID = ""
		pl.LastTakeTime = nil
		pl.StartedPlayback = nil
		pl.ResetTime = &now
	})

	if p.IsActive() {
		if sel := SelectNextPart(c, nil); sel != nil {
			if err := s.SetNextPart(c, sel.Part, false, nil, false); err != nil {
				return err
			}
		}
		c.RequestTimelineUpdate()
	}
	return nil
}

// QueueNextSegment queues a segment to play once the current segment ends.
// When the next part has already left the current segment, the first
// playable part of the queued segment becomes next straight away. An
// empty segmentID clears the queue.
func (s *Service) QueueNextSegment(c *cache.PlayoutCache, segmentID string) error {
	p, err := requireActive(c)
	if err != nil {
		return err
	}

	current, hasCurrent := c.Selected(rundown.PartCurrent)
	next, hasNext := c.Selected(rundown.PartNext)
	holding := p.HoldState == rundown.HoldPending || p.HoldState == rundown.HoldActive

	if segmentID == "" {
		if p.QueuedSegmentID == "" {
			return nil
		}
		c.UpdatePlaylist(func(pl *rundown.Playlist) { pl.QueuedSegmentID = "" })
		if hasNext && next.ConsumesQueuedSegmentID != "" && !p.NextPartInfo.ManuallySelected && !holding {
			var ref *rundown.PartInstance
			if hasCurrent {
				ref = current
			}
			var part *rundown.Part
			if sel := SelectNextPart(c, ref); sel != nil {
				part = sel.Part
			}
			return s.SetNextPart(c, part, false, nil, false)
		}
		return nil
	}

	seg, ok := c.Segment(segmentID)
	if !ok || seg.IsHidden {
		return ErrSegmentNotFound.WithArgs(map[string]any{"segment_id": segmentID})
	}
	var first *rundown.Part
	for _, part := range c.OrderedParts() {
		if part.SegmentID == segmentID && part.IsPlayable() && (!hasCurrent || part.ID != current.Part.ID) {
			first = part
			break
		}
	}
	if first == nil {
		return ErrSegmentNotPlayable.WithArgs(map[string]any{"segment_id": segmentID})
	}

	c.UpdatePlaylist(func(pl *rundown.Playlist) { pl.QueuedSegmentID = segmentID })

	leavingSegment := !hasCurrent || !hasNext || next.SegmentID != current.SegmentID
	if leavingSegment {
		if holding {
			return ErrDuringHold
		}
		return s.SetNextPart(c, first, false, nil, false)
	}
	c.RequestTimelineUpdate()
	return nil
}

// PartPlaybackStarted records the time the output device reported a
// selected PartInstance actually started. Repeated reports are ignored.
// The report never moves slots; only Take promotes next.
func (s *Service) PartPlaybackStarted(c *cache.PlayoutCache, partInstanceID string, at time.Time) error {
	var selected bool
	for _, id := range c.Playlist().SelectedPartInstanceIDs() {
		if id == partInstanceID {
			selected = true
		}
	}
	inst, ok := c.PartInstances.Get(partInstanceID)
	if !selected || !ok {
		return ErrPartInstanceNotFound.WithArgs(map[string]any{"part_instance_id": partInstanceID})
	}
	if inst.Timings.ReportedStartedPlayback != nil {
		return nil
	}

	if err := c.PartInstances.Update(partInstanceID, func(pi *rundown.PartInstance) {
		pi.Timings.ReportedStartedPlayback = &at
	}); err != nil {
		return err
	}
	if c.Playlist().StartedPlayback == nil {
		c.UpdatePlaylist(func(pl *rundown.Playlist) { pl.StartedPlayback = &at })
	}
	return nil
}
