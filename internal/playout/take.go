package playout

import (
	"context"
	"time"

	"github.com/nerrad567/playout-core/internal/events"
	"github.com/nerrad567/playout-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/playout-core/internal/jobs"
	"github.com/nerrad567/playout-core/internal/playout/cache"
	"github.com/nerrad567/playout-core/internal/rundown"
)

// Take moves the next PartInstance on air.
//
// fromPartInstanceID must name the instance currently on air ("" when
// nothing is) so that a take racing another take fails instead of
// skipping a part. Takes closer together than the studio's minimum take
// span are refused; the span runs from the later of the last take and the
// current part's start, planned or reported by the output. While a hold is active the take completes the hold
// and does not change parts.
func (s *Service) Take(_ context.Context, c *cache.PlayoutCache, fromPartInstanceID string) error {
	p, err := requireActive(c)
	if err != nil {
		return err
	}

	current, hasCurrent := c.Selected(rundown.PartCurrent)
	next, hasNext := c.Selected(rundown.PartNext)
	if !hasNext && p.HoldState != rundown.HoldActive {
		return ErrTakeNoNextPart
	}

	currentID := ""
	if hasCurrent {
		currentID = current.ID
	}
	if fromPartInstanceID != currentID {
		return ErrTakeFromIncorrectPart.WithArgs(map[string]any{
			"from_part_instance_id":    fromPartInstanceID,
			"current_part_instance_id": currentID,
		})
	}

	now := s.now()
	span := s.Settings(p.StudioID).MinimumTakeSpan()
	last := p.LastTakeTime
	if hasCurrent {
		last = latest(last, latest(current.Timings.PlannedStartedPlayback, current.Timings.ReportedStartedPlayback))
	}
	var sinceLast time.Duration
	if last != nil {
		sinceLast = now.Sub(*last)
		if sinceLast < span {
			return ErrTakeRateLimit.WithArgs(map[string]any{
				"minimum_take_span_ms": span.Milliseconds(),
				"wait_ms":              (span - sinceLast).Milliseconds(),
			})
		}
	}

	if p.HoldState == rundown.HoldActive {
		return s.completeHold(c, p, current, now, sinceLast)
	}

	SyncNextInfinites(c)
	if p.HoldState == rundown.HoldPending && hasCurrent {
		for _, pi := range holdExtensions(c.PieceInstancesOf(current.ID), next) {
			c.PieceInstances.Insert(pi)
		}
	}

	if hasCurrent {
		if err := c.PartInstances.Update(current.ID, func(pi *rundown.PartInstance) {
			pi.Timings.PlannedStoppedPlayback = &now
		}); err != nil {
			return err
		}
	}
	if err := c.PartInstances.Update(next.ID, func(pi *rundown.PartInstance) {
		pi.IsTaken = true
		pi.Timings.Take = &now
		pi.Timings.PlannedStartedPlayback = &now
		pi.PlayOffset = p.NextTimeOffset
	}); err != nil {
		return err
	}
	for _, pi := range c.PieceInstancesOf(next.ID) {
		if pi.PlannedStartedPlayback != nil {
			continue
		}
		start := now.Add(pi.Piece.Enable.Start)
		if pi.Piece.Enable.StartNow {
			start = now
		}
		if err := c.PieceInstances.Update(pi.ID, func(doc *rundown.PieceInstance) {
			doc.PlannedStartedPlayback = &start
		}); err != nil {
			return err
		}
	}

	c.UpdatePlaylist(func(pl *rundown.Playlist) {
		pl.PreviousPartInfo = pl.CurrentPartInfo
		pl.CurrentPartInfo = pl.NextPartInfo
		pl.NextPartInfo = nil
		pl.NextTimeOffset = nil
		pl.LastTakeTime = &now
		if pl.StartedPlayback == nil {
			pl.StartedPlayback = &now
		}
		if next.ConsumesQueuedSegmentID != "" && pl.QueuedSegmentID == next.ConsumesQueuedSegmentID {
			pl.QueuedSegmentID = ""
		}
		switch pl.HoldState {
		case rundown.HoldPending:
			pl.HoldState = rundown.HoldActive
		case rundown.HoldComplete:
			pl.HoldState = rundown.HoldNone
		}
	})

	taken, _ := c.Selected(rundown.PartCurrent)
	if sel := SelectNextPart(c, taken); sel != nil {
		if err := s.SetNextPart(c, sel.Part, false, nil, false); err != nil {
			return err
		}
	}

	c.RequestTimelineUpdate()
	s.scheduleAutonext(c, p.StudioID, taken)
	s.deferTakeReport(c, p, taken, now, sinceLast, false)
	return nil
}

// completeHold ends an active hold: the pieces extended from the hold's
// first part stop now and the part on air keeps playing.
func (s *Service) completeHold(c *cache.PlayoutCache, p *rundown.Playlist, current *rundown.PartInstance, now time.Time, sinceLast time.Duration) error {
	if current != nil && current.Timings.PlannedStartedPlayback != nil {
		stopAt := now.Sub(*current.Timings.PlannedStartedPlayback)
		for _, pi := range c.PieceInstancesOf(current.ID) {
			if !isHoldExtension(pi) || pi.UserDuration != nil {
				continue
			}
			if err := c.PieceInstances.Update(pi.ID, func(doc *rundown.PieceInstance) {
				doc.UserDuration = &stopAt
			}); err != nil {
				return err
			}
		}
	}

	c.UpdatePlaylist(func(pl *rundown.Playlist) {
		pl.HoldState = rundown.HoldComplete
		pl.LastTakeTime = &now
	})
	c.RequestTimelineUpdate()
	s.deferTakeReport(c, p, current, now, sinceLast, true)
	return nil
}

// scheduleAutonext queues a debounced take for when an autonext part's
// expected duration has elapsed. A manual take before then makes the
// queued take fail harmlessly with take_from_incorrect_part.
func (s *Service) scheduleAutonext(c *cache.PlayoutCache, studioID string, taken *rundown.PartInstance) {
	if s.scheduler == nil || taken == nil || !taken.Part.Autonext || taken.Part.ExpectedDuration <= 0 {
		return
	}
	if s.Settings(studioID).DisableAutonext {
		return
	}
	payload := TakePayload{PlaylistID: taken.PlaylistID, FromPartInstanceID: taken.ID}
	delay := taken.Part.ExpectedDuration
	if taken.PlayOffset != nil {
		delay -= *taken.PlayOffset
	}
	if delay <= 0 {
		delay = time.Millisecond
	}
	c.DeferAfterRelease(func(context.Context) error {
		s.scheduler.Enqueue(QueueName(studioID), JobTakeNextPart, payload, jobs.EnqueueOptions{Debounce: delay})
		s.getLogger().Debug("autonext scheduled",
			"playlist_id", taken.PlaylistID,
			"part_instance_id", taken.ID,
			"delay", delay,
		)
		return nil
	})
}

func (s *Service) deferTakeReport(c *cache.PlayoutCache, p *rundown.Playlist, taken *rundown.PartInstance, at time.Time, sinceLast time.Duration, holdComplete bool) {
	partID, instanceID := "", ""
	if taken != nil {
		partID, instanceID = taken.Part.ID, taken.ID
	}
	c.DeferAfterRelease(func(ctx context.Context) error {
		if s.metrics != nil {
			s.metrics.WriteTakeMetric(influxdb.TakeSample{
				StudioID:     p.StudioID,
				PlaylistID:   p.ID,
				PartID:       partID,
				TakeTime:     at,
				SinceLast:    sinceLast,
				HoldComplete: holdComplete,
			})
		}
		s.events.Publish(ctx, events.Event{
			Type:       events.TypeTake,
			StudioID:   p.StudioID,
			PlaylistID: p.ID,
			Time:       at,
			Data: map[string]any{
				"part_id":          partID,
				"part_instance_id": instanceID,
				"hold_complete":    holdComplete,
			},
		})
		s.getLogger().Info("take",
			"playlist_id", p.ID,
			"part_id", partID,
			"hold_complete", holdComplete,
		)
		return nil
	})
}

func latest(a, b *time.Time) *time.Time {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	case b.After(*a):
		return b
	default:
		return a
	}
}
