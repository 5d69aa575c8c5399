package playout

import (
	"github.com/nerrad567/playout-core/internal/playout/cache"
	"github.com/nerrad567/playout-core/internal/rundown"
)

// ActivateHold arms a hold between the current part (hold mode "from")
// and the next part (hold mode "to"). The next take starts the hold and
// the take after that completes it.
func (s *Service) ActivateHold(c *cache.PlayoutCache) error {
	p, err := requireActive(c)
	if err != nil {
		return err
	}
	if p.HoldState != rundown.HoldNone && p.HoldState != "" {
		return ErrHoldAlreadyActive
	}

	current, hasCurrent := c.Selected(rundown.PartCurrent)
	next, hasNext := c.Selected(rundown.PartNext)
	if !hasCurrent || !hasNext {
		return ErrHoldNeedsParts
	}
	if current.Part.HoldMode != rundown.HoldModeFrom || next.Part.HoldMode != rundown.HoldModeTo {
		return ErrHoldIncompatibleParts.WithArgs(map[string]any{
			"current_hold_mode": string(current.Part.HoldMode),
			"next_hold_mode":    string(next.Part.HoldMode),
		})
	}
	if current.SegmentID != next.SegmentID {
		return ErrHoldNotSameSegment
	}

	now := s.now()
	for _, pi := range c.PieceInstancesOf(current.ID) {
		if pi.DynamicallyInserted == nil || pi.IsInfiniteContinuation() {
			continue
		}
		if start := PieceStart(current, pi); start != nil && !start.After(now) {
			return ErrHoldAfterAdlib.WithArgs(map[string]any{"piece_instance_id": pi.ID})
		}
	}

	c.UpdatePlaylist(func(pl *rundown.Playlist) { pl.HoldState = rundown.HoldPending })
	c.RequestTimelineUpdate()
	return nil
}

// DeactivateHold cancels a hold that has not started yet.
func (s *Service) DeactivateHold(c *cache.PlayoutCache) error {
	p, err := requireActive(c)
	if err != nil {
		return err
	}
	if p.HoldState != rundown.HoldPending {
		return ErrHoldNotCancelable.WithArgs(map[string]any{"hold_state": string(p.HoldState)})
	}
	c.UpdatePlaylist(func(pl *rundown.Playlist) { pl.HoldState = rundown.HoldNone })
	c.RequestTimelineUpdate()
	return nil
}
