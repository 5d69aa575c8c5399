package playout

import (
	"slices"
	"time"

	"github.com/nerrad567/playout-core/internal/playout/cache"
	"github.com/nerrad567/playout-core/internal/rundown"
)

// SetNextPart makes a fresh instance of part the next PartInstance, or
// clears the next slot when part is nil. An untaken next instance of the
// same part is reused.
//
// With clearQueuedSegment a queued segment is dropped when the new next
// part leaves the current segment without entering the queued one.
func (s *Service) SetNextPart(c *cache.PlayoutCache, part *rundown.Part, manual bool, offset *time.Duration, clearQueuedSegment bool) error {
	p, err := requireActive(c)
	if err != nil {
		return err
	}

	if part == nil {
		if next, ok := c.Selected(rundown.PartNext); ok && !next.IsTaken {
			c.RemovePartInstance(next.ID)
		}
		c.UpdatePlaylist(func(pl *rundown.Playlist) {
			pl.NextPartInfo = nil
			pl.NextTimeOffset = nil
		})
		c.RequestTimelineUpdate()
		return nil
	}

	if !part.IsPlayable() {
		return ErrPartNotPlayable.WithArgs(map[string]any{"part_id": part.ID})
	}

	if next, ok := c.Selected(rundown.PartNext); ok && !next.IsTaken && next.Part.ID == part.ID && next.Orphaned == rundown.OrphanedNone {
		consumes := ""
		if p.QueuedSegmentID != "" && part.SegmentID == p.QueuedSegmentID {
			consumes = p.QueuedSegmentID
		}
		s.pointNextAt(c, next, manual, offset, consumes, clearQueuedSegment)
		return nil
	}

	inst := s.NewPartInstance(p, part)
	var pieces []*rundown.PieceInstance
	for _, piece := range c.PiecesForPart(part.ID) {
		pieces = append(pieces, NewPieceInstance(inst, piece))
	}
	return s.SetNextInstance(c, inst, pieces, manual, offset, clearQueuedSegment)
}

// SetNextInstance makes inst, with its own pieces, the next PartInstance.
// The previous next instance is discarded and infinites still playing in
// the current instance are continued into inst.
func (s *Service) SetNextInstance(c *cache.PlayoutCache, inst *rundown.PartInstance, pieces []*rundown.PieceInstance, manual bool, offset *time.Duration, clearQueuedSegment bool) error {
	p, err := requireActive(c)
	if err != nil {
		return err
	}

	if next, ok := c.Selected(rundown.PartNext); ok && !next.IsTaken {
		c.RemovePartInstance(next.ID)
	}

	current, hasCurrent := c.Selected(rundown.PartCurrent)
	if hasCurrent {
		inst.TakeCount = current.TakeCount + 1
	}
	consumes := ""
	if p.QueuedSegmentID != "" && inst.SegmentID == p.QueuedSegmentID {
		consumes = p.QueuedSegmentID
	}
	inst.ConsumesQueuedSegmentID = consumes

	c.PartInstances.Insert(inst)
	for _, pi := range pieces {
		c.PieceInstances.Insert(pi)
	}
	if hasCurrent {
		for _, pi := range continuations(current, c.PieceInstancesOf(current.ID), inst, pieces) {
			c.PieceInstances.Insert(pi)
		}
	}

	s.pointNextAt(c, inst, manual, offset, consumes, clearQueuedSegment)
	return nil
}

func (s *Service) pointNextAt(c *cache.PlayoutCache, inst *rundown.PartInstance, manual bool, offset *time.Duration, consumes string, clearQueuedSegment bool) {
	current, hasCurrent := c.Selected(rundown.PartCurrent)
	c.UpdatePlaylist(func(pl *rundown.Playlist) {
		pl.NextPartInfo = &rundown.SelectedPartInstance{
			PartInstanceID:          inst.ID,
			RundownID:               inst.RundownID,
			ManuallySelected:        manual,
			ConsumesQueuedSegmentID: consumes,
		}
		pl.NextTimeOffset = offset
		if clearQueuedSegment && consumes == "" && pl.QueuedSegmentID != "" &&
			(!hasCurrent || inst.SegmentID != current.SegmentID) {
			pl.QueuedSegmentID = ""
		}
	})
	if inst.ConsumesQueuedSegmentID != consumes {
		// Reused instance: keep its flag in step with the slot.
		_ = c.PartInstances.Update(inst.ID, func(pi *rundown.PartInstance) {
			pi.ConsumesQueuedSegmentID = consumes
		})
	}
	c.RequestTimelineUpdate()
}

// MoveNextPart moves the next part by partDelta playable parts, or, when
// segmentDelta is non-zero, to the first playable part segmentDelta
// segments away. The walk starts from the next part, or the current part
// when nothing is next, and never lands on the part on air. It returns the
// ID of the new next part, or "" when the walk ran off either end.
func (s *Service) MoveNextPart(c *cache.PlayoutCache, partDelta, segmentDelta int) (string, error) {
	p, err := requireActive(c)
	if err != nil {
		return "", err
	}
	if partDelta == 0 && segmentDelta == 0 {
		return "", ErrMoveNextInvalid
	}
	if p.HoldState == rundown.HoldPending || p.HoldState == rundown.HoldActive {
		return "", ErrDuringHold
	}

	current, _ := c.Selected(rundown.PartCurrent)
	ref, ok := c.Selected(rundown.PartNext)
	if !ok {
		ref = current
	}

	var target *rundown.Part
	if segmentDelta != 0 {
		target = moveBySegment(c, ref, current, segmentDelta)
	} else {
		target = moveByPart(c, ref, current, partDelta)
	}
	if target == nil {
		return "", nil
	}
	if err := s.SetNextPart(c, target, true, nil, true); err != nil {
		return "", err
	}
	return target.ID, nil
}

func moveByPart(c *cache.PlayoutCache, ref, current *rundown.PartInstance, delta int) *rundown.Part {
	var candidates []*rundown.Part
	for _, part := range c.OrderedParts() {
		isRef := ref != nil && part.ID == ref.Part.ID
		isCurrent := current != nil && part.ID == current.Part.ID
		if isRef || (part.IsPlayable() && !isCurrent) {
			candidates = append(candidates, part)
		}
	}

	var target int
	switch {
	case ref == nil && delta > 0:
		target = delta - 1
	case ref == nil:
		target = len(candidates) + delta
	default:
		idx, found := newShowOrder(c).insertionIndex(candidates, ref)
		switch {
		case found:
			target = idx + delta
		case delta > 0:
			target = idx + delta - 1
		default:
			target = idx + delta
		}
	}
	if target < 0 || target >= len(candidates) {
		return nil
	}
	part := candidates[target]
	if ref != nil && part.ID == ref.Part.ID {
		return nil
	}
	return part
}

func moveBySegment(c *cache.PlayoutCache, ref, current *rundown.PartInstance, delta int) *rundown.Part {
	segments := slices.DeleteFunc(c.OrderedSegments(), func(s *rundown.Segment) bool { return s.IsHidden })
	parts := c.OrderedParts()

	refIdx := -1
	if delta < 0 {
		refIdx = len(segments)
	}
	if ref != nil {
		if i := slices.IndexFunc(segments, func(s *rundown.Segment) bool { return s.ID == ref.SegmentID }); i >= 0 {
			refIdx = i
		}
	}

	step := 1
	if delta < 0 {
		step = -1
	}
	for i := refIdx + delta; i >= 0 && i < len(segments); i += step {
		for _, part := range parts {
			if part.SegmentID != segments[i].ID || !part.IsPlayable() {
				continue
			}
			if current != nil && part.ID == current.Part.ID {
				continue
			}
			return part
		}
	}
	return nil
}
