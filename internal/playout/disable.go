package playout

import (
	"cmp"
	"slices"
	"time"

	"github.com/nerrad567/playout-core/internal/playout/cache"
	"github.com/nerrad567/playout-core/internal/rundown"
)

// DisableNextPiece disables the first piece that has not started yet on a
// disable-able source layer, looking in the current part and then the
// next part. With undo it re-enables the most recently disabled one
// instead, looking in the opposite order.
func (s *Service) DisableNextPiece(c *cache.PlayoutCache, undo bool) error {
	p, err := requireActive(c)
	if err != nil {
		return err
	}

	now := s.now()
	type slot struct {
		ref           rundown.PartRef
		ignoreStarted bool
	}
	slots := []slot{{rundown.PartCurrent, false}, {rundown.PartNext, true}}
	if undo {
		slices.Reverse(slots)
	}

	for _, sl := range slots {
		inst, ok := c.Selected(sl.ref)
		if !ok {
			continue
		}
		pieces := s.disableCandidates(c, p.StudioID, inst, now, sl.ignoreStarted)
		if undo {
			slices.Reverse(pieces)
		}
		for _, pi := range pieces {
			if pi.Disabled != undo {
				continue
			}
			if err := c.PieceInstances.Update(pi.ID, func(doc *rundown.PieceInstance) {
				doc.Disabled = !undo
			}); err != nil {
				return err
			}
			c.RequestTimelineUpdate()
			return nil
		}
	}
	return ErrDisableNoPieceFound
}

// disableCandidates returns the pieces of inst that may be disabled and
// have not started, ordered by start offset then name.
func (s *Service) disableCandidates(c *cache.PlayoutCache, studioID string, inst *rundown.PartInstance, now time.Time, ignoreStarted bool) []*rundown.PieceInstance {
	var nowInPart time.Duration
	if !ignoreStarted && inst.Timings.PlannedStartedPlayback != nil {
		nowInPart = now.Sub(*inst.Timings.PlannedStartedPlayback)
	}

	offset := func(pi *rundown.PieceInstance) time.Duration {
		if pi.Piece.Enable.StartNow {
			if pi.PlannedStartedPlayback != nil && inst.Timings.PlannedStartedPlayback != nil {
				return pi.PlannedStartedPlayback.Sub(*inst.Timings.PlannedStartedPlayback)
			}
			return nowInPart
		}
		return pi.Piece.Enable.Start
	}

	var out []*rundown.PieceInstance
	for _, pi := range c.PieceInstancesOf(inst.ID) {
		if pi.Piece.Virtual || pi.IsInfiniteContinuation() {
			continue
		}
		if pi.Piece.PieceType != rundown.PieceNormal && pi.Piece.PieceType != "" {
			continue
		}
		if !s.layerAllowsDisable(c, studioID, pi) {
			continue
		}
		if offset(pi) < nowInPart {
			continue
		}
		out = append(out, pi)
	}
	slices.SortStableFunc(out, func(a, b *rundown.PieceInstance) int {
		if n := cmp.Compare(offset(a), offset(b)); n != 0 {
			return n
		}
		if n := cmp.Compare(a.Piece.Name, b.Piece.Name); n != 0 {
			return n
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

func (s *Service) layerAllowsDisable(c *cache.PlayoutCache, studioID string, pi *rundown.PieceInstance) bool {
	r, ok := c.Rundown(pi.RundownID)
	if !ok {
		return false
	}
	style, err := s.ShowStyle(studioID, r.ShowStyleID)
	if err != nil {
		s.getLogger().Warn("show style unavailable", "show_style_id", r.ShowStyleID, "error", err)
		return false
	}
	layer, ok := style.SourceLayer(pi.Piece.SourceLayerID)
	return ok && layer.AllowDisable
}
