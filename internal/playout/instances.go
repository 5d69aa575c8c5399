package playout

import (
	"cmp"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/playout-core/internal/playout/cache"
	"github.com/nerrad567/playout-core/internal/rundown"
)

// NewPartInstance builds an untaken instance of part for the active
// playlist p.
func (s *Service) NewPartInstance(p *rundown.Playlist, part *rundown.Part) *rundown.PartInstance {
	now := s.now()
	return &rundown.PartInstance{
		ID:           uuid.NewString(),
		PlaylistID:   p.ID,
		RundownID:    part.RundownID,
		SegmentID:    part.SegmentID,
		ActivationID: p.ActivationID,
		Part:         *part,
		Timings:      rundown.PartInstanceTimings{SetAsNext: &now},
	}
}

// NewPieceInstance builds an instance of piece inside inst.
func NewPieceInstance(inst *rundown.PartInstance, piece *rundown.Piece) *rundown.PieceInstance {
	pi := &rundown.PieceInstance{
		ID:             uuid.NewString(),
		PartInstanceID: inst.ID,
		RundownID:      inst.RundownID,
		PlaylistID:     inst.PlaylistID,
		Piece:          *piece.DeepCopy(),
	}
	if piece.Lifespan.IsInfinite() {
		pi.Infinite = &rundown.Infinite{
			InfiniteInstanceID: uuid.NewString(),
			InfinitePieceID:    piece.ID,
		}
	}
	return pi
}

// continuations returns the infinite pieces of from that carry on into to.
// own are the pieces to starts with; a piece on the same source layer that
// starts with the part or is itself infinite replaces the continuation.
func continuations(from *rundown.PartInstance, fromPieces []*rundown.PieceInstance, to *rundown.PartInstance, own []*rundown.PieceInstance) []*rundown.PieceInstance {
	replaced := make(map[string]bool)
	for _, pi := range own {
		if pi.IsInfiniteContinuation() || pi.Disabled {
			continue
		}
		if pi.Piece.Lifespan.IsInfinite() || (pi.Piece.Enable.Start == 0 && !pi.Piece.Enable.StartNow) {
			replaced[pi.Piece.SourceLayerID] = true
		}
	}

	var out []*rundown.PieceInstance
	for _, pi := range fromPieces {
		if !pi.Piece.Lifespan.IsInfinite() || pi.Disabled || pi.UserDuration != nil {
			continue
		}
		if replaced[pi.Piece.SourceLayerID] {
			continue
		}
		switch pi.Piece.Lifespan {
		case rundown.LifespanOutOnSegmentEnd:
			if from.SegmentID != to.SegmentID {
				continue
			}
		case rundown.LifespanOutOnRundownEnd:
			if from.RundownID != to.RundownID {
				continue
			}
		}
		out = append(out, continuation(pi, to))
	}
	return out
}

// continuation copies pi into to. The ID is derived from the infinite
// instance so repeated syncs produce the same document.
func continuation(pi *rundown.PieceInstance, to *rundown.PartInstance) *rundown.PieceInstance {
	infiniteID := pi.ID
	fromPlayhead := pi.DynamicallyInserted != nil
	if pi.Infinite != nil {
		infiniteID = pi.Infinite.InfiniteInstanceID
		fromPlayhead = fromPlayhead || pi.Infinite.FromPreviousPlayhead
	}

	cont := pi.DeepCopy()
	cont.ID = to.ID + "_" + infiniteID
	cont.PartInstanceID = to.ID
	cont.RundownID = to.RundownID
	cont.Piece.Enable.Start = 0
	cont.Piece.Enable.StartNow = false
	cont.Infinite = &rundown.Infinite{
		InfiniteInstanceID:   infiniteID,
		InfinitePieceID:      pi.Piece.ID,
		FromPreviousPart:     true,
		FromPreviousPlayhead: fromPlayhead,
	}
	return cont
}

// SyncNextInfinites brings the infinite continuations of the next instance
// in line with what is playing in the current one.
func SyncNextInfinites(c *cache.PlayoutCache) {
	next, ok := c.Selected(rundown.PartNext)
	if !ok {
		return
	}

	var own, existing []*rundown.PieceInstance
	for _, pi := range c.PieceInstancesOf(next.ID) {
		if pi.IsInfiniteContinuation() && pi.Piece.Lifespan.IsInfinite() {
			existing = append(existing, pi)
		} else {
			own = append(own, pi)
		}
	}

	var want []*rundown.PieceInstance
	if current, ok := c.Selected(rundown.PartCurrent); ok {
		want = continuations(current, c.PieceInstancesOf(current.ID), next, own)
	}

	keep := make(map[string]bool, len(want))
	for _, pi := range want {
		keep[pi.ID] = true
		if !c.PieceInstances.Has(pi.ID) {
			c.PieceInstances.Insert(pi)
		}
	}
	for _, pi := range existing {
		if !keep[pi.ID] {
			c.PieceInstances.Remove(pi.ID)
		}
	}
}

// holdExtensions copies the normal pieces of from into to so they keep
// playing underneath a hold.
func holdExtensions(fromPieces []*rundown.PieceInstance, to *rundown.PartInstance) []*rundown.PieceInstance {
	var out []*rundown.PieceInstance
	for _, pi := range fromPieces {
		if pi.Disabled || pi.Piece.Virtual || pi.UserDuration != nil {
			continue
		}
		if pi.Piece.PieceType != rundown.PieceNormal && pi.Piece.PieceType != "" {
			continue
		}
		if pi.Piece.Lifespan.IsInfinite() || pi.IsInfiniteContinuation() {
			continue
		}
		cont := continuation(pi, to)
		cont.ID = to.ID + "_hold_" + pi.ID
		out = append(out, cont)
	}
	return out
}

// isHoldExtension reports whether pi was carried over by a hold.
func isHoldExtension(pi *rundown.PieceInstance) bool {
	return pi.IsInfiniteContinuation() && !pi.Piece.Lifespan.IsInfinite()
}

// PieceStart returns when pi starts playing, or nil when its part has not
// started.
func PieceStart(part *rundown.PartInstance, pi *rundown.PieceInstance) *time.Time {
	if pi.PlannedStartedPlayback != nil {
		t := *pi.PlannedStartedPlayback
		return &t
	}
	if part.Timings.PlannedStartedPlayback == nil {
		return nil
	}
	t := part.Timings.PlannedStartedPlayback.Add(pi.Piece.Enable.Start)
	return &t
}

// RecomputeExpectedDuration extends a PartInstance's expected duration to
// cover the end of its longest finite piece.
func RecomputeExpectedDuration(c *cache.PlayoutCache, partInstanceID string) error {
	inst, ok := c.PartInstances.Get(partInstanceID)
	if !ok {
		return ErrPartInstanceNotFound.WithArgs(map[string]any{"part_instance_id": partInstanceID})
	}

	base := inst.Part.ExpectedDuration
	if part, ok := c.Part(inst.Part.ID); ok {
		base = part.ExpectedDuration
	}

	var end time.Duration
	for _, pi := range c.PieceInstancesOf(partInstanceID) {
		if pi.Disabled || pi.Piece.Virtual || pi.IsInfiniteContinuation() || pi.Piece.Lifespan.IsInfinite() {
			continue
		}
		var pieceEnd time.Duration
		switch {
		case pi.UserDuration != nil:
			pieceEnd = *pi.UserDuration
		case pi.Piece.Enable.Duration != nil:
			start := pi.Piece.Enable.Start
			if pi.Piece.Enable.StartNow && pi.PlannedStartedPlayback != nil && inst.Timings.PlannedStartedPlayback != nil {
				start = pi.PlannedStartedPlayback.Sub(*inst.Timings.PlannedStartedPlayback)
			}
			pieceEnd = start + *pi.Piece.Enable.Duration
		default:
			continue
		}
		end = max(end, pieceEnd)
	}

	want := max(base, end)
	if want == inst.Part.ExpectedDuration {
		return nil
	}
	return c.PartInstances.Update(partInstanceID, func(pi *rundown.PartInstance) {
		pi.Part.ExpectedDuration = want
	})
}

// ─── Show order ───────────────────────────────────────────────────

// showOrder positions parts by segment order then rank.
type showOrder struct {
	segPos map[string]int
}

func newShowOrder(c *cache.PlayoutCache) showOrder {
	o := showOrder{segPos: make(map[string]int)}
	for i, s := range c.OrderedSegments() {
		o.segPos[s.ID] = i
	}
	return o
}

// compare orders a part against a reference instance. Instances whose
// segment is gone sort after everything.
func (o showOrder) compare(p *rundown.Part, ref *rundown.PartInstance) int {
	refSeg, ok := o.segPos[ref.SegmentID]
	if !ok {
		return -1
	}
	if c := cmp.Compare(o.segPos[p.SegmentID], refSeg); c != 0 {
		return c
	}
	return cmp.Compare(p.Rank, ref.Rank())
}

// insertionIndex returns the index of ref's part in parts, or the index of
// the first part after it with found=false when the part is not listed.
func (o showOrder) insertionIndex(parts []*rundown.Part, ref *rundown.PartInstance) (idx int, found bool) {
	if i := slices.IndexFunc(parts, func(p *rundown.Part) bool { return p.ID == ref.Part.ID }); i >= 0 {
		return i, true
	}
	for i, p := range parts {
		if o.compare(p, ref) > 0 {
			return i, false
		}
	}
	return len(parts), false
}

// NextSelection is the part chosen to follow the current one.
type NextSelection struct {
	Part                    *rundown.Part
	ConsumesQueuedSegmentID string
}

// SelectNextPart chooses the part after ref, or the first playable part
// when ref is nil. Once the walk leaves ref's segment a queued segment
// wins over the scripted order. Nil means there is nothing left to play.
func SelectNextPart(c *cache.PlayoutCache, ref *rundown.PartInstance) *NextSelection {
	parts := c.OrderedParts()
	queued := c.Playlist().QueuedSegmentID

	var candidate *rundown.Part
	start := 0
	if ref != nil {
		idx, found := newShowOrder(c).insertionIndex(parts, ref)
		start = idx
		if found {
			start = idx + 1
		}
	}
	for _, p := range parts[start:] {
		if p.IsPlayable() {
			candidate = p
			break
		}
	}

	if queued != "" && (ref == nil || candidate == nil || candidate.SegmentID != ref.SegmentID) {
		for _, p := range parts {
			if p.SegmentID == queued && p.IsPlayable() && (ref == nil || p.ID != ref.Part.ID) {
				return &NextSelection{Part: p, ConsumesQueuedSegmentID: queued}
			}
		}
	}
	if candidate == nil {
		return nil
	}
	return &NextSelection{Part: candidate}
}
