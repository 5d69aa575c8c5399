package actions

import (
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/playout-core/internal/playout"
	"github.com/nerrad567/playout-core/internal/playout/cache"
	"github.com/nerrad567/playout-core/internal/rundown"
	"github.com/nerrad567/playout-core/internal/showstyle"
)

// Change classifies what an action did to a selected PartInstance.
type Change int

const (
	// ChangeNone means the instance was not touched.
	ChangeNone Change = iota
	// ChangeSafe means the instance changed in a way the timeline can
	// pick up without re-taking the part.
	ChangeSafe
)

func (c Change) String() string {
	if c == ChangeSafe {
		return "safe_change"
	}
	return "none"
}

// Context is handed to an action handler. Its mutators only touch the
// current and next PartInstances and record which of them changed so
// that the follow-up work after the action can be kept to what is needed.
//
// A Context is valid for the duration of one handler call and is not safe
// for concurrent use.
type Context struct {
	svc      *playout.Service
	c        *cache.PlayoutCache
	style    *showstyle.ShowStyle
	studioID string
	now      time.Time

	currentChange Change
	nextChange    Change
	changedParts  map[string]bool
	takeAfter     bool
}

func newContext(svc *playout.Service, c *cache.PlayoutCache, style *showstyle.ShowStyle, studioID string) *Context {
	return &Context{
		svc:          svc,
		c:            c,
		style:        style,
		studioID:     studioID,
		now:          svc.Now(),
		changedParts: make(map[string]bool),
	}
}

// ShowStyle returns the resolved show style of the playlist.
func (ac *Context) ShowStyle() *showstyle.ShowStyle { return ac.style }

// Now returns the time the action started executing.
func (ac *Context) Now() time.Time { return ac.now }

// CurrentChange reports what the action did to the current instance.
func (ac *Context) CurrentChange() Change { return ac.currentChange }

// NextChange reports what the action did to the next instance.
func (ac *Context) NextChange() Change { return ac.nextChange }

// TakeAfterExecute asks for a take once the action has returned.
func (ac *Context) TakeAfterExecute(take bool) { ac.takeAfter = take }

// PartInstance returns a copy of the instance in a slot.
func (ac *Context) PartInstance(ref rundown.PartRef) (*rundown.PartInstance, bool) {
	return ac.c.Selected(ref)
}

// PieceInstances returns copies of the PieceInstances of the instance in a
// slot, or nil when the slot is empty.
func (ac *Context) PieceInstances(ref rundown.PartRef) []*rundown.PieceInstance {
	inst, ok := ac.c.Selected(ref)
	if !ok {
		return nil
	}
	return ac.c.PieceInstancesOf(inst.ID)
}

// InsertPiece adds piece to the current or next instance as a dynamically
// inserted PieceInstance. An empty piece ID gets a generated one. A piece
// with Enable.StartNow starts at the playhead when inserted into the
// current instance.
func (ac *Context) InsertPiece(ref rundown.PartRef, piece rundown.Piece) (*rundown.PieceInstance, error) {
	inst, err := ac.selected(ref)
	if err != nil {
		return nil, err
	}
	if _, ok := ac.style.SourceLayer(piece.SourceLayerID); !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSourceLayer, piece.SourceLayerID)
	}

	if piece.ID == "" {
		piece.ID = uuid.NewString()
	}
	if piece.PieceType == "" {
		piece.PieceType = rundown.PieceNormal
	}
	piece.StartPartID = inst.Part.ID
	piece.RundownID = inst.RundownID

	pi := playout.NewPieceInstance(inst, &piece)
	now := ac.now
	pi.DynamicallyInserted = &now
	if ref == rundown.PartCurrent && inst.Timings.PlannedStartedPlayback != nil {
		if piece.Enable.StartNow {
			pi.PlannedStartedPlayback = &now
		} else {
			pi.PlannedStartedPlayback = playout.PieceStart(inst, pi)
		}
	}

	ac.c.PieceInstances.Insert(pi)
	ac.mark(ref, inst.ID, true)
	return pi.DeepCopy(), nil
}

// UpdatePieceInstance applies fn to a PieceInstance of the current or next
// instance. Identity and ownership fields cannot be changed.
func (ac *Context) UpdatePieceInstance(pieceInstanceID string, fn func(pi *rundown.PieceInstance)) error {
	pi, ok := ac.c.PieceInstances.Get(pieceInstanceID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrPieceInstanceNotFound, pieceInstanceID)
	}
	ref, ok := ac.refOf(pi.PartInstanceID)
	if !ok {
		return fmt.Errorf("%w: piece instance %s", ErrNotSelected, pieceInstanceID)
	}

	if err := ac.c.PieceInstances.Update(pieceInstanceID, func(doc *rundown.PieceInstance) {
		id, owner, rd, pl := doc.ID, doc.PartInstanceID, doc.RundownID, doc.PlaylistID
		fn(doc)
		doc.ID, doc.PartInstanceID, doc.RundownID, doc.PlaylistID = id, owner, rd, pl
	}); err != nil {
		return err
	}
	ac.mark(ref, pi.PartInstanceID, true)
	return nil
}

// UpdatePartInstance applies fn to the current or next instance. Identity,
// ownership and take state cannot be changed. An updated expected
// duration is kept as set.
func (ac *Context) UpdatePartInstance(ref rundown.PartRef, fn func(pi *rundown.PartInstance)) error {
	inst, err := ac.selected(ref)
	if err != nil {
		return err
	}
	if err := ac.c.PartInstances.Update(inst.ID, func(doc *rundown.PartInstance) {
		keep := *doc
		fn(doc)
		doc.ID, doc.PlaylistID, doc.RundownID, doc.SegmentID = keep.ID, keep.PlaylistID, keep.RundownID, keep.SegmentID
		doc.ActivationID, doc.IsTaken, doc.TakeCount, doc.Timings = keep.ActivationID, keep.IsTaken, keep.TakeCount, keep.Timings
		doc.Part.ID, doc.Part.RundownID, doc.Part.SegmentID = keep.Part.ID, keep.Part.RundownID, keep.Part.SegmentID
	}); err != nil {
		return err
	}
	ac.mark(ref, inst.ID, false)
	return nil
}

// QueuePart makes a new adlib part, played straight after the current
// one, the next PartInstance. It replaces whatever was next.
func (ac *Context) QueuePart(part rundown.Part, pieces []rundown.Piece) (*rundown.PartInstance, error) {
	current, err := ac.selected(rundown.PartCurrent)
	if err != nil {
		return nil, err
	}
	p := ac.c.Playlist()
	if p.HoldState == rundown.HoldPending || p.HoldState == rundown.HoldActive {
		return nil, playout.ErrDuringHold
	}
	if len(pieces) == 0 {
		return nil, ErrEmptyPart
	}
	for _, piece := range pieces {
		if _, ok := ac.style.SourceLayer(piece.SourceLayerID); !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownSourceLayer, piece.SourceLayerID)
		}
	}

	if part.ID == "" {
		part.ID = uuid.NewString()
	}
	part.RundownID = current.RundownID
	part.SegmentID = current.SegmentID
	part.Rank = ac.rankAfter(current)
	part.Invalid, part.Floated = false, false

	inst := ac.svc.NewPartInstance(p, &part)
	inst.Orphaned = rundown.OrphanedAdlib

	now := ac.now
	instances := make([]*rundown.PieceInstance, 0, len(pieces))
	for _, piece := range pieces {
		if piece.ID == "" {
			piece.ID = uuid.NewString()
		}
		if piece.PieceType == "" {
			piece.PieceType = rundown.PieceNormal
		}
		piece.StartPartID = part.ID
		piece.RundownID = part.RundownID
		pi := playout.NewPieceInstance(inst, &piece)
		pi.DynamicallyInserted = &now
		instances = append(instances, pi)
	}

	if err := ac.svc.SetNextInstance(ac.c, inst, instances, false, nil, false); err != nil {
		return nil, err
	}
	ac.mark(rundown.PartNext, inst.ID, true)
	return inst.DeepCopy(), nil
}

// rankAfter returns a rank between the current instance and the part
// that follows it in the same segment.
func (ac *Context) rankAfter(current *rundown.PartInstance) float64 {
	upper := current.Rank() + 1
	for _, p := range ac.c.OrderedParts() {
		if p.SegmentID == current.SegmentID && p.Rank > current.Rank() {
			upper = p.Rank
			break
		}
	}
	return (current.Rank() + upper) / 2
}

// StopPiecesOnLayers stops every started piece of the current instance on
// the given source layers, at the playhead or at offset into the part. It
// returns the IDs of the stopped PieceInstances.
func (ac *Context) StopPiecesOnLayers(sourceLayerIDs []string, offset *time.Duration) ([]string, error) {
	return ac.stopPieces(offset, func(pi *rundown.PieceInstance) bool {
		return slices.Contains(sourceLayerIDs, pi.Piece.SourceLayerID)
	})
}

// StopPieceInstances stops the given PieceInstances of the current
// instance. IDs that are not playing are ignored.
func (ac *Context) StopPieceInstances(pieceInstanceIDs []string, offset *time.Duration) ([]string, error) {
	return ac.stopPieces(offset, func(pi *rundown.PieceInstance) bool {
		return slices.Contains(pieceInstanceIDs, pi.ID)
	})
}

func (ac *Context) stopPieces(offset *time.Duration, match func(*rundown.PieceInstance) bool) ([]string, error) {
	current, err := ac.selected(rundown.PartCurrent)
	if err != nil {
		return nil, err
	}
	if current.Timings.PlannedStartedPlayback == nil {
		return nil, nil
	}

	stopAt := ac.now.Sub(*current.Timings.PlannedStartedPlayback)
	if offset != nil {
		stopAt = *offset
	}
	stopTime := current.Timings.PlannedStartedPlayback.Add(stopAt)

	var stopped []string
	for _, pi := range ac.c.PieceInstancesOf(current.ID) {
		if !match(pi) || pi.Disabled || pi.UserDuration != nil {
			continue
		}
		start := playout.PieceStart(current, pi)
		if start == nil || start.After(stopTime) {
			continue
		}
		if pi.Piece.Enable.Duration != nil && !start.Add(*pi.Piece.Enable.Duration).After(stopTime) {
			continue
		}
		if err := ac.c.PieceInstances.Update(pi.ID, func(doc *rundown.PieceInstance) {
			doc.UserDuration = &stopAt
		}); err != nil {
			return stopped, err
		}
		stopped = append(stopped, pi.ID)
	}
	if len(stopped) > 0 {
		ac.mark(rundown.PartCurrent, current.ID, true)
	}
	return stopped, nil
}

// RemovePieceInstances deletes PieceInstances from the next instance. Only
// the next instance may lose pieces; anything on air has to be stopped
// instead.
func (ac *Context) RemovePieceInstances(ref rundown.PartRef, pieceInstanceIDs []string) ([]string, error) {
	if ref != rundown.PartNext {
		return nil, fmt.Errorf("%w: %s", ErrRemoveOnlyNext, ref)
	}
	next, err := ac.selected(ref)
	if err != nil {
		return nil, err
	}
	removed := ac.c.PieceInstances.RemoveWhere(func(pi *rundown.PieceInstance) bool {
		return pi.PartInstanceID == next.ID && slices.Contains(pieceInstanceIDs, pi.ID)
	})
	if len(removed) > 0 {
		ac.mark(ref, next.ID, true)
	}
	return removed, nil
}

// FindLastPieceOnLayer returns the PieceInstance that most recently
// started on a source layer in the previous or current instance, or nil.
func (ac *Context) FindLastPieceOnLayer(sourceLayerID string) *rundown.PieceInstance {
	type candidate struct {
		pi    *rundown.PieceInstance
		start time.Time
	}
	var found []candidate
	for _, ref := range []rundown.PartRef{rundown.PartPrevious, rundown.PartCurrent} {
		inst, ok := ac.c.Selected(ref)
		if !ok {
			continue
		}
		for _, pi := range ac.c.PieceInstancesOf(inst.ID) {
			if pi.Piece.SourceLayerID != sourceLayerID || pi.Disabled {
				continue
			}
			start := playout.PieceStart(inst, pi)
			if start == nil || start.After(ac.now) {
				continue
			}
			found = append(found, candidate{pi, *start})
		}
	}
	if len(found) == 0 {
		return nil
	}
	last := slices.MaxFunc(found, func(a, b candidate) int {
		return a.start.Compare(b.start)
	})
	return last.pi
}

// selected resolves a current or next reference.
func (ac *Context) selected(ref rundown.PartRef) (*rundown.PartInstance, error) {
	if ref != rundown.PartCurrent && ref != rundown.PartNext {
		return nil, fmt.Errorf("%w: %s", ErrNotSelected, ref)
	}
	inst, ok := ac.c.Selected(ref)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoPartInstance, ref)
	}
	return inst, nil
}

// refOf finds which of current or next a PartInstance is.
func (ac *Context) refOf(partInstanceID string) (rundown.PartRef, bool) {
	for _, ref := range []rundown.PartRef{rundown.PartCurrent, rundown.PartNext} {
		if inst, ok := ac.c.Selected(ref); ok && inst.ID == partInstanceID {
			return ref, true
		}
	}
	return 0, false
}

func (ac *Context) mark(ref rundown.PartRef, partInstanceID string, piecesChanged bool) {
	switch ref {
	case rundown.PartCurrent:
		ac.currentChange = ChangeSafe
	case rundown.PartNext:
		ac.nextChange = ChangeSafe
	}
	if piecesChanged {
		ac.changedParts[partInstanceID] = true
	}
}

// changedPartInstances returns the instances whose pieces changed, sorted.
func (ac *Context) changedPartInstances() []string {
	ids := make([]string, 0, len(ac.changedParts))
	for id := range ac.changedParts {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
