package rundown

import (
	"slices"
	"time"
)

// HoldState tracks a hold between two complementary parts.
type HoldState string

const (
	HoldNone     HoldState = "none"
	HoldPending  HoldState = "pending"
	HoldActive   HoldState = "active"
	HoldComplete HoldState = "complete"
)

// HoldMode is the role a part plays in a hold.
type HoldMode string

const (
	HoldModeNone HoldMode = ""
	HoldModeFrom HoldMode = "from"
	HoldModeTo   HoldMode = "to"
)

// Lifespan controls how long a piece keeps playing after its part ends.
type Lifespan string

const (
	LifespanWithinPart        Lifespan = "part-only"
	LifespanOutOnSegmentEnd   Lifespan = "segment-end"
	LifespanOutOnRundownEnd   Lifespan = "rundown-end"
	LifespanOutOnShowStyleEnd Lifespan = "showstyle-end"
)

// IsInfinite reports whether pieces with this lifespan outlive their part.
func (l Lifespan) IsInfinite() bool {
	return l != "" && l != LifespanWithinPart
}

// PieceType distinguishes transition pieces from normal content.
type PieceType string

const (
	PieceNormal        PieceType = "normal"
	PieceInTransition  PieceType = "in-transition"
	PieceOutTransition PieceType = "out-transition"
)

// OrphanedReason marks a PartInstance that has no backing Part.
type OrphanedReason string

const (
	OrphanedNone    OrphanedReason = ""
	OrphanedAdlib   OrphanedReason = "adlib-part"
	OrphanedDeleted OrphanedReason = "deleted"
)

// PartRef names one of the three selected part slots of a playlist.
type PartRef int

const (
	PartPrevious PartRef = iota + 1
	PartCurrent
	PartNext
)

func (r PartRef) String() string {
	switch r {
	case PartPrevious:
		return "previous"
	case PartCurrent:
		return "current"
	case PartNext:
		return "next"
	default:
		return "unknown"
	}
}

// ParsePartRef parses "previous", "current" or "next".
func ParsePartRef(s string) (PartRef, bool) {
	switch s {
	case "previous":
		return PartPrevious, true
	case "current":
		return PartCurrent, true
	case "next":
		return PartNext, true
	default:
		return 0, false
	}
}

// SelectedPartInstance points a playlist slot at a PartInstance.
type SelectedPartInstance struct {
	PartInstanceID          string `json:"part_instance_id"`
	RundownID               string `json:"rundown_id"`
	ManuallySelected        bool   `json:"manually_selected"`
	ConsumesQueuedSegmentID string `json:"consumes_queued_segment_id,omitempty"`
}

// Playlist is the aggregate root of one show run.
type Playlist struct {
	ID         string   `json:"id"`
	StudioID   string   `json:"studio_id"`
	Name       string   `json:"name"`
	RundownIDs []string `json:"rundown_ids"`

	// ActivationID is set only while the playlist is live.
	ActivationID string `json:"activation_id,omitempty"`
	Rehearsal    bool   `json:"rehearsal"`

	PreviousPartInfo *SelectedPartInstance `json:"previous_part_info,omitempty"`
	CurrentPartInfo  *SelectedPartInstance `json:"current_part_info,omitempty"`
	NextPartInfo     *SelectedPartInstance `json:"next_part_info,omitempty"`
	NextTimeOffset   *time.Duration        `json:"next_time_offset,omitempty"`

	HoldState       HoldState `json:"hold_state"`
	QueuedSegmentID string    `json:"queued_segment_id,omitempty"`

	LastTakeTime    *time.Time `json:"last_take_time,omitempty"`
	StartedPlayback *time.Time `json:"started_playback,omitempty"`
	ResetTime       *time.Time `json:"reset_time,omitempty"`
	Modified        time.Time  `json:"modified"`
}

// IsActive reports whether the playlist is on air or in rehearsal.
func (p *Playlist) IsActive() bool { return p.ActivationID != "" }

// PartInfo resolves a slot reference. It is the only place slot names map
// to fields.
func (p *Playlist) PartInfo(ref PartRef) *SelectedPartInstance {
	switch ref {
	case PartPrevious:
		return p.PreviousPartInfo
	case PartCurrent:
		return p.CurrentPartInfo
	case PartNext:
		return p.NextPartInfo
	default:
		return nil
	}
}

// SetPartInfo replaces a slot.
func (p *Playlist) SetPartInfo(ref PartRef, info *SelectedPartInstance) {
	switch ref {
	case PartPrevious:
		p.PreviousPartInfo = info
	case PartCurrent:
		p.CurrentPartInfo = info
	case PartNext:
		p.NextPartInfo = info
	}
}

// SelectedPartInstanceIDs returns the non-empty previous, current and next
// instance IDs, in that order.
func (p *Playlist) SelectedPartInstanceIDs() []string {
	var ids []string
	for _, ref := range []PartRef{PartPrevious, PartCurrent, PartNext} {
		if info := p.PartInfo(ref); info != nil && info.PartInstanceID != "" {
			ids = append(ids, info.PartInstanceID)
		}
	}
	return ids
}

// DocumentID implements the cache document contract.
func (p *Playlist) DocumentID() string { return p.ID }

// DeepCopy returns an independent copy of the playlist.
func (p *Playlist) DeepCopy() *Playlist {
	if p == nil {
		return nil
	}
	cpy := *p
	cpy.RundownIDs = slices.Clone(p.RundownIDs)
	cpy.PreviousPartInfo = copySelected(p.PreviousPartInfo)
	cpy.CurrentPartInfo = copySelected(p.CurrentPartInfo)
	cpy.NextPartInfo = copySelected(p.NextPartInfo)
	cpy.NextTimeOffset = copyPtr(p.NextTimeOffset)
	cpy.LastTakeTime = copyPtr(p.LastTakeTime)
	cpy.StartedPlayback = copyPtr(p.StartedPlayback)
	cpy.ResetTime = copyPtr(p.ResetTime)
	return &cpy
}

// Rundown is one running order within a playlist.
type Rundown struct {
	ID          string  `json:"id"`
	PlaylistID  string  `json:"playlist_id"`
	Name        string  `json:"name"`
	Rank        float64 `json:"rank"`
	ShowStyleID string  `json:"show_style_id"`
}

func (r *Rundown) DocumentID() string { return r.ID }

func (r *Rundown) DeepCopy() *Rundown {
	if r == nil {
		return nil
	}
	cpy := *r
	return &cpy
}

// Segment groups consecutive parts of a rundown.
type Segment struct {
	ID        string  `json:"id"`
	RundownID string  `json:"rundown_id"`
	Name      string  `json:"name"`
	Rank      float64 `json:"rank"`
	IsHidden  bool    `json:"is_hidden"`
}

func (s *Segment) DocumentID() string { return s.ID }

func (s *Segment) DeepCopy() *Segment {
	if s == nil {
		return nil
	}
	cpy := *s
	return &cpy
}

// Part is a scripted unit of the show.
type Part struct {
	ID        string  `json:"id"`
	RundownID string  `json:"rundown_id"`
	SegmentID string  `json:"segment_id"`
	Title     string  `json:"title"`
	Rank      float64 `json:"rank"`

	// Invalid parts are shown but can never be played.
	Invalid bool `json:"invalid"`
	// Floated parts are temporarily skipped by the operator.
	Floated bool `json:"floated"`

	HoldMode         HoldMode      `json:"hold_mode,omitempty"`
	Autonext         bool          `json:"autonext"`
	ExpectedDuration time.Duration `json:"expected_duration"`
}

// IsPlayable reports whether the part may be set as next.
func (p *Part) IsPlayable() bool { return !p.Invalid && !p.Floated }

func (p *Part) DocumentID() string { return p.ID }

func (p *Part) DeepCopy() *Part {
	if p == nil {
		return nil
	}
	cpy := *p
	return &cpy
}

// Enable positions a piece within its part.
type Enable struct {
	// Start is the offset from the start of the part.
	Start time.Duration `json:"start"`
	// StartNow places the piece at the playhead when it is inserted.
	StartNow bool           `json:"start_now,omitempty"`
	Duration *time.Duration `json:"duration,omitempty"`
}

// Piece is a playable element of a part.
type Piece struct {
	ID            string         `json:"id"`
	StartPartID   string         `json:"start_part_id"`
	RundownID     string         `json:"rundown_id"`
	Name          string         `json:"name"`
	SourceLayerID string         `json:"source_layer_id"`
	OutputLayerID string         `json:"output_layer_id"`
	Enable        Enable         `json:"enable"`
	Lifespan      Lifespan       `json:"lifespan"`
	Virtual       bool           `json:"virtual,omitempty"`
	PieceType     PieceType      `json:"piece_type"`
	Content       map[string]any `json:"content,omitempty"`
}

func (p *Piece) DocumentID() string { return p.ID }

func (p *Piece) DeepCopy() *Piece {
	if p == nil {
		return nil
	}
	cpy := *p
	cpy.Enable.Duration = copyPtr(p.Enable.Duration)
	cpy.Content = deepCopyMap(p.Content)
	return &cpy
}

// PartInstanceTimings are the playback milestones of a PartInstance.
type PartInstanceTimings struct {
	SetAsNext               *time.Time `json:"set_as_next,omitempty"`
	Take                    *time.Time `json:"take,omitempty"`
	PlannedStartedPlayback  *time.Time `json:"planned_started_playback,omitempty"`
	PlannedStoppedPlayback  *time.Time `json:"planned_stopped_playback,omitempty"`
	ReportedStartedPlayback *time.Time `json:"reported_started_playback,omitempty"`
}

// PartInstance is the per-playback copy of a Part.
type PartInstance struct {
	ID           string `json:"id"`
	PlaylistID   string `json:"playlist_id"`
	RundownID    string `json:"rundown_id"`
	SegmentID    string `json:"segment_id"`
	ActivationID string `json:"activation_id"`

	Part Part `json:"part"`

	TakeCount  int                 `json:"take_count"`
	IsTaken    bool                `json:"is_taken"`
	Orphaned   OrphanedReason      `json:"orphaned,omitempty"`
	Timings    PartInstanceTimings `json:"timings"`
	PlayOffset *time.Duration      `json:"play_offset,omitempty"`

	// ConsumesQueuedSegmentID is set when taking this instance moves the
	// show into the queued segment.
	ConsumesQueuedSegmentID string `json:"consumes_queued_segment_id,omitempty"`
}

// Rank orders instances the same way as their parts.
func (pi *PartInstance) Rank() float64 { return pi.Part.Rank }

func (pi *PartInstance) DocumentID() string { return pi.ID }

func (pi *PartInstance) DeepCopy() *PartInstance {
	if pi == nil {
		return nil
	}
	cpy := *pi
	cpy.Timings = PartInstanceTimings{
		SetAsNext:               copyPtr(pi.Timings.SetAsNext),
		Take:                    copyPtr(pi.Timings.Take),
		PlannedStartedPlayback:  copyPtr(pi.Timings.PlannedStartedPlayback),
		PlannedStoppedPlayback:  copyPtr(pi.Timings.PlannedStoppedPlayback),
		ReportedStartedPlayback: copyPtr(pi.Timings.ReportedStartedPlayback),
	}
	cpy.PlayOffset = copyPtr(pi.PlayOffset)
	return &cpy
}

// Infinite links a PieceInstance to the piece it continues.
type Infinite struct {
	InfiniteInstanceID string `json:"infinite_instance_id"`
	InfinitePieceID    string `json:"infinite_piece_id"`
	// FromPreviousPart is set on copies carried over by a take.
	FromPreviousPart bool `json:"from_previous_part"`
	// FromPreviousPlayhead is set on copies of pieces that were
	// dynamically inserted into the previous part.
	FromPreviousPlayhead bool `json:"from_previous_playhead"`
}

// PieceInstance is the per-playback copy of a Piece.
type PieceInstance struct {
	ID             string `json:"id"`
	PartInstanceID string `json:"part_instance_id"`
	RundownID      string `json:"rundown_id"`
	PlaylistID     string `json:"playlist_id"`

	Piece Piece `json:"piece"`

	// DynamicallyInserted is when an action or adlib added the instance.
	DynamicallyInserted *time.Time `json:"dynamically_inserted,omitempty"`
	Infinite            *Infinite  `json:"infinite,omitempty"`
	Disabled            bool       `json:"disabled"`

	// UserDuration ends the piece early, relative to the part start.
	UserDuration *time.Duration `json:"user_duration,omitempty"`

	PlannedStartedPlayback *time.Time `json:"planned_started_playback,omitempty"`
	AdLibSourceID          string     `json:"adlib_source_id,omitempty"`
}

// IsInfiniteContinuation reports whether the instance was carried over
// from an earlier part.
func (pi *PieceInstance) IsInfiniteContinuation() bool {
	return pi.Infinite != nil && pi.Infinite.FromPreviousPart
}

func (pi *PieceInstance) DocumentID() string { return pi.ID }

func (pi *PieceInstance) DeepCopy() *PieceInstance {
	if pi == nil {
		return nil
	}
	cpy := *pi
	cpy.Piece = *pi.Piece.DeepCopy()
	cpy.DynamicallyInserted = copyPtr(pi.DynamicallyInserted)
	if pi.Infinite != nil {
		inf := *pi.Infinite
		cpy.Infinite = &inf
	}
	cpy.UserDuration = copyPtr(pi.UserDuration)
	cpy.PlannedStartedPlayback = copyPtr(pi.PlannedStartedPlayback)
	return &cpy
}

// TimelineObject is one entry of the studio output timeline.
type TimelineObject struct {
	ID              string         `json:"id"`
	Layer           string         `json:"layer"`
	PartInstanceID  string         `json:"part_instance_id"`
	PieceInstanceID string         `json:"piece_instance_id,omitempty"`
	Start           time.Time      `json:"start"`
	Duration        *time.Duration `json:"duration,omitempty"`
	Priority        int            `json:"priority"`
	IsLookahead     bool           `json:"is_lookahead,omitempty"`
	Content         map[string]any `json:"content,omitempty"`
}

// Timeline is the generated output of a studio. There is one per studio.
type Timeline struct {
	StudioID   string           `json:"studio_id"`
	PlaylistID string           `json:"playlist_id,omitempty"`
	Generated  time.Time        `json:"generated"`
	Objects    []TimelineObject `json:"objects"`
}

// Content is the scripted material of a playlist's rundowns.
type Content struct {
	Rundowns []*Rundown
	Segments []*Segment
	Parts    []*Part
	Pieces   []*Piece
}

func copySelected(s *SelectedPartInstance) *SelectedPartInstance {
	if s == nil {
		return nil
	}
	cpy := *s
	return &cpy
}

func copyPtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cpy := make(map[string]any, len(m))
	for k, v := range m {
		cpy[k] = deepCopyValue(v)
	}
	return cpy
}

func deepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		cpy := make([]any, len(val))
		for i, elem := range val {
			cpy[i] = deepCopyValue(elem)
		}
		return cpy
	default:
		return v
	}
}
