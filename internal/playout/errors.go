package playout

import (
	"errors"
	"maps"
)

// Code identifies a user error. Codes are stable and safe to show to an
// operator or match in a client.
type Code string

const (
	CodePlaylistNotActive       Code = "playlist_not_active"
	CodeStudioHasActivePlaylist Code = "studio_has_active_playlist"
	CodeResetOnAir              Code = "reset_on_air_forbidden"
	CodePartNotFound            Code = "part_not_found"
	CodePartNotPlayable         Code = "part_not_playable"
	CodePartInstanceNotFound    Code = "part_instance_not_found"
	CodeSegmentNotFound         Code = "segment_not_found"
	CodeSegmentNotPlayable      Code = "segment_not_playable"
	CodeTakeNoNextPart          Code = "take_no_next_part"
	CodeTakeFromIncorrectPart   Code = "take_from_incorrect_part"
	CodeTakeRateLimit           Code = "take_rate_limit"
	CodeMoveNextInvalid         Code = "move_next_invalid_delta"
	CodeDuringHold              Code = "hold_in_progress"
	CodeHoldAlreadyActive       Code = "hold_already_active"
	CodeHoldNeedsParts          Code = "hold_needs_current_and_next"
	CodeHoldIncompatibleParts   Code = "hold_incompatible_parts"
	CodeHoldNotSameSegment      Code = "hold_not_same_segment"
	CodeHoldAfterAdlib          Code = "hold_after_adlib"
	CodeHoldNotCancelable       Code = "hold_not_cancelable"
	CodeDisableNoPieceFound     Code = "disable_no_piece_found"
	CodeActionNotFound          Code = "action_not_found"
	CodeActionFailed            Code = "action_failed"
)

// UserError is an error caused by an operator request that cannot be
// honoured in the current state. The job fails but nothing is broken.
type UserError struct {
	Code    Code           `json:"code"`
	Message string         `json:"message"`
	Args    map[string]any `json:"args,omitempty"`
}

func (e *UserError) Error() string { return e.Message }

// Is matches any UserError with the same code.
func (e *UserError) Is(target error) bool {
	t, ok := target.(*UserError)
	return ok && t.Code == e.Code
}

// WithArgs returns a copy of e carrying args.
func (e *UserError) WithArgs(args map[string]any) *UserError {
	cpy := *e
	cpy.Args = maps.Clone(args)
	return &cpy
}

// Match targets for errors.Is.
var (
	ErrPlaylistNotActive       = &UserError{Code: CodePlaylistNotActive, Message: "the playlist is not active"}
	ErrStudioHasActivePlaylist = &UserError{Code: CodeStudioHasActivePlaylist, Message: "another playlist is already active in this studio"}
	ErrResetOnAir              = &UserError{Code: CodeResetOnAir, Message: "the playlist cannot be reset while on air"}
	ErrPartNotFound            = &UserError{Code: CodePartNotFound, Message: "part not found"}
	ErrPartNotPlayable         = &UserError{Code: CodePartNotPlayable, Message: "the part cannot be played"}
	ErrPartInstanceNotFound    = &UserError{Code: CodePartInstanceNotFound, Message: "part instance not found"}
	ErrSegmentNotFound         = &UserError{Code: CodeSegmentNotFound, Message: "segment not found"}
	ErrSegmentNotPlayable      = &UserError{Code: CodeSegmentNotPlayable, Message: "the segment has no playable parts"}
	ErrTakeNoNextPart          = &UserError{Code: CodeTakeNoNextPart, Message: "there is no next part to take"}
	ErrTakeFromIncorrectPart   = &UserError{Code: CodeTakeFromIncorrectPart, Message: "the take was requested from a part that is no longer on air"}
	ErrTakeRateLimit           = &UserError{Code: CodeTakeRateLimit, Message: "takes are too close together"}
	ErrMoveNextInvalid         = &UserError{Code: CodeMoveNextInvalid, Message: "move next needs a part or segment delta"}
	ErrDuringHold              = &UserError{Code: CodeDuringHold, Message: "the next part cannot be changed during a hold"}
	ErrHoldAlreadyActive       = &UserError{Code: CodeHoldAlreadyActive, Message: "a hold is already in progress"}
	ErrHoldNeedsParts          = &UserError{Code: CodeHoldNeedsParts, Message: "a hold needs a current and a next part"}
	ErrHoldIncompatibleParts   = &UserError{Code: CodeHoldIncompatibleParts, Message: "the current and next parts do not form a hold"}
	ErrHoldNotSameSegment      = &UserError{Code: CodeHoldNotSameSegment, Message: "hold parts must be in the same segment"}
	ErrHoldAfterAdlib          = &UserError{Code: CodeHoldAfterAdlib, Message: "a hold cannot start after an adlib has played"}
	ErrHoldNotCancelable       = &UserError{Code: CodeHoldNotCancelable, Message: "only a pending hold can be cancelled"}
	ErrDisableNoPieceFound     = &UserError{Code: CodeDisableNoPieceFound, Message: "no piece found to disable"}
	ErrActionNotFound          = &UserError{Code: CodeActionNotFound, Message: "action not found"}
	ErrActionFailed            = &UserError{Code: CodeActionFailed, Message: "the action could not be executed"}
)

// IsUserError reports whether err wraps a UserError and returns it.
func IsUserError(err error) (*UserError, bool) {
	var ue *UserError
	if errors.As(err, &ue) {
		return ue, true
	}
	return nil, false
}
