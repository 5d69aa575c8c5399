package actions

import (
	"errors"
	"fmt"
)

var (
	// ErrNotSelected is returned when a mutator targets anything other than
	// the current or next PartInstance.
	ErrNotSelected = errors.New("actions: only the current or next part instance can be changed")

	// ErrNoPartInstance is returned when the targeted slot is empty.
	ErrNoPartInstance = errors.New("actions: no part instance in slot")

	// ErrPieceInstanceNotFound is returned for an unknown PieceInstance.
	ErrPieceInstanceNotFound = errors.New("actions: piece instance not found")

	// ErrUnknownSourceLayer is returned for a piece on a layer the show
	// style does not define.
	ErrUnknownSourceLayer = errors.New("actions: unknown source layer")

	// ErrRemoveOnlyNext is returned when removing pieces from anything but
	// the next instance.
	ErrRemoveOnlyNext = errors.New("actions: pieces can only be removed from the next part instance")

	// ErrEmptyPart is returned when queuing a part without pieces.
	ErrEmptyPart = errors.New("actions: a queued part needs at least one piece")

	// ErrBadOption is returned for a missing or malformed action option.
	ErrBadOption = errors.New("actions: invalid option")
)

// Error is returned when an action handler fails. Nothing the handler
// changed is written.
type Error struct {
	ActionID string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("action %s: %v", e.ActionID, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
