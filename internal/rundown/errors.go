package rundown

import "errors"

var (
	// ErrPlaylistNotFound is returned when a playlist ID does not exist.
	ErrPlaylistNotFound = errors.New("rundown: playlist not found")

	// ErrTimelineNotFound is returned when a studio has no generated timeline.
	ErrTimelineNotFound = errors.New("rundown: timeline not found")

	// ErrPlaylistExists is returned when creating a playlist whose ID is taken.
	ErrPlaylistExists = errors.New("rundown: playlist already exists")

	// ErrInvalidDocument is returned for documents missing required keys.
	ErrInvalidDocument = errors.New("rundown: invalid document")
)
