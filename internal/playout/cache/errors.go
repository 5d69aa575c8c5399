package cache

import "errors"

var (
	// ErrDocumentNotFound is returned when updating a document that is not loaded.
	ErrDocumentNotFound = errors.New("cache: document not found")

	// ErrInvalidUpdate is returned when an update changes a document's ID.
	ErrInvalidUpdate = errors.New("cache: invalid update")

	// ErrLockLost is returned when flushing after the playlist lock was revoked.
	ErrLockLost = errors.New("cache: playlist lock lost")

	// ErrFlushRefused is returned when flushing with a cancelled context.
	ErrFlushRefused = errors.New("cache: flush refused")

	// ErrReleased is returned when using a cache after Release.
	ErrReleased = errors.New("cache: already released")
)
