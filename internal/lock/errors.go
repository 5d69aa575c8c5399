package lock

import "errors"

var (
	// ErrLockOrder is returned when a studio-scope lock is requested while the
	// owner still holds a playlist-scope lock.
	ErrLockOrder = errors.New("lock: studio lock requested while holding a playlist lock")

	// ErrAcquireCancelled is returned when the context ends before the lock is free.
	ErrAcquireCancelled = errors.New("lock: acquire cancelled")

	// ErrEmptyKey is returned for an empty lock key.
	ErrEmptyKey = errors.New("lock: key cannot be empty")
)
