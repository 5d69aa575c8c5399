// Package playout implements the take, next and hold state machine of a
// live rundown.
//
// Every operation runs against a cache.PlayoutCache inside
// Service.RunWithCache: the playlist lock is held while the operation
// mutates the cache, the cache is flushed, and only after the lock is
// released does the studio timeline get regenerated (under the studio
// lock) and deferred work such as autonext scheduling run.
//
// A playlist has three PartInstance slots: previous, current and next.
// Take rotates them, carries infinite pieces into the new current part and
// picks a new next part. A hold keeps the pieces of a "from" part playing
// underneath the following "to" part until a second take stops them.
//
// Refusals are returned as *UserError values with a stable Code that
// clients can branch on. Any other error is an internal failure.
//
// The job-level methods (ActivatePlaylist, TakeNextPart, ...) are what
// RegisterHandlers exposes to the worker dispatch loops.
package playout
