// Package lock provides keyed exclusive locks for playout jobs.
//
// Two scopes exist:
//
//   - playlist:<id> serialises every job touching one show
//   - studio:<id>   guards documents shared across the shows of a studio,
//     such as the studio timeline
//
// A studio lock must never be requested while the same owner holds a
// playlist lock; Acquire rejects that with ErrLockOrder. Owners are the
// dispatch loops (see WithOwner); when a loop is declared dead its locks are
// revoked with ReleaseOwner so the replacement loop is not blocked, and the
// revoked Lock reports Held() == false so a late flush can refuse to write.
package lock
