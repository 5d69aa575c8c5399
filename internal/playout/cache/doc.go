// Package cache implements the Playout Cache: the in-memory working set of
// one playlist, owned by one job at a time.
//
// Load takes the playlist:<id> lock before reading anything, so jobs on the
// same playlist run one after another while other playlists proceed. Jobs
// mutate typed collections that track dirty and removed documents; nothing
// is visible to other jobs until Flush.
//
// Flush writes PartInstances, then PieceInstances, then the Playlist, each
// collection as one bulk write. The store has no cross-collection
// transactions; with this order a failure part way leaves instances that
// nothing points at yet, which the next flush removes. A job that fails
// simply releases the cache and nothing is written.
//
// A dispatch loop that froze has its locks revoked. Its cache sees
// Lock().Held() turn false and every later Flush fails with ErrLockLost.
package cache
