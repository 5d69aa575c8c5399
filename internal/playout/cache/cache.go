package cache

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/nerrad567/playout-core/internal/lock"
	"github.com/nerrad567/playout-core/internal/rundown"
)

// Locker hands out the playlist lock.
type Locker interface {
	Acquire(ctx context.Context, key string) (*lock.Lock, error)
}

// PlayoutCache is the working set of one playlist for the duration of a
// job. It is owned by the job holding the playlist lock.
type PlayoutCache struct {
	playlistID string
	store      rundown.Store
	lock       *lock.Lock
	released   bool
	now        func() time.Time

	playlist      *rundown.Playlist
	playlistDirty bool

	rundowns        map[string]*rundown.Rundown
	segments        map[string]*rundown.Segment
	parts           map[string]*rundown.Part
	orderedSegments []*rundown.Segment
	orderedParts    []*rundown.Part
	piecesByPart    map[string][]*rundown.Piece

	PartInstances  *Collection[*rundown.PartInstance]
	PieceInstances *Collection[*rundown.PieceInstance]
	clearInstances bool

	timelineRequested bool
	afterRelease      []func(ctx context.Context) error
}

// Option configures Load.
type Option func(*PlayoutCache)

// WithNow sets the clock used to stamp Playlist.Modified.
func WithNow(now func() time.Time) Option {
	return func(c *PlayoutCache) { c.now = now }
}

// Load acquires the playlist lock and reads the playlist, its scripted
// content and the instances selected as previous, current and next.
// The lock is released again if loading fails.
func Load(ctx context.Context, locks Locker, store rundown.Store, playlistID string, opts ...Option) (*PlayoutCache, error) {
	l, err := locks.Acquire(ctx, lock.PlaylistKey(playlistID))
	if err != nil {
		return nil, fmt.Errorf("locking playlist %s: %w", playlistID, err)
	}

	c := &PlayoutCache{playlistID: playlistID, store: store, lock: l, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	if err := c.load(ctx); err != nil {
		l.Release()
		return nil, err
	}
	return c, nil
}

func (c *PlayoutCache) load(ctx context.Context) error {
	p, err := c.store.GetPlaylist(ctx, c.playlistID)
	if err != nil {
		return err
	}
	c.playlist = p

	content, err := c.store.LoadContent(ctx, p.RundownIDs)
	if err != nil {
		return fmt.Errorf("loading content of playlist %s: %w", c.playlistID, err)
	}
	c.setContent(p.RundownIDs, content)

	ids := p.SelectedPartInstanceIDs()
	partInstances, err := c.store.PartInstances(ctx, ids)
	if err != nil {
		return fmt.Errorf("loading part instances of playlist %s: %w", c.playlistID, err)
	}
	pieceInstances, err := c.store.PieceInstances(ctx, ids)
	if err != nil {
		return fmt.Errorf("loading piece instances of playlist %s: %w", c.playlistID, err)
	}
	c.PartInstances = newCollection("part_instances", partInstances)
	c.PieceInstances = newCollection("piece_instances", pieceInstances)
	return nil
}

func (c *PlayoutCache) setContent(rundownIDs []string, content *rundown.Content) {
	c.rundowns = make(map[string]*rundown.Rundown, len(content.Rundowns))
	for _, r := range content.Rundowns {
		c.rundowns[r.ID] = r
	}
	c.segments = make(map[string]*rundown.Segment, len(content.Segments))
	for _, s := range content.Segments {
		c.segments[s.ID] = s
	}
	c.parts = make(map[string]*rundown.Part, len(content.Parts))
	for _, p := range content.Parts {
		c.parts[p.ID] = p
	}
	c.piecesByPart = make(map[string][]*rundown.Piece)
	for _, p := range content.Pieces {
		c.piecesByPart[p.StartPartID] = append(c.piecesByPart[p.StartPartID], p)
	}
	c.orderedSegments = rundown.OrderedSegments(rundownIDs, content.Segments)
	c.orderedParts = rundown.OrderedParts(rundownIDs, content.Segments, content.Parts)
}

// PlaylistID returns the ID of the cached playlist.
func (c *PlayoutCache) PlaylistID() string { return c.playlistID }

// Lock returns the playlist lock held by this cache.
func (c *PlayoutCache) Lock() *lock.Lock { return c.lock }

// Playlist returns a copy of the playlist.
func (c *PlayoutCache) Playlist() *rundown.Playlist { return c.playlist.DeepCopy() }

// UpdatePlaylist applies fn to the playlist and marks it dirty.
func (c *PlayoutCache) UpdatePlaylist(fn func(p *rundown.Playlist)) {
	fn(c.playlist)
	c.playlist.ID = c.playlistID
	c.playlistDirty = true
}

// Selected resolves a previous/current/next reference to its instance.
func (c *PlayoutCache) Selected(ref rundown.PartRef) (*rundown.PartInstance, bool) {
	info := c.playlist.PartInfo(ref)
	if info == nil {
		return nil, false
	}
	return c.PartInstances.Get(info.PartInstanceID)
}

// PieceInstancesOf returns copies of the PieceInstances of a PartInstance.
func (c *PlayoutCache) PieceInstancesOf(partInstanceID string) []*rundown.PieceInstance {
	return c.PieceInstances.Find(func(pi *rundown.PieceInstance) bool {
		return pi.PartInstanceID == partInstanceID
	})
}

// LoadPartInstances adds instances not already in the working set, with
// their PieceInstances. IDs removed during this job are skipped.
func (c *PlayoutCache) LoadPartInstances(ctx context.Context, ids ...string) error {
	var missing []string
	for _, id := range ids {
		if !c.PartInstances.Has(id) && !c.PartInstances.IsDocumentDirty(id) {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	parts, err := c.store.PartInstances(ctx, missing)
	if err != nil {
		return fmt.Errorf("loading part instances: %w", err)
	}
	pieces, err := c.store.PieceInstances(ctx, missing)
	if err != nil {
		return fmt.Errorf("loading piece instances: %w", err)
	}
	for _, p := range parts {
		if p.PlaylistID == c.playlistID {
			c.PartInstances.docs[p.ID] = p
		}
	}
	for _, p := range pieces {
		if p.PlaylistID == c.playlistID && !c.PieceInstances.Has(p.ID) {
			c.PieceInstances.docs[p.ID] = p
		}
	}
	return nil
}

// RemovePartInstance deletes an instance and its PieceInstances.
func (c *PlayoutCache) RemovePartInstance(id string) {
	c.PartInstances.Remove(id)
	c.PieceInstances.RemoveWhere(func(pi *rundown.PieceInstance) bool { return pi.PartInstanceID == id })
}

// ClearAllInstances deletes every instance of the playlist, including the
// ones never loaded.
func (c *PlayoutCache) ClearAllInstances() {
	c.clearInstances = true
	c.PartInstances.RemoveWhere(func(*rundown.PartInstance) bool { return true })
	c.PieceInstances.RemoveWhere(func(*rundown.PieceInstance) bool { return true })
}

// ─── Scripted content (read-only) ─────────────────────────────────

// Rundown returns a copy of a rundown.
func (c *PlayoutCache) Rundown(id string) (*rundown.Rundown, bool) {
	r, ok := c.rundowns[id]
	return r.DeepCopy(), ok
}

// Segment returns a copy of a segment.
func (c *PlayoutCache) Segment(id string) (*rundown.Segment, bool) {
	s, ok := c.segments[id]
	return s.DeepCopy(), ok
}

// Part returns a copy of a part.
func (c *PlayoutCache) Part(id string) (*rundown.Part, bool) {
	p, ok := c.parts[id]
	return p.DeepCopy(), ok
}

// OrderedSegments returns the segments in show order.
func (c *PlayoutCache) OrderedSegments() []*rundown.Segment {
	out := make([]*rundown.Segment, len(c.orderedSegments))
	for i, s := range c.orderedSegments {
		out[i] = s.DeepCopy()
	}
	return out
}

// OrderedParts returns the parts of visible segments in show order,
// playable or not.
func (c *PlayoutCache) OrderedParts() []*rundown.Part {
	out := make([]*rundown.Part, len(c.orderedParts))
	for i, p := range c.orderedParts {
		out[i] = p.DeepCopy()
	}
	return out
}

// PiecesForPart returns copies of the pieces that start in a part.
func (c *PlayoutCache) PiecesForPart(partID string) []*rundown.Piece {
	src := c.piecesByPart[partID]
	out := make([]*rundown.Piece, len(src))
	for i, p := range src {
		out[i] = p.DeepCopy()
	}
	return out
}

// ─── Flush ────────────────────────────────────────────────────────

// IsDirty reports whether Flush would write anything.
func (c *PlayoutCache) IsDirty() bool {
	return c.playlistDirty || c.clearInstances || c.PartInstances.IsDirty() || c.PieceInstances.IsDirty()
}

// Flush writes every change in one ordered batch: PartInstances, then
// PieceInstances, then the Playlist. Instances no longer referenced by
// previous, current or next are deleted first. Flush is refused once the
// context is cancelled or the playlist lock has been revoked.
func (c *PlayoutCache) Flush(ctx context.Context) error {
	if c.released {
		return ErrReleased
	}
	if err := c.checkOwnership(ctx); err != nil {
		return err
	}

	c.removeUnreferenced()

	if c.clearInstances {
		if err := c.store.ClearInstances(ctx, c.playlistID); err != nil {
			return fmt.Errorf("clearing instances of playlist %s: %w", c.playlistID, err)
		}
	}

	if c.PartInstances.IsDirty() {
		upsert, remove := c.PartInstances.changes()
		if err := c.store.WritePartInstances(ctx, upsert, remove); err != nil {
			return fmt.Errorf("writing part instances of playlist %s: %w", c.playlistID, err)
		}
	}

	if c.PieceInstances.IsDirty() {
		if err := c.checkOwnership(ctx); err != nil {
			return err
		}
		upsert, remove := c.PieceInstances.changes()
		if err := c.store.WritePieceInstances(ctx, upsert, remove); err != nil {
			return fmt.Errorf("writing piece instances of playlist %s: %w", c.playlistID, err)
		}
	}

	if c.playlistDirty {
		if err := c.checkOwnership(ctx); err != nil {
			return err
		}
		c.playlist.Modified = c.now()
		if err := c.store.WritePlaylist(ctx, c.playlist); err != nil {
			return fmt.Errorf("writing playlist %s: %w", c.playlistID, err)
		}
	}

	c.PartInstances.markClean()
	c.PieceInstances.markClean()
	c.playlistDirty = false
	c.clearInstances = false
	return nil
}

func (c *PlayoutCache) checkOwnership(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrFlushRefused, err)
	}
	if !c.lock.Held() {
		return fmt.Errorf("%w: %s", ErrLockLost, c.lock.Key())
	}
	return nil
}

func (c *PlayoutCache) removeUnreferenced() {
	keep := c.playlist.SelectedPartInstanceIDs()
	for _, pi := range c.PartInstances.Find(nil) {
		if !slices.Contains(keep, pi.ID) {
			c.RemovePartInstance(pi.ID)
		}
	}
	// Pieces whose owner is gone, e.g. inserted into an instance removed
	// earlier in the job.
	c.PieceInstances.RemoveWhere(func(pi *rundown.PieceInstance) bool {
		return !c.PartInstances.Has(pi.PartInstanceID)
	})
}

// RequestTimelineUpdate marks that the studio timeline must be regenerated
// once this job's changes are saved.
func (c *PlayoutCache) RequestTimelineUpdate() { c.timelineRequested = true }

// TimelineUpdateRequested reports whether RequestTimelineUpdate was called.
func (c *PlayoutCache) TimelineUpdateRequested() bool { return c.timelineRequested }

// DeferAfterRelease registers fn to run once the playlist lock has been
// released after a successful flush.
func (c *PlayoutCache) DeferAfterRelease(fn func(ctx context.Context) error) {
	c.afterRelease = append(c.afterRelease, fn)
}

// AfterRelease returns the functions registered with DeferAfterRelease.
func (c *PlayoutCache) AfterRelease() []func(ctx context.Context) error {
	return c.afterRelease
}

// Release drops the playlist lock. Unflushed changes are discarded.
// Release is idempotent.
func (c *PlayoutCache) Release() {
	if c.released {
		return
	}
	c.released = true
	c.lock.Release()
}
