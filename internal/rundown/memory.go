package rundown

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
)

// MemoryStore is an in-process Store. Every read and write copies
// documents so callers never share memory with the store.
type MemoryStore struct {
	mu             sync.RWMutex
	playlists      map[string]*Playlist
	rundowns       map[string]*Rundown
	segments       map[string]*Segment
	parts          map[string]*Part
	pieces         map[string]*Piece
	partInstances  map[string]*PartInstance
	pieceInstances map[string]*PieceInstance
	timelines      map[string]*Timeline

	// FailWrites, when set, is returned by the named write method
	// ("part_instances", "piece_instances", "playlists").
	FailWrites map[string]error
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		playlists:      make(map[string]*Playlist),
		rundowns:       make(map[string]*Rundown),
		segments:       make(map[string]*Segment),
		parts:          make(map[string]*Part),
		pieces:         make(map[string]*Piece),
		partInstances:  make(map[string]*PartInstance),
		pieceInstances: make(map[string]*PieceInstance),
		timelines:      make(map[string]*Timeline),
	}
}

func (m *MemoryStore) CreatePlaylist(_ context.Context, p *Playlist) error {
	if p.ID == "" || p.StudioID == "" {
		return fmt.Errorf("%w: playlist needs id and studio_id", ErrInvalidDocument)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.playlists[p.ID]; ok {
		return fmt.Errorf("%w: %s", ErrPlaylistExists, p.ID)
	}
	if p.HoldState == "" {
		p.HoldState = HoldNone
	}
	m.playlists[p.ID] = p.DeepCopy()
	return nil
}

func (m *MemoryStore) GetPlaylist(_ context.Context, id string) (*Playlist, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.playlists[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPlaylistNotFound, id)
	}
	return p.DeepCopy(), nil
}

func (m *MemoryStore) ListPlaylists(_ context.Context, studioID string) ([]*Playlist, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Playlist
	for _, p := range m.playlists {
		if studioID == "" || p.StudioID == studioID {
			out = append(out, p.DeepCopy())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) WritePlaylist(_ context.Context, p *Playlist) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.FailWrites["playlists"]; err != nil {
		return err
	}
	m.playlists[p.ID] = p.DeepCopy()
	return nil
}

func (m *MemoryStore) SaveContent(_ context.Context, c *Content) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range c.Rundowns {
		deleteWhere(m.segments, func(s *Segment) bool { return s.RundownID == r.ID })
		deleteWhere(m.parts, func(p *Part) bool { return p.RundownID == r.ID })
		deleteWhere(m.pieces, func(p *Piece) bool { return p.RundownID == r.ID })
		m.rundowns[r.ID] = r.DeepCopy()
	}
	for _, s := range c.Segments {
		m.segments[s.ID] = s.DeepCopy()
	}
	for _, p := range c.Parts {
		m.parts[p.ID] = p.DeepCopy()
	}
	for _, p := range c.Pieces {
		m.pieces[p.ID] = p.DeepCopy()
	}
	return nil
}

func (m *MemoryStore) LoadContent(_ context.Context, rundownIDs []string) (*Content, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	in := func(id string) bool { return slices.Contains(rundownIDs, id) }

	c := &Content{}
	for _, id := range rundownIDs {
		if r, ok := m.rundowns[id]; ok {
			c.Rundowns = append(c.Rundowns, r.DeepCopy())
		}
	}
	for _, s := range m.segments {
		if in(s.RundownID) {
			c.Segments = append(c.Segments, s.DeepCopy())
		}
	}
	for _, p := range m.parts {
		if in(p.RundownID) {
			c.Parts = append(c.Parts, p.DeepCopy())
		}
	}
	for _, p := range m.pieces {
		if in(p.RundownID) {
			c.Pieces = append(c.Pieces, p.DeepCopy())
		}
	}
	sort.Slice(c.Rundowns, func(i, j int) bool { return c.Rundowns[i].Rank < c.Rundowns[j].Rank })
	sort.Slice(c.Segments, func(i, j int) bool { return c.Segments[i].Rank < c.Segments[j].Rank })
	sort.Slice(c.Parts, func(i, j int) bool { return c.Parts[i].Rank < c.Parts[j].Rank })
	sort.Slice(c.Pieces, func(i, j int) bool { return c.Pieces[i].ID < c.Pieces[j].ID })
	return c, nil
}

func (m *MemoryStore) PartInstances(_ context.Context, ids []string) ([]*PartInstance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*PartInstance
	for _, id := range ids {
		if pi, ok := m.partInstances[id]; ok {
			out = append(out, pi.DeepCopy())
		}
	}
	return out, nil
}

func (m *MemoryStore) PieceInstances(_ context.Context, partInstanceIDs []string) ([]*PieceInstance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*PieceInstance
	for _, pi := range m.pieceInstances {
		if slices.Contains(partInstanceIDs, pi.PartInstanceID) {
			out = append(out, pi.DeepCopy())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) WritePartInstances(_ context.Context, items []*PartInstance, remove []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.FailWrites["part_instances"]; err != nil {
		return err
	}
	for _, id := range remove {
		delete(m.partInstances, id)
	}
	for _, pi := range items {
		m.partInstances[pi.ID] = pi.DeepCopy()
	}
	return nil
}

func (m *MemoryStore) WritePieceInstances(_ context.Context, items []*PieceInstance, remove []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.FailWrites["piece_instances"]; err != nil {
		return err
	}
	for _, id := range remove {
		delete(m.pieceInstances, id)
	}
	for _, pi := range items {
		m.pieceInstances[pi.ID] = pi.DeepCopy()
	}
	return nil
}

func (m *MemoryStore) ClearInstances(_ context.Context, playlistID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	deleteWhere(m.pieceInstances, func(pi *PieceInstance) bool { return pi.PlaylistID == playlistID })
	deleteWhere(m.partInstances, func(pi *PartInstance) bool { return pi.PlaylistID == playlistID })
	return nil
}

func (m *MemoryStore) GetTimeline(_ context.Context, studioID string) (*Timeline, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.timelines[studioID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTimelineNotFound, studioID)
	}
	cpy := *t
	cpy.Objects = slices.Clone(t.Objects)
	return &cpy, nil
}

func (m *MemoryStore) WriteTimeline(_ context.Context, t *Timeline) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cpy := *t
	cpy.Objects = slices.Clone(t.Objects)
	m.timelines[t.StudioID] = &cpy
	return nil
}

// PartInstanceCount returns how many PartInstances a playlist has stored.
func (m *MemoryStore) PartInstanceCount(playlistID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, pi := range m.partInstances {
		if pi.PlaylistID == playlistID {
			n++
		}
	}
	return n
}

// PieceInstanceCount returns how many PieceInstances a playlist has stored.
func (m *MemoryStore) PieceInstanceCount(playlistID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, pi := range m.pieceInstances {
		if pi.PlaylistID == playlistID {
			n++
		}
	}
	return n
}

func deleteWhere[T any](m map[string]T, match func(T) bool) {
	for k, v := range m {
		if match(v) {
			delete(m, k)
		}
	}
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*SQLiteStore)(nil)
)
