package cache

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/playout-core/internal/lock"
	"github.com/nerrad567/playout-core/internal/rundown"
)

// recordingStore logs the order of bulk writes.
type recordingStore struct {
	*rundown.MemoryStore
	mu     sync.Mutex
	writes []string
}

func (r *recordingStore) record(name string) {
	r.mu.Lock()
	r.writes = append(r.writes, name)
	r.mu.Unlock()
}

func (r *recordingStore) WritePartInstances(ctx context.Context, up []*rundown.PartInstance, rm []string) error {
	r.record("part_instances")
	return r.MemoryStore.WritePartInstances(ctx, up, rm)
}

func (r *recordingStore) WritePieceInstances(ctx context.Context, up []*rundown.PieceInstance, rm []string) error {
	r.record("piece_instances")
	return r.MemoryStore.WritePieceInstances(ctx, up, rm)
}

func (r *recordingStore) WritePlaylist(ctx context.Context, p *rundown.Playlist) error {
	r.record("playlists")
	return r.MemoryStore.WritePlaylist(ctx, p)
}

func (r *recordingStore) ClearInstances(ctx context.Context, playlistID string) error {
	r.record("clear")
	return r.MemoryStore.ClearInstances(ctx, playlistID)
}

// seedStore creates playlist pl1 with one segment of two parts, and a
// current instance pi1 with one piece instance.
func seedStore(t *testing.T) *recordingStore {
	t.Helper()
	ctx := context.Background()
	s := &recordingStore{MemoryStore: rundown.NewMemoryStore()}

	if err := s.SaveContent(ctx, &rundown.Content{
		Rundowns: []*rundown.Rundown{{ID: "rd1", PlaylistID: "pl1"}},
		Segments: []*rundown.Segment{{ID: "seg1", RundownID: "rd1"}},
		Parts: []*rundown.Part{
			{ID: "p1", RundownID: "rd1", SegmentID: "seg1", Rank: 0},
			{ID: "p2", RundownID: "rd1", SegmentID: "seg1", Rank: 1},
		},
		Pieces: []*rundown.Piece{{ID: "pc1", StartPartID: "p1", RundownID: "rd1"}},
	}); err != nil {
		t.Fatalf("SaveContent() error = %v", err)
	}
	if err := s.CreatePlaylist(ctx, &rundown.Playlist{
		ID: "pl1", StudioID: "studio0", RundownIDs: []string{"rd1"}, ActivationID: "act1",
		CurrentPartInfo: &rundown.SelectedPartInstance{PartInstanceID: "pi1", RundownID: "rd1"},
	}); err != nil {
		t.Fatalf("CreatePlaylist() error = %v", err)
	}
	if err := s.MemoryStore.WritePartInstances(ctx, []*rundown.PartInstance{
		{ID: "pi1", PlaylistID: "pl1", RundownID: "rd1", SegmentID: "seg1", Part: rundown.Part{ID: "p1", SegmentID: "seg1"}},
		{ID: "pi-old", PlaylistID: "pl1", RundownID: "rd1", SegmentID: "seg1", Part: rundown.Part{ID: "p0"}},
	}, nil); err != nil {
		t.Fatalf("WritePartInstances() error = %v", err)
	}
	if err := s.MemoryStore.WritePieceInstances(ctx, []*rundown.PieceInstance{
		{ID: "pci1", PartInstanceID: "pi1", PlaylistID: "pl1", Piece: rundown.Piece{ID: "pc1"}},
		{ID: "pci-old", PartInstanceID: "pi-old", PlaylistID: "pl1"},
	}, nil); err != nil {
		t.Fatalf("WritePieceInstances() error = %v", err)
	}
	return s
}

func loadCache(t *testing.T, locks *lock.Manager, s rundown.Store) *PlayoutCache {
	t.Helper()
	c, err := Load(context.Background(), locks, s, "pl1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	t.Cleanup(c.Release)
	return c
}

// ─── Load ─────────────────────────────────────────────────────────

func TestLoad(t *testing.T) {
	s := seedStore(t)
	c := loadCache(t, lock.NewManager(), s)

	cur, ok := c.Selected(rundown.PartCurrent)
	if !ok || cur.ID != "pi1" {
		t.Fatalf("Selected(current) = %+v, %v", cur, ok)
	}
	if _, ok := c.Selected(rundown.PartNext); ok {
		t.Error("Selected(next) ok = true with no next")
	}
	if c.PartInstances.Has("pi-old") {
		t.Error("unselected instance pi-old was loaded")
	}
	if got := c.PieceInstancesOf("pi1"); len(got) != 1 {
		t.Errorf("PieceInstancesOf(pi1) = %d, want 1", len(got))
	}
	if got := c.OrderedParts(); len(got) != 2 || got[0].ID != "p1" {
		t.Errorf("OrderedParts() = %v", got)
	}
	if got := c.PiecesForPart("p1"); len(got) != 1 {
		t.Errorf("PiecesForPart(p1) = %d, want 1", len(got))
	}
	if _, ok := c.Part("missing"); ok {
		t.Error("Part(missing) ok = true")
	}
	if c.IsDirty() {
		t.Error("fresh cache is dirty")
	}
}

func TestLoad_SerializesPerPlaylist(t *testing.T) {
	s := seedStore(t)
	locks := lock.NewManager()
	first := loadCache(t, locks, s)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := Load(ctx, locks, s, "pl1"); !errors.Is(err, lock.ErrAcquireCancelled) {
		t.Fatalf("second Load() error = %v, want ErrAcquireCancelled", err)
	}

	first.Release()
	second, err := Load(context.Background(), locks, s, "pl1")
	if err != nil {
		t.Fatalf("Load() after release error = %v", err)
	}
	second.Release()
}

func TestLoad_MissingPlaylistReleasesLock(t *testing.T) {
	locks := lock.NewManager()
	if _, err := Load(context.Background(), locks, rundown.NewMemoryStore(), "pl1"); !errors.Is(err, rundown.ErrPlaylistNotFound) {
		t.Fatalf("Load() error = %v, want ErrPlaylistNotFound", err)
	}
	if locks.Len() != 0 {
		t.Errorf("locks.Len() = %d, want 0", locks.Len())
	}
}

// ─── Reads are copies ─────────────────────────────────────────────

func TestReadsAreCopies(t *testing.T) {
	c := loadCache(t, lock.NewManager(), seedStore(t))

	cur, _ := c.Selected(rundown.PartCurrent)
	cur.TakeCount = 99
	again, _ := c.Selected(rundown.PartCurrent)
	if again.TakeCount == 99 {
		t.Error("mutating a read copy changed the cache")
	}

	p := c.Playlist()
	p.HoldState = rundown.HoldActive
	if c.Playlist().HoldState == rundown.HoldActive {
		t.Error("mutating Playlist() copy changed the cache")
	}
	if c.IsDirty() {
		t.Error("cache dirty after mutating copies only")
	}
}

// ─── Flush ────────────────────────────────────────────────────────

func TestFlush_Order(t *testing.T) {
	s := seedStore(t)
	c := loadCache(t, lock.NewManager(), s)

	if err := c.PartInstances.Update("pi1", func(pi *rundown.PartInstance) { pi.TakeCount = 1 }); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	c.PieceInstances.Insert(&rundown.PieceInstance{ID: "pci2", PartInstanceID: "pi1", PlaylistID: "pl1"})
	c.UpdatePlaylist(func(p *rundown.Playlist) { p.HoldState = rundown.HoldPending })

	if err := c.Flush(context.Background()); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	want := []string{"part_instances", "piece_instances", "playlists"}
	if !slices.Equal(s.writes, want) {
		t.Errorf("writes = %v, want %v", s.writes, want)
	}
	if c.IsDirty() {
		t.Error("cache dirty after Flush")
	}

	p, _ := s.GetPlaylist(context.Background(), "pl1")
	if p.HoldState != rundown.HoldPending || p.Modified.IsZero() {
		t.Errorf("stored playlist = %+v", p)
	}
	if s.PieceInstanceCount("pl1") != 3 {
		t.Errorf("PieceInstanceCount = %d, want 3", s.PieceInstanceCount("pl1"))
	}
}

func TestFlush_NothingDirty(t *testing.T) {
	s := seedStore(t)
	c := loadCache(t, lock.NewManager(), s)
	if err := c.Flush(context.Background()); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if len(s.writes) != 0 {
		t.Errorf("writes = %v, want none", s.writes)
	}
}

func TestFlush_RemovesUnreferencedInstances(t *testing.T) {
	s := seedStore(t)
	c := loadCache(t, lock.NewManager(), s)

	if err := c.LoadPartInstances(context.Background(), "pi-old"); err != nil {
		t.Fatalf("LoadPartInstances() error = %v", err)
	}
	if !c.PartInstances.Has("pi-old") || len(c.PieceInstancesOf("pi-old")) != 1 {
		t.Fatal("pi-old not loaded with its pieces")
	}

	if err := c.Flush(context.Background()); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if s.PartInstanceCount("pl1") != 1 || s.PieceInstanceCount("pl1") != 1 {
		t.Errorf("stored instances = %d/%d, want 1/1", s.PartInstanceCount("pl1"), s.PieceInstanceCount("pl1"))
	}
}

func TestFlush_RefusedAfterLockRevoked(t *testing.T) {
	s := seedStore(t)
	locks := lock.NewManager()

	ctx := lock.WithOwner(context.Background(), "loop#1")
	c, err := Load(ctx, locks, s, "pl1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	defer c.Release()

	c.UpdatePlaylist(func(p *rundown.Playlist) { p.HoldState = rundown.HoldPending })
	locks.ReleaseOwner("loop#1")

	if err := c.Flush(ctx); !errors.Is(err, ErrLockLost) {
		t.Fatalf("Flush() error = %v, want ErrLockLost", err)
	}
	if len(s.writes) != 0 {
		t.Errorf("writes = %v, want none", s.writes)
	}
}

func TestFlush_RefusedAfterCancel(t *testing.T) {
	s := seedStore(t)
	c := loadCache(t, lock.NewManager(), s)
	c.UpdatePlaylist(func(p *rundown.Playlist) { p.HoldState = rundown.HoldPending })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.Flush(ctx); !errors.Is(err, ErrFlushRefused) {
		t.Fatalf("Flush() error = %v, want ErrFlushRefused", err)
	}
	if len(s.writes) != 0 {
		t.Errorf("writes = %v, want none", s.writes)
	}
}

func TestFlush_StopsAtFirstFailure(t *testing.T) {
	s := seedStore(t)
	boom := errors.New("disk full")
	s.FailWrites = map[string]error{"part_instances": boom}
	c := loadCache(t, lock.NewManager(), s)

	_ = c.PartInstances.Update("pi1", func(pi *rundown.PartInstance) { pi.TakeCount = 1 })
	c.PieceInstances.Insert(&rundown.PieceInstance{ID: "pci2", PartInstanceID: "pi1", PlaylistID: "pl1"})
	c.UpdatePlaylist(func(p *rundown.Playlist) { p.HoldState = rundown.HoldPending })

	if err := c.Flush(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("Flush() error = %v, want %v", err, boom)
	}
	if !slices.Equal(s.writes, []string{"part_instances"}) {
		t.Errorf("writes = %v, want only part_instances", s.writes)
	}
	p, _ := s.GetPlaylist(context.Background(), "pl1")
	if p.HoldState == rundown.HoldPending {
		t.Error("playlist written after an earlier collection failed")
	}
}

func TestFlush_ClearAllInstances(t *testing.T) {
	s := seedStore(t)
	c := loadCache(t, lock.NewManager(), s)

	c.ClearAllInstances()
	c.UpdatePlaylist(func(p *rundown.Playlist) { p.CurrentPartInfo = nil })
	if err := c.Flush(context.Background()); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if s.writes[0] != "clear" {
		t.Errorf("first write = %s, want clear", s.writes[0])
	}
	if s.PartInstanceCount("pl1") != 0 || s.PieceInstanceCount("pl1") != 0 {
		t.Errorf("stored instances = %d/%d, want 0/0", s.PartInstanceCount("pl1"), s.PieceInstanceCount("pl1"))
	}
}

func TestFlush_AfterRelease(t *testing.T) {
	c := loadCache(t, lock.NewManager(), seedStore(t))
	c.Release()
	c.Release()
	if err := c.Flush(context.Background()); !errors.Is(err, ErrReleased) {
		t.Errorf("Flush() error = %v, want ErrReleased", err)
	}
}

// ─── Collection ───────────────────────────────────────────────────

func TestCollection(t *testing.T) {
	c := newCollection("parts", []*rundown.Part{{ID: "a"}, {ID: "b"}})

	if err := c.Update("missing", func(*rundown.Part) {}); !errors.Is(err, ErrDocumentNotFound) {
		t.Errorf("Update(missing) error = %v, want ErrDocumentNotFound", err)
	}
	if err := c.Update("a", func(p *rundown.Part) { p.ID = "z" }); !errors.Is(err, ErrInvalidUpdate) {
		t.Errorf("Update(id change) error = %v, want ErrInvalidUpdate", err)
	}

	c2 := newCollection("parts", []*rundown.Part{{ID: "a"}, {ID: "b"}, {ID: "c"}})
	_ = c2.Update("b", func(p *rundown.Part) { p.Title = "B" })
	c2.Insert(&rundown.Part{ID: "d"})
	c2.Remove("c")
	if c2.Remove("c") {
		t.Error("second Remove(c) = true")
	}

	up, rm := c2.changes()
	if len(up) != 2 || up[0].ID != "b" || up[1].ID != "d" {
		t.Errorf("changes() upsert = %v", up)
	}
	if !slices.Equal(rm, []string{"c"}) {
		t.Errorf("changes() remove = %v, want [c]", rm)
	}

	// Re-inserting a removed document cancels the delete.
	c2.Insert(&rundown.Part{ID: "c"})
	if _, rm := c2.changes(); len(rm) != 0 {
		t.Errorf("remove after reinsert = %v, want none", rm)
	}

	if got := c2.Find(func(p *rundown.Part) bool { return p.Title == "B" }); len(got) != 1 {
		t.Errorf("Find() = %d, want 1", len(got))
	}
	if ids := c2.RemoveWhere(func(*rundown.Part) bool { return true }); len(ids) != 4 || c2.Len() != 0 {
		t.Errorf("RemoveWhere(all) = %v, Len() = %d", ids, c2.Len())
	}
}
