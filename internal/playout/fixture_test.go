package playout

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/playout-core/internal/events"
	"github.com/nerrad567/playout-core/internal/infrastructure/config"
	"github.com/nerrad567/playout-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/playout-core/internal/jobs"
	"github.com/nerrad567/playout-core/internal/lock"
	"github.com/nerrad567/playout-core/internal/playout/cache"
	"github.com/nerrad567/playout-core/internal/rundown"
	"github.com/nerrad567/playout-core/internal/showstyle"
)

const (
	testStudio   = "studio-a"
	testPlaylist = "pl1"
)

var t0 = time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type enqueueCall struct {
	queue   string
	name    string
	payload any
	opts    jobs.EnqueueOptions
}

type recordingEnqueuer struct {
	mu    sync.Mutex
	calls []enqueueCall
}

func (r *recordingEnqueuer) Enqueue(queue, name string, payload any, opts jobs.EnqueueOptions) *jobs.Handle {
	r.mu.Lock()
	r.calls = append(r.calls, enqueueCall{queue, name, payload, opts})
	r.mu.Unlock()
	return nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordingPublisher) Publish(_ context.Context, e events.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recordingPublisher) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

type recordingMetrics struct {
	mu      sync.Mutex
	samples []influxdb.TakeSample
}

func (r *recordingMetrics) WriteTakeMetric(s influxdb.TakeSample) {
	r.mu.Lock()
	r.samples = append(r.samples, s)
	r.mu.Unlock()
}

type fixture struct {
	t         *testing.T
	ctx       context.Context
	store     *rundown.MemoryStore
	clock     *testClock
	scheduler *recordingEnqueuer
	events    *recordingPublisher
	metrics   *recordingMetrics
	svc       *Service
}

func dur(d time.Duration) *time.Duration { return &d }

// newFixture seeds playlist pl1 with three segments:
//
//	seg1: p1 (cam1, gfx1 at 5s allow-disable, bg segment-end), p2 (cam2), p3 invalid
//	seg2: p4 hold-from (cam4), p5 hold-to (cam5)
//	seg3: p6 (cam6), p7 autonext 10s (cam7)
func newFixture(t *testing.T, settings config.StudioSettings) *fixture {
	t.Helper()
	ctx := context.Background()
	store := rundown.NewMemoryStore()

	if err := store.SaveContent(ctx, &rundown.Content{
		Rundowns: []*rundown.Rundown{{ID: "rd1", PlaylistID: testPlaylist, ShowStyleID: "news"}},
		Segments: []*rundown.Segment{
			{ID: "seg1", RundownID: "rd1", Rank: 0},
			{ID: "seg2", RundownID: "rd1", Rank: 1},
			{ID: "seg3", RundownID: "rd1", Rank: 2},
		},
		Parts: []*rundown.Part{
			{ID: "p1", RundownID: "rd1", SegmentID: "seg1", Rank: 0, ExpectedDuration: 20 * time.Second},
			{ID: "p2", RundownID: "rd1", SegmentID: "seg1", Rank: 1},
			{ID: "p3", RundownID: "rd1", SegmentID: "seg1", Rank: 2, Invalid: true},
			{ID: "p4", RundownID: "rd1", SegmentID: "seg2", Rank: 0, HoldMode: rundown.HoldModeFrom},
			{ID: "p5", RundownID: "rd1", SegmentID: "seg2", Rank: 1, HoldMode: rundown.HoldModeTo},
			{ID: "p6", RundownID: "rd1", SegmentID: "seg3", Rank: 0},
			{ID: "p7", RundownID: "rd1", SegmentID: "seg3", Rank: 1, Autonext: true, ExpectedDuration: 10 * time.Second},
		},
		Pieces: []*rundown.Piece{
			{ID: "cam1", StartPartID: "p1", RundownID: "rd1", Name: "cam1", SourceLayerID: "cam", PieceType: rundown.PieceNormal},
			{ID: "gfx1", StartPartID: "p1", RundownID: "rd1", Name: "gfx1", SourceLayerID: "gfx-lower", PieceType: rundown.PieceNormal,
				Enable: rundown.Enable{Start: 5 * time.Second, Duration: dur(3 * time.Second)}},
			{ID: "bg", StartPartID: "p1", RundownID: "rd1", Name: "bg", SourceLayerID: "bg", PieceType: rundown.PieceNormal,
				Lifespan: rundown.LifespanOutOnSegmentEnd},
			{ID: "cam2", StartPartID: "p2", RundownID: "rd1", Name: "cam2", SourceLayerID: "cam", PieceType: rundown.PieceNormal},
			{ID: "cam4", StartPartID: "p4", RundownID: "rd1", Name: "cam4", SourceLayerID: "cam", PieceType: rundown.PieceNormal},
			{ID: "cam5", StartPartID: "p5", RundownID: "rd1", Name: "cam5", SourceLayerID: "cam", PieceType: rundown.PieceNormal},
			{ID: "cam6", StartPartID: "p6", RundownID: "rd1", Name: "cam6", SourceLayerID: "cam", PieceType: rundown.PieceNormal},
			{ID: "cam7", StartPartID: "p7", RundownID: "rd1", Name: "cam7", SourceLayerID: "cam", PieceType: rundown.PieceNormal},
		},
	}); err != nil {
		t.Fatalf("SaveContent() error = %v", err)
	}
	if err := store.CreatePlaylist(ctx, &rundown.Playlist{
		ID: testPlaylist, StudioID: testStudio, Name: "Evening", RundownIDs: []string{"rd1"}, HoldState: rundown.HoldNone,
	}); err != nil {
		t.Fatalf("CreatePlaylist() error = %v", err)
	}

	styles := showstyle.NewLoader("")
	if err := styles.Register(&showstyle.ShowStyle{
		ID: "news",
		SourceLayers: []showstyle.SourceLayer{
			{ID: "cam"},
			{ID: "gfx-lower", AllowDisable: true},
			{ID: "bg"},
		},
	}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	f := &fixture{
		t:         t,
		ctx:       ctx,
		store:     store,
		clock:     &testClock{now: t0},
		scheduler: &recordingEnqueuer{},
		events:    &recordingPublisher{},
		metrics:   &recordingMetrics{},
	}
	f.svc = New(Config{
		Store:      store,
		Locks:      lock.NewManager(),
		Studios:    []config.StudioConfig{{ID: testStudio, Settings: settings}},
		ShowStyles: map[string]ShowStyleSource{testStudio: styles},
		Scheduler:  f.scheduler,
		Events:     f.events,
		Metrics:    f.metrics,
		Now:        f.clock.Now,
	})
	return f
}

func defaultSettings() config.StudioSettings {
	return config.StudioSettings{MinimumTakeSpanMS: 1000}
}

func (f *fixture) run(fn func(ctx context.Context, c *cache.PlayoutCache) error) (*rundown.Playlist, error) {
	return f.svc.RunWithCache(f.ctx, testPlaylist, fn)
}

func (f *fixture) playlist() *rundown.Playlist {
	f.t.Helper()
	p, err := f.store.GetPlaylist(f.ctx, testPlaylist)
	if err != nil {
		f.t.Fatalf("GetPlaylist() error = %v", err)
	}
	return p
}

func (f *fixture) activate(rehearsal bool) {
	f.t.Helper()
	if _, err := f.svc.ActivatePlaylist(f.ctx, ActivatePayload{PlaylistID: testPlaylist, Rehearsal: rehearsal}); err != nil {
		f.t.Fatalf("ActivatePlaylist() error = %v", err)
	}
}

// take advances the clock past the take span and takes from the current
// instance.
func (f *fixture) take() *rundown.Playlist {
	f.t.Helper()
	f.clock.Advance(2 * time.Second)
	p, err := f.svc.TakeNextPart(f.ctx, TakePayload{PlaylistID: testPlaylist, FromPartInstanceID: f.instanceID(rundown.PartCurrent)})
	if err != nil {
		f.t.Fatalf("TakeNextPart() error = %v", err)
	}
	return p
}

func (f *fixture) setNext(partID string) {
	f.t.Helper()
	if _, err := f.svc.SetNext(f.ctx, SetNextPayload{PlaylistID: testPlaylist, PartID: partID}); err != nil {
		f.t.Fatalf("SetNext(%s) error = %v", partID, err)
	}
}

func (f *fixture) instanceID(ref rundown.PartRef) string {
	if info := f.playlist().PartInfo(ref); info != nil {
		return info.PartInstanceID
	}
	return ""
}

// instance returns the PartInstance in a slot, or nil.
func (f *fixture) instance(ref rundown.PartRef) *rundown.PartInstance {
	f.t.Helper()
	id := f.instanceID(ref)
	if id == "" {
		return nil
	}
	got, err := f.store.PartInstances(f.ctx, []string{id})
	if err != nil || len(got) != 1 {
		f.t.Fatalf("PartInstances(%s) = %v, %v", id, got, err)
	}
	return got[0]
}

// partID returns the ID of the part in a slot, or "".
func (f *fixture) partID(ref rundown.PartRef) string {
	f.t.Helper()
	if inst := f.instance(ref); inst != nil {
		return inst.Part.ID
	}
	return ""
}

func (f *fixture) pieces(ref rundown.PartRef) []*rundown.PieceInstance {
	f.t.Helper()
	id := f.instanceID(ref)
	if id == "" {
		return nil
	}
	got, err := f.store.PieceInstances(f.ctx, []string{id})
	if err != nil {
		f.t.Fatalf("PieceInstances() error = %v", err)
	}
	return got
}

func pieceByID(pieces []*rundown.PieceInstance, pieceID string) *rundown.PieceInstance {
	for _, pi := range pieces {
		if pi.Piece.ID == pieceID {
			return pi
		}
	}
	return nil
}

func wantCode(t *testing.T, err error, target *UserError) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("error = %v, want %s", err, target.Code)
	}
}

func wantSlots(t *testing.T, f *fixture, previous, current, next string) {
	t.Helper()
	got := [3]string{f.partID(rundown.PartPrevious), f.partID(rundown.PartCurrent), f.partID(rundown.PartNext)}
	want := [3]string{previous, current, next}
	if got != want {
		t.Fatalf("previous/current/next = %v, want %v", got, want)
	}
}
