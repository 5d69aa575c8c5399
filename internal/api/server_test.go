package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/playout-core/internal/auth"
	"github.com/nerrad567/playout-core/internal/events"
	"github.com/nerrad567/playout-core/internal/infrastructure/config"
	"github.com/nerrad567/playout-core/internal/infrastructure/logging"
	"github.com/nerrad567/playout-core/internal/jobs"
	"github.com/nerrad567/playout-core/internal/playout"
	"github.com/nerrad567/playout-core/internal/playout/actions"
	"github.com/nerrad567/playout-core/internal/rundown"
	"github.com/nerrad567/playout-core/internal/worker"
)

const testSecret = "test-secret-key-at-least-32-characters-long"

// recordingEvents collects published events.
type recordingEvents struct {
	mu     sync.Mutex
	events []events.Event
	ch     chan events.Event
}

func newRecordingEvents() *recordingEvents {
	return &recordingEvents{ch: make(chan events.Event, 64)}
}

func (r *recordingEvents) Publish(_ context.Context, e events.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
	r.ch <- e
}

func (r *recordingEvents) next(t *testing.T) events.Event {
	t.Helper()
	select {
	case e := <-r.ch:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for an event")
		return events.Event{}
	}
}

// recordingPayloads keeps the last payload each fake job handler saw.
type recordingPayloads struct {
	mu   sync.Mutex
	last map[string]any
}

func (r *recordingPayloads) set(job string, p any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.last[job] = p
}

func (r *recordingPayloads) get(job string) any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last[job]
}

type testEnv struct {
	srv      *Server
	router   http.Handler
	store    *rundown.MemoryStore
	events   *recordingEvents
	payloads *recordingPayloads
}

// newTestEnv builds a server over a real scheduler and dispatch loop per
// studio. The job handlers are fakes that record their payloads.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	store := rundown.NewMemoryStore()
	require.NoError(t, store.CreatePlaylist(ctx, &rundown.Playlist{
		ID: "show-1", StudioID: "studio-a", Name: "Six O'Clock News", ActivationID: "act-1",
	}))
	require.NoError(t, store.CreatePlaylist(ctx, &rundown.Playlist{
		ID: "show-2", StudioID: "studio-b", Name: "Late Bulletin",
	}))

	payloads := &recordingPayloads{last: make(map[string]any)}
	reg := worker.NewRegistry()
	playlistResult := func(job string) func(context.Context, playout.PlaylistPayload) (any, error) {
		return func(_ context.Context, p playout.PlaylistPayload) (any, error) {
			payloads.set(job, p)
			return &rundown.Playlist{ID: p.PlaylistID}, nil
		}
	}
	worker.Handle(reg, playout.JobTakeNextPart, func(_ context.Context, p playout.TakePayload) (any, error) {
		payloads.set(playout.JobTakeNextPart, p)
		switch p.FromPartInstanceID {
		case "stale":
			return nil, playout.ErrTakeFromIncorrectPart
		case "too-soon":
			return nil, playout.ErrTakeRateLimit
		}
		return &rundown.Playlist{ID: p.PlaylistID, StudioID: "studio-a"}, nil
	})
	worker.Handle(reg, playout.JobActivatePlaylist, func(_ context.Context, p playout.ActivatePayload) (any, error) {
		payloads.set(playout.JobActivatePlaylist, p)
		return &rundown.Playlist{ID: p.PlaylistID, ActivationID: "act-2", Rehearsal: p.Rehearsal}, nil
	})
	worker.Handle(reg, playout.JobMoveNextPart, func(_ context.Context, p playout.MoveNextPayload) (any, error) {
		payloads.set(playout.JobMoveNextPart, p)
		return &playout.MoveNextResult{PartID: "part-3"}, nil
	})
	worker.Handle(reg, actions.JobExecuteAction, func(_ context.Context, p actions.ExecutePayload) (any, error) {
		payloads.set(actions.JobExecuteAction, p)
		if p.ActionID == "broken" {
			return nil, &actions.Error{ActionID: p.ActionID, Err: actions.ErrBadOption}
		}
		return &rundown.Playlist{ID: p.PlaylistID}, nil
	})
	worker.Handle(reg, playout.JobActivateHold, playlistResult(playout.JobActivateHold))
	worker.Handle(reg, playout.JobDeactivateHold, playlistResult(playout.JobDeactivateHold))

	sched := jobs.NewScheduler()
	var wg sync.WaitGroup
	for _, studio := range []string{"studio-a", "studio-b"} {
		loop := worker.NewLoop(worker.LoopConfig{
			Queue:    playout.QueueName(studio),
			Source:   sched,
			Handlers: reg,
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = loop.Run(ctx)
		}()
	}
	t.Cleanup(func() {
		cancel()
		sched.Close()
		wg.Wait()
	})

	rec := newRecordingEvents()
	srv, err := New(Deps{
		Config: config.APIConfig{Host: "127.0.0.1", Timeouts: config.APITimeoutConfig{Read: 5, Write: 5, Idle: 5}},
		WS:     config.WebSocketConfig{MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10},
		Security: config.SecurityConfig{
			JWT: config.JWTConfig{Secret: testSecret, Issuer: "newsroom"},
		},
		Studios: []config.StudioConfig{
			{ID: "studio-a", Name: "Studio A"},
			{ID: "studio-b", Name: "Studio B"},
		},
		Logger:        logging.Discard(),
		Scheduler:     sched,
		Store:         store,
		Events:        rec,
		ResultTimeout: 2 * time.Second,
		Version:       "test",
	})
	require.NoError(t, err)

	return &testEnv{
		srv:      srv,
		router:   srv.buildRouter(),
		store:    store,
		events:   rec,
		payloads: payloads,
	}
}

func token(t *testing.T, role auth.Role, studios ...string) string {
	t.Helper()
	tok, err := auth.GenerateAccessToken(auth.Principal{Subject: "op-" + string(role), Role: role, Studios: studios},
		testSecret, "newsroom", time.Hour)
	require.NoError(t, err)
	return tok
}

func (e *testEnv) do(t *testing.T, method, path, tok, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), "body: %s", w.Body.String())
	return v
}

// ─── Server ───────────────────────────────────────────────────────

func TestNew_RequiresDependencies(t *testing.T) {
	base := Deps{
		Logger:    logging.Discard(),
		Scheduler: jobs.NewScheduler(),
		Store:     rundown.NewMemoryStore(),
		Security:  config.SecurityConfig{JWT: config.JWTConfig{Secret: testSecret}},
	}

	tests := []struct {
		name   string
		modify func(*Deps)
	}{
		{"logger", func(d *Deps) { d.Logger = nil }},
		{"scheduler", func(d *Deps) { d.Scheduler = nil }},
		{"store", func(d *Deps) { d.Store = nil }},
		{"jwt secret", func(d *Deps) { d.Security.JWT.Secret = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := base
			tt.modify(&d)
			_, err := New(d)
			assert.Error(t, err)
		})
	}

	srv, err := New(base)
	require.NoError(t, err)
	assert.NotNil(t, srv.Hub())
	assert.Equal(t, defaultResultTimeout, srv.resultTimeout)
	assert.Error(t, srv.HealthCheck(context.Background()), "not started")
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/v1/health", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	resp := decode[map[string]any](t, w)
	assert.Equal(t, "ok", resp["status"])
	assert.Equal(t, "test", resp["version"])
}

func TestRequestID_PreservesClient(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "client-123")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	assert.Equal(t, "client-123", w.Header().Get("X-Request-ID"))
}

func TestCORS_Preflight(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/playlists/show-1/take", nil)
	req.Header.Set("Origin", "http://gallery.local")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://gallery.local", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestMetrics(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/v1/metrics", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	m := decode[SystemMetrics](t, w)
	assert.Equal(t, "test", m.Version)
	assert.False(t, m.MQTT.Configured)
	assert.Positive(t, m.Runtime.Goroutines)
}

// ─── Authentication ───────────────────────────────────────────────

func TestAuth(t *testing.T) {
	env := newTestEnv(t)

	wrongIssuer, err := auth.GenerateAccessToken(auth.Principal{Subject: "x", Role: auth.RoleDirector},
		testSecret, "elsewhere", time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		want   int
	}{
		{"no token", http.MethodGet, "/api/v1/playlists/show-1", "", http.StatusUnauthorized},
		{"garbage token", http.MethodGet, "/api/v1/playlists/show-1", "nope", http.StatusUnauthorized},
		{"wrong issuer", http.MethodGet, "/api/v1/playlists/show-1", wrongIssuer, http.StatusUnauthorized},
		{"viewer reads", http.MethodGet, "/api/v1/playlists/show-1", token(t, auth.RoleViewer), http.StatusOK},
		{"viewer cannot take", http.MethodPost, "/api/v1/playlists/show-1/take", token(t, auth.RoleViewer), http.StatusForbidden},
		{"operator cannot activate", http.MethodPost, "/api/v1/playlists/show-1/activate", token(t, auth.RoleOperator), http.StatusForbidden},
		{"other studio", http.MethodGet, "/api/v1/playlists/show-1", token(t, auth.RoleViewer, "studio-b"), http.StatusForbidden},
		{"other studio queue", http.MethodGet, "/api/v1/studios/studio-a/queue", token(t, auth.RoleViewer, "studio-b"), http.StatusForbidden},
		{"unknown studio", http.MethodGet, "/api/v1/studios/studio-z/queue", token(t, auth.RoleViewer), http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, tt.method, tt.path, tt.token, "")
			assert.Equal(t, tt.want, w.Code, "body: %s", w.Body.String())
		})
	}
}

// ─── Reads ────────────────────────────────────────────────────────

func TestListStudios_ScopedToToken(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/v1/studios", token(t, auth.RoleViewer), "")
	require.Equal(t, http.StatusOK, w.Code)
	all := decode[struct {
		Studios []studioSummary `json:"studios"`
	}](t, w)
	require.Len(t, all.Studios, 2)
	assert.Equal(t, "studio-a", all.Studios[0].ID)
	assert.Equal(t, "playout:studio-a", all.Studios[0].Queue.Queue)

	w = env.do(t, http.MethodGet, "/api/v1/studios", token(t, auth.RoleViewer, "studio-b"), "")
	scoped := decode[struct {
		Studios []studioSummary `json:"studios"`
	}](t, w)
	require.Len(t, scoped.Studios, 1)
	assert.Equal(t, "Studio B", scoped.Studios[0].Name)
}

func TestGetPlaylist(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	p, err := env.store.GetPlaylist(ctx, "show-1")
	require.NoError(t, err)
	p.CurrentPartInfo = &rundown.SelectedPartInstance{PartInstanceID: "pi-1", RundownID: "rd-1"}
	require.NoError(t, env.store.WritePlaylist(ctx, p))
	require.NoError(t, env.store.WritePartInstances(ctx, []*rundown.PartInstance{{
		ID: "pi-1", PlaylistID: "show-1", RundownID: "rd-1", SegmentID: "seg-1",
		Part: rundown.Part{ID: "part-1", RundownID: "rd-1", SegmentID: "seg-1", Title: "Headlines"},
	}}, nil))

	w := env.do(t, http.MethodGet, "/api/v1/playlists/show-1", token(t, auth.RoleViewer), "")
	require.Equal(t, http.StatusOK, w.Code)

	view := decode[struct {
		ID            string                  `json:"id"`
		PartInstances []*rundown.PartInstance `json:"part_instances"`
	}](t, w)
	assert.Equal(t, "show-1", view.ID)
	require.Len(t, view.PartInstances, 1)
	assert.Equal(t, "Headlines", view.PartInstances[0].Part.Title)

	w = env.do(t, http.MethodGet, "/api/v1/playlists/missing", token(t, auth.RoleViewer), "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListPlaylistsAndTimeline(t *testing.T) {
	env := newTestEnv(t)
	tok := token(t, auth.RoleViewer)

	w := env.do(t, http.MethodGet, "/api/v1/studios/studio-b/playlists", tok, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Late Bulletin")

	w = env.do(t, http.MethodGet, "/api/v1/studios/studio-a/timeline", tok, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	require.NoError(t, env.store.WriteTimeline(context.Background(), &rundown.Timeline{
		StudioID: "studio-a", PlaylistID: "show-1", Generated: time.Now(),
	}))
	w = env.do(t, http.MethodGet, "/api/v1/studios/studio-a/timeline", tok, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "show-1", decode[rundown.Timeline](t, w).PlaylistID)
}
