package audit

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/playout-core/internal/infrastructure/database"
	"github.com/nerrad567/playout-core/migrations"
)

func openRepo(t *testing.T) *SQLiteRepository {
	t.Helper()

	db, err := database.Open(database.Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	if err := db.Migrate(context.Background(), migrations.FS); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return NewSQLiteRepository(db.DB)
}

func seed(t *testing.T, r *SQLiteRepository) {
	t.Helper()
	base := time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)
	entries := []Entry{
		{JobID: "j1", Command: "activate", StudioID: "studio-a", PlaylistID: "show-1", Subject: "director", Source: "http"},
		{JobID: "j2", Command: "take", StudioID: "studio-a", PlaylistID: "show-1", Subject: "op", Source: "http", Duration: 42 * time.Millisecond},
		{JobID: "j3", Command: "take", StudioID: "studio-a", PlaylistID: "show-1", Source: "mqtt", ErrorCode: "take_rate_limit"},
		{JobID: "j4", Command: "take", StudioID: "studio-b", PlaylistID: "show-2", Source: "http"},
	}
	for i := range entries {
		entries[i].CreatedAt = base.Add(time.Duration(i) * time.Second)
		if err := r.Create(context.Background(), &entries[i]); err != nil {
			t.Fatalf("Create(%s) error = %v", entries[i].JobID, err)
		}
	}
}

// ─── Create ───────────────────────────────────────────────────────

func TestCreate_GeneratesIDAndTimestamp(t *testing.T) {
	r := openRepo(t)

	e := &Entry{
		JobID:    "j1",
		Command:  "action",
		StudioID: "studio-a",
		Source:   "http",
		Details:  map[string]any{"action_id": "lower-third"},
	}
	if err := r.Create(context.Background(), e); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if !strings.HasPrefix(e.ID, "aud-") {
		t.Errorf("ID = %q, want aud- prefix", e.ID)
	}
	if e.CreatedAt.IsZero() {
		t.Error("CreatedAt should be set")
	}

	res, err := r.List(context.Background(), Filter{StudioID: "studio-a"})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(res.Entries) != 1 {
		t.Fatalf("List() returned %d entries, want 1", len(res.Entries))
	}
	got := res.Entries[0]
	if got.ID != e.ID || got.Details["action_id"] != "lower-third" {
		t.Errorf("List() entry = %+v", got)
	}
	if got.PlaylistID != "" || got.Subject != "" || got.ErrorCode != "" {
		t.Errorf("nullable fields should read back empty, got %+v", got)
	}
}

// ─── List ─────────────────────────────────────────────────────────

func TestList_Filters(t *testing.T) {
	r := openRepo(t)
	seed(t, r)

	tests := []struct {
		name      string
		filter    Filter
		wantJobs  []string
		wantTotal int
	}{
		{"studio", Filter{StudioID: "studio-a"}, []string{"j3", "j2", "j1"}, 3},
		{"other studio", Filter{StudioID: "studio-b"}, []string{"j4"}, 1},
		{"command", Filter{StudioID: "studio-a", Command: "take"}, []string{"j3", "j2"}, 2},
		{"failed", Filter{StudioID: "studio-a", Failed: true}, []string{"j3"}, 1},
		{"playlist", Filter{StudioID: "studio-a", PlaylistID: "show-2"}, []string{}, 0},
		{"page", Filter{StudioID: "studio-a", Limit: 1, Offset: 1}, []string{"j2"}, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := r.List(context.Background(), tt.filter)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if res.Total != tt.wantTotal {
				t.Errorf("Total = %d, want %d", res.Total, tt.wantTotal)
			}
			got := make([]string, 0, len(res.Entries))
			for _, e := range res.Entries {
				got = append(got, e.JobID)
			}
			if strings.Join(got, ",") != strings.Join(tt.wantJobs, ",") {
				t.Errorf("jobs = %v, want %v", got, tt.wantJobs)
			}
		})
	}
}

func TestList_ClampsLimit(t *testing.T) {
	r := openRepo(t)

	res, err := r.List(context.Background(), Filter{StudioID: "studio-a", Limit: 10_000, Offset: -5})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if res.Limit != maxLimit || res.Offset != 0 {
		t.Errorf("Limit/Offset = %d/%d, want %d/0", res.Limit, res.Offset, maxLimit)
	}
	if res.Entries == nil {
		t.Error("Entries should be an empty slice, not nil")
	}

	res, err = r.List(context.Background(), Filter{StudioID: "studio-a"})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if res.Limit != defaultLimit {
		t.Errorf("Limit = %d, want %d", res.Limit, defaultLimit)
	}
}

func TestEntry_MarshalJSON(t *testing.T) {
	r := openRepo(t)
	seed(t, r)

	res, err := r.List(context.Background(), Filter{StudioID: "studio-a", Command: "take", Limit: 1, Offset: 1})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	data, err := json.Marshal(res.Entries[0])
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if got["duration_ms"] != float64(42) {
		t.Errorf("duration_ms = %v, want 42", got["duration_ms"])
	}
	if got["job_id"] != "j2" {
		t.Errorf("job_id = %v, want j2", got["job_id"])
	}
}
