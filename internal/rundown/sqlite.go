package rundown

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/playout-core/internal/infrastructure/database"
)

// SQLiteStore implements Store on SQLite. Documents are stored as JSON in a
// doc column next to the keys they are looked up by.
type SQLiteStore struct {
	db *database.DB
}

// NewSQLiteStore creates a new SQLite-backed store. The schema comes from
// the migrations package.
func NewSQLiteStore(db *database.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// CreatePlaylist inserts a new playlist.
func (s *SQLiteStore) CreatePlaylist(ctx context.Context, p *Playlist) error {
	if p.ID == "" || p.StudioID == "" {
		return fmt.Errorf("%w: playlist needs id and studio_id", ErrInvalidDocument)
	}
	if p.HoldState == "" {
		p.HoldState = HoldNone
	}
	doc, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encoding playlist %s: %w", p.ID, err)
	}
	const query = `INSERT INTO playlists (id, studio_id, doc, modified) VALUES (?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, query, p.ID, p.StudioID, string(doc), formatTime(p.Modified))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("%w: %s", ErrPlaylistExists, p.ID)
		}
		return fmt.Errorf("inserting playlist %s: %w", p.ID, err)
	}
	return nil
}

// GetPlaylist returns a single playlist by ID.
func (s *SQLiteStore) GetPlaylist(ctx context.Context, id string) (*Playlist, error) {
	const query = `SELECT doc FROM playlists WHERE id = ?`
	var doc string
	if err := s.db.QueryRowContext(ctx, query, id).Scan(&doc); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrPlaylistNotFound, id)
		}
		return nil, fmt.Errorf("querying playlist %s: %w", id, err)
	}
	var p Playlist
	if err := json.Unmarshal([]byte(doc), &p); err != nil {
		return nil, fmt.Errorf("decoding playlist %s: %w", id, err)
	}
	return &p, nil
}

// ListPlaylists returns the playlists of a studio, or all playlists when
// studioID is empty.
func (s *SQLiteStore) ListPlaylists(ctx context.Context, studioID string) ([]*Playlist, error) {
	if studioID == "" {
		return queryDocs[Playlist](ctx, s.db, `SELECT doc FROM playlists ORDER BY id`)
	}
	return queryDocs[Playlist](ctx, s.db, `SELECT doc FROM playlists WHERE studio_id = ? ORDER BY id`, studioID)
}

// WritePlaylist replaces a playlist document.
func (s *SQLiteStore) WritePlaylist(ctx context.Context, p *Playlist) error {
	doc, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encoding playlist %s: %w", p.ID, err)
	}
	const query = `INSERT INTO playlists (id, studio_id, doc, modified) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET studio_id = excluded.studio_id, doc = excluded.doc, modified = excluded.modified`
	if _, err := s.db.ExecContext(ctx, query, p.ID, p.StudioID, string(doc), formatTime(p.Modified)); err != nil {
		return fmt.Errorf("writing playlist %s: %w", p.ID, err)
	}
	return nil
}

// SaveContent replaces every segment, part and piece of the rundowns in c.
func (s *SQLiteStore) SaveContent(ctx context.Context, c *Content) error {
	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		for _, r := range c.Rundowns {
			for _, table := range []string{"segments", "parts", "pieces"} {
				if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE rundown_id = ?", r.ID); err != nil {
					return fmt.Errorf("clearing %s of rundown %s: %w", table, r.ID, err)
				}
			}
			if err := upsert(ctx, tx, `INSERT INTO rundowns (id, playlist_id, rank, doc) VALUES (?, ?, ?, ?)
				ON CONFLICT(id) DO UPDATE SET playlist_id = excluded.playlist_id, rank = excluded.rank, doc = excluded.doc`,
				r, r.ID, r.PlaylistID, r.Rank); err != nil {
				return err
			}
		}
		for _, seg := range c.Segments {
			if err := upsert(ctx, tx, `INSERT INTO segments (id, rundown_id, rank, doc) VALUES (?, ?, ?, ?)`,
				seg, seg.ID, seg.RundownID, seg.Rank); err != nil {
				return err
			}
		}
		for _, p := range c.Parts {
			if err := upsert(ctx, tx, `INSERT INTO parts (id, rundown_id, segment_id, rank, doc) VALUES (?, ?, ?, ?, ?)`,
				p, p.ID, p.RundownID, p.SegmentID, p.Rank); err != nil {
				return err
			}
		}
		for _, p := range c.Pieces {
			if err := upsert(ctx, tx, `INSERT INTO pieces (id, rundown_id, start_part_id, doc) VALUES (?, ?, ?, ?)`,
				p, p.ID, p.RundownID, p.StartPartID); err != nil {
				return err
			}
		}
		return nil
	})
}

// LoadContent reads the scripted content of the given rundowns.
func (s *SQLiteStore) LoadContent(ctx context.Context, rundownIDs []string) (*Content, error) {
	c := &Content{}
	if len(rundownIDs) == 0 {
		return c, nil
	}
	in, args := inClause(rundownIDs)

	var err error
	if c.Rundowns, err = queryDocs[Rundown](ctx, s.db, `SELECT doc FROM rundowns WHERE id IN `+in+` ORDER BY rank`, args...); err != nil {
		return nil, err
	}
	if c.Segments, err = queryDocs[Segment](ctx, s.db, `SELECT doc FROM segments WHERE rundown_id IN `+in+` ORDER BY rank`, args...); err != nil {
		return nil, err
	}
	if c.Parts, err = queryDocs[Part](ctx, s.db, `SELECT doc FROM parts WHERE rundown_id IN `+in+` ORDER BY rank`, args...); err != nil {
		return nil, err
	}
	if c.Pieces, err = queryDocs[Piece](ctx, s.db, `SELECT doc FROM pieces WHERE rundown_id IN `+in+` ORDER BY id`, args...); err != nil {
		return nil, err
	}
	return c, nil
}

// PartInstances returns the instances with the given IDs. Unknown IDs are
// skipped.
func (s *SQLiteStore) PartInstances(ctx context.Context, ids []string) ([]*PartInstance, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	in, args := inClause(ids)
	return queryDocs[PartInstance](ctx, s.db, `SELECT doc FROM part_instances WHERE id IN `+in, args...)
}

// PieceInstances returns every PieceInstance owned by the given PartInstances.
func (s *SQLiteStore) PieceInstances(ctx context.Context, partInstanceIDs []string) ([]*PieceInstance, error) {
	if len(partInstanceIDs) == 0 {
		return nil, nil
	}
	in, args := inClause(partInstanceIDs)
	return queryDocs[PieceInstance](ctx, s.db, `SELECT doc FROM piece_instances WHERE part_instance_id IN `+in+` ORDER BY id`, args...)
}

// WritePartInstances applies one bulk write to the part_instances table.
func (s *SQLiteStore) WritePartInstances(ctx context.Context, items []*PartInstance, remove []string) error {
	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		if err := deleteIDs(ctx, tx, "part_instances", remove); err != nil {
			return err
		}
		for _, pi := range items {
			if err := upsert(ctx, tx, `INSERT INTO part_instances (id, playlist_id, rundown_id, doc) VALUES (?, ?, ?, ?)
				ON CONFLICT(id) DO UPDATE SET doc = excluded.doc`,
				pi, pi.ID, pi.PlaylistID, pi.RundownID); err != nil {
				return err
			}
		}
		return nil
	})
}

// WritePieceInstances applies one bulk write to the piece_instances table.
func (s *SQLiteStore) WritePieceInstances(ctx context.Context, items []*PieceInstance, remove []string) error {
	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		if err := deleteIDs(ctx, tx, "piece_instances", remove); err != nil {
			return err
		}
		for _, pi := range items {
			if err := upsert(ctx, tx, `INSERT INTO piece_instances (id, part_instance_id, playlist_id, doc) VALUES (?, ?, ?, ?)
				ON CONFLICT(id) DO UPDATE SET part_instance_id = excluded.part_instance_id, doc = excluded.doc`,
				pi, pi.ID, pi.PartInstanceID, pi.PlaylistID); err != nil {
				return err
			}
		}
		return nil
	})
}

// ClearInstances deletes all playback instances of a playlist, pieces first.
func (s *SQLiteStore) ClearInstances(ctx context.Context, playlistID string) error {
	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{"piece_instances", "part_instances"} {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE playlist_id = ?", playlistID); err != nil {
				return fmt.Errorf("clearing %s of playlist %s: %w", table, playlistID, err)
			}
		}
		return nil
	})
}

// GetTimeline returns the timeline of a studio.
func (s *SQLiteStore) GetTimeline(ctx context.Context, studioID string) (*Timeline, error) {
	const query = `SELECT doc FROM timelines WHERE studio_id = ?`
	var doc string
	if err := s.db.QueryRowContext(ctx, query, studioID).Scan(&doc); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrTimelineNotFound, studioID)
		}
		return nil, fmt.Errorf("querying timeline %s: %w", studioID, err)
	}
	var t Timeline
	if err := json.Unmarshal([]byte(doc), &t); err != nil {
		return nil, fmt.Errorf("decoding timeline %s: %w", studioID, err)
	}
	return &t, nil
}

// WriteTimeline replaces the timeline of a studio.
func (s *SQLiteStore) WriteTimeline(ctx context.Context, t *Timeline) error {
	doc, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encoding timeline %s: %w", t.StudioID, err)
	}
	const query = `INSERT INTO timelines (studio_id, generated, doc) VALUES (?, ?, ?)
		ON CONFLICT(studio_id) DO UPDATE SET generated = excluded.generated, doc = excluded.doc`
	if _, err := s.db.ExecContext(ctx, query, t.StudioID, formatTime(t.Generated), string(doc)); err != nil {
		return fmt.Errorf("writing timeline %s: %w", t.StudioID, err)
	}
	return nil
}

// queryDocs executes a query selecting a single doc column.
func queryDocs[T any](ctx context.Context, q querier, query string, args ...any) ([]*T, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying %T: %w", *new(T), err)
	}
	defer rows.Close()

	var out []*T
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scanning %T row: %w", *new(T), err)
		}
		v := new(T)
		if err := json.Unmarshal([]byte(doc), v); err != nil {
			return nil, fmt.Errorf("decoding %T: %w", *new(T), err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating %T rows: %w", *new(T), err)
	}
	return out, nil
}

// upsert encodes doc and appends it as the last query argument.
func upsert(ctx context.Context, tx *sql.Tx, query string, doc any, keys ...any) error {
	b, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encoding %T: %w", doc, err)
	}
	if _, err := tx.ExecContext(ctx, query, append(keys, string(b))...); err != nil {
		return fmt.Errorf("writing %T %v: %w", doc, keys[0], err)
	}
	return nil
}

func deleteIDs(ctx context.Context, tx *sql.Tx, table string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	in, args := inClause(ids)
	if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE id IN "+in, args...); err != nil {
		return fmt.Errorf("deleting from %s: %w", table, err)
	}
	return nil
}

// inClause builds "(?, ?, ...)" and its arguments.
func inClause(ids []string) (string, []any) {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return "(" + strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ") + ")", args
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
