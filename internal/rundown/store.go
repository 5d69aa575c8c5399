package rundown

import (
	"context"
	"slices"
	"sort"
)

// Store defines the persistence operations of the playout collections.
//
// Write methods replace or delete whole documents. Each call is atomic for
// its own collection; there is no atomicity across collections, so callers
// order their writes.
type Store interface {
	CreatePlaylist(ctx context.Context, p *Playlist) error
	GetPlaylist(ctx context.Context, id string) (*Playlist, error)
	ListPlaylists(ctx context.Context, studioID string) ([]*Playlist, error)
	WritePlaylist(ctx context.Context, p *Playlist) error

	// SaveContent replaces the scripted content of the given rundowns.
	SaveContent(ctx context.Context, c *Content) error
	LoadContent(ctx context.Context, rundownIDs []string) (*Content, error)

	PartInstances(ctx context.Context, ids []string) ([]*PartInstance, error)
	PieceInstances(ctx context.Context, partInstanceIDs []string) ([]*PieceInstance, error)
	WritePartInstances(ctx context.Context, upsert []*PartInstance, remove []string) error
	WritePieceInstances(ctx context.Context, upsert []*PieceInstance, remove []string) error

	// ClearInstances deletes every PartInstance and PieceInstance of a playlist.
	ClearInstances(ctx context.Context, playlistID string) error

	GetTimeline(ctx context.Context, studioID string) (*Timeline, error)
	WriteTimeline(ctx context.Context, t *Timeline) error
}

// OrderedSegments returns the segments in show order: by the playlist's
// rundown order, then by rank.
func OrderedSegments(rundownIDs []string, segments []*Segment) []*Segment {
	pos := rundownPositions(rundownIDs)
	out := slices.Clone(segments)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if pa, pb := pos[a.RundownID], pos[b.RundownID]; pa != pb {
			return pa < pb
		}
		return a.Rank < b.Rank
	})
	return out
}

// OrderedParts returns the parts in show order. Parts of hidden or unknown
// segments are dropped.
func OrderedParts(rundownIDs []string, segments []*Segment, parts []*Part) []*Part {
	segPos := make(map[string]int, len(segments))
	for i, s := range OrderedSegments(rundownIDs, segments) {
		if !s.IsHidden {
			segPos[s.ID] = i
		}
	}

	out := make([]*Part, 0, len(parts))
	for _, p := range parts {
		if _, ok := segPos[p.SegmentID]; ok {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if sa, sb := segPos[a.SegmentID], segPos[b.SegmentID]; sa != sb {
			return sa < sb
		}
		return a.Rank < b.Rank
	})
	return out
}

func rundownPositions(rundownIDs []string) map[string]int {
	pos := make(map[string]int, len(rundownIDs))
	for i, id := range rundownIDs {
		pos[id] = i
	}
	return pos
}
