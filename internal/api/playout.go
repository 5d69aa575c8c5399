package api

import (
	"errors"
	"io"
	"net/http"
	"slices"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/playout-core/internal/auth"
	"github.com/nerrad567/playout-core/internal/jobs"
	"github.com/nerrad567/playout-core/internal/playout"
	"github.com/nerrad567/playout-core/internal/rundown"
)

// studioSummary is one entry of GET /studios.
type studioSummary struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Queue jobs.QueueStats `json:"queue"`
}

// playlistView is a playlist with its selected part instances resolved.
type playlistView struct {
	*rundown.Playlist
	PartInstances []*rundown.PartInstance `json:"part_instances"`
}

// commandResponse is the body of a successful command.
type commandResponse struct {
	JobID  string `json:"job_id"`
	Result any    `json:"result,omitempty"`
}

// handleListStudios returns the configured studios the caller may see,
// with a snapshot of each studio's job queue.
func (s *Server) handleListStudios(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r.Context())
	out := make([]studioSummary, 0, len(s.studios))
	for id, st := range s.studios {
		if p != nil && !p.CanAccessStudio(id) {
			continue
		}
		out = append(out, studioSummary{
			ID:    id,
			Name:  st.Name,
			Queue: s.scheduler.Stats(playout.QueueName(id)),
		})
	}
	slices.SortFunc(out, func(a, b studioSummary) int { return strings.Compare(a.ID, b.ID) })
	writeJSON(w, http.StatusOK, map[string]any{"studios": out, "count": len(out)})
}

// handleStudioQueue returns the queue statistics and running jobs of a studio.
func (s *Server) handleStudioQueue(w http.ResponseWriter, r *http.Request) {
	studioID, ok := s.studioParam(w, r)
	if !ok {
		return
	}
	queue := playout.QueueName(studioID)
	writeJSON(w, http.StatusOK, map[string]any{
		"stats":   s.scheduler.Stats(queue),
		"running": s.scheduler.Running(queue),
	})
}

// handleListPlaylists returns the playlists of a studio.
func (s *Server) handleListPlaylists(w http.ResponseWriter, r *http.Request) {
	studioID, ok := s.studioParam(w, r)
	if !ok {
		return
	}
	playlists, err := s.store.ListPlaylists(r.Context(), studioID)
	if err != nil {
		s.logger.Error("listing playlists", "studio_id", studioID, "error", err)
		writeInternalError(w, "failed to list playlists")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"playlists": playlists, "count": len(playlists)})
}

// handleGetTimeline returns the last generated timeline of a studio.
func (s *Server) handleGetTimeline(w http.ResponseWriter, r *http.Request) {
	studioID, ok := s.studioParam(w, r)
	if !ok {
		return
	}
	tl, err := s.store.GetTimeline(r.Context(), studioID)
	if errors.Is(err, rundown.ErrTimelineNotFound) {
		writeNotFound(w, "no timeline generated for this studio")
		return
	}
	if err != nil {
		s.logger.Error("reading timeline", "studio_id", studioID, "error", err)
		writeInternalError(w, "failed to read timeline")
		return
	}
	writeJSON(w, http.StatusOK, tl)
}

// handleGetPlaylist returns a playlist with its previous, current and next
// part instances. The read is not serialised with running jobs.
func (s *Server) handleGetPlaylist(w http.ResponseWriter, r *http.Request) {
	pl, ok := s.playlistParam(w, r)
	if !ok {
		return
	}

	var ids []string
	for _, ref := range []rundown.PartRef{rundown.PartPrevious, rundown.PartCurrent, rundown.PartNext} {
		if info := pl.PartInfo(ref); info != nil {
			ids = append(ids, info.PartInstanceID)
		}
	}
	view := playlistView{Playlist: pl, PartInstances: []*rundown.PartInstance{}}
	if len(ids) > 0 {
		instances, err := s.store.PartInstances(r.Context(), ids)
		if err != nil {
			s.logger.Error("reading part instances", "playlist_id", pl.ID, "error", err)
			writeInternalError(w, "failed to read part instances")
			return
		}
		view.PartInstances = instances
	}
	writeJSON(w, http.StatusOK, view)
}

// handleCommand returns the handler for one playout command on
// /playlists/{playlistID}.
func (s *Server) handleCommand(name string) http.HandlerFunc {
	cmd, ok := commands[name]
	if !ok {
		panic("api: unknown command " + name)
	}
	return func(w http.ResponseWriter, r *http.Request) {
		p := principalFrom(r.Context())
		if p == nil || !p.Can(cmd.perm) {
			writeForbidden(w, "insufficient permissions")
			return
		}
		pl, ok := s.playlistParam(w, r)
		if !ok {
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			writeBadRequest(w, "failed to read request body")
			return
		}
		t := target{PlaylistID: pl.ID, ActionID: chi.URLParam(r, "actionID")}
		payload, err := cmd.decode(t, body)
		if err != nil {
			writeBadRequest(w, err.Error())
			return
		}

		res, jobID, err := s.submit(r.Context(), submission{
			name:     name,
			cmd:      cmd,
			studioID: pl.StudioID,
			target:   t,
			payload:  payload,
			source:   "http",
			subject:  p.Subject,
		})
		if err != nil {
			writeJobError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, commandResponse{JobID: jobID, Result: res})
	}
}

// studioParam resolves {studioID} and checks the caller may address it.
func (s *Server) studioParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	studioID := chi.URLParam(r, "studioID")
	if _, ok := s.studios[studioID]; !ok {
		writeNotFound(w, "studio not found")
		return "", false
	}
	if !canAccess(principalFrom(r.Context()), studioID) {
		writeForbidden(w, "studio not permitted")
		return "", false
	}
	return studioID, true
}

// playlistParam loads {playlistID} and checks the caller may address its
// studio.
func (s *Server) playlistParam(w http.ResponseWriter, r *http.Request) (*rundown.Playlist, bool) {
	id := chi.URLParam(r, "playlistID")
	pl, err := s.store.GetPlaylist(r.Context(), id)
	if errors.Is(err, rundown.ErrPlaylistNotFound) {
		writeNotFound(w, "playlist not found")
		return nil, false
	}
	if err != nil {
		s.logger.Error("reading playlist", "playlist_id", id, "error", err)
		writeInternalError(w, "failed to read playlist")
		return nil, false
	}
	if !canAccess(principalFrom(r.Context()), pl.StudioID) {
		writeForbidden(w, "studio not permitted")
		return nil, false
	}
	return pl, true
}

func canAccess(p *auth.Principal, studioID string) bool {
	return p != nil && p.CanAccessStudio(studioID)
}
