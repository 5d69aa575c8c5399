package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/nerrad567/playout-core/internal/audit"
)

// auditChanSize is the buffer size for the async audit channel.
// Entries beyond this are dropped (best-effort) to avoid back-pressure on jobs.
const auditChanSize = 256

// recordAudit enqueues the audit entry of a completed command.
// If the channel is full the entry is dropped and a warning is logged.
func (s *Server) recordAudit(sub submission, done JobCompleted) {
	if s.audit == nil || s.auditCh == nil {
		return
	}
	e := &audit.Entry{
		JobID:      done.JobID,
		Command:    sub.name,
		StudioID:   sub.studioID,
		PlaylistID: sub.target.PlaylistID,
		Subject:    sub.subject,
		Source:     sub.source,
	}
	if sub.target.ActionID != "" {
		e.Details = map[string]any{"action_id": sub.target.ActionID}
	}
	if done.Error != nil {
		e.ErrorCode = done.Error.Code
	}
	if t := done.Timings; t != nil && !t.Started.IsZero() {
		e.Duration = t.Finished.Sub(t.Started)
	}

	select {
	case s.auditCh <- e:
	default:
		s.logger.Warn("audit channel full, dropping entry",
			"job_id", done.JobID,
			"command", sub.name,
		)
	}
}

// drainAuditLog writes audit entries serially until ctx is cancelled,
// then drains what is left.
func (s *Server) drainAuditLog(ctx context.Context) {
	for {
		select {
		case e := <-s.auditCh:
			s.writeAudit(e)
		case <-ctx.Done():
			for {
				select {
				case e := <-s.auditCh:
					s.writeAudit(e)
				default:
					return
				}
			}
		}
	}
}

func (s *Server) writeAudit(e *audit.Entry) {
	if err := s.audit.Create(context.Background(), e); err != nil {
		s.logger.Error("audit write failed",
			"job_id", e.JobID,
			"command", e.Command,
			"error", err,
		)
	}
}

// handleListAudit returns a studio's command history, most recent first.
//
// Query parameters:
//   - playlist_id: filter by playlist
//   - command: filter by command name
//   - failed: "true" for failed commands only
//   - limit: max results (default 50, max 200)
//   - offset: pagination offset
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	studioID, ok := s.studioParam(w, r)
	if !ok {
		return
	}
	if s.audit == nil {
		writeNotFound(w, "command audit not configured")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		StudioID:   studioID,
		PlaylistID: q.Get("playlist_id"),
		Command:    q.Get("command"),
	}
	filter.Failed, _ = strconv.ParseBool(q.Get("failed"))
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Offset = n
		}
	}

	result, err := s.audit.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list command audit", "studio_id", studioID, "error", err)
		writeInternalError(w, "failed to list command audit")
		return
	}
	writeJSON(w, http.StatusOK, result)
}
