package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/playout-core/internal/auth"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)

		// WebSocket (auth via ticket, validated in handler)
		r.Get("/ws", s.handleWebSocket)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Post("/auth/ws-ticket", s.handleWSTicket)

			r.Route("/studios", func(r chi.Router) {
				r.Use(requirePermission(auth.PermPlaylistRead))
				r.Get("/", s.handleListStudios)
				r.Route("/{studioID}", func(r chi.Router) {
					r.Get("/queue", s.handleStudioQueue)
					r.Get("/playlists", s.handleListPlaylists)
					r.Get("/timeline", s.handleGetTimeline)
					r.Get("/audit", s.handleListAudit)
				})
			})

			// Commands check their own permission.
			r.Route("/playlists/{playlistID}", func(r chi.Router) {
				r.With(requirePermission(auth.PermPlaylistRead)).Get("/", s.handleGetPlaylist)

				r.Post("/activate", s.handleCommand(CmdActivate))
				r.Post("/deactivate", s.handleCommand(CmdDeactivate))
				r.Post("/reset", s.handleCommand(CmdReset))
				r.Post("/take", s.handleCommand(CmdTake))
				r.Post("/next", s.handleCommand(CmdNext))
				r.Post("/move-next", s.handleCommand(CmdMoveNext))
				r.Post("/queue-segment", s.handleCommand(CmdQueueSegment))
				r.Post("/hold", s.handleCommand(CmdHold))
				r.Delete("/hold", s.handleCommand(CmdCancelHold))
				r.Post("/disable-next-piece", s.handleCommand(CmdDisableNextPiece))
				r.Post("/actions/{actionID}", s.handleCommand(CmdAction))
				r.Post("/playback-started", s.handleCommand(CmdPlaybackStarted))
				r.Post("/timeline", s.handleCommand(CmdTimeline))
			})
		})
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}
