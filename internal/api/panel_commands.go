package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nerrad567/playout-core/internal/auth"
	"github.com/nerrad567/playout-core/internal/infrastructure/mqtt"
)

// Panel command errors.
var (
	ErrUnknownCommand   = errors.New("api: unknown panel command")
	ErrCommandForbidden = errors.New("api: command not available to panels")
	ErrUnknownStudio    = errors.New("api: unknown studio")
	ErrNoActivePlaylist = errors.New("api: studio has no active playlist")
	ErrPlaylistStudio   = errors.New("api: playlist belongs to another studio")
)

// panelQoS is the subscription QoS for panel commands.
const panelQoS = 1

// panelEnvelope is the part of a panel payload the bridge reads itself.
// The rest is decoded as the command's job payload.
type panelEnvelope struct {
	PlaylistID string `json:"playlist_id"`
	ActionID   string `json:"action_id"`
}

// subscribeCommands subscribes to panel command topics for every studio.
func (s *Server) subscribeCommands(ctx context.Context) error {
	if s.mqtt == nil {
		return nil // MQTT not configured; panel commands disabled
	}
	topic := mqtt.Topics{}.AllStudioCommands()
	s.logger.Info("subscribing to panel commands", "topic", topic)
	return s.mqtt.Subscribe(topic, panelQoS, s.panelCommandHandler(ctx))
}

// panelCommandHandler validates a panel command and submits it. The job
// runs in the background; its outcome is reported as a job.completed event
// with source "mqtt". Panels cannot bring a playlist on or off air.
func (s *Server) panelCommandHandler(ctx context.Context) mqtt.MessageHandler {
	return func(topic string, body []byte) error {
		studioID, name, ok := mqtt.ParseStudioCommand(topic)
		if !ok {
			return fmt.Errorf("%w: topic %s", ErrUnknownCommand, topic)
		}
		cmd, ok := commands[name]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownCommand, name)
		}
		if cmd.perm == auth.PermPlaylistOnAir {
			return fmt.Errorf("%w: %s", ErrCommandForbidden, name)
		}
		if _, ok := s.studios[studioID]; !ok {
			return fmt.Errorf("%w: %s", ErrUnknownStudio, studioID)
		}

		var env panelEnvelope
		if len(body) > 0 {
			if err := json.Unmarshal(body, &env); err != nil {
				return fmt.Errorf("decoding panel command %s: %w", name, err)
			}
		}
		playlistID := env.PlaylistID
		if playlistID == "" {
			id, err := s.activePlaylist(ctx, studioID)
			if err != nil {
				return err
			}
			playlistID = id
		} else {
			pl, err := s.store.GetPlaylist(ctx, playlistID)
			if err != nil {
				return fmt.Errorf("reading playlist %s: %w", playlistID, err)
			}
			if pl.StudioID != studioID {
				return fmt.Errorf("%w: %s is in %s, not %s", ErrPlaylistStudio, playlistID, pl.StudioID, studioID)
			}
		}

		t := target{PlaylistID: playlistID, ActionID: env.ActionID}
		payload, err := cmd.decode(t, body)
		if err != nil {
			return err
		}

		s.logger.Debug("panel command",
			"studio_id", studioID,
			"command", name,
			"playlist_id", playlistID,
		)
		go func() {
			//nolint:errcheck // outcome is published as a job.completed event
			s.submit(ctx, submission{
				name:     name,
				cmd:      cmd,
				studioID: studioID,
				target:   t,
				payload:  payload,
				source:   "mqtt",
			})
		}()
		return nil
	}
}

// activePlaylist returns the ID of the studio's active playlist.
func (s *Server) activePlaylist(ctx context.Context, studioID string) (string, error) {
	playlists, err := s.store.ListPlaylists(ctx, studioID)
	if err != nil {
		return "", fmt.Errorf("listing playlists of %s: %w", studioID, err)
	}
	for _, p := range playlists {
		if p.IsActive() {
			return p.ID, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrNoActivePlaylist, studioID)
}
