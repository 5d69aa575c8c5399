package mqtt

import (
	"fmt"
	"strings"
)

// TopicPrefix is the root of every Playout Core topic.
const TopicPrefix = "playout"

// Topics provides builders for Playout Core MQTT topics.
//
//	topics := mqtt.Topics{}
//	topics.PlaylistState("studio-a", "show-1")
//	// Returns: "playout/studio/studio-a/playlist/show-1/state"
type Topics struct{}

// SystemStatus is the retained online/offline status of the service.
//
// Example: playout/system/status
func (Topics) SystemStatus() string {
	return TopicPrefix + "/system/status"
}

// PlaylistState carries the retained previous/current/next/hold snapshot of a playlist.
//
// Example: playout/studio/studio-a/playlist/show-1/state
func (Topics) PlaylistState(studioID, playlistID string) string {
	return fmt.Sprintf("%s/studio/%s/playlist/%s/state", TopicPrefix, studioID, playlistID)
}

// StudioEvent carries non-retained events such as take or job completion.
//
// Example: playout/studio/studio-a/event/take
func (Topics) StudioEvent(studioID, eventType string) string {
	return fmt.Sprintf("%s/studio/%s/event/%s", TopicPrefix, studioID, eventType)
}

// StudioCommand is where hardware panels send operator commands.
//
// Example: playout/studio/studio-a/command/take
func (Topics) StudioCommand(studioID, command string) string {
	return fmt.Sprintf("%s/studio/%s/command/%s", TopicPrefix, studioID, command)
}

// AllStudioCommands matches every command topic of every studio.
func (Topics) AllStudioCommands() string {
	return TopicPrefix + "/studio/+/command/+"
}

// ParseStudioCommand splits a command topic into studio ID and command name.
func ParseStudioCommand(topic string) (studioID, command string, ok bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 5 || parts[0] != TopicPrefix || parts[1] != "studio" || parts[3] != "command" {
		return "", "", false
	}
	if parts[2] == "" || parts[4] == "" {
		return "", "", false
	}
	return parts[2], parts[4], true
}
