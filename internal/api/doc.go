// Package api implements the operator HTTP API and WebSocket event stream.
//
// This package provides:
//   - REST endpoints to read playlists and queue statistics
//   - Playout commands (take, next, hold, actions, ...) submitted as jobs
//   - A WebSocket hub that receives playout events as an events.Sink
//   - An MQTT bridge for hardware panel commands
//   - JWT bearer authentication with ticket-based WebSocket auth
//
// # Architecture
//
// Every command is enqueued on the studio's job queue and the request waits
// for the job's result, bounded by jobs.result_timeout. The API never
// touches playout state directly: the dispatch loop that owns the studio
// queue runs the job under the playlist lock.
//
// A command that fails with a playout user error answers 4xx with the
// error's stable code. A job aborted by a frozen dispatch loop answers 503
// and may be retried once the loop has restarted.
//
// # Graceful Degradation
//
// The server operates without MQTT. Panel commands are then unavailable
// but HTTP commands and the WebSocket stream still work.
package api
