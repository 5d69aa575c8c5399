// Package auth validates operator bearer tokens for the playout API.
//
// Tokens are HS256 JWTs issued by the station's identity service and signed
// with the shared secret from security.jwt. Each token carries a role and,
// optionally, the studios the holder may control:
//   - viewer: read playlists and queue stats, open the event stream
//   - operator: take, next, hold, disable pieces, run show style actions
//   - director: everything an operator can do plus activate, deactivate
//     and reset playlists
//
// An empty studio list grants every studio. Permissions are a static
// role mapping; nothing is looked up at request time.
package auth
