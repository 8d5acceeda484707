// Package api implements the frontend-facing HTTP and WebSocket server of
// the sidecar host.
//
// This package provides:
//   - REST endpoints for backend status, health, stats, launch history and
//     incremental log reads
//   - WebSocket hub that relays supervisor events (backend-ready,
//     backend-error, backend-log-updated) to subscribed clients
//   - Bearer-token authentication with a session JWT minted at startup
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Security
//
// The server binds to loopback by default. The session token is written to
// the configured token file with mode 0600; the local GUI reads it and sends
// it as "Authorization: Bearer <token>", or as ?token= on the WebSocket
// upgrade.
//
// # Late subscribers
//
// backend-ready and backend-error fire once per launch. The hub retains the
// last of each and replays it when a client subscribes, so a frontend that
// connects after the backend came up still learns the outcome.
package api
