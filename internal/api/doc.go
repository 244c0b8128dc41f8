// Package api implements the HTTP REST API and WebSocket server for DeviceLink.
//
// This package provides:
//   - Session endpoints: status, connect, disconnect, publish
//   - Device endpoints: CRUD, subscribe/unsubscribe, telemetry history
//   - WebSocket hub for live telemetry, device changes and session state
//   - Optional HS256 bearer-token authentication
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Architecture
//
// The API is a thin adapter over monitor.Service. Handlers decode the
// request, call one Service command and map the returned error to an
// HTTP status. Live updates reach WebSocket clients through Hub, which
// the Service uses as its Broadcaster.
//
// # Security
//
// When security.jwt.secret is empty every route is open. Otherwise every
// route except /health requires a token (Authorization header, or the
// access_token query parameter for WebSocket upgrades). Mutating routes
// additionally require the operator role.
package api
