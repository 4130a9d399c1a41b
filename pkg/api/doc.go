// Package api exposes the coordination core over HTTP and WebSocket.
//
// The middleware chain is instrument -> CORS -> router; routes under /api
// (except registration) pass through bearer-token authentication, with
// per-route admin or endpoint-self authorization on top. Every error that
// leaves a handler is rendered as
//
//	{"error": {"code": ..., "message": ..., "timestamp": ...}}
//
// with the status code derived from the error class. Sync operation routes
// additionally answer 503 while the coordinator is draining.
//
// /ws/operations upgrades to a WebSocket that pushes operation_update
// frames for a single endpoint, fed from the event broker.
package api
