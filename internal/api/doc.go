// Package api implements the HTTP and WebSocket boundary of the PLC monitor.
//
// This package provides:
//   - GET / dashboard page listing every configured signal key
//   - GET /data?signals=a,b recent history plus the device status line
//   - GET /health per-device connection health
//   - GET /api/v1/metrics runtime, store and polling statistics
//   - GET /api/v1/events connection journal (when enabled)
//   - GET /api/v1/ws live per-cycle samples for subscribed keys
//   - Middleware stack (request ID, logging, recovery, CORS)
//
// Every endpoint only reads: handlers are stateless over the store, the
// query service and the managers' state. There are no write endpoints.
package api
