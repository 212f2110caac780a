// Package api implements the HTTP REST API and WebSocket event stream of
// SweIoT Link.
//
// This package provides:
//   - REST endpoints driving the channel coordinator: channel switching,
//     BLE scan and connect, Yggio fetch and select, command sending and
//     the init sequence
//   - Security status and management server login
//   - The audit trail, health and runtime metrics
//   - A WebSocket hub that streams coordinator events
//   - Operator authentication with JWT and single-use WebSocket tickets
//
// # Events
//
// WebSocket clients subscribe to event types: "message" (classified
// answers), "command" (transmitted commands), "status" (status texts) and
// "session" (management session expiry). The hub implements
// channel.Listener, so main registers it with the coordinator.
//
// # Graceful Degradation
//
// Audit, relay queue inspection and health checks are optional. Missing
// collaborators answer 503 rather than failing startup.
package api
