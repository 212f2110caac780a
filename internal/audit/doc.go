// Package audit keeps the audit trail of operator actions and device
// commands in the audit_logs table.
//
// Recorder is registered as a channel listener and records every
// transmitted command and every management session expiry. The REST API
// records logins, channel switches and relay selections through the same
// Repository, and lists entries with Filter.
package audit
