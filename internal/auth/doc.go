// Package auth authenticates operators of the SweIoT Link API.
//
// Operators are declared in configuration with an Argon2id PHC password
// hash. A successful login yields a short-lived HS256 JWT carrying the
// operator's role. Two roles exist: viewers may read state and the audit
// trail, operators may also drive the device.
//
// Generate a hash for the config file with:
//
//	sweiotlink -hash-password
package auth
