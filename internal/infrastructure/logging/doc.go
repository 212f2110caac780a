// Package logging provides structured logging for SweIoT Link.
//
// It wraps log/slog with a JSON or text handler chosen by config, and adds
// the service and version attributes to every entry. Components take a
// child logger via Component("ble"), Component("relay") and so on.
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Never log relay or management passwords, tokens or signed payloads.
package logging
