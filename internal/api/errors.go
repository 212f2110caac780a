package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/sweiot-link/internal/bridges/relay"
	"github.com/nerrad567/sweiot-link/internal/channel"
	"github.com/nerrad567/sweiot-link/internal/device"
	"github.com/nerrad567/sweiot-link/internal/security"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeNotFound     = "not_found"
	ErrCodeUnauthorized = "unauthorised"
	ErrCodeForbidden    = "forbidden"
	ErrCodeConflict     = "conflict"
	ErrCodeInternal     = "internal_error"
	ErrCodeUnavailable  = "service_unavailable"
	ErrCodeUpstream     = "upstream_error"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

func writeForbidden(w http.ResponseWriter, message string) {
	writeError(w, http.StatusForbidden, ErrCodeForbidden, message)
}

func writeConflict(w http.ResponseWriter, message string) {
	writeError(w, http.StatusConflict, ErrCodeConflict, message)
}

func writeServiceUnavailable(w http.ResponseWriter, message string) {
	writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, message)
}

func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeLinkError maps coordinator and link errors to HTTP statuses.
func writeLinkError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, channel.ErrEmptyCommand),
		errors.Is(err, channel.ErrUnknownChannel),
		errors.Is(err, device.ErrInvalidDeviceID):
		writeBadRequest(w, err.Error())
	case errors.Is(err, device.ErrDeviceNotFound):
		writeNotFound(w, err.Error())
	case errors.Is(err, channel.ErrNoDevice),
		errors.Is(err, channel.ErrWrongChannel),
		errors.Is(err, channel.ErrNotReady),
		errors.Is(err, channel.ErrNoPublicKey),
		errors.Is(err, relay.ErrNoDeviceSelected):
		writeConflict(w, err.Error())
	case errors.Is(err, channel.ErrChannelUnavailable),
		errors.Is(err, channel.ErrNotRunning):
		writeServiceUnavailable(w, err.Error())
	case errors.Is(err, security.ErrUnauthorized),
		errors.Is(err, security.ErrLoginFailed):
		writeUnauthorized(w, err.Error())
	case errors.Is(err, relay.ErrNotAuthorized),
		errors.Is(err, relay.ErrAuthorize),
		errors.Is(err, relay.ErrFetch),
		errors.Is(err, relay.ErrQueue),
		errors.Is(err, security.ErrRequestFailed):
		writeError(w, http.StatusBadGateway, ErrCodeUpstream, err.Error())
	default:
		writeInternalError(w, err.Error())
	}
}
