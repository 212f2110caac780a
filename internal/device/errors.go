package device

import "errors"

// Domain errors for device lookups.
var (
	// ErrDeviceNotFound is returned when a device ID is not in the registry.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrInvalidDeviceID is returned for an empty device ID.
	ErrInvalidDeviceID = errors.New("device: invalid id")
)
