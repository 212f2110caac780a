package relay

import "errors"

// Domain errors for the relay link.
var (
	// ErrAuthorize is returned when Yggio rejects or fails the login.
	ErrAuthorize = errors.New("relay: authorization failed")

	// ErrNotAuthorized is returned when a call is made without a token.
	ErrNotAuthorized = errors.New("relay: Yggio API not authorized")

	// ErrFetch is returned when iotnodes cannot be read.
	ErrFetch = errors.New("relay: fetching devices failed")

	// ErrQueue is returned when a downlink cannot be queued.
	ErrQueue = errors.New("relay: queueing data failed")

	// ErrNoDeviceSelected is returned by Send without a selected device.
	ErrNoDeviceSelected = errors.New("relay: no device selected")
)
