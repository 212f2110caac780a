package channel

import "errors"

// Domain errors for the channel coordinator.
var (
	// ErrUnknownChannel is returned when parsing an unknown channel name.
	ErrUnknownChannel = errors.New("channel: unknown channel")

	// ErrChannelUnavailable is returned when the requested link is not configured.
	ErrChannelUnavailable = errors.New("channel: link not available")

	// ErrWrongChannel is returned for operations of the inactive channel.
	ErrWrongChannel = errors.New("channel: operation not valid on active channel")

	// ErrNoDevice is returned when no device is connected or selected.
	ErrNoDevice = errors.New("channel: no device connected or selected")

	// ErrNotReady is returned when the local device has not finished
	// connecting.
	ErrNotReady = errors.New("channel: device not ready")

	// ErrNoPublicKey is returned when no public key is known for the device.
	ErrNoPublicKey = errors.New("channel: no public key known for device")

	// ErrEmptyCommand is returned by Send for an empty command.
	ErrEmptyCommand = errors.New("channel: empty command")

	// ErrNotRunning is returned when the coordinator loop is not running.
	ErrNotRunning = errors.New("channel: coordinator not running")

	// ErrAlreadyRunning is returned by a second Run.
	ErrAlreadyRunning = errors.New("channel: coordinator already running")
)

// ErrNoSigner is returned by New without a signer.
var ErrNoSigner = errors.New("channel: signer is required")
