package ble

import "errors"

// Domain errors for the local link.
var (
	// ErrScanTimeout is reported when a scan reaches its time ceiling.
	ErrScanTimeout = errors.New("ble: scan timed out")

	// ErrAlreadyScanning is returned when Scan is called during a scan.
	ErrAlreadyScanning = errors.New("ble: already scanning")

	// ErrScanFailed is reported when the adapter cannot scan.
	ErrScanFailed = errors.New("ble: scan failed")

	// ErrNotConnected is reported when writing without a connected device.
	ErrNotConnected = errors.New("ble: no device connected")

	// ErrConnectFailed is reported when the connection attempt fails.
	ErrConnectFailed = errors.New("ble: connection failed")

	// ErrServiceNotFound is reported when the UART service is missing.
	ErrServiceNotFound = errors.New("ble: uart service not found")

	// ErrCharacteristicNotFound is reported when the UART write or notify
	// characteristic is missing.
	ErrCharacteristicNotFound = errors.New("ble: uart characteristic not found")

	// ErrNotifyFailed is reported when notifications cannot be enabled.
	ErrNotifyFailed = errors.New("ble: enabling notifications failed")

	// ErrWriteFailed is reported when a write to the device fails.
	ErrWriteFailed = errors.New("ble: write failed")

	// ErrInterrupted is reported for traffic that belonged to a session
	// which has since been disconnected.
	ErrInterrupted = errors.New("ble: interrupted by disconnection")

	// ErrLinkLost is reported when the device drops the connection.
	ErrLinkLost = errors.New("ble: connection lost")

	// ErrStaleSession is returned by edge functions called with a session
	// that is no longer current.
	ErrStaleSession = errors.New("ble: stale session")

	// ErrInvalidTransition is returned when an edge function is called from
	// a state it does not leave.
	ErrInvalidTransition = errors.New("ble: invalid state transition")

	// ErrUnknownDevice is returned by the adapter for an address it has not
	// seen during a scan.
	ErrUnknownDevice = errors.New("ble: unknown device address")
)
