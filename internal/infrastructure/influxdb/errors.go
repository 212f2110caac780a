package influxdb

import "errors"

var (
	// ErrNotConnected is returned after Close or before Connect.
	ErrNotConnected = errors.New("influxdb: not connected")

	// ErrConnectionFailed is returned when the initial ping fails.
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrWriteFailed wraps asynchronous batch write errors.
	ErrWriteFailed = errors.New("influxdb: write failed")

	// ErrDisabled is returned by Connect when InfluxDB is disabled.
	ErrDisabled = errors.New("influxdb: disabled in configuration")
)
