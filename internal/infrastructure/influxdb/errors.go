package influxdb

import "errors"

var (
	// ErrDisabled is returned by Connect when influxdb.enabled is false.
	ErrDisabled = errors.New("influxdb: disabled")

	// ErrConnectionFailed wraps the ping failure seen by Connect.
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrNotConnected is returned once the client has been closed.
	ErrNotConnected = errors.New("influxdb: not connected")

	// ErrWriteFailed wraps batch failures reported to the OnError callback.
	ErrWriteFailed = errors.New("influxdb: write failed")
)
