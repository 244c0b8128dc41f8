package influxdb

import "errors"

var (
	// ErrDisabled is returned by Connect when influxdb.enabled is false.
	// DeviceLink then runs without telemetry export.
	ErrDisabled = errors.New("influxdb: export disabled")

	// ErrConnectionFailed wraps a failed startup ping.
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrNotConnected is returned by HealthCheck once the client is closed.
	ErrNotConnected = errors.New("influxdb: client closed")

	// ErrWriteFailed wraps batch failures passed to Options.OnWriteError.
	ErrWriteFailed = errors.New("influxdb: write failed")
)
