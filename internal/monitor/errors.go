package monitor

import "errors"

var (
	// ErrSessionRequired is returned by NewService without a session.
	ErrSessionRequired = errors.New("monitor: session is required")

	// ErrRepositoryRequired is returned by NewService without a repository.
	ErrRepositoryRequired = errors.New("monitor: repository is required")

	// ErrHistoryDisabled is returned by DeviceHistory when no history
	// repository is configured.
	ErrHistoryDisabled = errors.New("monitor: telemetry history disabled")
)
