package device

import (
	"context"
	"time"
)

// HistoryEntry is one telemetry payload applied to a device.
//
// History keeps a local trail of readings even when the time-series
// database is unavailable.
type HistoryEntry struct {
	// ID is the auto-incremented primary key for the history row.
	ID int64 `json:"id"`

	// DeviceID is the device the payload was attributed to.
	DeviceID int64 `json:"device_id"`

	// Topic is the concrete topic the payload arrived on.
	Topic string `json:"topic"`

	Telemetry

	// ReceivedAt is when the payload was received (UTC).
	ReceivedAt time.Time `json:"received_at"`
}

// HistoryRepository stores and retrieves telemetry history.
//
// Implementations must be thread-safe and use UTC timestamps.
type HistoryRepository interface {
	// Record stores one applied payload.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout
	//   - deviceID: Device the payload was attributed to
	//   - topic: Topic the payload arrived on
	//   - t: Telemetry that was applied
	//   - receivedAt: Receive time; zero means now
	//
	// Returns:
	//   - error: nil on success, otherwise the underlying persistence error
	Record(ctx context.Context, deviceID int64, topic string, t Telemetry, receivedAt time.Time) error

	// GetHistory returns recent entries for the device.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout
	//   - deviceID: Device identifier
	//   - limit: Maximum entries to return (implementation may clamp bounds)
	//
	// Returns:
	//   - []HistoryEntry: Ordered newest-first entries (may be empty)
	//   - error: nil on success, otherwise the underlying query error
	GetHistory(ctx context.Context, deviceID int64, limit int) ([]HistoryEntry, error)

	// Prune deletes entries received before now minus retention and
	// returns how many were removed.
	Prune(ctx context.Context, retention time.Duration) (int64, error)
}
