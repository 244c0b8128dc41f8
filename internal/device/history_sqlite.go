package device

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// SQLiteHistoryRepository implements HistoryRepository using SQLite.
//
// Rows live in the telemetry_history table and are removed with their
// device.
type SQLiteHistoryRepository struct {
	db *sql.DB
}

// NewSQLiteHistoryRepository creates a new SQLite history repository.
//
// Parameters:
//   - db: Open SQLite connection used for queries
//
// Returns:
//   - *SQLiteHistoryRepository: Repository instance ready for use
func NewSQLiteHistoryRepository(db *sql.DB) *SQLiteHistoryRepository {
	return &SQLiteHistoryRepository{db: db}
}

// Record inserts a history entry for a device.
func (r *SQLiteHistoryRepository) Record(ctx context.Context, deviceID int64, topic string, t Telemetry, receivedAt time.Time) error {
	if deviceID <= 0 {
		return fmt.Errorf("device id is required")
	}
	if receivedAt.IsZero() {
		receivedAt = time.Now()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO telemetry_history (device_id, topic, time, status, message, temperature, received_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		deviceID,
		topic,
		t.Time,
		t.Status,
		t.Message,
		t.Temperature,
		receivedAt.UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("inserting telemetry history: %w", err)
	}

	return nil
}

// GetHistory returns recent history entries for a device, ordered newest first.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - deviceID: Device identifier
//   - limit: Maximum entries to return (default 50, max 200)
//
// Returns:
//   - []HistoryEntry: Ordered newest-first entries (may be empty)
//   - error: nil on success, otherwise the underlying query error
func (r *SQLiteHistoryRepository) GetHistory(ctx context.Context, deviceID int64, limit int) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, device_id, topic, time, status, message, temperature, received_at
		FROM telemetry_history
		WHERE device_id = ?
		ORDER BY received_at DESC, id DESC
		LIMIT ?`,
		deviceID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying telemetry history: %w", err)
	}
	defer rows.Close()

	entries := make([]HistoryEntry, 0, limit)
	for rows.Next() {
		var e HistoryEntry
		var receivedAt int64
		if err := rows.Scan(
			&e.ID,
			&e.DeviceID,
			&e.Topic,
			&e.Time,
			&e.Status,
			&e.Message,
			&e.Temperature,
			&receivedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning telemetry history: %w", err)
		}
		e.ReceivedAt = time.UnixMilli(receivedAt).UTC()
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating telemetry history: %w", err)
	}

	return entries, nil
}

// Prune removes entries older than retention.
func (r *SQLiteHistoryRepository) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, nil
	}
	cutoff := time.Now().Add(-retention).UTC().UnixMilli()

	result, err := r.db.ExecContext(ctx, "DELETE FROM telemetry_history WHERE received_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("pruning telemetry history: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}
