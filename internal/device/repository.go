package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/devicelink/internal/infrastructure/mqtt"
)

// Repository defines the interface for device persistence operations.
// This abstraction allows for different implementations (SQLite, mock, etc.)
// and enables unit testing without database dependencies.
//
// Mutators report ErrDeviceNotFound for a missing id. Bulk mutators return
// the number of rows they changed.
type Repository interface {
	// Insert stores a new device and sets its ID and timestamps.
	// Empty telemetry fields take their defaults.
	Insert(ctx context.Context, device *Device) error

	// Update overwrites every stored field of an existing device.
	Update(ctx context.Context, device *Device) error

	// Delete removes a device and its telemetry history.
	Delete(ctx context.Context, id int64) error

	// GetAll returns every device ordered by id.
	GetAll(ctx context.Context) ([]Device, error)

	// GetByID retrieves a device by its identifier.
	GetByID(ctx context.Context, id int64) (*Device, error)

	// FindByTopic returns the device that owns a concrete topic. Subscribed
	// devices win over unsubscribed ones. Within each group an exact
	// topic_id match beats a wildcard filter, and ties go to the lowest id.
	FindByTopic(ctx context.Context, topic string) (*Device, error)

	// Field getters.
	Time(ctx context.Context, id int64) (string, error)
	Status(ctx context.Context, id int64) (string, error)
	Message(ctx context.Context, id int64) (string, error)
	Subscribed(ctx context.Context, id int64) (bool, error)

	// Connected returns the stored broker connection flag.
	Connected(ctx context.Context) (bool, error)

	// ChangeSubscribed sets one device's subscribed flag.
	ChangeSubscribed(ctx context.Context, id int64, subscribed bool) error

	// UpdatePayload overwrites one device's telemetry.
	UpdatePayload(ctx context.Context, id int64, t Telemetry) error

	// UpdateOnConnectionLost writes time, status and message to every
	// subscribed device.
	UpdateOnConnectionLost(ctx context.Context, t Telemetry) (int64, error)

	// MarkUnsubscribed clears one device's subscribed flag and sets its
	// status and message to Offline and Unsubscribed.
	MarkUnsubscribed(ctx context.Context, id int64) error

	// UnsubscribeAll clears the subscribed flag on every device.
	UnsubscribeAll(ctx context.Context) (int64, error)

	// SetStatusToAll sets the status of every device.
	SetStatusToAll(ctx context.Context, status string) (int64, error)

	// ChangeConnectionStatus stores the broker connection flag.
	ChangeConnectionStatus(ctx context.Context, connected bool) error
}

// Gateway is the full persistence surface: mutations and reactive queries.
type Gateway interface {
	Repository
	Watcher
}

// SQLiteRepository implements Gateway using SQLite.
type SQLiteRepository struct {
	db       *sql.DB
	notifier *notifier
}

// NewSQLiteRepository creates a new SQLite-backed repository.
// The db parameter should be an open, migrated SQLite connection.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db, notifier: newNotifier()}
}

const selectDevice = `
		SELECT id, name, brand, type, topic_id, subscribed,
			time, status, message, temperature, created_at, updated_at
		FROM devices`

// Insert stores a new device.
func (r *SQLiteRepository) Insert(ctx context.Context, device *Device) error {
	if err := ValidateDevice(device); err != nil {
		return err
	}
	device.applyDefaults()

	now := time.Now().UTC().Truncate(time.Second)
	if device.CreatedAt.IsZero() {
		device.CreatedAt = now
	}
	device.UpdatedAt = now

	query := `
		INSERT INTO devices (
			name, brand, type, topic_id, subscribed,
			time, status, message, temperature, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	result, err := r.db.ExecContext(ctx, query,
		device.Name,
		device.Brand,
		device.Type,
		device.TopicID,
		boolToInt(device.Subscribed),
		device.Time,
		device.Status,
		device.Message,
		device.Temperature,
		device.CreatedAt.Format(time.RFC3339),
		device.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting device: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading device id: %w", err)
	}
	device.ID = id

	r.notifier.broadcast()
	return nil
}

// Update overwrites an existing device.
func (r *SQLiteRepository) Update(ctx context.Context, device *Device) error {
	if err := ValidateDevice(device); err != nil {
		return err
	}
	device.applyDefaults()
	device.UpdatedAt = time.Now().UTC().Truncate(time.Second)

	query := `
		UPDATE devices SET
			name = ?, brand = ?, type = ?, topic_id = ?, subscribed = ?,
			time = ?, status = ?, message = ?, temperature = ?, updated_at = ?
		WHERE id = ?`

	return r.execOne(ctx, "updating device", query,
		device.Name,
		device.Brand,
		device.Type,
		device.TopicID,
		boolToInt(device.Subscribed),
		device.Time,
		device.Status,
		device.Message,
		device.Temperature,
		device.UpdatedAt.Format(time.RFC3339),
		device.ID,
	)
}

// Delete removes a device by ID.
func (r *SQLiteRepository) Delete(ctx context.Context, id int64) error {
	return r.execOne(ctx, "deleting device", "DELETE FROM devices WHERE id = ?", id)
}

// GetAll retrieves all devices ordered by id.
func (r *SQLiteRepository) GetAll(ctx context.Context) ([]Device, error) {
	return r.queryDevices(ctx, selectDevice+` ORDER BY id`)
}

// GetByID retrieves a device by its identifier.
func (r *SQLiteRepository) GetByID(ctx context.Context, id int64) (*Device, error) {
	row := r.db.QueryRowContext(ctx, selectDevice+` WHERE id = ?`, id)
	device, err := scanDevice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying device by id: %w", err)
	}
	return device, nil
}

// FindByTopic returns the device owning topic. Candidates are the exact
// topic_id rows and every wildcard filter. They rank subscribed first, then
// exact before wildcard, then lowest id.
func (r *SQLiteRepository) FindByTopic(ctx context.Context, topic string) (*Device, error) {
	candidates, err := r.queryDevices(ctx,
		selectDevice+` WHERE topic_id = ? OR topic_id LIKE '%+%' OR topic_id LIKE '%#%'
		ORDER BY subscribed DESC, topic_id = ? DESC, id`, topic, topic)
	if err != nil {
		return nil, fmt.Errorf("querying device by topic: %w", err)
	}
	for i := range candidates {
		if candidates[i].TopicID == topic || mqtt.MatchTopic(candidates[i].TopicID, topic) {
			return &candidates[i], nil
		}
	}
	return nil, ErrDeviceNotFound
}

// Time returns a device's last reported time.
func (r *SQLiteRepository) Time(ctx context.Context, id int64) (string, error) {
	return r.stringField(ctx, "time", id)
}

// Status returns a device's last reported status.
func (r *SQLiteRepository) Status(ctx context.Context, id int64) (string, error) {
	return r.stringField(ctx, "status", id)
}

// Message returns a device's last reported message.
func (r *SQLiteRepository) Message(ctx context.Context, id int64) (string, error) {
	return r.stringField(ctx, "message", id)
}

// Subscribed returns a device's subscribed flag.
func (r *SQLiteRepository) Subscribed(ctx context.Context, id int64) (bool, error) {
	var v int
	err := r.db.QueryRowContext(ctx, "SELECT subscribed FROM devices WHERE id = ?", id).Scan(&v)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, ErrDeviceNotFound
		}
		return false, fmt.Errorf("querying subscribed: %w", err)
	}
	return v != 0, nil
}

// Connected returns the stored broker connection flag.
func (r *SQLiteRepository) Connected(ctx context.Context) (bool, error) {
	var v int
	err := r.db.QueryRowContext(ctx, "SELECT connected FROM session_status WHERE id = 1").Scan(&v)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("querying connection status: %w", err)
	}
	return v != 0, nil
}

// ChangeSubscribed sets one device's subscribed flag.
func (r *SQLiteRepository) ChangeSubscribed(ctx context.Context, id int64, subscribed bool) error {
	return r.execOne(ctx, "updating subscribed",
		"UPDATE devices SET subscribed = ?, updated_at = ? WHERE id = ?",
		boolToInt(subscribed), nowString(), id)
}

// UpdatePayload overwrites one device's telemetry.
func (r *SQLiteRepository) UpdatePayload(ctx context.Context, id int64, t Telemetry) error {
	return r.execOne(ctx, "updating payload", `
		UPDATE devices
		SET time = ?, status = ?, temperature = ?, message = ?, updated_at = ?
		WHERE id = ?`,
		t.Time, t.Status, t.Temperature, t.Message, nowString(), id)
}

// UpdateOnConnectionLost writes the loss marker to every subscribed device.
// Temperature keeps its last known value.
func (r *SQLiteRepository) UpdateOnConnectionLost(ctx context.Context, t Telemetry) (int64, error) {
	return r.execMany(ctx, "updating on connection lost", `
		UPDATE devices
		SET time = ?, status = ?, message = ?, updated_at = ?
		WHERE subscribed = 1`,
		t.Time, t.Status, t.Message, nowString())
}

// MarkUnsubscribed resets one device after its subscription is removed.
func (r *SQLiteRepository) MarkUnsubscribed(ctx context.Context, id int64) error {
	return r.execOne(ctx, "marking unsubscribed", `
		UPDATE devices
		SET subscribed = 0, status = ?, message = ?, updated_at = ?
		WHERE id = ?`,
		StatusOffline, MessageUnsubscribed, nowString(), id)
}

// UnsubscribeAll clears every subscribed flag.
func (r *SQLiteRepository) UnsubscribeAll(ctx context.Context) (int64, error) {
	return r.execMany(ctx, "unsubscribing all",
		"UPDATE devices SET subscribed = 0, updated_at = ? WHERE subscribed = 1",
		nowString())
}

// SetStatusToAll sets every device's status.
func (r *SQLiteRepository) SetStatusToAll(ctx context.Context, status string) (int64, error) {
	return r.execMany(ctx, "setting status on all devices",
		"UPDATE devices SET status = ?, updated_at = ? WHERE status <> ?",
		status, nowString(), status)
}

// ChangeConnectionStatus stores the broker connection flag.
func (r *SQLiteRepository) ChangeConnectionStatus(ctx context.Context, connected bool) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO session_status (id, connected, updated_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET connected = excluded.connected, updated_at = excluded.updated_at`,
		boolToInt(connected), nowString())
	if err != nil {
		return fmt.Errorf("updating connection status: %w", err)
	}
	r.notifier.broadcast()
	return nil
}

// execOne runs a statement that must touch exactly one existing device.
func (r *SQLiteRepository) execOne(ctx context.Context, op, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrDeviceNotFound
	}

	r.notifier.broadcast()
	return nil
}

// execMany runs a bulk statement and returns the number of rows changed.
func (r *SQLiteRepository) execMany(ctx context.Context, op, query string, args ...any) (int64, error) {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected > 0 {
		r.notifier.broadcast()
	}
	return rowsAffected, nil
}

// stringField reads one text column of a device. column is never user input.
func (r *SQLiteRepository) stringField(ctx context.Context, column string, id int64) (string, error) {
	var v string
	err := r.db.QueryRowContext(ctx, "SELECT "+column+" FROM devices WHERE id = ?", id).Scan(&v)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrDeviceNotFound
		}
		return "", fmt.Errorf("querying %s: %w", column, err)
	}
	return v, nil
}

// queryDevices executes a query and returns a slice of devices.
func (r *SQLiteRepository) queryDevices(ctx context.Context, query string, args ...any) ([]Device, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	devices := []Device{}
	for rows.Next() {
		device, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		devices = append(devices, *device)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}

	return devices, nil
}

// rowScanner is an interface that sql.Row and sql.Rows both implement.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanDevice scans a row or rows result into a Device.
func scanDevice(scanner rowScanner) (*Device, error) {
	var d Device
	var subscribed int
	var createdAt, updatedAt string

	err := scanner.Scan(
		&d.ID,
		&d.Name,
		&d.Brand,
		&d.Type,
		&d.TopicID,
		&subscribed,
		&d.Time,
		&d.Status,
		&d.Message,
		&d.Temperature,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}
	d.Subscribed = subscribed != 0

	var parseErr error
	d.CreatedAt, parseErr = time.Parse(time.RFC3339, createdAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing created_at: %w", parseErr)
	}
	d.UpdatedAt, parseErr = time.Parse(time.RFC3339, updatedAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", parseErr)
	}

	return &d, nil
}

func nowString() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// boolToInt converts a boolean to 0/1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
