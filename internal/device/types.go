package device

import "time"

// Values written by the reconciliation paths.
const (
	DefaultTime        = "-"
	DefaultStatus      = "Offline"
	DefaultMessage     = "Offline"
	DefaultTemperature = "17"

	// StatusOffline is applied to every device when the session drops.
	StatusOffline = "Offline"

	// MessageUnsubscribed is applied to one device after it is unsubscribed.
	MessageUnsubscribed = "Unsubscribed"
)

// Device is a monitored device bound to one MQTT topic filter.
// This matches the devices table in migrations/20260301_120000_create_devices.up.sql.
type Device struct {
	// Identity
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Brand   string `json:"brand"`
	Type    string `json:"type"`
	TopicID string `json:"topic_id"`

	// Subscribed mirrors whether the session holds a subscription for TopicID.
	Subscribed bool `json:"subscribed"`

	// Last known telemetry
	Time        string `json:"time"`
	Status      string `json:"status"`
	Message     string `json:"message"`
	Temperature string `json:"temperature"`

	// Timestamps
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewDevice returns an unsaved, unsubscribed device with default telemetry.
func NewDevice(name, brand, deviceType, topic string) *Device {
	return &Device{
		Name:        name,
		Brand:       brand,
		Type:        deviceType,
		TopicID:     topic,
		Time:        DefaultTime,
		Status:      DefaultStatus,
		Message:     DefaultMessage,
		Temperature: DefaultTemperature,
	}
}

// Telemetry returns the device's last known telemetry.
func (d *Device) Telemetry() Telemetry {
	return Telemetry{
		Time:        d.Time,
		Status:      d.Status,
		Temperature: d.Temperature,
		Message:     d.Message,
	}
}

// applyDefaults fills empty telemetry fields.
func (d *Device) applyDefaults() {
	if d.Time == "" {
		d.Time = DefaultTime
	}
	if d.Status == "" {
		d.Status = DefaultStatus
	}
	if d.Message == "" {
		d.Message = DefaultMessage
	}
	if d.Temperature == "" {
		d.Temperature = DefaultTemperature
	}
}

// Telemetry holds the fields an inbound payload overwrites.
type Telemetry struct {
	Time        string `json:"time"`
	Status      string `json:"status"`
	Temperature string `json:"temperature"`
	Message     string `json:"message"`
}
