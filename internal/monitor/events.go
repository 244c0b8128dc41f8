package monitor

import (
	"time"

	"github.com/nerrad567/devicelink/internal/device"
)

// Broadcast channels.
const (
	ChannelTelemetry     = "device.telemetry"
	ChannelDeviceChanged = "device.changed"
	ChannelSessionState  = "session.state"
)

// Device change actions.
const (
	ActionCreated      = "created"
	ActionUpdated      = "updated"
	ActionDeleted      = "deleted"
	ActionSubscribed   = "subscribed"
	ActionUnsubscribed = "unsubscribed"
	ActionReconciled   = "reconciled"
)

// TelemetryEvent is broadcast when a payload is applied to a device.
type TelemetryEvent struct {
	DeviceID int64  `json:"device_id"`
	Topic    string `json:"topic"`
	device.Telemetry
	ReceivedAt time.Time `json:"received_at"`
}

// DeviceEvent is broadcast when a device row changes outside payload
// application. DeviceID is zero for bulk reconciliation.
type DeviceEvent struct {
	Action   string         `json:"action"`
	DeviceID int64          `json:"device_id,omitempty"`
	Device   *device.Device `json:"device,omitempty"`
	Reason   string         `json:"reason,omitempty"`
}

// StateEvent is broadcast on every session state transition.
type StateEvent struct {
	From      string    `json:"from"`
	To        string    `json:"to"`
	Connected bool      `json:"connected"`
	At        time.Time `json:"at"`
}
