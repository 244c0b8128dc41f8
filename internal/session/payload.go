package session

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Telemetry field values used when a field is missing from the wire body.
const (
	DefaultTime        = "-"
	DefaultStatus      = "Offline"
	DefaultTemperature = "17"
	DefaultMessage     = "Offline"
)

// Values carried by the synthetic connection-lost payload.
const (
	ConnectionLostTime    = "-1"
	ConnectionLostStatus  = "Offline"
	ConnectionLostMessage = "Connection Lost"
)

// Payload is a decoded telemetry message tagged with its topic.
//
// The wire body is a JSON object:
//
//	{"time":"12:00","status":"Running","temperature":"21","message":"ok"}
type Payload struct {
	Topic       string    `json:"topic"`
	Time        string    `json:"time"`
	Status      string    `json:"status"`
	Temperature string    `json:"temperature"`
	Message     string    `json:"message"`
	ReceivedAt  time.Time `json:"received_at"`

	// ConnectionLost marks the synthetic payload emitted when the broker
	// connection drops. It has no topic and applies to every device.
	ConnectionLost bool `json:"connection_lost,omitempty"`

	// Epoch is the connection the payload belongs to (see Manager.Epoch).
	Epoch uint64 `json:"epoch,omitempty"`
}

// ConnectionLostPayload builds the synthetic payload announcing an
// involuntary connection loss.
func ConnectionLostPayload() Payload {
	return Payload{
		Time:           ConnectionLostTime,
		Status:         ConnectionLostStatus,
		Temperature:    DefaultTemperature,
		Message:        ConnectionLostMessage,
		ReceivedAt:     time.Now().UTC(),
		ConnectionLost: true,
	}
}

// DecodePayload decodes a wire body received on topic.
//
// Missing or null fields take their defaults. Numbers and booleans are
// accepted for any field and kept in their JSON text form, so a sensor
// sending "temperature": 21.5 is not dropped. A body that is not a JSON
// object, or a field holding an object or array, is an ErrDecodeFailure.
func DecodePayload(topic string, body []byte) (Payload, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return Payload{}, fmt.Errorf("%w: %w", ErrDecodeFailure, err)
	}
	if fields == nil {
		return Payload{}, fmt.Errorf("%w: body is null", ErrDecodeFailure)
	}

	p := Payload{Topic: topic, ReceivedAt: time.Now().UTC()}
	targets := []struct {
		key string
		dst *string
		def string
	}{
		{"time", &p.Time, DefaultTime},
		{"status", &p.Status, DefaultStatus},
		{"temperature", &p.Temperature, DefaultTemperature},
		{"message", &p.Message, DefaultMessage},
	}
	for _, f := range targets {
		v, err := fieldString(fields[f.key], f.def)
		if err != nil {
			return Payload{}, fmt.Errorf("%w: field %q: %w", ErrDecodeFailure, f.key, err)
		}
		*f.dst = v
	}
	return p, nil
}

// fieldString converts one JSON value to its string form.
func fieldString(raw json.RawMessage, def string) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return def, nil
	}

	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		return s, nil
	case '{', '[':
		return "", fmt.Errorf("unsupported value %s", raw)
	default:
		// Number or boolean; already validated by the outer Unmarshal.
		return string(raw), nil
	}
}
