package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Default measurement names.
const (
	DefaultTelemetryMeasurement = "device_telemetry"
	DefaultSessionMeasurement   = "session_state"
)

// TelemetryPoint is one payload attributed to a device.
type TelemetryPoint struct {
	DeviceID    int64
	DeviceName  string
	Topic       string
	Time        string
	Status      string
	Temperature string
	Message     string
	ReceivedAt  time.Time
}

// schema builds the points for one Client.
type schema struct {
	telemetry string
	session   string
}

func newSchema(opts Options) schema {
	s := schema{telemetry: opts.TelemetryMeasurement, session: opts.SessionMeasurement}
	if s.telemetry == "" {
		s.telemetry = DefaultTelemetryMeasurement
	}
	if s.session == "" {
		s.session = DefaultSessionMeasurement
	}
	return s
}

// WriteTelemetry queues a device reading.
//
// Temperature is a float field when it parses as a number and
// temperature_raw otherwise, so a sensor reporting "n/a" still leaves a
// trace.
func (c *Client) WriteTelemetry(p TelemetryPoint) {
	if c.closed.Load() {
		return
	}
	c.writeAPI.WritePoint(c.schema.telemetryPoint(p))
	c.written.Add(1)
}

// WriteSessionState queues a session state transition.
func (c *Client) WriteSessionState(from, to string, at time.Time) {
	if c.closed.Load() {
		return
	}
	c.writeAPI.WritePoint(c.schema.sessionPoint(from, to, at))
	c.written.Add(1)
}

func (s schema) telemetryPoint(p TelemetryPoint) *write.Point {
	ts := p.ReceivedAt
	if ts.IsZero() {
		ts = time.Now()
	}

	tags := map[string]string{
		"device_id": strconv.FormatInt(p.DeviceID, 10),
		"topic":     p.Topic,
	}
	if p.DeviceName != "" {
		tags["device"] = p.DeviceName
	}

	fields := map[string]interface{}{
		"status":        p.Status,
		"message":       p.Message,
		"reported_time": p.Time,
	}
	if v, err := strconv.ParseFloat(p.Temperature, 64); err == nil {
		fields["temperature"] = v
	} else {
		fields["temperature_raw"] = p.Temperature
	}

	return write.NewPoint(s.telemetry, tags, fields, ts)
}

func (s schema) sessionPoint(from, to string, at time.Time) *write.Point {
	if at.IsZero() {
		at = time.Now()
	}
	return write.NewPoint(
		s.session,
		map[string]string{"state": to},
		map[string]interface{}{
			"from":      from,
			"connected": to == "connected",
		},
		at,
	)
}
