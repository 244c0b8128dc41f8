// Package monitor keeps persisted device state consistent with the MQTT
// session.
//
// The Service consumes the session's message stream and applies each
// payload to the one device that owns its topic. It also carries the
// application commands (connect, subscribe a device, delete a device...)
// so the persistence side effects of every session operation live in one
// place.
//
// # Reconciliation
//
//   - subscribe success marks the device subscribed; failure clears it
//   - unsubscribe success marks the device Offline/Unsubscribed
//   - connection loss stamps subscribed devices with the loss marker, then
//     clears every subscribed flag and sets every status to Offline
//   - an explicit disconnect clears every subscribed flag and status
//   - a payload on an unknown topic is dropped
//
// Persistence failures are logged and never undo a transport action.
//
// # Side Outputs
//
// Applied payloads are optionally recorded in telemetry history, written to
// InfluxDB and broadcast to WebSocket clients.
package monitor
