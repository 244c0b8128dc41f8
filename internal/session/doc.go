// Package session owns one logical MQTT broker connection.
//
// A Manager turns a callback-style Transport into blocking, cancellable
// operations bounded by a timeout:
//
//	Disconnected -> Connecting -> Connected -> Disconnecting -> Disconnected
//	Connected -> Disconnected            (involuntary connection loss)
//
// Connect fails fast with ErrAlreadyConnected or ErrOperationInProgress
// instead of queueing. Disconnect always leaves the session Disconnected,
// even when the broker does not acknowledge it.
//
// Inbound messages are decoded into Payload values and fanned out in
// arrival order to every consumer of the Stream returned by
// ObserveMessages. A lost connection is announced on the stream as one
// synthetic payload (see ConnectionLostPayload) before any later message.
//
// The Manager is the only writer of the connection state and the set of
// acknowledged subscriptions; transport callbacks may arrive on any
// goroutine.
package session
