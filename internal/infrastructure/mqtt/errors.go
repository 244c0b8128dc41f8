package mqtt

import "errors"

// Errors delivered to result callbacks. Use errors.Is() to check for them;
// library errors are wrapped beneath them.
var (
	// ErrNotConnected is returned when an operation needs a live connection.
	ErrNotConnected = errors.New("mqtt: client not connected")

	// ErrConnectionFailed is returned when a connect attempt fails.
	ErrConnectionFailed = errors.New("mqtt: connection failed")

	// ErrPublishFailed is returned when a publish operation fails.
	ErrPublishFailed = errors.New("mqtt: publish failed")

	// ErrSubscribeFailed is returned when a subscribe operation fails,
	// including a SUBACK carrying the failure return code.
	ErrSubscribeFailed = errors.New("mqtt: subscribe failed")

	// ErrUnsubscribeFailed is returned when an unsubscribe operation fails.
	ErrUnsubscribeFailed = errors.New("mqtt: unsubscribe failed")

	// ErrInvalidQoS is returned when an invalid QoS level is specified.
	ErrInvalidQoS = errors.New("mqtt: invalid QoS level (must be 0, 1, or 2)")

	// ErrInvalidTopic is returned when a topic name or filter is malformed.
	ErrInvalidTopic = errors.New("mqtt: invalid topic")

	// ErrClientPanic is returned when the client library panics during a call.
	ErrClientPanic = errors.New("mqtt: client library panic")
)
