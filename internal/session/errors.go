package session

import "errors"

var (
	// ErrTransportFailure wraps an error reported by the transport
	// (broker rejection, network failure, library panic).
	ErrTransportFailure = errors.New("session: transport failure")

	// ErrDecodeFailure is returned for an inbound body that is not a JSON object.
	ErrDecodeFailure = errors.New("session: malformed payload")

	// ErrUnmatchedTopic marks a payload whose topic no device owns.
	ErrUnmatchedTopic = errors.New("session: no device for topic")

	// ErrOperationInProgress is returned for a re-entrant connect/disconnect,
	// or a second subscribe/unsubscribe on a topic with one outstanding.
	ErrOperationInProgress = errors.New("session: operation in progress")

	// ErrAlreadyConnected is returned by Connect on a connected session.
	ErrAlreadyConnected = errors.New("session: already connected")

	// ErrTimeout is returned when the transport does not answer in time.
	ErrTimeout = errors.New("session: operation timed out")

	// ErrNotConnected is returned by operations that need a connection.
	ErrNotConnected = errors.New("session: not connected")

	// ErrInvalidTopic is returned for an empty topic.
	ErrInvalidTopic = errors.New("session: invalid topic")

	// ErrInvalidQoS is returned for a QoS above 2.
	ErrInvalidQoS = errors.New("session: invalid QoS level (must be 0, 1, or 2)")

	// ErrStreamClosed is returned when subscribing to a closed stream.
	ErrStreamClosed = errors.New("session: stream closed")
)
