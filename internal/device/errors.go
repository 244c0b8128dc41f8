package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrDeviceNotFound) {
//	    // handle not found case
//	}
var (
	// ErrDeviceNotFound is returned when a device ID does not exist, or no
	// device owns a topic.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrInvalidDevice is returned when device validation fails.
	ErrInvalidDevice = errors.New("device: invalid")

	// ErrInvalidName is returned when a device name is empty or too long.
	ErrInvalidName = errors.New("device: invalid name")

	// ErrInvalidTopic is returned when a topic is not a valid MQTT topic filter.
	ErrInvalidTopic = errors.New("device: invalid topic")

	// ErrInvalidField is returned when a descriptive field is too long.
	ErrInvalidField = errors.New("device: invalid field")
)
