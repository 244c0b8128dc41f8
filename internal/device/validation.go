package device

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/nerrad567/devicelink/internal/infrastructure/mqtt"
)

// Validation constants.
const (
	maxNameLength  = 100
	maxFieldLength = 100
)

// ValidateDevice checks the user-editable fields of a device.
// Returns an error describing the first validation failure found.
func ValidateDevice(d *Device) error {
	if d == nil {
		return ErrInvalidDevice
	}
	if err := ValidateName(d.Name); err != nil {
		return err
	}
	if err := ValidateTopic(d.TopicID); err != nil {
		return err
	}
	if err := validateField("brand", d.Brand); err != nil {
		return err
	}
	return validateField("type", d.Type)
}

// ValidateName checks a device name is present and not too long.
func ValidateName(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidName)
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidName, maxNameLength)
	}
	return nil
}

// ValidateTopic checks topic is a usable subscription filter.
func ValidateTopic(topic string) error {
	if err := mqtt.ValidateTopicFilter(topic); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidTopic, err)
	}
	return nil
}

func validateField(field, value string) error {
	if utf8.RuneCountInString(value) > maxFieldLength {
		return fmt.Errorf("%w: %s exceeds %d characters", ErrInvalidField, field, maxFieldLength)
	}
	return nil
}
