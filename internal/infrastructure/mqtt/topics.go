package mqtt

import (
	"fmt"
	"strings"
)

// maxTopicLength is the MQTT limit on topic length in bytes.
const maxTopicLength = 65535

// ValidateTopicName checks a topic used for publishing: non-empty, no
// wildcards, no NUL characters.
func ValidateTopicName(topic string) error {
	if err := validateTopicCommon(topic); err != nil {
		return err
	}
	if strings.ContainsAny(topic, "+#") {
		return fmt.Errorf("%w: wildcards not allowed in topic name %q", ErrInvalidTopic, topic)
	}
	return nil
}

// ValidateTopicFilter checks a subscription filter. "+" must occupy a
// whole level and "#" must be the whole last level.
func ValidateTopicFilter(filter string) error {
	if err := validateTopicCommon(filter); err != nil {
		return err
	}

	levels := strings.Split(filter, "/")
	for i, level := range levels {
		switch {
		case level == "#":
			if i != len(levels)-1 {
				return fmt.Errorf("%w: '#' must be the last level in %q", ErrInvalidTopic, filter)
			}
		case level == "+":
		case strings.ContainsAny(level, "+#"):
			return fmt.Errorf("%w: wildcard must occupy a whole level in %q", ErrInvalidTopic, filter)
		}
	}
	return nil
}

func validateTopicCommon(topic string) error {
	if topic == "" {
		return fmt.Errorf("%w: topic cannot be empty", ErrInvalidTopic)
	}
	if len(topic) > maxTopicLength {
		return fmt.Errorf("%w: topic exceeds %d bytes", ErrInvalidTopic, maxTopicLength)
	}
	if strings.ContainsRune(topic, 0) {
		return fmt.Errorf("%w: topic contains NUL", ErrInvalidTopic)
	}
	return nil
}

// IsWildcard reports whether a filter contains wildcard levels.
func IsWildcard(filter string) bool {
	return strings.ContainsAny(filter, "+#")
}

// MatchTopic reports whether a concrete topic matches a subscription filter.
//
// Topics starting with "$" are not matched by a leading wildcard, as
// brokers reserve them for system use.
//
// Example:
//
//	MatchTopic("sensors/+/temp", "sensors/kitchen/temp") // true
//	MatchTopic("sensors/#", "sensors")                   // true
func MatchTopic(filter, topic string) bool {
	if filter == topic {
		return true
	}
	if strings.HasPrefix(topic, "$") && (strings.HasPrefix(filter, "+") || strings.HasPrefix(filter, "#")) {
		return false
	}

	fl := strings.Split(filter, "/")
	tl := strings.Split(topic, "/")

	for i, f := range fl {
		if f == "#" {
			return true
		}
		if i >= len(tl) {
			return false
		}
		if f != "+" && f != tl[i] {
			return false
		}
	}
	return len(fl) == len(tl)
}
