package mqtt

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateTopicName(t *testing.T) {
	tests := []struct {
		topic   string
		wantErr bool
	}{
		{"sensors/1", false},
		{"test/topic", false},
		{"/leading/slash", false},
		{"", true},
		{"sensors/+", true},
		{"sensors/#", true},
		{"bad\x00topic", true},
		{strings.Repeat("a", maxTopicLength+1), true},
	}

	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			err := ValidateTopicName(tt.topic)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateTopicName(%q) error = %v, wantErr %v", tt.topic, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidTopic) {
				t.Errorf("error %v is not ErrInvalidTopic", err)
			}
		})
	}
}

func TestValidateTopicFilter(t *testing.T) {
	tests := []struct {
		filter  string
		wantErr bool
	}{
		{"sensors/1", false},
		{"sensors/+", false},
		{"sensors/+/temp", false},
		{"sensors/#", false},
		{"#", false},
		{"+", false},
		{"", true},
		{"sensors/#/temp", true},
		{"sensors/temp#", true},
		{"sensors/te+mp", true},
	}

	for _, tt := range tests {
		t.Run(tt.filter, func(t *testing.T) {
			err := ValidateTopicFilter(tt.filter)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateTopicFilter(%q) error = %v, wantErr %v", tt.filter, err, tt.wantErr)
			}
		})
	}
}

func TestMatchTopic(t *testing.T) {
	tests := []struct {
		filter string
		topic  string
		want   bool
	}{
		{"sensors/1", "sensors/1", true},
		{"sensors/1", "sensors/2", false},
		{"sensors/+", "sensors/1", true},
		{"sensors/+", "sensors/1/temp", false},
		{"sensors/+/temp", "sensors/kitchen/temp", true},
		{"sensors/#", "sensors", true},
		{"sensors/#", "sensors/a/b/c", true},
		{"#", "anything/at/all", true},
		{"#", "$SYS/broker/uptime", false},
		{"+/broker/uptime", "$SYS/broker/uptime", false},
		{"$SYS/#", "$SYS/broker/uptime", true},
		{"sensors/1/temp", "sensors/1", false},
	}

	for _, tt := range tests {
		t.Run(tt.filter+"|"+tt.topic, func(t *testing.T) {
			if got := MatchTopic(tt.filter, tt.topic); got != tt.want {
				t.Errorf("MatchTopic(%q, %q) = %v, want %v", tt.filter, tt.topic, got, tt.want)
			}
		})
	}
}

func TestIsWildcard(t *testing.T) {
	if IsWildcard("sensors/1") {
		t.Error("IsWildcard(sensors/1) = true")
	}
	if !IsWildcard("sensors/+") || !IsWildcard("sensors/#") {
		t.Error("IsWildcard should detect + and #")
	}
}
