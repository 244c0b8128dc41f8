package mqtt

import (
	"fmt"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// Maximum payload size for MQTT messages (1MB).
const maxPayloadSize = 1 << 20

// Publish sends a message. On success the delivery callback installed with
// SetCallback is invoked with the topic before onResult.
//
// Parameters:
//   - topic: Topic name (no wildcards)
//   - payload: Message body, max 1MB
//   - qos: Quality of Service level (0, 1, or 2)
//   - retained: Whether the broker should retain the message
//   - onResult: Called once with nil on success
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool, onResult func(err error)) {
	if err := ValidateTopicName(topic); err != nil {
		c.complete("publish", onResult, err)
		return
	}
	if qos > maxQoS {
		c.complete("publish", onResult, ErrInvalidQoS)
		return
	}
	if len(payload) > maxPayloadSize {
		c.complete("publish", onResult,
			fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize))
		return
	}

	token, err := c.call(func() pahomqtt.Token { return c.client.Publish(topic, qos, retained, payload) })
	if err != nil {
		c.complete("publish", onResult, fmt.Errorf("%w: %w", ErrPublishFailed, err))
		return
	}
	go func() {
		<-token.Done()
		err := token.Error()
		if err != nil {
			err = fmt.Errorf("%w: %w", ErrPublishFailed, err)
		} else {
			c.handleDeliveryComplete(topic)
		}
		c.complete("publish", onResult, err)
	}()
}
