package mqtt

import (
	"fmt"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// Subscribe requests a subscription to a topic filter. Matching messages
// are delivered to the message callback installed with SetCallback.
//
// The result is an error when the filter or QoS is invalid, the client is
// not connected, or the broker rejects the subscription in its SUBACK.
//
// Parameters:
//   - topic: Topic filter, may contain + and # wildcards
//   - qos: Maximum QoS level for received messages (0, 1, or 2)
//   - onResult: Called once with nil on success
func (c *Client) Subscribe(topic string, qos byte, onResult func(err error)) {
	if err := ValidateTopicFilter(topic); err != nil {
		c.complete("subscribe", onResult, err)
		return
	}
	if qos > maxQoS {
		c.complete("subscribe", onResult, ErrInvalidQoS)
		return
	}

	token, err := c.call(func() pahomqtt.Token { return c.client.Subscribe(topic, qos, nil) })
	if err != nil {
		c.complete("subscribe", onResult, fmt.Errorf("%w: %w", ErrSubscribeFailed, err))
		return
	}
	go func() {
		<-token.Done()
		c.complete("subscribe", onResult, subscribeResult(topic, token))
	}()
}

// subscribeResult reads a completed subscribe token. paho reports a
// broker-side rejection only through the SUBACK return codes.
func subscribeResult(topic string, token pahomqtt.Token) error {
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}
	if st, ok := token.(*pahomqtt.SubscribeToken); ok {
		if code, found := st.Result()[topic]; found && code == subackFailure {
			return fmt.Errorf("%w: broker rejected %q", ErrSubscribeFailed, topic)
		}
	}
	return nil
}

// Unsubscribe removes a subscription.
//
// Parameters:
//   - topic: The exact topic filter that was subscribed to
//   - onResult: Called once with nil on success
func (c *Client) Unsubscribe(topic string, onResult func(err error)) {
	if err := ValidateTopicFilter(topic); err != nil {
		c.complete("unsubscribe", onResult, err)
		return
	}

	token, err := c.call(func() pahomqtt.Token { return c.client.Unsubscribe(topic) })
	if err != nil {
		c.complete("unsubscribe", onResult, fmt.Errorf("%w: %w", ErrUnsubscribeFailed, err))
		return
	}
	go func() {
		<-token.Done()
		err := token.Error()
		if err != nil {
			err = fmt.Errorf("%w: %w", ErrUnsubscribeFailed, err)
		}
		c.complete("unsubscribe", onResult, err)
	}()
}
