package mqtt

import "fmt"

// maxPayloadSize caps a single publish at 1 MiB.
const maxPayloadSize = 1 << 20

// Publish sends payload to topic and waits for the broker to accept it.
//
// The bridge publishes state and health retained so a controller that
// subscribes later still sees the current value; acks are not retained.
//
// Parameters:
//   - topic: Destination, e.g. "graylogic/state/x10/A1"
//   - payload: Message body, at most 1 MiB
//   - qos: 0, 1 or 2
//   - retained: Whether the broker keeps the message for late subscribers
//
// Returns:
//   - error: ErrInvalidTopic, ErrInvalidQoS, ErrNotConnected or ErrPublishFailed
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if err := validate(topic, qos); err != nil {
		return err
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: %d byte payload exceeds %d", ErrPublishFailed, len(payload), maxPayloadSize)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: %s: no ack within %v", ErrPublishFailed, topic, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPublishFailed, topic, err)
	}
	return nil
}

// Subscribe registers handler for topic, which may contain + and #
// wildcards. The subscription is remembered and restored after every
// reconnect, so callers subscribe once at startup.
//
// Handlers run on paho's delivery goroutine; a returned error is logged and
// a panic is recovered.
//
// Returns:
//   - error: ErrInvalidTopic, ErrInvalidQoS, ErrNotConnected or ErrSubscribeFailed
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	if err := validate(topic, qos); err != nil {
		return err
	}
	if handler == nil {
		return fmt.Errorf("%w: %s: nil handler", ErrSubscribeFailed, topic)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Subscribe(topic, qos, c.wrapHandler(handler))
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: %s: no ack within %v", ErrSubscribeFailed, topic, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrSubscribeFailed, topic, err)
	}

	c.subMu.Lock()
	c.subscriptions[topic] = subscription{qos: qos, handler: handler}
	c.subMu.Unlock()
	return nil
}

func validate(topic string, qos byte) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return fmt.Errorf("%w: got %d", ErrInvalidQoS, qos)
	}
	return nil
}
