package mqtt

import (
	"fmt"
)

// maxPayloadSize caps a single publish. Device payloads are a few hundred
// bytes at most; sensor readings are the only caller-supplied content.
const maxPayloadSize = 1 << 20

// Publish sends payload on topic and waits for paho to hand it off.
//
// The device publishes three kinds of message:
//   - retained state: status, register and the empty claim/acknowledge
//     markers written on release, which clear what late subscribers see
//   - the non-retained "true" on control/acknowledge when a claim is granted
//   - non-retained sensor readings
//
// A nil or empty payload is sent as zero bytes. Errors wrap
// ErrPublishFailed unless the client is disconnected (ErrNotConnected) or
// the arguments are invalid.
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}

	// paho sends a nil []byte as a zero-length payload
	if payload == nil {
		payload = []byte{}
	}

	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}

	return nil
}
