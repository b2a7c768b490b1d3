package mqtt

import (
	"fmt"
)

// Subscribe routes messages matching topic to handler.
//
// The device subscribes once per filter in Namespace.Subscriptions; the
// filters are wildcards such as "robot/Robot-1F2A3B/control/#", so one
// handler sees claims, acknowledgements and its own retained release
// markers. The broker replays retained messages immediately after the
// subscription is acknowledged.
//
// Every successful subscription is remembered and re-issued by
// restoreSubscriptions after paho reconnects, so the agent never has to
// subscribe again. A failed subscription is forgotten.
//
// handler runs on a paho goroutine and must hand off rather than block;
// the agent pushes onto its inbox and returns.
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if handler == nil {
		return fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	// Remember first: a reconnect racing the SUBACK must restore it too.
	c.subMu.Lock()
	c.subscriptions[topic] = subscription{
		topic:   topic,
		qos:     qos,
		handler: handler,
	}
	c.subMu.Unlock()

	token := c.client.Subscribe(topic, qos, c.wrapHandler(handler))
	if !token.WaitTimeout(defaultPublishTimeout) {
		c.forget(topic)
		return fmt.Errorf("%w: %s: timeout after %v", ErrSubscribeFailed, topic, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		c.forget(topic)
		return fmt.Errorf("%w: %s: %w", ErrSubscribeFailed, topic, err)
	}
	return nil
}

// SubscriptionCount reports how many filters will be restored on reconnect.
func (c *Client) SubscriptionCount() int {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	return len(c.subscriptions)
}

func (c *Client) forget(topic string) {
	c.subMu.Lock()
	delete(c.subscriptions, topic)
	c.subMu.Unlock()
}
