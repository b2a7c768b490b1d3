package main

import (
	"github.com/nerrad567/devicelink/internal/agent"
	"github.com/nerrad567/devicelink/internal/infrastructure/mqtt"
)

// brokerClient is the part of *mqtt.Client the agent transport uses.
type brokerClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	QoS() byte
}

// mqttTransport adapts the infrastructure MQTT client to agent.Transport.
// The differences are the QoS argument, which comes from config, and the
// handler shape: the agent takes a MessageSink instead of a func that
// returns an error.
type mqttTransport struct {
	client brokerClient
}

func newMQTTTransport(client brokerClient) *mqttTransport {
	return &mqttTransport{client: client}
}

// Publish implements agent.Transport.
func (t *mqttTransport) Publish(topic string, payload []byte, retained bool) error {
	return t.client.Publish(topic, payload, t.client.QoS(), retained)
}

// Subscribe implements agent.Transport.
func (t *mqttTransport) Subscribe(topic string, sink agent.MessageSink) error {
	return t.client.Subscribe(topic, t.client.QoS(), func(topic string, payload []byte) error {
		sink.OnMessage(topic, payload)
		return nil
	})
}
