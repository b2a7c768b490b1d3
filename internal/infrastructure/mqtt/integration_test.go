//go:build integration

package mqtt

import (
	"sync/atomic"
	"testing"
)

// Integration tests for reconnection behaviour.
// These tests require a running MQTT broker at 127.0.0.1:1883.
//
// Run with:
//   go test -tags=integration -v ./internal/infrastructure/mqtt/...

// TestIntegration_SubscriptionsRestored verifies tracked subscriptions are
// re-established when paho reconnects.
func TestIntegration_SubscriptionsRestored(t *testing.T) {
	ns := NewNamespace("robot", "Robot-RECON1")

	client, err := Connect(testConfig(), "devicelink-int-restore", ns)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	var reconnects int32
	client.SetOnConnect(func() { atomic.AddInt32(&reconnects, 1) })

	handler := func(string, []byte) error { return nil }
	for _, filter := range ns.Subscriptions() {
		if err := client.Subscribe(filter, 1, handler); err != nil {
			t.Fatalf("Subscribe(%s) error = %v", filter, err)
		}
	}

	// handleConnect is what paho calls after an automatic reconnect.
	client.handleConnect()

	if atomic.LoadInt32(&reconnects) != 1 {
		t.Errorf("OnConnect fired %d times, want 1", reconnects)
	}
	if client.SubscriptionCount() != len(ns.Subscriptions()) {
		t.Errorf("SubscriptionCount() = %d after restore", client.SubscriptionCount())
	}
}
