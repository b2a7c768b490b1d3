// Package mqtt provides MQTT connectivity and the topic namespace of a
// devicelink device.
//
// This package manages:
//   - Connection to the broker with a bounded initial retry and auto-reconnect
//   - Message publishing, including retained and empty payloads
//   - Topic subscriptions with wildcard support, restored on reconnect
//   - Last Will and Testament (LWT) for offline detection
//   - The per-device topic Namespace and topic classification
//
// # Topics
//
// Every topic of a device lives under "<deviceType>/<deviceID>/":
//
//	status               retained {"online":..,"locked":..}, LWT {"online":false}
//	register             retained capability document
//	control/claim        controller ID claiming the device; retained "" after release
//	control/acknowledge  "true" when a claim is granted; retained "" after release
//	ping                 holder's ID, refreshes the lease
//	action/<name>        "<senderID>:<content>"
//	sensor/<name>        sensor readings
//
// # Delivery
//
// Handlers run on paho's goroutines. MQTT delivery is at-least-once and
// the broker replays retained messages on subscribe, so consumers must
// tolerate duplicates and their own retained markers.
//
// # Usage
//
//	ns := mqtt.NewNamespace("robot", "Robot-1F2A3B")
//	client, err := mqtt.ConnectWithRetry(ctx, cfg.MQTT, "Robot-1F2A3B", ns, log)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	for _, filter := range ns.Subscriptions() {
//	    err = client.Subscribe(filter, client.QoS(),
//	        func(topic string, payload []byte) error {
//	            sink.OnMessage(topic, payload)
//	            return nil
//	        })
//	}
package mqtt
