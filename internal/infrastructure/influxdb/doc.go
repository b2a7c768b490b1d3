// Package influxdb writes device telemetry to InfluxDB.
//
// It wraps the official influxdb-client-go v2 library with connection
// management, batched non-blocking writes and health monitoring. Every
// point carries a device_id tag.
//
// # Measurements
//
//	lease_events   tags: device_id, kind, reason   fields: controller_id, held_seconds
//	device_status  tags: device_id                 fields: online, locked
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB, deviceID)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // telemetry is optional
//	}
//	defer client.Close()
//
//	client.WriteLeaseEvent(ev)
//	client.WriteStatus(heartbeat.Status{Online: true})
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
//
// # Error Handling
//
// Writes are non-blocking; batch errors are delivered to the SetOnError
// callback. Connection and health check errors are returned directly.
package influxdb
