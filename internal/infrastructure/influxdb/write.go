package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/devicelink/internal/arbitration"
	"github.com/nerrad567/devicelink/internal/heartbeat"
)

// Measurement names.
const (
	MeasurementLeaseEvents  = "lease_events"
	MeasurementDeviceStatus = "device_status"
)

// WriteLeaseEvent records a lease grant or release.
//
// The write is non-blocking; points are batched and sent asynchronously.
// It has the signature of arbitration.Config.OnEvent.
func (c *Client) WriteLeaseEvent(ev arbitration.Event) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(leaseEventPoint(c.deviceID, ev))
}

// WriteStatus records a published heartbeat.
//
// It has the signature of heartbeat.Config.OnPublish.
func (c *Client) WriteStatus(s heartbeat.Status) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(statusPoint(c.deviceID, s, time.Now()))
}

// WritePoint writes a custom point tagged with the device ID.
//
// Example:
//
//	client.WritePoint("sensor_readings",
//	    map[string]string{"sensor": "distance"},
//	    map[string]interface{}{"value": 42.0})
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(customPoint(c.deviceID, measurement, tags, fields, time.Now()))
}

// leaseEventPoint builds the lease_events point for ev.
//
// Tags: device_id, kind, reason (releases only).
// Fields: controller_id, held_seconds (releases only).
func leaseEventPoint(deviceID string, ev arbitration.Event) *write.Point {
	tags := map[string]string{
		"device_id": deviceID,
		"kind":      string(ev.Kind),
	}
	fields := map[string]interface{}{
		"controller_id": ev.ControllerID,
	}
	if ev.Kind == arbitration.EventReleased {
		tags["reason"] = string(ev.Reason)
		fields["held_seconds"] = ev.Held.Seconds()
	}

	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	return write.NewPoint(MeasurementLeaseEvents, tags, fields, at)
}

// statusPoint builds the device_status point for s.
func statusPoint(deviceID string, s heartbeat.Status, at time.Time) *write.Point {
	return write.NewPoint(
		MeasurementDeviceStatus,
		map[string]string{"device_id": deviceID},
		map[string]interface{}{
			"online": s.Online,
			"locked": s.Locked,
		},
		at,
	)
}

// customPoint adds the device_id tag unless tags already carry one.
func customPoint(deviceID, measurement string, tags map[string]string, fields map[string]interface{}, at time.Time) *write.Point {
	merged := make(map[string]string, len(tags)+1)
	merged["device_id"] = deviceID
	for k, v := range tags {
		merged[k] = v
	}
	return write.NewPoint(measurement, merged, fields, at)
}
