// Package device describes the identity and capabilities of this device.
//
// An Identity fixes the device type, the device ID and the set of actions
// and sensors the device exposes. It is built once at startup and never
// changes afterwards; the MQTT topic prefix "<type>/<id>/" is derived from
// it.
//
// # Device IDs
//
// ResolveID picks the device ID in this order:
//
//  1. device.id from the configuration, verbatim
//  2. device.serial, reduced to "<prefix>-XXXXXX" by DeriveID
//  3. a UUID generated on first start and persisted as data_dir/device_id
//
// # Capability document
//
// Capabilities returns the JSON document the agent publishes, retained, on
// the register topic:
//
//	{"id":"Robot-1F2A3B","type":"robot","actions":["forward","stop"],"sensors":["distance"]}
package device
