// Package discovery advertises the device on the local network over mDNS.
//
// The advertisement lets controllers find a device and its broker without
// knowing the device ID in advance. The TXT record carries the topic
// prefix, so a controller can claim the device directly:
//
//	id=EasyMQTT-A1B2C3
//	type=robot
//	prefix=robot/EasyMQTT-A1B2C3/
//	actions=forward,backward,stop
//
// Discovery is optional; the MQTT protocol does not depend on it.
package discovery
