package device

import "errors"

// Domain errors for the device package.
var (
	// ErrInvalidIdentity is returned when the type or ID cannot form a topic prefix.
	ErrInvalidIdentity = errors.New("device: invalid identity")

	// ErrInvalidName is returned for action or sensor names that are empty,
	// too long or contain MQTT wildcards.
	ErrInvalidName = errors.New("device: invalid name")

	// ErrInvalidSerial is returned when a serial number is not hex or is too short.
	ErrInvalidSerial = errors.New("device: invalid serial")
)
