package agent

import "errors"

// Domain errors for the agent package.
var (
	// ErrNoTransport is returned by New when Options.Transport is nil.
	ErrNoTransport = errors.New("agent: transport is required")

	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("agent: already started")

	// ErrNotRunning is returned for requests made before Start or after Stop.
	ErrNotRunning = errors.New("agent: not running")

	// ErrUnknownSensor is returned by PublishSensor for undeclared sensors.
	ErrUnknownSensor = errors.New("agent: unknown sensor")
)
