package arbitration

import "time"

// DefaultTimeout is how long a holder may stay silent before its lease is revoked.
const DefaultTimeout = 5 * time.Second

// AcknowledgePayload is published on control/acknowledge when a claim is granted.
const AcknowledgePayload = "true"

// Publisher sends a message to the broker.
type Publisher interface {
	Publish(topic string, payload []byte, retained bool) error
}

// Logger is the subset of logging.Logger used here.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

// State is the arbitration state.
type State int

// Arbitration states.
const (
	StateIdle State = iota
	StateActive
)

// String returns "idle" or "active".
func (s State) String() string {
	if s == StateActive {
		return "active"
	}
	return "idle"
}

// Reason explains why a lease ended.
type Reason string

// Release reasons.
const (
	ReasonTimeout  Reason = "timeout"
	ReasonExplicit Reason = "explicit"
	ReasonShutdown Reason = "shutdown"
)

// EventKind distinguishes grants from releases.
type EventKind string

// Lease event kinds.
const (
	EventGranted  EventKind = "granted"
	EventReleased EventKind = "released"
)

// Event describes a lease transition.
type Event struct {
	Kind         EventKind
	ControllerID string

	// Reason is set for releases only.
	Reason Reason

	// Held is how long the lease lasted. Set for releases only.
	Held time.Duration

	At time.Time
}

// Lease is a read-only view of the current lease.
type Lease struct {
	ControllerID string
	Active       bool
	GrantedAt    time.Time
	LastActivity time.Time
}
