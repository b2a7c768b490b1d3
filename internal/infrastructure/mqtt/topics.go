package mqtt

import "strings"

// Topic suffixes appended to the device prefix "<deviceType>/<deviceID>/".
const (
	// SuffixStatus carries the retained {online, locked} heartbeat.
	SuffixStatus = "status"

	// SuffixRegister carries the retained capability document.
	SuffixRegister = "register"

	// SuffixClaim is where controllers post their ID to claim the device.
	SuffixClaim = "control/claim"

	// SuffixAcknowledge is where the device answers a granted claim.
	SuffixAcknowledge = "control/acknowledge"

	// SuffixControlAll matches every control topic.
	SuffixControlAll = "control/#"

	// SuffixPing carries liveness pings from the current controller.
	SuffixPing = "ping"

	// SuffixActionPrefix is the parent of all action topics.
	SuffixActionPrefix = "action/"

	// SuffixSensorPrefix is the parent of all sensor data topics.
	SuffixSensorPrefix = "sensor/"
)

// TopicKind classifies an inbound topic relative to a Namespace.
type TopicKind int

// Topic kinds returned by Namespace.Classify.
const (
	KindOther TopicKind = iota
	KindStatus
	KindRegister
	KindClaim
	KindAcknowledge
	KindPing
	KindAction
	KindSensor
)

// String returns a short name for logging.
func (k TopicKind) String() string {
	switch k {
	case KindStatus:
		return "status"
	case KindRegister:
		return "register"
	case KindClaim:
		return "claim"
	case KindAcknowledge:
		return "acknowledge"
	case KindPing:
		return "ping"
	case KindAction:
		return "action"
	case KindSensor:
		return "sensor"
	default:
		return "other"
	}
}

// Namespace builds the fully-qualified topics of one device.
//
// The well-known topics are computed once in NewNamespace; a Namespace is
// immutable afterwards and safe to share between goroutines.
//
//	ns := mqtt.NewNamespace("robot", "Robot-1F2A3B")
//	ns.Claim() // "robot/Robot-1F2A3B/control/claim"
type Namespace struct {
	prefix      string
	status      string
	register    string
	claim       string
	acknowledge string
	controlAll  string
	ping        string
	actionAll   string
}

// NewNamespace returns the namespace for deviceType/deviceID.
func NewNamespace(deviceType, deviceID string) Namespace {
	prefix := deviceType + "/" + deviceID + "/"
	return Namespace{
		prefix:      prefix,
		status:      prefix + SuffixStatus,
		register:    prefix + SuffixRegister,
		claim:       prefix + SuffixClaim,
		acknowledge: prefix + SuffixAcknowledge,
		controlAll:  prefix + SuffixControlAll,
		ping:        prefix + SuffixPing,
		actionAll:   prefix + SuffixActionPrefix + "#",
	}
}

// Prefix returns "<deviceType>/<deviceID>/".
func (n Namespace) Prefix() string { return n.prefix }

// Topic returns prefix + suffix.
func (n Namespace) Topic(suffix string) string { return n.prefix + suffix }

// Status returns the heartbeat topic.
//
// Example: robot/Robot-1F2A3B/status
func (n Namespace) Status() string { return n.status }

// Register returns the capability registration topic.
//
// Example: robot/Robot-1F2A3B/register
func (n Namespace) Register() string { return n.register }

// Claim returns the claim topic.
//
// Example: robot/Robot-1F2A3B/control/claim
func (n Namespace) Claim() string { return n.claim }

// Acknowledge returns the claim acknowledgement topic.
//
// Example: robot/Robot-1F2A3B/control/acknowledge
func (n Namespace) Acknowledge() string { return n.acknowledge }

// Ping returns the controller ping topic.
//
// Example: robot/Robot-1F2A3B/ping
func (n Namespace) Ping() string { return n.ping }

// Action returns the topic for a named action.
//
// Example: robot/Robot-1F2A3B/action/forward
func (n Namespace) Action(name string) string {
	return n.prefix + SuffixActionPrefix + name
}

// Sensor returns the topic for a named sensor.
//
// Example: robot/Robot-1F2A3B/sensor/infrared
func (n Namespace) Sensor(name string) string {
	return n.prefix + SuffixSensorPrefix + name
}

// AllControl returns a pattern matching claim and acknowledge.
//
// Pattern: robot/Robot-1F2A3B/control/#
func (n Namespace) AllControl() string { return n.controlAll }

// AllActions returns a pattern matching every action topic.
//
// Pattern: robot/Robot-1F2A3B/action/#
func (n Namespace) AllActions() string { return n.actionAll }

// Subscriptions returns the topic filters a device subscribes to.
// action/# already covers each declared action, so per-action filters are
// not added; overlapping filters would deliver an action twice.
func (n Namespace) Subscriptions() []string {
	return []string{n.controlAll, n.ping, n.actionAll}
}

// Classify maps a fully-qualified topic to its kind. For actions and
// sensors the second result is the name after the kind prefix.
func (n Namespace) Classify(topic string) (TopicKind, string) {
	suffix, ok := strings.CutPrefix(topic, n.prefix)
	if !ok {
		return KindOther, ""
	}

	switch suffix {
	case SuffixStatus:
		return KindStatus, ""
	case SuffixRegister:
		return KindRegister, ""
	case SuffixClaim:
		return KindClaim, ""
	case SuffixAcknowledge:
		return KindAcknowledge, ""
	case SuffixPing:
		return KindPing, ""
	}

	if name, ok := strings.CutPrefix(suffix, SuffixActionPrefix); ok && name != "" {
		return KindAction, name
	}
	if name, ok := strings.CutPrefix(suffix, SuffixSensorPrefix); ok && name != "" {
		return KindSensor, name
	}

	return KindOther, ""
}
