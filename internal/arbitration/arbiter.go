package arbitration

import (
	"time"

	"github.com/nerrad567/devicelink/internal/envelope"
	"github.com/nerrad567/devicelink/internal/infrastructure/mqtt"
	"github.com/nerrad567/devicelink/internal/liveness"
)

// Config holds the dependencies of an Arbiter.
type Config struct {
	// Namespace supplies the claim, acknowledge and ping topics.
	Namespace mqtt.Namespace

	// Publisher sends acknowledgements and release markers.
	Publisher Publisher

	// Clock defaults to liveness.SystemClock.
	Clock liveness.Clock

	// Timeout defaults to DefaultTimeout.
	Timeout time.Duration

	// Logger is optional.
	Logger Logger

	// OnEvent is called synchronously for every grant and for every
	// release of an active lease. Optional.
	OnEvent func(Event)
}

// Arbiter owns the controller lease of one device.
type Arbiter struct {
	ns      mqtt.Namespace
	pub     Publisher
	clock   liveness.Clock
	timeout time.Duration
	logger  Logger
	onEvent func(Event)

	// controllerID is empty while Idle.
	controllerID string
	grantedAt    time.Time
	activity     *liveness.Timer
}

// New returns an Idle Arbiter.
func New(cfg Config) *Arbiter {
	clock := cfg.Clock
	if clock == nil {
		clock = liveness.SystemClock{}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Arbiter{
		ns:       cfg.Namespace,
		pub:      cfg.Publisher,
		clock:    clock,
		timeout:  timeout,
		logger:   cfg.Logger,
		onEvent:  cfg.OnEvent,
		activity: liveness.NewTimer(clock),
	}
}

// HandleMessage processes a message from a connection topic.
//
// It returns true when the lease changed or was refreshed: a claim was
// granted, or the holder pinged. Ignored claims, foreign pings, pings
// while Idle and unrelated topics return false.
func (a *Arbiter) HandleMessage(topic, payload string) bool {
	kind, _ := a.ns.Classify(topic)
	switch kind {
	case mqtt.KindClaim:
		return a.claim(payload)
	case mqtt.KindPing:
		return a.ping(payload)
	default:
		return false
	}
}

// claim grants the lease to the envelope sender of payload if Idle.
func (a *Arbiter) claim(payload string) bool {
	// Our own release marker comes back as an empty retained claim.
	if payload == "" {
		return false
	}

	sender, _ := envelope.Decode(payload)
	if sender == "" {
		a.debug("claim ignored: empty sender", "payload", payload)
		return false
	}

	if a.Active() {
		a.debug("claim ignored: lease held",
			"claimant", sender,
			"controller_id", a.controllerID,
		)
		return false
	}

	now := a.clock.Now()
	a.controllerID = sender
	a.grantedAt = now
	a.activity.Mark()

	if a.logger != nil {
		a.logger.Info("lease granted", "controller_id", sender)
	}
	a.publish(a.ns.Acknowledge(), AcknowledgePayload, false)
	a.emit(Event{Kind: EventGranted, ControllerID: sender, At: now})

	return true
}

// ping refreshes the lease when payload is the holder's ID.
func (a *Arbiter) ping(payload string) bool {
	if !a.Active() || payload != a.controllerID {
		return false
	}
	a.activity.Mark()
	return true
}

// Authorize reports whether the envelope sender of an action payload
// holds the lease. A match refreshes the lease, so a controller that
// keeps sending actions does not need to ping.
func (a *Arbiter) Authorize(payload string) bool {
	if !a.Active() {
		return false
	}
	if !envelope.MatchesSender(payload, a.controllerID) {
		return false
	}
	a.activity.Mark()
	return true
}

// Tick revokes the lease if the holder has been silent for the timeout.
// It returns true when a lease was revoked.
func (a *Arbiter) Tick() bool {
	if !a.Active() {
		return false
	}
	if !a.activity.Expired(a.timeout) {
		return false
	}

	if a.logger != nil {
		a.logger.Info("lease timed out",
			"controller_id", a.controllerID,
			"silent_for", a.activity.Since(),
		)
	}
	a.release(ReasonTimeout)
	return true
}

// Release ends the lease on external request. Calling it while Idle
// republishes the release markers and changes nothing else.
func (a *Arbiter) Release() {
	a.release(ReasonExplicit)
}

// ReleaseWithReason is Release with a caller-supplied reason.
func (a *Arbiter) ReleaseWithReason(reason Reason) {
	a.release(reason)
}

// release clears the holder and publishes the retained empty markers.
func (a *Arbiter) release(reason Reason) {
	previous := a.controllerID
	grantedAt := a.grantedAt

	a.controllerID = ""
	a.grantedAt = time.Time{}

	a.publish(a.ns.Claim(), "", true)
	a.publish(a.ns.Acknowledge(), "", true)

	if previous == "" {
		return
	}

	now := a.clock.Now()
	if a.logger != nil && reason != ReasonTimeout {
		a.logger.Info("lease released", "controller_id", previous, "reason", string(reason))
	}
	a.emit(Event{
		Kind:         EventReleased,
		ControllerID: previous,
		Reason:       reason,
		Held:         now.Sub(grantedAt),
		At:           now,
	})
}

// Active reports whether a controller holds the lease.
func (a *Arbiter) Active() bool {
	return a.controllerID != ""
}

// State returns StateActive or StateIdle.
func (a *Arbiter) State() State {
	if a.Active() {
		return StateActive
	}
	return StateIdle
}

// ControllerID returns the holder's ID, or "" when Idle.
func (a *Arbiter) ControllerID() string {
	return a.controllerID
}

// Lease returns a snapshot of the current lease.
func (a *Arbiter) Lease() Lease {
	l := Lease{
		ControllerID: a.controllerID,
		Active:       a.Active(),
	}
	if l.Active {
		l.GrantedAt = a.grantedAt
		l.LastActivity = a.activity.LastMark()
	}
	return l
}

// Timeout returns the configured lease timeout.
func (a *Arbiter) Timeout() time.Duration {
	return a.timeout
}

func (a *Arbiter) publish(topic, payload string, retained bool) {
	if a.pub == nil {
		return
	}
	if err := a.pub.Publish(topic, []byte(payload), retained); err != nil && a.logger != nil {
		a.logger.Warn("arbitration publish failed",
			"topic", topic,
			"retained", retained,
			"error", err,
		)
	}
}

func (a *Arbiter) emit(ev Event) {
	if a.onEvent != nil {
		a.onEvent(ev)
	}
}

func (a *Arbiter) debug(msg string, args ...any) {
	if a.logger != nil {
		a.logger.Debug(msg, args...)
	}
}
