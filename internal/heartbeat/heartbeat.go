package heartbeat

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/devicelink/internal/liveness"
)

// DefaultInterval is the minimum gap between two periodic heartbeats.
const DefaultInterval = 5 * time.Second

// Status is the retained document on the status topic.
type Status struct {
	Online bool `json:"online"`
	Locked bool `json:"locked"`
}

// Marshal encodes s as compact JSON.
func (s Status) Marshal() []byte {
	// Two bools cannot fail to encode.
	data, _ := json.Marshal(s)
	return data
}

// ParseStatus decodes a status document. Missing fields decode as false,
// so the last-will payload {"online":false} parses as an offline status.
func ParseStatus(payload []byte) (Status, error) {
	var s Status
	if err := json.Unmarshal(payload, &s); err != nil {
		return Status{}, fmt.Errorf("parsing status: %w", err)
	}
	return s, nil
}

// Publisher sends a message to the broker.
type Publisher interface {
	Publish(topic string, payload []byte, retained bool) error
}

// LockState reports whether a controller currently holds the device.
// *arbitration.Arbiter satisfies it.
type LockState interface {
	Active() bool
}

// Logger is the subset of logging.Logger used here.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Config holds the dependencies of an Emitter.
type Config struct {
	// Topic is the device's status topic.
	Topic string

	Publisher Publisher
	Lock      LockState

	// Clock defaults to liveness.SystemClock.
	Clock liveness.Clock

	// Interval defaults to DefaultInterval.
	Interval time.Duration

	Logger Logger

	// OnPublish is called after every successful publish. Optional.
	OnPublish func(Status)
}

// Emitter publishes periodic status heartbeats.
//
// Emitter is not safe for concurrent use; it is owned by the agent loop.
type Emitter struct {
	topic     string
	pub       Publisher
	lock      LockState
	interval  time.Duration
	timer     *liveness.Timer
	logger    Logger
	onPublish func(Status)
}

// New returns an Emitter whose first periodic heartbeat is due one
// interval from now.
func New(cfg Config) *Emitter {
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Emitter{
		topic:     cfg.Topic,
		pub:       cfg.Publisher,
		lock:      cfg.Lock,
		interval:  interval,
		timer:     liveness.NewTimer(cfg.Clock),
		logger:    cfg.Logger,
		onPublish: cfg.OnPublish,
	}
}

// Tick publishes a heartbeat if the interval has elapsed since the last
// one. It reports whether a heartbeat was attempted.
func (e *Emitter) Tick() bool {
	if !e.timer.Elapsed(e.interval) {
		return false
	}
	e.publish(e.current())
	return true
}

// PublishNow publishes a heartbeat immediately and restarts the interval.
func (e *Emitter) PublishNow() error {
	e.timer.Mark()
	return e.publish(e.current())
}

// PublishOffline publishes {"online":false,"locked":false} on the status
// topic. It is the graceful counterpart of the broker's last will.
func (e *Emitter) PublishOffline() error {
	return e.publish(Status{})
}

// Interval returns the heartbeat interval.
func (e *Emitter) Interval() time.Duration {
	return e.interval
}

func (e *Emitter) current() Status {
	s := Status{Online: true}
	if e.lock != nil {
		s.Locked = e.lock.Active()
	}
	return s
}

func (e *Emitter) publish(s Status) error {
	if e.pub == nil {
		return nil
	}
	if err := e.pub.Publish(e.topic, s.Marshal(), true); err != nil {
		if e.logger != nil {
			e.logger.Warn("status publish failed", "topic", e.topic, "error", err)
		}
		return fmt.Errorf("publishing status: %w", err)
	}
	if e.logger != nil {
		e.logger.Debug("status published", "online", s.Online, "locked", s.Locked)
	}
	if e.onPublish != nil {
		e.onPublish(s)
	}
	return nil
}
