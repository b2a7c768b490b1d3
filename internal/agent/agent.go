package agent

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/devicelink/internal/arbitration"
	"github.com/nerrad567/devicelink/internal/device"
	"github.com/nerrad567/devicelink/internal/envelope"
	"github.com/nerrad567/devicelink/internal/heartbeat"
	"github.com/nerrad567/devicelink/internal/infrastructure/logging"
	"github.com/nerrad567/devicelink/internal/infrastructure/mqtt"
	"github.com/nerrad567/devicelink/internal/liveness"
)

// Defaults applied by New for zero Options fields.
const (
	DefaultTickInterval = 100 * time.Millisecond
	DefaultInboxSize    = 64
)

// requestTimeout bounds how long Release waits for the loop.
const requestTimeout = 5 * time.Second

// MessageSink receives inbound messages from the transport.
type MessageSink interface {
	OnMessage(topic string, payload []byte)
}

// Transport is the broker connection used by the agent.
type Transport interface {
	Publish(topic string, payload []byte, retained bool) error
	Subscribe(topic string, sink MessageSink) error
}

// Options configures an Agent.
type Options struct {
	Identity  device.Identity
	Transport Transport

	// Clock defaults to liveness.SystemClock.
	Clock liveness.Clock

	// LeaseTimeout defaults to arbitration.DefaultTimeout.
	LeaseTimeout time.Duration

	// HeartbeatInterval defaults to heartbeat.DefaultInterval.
	HeartbeatInterval time.Duration

	// TickInterval defaults to DefaultTickInterval.
	TickInterval time.Duration

	// InboxSize defaults to DefaultInboxSize.
	InboxSize int

	// Logger defaults to a discarding logger.
	Logger *logging.Logger

	// OnLeaseEvent is called on the loop goroutine for every grant and release.
	OnLeaseEvent func(arbitration.Event)

	// OnStatus is called on the loop goroutine after every status publish.
	OnStatus func(heartbeat.Status)
}

type inbound struct {
	topic   string
	payload []byte
}

type requestKind int

const (
	requestRelease requestKind = iota
	requestReconnected
)

type request struct {
	kind requestKind
	done chan struct{}
}

// Agent runs the arbitration protocol for one device.
//
// Thread Safety:
//   - OnMessage, Reconnected, Release, PublishSensor, Lease, Dropped and
//     Handle are safe for concurrent use.
//   - The Arbiter and heartbeat Emitter are only touched by the loop goroutine.
type Agent struct {
	identity device.Identity
	ns       mqtt.Namespace
	tr       Transport
	log      *logging.Logger
	tick     time.Duration

	arbiter *arbitration.Arbiter
	emitter *heartbeat.Emitter

	handlers   map[string]ActionHandler
	handlersMu sync.RWMutex

	inbox    chan inbound
	requests chan request
	dropped  atomic.Uint64
	lease    atomic.Pointer[arbitration.Lease]

	started  atomic.Bool
	done     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New builds an Agent. It does not touch the transport until Start.
func New(opts Options) (*Agent, error) {
	if opts.Transport == nil {
		return nil, ErrNoTransport
	}

	log := opts.Logger
	if log == nil {
		log = logging.Discard()
	}
	log = log.Component("agent").With("device_id", opts.Identity.ID)

	tick := opts.TickInterval
	if tick <= 0 {
		tick = DefaultTickInterval
	}
	inboxSize := opts.InboxSize
	if inboxSize <= 0 {
		inboxSize = DefaultInboxSize
	}

	ns := mqtt.NewNamespace(opts.Identity.Type, opts.Identity.ID)

	a := &Agent{
		identity: opts.Identity,
		ns:       ns,
		tr:       opts.Transport,
		log:      log,
		tick:     tick,
		handlers: make(map[string]ActionHandler),
		inbox:    make(chan inbound, inboxSize),
		requests: make(chan request, 4),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}

	a.arbiter = arbitration.New(arbitration.Config{
		Namespace: ns,
		Publisher: opts.Transport,
		Clock:     opts.Clock,
		Timeout:   opts.LeaseTimeout,
		Logger:    log,
		OnEvent:   opts.OnLeaseEvent,
	})
	a.emitter = heartbeat.New(heartbeat.Config{
		Topic:     ns.Status(),
		Publisher: opts.Transport,
		Lock:      a.arbiter,
		Clock:     opts.Clock,
		Interval:  opts.HeartbeatInterval,
		Logger:    log,
		OnPublish: opts.OnStatus,
	})
	a.snapshot()

	return a, nil
}

// Namespace returns the device's topic namespace.
func (a *Agent) Namespace() mqtt.Namespace {
	return a.ns
}

// Handle registers the handler for an action. A later registration for the
// same name replaces the earlier one.
func (a *Agent) Handle(name string, h ActionHandler) {
	if !a.identity.HasAction(name) {
		a.log.Warn("handler registered for undeclared action", "action", name)
	}
	a.handlersMu.Lock()
	a.handlers[name] = h
	a.handlersMu.Unlock()
}

// HandleFunc registers a function as the handler for an action.
func (a *Agent) HandleFunc(name string, f func(ctx context.Context, act Action) error) {
	a.Handle(name, ActionHandlerFunc(f))
}

// Start announces the device and starts the loop.
//
// It publishes the retained capability document and an online status,
// subscribes to the device's control, ping and action topics, and then
// runs the loop until ctx is cancelled or Stop is called.
func (a *Agent) Start(ctx context.Context) error {
	if !a.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	// The loop is not running yet, so the arbiter and emitter are ours.
	a.announce()

	for _, topic := range a.ns.Subscriptions() {
		if err := a.tr.Subscribe(topic, a); err != nil {
			// No loop is running; Release must report ErrNotRunning and a
			// later Start may try again.
			a.started.Store(false)
			return fmt.Errorf("subscribing to %s: %w", topic, err)
		}
	}

	a.wg.Add(1)
	go a.run(ctx)

	a.log.Info("agent started",
		"prefix", a.ns.Prefix(),
		"actions", a.identity.Actions,
		"lease_timeout", a.arbiter.Timeout(),
	)
	return nil
}

// Stop stops the loop, releases an active lease and publishes the offline
// status. It is safe to call more than once and before Start.
func (a *Agent) Stop() {
	a.stopOnce.Do(func() {
		close(a.done)
	})
	a.wg.Wait()
}

// OnMessage implements MessageSink. It never blocks: when the inbox is
// full the message is dropped.
func (a *Agent) OnMessage(topic string, payload []byte) {
	msg := inbound{topic: topic, payload: slices.Clone(payload)}
	select {
	case a.inbox <- msg:
	default:
		n := a.dropped.Add(1)
		a.log.Warn("inbox full, message dropped", "topic", topic, "dropped_total", n)
	}
}

// Reconnected asks the loop to re-announce the device after the transport
// has reconnected. It does not wait.
func (a *Agent) Reconnected() {
	select {
	case a.requests <- request{kind: requestReconnected}:
	default:
		a.log.Warn("reconnect announcement skipped, request queue full")
	}
}

// Release ends the current lease with reason "explicit" and waits for the
// loop to process it. While Idle it republishes the release markers.
func (a *Agent) Release(ctx context.Context) error {
	if !a.started.Load() {
		return ErrNotRunning
	}
	req := request{kind: requestRelease, done: make(chan struct{})}

	timer := time.NewTimer(requestTimeout)
	defer timer.Stop()

	select {
	case a.requests <- req:
	case <-a.stopped:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("release: %w", context.DeadlineExceeded)
	}

	select {
	case <-req.done:
		return nil
	case <-a.stopped:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("release: %w", context.DeadlineExceeded)
	}
}

// PublishSensor publishes a non-retained reading on sensor/<name>.
func (a *Agent) PublishSensor(name string, payload []byte) error {
	if !slices.Contains(a.identity.Sensors, name) {
		return fmt.Errorf("%w: %s", ErrUnknownSensor, name)
	}
	if err := a.tr.Publish(a.ns.Sensor(name), payload, false); err != nil {
		return fmt.Errorf("publishing sensor %s: %w", name, err)
	}
	return nil
}

// Lease returns the lease as of the loop's last iteration.
func (a *Agent) Lease() arbitration.Lease {
	return *a.lease.Load()
}

// Dropped returns how many inbound messages were dropped on a full inbox.
func (a *Agent) Dropped() uint64 {
	return a.dropped.Load()
}

func (a *Agent) run(ctx context.Context) {
	defer a.wg.Done()
	defer close(a.stopped)

	ticker := time.NewTicker(a.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.shutdown()
			return
		case <-a.done:
			a.shutdown()
			return
		case msg := <-a.inbox:
			a.process(ctx, msg)
		case req := <-a.requests:
			a.handleRequest(req)
		case <-ticker.C:
			a.onTick()
		}
	}
}

// process routes one inbound message.
func (a *Agent) process(ctx context.Context, msg inbound) {
	defer a.snapshot()

	kind, name := a.ns.Classify(msg.topic)
	switch kind {
	case mqtt.KindClaim, mqtt.KindPing:
		if a.arbiter.HandleMessage(msg.topic, string(msg.payload)) {
			a.log.Debug("connection message handled", "kind", kind.String())
		}
	case mqtt.KindAction:
		a.dispatch(ctx, name, string(msg.payload))
	default:
		// control/acknowledge and anything else under our filters.
	}
}

// dispatch delivers an action from the lease holder to its handler.
func (a *Agent) dispatch(ctx context.Context, name, payload string) {
	env := envelope.Parse(payload)
	if !a.arbiter.Authorize(payload) {
		a.log.Debug("action rejected: sender does not hold the lease",
			"action", name,
			"sender", env.Sender,
		)
		return
	}

	a.handlersMu.RLock()
	h := a.handlers[name]
	a.handlersMu.RUnlock()
	if h == nil {
		a.log.Debug("no handler for action", "action", name)
		return
	}

	act := Action{
		Name:     name,
		Sender:   env.Sender,
		Content:  env.Content,
		Envelope: env,
	}

	defer func() {
		if r := recover(); r != nil {
			a.log.Error("action handler panic recovered", "action", name, "panic", r)
		}
	}()
	if err := h.HandleAction(ctx, act); err != nil {
		a.log.Warn("action handler failed", "action", name, "error", err)
	}
}

func (a *Agent) handleRequest(req request) {
	switch req.kind {
	case requestRelease:
		a.arbiter.Release()
		a.snapshot()
	case requestReconnected:
		a.log.Info("transport reconnected, re-announcing")
		a.announce()
	}
	if req.done != nil {
		close(req.done)
	}
}

func (a *Agent) onTick() {
	a.arbiter.Tick()
	a.emitter.Tick()
	a.snapshot()
}

// announce publishes the capability document and the current status.
func (a *Agent) announce() {
	if err := a.publishRegister(); err != nil {
		a.log.Warn("capability registration failed", "error", err)
	}
	// Failures are logged by the emitter.
	_ = a.emitter.PublishNow()
}

func (a *Agent) publishRegister() error {
	doc, err := a.identity.MarshalCapabilities()
	if err != nil {
		return err
	}
	if err := a.tr.Publish(a.ns.Register(), doc, true); err != nil {
		return fmt.Errorf("publishing register: %w", err)
	}
	return nil
}

// shutdown releases an active lease and announces the graceful offline status.
func (a *Agent) shutdown() {
	if a.arbiter.Active() {
		a.arbiter.ReleaseWithReason(arbitration.ReasonShutdown)
	}
	_ = a.emitter.PublishOffline()
	a.snapshot()
	a.log.Info("agent stopped", "dropped_messages", a.dropped.Load())
}

func (a *Agent) snapshot() {
	l := a.arbiter.Lease()
	a.lease.Store(&l)
}
