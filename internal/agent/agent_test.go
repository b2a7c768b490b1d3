package agent

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/devicelink/internal/arbitration"
	"github.com/nerrad567/devicelink/internal/device"
	"github.com/nerrad567/devicelink/internal/heartbeat"
	"github.com/nerrad567/devicelink/internal/liveness"
)

type published struct {
	Topic    string
	Payload  string
	Retained bool
}

// fakeTransport records publishes and subscriptions.
type fakeTransport struct {
	mu       sync.Mutex
	messages []published
	subs     map[string]MessageSink
	subErr   error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{subs: make(map[string]MessageSink)}
}

func (f *fakeTransport) Publish(topic string, payload []byte, retained bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, published{Topic: topic, Payload: string(payload), Retained: retained})
	return nil
}

func (f *fakeTransport) Subscribe(topic string, sink MessageSink) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subErr != nil {
		return f.subErr
	}
	f.subs[topic] = sink
	return nil
}

func (f *fakeTransport) published() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]published(nil), f.messages...)
}

func (f *fakeTransport) lastOn(topic string) (published, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.messages) - 1; i >= 0; i-- {
		if f.messages[i].Topic == topic {
			return f.messages[i], true
		}
	}
	return published{}, false
}

func (f *fakeTransport) reset() {
	f.mu.Lock()
	f.messages = nil
	f.mu.Unlock()
}

type eventLog struct {
	mu     sync.Mutex
	events []arbitration.Event
}

func (l *eventLog) add(ev arbitration.Event) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

func (l *eventLog) all() []arbitration.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]arbitration.Event(nil), l.events...)
}

var testIdentity = device.Identity{
	Type:    "robot",
	ID:      "Robot-1F2A3B",
	Actions: []string{"forward", "stop"},
	Sensors: []string{"distance"},
}

type harness struct {
	agent  *Agent
	tr     *fakeTransport
	clock  *liveness.ManualClock
	events *eventLog
}

func newHarness(t *testing.T, mutate func(*Options)) *harness {
	t.Helper()
	h := &harness{
		tr:     newFakeTransport(),
		clock:  liveness.NewManualClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)),
		events: &eventLog{},
	}
	opts := Options{
		Identity:     testIdentity,
		Transport:    h.tr,
		Clock:        h.clock,
		TickInterval: 5 * time.Millisecond,
		OnLeaseEvent: h.events.add,
	}
	if mutate != nil {
		mutate(&opts)
	}
	a, err := New(opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	h.agent = a
	return h
}

func (h *harness) send(topic, payload string) {
	h.agent.process(context.Background(), inbound{topic: topic, payload: []byte(payload)})
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestNew_RequiresTransport(t *testing.T) {
	if _, err := New(Options{Identity: testIdentity}); !errors.Is(err, ErrNoTransport) {
		t.Errorf("New() error = %v, want ErrNoTransport", err)
	}
}

func TestStart_AnnouncesAndSubscribes(t *testing.T) {
	h := newHarness(t, nil)
	ns := h.agent.Namespace()

	if err := h.agent.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer h.agent.Stop()

	msgs := h.tr.published()
	if len(msgs) < 2 {
		t.Fatalf("published %d messages on start, want register and status", len(msgs))
	}
	wantRegister := published{
		Topic:    ns.Register(),
		Payload:  `{"id":"Robot-1F2A3B","type":"robot","actions":["forward","stop"],"sensors":["distance"]}`,
		Retained: true,
	}
	if msgs[0] != wantRegister {
		t.Errorf("first publish = %+v, want %+v", msgs[0], wantRegister)
	}
	wantStatus := published{Topic: ns.Status(), Payload: `{"online":true,"locked":false}`, Retained: true}
	if msgs[1] != wantStatus {
		t.Errorf("second publish = %+v, want %+v", msgs[1], wantStatus)
	}

	h.tr.mu.Lock()
	for _, topic := range ns.Subscriptions() {
		if h.tr.subs[topic] != h.agent {
			t.Errorf("not subscribed to %s", topic)
		}
	}
	h.tr.mu.Unlock()

	if err := h.agent.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start() error = %v, want ErrAlreadyStarted", err)
	}
}

func TestStart_SubscribeError(t *testing.T) {
	h := newHarness(t, nil)
	h.tr.subErr = errors.New("not connected")

	if err := h.agent.Start(context.Background()); err == nil {
		t.Fatal("Start() error = nil, want subscribe failure")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := h.agent.Release(ctx); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Release() after failed Start error = %v, want ErrNotRunning", err)
	}

	h.tr.subErr = nil
	if err := h.agent.Start(context.Background()); err != nil {
		t.Fatalf("Start() retry error = %v", err)
	}
	if err := h.agent.Release(ctx); err != nil {
		t.Errorf("Release() after retried Start error = %v", err)
	}
	h.agent.Stop()
}

func TestClaimAndActionDispatch(t *testing.T) {
	h := newHarness(t, nil)
	ns := h.agent.Namespace()

	var got []Action
	h.agent.HandleFunc("forward", func(_ context.Context, act Action) error {
		got = append(got, act)
		return nil
	})

	// Action before any claim is rejected.
	h.send(ns.Action("forward"), "ctrl-1:10")
	if len(got) != 0 {
		t.Fatal("action dispatched while idle")
	}

	h.send(ns.Claim(), "ctrl-1")
	if lease := h.agent.Lease(); !lease.Active || lease.ControllerID != "ctrl-1" {
		t.Fatalf("Lease() = %+v, want active ctrl-1", lease)
	}
	if ack, _ := h.tr.lastOn(ns.Acknowledge()); ack.Payload != "true" || ack.Retained {
		t.Errorf("acknowledge = %+v, want non-retained true", ack)
	}

	h.send(ns.Action("forward"), "ctrl-2:10")
	h.send(ns.Action("forward"), "ctrl-1:10")
	h.send(ns.Action("stop"), "ctrl-1")

	if len(got) != 1 {
		t.Fatalf("dispatched %d actions, want 1", len(got))
	}
	want := Action{Name: "forward", Sender: "ctrl-1", Content: "10"}
	if got[0].Name != want.Name || got[0].Sender != want.Sender || got[0].Content != want.Content {
		t.Errorf("action = %+v, want %+v", got[0], want)
	}
	if !got[0].Envelope.HasContent {
		t.Error("Envelope.HasContent = false")
	}
}

func TestActionRefreshesLease(t *testing.T) {
	h := newHarness(t, nil)
	ns := h.agent.Namespace()
	h.send(ns.Claim(), "ctrl-1")

	for i := 0; i < 10; i++ {
		h.clock.Advance(4 * time.Second)
		h.agent.onTick()
		h.send(ns.Action("forward"), "ctrl-1:1")
	}

	if !h.agent.Lease().Active {
		t.Error("lease expired although actions arrived every 4s")
	}
}

func TestTimeoutReleasesAndReportsUnlocked(t *testing.T) {
	h := newHarness(t, nil)
	ns := h.agent.Namespace()
	h.send(ns.Claim(), "ctrl-1")
	h.tr.reset()

	h.clock.Advance(5001 * time.Millisecond)
	h.agent.onTick()

	if h.agent.Lease().Active {
		t.Fatal("lease still active after 5001ms of silence")
	}

	msgs := h.tr.published()
	want := []published{
		{Topic: ns.Claim(), Payload: "", Retained: true},
		{Topic: ns.Acknowledge(), Payload: "", Retained: true},
		{Topic: ns.Status(), Payload: `{"online":true,"locked":false}`, Retained: true},
	}
	if len(msgs) != len(want) {
		t.Fatalf("published %+v, want %+v", msgs, want)
	}
	for i := range want {
		if msgs[i] != want[i] {
			t.Errorf("message %d = %+v, want %+v", i, msgs[i], want[i])
		}
	}

	events := h.events.all()
	last := events[len(events)-1]
	if last.Kind != arbitration.EventReleased || last.Reason != arbitration.ReasonTimeout {
		t.Errorf("last event = %+v, want timeout release", last)
	}
}

func TestHeartbeatReportsLocked(t *testing.T) {
	var statuses []heartbeat.Status
	h := newHarness(t, func(o *Options) {
		o.OnStatus = func(s heartbeat.Status) { statuses = append(statuses, s) }
	})
	ns := h.agent.Namespace()
	h.send(ns.Claim(), "ctrl-1")

	h.clock.Advance(3 * time.Second)
	h.send(ns.Ping(), "ctrl-1")
	h.clock.Advance(2 * time.Second)
	h.agent.onTick()

	if len(statuses) != 1 || statuses[0] != (heartbeat.Status{Online: true, Locked: true}) {
		t.Errorf("statuses = %+v, want one locked heartbeat", statuses)
	}
}

func TestOwnReleaseMarkerIsNotAClaim(t *testing.T) {
	h := newHarness(t, nil)
	ns := h.agent.Namespace()

	// The broker echoes the retained empty claim back to the device.
	h.send(ns.Claim(), "")
	h.send(ns.Acknowledge(), "")

	if h.agent.Lease().Active {
		t.Error("empty retained claim activated the lease")
	}
	if len(h.events.all()) != 0 {
		t.Errorf("events = %+v, want none", h.events.all())
	}
}

func TestOnMessage_DropsWhenFull(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.InboxSize = 1 })
	ns := h.agent.Namespace()

	h.agent.OnMessage(ns.Claim(), []byte("ctrl-1"))
	h.agent.OnMessage(ns.Claim(), []byte("ctrl-2"))
	h.agent.OnMessage(ns.Ping(), []byte("ctrl-1"))

	if got := h.agent.Dropped(); got != 2 {
		t.Errorf("Dropped() = %d, want 2", got)
	}

	msg := <-h.agent.inbox
	if string(msg.payload) != "ctrl-1" {
		t.Errorf("queued payload = %q, want the first message", msg.payload)
	}
}

func TestOnMessage_CopiesPayload(t *testing.T) {
	h := newHarness(t, nil)

	buf := []byte("ctrl-1")
	h.agent.OnMessage(h.agent.Namespace().Claim(), buf)
	copy(buf, "xxxxxx")

	msg := <-h.agent.inbox
	if string(msg.payload) != "ctrl-1" {
		t.Errorf("payload = %q, want ctrl-1", msg.payload)
	}
}

func TestHandlerFailures(t *testing.T) {
	h := newHarness(t, nil)
	ns := h.agent.Namespace()
	h.send(ns.Claim(), "ctrl-1")

	h.agent.HandleFunc("forward", func(context.Context, Action) error {
		return errors.New("motor stalled")
	})
	h.agent.HandleFunc("stop", func(context.Context, Action) error {
		panic("boom")
	})

	h.send(ns.Action("forward"), "ctrl-1:1")
	h.send(ns.Action("stop"), "ctrl-1")

	if !h.agent.Lease().Active {
		t.Error("handler failure affected the lease")
	}
}

func TestPublishSensor(t *testing.T) {
	h := newHarness(t, nil)
	ns := h.agent.Namespace()

	if err := h.agent.PublishSensor("distance", []byte("42")); err != nil {
		t.Fatalf("PublishSensor() error = %v", err)
	}
	got, ok := h.tr.lastOn(ns.Sensor("distance"))
	if !ok || got.Payload != "42" || got.Retained {
		t.Errorf("sensor publish = %+v", got)
	}

	if err := h.agent.PublishSensor("humidity", []byte("1")); !errors.Is(err, ErrUnknownSensor) {
		t.Errorf("PublishSensor(unknown) error = %v, want ErrUnknownSensor", err)
	}
}

func TestRelease_NotRunning(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.agent.Release(context.Background()); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Release() error = %v, want ErrNotRunning", err)
	}
	h.agent.Stop()
}

func TestLoop_EndToEnd(t *testing.T) {
	h := newHarness(t, nil)
	ns := h.agent.Namespace()

	if err := h.agent.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	h.tr.mu.Lock()
	sink := h.tr.subs[ns.AllControl()]
	h.tr.mu.Unlock()

	sink.OnMessage(ns.Claim(), []byte("ctrl-1"))
	waitFor(t, "grant", func() bool { return h.agent.Lease().ControllerID == "ctrl-1" })

	if err := h.agent.Release(context.Background()); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if h.agent.Lease().Active {
		t.Fatal("lease active after Release()")
	}

	sink.OnMessage(ns.Claim(), []byte("ctrl-2"))
	waitFor(t, "second grant", func() bool { return h.agent.Lease().ControllerID == "ctrl-2" })

	h.tr.reset()
	h.agent.Reconnected()
	waitFor(t, "re-announcement", func() bool {
		_, ok := h.tr.lastOn(ns.Register())
		return ok
	})
	if st, _ := h.tr.lastOn(ns.Status()); st.Payload != `{"online":true,"locked":true}` {
		t.Errorf("status after reconnect = %q, want locked", st.Payload)
	}

	h.agent.Stop()
	h.agent.Stop()

	events := h.events.all()
	last := events[len(events)-1]
	if last.Kind != arbitration.EventReleased || last.Reason != arbitration.ReasonShutdown || last.ControllerID != "ctrl-2" {
		t.Errorf("last event = %+v, want shutdown release of ctrl-2", last)
	}
	if st, _ := h.tr.lastOn(ns.Status()); st.Payload != `{"online":false,"locked":false}` || !st.Retained {
		t.Errorf("final status = %+v, want retained offline", st)
	}

	if err := h.agent.Release(context.Background()); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Release() after Stop error = %v, want ErrNotRunning", err)
	}
}

func TestLoop_ContextCancel(t *testing.T) {
	h := newHarness(t, nil)
	ctx, cancel := context.WithCancel(context.Background())

	if err := h.agent.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	cancel()

	waitFor(t, "offline status", func() bool {
		st, _ := h.tr.lastOn(h.agent.Namespace().Status())
		return st.Payload == `{"online":false,"locked":false}`
	})
	h.agent.Stop()
}
