package arbitration

import (
	"errors"
	"testing"
	"time"

	"github.com/nerrad567/devicelink/internal/infrastructure/mqtt"
	"github.com/nerrad567/devicelink/internal/liveness"
)

type published struct {
	Topic    string
	Payload  string
	Retained bool
}

type recordingPublisher struct {
	messages []published
	err      error
}

func (p *recordingPublisher) Publish(topic string, payload []byte, retained bool) error {
	p.messages = append(p.messages, published{Topic: topic, Payload: string(payload), Retained: retained})
	return p.err
}

func (p *recordingPublisher) reset() { p.messages = nil }

var (
	epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ns    = mqtt.NewNamespace("robot", "Robot-1F2A3B")
)

func newTestArbiter(t *testing.T) (*Arbiter, *recordingPublisher, *liveness.ManualClock, *[]Event) {
	t.Helper()
	pub := &recordingPublisher{}
	clock := liveness.NewManualClock(epoch)
	events := &[]Event{}
	arb := New(Config{
		Namespace: ns,
		Publisher: pub,
		Clock:     clock,
		OnEvent:   func(ev Event) { *events = append(*events, ev) },
	})
	return arb, pub, clock, events
}

func assertReleaseMarkers(t *testing.T, got []published) {
	t.Helper()
	want := []published{
		{Topic: ns.Claim(), Payload: "", Retained: true},
		{Topic: ns.Acknowledge(), Payload: "", Retained: true},
	}
	if len(got) != len(want) {
		t.Fatalf("published %d messages, want %d: %+v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("message %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestNew_StartsIdle(t *testing.T) {
	arb, _, _, _ := newTestArbiter(t)

	if arb.Active() {
		t.Error("Active() = true on a new arbiter")
	}
	if arb.State() != StateIdle {
		t.Errorf("State() = %v, want idle", arb.State())
	}
	if arb.ControllerID() != "" {
		t.Errorf("ControllerID() = %q, want empty", arb.ControllerID())
	}
	if arb.Timeout() != DefaultTimeout {
		t.Errorf("Timeout() = %v, want %v", arb.Timeout(), DefaultTimeout)
	}
}

func TestClaim_GrantedWhileIdle(t *testing.T) {
	arb, pub, _, events := newTestArbiter(t)

	if !arb.HandleMessage(ns.Claim(), "ctrl-1") {
		t.Fatal("HandleMessage(claim) = false, want true")
	}

	if arb.ControllerID() != "ctrl-1" || arb.State() != StateActive {
		t.Errorf("lease = (%q, %v), want (ctrl-1, active)", arb.ControllerID(), arb.State())
	}

	want := published{Topic: ns.Acknowledge(), Payload: "true", Retained: false}
	if len(pub.messages) != 1 || pub.messages[0] != want {
		t.Errorf("published = %+v, want [%+v]", pub.messages, want)
	}

	if len(*events) != 1 || (*events)[0].Kind != EventGranted || (*events)[0].ControllerID != "ctrl-1" {
		t.Errorf("events = %+v, want one grant for ctrl-1", *events)
	}
}

func TestClaim_UsesEnvelopeSender(t *testing.T) {
	arb, _, _, _ := newTestArbiter(t)

	arb.HandleMessage(ns.Claim(), "ctrl-1:hello")
	if arb.ControllerID() != "ctrl-1" {
		t.Errorf("ControllerID() = %q, want ctrl-1", arb.ControllerID())
	}
}

func TestClaim_MalformedIgnored(t *testing.T) {
	for _, payload := range []string{"", ":content", ":"} {
		arb, pub, _, _ := newTestArbiter(t)

		if arb.HandleMessage(ns.Claim(), payload) {
			t.Errorf("HandleMessage(claim, %q) = true, want false", payload)
		}
		if arb.Active() {
			t.Errorf("claim %q activated the lease", payload)
		}
		if len(pub.messages) != 0 {
			t.Errorf("claim %q published %+v", payload, pub.messages)
		}
	}
}

func TestAtMostOneHolder(t *testing.T) {
	arb, pub, clock, _ := newTestArbiter(t)
	arb.HandleMessage(ns.Claim(), "ctrl-1")
	pub.reset()

	for _, claimant := range []string{"ctrl-2", "ctrl-3", "ctrl-1", "ctrl-2:x"} {
		clock.Advance(500 * time.Millisecond)
		if arb.HandleMessage(ns.Claim(), claimant) {
			t.Errorf("HandleMessage(claim %q) = true while active", claimant)
		}
		if arb.ControllerID() != "ctrl-1" {
			t.Fatalf("ControllerID() = %q after claim %q, want ctrl-1", arb.ControllerID(), claimant)
		}
	}

	if len(pub.messages) != 0 {
		t.Errorf("ignored claims published %+v", pub.messages)
	}
}

func TestPing(t *testing.T) {
	arb, _, clock, _ := newTestArbiter(t)

	if arb.HandleMessage(ns.Ping(), "ctrl-1") {
		t.Error("ping while idle = true, want false")
	}

	arb.HandleMessage(ns.Claim(), "ctrl-1")
	clock.Advance(4 * time.Second)

	if arb.HandleMessage(ns.Ping(), "ctrl-2") {
		t.Error("foreign ping = true, want false")
	}
	if arb.HandleMessage(ns.Ping(), "ctrl-1:extra") {
		t.Error("ping with content = true, want false")
	}
	if !arb.HandleMessage(ns.Ping(), "ctrl-1") {
		t.Fatal("holder ping = false, want true")
	}
	if got := arb.Lease().LastActivity; !got.Equal(epoch.Add(4 * time.Second)) {
		t.Errorf("LastActivity = %v, want %v", got, epoch.Add(4*time.Second))
	}

	// The ping reset the window: 4s later the lease is still alive.
	clock.Advance(4 * time.Second)
	if arb.Tick() {
		t.Error("Tick() revoked a lease refreshed 4s ago")
	}
}

func TestHandleMessage_OtherTopics(t *testing.T) {
	arb, _, _, _ := newTestArbiter(t)
	arb.HandleMessage(ns.Claim(), "ctrl-1")

	for _, topic := range []string{ns.Acknowledge(), ns.Status(), ns.Action("forward"), "robot/other/control/claim"} {
		if arb.HandleMessage(topic, "ctrl-1") {
			t.Errorf("HandleMessage(%q) = true, want false", topic)
		}
	}
}

func TestTimeoutLiveness(t *testing.T) {
	arb, pub, clock, events := newTestArbiter(t)
	arb.HandleMessage(ns.Claim(), "ctrl-1")
	pub.reset()

	clock.Advance(4999 * time.Millisecond)
	if arb.Tick() {
		t.Fatal("Tick() revoked at 4999ms")
	}

	clock.Advance(time.Millisecond)
	if !arb.Tick() {
		t.Fatal("Tick() did not revoke at 5000ms")
	}

	if arb.Active() || arb.ControllerID() != "" {
		t.Errorf("lease = (%q, %v) after timeout, want idle", arb.ControllerID(), arb.Active())
	}
	assertReleaseMarkers(t, pub.messages)

	last := (*events)[len(*events)-1]
	if last.Kind != EventReleased || last.Reason != ReasonTimeout || last.ControllerID != "ctrl-1" {
		t.Errorf("last event = %+v, want timeout release of ctrl-1", last)
	}
	if last.Held != 5*time.Second {
		t.Errorf("Held = %v, want 5s", last.Held)
	}
}

func TestRefreshByAction(t *testing.T) {
	arb, _, clock, _ := newTestArbiter(t)
	arb.HandleMessage(ns.Claim(), "ctrl-1")

	for i := 0; i < 50; i++ {
		clock.Advance(4 * time.Second)
		if arb.Tick() {
			t.Fatalf("Tick() revoked after %d action intervals", i)
		}
		if !arb.Authorize("ctrl-1:forward") {
			t.Fatalf("Authorize() = false at iteration %d", i)
		}
	}

	if arb.ControllerID() != "ctrl-1" {
		t.Errorf("ControllerID() = %q, want ctrl-1", arb.ControllerID())
	}
}

func TestAuthorize(t *testing.T) {
	arb, _, clock, _ := newTestArbiter(t)

	if arb.Authorize("ctrl-1:forward") {
		t.Error("Authorize() = true while idle")
	}

	arb.HandleMessage(ns.Claim(), "ctrl-1")
	clock.Advance(3 * time.Second)

	tests := []struct {
		payload string
		want    bool
	}{
		{"ctrl-1:forward", true},
		{"ctrl-1", true},
		{"ctrl-2:forward", false},
		{"ctrl-10:forward", false},
		{":forward", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := arb.Authorize(tt.payload); got != tt.want {
			t.Errorf("Authorize(%q) = %v, want %v", tt.payload, got, tt.want)
		}
	}

	// A rejected action must not refresh the lease.
	arb2, _, clock2, _ := newTestArbiter(t)
	arb2.HandleMessage(ns.Claim(), "ctrl-1")
	clock2.Advance(3 * time.Second)
	arb2.Authorize("ctrl-2:forward")
	clock2.Advance(2 * time.Second)
	if !arb2.Tick() {
		t.Error("foreign action refreshed the lease")
	}
}

func TestRelease_Explicit(t *testing.T) {
	arb, pub, clock, events := newTestArbiter(t)
	arb.HandleMessage(ns.Claim(), "ctrl-1")
	clock.Advance(2 * time.Second)
	pub.reset()

	arb.Release()

	if arb.Active() {
		t.Error("Active() = true after Release()")
	}
	assertReleaseMarkers(t, pub.messages)

	last := (*events)[len(*events)-1]
	if last.Reason != ReasonExplicit || last.Held != 2*time.Second {
		t.Errorf("release event = %+v, want explicit after 2s", last)
	}

	// A new claimant can take over after the release.
	if !arb.HandleMessage(ns.Claim(), "ctrl-2") {
		t.Error("claim after release = false, want true")
	}
}

func TestRelease_Idempotent(t *testing.T) {
	arb, pub, _, events := newTestArbiter(t)

	arb.Release()
	first := append([]published(nil), pub.messages...)
	pub.reset()

	arb.Release()

	assertReleaseMarkers(t, first)
	assertReleaseMarkers(t, pub.messages)
	if arb.Active() || arb.ControllerID() != "" {
		t.Error("Release() while idle changed state")
	}
	if len(*events) != 0 {
		t.Errorf("Release() while idle emitted %+v", *events)
	}
}

func TestReleaseWithReason(t *testing.T) {
	arb, _, _, events := newTestArbiter(t)
	arb.HandleMessage(ns.Claim(), "ctrl-1")

	arb.ReleaseWithReason(ReasonShutdown)

	last := (*events)[len(*events)-1]
	if last.Reason != ReasonShutdown {
		t.Errorf("Reason = %q, want %q", last.Reason, ReasonShutdown)
	}
}

func TestTick_IdleIsNoop(t *testing.T) {
	arb, pub, clock, _ := newTestArbiter(t)
	clock.Advance(time.Minute)

	if arb.Tick() {
		t.Error("Tick() = true while idle")
	}
	if len(pub.messages) != 0 {
		t.Errorf("Tick() while idle published %+v", pub.messages)
	}
}

func TestPublishErrorDoesNotBlockTransition(t *testing.T) {
	arb, pub, clock, _ := newTestArbiter(t)
	pub.err = errors.New("broker gone")

	if !arb.HandleMessage(ns.Claim(), "ctrl-1") {
		t.Fatal("claim rejected because acknowledge failed")
	}
	clock.Advance(6 * time.Second)
	if !arb.Tick() {
		t.Fatal("timeout skipped because release markers failed")
	}
	if arb.Active() {
		t.Error("Active() = true after failed release publish")
	}
}

func TestNilPublisher(t *testing.T) {
	arb := New(Config{Namespace: ns})
	arb.HandleMessage(ns.Claim(), "ctrl-1")
	arb.Release()
	if arb.Active() {
		t.Error("Active() = true after Release() without publisher")
	}
}

// TestScenario walks through the claim, rejected second claim and timeout
// sequence end to end.
func TestScenario(t *testing.T) {
	arb, pub, clock, _ := newTestArbiter(t)

	arb.HandleMessage(ns.Claim(), "ctrl-1")
	if arb.Lease().ControllerID != "ctrl-1" || !arb.Lease().Active {
		t.Fatalf("Lease() = %+v, want active ctrl-1", arb.Lease())
	}
	if pub.messages[0].Topic != ns.Acknowledge() || pub.messages[0].Payload != "true" {
		t.Fatalf("acknowledge = %+v", pub.messages[0])
	}

	clock.Advance(time.Second)
	arb.HandleMessage(ns.Claim(), "ctrl-2")
	if arb.ControllerID() != "ctrl-1" {
		t.Fatalf("ControllerID() = %q after second claim, want ctrl-1", arb.ControllerID())
	}

	// 5001ms of silence measured from the grant.
	clock.Advance(4001 * time.Millisecond)
	pub.reset()
	if !arb.Tick() {
		t.Fatal("Tick() did not revoke after 5001ms")
	}
	if arb.State() != StateIdle {
		t.Errorf("State() = %v, want idle", arb.State())
	}
	assertReleaseMarkers(t, pub.messages)
}
