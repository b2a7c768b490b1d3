package heartbeat

import (
	"errors"
	"testing"
	"time"

	"github.com/nerrad567/devicelink/internal/liveness"
)

type message struct {
	Topic    string
	Payload  string
	Retained bool
}

type recordingPublisher struct {
	messages []message
	err      error
}

func (p *recordingPublisher) Publish(topic string, payload []byte, retained bool) error {
	p.messages = append(p.messages, message{Topic: topic, Payload: string(payload), Retained: retained})
	return p.err
}

type fakeLock struct{ active bool }

func (l *fakeLock) Active() bool { return l.active }

const statusTopic = "robot/Robot-1F2A3B/status"

func newTestEmitter() (*Emitter, *recordingPublisher, *liveness.ManualClock, *fakeLock) {
	pub := &recordingPublisher{}
	clock := liveness.NewManualClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	lock := &fakeLock{}
	e := New(Config{
		Topic:     statusTopic,
		Publisher: pub,
		Lock:      lock,
		Clock:     clock,
	})
	return e, pub, clock, lock
}

func TestStatusMarshal(t *testing.T) {
	tests := []struct {
		status Status
		want   string
	}{
		{Status{Online: true, Locked: false}, `{"online":true,"locked":false}`},
		{Status{Online: true, Locked: true}, `{"online":true,"locked":true}`},
		{Status{}, `{"online":false,"locked":false}`},
	}
	for _, tt := range tests {
		if got := string(tt.status.Marshal()); got != tt.want {
			t.Errorf("Marshal(%+v) = %s, want %s", tt.status, got, tt.want)
		}
	}
}

func TestParseStatus(t *testing.T) {
	s, err := ParseStatus([]byte(`{"online":false}`))
	if err != nil {
		t.Fatalf("ParseStatus() error = %v", err)
	}
	if s.Online || s.Locked {
		t.Errorf("ParseStatus(lwt) = %+v, want offline", s)
	}

	if _, err := ParseStatus([]byte("not json")); err == nil {
		t.Error("ParseStatus(garbage) error = nil")
	}
}

func TestTick_Interval(t *testing.T) {
	e, pub, clock, _ := newTestEmitter()

	if e.Tick() {
		t.Fatal("Tick() published before the first interval")
	}

	clock.Advance(4999 * time.Millisecond)
	if e.Tick() {
		t.Fatal("Tick() published at 4999ms")
	}

	clock.Advance(time.Millisecond)
	if !e.Tick() {
		t.Fatal("Tick() did not publish at 5000ms")
	}
	if e.Tick() {
		t.Fatal("Tick() published twice in the same instant")
	}

	want := message{Topic: statusTopic, Payload: `{"online":true,"locked":false}`, Retained: true}
	if len(pub.messages) != 1 || pub.messages[0] != want {
		t.Errorf("published = %+v, want [%+v]", pub.messages, want)
	}
}

func TestTick_ReflectsLock(t *testing.T) {
	e, pub, clock, lock := newTestEmitter()

	lock.active = true
	clock.Advance(5 * time.Second)
	e.Tick()

	lock.active = false
	clock.Advance(5 * time.Second)
	e.Tick()

	if len(pub.messages) != 2 {
		t.Fatalf("published %d messages, want 2", len(pub.messages))
	}
	if pub.messages[0].Payload != `{"online":true,"locked":true}` {
		t.Errorf("first heartbeat = %s", pub.messages[0].Payload)
	}
	if pub.messages[1].Payload != `{"online":true,"locked":false}` {
		t.Errorf("second heartbeat = %s", pub.messages[1].Payload)
	}
}

func TestTick_CoarseTicks(t *testing.T) {
	e, pub, clock, _ := newTestEmitter()

	// One heartbeat per elapsed interval even when ticks are late.
	for i := 0; i < 10; i++ {
		clock.Advance(7 * time.Second)
		e.Tick()
	}
	if len(pub.messages) != 10 {
		t.Errorf("published %d heartbeats, want 10", len(pub.messages))
	}
}

func TestPublishNow_RestartsInterval(t *testing.T) {
	e, pub, clock, _ := newTestEmitter()

	clock.Advance(4 * time.Second)
	if err := e.PublishNow(); err != nil {
		t.Fatalf("PublishNow() error = %v", err)
	}

	clock.Advance(4 * time.Second)
	if e.Tick() {
		t.Error("Tick() published 4s after PublishNow")
	}
	clock.Advance(time.Second)
	if !e.Tick() {
		t.Error("Tick() did not publish 5s after PublishNow")
	}
	if len(pub.messages) != 2 {
		t.Errorf("published %d messages, want 2", len(pub.messages))
	}
}

func TestPublishOffline(t *testing.T) {
	e, pub, _, lock := newTestEmitter()
	lock.active = true

	if err := e.PublishOffline(); err != nil {
		t.Fatalf("PublishOffline() error = %v", err)
	}
	want := message{Topic: statusTopic, Payload: `{"online":false,"locked":false}`, Retained: true}
	if len(pub.messages) != 1 || pub.messages[0] != want {
		t.Errorf("published = %+v, want [%+v]", pub.messages, want)
	}
}

func TestPublishError(t *testing.T) {
	e, pub, _, _ := newTestEmitter()
	pub.err = errors.New("not connected")

	var called bool
	e.onPublish = func(Status) { called = true }

	if err := e.PublishNow(); err == nil {
		t.Error("PublishNow() error = nil, want error")
	}
	if called {
		t.Error("OnPublish called for a failed publish")
	}
}

func TestOnPublish(t *testing.T) {
	var got []Status
	clock := liveness.NewManualClock(time.Unix(0, 0))
	e := New(Config{
		Topic:     statusTopic,
		Publisher: &recordingPublisher{},
		Lock:      &fakeLock{active: true},
		Clock:     clock,
		Interval:  time.Second,
		OnPublish: func(s Status) { got = append(got, s) },
	})

	clock.Advance(time.Second)
	e.Tick()

	if len(got) != 1 || got[0] != (Status{Online: true, Locked: true}) {
		t.Errorf("OnPublish saw %+v", got)
	}
	if e.Interval() != time.Second {
		t.Errorf("Interval() = %v, want 1s", e.Interval())
	}
}
