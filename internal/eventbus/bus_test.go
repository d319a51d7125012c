package eventbus

import (
	"testing"
	"time"

	"github.com/avwatch/cecaudio/internal/engine"
)

// TestBasicPublishSubscribe verifies a sink receives published records.
func TestBasicPublishSubscribe(t *testing.T) {
	bus := New()
	defer bus.Close()

	ch := make(chan Observation, 10)
	if err := bus.Subscribe("capture", ch); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	obs := Observation{Seq: 1, TraceID: "t-1", Decision: engine.Decision{Kind: engine.DecisionArmed}}
	bus.Publish(obs)

	select {
	case got := <-ch:
		if got.Seq != 1 || got.TraceID != "t-1" || got.Decision.Kind != engine.DecisionArmed {
			t.Errorf("unexpected observation: %+v", got)
		}
	case <-time.After(1 * time.Second):
		t.Fatal("timeout waiting for observation")
	}
}

// TestNonBlockingPublish verifies Publish never blocks on a full sink.
func TestNonBlockingPublish(t *testing.T) {
	bus := New()
	defer bus.Close()

	ch := make(chan Observation, 1)
	bus.Subscribe("slow", ch)

	done := make(chan bool)
	go func() {
		bus.Publish(Observation{Seq: 1})
		bus.Publish(Observation{Seq: 2}) // buffer full, must drop
		done <- true
	}()

	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("Publish blocked (should be non-blocking)")
	}

	if got := <-ch; got.Seq != 1 {
		t.Errorf("expected seq 1, got %d", got.Seq)
	}

	stats := bus.Stats()
	sub := stats.Subscribers["slow"]
	if sub.Sent != 1 || sub.Dropped != 1 {
		t.Errorf("expected 1 sent / 1 dropped, got %d / %d", sub.Sent, sub.Dropped)
	}
}

// TestStatsConservation verifies sent + dropped accounts for every
// publish across all sinks.
func TestStatsConservation(t *testing.T) {
	bus := New()
	defer bus.Close()

	wide := make(chan Observation, 10)
	narrow := make(chan Observation, 1)
	bus.Subscribe("wide", wide)
	bus.Subscribe("narrow", narrow)

	for i := uint64(1); i <= 5; i++ {
		bus.Publish(Observation{Seq: i})
	}

	stats := bus.Stats()
	if stats.Published != 5 {
		t.Errorf("expected 5 published, got %d", stats.Published)
	}

	var total uint64
	for _, sub := range stats.Subscribers {
		total += sub.Sent + sub.Dropped
	}
	if want := stats.Published * 2; total != want {
		t.Errorf("conservation violated: %d sent+dropped, expected %d", total, want)
	}
	if stats.Subscribers["wide"].Sent != 5 {
		t.Errorf("wide sink should get all 5, got %d", stats.Subscribers["wide"].Sent)
	}
}

// TestDuplicateSubscriber verifies subscriber ids are unique.
func TestDuplicateSubscriber(t *testing.T) {
	bus := New()
	defer bus.Close()

	ch := make(chan Observation, 1)
	if err := bus.Subscribe("x", ch); err != nil {
		t.Fatal(err)
	}
	if err := bus.Subscribe("x", make(chan Observation, 1)); err != ErrSubscriberExists {
		t.Errorf("expected ErrSubscriberExists, got %v", err)
	}
	if err := bus.Subscribe("nil", nil); err != ErrNilChannel {
		t.Errorf("expected ErrNilChannel, got %v", err)
	}
}

// TestCloseDrainsSinks verifies Close closes sink channels and later
// publishes are ignored.
func TestCloseDrainsSinks(t *testing.T) {
	bus := New()
	ch := make(chan Observation, 1)
	bus.Subscribe("sink", ch)

	bus.Close()

	if _, open := <-ch; open {
		t.Error("sink channel should be closed")
	}

	bus.Publish(Observation{Seq: 1}) // must not panic
	if err := bus.Subscribe("late", make(chan Observation, 1)); err != ErrBusClosed {
		t.Errorf("expected ErrBusClosed, got %v", err)
	}
}
