package engine

import (
	"testing"
	"time"

	"github.com/avwatch/cecaudio/internal/cec"
)

func testConfig() Config {
	return Config{
		ConsoleAddresses:     []uint8{0x4, 0x8, 0xB},
		PendingTimeout:       500 * time.Millisecond,
		MinInjectionInterval: 3 * time.Second,
		InjectCommand:        "tx 15:70:00:00",
	}
}

func activeSource(la uint8, phys string) cec.Event {
	return cec.Event{Type: cec.EventActiveSource, Source: la, PhysicalAddress: phys}
}

func audioModeOn() cec.Event {
	return cec.Event{Type: cec.EventSystemAudioModeOn, Source: 0x5}
}

// TestInjectAfterTimeout covers the main path: a console activates, the
// amplifier stays quiet, and the engine injects at the deadline.
func TestInjectAfterTimeout(t *testing.T) {
	e := New(testConfig())
	t0 := time.Unix(1000, 0)

	d := e.HandleEvent(activeSource(0x4, "10:00"), t0)
	if d.Kind != DecisionArmed {
		t.Fatalf("expected armed, got %s", d.Kind)
	}
	if !e.Awaiting() {
		t.Fatal("expected a pending confirmation")
	}

	// Before the deadline: nothing fires.
	if d := e.Tick(t0.Add(400 * time.Millisecond)); d.Kind != DecisionNone {
		t.Fatalf("before deadline: expected none, got %s", d.Kind)
	}

	d = e.Tick(t0.Add(500 * time.Millisecond))
	if d.Kind != DecisionInject {
		t.Fatalf("at deadline: expected inject, got %s", d.Kind)
	}
	if d.Command != "tx 15:70:00:00" {
		t.Errorf("expected command 'tx 15:70:00:00', got %q", d.Command)
	}
	if d.Console != 0x4 || d.PhysicalAddress != "10:00" {
		t.Errorf("decision should carry the activation: %+v", d)
	}
	if e.Awaiting() {
		t.Error("pending slot should be cleared after injection")
	}
}

// TestSatisfiedNaturally covers the round-trip: a confirmation before
// the deadline clears the pending slot with zero injections.
func TestSatisfiedNaturally(t *testing.T) {
	e := New(testConfig())
	t0 := time.Unix(1000, 0)

	e.HandleEvent(activeSource(0x4, "10:00"), t0)

	d := e.HandleEvent(audioModeOn(), t0.Add(200*time.Millisecond))
	if d.Kind != DecisionSatisfied {
		t.Fatalf("expected satisfied, got %s", d.Kind)
	}
	if e.Awaiting() {
		t.Fatal("expected idle state")
	}

	// The old deadline must not fire later.
	if d := e.Tick(t0.Add(time.Hour)); d.Kind != DecisionNone {
		t.Errorf("expected none after satisfaction, got %s", d.Kind)
	}
}

// TestAudioModeOnWhileIdle verifies a confirmation with no pending
// entry is a no-op.
func TestAudioModeOnWhileIdle(t *testing.T) {
	e := New(testConfig())

	if d := e.HandleEvent(audioModeOn(), time.Unix(1000, 0)); d.Kind != DecisionNone {
		t.Errorf("expected none, got %s", d.Kind)
	}
}

// TestNonConsoleIgnored verifies an activation from outside the console
// set never creates a pending confirmation.
func TestNonConsoleIgnored(t *testing.T) {
	e := New(testConfig())
	t0 := time.Unix(1000, 0)

	d := e.HandleEvent(activeSource(0x0, "00:00"), t0) // the TV
	if d.Kind != DecisionIgnored {
		t.Fatalf("expected ignored, got %s", d.Kind)
	}
	if e.Awaiting() {
		t.Fatal("non-console activation must not arm the engine")
	}
	if d := e.Tick(t0.Add(time.Hour)); d.Kind != DecisionNone {
		t.Errorf("expected none, got %s", d.Kind)
	}
}

// TestNewestActivationWins verifies a second console activation
// replaces the first: one pending entry, at most one injection.
func TestNewestActivationWins(t *testing.T) {
	e := New(testConfig())
	t0 := time.Unix(1000, 0)

	e.HandleEvent(activeSource(0x4, "10:00"), t0)
	d := e.HandleEvent(activeSource(0x8, "20:00"), t0.Add(200*time.Millisecond))
	if d.Kind != DecisionArmed {
		t.Fatalf("expected armed, got %s", d.Kind)
	}

	// The first console's deadline (t0+500ms) must not fire; the
	// replacement's deadline is t0+700ms.
	if d := e.Tick(t0.Add(600 * time.Millisecond)); d.Kind != DecisionNone {
		t.Fatalf("superseded deadline fired: %s", d.Kind)
	}

	d = e.Tick(t0.Add(700 * time.Millisecond))
	if d.Kind != DecisionInject {
		t.Fatalf("expected inject, got %s", d.Kind)
	}
	if d.Console != 0x8 || d.PhysicalAddress != "20:00" {
		t.Errorf("injection should be for the newest activation: %+v", d)
	}

	// Exactly one injection: nothing left afterwards.
	if d := e.Tick(t0.Add(time.Hour)); d.Kind != DecisionNone {
		t.Errorf("expected none, got %s", d.Kind)
	}
}

// TestRateLimitSkips covers Scenario C: a second qualifying timeout
// inside the min-injection window is dropped and the pending slot is
// cleared, not queued for retry.
func TestRateLimitSkips(t *testing.T) {
	e := New(testConfig())
	t0 := time.Unix(1000, 0)

	// First injection at t0+0.5s.
	e.HandleEvent(activeSource(0x4, "10:00"), t0)
	if d := e.Tick(t0.Add(500 * time.Millisecond)); d.Kind != DecisionInject {
		t.Fatalf("expected inject, got %s", d.Kind)
	}

	// Console 8 activates at t0+0.6s; its deadline at t0+1.1s falls
	// inside the 3s window since the injection at t0+0.5s.
	e.HandleEvent(activeSource(0x8, "20:00"), t0.Add(600*time.Millisecond))
	d := e.Tick(t0.Add(1100 * time.Millisecond))
	if d.Kind != DecisionRateLimited {
		t.Fatalf("expected rate_limited, got %s", d.Kind)
	}
	if e.Awaiting() {
		t.Error("rate-limited timeout must still clear the pending slot")
	}

	// The swallowed activation does not come back after the window.
	if d := e.Tick(t0.Add(10 * time.Second)); d.Kind != DecisionNone {
		t.Errorf("expected none, got %s", d.Kind)
	}
}

// TestRateLimitWindowElapsed verifies injections are allowed again once
// the window has passed.
func TestRateLimitWindowElapsed(t *testing.T) {
	e := New(testConfig())
	t0 := time.Unix(1000, 0)

	e.HandleEvent(activeSource(0x4, "10:00"), t0)
	if d := e.Tick(t0.Add(500 * time.Millisecond)); d.Kind != DecisionInject {
		t.Fatalf("expected first inject, got %s", d.Kind)
	}

	// Next activation well past the window.
	t1 := t0.Add(10 * time.Second)
	e.HandleEvent(activeSource(0xB, "30:00"), t1)
	if d := e.Tick(t1.Add(500 * time.Millisecond)); d.Kind != DecisionInject {
		t.Fatalf("expected second inject, got %s", d.Kind)
	}
}

// TestFirstInjectionNeverRateLimited verifies the zero "never injected"
// clock does not suppress the first injection.
func TestFirstInjectionNeverRateLimited(t *testing.T) {
	e := New(testConfig())
	// Deliberately early wall time: a naive "time since zero" check
	// would misbehave here.
	t0 := time.Unix(1, 0)

	e.HandleEvent(activeSource(0x4, "10:00"), t0)
	if d := e.Tick(t0.Add(500 * time.Millisecond)); d.Kind != DecisionInject {
		t.Fatalf("expected inject, got %s", d.Kind)
	}
}

// TestTickWhileIdle verifies time advancing in the idle state is a no-op.
func TestTickWhileIdle(t *testing.T) {
	e := New(testConfig())
	for i := 0; i < 5; i++ {
		if d := e.Tick(time.Unix(int64(1000+i), 0)); d.Kind != DecisionNone {
			t.Fatalf("tick %d: expected none, got %s", i, d.Kind)
		}
	}
}

// TestIrrelevantEventIsNoOp verifies irrelevant frames change nothing
// in either state.
func TestIrrelevantEventIsNoOp(t *testing.T) {
	e := New(testConfig())
	t0 := time.Unix(1000, 0)
	irrelevant := cec.Event{Type: cec.EventIrrelevant}

	if d := e.HandleEvent(irrelevant, t0); d.Kind != DecisionNone {
		t.Fatalf("idle: expected none, got %s", d.Kind)
	}

	e.HandleEvent(activeSource(0x4, "10:00"), t0)
	if d := e.HandleEvent(irrelevant, t0.Add(100*time.Millisecond)); d.Kind != DecisionNone {
		t.Fatalf("awaiting: expected none, got %s", d.Kind)
	}
	if !e.Awaiting() {
		t.Error("irrelevant event must not clear the pending slot")
	}
}
