// Package engine holds the injection decision state machine: one
// pending-confirmation slot, one rate-limit clock, no I/O.
//
// The engine is driven by exactly one goroutine (the watch loop) and
// takes the current time as an explicit argument on every step, so it
// is deterministic under test. It emits at most one decision per step;
// acting on a decision (writing to the bus, logging, telemetry) is the
// caller's job.
package engine

import (
	"log/slog"
	"time"

	"github.com/avwatch/cecaudio/internal/cec"
)

// Config contains the engine's immutable tuning.
type Config struct {
	// ConsoleAddresses are the logical addresses treated as playback
	// devices whose activations we guard.
	ConsoleAddresses []uint8
	// PendingTimeout is how long to wait for the amplifier to confirm
	// on its own before injecting.
	PendingTimeout time.Duration
	// MinInjectionInterval is the minimum gap between injections.
	// Qualifying timeouts inside the window are dropped, not queued.
	MinInjectionInterval time.Duration
	// InjectCommand is the literal command written to the bus on a
	// qualifying timeout.
	InjectCommand string
}

// DecisionKind says what, if anything, a processing step decided.
type DecisionKind int

const (
	// DecisionNone: nothing to do this step.
	DecisionNone DecisionKind = iota
	// DecisionArmed: a pending confirmation was created or replaced.
	DecisionArmed
	// DecisionSatisfied: the amplifier confirmed before the deadline.
	DecisionSatisfied
	// DecisionIgnored: an activation from a non-console address.
	DecisionIgnored
	// DecisionInject: the deadline passed unconfirmed; write the command.
	DecisionInject
	// DecisionRateLimited: the deadline passed but a recent injection
	// suppressed this one. The pending slot is cleared anyway.
	DecisionRateLimited
)

// String returns a stable name for logging and telemetry.
func (k DecisionKind) String() string {
	switch k {
	case DecisionArmed:
		return "armed"
	case DecisionSatisfied:
		return "satisfied"
	case DecisionIgnored:
		return "ignored"
	case DecisionInject:
		return "inject"
	case DecisionRateLimited:
		return "rate_limited"
	default:
		return "none"
	}
}

// Decision is the outcome of one processing step.
type Decision struct {
	Kind DecisionKind
	// Command is the bus command to write (DecisionInject only).
	Command string
	// Console and PhysicalAddress identify the activation the
	// decision refers to, for diagnostics.
	Console         uint8
	PhysicalAddress string
}

// pending is the single in-flight confirmation slot.
type pending struct {
	console  uint8
	physical string
	deadline time.Time
}

// Engine is the decision state machine. Not safe for concurrent use;
// it belongs to the watch loop goroutine.
type Engine struct {
	cfg      Config
	consoles map[uint8]bool

	pending       *pending
	lastInjection time.Time // zero = never injected
}

// New creates an engine in the idle state.
func New(cfg Config) *Engine {
	consoles := make(map[uint8]bool, len(cfg.ConsoleAddresses))
	for _, la := range cfg.ConsoleAddresses {
		consoles[la] = true
	}
	return &Engine{cfg: cfg, consoles: consoles}
}

// Awaiting reports whether a pending confirmation is live.
func (e *Engine) Awaiting() bool {
	return e.pending != nil
}

// HandleEvent feeds one classified event through the state machine.
func (e *Engine) HandleEvent(ev cec.Event, now time.Time) Decision {
	switch ev.Type {
	case cec.EventSystemAudioModeOn:
		if e.pending == nil {
			return Decision{Kind: DecisionNone}
		}
		p := *e.pending
		e.pending = nil
		slog.Info("pending confirmation satisfied naturally",
			"console", logicalAddr(p.console),
			"physical_address", p.physical,
		)
		return Decision{Kind: DecisionSatisfied, Console: p.console, PhysicalAddress: p.physical}

	case cec.EventActiveSource:
		if !e.consoles[ev.Source] {
			slog.Debug("active source from non-console address, ignoring",
				"source", logicalAddr(ev.Source),
				"physical_address", ev.PhysicalAddress,
			)
			return Decision{Kind: DecisionIgnored, Console: ev.Source, PhysicalAddress: ev.PhysicalAddress}
		}
		// Newest activation wins: an unconfirmed older pending entry
		// is simply replaced.
		e.pending = &pending{
			console:  ev.Source,
			physical: ev.PhysicalAddress,
			deadline: now.Add(e.cfg.PendingTimeout),
		}
		slog.Info("console became active source, awaiting audio confirmation",
			"console", logicalAddr(ev.Source),
			"physical_address", ev.PhysicalAddress,
			"timeout", e.cfg.PendingTimeout,
		)
		return Decision{Kind: DecisionArmed, Console: ev.Source, PhysicalAddress: ev.PhysicalAddress}
	}

	return Decision{Kind: DecisionNone}
}

// Tick advances the engine's clock. It fires the timeout decision once
// the pending deadline has passed; the rate limit may turn that into a
// skip, but either way the pending slot is cleared.
func (e *Engine) Tick(now time.Time) Decision {
	if e.pending == nil || now.Before(e.pending.deadline) {
		return Decision{Kind: DecisionNone}
	}

	p := *e.pending
	e.pending = nil

	if !e.lastInjection.IsZero() && now.Sub(e.lastInjection) < e.cfg.MinInjectionInterval {
		slog.Info("confirmation timeout hit but injection was recent, skipping",
			"console", logicalAddr(p.console),
			"physical_address", p.physical,
			"since_last_injection", now.Sub(e.lastInjection),
		)
		return Decision{Kind: DecisionRateLimited, Console: p.console, PhysicalAddress: p.physical}
	}

	e.lastInjection = now
	slog.Info("no audio confirmation before deadline, injecting",
		"console", logicalAddr(p.console),
		"physical_address", p.physical,
		"command", e.cfg.InjectCommand,
	)
	return Decision{
		Kind:            DecisionInject,
		Command:         e.cfg.InjectCommand,
		Console:         p.console,
		PhysicalAddress: p.physical,
	}
}

// logicalAddr renders a logical address as a single hex digit, the way
// cec-client does.
func logicalAddr(la uint8) string {
	const digits = "0123456789abcdef"
	return string(digits[la&0xF])
}
