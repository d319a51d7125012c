// Package eventbus distributes observation records to telemetry sinks
// (capture journal, MQTT emitter) without ever blocking the watch loop.
//
// Sends are non-blocking: a sink that cannot keep up loses records and
// its drop counter grows. The decision path never depends on a sink.
package eventbus

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/avwatch/cecaudio/internal/cec"
	"github.com/avwatch/cecaudio/internal/engine"
)

var (
	ErrBusClosed        = errors.New("eventbus: bus is closed")
	ErrSubscriberExists = errors.New("eventbus: subscriber already exists")
	ErrNilChannel       = errors.New("eventbus: nil channel provided")
)

// Observation is one processing step's worth of record: the classified
// event (if any) and the engine's decision.
type Observation struct {
	// Seq is a monotonic counter over observed frames.
	Seq uint64
	// Timestamp is when the step was processed.
	Timestamp time.Time
	// TraceID correlates log lines, capture records and MQTT payloads.
	TraceID string
	// Line is the raw trace line (frame steps only).
	Line string
	// Event is the classification result; Type is EventIrrelevant for
	// timer-driven steps.
	Event cec.Event
	// Decision is the engine's outcome for this step.
	Decision engine.Decision
}

// SubscriberStats tracks distribution counts for one sink.
type SubscriberStats struct {
	Sent    uint64
	Dropped uint64
}

type subscriber struct {
	id    string
	ch    chan<- Observation
	stats *SubscriberStats
}

// Bus fans observations out to registered sinks.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]*subscriber
	published   uint64
	closed      bool
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subscribers: make(map[string]*subscriber)}
}

// Subscribe registers a sink channel. The channel's buffer is the
// sink's entire tolerance for lag.
func (b *Bus) Subscribe(id string, ch chan<- Observation) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBusClosed
	}
	if ch == nil {
		return ErrNilChannel
	}
	if _, exists := b.subscribers[id]; exists {
		return ErrSubscriberExists
	}

	b.subscribers[id] = &subscriber{id: id, ch: ch, stats: &SubscriberStats{}}
	return nil
}

// Publish distributes one observation to every sink, dropping for the
// ones whose buffers are full.
func (b *Bus) Publish(obs Observation) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	atomic.AddUint64(&b.published, 1)

	for _, sub := range b.subscribers {
		select {
		case sub.ch <- obs:
			atomic.AddUint64(&sub.stats.Sent, 1)
		default:
			atomic.AddUint64(&sub.stats.Dropped, 1)
		}
	}
}

// Stats returns a copy of a subscriber's counters plus the bus total.
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	s := Stats{
		Published:   atomic.LoadUint64(&b.published),
		Subscribers: make(map[string]SubscriberStats, len(b.subscribers)),
	}
	for id, sub := range b.subscribers {
		s.Subscribers[id] = SubscriberStats{
			Sent:    atomic.LoadUint64(&sub.stats.Sent),
			Dropped: atomic.LoadUint64(&sub.stats.Dropped),
		}
	}
	return s
}

// Stats contains bus-wide counters.
type Stats struct {
	Published   uint64
	Subscribers map[string]SubscriberStats
}

// Close marks the bus closed and closes subscriber channels so sink
// goroutines drain and exit.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for _, sub := range b.subscribers {
		close(sub.ch)
	}
	b.subscribers = make(map[string]*subscriber)
}
