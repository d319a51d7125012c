// Package core wires the watcher together: the cec-client transport,
// the frame parser and classifier, the injection decision engine, and
// the optional telemetry surfaces (MQTT, capture journal, health).
package core

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/avwatch/cecaudio/internal/capture"
	"github.com/avwatch/cecaudio/internal/cec"
	"github.com/avwatch/cecaudio/internal/client"
	"github.com/avwatch/cecaudio/internal/config"
	"github.com/avwatch/cecaudio/internal/control"
	"github.com/avwatch/cecaudio/internal/emitter"
	"github.com/avwatch/cecaudio/internal/engine"
	"github.com/avwatch/cecaudio/internal/eventbus"
)

// Watcher is the service orchestrator: it owns the watch loop and every
// component's lifecycle.
type Watcher struct {
	cfg *config.Config

	source         LineSource
	classifier     cec.Classifier
	engine         *engine.Engine
	bus            *eventbus.Bus
	emitter        *emitter.MQTTEmitter
	controlHandler *control.Handler
	captureWriter  *capture.Writer

	// Lifecycle management
	started   time.Time
	mu        sync.RWMutex
	wg        sync.WaitGroup
	isRunning bool
	cancelCtx context.CancelFunc // for the control plane shutdown command

	// Runtime switches, flipped from the control plane.
	paused atomic.Bool
	dryRun atomic.Bool

	// Counters, written by the watch loop, read from status/health.
	seq          atomic.Uint64
	framesParsed atomic.Uint64
	audioEvents  atomic.Uint64
	activeEvents atomic.Uint64
	injections   atomic.Uint64
	rateLimited  atomic.Uint64
	awaiting     atomic.Bool
}

// New creates a watcher over a cec-client transport.
func New(cfg *config.Config) *Watcher {
	source := client.New(client.Config{
		Binary:   cfg.CEC.Binary,
		LogLevel: cfg.CEC.LogLevel,
		Device:   cfg.CEC.Device,
	})
	return newWatcher(cfg, source)
}

// newWatcher wires a watcher over any line source; tests use this with
// a fake transport.
func newWatcher(cfg *config.Config, source LineSource) *Watcher {
	w := &Watcher{
		cfg:        cfg,
		source:     source,
		classifier: cec.Classifier{AmplifierAddress: cfg.AmplifierAddress},
		engine: engine.New(engine.Config{
			ConsoleAddresses:     cfg.ConsoleAddresses,
			PendingTimeout:       cfg.PendingTimeout(),
			MinInjectionInterval: cfg.MinInjectionInterval(),
			InjectCommand:        cec.SystemAudioModeRequest(cfg.ClientAddress, cfg.AmplifierAddress),
		}),
		bus: eventbus.New(),
	}
	w.dryRun.Store(cfg.DryRun)
	return w
}

// Run starts all components and blocks in the watch loop until the
// context is cancelled, the trace stream ends, or a write to the bus
// fails.
func (w *Watcher) Run(ctx context.Context) error {
	w.mu.Lock()
	if w.isRunning {
		w.mu.Unlock()
		return fmt.Errorf("watcher is already running")
	}
	w.isRunning = true
	w.started = time.Now()
	w.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	w.mu.Lock()
	w.cancelCtx = cancel
	w.mu.Unlock()

	slog.Info("watcher starting",
		"instance_id", w.cfg.InstanceID,
		"consoles", fmt.Sprintf("%x", w.cfg.ConsoleAddresses),
		"amplifier", fmt.Sprintf("%x", w.cfg.AmplifierAddress),
		"pending_timeout", w.cfg.PendingTimeout(),
		"min_injection_interval", w.cfg.MinInjectionInterval(),
		"dry_run", w.dryRun.Load(),
	)

	if err := w.source.Start(ctx); err != nil {
		return fmt.Errorf("failed to start cec transport: %w", err)
	}

	if w.cfg.Capture.Path != "" {
		writer, err := capture.NewWriter(w.cfg.Capture.Path)
		if err != nil {
			return fmt.Errorf("failed to open capture journal: %w", err)
		}
		w.captureWriter = writer
		w.startCaptureSink()
		slog.Info("capture journal enabled", "path", w.cfg.Capture.Path)
	}

	if w.cfg.MQTT.Broker != "" {
		w.emitter = emitter.NewMQTTEmitter(w.cfg)
		if err := w.emitter.Connect(ctx); err != nil {
			return fmt.Errorf("failed to connect mqtt: %w", err)
		}

		w.controlHandler = control.NewHandler(w.cfg, w.emitter.Client, control.CommandCallbacks{
			OnGetStatus: w.getStatus,
			OnPause:     w.pause,
			OnResume:    w.resume,
			OnSetDryRun: w.setDryRun,
			OnShutdown:  w.shutdownViaControl,
		})
		if err := w.controlHandler.Start(ctx); err != nil {
			return fmt.Errorf("failed to start control plane: %w", err)
		}

		w.startEmitterSink()
		w.wg.Add(1)
		go w.healthLoop(ctx)
	}

	if w.cfg.HealthPort != "" {
		if err := w.StartHealthServer(w.cfg.HealthPort); err != nil {
			return fmt.Errorf("failed to start health server: %w", err)
		}
	}

	slog.Info("watching cec traffic")

	return w.watch(ctx)
}

// watch is the single-threaded decision loop: one select over the trace
// line stream and the deadline ticker, so timeouts fire even when the
// bus is quiet.
func (w *Watcher) watch(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.TickInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("watch loop stopping")
			return nil

		case line, ok := <-w.source.Lines():
			if !ok {
				// cec-client went away; nothing left to watch.
				slog.Info("trace stream ended")
				return nil
			}
			if err := w.processLine(line, time.Now()); err != nil {
				return err
			}

		case now := <-ticker.C:
			if err := w.processTick(now); err != nil {
				return err
			}
		}
	}
}

// processLine runs one trace line through parse, classify, and the
// engine, then advances the engine clock to the line's arrival time.
func (w *Watcher) processLine(line string, now time.Time) error {
	slog.Debug("cec traffic", "line", line)

	if w.paused.Load() {
		return nil
	}

	frame, ok := cec.Parse(line)
	if !ok {
		// Status output and noise from cec-client; not an error.
		return nil
	}
	w.framesParsed.Add(1)

	ev := w.classifier.Classify(frame)
	switch ev.Type {
	case cec.EventSystemAudioModeOn:
		w.audioEvents.Add(1)
	case cec.EventActiveSource:
		w.activeEvents.Add(1)
	}

	traceID := uuid.New().String()
	decision := w.engine.HandleEvent(ev, now)
	w.publish(eventbus.Observation{
		Seq:       w.seq.Add(1),
		Timestamp: now,
		TraceID:   traceID,
		Line:      line,
		Event:     ev,
		Decision:  decision,
	})
	if err := w.apply(decision); err != nil {
		return err
	}

	// A frame arriving also advances time; the ticker alone covers
	// quiet stretches.
	return w.processTick(now)
}

// processTick advances the engine clock and applies any timeout
// decision.
func (w *Watcher) processTick(now time.Time) error {
	if w.paused.Load() {
		return nil
	}

	decision := w.engine.Tick(now)
	if decision.Kind != engine.DecisionNone {
		w.publish(eventbus.Observation{
			Seq:       w.seq.Add(1),
			Timestamp: now,
			TraceID:   uuid.New().String(),
			Decision:  decision,
		})
	}
	return w.apply(decision)
}

// apply acts on an engine decision. Only a failed injection write is an
// error, and it is fatal to the loop: without the command channel there
// is nothing useful left to do.
func (w *Watcher) apply(decision engine.Decision) error {
	w.awaiting.Store(w.engine.Awaiting())

	switch decision.Kind {
	case engine.DecisionInject:
		if w.dryRun.Load() {
			slog.Info("dry run, suppressing injection", "command", decision.Command)
			w.injections.Add(1)
			return nil
		}
		if err := w.source.Send(decision.Command); err != nil {
			return fmt.Errorf("injection write failed: %w", err)
		}
		w.injections.Add(1)

	case engine.DecisionRateLimited:
		w.rateLimited.Add(1)
	}

	return nil
}

// publish fans an observation out to the telemetry sinks. Irrelevant
// frames that produced no decision stay off the bus; they are log
// noise, not telemetry.
func (w *Watcher) publish(obs eventbus.Observation) {
	if obs.Event.Type == cec.EventIrrelevant && obs.Decision.Kind == engine.DecisionNone {
		return
	}
	w.bus.Publish(obs)
}

// startCaptureSink drains observations into the CBOR journal.
func (w *Watcher) startCaptureSink() {
	ch := make(chan eventbus.Observation, 128)
	if err := w.bus.Subscribe("capture", ch); err != nil {
		slog.Error("failed to subscribe capture sink", "error", err)
		return
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for obs := range ch {
			if err := w.captureWriter.Write(captureRecord(obs)); err != nil {
				slog.Error("failed to write capture record", "error", err)
			}
		}
	}()
}

// startEmitterSink drains observations to MQTT.
func (w *Watcher) startEmitterSink() {
	ch := make(chan eventbus.Observation, 128)
	if err := w.bus.Subscribe("mqtt", ch); err != nil {
		slog.Error("failed to subscribe mqtt sink", "error", err)
		return
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for obs := range ch {
			if err := w.emitter.PublishObservation(obs); err != nil {
				slog.Debug("failed to publish observation", "error", err)
			}
		}
	}()
}

// captureRecord converts an observation to its journal form.
func captureRecord(obs eventbus.Observation) capture.Record {
	rec := capture.Record{
		Seq:       obs.Seq,
		Timestamp: obs.Timestamp,
		TraceID:   obs.TraceID,
		Line:      obs.Line,
		Decision:  obs.Decision.Kind.String(),
		Command:   obs.Decision.Command,
	}
	if obs.Event.Type != cec.EventIrrelevant {
		f := obs.Event.Frame
		src, dst, op := f.Source, f.Dest, f.Opcode
		rec.Source, rec.Dest, rec.Opcode = &src, &dst, &op
		rec.Payload = f.Payload
		rec.Event = obs.Event.Type.String()
		rec.PhysicalAddress = obs.Event.PhysicalAddress
	}
	return rec
}

// Shutdown performs graceful shutdown of all components.
func (w *Watcher) Shutdown(ctx context.Context) error {
	w.mu.Lock()
	if !w.isRunning {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	slog.Info("shutting down watcher")

	// Transport first: the quit handshake wants a live process.
	if err := w.source.Stop(); err != nil {
		slog.Error("failed to stop cec transport", "error", err)
	}

	if w.controlHandler != nil {
		if err := w.controlHandler.Stop(); err != nil {
			slog.Error("failed to stop control handler", "error", err)
		}
	}

	// Closing the bus closes the sink channels so their goroutines
	// drain and exit.
	w.bus.Close()

	slog.Info("waiting for goroutines to finish")
	w.wg.Wait()

	if w.captureWriter != nil {
		if err := w.captureWriter.Close(); err != nil {
			slog.Error("failed to close capture journal", "error", err)
		}
	}

	if w.emitter != nil {
		if err := w.emitter.Disconnect(); err != nil {
			slog.Error("failed to disconnect mqtt", "error", err)
		}
	}

	w.mu.Lock()
	uptime := time.Since(w.started)
	w.isRunning = false
	w.mu.Unlock()

	slog.Info("watcher shutdown complete",
		"uptime", uptime,
		"frames_parsed", w.framesParsed.Load(),
		"injections", w.injections.Load(),
		"rate_limited", w.rateLimited.Load(),
	)

	return nil
}

// ShutdownTimeout returns the configured graceful shutdown budget.
func (w *Watcher) ShutdownTimeout() time.Duration {
	return w.cfg.ShutdownTimeout()
}

// Control plane callbacks.

func (w *Watcher) getStatus() map[string]interface{} {
	w.mu.RLock()
	running := w.isRunning
	started := w.started
	w.mu.RUnlock()

	return map[string]interface{}{
		"instance_id":   w.cfg.InstanceID,
		"running":       running,
		"paused":        w.paused.Load(),
		"dry_run":       w.dryRun.Load(),
		"uptime_s":      time.Since(started).Seconds(),
		"awaiting":      w.awaiting.Load(),
		"frames_parsed": w.framesParsed.Load(),
		"active_source": w.activeEvents.Load(),
		"audio_mode_on": w.audioEvents.Load(),
		"injections":    w.injections.Load(),
		"rate_limited":  w.rateLimited.Load(),
	}
}

func (w *Watcher) pause() error {
	if w.paused.Swap(true) {
		return fmt.Errorf("already paused")
	}
	slog.Info("watcher paused")
	return nil
}

func (w *Watcher) resume() error {
	if !w.paused.Swap(false) {
		return fmt.Errorf("not paused")
	}
	slog.Info("watcher resumed")
	return nil
}

func (w *Watcher) setDryRun(enabled bool) error {
	w.dryRun.Store(enabled)
	slog.Info("dry run updated", "enabled", enabled)
	return nil
}

func (w *Watcher) shutdownViaControl() error {
	w.mu.RLock()
	cancel := w.cancelCtx
	w.mu.RUnlock()

	if cancel == nil {
		return fmt.Errorf("watcher not running")
	}
	slog.Info("shutdown requested via control plane")
	cancel()
	return nil
}
