// Package emitter publishes observation records and health snapshots to
// an MQTT broker. The whole package is optional: the watcher only
// constructs an emitter when a broker is configured.
package emitter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/avwatch/cecaudio/internal/cec"
	"github.com/avwatch/cecaudio/internal/config"
	"github.com/avwatch/cecaudio/internal/engine"
	"github.com/avwatch/cecaudio/internal/eventbus"
)

// MQTTEmitter publishes to the configured events and health topics.
type MQTTEmitter struct {
	cfg    *config.Config
	Client mqtt.Client // exported for the control plane

	mu        sync.RWMutex
	published map[string]uint64 // count per topic
	errors    uint64
	connected bool
}

// NewMQTTEmitter creates an emitter for the given configuration.
func NewMQTTEmitter(cfg *config.Config) *MQTTEmitter {
	return &MQTTEmitter{
		cfg:       cfg,
		published: make(map[string]uint64),
	}
}

// Connect establishes the broker connection with auto-reconnect.
func (e *MQTTEmitter) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", e.cfg.MQTT.Broker))
	opts.SetClientID(e.cfg.InstanceID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		e.mu.Lock()
		e.connected = true
		e.mu.Unlock()
		slog.Info("mqtt connection established",
			"broker", e.cfg.MQTT.Broker,
			"client_id", e.cfg.InstanceID,
		)
	}

	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		e.mu.Lock()
		e.connected = false
		e.mu.Unlock()
		slog.Warn("mqtt connection lost, will auto-reconnect",
			"error", err,
			"broker", e.cfg.MQTT.Broker,
		)
	}

	e.Client = mqtt.NewClient(opts)

	slog.Info("connecting to mqtt broker", "broker", e.cfg.MQTT.Broker)

	token := e.Client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}

	e.mu.Lock()
	e.connected = true
	e.mu.Unlock()

	return nil
}

// eventPayload is the wire form of one observation.
type eventPayload struct {
	InstanceID      string `json:"instance_id"`
	Seq             uint64 `json:"seq"`
	Timestamp       string `json:"timestamp"`
	TraceID         string `json:"trace_id,omitempty"`
	Frame           string `json:"frame,omitempty"`
	Event           string `json:"event"`
	Console         string `json:"console,omitempty"`
	PhysicalAddress string `json:"physical_address,omitempty"`
	Decision        string `json:"decision"`
	Command         string `json:"command,omitempty"`
}

// PublishObservation publishes one observation record as JSON.
func (e *MQTTEmitter) PublishObservation(obs eventbus.Observation) error {
	if !e.isConnected() {
		e.countError()
		return fmt.Errorf("mqtt not connected")
	}

	topic := fmt.Sprintf("%s/%s", e.cfg.MQTT.Topics.Events, obs.Decision.Kind)
	qos := e.getQoS("events")

	p := eventPayload{
		InstanceID: e.cfg.InstanceID,
		Seq:        obs.Seq,
		Timestamp:  obs.Timestamp.Format(time.RFC3339Nano),
		TraceID:    obs.TraceID,
		Event:      obs.Event.Type.String(),
		Decision:   obs.Decision.Kind.String(),
		Command:    obs.Decision.Command,
	}
	if obs.Event.Type != cec.EventIrrelevant {
		p.Frame = obs.Event.Frame.String()
	}
	if obs.Decision.Kind != engine.DecisionNone {
		p.Console = fmt.Sprintf("%x", obs.Decision.Console)
		p.PhysicalAddress = obs.Decision.PhysicalAddress
	}

	payload, err := json.Marshal(p)
	if err != nil {
		e.countError()
		return fmt.Errorf("failed to marshal observation: %w", err)
	}

	return e.publish(topic, qos, payload)
}

// PublishHealth publishes a health snapshot.
func (e *MQTTEmitter) PublishHealth(payload []byte) error {
	if !e.isConnected() {
		return fmt.Errorf("mqtt not connected")
	}
	return e.publish(e.cfg.MQTT.Topics.Health, e.getQoS("health"), payload)
}

func (e *MQTTEmitter) publish(topic string, qos byte, payload []byte) error {
	token := e.Client.Publish(topic, qos, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		e.countError()
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		e.countError()
		return fmt.Errorf("publish failed: %w", err)
	}

	e.mu.Lock()
	e.published[topic]++
	e.mu.Unlock()

	slog.Debug("observation published", "topic", topic, "size", len(payload))
	return nil
}

// Disconnect closes the broker connection.
func (e *MQTTEmitter) Disconnect() error {
	if e.Client != nil && e.Client.IsConnected() {
		e.Client.Disconnect(250)
		slog.Info("mqtt disconnected")
	}

	e.mu.Lock()
	e.connected = false
	e.mu.Unlock()

	return nil
}

// Stats contains emitter counters.
type Stats struct {
	Connected bool
	Published map[string]uint64
	Errors    uint64
}

// Stats returns a copy of the emitter counters.
func (e *MQTTEmitter) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	published := make(map[string]uint64, len(e.published))
	for k, v := range e.published {
		published[k] = v
	}
	return Stats{Connected: e.connected, Published: published, Errors: e.errors}
}

// IsConnected reports broker connectivity for health checks.
func (e *MQTTEmitter) IsConnected() bool {
	return e.isConnected()
}

func (e *MQTTEmitter) isConnected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.connected
}

func (e *MQTTEmitter) countError() {
	e.mu.Lock()
	e.errors++
	e.mu.Unlock()
}

func (e *MQTTEmitter) getQoS(kind string) byte {
	if qos, ok := e.cfg.MQTT.QoS[kind]; ok {
		return qos
	}
	return 0
}
