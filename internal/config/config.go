package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete cecaudio configuration.
type Config struct {
	InstanceID       string `yaml:"instance_id"`
	ShutdownTimeoutS int    `yaml:"shutdown_timeout_s"` // graceful shutdown timeout in seconds (default: 5)

	// ConsoleAddresses are the logical addresses treated as playback
	// devices (consoles, streaming boxes) whose activations we guard.
	ConsoleAddresses []uint8 `yaml:"console_addresses"`
	// AmplifierAddress is the audio system's logical address.
	AmplifierAddress uint8 `yaml:"amplifier_address"`
	// ClientAddress is our own logical address on the bus, used as the
	// initiator nibble of injected commands.
	ClientAddress uint8 `yaml:"client_address"`

	// PendingTimeoutMS is how long to give the amplifier to confirm on
	// its own before injecting (default: 500).
	PendingTimeoutMS int `yaml:"pending_timeout_ms"`
	// MinInjectionIntervalMS is the minimum gap between injections
	// (default: 3000).
	MinInjectionIntervalMS int `yaml:"min_injection_interval_ms"`
	// TickIntervalMS is the deadline-check granularity (default: 100).
	TickIntervalMS int `yaml:"tick_interval_ms"`

	// DryRun logs would-be injections without writing to the bus.
	DryRun bool `yaml:"dry_run"`

	CEC     CECConfig     `yaml:"cec"`
	MQTT    MQTTConfig    `yaml:"mqtt"`
	Capture CaptureConfig `yaml:"capture"`
	// HealthPort enables the HTTP liveness/readiness server when set.
	HealthPort string `yaml:"health_port"`
}

// CECConfig contains settings for the cec-client subprocess.
type CECConfig struct {
	// Binary is the cec-client executable (default: "cec-client").
	Binary string `yaml:"binary"`
	// LogLevel is cec-client's -d value; 8 = TRAFFIC only (default: 8).
	LogLevel int `yaml:"log_level"`
	// Device is the adapter path passed through, if any.
	Device string `yaml:"device"`
}

// MQTTConfig contains optional MQTT broker settings. Telemetry and the
// control plane stay disabled while Broker is empty.
type MQTTConfig struct {
	Broker string          `yaml:"broker"`
	Topics MQTTTopics      `yaml:"topics"`
	QoS    map[string]byte `yaml:"qos"`
}

// MQTTTopics contains topic templates.
type MQTTTopics struct {
	Control string `yaml:"control"`
	Events  string `yaml:"events"`
	Health  string `yaml:"health"`
}

// CaptureConfig controls the optional on-disk observation journal.
type CaptureConfig struct {
	// Path of the CBOR journal file; empty disables capture.
	Path string `yaml:"path"`
}

// PendingTimeout returns the confirmation window as a duration.
func (c *Config) PendingTimeout() time.Duration {
	return time.Duration(c.PendingTimeoutMS) * time.Millisecond
}

// MinInjectionInterval returns the rate-limit window as a duration.
func (c *Config) MinInjectionInterval() time.Duration {
	return time.Duration(c.MinInjectionIntervalMS) * time.Millisecond
}

// TickInterval returns the deadline-check period as a duration.
func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.TickIntervalMS) * time.Millisecond
}

// ShutdownTimeout returns the graceful shutdown budget.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutS) * time.Second
}

// Default returns the configuration matching a plain TV + AVR + console
// living-room setup, usable without any config file.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}
