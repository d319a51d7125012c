package config

import "fmt"

// Validate checks the configuration and fills defaults in place.
func Validate(cfg *Config) error {
	applyDefaults(cfg)

	for _, la := range cfg.ConsoleAddresses {
		if la > 0xF {
			return fmt.Errorf("console address 0x%X out of range (logical addresses are 0-15)", la)
		}
		if la == 0xF {
			return fmt.Errorf("broadcast address 0xF cannot be a console address")
		}
	}
	if cfg.AmplifierAddress > 0xE {
		return fmt.Errorf("amplifier_address 0x%X out of range", cfg.AmplifierAddress)
	}
	if cfg.ClientAddress > 0xE {
		return fmt.Errorf("client_address 0x%X out of range", cfg.ClientAddress)
	}

	if cfg.PendingTimeoutMS <= 0 {
		return fmt.Errorf("pending_timeout_ms must be > 0")
	}
	if cfg.MinInjectionIntervalMS < 0 {
		return fmt.Errorf("min_injection_interval_ms must be >= 0")
	}
	if cfg.TickIntervalMS <= 0 {
		return fmt.Errorf("tick_interval_ms must be > 0")
	}
	if cfg.TickIntervalMS > cfg.PendingTimeoutMS {
		return fmt.Errorf("tick_interval_ms (%d) must not exceed pending_timeout_ms (%d)",
			cfg.TickIntervalMS, cfg.PendingTimeoutMS)
	}

	if cfg.CEC.LogLevel <= 0 {
		return fmt.Errorf("cec.log_level must be > 0")
	}

	// Topic and QoS defaults only matter when MQTT is enabled.
	if cfg.MQTT.Broker != "" {
		if cfg.MQTT.Topics.Control == "" {
			cfg.MQTT.Topics.Control = fmt.Sprintf("cecaudio/control/%s", cfg.InstanceID)
		}
		if cfg.MQTT.Topics.Events == "" {
			cfg.MQTT.Topics.Events = fmt.Sprintf("cecaudio/events/%s", cfg.InstanceID)
		}
		if cfg.MQTT.Topics.Health == "" {
			cfg.MQTT.Topics.Health = fmt.Sprintf("cecaudio/health/%s", cfg.InstanceID)
		}
		if cfg.MQTT.QoS == nil {
			cfg.MQTT.QoS = map[string]byte{
				"control": 1,
				"events":  0,
				"health":  0,
			}
		}
	}

	return nil
}

// applyDefaults fills the zero-value fields with the original
// living-room defaults: TV at 0, AVR at 5, us at 1, playback devices
// at 4/8/B.
func applyDefaults(cfg *Config) {
	if cfg.InstanceID == "" {
		cfg.InstanceID = "cecaudio"
	}
	if cfg.ShutdownTimeoutS == 0 {
		cfg.ShutdownTimeoutS = 5
	}
	if len(cfg.ConsoleAddresses) == 0 {
		cfg.ConsoleAddresses = []uint8{0x4, 0x8, 0xB}
	}
	if cfg.AmplifierAddress == 0 {
		cfg.AmplifierAddress = 0x5
	}
	if cfg.ClientAddress == 0 {
		cfg.ClientAddress = 0x1
	}
	if cfg.PendingTimeoutMS == 0 {
		cfg.PendingTimeoutMS = 500
	}
	if cfg.MinInjectionIntervalMS == 0 {
		cfg.MinInjectionIntervalMS = 3000
	}
	if cfg.TickIntervalMS == 0 {
		cfg.TickIntervalMS = 100
	}
	if cfg.CEC.Binary == "" {
		cfg.CEC.Binary = "cec-client"
	}
	if cfg.CEC.LogLevel == 0 {
		cfg.CEC.LogLevel = 8
	}
}
