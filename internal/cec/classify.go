package cec

import "fmt"

// EventType tags the frames the decision engine reacts to.
type EventType int

const (
	// EventIrrelevant covers every frame the watcher ignores.
	EventIrrelevant EventType = iota
	// EventSystemAudioModeOn means the amplifier confirmed it is
	// handling audio output.
	EventSystemAudioModeOn
	// EventActiveSource means a device announced itself as the
	// active input source.
	EventActiveSource
)

// String returns a stable name for logging and telemetry.
func (t EventType) String() string {
	switch t {
	case EventSystemAudioModeOn:
		return "system_audio_mode_on"
	case EventActiveSource:
		return "active_source"
	default:
		return "irrelevant"
	}
}

// Event is a classified frame plus the fields the engine needs.
type Event struct {
	Type EventType
	// Source is the announcing device's logical address
	// (EventActiveSource only).
	Source uint8
	// PhysicalAddress is the 2-byte topology position carried by an
	// active-source announcement, rendered "hh:hh" for diagnostics.
	PhysicalAddress string
	// Frame is the frame the event was derived from.
	Frame Frame
}

// Classifier tags frames against immutable configured addresses.
// Classification is a pure function of the frame.
type Classifier struct {
	// AmplifierAddress is the logical address of the audio system.
	AmplifierAddress uint8
}

// Classify inspects a frame and returns the event it represents.
func (c Classifier) Classify(f Frame) Event {
	// Amplifier broadcast "Set System Audio Mode: on" (5f:72:01 with
	// the default addresses).
	if f.Source == c.AmplifierAddress &&
		f.Dest == Broadcast &&
		f.Opcode == OpSetSystemAudioMode &&
		len(f.Payload) >= 1 && f.Payload[0] == SystemAudioOn {
		return Event{Type: EventSystemAudioModeOn, Source: f.Source, Frame: f}
	}

	// Any device broadcasting Active Source with its physical address.
	if f.Dest == Broadcast && f.Opcode == OpActiveSource && len(f.Payload) >= 2 {
		return Event{
			Type:            EventActiveSource,
			Source:          f.Source,
			PhysicalAddress: fmt.Sprintf("%02x:%02x", f.Payload[0], f.Payload[1]),
			Frame:           f,
		}
	}

	return Event{Type: EventIrrelevant, Frame: f}
}
