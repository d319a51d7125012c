package cec

import "fmt"

// Logical addresses are 4-bit device identifiers on the CEC bus.
// 0xF addresses all devices at once.
const Broadcast = 0xF

// Opcodes and operands this watcher cares about.
const (
	// OpActiveSource is broadcast by a device declaring itself the
	// current input source (payload: 2-byte physical address).
	OpActiveSource = 0x82
	// OpSetSystemAudioMode is broadcast by the audio system when it
	// takes over (or releases) audio output.
	OpSetSystemAudioMode = 0x72
	// OpSystemAudioModeRequest asks the audio system to engage.
	OpSystemAudioModeRequest = 0x70

	// SystemAudioOn is the "on" operand of Set System Audio Mode.
	SystemAudioOn = 0x01
)

// Frame is a single CEC frame decoded from one trace line.
type Frame struct {
	// Source is the sender's logical address (0-15).
	Source uint8
	// Dest is the receiver's logical address (0-15, 15 = broadcast).
	Dest uint8
	// Opcode is the 8-bit command code.
	Opcode uint8
	// Payload holds the operand bytes, possibly empty.
	Payload []byte
}

// String renders the frame the way cec-client prints it.
func (f Frame) String() string {
	s := fmt.Sprintf("%x%x:%02x", f.Source, f.Dest, f.Opcode)
	for _, b := range f.Payload {
		s += fmt.Sprintf(":%02x", b)
	}
	return s
}

// SystemAudioModeRequest builds the corrective tx command: a System
// Audio Mode Request from the client's logical address to the
// amplifier, carrying the TV's physical address (0.0.0.0).
// With the default addresses this is "tx 15:70:00:00".
func SystemAudioModeRequest(client, amplifier uint8) string {
	return fmt.Sprintf("tx %x%x:%02x:00:00", client&0xF, amplifier&0xF, OpSystemAudioModeRequest)
}
