package cec

import "testing"

// TestClassifySystemAudioModeOn verifies the amplifier's broadcast
// 5f:72:01 is recognized.
func TestClassifySystemAudioModeOn(t *testing.T) {
	c := Classifier{AmplifierAddress: 0x5}

	ev := c.Classify(Frame{Source: 0x5, Dest: 0xF, Opcode: 0x72, Payload: []byte{0x01}})
	if ev.Type != EventSystemAudioModeOn {
		t.Fatalf("expected system_audio_mode_on, got %s", ev.Type)
	}
}

// TestClassifySystemAudioModeOnRejections covers the near-miss frames
// that must stay irrelevant.
func TestClassifySystemAudioModeOnRejections(t *testing.T) {
	c := Classifier{AmplifierAddress: 0x5}

	cases := []struct {
		name  string
		frame Frame
	}{
		{"wrong source", Frame{Source: 0x0, Dest: 0xF, Opcode: 0x72, Payload: []byte{0x01}}},
		{"directed, not broadcast", Frame{Source: 0x5, Dest: 0x0, Opcode: 0x72, Payload: []byte{0x01}}},
		{"audio mode off", Frame{Source: 0x5, Dest: 0xF, Opcode: 0x72, Payload: []byte{0x00}}},
		{"empty payload", Frame{Source: 0x5, Dest: 0xF, Opcode: 0x72}},
	}
	for _, tc := range cases {
		if ev := c.Classify(tc.frame); ev.Type != EventIrrelevant {
			t.Errorf("%s: expected irrelevant, got %s", tc.name, ev.Type)
		}
	}
}

// TestClassifyActiveSource verifies an active-source broadcast carries
// the announcing address and the rendered physical address.
func TestClassifyActiveSource(t *testing.T) {
	c := Classifier{AmplifierAddress: 0x5}

	ev := c.Classify(Frame{Source: 0xB, Dest: 0xF, Opcode: 0x82, Payload: []byte{0x36, 0x00}})
	if ev.Type != EventActiveSource {
		t.Fatalf("expected active_source, got %s", ev.Type)
	}
	if ev.Source != 0xB {
		t.Errorf("expected source 0xB, got 0x%X", ev.Source)
	}
	if ev.PhysicalAddress != "36:00" {
		t.Errorf("expected physical address 36:00, got %q", ev.PhysicalAddress)
	}
}

// TestClassifyActiveSourceShortPayload verifies an announcement without
// a full physical address is irrelevant rather than an error.
func TestClassifyActiveSourceShortPayload(t *testing.T) {
	c := Classifier{AmplifierAddress: 0x5}

	if ev := c.Classify(Frame{Source: 0x4, Dest: 0xF, Opcode: 0x82, Payload: []byte{0x10}}); ev.Type != EventIrrelevant {
		t.Errorf("expected irrelevant, got %s", ev.Type)
	}
	if ev := c.Classify(Frame{Source: 0x4, Dest: 0x0, Opcode: 0x82, Payload: []byte{0x10, 0x00}}); ev.Type != EventIrrelevant {
		t.Errorf("directed announcement: expected irrelevant, got %s", ev.Type)
	}
}

// TestClassifyIsPure verifies the same frame always yields the same event.
func TestClassifyIsPure(t *testing.T) {
	c := Classifier{AmplifierAddress: 0x5}
	f := Frame{Source: 0x4, Dest: 0xF, Opcode: 0x82, Payload: []byte{0x10, 0x00}}

	first := c.Classify(f)
	for i := 0; i < 10; i++ {
		if got := c.Classify(f); got.Type != first.Type || got.PhysicalAddress != first.PhysicalAddress {
			t.Fatal("classification is not stable")
		}
	}
}
