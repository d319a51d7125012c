package capture

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func u8(v uint8) *uint8 { return &v }

// TestJournalRoundTrip verifies records written across a session read
// back in order with their fields intact.
func TestJournalRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "observations.cbor")

	w, err := NewWriter(path)
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}

	ts := time.Date(2026, 8, 24, 20, 15, 0, 0, time.UTC)
	records := []Record{
		{
			Seq: 1, Timestamp: ts, TraceID: "t-1",
			Line:   "TRAFFIC: [   37491]     >> 4f:82:10:00",
			Source: u8(0x4), Dest: u8(0xF), Opcode: u8(0x82), Payload: []byte{0x10, 0x00},
			Event: "active_source", PhysicalAddress: "10:00", Decision: "armed",
		},
		{
			Seq: 2, Timestamp: ts.Add(500 * time.Millisecond), TraceID: "t-2",
			Decision: "inject", Command: "tx 15:70:00:00",
		},
	}
	for _, rec := range records {
		if err := w.Write(rec); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}
	if w.Count() != 2 {
		t.Errorf("expected 2 written, got %d", w.Count())
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	got, err := ReadAll(path)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 records, got %d", len(got))
	}
	if got[0].Event != "active_source" || got[0].PhysicalAddress != "10:00" {
		t.Errorf("record 0 mangled: %+v", got[0])
	}
	if got[0].Source == nil || *got[0].Source != 0x4 {
		t.Errorf("record 0 source mangled: %+v", got[0].Source)
	}
	if got[1].Command != "tx 15:70:00:00" {
		t.Errorf("record 1 mangled: %+v", got[1])
	}
}

// TestAppendAcrossSessions verifies reopening the journal appends
// instead of truncating.
func TestAppendAcrossSessions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "observations.cbor")

	for i := uint64(1); i <= 3; i++ {
		w, err := NewWriter(path)
		if err != nil {
			t.Fatal(err)
		}
		if err := w.Write(Record{Seq: i, Timestamp: time.Now()}); err != nil {
			t.Fatal(err)
		}
		w.Close()
	}

	got, err := ReadAll(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 records, got %d", len(got))
	}
	for i, rec := range got {
		if rec.Seq != uint64(i+1) {
			t.Errorf("record %d: expected seq %d, got %d", i, i+1, rec.Seq)
		}
	}
}

// TestTruncatedTail verifies a partial final record is dropped rather
// than failing the whole read.
func TestTruncatedTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "observations.cbor")

	w, err := NewWriter(path)
	if err != nil {
		t.Fatal(err)
	}
	w.Write(Record{Seq: 1, Timestamp: time.Now()})
	w.Write(Record{Seq: 2, Timestamp: time.Now()})
	w.Close()

	// Chop a few bytes off the end to fake a crash mid-write.
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data[:len(data)-3], 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := ReadAll(path)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if len(got) != 1 || got[0].Seq != 1 {
		t.Errorf("expected just the first record, got %d", len(got))
	}
}

// TestWriteAfterClose verifies a closed writer rejects records.
func TestWriteAfterClose(t *testing.T) {
	w, err := NewWriter(filepath.Join(t.TempDir(), "observations.cbor"))
	if err != nil {
		t.Fatal(err)
	}
	w.Close()
	if err := w.Write(Record{Seq: 1}); err == nil {
		t.Fatal("expected error writing to closed journal")
	}
}
