// Package capture appends observation records to an on-disk CBOR
// journal and reads them back for offline analysis (cectrace).
//
// The journal is a plain sequence of CBOR-encoded records; there is no
// index and no framing beyond CBOR's own, so a truncated final record
// after a crash simply ends the read.
package capture

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Record is the durable form of one observation.
type Record struct {
	Seq       uint64    `cbor:"seq"`
	Timestamp time.Time `cbor:"ts"`
	TraceID   string    `cbor:"trace_id,omitempty"`
	Line      string    `cbor:"line,omitempty"`

	// Frame fields, present when the record came from a parsed frame.
	Source  *uint8 `cbor:"src,omitempty"`
	Dest    *uint8 `cbor:"dst,omitempty"`
	Opcode  *uint8 `cbor:"op,omitempty"`
	Payload []byte `cbor:"payload,omitempty"`

	// Event is the classification tag name.
	Event string `cbor:"event,omitempty"`
	// PhysicalAddress is the announcement's topology position.
	PhysicalAddress string `cbor:"phys,omitempty"`
	// Decision is the engine's outcome name.
	Decision string `cbor:"decision,omitempty"`
	// Command is the injected command, when one was emitted.
	Command string `cbor:"command,omitempty"`
}

// Writer appends records to a journal file. Safe for use from a single
// sink goroutine; the mutex only guards Close racing a late Write.
type Writer struct {
	mu     sync.Mutex
	f      *os.File
	enc    *cbor.Encoder
	count  uint64
	closed bool
}

// NewWriter opens (or creates) the journal at path for appending.
func NewWriter(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture journal: %w", err)
	}
	return &Writer{f: f, enc: cbor.NewEncoder(f)}, nil
}

// Write appends one record.
func (w *Writer) Write(rec Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return errors.New("capture: writer is closed")
	}
	if err := w.enc.Encode(rec); err != nil {
		return fmt.Errorf("failed to encode capture record: %w", err)
	}
	w.count++
	return nil
}

// Count returns the number of records written in this session.
func (w *Writer) Count() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

// Close flushes and closes the journal file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	return w.f.Close()
}

// ReadAll decodes every record in a journal file. A decode error after
// at least one good record is treated as a truncated tail and ends the
// read silently.
func ReadAll(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture journal: %w", err)
	}
	defer f.Close()

	var records []Record
	dec := cbor.NewDecoder(f)
	for {
		var rec Record
		if err := dec.Decode(&rec); err != nil {
			if err == io.EOF {
				return records, nil
			}
			if len(records) > 0 {
				// Truncated tail from an unclean shutdown.
				return records, nil
			}
			return nil, fmt.Errorf("failed to decode capture record: %w", err)
		}
		records = append(records, rec)
	}
}
