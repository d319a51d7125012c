package core

import (
	"context"

	"github.com/avwatch/cecaudio/internal/client"
)

// LineSource is the bus transport: a stream of raw trace lines in, raw
// command lines out. The cec-client wrapper implements it; tests swap
// in a fake.
type LineSource interface {
	// Start spawns or connects the underlying transport.
	Start(ctx context.Context) error
	// Lines returns the raw trace line stream. The channel closing
	// means end of input.
	Lines() <-chan string
	// Send writes one command line to the bus.
	Send(command string) error
	// Stop performs the graceful shutdown handshake.
	Stop() error
	// Stats returns transport counters.
	Stats() client.Stats
}
