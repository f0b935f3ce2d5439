// Package bus carries broadcasts between gateway processes.
//
// Only events cross the bus. Connection and presence state stay local to the
// process that owns the socket.
package bus

import (
	"context"

	"pulse/cmd/internal/realtime"
)

// Sink receives broadcasts published by other nodes.
type Sink func(realtime.Broadcast) int

// Bus forwards local broadcasts and feeds remote ones into a Sink.
type Bus interface {
	realtime.Forwarder

	// Run delivers remote broadcasts to sink until ctx is done.
	Run(ctx context.Context, sink Sink) error
	Close() error
}

// Local is the single-node Bus: nothing leaves the process.
type Local struct{}

// Forward implements realtime.Forwarder.
func (Local) Forward(context.Context, realtime.Broadcast) error { return nil }

// Run blocks until ctx is done.
func (Local) Run(ctx context.Context, _ Sink) error {
	<-ctx.Done()
	return nil
}

// Close implements Bus.
func (Local) Close() error { return nil }
