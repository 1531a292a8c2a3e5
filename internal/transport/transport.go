// Package transport declares the Adapter interface every wire protocol
// (stdio, WebSocket, ZeroMQ, Redis list queues) implements to feed
// requests into, and carry responses out of, one Server Frame.
package transport

import (
	"context"

	"github.com/eludehq/elude/internal/frame"
)

// Adapter serves one Frame over one wire protocol until ctx is done.
type Adapter interface {
	Serve(ctx context.Context, f *frame.Frame) error
}
