// Package sink defines where decoded frames go after the pipeline.
package sink

import (
	"context"
	"time"

	"github.com/danmuck/busmirror/internal/busmirror"
)

// Event is one decoded datagram handed to sinks.
type Event struct {
	Source   string
	Received time.Time
	Frame    *busmirror.Frame
	// Err is set only for partial frames produced in best-effort mode.
	Err error
}

// Sink consumes decoded events. Handle must not retain ev.Frame past the
// call unless it treats it as read-only.
type Sink interface {
	Name() string
	Handle(ctx context.Context, ev Event) error
}

// Closer is implemented by sinks holding external resources.
type Closer interface {
	Close() error
}
