package pipeline

import (
	"context"
)

// Detector is the black-box model: it turns one frame into raw per-class rows
type Detector interface {
	// Name returns the detector identifier
	Name() string

	// IsHealthy returns true if the detector is operational
	IsHealthy(ctx context.Context) bool

	// Infer runs the model on a frame
	Infer(ctx context.Context, frame *FrameData) (*RawOutput, error)

	// Close releases detector resources
	Close() error
}

// FrameSource hands out the most recent captured frame
type FrameSource interface {
	// NextFrame blocks until a frame newer than the last one returned is
	// available, ctx is done, or the source gives up waiting
	NextFrame(ctx context.Context) (*FrameData, error)
}

// BatchSource is the pull side of detection, one batch per call
type BatchSource interface {
	NextDetections(ctx context.Context) (*Batch, error)
}

// EventHandler receives control events
type EventHandler interface {
	// OnEvent is called synchronously by the publisher; implementations must be quick
	OnEvent(event *Event)
}

// EventHandlerFunc adapts a function to EventHandler
type EventHandlerFunc func(event *Event)

func (f EventHandlerFunc) OnEvent(event *Event) { f(event) }
