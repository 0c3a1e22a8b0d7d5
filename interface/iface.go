package iface

import (
	"context"
	"time"
)

// CaptureSource acquires exclusive access to a video device.
type CaptureSource interface {
	Acquire(ctx context.Context, c Constraints) (Stream, error)
}

// Stream is an acquired capture handle. CurrentFrame returns the newest frame, or an error matching
// ErrFrameNotReady when no frame is available yet and ErrDeviceLost once the device is gone.
type Stream interface {
	CurrentFrame(ctx context.Context) (ImageData, error)
	Release() error
}

// BackendLoader loads a detection model.
type BackendLoader interface {
	LoadModel(ctx context.Context) (Backend, error)
}

// Backend is a loaded detection model. Detect is called at most once at a time per Backend.
type Backend interface {
	Detect(ctx context.Context, img ImageData) ([]Detection, error)
	Destroy()
	CheckConfig() EngineConfig
}

// EventSink receives engine events. Publish must not block.
type EventSink interface {
	Publish(e Event)
}

// OverlayRenderer draws the current overlay set. Every call carries the complete set.
type OverlayRenderer interface {
	ReplaceOverlays(overlays []Overlay)
	ClearOverlays()
}

// TickObserver receives per-tick timing, used for metrics.
type TickObserver interface {
	ObserveTick(outcome TickOutcome, d time.Duration)
}

// EventSinkFunc adapts a function to an EventSink.
type EventSinkFunc func(e Event)

func (f EventSinkFunc) Publish(e Event) { f(e) }
