package iface

import (
	"errors"
	"fmt"
)

var (
	// ErrFrameNotReady is returned by Stream.CurrentFrame before the first frame arrives.
	ErrFrameNotReady = errors.New("frame not ready")
	// ErrDeviceLost is returned by Stream.CurrentFrame once the capture device is gone for good.
	ErrDeviceLost = errors.New("capture device lost")
)

type CaptureErrorKind int

const (
	CaptureOther CaptureErrorKind = iota
	CaptureDenied
	CaptureNotFound
	CaptureUnsupported
)

func (k CaptureErrorKind) String() string {
	switch k {
	case CaptureDenied:
		return "denied"
	case CaptureNotFound:
		return "not found"
	case CaptureUnsupported:
		return "unsupported"
	default:
		return "other"
	}
}

// CaptureError is returned by CaptureSource.Acquire.
type CaptureError struct {
	Kind CaptureErrorKind
	Err  error
}

func (e *CaptureError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("capture: %s", e.Kind)
	}
	return fmt.Sprintf("capture: %s: %v", e.Kind, e.Err)
}

func (e *CaptureError) Unwrap() error { return e.Err }

// NewCaptureError wraps err with the given kind. A nil err yields a kind-only error.
func NewCaptureError(kind CaptureErrorKind, err error) *CaptureError {
	return &CaptureError{Kind: kind, Err: err}
}
