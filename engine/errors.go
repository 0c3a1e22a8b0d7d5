package engine

import (
	"errors"
	"fmt"

	iface "CoDetServer/interface"
)

// ModelLoadError is returned by Init when the backend fails to load.
type ModelLoadError struct {
	Err error
}

func (e *ModelLoadError) Error() string { return fmt.Sprintf("model load: %v", e.Err) }
func (e *ModelLoadError) Unwrap() error { return e.Err }

// NotReadyError reports an operation invoked in a state that does not allow it.
type NotReadyError struct {
	Op    string
	State State
}

func (e *NotReadyError) Error() string {
	return fmt.Sprintf("%s: detector is %s", e.Op, e.State)
}

// DetectionTickError wraps a failure inside one loop iteration.
type DetectionTickError struct {
	Err error
}

func (e *DetectionTickError) Error() string { return fmt.Sprintf("detection tick: %v", e.Err) }
func (e *DetectionTickError) Unwrap() error { return e.Err }

// Message maps an engine error to the single human readable line shown to users.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var (
		capErr   *iface.CaptureError
		modelErr *ModelLoadError
		notReady *NotReadyError
		tickErr  *DetectionTickError
	)
	switch {
	case errors.As(err, &capErr):
		switch capErr.Kind {
		case iface.CaptureDenied:
			return "Camera access denied. Please allow camera permissions and try again."
		case iface.CaptureNotFound:
			return "No camera found on this device."
		case iface.CaptureUnsupported:
			return "Camera not supported on this device."
		default:
			return fmt.Sprintf("Camera error: %v", detail(capErr))
		}
	case errors.Is(err, iface.ErrDeviceLost):
		return fmt.Sprintf("Camera disconnected: %v", err)
	case errors.As(err, &modelErr):
		return fmt.Sprintf("Detection model failed to load: %v", modelErr.Err)
	case errors.As(err, &notReady):
		return fmt.Sprintf("Detector is not ready (%s)", notReady.State)
	case errors.As(err, &tickErr):
		return fmt.Sprintf("Detection failed: %v", tickErr.Err)
	default:
		return fmt.Sprintf("Unexpected error: %v", err)
	}
}

func detail(e *iface.CaptureError) string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Kind.String()
}

// asCaptureError keeps typed capture errors and files everything else under CaptureOther.
func asCaptureError(err error) error {
	var capErr *iface.CaptureError
	if errors.As(err, &capErr) {
		return err
	}
	return iface.NewCaptureError(iface.CaptureOther, err)
}
