package engine

import (
	"errors"
	"fmt"
	"testing"

	iface "CoDetServer/interface"

	"github.com/stretchr/testify/assert"
)

func TestMessage(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"Denied", iface.NewCaptureError(iface.CaptureDenied, nil), "Camera access denied. Please allow camera permissions and try again."},
		{"Not Found", iface.NewCaptureError(iface.CaptureNotFound, errors.New("no device")), "No camera found on this device."},
		{"Unsupported", iface.NewCaptureError(iface.CaptureUnsupported, nil), "Camera not supported on this device."},
		{"Other", iface.NewCaptureError(iface.CaptureOther, errors.New("device busy")), "Camera error: device busy"},
		{"Wrapped Capture", fmt.Errorf("init: %w", iface.NewCaptureError(iface.CaptureDenied, nil)), "Camera access denied. Please allow camera permissions and try again."},
		{"Device Lost", iface.ErrDeviceLost, "Camera disconnected: capture device lost"},
		{"Model", &ModelLoadError{Err: errors.New("bad weights")}, "Detection model failed to load: bad weights"},
		{"Not Ready", &NotReadyError{Op: "start", State: Stopped}, "Detector is not ready (stopped)"},
		{"Tick", &DetectionTickError{Err: errors.New("oom")}, "Detection failed: oom"},
		{"Unknown", errors.New("weird"), "Unexpected error: weird"},
		{"Nil", nil, ""},
	}
	for _, c := range cases {
		t.Run("Test "+c.name, func(t *testing.T) {
			assert.Equal(t, c.want, Message(c.err))
		})
	}
}

func TestErrorUnwrap(t *testing.T) {
	inner := errors.New("inner")
	assert.ErrorIs(t, &ModelLoadError{Err: inner}, inner)
	assert.ErrorIs(t, &DetectionTickError{Err: inner}, inner)
	assert.EqualError(t, &NotReadyError{Op: "stop", State: Initializing}, "stop: detector is initializing")
}
