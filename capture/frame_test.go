package capture

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	iface "CoDetServer/interface"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func frame(b byte) iface.ImageData {
	return iface.ImageData{Data: []byte{b, b, b}, Width: 1, Height: 1, Channels: 3}
}

func TestLatest(t *testing.T) {
	t.Run("Test Not Ready", func(t *testing.T) {
		l := newLatest(3)
		_, err := l.current()
		assert.ErrorIs(t, err, iface.ErrFrameNotReady)
	})

	t.Run("Test Copy", func(t *testing.T) {
		l := newLatest(3)
		l.store(frame(7))
		img, err := l.current()
		require.NoError(t, err)
		img.Data[0] = 0

		again, err := l.current()
		require.NoError(t, err)
		assert.Equal(t, byte(7), again.Data[0])
		assert.Equal(t, uint64(1), l.count())
	})

	t.Run("Test Lost After Consecutive Failures", func(t *testing.T) {
		l := newLatest(3)
		l.store(frame(1))
		assert.False(t, l.fail(errors.New("read")))
		assert.False(t, l.fail(errors.New("read")))
		assert.True(t, l.fail(errors.New("read")))

		_, err := l.current()
		assert.ErrorIs(t, err, iface.ErrDeviceLost)
		assert.True(t, l.fail(errors.New("read")))
	})

	t.Run("Test Store Resets Failures", func(t *testing.T) {
		l := newLatest(2)
		assert.False(t, l.fail(errors.New("read")))
		l.store(frame(1))
		assert.False(t, l.fail(errors.New("read")))
		_, err := l.current()
		assert.NoError(t, err)
	})

	t.Run("Test Default Limit", func(t *testing.T) {
		assert.Equal(t, DefaultMaxReadFailures, newLatest(0).maxFailures)
	})
}

func TestDeviceAcquire(t *testing.T) {
	t.Run("Test Audio Unsupported", func(t *testing.T) {
		_, err := NewDevice("0", nil).Acquire(context.Background(), iface.Constraints{Audio: true})
		var capErr *iface.CaptureError
		require.ErrorAs(t, err, &capErr)
		assert.Equal(t, iface.CaptureUnsupported, capErr.Kind)
	})

	t.Run("Test Canceled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := NewDevice("0", nil).Acquire(ctx, iface.DefaultConstraints())
		var capErr *iface.CaptureError
		require.ErrorAs(t, err, &capErr)
		assert.Equal(t, iface.CaptureOther, capErr.Kind)
	})
}

func TestProbe(t *testing.T) {
	t.Run("Test Remote Target", func(t *testing.T) {
		assert.NoError(t, probe("rtsp://camera.local/stream"))
	})

	t.Run("Test Readable File", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "clip.mp4")
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
		assert.NoError(t, probe(path))
	})

	t.Run("Test Unreadable File", func(t *testing.T) {
		if os.Geteuid() == 0 {
			t.Skip("permissions are not enforced for root")
		}
		path := filepath.Join(t.TempDir(), "clip.mp4")
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o000))
		var capErr *iface.CaptureError
		require.ErrorAs(t, probe(path), &capErr)
		assert.Equal(t, iface.CaptureDenied, capErr.Kind)
	})
}
