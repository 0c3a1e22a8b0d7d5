package render

import (
	"context"
	"errors"
	"testing"

	"CoDetServer/engine"
	iface "CoDetServer/interface"
	"CoDetServer/overlay"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticStream struct {
	img      iface.ImageData
	err      error
	released bool
}

func (s *staticStream) CurrentFrame(context.Context) (iface.ImageData, error) { return s.img, s.err }

func (s *staticStream) Release() error {
	s.released = true
	return nil
}

type staticSource struct {
	stream *staticStream
	err    error
}

func (s *staticSource) Acquire(context.Context, iface.Constraints) (iface.Stream, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.stream, nil
}

func blackFrame(w, h int) iface.ImageData {
	return iface.ImageData{Data: make([]byte, w*h*3), Width: w, Height: h, Channels: 3}
}

func TestCanvas(t *testing.T) {
	c := NewCanvas()
	m := overlay.NewManager(c)
	m.Replace(overlay.FromGroups(
		[]iface.Detection{{Class: "person", Confidence: 0.9, Box: iface.BoundingBox{X: 1, Y: 1, Width: 5, Height: 5}}},
		[]iface.Detection{{Class: "dog", Confidence: 0.8, Box: iface.BoundingBox{X: 10, Y: 10, Width: 5, Height: 5}}},
	))

	t.Run("Test Mirrors Manager", func(t *testing.T) {
		assert.Equal(t, m.Current(), c.Overlays())
	})

	t.Run("Test Clear", func(t *testing.T) {
		m.Clear()
		assert.Empty(t, c.Overlays())
	})

	t.Run("Test Group Colors", func(t *testing.T) {
		assert.Equal(t, red, GroupColor(iface.GroupA))
		assert.Equal(t, green, GroupColor(iface.GroupB))
	})
}

func TestTap(t *testing.T) {
	t.Run("Test Records Frames", func(t *testing.T) {
		stream := &staticStream{img: blackFrame(4, 4)}
		tap := NewTap(&staticSource{stream: stream})
		_, ok := tap.Last()
		assert.False(t, ok)

		s, err := tap.Acquire(context.Background(), iface.DefaultConstraints())
		require.NoError(t, err)
		_, err = s.CurrentFrame(context.Background())
		require.NoError(t, err)

		last, ok := tap.Last()
		assert.True(t, ok)
		assert.Equal(t, 4, last.Width)

		require.NoError(t, s.Release())
		assert.True(t, stream.released)
		_, ok = tap.Last()
		assert.False(t, ok)
	})

	t.Run("Test Skips Errors", func(t *testing.T) {
		tap := NewTap(&staticSource{stream: &staticStream{err: iface.ErrFrameNotReady}})
		s, err := tap.Acquire(context.Background(), iface.DefaultConstraints())
		require.NoError(t, err)
		_, err = s.CurrentFrame(context.Background())
		assert.ErrorIs(t, err, iface.ErrFrameNotReady)
		_, ok := tap.Last()
		assert.False(t, ok)
	})

	t.Run("Test Acquire Error", func(t *testing.T) {
		denied := iface.NewCaptureError(iface.CaptureDenied, errors.New("no"))
		_, err := NewTap(&staticSource{err: denied}).Acquire(context.Background(), iface.DefaultConstraints())
		assert.Equal(t, "Camera access denied. Please allow camera permissions and try again.", engine.Message(err))
	})
}

func TestSnapshotter(t *testing.T) {
	frame := blackFrame(64, 48)
	tap := NewTap(&staticSource{stream: &staticStream{img: frame}})
	canvas := NewCanvas()
	snap := &Snapshotter{Tap: tap, Canvas: canvas}

	_, err := snap.JPEG()
	assert.ErrorIs(t, err, ErrNoFrame)

	s, err := tap.Acquire(context.Background(), iface.DefaultConstraints())
	require.NoError(t, err)
	_, err = s.CurrentFrame(context.Background())
	require.NoError(t, err)

	canvas.ReplaceOverlays([]iface.Overlay{{Class: "dog", Box: iface.BoundingBox{X: 8, Y: 8, Width: 20, Height: 20}, ColorGroup: iface.GroupB}})
	jpeg, err := snap.JPEG()
	require.NoError(t, err)
	require.Greater(t, len(jpeg), 2)
	assert.Equal(t, []byte{0xFF, 0xD8}, jpeg[:2])

	for _, b := range frame.Data {
		require.Zero(t, b, "drawing must not touch the captured frame")
	}
}
