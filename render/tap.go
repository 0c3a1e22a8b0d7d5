package render

import (
	"context"
	"errors"
	"sync"

	"CoDetServer/capture"
	iface "CoDetServer/interface"
)

var ErrNoFrame = errors.New("no frame captured yet")

// Tap wraps a capture source and remembers the last frame the engine read, so snapshots show
// exactly what the detector saw.
type Tap struct {
	source iface.CaptureSource

	mu   sync.RWMutex
	last iface.ImageData
}

func NewTap(source iface.CaptureSource) *Tap {
	return &Tap{source: source}
}

func (t *Tap) Acquire(ctx context.Context, c iface.Constraints) (iface.Stream, error) {
	s, err := t.source.Acquire(ctx, c)
	if err != nil {
		return nil, err
	}
	return &tapStream{Stream: s, tap: t}, nil
}

func (t *Tap) Last() (iface.ImageData, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.last, !t.last.Empty()
}

func (t *Tap) set(img iface.ImageData) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.last = img
}

type tapStream struct {
	iface.Stream
	tap *Tap
}

func (s *tapStream) CurrentFrame(ctx context.Context) (iface.ImageData, error) {
	img, err := s.Stream.CurrentFrame(ctx)
	if err == nil {
		s.tap.set(img)
	}
	return img, err
}

func (s *tapStream) Release() error {
	s.tap.set(iface.ImageData{})
	return s.Stream.Release()
}

// Snapshotter renders the last tapped frame with the current overlays.
type Snapshotter struct {
	Tap    *Tap
	Canvas *Canvas
}

// JPEG returns the annotated frame, or ErrNoFrame while nothing has been captured.
func (s *Snapshotter) JPEG() ([]byte, error) {
	img, ok := s.Tap.Last()
	if !ok {
		return nil, ErrNoFrame
	}
	// The Mat shares the slice, so draw on a copy.
	img.Data = append([]byte(nil), img.Data...)
	mat, err := capture.ToMat(img)
	if err != nil {
		return nil, err
	}
	defer mat.Close()
	if s.Canvas != nil {
		s.Canvas.Draw(&mat)
	}
	return capture.EncodeMatJPEG(mat)
}
