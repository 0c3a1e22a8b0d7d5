package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	iface "CoDetServer/interface"
)

type fakeStream struct {
	frame     func() (iface.ImageData, error)
	releases  atomic.Int32
	// releasing, when set, is signalled on Release, which then blocks until hold is closed.
	releasing chan struct{}
	hold      chan struct{}
}

func (s *fakeStream) CurrentFrame(context.Context) (iface.ImageData, error) {
	if s.frame == nil {
		return iface.ImageData{Data: []byte{0, 0, 0}, Width: 1, Height: 1, Channels: 3}, nil
	}
	return s.frame()
}

func (s *fakeStream) Release() error {
	s.releases.Add(1)
	if s.releasing != nil {
		s.releasing <- struct{}{}
		<-s.hold
	}
	return nil
}

type fakeSource struct {
	stream *fakeStream
	err    error
}

func (s *fakeSource) Acquire(context.Context, iface.Constraints) (iface.Stream, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.stream, nil
}

type fakeBackend struct {
	detect   func(ctx context.Context) ([]iface.Detection, error)
	calls    atomic.Int32
	destroys atomic.Int32
}

func (b *fakeBackend) Detect(ctx context.Context, _ iface.ImageData) ([]iface.Detection, error) {
	b.calls.Add(1)
	if b.detect == nil {
		return nil, nil
	}
	return b.detect(ctx)
}

func (b *fakeBackend) Destroy() { b.destroys.Add(1) }

func (b *fakeBackend) CheckConfig() iface.EngineConfig {
	return iface.EngineConfig{Backend: "fake", Names: []string{"person", "dog"}}
}

type fakeLoader struct {
	backend *fakeBackend
	err     error
	wait    chan struct{}
}

func (l *fakeLoader) LoadModel(ctx context.Context) (iface.Backend, error) {
	if l.wait != nil {
		select {
		case <-l.wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if l.err != nil {
		return nil, l.err
	}
	return l.backend, nil
}

type recordingSink struct {
	mu     sync.Mutex
	events []iface.Event
}

func (s *recordingSink) Publish(e iface.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *recordingSink) all() []iface.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]iface.Event(nil), s.events...)
}

func (s *recordingSink) ofKind(kind iface.EventKind) []iface.Event {
	var out []iface.Event
	for _, e := range s.all() {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

type countingObserver struct {
	mu       sync.Mutex
	outcomes map[iface.TickOutcome]int
}

func (o *countingObserver) ObserveTick(outcome iface.TickOutcome, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.outcomes == nil {
		o.outcomes = map[iface.TickOutcome]int{}
	}
	o.outcomes[outcome]++
}

func (o *countingObserver) count(outcome iface.TickOutcome) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.outcomes[outcome]
}

func det(class string, conf float64) iface.Detection {
	return iface.Detection{Class: class, Confidence: conf, Box: iface.BoundingBox{X: 1, Y: 2, Width: 3, Height: 4}}
}

func pair() ([]iface.Detection, error) {
	return []iface.Detection{det("person", 0.9), det("dog", 0.8)}, nil
}
