package eventlog

import (
	"sync"
	"sync/atomic"

	iface "CoDetServer/interface"

	"go.uber.org/zap"
)

type multiSink []iface.EventSink

// Multi publishes to every sink in order. Nil sinks are skipped.
func Multi(sinks ...iface.EventSink) iface.EventSink {
	out := make(multiSink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (m multiSink) Publish(e iface.Event) {
	for _, s := range m {
		s.Publish(e)
	}
}

// DebouncedSink forwards only the events the display log would append. An event that collapses
// into the previous one (same dedupe key) is dropped, so a match held for many ticks is
// forwarded once.
type DebouncedSink struct {
	next iface.EventSink

	mu      sync.Mutex
	last    iface.Event
	seen    bool
	dropped atomic.Int64
}

func Debounce(next iface.EventSink) *DebouncedSink {
	return &DebouncedSink{next: next}
}

func (s *DebouncedSink) Publish(e iface.Event) {
	s.mu.Lock()
	collapse := s.seen && Collapses(s.last, e)
	s.last, s.seen = e, true
	s.mu.Unlock()
	if collapse {
		s.dropped.Add(1)
		return
	}
	s.next.Publish(e)
}

// Dropped is the number of events collapsed away.
func (s *DebouncedSink) Dropped() int64 {
	return s.dropped.Load()
}

// AsyncSink decouples a slow sink (network, disk) from the engine. Publish enqueues without
// blocking and drops the event when the queue is full.
type AsyncSink struct {
	name    string
	next    iface.EventSink
	queue   chan iface.Event
	logger  *zap.Logger
	dropped atomic.Int64

	closeOnce sync.Once
	wg        sync.WaitGroup
}

func Async(name string, next iface.EventSink, buffer int, logger *zap.Logger) *AsyncSink {
	if buffer <= 0 {
		buffer = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &AsyncSink{
		name:   name,
		next:   next,
		queue:  make(chan iface.Event, buffer),
		logger: logger,
	}
	s.wg.Add(1)
	go s.drain()
	return s
}

func (s *AsyncSink) drain() {
	defer s.wg.Done()
	for e := range s.queue {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("event sink panic", zap.String("sink", s.name), zap.Any("panic", r))
				}
			}()
			s.next.Publish(e)
		}()
	}
}

func (s *AsyncSink) Publish(e iface.Event) {
	select {
	case s.queue <- e:
	default:
		s.dropped.Add(1)
		s.logger.Warn("event sink queue full, dropping event",
			zap.String("sink", s.name), zap.String("id", e.ID), zap.String("kind", string(e.Kind)))
	}
}

// Dropped is the number of events discarded because the queue was full.
func (s *AsyncSink) Dropped() int64 {
	return s.dropped.Load()
}

// Close flushes queued events and stops the worker. Publish must not be called afterwards.
func (s *AsyncSink) Close() {
	s.closeOnce.Do(func() {
		close(s.queue)
	})
	s.wg.Wait()
}
