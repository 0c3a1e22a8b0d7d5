package session

import (
	"context"
	"sync"
	"time"

	"CoDetServer/engine"
	iface "CoDetServer/interface"
	"CoDetServer/overlay"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Status is a point in time view of the current detection session.
type Status struct {
	State     string        `json:"state"`
	Running   bool          `json:"running"`
	Error     string        `json:"error,omitempty"`
	Policy    engine.Policy `json:"policy"`
	StartedAt *time.Time    `json:"startedAt,omitempty"`
	Sessions  int           `json:"sessions"`
	Overlays  int           `json:"overlays"`
}

// Manager runs one detection session at a time. A stopped Detector cannot be restarted, so every
// Start builds a new one over the same capture source and model loader.
type Manager struct {
	cfg      engine.Config
	source   iface.CaptureSource
	loader   iface.BackendLoader
	sink     iface.EventSink
	overlays *overlay.Manager
	observer iface.TickObserver
	clock    clock.Clock
	logger   *zap.Logger

	startMu   sync.Mutex
	mu        sync.RWMutex
	current   *engine.Detector
	startedAt time.Time
	sessions  int
}

type Option func(*Manager)

func WithEventSink(sink iface.EventSink) Option {
	return func(m *Manager) { m.sink = sink }
}

func WithOverlayManager(o *overlay.Manager) Option {
	return func(m *Manager) { m.overlays = o }
}

func WithTickObserver(o iface.TickObserver) Option {
	return func(m *Manager) { m.observer = o }
}

func WithClock(c clock.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

func New(cfg engine.Config, source iface.CaptureSource, loader iface.BackendLoader, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m := &Manager{cfg: cfg, source: source, loader: loader}
	for _, opt := range opts {
		opt(m)
	}
	if m.sink == nil {
		m.sink = iface.EventSinkFunc(func(iface.Event) {})
	}
	if m.overlays == nil {
		m.overlays = overlay.NewManager()
	}
	if m.clock == nil {
		m.clock = clock.New()
	}
	if m.logger == nil {
		m.logger = zap.NewNop()
	}
	return m, nil
}

// Start initializes a fresh Detector and starts its loop. It does nothing while a session is
// already running. Init failures are returned and also reported through the event sink.
func (m *Manager) Start(ctx context.Context) error {
	m.startMu.Lock()
	defer m.startMu.Unlock()

	m.mu.RLock()
	cur := m.current
	m.mu.RUnlock()
	if cur != nil {
		switch cur.State() {
		case engine.Running:
			return nil
		case engine.Stopping:
			// The previous session still holds the camera.
			select {
			case <-cur.Done():
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	opts := []engine.Option{
		engine.WithEventSink(m.sink),
		engine.WithOverlayManager(m.overlays),
		engine.WithClock(m.clock),
		engine.WithLogger(m.logger.Named("engine")),
	}
	if m.observer != nil {
		opts = append(opts, engine.WithTickObserver(m.observer))
	}
	d, err := engine.New(m.cfg, m.source, m.loader, opts...)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.current = d
	m.sessions++
	m.startedAt = time.Time{}
	m.mu.Unlock()

	if _, _, err := d.Init(ctx); err != nil {
		return err
	}
	if err := d.Start(); err != nil {
		return err
	}

	m.mu.Lock()
	m.startedAt = m.clock.Now()
	m.mu.Unlock()
	m.sink.Publish(iface.Event{
		ID:        uuid.NewString(),
		Timestamp: m.clock.Now(),
		Kind:      iface.KindInfo,
		Message:   "Camera feed active - monitoring for activity",
	})
	go m.watch(d)
	return nil
}

func (m *Manager) watch(d *engine.Detector) {
	<-d.Done()
	if err := d.Err(); err != nil {
		m.logger.Warn("detection session ended with error", zap.Error(err))
		return
	}
	m.logger.Info("detection session ended")
}

// Stop stops the current session. It returns engine.NotReadyError while the session is still
// initializing and nil when nothing is running.
func (m *Manager) Stop() error {
	m.mu.RLock()
	cur := m.current
	m.mu.RUnlock()
	if cur == nil {
		return nil
	}
	return cur.Stop()
}

func (m *Manager) Current() *engine.Detector {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

func (m *Manager) Overlays() []iface.Overlay {
	return m.overlays.Current()
}

func (m *Manager) Policy() engine.Policy {
	return m.cfg.Policy
}

func (m *Manager) Status() Status {
	m.mu.RLock()
	cur, startedAt, sessions := m.current, m.startedAt, m.sessions
	m.mu.RUnlock()

	st := Status{
		State:    engine.Idle.String(),
		Policy:   m.cfg.Policy,
		Sessions: sessions,
		Overlays: len(m.overlays.Current()),
	}
	if cur == nil {
		return st
	}
	state := cur.State()
	st.State = state.String()
	st.Running = state == engine.Running
	if err := cur.Err(); err != nil {
		st.Error = engine.Message(err)
	}
	if st.Running && !startedAt.IsZero() {
		st.StartedAt = &startedAt
	}
	return st
}
