package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	iface "CoDetServer/interface"
	"CoDetServer/overlay"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Detector runs the detection loop for one capture session. It owns its stream and model handles
// from Init until Stop. A stopped Detector cannot be restarted.
type Detector struct {
	cfg      Config
	source   iface.CaptureSource
	loader   iface.BackendLoader
	sink     iface.EventSink
	overlays *overlay.Manager
	observer iface.TickObserver
	clock    clock.Clock
	logger   *zap.Logger

	mu       sync.Mutex
	state    State
	stream   iface.Stream
	model    iface.Backend
	err      error
	loopDone chan struct{}

	stopReq      chan struct{}
	stopReqOnce  sync.Once
	done         chan struct{}
	teardownOnce sync.Once
	releaseErr   error
}

type Option func(*Detector)

func WithEventSink(sink iface.EventSink) Option {
	return func(d *Detector) { d.sink = sink }
}

func WithOverlayManager(m *overlay.Manager) Option {
	return func(d *Detector) { d.overlays = m }
}

func WithTickObserver(o iface.TickObserver) Option {
	return func(d *Detector) { d.observer = o }
}

func WithClock(c clock.Clock) Option {
	return func(d *Detector) { d.clock = c }
}

func WithLogger(l *zap.Logger) Option {
	return func(d *Detector) { d.logger = l }
}

func New(cfg Config, source iface.CaptureSource, loader iface.BackendLoader, opts ...Option) (*Detector, error) {
	if source == nil {
		return nil, errors.New("capture source cannot be nil")
	}
	if loader == nil {
		return nil, errors.New("model loader cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	d := &Detector{
		cfg:     cfg,
		source:  source,
		loader:  loader,
		state:   Idle,
		stopReq: make(chan struct{}),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.sink == nil {
		d.sink = iface.EventSinkFunc(func(iface.Event) {})
	}
	if d.overlays == nil {
		d.overlays = overlay.NewManager()
	}
	if d.clock == nil {
		d.clock = clock.New()
	}
	if d.logger == nil {
		d.logger = zap.NewNop()
	}
	return d, nil
}

func (d *Detector) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Err returns the error that ended the session: the Init failure or the loss of the capture device.
func (d *Detector) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

// Done is closed once the Detector reaches Stopped or Failed.
func (d *Detector) Done() <-chan struct{} {
	return d.done
}

func (d *Detector) Overlays() []iface.Overlay {
	return d.overlays.Current()
}

func (d *Detector) Policy() Policy {
	return d.cfg.Policy
}

// Init acquires the capture stream and loads the model concurrently and waits for both. On failure
// anything already acquired is released and the Detector moves to Failed for good. The returned
// handles stay owned by the Detector.
func (d *Detector) Init(ctx context.Context) (iface.Backend, iface.Stream, error) {
	d.mu.Lock()
	if d.state != Idle {
		state := d.state
		d.mu.Unlock()
		return nil, nil, &NotReadyError{Op: "init", State: state}
	}
	d.state = Initializing
	d.mu.Unlock()

	var (
		model  iface.Backend
		stream iface.Stream
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		d.emit(iface.KindInfo, "Loading detection model")
		m, err := d.loader.LoadModel(gctx)
		if err != nil {
			return &ModelLoadError{Err: err}
		}
		model = m
		d.emit(iface.KindInfo, "Detection model loaded")
		return nil
	})
	g.Go(func() error {
		d.emit(iface.KindInfo, "Requesting camera access")
		s, err := d.source.Acquire(gctx, d.cfg.Constraints)
		if err != nil {
			return asCaptureError(err)
		}
		stream = s
		d.emit(iface.KindInfo, "Camera access granted")
		return nil
	})

	if err := g.Wait(); err != nil {
		if stream != nil {
			if relErr := stream.Release(); relErr != nil {
				d.logger.Warn("release after failed init", zap.Error(relErr))
			}
		}
		if model != nil {
			model.Destroy()
		}
		d.mu.Lock()
		d.state = Failed
		d.err = err
		d.mu.Unlock()
		close(d.done)
		d.logger.Error("init failed", zap.Error(err))
		d.emit(iface.KindAlert, Message(err))
		return nil, nil, err
	}

	d.mu.Lock()
	d.stream = stream
	d.model = model
	d.state = Ready
	d.mu.Unlock()
	d.logger.Info("detector ready", zap.Any("model", model.CheckConfig()))
	return model, stream, nil
}

// Start launches the detection loop. It is a no-op while already running.
func (d *Detector) Start() error {
	d.mu.Lock()
	switch d.state {
	case Running:
		d.mu.Unlock()
		return nil
	case Ready:
	default:
		state := d.state
		d.mu.Unlock()
		return &NotReadyError{Op: "start", State: state}
	}
	d.state = Running
	d.loopDone = make(chan struct{})
	stream, model, loopDone := d.stream, d.model, d.loopDone
	d.mu.Unlock()

	d.emit(iface.KindStarted, "Camera detection started")
	go d.run(stream, model, loopDone)
	return nil
}

// Stop asks the loop to finish, waits for the in-flight tick, releases both handles and clears the
// overlays. The detector call of that tick is never interrupted. Stopping a stopped or failed
// Detector does nothing; a second Stop during teardown waits for the first.
func (d *Detector) Stop() error {
	d.mu.Lock()
	state, loopDone := d.state, d.loopDone
	switch state {
	case Stopped, Failed:
		d.mu.Unlock()
		return nil
	case Stopping:
		d.mu.Unlock()
		<-d.done
		return d.releaseErr
	case Initializing:
		d.mu.Unlock()
		return &NotReadyError{Op: "stop", State: state}
	}
	// Leaving Ready or Running here, under the same lock Start takes, keeps Start from launching a
	// loop over handles that are about to be released.
	d.state = Stopping
	d.mu.Unlock()

	if state == Running {
		d.stopReqOnce.Do(func() { close(d.stopReq) })
		<-loopDone
	}
	return d.teardown()
}

func (d *Detector) teardown() error {
	d.teardownOnce.Do(func() {
		d.mu.Lock()
		d.state = Stopping
		stream, model := d.stream, d.model
		d.stream, d.model = nil, nil
		d.mu.Unlock()

		var err error
		if stream != nil {
			err = multierr.Append(err, stream.Release())
		}
		if model != nil {
			model.Destroy()
		}
		d.overlays.Clear()
		d.releaseErr = err

		d.mu.Lock()
		d.state = Stopped
		d.mu.Unlock()
		close(d.done)
		d.emit(iface.KindStopped, "Camera detection stopped")
	})
	<-d.done
	return d.releaseErr
}

func (d *Detector) run(stream iface.Stream, model iface.Backend, loopDone chan struct{}) {
	defer close(loopDone)
	for {
		select {
		case <-d.stopReq:
			return
		default:
		}

		outcome, err := d.tick(stream, model)
		if outcome == iface.TickCaptureLost {
			d.mu.Lock()
			d.err = err
			d.mu.Unlock()
			d.logger.Error("capture device lost", zap.Error(err))
			d.emit(iface.KindAlert, Message(err))
			if relErr := d.teardown(); relErr != nil {
				d.logger.Warn("release after capture loss", zap.Error(relErr))
			}
			return
		}

		if !d.yield() {
			return
		}
	}
}

// yield parks the loop for one tick interval so the host is never starved. It reports false when
// a stop was requested meanwhile.
func (d *Detector) yield() bool {
	t := d.clock.Timer(d.cfg.TickInterval)
	select {
	case <-d.stopReq:
		t.Stop()
		return false
	case <-t.C:
		return true
	}
}

func (d *Detector) tick(stream iface.Stream, model iface.Backend) (outcome iface.TickOutcome, err error) {
	start := d.clock.Now()
	defer func() {
		if d.observer != nil {
			d.observer.ObserveTick(outcome, d.clock.Since(start))
		}
	}()

	ctx := context.Background()
	frame, err := stream.CurrentFrame(ctx)
	switch {
	case errors.Is(err, iface.ErrFrameNotReady):
		return iface.TickSkipped, nil
	case errors.Is(err, iface.ErrDeviceLost):
		return iface.TickCaptureLost, err
	case err != nil:
		return iface.TickFailed, d.tickFailed(err)
	}

	batch, err := d.detect(ctx, model, frame)
	if err != nil {
		if errors.Is(err, iface.ErrDeviceLost) {
			return iface.TickCaptureLost, err
		}
		return iface.TickFailed, d.tickFailed(err)
	}

	result := d.cfg.Policy.Classify(batch)
	outcome = iface.TickClean
	if result.Matched {
		d.publish(d.matchedEvent(result))
		outcome = iface.TickMatched
	}
	d.overlays.Replace(overlay.FromGroups(result.GroupA, result.GroupB))
	return outcome, nil
}

func (d *Detector) detect(ctx context.Context, model iface.Backend, frame iface.ImageData) (batch []iface.Detection, err error) {
	if d.cfg.InferenceTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = d.clock.WithTimeout(ctx, d.cfg.InferenceTimeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			batch, err = nil, fmt.Errorf("detector panic: %v", r)
		}
	}()
	batch, err = model.Detect(ctx, frame)
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	return batch, err
}

// tickFailed reports a transient failure and drops the overlays, which no longer match any frame.
func (d *Detector) tickFailed(err error) error {
	tickErr := &DetectionTickError{Err: err}
	d.logger.Warn("detection tick failed", zap.Error(err))
	d.emit(iface.KindAlert, Message(tickErr))
	d.overlays.Replace(nil)
	return tickErr
}

func (d *Detector) matchedEvent(r Result) iface.Event {
	e := d.newEvent(iface.KindMatched, fmt.Sprintf("%d %s and %d %s detected together",
		len(r.GroupA), d.cfg.Policy.TargetClassA, len(r.GroupB), d.cfg.Policy.TargetClassB))
	e.DedupeKey = iface.DedupeKey(iface.KindMatched, len(r.GroupA), len(r.GroupB))
	e.GroupA = r.GroupA
	e.GroupB = r.GroupB
	return e
}

func (d *Detector) newEvent(kind iface.EventKind, message string) iface.Event {
	return iface.Event{
		ID:        uuid.NewString(),
		Timestamp: d.clock.Now(),
		Kind:      kind,
		Message:   message,
	}
}

func (d *Detector) emit(kind iface.EventKind, message string) {
	d.publish(d.newEvent(kind, message))
}

func (d *Detector) publish(e iface.Event) {
	d.logger.Debug("event", zap.String("kind", string(e.Kind)), zap.String("message", e.Message))
	d.sink.Publish(e)
}
