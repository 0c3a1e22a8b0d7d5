package capture

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"runtime"
	"strconv"
	"sync"
	"time"

	iface "CoDetServer/interface"

	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// Device opens a camera index ("0"), a device node, a video file or a stream URL through OpenCV.
type Device struct {
	Target          string
	MaxReadFailures int
	// RetryDelay is the pause after a failed read before trying again.
	RetryDelay time.Duration
	Logger     *zap.Logger
}

func NewDevice(target string, logger *zap.Logger) *Device {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Device{
		Target:          target,
		MaxReadFailures: DefaultMaxReadFailures,
		RetryDelay:      10 * time.Millisecond,
		Logger:          logger,
	}
}

func (d *Device) Acquire(ctx context.Context, c iface.Constraints) (iface.Stream, error) {
	if c.Audio {
		return nil, iface.NewCaptureError(iface.CaptureUnsupported, errors.New("audio capture is not available"))
	}
	if err := ctx.Err(); err != nil {
		return nil, iface.NewCaptureError(iface.CaptureOther, err)
	}
	if err := probe(d.Target); err != nil {
		return nil, err
	}

	vc, err := open(d.Target)
	if err != nil {
		return nil, iface.NewCaptureError(iface.CaptureNotFound, err)
	}
	if !vc.IsOpened() {
		_ = vc.Close()
		return nil, iface.NewCaptureError(iface.CaptureNotFound, fmt.Errorf("device %q did not open", d.Target))
	}
	if c.Width > 0 {
		vc.Set(gocv.VideoCaptureFrameWidth, float64(c.Width))
	}
	if c.Height > 0 {
		vc.Set(gocv.VideoCaptureFrameHeight, float64(c.Height))
	}
	vc.Set(gocv.VideoCaptureBufferSize, 1)

	s := &deviceStream{
		vc:         vc,
		latest:     newLatest(d.MaxReadFailures),
		retryDelay: d.RetryDelay,
		logger:     d.Logger.With(zap.String("device", d.Target)),
		stop:       make(chan struct{}),
	}
	s.wg.Add(1)
	go s.read()
	d.Logger.Info("capture device opened",
		zap.String("device", d.Target),
		zap.Float64("width", vc.Get(gocv.VideoCaptureFrameWidth)),
		zap.Float64("height", vc.Get(gocv.VideoCaptureFrameHeight)))
	return s, nil
}

func open(target string) (*gocv.VideoCapture, error) {
	if id, err := strconv.Atoi(target); err == nil {
		return gocv.OpenVideoCapture(id)
	}
	return gocv.VideoCaptureFile(target)
}

// probe maps the state of a local device node to a capture error before OpenCV gets to it, since
// OpenCV reports every open failure the same way.
func probe(target string) error {
	path := target
	if id, err := strconv.Atoi(target); err == nil {
		if runtime.GOOS != "linux" {
			return nil
		}
		path = fmt.Sprintf("/dev/video%d", id)
	} else if _, statErr := os.Stat(path); errors.Is(statErr, fs.ErrNotExist) {
		// Not a local path. URLs are left to OpenCV.
		return nil
	}

	f, err := os.Open(path)
	switch {
	case err == nil:
		return f.Close()
	case errors.Is(err, fs.ErrNotExist):
		return iface.NewCaptureError(iface.CaptureNotFound, err)
	case errors.Is(err, fs.ErrPermission):
		return iface.NewCaptureError(iface.CaptureDenied, err)
	default:
		return iface.NewCaptureError(iface.CaptureOther, err)
	}
}

type deviceStream struct {
	vc         *gocv.VideoCapture
	latest     *latest
	retryDelay time.Duration
	logger     *zap.Logger

	stop        chan struct{}
	releaseOnce sync.Once
	wg          sync.WaitGroup
	releaseErr  error
}

func (s *deviceStream) read() {
	defer s.wg.Done()
	mat := gocv.NewMat()
	defer mat.Close()

	for {
		select {
		case <-s.stop:
			return
		default:
		}

		if ok := s.vc.Read(&mat); !ok || mat.Empty() {
			if s.latest.fail(errors.New("failed to read frame from device")) {
				s.logger.Warn("capture device lost")
				return
			}
			select {
			case <-s.stop:
				return
			case <-time.After(s.retryDelay):
			}
			continue
		}
		if mat.Type() != gocv.MatTypeCV8UC3 {
			continue
		}
		s.latest.store(FromMat(mat))
	}
}

func (s *deviceStream) CurrentFrame(ctx context.Context) (iface.ImageData, error) {
	if err := ctx.Err(); err != nil {
		return iface.ImageData{}, err
	}
	return s.latest.current()
}

func (s *deviceStream) Release() error {
	s.releaseOnce.Do(func() {
		close(s.stop)
		s.wg.Wait()
		s.releaseErr = s.vc.Close()
		s.logger.Info("capture device released", zap.Uint64("frames", s.latest.count()))
	})
	return s.releaseErr
}
