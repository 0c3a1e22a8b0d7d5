package capture

import (
	"fmt"
	"sync"

	iface "CoDetServer/interface"
)

// DefaultMaxReadFailures is how many consecutive failed reads mark the device as lost.
const DefaultMaxReadFailures = 30

// latest holds the newest frame read from a device. Readers always get a private copy.
type latest struct {
	mu          sync.Mutex
	frame       iface.ImageData
	failures    int
	maxFailures int
	lost        error
	frames      uint64
}

func newLatest(maxFailures int) *latest {
	if maxFailures <= 0 {
		maxFailures = DefaultMaxReadFailures
	}
	return &latest{maxFailures: maxFailures}
}

func (l *latest) store(img iface.ImageData) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.frame = img
	l.failures = 0
	l.frames++
}

// fail records a failed read and reports whether the device is now considered lost.
func (l *latest) fail(cause error) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.lost != nil {
		return true
	}
	l.failures++
	if l.failures < l.maxFailures {
		return false
	}
	l.lost = fmt.Errorf("%w: %d consecutive read failures: %v", iface.ErrDeviceLost, l.failures, cause)
	return true
}

func (l *latest) current() (iface.ImageData, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.lost != nil {
		return iface.ImageData{}, l.lost
	}
	if l.frame.Empty() {
		return iface.ImageData{}, iface.ErrFrameNotReady
	}
	img := l.frame
	img.Data = append([]byte(nil), l.frame.Data...)
	return img, nil
}

func (l *latest) count() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.frames
}
