package iface

import (
	"fmt"
	"math"
	"time"
)

// BoundingBox is an axis-aligned box in frame pixel coordinates.
type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Detection is one classified, scored and localized object returned by a Backend for a single frame.
type Detection struct {
	Class      string      `json:"class"`
	Confidence float64     `json:"confidence"`
	Box        BoundingBox `json:"box"`
}

// Percent returns the confidence as a whole-number percentage, rounded half up.
func (d Detection) Percent() int {
	return int(math.Round(d.Confidence * 100))
}

// ImageData is a raw frame: interleaved BGR(A) bytes as produced by OpenCV.
type ImageData struct {
	Data     []byte
	Width    int
	Height   int
	Channels int
}

func (img ImageData) Empty() bool {
	return len(img.Data) == 0 || img.Width <= 0 || img.Height <= 0
}

// Constraints are the preferred capture parameters. Zero values mean "device default".
type Constraints struct {
	Width  int
	Height int
	Audio  bool
}

// DefaultConstraints asks for 720p video without audio.
func DefaultConstraints() Constraints {
	return Constraints{Width: 1280, Height: 720}
}

// EngineConfig describes a detection backend. Names may be given inline or through NamesPath.
type EngineConfig struct {
	Backend    string        `yaml:"backend" json:"backend" env:"BACKEND"`
	ModelPath  string        `yaml:"modelPath" json:"modelPath" env:"MODEL_PATH"`
	ConfigPath string        `yaml:"configPath" json:"configPath,omitempty" env:"CONFIG_PATH"`
	NamesPath  string        `yaml:"namesPath" json:"namesPath,omitempty" env:"NAMES_PATH"`
	Names      []string      `yaml:"names" json:"names" env:"NAMES"`
	Endpoint   string        `yaml:"endpoint" json:"endpoint,omitempty" env:"ENDPOINT"`
	InputSize  int           `yaml:"inputSize" json:"inputSize" env:"INPUT_SIZE"`
	Conf       float32       `yaml:"conf" json:"conf" env:"CONF"`
	Iou        float32       `yaml:"iou" json:"iou" env:"IOU"`
	UseGPU     bool          `yaml:"useGPU" json:"useGPU" env:"USE_GPU"`
	Timeout    time.Duration `yaml:"timeout" json:"timeout" env:"TIMEOUT"`
}

type EventKind string

const (
	KindInfo    EventKind = "info"
	KindStarted EventKind = "started"
	KindStopped EventKind = "stopped"
	KindMatched EventKind = "matched"
	KindAlert   EventKind = "alert"
)

// Event is an immutable notification produced by the engine. DedupeKey is empty for events that must
// never be collapsed in the display log.
type Event struct {
	ID        string      `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	Kind      EventKind   `json:"kind"`
	Message   string      `json:"message"`
	DedupeKey string      `json:"dedupeKey,omitempty"`
	GroupA    []Detection `json:"groupA,omitempty"`
	GroupB    []Detection `json:"groupB,omitempty"`
}

type ColorGroup string

const (
	GroupA ColorGroup = "A"
	GroupB ColorGroup = "B"
)

// Overlay is a transient box annotation tied to one Detection of the latest frame.
type Overlay struct {
	Class      string      `json:"class"`
	Box        BoundingBox `json:"box"`
	ColorGroup ColorGroup  `json:"colorGroup"`
}

// TickOutcome classifies how a single loop iteration ended.
type TickOutcome string

const (
	TickSkipped     TickOutcome = "skipped"
	TickClean       TickOutcome = "clean"
	TickMatched     TickOutcome = "matched"
	TickFailed      TickOutcome = "failed"
	TickCaptureLost TickOutcome = "capture_lost"
)

// DedupeKey renders the (kind, |groupA|, |groupB|) signature used to collapse consecutive events.
func DedupeKey(kind EventKind, groupA, groupB int) string {
	return fmt.Sprintf("%s:%d:%d", kind, groupA, groupB)
}
