package engine

import (
	"errors"
	"fmt"
	"time"

	iface "CoDetServer/interface"
)

// State is the lifecycle position of a Detector.
type State int

const (
	Idle State = iota
	Initializing
	Ready
	Running
	// Stopping covers teardown: handles are being released and Start is refused.
	Stopping
	Stopped
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Initializing:
		return "initializing"
	case Ready:
		return "ready"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Stopped:
		return "stopped"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

const (
	DefaultTargetClassA        = "person"
	DefaultTargetClassB        = "dog"
	DefaultConfidenceThreshold = 0.6
	// DefaultTickInterval roughly matches one display frame at 30 fps.
	DefaultTickInterval = 33 * time.Millisecond
)

// Policy decides which detections count towards a co-occurrence match.
type Policy struct {
	TargetClassA        string  `yaml:"targetClassA" json:"targetClassA"`
	TargetClassB        string  `yaml:"targetClassB" json:"targetClassB"`
	ConfidenceThreshold float64 `yaml:"confidenceThreshold" json:"confidenceThreshold"`
}

func DefaultPolicy() Policy {
	return Policy{
		TargetClassA:        DefaultTargetClassA,
		TargetClassB:        DefaultTargetClassB,
		ConfidenceThreshold: DefaultConfidenceThreshold,
	}
}

func (p Policy) Validate() error {
	if p.TargetClassA == "" || p.TargetClassB == "" {
		return errors.New("target classes must not be empty")
	}
	if p.TargetClassA == p.TargetClassB {
		return fmt.Errorf("target classes must differ, both are %q", p.TargetClassA)
	}
	if p.ConfidenceThreshold < 0 || p.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence threshold must be between 0.0 and 1.0, got %f", p.ConfidenceThreshold)
	}
	return nil
}

// Config is fixed for the lifetime of a Detector.
type Config struct {
	Policy      Policy
	Constraints iface.Constraints
	// TickInterval is the pause between two ticks. It is also the yield point of the loop, so it is
	// never allowed to be zero.
	TickInterval time.Duration
	// InferenceTimeout bounds a single Detect call. Zero disables it.
	InferenceTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Policy:       DefaultPolicy(),
		Constraints:  iface.DefaultConstraints(),
		TickInterval: DefaultTickInterval,
	}
}

func (c Config) Validate() error {
	if err := c.Policy.Validate(); err != nil {
		return err
	}
	if c.TickInterval <= 0 {
		return fmt.Errorf("tick interval must be positive, got %s", c.TickInterval)
	}
	if c.InferenceTimeout < 0 {
		return fmt.Errorf("inference timeout must not be negative, got %s", c.InferenceTimeout)
	}
	return nil
}
