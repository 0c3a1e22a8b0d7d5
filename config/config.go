package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"CoDetServer/engine"
	iface "CoDetServer/interface"

	"github.com/caarlos0/env/v11"
	"github.com/samber/lo"
	"go.uber.org/multierr"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

const DefaultPath = "config.yaml"

var (
	backends       = []string{"opencv", "remote"}
	journalDrivers = []string{"", "sqlite", "postgres"}
)

type Log struct {
	Level       string `yaml:"level" env:"LOG_LEVEL"`
	Development bool   `yaml:"development" env:"LOG_DEVELOPMENT"`
}

type Capture struct {
	Device          string `yaml:"device" env:"CAPTURE_DEVICE"`
	Width           int    `yaml:"width" env:"CAPTURE_WIDTH"`
	Height          int    `yaml:"height" env:"CAPTURE_HEIGHT"`
	MaxReadFailures int    `yaml:"maxReadFailures" env:"CAPTURE_MAX_READ_FAILURES"`
}

type Detector struct {
	TargetClassA        string        `yaml:"targetClassA" env:"TARGET_CLASS_A"`
	TargetClassB        string        `yaml:"targetClassB" env:"TARGET_CLASS_B"`
	ConfidenceThreshold float64       `yaml:"confidenceThreshold" env:"CONFIDENCE_THRESHOLD"`
	TickInterval        time.Duration `yaml:"tickInterval" env:"TICK_INTERVAL"`
	InferenceTimeout    time.Duration `yaml:"inferenceTimeout" env:"INFERENCE_TIMEOUT"`
}

type EventLog struct {
	// Capacity bounds the display log. Zero keeps every entry.
	Capacity   int `yaml:"capacity" env:"EVENT_LOG_CAPACITY"`
	SinkBuffer int `yaml:"sinkBuffer" env:"EVENT_SINK_BUFFER"`
}

type Server struct {
	HTTPAddr    string `yaml:"httpAddr" env:"HTTP_ADDR"`
	GRPCAddr    string `yaml:"grpcAddr" env:"GRPC_ADDR"`
	MetricsAddr string `yaml:"metricsAddr" env:"METRICS_ADDR"`
}

type Journal struct {
	Driver string `yaml:"driver" env:"JOURNAL_DRIVER"`
	DSN    string `yaml:"dsn" env:"JOURNAL_DSN"`
}

type Kafka struct {
	Brokers []string `yaml:"brokers" env:"KAFKA_BROKERS" envSeparator:","`
	Topic   string   `yaml:"topic" env:"KAFKA_TOPIC"`
}

type Minio struct {
	Endpoint  string `yaml:"endpoint" env:"MINIO_ENDPOINT"`
	AccessKey string `yaml:"accessKey" env:"MINIO_ACCESS_KEY"`
	SecretKey string `yaml:"secretKey" env:"MINIO_SECRET_KEY"`
	Bucket    string `yaml:"bucket" env:"MINIO_BUCKET"`
	UseSSL    bool   `yaml:"useSSL" env:"MINIO_USE_SSL"`
}

type Webhook struct {
	URL     string        `yaml:"url" env:"WEBHOOK_URL"`
	Timeout time.Duration `yaml:"timeout" env:"WEBHOOK_TIMEOUT"`
}

type Heartbeat struct {
	URL      string        `yaml:"url" env:"HEARTBEAT_URL"`
	Interval time.Duration `yaml:"interval" env:"HEARTBEAT_INTERVAL"`
}

// Config is read from a YAML file and then overridden by environment variables.
type Config struct {
	Log       Log                `yaml:"log"`
	Capture   Capture            `yaml:"capture"`
	Model     iface.EngineConfig `yaml:"model" envPrefix:"MODEL_"`
	Detector  Detector           `yaml:"detector"`
	EventLog  EventLog           `yaml:"eventLog"`
	Server    Server             `yaml:"server"`
	Journal   Journal            `yaml:"journal"`
	Kafka     Kafka              `yaml:"kafka"`
	Minio     Minio              `yaml:"minio"`
	Webhook   Webhook            `yaml:"webhook"`
	Heartbeat Heartbeat          `yaml:"heartbeat"`
}

func Default() *Config {
	policy := engine.DefaultPolicy()
	constraints := iface.DefaultConstraints()
	return &Config{
		Log: Log{Level: "info"},
		Capture: Capture{
			Device:          "0",
			Width:           constraints.Width,
			Height:          constraints.Height,
			MaxReadFailures: 30,
		},
		Model: iface.EngineConfig{
			Backend:    "opencv",
			ModelPath:  "models/yolov4-tiny.weights",
			ConfigPath: "models/yolov4-tiny.cfg",
			NamesPath:  "models/coco.names",
			InputSize:  416,
			Conf:       0.25,
			Iou:        0.45,
			Timeout:    5 * time.Second,
		},
		Detector: Detector{
			TargetClassA:        policy.TargetClassA,
			TargetClassB:        policy.TargetClassB,
			ConfidenceThreshold: policy.ConfidenceThreshold,
			TickInterval:        engine.DefaultTickInterval,
		},
		EventLog: EventLog{Capacity: 50, SinkBuffer: 256},
		Server: Server{
			HTTPAddr:    ":8080",
			GRPCAddr:    ":50051",
			MetricsAddr: ":9090",
		},
		Kafka:     Kafka{Topic: "codet.events"},
		Minio:     Minio{Bucket: "codet-snapshots"},
		Webhook:   Webhook{Timeout: 5 * time.Second},
		Heartbeat: Heartbeat{Interval: 5 * time.Second},
	}
}

// Load reads path over the defaults and applies environment overrides. A missing file is not an
// error when path is the default location.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = DefaultPath
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && path == DefaultPath:
	default:
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var err error
	if _, lvlErr := zapcore.ParseLevel(c.Log.Level); lvlErr != nil {
		err = multierr.Append(err, fmt.Errorf("log.level: %w", lvlErr))
	}
	if c.Capture.Device == "" {
		err = multierr.Append(err, errors.New("capture.device must be set"))
	}
	if !lo.Contains(backends, c.Model.Backend) {
		err = multierr.Append(err, fmt.Errorf("model.backend %q is not one of %v", c.Model.Backend, backends))
	}
	if c.Model.Backend == "remote" && c.Model.Endpoint == "" {
		err = multierr.Append(err, errors.New("model.endpoint is required for the remote backend"))
	}
	if c.Model.Backend == "opencv" && c.Model.ModelPath == "" {
		err = multierr.Append(err, errors.New("model.modelPath is required for the opencv backend"))
	}
	if verr := c.Engine().Validate(); verr != nil {
		err = multierr.Append(err, fmt.Errorf("detector: %w", verr))
	}
	if c.EventLog.Capacity < 0 {
		err = multierr.Append(err, errors.New("eventLog.capacity must not be negative"))
	}
	if !lo.Contains(journalDrivers, c.Journal.Driver) {
		err = multierr.Append(err, fmt.Errorf("journal.driver %q is not one of sqlite, postgres", c.Journal.Driver))
	}
	if c.Journal.Driver != "" && c.Journal.DSN == "" {
		err = multierr.Append(err, errors.New("journal.dsn is required when a journal driver is set"))
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		err = multierr.Append(err, errors.New("kafka.topic is required when brokers are set"))
	}
	if c.Minio.Endpoint != "" && c.Minio.Bucket == "" {
		err = multierr.Append(err, errors.New("minio.bucket is required when an endpoint is set"))
	}
	if c.Heartbeat.URL != "" && c.Heartbeat.Interval <= 0 {
		err = multierr.Append(err, errors.New("heartbeat.interval must be positive"))
	}
	return err
}

// Engine converts the detector section into an engine configuration.
func (c *Config) Engine() engine.Config {
	return engine.Config{
		Policy: engine.Policy{
			TargetClassA:        c.Detector.TargetClassA,
			TargetClassB:        c.Detector.TargetClassB,
			ConfidenceThreshold: c.Detector.ConfidenceThreshold,
		},
		Constraints: iface.Constraints{
			Width:  c.Capture.Width,
			Height: c.Capture.Height,
		},
		TickInterval:     c.Detector.TickInterval,
		InferenceTimeout: c.Detector.InferenceTimeout,
	}
}
