package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	e := cfg.Engine()
	assert.Equal(t, "person", e.Policy.TargetClassA)
	assert.Equal(t, "dog", e.Policy.TargetClassB)
	assert.Equal(t, 0.6, e.Policy.ConfidenceThreshold)
	assert.Equal(t, 1280, e.Constraints.Width)
	assert.Equal(t, 720, e.Constraints.Height)
	assert.Equal(t, 50, cfg.EventLog.Capacity)
}

func TestLoad(t *testing.T) {
	t.Run("Test File", func(t *testing.T) {
		path := writeConfig(t, `
detector:
  targetClassA: car
  targetClassB: bicycle
  confidenceThreshold: 0.4
  tickInterval: 100ms
model:
  backend: remote
  endpoint: http://detector:8080
  names: [car, bicycle]
journal:
  driver: sqlite
  dsn: events.db
`)
		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "car", cfg.Detector.TargetClassA)
		assert.Equal(t, 100*time.Millisecond, cfg.Detector.TickInterval)
		assert.Equal(t, "http://detector:8080", cfg.Model.Endpoint)
		assert.Equal(t, []string{"car", "bicycle"}, cfg.Model.Names)
		assert.Equal(t, ":8080", cfg.Server.HTTPAddr, "unset keys keep their defaults")
	})

	t.Run("Test Environment Overrides File", func(t *testing.T) {
		path := writeConfig(t, "detector:\n  confidenceThreshold: 0.4\n")
		t.Setenv("CONFIDENCE_THRESHOLD", "0.75")
		t.Setenv("MODEL_CONF", "0.3")
		t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
		t.Setenv("EVENT_LOG_CAPACITY", "0")

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, 0.75, cfg.Detector.ConfidenceThreshold)
		assert.Equal(t, float32(0.3), cfg.Model.Conf)
		assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
		assert.Zero(t, cfg.EventLog.Capacity)
	})

	t.Run("Test Missing Explicit File", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})

	t.Run("Test Bad YAML", func(t *testing.T) {
		_, err := Load(writeConfig(t, "detector: ["))
		assert.Error(t, err)
	})

	t.Run("Test Invalid Values", func(t *testing.T) {
		_, err := Load(writeConfig(t, "detector:\n  targetClassB: person\n"))
		assert.ErrorContains(t, err, "target classes must differ")
	})
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"Log Level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"Backend", func(c *Config) { c.Model.Backend = "tflite" }, "model.backend"},
		{"Remote Endpoint", func(c *Config) { c.Model.Backend = "remote" }, "model.endpoint"},
		{"Threshold", func(c *Config) { c.Detector.ConfidenceThreshold = 1.5 }, "confidence threshold"},
		{"Tick", func(c *Config) { c.Detector.TickInterval = 0 }, "tick interval"},
		{"Capacity", func(c *Config) { c.EventLog.Capacity = -1 }, "eventLog.capacity"},
		{"Journal Driver", func(c *Config) { c.Journal.Driver = "mysql" }, "journal.driver"},
		{"Journal DSN", func(c *Config) { c.Journal.Driver = "postgres" }, "journal.dsn"},
		{"Kafka Topic", func(c *Config) { c.Kafka.Brokers = []string{"k:9092"}; c.Kafka.Topic = "" }, "kafka.topic"},
		{"Heartbeat", func(c *Config) { c.Heartbeat.URL = "http://reg"; c.Heartbeat.Interval = 0 }, "heartbeat.interval"},
	}
	for _, c := range cases {
		t.Run("Test "+c.name, func(t *testing.T) {
			cfg := Default()
			c.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), c.want)
		})
	}

	t.Run("Test Collects All", func(t *testing.T) {
		cfg := Default()
		cfg.Log.Level = "loud"
		cfg.Journal.Driver = "mysql"
		err := cfg.Validate()
		assert.ErrorContains(t, err, "log.level")
		assert.ErrorContains(t, err, "journal.driver")
	})
}
