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
	path := filepath.Join(t.TempDir(), "bulkload.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 50051, cfg.Control.DefaultPort)
	assert.Equal(t, 3, cfg.Streaming.MaxConnectAttempts)
	assert.Equal(t, 500, cfg.Streaming.FramePartitions)
	assert.Equal(t, int64(64*1024*1024), cfg.Streaming.MaxUnitBytes)
	assert.Equal(t, int64(4*1024*1024*1024), cfg.Streaming.MaxPlanBytes)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
	assert.False(t, cfg.Metrics.Enabled)
	assert.Equal(t, 1024, cfg.Source.MaxKeySize)
	assert.Equal(t, 10*1024*1024, cfg.Source.MaxValueSize)
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
control:
  default_port: 9042
  connect_timeout: 2s
streaming:
  max_connect_attempts: 5
  throttle_mbps: 80
  max_unit_partitions: 1000
source:
  target_keyspace: restored
ignore:
  - 10.0.0.9
logging:
  level: debug
  format: json
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9042, cfg.Control.DefaultPort)
	assert.Equal(t, 2*time.Second, cfg.Control.ConnectTimeout)
	assert.Equal(t, 10*time.Second, cfg.Control.RequestTimeout)
	assert.Equal(t, 5, cfg.Streaming.MaxConnectAttempts)
	assert.Equal(t, 80.0, cfg.Streaming.ThrottleMbps)
	assert.Equal(t, 1000, cfg.Streaming.MaxUnitPartitions)
	assert.Equal(t, "restored", cfg.Source.TargetKeyspace)
	assert.Equal(t, []string{"10.0.0.9"}, cfg.Ignore)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoadConfig_Errors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = LoadConfig(writeConfig(t, "control: [not a map"))
	assert.Error(t, err)

	_, err = LoadConfig(writeConfig(t, "control:\n  default_port: 70000\n"))
	assert.ErrorContains(t, err, "default_port")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative throttle", func(c *Config) { c.Streaming.ThrottleMbps = -1 }},
		{"zero attempts", func(c *Config) { c.Streaming.MaxConnectAttempts = 0 }},
		{"backoff inverted", func(c *Config) { c.Streaming.InitialBackoff = time.Minute }},
		{"metrics without addr", func(c *Config) { c.Metrics.Enabled = true }},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }},
		{"zero frame", func(c *Config) { c.Streaming.FramePartitions = 0 }},
		{"negative key limit", func(c *Config) { c.Source.MaxKeySize = -1 }},
		{"plan smaller than a unit", func(c *Config) { c.Streaming.MaxPlanBytes = 1024 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
