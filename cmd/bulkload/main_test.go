package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/devrev/pairdb/bulkloader/internal/config"
)

func TestRun_NoArguments(t *testing.T) {
	defer goleak.VerifyNone(t)

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), nil, &stdout, &stderr)

	assert.Equal(t, 1, code)
	assert.NotEmpty(t, stderr.String())
	assert.Contains(t, stderr.String(), "Usage:")
	assert.Contains(t, stderr.String(), "UsageError")
	assert.Empty(t, stdout.String())
}

func TestRun_Help(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"--help"}, &stdout, &stderr)
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout.String(), "--nodes")
}

func TestRun_MissingConfigFile(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run(context.Background(),
		[]string{"-d", "127.0.0.1", "--config", filepath.Join(t.TempDir(), "missing.yaml"), t.TempDir()},
		&stdout, &stderr)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr.String(), "cannot load configuration")
}

func TestRun_UnreachableSeed(t *testing.T) {
	tests := []struct {
		name  string
		args  []string
		tried string
	}{
		{"host only", []string{"-d", "127.9.9.1", "--connect-timeout", "2s", "--max-retries", "1"}, "127.9.9.1:50051"},
		{"port flag", []string{"-d", "127.9.9.1", "--port", "9042", "--connect-timeout", "2s"}, "127.9.9.1:9042"},
		{"embedded port wins", []string{"-d", "127.9.9.1:9042", "--port", "9041", "--connect-timeout", "2s"}, "127.9.9.1:9042"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			code := run(context.Background(), append(tt.args, t.TempDir()), &stdout, &stderr)
			assert.Equal(t, 1, code)
			assert.Contains(t, stderr.String(), "HostUnavailable")
			assert.Contains(t, stderr.String(), tt.tried)
		})
	}
}

func TestRun_SeedsFromEnvironment(t *testing.T) {
	t.Setenv("BULKLOAD_NODES", "127.9.9.1:9043")
	t.Setenv("BULKLOAD_CONNECT_TIMEOUT", "2s")

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{t.TempDir()}, &stdout, &stderr)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr.String(), "127.9.9.1:9043")
}

func TestSetAllConfig_FlagWinsOverEnvironment(t *testing.T) {
	t.Setenv("BULKLOAD_PORT", "9000")
	t.Setenv("BULKLOAD_TARGET_KEYSPACE", "from_env")
	t.Setenv("BULKLOAD_IGNORE", "10.0.0.1,10.0.0.2")

	cmd := newRootCommand(&bytes.Buffer{}, &bytes.Buffer{})
	require.NoError(t, cmd.Flags().Parse([]string{"--port", "9100"}))
	require.NoError(t, setAllConfig(viper.New(), cmd.Flags()))

	port, err := cmd.Flags().GetInt("port")
	require.NoError(t, err)
	assert.Equal(t, 9100, port)

	ks, err := cmd.Flags().GetString("target-keyspace")
	require.NoError(t, err)
	assert.Equal(t, "from_env", ks)

	ignore, err := cmd.Flags().GetStringSlice("ignore")
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.1", "10.0.0.2"}, ignore)
}

func TestSetAllConfig_InvalidEnvironmentValue(t *testing.T) {
	t.Setenv("BULKLOAD_MAX_RETRIES", "many")

	cmd := newRootCommand(&bytes.Buffer{}, &bytes.Buffer{})
	err := setAllConfig(viper.New(), cmd.Flags())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BULKLOAD_MAX_RETRIES")
}

func parsedFlags(t *testing.T, args ...string) (*cliFlags, *pflag.FlagSet) {
	t.Helper()
	f := &cliFlags{}
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	registerFlags(flags, f)
	require.NoError(t, flags.Parse(args))
	return f, flags
}

func TestApplyFlags(t *testing.T) {
	cfg := config.Default()
	f, flags := parsedFlags(t,
		"--throttle", "16",
		"--target-keyspace", "archive",
		"--connect-timeout", "3s",
		"--max-retries", "6",
		"--metrics-addr", "127.0.0.1:9100",
		"--verbose")
	applyFlags(cfg, f, flags)

	assert.Equal(t, 16.0, cfg.Streaming.ThrottleMbps)
	assert.Equal(t, "archive", cfg.Source.TargetKeyspace)
	assert.Equal(t, 3*time.Second, cfg.Control.ConnectTimeout)
	assert.Equal(t, 3*time.Second, cfg.Streaming.ConnectTimeout)
	assert.Equal(t, 7, cfg.Streaming.MaxConnectAttempts)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "debug", cfg.Logging.Level)

	untouched := config.Default()
	f, flags = parsedFlags(t)
	applyFlags(untouched, f, flags)
	assert.Equal(t, config.Default(), untouched)
}

func TestApplyFlags_ZeroValuesOverrideConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Streaming.ThrottleMbps = 50
	cfg.Streaming.MaxConnectAttempts = 5

	f, flags := parsedFlags(t, "--throttle", "0", "--max-retries", "0")
	applyFlags(cfg, f, flags)

	assert.Zero(t, cfg.Streaming.ThrottleMbps)
	assert.Equal(t, 1, cfg.Streaming.MaxConnectAttempts)
}

func TestSetAllConfig_EnvironmentCountsAsGiven(t *testing.T) {
	t.Setenv("BULKLOAD_THROTTLE", "0")

	cfg := config.Default()
	cfg.Streaming.ThrottleMbps = 50
	f, flags := parsedFlags(t)
	require.NoError(t, setAllConfig(viper.New(), flags))
	applyFlags(cfg, f, flags)

	assert.Zero(t, cfg.Streaming.ThrottleMbps)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := newLogger(config.LoggingConfig{Level: "info", Format: "json"}, &buf)
	require.NoError(t, err)
	logger.Debug("hidden")
	logger.Info("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)

	_, err = newLogger(config.LoggingConfig{Level: "loud"}, &buf)
	assert.Error(t, err)
}

func TestMain(m *testing.M) {
	// Stray BULKLOAD_* variables from the shell would leak into every run
	for _, kv := range os.Environ() {
		if name, _, ok := strings.Cut(kv, "="); ok && strings.HasPrefix(name, "BULKLOAD_") {
			os.Unsetenv(name)
		}
	}
	os.Exit(m.Run())
}
