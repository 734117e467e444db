package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestDefaults(t *testing.T) {
	cfg, err := NewLoader().WithEnvLookup(envMap(nil)).Load()
	require.NoError(t, err)

	assert.Equal(t, 10*time.Second, cfg.Backend.ReconnectDelay)
	assert.Equal(t, "wss://beta.barkoagent.com/ws/", cfg.Backend.DefaultBase)
	assert.Equal(t, 4, cfg.Dispatch.ConcurrencyLimit)
	assert.True(t, cfg.Streaming.Enabled)
	assert.Equal(t, time.Second, cfg.Streaming.IntervalDuration())
	assert.Equal(t, []string{"1"}, cfg.Streaming.RunIDs)
	assert.Equal(t, 70, cfg.Capture.JPEGQuality)

	assert.ErrorIs(t, cfg.Validate(), ErrMissingAddress)
}

func TestPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
backend:
  address: agent-from-file
  reconnect_delay: 3s
dispatch:
  concurrency_limit: 8
streaming:
  interval: 0.5
  run_ids: ["1", "2"]
log:
  format: console
`), 0o644))

	cfg, err := NewLoader().
		WithConfigPath(path).
		WithEnvLookup(envMap(map[string]string{
			"BACKEND_ADDRESS":   "agent-from-env",
			"CONCURRENCY_LIMIT": "2",
			"ENABLE_STREAMING":  "false",
			"ETCD_ENDPOINTS":    "etcd-1:2379, etcd-2:2379",
			"RECONNECT_DELAY":   "",
		})).
		Load()
	require.NoError(t, err)

	assert.Equal(t, "agent-from-env", cfg.Backend.Address)
	assert.Equal(t, 3*time.Second, cfg.Backend.ReconnectDelay, "empty env keeps file value")
	assert.Equal(t, 2, cfg.Dispatch.ConcurrencyLimit)
	assert.False(t, cfg.Streaming.Enabled)
	assert.Equal(t, 500*time.Millisecond, cfg.Streaming.IntervalDuration())
	assert.Equal(t, []string{"1", "2"}, cfg.Streaming.RunIDs)
	assert.Equal(t, []string{"etcd-1:2379", "etcd-2:2379"}, cfg.Presence.Endpoints)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, "info", cfg.Log.Level)
	require.NoError(t, cfg.Validate())
}

func TestAddressAlias(t *testing.T) {
	cfg, err := NewLoader().WithEnvLookup(envMap(map[string]string{
		"BACKEND_WS_URI": "wss://example.com/ws/a, b",
	})).Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"wss://example.com/ws/a", "b"}, cfg.Backend.Endpoints())

	cfg, err = NewLoader().WithEnvLookup(envMap(map[string]string{
		"BACKEND_ADDRESS": "primary",
		"BACKEND_WS_URI":  "alias",
	})).Load()
	require.NoError(t, err)
	assert.Equal(t, "primary", cfg.Backend.Address)
}

func TestDurationForms(t *testing.T) {
	cfg, err := NewLoader().WithEnvLookup(envMap(map[string]string{
		"RECONNECT_DELAY":        "2.5",
		"STREAMING_IDLE_TIMEOUT": "1m",
	})).Load()
	require.NoError(t, err)
	assert.Equal(t, 2500*time.Millisecond, cfg.Backend.ReconnectDelay)
	assert.Equal(t, time.Minute, cfg.Streaming.IdleTimeout)

	_, err = NewLoader().WithEnvLookup(envMap(map[string]string{"WRITE_TIMEOUT": "soon"})).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "WRITE_TIMEOUT")
}

func TestMissingFileUsesDefaults(t *testing.T) {
	cfg, err := NewLoader().
		WithConfigPath(filepath.Join(t.TempDir(), "absent.yaml")).
		WithEnvLookup(envMap(nil)).
		Load()
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Dispatch.ConcurrencyLimit)
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Backend.Address = "agent"
	require.NoError(t, cfg.Validate())

	cfg.Dispatch.ConcurrencyLimit = 0
	cfg.Capture.JPEGQuality = 101
	cfg.Log.Level = "loud"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "concurrency_limit")
	assert.Contains(t, err.Error(), "jpeg_quality 101")
	assert.Contains(t, err.Error(), `unknown log level "loud"`)
}

func TestValidatorRuns(t *testing.T) {
	_, err := NewLoader().
		WithEnvLookup(envMap(nil)).
		WithValidator((*Config).Validate).
		Load()
	assert.ErrorIs(t, err, ErrMissingAddress)
}
