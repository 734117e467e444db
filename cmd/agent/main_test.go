package main

import (
	"testing"

	"remote-agent/config"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestInitLogger(t *testing.T) {
	logger, err := initLogger(config.LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))

	logger, err = initLogger(config.LogConfig{Level: "warn", Format: "json"})
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))

	_, err = initLogger(config.LogConfig{Level: "loud", Format: "json"})
	assert.Error(t, err)
}

func TestLoadConfigFlags(t *testing.T) {
	t.Setenv("BACKEND_ADDRESS", "agent-7")
	t.Setenv("LOG_LEVEL", "info")

	cfg, err := loadConfig(pflag.NewFlagSet("run", pflag.ContinueOnError), []string{"--log-level", "debug"})
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, []string{"agent-7"}, cfg.Backend.Endpoints())

	_, err = loadConfig(pflag.NewFlagSet("run", pflag.ContinueOnError), []string{"--bogus"})
	assert.Error(t, err)
}
