package observability

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cory-johannsen/mathblast/internal/config"
)

func TestNewLogger_JSON(t *testing.T) {
	cfg := config.LoggingConfig{Level: "info", Format: "json"}
	logger, err := NewLogger(cfg)
	require.NoError(t, err)
	assert.NotNil(t, logger)
}

func TestNewLogger_Console(t *testing.T) {
	cfg := config.LoggingConfig{Level: "debug", Format: "console", Output: "stderr"}
	logger, err := NewLogger(cfg)
	require.NoError(t, err)
	assert.NotNil(t, logger)
}

func TestNewLogger_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.log")
	cfg := config.LoggingConfig{Level: "info", Format: "json", Output: path}
	logger, err := NewLogger(cfg)
	require.NoError(t, err)

	logger.Info("lobby offline")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "lobby offline")
}

func TestNewLogger_FileOutputAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.log")
	cfg := config.LoggingConfig{Level: "info", Format: "console", Output: path}

	for _, msg := range []string{"first session", "second session"} {
		logger, err := NewLogger(cfg)
		require.NoError(t, err)
		logger.Info(msg)
		_ = logger.Sync()
	}

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "first session")
	assert.Contains(t, string(data), "second session")
}

func TestNewLogger_InvalidLevel(t *testing.T) {
	cfg := config.LoggingConfig{Level: "trace", Format: "json"}
	_, err := NewLogger(cfg)
	assert.Error(t, err)
}

func TestNewLogger_InvalidFormat(t *testing.T) {
	cfg := config.LoggingConfig{Level: "info", Format: "xml"}
	_, err := NewLogger(cfg)
	assert.Error(t, err)
}
