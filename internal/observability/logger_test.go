package observability

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"lanchat/internal/config"
)

func restoreGlobals(t *testing.T) {
	t.Helper()
	prev := zap.L()
	t.Cleanup(func() {
		zap.ReplaceGlobals(prev)
		log.SetOutput(os.Stderr)
		log.SetFlags(log.LstdFlags)
		log.SetPrefix("")
	})
}

func TestSetupLoggerWritesJSONFile(t *testing.T) {
	restoreGlobals(t)
	path := filepath.Join(t.TempDir(), "nested", "chat.log")

	logger, err := SetupLogger(config.LogConfig{
		Level:   "info",
		Format:  "json",
		Outputs: []string{path},
	})
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.Named("host").Info("server started", zap.Int("port", 4000))
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "server started", entry["msg"])
	assert.Equal(t, "host", entry["logger"])
	assert.EqualValues(t, 4000, entry["port"])
	assert.Same(t, logger, zap.L())
}

func TestSetupLoggerRedirectsStdLog(t *testing.T) {
	restoreGlobals(t)
	path := filepath.Join(t.TempDir(), "std.log")

	logger, err := SetupLogger(config.LogConfig{Level: "debug", Format: "json", Outputs: []string{path}})
	require.NoError(t, err)

	log.Print("[INFO] mdns: Closing client")
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "mdns: Closing client")
}

func TestSetupLoggerRotation(t *testing.T) {
	restoreGlobals(t)
	dir := t.TempDir()
	rotated := filepath.Join(dir, "rotated.log")

	logger, err := SetupLogger(config.LogConfig{
		Level:   "warning",
		Outputs: []string{filepath.Join(dir, "ignored.log")},
		Rotation: config.RotationConfig{
			Enable:   true,
			Filename: rotated,
		},
	})
	require.NoError(t, err)

	logger.Warn("peer write failed")
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(rotated)
	require.NoError(t, err)
	assert.Contains(t, string(data), "peer write failed")
	assert.NoFileExists(t, filepath.Join(dir, "ignored.log"))
}

func TestSetupLoggerRejectsUnknownLevel(t *testing.T) {
	restoreGlobals(t)
	_, err := SetupLogger(config.LogConfig{Level: "chatty", Outputs: []string{"stderr"}})
	assert.Error(t, err)
}
