package logger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNew_JSONFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "viewu.log")

	log, err := New(Config{Level: "warn", Format: "json", OutputPath: path})
	require.NoError(t, err)

	log.Info("dropped below level")
	log.Warn("transfer failed", zap.String("kind", "network"))
	require.NoError(t, log.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "transfer failed", entry["msg"])
	assert.Equal(t, "network", entry["kind"])
	assert.Contains(t, entry, "timestamp")
}

func TestNew_UnknownLevelFallsBackToInfo(t *testing.T) {
	log, err := New(Config{Level: "chatty", OutputPath: "stderr"})
	require.NoError(t, err)
	assert.True(t, log.Core().Enabled(zapcore.InfoLevel))
	assert.False(t, log.Core().Enabled(zapcore.DebugLevel))
}

func TestNewCLI(t *testing.T) {
	assert.False(t, NewCLI(false).Core().Enabled(zapcore.InfoLevel))
	assert.True(t, NewCLI(false).Core().Enabled(zapcore.WarnLevel))
	assert.True(t, NewCLI(true).Core().Enabled(zapcore.DebugLevel))
}
