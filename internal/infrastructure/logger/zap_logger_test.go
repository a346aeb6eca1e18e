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

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, parseLevel("debug"))
	assert.Equal(t, zapcore.WarnLevel, parseLevel("warn"))
	assert.Equal(t, zapcore.InfoLevel, parseLevel("chatty"))
}

func TestNewFileLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trades.log")

	log, err := NewFileLogger(path, "info")
	require.NoError(t, err)
	log.Debug("dropped")
	log.Info("Position closed", zap.String("position_id", "p1"), zap.Float64("realized_pnl", 12.5))
	require.NoError(t, log.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "Position closed", entry["msg"])
	assert.Equal(t, "p1", entry["position_id"])
	assert.Equal(t, 12.5, entry["realized_pnl"])
}
