package logger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNew_JSONToFile(t *testing.T) {
	out := filepath.Join(t.TempDir(), "app.log")
	log, err := New(Config{Level: "debug", Encoding: "json", OutputPath: out})
	require.NoError(t, err)

	log.Named("Scene").Debug("Overlay degraded", zap.String("scene_id", "sc1"))
	require.NoError(t, log.Sync())

	raw, err := os.ReadFile(out)
	require.NoError(t, err)
	var entry map[string]any
	require.NoError(t, json.Unmarshal(raw, &entry))
	assert.Equal(t, "DEBUG", entry["level"])
	assert.Equal(t, "Scene", entry["logger"])
	assert.Equal(t, "sc1", entry["scene_id"])
	assert.Contains(t, entry, "timestamp")
}

func TestNew_FallsBackOnBadValues(t *testing.T) {
	log, err := New(Config{Level: "loud", Encoding: "xml", OutputPath: filepath.Join(t.TempDir(), "x.log")})
	require.NoError(t, err)
	assert.True(t, log.Core().Enabled(zapcore.InfoLevel))
	assert.False(t, log.Core().Enabled(zapcore.DebugLevel))
}
