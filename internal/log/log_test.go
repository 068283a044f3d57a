package log

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithWriterText(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, Config{Level: slog.LevelInfo})

	logger.Info("hello", "key", "value")

	out := buf.String()
	assert.Contains(t, out, "hello")
	assert.Contains(t, out, "key=value")
}

func TestNewWithWriterJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, Config{JSON: true})

	logger.Info("hello", "key", "value")

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "{"), "expected JSON output, got %q", out)
	assert.Contains(t, out, `"msg":"hello"`)
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, Config{Level: slog.LevelWarn})

	logger.Debug("quiet")
	logger.Info("quiet too")
	logger.Warn("loud")

	out := buf.String()
	assert.NotContains(t, out, "quiet")
	assert.Contains(t, out, "loud")
}

func TestFromEnv(t *testing.T) {
	t.Setenv("RAG_LOG", "debug")
	t.Setenv("RAG_LOG_FORMAT", "json")

	cfg := FromEnv()
	require.Equal(t, slog.LevelDebug, cfg.Level)
	require.True(t, cfg.JSON)
}

func TestFromEnvDefaults(t *testing.T) {
	t.Setenv("RAG_LOG", "")
	t.Setenv("RAG_LOG_FORMAT", "")

	cfg := FromEnv()
	require.Equal(t, slog.LevelInfo, cfg.Level)
	require.False(t, cfg.JSON)
}

func TestNewNopDiscards(t *testing.T) {
	logger := NewNop()
	logger.Error("nothing happens")
}
