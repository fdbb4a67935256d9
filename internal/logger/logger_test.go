package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "warn", "JSON")

	l.Info("dropped")
	l.Warn("kept", slog.String("prefix", "APP"))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "kept", entry["msg"])
	assert.Equal(t, "WARN", entry["level"])
	assert.Equal(t, "APP", entry["prefix"])
}

func TestNew_Pretty(t *testing.T) {
	var buf bytes.Buffer
	l := WithComponent(New(&buf, "debug", FormatPretty), "search")

	l.Debug("window fetched", slog.Int("entries", 3))

	out := buf.String()
	assert.Contains(t, out, "window fetched")
	assert.Contains(t, out, "component=search")
	assert.Contains(t, out, "entries=3")
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARNING": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, parseLevel(in), in)
	}
}
