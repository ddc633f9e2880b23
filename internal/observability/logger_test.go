package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	require.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	require.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	require.Equal(t, slog.LevelError, ParseLevel(" error "))
	require.Equal(t, slog.LevelInfo, ParseLevel(""))
	require.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestLoggerFromContext_AddsFields(t *testing.T) {
	var buf bytes.Buffer
	prev := Logger()
	t.Cleanup(func() { logger.Store(prev); slog.SetDefault(prev) })
	Setup(&buf, "json", "info")

	ctx := WithSessionID(WithCorrelationID(context.Background(), "corr-1"), "sess-1")
	LoggerFromContext(ctx).Info("hello")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "hello", entry["msg"])
	require.Equal(t, "corr-1", entry["correlation_id"])
	require.Equal(t, "sess-1", entry["session_id"])
}

func TestLoggerFromContext_NoFields(t *testing.T) {
	var buf bytes.Buffer
	prev := Logger()
	t.Cleanup(func() { logger.Store(prev); slog.SetDefault(prev) })
	Setup(&buf, "text", "debug")

	LoggerFromContext(context.Background()).Debug("plain")
	out := buf.String()
	require.Contains(t, out, "msg=plain")
	require.False(t, strings.Contains(out, "correlation_id"))
}

func TestSetup_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	prev := Logger()
	t.Cleanup(func() { logger.Store(prev); slog.SetDefault(prev) })
	Setup(&buf, "json", "warn")

	Logger().Info("dropped")
	require.Zero(t, buf.Len())
	Logger().Warn("kept")
	require.Contains(t, buf.String(), "kept")
}

func TestCorrelationID(t *testing.T) {
	require.Empty(t, CorrelationID(context.Background()))
	require.Equal(t, "x", CorrelationID(WithCorrelationID(context.Background(), "x")))
}
