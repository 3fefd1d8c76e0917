package logutil

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerTraceLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, LevelTrace)
	logger.Log(t.Context(), LevelTrace, "step", "pos", 3)

	out := buf.String()
	assert.Contains(t, out, "level=TRACE")
	assert.Contains(t, out, "source=logutil_test.go:")
	assert.Contains(t, out, "pos=3")
}

func TestTraceDisabled(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	Install(&buf, slog.LevelDebug)
	Trace("hidden")
	slog.Debug("shown")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown")
}

func TestTraceEnabled(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	Install(&buf, LevelTrace)
	Trace("visible", "token", 7)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "level=TRACE")
	assert.Contains(t, lines[0], "source=logutil_test.go:")
	assert.Contains(t, lines[0], "token=7")
}

func TestSince(t *testing.T) {
	attr := Since("elapsed", time.Now().Add(-2*time.Second))
	assert.Equal(t, "elapsed", attr.Key)
	assert.GreaterOrEqual(t, attr.Value.Duration(), 2*time.Second)
}
