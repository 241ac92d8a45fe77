package logger

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"warn":    slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
		"":        slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestNewHandler_SimpleFormat(t *testing.T) {
	var buf bytes.Buffer
	l := slog.New(NewHandler(slog.LevelInfo, &buf, FormatSimple))

	l.With("component", "retrieval").Info("search done", "results", 3)
	l.Debug("hidden")

	out := buf.String()
	assert.Equal(t, 1, strings.Count(out, "\n"))
	assert.Contains(t, out, "INFO search done")
	assert.Contains(t, out, "component=retrieval")
	assert.Contains(t, out, "results=3")
}

func TestNewHandler_WarnLevelFiltersInfo(t *testing.T) {
	var buf bytes.Buffer
	l := slog.New(NewHandler(slog.LevelWarn, &buf, FormatSimple))

	l.Info("dropped")
	l.Warn("kept")

	assert.NotContains(t, buf.String(), "dropped")
	assert.Contains(t, buf.String(), "WARN kept")
}

func TestNewHandler_JSON(t *testing.T) {
	var buf bytes.Buffer
	l := slog.New(NewHandler(slog.LevelDebug, &buf, FormatJSON))

	l.Info("hello", "k", "v")

	assert.Contains(t, buf.String(), `"msg":"hello"`)
	assert.Contains(t, buf.String(), `"k":"v"`)
}

func TestNewHandler_Group(t *testing.T) {
	var buf bytes.Buffer
	l := slog.New(NewHandler(slog.LevelInfo, &buf, FormatVerbose))

	l.WithGroup("tool").Info("called", "name", "compare_indicators")

	assert.Contains(t, buf.String(), "tool.name=compare_indicators")
}
