// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package logger configures the process-wide slog logger.
//
// Logs emitted from finrag packages respect the configured level. Logs from
// third-party libraries that also write through slog are only shown at DEBUG.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"sync"

	"golang.org/x/term"
)

const packagePrefix = "github.com/kadirpekel/finrag"

// Output formats accepted by Init.
const (
	FormatSimple  = "simple"
	FormatVerbose = "verbose"
	FormatJSON    = "json"
)

var (
	mu            sync.Mutex
	defaultLogger *slog.Logger
)

// ParseLevel converts a string log level to slog.Level.
// Unknown values fall back to INFO.
func ParseLevel(levelStr string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(levelStr)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// filteringHandler drops third-party records unless running at DEBUG.
type filteringHandler struct {
	handler  slog.Handler
	minLevel slog.Level
}

func (h *filteringHandler) Enabled(ctx context.Context, level slog.Level) bool {
	if level < h.minLevel {
		return false
	}
	return h.handler.Enabled(ctx, level)
}

func (h *filteringHandler) Handle(ctx context.Context, record slog.Record) error {
	if h.minLevel <= slog.LevelDebug || ownRecord(record.PC) {
		return h.handler.Handle(ctx, record)
	}
	return nil
}

func (h *filteringHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &filteringHandler{handler: h.handler.WithAttrs(attrs), minLevel: h.minLevel}
}

func (h *filteringHandler) WithGroup(name string) slog.Handler {
	return &filteringHandler{handler: h.handler.WithGroup(name), minLevel: h.minLevel}
}

// ownRecord reports whether pc belongs to a finrag package.
func ownRecord(pc uintptr) bool {
	if pc == 0 {
		return false
	}
	fn := runtime.FuncForPC(pc)
	if fn == nil {
		return false
	}
	if strings.HasPrefix(fn.Name(), packagePrefix) {
		return true
	}
	file, _ := fn.FileLine(pc)
	return strings.Contains(file, "/finrag/")
}

func levelColor(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "\033[31m"
	case level >= slog.LevelWarn:
		return "\033[33m"
	case level >= slog.LevelInfo:
		return "\033[36m"
	default:
		return "\033[90m"
	}
}

func levelName(level slog.Level) string {
	s := strings.ToUpper(level.String())
	if s == "WARNING" {
		return "WARN"
	}
	return s
}

// lineHandler writes one line per record: [time] LEVEL message key=value...
// Attributes bound via WithAttrs are carried in front of the record's own.
type lineHandler struct {
	level    slog.Leveler
	writer   io.Writer
	color    bool
	withTime bool
	attrs    []slog.Attr
	group    string

	mu *sync.Mutex
}

func (h *lineHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *lineHandler) Handle(_ context.Context, record slog.Record) error {
	var buf strings.Builder

	if h.withTime && !record.Time.IsZero() {
		buf.WriteString(record.Time.Format("2006/01/02 15:04:05 "))
	}
	if h.color {
		buf.WriteString(levelColor(record.Level))
		buf.WriteString(levelName(record.Level))
		buf.WriteString("\033[0m")
	} else {
		buf.WriteString(levelName(record.Level))
	}
	buf.WriteString(" ")
	buf.WriteString(record.Message)

	write := func(a slog.Attr) {
		buf.WriteString(" ")
		if h.group != "" {
			buf.WriteString(h.group)
			buf.WriteString(".")
		}
		buf.WriteString(a.Key)
		buf.WriteString("=")
		buf.WriteString(a.Value.String())
	}
	for _, a := range h.attrs {
		write(a)
	}
	record.Attrs(func(a slog.Attr) bool {
		write(a)
		return true
	})
	buf.WriteString("\n")

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.writer, buf.String())
	return err
}

func (h *lineHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &clone
}

func (h *lineHandler) WithGroup(name string) slog.Handler {
	clone := *h
	if clone.group != "" {
		clone.group += "." + name
	} else {
		clone.group = name
	}
	return &clone
}

// NewHandler builds the handler Init installs. Exposed for tests and for
// callers that want a scoped logger writing somewhere else.
func NewHandler(level slog.Level, output io.Writer, format string) slog.Handler {
	var base slog.Handler

	switch format {
	case FormatJSON:
		base = slog.NewJSONHandler(output, &slog.HandlerOptions{Level: level})
	default:
		color := false
		if f, ok := output.(*os.File); ok {
			color = term.IsTerminal(int(f.Fd()))
		}
		base = &lineHandler{
			level:    level,
			writer:   output,
			color:    color,
			withTime: format == FormatVerbose,
			mu:       &sync.Mutex{},
		}
	}

	return &filteringHandler{handler: base, minLevel: level}
}

// Init installs the process-wide logger.
// format is one of simple (default), verbose or json.
func Init(level slog.Level, output io.Writer, format string) {
	mu.Lock()
	defer mu.Unlock()

	defaultLogger = slog.New(NewHandler(level, output, format))
	slog.SetDefault(defaultLogger)
}

// OpenLogFile opens or creates a log file in append mode.
func OpenLogFile(path string) (*os.File, func(), error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, err
	}
	return file, func() { _ = file.Close() }, nil
}

// GetLogger returns the process-wide logger, initialising it at INFO on first use.
func GetLogger() *slog.Logger {
	mu.Lock()
	l := defaultLogger
	mu.Unlock()
	if l == nil {
		Init(slog.LevelInfo, os.Stderr, FormatSimple)
		return GetLogger()
	}
	return l
}

// Component returns a logger tagged with the component name.
func Component(name string) *slog.Logger {
	return GetLogger().With("component", name)
}
