// Copyright 2026 The Praetor Authors
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

// Package logger initializes the process-wide slog logger.
//
// The logger is set as the slog default so every package (and any library
// that logs through slog) shares the same handler. Output is colored when
// attached to a terminal.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// LevelTrace sits below slog.LevelDebug. The config surface accepts "trace"
// and it maps here.
const LevelTrace = slog.Level(-8)

// ParseLevel converts a config log level string to a slog.Level.
// Valid levels: trace, debug, info, warn, error. Unknown strings fall back
// to info.
func ParseLevel(levelStr string) slog.Level {
	switch strings.ToLower(levelStr) {
	case "trace":
		return LevelTrace
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
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

func levelString(level slog.Level) string {
	if level <= LevelTrace {
		return "TRACE"
	}
	s := level.String()
	if s == "WARNING" {
		s = "WARN"
	}
	return strings.ToUpper(s)
}

func isTerminal(file *os.File) bool {
	if fileInfo, err := file.Stat(); err == nil {
		return (fileInfo.Mode() & os.ModeCharDevice) != 0
	}
	return false
}

// textHandler formats records as "LEVEL message key=value ...", optionally
// colored and optionally prefixed with a timestamp (verbose format).
type textHandler struct {
	handler  slog.Handler
	writer   io.Writer
	useColor bool
	verbose  bool
	attrs    []slog.Attr
}

func (h *textHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

func (h *textHandler) Handle(ctx context.Context, record slog.Record) error {
	var buf strings.Builder

	if h.verbose && !record.Time.IsZero() {
		buf.WriteString(record.Time.Format("2006/01/02 15:04:05 "))
	}

	if h.useColor {
		buf.WriteString(levelColor(record.Level))
		buf.WriteString(levelString(record.Level))
		buf.WriteString("\033[0m")
	} else {
		buf.WriteString(levelString(record.Level))
	}
	buf.WriteString(" ")
	buf.WriteString(record.Message)

	writeAttr := func(a slog.Attr) bool {
		buf.WriteString(" ")
		buf.WriteString(a.Key)
		buf.WriteString("=")
		buf.WriteString(a.Value.String())
		return true
	}
	for _, a := range h.attrs {
		writeAttr(a)
	}
	record.Attrs(writeAttr)

	buf.WriteString("\n")

	_, err := h.writer.Write([]byte(buf.String()))
	return err
}

func (h *textHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &textHandler{
		handler:  h.handler.WithAttrs(attrs),
		writer:   h.writer,
		useColor: h.useColor,
		verbose:  h.verbose,
		attrs:    merged,
	}
}

func (h *textHandler) WithGroup(name string) slog.Handler {
	return &textHandler{
		handler:  h.handler.WithGroup(name),
		writer:   h.writer,
		useColor: h.useColor,
		verbose:  h.verbose,
		attrs:    h.attrs,
	}
}

// Init initializes the logger with the specified level and format and sets
// it as the slog default. Color is enabled automatically for terminals.
// format: "simple" (level + message, default) or "verbose" (adds timestamp).
func Init(level slog.Level, output *os.File, format string) {
	opts := &slog.HandlerOptions{Level: level}
	base := slog.NewTextHandler(output, opts)

	handler := &textHandler{
		handler:  base,
		writer:   output,
		useColor: isTerminal(output),
		verbose:  format == "verbose",
	}

	slog.SetDefault(slog.New(handler))
}

// OpenLogFile opens or creates a log file at the specified path.
// Returns the file handle and a cleanup function.
func OpenLogFile(path string) (*os.File, func(), error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, err
	}
	return file, func() { _ = file.Close() }, nil
}
