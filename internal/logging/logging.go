// Package logging builds the daemon's slog logger.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options selects the log level and sink.
type Options struct {
	Level      string // debug, info, warn or error
	File       string // empty logs to stderr
	MaxSizeMB  int
	MaxBackups int
}

// ParseLevel maps a level name to a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// New returns a tint-formatted logger. With a file configured, output goes
// through a rotating lumberjack writer without colour. The returned closer
// releases the file and is a no-op for stderr.
func New(o Options) (*slog.Logger, io.Closer, error) {
	level, err := ParseLevel(o.Level)
	if err != nil {
		return nil, nil, err
	}

	if o.File == "" {
		return NewWithWriter(os.Stderr, level, false), nopCloser{}, nil
	}

	w := &lumberjack.Logger{
		Filename:   o.File,
		MaxSize:    o.MaxSizeMB,
		MaxBackups: o.MaxBackups,
	}
	return NewWithWriter(w, level, true), w, nil
}

// NewWithWriter returns a tint logger writing to w.
func NewWithWriter(w io.Writer, level slog.Level, noColor bool) *slog.Logger {
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: time.RFC3339,
		NoColor:    noColor,
	}))
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
