// Package logging owns the per-day report log file and the run loggers.
//
// The log file format is a contract with the operators' log tooling: one file
// per calendar date, append-only lines of the form
//
//	[yyyy-MM-dd HH:mm:ss] [LEVEL] message
//
// Each entry is written with an open-append-close cycle so a concurrent
// writer (which the daily cadence should never produce, but might) cannot be
// starved by a long-held exclusive handle.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const filePrefix = "changereport"

// Sink owns the log directory for one run.
type Sink struct {
	dir   string
	level zapcore.Level
	clock func() time.Time
}

// NewSink creates the log directory if absent and returns a sink writing at
// the given minimum level.
func NewSink(dir string, level zapcore.Level) (*Sink, error) {
	if dir == "" {
		dir = "./logs"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating log directory %s: %w", dir, err)
	}
	return &Sink{dir: dir, level: level, clock: time.Now}, nil
}

// Dir returns the sink's directory.
func (s *Sink) Dir() string { return s.dir }

// FilePath returns the log file for the given calendar date.
func (s *Sink) FilePath(day time.Time) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s-%s.log", filePrefix, day.Format("2006-01-02")))
}

// Core returns a zap core emitting the bracketed line format into the
// current day's file.
func (s *Sink) Core() zapcore.Core {
	return zapcore.NewCore(newLineEncoder(), zapcore.Lock(appendWriter{sink: s}), s.level)
}

// WriteArtifact persists an auxiliary document (undelivered mail body,
// test-mode report) under a timestamped name and returns its path.
func (s *Sink) WriteArtifact(name string, data []byte) (string, error) {
	path := filepath.Join(s.dir, fmt.Sprintf("%s-%s.html", name, s.clock().Format("20060102-150405")))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("writing artifact %s: %w", path, err)
	}
	return path, nil
}

// appendWriter opens, appends and closes the day file on every write. The
// day is resolved per entry so a run crossing midnight rolls over naturally.
type appendWriter struct {
	sink *Sink
}

func (w appendWriter) Write(p []byte) (int, error) {
	f, err := os.OpenFile(w.sink.FilePath(w.sink.clock()), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, err
	}
	n, err := f.Write(p)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return n, err
}

func (w appendWriter) Sync() error { return nil }

func newLineEncoder() zapcore.Encoder {
	cfg := zapcore.EncoderConfig{
		TimeKey:          "ts",
		LevelKey:         "level",
		MessageKey:       "msg",
		LineEnding:       zapcore.DefaultLineEnding,
		ConsoleSeparator: " ",
		EncodeTime: func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
			enc.AppendString("[" + t.Format("2006-01-02 15:04:05") + "]")
		},
		EncodeLevel: func(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
			enc.AppendString("[" + levelName(l) + "]")
		},
		EncodeDuration: zapcore.StringDurationEncoder,
	}
	return zapcore.NewConsoleEncoder(cfg)
}

// levelName maps zap levels onto the names the log contract uses.
func levelName(l zapcore.Level) string {
	switch l {
	case zapcore.DebugLevel:
		return "DEBUG"
	case zapcore.InfoLevel:
		return "INFO"
	case zapcore.WarnLevel:
		return "WARNING"
	default:
		return "ERROR"
	}
}

// NewConsoleLogger builds the process logger used before the file sink
// exists (flag errors, guard trips, config failures).
func NewConsoleLogger(debug bool) *zap.Logger {
	cfg := zap.NewProductionConfig()
	if debug {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.DisableStacktrace = true
	cfg.EncoderConfig.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.UTC().Format(time.RFC3339))
	}
	cfg.EncoderConfig.TimeKey = "ts"
	logger, err := cfg.Build()
	if err != nil {
		// Logger construction only fails on invalid config, which is static here.
		panic(fmt.Sprintf("failed to set up logger: %v", err))
	}
	return logger
}

// NewRunLogger tees the console logger with the day-file sink. Everything
// logged during the report cycle lands in both places.
func NewRunLogger(debug bool, sink *Sink) *zap.SugaredLogger {
	console := NewConsoleLogger(debug)
	core := zapcore.NewTee(console.Core(), sink.Core())
	return zap.New(core, zap.WithCaller(false)).Sugar()
}
