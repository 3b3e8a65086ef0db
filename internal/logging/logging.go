// Package logging wraps logrus so the rest of the codebase logs through one
// configured logger. It also carries the verbose-diagnostics toggle used by
// the request pipeline.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var std = logrus.StandardLogger()

var verbose atomic.Bool

func init() {
	if v := os.Getenv("VERBOSE_LOGGING"); v == "1" || v == "true" {
		verbose.Store(true)
	}
}

// SetupBaseLogger configures the process-wide logger defaults. Called once
// from command entry points before any other package logs.
func SetupBaseLogger() {
	std.SetOutput(os.Stderr)
	std.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	std.SetLevel(logrus.InfoLevel)
}

// SetDebug switches the base level between debug and info.
func SetDebug(enabled bool) {
	if enabled {
		std.SetLevel(logrus.DebugLevel)
		return
	}
	std.SetLevel(logrus.InfoLevel)
}

// SetVerbose toggles verbose diagnostic logging at runtime.
func SetVerbose(enabled bool) { verbose.Store(enabled) }

// IsVerbose reports whether verbose diagnostic logging is enabled.
func IsVerbose() bool { return verbose.Load() }

// ConfigureLogOutput routes log output to a rotating file under dir when
// toFile is set; otherwise output stays on stderr.
func ConfigureLogOutput(toFile bool, dir string) error {
	if !toFile {
		return nil
	}
	if dir == "" {
		return fmt.Errorf("log directory is required for file output")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}
	rotator := &lumberjack.Logger{
		Filename:   filepath.Join(dir, "chatmock.log"),
		MaxSize:    50, // megabytes
		MaxBackups: 5,
		MaxAge:     14, // days
		Compress:   true,
	}
	std.SetOutput(io.MultiWriter(os.Stderr, rotator))
	return nil
}

func Debugf(format string, args ...any) { std.Debugf(format, args...) }
func Infof(format string, args ...any)  { std.Infof(format, args...) }
func Warnf(format string, args ...any)  { std.Warnf(format, args...) }
func Errorf(format string, args ...any) { std.Errorf(format, args...) }
func Fatalf(format string, args ...any) { std.Fatalf(format, args...) }

func Debug(args ...any) { std.Debug(args...) }
func Info(args ...any)  { std.Info(args...) }
func Warn(args ...any)  { std.Warn(args...) }
func Error(args ...any) { std.Error(args...) }

// WithError returns an entry with the error attached, mirroring logrus.
func WithError(err error) *logrus.Entry { return std.WithError(err) }

// WithField returns an entry with one structured field attached.
func WithField(key string, value any) *logrus.Entry { return std.WithField(key, value) }

// WithFields returns an entry with structured fields attached.
func WithFields(fields logrus.Fields) *logrus.Entry { return std.WithFields(fields) }
