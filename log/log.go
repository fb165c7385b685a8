// Package log provides the process-wide structured logger used by the billing
// service. It exposes printf-style and key/value helpers on top of zerolog.
package log

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

var (
	logMu    sync.RWMutex
	log      zerolog.Logger
	logLevel = LogLevelInfo
)

func init() {
	// stay quiet until Init is called, but never panic on a nil logger
	Init(LogLevelError, "stderr", nil)
}

// Init configures the global logger. The output is "stdout", "stderr" or a
// file path. If errorOutput is not nil, errors are also written there.
func Init(level, output string, errorOutput io.Writer) {
	var out io.Writer
	switch output {
	case "stdout":
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	case "stderr", "":
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	default:
		f, err := os.OpenFile(output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
		if err != nil {
			panic(fmt.Sprintf("cannot open log output %s: %v", output, err))
		}
		out = f
	}
	if errorOutput != nil {
		out = zerolog.MultiLevelWriter(out, &errorWriter{w: errorOutput})
	}
	setLogger(zerolog.New(out).With().Timestamp().Logger(), level)
}

// InitWithWriter configures the global logger to write JSON lines to w.
func InitWithWriter(level string, w io.Writer) {
	setLogger(zerolog.New(w).With().Timestamp().Logger(), level)
}

func setLogger(l zerolog.Logger, level string) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
		level = LogLevelInfo
	}
	logMu.Lock()
	defer logMu.Unlock()
	log = l.Level(lvl)
	logLevel = strings.ToLower(level)
}

// Level returns the current log level name.
func Level() string {
	logMu.RLock()
	defer logMu.RUnlock()
	return logLevel
}

// Logger returns a copy of the underlying zerolog logger.
func Logger() zerolog.Logger {
	logMu.RLock()
	defer logMu.RUnlock()
	return log
}

// errorWriter forwards only error-or-worse records.
type errorWriter struct {
	w io.Writer
}

func (e *errorWriter) Write(p []byte) (int, error) {
	return len(p), nil
}

func (e *errorWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	if level < zerolog.ErrorLevel {
		return len(p), nil
	}
	return e.w.Write(p)
}

func Debug(args ...any) {
	l := Logger()
	l.Debug().Msg(fmt.Sprint(args...))
}

func Debugf(template string, args ...any) {
	l := Logger()
	l.Debug().Msgf(template, args...)
}

// Debugw logs msg with the given key/value pairs.
func Debugw(msg string, keyvals ...any) {
	l := Logger()
	l.Debug().Fields(keyvals).Msg(msg)
}

func Info(args ...any) {
	l := Logger()
	l.Info().Msg(fmt.Sprint(args...))
}

func Infof(template string, args ...any) {
	l := Logger()
	l.Info().Msgf(template, args...)
}

// Infow logs msg with the given key/value pairs.
func Infow(msg string, keyvals ...any) {
	l := Logger()
	l.Info().Fields(keyvals).Msg(msg)
}

func Warn(args ...any) {
	l := Logger()
	l.Warn().Msg(fmt.Sprint(args...))
}

func Warnf(template string, args ...any) {
	l := Logger()
	l.Warn().Msgf(template, args...)
}

// Warnw logs msg with the given key/value pairs.
func Warnw(msg string, keyvals ...any) {
	l := Logger()
	l.Warn().Fields(keyvals).Msg(msg)
}

func Error(args ...any) {
	l := Logger()
	l.Error().Msg(fmt.Sprint(args...))
}

func Errorf(template string, args ...any) {
	l := Logger()
	l.Error().Msgf(template, args...)
}

// Errorw logs err together with msg and the given key/value pairs.
func Errorw(err error, msg string, keyvals ...any) {
	l := Logger()
	l.Error().Err(err).Fields(keyvals).Msg(msg)
}

func Fatal(args ...any) {
	l := Logger()
	l.Fatal().Msg(fmt.Sprint(args...))
}

func Fatalf(template string, args ...any) {
	l := Logger()
	l.Fatal().Msgf(template, args...)
}
