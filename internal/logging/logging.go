// Package logging provides the process-wide structured logger used by every
// component of the gateway.
package logging

import (
	"os"
	"strconv"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var singleton atomic.Pointer[zap.SugaredLogger]

func init() {
	singleton.Store(newDefault())
}

func newDefault() *zap.SugaredLogger {
	var cfg zap.Config
	if unstructuredLogs() {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
	}
	l, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		// Fall back to a no-op logger rather than crash the process over
		// logging configuration.
		l = zap.NewNop()
	}
	return l.Sugar()
}

// unstructuredLogs reports whether human-readable (console) logs were
// requested via UNSTRUCTURED_LOGS. Defaults to true, a developer-friendly
// posture for local runs.
func unstructuredLogs() bool {
	v := os.Getenv("UNSTRUCTURED_LOGS")
	if v == "" {
		return true
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return true
	}
	return b
}

// SetForTest swaps the singleton logger, returning a restore function.
// Intended for use from test code that needs to capture log output.
func SetForTest(l *zap.SugaredLogger) (restore func()) {
	prev := singleton.Swap(l)
	return func() { singleton.Store(prev) }
}

func get() *zap.SugaredLogger { return singleton.Load() }

func Debug(args ...any)                  { get().Debug(args...) }
func Debugf(tmpl string, args ...any)    { get().Debugf(tmpl, args...) }
func Debugw(msg string, kv ...any)       { get().Debugw(msg, kv...) }
func Info(args ...any)                  { get().Info(args...) }
func Infof(tmpl string, args ...any)     { get().Infof(tmpl, args...) }
func Infow(msg string, kv ...any)        { get().Infow(msg, kv...) }
func Warn(args ...any)                  { get().Warn(args...) }
func Warnf(tmpl string, args ...any)     { get().Warnf(tmpl, args...) }
func Warnw(msg string, kv ...any)        { get().Warnw(msg, kv...) }
func Error(args ...any)                  { get().Error(args...) }
func Errorf(tmpl string, args ...any)    { get().Errorf(tmpl, args...) }
func Errorw(msg string, kv ...any)       { get().Errorw(msg, kv...) }
func Fatalf(tmpl string, args ...any)    { get().Fatalf(tmpl, args...) }
