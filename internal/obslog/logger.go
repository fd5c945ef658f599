// Package obslog provides the structured logger used across the gateway.
//
// Every component takes a Logger at construction time rather than reaching
// for a package-level singleton, mirroring how the rest of this codebase
// threads collaborators explicitly.
package obslog

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the structured logging surface used by every component in the
// gateway. The "w" variants take alternating key/value pairs for structured
// fields, matching zap's SugaredLogger convention.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})

	Debugw(msg string, kv ...interface{})
	Infow(msg string, kv ...interface{})
	Warnw(msg string, kv ...interface{})
	Errorw(msg string, kv ...interface{})

	// With returns a child logger carrying the given key/value pairs on
	// every subsequent log line (e.g. session_id, request_id).
	With(kv ...interface{}) Logger

	Sync() error
}

type zapLogger struct {
	s *zap.SugaredLogger
}

func (l *zapLogger) Debugf(format string, args ...interface{}) { l.s.Debugf(format, args...) }
func (l *zapLogger) Infof(format string, args ...interface{})  { l.s.Infof(format, args...) }
func (l *zapLogger) Warnf(format string, args ...interface{})  { l.s.Warnf(format, args...) }
func (l *zapLogger) Errorf(format string, args ...interface{}) { l.s.Errorf(format, args...) }

func (l *zapLogger) Debugw(msg string, kv ...interface{}) { l.s.Debugw(msg, kv...) }
func (l *zapLogger) Infow(msg string, kv ...interface{})  { l.s.Infow(msg, kv...) }
func (l *zapLogger) Warnw(msg string, kv ...interface{})  { l.s.Warnw(msg, kv...) }
func (l *zapLogger) Errorw(msg string, kv ...interface{}) { l.s.Errorw(msg, kv...) }

func (l *zapLogger) With(kv ...interface{}) Logger {
	return &zapLogger{s: l.s.With(kv...)}
}

func (l *zapLogger) Sync() error { return l.s.Sync() }

// Option configures NewApplicationLogger.
type Option func(*options)

type options struct {
	development bool
	logFilePath string
	maxSizeMB   int
	maxBackups  int
	maxAgeDays  int
}

// WithDevelopment switches to a human-readable console encoder instead of JSON.
func WithDevelopment(on bool) Option {
	return func(o *options) { o.development = on }
}

// WithRotatingFile adds a lumberjack-backed rotating file sink alongside stderr.
// Off by default; ambient infra that operators opt into.
func WithRotatingFile(path string, maxSizeMB, maxBackups, maxAgeDays int) Option {
	return func(o *options) {
		o.logFilePath = path
		o.maxSizeMB = maxSizeMB
		o.maxBackups = maxBackups
		o.maxAgeDays = maxAgeDays
	}
}

// NewApplicationLogger builds the gateway's logger. The returned func flushes
// buffered log entries and should be deferred by the caller.
func NewApplicationLogger(opts ...Option) (Logger, func(), error) {
	o := &options{}
	for _, fn := range opts {
		fn(o)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	if o.development {
		encoder = zapcore.NewConsoleEncoder(encCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encCfg)
	}

	sinks := []zapcore.WriteSyncer{zapcore.AddSync(os.Stderr)}
	if o.logFilePath != "" {
		sinks = append(sinks, zapcore.AddSync(&lumberjack.Logger{
			Filename:   o.logFilePath,
			MaxSize:    o.maxSizeMB,
			MaxBackups: o.maxBackups,
			MaxAge:     o.maxAgeDays,
		}))
	}

	core := zapcore.NewCore(encoder, zapcore.NewMultiWriteSyncer(sinks...), zap.InfoLevel)
	base := zap.New(core, zap.AddCaller())

	l := &zapLogger{s: base.Sugar()}
	cleanup := func() {
		_ = l.Sync()
	}
	return l, cleanup, nil
}

// NewNop returns a Logger that discards everything; handy for tests.
func NewNop() Logger {
	return &zapLogger{s: zap.NewNop().Sugar()}
}
