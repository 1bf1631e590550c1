// Package logging contains the zap-backed logger used across dice.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLoggerConfig returns a new default logger config.
func NewLoggerConfig() zap.Config {
	// from https://github.com/uber-go/zap/blob/2314926ec34c23ee21f3dd4399438469668f8097/config.go#L135
	// but disable stacktraces, use same keys as prod, and color levels.
	return zap.Config{
		Level:    zap.NewAtomicLevelAt(zap.InfoLevel),
		Encoding: "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "ts",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			FunctionKey:    zapcore.OmitKey,
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.StringDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		DisableStacktrace: true,
		OutputPaths:       []string{"stdout"},
		ErrorOutputPaths:  []string{"stderr"},
	}
}

// NewLogger returns a new logger that outputs Info+ logs to stdout in UTC.
func NewLogger(name string) Logger {
	return newImpl(name, INFO, NewLoggerConfig())
}

// NewDebugLogger returns a new logger that outputs Debug+ logs to stdout in UTC.
func NewDebugLogger(name string) Logger {
	return newImpl(name, DEBUG, NewLoggerConfig())
}

// NewStderrLogger returns a new logger at the given level that outputs to stderr, leaving
// stdout to command output.
func NewStderrLogger(name string, lvl Level) Logger {
	cfg := NewLoggerConfig()
	cfg.OutputPaths = []string{"stderr"}
	return newImpl(name, lvl, cfg)
}

// NewBlankLogger returns a logger that drops everything. Useful as a default
// when a caller did not supply one.
func NewBlankLogger(name string) Logger {
	level := zap.NewAtomicLevelAt(DEBUG.AsZap())
	return &impl{name: name, level: level, sugar: zap.NewNop().Sugar()}
}

func newImpl(name string, lvl Level, cfg zap.Config, extra ...zapcore.Core) *impl {
	level := zap.NewAtomicLevelAt(lvl.AsZap())
	cfg.Level = level
	cfg.EncoderConfig.EncodeTime = utcTimeEncoder
	base := zap.Must(cfg.Build())
	return wrap(name, level, base, extra...)
}

func wrap(name string, level zap.AtomicLevel, base *zap.Logger, extra ...zapcore.Core) *impl {
	for _, core := range extra {
		c := core
		base = base.WithOptions(zap.WrapCore(func(orig zapcore.Core) zapcore.Core {
			return zapcore.NewTee(orig, c)
		}))
	}
	return &impl{name: name, level: level, sugar: base.Sugar().Named(name)}
}
