// Package dlogger builds the zap loggers used across this repo. The
// default is a production JSON logger at info level on stderr; the
// console option switches to a human-readable encoding for CLI use.
package dlogger

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	// LogLevelDebug enables high-verbosity logging
	LogLevelDebug = "debug"

	// LogLevelInfo is the production default
	LogLevelInfo = "info"

	// LogLevelWarn only reports problems
	LogLevelWarn = "warn"

	// LogLevelNone disables logging entirely
	LogLevelNone = "none"
)

// Option configures the logger under construction
type Option func(*settings)

type settings struct {
	level   string
	console bool
	outputs []string
}

// WithLevel selects the log level by name. LogLevelNone yields a nop
// logger.
func WithLevel(level string) Option {
	return func(s *settings) {
		if level != "" {
			s.level = level
		}
	}
}

// WithConsole switches from JSON to a console encoding with capitalized
// levels, meant for interactive commands
func WithConsole() Option {
	return func(s *settings) {
		s.console = true
	}
}

// WithOutputs replaces the output paths, stderr by default
func WithOutputs(paths ...string) Option {
	return func(s *settings) {
		if len(paths) > 0 {
			s.outputs = paths
		}
	}
}

// New builds a logger from the options
func New(opts ...Option) (*zap.Logger, error) {
	s := &settings{
		level:   LogLevelInfo,
		outputs: []string{"stderr"},
	}
	for _, apply := range opts {
		apply(s)
	}
	if s.level == LogLevelNone {
		return zap.NewNop(), nil
	}

	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(s.level)); err != nil {
		return nil, fmt.Errorf("log level %q: %w", s.level, err)
	}

	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(lvl),
		Encoding:         "json",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      s.outputs,
		ErrorOutputPaths: []string{"stderr"},
		Sampling:         &zap.SamplingConfig{Initial: 100, Thereafter: 100},
	}
	if s.console {
		cfg.Encoding = "console"
		cfg.EncoderConfig = zap.NewDevelopmentEncoderConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		cfg.Sampling = nil
	}
	return cfg.Build()
}

// MustGetLogger builds a logger at the given level and panics on a bad
// configuration
func MustGetLogger(level string, opts ...Option) *zap.Logger {
	l, err := New(append([]Option{WithLevel(level)}, opts...)...)
	if err != nil {
		panic(err)
	}
	return l
}
