// Package logging sets up the zap logger the rest of the library uses.
package logging

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"
)

// Config is the configuration for the logging subsystem.
type Config struct {
	// Level is the logging level.
	Level zapcore.Level `yaml:"level"`
	// OutputPaths names the sinks log lines are written to, in zap's
	// OutputPaths form ("stderr", "stdout", or a file path). This
	// library is meant to be embedded in scripts and test harnesses, not
	// run as a long-lived daemon, so unlike a daemon's fixed stderr sink
	// the caller picks where logs land (e.g. a per-run log file); an
	// empty slice falls back to stderr.
	OutputPaths []string `yaml:"output_paths"`
}

// Init initializes the logging subsystem.
func Init(cfg *Config) (*zap.SugaredLogger, zap.AtomicLevel, error) {
	outputPaths := cfg.OutputPaths
	if len(outputPaths) == 0 {
		outputPaths = []string{"stderr"}
	}

	encoderConfig := zap.NewDevelopmentEncoderConfig()
	if writesToTerminal(outputPaths) {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}

	config := zap.Config{
		Level:            zap.NewAtomicLevelAt(cfg.Level),
		Development:      false,
		Encoding:         "console",
		EncoderConfig:    encoderConfig,
		OutputPaths:      outputPaths,
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := config.Build()
	if err != nil {
		return nil, zap.AtomicLevel{}, fmt.Errorf("failed to initialize logger: %w", err)
	}

	return logger.Sugar(), config.Level, nil
}

// writesToTerminal reports whether any of paths names a standard stream
// currently attached to a terminal, in which case colorized level output
// is worth the escape codes. A file sink never gets color codes written
// into it regardless of what stderr happens to be.
func writesToTerminal(paths []string) bool {
	for _, p := range paths {
		switch p {
		case "stderr":
			if term.IsTerminal(int(os.Stderr.Fd())) {
				return true
			}
		case "stdout":
			if term.IsTerminal(int(os.Stdout.Fd())) {
				return true
			}
		}
	}
	return false
}

// NullLogger returns a logger that discards everything, equivalent to a
// caller who wants the library's control-flow to run but no log output.
func NullLogger() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

// LogSet fans a log call out to every logger a controller was constructed
// with. Controllers accept zero or more loggers (spec design note: "a
// list of sinks, append-only, owned by the controller"); a nil entry is
// skipped so callers may pass NullLogger() or leave the list empty.
type LogSet []*zap.SugaredLogger

func (s LogSet) Errorw(msg string, kv ...any) {
	for _, l := range s {
		if l != nil {
			l.Errorw(msg, kv...)
		}
	}
}

func (s LogSet) Warnw(msg string, kv ...any) {
	for _, l := range s {
		if l != nil {
			l.Warnw(msg, kv...)
		}
	}
}

func (s LogSet) Debugw(msg string, kv ...any) {
	for _, l := range s {
		if l != nil {
			l.Debugw(msg, kv...)
		}
	}
}
