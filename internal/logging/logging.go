// Package logging provides the single "octopus" logical logger
// (spec.md §6) used across every component, generalizing the teacher's
// fmt.Fprintf(os.Stderr, "daemon: ...") idiom into a leveled,
// field-structured logger built on go.uber.org/zap (see DESIGN.md for
// why zap over the stdlib log package).
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level mirrors the configurable verbosity from spec.md §6.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

func (l Level) zapLevel() zapcore.Level {
	switch l {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// New builds the root "octopus" logger at the given level, writing to
// stderr in a console-friendly encoding so it reads naturally alongside
// forwarded collector stderr.
func New(level Level) (*zap.SugaredLogger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level.zapLevel())
	cfg.Encoding = "console"
	cfg.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}

	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.Named("octopus").Sugar(), nil
}

// Component returns a child logger tagged with the owning component,
// e.g. registry, procmgr, reader, sender, daemon.
func Component(base *zap.SugaredLogger, name string) *zap.SugaredLogger {
	return base.With("component", name)
}

// ForCollector returns a child logger tagged with the collector name,
// used to prefix forwarded child stderr the way the original prefixed
// every forwarded line with "%s: %s" % (col.name, line).
func ForCollector(base *zap.SugaredLogger, name string) *zap.SugaredLogger {
	return base.With("collector", name)
}
