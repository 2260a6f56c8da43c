package slogutil

import (
	"io"
	"log/slog"
	"path/filepath"

	"connidx/internal/config"
)

// Subsystems with their own log file under <root>/<dataDir>/logs.
const (
	SubsystemRun   = "run"
	SubsystemWatch = "watch"
)

// LoggerFactory builds per-subsystem loggers. Level precedence is
// CLI flag, then subsystem config, then global config, then info.
type LoggerFactory struct {
	root     string
	config   *config.Config
	cliLevel *slog.Level
	console  slog.Handler
	closers  []io.Closer
}

// NewLoggerFactory returns a factory. cliLevel is nil when no flag was given.
// A non-nil console handler also receives every subsystem record.
func NewLoggerFactory(root string, cfg *config.Config, cliLevel *slog.Level, console slog.Handler) *LoggerFactory {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	return &LoggerFactory{root: root, config: cfg, cliLevel: cliLevel, console: console}
}

// RunLogger writes to logs/run.log.
func (f *LoggerFactory) RunLogger() *slog.Logger {
	return f.subsystemLogger(SubsystemRun)
}

// WatchLogger writes to logs/watch.log.
func (f *LoggerFactory) WatchLogger() *slog.Logger {
	return f.subsystemLogger(SubsystemWatch)
}

// LogPath returns the file a subsystem logs to.
func (f *LoggerFactory) LogPath(subsystem string) string {
	return filepath.Join(f.root, f.config.DataDir, "logs", subsystem+".log")
}

// subsystemLogger never fails: an unopenable file degrades to the
// console handler alone, or to a discard logger.
func (f *LoggerFactory) subsystemLogger(subsystem string) *slog.Logger {
	if f.root == "" {
		return f.consoleOnly()
	}
	level := f.effectiveLevel(subsystem)
	fileLogger, closer, err := NewFileLoggerWithRotation(f.LogPath(subsystem), level, f.config.Logging.MaxSize, f.config.Logging.MaxBackups)
	if err != nil {
		return f.consoleOnly()
	}
	f.closers = append(f.closers, closer)

	logger := fileLogger
	if f.console != nil {
		logger = NewTeeLogger(fileLogger.Handler(), f.console)
	}
	return logger.With("subsystem", subsystem)
}

func (f *LoggerFactory) consoleOnly() *slog.Logger {
	if f.console == nil {
		return NewDiscardLogger()
	}
	return slog.New(f.console)
}

func (f *LoggerFactory) effectiveLevel(subsystem string) slog.Level {
	if f.cliLevel != nil {
		return *f.cliLevel
	}
	var sub string
	switch subsystem {
	case SubsystemRun:
		sub = f.config.Logging.Run
	case SubsystemWatch:
		sub = f.config.Logging.Watch
	}
	if sub != "" {
		return LevelFromString(sub)
	}
	if f.config.Logging.Level != "" {
		return LevelFromString(f.config.Logging.Level)
	}
	return slog.LevelInfo
}

// Close closes every file opened by the factory.
func (f *LoggerFactory) Close() error {
	var firstErr error
	for _, c := range f.closers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	f.closers = nil
	return firstErr
}
