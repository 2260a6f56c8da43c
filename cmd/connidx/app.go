package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"connidx/internal/checkpoint"
	"connidx/internal/config"
	"connidx/internal/content"
	"connidx/internal/incremental"
	"connidx/internal/metrics"
	"connidx/internal/pipeline"
	"connidx/internal/project"
	"connidx/internal/slogutil"
	"connidx/internal/storage"
)

// app bundles everything a command needs. Commands that only touch the
// registry skip the database.
type app struct {
	root     string
	cfg      *config.Config
	loggers  *slogutil.LoggerFactory
	logger   *slog.Logger
	registry *project.Registry
	db       *storage.DB
	store    *checkpoint.Store
	engine   *incremental.Engine
	metrics  *metrics.Metrics
}

// workspaceRoot returns --root or the current directory.
func workspaceRoot() (string, error) {
	if rootFlag != "" {
		return filepath.Abs(rootFlag)
	}
	return os.Getwd()
}

// cliLevel returns the level forced by -v / -q, or nil.
func cliLevel() *slog.Level {
	if verboseFlag == 0 && !quietFlag {
		return nil
	}
	level := slogutil.LevelFromVerbosity(verboseFlag, quietFlag)
	return &level
}

// loadApp loads config and the project registry.
func loadApp() (*app, error) {
	root, err := workspaceRoot()
	if err != nil {
		return nil, err
	}

	cfg, err := config.LoadConfig(root)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	level := slogutil.LevelFromString(cfg.Logging.Level)
	if l := cliLevel(); l != nil {
		level = *l
	}
	console := slogutil.NewHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	loggers := slogutil.NewLoggerFactory(root, cfg, cliLevel(), console)

	registry, err := project.Load(project.Path(filepath.Join(root, cfg.DataDir)))
	if err != nil {
		_ = loggers.Close()
		return nil, err
	}

	return &app{
		root:     root,
		cfg:      cfg,
		loggers:  loggers,
		logger:   slog.New(console),
		registry: registry,
	}, nil
}

// openApp loads the app and opens storage plus the incremental engine.
// subsystem selects the log file the engine writes to.
func openApp(subsystem string) (*app, error) {
	a, err := loadApp()
	if err != nil {
		return nil, err
	}

	switch subsystem {
	case slogutil.SubsystemWatch:
		a.logger = a.loggers.WatchLogger()
	default:
		a.logger = a.loggers.RunLogger()
	}

	db, err := storage.Open(a.root, a.cfg.DataDir, a.logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	a.db = db

	store, err := checkpoint.NewStore(db, a.logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.store = store

	var discoverer pipeline.Discoverer
	if a.cfg.Pipeline.Endpoint != "" {
		timeout := time.Duration(a.cfg.Pipeline.TimeoutMs) * time.Millisecond
		discoverer = pipeline.NewClient(a.cfg.Pipeline.Endpoint, timeout, a.logger)
	}

	source := content.NewFS(a.registry.Roots())
	a.engine = incremental.NewEngine(db, store, source, discoverer, incremental.OptionsFromConfig(a.cfg), a.logger)
	a.metrics = metrics.New()
	a.engine.SetMetrics(a.metrics)
	return a, nil
}

// project resolves a registered project id.
func (a *app) project(id string) (*project.Project, error) {
	if id == "" {
		return nil, fmt.Errorf("--project is required")
	}
	return a.registry.Get(id)
}

func (a *app) Close() {
	if a.store != nil {
		a.store.Close()
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("Failed to close database", "error", err.Error())
		}
	}
	_ = a.loggers.Close()
}

// newContext returns a context cancelled on SIGINT or SIGTERM.
func newContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
