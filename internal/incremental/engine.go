package incremental

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"connidx/internal/batch"
	"connidx/internal/checkpoint"
	"connidx/internal/content"
	"connidx/internal/diff"
	"connidx/internal/metrics"
	"connidx/internal/pipeline"
	"connidx/internal/remap"
	"connidx/internal/storage"
)

// Engine runs incremental maintenance for any number of projects over
// one database.
type Engine struct {
	db         *storage.DB
	store      *checkpoint.Store
	source     content.Source
	discoverer pipeline.Discoverer
	metrics    *metrics.Metrics
	opts       Options
	logger     *slog.Logger

	aligner  diff.Aligner
	remapper *remap.Remapper
	planner  *batch.Planner

	locks sync.Map // project id -> *sync.Mutex
}

// NewEngine wires an engine. discoverer may be nil when only recording
// changes; runs that need analysis then fail their batches.
func NewEngine(db *storage.DB, store *checkpoint.Store, source content.Source, discoverer pipeline.Discoverer, opts Options, logger *slog.Logger) *Engine {
	return &Engine{
		db:         db,
		store:      store,
		source:     source,
		discoverer: discoverer,
		opts:       opts,
		logger:     logger,
		aligner:    diff.Aligner{MaxCells: opts.MaxAlignCells},
		remapper:   remap.New(opts.Remap, logger),
		planner:    batch.New(opts.MaxLinesPerBatch),
	}
}

// SetMetrics attaches Prometheus instruments.
func (e *Engine) SetMetrics(m *metrics.Metrics) {
	e.metrics = m
}

// HasPendingChanges reports whether the project has checkpoints to
// process.
func (e *Engine) HasPendingChanges(ctx context.Context, projectID string) (bool, error) {
	return e.store.HasPending(ctx, projectID)
}

// lock serialises work on one project.
func (e *Engine) lock(projectID string) func() {
	v, _ := e.locks.LoadOrStore(projectID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// RunAll runs every project, at most ProjectConcurrency at a time. A
// failing project never stops the others; results keep the order of
// projectIDs and errs holds one entry per failed project.
func (e *Engine) RunAll(ctx context.Context, projectIDs []string) ([]*Result, []error) {
	results := make([]*Result, len(projectIDs))
	errs := make([]error, len(projectIDs))

	limit := e.opts.ProjectConcurrency
	if limit <= 0 {
		limit = 1
	}
	var g errgroup.Group
	g.SetLimit(limit)
	for i, id := range projectIDs {
		g.Go(func() error {
			results[i], errs[i] = e.RunIncremental(ctx, id)
			return nil
		})
	}
	_ = g.Wait()

	var failed []error
	for i, err := range errs {
		if err != nil {
			failed = append(failed, fmt.Errorf("project %s: %w", projectIDs[i], err))
		}
	}
	return results, failed
}
