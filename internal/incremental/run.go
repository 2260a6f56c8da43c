package incremental

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"connidx/internal/batch"
	"connidx/internal/checkpoint"
	"connidx/internal/diff"
	cerrors "connidx/internal/errors"
	"connidx/internal/pipeline"
	"connidx/internal/remap"
	"connidx/internal/storage"
)

// fileJob is the in-memory state of one pending file during a run.
type fileJob struct {
	entry *checkpoint.Entry
	file  *storage.File // last reconciled row, nil when not indexed

	remove   bool
	newText  string
	newLines []string
	plan     *remap.Plan
	work     batch.FileWork

	records   []pipeline.Record
	batchFail bool
}

func (j *fileJob) path() string {
	return j.entry.FilePath
}

// RunIncremental processes every pending checkpoint of a project. It only
// returns an error when the checkpoints cannot be loaded or the context
// ends; file and batch failures are reported in the result and leave the
// affected checkpoints in place for the next run.
func (e *Engine) RunIncremental(ctx context.Context, projectID string) (*Result, error) {
	unlock := e.lock(projectID)
	defer unlock()

	start := time.Now()
	res := &Result{ProjectID: projectID}

	snap, err := e.store.Load(ctx, projectID)
	if err != nil {
		return nil, cerrors.Transient("failed to load checkpoints", err)
	}
	res.Stats.CheckpointsSkipped = len(snap.Skipped)
	e.metrics.SkippedRows(len(snap.Skipped))

	if len(snap.Entries) == 0 {
		res.Success = true
		res.Stats.Duration = time.Since(start)
		e.logger.Debug("No pending changes", "project", projectID)
		return res, nil
	}
	res.RunID = uuid.New().String()

	e.logger.Info("Starting incremental run",
		"project", projectID,
		"run", res.RunID,
		"files", len(snap.Entries),
	)

	var jobs []*fileJob
	for _, key := range snap.Keys() {
		if err := ctx.Err(); err != nil {
			return e.finish(ctx, res, start, err)
		}
		job, err := e.prepare(ctx, snap.Entries[key])
		if err != nil {
			e.fail(res, key.FilePath, err)
			continue
		}
		res.Stats.RemapInconsistencies += job.plan.Inconsistencies
		jobs = append(jobs, job)
	}

	if err := e.discover(ctx, projectID, jobs, res); err != nil {
		return e.finish(ctx, res, start, err)
	}

	for _, job := range jobs {
		if err := ctx.Err(); err != nil {
			return e.finish(ctx, res, start, err)
		}
		if job.batchFail {
			res.Stats.FilesDeferred++
			continue
		}
		if err := e.commit(ctx, projectID, job, &res.Stats); err != nil {
			e.fail(res, job.path(), err)
			continue
		}
		res.Stats.FilesProcessed++
	}

	return e.finish(ctx, res, start, nil)
}

func (e *Engine) fail(res *Result, path string, err error) {
	e.logger.Warn("Failed to process file",
		"project", res.ProjectID,
		"file", path,
		"error", err.Error(),
	)
	res.Stats.FilesFailed++
	res.Failures = append(res.Failures, FileFailure{Path: path, Error: err.Error()})
}

// finish computes the summary, writes the history row and reports
// metrics. runErr is returned alongside the partial result.
func (e *Engine) finish(ctx context.Context, res *Result, start time.Time, runErr error) (*Result, error) {
	res.Stats.Duration = time.Since(start)
	res.Success = runErr == nil && res.Stats.FilesFailed == 0 && res.Stats.BatchesFailed == 0

	if err := e.saveRun(context.WithoutCancel(ctx), res, start); err != nil {
		e.logger.Warn("Failed to save run history", "project", res.ProjectID, "error", err.Error())
	}

	s := res.Stats
	e.metrics.RunFinished(res.ProjectID, res.Success, s.Duration)
	e.metrics.Files("processed", s.FilesProcessed)
	e.metrics.Files("failed", s.FilesFailed)
	e.metrics.Files("deferred", s.FilesDeferred)
	e.metrics.Outcomes(string(remap.NoChange), s.ConnectionsUnchanged)
	e.metrics.Outcomes(string(remap.LinesUpdated), s.ConnectionsLinesUpdated)
	e.metrics.Outcomes(string(remap.LinesAndCodeUpdated), s.ConnectionsCodeUpdated)
	e.metrics.Outcomes(string(remap.NeedsResplit), s.ConnectionsResplit)
	e.metrics.Outcomes(string(remap.Deleted), s.ConnectionsDeleted)
	e.metrics.Inconsistencies(s.RemapInconsistencies)
	e.metrics.Pending(res.ProjectID, s.FilesFailed+s.FilesDeferred)

	e.logger.Info("Incremental run complete",
		"project", res.ProjectID,
		"run", res.RunID,
		"success", res.Success,
		"filesProcessed", s.FilesProcessed,
		"filesFailed", s.FilesFailed,
		"filesDeferred", s.FilesDeferred,
		"connectionsUpdated", s.ConnectionsLinesUpdated+s.ConnectionsCodeUpdated,
		"connectionsDeleted", s.ConnectionsDeleted,
		"connectionsResplit", s.ConnectionsResplit,
		"connectionsInserted", s.ConnectionsInserted,
		"batchesSent", s.BatchesSent,
		"batchesFailed", s.BatchesFailed,
		"duration", s.Duration.String(),
	)

	if runErr != nil {
		return res, fmt.Errorf("incremental run interrupted: %w", runErr)
	}
	return res, nil
}

func (e *Engine) saveRun(ctx context.Context, res *Result, start time.Time) error {
	stats, err := json.Marshal(res.Stats)
	if err != nil {
		return err
	}
	return storage.NewRunRepository(e.db).Create(ctx, &storage.Run{
		ID:         res.RunID,
		ProjectID:  res.ProjectID,
		StartedAt:  start,
		FinishedAt: time.Now(),
		Success:    res.Success,
		StatsJSON:  string(stats),
	})
}

// prepare diffs one entry against its baseline and remaps the file's
// connections. Nothing is written.
func (e *Engine) prepare(ctx context.Context, entry *checkpoint.Entry) (*fileJob, error) {
	file, err := storage.NewFileRepository(e.db).Get(ctx, entry.ProjectID, entry.FilePath)
	if err != nil {
		return nil, cerrors.Transient("failed to read file row", err)
	}
	job := &fileJob{entry: entry, file: file, plan: &remap.Plan{}}

	if entry.ChangeType == checkpoint.Deleted {
		job.remove = true
		return job, nil
	}
	if entry.NewCode == nil {
		return nil, cerrors.Malformed(fmt.Sprintf("%s entry without new content", entry.ChangeType))
	}

	job.newText = *entry.NewCode
	job.newLines = diff.SplitLines(job.newText)
	job.work = batch.FileWork{Path: entry.FilePath, LineCount: len(job.newLines)}

	// Connections are anchored to the reconciled content, which is also
	// what the checkpoint captured as its baseline. Without a files row
	// nothing is indexed yet and the whole file is new work.
	if file == nil {
		job.work.NewFile = true
		return job, nil
	}

	conns, err := storage.NewConnectionRepository(e.db).ListByFile(ctx, file.ID)
	if err != nil {
		return nil, cerrors.Transient("failed to list connections", err)
	}

	oldLines := diff.SplitLines(file.Content)
	result := diff.Derive(e.aligner.Align(oldLines, job.newLines), len(oldLines), len(job.newLines))
	job.plan = e.remapper.Remap(conns, result, job.newLines)
	job.work.Added = result.Added
	job.work.Claimed = job.plan.Claimed
	job.work.Resplits = job.plan.Resplits

	counts := job.plan.Counts()
	e.logger.Debug("Prepared file",
		"project", entry.ProjectID,
		"file", entry.FilePath,
		"change", string(entry.ChangeType),
		"connections", len(conns),
		"added", len(result.Added),
		"replaced", len(result.ReplacedRanges),
		"resplits", len(job.plan.Resplits),
		"folded", len(job.plan.Folded),
		"unchanged", counts[remap.NoChange],
		"shifted", counts[remap.LinesUpdated]+counts[remap.LinesAndCodeUpdated],
		"needs_resplit", counts[remap.NeedsResplit],
		"deleted", counts[remap.Deleted],
	)
	return job, nil
}

// discover plans the batches of all jobs and sends them one at a time.
// A failed batch marks every file it carries so that none of them
// commits in this run.
func (e *Engine) discover(ctx context.Context, projectID string, jobs []*fileJob, res *Result) error {
	byPath := make(map[string]*fileJob, len(jobs))
	var work []batch.FileWork
	for _, job := range jobs {
		byPath[job.path()] = job
		if !job.remove {
			work = append(work, job.work)
		}
	}

	for _, b := range e.planner.Plan(work) {
		if err := ctx.Err(); err != nil {
			return err
		}
		records, err := e.send(ctx, projectID, b)
		e.metrics.Batch(err == nil, b.Lines())
		if err != nil {
			res.Stats.BatchesFailed++
			e.logger.Warn("Discovery batch failed",
				"project", projectID,
				"batch", b.Index,
				"units", len(b.Units),
				"lines", b.Lines(),
				"error", err.Error(),
			)
			for _, path := range b.Files() {
				byPath[path].batchFail = true
			}
			continue
		}
		res.Stats.BatchesSent++

		inBatch := make(map[string]bool)
		for _, path := range b.Files() {
			inBatch[path] = true
		}
		for _, r := range records {
			if !inBatch[r.FilePath] {
				e.logger.Warn("Dropping record for a file outside the batch",
					"project", projectID,
					"batch", b.Index,
					"file", r.FilePath,
				)
				continue
			}
			job := byPath[r.FilePath]
			job.records = append(job.records, r)
		}
	}
	return nil
}

func (e *Engine) send(ctx context.Context, projectID string, b *batch.Batch) ([]pipeline.Record, error) {
	if e.discoverer == nil {
		return nil, cerrors.Pipeline("no discovery pipeline configured", nil)
	}
	records, err := e.discoverer.Discover(ctx, pipeline.NewRequest(projectID, b))
	if err != nil {
		if cerrors.IsCode(err, cerrors.PipelineFailure) {
			return nil, err
		}
		return nil, cerrors.Pipeline(fmt.Sprintf("batch %d failed", b.Index), err)
	}
	return records, nil
}
