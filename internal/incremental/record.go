package incremental

import (
	"context"
	"fmt"

	"connidx/internal/checkpoint"
	"connidx/internal/content"
	"connidx/internal/diff"
	"connidx/internal/storage"
)

// RecordChanges turns observed added, modified and deleted paths into
// checkpoint events. Current content comes from the content source and
// the baseline from the files table. A file that can no longer be read
// is recorded as removed. Saves that leave the indexed content unchanged
// are dropped. Per-file failures are reported in the result and do not
// stop the other files.
func (e *Engine) RecordChanges(ctx context.Context, projectID string, changes *diff.ChangeSet) (*RecordResult, error) {
	res := &RecordResult{}
	if changes == nil || changes.Empty() {
		return res, nil
	}
	files := storage.NewFileRepository(e.db)

	record := func(path string, kind checkpoint.EventKind) {
		if err := ctx.Err(); err != nil {
			res.Failures = append(res.Failures, FileFailure{Path: path, Error: err.Error()})
			return
		}
		recorded, err := e.recordOne(ctx, files, projectID, path, kind)
		switch {
		case err != nil:
			e.logger.Warn("Failed to record change",
				"project", projectID,
				"file", path,
				"error", err.Error(),
			)
			res.Failures = append(res.Failures, FileFailure{Path: path, Error: err.Error()})
		case recorded:
			res.Recorded = append(res.Recorded, path)
		default:
			res.Unchanged = append(res.Unchanged, path)
		}
	}

	for _, p := range changes.Added {
		record(p, checkpoint.Created)
	}
	for _, p := range changes.Modified {
		record(p, checkpoint.Edited)
	}
	for _, p := range changes.Deleted {
		record(p, checkpoint.Removed)
	}

	e.logger.Info("Recorded changes",
		"project", projectID,
		"recorded", len(res.Recorded),
		"unchanged", len(res.Unchanged),
		"failed", len(res.Failures),
	)
	return res, nil
}

func (e *Engine) recordOne(ctx context.Context, files *storage.FileRepository, projectID, path string, kind checkpoint.EventKind) (bool, error) {
	key := checkpoint.Key{ProjectID: projectID, FilePath: path}

	indexed, err := files.Get(ctx, projectID, path)
	if err != nil {
		return false, err
	}
	pending, err := e.store.Get(ctx, key)
	if err != nil {
		return false, err
	}

	ev := checkpoint.Event{Key: key, Kind: kind}
	if indexed != nil {
		ev.Indexed = &indexed.Content
	}

	if kind != checkpoint.Removed {
		current, ok, err := e.source.Read(ctx, projectID, path)
		if err != nil {
			return false, fmt.Errorf("failed to read current content: %w", err)
		}
		if !ok {
			ev.Kind = checkpoint.Removed
		} else {
			ev.Content = current
		}
	}

	switch ev.Kind {
	case checkpoint.Removed:
		if pending != nil && pending.ChangeType == checkpoint.Deleted {
			return false, nil
		}
		if pending == nil && indexed == nil {
			return false, nil
		}
	default:
		if pending == nil && indexed != nil && indexed.ContentHash == content.Hash(ev.Content) {
			return false, nil
		}
		if pending != nil && pending.NewCode != nil && *pending.NewCode == ev.Content {
			return false, nil
		}
	}

	if _, err := e.store.Record(ctx, ev); err != nil {
		return false, err
	}
	return true, nil
}
