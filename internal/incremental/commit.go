package incremental

import (
	"context"
	"database/sql"
	"fmt"

	"connidx/internal/checkpoint"
	"connidx/internal/content"
	"connidx/internal/diff"
	cerrors "connidx/internal/errors"
	"connidx/internal/pipeline"
	"connidx/internal/remap"
	"connidx/internal/storage"
)

// commit applies one file's decisions and pipeline records, refreshes
// its files row and clears the checkpoint ids it consumed, all in one
// transaction. Stats are only updated when the transaction commits.
func (e *Engine) commit(ctx context.Context, projectID string, job *fileJob, stats *Stats) error {
	var delta Stats
	err := e.db.WithTxContext(ctx, func(tx *sql.Tx) error {
		delta = Stats{}
		var applied checkpoint.Applied
		var err error
		if job.remove {
			applied, err = e.applyRemoval(ctx, tx, job, &delta)
		} else {
			applied, err = e.applyUpdate(ctx, tx, projectID, job, &delta)
		}
		if err != nil {
			return err
		}
		if err := e.store.ClearTx(ctx, tx, job.entry.RowIDs); err != nil {
			return err
		}
		return e.store.RebaseTx(ctx, tx, job.entry.Key, applied)
	})
	if err != nil {
		return cerrors.Transient(fmt.Sprintf("failed to commit %s", job.path()), err)
	}

	stats.ConnectionsUnchanged += delta.ConnectionsUnchanged
	stats.ConnectionsLinesUpdated += delta.ConnectionsLinesUpdated
	stats.ConnectionsCodeUpdated += delta.ConnectionsCodeUpdated
	stats.ConnectionsResplit += delta.ConnectionsResplit
	stats.ConnectionsDeleted += delta.ConnectionsDeleted
	stats.ConnectionsInserted += delta.ConnectionsInserted
	return nil
}

func (e *Engine) applyRemoval(ctx context.Context, tx *sql.Tx, job *fileJob, delta *Stats) (checkpoint.Applied, error) {
	applied := checkpoint.Applied{Deleted: true}
	if job.file == nil {
		return applied, nil
	}
	conns := storage.NewConnectionRepository(tx)
	existing, err := conns.ListByFile(ctx, job.file.ID)
	if err != nil {
		return applied, err
	}
	for _, c := range existing {
		if err := deleteConnection(ctx, tx, remap.RefOf(c)); err != nil {
			return applied, err
		}
		delta.ConnectionsDeleted++
	}
	if err := storage.NewFileRepository(tx).Delete(ctx, job.file.ID); err != nil {
		return applied, err
	}
	return applied, nil
}

func (e *Engine) applyUpdate(ctx context.Context, tx *sql.Tx, projectID string, job *fileJob, delta *Stats) (checkpoint.Applied, error) {
	applied := checkpoint.Applied{Content: job.newText}

	f := &storage.File{
		ProjectID:   projectID,
		Path:        job.path(),
		Language:    content.Language(job.path()),
		Content:     job.newText,
		ContentHash: content.Hash(job.newText),
	}
	if job.file != nil && job.file.Language != "" {
		f.Language = job.file.Language
	}
	fileID, err := storage.NewFileRepository(tx).Upsert(ctx, f)
	if err != nil {
		return applied, err
	}

	conns := storage.NewConnectionRepository(tx)
	var kept []*remap.Decision
	for _, dec := range job.plan.Decisions {
		ref := remap.RefOf(dec.Conn)
		switch {
		case dec.Outcome == remap.Deleted:
			if err := deleteConnection(ctx, tx, ref); err != nil {
				return applied, err
			}
			delta.ConnectionsDeleted++
		case dec.Destroyed:
			// Superseded by the records returned for its resplit range.
			if err := deleteConnection(ctx, tx, ref); err != nil {
				return applied, err
			}
			delta.ConnectionsResplit++
		case dec.Outcome == remap.NeedsResplit:
			// Boundaries survived: the row moves and keeps its id and
			// mappings while its range is analysed again.
			lines := storage.LineSpan(dec.New.Start, dec.New.End)
			if err := conns.UpdateSpan(ctx, ref.Direction, ref.ID, lines, dec.Snippet); err != nil {
				return applied, err
			}
			kept = append(kept, dec)
			delta.ConnectionsResplit++
		case dec.Outcome == remap.LinesUpdated || dec.Outcome == remap.LinesAndCodeUpdated:
			lines := storage.LineSpan(dec.New.Start, dec.New.End)
			if err := conns.UpdateSpan(ctx, ref.Direction, ref.ID, lines, dec.Snippet); err != nil {
				return applied, err
			}
			if dec.Outcome == remap.LinesUpdated {
				delta.ConnectionsLinesUpdated++
			} else {
				delta.ConnectionsCodeUpdated++
			}
		default:
			delta.ConnectionsUnchanged++
		}
	}

	for _, r := range job.records {
		if !r.Direction.Valid() {
			e.logger.Warn("Dropping record with unknown direction", "file", job.path(), "direction", string(r.Direction))
			continue
		}
		snippet, ok := diff.Slice(job.newLines, r.StartLine, r.EndLine)
		if !ok {
			e.logger.Warn("Dropping record outside the file",
				"file", job.path(),
				"start", r.StartLine,
				"end", r.EndLine,
				"lines", len(job.newLines),
			)
			continue
		}
		if r.CodeSnippet != "" {
			snippet = r.CodeSnippet
		}
		lines := storage.LineSpan(r.StartLine, r.EndLine)
		if i := matchKept(kept, r); i >= 0 {
			ref := remap.RefOf(kept[i].Conn)
			if err := conns.Refresh(ctx, ref.Direction, ref.ID, r.Description, r.Technology, lines, snippet); err != nil {
				return applied, err
			}
			kept = append(kept[:i], kept[i+1:]...)
			continue
		}
		if _, err := conns.Insert(ctx, &storage.Connection{
			FileID:         fileID,
			Direction:      r.Direction,
			Description:    r.Description,
			TechnologyName: r.Technology,
			SnippetLines:   lines,
			CodeSnippet:    snippet,
		}); err != nil {
			return applied, err
		}
		delta.ConnectionsInserted++
	}
	return applied, nil
}

// matchKept returns the first kept connection with the record's direction
// whose new span overlaps it, or -1.
func matchKept(kept []*remap.Decision, r pipeline.Record) int {
	for i, dec := range kept {
		if dec.Conn.Direction == r.Direction && r.StartLine <= dec.New.End && r.EndLine >= dec.New.Start {
			return i
		}
	}
	return -1
}

// deleteConnection removes a connection row together with the mappings
// that reference it.
func deleteConnection(ctx context.Context, q storage.Querier, ref remap.Ref) error {
	if _, err := storage.NewMappingRepository(q).DeleteForConnection(ctx, ref.Direction, ref.ID); err != nil {
		return err
	}
	return storage.NewConnectionRepository(q).Delete(ctx, ref.Direction, ref.ID)
}
