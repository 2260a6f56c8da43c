package checkpoint

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"connidx/internal/storage"
)

// Store reads and writes the checkpoints table.
type Store struct {
	db     *storage.DB
	logger *slog.Logger
	codec  *codec
	now    func() time.Time
}

// NewStore returns a Store. Close releases the compression codec.
func NewStore(db *storage.DB, logger *slog.Logger) (*Store, error) {
	c, err := newCodec()
	if err != nil {
		return nil, err
	}
	return &Store{db: db, logger: logger, codec: c, now: time.Now}, nil
}

func (s *Store) Close() {
	s.codec.close()
}

// ============================================================================
// Reading
// ============================================================================

// Load folds every pending row. An empty projectID loads all projects.
// Rows that cannot be folded are logged, reported in Skipped, and left
// in place.
func (s *Store) Load(ctx context.Context, projectID string) (*Snapshot, error) {
	query := `SELECT id, project_id, file_path, change_type, old_code, new_code, updated_at FROM checkpoints`
	var args []any
	if projectID != "" {
		query += ` WHERE project_id = ?`
		args = append(args, projectID)
	}
	query += ` ORDER BY id`

	rows, skipped, err := s.readRows(ctx, s.db, query, args...)
	if err != nil {
		return nil, err
	}
	entries, invalid := foldRows(rows)
	skipped = append(skipped, invalid...)

	for _, sk := range skipped {
		s.logger.Warn("Skipping malformed checkpoint row",
			"id", sk.RowID,
			"project", sk.Key.ProjectID,
			"file", sk.Key.FilePath,
			"reason", sk.Reason,
		)
	}
	return &Snapshot{Entries: entries, Skipped: skipped}, nil
}

// Get returns the pending entry for key, or nil.
func (s *Store) Get(ctx context.Context, key Key) (*Entry, error) {
	return s.getWith(ctx, s.db, key)
}

func (s *Store) getWith(ctx context.Context, q storage.Querier, key Key) (*Entry, error) {
	rows, _, err := s.readRows(ctx, q, `
		SELECT id, project_id, file_path, change_type, old_code, new_code, updated_at
		FROM checkpoints WHERE project_id = ? AND file_path = ? ORDER BY id
	`, key.ProjectID, key.FilePath)
	if err != nil {
		return nil, err
	}
	entries, _ := foldRows(rows)
	return entries[key], nil
}

// readRows decodes rows. Rows whose payload cannot be decompressed are
// returned as skipped.
func (s *Store) readRows(ctx context.Context, q storage.Querier, query string, args ...any) ([]*row, []Skipped, error) {
	rs, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query checkpoints: %w", err)
	}
	defer rs.Close() //nolint:errcheck // Best effort cleanup

	var out []*row
	var skipped []Skipped
	for rs.Next() {
		var (
			r          row
			changeType string
			oldCode    sql.Null[[]byte]
			newCode    sql.Null[[]byte]
			updatedAt  string
		)
		if err := rs.Scan(&r.id, &r.key.ProjectID, &r.key.FilePath, &changeType, &oldCode, &newCode, &updatedAt); err != nil {
			return nil, nil, fmt.Errorf("failed to scan checkpoint: %w", err)
		}
		r.changeType = ChangeType(changeType)
		r.updatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)

		if r.oldCode, err = s.codec.decode(oldCode.V, oldCode.Valid); err != nil {
			skipped = append(skipped, Skipped{RowID: r.id, Key: r.key, Reason: "old_code: " + err.Error()})
			continue
		}
		if r.newCode, err = s.codec.decode(newCode.V, newCode.Valid); err != nil {
			skipped = append(skipped, Skipped{RowID: r.id, Key: r.key, Reason: "new_code: " + err.Error()})
			continue
		}
		out = append(out, &r)
	}
	if err := rs.Err(); err != nil {
		return nil, nil, fmt.Errorf("failed to read checkpoints: %w", err)
	}
	return out, skipped, nil
}

// HasPending reports whether a project has at least one entry Load
// would return. Malformed rows do not count.
func (s *Store) HasPending(ctx context.Context, projectID string) (bool, error) {
	rows, _, err := s.readRows(ctx, s.db, `
		SELECT id, project_id, file_path, change_type, old_code, new_code, updated_at
		FROM checkpoints WHERE project_id = ? ORDER BY id
	`, projectID)
	if err != nil {
		return false, fmt.Errorf("failed to check pending checkpoints: %w", err)
	}
	entries, _ := foldRows(rows)
	return len(entries) > 0, nil
}

// ============================================================================
// Writing
// ============================================================================

// Record folds ev into the pending entry for its key and appends the
// folded state as a new row. It returns the resulting entry.
func (s *Store) Record(ctx context.Context, ev Event) (*Entry, error) {
	if ev.ProjectID == "" || ev.FilePath == "" {
		return nil, fmt.Errorf("checkpoint event needs project and path")
	}

	var result *Entry
	err := s.db.WithTxContext(ctx, func(tx *sql.Tx) error {
		cur, err := s.getWith(ctx, tx, ev.Key)
		if err != nil {
			return err
		}
		now := s.now()
		next := fold(cur, eventRow(ev, now))
		id, err := s.insert(ctx, tx, next, now)
		if err != nil {
			return err
		}
		next.RowIDs[len(next.RowIDs)-1] = id
		result = next
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug("Recorded checkpoint",
		"project", ev.ProjectID,
		"file", ev.FilePath,
		"event", ev.Kind.String(),
		"state", string(result.ChangeType),
	)
	return result, nil
}

func (s *Store) insert(ctx context.Context, q storage.Querier, e *Entry, now time.Time) (int64, error) {
	res, err := q.ExecContext(ctx, `
		INSERT INTO checkpoints (project_id, file_path, change_type, old_code, new_code, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, e.ProjectID, e.FilePath, string(e.ChangeType), s.codec.encode(e.OldCode), s.codec.encode(e.NewCode), now.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("failed to insert checkpoint: %w", err)
	}
	return res.LastInsertId()
}

// ClearTx deletes exactly the given row ids inside tx. Rows appended
// after the ids were loaded are untouched.
func (s *Store) ClearTx(ctx context.Context, tx *sql.Tx, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM checkpoints WHERE id IN (`+placeholders+`)`, args...); err != nil {
		return fmt.Errorf("failed to clear checkpoints: %w", err)
	}
	return nil
}

// Clear is ClearTx in its own transaction.
func (s *Store) Clear(ctx context.Context, ids []int64) error {
	return s.db.WithTxContext(ctx, func(tx *sql.Tx) error {
		return s.ClearTx(ctx, tx, ids)
	})
}

// RebaseTx rewrites rows left for key after ClearTx so they describe
// the change relative to the content the run just committed.
func (s *Store) RebaseTx(ctx context.Context, tx *sql.Tx, key Key, applied Applied) error {
	survivor, err := s.getWith(ctx, tx, key)
	if err != nil || survivor == nil {
		return err
	}
	if err := s.ClearTx(ctx, tx, survivor.RowIDs); err != nil {
		return err
	}
	next := rebase(survivor, applied)
	if next == nil {
		s.logger.Debug("Dropped checkpoint made redundant by run", "project", key.ProjectID, "file", key.FilePath)
		return nil
	}
	_, err = s.insert(ctx, tx, next, next.UpdatedAt)
	return err
}

// ClearAll removes every row for a project, or for all projects when
// projectID is empty.
func (s *Store) ClearAll(ctx context.Context, projectID string) error {
	query := `DELETE FROM checkpoints`
	var args []any
	if projectID != "" {
		query += ` WHERE project_id = ?`
		args = append(args, projectID)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to clear checkpoints: %w", err)
	}
	return nil
}
