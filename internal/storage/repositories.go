package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Direction selects the incoming or outgoing connection table.
type Direction string

const (
	Incoming Direction = "incoming"
	Outgoing Direction = "outgoing"
)

const (
	incomingTable = "incoming_connections"
	outgoingTable = "outgoing_connections"
)

// Valid reports whether d names a connection table.
func (d Direction) Valid() bool {
	return d == Incoming || d == Outgoing
}

func (d Direction) table() (string, error) {
	switch d {
	case Incoming:
		return incomingTable, nil
	case Outgoing:
		return outgoingTable, nil
	}
	return "", fmt.Errorf("unknown connection direction %q", d)
}

// File is the last reconciled state of one project file.
type File struct {
	ID          int64
	ProjectID   string
	Path        string
	Language    string
	Content     string
	ContentHash string
	UpdatedAt   time.Time
}

// Connection is one side of a discovered integration point.
type Connection struct {
	ID             int64
	FileID         int64
	Direction      Direction
	Description    string
	TechnologyName string
	// SnippetLines lists the 1-based lines covered, in order.
	SnippetLines []int
	CodeSnippet  string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// StartLine returns the first covered line, or 0 when empty.
func (c *Connection) StartLine() int {
	if len(c.SnippetLines) == 0 {
		return 0
	}
	return c.SnippetLines[0]
}

// EndLine returns the last covered line, or 0 when empty.
func (c *Connection) EndLine() int {
	if len(c.SnippetLines) == 0 {
		return 0
	}
	return c.SnippetLines[len(c.SnippetLines)-1]
}

// LineSpan returns the contiguous line list start..end.
func LineSpan(start, end int) []int {
	if end < start {
		return nil
	}
	lines := make([]int, 0, end-start+1)
	for l := start; l <= end; l++ {
		lines = append(lines, l)
	}
	return lines
}

// ConnectionMapping links an outgoing sender to an incoming receiver.
type ConnectionMapping struct {
	ID              int64
	SenderID        int64
	ReceiverID      int64
	ConnectionType  string
	Description     string
	MatchConfidence float64
	CreatedAt       time.Time
}

// Run is one incremental run in the history table.
type Run struct {
	ID         string
	ProjectID  string
	StartedAt  time.Time
	FinishedAt time.Time
	Success    bool
	StatsJSON  string
}

// ============================================================================
// Files
// ============================================================================

// FileRepository reads and writes the files table.
type FileRepository struct {
	q Querier
}

func NewFileRepository(q Querier) *FileRepository {
	return &FileRepository{q: q}
}

// Get returns nil, nil when the file is not indexed.
func (r *FileRepository) Get(ctx context.Context, projectID, path string) (*File, error) {
	var f File
	var updatedAt string
	err := r.q.QueryRowContext(ctx, `
		SELECT id, project_id, path, language, content, content_hash, updated_at
		FROM files
		WHERE project_id = ? AND path = ?
	`, projectID, path).Scan(&f.ID, &f.ProjectID, &f.Path, &f.Language, &f.Content, &f.ContentHash, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get file: %w", err)
	}
	f.UpdatedAt = parseTime(updatedAt)
	return &f, nil
}

// Upsert inserts or refreshes a file row and returns its id.
func (r *FileRepository) Upsert(ctx context.Context, f *File) (int64, error) {
	now := formatTime(time.Now())
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO files (project_id, path, language, content, content_hash, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(project_id, path) DO UPDATE SET
			language = excluded.language,
			content = excluded.content,
			content_hash = excluded.content_hash,
			updated_at = excluded.updated_at
	`, f.ProjectID, f.Path, f.Language, f.Content, f.ContentHash, now)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert file: %w", err)
	}

	var id int64
	err = r.q.QueryRowContext(ctx, `SELECT id FROM files WHERE project_id = ? AND path = ?`, f.ProjectID, f.Path).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to read file id: %w", err)
	}
	f.ID = id
	return id, nil
}

// Delete removes the file row; its connections cascade.
func (r *FileRepository) Delete(ctx context.Context, id int64) error {
	if _, err := r.q.ExecContext(ctx, `DELETE FROM files WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

// Hashes returns path -> content_hash for a project.
func (r *FileRepository) Hashes(ctx context.Context, projectID string) (map[string]string, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT path, content_hash FROM files WHERE project_id = ?`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query file hashes: %w", err)
	}
	defer rows.Close() //nolint:errcheck // Best effort cleanup

	out := make(map[string]string)
	for rows.Next() {
		var path, hash string
		if err := rows.Scan(&path, &hash); err != nil {
			return nil, fmt.Errorf("failed to scan file hash: %w", err)
		}
		out[path] = hash
	}
	return out, rows.Err()
}

// Count returns the number of indexed files in a project.
func (r *FileRepository) Count(ctx context.Context, projectID string) (int, error) {
	var n int
	err := r.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM files WHERE project_id = ?`, projectID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count files: %w", err)
	}
	return n, nil
}

// ============================================================================
// Connections
// ============================================================================

// ConnectionRepository reads and writes both connection tables.
type ConnectionRepository struct {
	q Querier
}

func NewConnectionRepository(q Querier) *ConnectionRepository {
	return &ConnectionRepository{q: q}
}

// ListByFile returns the file's incoming then outgoing connections, by id.
func (r *ConnectionRepository) ListByFile(ctx context.Context, fileID int64) ([]*Connection, error) {
	var out []*Connection
	for _, dir := range []Direction{Incoming, Outgoing} {
		table, _ := dir.table()
		rows, err := r.q.QueryContext(ctx, `
			SELECT id, file_id, description, snippet_lines, technology_name, code_snippet, created_at, updated_at
			FROM `+table+`
			WHERE file_id = ?
			ORDER BY id
		`, fileID)
		if err != nil {
			return nil, fmt.Errorf("failed to query %s: %w", table, err)
		}
		conns, err := scanConnections(rows, dir)
		if err != nil {
			return nil, err
		}
		out = append(out, conns...)
	}
	return out, nil
}

func scanConnections(rows *sql.Rows, dir Direction) ([]*Connection, error) {
	defer rows.Close() //nolint:errcheck // Best effort cleanup

	var out []*Connection
	for rows.Next() {
		c := &Connection{Direction: dir}
		var lines, createdAt, updatedAt string
		if err := rows.Scan(&c.ID, &c.FileID, &c.Description, &lines, &c.TechnologyName, &c.CodeSnippet, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan connection: %w", err)
		}
		if err := json.Unmarshal([]byte(lines), &c.SnippetLines); err != nil {
			return nil, fmt.Errorf("invalid snippet_lines for %s connection %d: %w", dir, c.ID, err)
		}
		c.CreatedAt = parseTime(createdAt)
		c.UpdatedAt = parseTime(updatedAt)
		out = append(out, c)
	}
	return out, rows.Err()
}

// Insert adds a connection and sets c.ID.
func (r *ConnectionRepository) Insert(ctx context.Context, c *Connection) (int64, error) {
	table, err := c.Direction.table()
	if err != nil {
		return 0, err
	}
	lines, err := json.Marshal(nonNilLines(c.SnippetLines))
	if err != nil {
		return 0, err
	}
	now := time.Now()
	res, err := r.q.ExecContext(ctx, `
		INSERT INTO `+table+` (file_id, description, snippet_lines, technology_name, code_snippet, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, c.FileID, c.Description, string(lines), c.TechnologyName, c.CodeSnippet, formatTime(now), formatTime(now))
	if err != nil {
		return 0, fmt.Errorf("failed to insert connection: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	c.ID = id
	c.CreatedAt = now
	c.UpdatedAt = now
	return id, nil
}

// UpdateSpan rewrites the covered lines and snippet of one connection.
func (r *ConnectionRepository) UpdateSpan(ctx context.Context, dir Direction, id int64, lines []int, snippet string) error {
	table, err := dir.table()
	if err != nil {
		return err
	}
	data, err := json.Marshal(nonNilLines(lines))
	if err != nil {
		return err
	}
	res, err := r.q.ExecContext(ctx, `
		UPDATE `+table+` SET snippet_lines = ?, code_snippet = ?, updated_at = ?
		WHERE id = ?
	`, string(data), snippet, formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("failed to update connection: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s connection %d not found", dir, id)
	}
	return nil
}

// Refresh replaces the analysis of one connection in place. The id and
// the mappings that reference it are kept.
func (r *ConnectionRepository) Refresh(ctx context.Context, dir Direction, id int64, description, technology string, lines []int, snippet string) error {
	table, err := dir.table()
	if err != nil {
		return err
	}
	data, err := json.Marshal(nonNilLines(lines))
	if err != nil {
		return err
	}
	res, err := r.q.ExecContext(ctx, `
		UPDATE `+table+` SET description = ?, technology_name = ?, snippet_lines = ?, code_snippet = ?, updated_at = ?
		WHERE id = ?
	`, description, technology, string(data), snippet, formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("failed to refresh connection: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s connection %d not found", dir, id)
	}
	return nil
}

// Delete removes one connection. Missing rows are not an error.
func (r *ConnectionRepository) Delete(ctx context.Context, dir Direction, id int64) error {
	table, err := dir.table()
	if err != nil {
		return err
	}
	if _, err := r.q.ExecContext(ctx, `DELETE FROM `+table+` WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete connection: %w", err)
	}
	return nil
}

// CountByProject returns incoming and outgoing counts for a project.
func (r *ConnectionRepository) CountByProject(ctx context.Context, projectID string) (map[Direction]int, error) {
	out := make(map[Direction]int, 2)
	for _, dir := range []Direction{Incoming, Outgoing} {
		table, _ := dir.table()
		var n int
		err := r.q.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM `+table+` c JOIN files f ON f.id = c.file_id
			WHERE f.project_id = ?
		`, projectID).Scan(&n)
		if err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", table, err)
		}
		out[dir] = n
	}
	return out, nil
}

func nonNilLines(lines []int) []int {
	if lines == nil {
		return []int{}
	}
	return lines
}

// ============================================================================
// Connection mappings
// ============================================================================

// MappingRepository reads and writes connection_mappings.
type MappingRepository struct {
	q Querier
}

func NewMappingRepository(q Querier) *MappingRepository {
	return &MappingRepository{q: q}
}

func (r *MappingRepository) Create(ctx context.Context, m *ConnectionMapping) (int64, error) {
	now := time.Now()
	res, err := r.q.ExecContext(ctx, `
		INSERT INTO connection_mappings (sender_id, receiver_id, connection_type, description, match_confidence, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, m.SenderID, m.ReceiverID, m.ConnectionType, m.Description, m.MatchConfidence, formatTime(now))
	if err != nil {
		return 0, fmt.Errorf("failed to create connection mapping: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	m.ID = id
	m.CreatedAt = now
	return id, nil
}

// DeleteForConnection drops mappings that reference a connection: as
// sender for outgoing, as receiver for incoming. It returns the count.
func (r *MappingRepository) DeleteForConnection(ctx context.Context, dir Direction, id int64) (int64, error) {
	column := "receiver_id"
	if dir == Outgoing {
		column = "sender_id"
	}
	res, err := r.q.ExecContext(ctx, `DELETE FROM connection_mappings WHERE `+column+` = ?`, id)
	if err != nil {
		return 0, fmt.Errorf("failed to delete connection mappings: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ListForConnection returns mappings that reference a connection.
func (r *MappingRepository) ListForConnection(ctx context.Context, dir Direction, id int64) ([]*ConnectionMapping, error) {
	column := "receiver_id"
	if dir == Outgoing {
		column = "sender_id"
	}
	rows, err := r.q.QueryContext(ctx, `
		SELECT id, sender_id, receiver_id, connection_type, description, match_confidence, created_at
		FROM connection_mappings WHERE `+column+` = ? ORDER BY id
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query connection mappings: %w", err)
	}
	defer rows.Close() //nolint:errcheck // Best effort cleanup

	var out []*ConnectionMapping
	for rows.Next() {
		m := &ConnectionMapping{}
		var createdAt string
		if err := rows.Scan(&m.ID, &m.SenderID, &m.ReceiverID, &m.ConnectionType, &m.Description, &m.MatchConfidence, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan connection mapping: %w", err)
		}
		m.CreatedAt = parseTime(createdAt)
		out = append(out, m)
	}
	return out, rows.Err()
}

// ============================================================================
// Runs
// ============================================================================

// RunRepository reads and writes the run history.
type RunRepository struct {
	q Querier
}

func NewRunRepository(q Querier) *RunRepository {
	return &RunRepository{q: q}
}

func (r *RunRepository) Create(ctx context.Context, run *Run) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO runs (id, project_id, started_at, finished_at, success, stats_json)
		VALUES (?, ?, ?, ?, ?, ?)
	`, run.ID, run.ProjectID, formatTime(run.StartedAt), formatTime(run.FinishedAt), boolToInt(run.Success), run.StatsJSON)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// List returns the newest runs first. limit <= 0 means no limit.
func (r *RunRepository) List(ctx context.Context, projectID string, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := r.q.QueryContext(ctx, `
		SELECT id, project_id, started_at, finished_at, success, stats_json
		FROM runs WHERE project_id = ?
		ORDER BY started_at DESC, rowid DESC
		LIMIT ?
	`, projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close() //nolint:errcheck // Best effort cleanup

	var out []*Run
	for rows.Next() {
		run := &Run{}
		var started, finished string
		var success int
		if err := rows.Scan(&run.ID, &run.ProjectID, &started, &finished, &success, &run.StatsJSON); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		run.StartedAt = parseTime(started)
		run.FinishedAt = parseTime(finished)
		run.Success = success != 0
		out = append(out, run)
	}
	return out, rows.Err()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
