package incremental

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"testing"

	"connidx/internal/checkpoint"
	"connidx/internal/content"
	"connidx/internal/diff"
	"connidx/internal/pipeline"
	"connidx/internal/slogutil"
	"connidx/internal/storage"
)

// fakePipeline records every request and answers through respond.
type fakePipeline struct {
	mu       sync.Mutex
	requests []*pipeline.Request
	respond  func(req *pipeline.Request) ([]pipeline.Record, error)
}

func (f *fakePipeline) Discover(_ context.Context, req *pipeline.Request) ([]pipeline.Record, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	respond := f.respond
	f.mu.Unlock()
	if respond == nil {
		return nil, nil
	}
	return respond(req)
}

func (f *fakePipeline) items() []pipeline.Item {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []pipeline.Item
	for _, r := range f.requests {
		out = append(out, r.Items...)
	}
	return out
}

type testEnv struct {
	engine *Engine
	db     *storage.DB
	store  *checkpoint.Store
	source *content.Map
	pipe   *fakePipeline
}

func setupTestEngine(t *testing.T) *testEnv {
	t.Helper()
	logger := slogutil.NewDiscardLogger()

	db, err := storage.Open(t.TempDir(), "", logger)
	if err != nil {
		t.Fatalf("storage.Open failed: %v", err)
	}
	store, err := checkpoint.NewStore(db, logger)
	if err != nil {
		t.Fatalf("checkpoint.NewStore failed: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
		_ = db.Close()
	})

	env := &testEnv{db: db, store: store, source: content.NewMap(), pipe: &fakePipeline{}}
	env.engine = NewEngine(db, store, env.source, env.pipe, DefaultOptions(), logger)
	return env
}

func numbered(prefix string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("%s line %d", prefix, i+1)
	}
	return out
}

func text(lines []string) string {
	return strings.Join(lines, "\n") + "\n"
}

// seedFile stores content as reconciled and returns the file id.
func (env *testEnv) seedFile(t *testing.T, project, path, body string) int64 {
	t.Helper()
	id, err := storage.NewFileRepository(env.db).Upsert(context.Background(), &storage.File{
		ProjectID:   project,
		Path:        path,
		Content:     body,
		ContentHash: content.Hash(body),
	})
	if err != nil {
		t.Fatalf("seed file: %v", err)
	}
	return id
}

// seedConn inserts an outgoing connection with an explicit id.
func (env *testEnv) seedConn(t *testing.T, fileID, id int64, lines []string, start, end int, desc string) {
	t.Helper()
	snippet, ok := diff.Slice(lines, start, end)
	if !ok {
		t.Fatalf("bad seed span [%d,%d]", start, end)
	}
	var span []string
	for l := start; l <= end; l++ {
		span = append(span, fmt.Sprint(l))
	}
	_, err := env.db.ExecContext(context.Background(), `
		INSERT INTO outgoing_connections (id, file_id, description, snippet_lines, technology_name, code_snippet, created_at, updated_at)
		VALUES (?, ?, ?, ?, 'http', ?, '2026-01-01T00:00:00Z', '2026-01-01T00:00:00Z')
	`, id, fileID, desc, "["+strings.Join(span, ",")+"]", snippet)
	if err != nil {
		t.Fatalf("seed connection: %v", err)
	}
}

func (env *testEnv) conns(t *testing.T, project, path string) []*storage.Connection {
	t.Helper()
	ctx := context.Background()
	f, err := storage.NewFileRepository(env.db).Get(ctx, project, path)
	if err != nil {
		t.Fatalf("get file: %v", err)
	}
	if f == nil {
		return nil
	}
	out, err := storage.NewConnectionRepository(env.db).ListByFile(ctx, f.ID)
	if err != nil {
		t.Fatalf("list connections: %v", err)
	}
	return out
}

func (env *testEnv) edit(t *testing.T, project, path, body string) {
	t.Helper()
	env.source.Set(project, path, body)
	res, err := env.engine.RecordChanges(context.Background(), project, &diff.ChangeSet{Modified: []string{path}})
	if err != nil || len(res.Failures) > 0 {
		t.Fatalf("RecordChanges: %v %+v", err, res)
	}
}

func TestRunIncremental_EndToEnd(t *testing.T) {
	env := setupTestEngine(t)
	ctx := context.Background()

	old := numbered("a.py", 50)
	fileID := env.seedFile(t, "p", "a.py", text(old))
	env.seedConn(t, fileID, 7, old, 20, 25, "S")
	if _, err := storage.NewMappingRepository(env.db).Create(ctx, &storage.ConnectionMapping{SenderID: 7, ReceiverID: 99, ConnectionType: "http"}); err != nil {
		t.Fatal(err)
	}

	edited := append([]string{"import os", "import sys", ""}, old...)
	edited[3+21] = "requests.post(BILLING_URL)"
	env.edit(t, "p", "a.py", text(edited))

	env.pipe.respond = func(req *pipeline.Request) ([]pipeline.Record, error) {
		var out []pipeline.Record
		for _, it := range req.Items {
			if it.Kind == "resplit" {
				out = append(out, pipeline.Record{
					Direction:   storage.Outgoing,
					FilePath:    it.FilePath,
					StartLine:   it.StartLine,
					EndLine:     it.EndLine,
					Description: it.OldDescription + " (refreshed)",
					Technology:  "http",
				})
			}
		}
		return out, nil
	}

	res, err := env.engine.RunIncremental(ctx, "p")
	if err != nil {
		t.Fatalf("RunIncremental: %v", err)
	}
	if !res.Success || res.Stats.FilesProcessed != 1 || res.Stats.BatchesSent != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}

	items := env.pipe.items()
	if len(items) != 2 {
		t.Fatalf("got %d items, want resplit + new lines: %+v", len(items), items)
	}
	if items[0].StartLine != 23 || items[0].EndLine != 28 || items[0].OldDescription != "S" {
		t.Errorf("resplit item = %+v, want [23,28] with description S", items[0])
	}
	if items[1].StartLine != 1 || items[1].EndLine != 3 {
		t.Errorf("new lines item = %+v, want [1,3]", items[1])
	}

	conns := env.conns(t, "p", "a.py")
	if len(conns) != 1 {
		t.Fatalf("got %d connections, want 1", len(conns))
	}
	c := conns[0]
	if c.ID != 7 || c.StartLine() != 23 || c.EndLine() != 28 || c.Description != "S (refreshed)" {
		t.Errorf("connection 7 should be refreshed in place at [23,28]: %+v", c)
	}
	if res.Stats.ConnectionsResplit != 1 || res.Stats.ConnectionsInserted != 0 || res.Stats.ConnectionsDeleted != 0 {
		t.Errorf("stats = %+v", res.Stats)
	}
	want, _ := diff.Slice(edited, 23, 28)
	if c.CodeSnippet != want {
		t.Errorf("snippet = %q, want %q", c.CodeSnippet, want)
	}

	mappings, err := storage.NewMappingRepository(env.db).ListForConnection(ctx, storage.Outgoing, 7)
	if err != nil || len(mappings) != 1 || mappings[0].ReceiverID != 99 {
		t.Errorf("mapping 7->99 should survive: %v %v", mappings, err)
	}
	if pending, _ := env.engine.HasPendingChanges(ctx, "p"); pending {
		t.Error("checkpoint should be cleared")
	}
	f, _ := storage.NewFileRepository(env.db).Get(ctx, "p", "a.py")
	if f.Content != text(edited) {
		t.Error("files row should hold the applied content")
	}
}

func TestRunIncremental_InsideEditKeepsConnectionWithoutRecords(t *testing.T) {
	env := setupTestEngine(t)
	ctx := context.Background()

	old := numbered("a.py", 50)
	fileID := env.seedFile(t, "p", "a.py", text(old))
	env.seedConn(t, fileID, 7, old, 20, 25, "S")
	if _, err := storage.NewMappingRepository(env.db).Create(ctx, &storage.ConnectionMapping{SenderID: 7, ReceiverID: 99, ConnectionType: "http"}); err != nil {
		t.Fatal(err)
	}

	edited := append([]string{"import os", "import sys", ""}, old...)
	edited[3+21] = "requests.post(BILLING_URL)"
	env.edit(t, "p", "a.py", text(edited))

	res, err := env.engine.RunIncremental(ctx, "p")
	if err != nil || !res.Success {
		t.Fatalf("RunIncremental: %+v %v", res, err)
	}
	if res.Stats.ConnectionsResplit != 1 || res.Stats.ConnectionsDeleted != 0 {
		t.Errorf("stats = %+v", res.Stats)
	}

	items := env.pipe.items()
	if len(items) == 0 || items[0].Kind != "resplit" || items[0].StartLine != 23 || items[0].EndLine != 28 {
		t.Fatalf("resplit range should still be analysed: %+v", items)
	}

	conns := env.conns(t, "p", "a.py")
	if len(conns) != 1 {
		t.Fatalf("got %d connections, want 1", len(conns))
	}
	c := conns[0]
	if c.ID != 7 || c.StartLine() != 23 || c.EndLine() != 28 || c.Description != "S" {
		t.Errorf("connection = %+v, want id 7 at [23,28] with description S", c)
	}
	want, _ := diff.Slice(edited, 23, 28)
	if c.CodeSnippet != want {
		t.Errorf("snippet = %q, want %q", c.CodeSnippet, want)
	}
	mappings, err := storage.NewMappingRepository(env.db).ListForConnection(ctx, storage.Outgoing, 7)
	if err != nil || len(mappings) != 1 {
		t.Errorf("mapping 7->99 should survive: %v %v", mappings, err)
	}
}

func TestRunIncremental_ShiftOnly(t *testing.T) {
	env := setupTestEngine(t)
	ctx := context.Background()

	old := numbered("svc.go", 30)
	fileID := env.seedFile(t, "p", "svc.go", text(old))
	env.seedConn(t, fileID, 1, old, 10, 20, "publishes orders")

	edited := append(append(append([]string{}, old[:4]...), "a", "b", "c", "d", "e"), old[4:]...)
	env.edit(t, "p", "svc.go", text(edited))

	res, err := env.engine.RunIncremental(ctx, "p")
	if err != nil {
		t.Fatalf("RunIncremental: %v", err)
	}
	if res.Stats.ConnectionsLinesUpdated != 1 || res.Stats.ConnectionsResplit != 0 {
		t.Errorf("stats = %+v", res.Stats)
	}

	items := env.pipe.items()
	if len(items) != 1 || items[0].StartLine != 5 || items[0].EndLine != 9 || items[0].Kind != "new_lines" {
		t.Errorf("items = %+v, want only the inserted lines", items)
	}

	conns := env.conns(t, "p", "svc.go")
	if len(conns) != 1 || conns[0].ID != 1 || conns[0].StartLine() != 15 || conns[0].EndLine() != 25 {
		t.Fatalf("connection = %+v", conns)
	}
	want, _ := diff.Slice(old, 10, 20)
	if conns[0].CodeSnippet != want {
		t.Errorf("snippet changed")
	}
}

func TestRunIncremental_CommitFailureLeavesStateUntouched(t *testing.T) {
	env := setupTestEngine(t)
	ctx := context.Background()

	old := numbered("svc.go", 30)
	fileID := env.seedFile(t, "p", "svc.go", text(old))
	env.seedConn(t, fileID, 1, old, 10, 20, "publishes orders")
	edited := append(append(append([]string{}, old[:4]...), "a", "b", "c", "d", "e"), old[4:]...)
	env.edit(t, "p", "svc.go", text(edited))

	if _, err := env.db.ExecContext(ctx, `
		CREATE TRIGGER fail_span_update BEFORE UPDATE ON outgoing_connections
		BEGIN SELECT RAISE(ABORT, 'disk I/O error'); END
	`); err != nil {
		t.Fatal(err)
	}

	res, err := env.engine.RunIncremental(ctx, "p")
	if err != nil {
		t.Fatalf("RunIncremental: %v", err)
	}
	if res.Success || res.Stats.FilesFailed != 1 || res.Stats.FilesProcessed != 0 || len(res.Failures) != 1 {
		t.Fatalf("result = %+v", res)
	}
	if res.Stats.ConnectionsLinesUpdated != 0 {
		t.Errorf("rolled back work must not be counted: %+v", res.Stats)
	}
	if pending, _ := env.engine.HasPendingChanges(ctx, "p"); !pending {
		t.Fatal("checkpoint must survive a failed commit")
	}
	if conns := env.conns(t, "p", "svc.go"); len(conns) != 1 || conns[0].StartLine() != 10 || conns[0].EndLine() != 20 {
		t.Fatalf("connection must be untouched: %+v", conns)
	}
	if f, _ := storage.NewFileRepository(env.db).Get(ctx, "p", "svc.go"); f.Content != text(old) {
		t.Error("files row must keep the old content")
	}

	if _, err := env.db.ExecContext(ctx, `DROP TRIGGER fail_span_update`); err != nil {
		t.Fatal(err)
	}
	res, err = env.engine.RunIncremental(ctx, "p")
	if err != nil || !res.Success || res.Stats.FilesProcessed != 1 || res.Stats.ConnectionsLinesUpdated != 1 {
		t.Fatalf("retry: %+v %v", res, err)
	}
	items := env.pipe.items()
	if len(items) != 2 || !reflect.DeepEqual(items[0], items[1]) {
		t.Errorf("retry should resend the same request: %+v", items)
	}
	if conns := env.conns(t, "p", "svc.go"); len(conns) != 1 || conns[0].ID != 1 || conns[0].StartLine() != 15 || conns[0].EndLine() != 25 {
		t.Fatalf("connection after retry = %+v", conns)
	}
	if pending, _ := env.engine.HasPendingChanges(ctx, "p"); pending {
		t.Error("checkpoint should be cleared after the retry")
	}
}

func TestRunIncremental_Idempotent(t *testing.T) {
	env := setupTestEngine(t)
	ctx := context.Background()

	old := numbered("x.py", 20)
	fileID := env.seedFile(t, "p", "x.py", text(old))
	env.seedConn(t, fileID, 3, old, 5, 8, "")
	env.edit(t, "p", "x.py", text(append([]string{"top"}, old...)))

	if _, err := env.engine.RunIncremental(ctx, "p"); err != nil {
		t.Fatalf("first run: %v", err)
	}
	before := env.conns(t, "p", "x.py")
	calls := len(env.pipe.items())

	res, err := env.engine.RunIncremental(ctx, "p")
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if !res.Success || res.RunID != "" || res.Stats.FilesProcessed != 0 {
		t.Errorf("second run should be a no-op: %+v", res)
	}
	if len(env.pipe.items()) != calls {
		t.Error("second run called the pipeline")
	}
	after := env.conns(t, "p", "x.py")
	if len(after) != len(before) || after[0].StartLine() != before[0].StartLine() {
		t.Errorf("connections changed: %+v -> %+v", before, after)
	}
	runs, err := storage.NewRunRepository(env.db).List(ctx, "p", 0)
	if err != nil || len(runs) != 1 {
		t.Errorf("runs = %d, %v; want one history row", len(runs), err)
	}
}

func TestRunIncremental_PipelineFailureDefersFile(t *testing.T) {
	env := setupTestEngine(t)
	ctx := context.Background()

	old := numbered("q.py", 20)
	fileID := env.seedFile(t, "p", "q.py", text(old))
	env.seedConn(t, fileID, 1, old, 5, 10, "consumer")
	edited := append([]string{}, old...)
	edited[6] = "changed"
	env.edit(t, "p", "q.py", text(edited))

	env.pipe.respond = func(*pipeline.Request) ([]pipeline.Record, error) {
		return nil, errors.New("upstream unavailable")
	}
	res, err := env.engine.RunIncremental(ctx, "p")
	if err != nil {
		t.Fatalf("RunIncremental: %v", err)
	}
	if res.Success || res.Stats.BatchesFailed != 1 || res.Stats.FilesDeferred != 1 {
		t.Fatalf("stats = %+v", res.Stats)
	}
	if pending, _ := env.engine.HasPendingChanges(ctx, "p"); !pending {
		t.Fatal("checkpoint must survive a failed batch")
	}
	if conns := env.conns(t, "p", "q.py"); len(conns) != 1 || conns[0].ID != 1 || conns[0].StartLine() != 5 {
		t.Fatalf("connection must be untouched: %+v", conns)
	}

	env.pipe.respond = nil
	res, err = env.engine.RunIncremental(ctx, "p")
	if err != nil || !res.Success || res.Stats.FilesProcessed != 1 {
		t.Fatalf("retry: %+v %v", res, err)
	}
	items := env.pipe.items()
	if len(items) != 2 || !reflect.DeepEqual(items[0], items[1]) {
		t.Errorf("retry should resend the same request: %+v", items)
	}
	if pending, _ := env.engine.HasPendingChanges(ctx, "p"); pending {
		t.Error("checkpoint should be cleared after the retry")
	}
}

func TestRunIncremental_DeletedFile(t *testing.T) {
	env := setupTestEngine(t)
	ctx := context.Background()

	old := numbered("gone.go", 10)
	fileID := env.seedFile(t, "p", "gone.go", text(old))
	env.seedConn(t, fileID, 4, old, 2, 3, "")
	if _, err := storage.NewMappingRepository(env.db).Create(ctx, &storage.ConnectionMapping{SenderID: 4, ReceiverID: 1}); err != nil {
		t.Fatal(err)
	}

	rec, err := env.engine.RecordChanges(ctx, "p", &diff.ChangeSet{Deleted: []string{"gone.go"}})
	if err != nil || len(rec.Recorded) != 1 {
		t.Fatalf("RecordChanges: %+v %v", rec, err)
	}

	res, err := env.engine.RunIncremental(ctx, "p")
	if err != nil || !res.Success {
		t.Fatalf("RunIncremental: %+v %v", res, err)
	}
	if res.Stats.ConnectionsDeleted != 1 || len(env.pipe.items()) != 0 {
		t.Errorf("stats = %+v", res.Stats)
	}
	if f, _ := storage.NewFileRepository(env.db).Get(ctx, "p", "gone.go"); f != nil {
		t.Error("files row should be removed")
	}
	if m, _ := storage.NewMappingRepository(env.db).ListForConnection(ctx, storage.Outgoing, 4); len(m) != 0 {
		t.Error("mappings should be removed")
	}
}

func TestRunIncremental_NewFile(t *testing.T) {
	env := setupTestEngine(t)
	ctx := context.Background()

	body := numbered("new.ts", 90)
	env.source.Set("p", "new.ts", text(body))
	if _, err := env.engine.RecordChanges(ctx, "p", &diff.ChangeSet{Added: []string{"new.ts"}}); err != nil {
		t.Fatal(err)
	}

	env.pipe.respond = func(req *pipeline.Request) ([]pipeline.Record, error) {
		return []pipeline.Record{
			{Direction: storage.Incoming, FilePath: "new.ts", StartLine: 10, EndLine: 12, Description: "GET /orders"},
			{Direction: storage.Outgoing, FilePath: "other.ts", StartLine: 1, EndLine: 1},
			{Direction: storage.Outgoing, FilePath: "new.ts", StartLine: 80, EndLine: 200},
		}, nil
	}

	res, err := env.engine.RunIncremental(ctx, "p")
	if err != nil || !res.Success {
		t.Fatalf("RunIncremental: %+v %v", res, err)
	}
	items := env.pipe.items()
	if len(items) != 1 || items[0].Kind != "new_file" || items[0].EndLine != 90 {
		t.Errorf("items = %+v", items)
	}
	conns := env.conns(t, "p", "new.ts")
	if len(conns) != 1 || conns[0].Direction != storage.Incoming || conns[0].StartLine() != 10 {
		t.Fatalf("connections = %+v", conns)
	}
	if res.Stats.ConnectionsInserted != 1 {
		t.Errorf("inserted = %d", res.Stats.ConnectionsInserted)
	}
	if f, _ := storage.NewFileRepository(env.db).Get(ctx, "p", "new.ts"); f == nil || f.Language != "typescript" {
		t.Errorf("files row = %+v", f)
	}
}

func TestRunIncremental_EditDuringRunSurvives(t *testing.T) {
	env := setupTestEngine(t)
	ctx := context.Background()

	old := numbered("m.go", 10)
	env.seedFile(t, "p", "m.go", text(old))
	first := text(append(old, "first addition"))
	env.edit(t, "p", "m.go", first)

	latest := text(append(old, "first addition", "second addition"))
	env.pipe.respond = func(*pipeline.Request) ([]pipeline.Record, error) {
		env.edit(t, "p", "m.go", latest)
		return nil, nil
	}

	if _, err := env.engine.RunIncremental(ctx, "p"); err != nil {
		t.Fatal(err)
	}

	entry, err := env.store.Get(ctx, checkpoint.Key{ProjectID: "p", FilePath: "m.go"})
	if err != nil || entry == nil {
		t.Fatalf("edit made during the run was lost: %v", err)
	}
	if entry.ChangeType != checkpoint.Modified || *entry.OldCode != first || *entry.NewCode != latest {
		t.Errorf("entry not rebased on the applied content: %+v", entry)
	}
}

func TestRecordChanges_SkipsNoOpSaves(t *testing.T) {
	env := setupTestEngine(t)
	ctx := context.Background()

	body := text(numbered("s.go", 5))
	env.seedFile(t, "p", "s.go", body)
	env.source.Set("p", "s.go", body)

	res, err := env.engine.RecordChanges(ctx, "p", &diff.ChangeSet{
		Modified: []string{"s.go"},
		Deleted:  []string{"never-indexed.go"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Recorded) != 0 || len(res.Unchanged) != 2 {
		t.Errorf("result = %+v", res)
	}
	if pending, _ := env.engine.HasPendingChanges(ctx, "p"); pending {
		t.Error("no checkpoint expected")
	}
}

func TestRecordChanges_MissingFileBecomesRemoval(t *testing.T) {
	env := setupTestEngine(t)
	ctx := context.Background()

	body := text(numbered("r.go", 5))
	env.seedFile(t, "p", "r.go", body)

	if _, err := env.engine.RecordChanges(ctx, "p", &diff.ChangeSet{Modified: []string{"r.go"}}); err != nil {
		t.Fatal(err)
	}
	entry, err := env.store.Get(ctx, checkpoint.Key{ProjectID: "p", FilePath: "r.go"})
	if err != nil || entry == nil || entry.ChangeType != checkpoint.Deleted || *entry.OldCode != body {
		t.Errorf("entry = %+v, %v", entry, err)
	}
}

func TestRunAll(t *testing.T) {
	env := setupTestEngine(t)
	ctx := context.Background()

	for _, p := range []string{"a", "b", "c"} {
		env.source.Set(p, "main.go", text(numbered(p, 3)))
		if _, err := env.engine.RecordChanges(ctx, p, &diff.ChangeSet{Added: []string{"main.go"}}); err != nil {
			t.Fatal(err)
		}
	}

	results, errs := env.engine.RunAll(ctx, []string{"a", "b", "c"})
	if len(errs) != 0 {
		t.Fatalf("RunAll errors: %v", errs)
	}
	for i, res := range results {
		if res == nil || !res.Success || res.Stats.FilesProcessed != 1 {
			t.Errorf("project %d: %+v", i, res)
		}
	}
	if len(env.pipe.items()) != 3 {
		t.Errorf("expected one batch per project, got %d items", len(env.pipe.items()))
	}
}

func TestRunIncremental_NoPipelineConfigured(t *testing.T) {
	env := setupTestEngine(t)
	ctx := context.Background()
	env.engine.discoverer = nil

	env.source.Set("p", "n.go", "package n\n")
	if _, err := env.engine.RecordChanges(ctx, "p", &diff.ChangeSet{Added: []string{"n.go"}}); err != nil {
		t.Fatal(err)
	}
	res, err := env.engine.RunIncremental(ctx, "p")
	if err != nil {
		t.Fatal(err)
	}
	if res.Success || res.Stats.BatchesFailed != 1 || res.Stats.FilesDeferred != 1 {
		t.Errorf("stats = %+v", res.Stats)
	}
}
