// Package watcher feeds file system changes of a project tree into the
// checkpoint store.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"connidx/internal/content"
	"connidx/internal/diff"
)

// EventType represents the type of file system event
type EventType int

const (
	EventCreate EventType = iota
	EventModify
	EventDelete
)

// Event represents a file system event on a project-relative path.
type Event struct {
	Type      EventType
	Path      string
	Timestamp time.Time
}

// String returns a string representation of the event type
func (e EventType) String() string {
	switch e {
	case EventCreate:
		return "create"
	case EventModify:
		return "modify"
	case EventDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// ChangeHandler receives each debounced batch of changes.
type ChangeHandler func(ctx context.Context, projectID string, changes *diff.ChangeSet)

// DefaultDebounce is the quiet period before a batch is emitted.
const DefaultDebounce = 2 * time.Second

// Config contains watcher configuration
type Config struct {
	ProjectID string
	Root      string
	Filter    content.Filter
	Debounce  time.Duration
}

// Watcher watches one project tree.
type Watcher struct {
	config    Config
	logger    *slog.Logger
	handler   ChangeHandler
	fs        *fsnotify.Watcher
	debouncer *BatchDebouncer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// New creates a watcher. Nothing is watched until Start.
func New(cfg Config, logger *slog.Logger, handler ChangeHandler) (*Watcher, error) {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("invalid watch root: %w", err)
	}
	cfg.Root = root
	cfg.Filter = cfg.Filter.WithDefaults()

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Watcher{
		config:  cfg,
		logger:  logger,
		handler: handler,
		fs:      fsw,
		ctx:     ctx,
		cancel:  cancel,
	}
	w.debouncer = NewBatchDebouncer(cfg.Debounce, w.emit)
	return w, nil
}

// Start adds watches for every directory under the root and begins
// processing events.
func (w *Watcher) Start() error {
	if err := w.addWatches(w.config.Root); err != nil {
		return err
	}

	w.logger.Info("Starting file watcher",
		"project", w.config.ProjectID,
		"root", w.config.Root,
		"debounceMs", w.config.Debounce.Milliseconds(),
	)

	w.wg.Add(1)
	go w.processEvents()
	return nil
}

// Stop ends watching. Pending changes are delivered before it returns.
func (w *Watcher) Stop() error {
	var err error
	w.once.Do(func() {
		w.cancel()
		err = w.fs.Close()
		w.wg.Wait()
		w.debouncer.Close()
		w.logger.Info("File watcher stopped", "project", w.config.ProjectID)
	})
	return err
}

func (w *Watcher) addWatches(root string) error {
	visited := make(map[string]bool)
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil //nolint:nilerr // Skip unreadable entries
		}
		if !d.IsDir() {
			return nil
		}
		resolved, err := filepath.EvalSymlinks(path)
		if err != nil || visited[resolved] {
			return filepath.SkipDir
		}
		visited[resolved] = true

		if rel, ok := w.rel(path); ok && rel != "." && w.config.Filter.Excluded(rel) {
			return filepath.SkipDir
		}
		if err := w.fs.Add(path); err != nil {
			w.logger.Warn("Failed to watch directory", "path", path, "error", err.Error())
		}
		return nil
	})
}

func (w *Watcher) processEvents() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Warn("File watcher error", "project", w.config.ProjectID, "error", err.Error())
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	rel, ok := w.rel(event.Name)
	if !ok || rel == "." {
		return
	}

	info, err := os.Stat(event.Name)
	if err == nil && info.IsDir() {
		if event.Has(fsnotify.Create) && !w.config.Filter.Excluded(rel) {
			if err := w.addWatches(event.Name); err != nil {
				w.logger.Warn("Failed to watch new directory", "path", rel, "error", err.Error())
			}
			// Files written before the watch was added are picked up here.
			w.addTree(event.Name)
		}
		return
	}
	if !w.config.Filter.Match(rel) {
		return
	}

	var typ EventType
	switch {
	case errors.Is(err, fs.ErrNotExist), event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		typ = EventDelete
	case event.Has(fsnotify.Create):
		typ = EventCreate
	case event.Has(fsnotify.Write):
		typ = EventModify
	default:
		return
	}
	if typ != EventDelete && info != nil && info.Size() > content.MaxFileSize {
		return
	}

	w.logger.Debug("File event", "project", w.config.ProjectID, "path", rel, "type", typ.String())
	w.debouncer.Add(Event{Type: typ, Path: rel, Timestamp: time.Now()})
}

func (w *Watcher) addTree(dir string) {
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil //nolint:nilerr
		}
		if rel, ok := w.rel(path); ok && w.config.Filter.Match(rel) {
			w.debouncer.Add(Event{Type: EventCreate, Path: rel, Timestamp: time.Now()})
		}
		return nil
	})
}

func (w *Watcher) rel(path string) (string, bool) {
	rel, err := filepath.Rel(w.config.Root, path)
	if err != nil || rel == ".." || (len(rel) > 2 && rel[:3] == ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

func (w *Watcher) emit(events []Event) {
	changes := ToChangeSet(events)
	if changes.Empty() || w.handler == nil {
		return
	}
	w.logger.Debug("Emitting file changes",
		"project", w.config.ProjectID,
		"added", len(changes.Added),
		"modified", len(changes.Modified),
		"deleted", len(changes.Deleted),
	)
	// Stop cancels w.ctx before the final flush; the handler still needs
	// a live context to record it.
	w.handler(context.WithoutCancel(w.ctx), w.config.ProjectID, changes)
}

// ToChangeSet classifies collapsed events by their final type.
func ToChangeSet(events []Event) *diff.ChangeSet {
	cs := &diff.ChangeSet{}
	for _, ev := range events {
		switch ev.Type {
		case EventCreate:
			cs.Added = append(cs.Added, ev.Path)
		case EventModify:
			cs.Modified = append(cs.Modified, ev.Path)
		case EventDelete:
			cs.Deleted = append(cs.Deleted, ev.Path)
		}
	}
	return cs
}
