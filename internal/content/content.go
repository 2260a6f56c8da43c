// Package content reads current file content for a project and detects
// which files changed since they were last reconciled.
package content

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"

	cerrors "connidx/internal/errors"
)

// MaxFileSize is the largest file read as source content.
const MaxFileSize = 4 << 20

// Source returns the current content of a project file. ok is false
// when the file does not exist.
type Source interface {
	Read(ctx context.Context, projectID, path string) (content string, ok bool, err error)
}

// Hash returns the content digest stored in files.content_hash.
func Hash(content string) string {
	return strconv.FormatUint(xxhash.Sum64String(content), 16)
}

// FS reads files below per-project root directories.
type FS struct {
	mu    sync.RWMutex
	roots map[string]string
}

// NewFS creates a filesystem source for the given project roots.
func NewFS(roots map[string]string) *FS {
	f := &FS{roots: make(map[string]string, len(roots))}
	for id, root := range roots {
		f.roots[id] = root
	}
	return f
}

// SetRoot registers or replaces a project root.
func (f *FS) SetRoot(projectID, root string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.roots[projectID] = root
}

// Root returns the root directory registered for projectID.
func (f *FS) Root(projectID string) (string, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	root, ok := f.roots[projectID]
	return root, ok
}

func (f *FS) Read(ctx context.Context, projectID, path string) (string, bool, error) {
	root, ok := f.Root(projectID)
	if !ok {
		return "", false, cerrors.New(cerrors.ProjectNotFound, fmt.Sprintf("unknown project %q", projectID), nil)
	}
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	full, err := resolve(root, path)
	if err != nil {
		return "", false, err
	}
	data, err := os.ReadFile(full)
	if errors.Is(err, fs.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return string(data), true, nil
}

// resolve joins a slash-separated project path onto root, rejecting
// paths that escape it.
func resolve(root, path string) (string, error) {
	rel := filepath.FromSlash(path)
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("path %q must be relative to the project root", path)
	}
	clean := filepath.Clean(rel)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes the project root", path)
	}
	return filepath.Join(root, clean), nil
}

type mapKey struct {
	project string
	path    string
}

// Map is an in-memory Source.
type Map struct {
	mu    sync.RWMutex
	files map[mapKey]string
}

func NewMap() *Map {
	return &Map{files: make(map[mapKey]string)}
}

// Set stores content for a file.
func (m *Map) Set(projectID, path, content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[mapKey{projectID, path}] = content
}

// Delete removes a file.
func (m *Map) Delete(projectID, path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.files, mapKey{projectID, path})
}

func (m *Map) Read(_ context.Context, projectID, path string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.files[mapKey{projectID, path}]
	return c, ok, nil
}

// IsBinary reports whether data looks like a binary file.
func IsBinary(data []byte) bool {
	if len(data) > 8000 {
		data = data[:8000]
	}
	return bytes.IndexByte(data, 0) >= 0
}

var extLanguages = map[string]string{
	".go":    "go",
	".py":    "python",
	".js":    "javascript",
	".jsx":   "javascript",
	".mjs":   "javascript",
	".ts":    "typescript",
	".tsx":   "typescript",
	".java":  "java",
	".kt":    "kotlin",
	".rb":    "ruby",
	".rs":    "rust",
	".cs":    "csharp",
	".php":   "php",
	".scala": "scala",
	".swift": "swift",
	".c":     "c",
	".h":     "c",
	".cpp":   "cpp",
	".cc":    "cpp",
	".hpp":   "cpp",
	".yaml":  "yaml",
	".yml":   "yaml",
	".json":  "json",
	".proto": "protobuf",
	".sql":   "sql",
	".sh":    "shell",
}

// Language guesses a language name from the file extension.
func Language(path string) string {
	if lang, ok := extLanguages[strings.ToLower(filepath.Ext(path))]; ok {
		return lang
	}
	return "unknown"
}
