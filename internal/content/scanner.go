package content

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"connidx/internal/diff"
	"connidx/internal/storage"
)

// Scanner compares a project tree with the file hashes of the last
// reconciled state.
type Scanner struct {
	root   string
	filter Filter
	files  *storage.FileRepository
	logger *slog.Logger
}

func NewScanner(root string, filter Filter, files *storage.FileRepository, logger *slog.Logger) *Scanner {
	return &Scanner{root: root, filter: filter.WithDefaults(), files: files, logger: logger}
}

// Detect walks the root and classifies every file as added, modified or
// deleted relative to the files table. Unreadable, binary and oversized
// files are skipped.
func (s *Scanner) Detect(ctx context.Context, projectID string) (*diff.ChangeSet, error) {
	indexed, err := s.files.Hashes(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to get indexed files: %w", err)
	}

	cs := &diff.ChangeSet{}
	seen := make(map[string]bool)
	err = filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil //nolint:nilerr // Skip inaccessible entries, continue walking
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		rel, relErr := filepath.Rel(s.root, path)
		if relErr != nil || rel == "." {
			return nil //nolint:nilerr
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if s.filter.Excluded(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || !s.filter.Match(rel) {
			return nil
		}

		info, infoErr := d.Info()
		if infoErr != nil || info.Size() > MaxFileSize {
			return nil //nolint:nilerr
		}
		data, readErr := os.ReadFile(path)
		if readErr != nil || IsBinary(data) {
			return nil //nolint:nilerr
		}

		seen[rel] = true
		hash := Hash(string(data))
		if prev, ok := indexed[rel]; !ok {
			cs.Added = append(cs.Added, rel)
		} else if prev != hash {
			cs.Modified = append(cs.Modified, rel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", s.root, err)
	}

	for path := range indexed {
		if !seen[path] {
			cs.Deleted = append(cs.Deleted, path)
		}
	}
	sort.Strings(cs.Added)
	sort.Strings(cs.Modified)
	sort.Strings(cs.Deleted)

	s.logger.Debug("Scanned project tree",
		"project", projectID,
		"added", len(cs.Added),
		"modified", len(cs.Modified),
		"deleted", len(cs.Deleted),
	)
	return cs, nil
}
