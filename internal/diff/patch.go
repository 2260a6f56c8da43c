package diff

import (
	"fmt"
	"sort"
	"strings"

	godiff "github.com/sourcegraph/go-diff/diff"
)

// ChangeSet is the set of paths a multi-file patch touches.
type ChangeSet struct {
	Added    []string
	Modified []string
	Deleted  []string
}

// Empty reports whether the patch touched nothing.
func (c *ChangeSet) Empty() bool {
	return len(c.Added) == 0 && len(c.Modified) == 0 && len(c.Deleted) == 0
}

// ParsePatch reads a git patch and classifies every file it touches.
// A rename is reported as a deletion of the old path plus an addition
// of the new one.
func ParsePatch(patch []byte) (*ChangeSet, error) {
	cs := &ChangeSet{}
	if len(strings.TrimSpace(string(patch))) == 0 {
		return cs, nil
	}

	fileDiffs, err := godiff.ParseMultiFileDiff(patch)
	if err != nil {
		return nil, fmt.Errorf("failed to parse diff: %w", err)
	}

	added := map[string]bool{}
	modified := map[string]bool{}
	deleted := map[string]bool{}
	for _, fd := range fileDiffs {
		oldPath, newPath := filePaths(fd)
		switch {
		case oldPath == "" && newPath == "":
			continue
		case oldPath == "":
			added[newPath] = true
		case newPath == "":
			deleted[oldPath] = true
		case oldPath != newPath:
			deleted[oldPath] = true
			added[newPath] = true
		default:
			modified[newPath] = true
		}
	}

	cs.Added = sortedKeys(added)
	cs.Modified = sortedKeys(modified)
	cs.Deleted = sortedKeys(deleted)
	return cs, nil
}

// filePaths returns the old and new path, "" for a missing side.
// Extended headers cover diffs without ---/+++ lines, such as pure
// renames or mode-only changes.
func filePaths(fd *godiff.FileDiff) (string, string) {
	oldPath, newPath := cleanPath(fd.OrigName), cleanPath(fd.NewName)
	isNew, isDeleted := fd.OrigName == DevNull, fd.NewName == DevNull

	for _, ext := range fd.Extended {
		switch {
		case strings.HasPrefix(ext, "rename from "):
			oldPath = strings.TrimPrefix(ext, "rename from ")
		case strings.HasPrefix(ext, "rename to "):
			newPath = strings.TrimPrefix(ext, "rename to ")
		case strings.HasPrefix(ext, "new file mode"):
			isNew = true
		case strings.HasPrefix(ext, "deleted file mode"):
			isDeleted = true
		case strings.HasPrefix(ext, "diff --git ") && (oldPath == "" || newPath == ""):
			if a, b, ok := gitHeaderPaths(ext); ok {
				if oldPath == "" {
					oldPath = a
				}
				if newPath == "" {
					newPath = b
				}
			}
		}
	}

	if isNew {
		oldPath = ""
	}
	if isDeleted {
		newPath = ""
	}
	return oldPath, newPath
}

// gitHeaderPaths parses "diff --git a/x b/y" for paths without spaces.
func gitHeaderPaths(line string) (string, string, bool) {
	fields := strings.Fields(strings.TrimPrefix(line, "diff --git "))
	if len(fields) != 2 {
		return "", "", false
	}
	return cleanPath(fields[0]), cleanPath(fields[1]), true
}

// cleanPath removes the a/ or b/ prefix from git diff paths
func cleanPath(path string) string {
	if path == "" || path == DevNull {
		return ""
	}
	if strings.HasPrefix(path, "a/") || strings.HasPrefix(path, "b/") {
		return path[2:]
	}
	return path
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
