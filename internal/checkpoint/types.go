// Package checkpoint stores the net pending change per file since the
// last successful incremental run.
//
// Rows are append-only. Each row is read as an event and folded into at
// most one logical Entry per Key, so any number of intermediate edits
// collapse into a single baseline-to-current delta.
package checkpoint

import (
	"time"
)

// ChangeType is the net change of a pending entry.
type ChangeType string

const (
	Added    ChangeType = "added"
	Modified ChangeType = "modified"
	Deleted  ChangeType = "deleted"
)

// Valid reports whether t is one of the known change types.
func (t ChangeType) Valid() bool {
	switch t {
	case Added, Modified, Deleted:
		return true
	}
	return false
}

// Key identifies one file within one project.
type Key struct {
	ProjectID string
	FilePath  string
}

func (k Key) String() string {
	return k.ProjectID + ":" + k.FilePath
}

// Entry is the folded pending change for one Key.
type Entry struct {
	Key
	ChangeType ChangeType
	// OldCode is the baseline: the content last reconciled into the index.
	OldCode *string
	// NewCode is the current content. Nil for deletions.
	NewCode *string
	// RowIDs lists every physical row folded into this entry.
	RowIDs    []int64
	UpdatedAt time.Time
}

// Skipped describes a row that Load could not fold.
type Skipped struct {
	RowID  int64
	Key    Key
	Reason string
}

// Snapshot is the result of Load.
type Snapshot struct {
	Entries map[Key]*Entry
	Skipped []Skipped
}

// Keys returns the entry keys sorted by project then path.
func (s *Snapshot) Keys() []Key {
	keys := make([]Key, 0, len(s.Entries))
	for k := range s.Entries {
		keys = append(keys, k)
	}
	sortKeys(keys)
	return keys
}

// EventKind is what the change detector observed for a file.
type EventKind int

const (
	// Created means the file appeared.
	Created EventKind = iota
	// Edited means the file content changed.
	Edited
	// Removed means the file disappeared.
	Removed
)

func (k EventKind) String() string {
	switch k {
	case Created:
		return "created"
	case Edited:
		return "edited"
	case Removed:
		return "removed"
	}
	return "unknown"
}

// Event is one observed change to pass to Record.
type Event struct {
	Key
	Kind EventKind
	// Content is the current file content for Created and Edited.
	Content string
	// Indexed is the last indexed content, nil when the file is not
	// in the index. It becomes the baseline of a first edit or removal.
	Indexed *string
}

func strPtr(s string) *string {
	return &s
}
