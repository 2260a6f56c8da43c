package checkpoint

import (
	"sort"
	"time"
)

// row is one physical checkpoint row after decoding.
type row struct {
	id         int64
	key        Key
	changeType ChangeType
	oldCode    *string
	newCode    *string
	updatedAt  time.Time
}

// validate returns the reason a row cannot be folded, or "".
func (r *row) validate() string {
	switch {
	case r.key.ProjectID == "" || r.key.FilePath == "":
		return "empty project or path"
	case !r.changeType.Valid():
		return "unknown change type " + string(r.changeType)
	case r.changeType == Modified && r.oldCode == nil:
		return "modified without old_code"
	case (r.changeType == Added || r.changeType == Modified) && r.newCode == nil:
		return string(r.changeType) + " without new_code"
	}
	return ""
}

// fold applies one valid row to the current entry.
//
//	absent   + modified(o,n) -> modified(o,n)
//	modified + modified(_,n) -> modified(old kept, n)
//	absent   + added(n)      -> added(n)
//	added    + added|modified(n) -> added(n)
//	any      + deleted(o)    -> deleted(prior old if present, else o)
//	deleted  + added|modified(n) -> modified(deletion baseline, n),
//	                              or added(n) without a baseline
func fold(cur *Entry, r *row) *Entry {
	next := &Entry{Key: r.key, UpdatedAt: r.updatedAt}
	if cur != nil {
		next.RowIDs = append(next.RowIDs, cur.RowIDs...)
		if cur.UpdatedAt.After(next.UpdatedAt) {
			next.UpdatedAt = cur.UpdatedAt
		}
	}
	next.RowIDs = append(next.RowIDs, r.id)

	switch r.changeType {
	case Deleted:
		next.ChangeType = Deleted
		next.OldCode = r.oldCode
		if cur != nil && cur.OldCode != nil {
			next.OldCode = cur.OldCode
		}
		return next
	}

	next.NewCode = r.newCode
	switch {
	case cur == nil:
		next.ChangeType = r.changeType
		next.OldCode = r.oldCode
	case cur.ChangeType == Added:
		next.ChangeType = Added
	case cur.OldCode != nil:
		// modified or deleted with a baseline
		next.ChangeType = Modified
		next.OldCode = cur.OldCode
	default:
		next.ChangeType = Added
	}
	return next
}

// foldRows folds rows in id order into one entry per key.
func foldRows(rows []*row) (map[Key]*Entry, []Skipped) {
	sort.Slice(rows, func(i, j int) bool { return rows[i].id < rows[j].id })

	entries := make(map[Key]*Entry)
	var skipped []Skipped
	for _, r := range rows {
		if reason := r.validate(); reason != "" {
			skipped = append(skipped, Skipped{RowID: r.id, Key: r.key, Reason: reason})
			continue
		}
		entries[r.key] = fold(entries[r.key], r)
	}
	return entries, skipped
}

// eventRow converts an observed event into the row Record appends
// before folding. A first edit of an unindexed file is an addition.
func eventRow(ev Event, now time.Time) *row {
	r := &row{key: ev.Key, updatedAt: now}
	switch ev.Kind {
	case Removed:
		r.changeType = Deleted
		r.oldCode = ev.Indexed
	default:
		r.newCode = strPtr(ev.Content)
		if ev.Indexed != nil {
			r.changeType = Modified
			r.oldCode = ev.Indexed
		} else {
			r.changeType = Added
		}
	}
	return r
}

// Applied is the state an incremental run committed for a file.
type Applied struct {
	// Deleted is true when the run removed the file from the index.
	Deleted bool
	// Content is the newly indexed content when Deleted is false.
	Content string
}

// rebase rewrites a surviving entry against the baseline a run just
// committed. It returns nil when nothing is pending anymore.
func rebase(survivor *Entry, applied Applied) *Entry {
	out := &Entry{Key: survivor.Key, UpdatedAt: survivor.UpdatedAt}
	if applied.Deleted {
		if survivor.ChangeType == Deleted {
			return nil
		}
		out.ChangeType = Added
		out.NewCode = survivor.NewCode
		return out
	}

	base := applied.Content
	if survivor.ChangeType == Deleted {
		out.ChangeType = Deleted
		out.OldCode = strPtr(base)
		return out
	}
	if survivor.NewCode != nil && *survivor.NewCode == base {
		return nil
	}
	out.ChangeType = Modified
	out.OldCode = strPtr(base)
	out.NewCode = survivor.NewCode
	return out
}

func sortKeys(keys []Key) {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].ProjectID != keys[j].ProjectID {
			return keys[i].ProjectID < keys[j].ProjectID
		}
		return keys[i].FilePath < keys[j].FilePath
	})
}
