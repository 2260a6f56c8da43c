package checkpoint

import (
	"testing"
	"time"
)

func str(s string) *string { return &s }

func deref(s *string) string {
	if s == nil {
		return "<nil>"
	}
	return *s
}

func TestFold_Transitions(t *testing.T) {
	key := Key{ProjectID: "p", FilePath: "a.py"}
	base := "base"

	tests := []struct {
		name    string
		events  []Event
		want    ChangeType
		wantOld string
		wantNew string
	}{
		{
			name:    "absent edited",
			events:  []Event{{Kind: Edited, Content: "v1", Indexed: &base}},
			want:    Modified,
			wantOld: "base",
			wantNew: "v1",
		},
		{
			name: "modified edited again keeps baseline",
			events: []Event{
				{Kind: Edited, Content: "v1", Indexed: &base},
				{Kind: Edited, Content: "v2", Indexed: str("v1")},
			},
			want:    Modified,
			wantOld: "base",
			wantNew: "v2",
		},
		{
			name:    "absent created",
			events:  []Event{{Kind: Created, Content: "new"}},
			want:    Added,
			wantOld: "<nil>",
			wantNew: "new",
		},
		{
			name: "added edited again stays added",
			events: []Event{
				{Kind: Created, Content: "new"},
				{Kind: Edited, Content: "newer"},
			},
			want:    Added,
			wantOld: "<nil>",
			wantNew: "newer",
		},
		{
			name: "modified then removed keeps baseline",
			events: []Event{
				{Kind: Edited, Content: "v1", Indexed: &base},
				{Kind: Removed, Indexed: &base},
			},
			want:    Deleted,
			wantOld: "base",
			wantNew: "<nil>",
		},
		{
			name:    "absent removed uses indexed content",
			events:  []Event{{Kind: Removed, Indexed: &base}},
			want:    Deleted,
			wantOld: "base",
			wantNew: "<nil>",
		},
		{
			name: "deleted reappears as modified",
			events: []Event{
				{Kind: Removed, Indexed: &base},
				{Kind: Created, Content: "back"},
			},
			want:    Modified,
			wantOld: "base",
			wantNew: "back",
		},
		{
			name: "added then removed has no baseline",
			events: []Event{
				{Kind: Created, Content: "new"},
				{Kind: Removed},
			},
			want:    Deleted,
			wantOld: "<nil>",
			wantNew: "<nil>",
		},
		{
			name: "added removed and recreated is added",
			events: []Event{
				{Kind: Created, Content: "new"},
				{Kind: Removed},
				{Kind: Created, Content: "again"},
			},
			want:    Added,
			wantOld: "<nil>",
			wantNew: "again",
		},
		{
			name:    "first edit of unindexed file is an addition",
			events:  []Event{{Kind: Edited, Content: "x"}},
			want:    Added,
			wantOld: "<nil>",
			wantNew: "x",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cur *Entry
			now := time.Unix(1700000000, 0)
			for i, ev := range tt.events {
				ev.Key = key
				r := eventRow(ev, now)
				r.id = int64(i + 1)
				cur = fold(cur, r)
			}
			if cur.ChangeType != tt.want {
				t.Errorf("ChangeType = %s, want %s", cur.ChangeType, tt.want)
			}
			if got := deref(cur.OldCode); got != tt.wantOld {
				t.Errorf("OldCode = %s, want %s", got, tt.wantOld)
			}
			if got := deref(cur.NewCode); got != tt.wantNew {
				t.Errorf("NewCode = %s, want %s", got, tt.wantNew)
			}
			if len(cur.RowIDs) != len(tt.events) {
				t.Errorf("RowIDs = %v, want %d ids", cur.RowIDs, len(tt.events))
			}
		})
	}
}

// Appending folded states and re-folding them must give the same entry.
func TestFoldRows_FoldedStatesAreStable(t *testing.T) {
	key := Key{ProjectID: "p", FilePath: "a.py"}
	base := "base"
	events := []Event{
		{Key: key, Kind: Edited, Content: "v1", Indexed: &base},
		{Key: key, Kind: Removed, Indexed: &base},
		{Key: key, Kind: Created, Content: "v3"},
		{Key: key, Kind: Edited, Content: "v4"},
	}

	var cur *Entry
	var rows []*row
	for i, ev := range events {
		cur = fold(cur, eventRow(ev, time.Time{}))
		rows = append(rows, &row{id: int64(i + 1), key: key, changeType: cur.ChangeType, oldCode: cur.OldCode, newCode: cur.NewCode})
	}

	entries, skipped := foldRows(rows)
	if len(skipped) != 0 {
		t.Fatalf("unexpected skipped rows: %v", skipped)
	}
	got := entries[key]
	if got.ChangeType != Modified || deref(got.OldCode) != "base" || deref(got.NewCode) != "v4" {
		t.Errorf("refold = %s %s %s", got.ChangeType, deref(got.OldCode), deref(got.NewCode))
	}
}

func TestFoldRows_SkipsMalformed(t *testing.T) {
	rows := []*row{
		{id: 1, key: Key{"", "a.py"}, changeType: Added, newCode: str("x")},
		{id: 2, key: Key{"p", "b.py"}, changeType: "renamed", newCode: str("x")},
		{id: 3, key: Key{"p", "c.py"}, changeType: Modified, newCode: str("x")},
		{id: 4, key: Key{"p", "d.py"}, changeType: Added},
		{id: 5, key: Key{"p", "e.py"}, changeType: Added, newCode: str("ok")},
	}

	entries, skipped := foldRows(rows)
	if len(skipped) != 4 {
		t.Errorf("skipped %d rows, want 4: %v", len(skipped), skipped)
	}
	if len(entries) != 1 || entries[Key{"p", "e.py"}] == nil {
		t.Errorf("entries = %v, want only e.py", entries)
	}
}

func TestRebase(t *testing.T) {
	key := Key{ProjectID: "p", FilePath: "a.py"}

	tests := []struct {
		name     string
		survivor *Entry
		applied  Applied
		wantNil  bool
		want     ChangeType
		wantOld  string
	}{
		{"edit after applied modify", &Entry{Key: key, ChangeType: Modified, OldCode: str("base"), NewCode: str("v2")}, Applied{Content: "v1"}, false, Modified, "v1"},
		{"same content as applied", &Entry{Key: key, ChangeType: Modified, OldCode: str("base"), NewCode: str("v1")}, Applied{Content: "v1"}, true, "", ""},
		{"removed after applied modify", &Entry{Key: key, ChangeType: Deleted, OldCode: str("base")}, Applied{Content: "v1"}, false, Deleted, "v1"},
		{"edit after applied delete", &Entry{Key: key, ChangeType: Modified, OldCode: str("base"), NewCode: str("v2")}, Applied{Deleted: true}, false, Added, "<nil>"},
		{"delete after applied delete", &Entry{Key: key, ChangeType: Deleted, OldCode: str("base")}, Applied{Deleted: true}, true, "", ""},
		{"added file edited during run", &Entry{Key: key, ChangeType: Added, NewCode: str("v2")}, Applied{Content: "v1"}, false, Modified, "v1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := rebase(tt.survivor, tt.applied)
			if tt.wantNil {
				if got != nil {
					t.Fatalf("rebase = %+v, want nil", got)
				}
				return
			}
			if got == nil {
				t.Fatal("rebase = nil")
			}
			if got.ChangeType != tt.want || deref(got.OldCode) != tt.wantOld {
				t.Errorf("rebase = %s old=%s, want %s old=%s", got.ChangeType, deref(got.OldCode), tt.want, tt.wantOld)
			}
		})
	}
}
