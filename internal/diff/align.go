// Package diff aligns two versions of a file into an edit script and
// derives the line mapping used to remap connections.
package diff

import (
	"github.com/pmezard/go-difflib/difflib"
)

// OpKind is the kind of an edit-script operation.
type OpKind string

const (
	Equal   OpKind = "equal"
	Insert  OpKind = "insert"
	Delete  OpKind = "delete"
	Replace OpKind = "replace"
)

// Op is one edit-script operation over 0-based half-open line indices:
// old[OldStart:OldEnd] becomes new[NewStart:NewEnd].
type Op struct {
	Kind     OpKind
	OldStart int
	OldEnd   int
	NewStart int
	NewEnd   int
}

// DefaultMaxCells bounds the LCS table size before Align switches to
// the sequence matcher.
const DefaultMaxCells = 4_000_000

// Aligner computes edit scripts. The zero value uses DefaultMaxCells.
type Aligner struct {
	// MaxCells is the largest old*new product aligned with the exact
	// LCS table after trimming the common prefix and suffix.
	MaxCells int
}

// Align returns the edit script turning oldLines into newLines.
// Adjacent deletions and insertions are reported as one Replace.
// The result is deterministic and covers both inputs end to end.
func Align(oldLines, newLines []string) []Op {
	return Aligner{}.Align(oldLines, newLines)
}

func (a Aligner) Align(oldLines, newLines []string) []Op {
	maxCells := a.MaxCells
	if maxCells <= 0 {
		maxCells = DefaultMaxCells
	}

	prefix := 0
	for prefix < len(oldLines) && prefix < len(newLines) && oldLines[prefix] == newLines[prefix] {
		prefix++
	}
	suffix := 0
	for suffix < len(oldLines)-prefix && suffix < len(newLines)-prefix &&
		oldLines[len(oldLines)-1-suffix] == newLines[len(newLines)-1-suffix] {
		suffix++
	}

	oldMid := oldLines[prefix : len(oldLines)-suffix]
	newMid := newLines[prefix : len(newLines)-suffix]

	var b scriptBuilder
	b.add(Equal, 0, prefix, 0, prefix)

	switch {
	case len(oldMid) == 0 && len(newMid) == 0:
	case len(oldMid) == 0:
		b.add(Insert, prefix, prefix, prefix, prefix+len(newMid))
	case len(newMid) == 0:
		b.add(Delete, prefix, prefix+len(oldMid), prefix, prefix)
	case len(oldMid)*len(newMid) <= maxCells:
		lcsScript(&b, oldMid, newMid, prefix)
	default:
		matcherScript(&b, oldMid, newMid, prefix)
	}

	b.add(Equal, len(oldLines)-suffix, len(oldLines), len(newLines)-suffix, len(newLines))
	return b.ops
}

// lcsScript walks a suffix LCS table forward. Matching lines are taken
// greedily; otherwise deletion wins ties over insertion.
func lcsScript(b *scriptBuilder, oldMid, newMid []string, offset int) {
	m, n := len(oldMid), len(newMid)
	width := n + 1
	table := make([]int32, (m+1)*width)
	for i := m - 1; i >= 0; i-- {
		for j := n - 1; j >= 0; j-- {
			if oldMid[i] == newMid[j] {
				table[i*width+j] = table[(i+1)*width+j+1] + 1
			} else {
				table[i*width+j] = max(table[(i+1)*width+j], table[i*width+j+1])
			}
		}
	}

	i, j := 0, 0
	for i < m || j < n {
		switch {
		case i < m && j < n && oldMid[i] == newMid[j]:
			b.line(Equal, offset+i, offset+j)
			i++
			j++
		case j >= n || (i < m && table[(i+1)*width+j] >= table[i*width+j+1]):
			b.line(Delete, offset+i, offset+j)
			i++
		default:
			b.line(Insert, offset+i, offset+j)
			j++
		}
	}
}

// matcherScript aligns large inputs with the sequence matcher. Autojunk
// is off so frequent lines such as blank lines still match.
func matcherScript(b *scriptBuilder, oldMid, newMid []string, offset int) {
	m := difflib.NewMatcherWithJunk(oldMid, newMid, false, nil)
	for _, oc := range m.GetOpCodes() {
		i1, i2, j1, j2 := offset+oc.I1, offset+oc.I2, offset+oc.J1, offset+oc.J2
		switch oc.Tag {
		case 'e':
			b.add(Equal, i1, i2, j1, j2)
		case 'd':
			b.add(Delete, i1, i2, j1, j2)
		case 'i':
			b.add(Insert, i1, i2, j1, j2)
		case 'r':
			b.add(Replace, i1, i2, j1, j2)
		}
	}
}

// scriptBuilder merges operations as they are appended: runs of the
// same kind extend, and any mix of deletion and insertion between two
// equal runs collapses into a single Replace.
type scriptBuilder struct {
	ops []Op
}

func (b *scriptBuilder) line(kind OpKind, oldIdx, newIdx int) {
	switch kind {
	case Equal:
		b.add(Equal, oldIdx, oldIdx+1, newIdx, newIdx+1)
	case Delete:
		b.add(Delete, oldIdx, oldIdx+1, newIdx, newIdx)
	case Insert:
		b.add(Insert, oldIdx, oldIdx, newIdx, newIdx+1)
	}
}

func (b *scriptBuilder) add(kind OpKind, oldStart, oldEnd, newStart, newEnd int) {
	if oldStart == oldEnd && newStart == newEnd {
		return
	}
	if n := len(b.ops); n > 0 {
		last := &b.ops[n-1]
		if (last.Kind == Equal) == (kind == Equal) {
			last.OldEnd = oldEnd
			last.NewEnd = newEnd
			if kind != Equal && last.Kind != kind {
				last.Kind = Replace
			}
			return
		}
	}
	b.ops = append(b.ops, Op{Kind: kind, OldStart: oldStart, OldEnd: oldEnd, NewStart: newStart, NewEnd: newEnd})
}
