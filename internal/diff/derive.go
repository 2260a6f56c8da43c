package diff

// Range is a replaced region in 1-based inclusive coordinates on both
// sides. A side with no lines has End = Start-1.
type Range struct {
	OldStart int
	OldEnd   int
	NewStart int
	NewEnd   int
}

// Result is what Derive extracts from an edit script. All line numbers
// are 1-based.
type Result struct {
	OldLineCount int
	NewLineCount int
	// mapping[i] is the new line for old line i+1, or 0 when the old
	// line did not survive.
	mapping []int
	// Added lists new lines introduced by Insert ops only.
	Added []int
	// Removed lists old lines destroyed by Delete or Replace ops.
	Removed []int
	// ReplacedRanges lists Replace ops in order.
	ReplacedRanges []Range
	Ops            []Op
}

// Derive builds the line mapping and change sets for ops over files of
// oldLen and newLen lines.
func Derive(ops []Op, oldLen, newLen int) *Result {
	r := &Result{
		OldLineCount: oldLen,
		NewLineCount: newLen,
		mapping:      make([]int, oldLen),
		Ops:          ops,
	}
	for _, op := range ops {
		switch op.Kind {
		case Equal:
			for k := 0; k < op.OldEnd-op.OldStart; k++ {
				r.mapping[op.OldStart+k] = op.NewStart + k + 1
			}
		case Insert:
			for l := op.NewStart; l < op.NewEnd; l++ {
				r.Added = append(r.Added, l+1)
			}
		case Delete:
			for l := op.OldStart; l < op.OldEnd; l++ {
				r.Removed = append(r.Removed, l+1)
			}
		case Replace:
			for l := op.OldStart; l < op.OldEnd; l++ {
				r.Removed = append(r.Removed, l+1)
			}
			r.ReplacedRanges = append(r.ReplacedRanges, Range{
				OldStart: op.OldStart + 1,
				OldEnd:   op.OldEnd,
				NewStart: op.NewStart + 1,
				NewEnd:   op.NewEnd,
			})
		}
	}
	return r
}

// Compare splits both contents, aligns them and derives the result.
func (a Aligner) Compare(oldContent, newContent string) *Result {
	oldLines := SplitLines(oldContent)
	newLines := SplitLines(newContent)
	return Derive(a.Align(oldLines, newLines), len(oldLines), len(newLines))
}

// Compare is Aligner{}.Compare.
func Compare(oldContent, newContent string) *Result {
	return Aligner{}.Compare(oldContent, newContent)
}

// Map returns the new line for an old line, and false when the old
// line was deleted, replaced, or is out of range.
func (r *Result) Map(oldLine int) (int, bool) {
	if oldLine < 1 || oldLine > len(r.mapping) {
		return 0, false
	}
	n := r.mapping[oldLine-1]
	return n, n != 0
}

// InRange reports whether oldLine exists in the old file.
func (r *Result) InRange(oldLine int) bool {
	return oldLine >= 1 && oldLine <= r.OldLineCount
}

// Unchanged reports whether the script contains only equal runs.
func (r *Result) Unchanged() bool {
	for _, op := range r.Ops {
		if op.Kind != Equal {
			return false
		}
	}
	return true
}
