// Package batch turns the residual work of a run into line-bounded
// requests for the discovery pipeline.
package batch

import (
	"sort"

	"connidx/internal/remap"
)

// DefaultMaxLines bounds the lines carried by one batch.
const DefaultMaxLines = 200

// Kind tells the pipeline why a range is being analysed.
type Kind string

const (
	KindResplit  Kind = "resplit"
	KindNewLines Kind = "new_lines"
	KindNewFile  Kind = "new_file"
)

// Unit is one contiguous range of new content to analyse.
type Unit struct {
	FilePath string
	Kind     Kind
	Start    int
	End      int
	// Descriptions carry prior descriptions of the connections a resplit
	// replaces.
	Descriptions []string
	// Sources are the connections the analysis supersedes.
	Sources []remap.Ref
}

// Lines returns the number of lines in the unit.
func (u Unit) Lines() int {
	if u.End < u.Start {
		return 0
	}
	return u.End - u.Start + 1
}

// Batch is a group of units sent in one pipeline call.
type Batch struct {
	Index int
	Units []Unit
}

// Lines returns the total line count of the batch.
func (b *Batch) Lines() int {
	n := 0
	for _, u := range b.Units {
		n += u.Lines()
	}
	return n
}

// Files returns the distinct file paths in the batch, in unit order.
func (b *Batch) Files() []string {
	seen := make(map[string]bool)
	var out []string
	for _, u := range b.Units {
		if !seen[u.FilePath] {
			seen[u.FilePath] = true
			out = append(out, u.FilePath)
		}
	}
	return out
}

// FileWork is the residual work found for one file.
type FileWork struct {
	Path string
	// NewFile marks a file with no baseline; the whole content is new.
	NewFile   bool
	LineCount int
	// Added lists new-content lines introduced by inserts.
	Added []int
	// Claimed lists lines owned by surviving connections or resplits.
	Claimed  []remap.Interval
	Resplits []remap.Resplit
}

// Planner assembles batches.
type Planner struct {
	MaxLines int
}

// New returns a planner bounded by maxLines, or DefaultMaxLines when
// maxLines is not positive.
func New(maxLines int) *Planner {
	if maxLines <= 0 {
		maxLines = DefaultMaxLines
	}
	return &Planner{MaxLines: maxLines}
}

// Plan orders every unit of work and packs them into batches.
func (p *Planner) Plan(work []FileWork) []*Batch {
	sorted := append([]FileWork(nil), work...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	var units []Unit
	for _, fw := range sorted {
		for _, u := range p.Units(fw) {
			units = append(units, Chunk(u, p.MaxLines)...)
		}
	}
	return Pack(units, p.MaxLines)
}

// Units returns the unsplit units of one file: merged resplits first,
// then runs of unclaimed added lines.
func (p *Planner) Units(fw FileWork) []Unit {
	if fw.NewFile {
		if fw.LineCount == 0 {
			return nil
		}
		return []Unit{{FilePath: fw.Path, Kind: KindNewFile, Start: 1, End: fw.LineCount}}
	}

	out := mergeResplits(fw.Path, fw.Resplits)
	for _, iv := range Group(Exclude(fw.Added, fw.Claimed)) {
		out = append(out, Unit{FilePath: fw.Path, Kind: KindNewLines, Start: iv.Start, End: iv.End})
	}
	return out
}

func mergeResplits(path string, rs []remap.Resplit) []Unit {
	sorted := append([]remap.Resplit(nil), rs...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Range.Start < sorted[j].Range.Start })

	var out []Unit
	for _, r := range sorted {
		if n := len(out); n > 0 && r.Range.Start <= out[n-1].End {
			last := &out[n-1]
			last.End = max(last.End, r.Range.End)
			last.Descriptions = appendDistinct(last.Descriptions, r.Descriptions...)
			last.Sources = append(last.Sources, r.Sources...)
			continue
		}
		out = append(out, Unit{
			FilePath:     path,
			Kind:         KindResplit,
			Start:        r.Range.Start,
			End:          r.Range.End,
			Descriptions: appendDistinct(nil, r.Descriptions...),
			Sources:      append([]remap.Ref(nil), r.Sources...),
		})
	}
	return out
}

func appendDistinct(dst []string, vals ...string) []string {
	for _, v := range vals {
		if v == "" {
			continue
		}
		dup := false
		for _, d := range dst {
			if d == v {
				dup = true
				break
			}
		}
		if !dup {
			dst = append(dst, v)
		}
	}
	return dst
}

// Exclude returns the lines not inside any claimed interval.
func Exclude(lines []int, claimed []remap.Interval) []int {
	var out []int
	for _, l := range lines {
		inside := false
		for _, iv := range claimed {
			if iv.Contains(l) {
				inside = true
				break
			}
		}
		if !inside {
			out = append(out, l)
		}
	}
	return out
}

// Group merges consecutive line numbers into minimal ranges.
func Group(lines []int) []remap.Interval {
	if len(lines) == 0 {
		return nil
	}
	sorted := append([]int(nil), lines...)
	sort.Ints(sorted)

	out := []remap.Interval{{Start: sorted[0], End: sorted[0]}}
	for _, l := range sorted[1:] {
		last := &out[len(out)-1]
		switch {
		case l <= last.End:
		case l == last.End+1:
			last.End = l
		default:
			out = append(out, remap.Interval{Start: l, End: l})
		}
	}
	return out
}

// Chunk splits u into ceil(lines/maxLines) contiguous pieces.
func Chunk(u Unit, maxLines int) []Unit {
	if maxLines <= 0 || u.Lines() <= maxLines {
		return []Unit{u}
	}
	var out []Unit
	for start := u.Start; start <= u.End; start += maxLines {
		c := u
		c.Start = start
		c.End = min(start+maxLines-1, u.End)
		out = append(out, c)
	}
	return out
}

// Pack fills batches greedily in order; a batch never exceeds maxLines
// unless a single unit does.
func Pack(units []Unit, maxLines int) []*Batch {
	var out []*Batch
	var cur *Batch
	used := 0
	for _, u := range units {
		if cur == nil || used+u.Lines() > maxLines {
			cur = &Batch{Index: len(out)}
			out = append(out, cur)
			used = 0
		}
		cur.Units = append(cur.Units, u)
		used += u.Lines()
	}
	return out
}
