package remap

import (
	"log/slog"
	"sort"
	"strings"

	"connidx/internal/diff"
	"connidx/internal/storage"
)

// Options tune how replaced ranges interact with connection spans.
type Options struct {
	// AdjacencyThreshold merges replaced ranges separated by fewer
	// untouched old lines than this, and folds added lines this close
	// into a partial-overlap resplit.
	AdjacencyThreshold int
	// BoundarySlack lets a covering interval that stops this many lines
	// short of a connection edge still count as covering that edge.
	BoundarySlack int
}

func DefaultOptions() Options {
	return Options{AdjacencyThreshold: 3, BoundarySlack: 1}
}

// Remapper classifies connections against a diff.
type Remapper struct {
	opts   Options
	logger *slog.Logger
}

func New(opts Options, logger *slog.Logger) *Remapper {
	return &Remapper{opts: opts, logger: logger}
}

// Remap decides the outcome of every connection of one file. conns carry
// old-content spans; newLines is the current content.
func (m *Remapper) Remap(conns []*storage.Connection, d *diff.Result, newLines []string) *Plan {
	plan := &Plan{}
	ranges := m.coalesce(d.ReplacedRanges)

	for _, c := range conns {
		dec, rs := m.decide(c, d, ranges, newLines, plan)
		plan.Decisions = append(plan.Decisions, dec)
		if rs != nil {
			plan.Resplits = append(plan.Resplits, *rs)
			plan.Claimed = append(plan.Claimed, rs.Range)
		}
		if dec.Survives() && dec.New.Len() > 0 {
			plan.Claimed = append(plan.Claimed, dec.New)
		}
		m.logger.Debug("Remapped connection",
			"direction", string(c.Direction),
			"id", c.ID,
			"old_start", c.StartLine(),
			"old_end", c.EndLine(),
			"outcome", string(dec.Outcome),
			"case", string(dec.Case),
			"new_start", dec.New.Start,
			"new_end", dec.New.End,
		)
	}
	plan.Claimed = MergeIntervals(plan.Claimed)
	return plan
}

// coalesce merges replaced ranges whose old-coordinate gap is below the
// adjacency threshold.
func (m *Remapper) coalesce(in []diff.Range) []diff.Range {
	if len(in) == 0 {
		return nil
	}
	sorted := append([]diff.Range(nil), in...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].OldStart < sorted[j].OldStart })

	out := []diff.Range{sorted[0]}
	for _, r := range sorted[1:] {
		last := &out[len(out)-1]
		if r.OldStart-last.OldEnd-1 < m.opts.AdjacencyThreshold {
			last.OldEnd = max(last.OldEnd, r.OldEnd)
			last.NewStart = min(last.NewStart, r.NewStart)
			last.NewEnd = max(last.NewEnd, r.NewEnd)
			continue
		}
		out = append(out, r)
	}
	return out
}

// covering merges every range overlapping or within the adjacency
// threshold of [start,end] into one interval.
func (m *Remapper) covering(ranges []diff.Range, start, end int) (diff.Range, bool) {
	var merged diff.Range
	found := false
	for _, r := range ranges {
		if r.OldStart-end-1 >= m.opts.AdjacencyThreshold || start-r.OldEnd-1 >= m.opts.AdjacencyThreshold {
			continue
		}
		if !found {
			merged = r
			found = true
			continue
		}
		merged.OldStart = min(merged.OldStart, r.OldStart)
		merged.OldEnd = max(merged.OldEnd, r.OldEnd)
		merged.NewStart = min(merged.NewStart, r.NewStart)
		merged.NewEnd = max(merged.NewEnd, r.NewEnd)
	}
	return merged, found
}

func (m *Remapper) decide(c *storage.Connection, d *diff.Result, ranges []diff.Range, newLines []string, plan *Plan) (*Decision, *Resplit) {
	start, end := c.StartLine(), c.EndLine()
	if start < 1 || end < start || !d.InRange(end) {
		return m.inconsistent(c, plan), nil
	}

	if iv, ok := m.covering(ranges, start, end); ok && iv.OldStart <= end && iv.OldEnd >= start {
		slack := m.opts.BoundarySlack
		coversStart := iv.OldStart <= start+slack
		coversEnd := iv.OldEnd >= end-slack

		switch {
		case coversStart && coversEnd:
			target := m.withMappedBoundaries(Interval{iv.NewStart, iv.NewEnd}, d, start, end)
			return m.destroy(c, CaseFullyCovered, target, d, plan)
		case coversStart || coversEnd:
			target := m.withMappedBoundaries(Interval{iv.NewStart, iv.NewEnd}, d, start, end)
			target = m.foldAdded(target, d.Added, plan)
			return m.destroy(c, CasePartialOverlap, target, d, plan)
		default:
			return m.shift(c, d, newLines, plan, true)
		}
	}
	return m.shift(c, d, newLines, plan, false)
}

// withMappedBoundaries extends target with the new positions of C's
// edges that survived the edit.
func (m *Remapper) withMappedBoundaries(target Interval, d *diff.Result, start, end int) Interval {
	for _, edge := range []int{start, end} {
		if n, ok := d.Map(edge); ok {
			target.Start = min(target.Start, n)
			target.End = max(target.End, n)
		}
	}
	return target
}

// foldAdded grows target over added lines within the adjacency
// threshold, one step at a time, and records what it absorbed.
func (m *Remapper) foldAdded(target Interval, added []int, plan *Plan) Interval {
	t := m.opts.AdjacencyThreshold
	for changed := true; changed; {
		changed = false
		for _, a := range added {
			if target.Contains(a) {
				continue
			}
			if a >= target.Start-t && a <= target.End+t {
				target.Start = min(target.Start, a)
				target.End = max(target.End, a)
				changed = true
			}
		}
	}
	for _, a := range added {
		if target.Contains(a) {
			plan.Folded = append(plan.Folded, a)
		}
	}
	return target
}

func (m *Remapper) destroy(c *storage.Connection, cs Case, target Interval, d *diff.Result, plan *Plan) (*Decision, *Resplit) {
	if target.Start < 1 || target.End < target.Start || target.End > d.NewLineCount {
		return m.inconsistent(c, plan), nil
	}
	dec := &Decision{Conn: c, Outcome: NeedsResplit, Case: cs, Destroyed: true}
	return dec, &Resplit{Range: target, Descriptions: []string{c.Description}, Sources: []Ref{RefOf(c)}}
}

// shift moves C to the new positions of its first and last surviving
// lines and re-slices its snippet. bodyChanged marks a replacement
// strictly inside C, which always needs a resplit of the current span.
func (m *Remapper) shift(c *storage.Connection, d *diff.Result, newLines []string, plan *Plan, bodyChanged bool) (*Decision, *Resplit) {
	start, end := c.StartLine(), c.EndLine()

	ns, okStart := 0, false
	for l := start; l <= end && !okStart; l++ {
		ns, okStart = d.Map(l)
	}
	ne, okEnd := 0, false
	for l := end; l >= start && !okEnd; l-- {
		ne, okEnd = d.Map(l)
	}
	if !okStart || !okEnd {
		return &Decision{Conn: c, Outcome: Deleted, Case: CaseVanished}, nil
	}

	snippet, ok := diff.Slice(newLines, ns, ne)
	if !ok {
		return m.inconsistent(c, plan), nil
	}

	dec := &Decision{Conn: c, New: Interval{ns, ne}, Snippet: snippet}
	oldTrim, newTrim := strings.TrimSpace(c.CodeSnippet), strings.TrimSpace(snippet)

	switch {
	case bodyChanged:
		dec.Outcome, dec.Case = NeedsResplit, CaseInside
	case oldTrim != newTrim:
		dec.Outcome, dec.Case = NeedsResplit, CaseShiftedCode
	case c.CodeSnippet != snippet:
		dec.Outcome, dec.Case = LinesAndCodeUpdated, CaseShift
	case ns != start || ne != end || !contiguous(c.SnippetLines):
		dec.Outcome, dec.Case = LinesUpdated, CaseShift
	default:
		dec.Outcome, dec.Case = NoChange, CaseShift
	}

	if dec.Outcome == NeedsResplit {
		return dec, &Resplit{Range: dec.New, Descriptions: []string{c.Description}, Sources: []Ref{RefOf(c)}}
	}
	return dec, nil
}

func (m *Remapper) inconsistent(c *storage.Connection, plan *Plan) *Decision {
	plan.Inconsistencies++
	m.logger.Warn("Connection span does not fit the file, dropping it",
		"direction", string(c.Direction),
		"id", c.ID,
		"start", c.StartLine(),
		"end", c.EndLine(),
	)
	return &Decision{Conn: c, Outcome: Deleted, Case: CaseInconsistent}
}

func contiguous(lines []int) bool {
	for i := 1; i < len(lines); i++ {
		if lines[i] != lines[i-1]+1 {
			return false
		}
	}
	return true
}

// MergeIntervals sorts and unions overlapping or touching intervals.
func MergeIntervals(in []Interval) []Interval {
	if len(in) == 0 {
		return nil
	}
	sorted := append([]Interval(nil), in...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Start != sorted[j].Start {
			return sorted[i].Start < sorted[j].Start
		}
		return sorted[i].End < sorted[j].End
	})
	out := []Interval{sorted[0]}
	for _, iv := range sorted[1:] {
		last := &out[len(out)-1]
		if iv.Start <= last.End+1 {
			last.End = max(last.End, iv.End)
			continue
		}
		out = append(out, iv)
	}
	return out
}
