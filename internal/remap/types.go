// Package remap decides what happens to a file's existing connections
// after an edit: keep, shift, re-slice, resubmit for analysis, or drop.
package remap

import (
	"connidx/internal/storage"
)

// Outcome is the per-connection result of a remap.
type Outcome string

const (
	NoChange            Outcome = "no_change"
	LinesUpdated        Outcome = "lines_updated"
	LinesAndCodeUpdated Outcome = "lines_and_code_updated"
	NeedsResplit        Outcome = "needs_resplit"
	Deleted             Outcome = "deleted"
)

// Case records which rule produced a decision.
type Case string

const (
	CaseShift          Case = "shift"
	CaseFullyCovered   Case = "fully_covered"
	CasePartialOverlap Case = "partial_overlap"
	CaseInside         Case = "inside"
	CaseShiftedCode    Case = "shifted_code_changed"
	CaseVanished       Case = "vanished"
	CaseInconsistent   Case = "inconsistent"
)

// Ref identifies a connection row. Ids are unique per direction only.
type Ref struct {
	Direction storage.Direction
	ID        int64
}

// RefOf returns the Ref of c.
func RefOf(c *storage.Connection) Ref {
	return Ref{Direction: c.Direction, ID: c.ID}
}

// Interval is a 1-based inclusive line range.
type Interval struct {
	Start int
	End   int
}

// Len returns the number of lines in the interval.
func (iv Interval) Len() int {
	if iv.End < iv.Start {
		return 0
	}
	return iv.End - iv.Start + 1
}

// Contains reports whether line falls inside the interval.
func (iv Interval) Contains(line int) bool {
	return line >= iv.Start && line <= iv.End
}

// Decision is what to persist for one connection.
type Decision struct {
	Conn    *storage.Connection
	Outcome Outcome
	Case    Case
	// New is the connection's span in the new content. Unset for
	// Deleted and for destroyed connections.
	New Interval
	// Snippet is the code at New.
	Snippet string
	// Destroyed is set when the row must be removed and replaced by
	// the analysis of its resplit range.
	Destroyed bool
}

// Survives reports whether the connection row is kept, possibly updated.
func (d *Decision) Survives() bool {
	return d.Outcome != Deleted && !d.Destroyed
}

// Resplit is a range of new content to resubmit for analysis.
type Resplit struct {
	Range Interval
	// Descriptions are the prior descriptions of the replaced connections.
	Descriptions []string
	// Sources are the connections superseded by the analysis result.
	Sources []Ref
}

// Plan is the result of remapping one file.
type Plan struct {
	Decisions []*Decision
	Resplits  []Resplit
	// Claimed lists new-content spans owned by surviving connections and
	// resplit ranges. Added lines inside them are not new work.
	Claimed []Interval
	// Folded lists added lines pulled into a partial-overlap resplit.
	Folded []int
	// Inconsistencies counts connections dropped because their span
	// did not fit the old or new content.
	Inconsistencies int
}

// Counts tallies decisions by outcome.
func (p *Plan) Counts() map[Outcome]int {
	out := make(map[Outcome]int)
	for _, d := range p.Decisions {
		out[d.Outcome]++
	}
	return out
}
