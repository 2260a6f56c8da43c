package diff

import (
	"bytes"
	"fmt"

	godiff "github.com/sourcegraph/go-diff/diff"
)

// DevNull names the missing side of an added or deleted file.
const DevNull = "/dev/null"

// RenderUnified renders ops as a git-style unified diff with the given
// number of context lines. Names are used as-is, so pass DevNull for the
// missing side of an added or deleted file. An unchanged file renders
// as the empty string.
func RenderUnified(oldName, newName string, oldLines, newLines []string, ops []Op, context int) (string, error) {
	groups := groupOps(ops, context)
	if len(groups) == 0 {
		return "", nil
	}

	fd := &godiff.FileDiff{
		OrigName: prefixed("a/", oldName),
		NewName:  prefixed("b/", newName),
	}
	gitOld, gitNew := prefixed("a/", oldName), prefixed("b/", newName)
	if oldName == DevNull {
		gitOld = prefixed("a/", newName)
	}
	if newName == DevNull {
		gitNew = prefixed("b/", oldName)
	}
	fd.Extended = []string{fmt.Sprintf("diff --git %s %s", gitOld, gitNew)}

	for _, group := range groups {
		fd.Hunks = append(fd.Hunks, buildHunk(group, oldLines, newLines))
	}

	out, err := godiff.PrintFileDiff(fd)
	if err != nil {
		return "", fmt.Errorf("failed to render diff: %w", err)
	}
	return string(out), nil
}

func prefixed(prefix, name string) string {
	if name == DevNull {
		return name
	}
	return prefix + name
}

func buildHunk(group []Op, oldLines, newLines []string) *godiff.Hunk {
	first, last := group[0], group[len(group)-1]
	h := &godiff.Hunk{
		OrigStartLine: int32(first.OldStart + 1),
		OrigLines:     int32(last.OldEnd - first.OldStart),
		NewStartLine:  int32(first.NewStart + 1),
		NewLines:      int32(last.NewEnd - first.NewStart),
	}
	// An empty side points at the line before the hunk.
	if h.OrigLines == 0 {
		h.OrigStartLine--
	}
	if h.NewLines == 0 {
		h.NewStartLine--
	}

	var body bytes.Buffer
	write := func(marker byte, lines []string) {
		for _, l := range lines {
			body.WriteByte(marker)
			body.WriteString(l)
			body.WriteByte('\n')
		}
	}
	for _, op := range group {
		switch op.Kind {
		case Equal:
			write(' ', oldLines[op.OldStart:op.OldEnd])
		case Delete:
			write('-', oldLines[op.OldStart:op.OldEnd])
		case Insert:
			write('+', newLines[op.NewStart:op.NewEnd])
		case Replace:
			write('-', oldLines[op.OldStart:op.OldEnd])
			write('+', newLines[op.NewStart:op.NewEnd])
		}
	}
	h.Body = body.Bytes()
	return h
}

// groupOps splits ops into hunks with n lines of context, merging
// changes separated by at most 2n equal lines.
func groupOps(ops []Op, n int) [][]Op {
	if n < 0 {
		n = 0
	}
	codes := make([]Op, len(ops))
	copy(codes, ops)

	hasChange := false
	for _, op := range codes {
		if op.Kind != Equal {
			hasChange = true
			break
		}
	}
	if !hasChange {
		return nil
	}

	if c := &codes[0]; c.Kind == Equal {
		c.OldStart = max(c.OldStart, c.OldEnd-n)
		c.NewStart = max(c.NewStart, c.NewEnd-n)
	}
	if c := &codes[len(codes)-1]; c.Kind == Equal {
		c.OldEnd = min(c.OldEnd, c.OldStart+n)
		c.NewEnd = min(c.NewEnd, c.NewStart+n)
	}

	var groups [][]Op
	var group []Op
	for _, c := range codes {
		if c.Kind == Equal && c.OldEnd-c.OldStart > 2*n {
			group = append(group, Op{Kind: Equal, OldStart: c.OldStart, OldEnd: min(c.OldEnd, c.OldStart+n), NewStart: c.NewStart, NewEnd: min(c.NewEnd, c.NewStart+n)})
			groups = append(groups, trimEmpty(group))
			group = []Op{{Kind: Equal, OldStart: max(c.OldStart, c.OldEnd-n), OldEnd: c.OldEnd, NewStart: max(c.NewStart, c.NewEnd-n), NewEnd: c.NewEnd}}
			continue
		}
		group = append(group, c)
	}
	if len(group) > 0 && !(len(group) == 1 && group[0].Kind == Equal) {
		groups = append(groups, trimEmpty(group))
	}

	// The first split may emit a context-only group before any change.
	out := groups[:0]
	for _, g := range groups {
		for _, op := range g {
			if op.Kind != Equal {
				out = append(out, g)
				break
			}
		}
	}
	return out
}

func trimEmpty(group []Op) []Op {
	out := group[:0]
	for _, op := range group {
		if op.OldStart == op.OldEnd && op.NewStart == op.NewEnd {
			continue
		}
		out = append(out, op)
	}
	return out
}
