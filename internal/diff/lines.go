package diff

import "strings"

// SplitLines splits content on "\n". A trailing newline ends the last
// line rather than starting an empty one, and "\r\n" endings are kept
// as part of the line text.
func SplitLines(content string) []string {
	if content == "" {
		return nil
	}
	lines := strings.Split(content, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// Slice returns lines start..end (1-based, inclusive) joined with "\n".
// ok is false when the range falls outside lines.
func Slice(lines []string, start, end int) (string, bool) {
	if start < 1 || end < start || end > len(lines) {
		return "", false
	}
	return strings.Join(lines[start-1:end], "\n"), true
}
