package core

import (
	"regexp"
	"strings"
)

// ExtractBlock returns the brace-delimited block starting at lines[start].
// It scans forward tracking brace depth (+1 per '{', -1 per '}'); the
// block ends on the first line where depth returns to zero after at least
// one opening brace has been seen. At most maxLines lines are consumed:
// unterminated input yields the partial block scanned so far, never an
// unbounded loop.
func ExtractBlock(lines []string, start, maxLines int) string {
	if start < 0 || start >= len(lines) {
		return ""
	}

	end := start + maxLines
	if end > len(lines) {
		end = len(lines)
	}

	var (
		block   []string
		depth   int
		started bool
	)
	for i := start; i < end; i++ {
		line := lines[i]
		block = append(block, line)

		depth += strings.Count(line, "{") - strings.Count(line, "}")
		if strings.Contains(line, "{") {
			started = true
		}
		if started && depth <= 0 {
			break
		}
	}
	return strings.Join(block, "\n")
}

// After returns up to n lines following index i, clamped to the slice.
func After(lines []string, i, n int) []string {
	from := i + 1
	if from > len(lines) {
		from = len(lines)
	}
	to := from + n
	if to > len(lines) {
		to = len(lines)
	}
	return lines[from:to]
}

// Before returns up to n lines preceding index i, clamped to the slice.
func Before(lines []string, i, n int) []string {
	to := i
	if to < 0 {
		to = 0
	}
	if to > len(lines) {
		to = len(lines)
	}
	from := to - n
	if from < 0 {
		from = 0
	}
	return lines[from:to]
}

// Surrounding joins the line at i with up to before preceding and after
// following lines into one context window for keyword checks.
func Surrounding(lines []string, i, before, after int) string {
	if i < 0 || i >= len(lines) {
		return ""
	}
	window := append([]string{}, Before(lines, i, before)...)
	window = append(window, lines[i])
	window = append(window, After(lines, i, after)...)
	return strings.Join(window, "\n")
}

// AnyMatch reports whether any of the given patterns matches s.
func AnyMatch(patterns []*regexp.Regexp, s string) bool {
	for _, re := range patterns {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}
