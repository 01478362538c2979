package core

import "strings"

// Source is the detectors' view of one contract: the raw text plus its
// line split, computed once so five concurrent detectors don't each
// re-split the same input.
type Source struct {
	Raw   string
	Lines []string
}

// NewSource wraps raw contract text for analysis. Line numbering is
// 1-based everywhere findings reference it; Lines itself is 0-indexed.
func NewSource(raw string) *Source {
	return &Source{
		Raw:   raw,
		Lines: strings.Split(raw, "\n"),
	}
}

// Line returns the 0-indexed line i, or "" when i is out of range. Keeps
// window scans free of bounds arithmetic.
func (s *Source) Line(i int) string {
	if i < 0 || i >= len(s.Lines) {
		return ""
	}
	return s.Lines[i]
}

// LineCount returns the number of lines in the source.
func (s *Source) LineCount() int {
	return len(s.Lines)
}

// IsEmpty reports whether the source contains nothing but whitespace.
// Empty input is degenerate rather than an error: detectors still run and
// report their default check values with no findings.
func (s *Source) IsEmpty() bool {
	return strings.TrimSpace(s.Raw) == ""
}
