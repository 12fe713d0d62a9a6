package locate

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/facturaIA/extraction-service/internal/normalize"
)

// line is one document line with its accent and case folded form. off maps
// every byte of fold back to the byte of orig it came from, plus one entry
// for the end of the string.
type line struct {
	index  int
	orig   string
	fold   string
	off    []int
	header bool
}

// SplitLines splits text the way positions are counted: line i of a
// template is element i of the result.
func SplitLines(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.Split(text, "\n")
}

func buildLines(text string) []line {
	raw := SplitLines(text)
	lines := make([]line, len(raw))
	for i, s := range raw {
		lines[i] = newLine(i, s)
		_, lines[i].header = inferHeader(cells(s))
	}
	return lines
}

func newLine(index int, s string) line {
	var b strings.Builder
	off := make([]int, 0, len(s)+1)
	for i, r := range s {
		var f string
		switch {
		case r < unicode.MaxASCII:
			f = string(unicode.ToLower(r))
		case r == '\u00a0' || r == '\u202f':
			f = " "
		case r == '’' || r == '‘':
			f = "'"
		case r == 'œ' || r == 'Œ':
			f = "oe"
		default:
			f = normalize.Fold(string(r))
		}
		for j := 0; j < len(f); j++ {
			off = append(off, i)
		}
		b.WriteString(f)
	}
	off = append(off, len(s))
	return line{index: index, orig: s, fold: b.String(), off: off}
}

// span returns the original text behind fold[start:end]
func (l line) span(start, end int) string {
	return l.orig[l.off[start]:l.off[end]]
}

func (l line) blank() bool {
	return strings.TrimSpace(l.orig) == ""
}

// findLabel returns the fold offset just past label when it occurs on word
// boundaries, or -1.
func (l line) findLabel(label string) int {
	from := 0
	for {
		i := strings.Index(l.fold[from:], label)
		if i < 0 {
			return -1
		}
		start := from + i
		end := start + len(label)
		if boundaryBefore(l.fold, start) && boundaryAfter(l.fold, end, label) {
			return end
		}
		from = start + 1
	}
}

func boundaryBefore(s string, i int) bool {
	if i == 0 {
		return true
	}
	return !isWordByte(s[i-1])
}

func boundaryAfter(s string, i int, label string) bool {
	if i >= len(s) || !isWordByte(label[len(label)-1]) {
		return true
	}
	return !isWordByte(s[i])
}

func isWordByte(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= '0' && b <= '9'
}

var reCells = regexp.MustCompile(`\s{2,}|\t|\|`)

// cells splits a line into table cells on runs of 2+ spaces, tabs or pipes
func cells(s string) []string {
	parts := reCells.Split(strings.TrimSpace(s), -1)
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
