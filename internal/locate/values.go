package locate

import (
	"regexp"
	"sort"
	"strings"

	"github.com/facturaIA/extraction-service/internal/models"
)

var (
	// grouped thousands first so "1 000,00 1 200,00" yields two amounts
	reAmount  = regexp.MustCompile(`[-−]?(?:\d{1,3}(?:[  .]\d{3})+(?:[.,]\d{1,2})?|\d+(?:[.,]\d{1,2})?)`)
	rePercent = regexp.MustCompile(`\d{1,2}(?:[.,]\d{1,2})?\s*%`)
	reDate    = regexp.MustCompile(`\d{1,2}[/\-.]\d{1,2}[/\-.]\d{2,4}|\d{4}-\d{2}-\d{2}|\d{1,2}(?:er)?\s+(?:janv|fevr?|mars|avr|mai|juin|juil|aout|sept|oct|nov|dec)[a-z]*\.?\s+\d{4}`)
	// space-separated dates need a real day, month and century to stay apart from columns of numbers
	reDateSpaced = regexp.MustCompile(`(?:0?[1-9]|[12]\d|3[01]) (?:0?[1-9]|1[0-2]) (?:19|20)\d{2}`)
	reSIRET      = regexp.MustCompile(`(?:^|\D)(\d{3}\s?\d{3}\s?\d{3}\s?\d{5})(?:\D|$)`)
	rePostal     = regexp.MustCompile(`(?:^|\D)(\d{5})(?:\D|$)`)
	reReference  = regexp.MustCompile(`[a-z0-9][a-z0-9/_.\-]*\d[a-z0-9/_.\-]*`)
	reCurrency   = regexp.MustCompile(`€|\beur(?:os?)?\b`)
)

// match is a located value as a fold span of one line
type match struct {
	start, end int
}

// findValue returns the first value of type t in fold[from:]
func findValue(l line, from int, t models.ValueType) (match, bool) {
	tail := l.fold[from:]
	switch t {
	case models.ValueAmount:
		for _, m := range reAmount.FindAllStringIndex(tail, -1) {
			if followedByPercent(tail, m[1]) || partOfDate(tail, m) || gluedToWord(tail, m[0]) {
				continue
			}
			return match{from + m[0], from + m[1]}, true
		}
	case models.ValuePercent:
		if m := rePercent.FindStringIndex(tail); m != nil {
			return match{from + m[0], from + m[1]}, true
		}
	case models.ValueDate:
		if spans := dateSpans(tail); len(spans) > 0 {
			return match{from + spans[0][0], from + spans[0][1]}, true
		}
	case models.ValueSIRET:
		if m := reSIRET.FindStringSubmatchIndex(tail); m != nil {
			return match{from + m[2], from + m[3]}, true
		}
	case models.ValuePostalCode:
		if m := rePostal.FindStringSubmatchIndex(tail); m != nil {
			return match{from + m[2], from + m[3]}, true
		}
	case models.ValueReference:
		for _, m := range reReference.FindAllStringIndex(tail, -1) {
			if reDate.MatchString(tail[m[0]:m[1]]) {
				continue
			}
			return match{from + m[0], from + m[1]}, true
		}
	default:
		s := strings.TrimLeft(tail, " \t:-–—.#°")
		s = strings.TrimRight(s, " \t")
		if s == "" {
			return match{}, false
		}
		start := from + len(tail) - len(strings.TrimLeft(tail, " \t:-–—.#°"))
		return match{start, start + len(s)}, true
	}
	return match{}, false
}

func followedByPercent(s string, end int) bool {
	rest := strings.TrimLeft(s[end:], " ")
	return strings.HasPrefix(rest, "%")
}

// gluedToWord rejects digits inside a token such as "M4" or "A4"
func gluedToWord(s string, start int) bool {
	return start > 0 && s[start-1] >= 'a' && s[start-1] <= 'z'
}

// dateSpans returns the date spans of s ordered by position
func dateSpans(s string) [][]int {
	spans := reDate.FindAllStringIndex(s, -1)
	for _, m := range reDateSpaced.FindAllStringIndex(s, -1) {
		if numberAround(s, m) || overlapsAny(spans, m) {
			continue
		}
		spans = append(spans, m)
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i][0] < spans[j][0] })
	return spans
}

// numberAround reports whether the span touches more digits or a decimal part
func numberAround(s string, m []int) bool {
	if m[0] > 0 && (isDigit(s[m[0]-1]) || ((s[m[0]-1] == ',' || s[m[0]-1] == '.') && m[0] > 1 && isDigit(s[m[0]-2]))) {
		return true
	}
	if m[1] < len(s) && isDigit(s[m[1]]) {
		return true
	}
	return m[1]+1 < len(s) && (s[m[1]] == ',' || s[m[1]] == '.') && isDigit(s[m[1]+1])
}

func overlapsAny(spans [][]int, m []int) bool {
	for _, d := range spans {
		if m[0] < d[1] && d[0] < m[1] {
			return true
		}
	}
	return false
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

func partOfDate(s string, m []int) bool {
	for _, d := range dateSpans(s) {
		if m[0] >= d[0] && m[0] < d[1] {
			return true
		}
	}
	return false
}

func hasCurrency(fold string) bool {
	return reCurrency.MatchString(fold)
}
