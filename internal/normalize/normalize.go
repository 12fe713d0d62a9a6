// Package normalize turns raw located strings into typed values under French
// conventions. Every function is pure and total: unparseable input yields nil.
package normalize

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	maxMagnitude = decimal.RequireFromString("999999999999.99")
	hundred      = decimal.NewFromInt(100)
	one          = decimal.NewFromInt(1)
)

// NumberFR parses an amount written the French way ("1 234,50 €", "1.234,5").
// The result is rounded half away from zero to cents.
func NumberFR(raw string) *float64 {
	d, ok := parseDecimalFR(raw)
	if !ok {
		return nil
	}
	f := d.Round(2).InexactFloat64()
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return nil
	}
	return &f
}

// PercentFR parses a rate. The number is rounded to cents like an amount,
// then values below 1 are read as ratios ("0.2" is 20%). The result is
// clamped to [0, 100].
func PercentFR(raw string) *float64 {
	d, ok := parseDecimalFR(raw)
	if !ok {
		return nil
	}
	d = d.Round(2)
	if d.LessThan(one) {
		d = d.Mul(hundred)
	}
	if d.IsNegative() {
		d = decimal.Zero
	}
	if d.GreaterThan(hundred) {
		d = hundred
	}
	f := d.Round(2).InexactFloat64()
	return &f
}

func parseDecimalFR(raw string) (decimal.Decimal, bool) {
	s := stripNoise(raw)

	hasDot := strings.Contains(s, ".")
	hasComma := strings.Contains(s, ",")
	switch {
	case hasDot && hasComma:
		s = strings.ReplaceAll(s, ".", "")
		s = strings.ReplaceAll(s, ",", ".")
	case hasComma:
		s = strings.ReplaceAll(s, ",", ".")
	case hasDot:
		if n := trailingDigits(s); n < 1 || n > 2 {
			s = strings.ReplaceAll(s, ".", "")
		}
	}

	s = keepSignDigitsPoint(s)
	switch s {
	case "", "-", ".", "-.":
		return decimal.Decimal{}, false
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, false
	}
	if d.Abs().GreaterThan(maxMagnitude) {
		return decimal.Decimal{}, false
	}
	return d, true
}

// stripNoise drops whitespace (including non-breaking spaces), currency
// symbols and anything that is not a digit, separator or sign.
func stripNoise(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		switch {
		case r >= '0' && r <= '9', r == '.', r == ',', r == '-':
			b.WriteRune(r)
		case r == '−':
			b.WriteRune('-')
		}
	}
	return b.String()
}

// trailingDigits counts the digits after the last dot
func trailingDigits(s string) int {
	i := strings.LastIndex(s, ".")
	n := 0
	for _, r := range s[i+1:] {
		if r < '0' || r > '9' {
			break
		}
		n++
	}
	return n
}

// keepSignDigitsPoint keeps a sign placed before the first digit and only the
// last decimal point.
func keepSignDigitsPoint(s string) string {
	last := strings.LastIndex(s, ".")
	var b strings.Builder
	seenDigit := false
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9':
			seenDigit = true
			b.WriteRune(r)
		case r == '-':
			if !seenDigit && b.Len() == 0 {
				b.WriteRune(r)
			}
		case r == '.':
			if i == last {
				b.WriteRune(r)
			}
		}
	}
	return b.String()
}

var (
	reDateDMY   = regexp.MustCompile(`(?:^|\D)(\d{1,2})[/\-. ](\d{1,2})[/\-. ](\d{2,4})(?:\D|$)`)
	reDateISO   = regexp.MustCompile(`(?:^|\D)(\d{4})-(\d{2})-(\d{2})(?:\D|$)`)
	reDateWords = regexp.MustCompile(`(?:^|\D)(\d{1,2})(?:er)?\s+([a-z]+)\.?\s+(\d{4})(?:\D|$)`)
)

var frenchMonths = map[string]int{
	"janvier": 1, "janv": 1, "fevrier": 2, "fevr": 2, "fev": 2, "mars": 3,
	"avril": 4, "avr": 4, "mai": 5, "juin": 6, "juillet": 7, "juil": 7,
	"aout": 8, "septembre": 9, "sept": 9, "octobre": 10, "oct": 10,
	"novembre": 11, "nov": 11, "decembre": 12, "dec": 12,
}

// DateFR parses a day-first date ("5/3/99", "05-03-2024", "5 mars 2024") and
// returns it as YYYY-MM-DD. Two-digit years pivot at 80.
func DateFR(raw string) *string {
	if m := reDateDMY.FindStringSubmatch(raw); m != nil {
		day, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		return formatDate(expandYear(m[3]), month, day)
	}
	if m := reDateISO.FindStringSubmatch(raw); m != nil {
		year, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		day, _ := strconv.Atoi(m[3])
		return formatDate(year, month, day)
	}
	if m := reDateWords.FindStringSubmatch(Fold(raw)); m != nil {
		month, ok := frenchMonths[m[2]]
		if !ok {
			return nil
		}
		day, _ := strconv.Atoi(m[1])
		year, _ := strconv.Atoi(m[3])
		return formatDate(year, month, day)
	}
	return nil
}

func expandYear(y string) int {
	year, _ := strconv.Atoi(y)
	if len(y) == 2 {
		if year >= 80 {
			return 1900 + year
		}
		return 2000 + year
	}
	return year
}

// formatDate rejects calendar-impossible dates such as 31/02
func formatDate(year, month, day int) *string {
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return nil
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if t.Year() != year || int(t.Month()) != month || t.Day() != day {
		return nil
	}
	s := t.Format("2006-01-02")
	return &s
}

// SIRET keeps the digits of a French establishment id; anything but 14 digits is nil
func SIRET(raw string) *string {
	return digitsOfLength(raw, 14)
}

// PostalCode keeps a 5-digit French postal code
func PostalCode(raw string) *string {
	return digitsOfLength(raw, 5)
}

func digitsOfLength(raw string, n int) *string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	if b.Len() != n {
		return nil
	}
	s := b.String()
	return &s
}

// Reference upper-cases a document number and collapses its spaces
func Reference(raw string) *string {
	s := strings.Join(strings.Fields(raw), " ")
	s = strings.Trim(s, " :#°")
	if s == "" {
		return nil
	}
	s = strings.ToUpper(s)
	return &s
}

// Text collapses whitespace
func Text(raw string) *string {
	s := strings.Join(strings.Fields(raw), " ")
	if s == "" {
		return nil
	}
	return &s
}

// Fold lower-cases s and strips diacritics, for label matching
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(out)
}
