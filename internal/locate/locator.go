// Package locate finds raw field values in recognized document text.
//
// Matching is case and accent insensitive; values are always sliced from the
// original text. Nothing is ever invented: a field with no supporting text
// stays absent.
package locate

import (
	"log/slog"
	"strings"

	"github.com/facturaIA/extraction-service/internal/models"
	"github.com/facturaIA/extraction-service/internal/normalize"
)

// Where a located value came from
const (
	SourceTemplateAnchor   = "template-anchor"
	SourceTemplatePosition = "template-position"
	SourceLabel            = "label"
	SourceDocument         = "document"
)

// Result is the located fields of one document
type Result struct {
	Fields    models.ExtractedFieldSet `json:"fields"`
	LineItems []models.LineItem        `json:"lineItems,omitempty"`
	Sources   map[string]string        `json:"sources"`
	// HasCurrency reports a currency symbol or word anywhere in the text
	HasCurrency bool `json:"hasCurrency"`
}

// Locator turns text into an ExtractedFieldSet for a document kind
type Locator struct {
	logger *slog.Logger
}

// NewLocator creates a locator
func NewLocator(logger *slog.Logger) *Locator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Locator{logger: logger}
}

// Locate fills every key of kind: template hints first, then the generic
// labelled search, then tabular line items. tmpl may be nil.
func (l *Locator) Locate(text string, kind models.DocumentKind, tmpl *models.SupplierTemplate) Result {
	lines := buildLines(text)
	res := Result{
		Fields:  models.NewExtractedFieldSet(kind),
		Sources: map[string]string{},
	}

	labels := labelsFor(kind)
	for _, spec := range kind.Schema() {
		if tmpl != nil {
			if v, src, ok := fromTemplate(lines, tmpl, spec); ok {
				res.Fields.Set(spec.Key, v)
				res.Sources[spec.Key] = src
				continue
			}
		}
		fl, ok := labels[spec.Key]
		if !ok {
			continue
		}
		if v, ok := byLabel(lines, fl, spec.Type); ok {
			res.Fields.Set(spec.Key, v)
			res.Sources[spec.Key] = SourceLabel
			continue
		}
		if fl.anywhere {
			if v, ok := anywhere(lines, fl, spec.Type); ok {
				res.Fields.Set(spec.Key, v)
				res.Sources[spec.Key] = SourceDocument
			}
		}
	}

	if kind == models.KindTenderNotice {
		locateTenderExtras(lines, res)
	}
	if kind.HasLineItems() {
		res.LineItems = lineItems(lines)
	}
	for _, ln := range lines {
		if hasCurrency(ln.fold) {
			res.HasCurrency = true
			break
		}
	}

	l.logger.Debug("fields located", "kind", kind, "located", len(res.Sources), "line_items", len(res.LineItems))
	return res
}

// byLabel scans labels in priority order; for each label the first line
// carrying it with a value wins. A label alone on its line takes its value
// from the next non-blank line.
func byLabel(lines []line, fl fieldLabels, t models.ValueType) (string, bool) {
	for _, label := range fl.labels {
		for i, ln := range lines {
			if ln.header || containsAny(ln.fold, fl.exclude) {
				continue
			}
			end := ln.findLabel(label)
			if end < 0 {
				continue
			}
			if fl.lineStart && strings.TrimSpace(ln.fold[:end-len(label)]) != "" {
				continue
			}
			if v, ok := valueAfter(lines, i, end, t); ok {
				return v, true
			}
		}
	}
	return "", false
}

// valueAfter reads a value of type t after fold offset end of lines[i], or on
// the following non-blank line when nothing but punctuation follows the label.
func valueAfter(lines []line, i, end int, t models.ValueType) (string, bool) {
	ln := lines[i]
	if m, ok := findValue(ln, end, t); ok {
		return ln.span(m.start, m.end), true
	}
	if hasAlnum(ln.fold[end:]) {
		return "", false
	}
	for j := i + 1; j < len(lines); j++ {
		if lines[j].blank() {
			continue
		}
		if m, ok := findValue(lines[j], 0, t); ok {
			return lines[j].span(m.start, m.end), true
		}
		return "", false
	}
	return "", false
}

// anywhere takes the first value of type t in the document, skipping
// excluded lines
func anywhere(lines []line, fl fieldLabels, t models.ValueType) (string, bool) {
	for _, ln := range lines {
		if ln.header || containsAny(ln.fold, fl.exclude) {
			continue
		}
		if m, ok := findValue(ln, 0, t); ok {
			return ln.span(m.start, m.end), true
		}
	}
	return "", false
}

// fromTemplate applies a learned anchor, then a learned line position
func fromTemplate(lines []line, tmpl *models.SupplierTemplate, spec models.FieldSpec) (string, string, bool) {
	if anchor := strings.TrimSpace(tmpl.Anchors[spec.Key]); anchor != "" {
		folded := newLine(0, anchor).fold
		for i, ln := range lines {
			idx := strings.Index(ln.fold, folded)
			if idx < 0 {
				continue
			}
			if v, ok := valueAfter(lines, i, idx+len(folded), spec.Type); ok {
				return v, SourceTemplateAnchor, true
			}
		}
	}
	if pos, ok := tmpl.FieldPositions[spec.Key]; ok && pos.Line >= 0 && pos.Line < len(lines) {
		ln := lines[pos.Line]
		if m, ok := findValue(ln, 0, spec.Type); ok {
			return ln.span(m.start, m.end), SourceTemplatePosition, true
		}
	}
	return "", "", false
}

func hasAlnum(s string) bool {
	for i := 0; i < len(s); i++ {
		if isWordByte(s[i]) {
			return true
		}
	}
	return false
}

// FindValue locates a confirmed raw value in text. It returns the index of
// the first line holding a value of type t that normalizes like raw, and the
// label text before it on that line (the previous non-blank line when the
// value stands alone).
func FindValue(text string, t models.ValueType, raw string) (lineIndex int, anchor string, ok bool) {
	want := normalize.Value(t, &raw)
	if want.IsNull() {
		return -1, "", false
	}
	lines := buildLines(text)
	for i, ln := range lines {
		for from := 0; from < len(ln.fold); {
			m, found := findValue(ln, from, t)
			if !found {
				break
			}
			got := ln.span(m.start, m.end)
			if sameValue(normalize.Value(t, &got), want) {
				return i, anchorBefore(lines, i, m.start), true
			}
			if m.end <= from {
				break
			}
			from = m.end
		}
	}
	return -1, "", false
}

func anchorBefore(lines []line, i, start int) string {
	prefix := strings.TrimRight(lines[i].span(0, start), " \t:-–—#°")
	prefix = strings.TrimSpace(prefix)
	if prefix != "" {
		return prefix
	}
	for j := i - 1; j >= 0; j-- {
		if !lines[j].blank() {
			return strings.TrimRight(strings.TrimSpace(lines[j].orig), " :")
		}
	}
	return ""
}

func sameValue(a, b models.NormalizedValue) bool {
	switch {
	case a.Number != nil && b.Number != nil:
		return *a.Number == *b.Number
	case a.Text != nil && b.Text != nil:
		return *a.Text == *b.Text
	default:
		return false
	}
}

// DetectSupplier keys the document's supplier: a SIRET found in the text,
// else the caller's hint, else the first line that reads like a company name.
func DetectSupplier(text, hint string) models.SupplierKey {
	lines := buildLines(text)
	var key models.SupplierKey

	if v, ok := byLabel(lines, invoiceLabels[models.FieldSIRET], models.ValueSIRET); ok {
		if s := normalize.SIRET(v); s != nil {
			key.TaxID = *s
		}
	} else if v, ok := anywhere(lines, fieldLabels{}, models.ValueSIRET); ok {
		if s := normalize.SIRET(v); s != nil {
			key.TaxID = *s
		}
	}

	if hint = strings.TrimSpace(hint); hint != "" {
		key.Name = hint
		return key
	}
	key.Name = companyLine(lines)
	return key
}

func companyLine(lines []line) string {
	var first string
	for n, ln := range lines {
		if n >= 15 {
			break
		}
		s := strings.TrimSpace(ln.orig)
		if s == "" || letters(s) < 3 || startsWithAny(ln.fold, notSupplierStarts) {
			continue
		}
		if containsAny(" "+strings.TrimSpace(ln.fold)+" ", legalFormTokens) {
			return s
		}
		if first == "" {
			first = s
		}
	}
	return first
}

var legalFormTokens = func() []string {
	out := make([]string, len(legalForms))
	for i, f := range legalForms {
		out[i] = f + " "
	}
	return out
}()

func startsWithAny(fold string, prefixes []string) bool {
	fold = strings.TrimSpace(fold)
	for _, p := range prefixes {
		if strings.HasPrefix(fold, p) {
			return true
		}
	}
	return false
}

func letters(s string) int {
	n := 0
	for _, r := range s {
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r > 0x7f {
			n++
		}
	}
	return n
}
