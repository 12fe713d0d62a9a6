package locate

import (
	"strings"

	"github.com/facturaIA/extraction-service/internal/models"
)

type column int

const (
	colLabel column = iota
	colQuantity
	colUnitPrice
	colTotal
	numColumns
)

// Header synonyms per logical column, folded (no accents, lower case)
var columnSynonyms = [numColumns][]string{
	colLabel:     {"designation", "libelle", "article", "description"},
	colQuantity:  {"qte", "quantite", "qty"},
	colUnitPrice: {"prix unitaire", "p.u.", "pu", "prix u"},
	colTotal:     {"total", "montant"},
}

// rows ending an item table
var tableEnd = []string{"total", "sous-total", "sous total", "net a payer", "montant ht", "tva"}

// header maps logical columns to header cell indexes (-1 when absent)
type header struct {
	line  int
	width int
	cols  [numColumns]int
}

// inferHeader checks whether cs is an item table header. For each logical
// column the first header cell containing one of its synonyms wins it; a cell
// serves one column only. A header needs the label column and one numeric column.
func inferHeader(cs []string) (header, bool) {
	h := header{width: len(cs)}
	used := make([]bool, len(cs))
	for c := range h.cols {
		h.cols[c] = -1
	}
	for _, c := range []column{colQuantity, colUnitPrice, colLabel, colTotal} {
		for i, cell := range cs {
			if used[i] {
				continue
			}
			if cellMatches(newLine(0, cell).fold, columnSynonyms[c]) {
				h.cols[c] = i
				used[i] = true
				break
			}
		}
	}
	numeric := h.cols[colQuantity] >= 0 || h.cols[colUnitPrice] >= 0 || h.cols[colTotal] >= 0
	return h, h.cols[colLabel] >= 0 && numeric
}

// cellMatches is a substring match, bounded on words for short synonyms
func cellMatches(fold string, synonyms []string) bool {
	for _, syn := range synonyms {
		if len(syn) <= 3 {
			if (line{fold: fold}).findLabel(syn) >= 0 {
				return true
			}
			continue
		}
		if strings.Contains(fold, syn) {
			return true
		}
	}
	return false
}

// lineItems reads the first item table of the document
func lineItems(lines []line) []models.LineItem {
	for i, ln := range lines {
		h, ok := inferHeader(cells(ln.orig))
		if !ok {
			continue
		}
		h.line = i
		return readRows(lines[i+1:], h)
	}
	return nil
}

func readRows(lines []line, h header) []models.LineItem {
	var items []models.LineItem
	for _, ln := range lines {
		if ln.blank() {
			if len(items) > 0 {
				break
			}
			continue
		}
		if startsWithAny(ln.fold, tableEnd) {
			break
		}
		cs := cells(ln.orig)
		if len(cs) < 2 {
			if len(items) > 0 {
				break
			}
			continue
		}
		item := models.LineItem{
			Label:     cellAt(cs, h, colLabel),
			Quantity:  numericCell(cellAt(cs, h, colQuantity)),
			UnitPrice: numericCell(cellAt(cs, h, colUnitPrice)),
			LineTotal: numericCell(cellAt(cs, h, colTotal)),
		}
		if item.Quantity == "" && item.UnitPrice == "" && item.LineTotal == "" {
			continue
		}
		items = append(items, item)
	}
	return items
}

// cellAt picks the row cell under column c. Rows narrower than the header
// keep the label first and are right aligned for the numeric columns.
func cellAt(cs []string, h header, c column) string {
	idx := h.cols[c]
	if idx < 0 {
		return ""
	}
	if len(cs) != h.width {
		if c == colLabel {
			idx = 0
		} else {
			idx -= h.width - len(cs)
			if idx < 1 {
				return ""
			}
		}
	}
	if idx >= len(cs) {
		return ""
	}
	return cs[idx]
}

// numericCell keeps a cell only when it holds an amount
func numericCell(s string) string {
	if s == "" {
		return ""
	}
	if _, ok := findValue(newLine(0, s), 0, models.ValueAmount); !ok {
		return ""
	}
	return s
}
