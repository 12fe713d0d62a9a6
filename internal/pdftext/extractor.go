// Package pdftext reads the native text layer of PDF documents.
package pdftext

import (
	"bytes"
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"github.com/ledongthuc/pdf"

	"github.com/facturaIA/extraction-service/internal/models"
)

// MinTextLayerRunes is the number of non-whitespace runes a page must exceed
// for the document to count as having a text layer.
const MinTextLayerRunes = 5

// Result is the per-page text of a document in page order
type Result struct {
	Pages        []models.DocumentPage
	HasTextLayer bool
	Warnings     []string
}

// Text joins the page texts
func (r Result) Text() string {
	texts := make([]string, len(r.Pages))
	for i, p := range r.Pages {
		texts[i] = p.Text
	}
	return strings.Join(texts, "\n\n")
}

// Extractor reads text layers with github.com/ledongthuc/pdf
type Extractor struct {
	logger *slog.Logger
}

// NewExtractor creates an extractor
func NewExtractor(logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{logger: logger}
}

// Extract returns the text of every page. A document that cannot be opened
// fails with a *models.DocumentUnreadableError; a page that cannot be decoded
// is kept empty with a warning.
func (e *Extractor) Extract(data []byte) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			res = Result{}
			err = models.Unreadable(fmt.Errorf("pdf parser panic: %v", r))
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return Result{}, models.Unreadable(err)
	}

	n := reader.NumPage()
	res.Pages = make([]models.DocumentPage, 0, n)
	for i := 1; i <= n; i++ {
		text, perr := pageText(reader, i)
		if perr != nil {
			e.logger.Warn("page text extraction failed", "page", i, "error", perr)
			res.Warnings = append(res.Warnings, fmt.Sprintf("page %d: %v", i, perr))
		}
		res.Pages = append(res.Pages, models.DocumentPage{Index: i, Text: text})
		if countVisible(text) > MinTextLayerRunes {
			res.HasTextLayer = true
		}
	}

	e.logger.Debug("pdf text layer read", "pages", n, "has_text_layer", res.HasTextLayer)
	return res, nil
}

// pageText rebuilds the lines of a page from its text rows, top to bottom,
// falling back to the plain content stream text. Cells of a row are joined
// with two spaces so table columns stay apart.
func pageText(reader *pdf.Reader, num int) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			text = ""
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	page := reader.Page(num)
	if page.V.IsNull() {
		return "", fmt.Errorf("invalid page %d", num)
	}

	rows, err := page.GetTextByRow()
	if err == nil && len(rows) > 0 {
		lines := make([]string, 0, len(rows))
		for _, row := range rows {
			parts := make([]string, 0, len(row.Content))
			for _, t := range row.Content {
				if s := strings.TrimSpace(t.S); s != "" {
					parts = append(parts, s)
				}
			}
			if len(parts) > 0 {
				lines = append(lines, strings.Join(parts, "  "))
			}
		}
		if len(lines) > 0 {
			return strings.Join(lines, "\n"), nil
		}
	}

	plain, perr := page.GetPlainText(nil)
	if perr != nil {
		return "", perr
	}
	return plain, nil
}

func countVisible(s string) int {
	n := 0
	for _, r := range strings.TrimSpace(s) {
		if !unicode.IsSpace(r) {
			n++
		}
	}
	return n
}

// IsPDF reports the PDF header
func IsPDF(data []byte) bool {
	return bytes.HasPrefix(data, []byte("%PDF-"))
}
