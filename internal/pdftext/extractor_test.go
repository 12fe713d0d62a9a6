package pdftext

import (
	"bytes"
	"strings"
	"testing"

	"codeberg.org/go-pdf/fpdf"

	"github.com/facturaIA/extraction-service/internal/models"
)

func buildPDF(t *testing.T, pages ...[]string) []byte {
	t.Helper()

	doc := fpdf.New("P", "mm", "A4", "")
	doc.SetCompression(false)
	doc.SetFont("Helvetica", "", 12)
	for _, lines := range pages {
		doc.AddPage()
		for _, line := range lines {
			doc.CellFormat(0, 10, line, "", 1, "L", false, 0, "")
		}
	}
	var buf bytes.Buffer
	if err := doc.Output(&buf); err != nil {
		t.Fatalf("build pdf: %v", err)
	}
	return buf.Bytes()
}

func TestExtractTextLayer(t *testing.T) {
	t.Parallel()

	data := buildPDF(t,
		[]string{"FACTURE FA-2024-001", "Total HT 1000,00", "Total TTC 1200,00"},
		[]string{"Conditions de paiement"},
	)
	if !IsPDF(data) {
		t.Fatal("fixture lacks the pdf header")
	}

	res, err := NewExtractor(nil).Extract(data)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if !res.HasTextLayer {
		t.Fatal("expected a text layer")
	}
	if len(res.Pages) != 2 || res.Pages[0].Index != 1 || res.Pages[1].Index != 2 {
		t.Fatalf("pages = %+v", res.Pages)
	}
	if !strings.Contains(res.Pages[0].Text, "Total TTC 1200,00") {
		t.Fatalf("page 1 text = %q", res.Pages[0].Text)
	}
	if !strings.Contains(res.Text(), "Conditions de paiement") {
		t.Fatalf("joined text = %q", res.Text())
	}
}

func TestExtractShortTextIsNotALayer(t *testing.T) {
	t.Parallel()

	res, err := NewExtractor(nil).Extract(buildPDF(t, []string{"a b c"}, []string{}))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if res.HasTextLayer {
		t.Fatalf("five characters or fewer must not count: %+v", res.Pages)
	}
}

func TestExtractGarbageIsUnreadable(t *testing.T) {
	t.Parallel()

	for _, data := range [][]byte{nil, []byte("not a pdf at all"), []byte("%PDF-1.4\n%%EOF garbage")} {
		_, err := NewExtractor(nil).Extract(data)
		if !models.IsUnreadable(err) {
			t.Fatalf("Extract(%q) error = %v, want DocumentUnreadable", data, err)
		}
	}
}

func TestCountVisible(t *testing.T) {
	t.Parallel()

	if n := countVisible(" \n a b\tc "); n != 3 {
		t.Fatalf("countVisible = %d", n)
	}
}
