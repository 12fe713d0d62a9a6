package pipeline

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/facturaIA/extraction-service/internal/models"
	"github.com/facturaIA/extraction-service/internal/ocr"
	"github.com/facturaIA/extraction-service/internal/pdftext"
	"github.com/facturaIA/extraction-service/internal/templates"
)

var (
	pdfBytes = []byte("%PDF-1.4\n%fake")
	pngBytes = []byte("\x89PNG\r\n\x1a\n0000")
)

type fakeText struct {
	res pdftext.Result
	err error
}

func (f fakeText) Extract([]byte) (pdftext.Result, error) { return f.res, f.err }

func textLayer(text string) fakeText {
	return fakeText{res: pdftext.Result{
		Pages:        []models.DocumentPage{{Index: 1, Text: text}},
		HasTextLayer: true,
	}}
}

type fakeRaster struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeRaster) Rasterize(context.Context, []byte) ([][]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return [][]byte{pngBytes}, nil
}

type fakeScanner struct {
	mu    sync.Mutex
	calls int
	text  string
	score float64
}

func (f *fakeScanner) Scan(ctx context.Context, images [][]byte) (ocr.ScanResult, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return ocr.ScanResult{}, err
	}
	pages := make([]ocr.Attempt, len(images))
	for i := range images {
		pages[i] = ocr.Attempt{Page: i + 1, Text: f.text, Score: f.score}
	}
	return ocr.ScanResult{Pages: pages, Text: f.text, Score: f.score}, nil
}

type fakeDocuments struct {
	mu      sync.Mutex
	uploads []string
	deleted []string
}

func (f *fakeDocuments) Upload(_ context.Context, tenant, id string, _ []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	path := "documents/" + tenant + "/" + id
	f.uploads = append(f.uploads, path)
	return path, nil
}

func (f *fakeDocuments) PresignedURL(_ context.Context, path string) (string, error) {
	return "https://minio.local/" + path, nil
}

func (f *fakeDocuments) Delete(_ context.Context, tenant, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !strings.HasPrefix(path, "documents/"+tenant+"/") {
		return errors.New("foreign object")
	}
	f.deleted = append(f.deleted, path)
	return nil
}

const scannedInvoice = `FACTURE N° F-1
Date : 05/03/2024
Total HT : 1 000,00
TVA 20 % : 200,00
Total TTC : 1 199,00 €`

const invoiceWithoutTTC = `FACTURE N° F-2
Date : 05/03/2024
Total HT : 1 000,00
TVA 20 % : 200,00`

func newTestCoordinator(text fakeText, raster *fakeRaster, scanner *fakeScanner, store templates.Store, docs DocumentStore) *Coordinator {
	return NewCoordinator(Deps{
		Text:      text,
		Raster:    raster,
		Scanner:   scanner,
		Templates: store,
		Documents: docs,
	}, Options{}, nil)
}

func TestTextLayerNeverInvokesOCR(t *testing.T) {
	t.Parallel()

	raster := &fakeRaster{}
	scanner := &fakeScanner{}
	c := newTestCoordinator(textLayer(scannedInvoice), raster, scanner, nil, nil)

	res, err := c.Extract(context.Background(), models.ExtractionRequest{Document: pdfBytes, Kind: models.KindInvoice})
	if err != nil {
		t.Fatal(err)
	}
	if raster.calls != 0 || scanner.calls != 0 {
		t.Fatalf("OCR invoked: raster %d, scanner %d", raster.calls, scanner.calls)
	}
	if !slices.Contains(res.History, StateTextLayerOK) || slices.Contains(res.History, StateOCRMultipass) {
		t.Fatalf("history = %v", res.History)
	}
	if res.TextSource != SourceTextLayer || res.BaseScore != models.DefaultTextLayerBase {
		t.Fatalf("source %q base %v", res.TextSource, res.BaseScore)
	}
	if res.Status != StateConfirmed {
		t.Fatalf("status = %s (confidence %v, missing %v)", res.Status, res.Confidence, res.Missing)
	}
}

func TestScannedInvoiceWithinTolerance(t *testing.T) {
	t.Parallel()

	const base = 0.6
	scanner := &fakeScanner{text: scannedInvoice, score: base}
	c := newTestCoordinator(fakeText{}, &fakeRaster{}, scanner, nil, nil)

	res, err := c.Extract(context.Background(), models.ExtractionRequest{Document: pngBytes, Kind: models.KindInvoice})
	if err != nil {
		t.Fatal(err)
	}
	if scanner.calls != 1 {
		t.Fatalf("scanner calls = %d", scanner.calls)
	}
	if !res.Validation.TotalsOK {
		t.Fatalf("validation = %+v", res.Validation)
	}
	if res.Confidence < base+0.25 {
		t.Fatalf("confidence %v below %v", res.Confidence, base+0.25)
	}
	if got := *res.Fields.Number(models.FieldTTC); got != 1199 {
		t.Fatalf("ttc = %v", got)
	}
	want := []State{StatePending, StateOCRMultipass, StateFieldsLocated, StateNormalized, StateValidated, StateScored, StateConfirmed}
	if !slices.Equal(res.History, want) {
		t.Fatalf("history = %v", res.History)
	}
}

func TestScannedPDFIsRasterized(t *testing.T) {
	t.Parallel()

	raster := &fakeRaster{}
	scanner := &fakeScanner{text: scannedInvoice, score: 0.8}
	c := newTestCoordinator(fakeText{res: pdftext.Result{Pages: []models.DocumentPage{{Index: 1}}}}, raster, scanner, nil, nil)

	res, err := c.Extract(context.Background(), models.ExtractionRequest{Document: pdfBytes, Kind: models.KindInvoice})
	if err != nil {
		t.Fatal(err)
	}
	if raster.calls != 1 || scanner.calls != 1 || res.TextSource != SourceOCR {
		t.Fatalf("raster %d scanner %d source %q", raster.calls, scanner.calls, res.TextSource)
	}
	if len(res.PageScores) != 1 || res.PageScores[0] != 0.8 {
		t.Fatalf("page scores = %v", res.PageScores)
	}
}

func TestMissingTTCNeedsFallback(t *testing.T) {
	t.Parallel()

	docs := &fakeDocuments{}
	c := newTestCoordinator(textLayer(invoiceWithoutTTC), &fakeRaster{}, &fakeScanner{}, nil, docs)

	res, err := c.Extract(context.Background(), models.ExtractionRequest{Document: pdfBytes, Kind: models.KindInvoice, TenantID: "acme"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Validation.TotalsOK {
		t.Fatal("totals cannot be consistent without ttc")
	}
	if res.Status != StateNeedsFallback || !res.NeedsReview() || !slices.Contains(res.Missing, models.FieldTTC) {
		t.Fatalf("status %s missing %v", res.Status, res.Missing)
	}
	if len(docs.uploads) != 1 || !strings.HasPrefix(docs.uploads[0], "documents/acme/") || res.DocumentURL == "" {
		t.Fatalf("uploads %v url %q", docs.uploads, res.DocumentURL)
	}
	if _, ok := res.Fields[models.FieldTTC]; !ok {
		t.Fatal("absent fields keep their key")
	}

	review := ReviewRequest{Kind: models.KindInvoice, Fields: res.RawFields, Edits: map[string]string{models.FieldTTC: "1 200,00"}}
	foreign, err := c.ConfirmFallback(context.Background(), ConfirmRequest{ReviewRequest: review, TenantID: "other", DocumentPath: res.DocumentPath})
	if err != nil || foreign.DocumentDeleted || foreign.Status != StateConfirmed {
		t.Fatalf("foreign confirm = %+v, %v", foreign, err)
	}
	confirmed, err := c.ConfirmFallback(context.Background(), ConfirmRequest{ReviewRequest: review, TenantID: "acme", DocumentPath: res.DocumentPath})
	if err != nil || !confirmed.DocumentDeleted || len(docs.deleted) != 1 || docs.deleted[0] != res.DocumentPath {
		t.Fatalf("confirm = %+v, %v, deleted %v", confirmed, err, docs.deleted)
	}
}

func TestRasterizationFailureDegrades(t *testing.T) {
	t.Parallel()

	raster := &fakeRaster{err: errors.New("pdftoppm: not found")}
	scanner := &fakeScanner{}
	c := newTestCoordinator(fakeText{}, raster, scanner, nil, nil)

	res, err := c.Extract(context.Background(), models.ExtractionRequest{Document: pdfBytes, Kind: models.KindExpense})
	if err != nil {
		t.Fatal(err)
	}
	if scanner.calls != 0 || res.Status != StateNeedsFallback || len(res.Warnings) == 0 {
		t.Fatalf("scanner %d status %s warnings %v", scanner.calls, res.Status, res.Warnings)
	}
}

func TestExtractErrors(t *testing.T) {
	t.Parallel()

	c := newTestCoordinator(fakeText{err: models.Unreadable(errors.New("xref"))}, &fakeRaster{}, &fakeScanner{}, nil, nil)
	ctx := context.Background()

	if _, err := c.Extract(ctx, models.ExtractionRequest{Document: []byte("plain text"), Kind: models.KindInvoice}); !models.IsUnreadable(err) {
		t.Fatalf("unknown format: %v", err)
	}
	if _, err := c.Extract(ctx, models.ExtractionRequest{Document: pdfBytes, Kind: models.KindInvoice}); !models.IsUnreadable(err) {
		t.Fatalf("corrupt pdf: %v", err)
	}
	if _, err := c.Extract(ctx, models.ExtractionRequest{Document: pngBytes, Kind: "poster"}); !errors.Is(err, models.ErrUnknownKind) {
		t.Fatalf("unknown kind: %v", err)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := c.Extract(cancelled, models.ExtractionRequest{Document: pngBytes, Kind: models.KindInvoice}); !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled: %v", err)
	}
}

func TestReviewAppliesSameNormalizer(t *testing.T) {
	t.Parallel()

	c := newTestCoordinator(fakeText{}, &fakeRaster{}, &fakeScanner{}, nil, nil)
	fields := models.NewExtractedFieldSet(models.KindInvoice)
	fields.Set(models.FieldHT, "1 000,00")
	fields.Set(models.FieldDateDoc, "05/03/2024")

	res, err := c.Review(ReviewRequest{
		Kind:   models.KindInvoice,
		Fields: fields,
		Edits:  map[string]string{models.FieldTTC: "1 200,00 €", models.FieldTVAPct: "20", models.FieldDateDoc: "5/3/24"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StateRevalidated || !res.TotalsOK {
		t.Fatalf("status %s totals %v", res.Status, res.TotalsOK)
	}
	if *res.Fields.Number(models.FieldTTC) != 1200 || *res.Fields.Text(models.FieldDateDoc) != "2024-03-05" {
		t.Fatalf("fields = %v", res.Fields)
	}
	if v, _ := fields.Get(models.FieldDateDoc); v != "05/03/2024" {
		t.Fatal("review must not mutate its input")
	}

	if _, err := c.Review(ReviewRequest{Kind: models.KindInvoice, Edits: map[string]string{"color": "red"}}); !errors.Is(err, ErrUnknownField) {
		t.Fatalf("unknown field: %v", err)
	}
}

func TestConfirmReportsInconsistentTotals(t *testing.T) {
	t.Parallel()

	c := newTestCoordinator(fakeText{}, &fakeRaster{}, &fakeScanner{}, nil, nil)
	res, err := c.ConfirmFallback(context.Background(), ConfirmRequest{ReviewRequest: ReviewRequest{
		Kind:  models.KindInvoice,
		Edits: map[string]string{models.FieldHT: "100", models.FieldTVAPct: "20", models.FieldTTC: "150"},
	}})
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StateConfirmed || res.TotalsOK {
		t.Fatalf("status %s totals %v", res.Status, res.TotalsOK)
	}
}

const megacorp = `MEGACORP
Ref doc   X-77-12
Emis   03.04.2024
Somme due   480,00
Base   400,00
Taxe   80,00`

func TestConfirmLearnsTemplate(t *testing.T) {
	t.Parallel()

	store := templates.NewMemoryStore()
	ctx := context.Background()
	first := newTestCoordinator(textLayer(megacorp), &fakeRaster{}, &fakeScanner{}, store, nil)

	res, err := first.Extract(ctx, models.ExtractionRequest{Document: pdfBytes, Kind: models.KindInvoice, TenantID: "t1"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StateNeedsFallback || res.TemplateUsed {
		t.Fatalf("first pass status %s template %v", res.Status, res.TemplateUsed)
	}

	confirmed, err := first.ConfirmFallback(ctx, ConfirmRequest{
		ReviewRequest: ReviewRequest{
			Kind:   models.KindInvoice,
			Fields: res.RawFields,
			Edits: map[string]string{
				models.FieldTTC:    "480,00",
				models.FieldHT:     "400,00",
				models.FieldTVAAmt: "80,00",
			},
		},
		TenantID:      "t1",
		Supplier:      res.Supplier,
		Text:          res.Text,
		LearnTemplate: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !confirmed.TemplateLearned || !confirmed.TotalsOK {
		t.Fatalf("confirm = %+v", confirmed)
	}

	next := strings.NewReplacer("480,00", "600,00", "400,00", "500,00", "80,00", "100,00").Replace(megacorp)
	second := newTestCoordinator(textLayer(next), &fakeRaster{}, &fakeScanner{}, store, nil)
	again, err := second.Extract(ctx, models.ExtractionRequest{Document: pdfBytes, Kind: models.KindInvoice, TenantID: "t1"})
	if err != nil {
		t.Fatal(err)
	}
	if !again.TemplateUsed || *again.Fields.Number(models.FieldTTC) != 600 || !again.Validation.TotalsOK {
		t.Fatalf("second pass template %v fields %v", again.TemplateUsed, again.Fields)
	}
	if again.Status != StateConfirmed {
		t.Fatalf("second pass status %s confidence %v", again.Status, again.Confidence)
	}
}

func TestStateTransitions(t *testing.T) {
	t.Parallel()

	m := newMachine(StatePending)
	path := []State{StateTextLayerOK, StateFieldsLocated, StateNormalized, StateValidated, StateScored,
		StateNeedsFallback, StateRenormalized, StateRevalidated, StateRenormalized, StateRevalidated, StateConfirmed}
	if err := m.walk(path...); err != nil {
		t.Fatal(err)
	}
	if !StateConfirmed.Terminal() {
		t.Fatal("CONFIRMED must be terminal")
	}

	illegal := []struct{ from, to State }{
		{StatePending, StateConfirmed},
		{StatePending, StateFieldsLocated},
		{StateTextLayerOK, StateOCRMultipass},
		{StateScored, StateRenormalized},
		{StateNeedsFallback, StateConfirmed},
		{StateConfirmed, StateNeedsFallback},
		{StateConfirmed, StateRenormalized},
	}
	for _, tt := range illegal {
		if err := newMachine(tt.from).to(tt.to); !errors.Is(err, ErrIllegalTransition) {
			t.Fatalf("%s -> %s: %v", tt.from, tt.to, err)
		}
	}
}

func TestMissingRequired(t *testing.T) {
	t.Parallel()

	fields := models.NormalizedFieldSet{models.FieldOrganization: models.TextValue("Ville de Lyon")}
	got := MissingRequired(models.KindTenderNotice, fields)
	if !slices.Equal(got, []string{models.FieldDeadline}) {
		t.Fatalf("missing = %v", got)
	}
}
