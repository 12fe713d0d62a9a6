// Package pipeline drives one document from raw bytes to confirmed fields,
// routing low-confidence results to human review.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/facturaIA/extraction-service/internal/locate"
	"github.com/facturaIA/extraction-service/internal/models"
	"github.com/facturaIA/extraction-service/internal/normalize"
	"github.com/facturaIA/extraction-service/internal/ocr"
	"github.com/facturaIA/extraction-service/internal/pdftext"
	"github.com/facturaIA/extraction-service/internal/services"
	"github.com/facturaIA/extraction-service/internal/storage"
	"github.com/facturaIA/extraction-service/internal/templates"
)

// Text sources reported on a result
const (
	SourceTextLayer = "text-layer"
	SourceOCR       = "ocr"
)

// TextExtractor reads a PDF's native text layer
type TextExtractor interface {
	Extract(data []byte) (pdftext.Result, error)
}

// Rasterizer renders PDF pages to images
type Rasterizer interface {
	Rasterize(ctx context.Context, pdf []byte) ([][]byte, error)
}

// PageScanner recognizes page images
type PageScanner interface {
	Scan(ctx context.Context, images [][]byte) (ocr.ScanResult, error)
}

// DocumentStore keeps originals of documents sent to review
type DocumentStore interface {
	Upload(ctx context.Context, tenant, id string, data []byte) (string, error)
	PresignedURL(ctx context.Context, objectPath string) (string, error)
	Delete(ctx context.Context, tenant, objectPath string) error
}

// Options are the coordinator's tunables
type Options struct {
	// Threshold below which a document needs human review
	Threshold float64
	// TextLayerBase is the recognition score given to native text layers
	TextLayerBase float64
	// Tolerance is the relative totals tolerance
	Tolerance float64
}

// OptionsFromConfig reads the tunables out of the service config
func OptionsFromConfig(cfg *models.Config) Options {
	return Options{
		Threshold:     cfg.Confidence.Threshold,
		TextLayerBase: cfg.Confidence.TextLayerBase,
		Tolerance:     cfg.Validation.TotalsTolerance,
	}
}

// Deps are the collaborators of a Coordinator. Templates and Documents may
// be nil.
type Deps struct {
	Text      TextExtractor
	Raster    Rasterizer
	Scanner   PageScanner
	Templates templates.Store
	Documents DocumentStore
}

// Coordinator runs the extraction state machine
type Coordinator struct {
	deps      Deps
	opts      Options
	locator   *locate.Locator
	validator *services.TotalsValidator
	logger    *slog.Logger
	newID     func() string
}

// NewCoordinator creates a coordinator. Zero options take the defaults.
func NewCoordinator(deps Deps, opts Options, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Threshold <= 0 {
		opts.Threshold = models.DefaultConfidenceThreshold
	}
	if opts.TextLayerBase <= 0 {
		opts.TextLayerBase = models.DefaultTextLayerBase
	}
	return &Coordinator{
		deps:      deps,
		opts:      opts,
		locator:   locate.NewLocator(logger),
		validator: services.NewTotalsValidator(opts.Tolerance),
		logger:    logger,
		newID:     uuid.NewString,
	}
}

// Result is the outcome of Extract
type Result struct {
	ID            string                      `json:"id"`
	Status        State                       `json:"status"`
	Kind          models.DocumentKind         `json:"kind"`
	Fields        models.NormalizedFieldSet   `json:"fields"`
	RawFields     models.ExtractedFieldSet    `json:"rawFields"`
	LineItems     []models.NormalizedLineItem `json:"lineItems,omitempty"`
	Confidence    float64                     `json:"confidence"`
	BaseScore     float64                     `json:"baseScore"`
	EvidenceFlags []models.EvidenceFlag       `json:"evidenceFlags"`
	Validation    *services.ValidationResult  `json:"validation"`
	Missing       []string                    `json:"missingFields"`
	Supplier      models.SupplierKey          `json:"supplier"`
	TemplateUsed  bool                        `json:"templateUsed"`
	Sources       map[string]string           `json:"sources"`
	TextSource    string                      `json:"textSource"`
	PageScores    []float64                   `json:"pageScores,omitempty"`
	Text          string                      `json:"text"`
	DocumentPath  string                      `json:"documentPath,omitempty"`
	DocumentURL   string                      `json:"documentUrl,omitempty"`
	Warnings      []string                    `json:"warnings,omitempty"`
	History       []State                     `json:"history"`
	ProcessingMS  int64                       `json:"processingMs"`
}

// NeedsReview reports whether the result was routed to human review
func (r *Result) NeedsReview() bool { return r.Status == StateNeedsFallback }

// Extract runs a document through recognition, location, normalization,
// validation and scoring. Only an unreadable container or cancellation is
// an error; every other uncertainty is carried in the result.
func (c *Coordinator) Extract(ctx context.Context, req models.ExtractionRequest) (*Result, error) {
	start := time.Now()
	if len(req.Kind.Schema()) == 0 {
		return nil, fmt.Errorf("%w: %q", models.ErrUnknownKind, req.Kind)
	}

	m := newMachine(StatePending)
	res := &Result{ID: c.newID(), Kind: req.Kind}

	text, base, err := c.recognize(ctx, req.Document, m, res)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res.Text = text
	res.BaseScore = base

	res.Supplier = locate.DetectSupplier(text, req.SupplierHint)
	tmpl := c.lookupTemplate(ctx, req.TenantID, res.Supplier)
	res.TemplateUsed = tmpl != nil

	located := c.locator.Locate(text, req.Kind, tmpl)
	res.RawFields = located.Fields
	res.Sources = located.Sources
	if err := m.to(StateFieldsLocated); err != nil {
		return nil, err
	}

	res.Fields = normalize.FieldSet(req.Kind, located.Fields)
	res.LineItems = normalize.LineItems(located.LineItems)
	if err := m.to(StateNormalized); err != nil {
		return nil, err
	}

	res.Validation = c.validator.Validate(req.Kind, res.Fields)
	if err := m.to(StateValidated); err != nil {
		return nil, err
	}

	ev := services.CollectEvidence(req.Kind, res.Fields, res.Validation.TotalsOK, located.HasCurrency)
	score := services.Score(base, ev)
	res.Confidence = score.Score
	res.EvidenceFlags = score.Flags
	if err := m.to(StateScored); err != nil {
		return nil, err
	}

	res.Missing = MissingRequired(req.Kind, res.Fields)
	next := StateConfirmed
	if score.Score < c.opts.Threshold || len(res.Missing) > 0 {
		next = StateNeedsFallback
	}
	if err := m.to(next); err != nil {
		return nil, err
	}
	res.Status = next
	if next == StateNeedsFallback {
		c.storeForReview(ctx, req, res)
	}

	res.History = m.history
	res.ProcessingMS = time.Since(start).Milliseconds()
	c.logger.Info("document extracted",
		"id", res.ID,
		"kind", req.Kind,
		"status", res.Status,
		"source", res.TextSource,
		"confidence", res.Confidence,
		"missing", len(res.Missing),
		"template", res.TemplateUsed,
		"duration_ms", res.ProcessingMS,
	)
	return res, nil
}

// recognize returns the document text and its recognition base score.
// PDFs with a text layer skip OCR entirely.
func (c *Coordinator) recognize(ctx context.Context, doc []byte, m *machine, res *Result) (string, float64, error) {
	switch {
	case pdftext.IsPDF(doc):
		layer, err := c.deps.Text.Extract(doc)
		if err != nil {
			return "", 0, err
		}
		res.Warnings = append(res.Warnings, layer.Warnings...)
		if layer.HasTextLayer {
			res.TextSource = SourceTextLayer
			return layer.Text(), c.opts.TextLayerBase, m.to(StateTextLayerOK)
		}
		if err := m.to(StateOCRMultipass); err != nil {
			return "", 0, err
		}
		res.TextSource = SourceOCR
		images, err := c.deps.Raster.Rasterize(ctx, doc)
		if err != nil {
			if ctx.Err() != nil {
				return "", 0, ctx.Err()
			}
			c.logger.Warn("rasterization failed, continuing without text", "error", err)
			res.Warnings = append(res.Warnings, "rasterization failed: "+err.Error())
			return "", 0, nil
		}
		return c.scan(ctx, images, res)

	case isImage(doc):
		if err := m.to(StateOCRMultipass); err != nil {
			return "", 0, err
		}
		res.TextSource = SourceOCR
		return c.scan(ctx, [][]byte{doc}, res)

	default:
		return "", 0, models.Unreadable(errors.New("unsupported document format"))
	}
}

func (c *Coordinator) scan(ctx context.Context, images [][]byte, res *Result) (string, float64, error) {
	scan, err := c.deps.Scanner.Scan(ctx, images)
	if err != nil {
		return "", 0, err
	}
	for _, p := range scan.Pages {
		res.PageScores = append(res.PageScores, p.Score)
	}
	return scan.Text, scan.Score, nil
}

func isImage(doc []byte) bool {
	switch storage.ContentType(doc) {
	case "image/jpeg", "image/png", "image/gif", "image/webp", "image/tiff", "image/bmp":
		return true
	}
	return false
}

// lookupTemplate treats store failures as a miss; templates are hints
func (c *Coordinator) lookupTemplate(ctx context.Context, tenant string, key models.SupplierKey) *models.SupplierTemplate {
	if c.deps.Templates == nil || key.IsZero() {
		return nil
	}
	tmpl, err := c.deps.Templates.Lookup(ctx, tenant, key)
	if err != nil {
		c.logger.Warn("template lookup failed", "tenant", tenant, "error", err)
		return nil
	}
	return tmpl
}

// storeForReview uploads the original so the reviewer can see it. Failures
// leave the result without a link.
func (c *Coordinator) storeForReview(ctx context.Context, req models.ExtractionRequest, res *Result) {
	if c.deps.Documents == nil {
		return
	}
	path, err := c.deps.Documents.Upload(ctx, req.TenantID, res.ID, req.Document)
	if err != nil {
		c.logger.Warn("failed to store document for review", "id", res.ID, "error", err)
		return
	}
	res.DocumentPath = path
	if url, err := c.deps.Documents.PresignedURL(ctx, path); err == nil {
		res.DocumentURL = url
	} else {
		c.logger.Warn("failed to presign review link", "id", res.ID, "error", err)
	}
}

// releaseDocument drops the review copy of a confirmed document. Failures
// leave the object for the bucket's lifecycle rules.
func (c *Coordinator) releaseDocument(ctx context.Context, req ConfirmRequest) bool {
	if c.deps.Documents == nil || req.DocumentPath == "" {
		return false
	}
	if err := c.deps.Documents.Delete(ctx, req.TenantID, req.DocumentPath); err != nil {
		c.logger.Warn("failed to delete reviewed document", "path", req.DocumentPath, "error", err)
		return false
	}
	return true
}

// MissingRequired lists the required keys of kind that hold no value
func MissingRequired(kind models.DocumentKind, fields models.NormalizedFieldSet) []string {
	missing := []string{}
	for _, spec := range kind.Schema() {
		if spec.Required && !fields.Present(spec.Key) {
			missing = append(missing, spec.Key)
		}
	}
	return missing
}

// ReviewRequest carries a reviewer's corrections. Fields are the raw values
// of the extraction being reviewed; Edits override them as typed by the
// reviewer, an empty edit clearing the field.
type ReviewRequest struct {
	Kind   models.DocumentKind      `json:"kind"`
	Fields models.ExtractedFieldSet `json:"fields"`
	Edits  map[string]string        `json:"edits"`
}

// ConfirmRequest is a ReviewRequest to confirm. With LearnTemplate set and
// a supplier known, the confirmed values seed the supplier's template.
type ConfirmRequest struct {
	ReviewRequest
	TenantID      string             `json:"-"`
	Supplier      models.SupplierKey `json:"supplier"`
	Text          string             `json:"text"`
	LearnTemplate bool               `json:"learnTemplate"`
	// DocumentPath is the stored original from Extract, removed on confirmation
	DocumentPath string `json:"documentPath"`
}

// ReviewResult is a corrected field set with live totals feedback
type ReviewResult struct {
	Status          State                      `json:"status"`
	Fields          models.NormalizedFieldSet  `json:"fields"`
	RawFields       models.ExtractedFieldSet   `json:"rawFields"`
	TotalsOK        bool                       `json:"totalsOk"`
	Validation      *services.ValidationResult `json:"validation"`
	Missing         []string                   `json:"missingFields"`
	TemplateLearned bool                       `json:"templateLearned"`
	DocumentDeleted bool                       `json:"documentDeleted"`
	History         []State                    `json:"history"`
}

// ErrUnknownField is returned for an edit naming a key outside the kind schema
var ErrUnknownField = errors.New("unknown field")

// Review re-normalizes and re-validates a reviewed field set without
// confirming it
func (c *Coordinator) Review(req ReviewRequest) (*ReviewResult, error) {
	m := newMachine(StateNeedsFallback)
	out, err := c.review(req, m)
	if err != nil {
		return nil, err
	}
	out.Status = m.state
	out.History = m.history
	return out, nil
}

// ConfirmFallback applies the reviewer's edits through the same normalizer
// as automated extraction, re-validates totals and confirms the record.
// Totals that still disagree are reported, never blocking.
func (c *Coordinator) ConfirmFallback(ctx context.Context, req ConfirmRequest) (*ReviewResult, error) {
	m := newMachine(StateNeedsFallback)
	out, err := c.review(req.ReviewRequest, m)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := m.to(StateConfirmed); err != nil {
		return nil, err
	}
	out.Status = m.state
	out.History = m.history

	if req.LearnTemplate {
		out.TemplateLearned = c.learn(ctx, req, out.RawFields)
	}
	out.DocumentDeleted = c.releaseDocument(ctx, req)
	c.logger.Info("extraction confirmed",
		"kind", req.Kind,
		"edits", len(req.Edits),
		"totals_ok", out.TotalsOK,
		"template_learned", out.TemplateLearned,
	)
	return out, nil
}

func (c *Coordinator) review(req ReviewRequest, m *machine) (*ReviewResult, error) {
	if len(req.Kind.Schema()) == 0 {
		return nil, fmt.Errorf("%w: %q", models.ErrUnknownKind, req.Kind)
	}
	raw, err := applyEdits(req.Kind, req.Fields, req.Edits)
	if err != nil {
		return nil, err
	}

	out := &ReviewResult{RawFields: raw}
	out.Fields = normalize.FieldSet(req.Kind, raw)
	if err := m.to(StateRenormalized); err != nil {
		return nil, err
	}
	out.Validation = c.validator.Validate(req.Kind, out.Fields)
	out.TotalsOK = out.Validation.TotalsOK
	if err := m.to(StateRevalidated); err != nil {
		return nil, err
	}
	out.Missing = MissingRequired(req.Kind, out.Fields)
	return out, nil
}

// applyEdits merges edits over the schema keys of fields. The inputs are
// left untouched.
func applyEdits(kind models.DocumentKind, fields models.ExtractedFieldSet, edits map[string]string) (models.ExtractedFieldSet, error) {
	out := models.NewExtractedFieldSet(kind)
	for _, key := range kind.Keys() {
		if v, ok := fields.Get(key); ok {
			out.Set(key, v)
		}
	}
	for key, v := range edits {
		if _, ok := kind.Field(key); !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownField, key)
		}
		out.Set(key, v)
	}
	return out, nil
}

func (c *Coordinator) learn(ctx context.Context, req ConfirmRequest, confirmed models.ExtractedFieldSet) bool {
	if c.deps.Templates == nil || strings.TrimSpace(req.Text) == "" {
		return false
	}
	supplier := req.Supplier
	if supplier.IsZero() {
		supplier = locate.DetectSupplier(req.Text, "")
	}
	tmpl := templates.Learn(req.TenantID, supplier, req.Kind, req.Text, confirmed)
	if tmpl == nil {
		return false
	}
	if err := c.deps.Templates.Upsert(ctx, tmpl); err != nil {
		c.logger.Warn("failed to store supplier template", "tenant", req.TenantID, "error", err)
		return false
	}
	c.logger.Info("supplier template learned", "tenant", req.TenantID, "fields", len(tmpl.FieldPositions))
	return true
}
