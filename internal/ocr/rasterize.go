package ocr

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/facturaIA/extraction-service/internal/models"
)

// Rasterizer renders PDF pages to PNG with pdftoppm
type Rasterizer struct {
	bin      string
	dpi      int
	maxPages int
	runner   Runner
	logger   *slog.Logger
}

// NewRasterizer creates a rasterizer. A nil runner executes real commands.
func NewRasterizer(cfg models.OCRConfig, runner Runner, logger *slog.Logger) *Rasterizer {
	if logger == nil {
		logger = slog.Default()
	}
	if runner == nil {
		runner = execRunner{}
	}
	r := &Rasterizer{bin: cfg.Pdftoppm, dpi: cfg.DPI, maxPages: cfg.MaxPages, runner: runner, logger: logger}
	if r.bin == "" {
		r.bin = "pdftoppm"
	}
	if r.dpi <= 0 {
		r.dpi = models.DefaultDPI
	}
	return r
}

// Bin returns the pdftoppm binary in use
func (r *Rasterizer) Bin() string { return r.bin }

// Rasterize returns one PNG per page, in page order, capped at the configured
// page limit.
func (r *Rasterizer) Rasterize(ctx context.Context, pdf []byte) ([][]byte, error) {
	tmpDir, err := os.MkdirTemp("", "ocr-pp-*")
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := os.RemoveAll(tmpDir); err != nil {
			r.logger.Warn("failed to remove temp dir", "dir", tmpDir, "error", err)
		}
	}()

	in := filepath.Join(tmpDir, "document.pdf")
	if err := os.WriteFile(in, pdf, 0o600); err != nil {
		return nil, err
	}

	prefix := filepath.Join(tmpDir, "page")
	args := []string{"-r", strconv.Itoa(r.dpi), "-png"}
	if r.maxPages > 0 {
		args = append(args, "-l", strconv.Itoa(r.maxPages))
	}
	// pdftoppm -r 300 -png [-l N] <in.pdf> <tmp/page>
	_, errb, err := r.runner.Run(ctx, r.bin, r.logger, append(args, in, prefix)...)
	if err != nil {
		return nil, fmt.Errorf("pdftoppm: %w (%s)", err, truncate(string(errb), 512))
	}

	// prefix-1.png ... or zero padded prefix-01.png when there are 10+ pages
	matches, _ := filepath.Glob(prefix + "-*.png")
	sort.Strings(matches)
	if r.maxPages > 0 && len(matches) > r.maxPages {
		matches = matches[:r.maxPages]
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("pdftoppm produced no images")
	}

	pages := make([][]byte, 0, len(matches))
	for _, m := range matches {
		b, err := os.ReadFile(m)
		if err != nil {
			return nil, fmt.Errorf("read page image: %w", err)
		}
		pages = append(pages, b)
	}
	r.logger.Debug("pdf rasterized", "pages", len(pages), "dpi", r.dpi)
	return pages, nil
}
