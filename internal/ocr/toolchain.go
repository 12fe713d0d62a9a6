package ocr

import (
	"context"
	"io"
	"log/slog"

	"github.com/facturaIA/extraction-service/internal/models"
)

// Toolchain is the recognition side of the pipeline built from config
type Toolchain struct {
	Engine       Engine
	Selector     *Selector
	Scanner      *Scanner
	Rasterizer   *Rasterizer
	Preprocessor *Preprocessor // nil when preprocessing is off
}

// NewToolchain wires the configured engine, pass list, preprocessor and
// rasterizer. A nil runner executes real commands.
func NewToolchain(ctx context.Context, cfg *models.Config, runner Runner, logger *slog.Logger) (*Toolchain, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if runner == nil {
		runner = ExecRunner()
	}
	engine, err := NewEngine(ctx, cfg, runner, logger)
	if err != nil {
		return nil, err
	}

	tc := &Toolchain{
		Engine:     engine,
		Rasterizer: NewRasterizer(cfg.OCR, runner, logger),
	}
	tc.Selector = NewSelector(engine, DefaultPasses(cfg.OCR.Language, cfg.OCR.OEM), cfg.OCR.MaxParallelPass, logger)

	var pre ImagePreprocessor
	if cfg.OCR.Preprocess {
		tc.Preprocessor = NewPreprocessor(cfg.OCR.Magick, runner, logger)
		pre = tc.Preprocessor
	}
	tc.Scanner = NewScanner(tc.Selector, pre, cfg.OCR.MaxParallelPages, logger)
	return tc, nil
}

// Close releases the engine's client connections, if any
func (tc *Toolchain) Close() error {
	if c, ok := tc.Engine.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
