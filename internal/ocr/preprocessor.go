package ocr

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
)

// Preprocessor enhances page images with ImageMagick before recognition
type Preprocessor struct {
	bin    string
	runner Runner
	logger *slog.Logger
}

// NewPreprocessor creates a preprocessor. An empty bin picks "magick"
// (ImageMagick 7) when it is on PATH, else "convert" (ImageMagick 6).
func NewPreprocessor(bin string, runner Runner, logger *slog.Logger) *Preprocessor {
	if logger == nil {
		logger = slog.Default()
	}
	if runner == nil {
		runner = execRunner{}
	}
	if bin == "" {
		bin = "convert"
		if Available("magick") {
			bin = "magick"
		}
	}
	return &Preprocessor{bin: bin, runner: runner, logger: logger}
}

// Bin returns the ImageMagick binary in use
func (p *Preprocessor) Bin() string { return p.bin }

// Process applies grayscale, contrast, denoise and sharpen filters.
// On any failure the original image is returned.
func (p *Preprocessor) Process(ctx context.Context, image []byte) []byte {
	tmpDir, err := os.MkdirTemp("", "ocr-pre-*")
	if err != nil {
		p.logger.Warn("preprocess: temp dir failed", "error", err)
		return image
	}
	defer os.RemoveAll(tmpDir)

	inputFile := filepath.Join(tmpDir, "input")
	outputFile := filepath.Join(tmpDir, "output.png")
	if err := os.WriteFile(inputFile, image, 0o600); err != nil {
		return image
	}

	// Pipeline: resize (if too large) -> grayscale -> contrast -> denoise -> sharpen
	args := []string{
		inputFile,
		// Resize if larger than 2000px (keeps aspect ratio)
		"-resize", "2000x2000>",
		"-colorspace", "Gray",
		// auto-contrast
		"-normalize",
		"-contrast-stretch", "2%x1%",
		"-despeckle",
		"-sharpen", "0x1",
		"-unsharp", "0x0.5+0.5+0",
		outputFile,
	}

	if _, _, err := p.runner.Run(ctx, p.bin, p.logger, args...); err != nil {
		p.logger.Warn("preprocess: imagemagick failed, using original", "bin", p.bin, "error", err)
		return image
	}

	processed, err := os.ReadFile(outputFile)
	if err != nil || len(processed) == 0 {
		return image
	}

	p.logger.Debug("image enhanced", "in_bytes", len(image), "out_bytes", len(processed))
	return processed
}
