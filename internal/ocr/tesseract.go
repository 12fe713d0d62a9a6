package ocr

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strconv"

	"github.com/facturaIA/extraction-service/internal/models"
)

var reBoxNoise = regexp.MustCompile(`(?m)^\s*[_\-]{3,}\s*$`)

// TesseractEngine runs the tesseract CLI on one image per call
type TesseractEngine struct {
	bin         string
	tessdataDir string
	runner      Runner
	logger      *slog.Logger
}

// NewTesseractEngine creates an engine. A nil runner executes real commands.
func NewTesseractEngine(cfg models.OCRConfig, runner Runner, logger *slog.Logger) *TesseractEngine {
	if logger == nil {
		logger = slog.Default()
	}
	if runner == nil {
		runner = execRunner{}
	}
	bin := cfg.Tesseract
	if bin == "" {
		bin = "tesseract"
	}
	return &TesseractEngine{bin: bin, tessdataDir: cfg.TessdataDir, runner: runner, logger: logger}
}

// Bin returns the tesseract binary in use
func (t *TesseractEngine) Bin() string { return t.bin }

// Recognize writes image to a temp file and reads tesseract's stdout
func (t *TesseractEngine) Recognize(ctx context.Context, image []byte, cfg PassConfig) (string, error) {
	f, err := os.CreateTemp("", "ocr-page-*.img")
	if err != nil {
		return "", fmt.Errorf("%w: temp file: %v", models.ErrRecognitionUnavailable, err)
	}
	defer os.Remove(f.Name())
	if _, err := f.Write(image); err != nil {
		f.Close()
		return "", fmt.Errorf("%w: write temp image: %v", models.ErrRecognitionUnavailable, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("%w: close temp image: %v", models.ErrRecognitionUnavailable, err)
	}

	// tesseract <file> stdout -l <lang> --psm N [--oem N] [--tessdata-dir D]
	out, errb, err := t.runner.Run(ctx, t.bin, t.logger, t.args(f.Name(), cfg)...)
	if err != nil {
		return "", fmt.Errorf("%w: tesseract: %v (%s)", models.ErrRecognitionUnavailable, err, truncate(string(errb), 512))
	}

	return reBoxNoise.ReplaceAllString(string(out), ""), nil
}

func (t *TesseractEngine) args(path string, cfg PassConfig) []string {
	args := []string{path, "stdout", "-l", TesseractLanguage(cfg.Language)}
	if cfg.PSM > 0 {
		args = append(args, "--psm", strconv.Itoa(cfg.PSM))
	}
	if cfg.OEM > 0 {
		args = append(args, "--oem", strconv.Itoa(cfg.OEM))
	}
	if t.tessdataDir != "" {
		args = append(args, "--tessdata-dir", t.tessdataDir)
	}
	return args
}
