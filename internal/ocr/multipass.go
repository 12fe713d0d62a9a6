package ocr

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/facturaIA/extraction-service/internal/models"
)

// EarlyExitScore stops the pass scan once an attempt reaches it
const EarlyExitScore = 0.70

// Attempt is the outcome of one pass on one page
type Attempt struct {
	Page   int        `json:"page"`
	Config PassConfig `json:"config"`
	Text   string     `json:"-"`
	Score  float64    `json:"score"`
}

// Score is the share of alphanumeric runes in text, a proxy for clean
// recognition. Empty text scores 0.
func Score(text string) float64 {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}
	alnum := 0
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			alnum++
		}
	}
	return float64(alnum) / float64(n)
}

// Selector runs ordered passes on one image and keeps the best attempt
type Selector struct {
	engine    Engine
	passes    []PassConfig
	threshold float64
	parallel  int
	logger    *slog.Logger
}

// NewSelector creates a selector. Up to parallel passes run at once; results
// are still consumed in pass order so the winner is the one a sequential scan
// would pick.
func NewSelector(engine Engine, passes []PassConfig, parallel int, logger *slog.Logger) *Selector {
	if logger == nil {
		logger = slog.Default()
	}
	if len(passes) == 0 {
		passes = DefaultPasses(models.DefaultLanguage, 0)
	}
	if parallel <= 0 {
		parallel = 1
	}
	return &Selector{engine: engine, passes: passes, threshold: EarlyExitScore, parallel: parallel, logger: logger}
}

// Passes returns the configured pass list
func (s *Selector) Passes() []PassConfig { return s.passes }

// Select returns the highest scoring attempt, the first one on ties. It stops
// at the first attempt reaching the early exit score and cancels the passes
// still running. The returned text is never nil; it is empty at worst.
func (s *Selector) Select(ctx context.Context, page int, image []byte) (Attempt, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make([]chan Attempt, len(s.passes))
	for i := range results {
		results[i] = make(chan Attempt, 1)
	}

	sem := make(chan struct{}, s.parallel)
	go func() {
		for i, cfg := range s.passes {
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			go func(i int, cfg PassConfig) {
				results[i] <- s.attempt(ctx, page, image, cfg)
			}(i, cfg)
		}
	}()

	// A slot is freed only once its result is consumed, so no pass starts
	// after the early exit when running one at a time.
	best := Attempt{Page: page, Config: s.passes[0]}
	for i := range s.passes {
		if err := ctx.Err(); err != nil {
			return best, err
		}
		var a Attempt
		select {
		case a = <-results[i]:
		case <-ctx.Done():
			return best, ctx.Err()
		}
		if i == 0 || a.Score > best.Score {
			best = a
		}
		if best.Score >= s.threshold {
			s.logger.Debug("early exit", "page", page, "pass", i+1, "config", best.Config.String(), "score", best.Score)
			break
		}
		<-sem
	}
	return best, nil
}

func (s *Selector) attempt(ctx context.Context, page int, image []byte, cfg PassConfig) Attempt {
	text, err := s.engine.Recognize(ctx, image, cfg)
	if err != nil {
		if errors.Is(err, models.ErrRecognitionUnavailable) {
			s.logger.Warn("recognition unavailable", "page", page, "config", cfg.String(), "error", err)
		} else if ctx.Err() == nil {
			s.logger.Warn("recognition failed", "page", page, "config", cfg.String(), "error", err)
		}
		text = ""
	}
	return Attempt{Page: page, Config: cfg, Text: text, Score: Score(text)}
}

// ImagePreprocessor enhances an image; it returns the input on failure
type ImagePreprocessor interface {
	Process(ctx context.Context, image []byte) []byte
}

// ScanResult is the per-page winners of a scanned document in page order
type ScanResult struct {
	Pages []Attempt `json:"pages"`
	Text  string    `json:"-"`
	Score float64   `json:"score"`
}

// Scanner fans pages out to a Selector and re-assembles them in order
type Scanner struct {
	selector     *Selector
	preprocessor ImagePreprocessor
	parallel     int
	logger       *slog.Logger
}

// NewScanner creates a scanner; preprocessor may be nil
func NewScanner(selector *Selector, preprocessor ImagePreprocessor, parallel int, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	if parallel <= 0 {
		parallel = models.DefaultMaxParallelPages
	}
	return &Scanner{selector: selector, preprocessor: preprocessor, parallel: parallel, logger: logger}
}

// Scan recognizes every image. Page indexes are 1-based. The document score
// is the mean of the page scores.
func (s *Scanner) Scan(ctx context.Context, images [][]byte) (ScanResult, error) {
	pages := make([]Attempt, len(images))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallel)
	for i, img := range images {
		i, img := i, img
		g.Go(func() error {
			if s.preprocessor != nil {
				img = s.preprocessor.Process(gctx, img)
			}
			a, err := s.selector.Select(gctx, i+1, img)
			if err != nil {
				return err
			}
			pages[i] = a
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return ScanResult{}, err
	}

	res := ScanResult{Pages: pages}
	texts := make([]string, len(pages))
	for i, p := range pages {
		texts[i] = p.Text
		res.Score += p.Score
	}
	if len(pages) > 0 {
		res.Score /= float64(len(pages))
	}
	res.Text = strings.Join(texts, "\n\n")
	s.logger.Debug("scan done", "pages", len(pages), "score", res.Score)
	return res, nil
}
