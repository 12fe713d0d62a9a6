package ocr

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/sashabaranov/go-openai"
	"google.golang.org/api/option"

	"github.com/facturaIA/extraction-service/internal/models"
)

// OpenAIVisionEngine transcribes page images with an OpenAI compatible chat model
type OpenAIVisionEngine struct {
	client *openai.Client
	model  string
	logger *slog.Logger
}

// NewOpenAIVisionEngine creates the engine; BaseURL allows compatible endpoints
func NewOpenAIVisionEngine(cfg models.OpenAIConfig, logger *slog.Logger) (*OpenAIVisionEngine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai: api key is required")
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &OpenAIVisionEngine{
		client: openai.NewClientWithConfig(clientCfg),
		model:  cfg.Model,
		logger: logger,
	}, nil
}

func (e *OpenAIVisionEngine) Recognize(ctx context.Context, image []byte, cfg PassConfig) (string, error) {
	dataURL := fmt.Sprintf("data:%s;base64,%s", imageMIME(image), base64.StdEncoding.EncodeToString(image))

	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       e.model,
		Temperature: 0,
		Messages: []openai.ChatCompletionMessage{{
			Role: openai.ChatMessageRoleUser,
			MultiContent: []openai.ChatMessagePart{
				{Type: openai.ChatMessagePartTypeText, Text: visionPrompt(cfg)},
				{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{
					URL:    dataURL,
					Detail: openai.ImageURLDetailHigh,
				}},
			},
		}},
	})
	if err != nil {
		return "", fmt.Errorf("%w: openai: %v", models.ErrRecognitionUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		e.logger.Warn("openai returned no choices", "model", e.model)
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}

// GeminiVisionEngine transcribes page images with Google Gemini
type GeminiVisionEngine struct {
	client *genai.Client
	model  string
	logger *slog.Logger
}

// NewGeminiVisionEngine opens a Gemini client; call Close when done
func NewGeminiVisionEngine(ctx context.Context, cfg models.GeminiConfig, logger *slog.Logger) (*GeminiVisionEngine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini: api key is required")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	return &GeminiVisionEngine{client: client, model: cfg.Model, logger: logger}, nil
}

func (e *GeminiVisionEngine) Recognize(ctx context.Context, image []byte, cfg PassConfig) (string, error) {
	model := e.client.GenerativeModel(e.model)
	model.SetTemperature(0)

	resp, err := model.GenerateContent(ctx,
		genai.Text(visionPrompt(cfg)),
		genai.Blob{MIMEType: imageMIME(image), Data: image},
	)
	if err != nil {
		return "", fmt.Errorf("%w: gemini: %v", models.ErrRecognitionUnavailable, err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		e.logger.Warn("gemini returned no candidates", "model", e.model)
		return "", nil
	}

	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			b.WriteString(string(text))
		}
	}
	return b.String(), nil
}

// Close releases the Gemini client
func (e *GeminiVisionEngine) Close() error {
	return e.client.Close()
}

func imageMIME(image []byte) string {
	if IsTIFF(image) {
		return "image/tiff"
	}
	mime := http.DetectContentType(image)
	if !strings.HasPrefix(mime, "image/") {
		return "image/png"
	}
	return mime
}

// IsTIFF reports the TIFF magic bytes, which http.DetectContentType does not sniff
func IsTIFF(b []byte) bool {
	if len(b) < 4 {
		return false
	}
	return string(b[:4]) == "II*\x00" || string(b[:4]) == "MM\x00*"
}

// NewEngine builds the recognition backend named by cfg.OCR.Engine
func NewEngine(ctx context.Context, cfg *models.Config, runner Runner, logger *slog.Logger) (Engine, error) {
	switch strings.ToLower(cfg.OCR.Engine) {
	case "", "tesseract":
		return NewTesseractEngine(cfg.OCR, runner, logger), nil
	case "openai":
		return NewOpenAIVisionEngine(cfg.AI.OpenAI, logger)
	case "gemini":
		return NewGeminiVisionEngine(ctx, cfg.AI.Gemini, logger)
	default:
		return nil, fmt.Errorf("unknown ocr engine %q", cfg.OCR.Engine)
	}
}
