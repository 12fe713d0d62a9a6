package models

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents the service configuration
type Config struct {
	// Server config
	Port int    `yaml:"port"`
	Host string `yaml:"host"`

	Log        LogConfig        `yaml:"log"`
	OCR        OCRConfig        `yaml:"ocr"`
	AI         AIConfig         `yaml:"ai"`
	Validation ValidationConfig `yaml:"validation"`
	Confidence ConfidenceConfig `yaml:"confidence"`
	Auth       AuthConfig       `yaml:"auth"`
	Database   DatabaseConfig   `yaml:"database"`
	Storage    StorageConfig    `yaml:"storage"`
}

// LogConfig selects the slog level ("debug", "info", "warn", "error")
type LogConfig struct {
	Level string `yaml:"level"`
}

// OCRConfig represents OCR-specific configuration
type OCRConfig struct {
	Engine    string `yaml:"engine"`   // "tesseract", "openai" or "gemini"
	Language  string `yaml:"language"` // ISO 639-1, default "fr"
	Tesseract string `yaml:"tesseract"`
	Pdftoppm  string `yaml:"pdftoppm"`
	Magick    string `yaml:"magick"` // empty: "magick" if on PATH, else "convert"

	TessdataDir      string `yaml:"tessdata_dir"`
	OEM              int    `yaml:"oem"`
	DPI              int    `yaml:"dpi"`
	MaxPages         int    `yaml:"max_pages"`
	Preprocess       bool   `yaml:"preprocess"`
	MaxParallelPages int    `yaml:"max_parallel_pages"`
	MaxParallelPass  int    `yaml:"max_parallel_passes"`
}

// AIConfig configures the remote vision recognition backends
type AIConfig struct {
	OpenAI OpenAIConfig `yaml:"openai"`
	Gemini GeminiConfig `yaml:"gemini"`
}

// OpenAIConfig for OpenAI or any compatible endpoint
type OpenAIConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url,omitempty"`
	Model   string `yaml:"model"`
}

// GeminiConfig for Google Gemini
type GeminiConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

// ValidationConfig holds the totals check tolerance (relative, 0.02 = 2%)
type ValidationConfig struct {
	TotalsTolerance float64 `yaml:"totals_tolerance"`
}

// ConfidenceConfig holds the fallback threshold and the text-layer base score
type ConfidenceConfig struct {
	Threshold     float64 `yaml:"threshold"`
	TextLayerBase float64 `yaml:"text_layer_base"`
}

// AuthConfig enables JWT tenant claims when Secret is set
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// DatabaseConfig points at the Postgres holding supplier templates.
// Empty URL keeps templates in memory.
type DatabaseConfig struct {
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns"`
}

// StorageConfig points at the MinIO bucket for documents awaiting review
type StorageConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// Defaults for values left empty in config.yaml
const (
	DefaultPort                = 8081
	DefaultLanguage            = "fr"
	DefaultDPI                 = 300
	DefaultMaxPages            = 20
	DefaultMaxParallelPages    = 4
	DefaultMaxParallelPasses   = 1
	DefaultTotalsTolerance     = 0.02
	DefaultConfidenceThreshold = 0.70
	DefaultTextLayerBase       = 0.90
)

// ApplyDefaults fills zero values
func (c *Config) ApplyDefaults() {
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.OCR.Engine == "" {
		c.OCR.Engine = "tesseract"
	}
	if c.OCR.Language == "" {
		c.OCR.Language = DefaultLanguage
	}
	if c.OCR.Tesseract == "" {
		c.OCR.Tesseract = "tesseract"
	}
	if c.OCR.Pdftoppm == "" {
		c.OCR.Pdftoppm = "pdftoppm"
	}
	if c.OCR.DPI <= 0 {
		c.OCR.DPI = DefaultDPI
	}
	if c.OCR.MaxPages <= 0 {
		c.OCR.MaxPages = DefaultMaxPages
	}
	if c.OCR.MaxParallelPages <= 0 {
		c.OCR.MaxParallelPages = DefaultMaxParallelPages
	}
	if c.OCR.MaxParallelPass <= 0 {
		c.OCR.MaxParallelPass = DefaultMaxParallelPasses
	}
	if c.AI.OpenAI.Model == "" {
		c.AI.OpenAI.Model = "gpt-4o"
	}
	if c.AI.Gemini.Model == "" {
		c.AI.Gemini.Model = "gemini-1.5-flash"
	}
	if c.Validation.TotalsTolerance <= 0 {
		c.Validation.TotalsTolerance = DefaultTotalsTolerance
	}
	if c.Confidence.Threshold <= 0 {
		c.Confidence.Threshold = DefaultConfidenceThreshold
	}
	if c.Confidence.TextLayerBase <= 0 {
		c.Confidence.TextLayerBase = DefaultTextLayerBase
	}
	if c.Database.MaxConns <= 0 {
		c.Database.MaxConns = 10
	}
	if c.Storage.Bucket == "" {
		c.Storage.Bucket = "documents"
	}
}

// LoadConfig reads the yaml file at path (a missing file means all defaults),
// applies environment overrides and then defaults.
func LoadConfig(path string) (*Config, error) {
	var config Config

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config.applyEnv(os.Getenv)
	config.ApplyDefaults()
	return &config, nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	if port := getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Port = p
		}
	}
	if host := getenv("HOST"); host != "" {
		c.Host = host
	}
	if level := getenv("LOG_LEVEL"); level != "" {
		c.Log.Level = level
	}
	if engine := getenv("OCR_ENGINE"); engine != "" {
		c.OCR.Engine = engine
	}
	if lang := getenv("OCR_LANGUAGE"); lang != "" {
		c.OCR.Language = lang
	}
	if dir := getenv("TESSDATA_PREFIX"); dir != "" {
		c.OCR.TessdataDir = dir
	}
	if apiKey := getenv("OPENAI_API_KEY"); apiKey != "" {
		c.AI.OpenAI.APIKey = apiKey
	}
	if baseURL := getenv("OPENAI_BASE_URL"); baseURL != "" {
		c.AI.OpenAI.BaseURL = baseURL
	}
	if model := getenv("OPENAI_MODEL"); model != "" {
		c.AI.OpenAI.Model = model
	}
	if apiKey := getenv("GEMINI_API_KEY"); apiKey != "" {
		c.AI.Gemini.APIKey = apiKey
	}
	if model := getenv("GEMINI_MODEL"); model != "" {
		c.AI.Gemini.Model = model
	}
	if secret := getenv("JWT_SECRET"); secret != "" {
		c.Auth.JWTSecret = secret
	}
	if url := getenv("DATABASE_URL"); url != "" {
		c.Database.URL = url
	}
	if endpoint := getenv("MINIO_ENDPOINT"); endpoint != "" {
		c.Storage.Endpoint = endpoint
	}
	if key := getenv("MINIO_ACCESS_KEY"); key != "" {
		c.Storage.AccessKey = key
	}
	if secret := getenv("MINIO_SECRET_KEY"); secret != "" {
		c.Storage.SecretKey = secret
	}
	if bucket := getenv("MINIO_BUCKET"); bucket != "" {
		c.Storage.Bucket = bucket
	}
	if getenv("MINIO_USE_SSL") == "true" {
		c.Storage.UseSSL = true
	}
	if t := getenv("CONFIDENCE_THRESHOLD"); t != "" {
		if v, err := strconv.ParseFloat(t, 64); err == nil {
			c.Confidence.Threshold = v
		}
	}
}

// SlogLevel maps Log.Level to a slog level; unknown names mean info
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.Log.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
