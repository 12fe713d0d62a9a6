package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/facturaIA/extraction-service/internal/auth"
	"github.com/facturaIA/extraction-service/internal/models"
	"github.com/facturaIA/extraction-service/internal/ocr"
	"github.com/facturaIA/extraction-service/internal/pipeline"
	"github.com/facturaIA/extraction-service/internal/templates"
)

const (
	MaxUploadSize = 20 * 1024 * 1024 // 20MB
	Version       = "3.0.0"
)

// Pinger is satisfied by *pgxpool.Pool
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthChecker is satisfied by *storage.DocumentStore
type HealthChecker interface {
	Healthy(ctx context.Context) bool
}

// Tool is an external binary the service shells out to
type Tool struct {
	Name        string
	Bin         string
	VersionFlag string
	// Critical tools mark the service degraded when missing
	Critical bool
}

// Deps are the handler's collaborators. Templates, Database and Storage may be nil.
type Deps struct {
	Coordinator *pipeline.Coordinator
	Templates   templates.Store
	Runner      ocr.Runner
	Tools       []Tool
	Database    Pinger
	Storage     HealthChecker
}

// Handler handles HTTP requests for document extraction
type Handler struct {
	config *models.Config
	deps   Deps
	logger *slog.Logger
}

// NewHandler creates a new API handler
func NewHandler(config *models.Config, deps Deps, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Runner == nil {
		deps.Runner = ocr.ExecRunner()
	}
	return &Handler{config: config, deps: deps, logger: logger}
}

// SetupRoutes configures the HTTP routes
func (h *Handler) SetupRoutes() *mux.Router {
	router := mux.NewRouter()
	router.Use(h.logRequests)

	// Health check
	router.HandleFunc("/health", h.Health).Methods("GET")

	api := router.PathPrefix("/api").Subrouter()
	api.Use(auth.Middleware(h.config.Auth.JWTSecret))

	api.HandleFunc("/extract", h.Extract).Methods("POST")
	api.HandleFunc("/extract/review", h.Review).Methods("POST")
	api.HandleFunc("/extract/confirm", h.Confirm).Methods("POST")
	api.HandleFunc("/templates", h.GetTemplate).Methods("GET")

	return router
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		h.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// HealthResponse represents the health check response structure
type HealthResponse struct {
	Status    string                   `json:"status"`
	Version   string                   `json:"version"`
	Timestamp string                   `json:"timestamp"`
	Uptime    string                   `json:"uptime"`
	Memory    MemoryStats              `json:"memory"`
	Tools     map[string]ServiceStatus `json:"tools"`
	Database  ServiceStatus            `json:"database"`
	Storage   ServiceStatus            `json:"storage"`
	OCREngine string                   `json:"ocrEngine"`
}

// MemoryStats represents memory usage statistics
type MemoryStats struct {
	Allocated string `json:"allocated"`
	Total     string `json:"total"`
	System    string `json:"system"`
}

// ServiceStatus represents the status of a service dependency
type ServiceStatus struct {
	Available bool   `json:"available"`
	Version   string `json:"version,omitempty"`
	Error     string `json:"error,omitempty"`
}

var startTime = time.Now()

// Health reports the external tools and backing services
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	response := HealthResponse{
		Status:    "healthy",
		Version:   Version,
		Timestamp: time.Now().Format(time.RFC3339),
		Uptime:    time.Since(startTime).String(),
		Memory: MemoryStats{
			Allocated: fmt.Sprintf("%.2f MB", float64(m.Alloc)/1024/1024),
			Total:     fmt.Sprintf("%.2f MB", float64(m.TotalAlloc)/1024/1024),
			System:    fmt.Sprintf("%.2f MB", float64(m.Sys)/1024/1024),
		},
		Tools:     map[string]ServiceStatus{},
		Database:  h.checkDatabase(ctx),
		Storage:   h.checkStorage(ctx),
		OCREngine: h.config.OCR.Engine,
	}

	for _, tool := range h.deps.Tools {
		status := h.checkTool(ctx, tool)
		response.Tools[tool.Name] = status
		if tool.Critical && !status.Available {
			response.Status = "degraded"
		}
	}

	if response.Status == "degraded" {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	json.NewEncoder(w).Encode(response)
}

// checkTool runs the tool's version command
func (h *Handler) checkTool(ctx context.Context, tool Tool) ServiceStatus {
	var args []string
	if tool.VersionFlag != "" {
		args = append(args, tool.VersionFlag)
	}
	stdout, stderr, err := h.deps.Runner.Run(ctx, tool.Bin, h.logger, args...)
	if err != nil {
		return ServiceStatus{
			Available: false,
			Error:     tool.Bin + " not found or not executable",
		}
	}

	// pdftoppm prints its version on stderr
	output := string(stdout)
	if strings.TrimSpace(output) == "" {
		output = string(stderr)
	}
	version := "unknown"
	if first, _, _ := strings.Cut(strings.TrimSpace(output), "\n"); first != "" {
		version = strings.TrimSpace(first)
	}
	return ServiceStatus{Available: true, Version: version}
}

// checkDatabase verifies PostgreSQL connection
func (h *Handler) checkDatabase(ctx context.Context) ServiceStatus {
	if h.deps.Database == nil {
		return ServiceStatus{
			Available: false,
			Error:     "database not configured, templates kept in memory",
		}
	}
	if err := h.deps.Database.Ping(ctx); err != nil {
		return ServiceStatus{Available: false, Error: err.Error()}
	}
	return ServiceStatus{Available: true, Version: "PostgreSQL"}
}

// checkStorage verifies MinIO connection
func (h *Handler) checkStorage(ctx context.Context) ServiceStatus {
	if h.deps.Storage == nil {
		return ServiceStatus{
			Available: false,
			Error:     "storage not configured",
		}
	}
	if !h.deps.Storage.Healthy(ctx) {
		return ServiceStatus{Available: false, Error: "bucket unreachable"}
	}
	return ServiceStatus{Available: true, Version: "MinIO S3"}
}

// sendJSON writes a success envelope
func (h *Handler) sendJSON(w http.ResponseWriter, statusCode int, payload map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	payload["success"] = true
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(payload)
}

// sendError sends an error response
func (h *Handler) sendError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]any{
		"success": false,
		"error":   message,
	})
}
