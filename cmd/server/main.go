package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/facturaIA/extraction-service/api"
	"github.com/facturaIA/extraction-service/internal/db"
	"github.com/facturaIA/extraction-service/internal/models"
	"github.com/facturaIA/extraction-service/internal/ocr"
	"github.com/facturaIA/extraction-service/internal/pdftext"
	"github.com/facturaIA/extraction-service/internal/pipeline"
	"github.com/facturaIA/extraction-service/internal/storage"
	"github.com/facturaIA/extraction-service/internal/templates"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the yaml config")
	flag.Parse()

	config, err := models.LoadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: config.SlogLevel()}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, config, logger); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, config *models.Config, logger *slog.Logger) error {
	deps := api.Deps{Runner: ocr.ExecRunner()}

	// Supplier templates: Postgres when configured, memory otherwise
	var store templates.Store = templates.NewMemoryStore()
	pool, err := db.Open(ctx, config.Database, logger)
	switch {
	case err == nil:
		defer pool.Close()
		store = templates.NewPostgresStore(pool, logger)
		deps.Database = pool
	case errors.Is(err, db.ErrNotConfigured):
	default:
		logger.Warn("database not available, supplier templates stay in memory", "error", err)
	}
	deps.Templates = store

	// Originals of documents routed to review
	var documents pipeline.DocumentStore
	if config.Storage.Endpoint != "" {
		docs, err := storage.New(ctx, config.Storage, logger)
		if err != nil {
			logger.Warn("MinIO storage not available, review documents will not be stored", "error", err)
		} else {
			documents = docs
			deps.Storage = docs
		}
	}

	tc, err := ocr.NewToolchain(ctx, config, deps.Runner, logger)
	if err != nil {
		return fmt.Errorf("failed to build recognition toolchain: %w", err)
	}
	defer tc.Close()

	deps.Coordinator = pipeline.NewCoordinator(pipeline.Deps{
		Text:      pdftext.NewExtractor(logger),
		Raster:    tc.Rasterizer,
		Scanner:   tc.Scanner,
		Templates: store,
		Documents: documents,
	}, pipeline.OptionsFromConfig(config), logger)

	deps.Tools = []api.Tool{
		{Name: "pdftoppm", Bin: tc.Rasterizer.Bin(), VersionFlag: "-v", Critical: true},
	}
	if te, ok := tc.Engine.(*ocr.TesseractEngine); ok {
		deps.Tools = append(deps.Tools, api.Tool{Name: "tesseract", Bin: te.Bin(), VersionFlag: "--version", Critical: true})
	}
	if tc.Preprocessor != nil {
		deps.Tools = append(deps.Tools, api.Tool{Name: "imagemagick", Bin: tc.Preprocessor.Bin(), VersionFlag: "-version"})
	}

	handler := api.NewHandler(config, deps, logger)
	addr := fmt.Sprintf("%s:%d", config.Host, config.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler.SetupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("starting extraction service",
		"version", api.Version,
		"addr", addr,
		"ocr_engine", config.OCR.Engine,
		"language", config.OCR.Language,
		"database", deps.Database != nil,
		"storage", documents != nil,
		"jwt", config.Auth.JWTSecret != "",
	)

	errc := make(chan error, 1)
	go func() {
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
