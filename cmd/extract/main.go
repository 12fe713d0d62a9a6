package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/facturaIA/extraction-service/internal/models"
	"github.com/facturaIA/extraction-service/internal/ocr"
	"github.com/facturaIA/extraction-service/internal/pdftext"
	"github.com/facturaIA/extraction-service/internal/pipeline"
	"github.com/facturaIA/extraction-service/internal/templates"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "extract <file>",
		Short: "Extract and normalize the fields of a French business document",
		Long: `Extract the fields of an invoice, expense receipt or tender notice.

PDFs with a text layer are read directly. Scanned PDFs and images go
through the configured recognition engine. The result is printed as JSON.

Examples:
  extract facture.pdf
  extract ticket.jpg --kind expense
  extract avis.pdf --kind tender --config config.yaml`,
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE:         runExtract,
	}

	cmd.Flags().StringP("kind", "k", string(models.KindInvoice), "document kind (invoice, expense, tender)")
	cmd.Flags().StringP("supplier", "s", "", "supplier name hint")
	cmd.Flags().StringP("config", "c", "config.yaml", "path to the yaml config")
	cmd.Flags().String("tenant", "default", "tenant the document belongs to")
	cmd.Flags().Bool("text", false, "include the recognized text in the output")
	return cmd
}

func runExtract(cmd *cobra.Command, args []string) error {
	kindFlag, _ := cmd.Flags().GetString("kind")
	supplier, _ := cmd.Flags().GetString("supplier")
	configPath, _ := cmd.Flags().GetString("config")
	tenant, _ := cmd.Flags().GetString("tenant")
	withText, _ := cmd.Flags().GetBool("text")

	kind, err := models.ParseDocumentKind(kindFlag)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", args[0], err)
	}

	config, err := models.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	// Logs go to stderr so stdout stays valid JSON
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: config.SlogLevel()}))

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	tc, err := ocr.NewToolchain(ctx, config, nil, logger)
	if err != nil {
		return fmt.Errorf("failed to build recognition toolchain: %w", err)
	}
	defer tc.Close()

	coord := pipeline.NewCoordinator(pipeline.Deps{
		Text:      pdftext.NewExtractor(logger),
		Raster:    tc.Rasterizer,
		Scanner:   tc.Scanner,
		Templates: templates.NewMemoryStore(),
	}, pipeline.OptionsFromConfig(config), logger)

	res, err := coord.Extract(ctx, models.ExtractionRequest{
		Document:     data,
		Kind:         kind,
		SupplierHint: supplier,
		TenantID:     tenant,
		FileName:     filepath.Base(args[0]),
	})
	if err != nil {
		return err
	}
	if !withText {
		res.Text = ""
	}
	return printJSON(cmd.OutOrStdout(), res)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
