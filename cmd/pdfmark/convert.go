package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/pdfmark/internal/pipeline"
	"github.com/jackzampolin/pdfmark/internal/store"
	"github.com/jackzampolin/pdfmark/internal/svcctx"
)

var (
	convertOut       string
	convertChunksDir string
	convertCutoff    int
	convertDPI       int
	convertRenderer  string
	convertOrder     string
	convertSkipOCR   bool
	convertTableText bool
	convertChunk     int
)

var convertCmd = &cobra.Command{
	Use:   "convert <file.pdf>",
	Short: "Convert a PDF to Markdown without a server",
	Long: `Convert a PDF to Markdown in this process.

The conversion uses the same store, artifacts and providers as the server.
Interrupting the command cancels the conversion.

Examples:
  pdfmark convert book.pdf --out book.md
  pdfmark convert scan.pdf --heading-cutoff 2 --reading-order rtl
  pdfmark convert paper.pdf --chunks-dir chunks/ --chunk-level 2`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		logger := slog.Default()

		pdf, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", args[0], err)
		}

		h, err := getHome()
		if err != nil {
			return err
		}
		mgr, err := loadConfig(h)
		if err != nil {
			return err
		}

		services, err := svcctx.Build(ctx, svcctx.BuildConfig{Config: mgr, Home: h, Logger: logger})
		if err != nil {
			return err
		}
		defer services.Close(context.WithoutCancel(ctx))
		orch := services.Orchestrator

		id, err := orch.StartConversion(ctx, pdf, pipeline.StartConfig{
			Filename:      filepath.Base(args[0]),
			HeadingCutoff: convertCutoff,
			Options: store.Options{
				DPI:          convertDPI,
				Renderer:     convertRenderer,
				ReadingOrder: convertOrder,
				SkipOCR:      convertSkipOCR,
				TableText:    convertTableText,
				ChunkLevel:   convertChunk,
			},
		})
		if err != nil {
			return err
		}

		stopProgress := reportProgress(ctx, orch, id, logger)
		status, err := orch.Wait(ctx, id)
		stopProgress()
		if err != nil {
			if ctx.Err() != nil {
				if cerr := orch.Cancel(context.WithoutCancel(ctx), id); cerr != nil {
					logger.Warn("cancel failed", "document_id", id, "error", cerr)
				}
				return fmt.Errorf("conversion %s interrupted", id)
			}
			return err
		}

		switch status.State {
		case store.DocComplete:
		case store.DocPartiallyFailed:
			for _, p := range status.Pages {
				if p.State == store.PageFailed {
					logger.Warn("page failed", "page", p.Index+1, "error", p.Error)
				}
			}
		default:
			return fmt.Errorf("conversion %s %s: %s", id, status.State, status.Error)
		}

		md, err := orch.GetResult(ctx, id)
		if err != nil {
			return err
		}
		if convertChunksDir != "" {
			if err := writeChunks(ctx, orch, id, convertChunk); err != nil {
				return err
			}
		}
		if convertOut == "" {
			fmt.Print(md)
			return nil
		}
		if err := os.WriteFile(convertOut, []byte(md), 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", convertOut, err)
		}
		logger.Info("wrote markdown", "path", convertOut, "document_id", id, "state", status.State)
		return nil
	},
}

// reportProgress logs the number of assembled pages every few seconds until
// the returned func is called.
func reportProgress(ctx context.Context, orch *pipeline.Orchestrator, id string, logger *slog.Logger) func() {
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(3 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			st, err := orch.GetStatus(ctx, id)
			if err != nil {
				continue
			}
			done := 0
			for _, p := range st.Pages {
				if p.State.Terminal() {
					done++
				}
			}
			logger.Info("progress", "state", st.State, "pages_done", done, "pages", st.PageCount)
		}
	}()
	return cancel
}

func writeChunks(ctx context.Context, orch *pipeline.Orchestrator, id string, level int) error {
	chunks, err := orch.GetChunks(ctx, id, level)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(convertChunksDir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", convertChunksDir, err)
	}
	for _, c := range chunks {
		path := filepath.Join(convertChunksDir, fmt.Sprintf("%03d.md", c.Index))
		if err := os.WriteFile(path, []byte(c.Content), 0o644); err != nil {
			return fmt.Errorf("failed to write chunk %d: %w", c.Index, err)
		}
	}
	slog.Default().Info("wrote chunks", "dir", convertChunksDir, "count", len(chunks))
	return nil
}

func init() {
	convertCmd.Flags().StringVar(&convertOut, "out", "", "Write the Markdown to this file instead of stdout")
	convertCmd.Flags().StringVar(&convertChunksDir, "chunks-dir", "", "Also write heading-delimited chunks to this directory")
	convertCmd.Flags().IntVar(&convertCutoff, "heading-cutoff", 0, "Level for the shallowest heading (1-6, default from config)")
	convertCmd.Flags().IntVar(&convertDPI, "dpi", 0, "Render resolution (default from config)")
	convertCmd.Flags().StringVar(&convertRenderer, "renderer", "", "Page renderer: fitz or pdftoppm")
	convertCmd.Flags().StringVar(&convertOrder, "reading-order", "", "Column reading order: ltr or rtl")
	convertCmd.Flags().BoolVar(&convertSkipOCR, "skip-ocr", false, "Transcribe from the image without an OCR hint")
	convertCmd.Flags().BoolVar(&convertTableText, "table-text", false, "Rewrite tables as sentences")
	convertCmd.Flags().IntVar(&convertChunk, "chunk-level", 0, "Split level for --chunks-dir")

	rootCmd.AddCommand(convertCmd)
}
