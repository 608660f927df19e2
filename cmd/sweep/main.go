package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/radfollowup/wrangler/constants"
	"github.com/radfollowup/wrangler/internal/common"
	"github.com/radfollowup/wrangler/internal/entity"
	"github.com/radfollowup/wrangler/internal/export"
	"github.com/radfollowup/wrangler/internal/llm/openai"
	"github.com/radfollowup/wrangler/internal/metrics"
	"github.com/radfollowup/wrangler/internal/normalize"
	"github.com/radfollowup/wrangler/internal/ocr"
	"github.com/radfollowup/wrangler/internal/pipeline"
	"github.com/radfollowup/wrangler/internal/store"
)

func main() {
	var (
		dir     = flag.String("dir", "", "directory of report PDFs to process (required)")
		outDir  = flag.String("out", "", "output directory (defaults to --dir)")
		dsn     = flag.String("dsn", os.Getenv("STORE_DSN"), "store DSN; empty uses in-memory")
		workers = flag.Int("workers", 0, "concurrent documents (defaults to DOC_WORKERS)")
	)
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	if *dir == "" {
		fmt.Fprintln(os.Stderr, "error: --dir is required")
		os.Exit(1)
	}
	if *outDir == "" {
		*outDir = *dir
	}

	cfg := common.LoadConfig()
	if *workers <= 0 {
		*workers = cfg.Pipeline.DocWorkers
	}
	if cfg.Pipeline.VocabularyFile != "" {
		if err := constants.LoadVocabularyOverrides(cfg.Pipeline.VocabularyFile); err != nil {
			logger.Error("vocabulary.load.failed", "path", cfg.Pipeline.VocabularyFile, "error", err)
			os.Exit(1)
		}
	}

	ctx := context.Background()

	var st store.Store
	if *dsn == "" {
		st = store.NewMemStore(logger)
	} else {
		sc := cfg.Store
		sc.DSN = *dsn
		s, err := store.OpenSQL(ctx, sc, logger)
		if err != nil {
			logger.Error("store.open.failed", "dsn", *dsn, "error", err)
			os.Exit(1)
		}
		defer func() { _ = s.Close() }()
		st = s
	}

	client := openai.NewClient(openai.Config{
		APIKey:      cfg.LLM.APIKey,
		BaseURL:     cfg.LLM.BaseURL,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		Timeout:     cfg.LLM.Timeout,
		MaxRetries:  cfg.LLM.MaxRetries,
		SelfCheck:   cfg.LLM.SelfCheck,
	}, logger)

	extractor := ocr.NewExtractor(ocr.Config{
		Pdfinfo:      cfg.OCR.Pdfinfo,
		Pdftotext:    cfg.OCR.Pdftotext,
		Pdftoppm:     cfg.OCR.Pdftoppm,
		Tesseract:    cfg.OCR.Tesseract,
		DPI:          cfg.OCR.DPI,
		MaxPages:     cfg.OCR.MaxPages,
		MinTextChars: cfg.OCR.MinTextChars,
	}, nil, logger)

	proc := pipeline.NewProcessor(
		pipeline.NewExtractStage(client, logger),
		pipeline.NewScoreStage(logger),
		st,
		cfg.Pipeline.SectionWorkers,
		logger,
	)

	files, err := listPDFs(*dir)
	if err != nil {
		logger.Error("sweep.scan.failed", "dir", *dir, "error", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		logger.Info("sweep.empty", "dir", *dir)
		return
	}
	logger.Info("sweep.start", "dir", *dir, "files", len(files), "workers", *workers)

	start := time.Now()
	processed, skipped := sweep(ctx, files, extractor, proc, st, *outDir, *workers, logger)

	if err := writeOutputs(ctx, st, *outDir, logger); err != nil {
		logger.Error("sweep.outputs.failed", "error", err)
		os.Exit(1)
	}
	logger.Info("sweep.done",
		"processed", processed,
		"skipped", skipped,
		"elapsed_ms", time.Since(start).Milliseconds())
}

func listPDFs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.EqualFold(filepath.Ext(e.Name()), ".pdf") {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

func sweep(ctx context.Context, files []string, extractor *ocr.Extractor, proc *pipeline.Processor, st store.Store, outDir string, workers int, logger *slog.Logger) (processed, skipped int) {
	type fileResult struct {
		path    string
		taskIDs []uuid.UUID
		skipped bool
	}
	results := make([]fileResult, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, path := range files {
		g.Go(func() error {
			ids, err := processFile(gctx, path, extractor, proc, logger)
			if err != nil {
				if common.ErrorCode(err) == common.CodeInputUnreadable {
					metrics.DocumentsProcessed.WithLabelValues("unreadable").Inc()
					logger.Warn("sweep.file.skipped", "file", path, "error", err)
					results[i] = fileResult{path: path, skipped: true}
					return nil
				}
				return err
			}
			results[i] = fileResult{path: path, taskIDs: ids}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		logger.Error("sweep.failed", "error", err)
		os.Exit(1)
	}

	for _, r := range results {
		if r.skipped {
			skipped++
			continue
		}
		processed++
		if err := writeSummary(ctx, st, outDir, r.path, r.taskIDs); err != nil {
			logger.Warn("sweep.summary.failed", "file", r.path, "error", err)
		}
	}
	return processed, skipped
}

func processFile(ctx context.Context, path string, extractor *ocr.Extractor, proc *pipeline.Processor, logger *slog.Logger) ([]uuid.UUID, error) {
	res, err := extractor.ExtractPages(ctx, path)
	if err != nil {
		return nil, err
	}
	pages := make([]normalize.Page, len(res.Pages))
	for i, p := range res.Pages {
		pages[i] = normalize.Page{Number: p.Number, Text: p.Text}
	}
	patientID := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	doc := normalize.Normalize(uuid.New().String(), patientID, filepath.Base(path), nil, pages)

	out, err := proc.ProcessDocument(ctx, doc)
	if err != nil {
		return nil, err
	}
	logger.Info("sweep.file.ok",
		"file", path,
		"tasks", len(out.TaskIDs),
		"merged", out.Merged,
		"low_confidence", doc.LowConfidence)
	return out.TaskIDs, nil
}

func writeSummary(ctx context.Context, st store.Store, outDir, path string, taskIDs []uuid.UUID) error {
	var tasks []*entity.Task
	for _, id := range taskIDs {
		t, err := st.Get(ctx, id)
		if err != nil {
			if errors.Is(err, common.ErrNotFound) {
				continue
			}
			return err
		}
		tasks = append(tasks, t)
	}
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	md := export.SummaryMarkdown(filepath.Base(path), tasks)
	return os.WriteFile(filepath.Join(outDir, base+".summary.md"), []byte(md), 0o644)
}

func writeOutputs(ctx context.Context, st store.Store, outDir string, logger *slog.Logger) error {
	ex := export.NewService(st, logger)

	csvData, err := ex.ExportCSV(ctx, entity.TaskFilter{})
	if err != nil {
		return err
	}
	csvPath := filepath.Join(outDir, "followup_tasks.csv")
	if err := os.WriteFile(csvPath, csvData, 0o644); err != nil {
		return err
	}
	logger.Info("sweep.csv.ok", "path", csvPath)

	stats, err := ex.Dashboard(ctx)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(stats, "", "  ")
	if err != nil {
		return err
	}
	dashPath := filepath.Join(outDir, "risk_dashboard.json")
	if err := os.WriteFile(dashPath, data, 0o644); err != nil {
		return err
	}
	logger.Info("sweep.dashboard.ok", "path", dashPath)
	return nil
}
