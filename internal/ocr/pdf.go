package ocr

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/radfollowup/wrangler/internal/common"
)

// Extractor converts PDFs to per-page text via pdftotext, falling back to
// a render+OCR pass (pdftoppm + tesseract) for pages whose native text is
// too short to be trusted, which is how scanned reports present.
type Extractor struct {
	cfg    Config
	runner Runner
	log    *slog.Logger
}

type Config struct {
	Pdfinfo      string
	Pdftotext    string
	Pdftoppm     string
	Tesseract    string
	DPI          int
	MaxPages     int
	MinTextChars int // pages with less native text than this get OCRed
}

func NewExtractor(cfg Config, runner Runner, logger *slog.Logger) *Extractor {
	if cfg.Pdfinfo == "" {
		cfg.Pdfinfo = "pdfinfo"
	}
	if cfg.Pdftotext == "" {
		cfg.Pdftotext = "pdftotext"
	}
	if cfg.Pdftoppm == "" {
		cfg.Pdftoppm = "pdftoppm"
	}
	if cfg.Tesseract == "" {
		cfg.Tesseract = "tesseract"
	}
	if cfg.DPI <= 0 {
		cfg.DPI = 300
	}
	if cfg.MinTextChars <= 0 {
		cfg.MinTextChars = 180
	}
	if runner == nil {
		runner = execRunner{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{cfg: cfg, runner: runner, log: logger}
}

var rePageCount = regexp.MustCompile(`Pages:\s+(\d+)`)

// ExtractPages implements PageExtractor.
func (e *Extractor) ExtractPages(ctx context.Context, path string) (ExtractionResult, error) {
	start := time.Now()

	n, err := e.pageCount(ctx, path)
	if err != nil {
		return ExtractionResult{}, common.NewAppError(common.CodeInputUnreadable, "pdfinfo "+path, err)
	}
	if e.cfg.MaxPages > 0 && n > e.cfg.MaxPages {
		n = e.cfg.MaxPages
	}

	res := ExtractionResult{}
	for p := 1; p <= n; p++ {
		txt, method, warn, err := e.pageText(ctx, path, p)
		if err != nil {
			// one broken page degrades, it does not lose the document
			res.Warnings = append(res.Warnings, fmt.Sprintf("page %d: %v", p, err))
			continue
		}
		if warn != "" {
			res.Warnings = append(res.Warnings, warn)
		}
		res.Pages = append(res.Pages, PageText{Number: p, Text: txt, Method: method})
	}
	res.Duration = time.Since(start)
	if len(res.Pages) == 0 {
		return res, common.NewAppError(common.CodeInputUnreadable, "no readable pages in "+path, nil)
	}

	e.log.Info("ocr.extract.ok",
		"path", filepath.Base(path),
		"pages", len(res.Pages),
		"warnings", len(res.Warnings),
		"elapsed_ms", res.Duration.Milliseconds(),
	)
	return res, nil
}

func (e *Extractor) pageCount(ctx context.Context, path string) (int, error) {
	out, _, err := e.runner.Run(ctx, e.cfg.Pdfinfo, path)
	if err != nil {
		return 0, err
	}
	if m := rePageCount.FindSubmatch(out); m != nil {
		if n, err := strconv.Atoi(string(m[1])); err == nil {
			return n, nil
		}
	}
	return 1, nil
}

// pageText tries native text first and falls back to render+OCR when the
// yield is below the threshold.
func (e *Extractor) pageText(ctx context.Context, path string, page int) (text, method, warning string, err error) {
	ps := strconv.Itoa(page)
	out, _, err := e.runner.Run(ctx, e.cfg.Pdftotext, "-f", ps, "-l", ps, "-enc", "UTF-8", path, "-")
	if err == nil && len(strings.TrimSpace(string(out))) >= e.cfg.MinTextChars {
		return string(out), "pdf-text", "", nil
	}

	ocrText, ocrErr := e.ocrPage(ctx, path, page)
	if ocrErr != nil {
		if err == nil {
			// keep the short native text rather than nothing
			return string(out), "pdf-text", fmt.Sprintf("page %d: ocr fallback failed: %v", page, ocrErr), nil
		}
		return "", "", "", ocrErr
	}
	return ocrText, "pdf-ocr", "", nil
}

func (e *Extractor) ocrPage(ctx context.Context, path string, page int) (string, error) {
	tmpDir, err := os.MkdirTemp("", "rw-ocr-*")
	if err != nil {
		return "", err
	}
	defer func() {
		if rerr := os.RemoveAll(tmpDir); rerr != nil {
			e.log.Warn("ocr.tmp_cleanup_failed", "dir", tmpDir, "error", rerr)
		}
	}()

	ps := strconv.Itoa(page)
	prefix := filepath.Join(tmpDir, "page")
	_, _, err = e.runner.Run(ctx, e.cfg.Pdftoppm,
		"-f", ps, "-l", ps, "-r", strconv.Itoa(e.cfg.DPI), "-png", path, prefix)
	if err != nil {
		return "", err
	}
	matches, _ := filepath.Glob(prefix + "-*.png")
	if len(matches) == 0 {
		return "", fmt.Errorf("pdftoppm produced no image for page %d", page)
	}
	out, _, err := e.runner.Run(ctx, e.cfg.Tesseract, matches[0], "stdout")
	if err != nil {
		return "", err
	}
	return string(out), nil
}
