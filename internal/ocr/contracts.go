// Package ocr adapts PDF files into ordered pages of raw text. The
// pipeline depends only on the PageExtractor contract; the concrete
// adapter shells out to poppler and tesseract.
package ocr

import (
	"context"
	"time"
)

// PageText is one extracted page.
type PageText struct {
	Number int
	Text   string
	Method string // "pdf-text" | "pdf-ocr"
}

// ExtractionResult is the per-file outcome.
type ExtractionResult struct {
	Pages    []PageText
	Duration time.Duration
	Warnings []string
}

// PageExtractor is the input collaborator: file -> ordered pages of raw
// text. Unreadable or corrupted files fail with an INPUT_UNREADABLE
// error; callers skip the document and continue the sweep.
type PageExtractor interface {
	ExtractPages(ctx context.Context, path string) (ExtractionResult, error)
}
