package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/radfollowup/wrangler/constants"
	"github.com/radfollowup/wrangler/internal/common"
	"github.com/radfollowup/wrangler/internal/entity"
	"github.com/radfollowup/wrangler/internal/llm"
)

// SectionStatus records the per-section extraction outcome.
type SectionStatus string

const (
	SectionOK     SectionStatus = "OK"
	SectionFailed SectionStatus = "EXTRACTION_FAILED"
	SectionEmpty  SectionStatus = "NO_FINDINGS"
)

// SectionOutcome is what the processor reports for each section. A failed
// section carries zero candidates; it never aborts the document.
type SectionOutcome struct {
	Kind       constants.SectionKind
	Status     SectionStatus
	Candidates int
	Error      string
}

// ExtractStage turns one section into candidate findings via the
// language-model collaborator. At most one call is in flight per section;
// the processor runs sections concurrently.
type ExtractStage struct {
	Extractor llm.Extractor
	Logger    *slog.Logger
}

func NewExtractStage(extractor llm.Extractor, logger *slog.Logger) *ExtractStage {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExtractStage{Extractor: extractor, Logger: logger}
}

// Run extracts candidates for a single section of doc. Collaborator
// failures (after the client's retry budget) are absorbed into a failed
// outcome; only context cancellation propagates as an error.
func (e *ExtractStage) Run(ctx context.Context, doc *entity.Document, sec entity.Section) ([]entity.CandidateFinding, SectionOutcome, error) {
	start := time.Now()
	req := llm.ExtractRequest{
		SectionKind: sec.Kind,
		SectionText: sec.Text(),
		PatientID:   doc.PatientID,
		SourceFile:  doc.SourceFile,
	}
	if doc.ReportDate != nil {
		req.ReportDate = doc.ReportDate.Format("2006-01-02")
	}

	fields, _, err := e.Extractor.ExtractFindings(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, SectionOutcome{}, ctx.Err()
		}
		e.Logger.Error("extract.section.failed",
			"document_id", doc.ID,
			"section", sec.Kind,
			"code", common.ErrorCode(err),
			"error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return nil, SectionOutcome{Kind: sec.Kind, Status: SectionFailed, Error: err.Error()}, nil
	}

	page := 0
	if len(sec.Sentences) > 0 {
		page = sec.Sentences[0].Page
	}
	cands := make([]entity.CandidateFinding, 0, len(fields))
	for _, f := range fields {
		c := entity.CandidateFinding{
			DocumentID:        doc.ID,
			PatientID:         doc.PatientID,
			SourceFile:        doc.SourceFile,
			Page:              page,
			SectionKind:       sec.Kind,
			RawText:           req.SectionText,
			BodyPart:          f.BodyPart,
			Modality:          f.Modality,
			Finding:           f.Finding,
			RecommendedAction: f.RecommendedFollowup,
			Timeframe:         f.Timeframe,
			Priority:          f.Priority,
			ReportDate:        doc.ReportDate,
			Confidence:        f.Confidence,
		}
		// the model may know the report date when the caller does not
		if c.ReportDate == nil && f.ReportDate != "" {
			if t, perr := time.Parse("2006-01-02", f.ReportDate); perr == nil {
				c.ReportDate = &t
			}
		}
		if doc.LowConfidence || f.Confidence <= llm.MinConfidenceSentinel {
			c.Coerced = true
		}
		cands = append(cands, c)
	}

	status := SectionOK
	if len(cands) == 0 {
		status = SectionEmpty
	}
	e.Logger.Info("extract.section.ok",
		"document_id", doc.ID,
		"section", sec.Kind,
		"candidates", len(cands),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return cands, SectionOutcome{Kind: sec.Kind, Status: status, Candidates: len(cands)}, nil
}
