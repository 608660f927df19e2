// Package pipeline coordinates extraction, normalization/scoring and the
// merge into the task store for one document at a time.
package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/radfollowup/wrangler/internal/entity"
	"github.com/radfollowup/wrangler/internal/metrics"
	"github.com/radfollowup/wrangler/internal/store"
)

// Result is the per-document pipeline outcome.
type Result struct {
	DocumentID string
	TaskIDs    []uuid.UUID
	Merged     int
	Sections   []SectionOutcome
}

// Processor runs a normalized document through extraction, scoring and
// the store merge. Sections are extracted concurrently under a bounded
// limit, but nothing touches the store until every section has finished:
// task creation is atomic per document, and cancellation mid-extraction
// discards all partial candidates.
type Processor struct {
	Extract        *ExtractStage
	Score          *ScoreStage
	Store          store.Store
	Logger         *slog.Logger
	SectionWorkers int
}

func NewProcessor(extract *ExtractStage, score *ScoreStage, st store.Store, workers int, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	if workers <= 0 {
		workers = 4
	}
	return &Processor{
		Extract:        extract,
		Score:          score,
		Store:          st,
		Logger:         logger,
		SectionWorkers: workers,
	}
}

// ProcessDocument runs the full pipeline for one document.
func (p *Processor) ProcessDocument(ctx context.Context, doc *entity.Document) (Result, error) {
	start := time.Now()

	type slot struct {
		cands   []entity.CandidateFinding
		outcome SectionOutcome
	}
	slots := make([]slot, len(doc.Sections))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.SectionWorkers)
	for i, sec := range doc.Sections {
		g.Go(func() error {
			cands, outcome, err := p.Extract.Run(gctx, doc, sec)
			if err != nil {
				return err // only cancellation reaches here
			}
			slots[i] = slot{cands: cands, outcome: outcome}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		metrics.DocumentsProcessed.WithLabelValues("cancelled").Inc()
		p.Logger.Warn("processor.cancelled", "document_id", doc.ID, "error", err)
		return Result{DocumentID: doc.ID}, err
	}

	res := Result{DocumentID: doc.ID}
	var all []entity.CandidateFinding
	for _, sl := range slots {
		res.Sections = append(res.Sections, sl.outcome)
		metrics.SectionsExtracted.WithLabelValues(string(sl.outcome.Status)).Inc()
		all = append(all, sl.cands...)
	}
	metrics.CandidatesExtracted.Add(float64(len(all)))

	// all sections settled; merge is the only store-touching step
	seen := map[uuid.UUID]struct{}{}
	for _, c := range all {
		scored := p.Score.Score(c)
		id, merged, err := p.Store.InsertOrMerge(ctx, scored)
		if err != nil {
			return res, err
		}
		if merged {
			res.Merged++
			metrics.TasksUpserted.WithLabelValues("merged").Inc()
		} else {
			metrics.TasksUpserted.WithLabelValues("created").Inc()
		}
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			res.TaskIDs = append(res.TaskIDs, id)
		}
	}

	metrics.DocumentsProcessed.WithLabelValues("ok").Inc()
	metrics.DocumentSeconds.Observe(time.Since(start).Seconds())
	p.Logger.Info("processor.document.ok",
		"document_id", doc.ID,
		"patient_id", doc.PatientID,
		"sections", len(doc.Sections),
		"candidates", len(all),
		"tasks", len(res.TaskIDs),
		"merged", res.Merged,
		"low_confidence", doc.LowConfidence,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return res, nil
}
