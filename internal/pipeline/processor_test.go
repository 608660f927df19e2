package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/radfollowup/wrangler/constants"
	"github.com/radfollowup/wrangler/internal/common"
	"github.com/radfollowup/wrangler/internal/entity"
	"github.com/radfollowup/wrangler/internal/llm"
	"github.com/radfollowup/wrangler/internal/store"
)

// fakeExtractor routes each request by section kind.
type fakeExtractor struct {
	bySection map[constants.SectionKind]func(llm.ExtractRequest) ([]llm.FindingFields, error)
}

func (f *fakeExtractor) ExtractFindings(ctx context.Context, req llm.ExtractRequest) ([]llm.FindingFields, []byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	fn, ok := f.bySection[req.SectionKind]
	if !ok {
		return nil, nil, nil
	}
	items, err := fn(req)
	return items, nil, err
}

func testDocument(reportDate *time.Time) *entity.Document {
	return &entity.Document{
		ID:         "doc-1",
		PatientID:  "P123",
		SourceFile: "report.pdf",
		ReportDate: reportDate,
		Sections: []entity.Section{
			{Kind: constants.SectionFindings, Sentences: []entity.Sentence{
				{Text: "3mm pulmonary nodule in the right upper lobe.", Page: 1, Line: 4},
			}},
			{Kind: constants.SectionImpression, Sentences: []entity.Sentence{
				{Text: "Pulmonary nodule as above.", Page: 2, Line: 1},
			}},
			{Kind: constants.SectionRecommendations, Sentences: []entity.Sentence{
				{Text: "Follow-up CT chest in 6 months.", Page: 2, Line: 3},
			}},
		},
	}
}

func noduleFields(timeframe string) []llm.FindingFields {
	return []llm.FindingFields{{
		BodyPart:            "pulmonary nodule",
		Modality:            "CT",
		Finding:             "3mm pulmonary nodule in the right upper lobe",
		RecommendedFollowup: "follow-up CT chest",
		Timeframe:           timeframe,
		Priority:            "medium",
		Confidence:          0.85,
	}}
}

func TestProcessDocumentDeduplicatesAcrossSections(t *testing.T) {
	report := time.Date(2026, time.January, 10, 0, 0, 0, 0, time.UTC)
	ex := &fakeExtractor{bySection: map[constants.SectionKind]func(llm.ExtractRequest) ([]llm.FindingFields, error){
		constants.SectionFindings: func(llm.ExtractRequest) ([]llm.FindingFields, error) {
			return noduleFields(""), nil
		},
		constants.SectionRecommendations: func(llm.ExtractRequest) ([]llm.FindingFields, error) {
			return noduleFields("in 6 months"), nil
		},
	}}
	st := store.NewMemStore(nil)
	p := NewProcessor(NewExtractStage(ex, nil), NewScoreStage(nil), st, 2, nil)

	res, err := p.ProcessDocument(context.Background(), testDocument(&report))
	if err != nil {
		t.Fatalf("ProcessDocument: %v", err)
	}
	if len(res.TaskIDs) != 1 {
		t.Fatalf("got %d tasks, want 1 after dedup", len(res.TaskIDs))
	}
	if res.Merged != 1 {
		t.Fatalf("merged = %d, want 1", res.Merged)
	}

	task, err := st.Get(context.Background(), res.TaskIDs[0])
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(task.Provenance) != 2 {
		t.Fatalf("provenance entries = %d, want 2", len(task.Provenance))
	}
	if task.BodyPart != constants.PulmonaryNodule {
		t.Fatalf("body part = %s, want %s", task.BodyPart, constants.PulmonaryNodule)
	}
	if task.DueLatest == nil {
		t.Fatal("expected a due date from the recommendations section")
	}
}

func TestProcessDocumentSectionFailureDoesNotAbort(t *testing.T) {
	report := time.Date(2026, time.January, 10, 0, 0, 0, 0, time.UTC)
	ex := &fakeExtractor{bySection: map[constants.SectionKind]func(llm.ExtractRequest) ([]llm.FindingFields, error){
		constants.SectionFindings: func(llm.ExtractRequest) ([]llm.FindingFields, error) {
			return nil, common.NewAppError(common.CodeExtractionFatal, "no JSON array in response", nil)
		},
		constants.SectionRecommendations: func(llm.ExtractRequest) ([]llm.FindingFields, error) {
			return noduleFields("in 6 months"), nil
		},
	}}
	st := store.NewMemStore(nil)
	p := NewProcessor(NewExtractStage(ex, nil), NewScoreStage(nil), st, 2, nil)

	res, err := p.ProcessDocument(context.Background(), testDocument(&report))
	if err != nil {
		t.Fatalf("ProcessDocument: %v", err)
	}
	if len(res.TaskIDs) != 1 {
		t.Fatalf("got %d tasks, want 1 from the surviving section", len(res.TaskIDs))
	}

	var failed, ok, empty int
	for _, sec := range res.Sections {
		switch sec.Status {
		case SectionFailed:
			failed++
			if !strings.Contains(sec.Error, "EXTRACTION_FATAL") {
				t.Fatalf("failed section error %q missing taxonomy code", sec.Error)
			}
		case SectionOK:
			ok++
		case SectionEmpty:
			empty++
		}
	}
	if failed != 1 || ok != 1 || empty != 1 {
		t.Fatalf("section statuses failed/ok/empty = %d/%d/%d, want 1/1/1", failed, ok, empty)
	}
}

func TestProcessDocumentCancellationWritesNothing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ex := &fakeExtractor{bySection: map[constants.SectionKind]func(llm.ExtractRequest) ([]llm.FindingFields, error){
		constants.SectionFindings: func(llm.ExtractRequest) ([]llm.FindingFields, error) {
			cancel()
			return nil, context.Canceled
		},
		constants.SectionRecommendations: func(llm.ExtractRequest) ([]llm.FindingFields, error) {
			return noduleFields("in 6 months"), nil
		},
	}}
	st := store.NewMemStore(nil)
	p := NewProcessor(NewExtractStage(ex, nil), NewScoreStage(nil), st, 1, nil)

	_, err := p.ProcessDocument(ctx, testDocument(nil))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	tasks, lerr := st.List(context.Background(), entity.TaskFilter{})
	if lerr != nil {
		t.Fatalf("List: %v", lerr)
	}
	if len(tasks) != 0 {
		t.Fatalf("store has %d tasks after cancellation, want 0", len(tasks))
	}
}
