package llm

import (
	"context"

	"github.com/radfollowup/wrangler/constants"
)

// FindingFields is the normalized shape we want from the model for one
// incidental finding or follow-up recommendation.
type FindingFields struct {
	PatientID           string  `json:"patient_id,omitempty"`
	ReportDate          string  `json:"report_date,omitempty"` // YYYY-MM-DD
	Modality            string  `json:"modality,omitempty"`    // CT|XR|MRI|US|NM|Other
	BodyPart            string  `json:"body_part"`
	Finding             string  `json:"finding"`                        // concise, <=180 chars
	RecommendedFollowup string  `json:"recommended_followup,omitempty"` // verbatim, omit if none
	Timeframe           string  `json:"timeframe,omitempty"`            // e.g. "3-6 months", "in 6 months"
	Priority            string  `json:"priority,omitempty"`             // high|medium|low
	Confidence          float64 `json:"confidence,omitempty"`           // 0..1
}

// ExtractRequest is one section-scoped extraction call.
type ExtractRequest struct {
	SectionKind constants.SectionKind
	SectionText string
	PatientID   string
	ReportDate  string // YYYY-MM-DD, empty if unknown
	SourceFile  string
}

// Extractor is the language-model collaborator the pipeline depends on.
// The raw response body is returned alongside the parsed findings for
// audit logging. Errors carry the retryable/fatal taxonomy via
// common.AppError codes.
type Extractor interface {
	ExtractFindings(ctx context.Context, req ExtractRequest) ([]FindingFields, []byte, error)
}

// Summarizer optionally phrases a natural-language summary over a
// structured result set. The query engine works without one.
type Summarizer interface {
	Summarize(ctx context.Context, question string, contextJSON []byte) (string, error)
}
