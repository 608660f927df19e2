package entity

import (
	"time"

	"github.com/radfollowup/wrangler/constants"
)

// Sentence is one sentence of report text with page/line provenance.
type Sentence struct {
	Text string `json:"text"`
	Page int    `json:"page"`
	Line int    `json:"line"`
}

// Section is a contiguous run of sentences under one recognized header.
type Section struct {
	Kind      constants.SectionKind `json:"kind"`
	Sentences []Sentence            `json:"sentences"`
}

// Text joins the section's sentences back into a single block for
// prompting.
func (s Section) Text() string {
	if len(s.Sentences) == 0 {
		return ""
	}
	out := s.Sentences[0].Text
	for _, sn := range s.Sentences[1:] {
		out += " " + sn.Text
	}
	return out
}

// Document is the canonical normalized representation of one report.
// Immutable once produced by the normalizer.
type Document struct {
	ID         string     `json:"id"`
	PatientID  string     `json:"patient_id"` // opaque, never interpreted
	SourceFile string     `json:"source_file"`
	ReportDate *time.Time `json:"report_date,omitempty"`
	Sections   []Section  `json:"sections"`

	// LowConfidence marks documents where no section headers were
	// recognized and everything fell into a single Other section.
	LowConfidence bool `json:"low_confidence"`
}

// CandidateFinding is the ephemeral record produced by the extraction
// engine for one finding, before vocabulary normalization and scoring.
type CandidateFinding struct {
	DocumentID  string
	PatientID   string
	SourceFile  string
	Page        int
	SectionKind constants.SectionKind
	RawText     string // the section text span the model extracted from

	BodyPart          string // free text, canonicalized by the scorer
	Modality          string
	Finding           string
	RecommendedAction string // empty when the report suggests none
	Timeframe         string // e.g. "in 6 months", "3-6 months", empty
	Priority          string // model's high|medium|low self-estimate
	ReportDate        *time.Time
	Confidence        float64 // [0,1]; sentinel-coerced when absent

	// Coerced marks candidates whose fields needed sentinel substitution
	// during validation; they are treated as low-confidence downstream.
	Coerced bool
}
