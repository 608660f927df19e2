package pipeline

import (
	"log/slog"
	"strings"

	"github.com/radfollowup/wrangler/constants"
	"github.com/radfollowup/wrangler/internal/entity"
)

// ScoreStage maps candidate findings onto the controlled vocabulary,
// resolves due intervals, derives the urgency class and computes the risk
// score.
type ScoreStage struct {
	Logger *slog.Logger
}

func NewScoreStage(logger *slog.Logger) *ScoreStage {
	if logger == nil {
		logger = slog.Default()
	}
	return &ScoreStage{Logger: logger}
}

// Urgency rule table. Consulted in this fixed order; the first matching
// rule wins. Keep the order documented here in sync with the checks in
// deriveUrgency:
//
//	1. explicit clinical urgency language         -> Critical
//	2. high-risk finding keyword                  -> High
//	3. high-risk body-part category               -> High
//	4. follow-up recommended with a timeframe     -> Routine
//	5. "incidental" language or no recommendation -> IncidentalLow
//	default                                       -> Routine
var (
	criticalLanguage = []string{"stat", "urgent", "immediate", "asap", "emergent", "critical", "concerning"}
	highRiskKeywords = []string{"mass", "malignan", "aneurysm", "embol", "hemorrhage", "suspicious", "metasta"}
)

// Score normalizes one candidate into the shape the store merges.
// Findings are never dropped here: an unmatchable body part lands in
// Uncategorized and an unparseable timeframe leaves the due window
// unspecified.
func (s *ScoreStage) Score(c entity.CandidateFinding) entity.ScoredCandidate {
	bodyPart, similarity := constants.CanonicalizeBodyPart(c.BodyPart)
	if bodyPart == constants.Uncategorized && c.BodyPart != "" {
		s.Logger.Warn("score.body_part.uncategorized",
			"label", c.BodyPart, "similarity", similarity)
	}

	interval := ResolveInterval(c.Timeframe, c.ReportDate)
	urgency := s.deriveUrgency(c, bodyPart)

	confidence := clamp01(c.Confidence)
	// low-confidence extractions never stay Critical (self-check rule)
	if confidence < 0.5 && urgency == constants.UrgencyCritical {
		urgency = constants.UrgencyHigh
	}

	risk := RiskScore(urgency, confidence)

	return entity.ScoredCandidate{
		PatientID:         c.PatientID,
		BodyPart:          bodyPart,
		Modality:          constants.CanonicalizeModality(c.Modality),
		Finding:           strings.TrimSpace(c.Finding),
		RecommendedAction: strings.TrimSpace(c.RecommendedAction),
		DueEarliest:       interval.Earliest,
		DueLatest:         interval.Latest,
		Urgency:           urgency,
		RiskScore:         risk,
		Confidence:        confidence,
		Provenance: entity.Provenance{
			DocumentID:  c.DocumentID,
			SourceFile:  c.SourceFile,
			Page:        c.Page,
			SectionKind: c.SectionKind,
			RawText:     c.RawText,
		},
	}
}

func (s *ScoreStage) deriveUrgency(c entity.CandidateFinding, bodyPart constants.BodyPart) constants.UrgencyClass {
	text := strings.ToLower(c.Finding + " " + c.RecommendedAction + " " + c.RawText)

	for _, w := range criticalLanguage {
		if strings.Contains(text, w) {
			return constants.UrgencyCritical
		}
	}
	finding := strings.ToLower(c.Finding)
	for _, w := range highRiskKeywords {
		if strings.Contains(finding, w) {
			return constants.UrgencyHigh
		}
	}
	if constants.IsHighRiskBodyPart(bodyPart) {
		return constants.UrgencyHigh
	}
	if c.RecommendedAction != "" && c.Timeframe != "" {
		return constants.UrgencyRoutine
	}
	if c.RecommendedAction == "" || strings.Contains(text, "incidental") {
		return constants.UrgencyIncidentalLow
	}
	return constants.UrgencyRoutine
}

// RiskScore is the base score for the urgency class, linearly adjusted by
// the contributing confidence and clamped to [0,1]. The adjustment span
// (±0.05) is smaller than any gap between base scores, so the score stays
// strictly increasing with urgency at fixed confidence.
func RiskScore(u constants.UrgencyClass, confidence float64) float64 {
	return clamp01(constants.UrgencyBaseScore(u) + 0.1*(clamp01(confidence)-0.5))
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
