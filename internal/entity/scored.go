package entity

import (
	"time"

	"github.com/radfollowup/wrangler/constants"
)

// ScoredCandidate is a candidate finding after vocabulary normalization
// and risk scoring: the exact shape the store's insert-or-merge consumes.
type ScoredCandidate struct {
	PatientID         string
	BodyPart          constants.BodyPart
	Modality          constants.Modality
	Finding           string
	RecommendedAction string
	DueEarliest       *time.Time
	DueLatest         *time.Time
	Urgency           constants.UrgencyClass
	RiskScore         float64
	Confidence        float64
	Provenance        Provenance
}
