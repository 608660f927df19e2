package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/radfollowup/wrangler/constants"
)

// Provenance records one contributing finding: which document, section and
// raw text span justified the task. A task's provenance is never empty.
type Provenance struct {
	DocumentID  string                `json:"document_id"`
	SourceFile  string                `json:"source_file"`
	Page        int                   `json:"page"`
	SectionKind constants.SectionKind `json:"section_kind"`
	RawText     string                `json:"raw_text"`
}

// Task is the canonical unit of follow-up work. Tasks are owned by the
// store; after commit only the store's update operation may change them.
type Task struct {
	ID                uuid.UUID              `json:"id"`
	PatientID         string                 `json:"patient_id"`
	BodyPart          constants.BodyPart     `json:"body_part"`
	Modality          constants.Modality     `json:"modality"`
	Finding           string                 `json:"finding"`
	RecommendedAction string                 `json:"recommended_action"`
	DueEarliest       *time.Time             `json:"due_earliest,omitempty"` // nil = unspecified
	DueLatest         *time.Time             `json:"due_latest,omitempty"`
	Urgency           constants.UrgencyClass `json:"urgency"`
	RiskScore         float64                `json:"risk_score"` // [0,1]
	Status            constants.TaskStatus   `json:"status"`
	Provenance        []Provenance           `json:"provenance"`
	Seq               int64                  `json:"seq"` // insertion order, stable listing
	CreatedAt         time.Time              `json:"created_at"`
	UpdatedAt         time.Time              `json:"updated_at"`
}

// Clone returns a deep copy so store snapshots cannot be mutated by
// readers.
func (t *Task) Clone() *Task {
	cp := *t
	cp.Provenance = make([]Provenance, len(t.Provenance))
	copy(cp.Provenance, t.Provenance)
	if t.DueEarliest != nil {
		d := *t.DueEarliest
		cp.DueEarliest = &d
	}
	if t.DueLatest != nil {
		d := *t.DueLatest
		cp.DueLatest = &d
	}
	return &cp
}

// TaskFilter narrows List results. Zero values mean "no constraint".
type TaskFilter struct {
	PatientID string
	Urgency   constants.UrgencyClass
	Status    constants.TaskStatus
	DueBefore *time.Time
	DueAfter  *time.Time
}

// Matches reports whether the task satisfies every set constraint. Due
// windows compare against DueEarliest; tasks with an unspecified due date
// never match a date-bounded filter.
func (f TaskFilter) Matches(t *Task) bool {
	if f.PatientID != "" && t.PatientID != f.PatientID {
		return false
	}
	if f.Urgency != "" && t.Urgency != f.Urgency {
		return false
	}
	if f.Status != "" && t.Status != f.Status {
		return false
	}
	if f.DueBefore != nil || f.DueAfter != nil {
		if t.DueEarliest == nil {
			return false
		}
		if f.DueBefore != nil && t.DueEarliest.After(*f.DueBefore) {
			return false
		}
		if f.DueAfter != nil && t.DueEarliest.Before(*f.DueAfter) {
			return false
		}
	}
	return true
}
