// Package store owns the system of record for follow-up tasks: the
// deduplicating insert-or-merge operation, the status state machine and
// the list/get read surface.
package store

import (
	"context"
	"strings"
	"sync"

	"github.com/agext/levenshtein"
	"github.com/google/uuid"

	"github.com/radfollowup/wrangler/constants"
	"github.com/radfollowup/wrangler/internal/entity"
)

// MinFindingSimilarity is the dedup threshold: a candidate merges into an
// existing task for the same patient and body part when the normalized
// finding descriptions are at least this similar.
const MinFindingSimilarity = 0.80

// Store is the task store every component receives explicitly; there is
// no process-wide singleton.
type Store interface {
	// InsertOrMerge either creates a new task for the candidate or merges
	// it into an existing task for the same patient. Calls for the same
	// patient are serialized per key; merged reports whether an existing
	// task absorbed the candidate.
	InsertOrMerge(ctx context.Context, cand entity.ScoredCandidate) (id uuid.UUID, merged bool, err error)
	Get(ctx context.Context, id uuid.UUID) (*entity.Task, error)
	// List returns matching tasks in insertion order.
	List(ctx context.Context, filter entity.TaskFilter) ([]*entity.Task, error)
	// UpdateStatus applies a status transition, failing with
	// common.ErrNotFound or common.ErrInvalidTransition.
	UpdateStatus(ctx context.Context, id uuid.UUID, status constants.TaskStatus) (*entity.Task, error)
}

// keyedLocks serializes insert-or-merge per patient id without a global
// lock.
type keyedLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{locks: make(map[string]*sync.Mutex)}
}

func (k *keyedLocks) lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()
	m.Lock()
	return m.Unlock
}

// FindingSimilarity compares two finding descriptions after light
// normalization.
func FindingSimilarity(a, b string) float64 {
	return levenshtein.Match(normalizeFinding(a), normalizeFinding(b), nil)
}

func normalizeFinding(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.Join(strings.Fields(s), " ")
}

// mergeInto folds a candidate into an existing task: provenance appended,
// the higher urgency and risk kept, the earliest due bounds kept.
func mergeInto(t *entity.Task, cand entity.ScoredCandidate) {
	t.Provenance = append(t.Provenance, cand.Provenance)
	if constants.UrgencyRank(cand.Urgency) > constants.UrgencyRank(t.Urgency) {
		t.Urgency = cand.Urgency
	}
	if cand.RiskScore > t.RiskScore {
		t.RiskScore = cand.RiskScore
	}
	if cand.DueEarliest != nil && (t.DueEarliest == nil || cand.DueEarliest.Before(*t.DueEarliest)) {
		d := *cand.DueEarliest
		t.DueEarliest = &d
	}
	if cand.DueLatest != nil && (t.DueLatest == nil || cand.DueLatest.Before(*t.DueLatest)) {
		d := *cand.DueLatest
		t.DueLatest = &d
	}
	if t.RecommendedAction == "" {
		t.RecommendedAction = cand.RecommendedAction
	}
}

// isDuplicate applies the match key: same patient (guaranteed by the
// caller's keyed lock scope), same canonical body part, similar finding.
// Closed tasks never absorb new candidates; a recurring finding opens a
// fresh task.
func isDuplicate(t *entity.Task, cand entity.ScoredCandidate) bool {
	if t.Status == constants.StatusClosed {
		return false
	}
	if t.BodyPart != cand.BodyPart {
		return false
	}
	return FindingSimilarity(t.Finding, cand.Finding) >= MinFindingSimilarity
}
