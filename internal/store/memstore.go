package store

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/radfollowup/wrangler/constants"
	"github.com/radfollowup/wrangler/internal/common"
	"github.com/radfollowup/wrangler/internal/entity"
)

// MemStore is the in-process task store: an ordered task list plus
// secondary indexes by patient and urgency. Reads return deep copies, so
// they are consistent snapshots no later write can mutate.
type MemStore struct {
	mu        sync.RWMutex
	tasks     map[uuid.UUID]*entity.Task
	order     []uuid.UUID
	byPatient map[string][]uuid.UUID
	byUrgency map[constants.UrgencyClass][]uuid.UUID
	seq       int64

	patientLocks *keyedLocks
	log          *slog.Logger
}

func NewMemStore(logger *slog.Logger) *MemStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &MemStore{
		tasks:        make(map[uuid.UUID]*entity.Task),
		byPatient:    make(map[string][]uuid.UUID),
		byUrgency:    make(map[constants.UrgencyClass][]uuid.UUID),
		patientLocks: newKeyedLocks(),
		log:          logger,
	}
}

// InsertOrMerge implements Store. Candidates for the same patient are
// serialized by a per-patient lock, so concurrent documents cannot race
// two tasks into existence for one underlying finding.
func (s *MemStore) InsertOrMerge(ctx context.Context, cand entity.ScoredCandidate) (uuid.UUID, bool, error) {
	if err := ctx.Err(); err != nil {
		return uuid.Nil, false, err
	}
	unlock := s.patientLocks.lock(cand.PatientID)
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.byPatient[cand.PatientID] {
		t := s.tasks[id]
		if t == nil {
			return uuid.Nil, false, common.NewAppError(common.CodeStoreCorrupt,
				fmt.Sprintf("patient index references missing task %s", id), common.ErrStoreCorrupt)
		}
		if !isDuplicate(t, cand) {
			continue
		}
		prevUrgency := t.Urgency
		mergeInto(t, cand)
		t.UpdatedAt = time.Now().UTC()
		if t.Urgency != prevUrgency {
			s.reindexUrgency(t.ID, prevUrgency, t.Urgency)
		}
		s.log.Debug("store.merge",
			"task_id", t.ID, "patient_id", cand.PatientID,
			"provenance", len(t.Provenance), "urgency", t.Urgency)
		return t.ID, true, nil
	}

	now := time.Now().UTC()
	s.seq++
	t := &entity.Task{
		ID:                uuid.New(),
		PatientID:         cand.PatientID,
		BodyPart:          cand.BodyPart,
		Modality:          cand.Modality,
		Finding:           cand.Finding,
		RecommendedAction: cand.RecommendedAction,
		DueEarliest:       cand.DueEarliest,
		DueLatest:         cand.DueLatest,
		Urgency:           cand.Urgency,
		RiskScore:         cand.RiskScore,
		Status:            constants.StatusOpen,
		Provenance:        []entity.Provenance{cand.Provenance},
		Seq:               s.seq,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if _, exists := s.tasks[t.ID]; exists {
		// two tasks physically overlapping one id is the only condition
		// fatal to the whole run
		return uuid.Nil, false, common.NewAppError(common.CodeStoreCorrupt,
			fmt.Sprintf("task id collision %s", t.ID), common.ErrStoreCorrupt)
	}
	s.tasks[t.ID] = t
	s.order = append(s.order, t.ID)
	s.byPatient[t.PatientID] = append(s.byPatient[t.PatientID], t.ID)
	s.byUrgency[t.Urgency] = append(s.byUrgency[t.Urgency], t.ID)

	s.log.Debug("store.insert",
		"task_id", t.ID, "patient_id", t.PatientID,
		"body_part", t.BodyPart, "urgency", t.Urgency)
	return t.ID, false, nil
}

func (s *MemStore) Get(ctx context.Context, id uuid.UUID) (*entity.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, common.NewAppError(common.CodeStoreNotFound, "get "+id.String(), common.ErrNotFound)
	}
	return t.Clone(), nil
}

func (s *MemStore) List(ctx context.Context, filter entity.TaskFilter) ([]*entity.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	// walk the narrowest index available, preserving insertion order
	ids := s.order
	if filter.PatientID != "" {
		ids = s.byPatient[filter.PatientID]
	} else if filter.Urgency != "" {
		ids = s.byUrgency[filter.Urgency]
	}

	out := []*entity.Task{}
	for _, id := range ids {
		t := s.tasks[id]
		if t != nil && filter.Matches(t) {
			out = append(out, t.Clone())
		}
	}
	// urgency reindexing on merge can disturb index order; listing stays
	// stable by insertion sequence regardless of which index was walked
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (s *MemStore) UpdateStatus(ctx context.Context, id uuid.UUID, status constants.TaskStatus) (*entity.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, common.NewAppError(common.CodeStoreNotFound, "update "+id.String(), common.ErrNotFound)
	}
	if !constants.ValidTransition(t.Status, status) {
		return nil, common.NewAppError(common.CodeStoreInvalidChange,
			fmt.Sprintf("update %s: %s -> %s", id, t.Status, status), common.ErrInvalidTransition)
	}
	t.Status = status
	t.UpdatedAt = time.Now().UTC()
	s.log.Info("store.status", "task_id", id, "status", status)
	return t.Clone(), nil
}

func (s *MemStore) reindexUrgency(id uuid.UUID, from, to constants.UrgencyClass) {
	prev := s.byUrgency[from]
	for i, x := range prev {
		if x == id {
			s.byUrgency[from] = append(prev[:i], prev[i+1:]...)
			break
		}
	}
	s.byUrgency[to] = append(s.byUrgency[to], id)
}
