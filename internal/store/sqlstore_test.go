package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/radfollowup/wrangler/constants"
	"github.com/radfollowup/wrangler/internal/common"
	"github.com/radfollowup/wrangler/internal/entity"
)

func openTestSQL(t *testing.T) *SQLStore {
	t.Helper()
	s, err := OpenSQL(context.Background(), common.StoreConfig{DSN: "sqlite::memory:"}, nil)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenSQLAppliesPoolConfig(t *testing.T) {
	cfg := common.StoreConfig{
		DSN:             "sqlite:" + t.TempDir() + "/tasks.db",
		MaxConns:        5,
		MaxConnLifetime: time.Minute,
		DialTimeout:     time.Second,
	}
	s, err := OpenSQL(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	if got := s.db.Stats().MaxOpenConnections; got != 5 {
		t.Fatalf("max open conns = %d, want 5", got)
	}
}

func TestSQLConcurrentInsertsAssignDistinctSeqs(t *testing.T) {
	s := openTestSQL(t)
	ctx := context.Background()

	patients := []string{"P1", "P2", "P3", "P4", "P5"}
	var wg sync.WaitGroup
	errs := make([]error, len(patients))
	for i, p := range patients {
		wg.Add(1)
		go func(i int, p string) {
			defer wg.Done()
			_, _, errs[i] = s.InsertOrMerge(ctx, candidate(p, constants.Liver, "hepatic lesion "+p))
		}(i, p)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	got, err := s.List(ctx, entity.TaskFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	seen := map[int64]bool{}
	for _, task := range got {
		if seen[task.Seq] {
			t.Fatalf("seq %d assigned twice", task.Seq)
		}
		seen[task.Seq] = true
	}
	for want := int64(1); want <= int64(len(patients)); want++ {
		if !seen[want] {
			t.Fatalf("seq %d missing, got %v", want, got)
		}
	}
}

func TestSQLInsertGetRoundTrip(t *testing.T) {
	s := openTestSQL(t)
	ctx := context.Background()

	due := time.Date(2026, time.July, 10, 0, 0, 0, 0, time.UTC)
	c := candidate("P1", constants.PulmonaryNodule, "3mm nodule right upper lobe")
	c.DueEarliest, c.DueLatest = &due, &due

	id, merged, err := s.InsertOrMerge(ctx, c)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if merged {
		t.Fatal("first insert reported merged")
	}

	task, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if task.PatientID != "P1" || task.BodyPart != constants.PulmonaryNodule {
		t.Fatalf("task = %+v", task)
	}
	if task.DueEarliest == nil || !task.DueEarliest.Equal(due) {
		t.Fatalf("due earliest = %v, want %v", task.DueEarliest, due)
	}
	if task.Status != constants.StatusOpen {
		t.Fatalf("status = %s, want %s", task.Status, constants.StatusOpen)
	}
	if len(task.Provenance) != 1 || task.Provenance[0].SourceFile != "report.pdf" {
		t.Fatalf("provenance = %+v", task.Provenance)
	}
}

func TestSQLMerge(t *testing.T) {
	s := openTestSQL(t)
	ctx := context.Background()

	id1, _, err := s.InsertOrMerge(ctx, candidate("P1", constants.Liver, "hypodense hepatic lesion"))
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	c2 := candidate("P1", constants.Liver, "hypodense hepatic lesion.")
	c2.Urgency = constants.UrgencyHigh
	c2.RiskScore = 0.74
	id2, merged, err := s.InsertOrMerge(ctx, c2)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if !merged || id2 != id1 {
		t.Fatalf("merged=%v id=%s, want merge into %s", merged, id2, id1)
	}

	task, err := s.Get(ctx, id1)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(task.Provenance) != 2 {
		t.Fatalf("provenance = %d, want 2", len(task.Provenance))
	}
	if task.Urgency != constants.UrgencyHigh || task.RiskScore != 0.74 {
		t.Fatalf("merge did not keep higher urgency/risk: %+v", task)
	}
}

func TestSQLListFilters(t *testing.T) {
	s := openTestSQL(t)
	ctx := context.Background()

	due := time.Date(2026, time.April, 1, 0, 0, 0, 0, time.UTC)
	c1 := candidate("P1", constants.Liver, "hepatic lesion")
	c1.Urgency = constants.UrgencyHigh
	c1.DueEarliest = &due
	if _, _, err := s.InsertOrMerge(ctx, c1); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, _, err := s.InsertOrMerge(ctx, candidate("P2", constants.Brain, "white matter change")); err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, err := s.List(ctx, entity.TaskFilter{PatientID: "P1"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || got[0].PatientID != "P1" {
		t.Fatalf("patient filter got %d", len(got))
	}

	got, err = s.List(ctx, entity.TaskFilter{Urgency: constants.UrgencyHigh})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("urgency filter got %d", len(got))
	}

	cutoff := time.Date(2026, time.May, 1, 0, 0, 0, 0, time.UTC)
	got, err = s.List(ctx, entity.TaskFilter{DueBefore: &cutoff})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || got[0].PatientID != "P1" {
		t.Fatalf("due filter got %d", len(got))
	}

	got, err = s.List(ctx, entity.TaskFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 || got[0].Seq >= got[1].Seq {
		t.Fatalf("unfiltered list = %d rows, want 2 in seq order", len(got))
	}
}

func TestSQLUpdateStatus(t *testing.T) {
	s := openTestSQL(t)
	ctx := context.Background()

	id, _, err := s.InsertOrMerge(ctx, candidate("P1", constants.Thyroid, "thyroid nodule"))
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := s.UpdateStatus(ctx, id, constants.StatusAcknowledged); err != nil {
		t.Fatalf("open -> acknowledged: %v", err)
	}
	if _, err := s.UpdateStatus(ctx, id, constants.StatusClosed); err != nil {
		t.Fatalf("acknowledged -> closed: %v", err)
	}
	if _, err := s.UpdateStatus(ctx, id, constants.StatusOpen); !errors.Is(err, common.ErrInvalidTransition) {
		t.Fatalf("closed -> open err = %v, want ErrInvalidTransition", err)
	}
	task, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if task.Status != constants.StatusClosed {
		t.Fatalf("status = %s after rejected transition, want %s", task.Status, constants.StatusClosed)
	}

	if _, err := s.UpdateStatus(ctx, uuid.New(), constants.StatusClosed); !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("unknown id err = %v, want ErrNotFound", err)
	}
}
