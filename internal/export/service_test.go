package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"strings"
	"testing"
	"time"

	"github.com/radfollowup/wrangler/constants"
	"github.com/radfollowup/wrangler/internal/entity"
	"github.com/radfollowup/wrangler/internal/store"
)

func seedStore(t *testing.T) *store.MemStore {
	t.Helper()
	st := store.NewMemStore(nil)
	due := time.Date(2026, time.July, 10, 0, 0, 0, 0, time.UTC)
	cands := []entity.ScoredCandidate{
		{
			PatientID:         "P1",
			BodyPart:          constants.PulmonaryNodule,
			Modality:          constants.ModalityCT,
			Finding:           "3mm pulmonary nodule in the right upper lobe",
			RecommendedAction: "follow-up CT chest",
			DueEarliest:       &due,
			DueLatest:         &due,
			Urgency:           constants.UrgencyRoutine,
			RiskScore:         0.485,
			Confidence:        0.85,
			Provenance:        entity.Provenance{SourceFile: "chest.pdf", Page: 2},
		},
		{
			PatientID:  "P2",
			BodyPart:   constants.Aorta,
			Modality:   constants.ModalityCT,
			Finding:    "aneurysmal dilation of the abdominal aorta",
			Urgency:    constants.UrgencyHigh,
			RiskScore:  0.74,
			Confidence: 0.9,
			Provenance: entity.Provenance{SourceFile: "abd.pdf", Page: 1},
		},
	}
	for _, c := range cands {
		if _, _, err := st.InsertOrMerge(context.Background(), c); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	return st
}

func TestExportCSVRoundTrip(t *testing.T) {
	st := seedStore(t)
	svc := NewService(st, nil)

	data, err := svc.ExportCSV(context.Background(), entity.TaskFilter{})
	if err != nil {
		t.Fatalf("export: %v", err)
	}

	r := csv.NewReader(bytes.NewReader(data))
	rows, err := r.ReadAll()
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want header + 2", len(rows))
	}
	for i, h := range Header {
		if rows[0][i] != h {
			t.Fatalf("header %d = %q, want %q", i, rows[0][i], h)
		}
	}

	col := func(name string) int {
		for i, h := range Header {
			if h == name {
				return i
			}
		}
		t.Fatalf("no column %q", name)
		return -1
	}

	first := rows[1]
	if first[col("patient_id")] != "P1" {
		t.Fatalf("patient = %q", first[col("patient_id")])
	}
	if first[col("body_part")] != string(constants.PulmonaryNodule) {
		t.Fatalf("body part = %q", first[col("body_part")])
	}
	if first[col("due_latest")] != "2026-07-10" {
		t.Fatalf("due latest = %q", first[col("due_latest")])
	}
	if first[col("urgency")] != string(constants.UrgencyRoutine) {
		t.Fatalf("urgency = %q", first[col("urgency")])
	}
	if first[col("risk_score")] != "0.4850" {
		t.Fatalf("risk = %q", first[col("risk_score")])
	}
	if first[col("status")] != string(constants.StatusOpen) {
		t.Fatalf("status = %q", first[col("status")])
	}
	if first[col("provenance_count")] != "1" || first[col("first_source")] != "chest.pdf:p2" {
		t.Fatalf("provenance cols = %q/%q", first[col("provenance_count")], first[col("first_source")])
	}

	// unspecified due dates export empty, not a zero time
	second := rows[2]
	if second[col("due_earliest")] != "" || second[col("due_latest")] != "" {
		t.Fatalf("unspecified due exported as %q/%q", second[col("due_earliest")], second[col("due_latest")])
	}
}

func TestExportXLSXProducesWorkbook(t *testing.T) {
	st := seedStore(t)
	svc := NewService(st, nil)
	data, err := svc.ExportXLSX(context.Background(), entity.TaskFilter{})
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	// xlsx is a zip container
	if len(data) < 4 || data[0] != 'P' || data[1] != 'K' {
		t.Fatalf("output does not look like an xlsx workbook (%d bytes)", len(data))
	}
}

func TestSummaryMarkdown(t *testing.T) {
	st := seedStore(t)
	tasks, err := st.List(context.Background(), entity.TaskFilter{PatientID: "P1"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	md := SummaryMarkdown("chest.pdf", tasks)
	if !strings.Contains(md, "chest.pdf") {
		t.Fatalf("summary missing source file:\n%s", md)
	}
	if !strings.Contains(md, "3mm pulmonary nodule") {
		t.Fatalf("summary missing finding:\n%s", md)
	}
	if !strings.Contains(md, "2026-07-10") {
		t.Fatalf("summary missing due date:\n%s", md)
	}
}

func TestDashboardStats(t *testing.T) {
	st := seedStore(t)
	svc := NewService(st, nil)
	stats, err := svc.Dashboard(context.Background())
	if err != nil {
		t.Fatalf("dashboard: %v", err)
	}
	if stats.TotalTasks != 2 {
		t.Fatalf("total = %d, want 2", stats.TotalTasks)
	}
	if stats.ByUrgency[string(constants.UrgencyHigh)] != 1 ||
		stats.ByUrgency[string(constants.UrgencyRoutine)] != 1 {
		t.Fatalf("by urgency = %+v", stats.ByUrgency)
	}
	if stats.ByStatus[string(constants.StatusOpen)] != 2 {
		t.Fatalf("by status = %+v", stats.ByStatus)
	}
}
