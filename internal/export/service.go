// Package export renders the task store into flat tabular formats for
// downstream dashboard/CSV collaborators, plus per-document markdown
// summaries. Exports are lossy by design: provenance is flattened to a
// count and a source reference, not round-tripped.
package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/radfollowup/wrangler/internal/entity"
	"github.com/radfollowup/wrangler/internal/store"
)

// Service is a thin façade over the store that produces export bytes.
type Service struct {
	store  store.Store
	logger *slog.Logger
}

func NewService(st store.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: st, logger: logger}
}

// Header is the flat export column set: every task attribute except
// provenance, which is exported as a count plus first-source reference.
var Header = []string{
	"task_id",
	"patient_id",
	"body_part",
	"modality",
	"finding",
	"recommended_action",
	"due_earliest",
	"due_latest",
	"urgency",
	"risk_score",
	"status",
	"provenance_count",
	"first_source",
}

// Row flattens one task into the export column order.
func Row(t *entity.Task) []string {
	firstSource := ""
	if len(t.Provenance) > 0 {
		p := t.Provenance[0]
		firstSource = fmt.Sprintf("%s:p%d", p.SourceFile, p.Page)
	}
	return []string{
		t.ID.String(),
		t.PatientID,
		string(t.BodyPart),
		string(t.Modality),
		t.Finding,
		t.RecommendedAction,
		formatDate(t.DueEarliest),
		formatDate(t.DueLatest),
		string(t.Urgency),
		strconv.FormatFloat(t.RiskScore, 'f', 4, 64),
		string(t.Status),
		strconv.Itoa(len(t.Provenance)),
		firstSource,
	}
}

// ExportCSV writes all tasks matching the filter as CSV bytes.
func (s *Service) ExportCSV(ctx context.Context, filter entity.TaskFilter) ([]byte, error) {
	tasks, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(Header); err != nil {
		return nil, err
	}
	for _, t := range tasks {
		if err := w.Write(Row(t)); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	s.logger.Info("export.csv.ok", "rows", len(tasks))
	return buf.Bytes(), nil
}

// ExportXLSX returns an XLSX workbook for the same flat layout.
func (s *Service) ExportXLSX(ctx context.Context, filter entity.TaskFilter) ([]byte, error) {
	start := time.Now()
	tasks, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}

	f := excelize.NewFile()
	const sheet = "Tasks"
	if index, _ := f.GetSheetIndex(sheet); index == -1 {
		if _, err := f.NewSheet(sheet); err != nil {
			return nil, err
		}
	}
	activeIndex, _ := f.GetSheetIndex(sheet)
	f.SetActiveSheet(activeIndex)

	for i, h := range Header {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}
	for rowIdx, t := range tasks {
		for colIdx, v := range Row(t) {
			cell, _ := excelize.CoordinatesToCellName(colIdx+1, rowIdx+2)
			_ = f.SetCellValue(sheet, cell, v)
		}
	}
	_ = f.SetColWidth(sheet, "A", "B", 24)
	_ = f.SetColWidth(sheet, "E", "F", 48)
	_ = f.SetColWidth(sheet, "G", "H", 14)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	s.logger.Info("export.xlsx.ok",
		"rows", len(tasks),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

func formatDate(t *time.Time) string {
	if t == nil {
		return "" // unspecified
	}
	return t.Format("2006-01-02")
}
