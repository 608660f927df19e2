package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib" // pgx database/sql driver
	_ "modernc.org/sqlite"             // cgo-free sqlite driver

	"github.com/radfollowup/wrangler/constants"
	"github.com/radfollowup/wrangler/internal/common"
	"github.com/radfollowup/wrangler/internal/entity"
)

// SQLStore persists tasks in sqlite or postgres. A postgres:// DSN selects
// pgx; anything else is treated as a sqlite path (":memory:" works).
// Dedup merge decisions run in Go under the same per-patient keyed lock
// as the in-memory store, inside a transaction.
type SQLStore struct {
	db           *sql.DB
	pg           bool
	patientLocks *keyedLocks
	seqMu        sync.Mutex // serializes MAX+1 seq allocation across patients
	log          *slog.Logger
}

const sqlSchema = `
CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	seq BIGINT NOT NULL,
	patient_id TEXT NOT NULL,
	body_part TEXT NOT NULL,
	modality TEXT NOT NULL,
	finding TEXT NOT NULL,
	recommended_action TEXT NOT NULL DEFAULT '',
	due_earliest TEXT,
	due_latest TEXT,
	urgency TEXT NOT NULL,
	risk_score DOUBLE PRECISION NOT NULL,
	status TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tasks_patient ON tasks (patient_id);
CREATE INDEX IF NOT EXISTS idx_tasks_urgency ON tasks (urgency);
CREATE TABLE IF NOT EXISTS task_provenance (
	task_id TEXT NOT NULL,
	ord INTEGER NOT NULL,
	document_id TEXT NOT NULL,
	source_file TEXT NOT NULL,
	page INTEGER NOT NULL,
	section_kind TEXT NOT NULL,
	raw_text TEXT NOT NULL,
	PRIMARY KEY (task_id, ord)
);
`

// OpenSQL opens the configured DSN, bootstraps the schema and verifies
// connectivity.
func OpenSQL(ctx context.Context, cfg common.StoreConfig, logger *slog.Logger) (*SQLStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dsn := cfg.DSN
	pg := strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
	driver := "sqlite"
	if pg {
		driver = "pgx"
	}
	dsn = strings.TrimPrefix(dsn, "sqlite:")

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", driver, err)
	}
	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(int(cfg.MaxConns))
	}
	if cfg.MaxConnLifetime > 0 {
		db.SetConnMaxLifetime(cfg.MaxConnLifetime)
	}
	// an in-memory sqlite database is connection-scoped
	if !pg && strings.Contains(dsn, ":memory:") {
		db.SetMaxOpenConns(1)
	}
	pingCtx := ctx
	if cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, cfg.DialTimeout)
		defer cancel()
	}
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s store: %w", driver, err)
	}
	for _, stmt := range strings.Split(sqlSchema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("bootstrap schema: %w", err)
		}
	}
	logger.Info("store.sql.open", "driver", driver)
	return &SQLStore{db: db, pg: pg, patientLocks: newKeyedLocks(), log: logger}, nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

// rebind converts ?-placeholders to $n for postgres.
func (s *SQLStore) rebind(q string) string {
	if !s.pg {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) InsertOrMerge(ctx context.Context, cand entity.ScoredCandidate) (uuid.UUID, bool, error) {
	unlock := s.patientLocks.lock(cand.PatientID)
	defer unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return uuid.Nil, false, err
	}
	defer func() { _ = tx.Rollback() }()

	existing, err := s.scanTasks(ctx, tx,
		`SELECT `+taskColumns+` FROM tasks WHERE patient_id = ? ORDER BY seq`, cand.PatientID)
	if err != nil {
		return uuid.Nil, false, err
	}

	for _, t := range existing {
		if !isDuplicate(t, cand) {
			continue
		}
		if err := s.loadProvenance(ctx, tx, t); err != nil {
			return uuid.Nil, false, err
		}
		mergeInto(t, cand)
		t.UpdatedAt = time.Now().UTC()
		if _, err := tx.ExecContext(ctx, s.rebind(
			`UPDATE tasks SET urgency = ?, risk_score = ?, due_earliest = ?, due_latest = ?,
			 recommended_action = ?, updated_at = ? WHERE id = ?`),
			string(t.Urgency), t.RiskScore, nullTime(t.DueEarliest), nullTime(t.DueLatest),
			t.RecommendedAction, t.UpdatedAt.Format(time.RFC3339Nano), t.ID.String()); err != nil {
			return uuid.Nil, false, err
		}
		if _, err := tx.ExecContext(ctx, s.rebind(
			`INSERT INTO task_provenance (task_id, ord, document_id, source_file, page, section_kind, raw_text)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`),
			t.ID.String(), len(t.Provenance)-1, cand.Provenance.DocumentID, cand.Provenance.SourceFile,
			cand.Provenance.Page, string(cand.Provenance.SectionKind), cand.Provenance.RawText); err != nil {
			return uuid.Nil, false, err
		}
		if err := tx.Commit(); err != nil {
			return uuid.Nil, false, err
		}
		return t.ID, true, nil
	}

	// seq is allocated as MAX+1, so the read and the committing insert
	// must stay under one lock even across different patients. A second
	// writer process against the same postgres database could still tie;
	// List breaks that tie by id.
	s.seqMu.Lock()
	defer s.seqMu.Unlock()

	var seq int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM tasks`).Scan(&seq); err != nil {
		return uuid.Nil, false, err
	}
	id := uuid.New()
	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, s.rebind(
		`INSERT INTO tasks (id, seq, patient_id, body_part, modality, finding, recommended_action,
		 due_earliest, due_latest, urgency, risk_score, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		id.String(), seq, cand.PatientID, string(cand.BodyPart), string(cand.Modality),
		cand.Finding, cand.RecommendedAction, nullTime(cand.DueEarliest), nullTime(cand.DueLatest),
		string(cand.Urgency), cand.RiskScore, string(constants.StatusOpen),
		now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano)); err != nil {
		return uuid.Nil, false, err
	}
	if _, err := tx.ExecContext(ctx, s.rebind(
		`INSERT INTO task_provenance (task_id, ord, document_id, source_file, page, section_kind, raw_text)
		 VALUES (?, 0, ?, ?, ?, ?, ?)`),
		id.String(), cand.Provenance.DocumentID, cand.Provenance.SourceFile,
		cand.Provenance.Page, string(cand.Provenance.SectionKind), cand.Provenance.RawText); err != nil {
		return uuid.Nil, false, err
	}
	if err := tx.Commit(); err != nil {
		return uuid.Nil, false, err
	}
	return id, false, nil
}

func (s *SQLStore) Get(ctx context.Context, id uuid.UUID) (*entity.Task, error) {
	tasks, err := s.scanTasks(ctx, s.db,
		`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id.String())
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, common.NewAppError(common.CodeStoreNotFound, "get "+id.String(), common.ErrNotFound)
	}
	if len(tasks) > 1 {
		return nil, common.NewAppError(common.CodeStoreCorrupt,
			fmt.Sprintf("duplicate rows for task %s", id), common.ErrStoreCorrupt)
	}
	if err := s.loadProvenance(ctx, s.db, tasks[0]); err != nil {
		return nil, err
	}
	return tasks[0], nil
}

func (s *SQLStore) List(ctx context.Context, filter entity.TaskFilter) ([]*entity.Task, error) {
	q := `SELECT ` + taskColumns + ` FROM tasks`
	var conds []string
	var args []any
	if filter.PatientID != "" {
		conds = append(conds, "patient_id = ?")
		args = append(args, filter.PatientID)
	}
	if filter.Urgency != "" {
		conds = append(conds, "urgency = ?")
		args = append(args, string(filter.Urgency))
	}
	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.DueBefore != nil {
		conds = append(conds, "due_earliest IS NOT NULL AND due_earliest <= ?")
		args = append(args, filter.DueBefore.Format(time.RFC3339Nano))
	}
	if filter.DueAfter != nil {
		conds = append(conds, "due_earliest IS NOT NULL AND due_earliest >= ?")
		args = append(args, filter.DueAfter.Format(time.RFC3339Nano))
	}
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY seq, id"

	tasks, err := s.scanTasks(ctx, s.db, q, args...)
	if err != nil {
		return nil, err
	}
	for _, t := range tasks {
		if err := s.loadProvenance(ctx, s.db, t); err != nil {
			return nil, err
		}
	}
	return tasks, nil
}

func (s *SQLStore) UpdateStatus(ctx context.Context, id uuid.UUID, status constants.TaskStatus) (*entity.Task, error) {
	unlock := s.patientLocks.lock("status:" + id.String())
	defer unlock()

	t, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !constants.ValidTransition(t.Status, status) {
		return nil, common.NewAppError(common.CodeStoreInvalidChange,
			fmt.Sprintf("update %s: %s -> %s", id, t.Status, status), common.ErrInvalidTransition)
	}
	t.Status = status
	t.UpdatedAt = time.Now().UTC()
	if _, err := s.db.ExecContext(ctx, s.rebind(
		`UPDATE tasks SET status = ?, updated_at = ? WHERE id = ?`),
		string(status), t.UpdatedAt.Format(time.RFC3339Nano), id.String()); err != nil {
		return nil, err
	}
	s.log.Info("store.status", "task_id", id, "status", status)
	return t, nil
}

const taskColumns = `id, seq, patient_id, body_part, modality, finding, recommended_action,
	due_earliest, due_latest, urgency, risk_score, status, created_at, updated_at`

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *SQLStore) scanTasks(ctx context.Context, q querier, query string, args ...any) ([]*entity.Task, error) {
	rows, err := q.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*entity.Task
	for rows.Next() {
		var (
			t                    entity.Task
			idS, bp, mod, urg    string
			status               string
			dueE, dueL           sql.NullString
			createdAt, updatedAt string
		)
		if err := rows.Scan(&idS, &t.Seq, &t.PatientID, &bp, &mod, &t.Finding, &t.RecommendedAction,
			&dueE, &dueL, &urg, &t.RiskScore, &status, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		t.ID, err = uuid.Parse(idS)
		if err != nil {
			return nil, common.NewAppError(common.CodeStoreCorrupt, "bad task id "+idS, err)
		}
		t.BodyPart = constants.BodyPart(bp)
		t.Modality = constants.Modality(mod)
		t.Urgency = constants.UrgencyClass(urg)
		t.Status = constants.TaskStatus(status)
		t.DueEarliest = parseNullTime(dueE)
		t.DueLatest = parseNullTime(dueL)
		t.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		t.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
		out = append(out, &t)
	}
	return out, rows.Err()
}

func (s *SQLStore) loadProvenance(ctx context.Context, q querier, t *entity.Task) error {
	rows, err := q.QueryContext(ctx, s.rebind(
		`SELECT document_id, source_file, page, section_kind, raw_text
		 FROM task_provenance WHERE task_id = ? ORDER BY ord`), t.ID.String())
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	t.Provenance = t.Provenance[:0]
	for rows.Next() {
		var p entity.Provenance
		var kind string
		if err := rows.Scan(&p.DocumentID, &p.SourceFile, &p.Page, &kind, &p.RawText); err != nil {
			return err
		}
		p.SectionKind = constants.SectionKind(kind)
		t.Provenance = append(t.Provenance, p)
	}
	return rows.Err()
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339Nano)
}

func parseNullTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, ns.String)
	if err != nil {
		return nil
	}
	return &t
}
