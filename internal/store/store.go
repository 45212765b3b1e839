// Package store persists analysis reports in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/mickamy/pgdiag/internal/report"
	"github.com/mickamy/pgdiag/internal/rule"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned by Get for an unknown report id.
var ErrNotFound = errors.New("store: report not found")

// Kind tells which report type a payload holds.
type Kind string

const (
	KindStatements Kind = "statements"
	KindPlan       Kind = "plan"
)

// Record is one stored report. List leaves Payload empty.
type Record struct {
	ID          uuid.UUID       `json:"id"`
	Kind        Kind            `json:"kind"`
	GeneratedAt time.Time       `json:"generated_at"`
	Severity    rule.Severity   `json:"severity"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// Statements decodes the payload of a KindStatements record.
func (r Record) Statements() (*report.AnalysisReport, error) {
	if r.Kind != KindStatements {
		return nil, fmt.Errorf("store: record %s is a %s report", r.ID, r.Kind)
	}
	var rep report.AnalysisReport
	if err := json.Unmarshal(r.Payload, &rep); err != nil {
		return nil, fmt.Errorf("store: decode report: %w", err)
	}
	return &rep, nil
}

// Plan decodes the payload of a KindPlan record.
func (r Record) Plan() (*report.PlanReport, error) {
	if r.Kind != KindPlan {
		return nil, fmt.Errorf("store: record %s is a %s report", r.ID, r.Kind)
	}
	var rep report.PlanReport
	if err := json.Unmarshal(r.Payload, &rep); err != nil {
		return nil, fmt.Errorf("store: decode report: %w", err)
	}
	return &rep, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS reports (
	id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	generated_at TEXT NOT NULL,
	severity TEXT NOT NULL,
	payload TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS reports_generated_at ON reports (generated_at DESC);
`

// timeLayout is fixed width so generated_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store is a SQLite-backed report archive. It is safe for concurrent use.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path. ":memory:" keeps everything in process.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("store: path required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("store: create dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: ensure schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SaveStatementReport stores rep under its ID.
func (s *Store) SaveStatementReport(ctx context.Context, rep *report.AnalysisReport) error {
	if rep == nil {
		return fmt.Errorf("store: nil report")
	}
	return s.save(ctx, rep.ID, KindStatements, rep.GeneratedAt, rep.Severity(), rep)
}

// SavePlanReport stores rep under its ID.
func (s *Store) SavePlanReport(ctx context.Context, rep *report.PlanReport) error {
	if rep == nil {
		return fmt.Errorf("store: nil report")
	}
	return s.save(ctx, rep.ID, KindPlan, rep.GeneratedAt, rep.Severity, rep)
}

func (s *Store) save(ctx context.Context, id uuid.UUID, kind Kind, at time.Time, sev rule.Severity, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("store: encode report: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO reports (id, kind, generated_at, severity, payload) VALUES (?, ?, ?, ?, ?)`,
		id.String(), string(kind), at.UTC().Format(timeLayout), sev.String(), string(payload),
	); err != nil {
		return fmt.Errorf("store: insert report: %w", err)
	}
	return nil
}

// Get loads one report with its payload.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, kind, generated_at, severity, payload FROM reports WHERE id = ?`, id.String())
	var (
		rec     Record
		payload string
	)
	if err := scanRecord(row, &rec, &payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("store: get report: %w", err)
	}
	rec.Payload = json.RawMessage(payload)
	return rec, nil
}

// List returns the newest reports first, without payloads. limit <= 0 returns all.
func (s *Store) List(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, generated_at, severity FROM reports ORDER BY generated_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list reports: %w", err)
	}
	defer rows.Close()

	out := []Record{}
	for rows.Next() {
		var rec Record
		if err := scanRecord(rows, &rec); err != nil {
			return nil, fmt.Errorf("store: list reports: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list reports: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner, rec *Record, extra ...any) error {
	var id, kind, at, sev string
	if err := row.Scan(append([]any{&id, &kind, &at, &sev}, extra...)...); err != nil {
		return err
	}
	parsedID, err := uuid.Parse(id)
	if err != nil {
		return fmt.Errorf("parse id: %w", err)
	}
	generated, err := time.Parse(timeLayout, at)
	if err != nil {
		return fmt.Errorf("parse generated_at: %w", err)
	}
	severity, err := rule.ParseSeverity(sev)
	if err != nil {
		return err
	}
	*rec = Record{ID: parsedID, Kind: Kind(kind), GeneratedAt: generated, Severity: severity}
	return nil
}
