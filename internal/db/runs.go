package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrRunNotFound is returned when no run has the requested ID.
var ErrRunNotFound = errors.New("run not found")

// Run is one persisted analysis. The JSON blobs are opaque to the store.
type Run struct {
	RunID       string          `json:"run_id"`
	Status      string          `json:"status"`
	Detail      string          `json:"detail,omitempty"`
	Strategy    string          `json:"strategy"`
	ParamsJSON  json.RawMessage `json:"params,omitempty"`
	SummaryJSON json.RawMessage `json:"summary,omitempty"`
	ResultJSON  json.RawMessage `json:"result,omitempty"`
	AuditJSON   json.RawMessage `json:"audit,omitempty"`
	StrokeCount int             `json:"stroke_count"`
	CreatedAt   int64           `json:"created_at"`
	UpdatedAt   int64           `json:"updated_at"`
}

// StrokeRow is the queryable projection of a stroke; Payload holds the
// full stroke document including provenance.
type StrokeRow struct {
	RunID       string          `json:"run_id"`
	Index       int             `json:"index"`
	Start       int             `json:"start_frame"`
	End         int             `json:"end_frame"`
	Peak        int             `json:"peak_frame"`
	StrokeType  string          `json:"stroke_type"`
	MaxVelocity float64         `json:"max_velocity"`
	FormScore   float64         `json:"form_score"`
	Hitter      string          `json:"hitter"`
	Fallback    bool            `json:"fallback"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// RunOutcome is everything written when a run finishes.
type RunOutcome struct {
	Status      string
	Detail      string
	SummaryJSON json.RawMessage
	ResultJSON  json.RawMessage
	AuditJSON   json.RawMessage
	Strokes     []StrokeRow
}

// RunStore persists runs and their strokes.
type RunStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewRunStore creates a RunStore over db.
func NewRunStore(db *DB) *RunStore {
	return &RunStore{db: db.DB, now: time.Now}
}

// InsertRun records a new run. An empty RunID gets a fresh UUID and an
// empty Status becomes pending.
func (s *RunStore) InsertRun(run *Run) error {
	if run.RunID == "" {
		run.RunID = uuid.New().String()
	}
	if run.Status == "" {
		run.Status = "pending"
	}
	now := s.now().UnixNano()
	if run.CreatedAt == 0 {
		run.CreatedAt = now
	}
	run.UpdatedAt = now

	return retryOnBusy(func() error {
		_, err := s.db.Exec(`
			INSERT INTO runs (
				run_id, status, detail, strategy, params_json,
				summary_json, result_json, audit_json, stroke_count,
				created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			run.RunID, run.Status, run.Detail, run.Strategy, nullJSON(run.ParamsJSON),
			nullJSON(run.SummaryJSON), nullJSON(run.ResultJSON), nullJSON(run.AuditJSON), run.StrokeCount,
			run.CreatedAt, run.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert run %s: %w", run.RunID, err)
		}
		return nil
	})
}

// UpdateStatus moves a run to status with detail.
func (s *RunStore) UpdateStatus(runID, status, detail string) error {
	return retryOnBusy(func() error {
		res, err := s.db.Exec(`UPDATE runs SET status = ?, detail = ?, updated_at = ? WHERE run_id = ?`,
			status, detail, s.now().UnixNano(), runID)
		if err != nil {
			return fmt.Errorf("update run %s: %w", runID, err)
		}
		return requireAffected(res, runID)
	})
}

// SaveResult writes a finished run and replaces its strokes in one
// transaction.
func (s *RunStore) SaveResult(runID string, out RunOutcome) error {
	return retryOnBusy(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin: %w", err)
		}
		defer tx.Rollback()

		res, err := tx.Exec(`
			UPDATE runs SET status = ?, detail = ?, summary_json = ?, result_json = ?,
				audit_json = ?, stroke_count = ?, updated_at = ?
			WHERE run_id = ?`,
			out.Status, out.Detail, nullJSON(out.SummaryJSON), nullJSON(out.ResultJSON),
			nullJSON(out.AuditJSON), len(out.Strokes), s.now().UnixNano(), runID)
		if err != nil {
			return fmt.Errorf("save run %s: %w", runID, err)
		}
		if err := requireAffected(res, runID); err != nil {
			return err
		}

		if _, err := tx.Exec(`DELETE FROM strokes WHERE run_id = ?`, runID); err != nil {
			return fmt.Errorf("clear strokes for %s: %w", runID, err)
		}
		stmt, err := tx.Prepare(`
			INSERT INTO strokes (
				run_id, stroke_index, start_frame, end_frame, peak_frame, stroke_type,
				max_velocity, form_score, hitter, fallback, payload_json
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare stroke insert: %w", err)
		}
		defer stmt.Close()
		for i, st := range out.Strokes {
			if _, err := stmt.Exec(runID, i, st.Start, st.End, st.Peak, st.StrokeType,
				st.MaxVelocity, st.FormScore, st.Hitter, st.Fallback, nullJSON(st.Payload)); err != nil {
				return fmt.Errorf("insert stroke %d for %s: %w", i, runID, err)
			}
		}
		return tx.Commit()
	})
}

const runColumns = `run_id, status, detail, strategy, params_json, summary_json,
	result_json, audit_json, stroke_count, created_at, updated_at`

// GetRun returns a single run by ID.
func (s *RunStore) GetRun(runID string) (*Run, error) {
	row := s.db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE run_id = ?`, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", runID, ErrRunNotFound)
	}
	return run, err
}

// ListRuns returns up to limit runs, newest first, without their result
// and audit documents.
func (s *RunStore) ListRuns(limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`SELECT `+runColumns+` FROM runs ORDER BY created_at DESC, run_id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		run.ResultJSON = nil
		run.AuditJSON = nil
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// ListStrokes returns a run's strokes in order.
func (s *RunStore) ListStrokes(runID string) ([]StrokeRow, error) {
	var exists bool
	if err := s.db.QueryRow(`SELECT COUNT(*) > 0 FROM runs WHERE run_id = ?`, runID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check run %s: %w", runID, err)
	}
	if !exists {
		return nil, fmt.Errorf("%s: %w", runID, ErrRunNotFound)
	}

	rows, err := s.db.Query(`
		SELECT run_id, stroke_index, start_frame, end_frame, peak_frame, stroke_type,
		       max_velocity, form_score, hitter, fallback, payload_json
		FROM strokes WHERE run_id = ? ORDER BY stroke_index`, runID)
	if err != nil {
		return nil, fmt.Errorf("list strokes for %s: %w", runID, err)
	}
	defer rows.Close()

	strokes := []StrokeRow{}
	for rows.Next() {
		var st StrokeRow
		var payload sql.NullString
		if err := rows.Scan(&st.RunID, &st.Index, &st.Start, &st.End, &st.Peak, &st.StrokeType,
			&st.MaxVelocity, &st.FormScore, &st.Hitter, &st.Fallback, &payload); err != nil {
			return nil, fmt.Errorf("scan stroke row: %w", err)
		}
		if payload.Valid {
			st.Payload = json.RawMessage(payload.String)
		}
		strokes = append(strokes, st)
	}
	return strokes, rows.Err()
}

// DeleteRun removes a run and its strokes.
func (s *RunStore) DeleteRun(runID string) error {
	return retryOnBusy(func() error {
		res, err := s.db.Exec(`DELETE FROM runs WHERE run_id = ?`, runID)
		if err != nil {
			return fmt.Errorf("delete run %s: %w", runID, err)
		}
		return requireAffected(res, runID)
	})
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	var r Run
	var params, summary, result, audit sql.NullString
	err := row.Scan(&r.RunID, &r.Status, &r.Detail, &r.Strategy, &params, &summary,
		&result, &audit, &r.StrokeCount, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan run: %w", err)
	}
	r.ParamsJSON = rawOrNil(params)
	r.SummaryJSON = rawOrNil(summary)
	r.ResultJSON = rawOrNil(result)
	r.AuditJSON = rawOrNil(audit)
	return &r, nil
}

func requireAffected(res sql.Result, runID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", runID, ErrRunNotFound)
	}
	return nil
}

func nullJSON(b json.RawMessage) interface{} {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func rawOrNil(s sql.NullString) json.RawMessage {
	if !s.Valid {
		return nil
	}
	return json.RawMessage(s.String)
}

// retryOnBusy retries fn while sqlite reports the database as locked.
func retryOnBusy(fn func() error) error {
	const attempts = 5
	delay := 20 * time.Millisecond
	var err error
	for i := 0; i < attempts; i++ {
		err = fn()
		if err == nil || !isBusy(err) {
			return err
		}
		time.Sleep(delay)
		delay *= 2
	}
	return err
}

func isBusy(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}
