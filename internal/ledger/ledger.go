// Package ledger records traversal state transitions in Postgres. Rows are
// written for observability only and are never read back to resume a run.
package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("not found")

type DB interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Record is one node transition of one workflow run.
type Record struct {
	ID           string
	RunID        string
	Activity     string
	Target       string
	Parent       string
	Depth        int
	State        string
	ErrorCode    string
	ErrorMessage string
	Result       json.RawMessage
	RecordedAt   time.Time
}

const (
	createTableQuery = `CREATE TABLE IF NOT EXISTS workflow_step_executions (
		step_execution_id UUID PRIMARY KEY,
		run_id TEXT NOT NULL,
		activity TEXT NOT NULL,
		target TEXT NOT NULL,
		parent TEXT,
		depth INTEGER NOT NULL,
		state TEXT NOT NULL,
		error_code TEXT,
		error_message TEXT,
		result JSONB,
		recorded_at TIMESTAMPTZ NOT NULL,
		UNIQUE (run_id, activity, state)
	)`

	createRunIndexQuery = `CREATE INDEX IF NOT EXISTS workflow_step_executions_run_idx
	 ON workflow_step_executions (run_id, recorded_at)`

	insertRecordQuery = `INSERT INTO workflow_step_executions (
		step_execution_id,
		run_id,
		activity,
		target,
		parent,
		depth,
		state,
		error_code,
		error_message,
		result,
		recorded_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	ON CONFLICT (run_id, activity, state) DO NOTHING
	RETURNING step_execution_id, run_id, activity, target, parent, depth, state, error_code, error_message, result, recorded_at`

	selectRecordQuery = `SELECT step_execution_id, run_id, activity, target, parent, depth, state, error_code, error_message, result, recorded_at
	 FROM workflow_step_executions
	 WHERE run_id = $1 AND activity = $2 AND state = $3`

	listRecordsByRunQuery = `SELECT step_execution_id, run_id, activity, target, parent, depth, state, error_code, error_message, result, recorded_at
	 FROM workflow_step_executions
	 WHERE run_id = $1
	 ORDER BY recorded_at ASC, depth ASC, activity ASC`
)

type Store struct {
	db DB
}

func NewStore(db DB) *Store {
	if db == nil {
		return nil
	}
	return &Store{db: db}
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("ledger store not initialized")
	}
	for _, q := range []string{createTableQuery, createRunIndexQuery} {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("ensure ledger schema: %w", err)
		}
	}
	return nil
}

// Insert stores record. A transition already recorded for the same run,
// activity and state is returned unchanged with inserted=false.
func (s *Store) Insert(ctx context.Context, record Record) (Record, bool, error) {
	if s == nil || s.db == nil {
		return Record{}, false, fmt.Errorf("ledger store not initialized")
	}
	runID := strings.TrimSpace(record.RunID)
	activity := strings.TrimSpace(record.Activity)
	state := strings.TrimSpace(record.State)
	if runID == "" {
		return Record{}, false, fmt.Errorf("run id is required")
	}
	if activity == "" {
		return Record{}, false, fmt.Errorf("activity is required")
	}
	if state == "" {
		return Record{}, false, fmt.Errorf("state is required")
	}

	recordedAt := record.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = time.Now()
	}
	id := record.ID
	if strings.TrimSpace(id) == "" {
		id = uuid.NewString()
	}
	var result any
	if len(record.Result) > 0 {
		result = []byte(record.Result)
	}

	row := s.db.QueryRowContext(
		ctx,
		insertRecordQuery,
		id,
		runID,
		activity,
		record.Target,
		nullIfEmpty(record.Parent),
		record.Depth,
		state,
		nullIfEmpty(record.ErrorCode),
		nullIfEmpty(record.ErrorMessage),
		result,
		recordedAt.UTC(),
	)
	inserted, err := scanRecord(row)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return Record{}, false, fmt.Errorf("insert step execution: %w", err)
		}
		existing, err := scanRecord(s.db.QueryRowContext(ctx, selectRecordQuery, runID, activity, state))
		if err != nil {
			return Record{}, false, err
		}
		return existing, false, nil
	}
	return inserted, true, nil
}

func (s *Store) ListByRun(ctx context.Context, runID string) ([]Record, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("ledger store not initialized")
	}
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return nil, fmt.Errorf("run id is required")
	}

	rows, err := s.db.QueryContext(ctx, listRecordsByRunQuery, runID)
	if err != nil {
		return nil, fmt.Errorf("list step executions: %w", err)
	}
	defer rows.Close()

	records := make([]Record, 0)
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list step executions: %w", err)
	}
	return records, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (Record, error) {
	var record Record
	var parent, errorCode, errorMessage sql.NullString
	var result []byte
	if err := row.Scan(
		&record.ID,
		&record.RunID,
		&record.Activity,
		&record.Target,
		&parent,
		&record.Depth,
		&record.State,
		&errorCode,
		&errorMessage,
		&result,
		&record.RecordedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, err
	}
	record.Parent = strings.TrimSpace(parent.String)
	record.ErrorCode = strings.TrimSpace(errorCode.String)
	record.ErrorMessage = strings.TrimSpace(errorMessage.String)
	if len(result) > 0 {
		record.Result = json.RawMessage(result)
	}
	record.RecordedAt = record.RecordedAt.UTC()
	return record, nil
}

func nullIfEmpty(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}
