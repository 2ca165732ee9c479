package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	_ "modernc.org/sqlite"
)

const (
	RunRunning   = "running"
	RunSucceeded = "succeeded"
	RunFailed    = "failed"
)

const defaultRunLimit = 50

// Run is one pipeline execution. Transcripts and replies are never stored.
type Run struct {
	ID          string           `json:"id"`
	StartedAt   time.Time        `json:"started_at"`
	EndedAt     *time.Time       `json:"ended_at,omitempty"`
	Status      string           `json:"status"`
	FailedStage string           `json:"failed_stage,omitempty"`
	Error       string           `json:"error,omitempty"`
	StageMillis map[string]int64 `json:"stage_millis,omitempty"`
}

type RunResult struct {
	Status      string
	FailedStage string
	Error       string
	StageMillis map[string]int64
}

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if strings.TrimSpace(dbPath) == "" {
		dbPath = filepath.Join("data", "voice-journal.db")
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) init() error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("apply pragma %q: %w", p, err)
		}
	}

	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			started_at TEXT NOT NULL,
			ended_at TEXT,
			status TEXT NOT NULL,
			failed_stage TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT '',
			stage_millis TEXT NOT NULL DEFAULT '{}'
		);
	`); err != nil {
		return fmt.Errorf("create runs table: %w", err)
	}

	if _, err := s.db.Exec("CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at)"); err != nil {
		return fmt.Errorf("create runs index: %w", err)
	}

	return nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStore) CreateRun(id string, startedAt time.Time) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("run id is required")
	}

	_, err := s.db.Exec(
		`INSERT INTO runs(id, started_at, status) VALUES(?, ?, ?)`,
		id,
		startedAt.UTC().Format(time.RFC3339Nano),
		RunRunning,
	)
	if err != nil {
		return fmt.Errorf("create run %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) FinishRun(id string, endedAt time.Time, result RunResult) error {
	millis := result.StageMillis
	if millis == nil {
		millis = map[string]int64{}
	}
	encoded, err := sonic.MarshalString(millis)
	if err != nil {
		return fmt.Errorf("encode stage durations for run %s: %w", id, err)
	}

	res, err := s.db.Exec(
		`UPDATE runs SET ended_at = ?, status = ?, failed_stage = ?, error = ?, stage_millis = ? WHERE id = ?`,
		endedAt.UTC().Format(time.RFC3339Nano),
		result.Status,
		result.FailedStage,
		result.Error,
		encoded,
		id,
	)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", id, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish run rows affected: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *SQLiteStore) GetRun(id string) (Run, error) {
	row := s.db.QueryRow(
		`SELECT id, started_at, ended_at, status, failed_stage, error, stage_millis FROM runs WHERE id = ?`,
		id,
	)
	run, err := scanRun(row)
	if err != nil {
		return Run{}, fmt.Errorf("query run %s: %w", id, err)
	}
	return run, nil
}

// GetRuns returns the most recent runs, newest first. limit <= 0 uses a default.
func (s *SQLiteStore) GetRuns(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = defaultRunLimit
	}

	rows, err := s.db.Query(
		`SELECT id, started_at, ended_at, status, failed_stage, error, stage_millis
		 FROM runs
		 ORDER BY started_at DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	runs := make([]Run, 0, limit)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs rows: %w", err)
	}

	return runs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (Run, error) {
	var run Run
	var startedAt, millis string
	var endedAt sql.NullString
	if err := row.Scan(&run.ID, &startedAt, &endedAt, &run.Status, &run.FailedStage, &run.Error, &millis); err != nil {
		return Run{}, fmt.Errorf("scan run: %w", err)
	}

	parsedStart, err := time.Parse(time.RFC3339Nano, startedAt)
	if err != nil {
		return Run{}, fmt.Errorf("parse run %s started_at: %w", run.ID, err)
	}
	run.StartedAt = parsedStart

	if endedAt.Valid {
		parsedEnd, err := time.Parse(time.RFC3339Nano, endedAt.String)
		if err != nil {
			return Run{}, fmt.Errorf("parse run %s ended_at: %w", run.ID, err)
		}
		run.EndedAt = &parsedEnd
	}

	if err := sonic.UnmarshalString(millis, &run.StageMillis); err != nil {
		return Run{}, fmt.Errorf("decode run %s stage durations: %w", run.ID, err)
	}

	return run, nil
}
