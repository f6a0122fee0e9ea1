package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ethereum-optimism/infra/op-gatekeeper/types"
)

// SQLiteStore implements Store using SQLite
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (and creates if needed) the database at dbPath in WAL mode
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("sqlite history path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create parent directories: %w", err)
	}

	connStr := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", dbPath)
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		environment TEXT NOT NULL,
		mode TEXT NOT NULL,
		verdict TEXT NOT NULL,
		reasons TEXT NOT NULL,
		planned INTEGER NOT NULL,
		executed INTEGER NOT NULL,
		passed INTEGER NOT NULL,
		failed INTEGER NOT NULL,
		skipped INTEGER NOT NULL,
		success_rate REAL NOT NULL,
		duration_ns INTEGER NOT NULL,
		completed_at_ns INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_completed_at ON runs(completed_at_ns);

	CREATE TABLE IF NOT EXISTS suite_results (
		run_id TEXT NOT NULL,
		suite_id TEXT NOT NULL,
		status TEXT NOT NULL,
		exit_code INTEGER NOT NULL,
		attempts INTEGER NOT NULL,
		duration_ns INTEGER NOT NULL,
		error TEXT NOT NULL,
		PRIMARY KEY (run_id, suite_id),
		FOREIGN KEY (run_id) REFERENCES runs(run_id) ON DELETE CASCADE
	);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Save implements Store
func (s *SQLiteStore) Save(ctx context.Context, rec Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM suite_results WHERE run_id = ?`, rec.RunID); err != nil {
		return fmt.Errorf("failed to delete old suite results: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (run_id, environment, mode, verdict, reasons, planned, executed, passed, failed, skipped, success_rate, duration_ns, completed_at_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			environment = excluded.environment,
			mode = excluded.mode,
			verdict = excluded.verdict,
			reasons = excluded.reasons,
			planned = excluded.planned,
			executed = excluded.executed,
			passed = excluded.passed,
			failed = excluded.failed,
			skipped = excluded.skipped,
			success_rate = excluded.success_rate,
			duration_ns = excluded.duration_ns,
			completed_at_ns = excluded.completed_at_ns
	`, rec.RunID, rec.Environment, string(rec.Mode), string(rec.Verdict), joinReasons(rec.Reasons),
		rec.Planned, rec.Executed, rec.Passed, rec.Failed, rec.Skipped, rec.SuccessRate,
		int64(rec.Duration), rec.CompletedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to upsert run %s: %w", rec.RunID, err)
	}

	for _, sr := range rec.Suites {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO suite_results (run_id, suite_id, status, exit_code, attempts, duration_ns, error)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, rec.RunID, sr.SuiteID, string(sr.Status), sr.ExitCode, sr.Attempts, int64(sr.Duration), sr.Error)
		if err != nil {
			return fmt.Errorf("failed to insert suite result %s: %w", sr.SuiteID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Recent implements Store
func (s *SQLiteStore) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, environment, mode, verdict, reasons, planned, executed, passed, failed, skipped, success_rate, duration_ns, completed_at_ns
		FROM runs ORDER BY completed_at_ns DESC, run_id ASC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}

	var records []Record
	for rows.Next() {
		var (
			rec                Record
			mode, verdict, why string
			durationNs, doneNs int64
		)
		if err := rows.Scan(&rec.RunID, &rec.Environment, &mode, &verdict, &why,
			&rec.Planned, &rec.Executed, &rec.Passed, &rec.Failed, &rec.Skipped, &rec.SuccessRate,
			&durationNs, &doneNs); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		rec.Mode = types.SelectionMode(mode)
		rec.Verdict = types.Verdict(verdict)
		rec.Reasons = splitReasons(why)
		rec.Duration = time.Duration(durationNs)
		rec.CompletedAt = time.Unix(0, doneNs).UTC()
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}
	rows.Close()

	// suites are loaded after the run cursor is closed; the pool has a single connection
	for i := range records {
		suites, err := s.suites(ctx, records[i].RunID)
		if err != nil {
			return nil, err
		}
		records[i].Suites = suites
	}
	return records, nil
}

func (s *SQLiteStore) suites(ctx context.Context, runID string) ([]SuiteRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT suite_id, status, exit_code, attempts, duration_ns, error
		FROM suite_results WHERE run_id = ? ORDER BY suite_id ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query suite results for run %s: %w", runID, err)
	}
	defer rows.Close()

	var out []SuiteRecord
	for rows.Next() {
		var (
			sr         SuiteRecord
			status     string
			durationNs int64
		)
		if err := rows.Scan(&sr.SuiteID, &status, &sr.ExitCode, &sr.Attempts, &durationNs, &sr.Error); err != nil {
			return nil, fmt.Errorf("failed to scan suite result: %w", err)
		}
		sr.Status = types.SuiteStatus(status)
		sr.Duration = time.Duration(durationNs)
		out = append(out, sr)
	}
	return out, rows.Err()
}

// Close implements Store
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
