package history

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ethereum-optimism/infra/op-gatekeeper/types"
)

// PostgresStore implements Store on a pgx connection pool
type PostgresStore struct {
	conn *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore connects to uri and creates the schema if needed
func NewPostgresStore(ctx context.Context, uri string) (*PostgresStore, error) {
	conn, err := pgxpool.New(ctx, uri)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to db: %w", err)
	}
	p := &PostgresStore{conn: conn}
	if err := p.initSchema(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return p, nil
}

func (p *PostgresStore) initSchema(ctx context.Context) error {
	schema := `
CREATE TABLE IF NOT EXISTS gatekeeper_runs (
	run_id TEXT PRIMARY KEY,
	environment TEXT NOT NULL,
	mode TEXT NOT NULL,
	verdict TEXT NOT NULL,
	reasons TEXT[] NOT NULL,
	planned INTEGER NOT NULL,
	executed INTEGER NOT NULL,
	passed INTEGER NOT NULL,
	failed INTEGER NOT NULL,
	skipped INTEGER NOT NULL,
	success_rate DOUBLE PRECISION NOT NULL,
	duration_ns BIGINT NOT NULL,
	completed_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_gatekeeper_runs_completed_at ON gatekeeper_runs(completed_at);
CREATE TABLE IF NOT EXISTS gatekeeper_suite_results (
	run_id TEXT NOT NULL REFERENCES gatekeeper_runs(run_id) ON DELETE CASCADE,
	suite_id TEXT NOT NULL,
	status TEXT NOT NULL,
	exit_code INTEGER NOT NULL,
	attempts INTEGER NOT NULL,
	duration_ns BIGINT NOT NULL,
	error TEXT NOT NULL,
	PRIMARY KEY (run_id, suite_id)
);
`
	_, err := p.conn.Exec(ctx, schema)
	return err
}

// Save implements Store
func (p *PostgresStore) Save(ctx context.Context, rec Record) error {
	tx, err := p.conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	type queryPkg struct {
		query string
		args  []any
	}

	reasons := rec.Reasons
	if reasons == nil {
		reasons = []string{}
	}
	queries := []queryPkg{
		{
			"DELETE FROM gatekeeper_suite_results WHERE run_id = $1",
			[]any{rec.RunID},
		},
		{
			`INSERT INTO gatekeeper_runs (run_id, environment, mode, verdict, reasons, planned, executed, passed, failed, skipped, success_rate, duration_ns, completed_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
ON CONFLICT (run_id) DO UPDATE SET
	environment = EXCLUDED.environment,
	mode = EXCLUDED.mode,
	verdict = EXCLUDED.verdict,
	reasons = EXCLUDED.reasons,
	planned = EXCLUDED.planned,
	executed = EXCLUDED.executed,
	passed = EXCLUDED.passed,
	failed = EXCLUDED.failed,
	skipped = EXCLUDED.skipped,
	success_rate = EXCLUDED.success_rate,
	duration_ns = EXCLUDED.duration_ns,
	completed_at = EXCLUDED.completed_at`,
			[]any{
				rec.RunID,
				rec.Environment,
				string(rec.Mode),
				string(rec.Verdict),
				reasons,
				rec.Planned,
				rec.Executed,
				rec.Passed,
				rec.Failed,
				rec.Skipped,
				rec.SuccessRate,
				int64(rec.Duration),
				rec.CompletedAt,
			},
		},
	}
	for _, sr := range rec.Suites {
		queries = append(queries, queryPkg{
			`INSERT INTO gatekeeper_suite_results (run_id, suite_id, status, exit_code, attempts, duration_ns, error)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			[]any{rec.RunID, sr.SuiteID, string(sr.Status), sr.ExitCode, sr.Attempts, int64(sr.Duration), sr.Error},
		})
	}

	for i, q := range queries {
		if _, err := tx.Exec(ctx, q.query, q.args...); err != nil {
			return fmt.Errorf("failed to save run %s: query %d: %w", rec.RunID, i, err)
		}
	}
	return tx.Commit(ctx)
}

// Recent implements Store
func (p *PostgresStore) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	rows, err := p.conn.Query(ctx, `
SELECT run_id, environment, mode, verdict, reasons, planned, executed, passed, failed, skipped, success_rate, duration_ns, completed_at
FROM gatekeeper_runs ORDER BY completed_at DESC, run_id ASC LIMIT $1
`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Record, error) {
		var (
			rec           Record
			mode, verdict string
			durationNs    int64
		)
		err := row.Scan(&rec.RunID, &rec.Environment, &mode, &verdict, &rec.Reasons,
			&rec.Planned, &rec.Executed, &rec.Passed, &rec.Failed, &rec.Skipped, &rec.SuccessRate,
			&durationNs, &rec.CompletedAt)
		rec.Mode = types.SelectionMode(mode)
		rec.Verdict = types.Verdict(verdict)
		rec.Duration = time.Duration(durationNs)
		return rec, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan runs: %w", err)
	}

	for i := range records {
		if len(records[i].Reasons) == 0 {
			records[i].Reasons = nil
		}
		suites, err := p.suites(ctx, records[i].RunID)
		if err != nil {
			return nil, err
		}
		records[i].Suites = suites
	}
	return records, nil
}

func (p *PostgresStore) suites(ctx context.Context, runID string) ([]SuiteRecord, error) {
	rows, err := p.conn.Query(ctx, `
SELECT suite_id, status, exit_code, attempts, duration_ns, error
FROM gatekeeper_suite_results WHERE run_id = $1 ORDER BY suite_id ASC
`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query suite results for run %s: %w", runID, err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (SuiteRecord, error) {
		var (
			sr         SuiteRecord
			status     string
			durationNs int64
		)
		err := row.Scan(&sr.SuiteID, &status, &sr.ExitCode, &sr.Attempts, &durationNs, &sr.Error)
		sr.Status = types.SuiteStatus(status)
		sr.Duration = time.Duration(durationNs)
		return sr, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan suite results for run %s: %w", runID, err)
	}
	return out, nil
}

// Close implements Store
func (p *PostgresStore) Close() error {
	p.conn.Close()
	return nil
}
