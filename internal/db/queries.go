package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/lucasnoah/sodagate/internal/scan"
)

// defaultHistoryLimit caps History when no limit is given.
const defaultHistoryLimit = 50

// ScanRun represents a row in the scan_runs table.
type ScanRun struct {
	RunID       string
	ScanName    string
	DataSource  string
	ConfigPath  string
	ChecksDir   string
	Passed      bool
	FileCount   int
	FailedCount int
	Error       string
	StartedAt   time.Time
	FinishedAt  time.Time
}

// ScanResult represents a row in the scan_results table.
type ScanResult struct {
	ID         int64
	RunID      string
	Position   int
	CheckFile  string
	Passed     bool
	ExitCode   int
	DurationMs int
	Stdout     string
	Stderr     string
}

// LogRun stores an outcome and its per-file results in one transaction.
// runErr is the error Run returned, if any; its text is kept on the run row.
func (d *DB) LogRun(ctx context.Context, o *scan.Outcome, runErr error) error {
	if o.RunID == "" {
		return errors.New("log run: outcome has no run id")
	}
	var errText *string
	if runErr != nil {
		s := runErr.Error()
		errText = &s
	}

	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("log run: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO scan_runs (run_id, scan_name, data_source, config_path, checks_dir, passed,
		                        file_count, failed_count, error, started_at, finished_at)
		 VALUES ($1::uuid, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		o.RunID, o.ScanName, o.DataSource, o.ConfigPath, o.ChecksDir, runErr == nil && !o.Failed,
		len(o.Results), o.FailedCount(), errText, o.StartedAt, o.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("log run: insert run: %w", err)
	}

	for i, r := range o.Results {
		_, err := tx.Exec(ctx,
			`INSERT INTO scan_results (run_id, position, check_file, passed, exit_code, duration_ms, stdout, stderr)
			 VALUES ($1::uuid, $2, $3, $4, $5, $6, $7, $8)`,
			o.RunID, i, r.CheckFile, r.Passed, r.ExitCode, r.DurationMs, r.Stdout, r.Stderr,
		)
		if err != nil {
			return fmt.Errorf("log run: insert result %d: %w", i, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("log run: commit: %w", err)
	}
	return nil
}

const scanRunColumns = `run_id::text, scan_name, data_source, config_path, checks_dir, passed,
	file_count, failed_count, COALESCE(error, ''), started_at, finished_at`

func scanRunRow(row pgx.Row) (*ScanRun, error) {
	var r ScanRun
	err := row.Scan(&r.RunID, &r.ScanName, &r.DataSource, &r.ConfigPath, &r.ChecksDir, &r.Passed,
		&r.FileCount, &r.FailedCount, &r.Error, &r.StartedAt, &r.FinishedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// LatestRun returns the most recent run for scanName, or nil if there is none.
func (d *DB) LatestRun(ctx context.Context, scanName string) (*ScanRun, error) {
	row := d.pool.QueryRow(ctx,
		`SELECT `+scanRunColumns+` FROM scan_runs
		 WHERE scan_name = $1 ORDER BY started_at DESC, run_id DESC LIMIT 1`,
		scanName,
	)
	r, err := scanRunRow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get latest run: %w", err)
	}
	return r, nil
}

// History returns recorded runs newest first. An empty scanName matches all
// scans; a non-positive limit uses defaultHistoryLimit.
func (d *DB) History(ctx context.Context, scanName string, limit int) ([]ScanRun, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	rows, err := d.pool.Query(ctx,
		`SELECT `+scanRunColumns+` FROM scan_runs
		 WHERE ($1::text = '' OR scan_name = $1::text)
		 ORDER BY started_at DESC, run_id DESC LIMIT $2`,
		scanName, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("get history: %w", err)
	}
	defer rows.Close()

	var runs []ScanRun
	for rows.Next() {
		r, err := scanRunRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

// Results returns the per-file results for a run in execution order.
func (d *DB) Results(ctx context.Context, runID string) ([]ScanResult, error) {
	rows, err := d.pool.Query(ctx,
		`SELECT id, run_id::text, position, check_file, passed, exit_code, duration_ms,
		        COALESCE(stdout, ''), COALESCE(stderr, '')
		 FROM scan_results WHERE run_id = $1::uuid ORDER BY position`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("get results: %w", err)
	}
	defer rows.Close()

	var results []ScanResult
	for rows.Next() {
		var r ScanResult
		if err := rows.Scan(&r.ID, &r.RunID, &r.Position, &r.CheckFile, &r.Passed,
			&r.ExitCode, &r.DurationMs, &r.Stdout, &r.Stderr); err != nil {
			return nil, fmt.Errorf("scan result row: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}
