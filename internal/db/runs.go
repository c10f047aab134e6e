package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Refresh run statuses.
const (
	RunRunning   = "running"
	RunPublished = "published"
	RunRefused   = "refused"
	RunFailed    = "failed"
	RunCancelled = "cancelled"
)

// RefreshRun is one ingest cycle across all enabled adapters.
type RefreshRun struct {
	ID             string
	Trigger        string // trigger name, or "manual"
	CongressNumber int
	Status         string
	StartedAt      time.Time
	EndedAt        *time.Time
	FactsWritten   int
	Pending        int
	Published      bool
	Error          *string
}

// AdapterRun is the outcome of one adapter within a refresh run.
type AdapterRun struct {
	RunID     string
	SourceID  string
	Status    string // ok, failed, timeout, cancelled
	Records   int
	ErrorKind *string
	Error     *string
	StartedAt time.Time
	EndedAt   time.Time
}

// --- Refresh Run Methods ---

const refreshRunColumns = `id, trigger, congress_number, status, started_at, ended_at, facts_written, pending, published, error`

func scanRefreshRun(scanner interface{ Scan(...any) error }, r *RefreshRun) error {
	var (
		started   string
		ended     *string
		published int
	)
	if err := scanner.Scan(&r.ID, &r.Trigger, &r.CongressNumber, &r.Status, &started, &ended,
		&r.FactsWritten, &r.Pending, &published, &r.Error); err != nil {
		return err
	}
	var err error
	if r.StartedAt, err = parseTime(started); err != nil {
		return err
	}
	if r.EndedAt, err = parseTimePtr(ended); err != nil {
		return err
	}
	r.Published = published == 1
	return nil
}

// InsertRefreshRun records the start of a refresh run.
func (d *DB) InsertRefreshRun(ctx context.Context, r *RefreshRun) error {
	_, err := d.conn.ExecContext(ctx,
		`INSERT INTO refresh_runs (`+refreshRunColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Trigger, r.CongressNumber, r.Status, formatTime(r.StartedAt), formatTimePtr(r.EndedAt),
		r.FactsWritten, r.Pending, boolToInt(r.Published), r.Error,
	)
	if err != nil {
		return fmt.Errorf("insert refresh run: %w", err)
	}
	return nil
}

// FinishRefreshRun stamps the outcome of a refresh run.
func (d *DB) FinishRefreshRun(ctx context.Context, r *RefreshRun) error {
	_, err := d.conn.ExecContext(ctx,
		`UPDATE refresh_runs SET status = ?, ended_at = ?, facts_written = ?, pending = ?, published = ?, error = ?
		 WHERE id = ?`,
		r.Status, formatTimePtr(r.EndedAt), r.FactsWritten, r.Pending, boolToInt(r.Published), r.Error, r.ID,
	)
	if err != nil {
		return fmt.Errorf("finish refresh run %s: %w", r.ID, err)
	}
	return nil
}

// GetRefreshRun returns a refresh run by ID, or nil if it does not exist.
func (d *DB) GetRefreshRun(ctx context.Context, id string) (*RefreshRun, error) {
	r := &RefreshRun{}
	row := d.conn.QueryRowContext(ctx, `SELECT `+refreshRunColumns+` FROM refresh_runs WHERE id = ?`, id)
	if err := scanRefreshRun(row, r); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("get refresh run: %w", err)
	}
	return r, nil
}

// LatestRefreshRun returns the most recently started run that has ended,
// or nil if none has.
func (d *DB) LatestRefreshRun(ctx context.Context) (*RefreshRun, error) {
	r := &RefreshRun{}
	row := d.conn.QueryRowContext(ctx,
		`SELECT `+refreshRunColumns+` FROM refresh_runs WHERE ended_at IS NOT NULL ORDER BY started_at DESC LIMIT 1`)
	if err := scanRefreshRun(row, r); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("latest refresh run: %w", err)
	}
	return r, nil
}

// ListRefreshRuns returns runs newest first.
func (d *DB) ListRefreshRuns(ctx context.Context, limit, offset int) ([]RefreshRun, error) {
	rows, err := d.conn.QueryContext(ctx,
		`SELECT `+refreshRunColumns+` FROM refresh_runs ORDER BY started_at DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list refresh runs: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var runs []RefreshRun
	for rows.Next() {
		var r RefreshRun
		if err := scanRefreshRun(rows, &r); err != nil {
			return nil, fmt.Errorf("scan refresh run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// --- Adapter Run Methods ---

const adapterRunColumns = `run_id, source_id, status, records, error_kind, error, started_at, ended_at`

func scanAdapterRuns(rows *sql.Rows) ([]AdapterRun, error) {
	var runs []AdapterRun
	for rows.Next() {
		var (
			a              AdapterRun
			started, ended string
		)
		if err := rows.Scan(&a.RunID, &a.SourceID, &a.Status, &a.Records, &a.ErrorKind, &a.Error, &started, &ended); err != nil {
			return nil, fmt.Errorf("scan adapter run: %w", err)
		}
		var err error
		if a.StartedAt, err = parseTime(started); err != nil {
			return nil, err
		}
		if a.EndedAt, err = parseTime(ended); err != nil {
			return nil, err
		}
		runs = append(runs, a)
	}
	return runs, rows.Err()
}

// InsertAdapterRun records the outcome of one adapter. Recording the same
// adapter twice for a run replaces the earlier row.
func (d *DB) InsertAdapterRun(ctx context.Context, a AdapterRun) error {
	_, err := d.conn.ExecContext(ctx,
		`INSERT OR REPLACE INTO adapter_runs (`+adapterRunColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.RunID, a.SourceID, a.Status, a.Records, a.ErrorKind, a.Error, formatTime(a.StartedAt), formatTime(a.EndedAt),
	)
	if err != nil {
		return fmt.Errorf("insert adapter run %s/%s: %w", a.RunID, a.SourceID, err)
	}
	return nil
}

// ListAdapterRuns returns the adapter outcomes of one refresh run.
func (d *DB) ListAdapterRuns(ctx context.Context, runID string) ([]AdapterRun, error) {
	rows, err := d.conn.QueryContext(ctx,
		`SELECT `+adapterRunColumns+` FROM adapter_runs WHERE run_id = ? ORDER BY source_id`, runID)
	if err != nil {
		return nil, fmt.Errorf("list adapter runs: %w", err)
	}
	defer rows.Close() //nolint:errcheck
	return scanAdapterRuns(rows)
}

// LatestAdapterRuns returns the most recent outcome of every source that
// has ever run.
func (d *DB) LatestAdapterRuns(ctx context.Context) ([]AdapterRun, error) {
	rows, err := d.conn.QueryContext(ctx, `
		SELECT a.run_id, a.source_id, a.status, a.records, a.error_kind, a.error, a.started_at, a.ended_at
		FROM adapter_runs a
		INNER JOIN (
			SELECT source_id, MAX(ended_at) AS ended_at FROM adapter_runs GROUP BY source_id
		) latest USING (source_id, ended_at)
		ORDER BY a.source_id`)
	if err != nil {
		return nil, fmt.Errorf("latest adapter runs: %w", err)
	}
	defer rows.Close() //nolint:errcheck
	return scanAdapterRuns(rows)
}
