package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// HealthReport is a stored monitor evaluation. Report is the JSON document
// served by the health endpoint.
type HealthReport struct {
	ID          int64
	State       string
	GeneratedAt time.Time
	Report      string
}

// --- Health Report Methods ---

// InsertHealthReport stores an evaluation and returns its row ID.
func (d *DB) InsertHealthReport(ctx context.Context, state string, generatedAt time.Time, report []byte) (int64, error) {
	res, err := d.conn.ExecContext(ctx,
		`INSERT INTO health_reports (state, generated_at, report) VALUES (?, ?, ?)`,
		state, formatTime(generatedAt), string(report),
	)
	if err != nil {
		return 0, fmt.Errorf("insert health report: %w", err)
	}
	return res.LastInsertId()
}

// LatestHealthReport returns the newest evaluation, or nil before the first.
func (d *DB) LatestHealthReport(ctx context.Context) (*HealthReport, error) {
	var (
		h         HealthReport
		generated string
	)
	err := d.conn.QueryRowContext(ctx,
		`SELECT id, state, generated_at, report FROM health_reports ORDER BY generated_at DESC, id DESC LIMIT 1`,
	).Scan(&h.ID, &h.State, &generated, &h.Report)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest health report: %w", err)
	}
	if h.GeneratedAt, err = parseTime(generated); err != nil {
		return nil, err
	}
	return &h, nil
}

// PruneHealthReports deletes evaluations generated before cutoff and
// returns how many were removed. The newest report is always kept.
func (d *DB) PruneHealthReports(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := d.conn.ExecContext(ctx,
		`DELETE FROM health_reports WHERE generated_at < ?
		 AND id != (SELECT id FROM health_reports ORDER BY generated_at DESC, id DESC LIMIT 1)`,
		formatTime(cutoff),
	)
	if err != nil {
		return 0, fmt.Errorf("prune health reports: %w", err)
	}
	return res.RowsAffected()
}
