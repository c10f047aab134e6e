package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Trigger execution statuses. Skipped executions are recorded for the audit
// trail but never start a cooldown.
const (
	TriggerRunning   = "running"
	TriggerCompleted = "completed"
	TriggerFailed    = "failed"
	TriggerSkipped   = "skipped"
)

// TriggerExecution is one firing of a monitor trigger.
type TriggerExecution struct {
	ID          int64
	TriggerName string
	Priority    string // low, medium, high, critical, emergency
	Status      string
	Reason      *string
	RunID       *string
	StartedAt   time.Time
	EndedAt     *time.Time
}

// --- Trigger Execution Methods ---

const triggerColumns = `id, trigger_name, priority, status, reason, run_id, started_at, ended_at`

func scanTriggerExecution(scanner interface{ Scan(...any) error }, e *TriggerExecution) error {
	var (
		started string
		ended   *string
	)
	if err := scanner.Scan(&e.ID, &e.TriggerName, &e.Priority, &e.Status, &e.Reason, &e.RunID, &started, &ended); err != nil {
		return err
	}
	var err error
	if e.StartedAt, err = parseTime(started); err != nil {
		return err
	}
	e.EndedAt, err = parseTimePtr(ended)
	return err
}

// InsertTriggerExecution records a trigger firing and returns its row ID.
func (d *DB) InsertTriggerExecution(ctx context.Context, e *TriggerExecution) (int64, error) {
	res, err := d.conn.ExecContext(ctx,
		`INSERT INTO trigger_executions (trigger_name, priority, status, reason, run_id, started_at, ended_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.TriggerName, e.Priority, e.Status, e.Reason, e.RunID, formatTime(e.StartedAt), formatTimePtr(e.EndedAt),
	)
	if err != nil {
		return 0, fmt.Errorf("insert trigger execution: %w", err)
	}
	return res.LastInsertId()
}

// FinishTriggerExecution stamps the outcome of a trigger firing.
func (d *DB) FinishTriggerExecution(ctx context.Context, id int64, status string, runID *string, endedAt time.Time) error {
	_, err := d.conn.ExecContext(ctx,
		`UPDATE trigger_executions SET status = ?, run_id = COALESCE(?, run_id), ended_at = ? WHERE id = ?`,
		status, runID, formatTime(endedAt), id,
	)
	if err != nil {
		return fmt.Errorf("finish trigger execution %d: %w", id, err)
	}
	return nil
}

// LastTriggerExecution returns the newest non-skipped firing of a trigger,
// or nil if it has never fired.
func (d *DB) LastTriggerExecution(ctx context.Context, name string) (*TriggerExecution, error) {
	e := &TriggerExecution{}
	row := d.conn.QueryRowContext(ctx,
		`SELECT `+triggerColumns+` FROM trigger_executions
		 WHERE trigger_name = ? AND status != ? ORDER BY started_at DESC, id DESC LIMIT 1`,
		name, TriggerSkipped)
	if err := scanTriggerExecution(row, e); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("last trigger execution %s: %w", name, err)
	}
	return e, nil
}

// ListTriggerExecutions returns firings newest first.
func (d *DB) ListTriggerExecutions(ctx context.Context, limit, offset int) ([]TriggerExecution, error) {
	rows, err := d.conn.QueryContext(ctx,
		`SELECT `+triggerColumns+` FROM trigger_executions ORDER BY started_at DESC, id DESC LIMIT ? OFFSET ?`,
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list trigger executions: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var out []TriggerExecution
	for rows.Next() {
		var e TriggerExecution
		if err := scanTriggerExecution(rows, &e); err != nil {
			return nil, fmt.Errorf("scan trigger execution: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
