package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Alert is a persisted alert raised by a rule.
type Alert struct {
	ID             string
	Rule           string
	Severity       string // info, warning, error, critical
	Title          string
	Message        string
	Source         string
	Context        *string // JSON object
	CreatedAt      time.Time
	AcknowledgedAt *time.Time
	AcknowledgedBy *string
}

// Delivery records one attempt to send an alert on a channel. Step 0 is the
// initial notification; escalation steps count from 1.
type Delivery struct {
	ID          int64
	AlertID     string
	Channel     string
	Step        int
	Status      string // sent, failed
	Error       *string
	DeliveredAt time.Time
}

// --- Alert Methods ---

const alertColumns = `id, rule, severity, title, message, source, context, created_at, acknowledged_at, acknowledged_by`

func scanAlert(scanner interface{ Scan(...any) error }, a *Alert) error {
	var (
		created string
		acked   *string
	)
	if err := scanner.Scan(&a.ID, &a.Rule, &a.Severity, &a.Title, &a.Message, &a.Source, &a.Context,
		&created, &acked, &a.AcknowledgedBy); err != nil {
		return err
	}
	var err error
	if a.CreatedAt, err = parseTime(created); err != nil {
		return err
	}
	a.AcknowledgedAt, err = parseTimePtr(acked)
	return err
}

// InsertAlert stores a new alert.
func (d *DB) InsertAlert(ctx context.Context, a *Alert) error {
	_, err := d.conn.ExecContext(ctx,
		`INSERT INTO alerts (`+alertColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Rule, a.Severity, a.Title, a.Message, a.Source, a.Context,
		formatTime(a.CreatedAt), formatTimePtr(a.AcknowledgedAt), a.AcknowledgedBy,
	)
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

// GetAlert returns an alert by ID, or nil if it does not exist.
func (d *DB) GetAlert(ctx context.Context, id string) (*Alert, error) {
	a := &Alert{}
	row := d.conn.QueryRowContext(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id = ?`, id)
	if err := scanAlert(row, a); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("get alert: %w", err)
	}
	return a, nil
}

// ListAlerts returns alerts newest first. With unacknowledgedOnly set only
// open alerts are returned.
func (d *DB) ListAlerts(ctx context.Context, unacknowledgedOnly bool, limit, offset int) ([]Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts`
	if unacknowledgedOnly {
		query += ` WHERE acknowledged_at IS NULL`
	}
	query += ` ORDER BY created_at DESC LIMIT ? OFFSET ?`

	rows, err := d.conn.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var alerts []Alert
	for rows.Next() {
		var a Alert
		if err := scanAlert(rows, &a); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// LastAlert returns the newest alert raised by rule for source, or nil.
func (d *DB) LastAlert(ctx context.Context, rule, source string) (*Alert, error) {
	a := &Alert{}
	row := d.conn.QueryRowContext(ctx,
		`SELECT `+alertColumns+` FROM alerts WHERE rule = ? AND source = ? ORDER BY created_at DESC LIMIT 1`,
		rule, source)
	if err := scanAlert(row, a); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("last alert for %s: %w", rule, err)
	}
	return a, nil
}

// AcknowledgeAlert marks an alert acknowledged. It reports false when the
// alert does not exist or was already acknowledged.
func (d *DB) AcknowledgeAlert(ctx context.Context, id, by string, at time.Time) (bool, error) {
	res, err := d.conn.ExecContext(ctx,
		`UPDATE alerts SET acknowledged_at = ?, acknowledged_by = ? WHERE id = ? AND acknowledged_at IS NULL`,
		formatTime(at), by, id,
	)
	if err != nil {
		return false, fmt.Errorf("acknowledge alert %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("acknowledge alert rows affected: %w", err)
	}
	return n > 0, nil
}

// --- Delivery Methods ---

// InsertDelivery records a delivery attempt.
func (d *DB) InsertDelivery(ctx context.Context, dl *Delivery) (int64, error) {
	res, err := d.conn.ExecContext(ctx,
		`INSERT INTO alert_deliveries (alert_id, channel, step, status, error, delivered_at) VALUES (?, ?, ?, ?, ?, ?)`,
		dl.AlertID, dl.Channel, dl.Step, dl.Status, dl.Error, formatTime(dl.DeliveredAt),
	)
	if err != nil {
		return 0, fmt.Errorf("insert delivery: %w", err)
	}
	return res.LastInsertId()
}

// ListDeliveries returns the delivery attempts of one alert in order.
func (d *DB) ListDeliveries(ctx context.Context, alertID string) ([]Delivery, error) {
	rows, err := d.conn.QueryContext(ctx,
		`SELECT id, alert_id, channel, step, status, error, delivered_at
		 FROM alert_deliveries WHERE alert_id = ? ORDER BY step, id`, alertID)
	if err != nil {
		return nil, fmt.Errorf("list deliveries: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var out []Delivery
	for rows.Next() {
		var (
			dl        Delivery
			delivered string
		)
		if err := rows.Scan(&dl.ID, &dl.AlertID, &dl.Channel, &dl.Step, &dl.Status, &dl.Error, &delivered); err != nil {
			return nil, fmt.Errorf("scan delivery: %w", err)
		}
		if dl.DeliveredAt, err = parseTime(delivered); err != nil {
			return nil, err
		}
		out = append(out, dl)
	}
	return out, rows.Err()
}

// DeliveredSteps returns the set of steps already attempted for an alert.
func (d *DB) DeliveredSteps(ctx context.Context, alertID string) (map[int]bool, error) {
	rows, err := d.conn.QueryContext(ctx,
		`SELECT DISTINCT step FROM alert_deliveries WHERE alert_id = ?`, alertID)
	if err != nil {
		return nil, fmt.Errorf("delivered steps: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	steps := make(map[int]bool)
	for rows.Next() {
		var s int
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		steps[s] = true
	}
	return steps, rows.Err()
}
