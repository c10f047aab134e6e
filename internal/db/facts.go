package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/joestump/congress-roster/internal/roster"
)

// --- Fact Methods ---

const factColumns = `id, entity_kind, entity_id, attribute, value, source_id, observed_at, expires_at, confidence, run_id`

// AppendFacts inserts facts in a single transaction and returns how many were
// new. Re-inserting an observation with the same natural key (entity,
// attribute, source, observed_at) is a no-op. Facts that fail validation are
// rejected before anything is written.
func (d *DB) AppendFacts(ctx context.Context, facts []roster.Fact) (int, error) {
	for _, f := range facts {
		if err := f.Validate(); err != nil {
			return 0, fmt.Errorf("append fact %s/%s/%s: %w", f.EntityKind, f.EntityID, f.Attribute, err)
		}
	}
	inserted := 0
	err := d.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT OR IGNORE INTO facts (`+factColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare fact insert: %w", err)
		}
		defer stmt.Close() //nolint:errcheck

		for _, f := range facts {
			var runID *string
			if f.RunID != "" {
				runID = &f.RunID
			}
			res, err := stmt.ExecContext(ctx, f.ID, string(f.EntityKind), f.EntityID, string(f.Attribute), f.Value,
				f.SourceID, formatTime(f.ObservedAt), formatTime(f.ExpiresAt), f.Confidence, runID)
			if err != nil {
				return fmt.Errorf("insert fact %s/%s/%s: %w", f.EntityKind, f.EntityID, f.Attribute, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("insert fact rows affected: %w", err)
			}
			inserted += int(n)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("append facts: %w", err)
	}
	return inserted, nil
}

// LatestFacts returns each source's newest fact for every (entity,
// attribute) pair, which is everything reconciliation needs.
func (d *DB) LatestFacts(ctx context.Context) ([]roster.Fact, error) {
	rows, err := d.conn.QueryContext(ctx, `
		SELECT f.id, f.entity_kind, f.entity_id, f.attribute, f.value, f.source_id, f.observed_at, f.expires_at, f.confidence, f.run_id
		FROM facts f
		INNER JOIN (
			SELECT entity_kind, entity_id, attribute, source_id, MAX(observed_at) AS observed_at
			FROM facts
			GROUP BY entity_kind, entity_id, attribute, source_id
		) latest USING (entity_kind, entity_id, attribute, source_id, observed_at)
		ORDER BY f.entity_kind, f.entity_id, f.attribute, f.source_id`)
	if err != nil {
		return nil, fmt.Errorf("latest facts: %w", err)
	}
	defer rows.Close() //nolint:errcheck
	return scanFacts(rows)
}

// EntityFacts returns the full observation history of one entity, newest
// first.
func (d *DB) EntityFacts(ctx context.Context, kind roster.EntityKind, id string) ([]roster.Fact, error) {
	rows, err := d.conn.QueryContext(ctx,
		`SELECT `+factColumns+` FROM facts WHERE entity_kind = ? AND entity_id = ?
		 ORDER BY observed_at DESC, attribute, source_id`, string(kind), id)
	if err != nil {
		return nil, fmt.Errorf("entity facts %s/%s: %w", kind, id, err)
	}
	defer rows.Close() //nolint:errcheck
	return scanFacts(rows)
}

// CountFacts returns the number of stored facts.
func (d *DB) CountFacts(ctx context.Context) (int, error) {
	var n int
	if err := d.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM facts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count facts: %w", err)
	}
	return n, nil
}

func scanFacts(rows *sql.Rows) ([]roster.Fact, error) {
	var facts []roster.Fact
	for rows.Next() {
		var (
			f                 roster.Fact
			kind, attr        string
			observed, expires string
			runID             *string
		)
		if err := rows.Scan(&f.ID, &kind, &f.EntityID, &attr, &f.Value, &f.SourceID, &observed, &expires, &f.Confidence, &runID); err != nil {
			return nil, fmt.Errorf("scan fact: %w", err)
		}
		f.EntityKind = roster.EntityKind(kind)
		f.Attribute = roster.Attribute(attr)
		var err error
		if f.ObservedAt, err = parseTime(observed); err != nil {
			return nil, err
		}
		if f.ExpiresAt, err = parseTime(expires); err != nil {
			return nil, err
		}
		if runID != nil {
			f.RunID = *runID
		}
		facts = append(facts, f)
	}
	return facts, rows.Err()
}
