package db

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/joestump/congress-roster/internal/roster"
)

// ConfigTransitionPending holds the congress number whose first full
// refresh has not yet been published after a session transition.
const ConfigTransitionPending = "transition_pending"

// --- Congress Session Methods ---

const sessionColumns = `congress_number, start_date, end_date, is_current, majority_party_house, majority_party_senate`

func scanSession(scanner interface{ Scan(...any) error }, s *roster.CongressSession) error {
	var (
		start, end    string
		current       int
		house, senate string
	)
	if err := scanner.Scan(&s.CongressNumber, &start, &end, &current, &house, &senate); err != nil {
		return err
	}
	var err error
	if s.StartDate, err = parseTime(start); err != nil {
		return err
	}
	if s.EndDate, err = parseTime(end); err != nil {
		return err
	}
	s.IsCurrent = current == 1
	s.MajorityPartyHouse, s.MajorityPartySenate = roster.Party(house), roster.Party(senate)
	return nil
}

// UpsertSession stores a congress session. Marking it current clears the
// flag on every other session in the same transaction.
func (d *DB) UpsertSession(ctx context.Context, s roster.CongressSession) error {
	err := d.inTx(ctx, func(tx *sql.Tx) error {
		if s.IsCurrent {
			if _, err := tx.ExecContext(ctx,
				`UPDATE sessions SET is_current = 0 WHERE congress_number != ?`, s.CongressNumber); err != nil {
				return fmt.Errorf("clear current session: %w", err)
			}
		}
		return upsertSession(ctx, tx, s)
	})
	if err != nil {
		return fmt.Errorf("upsert session %d: %w", s.CongressNumber, err)
	}
	return nil
}

func upsertSession(ctx context.Context, ex execer, s roster.CongressSession) error {
	_, err := ex.ExecContext(ctx,
		`INSERT INTO sessions (`+sessionColumns+`) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(congress_number) DO UPDATE SET start_date = excluded.start_date, end_date = excluded.end_date,
		 is_current = excluded.is_current, majority_party_house = excluded.majority_party_house,
		 majority_party_senate = excluded.majority_party_senate`,
		s.CongressNumber, formatTime(s.StartDate), formatTime(s.EndDate), boolToInt(s.IsCurrent),
		string(partyOrUnknown(s.MajorityPartyHouse)), string(partyOrUnknown(s.MajorityPartySenate)),
	)
	if err != nil {
		return fmt.Errorf("write session %d: %w", s.CongressNumber, err)
	}
	return nil
}

func partyOrUnknown(p roster.Party) roster.Party {
	if p == "" {
		return roster.Unknown
	}
	return p
}

// CurrentSession returns the session flagged current, or nil if none is.
func (d *DB) CurrentSession(ctx context.Context) (*roster.CongressSession, error) {
	s := &roster.CongressSession{}
	row := d.conn.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE is_current = 1`)
	if err := scanSession(row, s); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("current session: %w", err)
	}
	return s, nil
}

// GetSession returns one congress session, or nil if unknown.
func (d *DB) GetSession(ctx context.Context, congress int) (*roster.CongressSession, error) {
	s := &roster.CongressSession{}
	row := d.conn.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE congress_number = ?`, congress)
	if err := scanSession(row, s); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("get session %d: %w", congress, err)
	}
	return s, nil
}

// ListSessions returns every stored session, newest first.
func (d *DB) ListSessions(ctx context.Context) ([]roster.CongressSession, error) {
	rows, err := d.conn.QueryContext(ctx, `SELECT `+sessionColumns+` FROM sessions ORDER BY congress_number DESC`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var sessions []roster.CongressSession
	for rows.Next() {
		var s roster.CongressSession
		if err := scanSession(rows, &s); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// Transition closes the session from and opens next at instant at, in one
// transaction: from loses is_current and ends at at, next becomes current,
// every current membership of from is ended at at, and the transition is
// marked pending until a refresh for next publishes. It returns the number
// of memberships ended. Repeating a completed transition is a no-op.
func (d *DB) Transition(ctx context.Context, from int, next roster.CongressSession, at time.Time) (int, error) {
	ended := 0
	err := d.inTx(ctx, func(tx *sql.Tx) error {
		var current int
		err := tx.QueryRowContext(ctx, `SELECT is_current FROM sessions WHERE congress_number = ?`, next.CongressNumber).Scan(&current)
		if err == nil && current == 1 {
			return nil
		}
		if err != nil && err != sql.ErrNoRows {
			return fmt.Errorf("read session %d: %w", next.CongressNumber, err)
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE sessions SET is_current = 0, end_date = ? WHERE congress_number = ?`, formatTime(at), from,
		); err != nil {
			return fmt.Errorf("close session %d: %w", from, err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE sessions SET is_current = 0 WHERE is_current = 1`); err != nil {
			return fmt.Errorf("clear current session: %w", err)
		}
		next.IsCurrent = true
		if err := upsertSession(ctx, tx, next); err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx,
			`UPDATE memberships SET is_current = 0, end_date = ?, updated_at = ?
			 WHERE congress_number = ? AND is_current = 1`,
			formatTime(at), formatTime(at), from,
		)
		if err != nil {
			return fmt.Errorf("end memberships of %d: %w", from, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("end memberships rows affected: %w", err)
		}
		ended = int(n)

		if _, err := tx.ExecContext(ctx,
			`UPDATE members SET is_current = 0, term_end = ? WHERE is_current = 1`, formatTime(at),
		); err != nil {
			return fmt.Errorf("end member terms: %w", err)
		}
		return setConfig(ctx, tx, ConfigTransitionPending, strconv.Itoa(next.CongressNumber))
	})
	if err != nil {
		return 0, fmt.Errorf("transition %d to %d: %w", from, next.CongressNumber, err)
	}
	return ended, nil
}

// TransitionPending returns the congress awaiting its first published full
// refresh, or 0.
func (d *DB) TransitionPending(ctx context.Context) (int, error) {
	v, err := d.GetConfig(ctx, ConfigTransitionPending, "")
	if err != nil || v == "" {
		return 0, err
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s %q: %w", ConfigTransitionPending, v, err)
	}
	return n, nil
}

// ClearTransitionPending is called once a full refresh for congress has
// been published. It only clears a flag that names that congress.
func (d *DB) ClearTransitionPending(ctx context.Context, congress int) error {
	_, err := d.conn.ExecContext(ctx,
		`DELETE FROM config WHERE key = ? AND value = ?`, ConfigTransitionPending, strconv.Itoa(congress))
	if err != nil {
		return fmt.Errorf("clear transition pending: %w", err)
	}
	return nil
}
