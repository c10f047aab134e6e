package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/joestump/congress-roster/internal/reconcile"
	"github.com/joestump/congress-roster/internal/roster"
)

// ViewMeta describes the currently published projection.
type ViewMeta struct {
	CongressNumber int
	GeneratedAt    time.Time
	PublishedAt    time.Time
	RunID          string
}

// --- Projection Methods ---

// Publish replaces the served projection with v in one transaction. Member,
// committee and membership rows are upserted and never deleted; conflicts
// and pending identities describe only the latest view.
func (d *DB) Publish(ctx context.Context, v *reconcile.View, runID string, at time.Time) error {
	err := d.inTx(ctx, func(tx *sql.Tx) error {
		for _, m := range v.Members {
			if err := upsertMember(ctx, tx, m); err != nil {
				return err
			}
		}
		for _, c := range v.Committees {
			if err := upsertCommittee(ctx, tx, c); err != nil {
				return err
			}
		}
		for _, ms := range v.Memberships {
			if err := upsertMembership(ctx, tx, ms); err != nil {
				return err
			}
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM conflicts`); err != nil {
			return fmt.Errorf("clear conflicts: %w", err)
		}
		for _, c := range v.Conflicts {
			candidates, err := json.Marshal(c.Candidates)
			if err != nil {
				return fmt.Errorf("encode conflict candidates: %w", err)
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO conflicts (canonical_code, role, winner, candidates, confidence) VALUES (?, ?, ?, ?, ?)`,
				c.Committee, string(c.Role), c.Winner, string(candidates), c.Confidence,
			); err != nil {
				return fmt.Errorf("insert conflict %s/%s: %w", c.Committee, c.Role, err)
			}
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM pending_identities`); err != nil {
			return fmt.Errorf("clear pending identities: %w", err)
		}
		for _, p := range v.Pending {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO pending_identities (id, kind, source_id, hint, observed_at) VALUES (?, ?, ?, ?, ?)`,
				p.ID, string(p.Kind), p.SourceID, p.Hint, formatTime(p.ObservedAt),
			); err != nil {
				return fmt.Errorf("insert pending identity %s: %w", p.ID, err)
			}
		}

		var run *string
		if runID != "" {
			run = &runID
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO view_meta (id, congress_number, generated_at, published_at, run_id) VALUES (1, ?, ?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET congress_number = excluded.congress_number, generated_at = excluded.generated_at,
			 published_at = excluded.published_at, run_id = excluded.run_id`,
			v.Congress, formatTime(v.GeneratedAt), formatTime(at), run,
		); err != nil {
			return fmt.Errorf("update view meta: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("publish view: %w", err)
	}
	return nil
}

func upsertMember(ctx context.Context, tx *sql.Tx, m roster.Member) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO members (bioguide_id, given_name, family_name, party, chamber, state, district, term_start, term_end, is_current, confidence, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(bioguide_id) DO UPDATE SET given_name = excluded.given_name, family_name = excluded.family_name,
		 party = excluded.party, chamber = excluded.chamber, state = excluded.state, district = excluded.district,
		 term_start = excluded.term_start, term_end = excluded.term_end, is_current = excluded.is_current,
		 confidence = excluded.confidence, updated_at = excluded.updated_at`,
		m.BioguideID, m.GivenName, m.FamilyName, string(m.Party), string(m.Chamber), m.State, m.District,
		formatTimePtr(m.TermStart), formatTimePtr(m.TermEnd), boolToInt(m.IsCurrent), m.Confidence, formatTime(m.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert member %s: %w", m.BioguideID, err)
	}
	return nil
}

func upsertCommittee(ctx context.Context, tx *sql.Tx, c roster.Committee) error {
	var parent *string
	if c.ParentCode != "" {
		parent = &c.ParentCode
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO committees (canonical_code, name, chamber, committee_type, parent_code, jurisdiction, is_active, confidence, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(canonical_code) DO UPDATE SET name = excluded.name, chamber = excluded.chamber,
		 committee_type = excluded.committee_type, parent_code = excluded.parent_code, jurisdiction = excluded.jurisdiction,
		 is_active = excluded.is_active, confidence = excluded.confidence, updated_at = excluded.updated_at`,
		c.Code, c.Name, string(c.Chamber), string(c.Type), parent, c.Jurisdiction, boolToInt(c.IsActive), c.Confidence, formatTime(c.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert committee %s: %w", c.Code, err)
	}
	return nil
}

func upsertMembership(ctx context.Context, tx *sql.Tx, ms roster.Membership) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO memberships (bioguide_id, canonical_code, congress_number, position, rank_within_party, start_date, end_date, is_current, confidence, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(bioguide_id, canonical_code, congress_number) DO UPDATE SET position = excluded.position,
		 rank_within_party = excluded.rank_within_party, start_date = COALESCE(memberships.start_date, excluded.start_date),
		 end_date = excluded.end_date, is_current = excluded.is_current, confidence = excluded.confidence,
		 updated_at = excluded.updated_at`,
		ms.BioguideID, ms.CommitteeCode, ms.CongressNumber, string(ms.Position), ms.RankWithinParty,
		formatTimePtr(ms.StartDate), formatTimePtr(ms.EndDate), boolToInt(ms.IsCurrent), ms.Confidence, formatTime(ms.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert membership %s/%s/%d: %w", ms.BioguideID, ms.CommitteeCode, ms.CongressNumber, err)
	}
	return nil
}

// GetViewMeta returns the published view's metadata, or nil if nothing has
// been published yet.
func (d *DB) GetViewMeta(ctx context.Context) (*ViewMeta, error) {
	var (
		m                    ViewMeta
		generated, published string
		runID                *string
	)
	err := d.conn.QueryRowContext(ctx,
		`SELECT congress_number, generated_at, published_at, run_id FROM view_meta WHERE id = 1`,
	).Scan(&m.CongressNumber, &generated, &published, &runID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get view meta: %w", err)
	}
	if m.GeneratedAt, err = parseTime(generated); err != nil {
		return nil, err
	}
	if m.PublishedAt, err = parseTime(published); err != nil {
		return nil, err
	}
	if runID != nil {
		m.RunID = *runID
	}
	return &m, nil
}

// LoadView reads the whole published projection inside one read
// transaction, so callers see a consistent snapshot even while a refresh
// publishes.
func (d *DB) LoadView(ctx context.Context) (*reconcile.View, error) {
	v := &reconcile.View{}
	err := d.inTx(ctx, func(tx *sql.Tx) error {
		var generated string
		err := tx.QueryRowContext(ctx, `SELECT congress_number, generated_at FROM view_meta WHERE id = 1`).
			Scan(&v.Congress, &generated)
		switch {
		case err == sql.ErrNoRows:
		case err != nil:
			return fmt.Errorf("read view meta: %w", err)
		default:
			if v.GeneratedAt, err = parseTime(generated); err != nil {
				return err
			}
		}

		if v.Members, err = queryMembers(ctx, tx, `ORDER BY bioguide_id`); err != nil {
			return err
		}
		if v.Committees, err = queryCommittees(ctx, tx, `ORDER BY canonical_code`); err != nil {
			return err
		}
		if v.Memberships, err = queryMemberships(ctx, tx, `ORDER BY canonical_code, congress_number, bioguide_id`); err != nil {
			return err
		}
		if v.Conflicts, err = queryConflicts(ctx, tx); err != nil {
			return err
		}
		v.Pending, err = queryPending(ctx, tx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("load view: %w", err)
	}
	return v, nil
}

// MemberFilter narrows ListMembers.
type MemberFilter struct {
	Chamber     roster.Chamber
	State       string
	CurrentOnly bool
}

// ListMembers returns published members ordered by state, chamber and name.
func (d *DB) ListMembers(ctx context.Context, f MemberFilter, limit, offset int) ([]roster.Member, error) {
	clause := `WHERE 1=1`
	var args []any
	if f.Chamber != "" {
		clause += ` AND chamber = ?`
		args = append(args, string(f.Chamber))
	}
	if f.State != "" {
		clause += ` AND state = ?`
		args = append(args, f.State)
	}
	if f.CurrentOnly {
		clause += ` AND is_current = 1`
	}
	clause += ` ORDER BY state, chamber, family_name, given_name LIMIT ? OFFSET ?`
	args = append(args, limit, offset)
	return queryMembers(ctx, d.conn, clause, args...)
}

// GetMember returns one published member, or nil if unknown.
func (d *DB) GetMember(ctx context.Context, bioguideID string) (*roster.Member, error) {
	ms, err := queryMembers(ctx, d.conn, `WHERE bioguide_id = ?`, bioguideID)
	if err != nil || len(ms) == 0 {
		return nil, err
	}
	return &ms[0], nil
}

// ListCommittees returns published committees ordered by code.
func (d *DB) ListCommittees(ctx context.Context, chamber roster.Chamber) ([]roster.Committee, error) {
	if chamber == "" {
		return queryCommittees(ctx, d.conn, `ORDER BY canonical_code`)
	}
	return queryCommittees(ctx, d.conn, `WHERE chamber = ? ORDER BY canonical_code`, string(chamber))
}

// GetCommittee returns one published committee, or nil if unknown.
func (d *DB) GetCommittee(ctx context.Context, code string) (*roster.Committee, error) {
	cs, err := queryCommittees(ctx, d.conn, `WHERE canonical_code = ?`, code)
	if err != nil || len(cs) == 0 {
		return nil, err
	}
	return &cs[0], nil
}

// ListMemberships returns published memberships of one committee (all
// committees when code is empty) for a congress, leadership first.
func (d *DB) ListMemberships(ctx context.Context, code string, congress int) ([]roster.Membership, error) {
	clause := `WHERE congress_number = ?`
	args := []any{congress}
	if code != "" {
		clause += ` AND canonical_code = ?`
		args = append(args, code)
	}
	clause += ` ORDER BY canonical_code,
		CASE position WHEN 'Chair' THEN 0 WHEN 'Ranking Member' THEN 1 WHEN 'Vice Chair' THEN 2 ELSE 3 END,
		COALESCE(rank_within_party, 999), bioguide_id`
	return queryMemberships(ctx, d.conn, clause, args...)
}

// ListConflicts returns the leadership conflicts of the published view.
func (d *DB) ListConflicts(ctx context.Context) ([]reconcile.Conflict, error) {
	return queryConflicts(ctx, d.conn)
}

// ListPending returns the unresolved identities of the published view.
func (d *DB) ListPending(ctx context.Context) ([]reconcile.Pending, error) {
	return queryPending(ctx, d.conn)
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func queryMembers(ctx context.Context, q querier, clause string, args ...any) ([]roster.Member, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT bioguide_id, given_name, family_name, party, chamber, state, district, term_start, term_end, is_current, confidence, updated_at
		 FROM members `+clause, args...)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var members []roster.Member
	for rows.Next() {
		var (
			m                  roster.Member
			party, chamber     string
			termStart, termEnd *string
			current            int
			updated            string
		)
		if err := rows.Scan(&m.BioguideID, &m.GivenName, &m.FamilyName, &party, &chamber, &m.State, &m.District,
			&termStart, &termEnd, &current, &m.Confidence, &updated); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		m.Party, m.Chamber, m.IsCurrent = roster.Party(party), roster.Chamber(chamber), current == 1
		if m.TermStart, err = parseTimePtr(termStart); err != nil {
			return nil, err
		}
		if m.TermEnd, err = parseTimePtr(termEnd); err != nil {
			return nil, err
		}
		if m.UpdatedAt, err = parseTime(updated); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

func queryCommittees(ctx context.Context, q querier, clause string, args ...any) ([]roster.Committee, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT canonical_code, name, chamber, committee_type, parent_code, jurisdiction, is_active, confidence, updated_at
		 FROM committees `+clause, args...)
	if err != nil {
		return nil, fmt.Errorf("list committees: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var committees []roster.Committee
	for rows.Next() {
		var (
			c            roster.Committee
			chamber, typ string
			parent       *string
			active       int
			updated      string
		)
		if err := rows.Scan(&c.Code, &c.Name, &chamber, &typ, &parent, &c.Jurisdiction, &active, &c.Confidence, &updated); err != nil {
			return nil, fmt.Errorf("scan committee: %w", err)
		}
		c.Chamber, c.Type, c.IsActive = roster.Chamber(chamber), roster.CommitteeType(typ), active == 1
		if parent != nil {
			c.ParentCode = *parent
		}
		if c.UpdatedAt, err = parseTime(updated); err != nil {
			return nil, err
		}
		committees = append(committees, c)
	}
	return committees, rows.Err()
}

func queryMemberships(ctx context.Context, q querier, clause string, args ...any) ([]roster.Membership, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT bioguide_id, canonical_code, congress_number, position, rank_within_party, start_date, end_date, is_current, confidence, updated_at
		 FROM memberships `+clause, args...)
	if err != nil {
		return nil, fmt.Errorf("list memberships: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var memberships []roster.Membership
	for rows.Next() {
		var (
			ms         roster.Membership
			position   string
			start, end *string
			current    int
			updated    string
		)
		if err := rows.Scan(&ms.BioguideID, &ms.CommitteeCode, &ms.CongressNumber, &position, &ms.RankWithinParty,
			&start, &end, &current, &ms.Confidence, &updated); err != nil {
			return nil, fmt.Errorf("scan membership: %w", err)
		}
		ms.Position, ms.IsCurrent = roster.Position(position), current == 1
		if ms.StartDate, err = parseTimePtr(start); err != nil {
			return nil, err
		}
		if ms.EndDate, err = parseTimePtr(end); err != nil {
			return nil, err
		}
		if ms.UpdatedAt, err = parseTime(updated); err != nil {
			return nil, err
		}
		memberships = append(memberships, ms)
	}
	return memberships, rows.Err()
}

func queryConflicts(ctx context.Context, q querier) ([]reconcile.Conflict, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT canonical_code, role, winner, candidates, confidence FROM conflicts ORDER BY canonical_code, role`)
	if err != nil {
		return nil, fmt.Errorf("list conflicts: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var conflicts []reconcile.Conflict
	for rows.Next() {
		var (
			c          reconcile.Conflict
			role, cand string
		)
		if err := rows.Scan(&c.Committee, &role, &c.Winner, &cand, &c.Confidence); err != nil {
			return nil, fmt.Errorf("scan conflict: %w", err)
		}
		c.Role = roster.Position(role)
		if err := json.Unmarshal([]byte(cand), &c.Candidates); err != nil {
			return nil, fmt.Errorf("decode conflict candidates: %w", err)
		}
		conflicts = append(conflicts, c)
	}
	return conflicts, rows.Err()
}

func queryPending(ctx context.Context, q querier) ([]reconcile.Pending, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, kind, source_id, hint, observed_at FROM pending_identities ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list pending identities: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var pending []reconcile.Pending
	for rows.Next() {
		var (
			p        reconcile.Pending
			kind     string
			observed string
		)
		if err := rows.Scan(&p.ID, &kind, &p.SourceID, &p.Hint, &observed); err != nil {
			return nil, fmt.Errorf("scan pending identity: %w", err)
		}
		p.Kind = roster.EntityKind(kind)
		if p.ObservedAt, err = parseTime(observed); err != nil {
			return nil, err
		}
		pending = append(pending, p)
	}
	return pending, rows.Err()
}
