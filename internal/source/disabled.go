package source

import (
	"context"
	"fmt"
	"iter"

	"github.com/joestump/congress-roster/internal/roster"
)

// DisabledAdapter stands in for a source whose required configuration is
// missing. Every operation yields a single ErrSourceUnavailable so the
// refresh cycle reports the source as failed instead of silently skipping it.
type DisabledAdapter struct {
	fp     Fingerprint
	reason string
}

// NewDisabledAdapter creates an adapter that rejects all operations.
func NewDisabledAdapter(id string, authority float64, reason string) *DisabledAdapter {
	return &DisabledAdapter{fp: Fingerprint{ID: id, Authority: authority}, reason: reason}
}

func (d *DisabledAdapter) Fingerprint() Fingerprint { return d.fp }

// Reason explains why the adapter is disabled.
func (d *DisabledAdapter) Reason() string { return d.reason }

func (d *DisabledAdapter) err(op string) error {
	return &SourceError{SourceID: d.fp.ID, Op: op, Err: fmt.Errorf("%w: disabled: %s", ErrSourceUnavailable, d.reason)}
}

func (d *DisabledAdapter) ListCurrentMembers(_ context.Context) iter.Seq2[roster.RawMember, error] {
	return fail[roster.RawMember](d.err("list members"))
}

func (d *DisabledAdapter) ListCommittees(_ context.Context, _ roster.Chamber) iter.Seq2[roster.RawCommittee, error] {
	return fail[roster.RawCommittee](d.err("list committees"))
}

func (d *DisabledAdapter) ListCommitteeMemberships(_ context.Context, _ string) iter.Seq2[roster.RawMembership, error] {
	return fail[roster.RawMembership](d.err("list memberships"))
}
