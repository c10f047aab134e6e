// Package source contains the adapters that pull raw congressional records
// out of the upstream sources. Adapters only extract; resolving identities
// and scoring belong to the resolver and reconciler.
package source

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"maps"
	"net/http"
	"slices"

	"github.com/joestump/congress-roster/internal/fetch"
	"github.com/joestump/congress-roster/internal/roster"
)

// Fingerprint identifies an adapter and how much its facts are trusted.
type Fingerprint struct {
	ID        string
	Authority float64
	Static    bool // fallback data, always flagged in health reports
}

// Adapter is implemented by every source. Sequences are lazy: pages are
// fetched as the caller consumes them, and the first non-nil error ends the
// sequence.
type Adapter interface {
	Fingerprint() Fingerprint
	ListCurrentMembers(ctx context.Context) iter.Seq2[roster.RawMember, error]
	ListCommittees(ctx context.Context, chamber roster.Chamber) iter.Seq2[roster.RawCommittee, error]
	ListCommitteeMemberships(ctx context.Context, hint string) iter.Seq2[roster.RawMembership, error]
}

// Fetcher is the subset of *fetch.Fetcher the adapters use.
type Fetcher interface {
	Fetch(ctx context.Context, url string, kind fetch.Kind) (*fetch.Response, error)
	FetchWithHeader(ctx context.Context, url string, kind fetch.Kind, header http.Header) (*fetch.Response, error)
}

var (
	ErrSourceUnavailable = errors.New("source unavailable")
	ErrSchemaChanged     = errors.New("source schema changed")
	ErrDropRate          = errors.New("source drop rate exceeded")
)

// SourceError is returned by every adapter operation.
type SourceError struct {
	SourceID string
	Op       string
	Err      error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("source %s: %s: %v", e.SourceID, e.Op, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

// unavailable wraps a fetch failure so both ErrSourceUnavailable and the
// underlying *fetch.Error are reachable with errors.Is / errors.As.
func unavailable(id, op string, err error) error {
	return &SourceError{SourceID: id, Op: op, Err: fmt.Errorf("%w: %w", ErrSourceUnavailable, err)}
}

func parseFailure(id, op string, err error) error {
	return &SourceError{SourceID: id, Op: op, Err: fmt.Errorf("%w: %w", ErrSchemaChanged, err)}
}

// Thresholds for the per-run schema and drop accounting.
const (
	schemaMissingLimit = 0.20
	dropLimit          = 0.10
	minSample          = 5
)

// tally accumulates per-run record accounting for one adapter operation.
// Counts are cumulative across pages so a single sparse page does not trip
// the check on its own.
type tally struct {
	source  string
	op      string
	total   int
	dropped int
	missing map[string]int
}

func newTally(source, op string) *tally {
	return &tally{source: source, op: op, missing: map[string]int{}}
}

func (t *tally) seen()             { t.total++ }
func (t *tally) drop()             { t.dropped++ }
func (t *tally) miss(field string) { t.missing[field]++ }

// check returns a *SourceError once the cumulative counts exceed a limit.
// Below minSample records it waits for more pages.
func (t *tally) check() error {
	if t.total < minSample {
		return nil
	}
	return t.limits()
}

// settle applies the limits to the final counts of a run, however few
// records it saw.
func (t *tally) settle() error {
	if t.total == 0 {
		return nil
	}
	return t.limits()
}

func (t *tally) limits() error {
	for _, field := range slices.Sorted(maps.Keys(t.missing)) {
		n := t.missing[field]
		if float64(n)/float64(t.total) > schemaMissingLimit {
			return &SourceError{SourceID: t.source, Op: t.op,
				Err: fmt.Errorf("%w: field %q absent in %d of %d records", ErrSchemaChanged, field, n, t.total)}
		}
	}
	if float64(t.dropped)/float64(t.total) > dropLimit {
		return &SourceError{SourceID: t.source, Op: t.op,
			Err: fmt.Errorf("%w: %d of %d records unparseable", ErrDropRate, t.dropped, t.total)}
	}
	return nil
}

// emit yields recs once the tally for the page passes its check. It returns
// false when the consumer stopped or an error was yielded.
func emit[T any](t *tally, recs []T, yield func(T, error) bool) bool {
	if err := t.check(); err != nil {
		var zero T
		yield(zero, err)
		return false
	}
	for _, r := range recs {
		if !yield(r, nil) {
			return false
		}
	}
	return true
}

// finish yields the end-of-run tally error, if any, and reports whether the
// run ended cleanly.
func finish[T any](t *tally, yield func(T, error) bool) bool {
	if err := t.settle(); err != nil {
		var zero T
		yield(zero, err)
		return false
	}
	return true
}

// fail yields a single error.
func fail[T any](err error) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var zero T
		yield(zero, err)
	}
}
