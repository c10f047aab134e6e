package refresh

import (
	"context"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joestump/congress-roster/internal/alert"
	"github.com/joestump/congress-roster/internal/db"
	"github.com/joestump/congress-roster/internal/hub"
	"github.com/joestump/congress-roster/internal/reconcile"
	"github.com/joestump/congress-roster/internal/roster"
	"github.com/joestump/congress-roster/internal/source"
)

var session119 = roster.CongressSession{
	CongressNumber:      119,
	StartDate:           time.Date(2025, 1, 3, 17, 0, 0, 0, time.UTC),
	EndDate:             time.Date(2027, 1, 3, 17, 0, 0, 0, time.UTC),
	IsCurrent:           true,
	MajorityPartyHouse:  roster.Republican,
	MajorityPartySenate: roster.Republican,
}

// --- fakes ---

type fakeAdapter struct {
	fp          source.Fingerprint
	members     []roster.RawMember
	committees  []roster.RawCommittee
	memberships []roster.RawMembership
	err         error
	block       bool
	started     chan struct{}
}

func (f *fakeAdapter) Fingerprint() source.Fingerprint { return f.fp }

func seq[T any](ctx context.Context, f *fakeAdapter, recs []T) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var zero T
		if f.block {
			if f.started != nil {
				close(f.started)
				f.started = nil
			}
			<-ctx.Done()
			yield(zero, ctx.Err())
			return
		}
		if f.err != nil {
			yield(zero, f.err)
			return
		}
		for _, r := range recs {
			if !yield(r, nil) {
				return
			}
		}
	}
}

func (f *fakeAdapter) ListCurrentMembers(ctx context.Context) iter.Seq2[roster.RawMember, error] {
	return seq(ctx, f, f.members)
}

func (f *fakeAdapter) ListCommittees(ctx context.Context, _ roster.Chamber) iter.Seq2[roster.RawCommittee, error] {
	return seq(ctx, f, f.committees)
}

func (f *fakeAdapter) ListCommitteeMemberships(ctx context.Context, _ string) iter.Seq2[roster.RawMembership, error] {
	return seq(ctx, f, f.memberships)
}

type recordingAlerter struct {
	mu     sync.Mutex
	events []alert.Event
}

func (r *recordingAlerter) Raise(_ context.Context, ev alert.Event) (*db.Alert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return &db.Alert{ID: fmt.Sprint(len(r.events)), Rule: ev.Rule}, nil
}

func (r *recordingAlerter) byRule(rule string) []alert.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []alert.Event
	for _, ev := range r.events {
		if ev.Rule == rule {
			out = append(out, ev)
		}
	}
	return out
}

// --- fixtures ---

var (
	grassley = roster.RawMember{BioguideID: "G000386", Name: "Grassley, Chuck", Party: "R", State: "IA", Chamber: "Senate"}
	durbin   = roster.RawMember{BioguideID: "D000563", Name: "Durbin, Richard", Party: "D", State: "IL", Chamber: "Senate"}
	lee      = roster.RawMember{BioguideID: "L000577", Name: "Lee, Mike", Party: "R", State: "UT", Chamber: "Senate"}
	judic    = roster.RawCommittee{Code: "SSJU", Name: "Committee on the Judiciary", Chamber: "Senate", Type: "Standing"}
)

func seat(m roster.RawMember, c roster.RawCommittee, hint string) roster.RawMembership {
	return roster.RawMembership{Member: m, Committee: c, PositionHint: hint}
}

func senateSource(id string, authority float64, memberships ...roster.RawMembership) *fakeAdapter {
	return &fakeAdapter{
		fp:          source.Fingerprint{ID: id, Authority: authority},
		members:     []roster.RawMember{grassley, durbin, lee},
		committees:  []roster.RawCommittee{judic},
		memberships: memberships,
	}
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type harness struct {
	store  *db.DB
	alerts *recordingAlerter
	clock  *clock
	hub    *hub.Hub
	reg    *prometheus.Registry
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store, err := db.Open(filepath.Join(t.TempDir(), "refresh.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.UpsertSession(context.Background(), session119))
	return &harness{
		store:  store,
		alerts: &recordingAlerter{},
		clock:  &clock{t: time.Date(2025, 6, 2, 6, 0, 0, 0, time.UTC)},
		hub:    hub.New(),
		reg:    prometheus.NewRegistry(),
	}
}

func (h *harness) refresher(adapters []source.Adapter, extra ...Option) *Refresher {
	engine := reconcile.New(map[string]float64{}, reconcile.DefaultOptions())
	opts := append([]Option{
		WithAlerter(h.alerts),
		WithProgress(h.hub),
		WithClock(h.clock.now),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithRegisterer(h.reg),
	}, extra...)
	return New(h.store, adapters, engine, opts...)
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
	metrics:
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if labels[lp.GetName()] != lp.GetValue() {
					continue metrics
				}
			}
			return m.GetCounter().GetValue()
		}
	}
	return 0
}

// --- tests ---

func TestRun_PublishesAgreedChair(t *testing.T) {
	h := newHarness(t)
	r := h.refresher([]source.Adapter{
		senateSource("senate", 0.9, seat(grassley, judic, "(Chairman)"), seat(durbin, judic, "(Ranking Member)")),
		senateSource("congressapi", 0.8, seat(grassley, judic, "Chairman"), seat(durbin, judic, "Ranking Member")),
	})
	ctx := context.Background()

	res, err := r.Run(ctx, "", "manual")
	require.NoError(t, err)
	assert.Equal(t, db.RunPublished, res.Status)
	assert.True(t, res.Published)
	assert.Positive(t, res.FactsWritten)
	assert.Empty(t, res.Pending)
	require.Len(t, res.Adapters, 2)
	assert.Equal(t, "congressapi", res.Adapters[0].SourceID)
	assert.Equal(t, "ok", res.Adapters[1].Status)

	ms, err := h.store.ListMemberships(ctx, "SSJU", 119)
	require.NoError(t, err)
	require.Len(t, ms, 2)
	assert.Equal(t, "G000386", ms[0].BioguideID)
	assert.Equal(t, roster.Chair, ms[0].Position)
	assert.True(t, ms[0].IsCurrent)
	assert.GreaterOrEqual(t, ms[0].Confidence, 90.0)

	run, err := h.store.GetRefreshRun(ctx, res.RunID)
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, db.RunPublished, run.Status)
	assert.True(t, run.Published)
	assert.Equal(t, "manual", run.Trigger)
	require.NotNil(t, run.EndedAt)

	meta, err := h.store.GetViewMeta(ctx)
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Equal(t, res.RunID, meta.RunID)

	assert.Empty(t, h.alerts.events)
	assert.Equal(t, 1.0, counterValue(t, h.reg, "rosterd_refresh_runs_total", map[string]string{"status": db.RunPublished}))
	assert.Equal(t, 1.0, counterValue(t, h.reg, "rosterd_refresh_adapter_runs_total", map[string]string{"source": "senate", "status": "ok"}))
}

func TestRun_ConflictingChairAlertsWithBothCandidates(t *testing.T) {
	h := newHarness(t)
	r := h.refresher([]source.Adapter{
		senateSource("senate", 0.9, seat(grassley, judic, "(Chairman)"), seat(durbin, judic, "")),
		senateSource("congressapi", 0.8, seat(grassley, judic, ""), seat(durbin, judic, "Chairman")),
	})
	ctx := context.Background()

	res, err := r.Run(ctx, "", "manual")
	require.NoError(t, err)
	assert.Equal(t, db.RunPublished, res.Status)

	ms, err := h.store.ListMemberships(ctx, "SSJU", 119)
	require.NoError(t, err)
	positions := map[string]roster.Position{}
	for _, m := range ms {
		positions[m.BioguideID] = m.Position
	}
	assert.Equal(t, roster.Chair, positions["G000386"])
	assert.Equal(t, roster.MemberRole, positions["D000563"])

	require.Len(t, res.View.Conflicts, 1)
	c := res.View.Conflicts[0]
	assert.Equal(t, "G000386", c.Winner)

	evs := h.alerts.byRule(alert.RuleLeadershipConflict)
	require.Len(t, evs, 1)
	assert.Equal(t, "SSJU/Chair", evs[0].Source)
	assert.Contains(t, evs[0].Message, "G000386")
	assert.Contains(t, evs[0].Message, "D000563")
	assert.Equal(t, []string{"G000386", "D000563"}, evs[0].Context["candidates"])
}

func TestRun_OrphanSubcommitteeRefusesPublish(t *testing.T) {
	h := newHarness(t)
	orphan := roster.RawCommittee{
		Name:       "Subcommittee on the Constitution",
		Chamber:    "Senate",
		Type:       "Subcommittee",
		ParentHint: "Committee on Space Exploration",
	}
	src := senateSource("senate", 0.9, seat(grassley, judic, "(Chairman)"))
	src.committees = append(src.committees, orphan)
	r := h.refresher([]source.Adapter{src})
	ctx := context.Background()

	res, err := r.Run(ctx, "", "manual")
	require.NoError(t, err)
	assert.Equal(t, db.RunRefused, res.Status)
	assert.False(t, res.Published)
	require.NotNil(t, res.Violation)
	assert.Contains(t, res.Violation.Rules(), reconcile.RuleUnresolvedParent)

	require.Len(t, res.Pending, 1)
	assert.Equal(t, roster.KindCommittee, res.Pending[0].Kind)

	// Facts are kept even though the view was refused.
	n, err := h.store.CountFacts(ctx)
	require.NoError(t, err)
	assert.Positive(t, n)

	meta, err := h.store.GetViewMeta(ctx)
	require.NoError(t, err)
	assert.Nil(t, meta, "nothing published")
	for _, c := range res.View.Committees {
		assert.NotEqual(t, "SSJU21", c.Code)
	}

	evs := h.alerts.byRule(alert.RuleIntegrityViolation)
	require.Len(t, evs, 1)
	assert.Contains(t, evs[0].Message, "SSJU21")

	run, err := h.store.GetRefreshRun(ctx, res.RunID)
	require.NoError(t, err)
	assert.Equal(t, db.RunRefused, run.Status)
	require.NotNil(t, run.Error)
	assert.Equal(t, 1, run.Pending)
}

func TestRun_FailedSourceIsIsolated(t *testing.T) {
	h := newHarness(t)
	down := &fakeAdapter{
		fp: source.Fingerprint{ID: "house", Authority: 0.9},
		err: &source.SourceError{SourceID: "house", Op: "list members",
			Err: fmt.Errorf("%w: circuit open for clerk.house.gov", source.ErrSourceUnavailable)},
	}
	changed := &fakeAdapter{
		fp:  source.Fingerprint{ID: "mirror", Authority: 0.6},
		err: &source.SourceError{SourceID: "mirror", Op: "list members", Err: fmt.Errorf("%w: field person missing", source.ErrSchemaChanged)},
	}
	r := h.refresher([]source.Adapter{
		down,
		senateSource("senate", 0.9, seat(grassley, judic, "(Chairman)")),
		changed,
	})
	ctx := context.Background()

	res, err := r.Run(ctx, "", "daily_freshness_check")
	require.NoError(t, err)
	assert.Equal(t, db.RunPublished, res.Status)

	runs, err := h.store.ListAdapterRuns(ctx, res.RunID)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	byID := map[string]db.AdapterRun{}
	for _, ar := range runs {
		byID[ar.SourceID] = ar
	}
	assert.Equal(t, "failed", byID["house"].Status)
	require.NotNil(t, byID["house"].ErrorKind)
	assert.Equal(t, KindUnavailable, *byID["house"].ErrorKind)
	assert.Equal(t, KindSchemaChanged, *byID["mirror"].ErrorKind)
	assert.Equal(t, "ok", byID["senate"].Status)
	assert.Positive(t, byID["senate"].Records)

	failures := h.alerts.byRule(alert.RuleSourceFailure)
	require.Len(t, failures, 1)
	assert.Equal(t, "house", failures[0].Source)
	schema := h.alerts.byRule(alert.RuleSchemaChanged)
	require.Len(t, schema, 1)
	assert.Equal(t, "mirror", schema[0].Source)
}

func TestRun_AdapterTimeout(t *testing.T) {
	h := newHarness(t)
	slow := &fakeAdapter{fp: source.Fingerprint{ID: "congressapi", Authority: 0.8}, block: true}
	opts := DefaultOptions()
	opts.AdapterTimeout = 50 * time.Millisecond
	r := h.refresher([]source.Adapter{slow, senateSource("senate", 0.9)}, WithOptions(opts))

	res, err := r.Run(context.Background(), "", "manual")
	require.NoError(t, err)
	assert.Equal(t, db.RunPublished, res.Status)
	require.Len(t, res.Adapters, 2)
	assert.Equal(t, "timeout", res.Adapters[0].Status)
	require.Len(t, h.alerts.byRule(alert.RuleSourceFailure), 1)
}

func TestRun_AllSourcesFailKeepsView(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ok := senateSource("senate", 0.9, seat(grassley, judic, "(Chairman)"))
	_, err := h.refresher([]source.Adapter{ok}).Run(ctx, "", "manual")
	require.NoError(t, err)
	before, err := h.store.GetViewMeta(ctx)
	require.NoError(t, err)
	require.NotNil(t, before)

	h.clock.advance(time.Hour)
	ok.err = &source.SourceError{SourceID: "senate", Op: "list members", Err: source.ErrSourceUnavailable}
	res, err := h.refresher([]source.Adapter{ok}, WithRegisterer(prometheus.NewRegistry())).Run(ctx, "", "manual")
	require.NoError(t, err)
	assert.Equal(t, db.RunFailed, res.Status)
	assert.Zero(t, res.FactsWritten)

	after, err := h.store.GetViewMeta(ctx)
	require.NoError(t, err)
	assert.Equal(t, before.RunID, after.RunID)

	run, err := h.store.GetRefreshRun(ctx, res.RunID)
	require.NoError(t, err)
	require.NotNil(t, run.Error)
	assert.Equal(t, "no source succeeded", *run.Error)
}

func TestRun_BusyThenCancelled(t *testing.T) {
	h := newHarness(t)
	started := make(chan struct{})
	slow := &fakeAdapter{fp: source.Fingerprint{ID: "senate", Authority: 0.9}, block: true, started: started}
	r := h.refresher([]source.Adapter{slow})

	ctx, cancel := context.WithCancel(context.Background())
	type outcome struct {
		res *Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := r.Run(ctx, "run-slow", "manual")
		done <- outcome{res, err}
	}()

	<-started
	assert.Equal(t, "run-slow", r.Running())
	_, err := r.Run(context.Background(), "", "manual")
	require.ErrorIs(t, err, ErrBusy)

	cancel()
	out := <-done
	require.Error(t, out.err)
	assert.ErrorIs(t, out.err, context.Canceled)
	assert.Equal(t, db.RunCancelled, out.res.Status)
	assert.Empty(t, r.Running())
	assert.Empty(t, h.alerts.events, "cancelled adapters are not alerted")

	run, err := h.store.GetRefreshRun(context.Background(), "run-slow")
	require.NoError(t, err)
	assert.Equal(t, db.RunCancelled, run.Status)
}

func TestRun_NoSession(t *testing.T) {
	store, err := db.Open(filepath.Join(t.TempDir(), "empty.db"))
	require.NoError(t, err)
	defer store.Close()
	r := New(store, nil, reconcile.New(nil, reconcile.DefaultOptions()), WithRegisterer(prometheus.NewRegistry()))
	_, err = r.Run(context.Background(), "", "manual")
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestRun_LeadershipChange(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	src := senateSource("senate", 0.9, seat(grassley, judic, "(Chairman)"), seat(lee, judic, ""))
	_, err := h.refresher([]source.Adapter{src}).Run(ctx, "", "weekly_leadership_scan")
	require.NoError(t, err)
	assert.Empty(t, h.alerts.byRule(alert.RuleLeadershipChange), "first publish has no baseline")

	h.clock.advance(2 * time.Hour)
	src.memberships = []roster.RawMembership{seat(lee, judic, "(Chairman)")}
	res, err := h.refresher([]source.Adapter{src}, WithRegisterer(prometheus.NewRegistry())).Run(ctx, "", "weekly_leadership_scan")
	require.NoError(t, err)
	require.Equal(t, db.RunPublished, res.Status)

	require.Equal(t, []reconcile.LeadershipChange{
		{Committee: "SSJU", Role: roster.Chair, From: "G000386", To: "L000577"},
	}, res.LeadershipChanges)
	evs := h.alerts.byRule(alert.RuleLeadershipChange)
	require.Len(t, evs, 1)
	assert.Equal(t, "SSJU/Chair", evs[0].Source)

	ms, err := h.store.ListMemberships(ctx, "SSJU", 119)
	require.NoError(t, err)
	for _, m := range ms {
		if m.BioguideID == "G000386" {
			assert.False(t, m.IsCurrent, "absent from the new roster")
			require.NotNil(t, m.EndDate)
		}
	}
}

func TestRun_ClearsTransitionPendingOnlyForLiveSources(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.store.SetConfig(ctx, db.ConfigTransitionPending, "119"))

	static := senateSource("static", 0.4, seat(grassley, judic, "(Chair)"))
	static.fp.Static = true
	_, err := h.refresher([]source.Adapter{static}).Run(ctx, "", "manual")
	require.NoError(t, err)
	pending, err := h.store.TransitionPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 119, pending, "fallback data alone does not complete a transition")

	h.clock.advance(time.Hour)
	live := senateSource("senate", 0.9, seat(grassley, judic, "(Chairman)"))
	_, err = h.refresher([]source.Adapter{live}, WithRegisterer(prometheus.NewRegistry())).Run(ctx, "", "manual")
	require.NoError(t, err)
	pending, err = h.store.TransitionPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)
}

func TestRun_StreamsProgress(t *testing.T) {
	h := newHarness(t)
	r := h.refresher([]source.Adapter{senateSource("senate", 0.9, seat(grassley, judic, "(Chairman)"))})
	runID := NewRunID()
	lines, unsubscribe := h.hub.Subscribe(runID)
	defer unsubscribe()

	_, err := r.Run(context.Background(), runID, "manual")
	require.NoError(t, err)
	assert.False(t, h.hub.IsActive(runID))

	var all []string
	for line := range lines {
		all = append(all, line)
	}
	text := strings.Join(all, "\n")
	assert.Contains(t, text, "senate: collecting")
	assert.Contains(t, text, "published")
	assert.Contains(t, text, "finished: published")
}
