// Package refresh runs one ingest cycle: every enabled source is collected
// concurrently, the raw records are resolved into facts and appended to the
// store, and the reconciled view is checked and published.
package refresh

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sourcegraph/conc/pool"

	"github.com/joestump/congress-roster/internal/alert"
	"github.com/joestump/congress-roster/internal/db"
	"github.com/joestump/congress-roster/internal/reconcile"
	"github.com/joestump/congress-roster/internal/resolve"
	"github.com/joestump/congress-roster/internal/roster"
	"github.com/joestump/congress-roster/internal/source"
)

var (
	ErrBusy      = errors.New("refresh already running")
	ErrNoSession = errors.New("no current congress session")
)

// Alerter raises operator alerts.
type Alerter interface {
	Raise(ctx context.Context, ev alert.Event) (*db.Alert, error)
}

// Progress receives human-readable progress lines per run.
type Progress interface {
	Publish(runID, line string)
	Close(runID string)
}

// Options bounds a cycle.
type Options struct {
	Concurrency    int
	AdapterTimeout time.Duration
	CycleTimeout   time.Duration
	Resolve        resolve.Options
}

// DefaultOptions runs three adapters at a time, ten minutes each, thirty
// minutes per cycle.
func DefaultOptions() Options {
	return Options{
		Concurrency:    3,
		AdapterTimeout: 10 * time.Minute,
		CycleTimeout:   30 * time.Minute,
		Resolve:        resolve.DefaultOptions(),
	}
}

// Option configures a Refresher.
type Option func(*Refresher)

func WithAlerter(a Alerter) Option { return func(r *Refresher) { r.alerts = a } }
func WithProgress(p Progress) Option { return func(r *Refresher) { r.progress = p } }
func WithLogger(l *slog.Logger) Option { return func(r *Refresher) { r.logger = l } }
func WithClock(now func() time.Time) Option { return func(r *Refresher) { r.now = now } }
func WithAliases(a *resolve.Aliases) Option { return func(r *Refresher) { r.aliases = a } }
func WithOptions(o Options) Option { return func(r *Refresher) { r.opts = o } }
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(r *Refresher) { r.reg = reg }
}

// Refresher runs refresh cycles against one store. Only one cycle runs at a
// time per Refresher.
type Refresher struct {
	store    *db.DB
	adapters []source.Adapter
	engine   *reconcile.Engine
	aliases  *resolve.Aliases
	alerts   Alerter
	progress Progress
	reg      prometheus.Registerer
	metrics  *Metrics
	logger   *slog.Logger
	now      func() time.Time
	opts     Options

	mu      sync.Mutex
	running string
}

// New creates a Refresher over the given adapters.
func New(store *db.DB, adapters []source.Adapter, engine *reconcile.Engine, opts ...Option) *Refresher {
	r := &Refresher{
		store:    store,
		adapters: adapters,
		engine:   engine,
		logger:   slog.Default(),
		now:      time.Now,
		opts:     DefaultOptions(),
	}
	for _, o := range opts {
		o(r)
	}
	if r.reg != nil {
		r.metrics = NewMetrics(r.reg)
	}
	def := DefaultOptions()
	if r.opts.Concurrency <= 0 {
		r.opts.Concurrency = def.Concurrency
	}
	if r.opts.AdapterTimeout <= 0 {
		r.opts.AdapterTimeout = def.AdapterTimeout
	}
	if r.opts.CycleTimeout <= 0 {
		r.opts.CycleTimeout = def.CycleTimeout
	}
	return r
}

// Running returns the id of the run in progress, or "".
func (r *Refresher) Running() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Result summarizes one run.
type Result struct {
	RunID             string
	Congress          int
	Status            string
	Adapters          []db.AdapterRun
	FactsWritten      int
	Pending           []resolve.Pending
	Published         bool
	View              *reconcile.View
	Violation         *reconcile.IntegrityViolation
	LeadershipChanges []reconcile.LeadershipChange
}

// collected is the phase one output of one adapter.
type collected struct {
	fp      source.Fingerprint
	records []roster.RawRecord
	run     db.AdapterRun
	err     error
}

// NewRunID returns a fresh run id, so callers can subscribe to progress
// before the run starts.
func NewRunID() string { return uuid.NewString() }

// Run executes one cycle under runID (generated when empty). trigger names
// what started it. Adapter failures never fail the run; the run fails only
// when the store does, and is refused when the new view breaks an integrity
// rule, in which case the previous view stays published.
func (r *Refresher) Run(ctx context.Context, runID, trigger string) (*Result, error) {
	if runID == "" {
		runID = NewRunID()
	}
	r.mu.Lock()
	if r.running != "" {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrBusy, r.running)
	}
	r.running = runID
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.running = ""
		r.mu.Unlock()
	}()
	if r.progress != nil {
		defer r.progress.Close(runID)
	}

	session, err := r.store.CurrentSession(ctx)
	if err != nil {
		return nil, fmt.Errorf("refresh: %w", err)
	}
	if session == nil {
		return nil, ErrNoSession
	}

	started := r.now().UTC()
	run := &db.RefreshRun{
		ID:             runID,
		Trigger:        trigger,
		CongressNumber: session.CongressNumber,
		Status:         db.RunRunning,
		StartedAt:      started,
	}
	if err := r.store.InsertRefreshRun(ctx, run); err != nil {
		return nil, fmt.Errorf("refresh: %w", err)
	}
	r.logger.Info("refresh started", "run", runID, "trigger", trigger, "congress", session.CongressNumber, "sources", len(r.adapters))
	r.say(runID, "refresh %s started for the %d Congress with %d sources", runID, session.CongressNumber, len(r.adapters))

	res := &Result{RunID: runID, Congress: session.CongressNumber}
	cycleCtx, cancel := context.WithTimeout(ctx, r.opts.CycleTimeout)
	defer cancel()

	err = r.cycle(cycleCtx, *session, runID, started, res)
	return res, r.finish(ctx, run, res, err)
}

func (r *Refresher) cycle(ctx context.Context, session roster.CongressSession, runID string, started time.Time, res *Result) error {
	results := r.collectAll(ctx, runID)
	for _, c := range results {
		res.Adapters = append(res.Adapters, c.run)
		if err := r.store.InsertAdapterRun(context.WithoutCancel(ctx), c.run); err != nil {
			return err
		}
	}
	r.alertFailures(ctx, results)
	if err := ctx.Err(); err != nil {
		return err
	}

	var (
		inputs     []resolve.Input
		anyLive    bool
		anySuccess bool
	)
	for _, c := range results {
		if c.err != nil {
			continue
		}
		anySuccess = true
		anyLive = anyLive || !c.fp.Static
		inputs = append(inputs, resolve.Input{
			Origin: resolve.Origin{
				SourceID:   c.fp.ID,
				Authority:  c.fp.Authority,
				ObservedAt: started,
				RunID:      runID,
				Partial:    c.fp.Static,
			},
			Records: c.records,
		})
	}
	if !anySuccess {
		res.Status = db.RunFailed
		r.say(runID, "no source succeeded, keeping the published view")
		return nil
	}

	prev, err := r.store.LoadView(ctx)
	if err != nil {
		return err
	}
	resolver := resolve.New(r.aliases, prev.Members, r.opts.Resolve)
	batch := resolver.ResolveAll(session.CongressNumber, inputs)
	for _, in := range inputs {
		batch.Facts = append(batch.Facts, resolver.Absences(in.Origin, session.CongressNumber, prev.Memberships, batch)...)
	}
	res.Pending = batch.Pending
	for _, p := range batch.Pending {
		r.logger.Info("pending identity", "run", runID, "kind", p.Kind, "source", p.SourceID, "hint", p.Hint, "reason", p.Reason)
	}
	r.say(runID, "resolved %d facts, %d pending identities", len(batch.Facts), len(batch.Pending))

	bySource := map[string][]roster.Fact{}
	for _, f := range batch.Facts {
		bySource[f.SourceID] = append(bySource[f.SourceID], f)
	}
	ids := make([]string, 0, len(bySource))
	for id := range bySource {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := r.store.AppendFacts(ctx, bySource[id])
		if err != nil {
			return err
		}
		res.FactsWritten += n
		r.say(runID, "%s: appended %d new facts", id, n)
	}

	facts, err := r.store.LatestFacts(ctx)
	if err != nil {
		return err
	}
	now := r.now().UTC()
	view := r.engine.Project(facts, session, now)
	res.View = view

	if err := reconcile.Check(view, session); err != nil {
		var iv *reconcile.IntegrityViolation
		if !errors.As(err, &iv) {
			return err
		}
		res.Status = db.RunRefused
		res.Violation = iv
		r.logger.Error("publish refused", "run", runID, "rules", iv.Rules(), "violations", len(iv.Violations))
		r.say(runID, "publish refused: %v", iv)
		r.raise(ctx, alert.Event{
			Rule:    alert.RuleIntegrityViolation,
			Message: violationMessage(iv),
			Context: map[string]any{"run_id": runID, "rules": iv.Rules(), "violations": len(iv.Violations)},
		})
		return nil
	}

	if err := r.store.Publish(ctx, view, runID, now); err != nil {
		return err
	}
	res.Status = db.RunPublished
	res.Published = true
	r.say(runID, "published %d members, %d committees, %d memberships",
		len(view.Members), len(view.Committees), len(view.Memberships))
	if r.metrics != nil {
		r.metrics.LastSuccess.Set(float64(now.Unix()))
	}

	if anyLive {
		if err := r.store.ClearTransitionPending(ctx, session.CongressNumber); err != nil {
			return err
		}
	}

	for _, c := range view.Conflicts {
		r.raise(ctx, alert.Event{
			Rule:   alert.RuleLeadershipConflict,
			Source: c.Committee + "/" + string(c.Role),
			Message: fmt.Sprintf("Sources disagree on the %s of %s: %s (kept, confidence %.0f) vs %s.",
				c.Role, c.Committee, c.Winner, c.Confidence, strings.Join(c.Candidates[1:], ", ")),
			Context: map[string]any{
				"committee": c.Committee, "role": string(c.Role), "winner": c.Winner,
				"candidates": c.Candidates, "confidence": c.Confidence, "run_id": runID,
			},
		})
	}

	res.LeadershipChanges = reconcile.LeadershipDiff(prev, view)
	for _, ch := range res.LeadershipChanges {
		r.raise(ctx, alert.Event{
			Rule:    alert.RuleLeadershipChange,
			Source:  ch.Committee + "/" + string(ch.Role),
			Message: fmt.Sprintf("%s of %s changed from %s to %s.", ch.Role, ch.Committee, orVacant(ch.From), orVacant(ch.To)),
			Context: map[string]any{"committee": ch.Committee, "role": string(ch.Role), "from": ch.From, "to": ch.To, "run_id": runID},
		})
	}
	return nil
}

// collectAll runs phase one: every adapter concurrently, bounded by the
// pool, each under its own timeout. Results come back in source id order.
func (r *Refresher) collectAll(ctx context.Context, runID string) []collected {
	p := pool.NewWithResults[collected]().WithMaxGoroutines(r.opts.Concurrency)
	for _, a := range r.adapters {
		p.Go(func() collected {
			return r.collectOne(ctx, runID, a)
		})
	}
	out := p.Wait()
	slices.SortFunc(out, func(a, b collected) int { return cmp.Compare(a.fp.ID, b.fp.ID) })
	return out
}

func (r *Refresher) collectOne(ctx context.Context, runID string, a source.Adapter) collected {
	fp := a.Fingerprint()
	actx, cancel := context.WithTimeout(ctx, r.opts.AdapterTimeout)
	defer cancel()

	start := r.now().UTC()
	r.say(runID, "%s: collecting", fp.ID)
	recs, err := collect(actx, a)
	c := collected{
		fp:  fp,
		err: err,
		run: db.AdapterRun{
			RunID:     runID,
			SourceID:  fp.ID,
			Status:    "ok",
			StartedAt: start,
			EndedAt:   r.now().UTC(),
		},
	}
	if err != nil {
		status, kind := classify(err)
		msg := err.Error()
		c.run.Status, c.run.ErrorKind, c.run.Error = status, &kind, &msg
		r.logger.Warn("source failed", "run", runID, "source", fp.ID, "kind", kind, "error", err)
		r.say(runID, "%s: %s (%s)", fp.ID, status, kind)
	} else {
		c.records = recs
		c.run.Records = len(recs)
		r.say(runID, "%s: %d records", fp.ID, len(recs))
	}
	if r.metrics != nil {
		r.metrics.AdapterRuns.WithLabelValues(fp.ID, c.run.Status).Inc()
	}
	return c
}

// collect drains all three listings of a. An adapter either contributes
// every record or none.
func collect(ctx context.Context, a source.Adapter) ([]roster.RawRecord, error) {
	var recs []roster.RawRecord
	for m, err := range a.ListCurrentMembers(ctx) {
		if err != nil {
			return nil, err
		}
		recs = append(recs, m)
	}
	for c, err := range a.ListCommittees(ctx, "") {
		if err != nil {
			return nil, err
		}
		recs = append(recs, c)
	}
	for ms, err := range a.ListCommitteeMemberships(ctx, "") {
		if err != nil {
			return nil, err
		}
		recs = append(recs, ms)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return recs, nil
}

// Adapter outcome kinds recorded with each adapter run.
const (
	KindTimeout       = "timeout"
	KindCancelled     = "cancelled"
	KindSchemaChanged = "schema_changed"
	KindDropRate      = "drop_rate"
	KindUnavailable   = "unavailable"
	KindError         = "error"
)

func classify(err error) (status, kind string) {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout", KindTimeout
	case errors.Is(err, context.Canceled):
		return "cancelled", KindCancelled
	case errors.Is(err, source.ErrSchemaChanged):
		return "failed", KindSchemaChanged
	case errors.Is(err, source.ErrDropRate):
		return "failed", KindDropRate
	case errors.Is(err, source.ErrSourceUnavailable):
		return "failed", KindUnavailable
	}
	return "failed", KindError
}

func (r *Refresher) alertFailures(ctx context.Context, results []collected) {
	for _, c := range results {
		if c.err == nil || c.run.Status == "cancelled" {
			continue
		}
		rule := alert.RuleSourceFailure
		if k := *c.run.ErrorKind; k == KindSchemaChanged || k == KindDropRate {
			rule = alert.RuleSchemaChanged
		}
		r.raise(ctx, alert.Event{
			Rule:    rule,
			Source:  c.fp.ID,
			Title:   fmt.Sprintf("Source %s: %s", c.fp.ID, strings.ReplaceAll(*c.run.ErrorKind, "_", " ")),
			Message: c.err.Error(),
			Context: map[string]any{"run_id": c.run.RunID, "kind": *c.run.ErrorKind},
		})
	}
}

func (r *Refresher) raise(ctx context.Context, ev alert.Event) {
	if r.alerts == nil {
		return
	}
	if _, err := r.alerts.Raise(context.WithoutCancel(ctx), ev); err != nil {
		r.logger.Warn("raise alert", "rule", ev.Rule, "source", ev.Source, "error", err)
	}
}

// finish records the run outcome. cycleErr is the store or context error
// that ended the cycle early, if any.
func (r *Refresher) finish(ctx context.Context, run *db.RefreshRun, res *Result, cycleErr error) error {
	ended := r.now().UTC()
	switch {
	case cycleErr == nil:
	case errors.Is(cycleErr, context.Canceled), errors.Is(cycleErr, context.DeadlineExceeded):
		res.Status = db.RunCancelled
	default:
		res.Status = db.RunFailed
	}
	if res.Status == "" {
		res.Status = db.RunFailed
	}

	run.Status = res.Status
	run.EndedAt = &ended
	run.FactsWritten = res.FactsWritten
	run.Pending = len(res.Pending)
	run.Published = res.Published
	switch {
	case cycleErr != nil:
		msg := cycleErr.Error()
		run.Error = &msg
	case res.Violation != nil:
		msg := res.Violation.Error()
		run.Error = &msg
	case res.Status == db.RunFailed:
		msg := "no source succeeded"
		run.Error = &msg
	}
	if err := r.store.FinishRefreshRun(context.WithoutCancel(ctx), run); err != nil {
		return errors.Join(cycleErr, fmt.Errorf("refresh: %w", err))
	}

	if r.metrics != nil {
		r.metrics.Runs.WithLabelValues(res.Status).Inc()
		r.metrics.Duration.Observe(ended.Sub(run.StartedAt).Seconds())
		r.metrics.FactsWritten.Add(float64(res.FactsWritten))
		r.metrics.Pending.Set(float64(len(res.Pending)))
	}
	r.logger.Info("refresh finished", "run", run.ID, "status", res.Status,
		"facts", res.FactsWritten, "pending", len(res.Pending), "duration", ended.Sub(run.StartedAt))
	r.say(run.ID, "refresh %s finished: %s", run.ID, res.Status)
	if cycleErr != nil {
		return fmt.Errorf("refresh %s: %w", run.ID, cycleErr)
	}
	return nil
}

func (r *Refresher) say(runID, format string, args ...any) {
	if r.progress == nil {
		return
	}
	r.progress.Publish(runID, fmt.Sprintf("[%s] ", r.now().UTC().Format(time.RFC3339))+fmt.Sprintf(format, args...))
}

func violationMessage(iv *reconcile.IntegrityViolation) string {
	var b strings.Builder
	b.WriteString("The reconciled roster breaks integrity rules and was not published. The previous view remains.\n\n")
	for i, v := range iv.Violations {
		if i == 20 {
			fmt.Fprintf(&b, "- ... and %d more\n", len(iv.Violations)-i)
			break
		}
		fmt.Fprintf(&b, "- %s\n", v)
	}
	return b.String()
}

func orVacant(id string) string {
	if id == "" {
		return "vacant"
	}
	return id
}
