// Package reconcile merges provenance-tagged facts from every source into one
// canonical value per entity attribute, scores that value's confidence,
// projects the canonical roster and checks it before it is published.
package reconcile

import (
	"cmp"
	"maps"
	"slices"
	"time"

	"github.com/joestump/congress-roster/internal/roster"
)

const dissentPenalty = 10

// Options tunes the confidence engine.
type Options struct {
	// ConfidencePerSource is the number of points each distinct supporting
	// source adds to a value's confidence.
	ConfidencePerSource float64
	// ProtectWindow is how recent two independent "present" observations must
	// be to shield a membership from removal by a single dissenting source.
	// Two or more dissenting sources still remove it.
	ProtectWindow time.Duration
}

// DefaultOptions returns 35 points per source and a 24h protection window.
func DefaultOptions() Options {
	return Options{ConfidencePerSource: 35, ProtectWindow: 24 * time.Hour}
}

// Group is one candidate value and the sources currently asserting it.
type Group struct {
	Value   string
	Sources []string
	Score   float64
	Latest  time.Time

	maxAuthority float64
	freshSum     float64
}

// Result is the reconciled value of one entity attribute.
type Result struct {
	Value      string
	Confidence float64 // 0..100
	Score      float64
	Supporting []string
	Dissenting []string
	Groups     []Group // winner first
	ObservedAt time.Time

	// Protected is set when a presence dissent was recorded but not acted on.
	Protected bool
	// Stale is set when every fact had expired and the value was carried
	// forward with decaying confidence.
	Stale bool
}

// Candidates lists every competing value, winner first.
func (r Result) Candidates() []string {
	out := make([]string, 0, len(r.Groups))
	for _, g := range r.Groups {
		out = append(out, g.Value)
	}
	return out
}

// Engine reconciles facts using per-source authority weights.
type Engine struct {
	weights map[string]float64
	opts    Options
}

// New creates an Engine. Sources missing from weights fall back to the
// confidence stamped on each fact at resolution time.
func New(weights map[string]float64, opts Options) *Engine {
	def := DefaultOptions()
	if opts.ConfidencePerSource <= 0 {
		opts.ConfidencePerSource = def.ConfidencePerSource
	}
	if opts.ProtectWindow <= 0 {
		opts.ProtectWindow = def.ProtectWindow
	}
	return &Engine{weights: maps.Clone(weights), opts: opts}
}

func (e *Engine) authority(f roster.Fact) float64 {
	if w, ok := e.weights[f.SourceID]; ok {
		return w
	}
	return f.Confidence
}

// Reconcile computes the canonical value of every (entity, attribute) pair
// that has at least one live fact at now.
func (e *Engine) Reconcile(facts []roster.Fact, now time.Time) map[roster.Key]Result {
	out := map[roster.Key]Result{}
	for k, fs := range byKey(facts) {
		if r, ok := e.Attribute(fs, now); ok {
			out[k] = r
		}
	}
	return out
}

func byKey(facts []roster.Fact) map[roster.Key][]roster.Fact {
	out := map[roster.Key][]roster.Fact{}
	for _, f := range facts {
		out[f.Key()] = append(out[f.Key()], f)
	}
	return out
}

// Attribute reconciles the facts of a single (entity, attribute) pair. It
// reports false when no fact is live at now.
//
// Each source contributes only its newest live observation. Values are scored
// by the sum of authority times linear freshness over their sources; ties go
// to more distinct sources, then the most recent observation, then the
// lexically smaller value.
func (e *Engine) Attribute(facts []roster.Fact, now time.Time) (Result, bool) {
	live := newest(facts, now)
	if len(live) == 0 {
		return Result{}, false
	}

	byValue := map[string]*Group{}
	for _, f := range live {
		g := byValue[f.Value]
		if g == nil {
			g = &Group{Value: f.Value}
			byValue[f.Value] = g
		}
		a, fresh := e.authority(f), f.Freshness(now)
		g.Sources = append(g.Sources, f.SourceID)
		g.Score += a * fresh
		g.maxAuthority = max(g.maxAuthority, a)
		g.freshSum += fresh
		if f.ObservedAt.After(g.Latest) {
			g.Latest = f.ObservedAt
		}
	}
	groups := make([]Group, 0, len(byValue))
	for _, g := range byValue {
		groups = append(groups, *g)
	}
	slices.SortFunc(groups, rank)

	protected := false
	if isPresence(live[0]) && groups[0].Value != "true" {
		if i := slices.IndexFunc(groups, func(g Group) bool { return g.Value == "true" }); i > 0 && e.protects(facts, live, now) {
			g := groups[i]
			groups = append([]Group{g}, slices.Delete(groups, i, i+1)...)
			protected = true
		}
	}

	win := groups[0]
	r := Result{
		Value:      win.Value,
		Score:      win.Score,
		Supporting: win.Sources,
		Groups:     groups,
		ObservedAt: win.Latest,
		Protected:  protected,
	}
	for _, g := range groups[1:] {
		r.Dissenting = append(r.Dissenting, g.Sources...)
	}
	slices.Sort(r.Dissenting)
	r.Confidence = e.confidence(win, len(groups) > 1)
	return r, true
}

// Value is Attribute with stale carry-forward: when every fact has expired,
// the value reconciled as of the newest observation is returned with its
// confidence decaying linearly to zero over one further lifetime. Entities
// never drop out of the roster just because sources went quiet.
func (e *Engine) Value(facts []roster.Fact, now time.Time) (Result, bool) {
	if r, ok := e.Attribute(facts, now); ok {
		return r, true
	}
	var last roster.Fact
	found := false
	for _, f := range facts {
		if f.ObservedAt.After(now) {
			continue
		}
		if !found || f.ObservedAt.After(last.ObservedAt) {
			last, found = f, true
		}
	}
	if !found {
		return Result{}, false
	}
	r, ok := e.Attribute(facts, last.ObservedAt)
	if !ok {
		return Result{}, false
	}
	decay := 0.0
	if ttl, over := last.ExpiresAt.Sub(last.ObservedAt), now.Sub(last.ExpiresAt); ttl > 0 && over < ttl {
		decay = 1 - float64(over)/float64(ttl)
	}
	r.Confidence *= max(0, min(1, decay))
	r.Stale = true
	return r, true
}

// newest keeps each source's most recent live observation, ordered by source.
func newest(facts []roster.Fact, now time.Time) []roster.Fact {
	latest := map[string]roster.Fact{}
	for _, f := range facts {
		if !f.Live(now) {
			continue
		}
		prev, ok := latest[f.SourceID]
		if !ok || f.ObservedAt.After(prev.ObservedAt) ||
			(f.ObservedAt.Equal(prev.ObservedAt) && f.Value < prev.Value) {
			latest[f.SourceID] = f
		}
	}
	out := slices.Collect(maps.Values(latest))
	slices.SortFunc(out, func(a, b roster.Fact) int { return cmp.Compare(a.SourceID, b.SourceID) })
	return out
}

func rank(a, b Group) int {
	if c := cmp.Compare(b.Score, a.Score); c != 0 {
		return c
	}
	if c := cmp.Compare(len(b.Sources), len(a.Sources)); c != 0 {
		return c
	}
	if c := b.Latest.Compare(a.Latest); c != 0 {
		return c
	}
	return cmp.Compare(a.Value, b.Value)
}

func isPresence(f roster.Fact) bool {
	return f.EntityKind == roster.KindMembership && f.Attribute == roster.AttrPresent
}

// protects reports whether the membership is shielded from removal: at least
// two distinct sources observed it present within the protection window, and
// fewer than two sources currently report it absent. Every observation in the
// window counts, including earlier ones from a source that now dissents.
func (e *Engine) protects(facts, live []roster.Fact, now time.Time) bool {
	since := now.Add(-e.opts.ProtectWindow)
	present := map[string]bool{}
	for _, f := range facts {
		if f.Value == "true" && !f.ObservedAt.Before(since) && !f.ObservedAt.After(now) {
			present[f.SourceID] = true
		}
	}
	absent := 0
	for _, f := range live {
		if f.Value == "false" {
			absent++
		}
	}
	return len(present) >= 2 && absent < 2
}

// confidence is min(100, K·sources + 20·max authority + 5·mean freshness),
// less the dissent penalty, floored at zero.
func (e *Engine) confidence(g Group, dissent bool) float64 {
	n := float64(len(g.Sources))
	c := min(100, e.opts.ConfidencePerSource*n+20*g.maxAuthority+5*g.freshSum/n)
	if dissent {
		c -= dissentPenalty
	}
	return max(0, c)
}
