//go:build property

package reconcile

import (
	"reflect"
	"slices"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/joestump/congress-roster/internal/roster"
)

type observation struct {
	Entity int
	Value  int
	Source int
	AgeMin int
}

var (
	propSources = []string{"senate", "house", "congressapi", "mirror"}
	propValues  = []string{"Chair", "Ranking Member", "Member"}
)

func genObservations() gopter.Gen {
	return gen.SliceOf(gopter.CombineGens(
		gen.IntRange(0, 2),
		gen.IntRange(0, len(propValues)-1),
		gen.IntRange(0, len(propSources)-1),
		gen.IntRange(0, 48*60),
	).Map(func(v []any) observation {
		return observation{Entity: v[0].(int), Value: v[1].(int), Source: v[2].(int), AgeMin: v[3].(int)}
	}))
}

func toFacts(obs []observation) []roster.Fact {
	out := make([]roster.Fact, 0, len(obs))
	for _, o := range obs {
		id := roster.MembershipID("M00000"+string(rune('0'+o.Entity)), "SSJU", 119)
		observed := now.Add(-time.Duration(o.AgeMin) * time.Minute)
		out = append(out, fact(roster.KindMembership, id, roster.AttrPosition, propValues[o.Value], propSources[o.Source], observed, day))
	}
	return out
}

func TestReconcileProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)
	e := New(weights, DefaultOptions())

	properties.Property("result is independent of fact order", prop.ForAll(
		func(obs []observation) bool {
			facts := toFacts(obs)
			reversed := slices.Clone(facts)
			slices.Reverse(reversed)
			return reflect.DeepEqual(e.Reconcile(facts, now), e.Reconcile(reversed, now))
		},
		genObservations(),
	))

	properties.Property("re-ingesting identical facts is a no-op", prop.ForAll(
		func(obs []observation) bool {
			facts := toFacts(obs)
			twice := append(slices.Clone(facts), facts...)
			return reflect.DeepEqual(e.Reconcile(facts, now), e.Reconcile(twice, now))
		},
		genObservations(),
	))

	properties.Property("dropping expired facts changes nothing", prop.ForAll(
		func(obs []observation) bool {
			facts := toFacts(obs)
			live := slices.DeleteFunc(slices.Clone(facts), func(f roster.Fact) bool { return !f.Live(now) })
			return reflect.DeepEqual(e.Reconcile(facts, now), e.Reconcile(live, now))
		},
		genObservations(),
	))

	properties.Property("confidence stays within 0..100", prop.ForAll(
		func(obs []observation) bool {
			for _, r := range e.Reconcile(toFacts(obs), now) {
				if r.Confidence < 0 || r.Confidence > 100 {
					return false
				}
			}
			return true
		},
		genObservations(),
	))

	properties.Property("projection is a function of the fact set", prop.ForAll(
		func(obs []observation) bool {
			facts := toFacts(obs)
			return reflect.DeepEqual(e.Project(facts, session, now), e.Project(facts, session, now))
		},
		genObservations(),
	))

	properties.TestingRun(t)
}
