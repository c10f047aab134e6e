package reconcile

import (
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joestump/congress-roster/internal/roster"
)

var (
	now     = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	day     = 24 * time.Hour
	weights = map[string]float64{"senate": 0.9, "house": 0.9, "congressapi": 0.8, "mirror": 0.6}
	session = roster.CongressSession{
		CongressNumber:      119,
		StartDate:           time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC),
		EndDate:             time.Date(2027, 1, 3, 0, 0, 0, 0, time.UTC),
		IsCurrent:           true,
		MajorityPartyHouse:  roster.Republican,
		MajorityPartySenate: roster.Republican,
	}
)

func fact(kind roster.EntityKind, id string, attr roster.Attribute, value, source string, observed time.Time, ttl time.Duration) roster.Fact {
	return roster.Fact{
		ID:         source + "/" + id + "/" + string(attr) + "/" + observed.String(),
		EntityKind: kind,
		EntityID:   id,
		Attribute:  attr,
		Value:      value,
		SourceID:   source,
		ObservedAt: observed,
		ExpiresAt:  observed.Add(ttl),
		Confidence: weights[source],
	}
}

func chairFact(value, source string, observed time.Time) roster.Fact {
	return fact(roster.KindCommittee, "SSJU", roster.AttrChair, value, source, observed, day)
}

func TestAttribute_TwoSourcesAgree(t *testing.T) {
	e := New(weights, DefaultOptions())
	r, ok := e.Attribute([]roster.Fact{
		chairFact("G000386", "senate", now),
		chairFact("G000386", "congressapi", now),
	}, now)
	require.True(t, ok)

	assert.Equal(t, "G000386", r.Value)
	// 35·2 + 20·0.9 + 5·1
	assert.InDelta(t, 93, r.Confidence, 1e-9)
	assert.InDelta(t, 1.7, r.Score, 1e-9)
	assert.Equal(t, []string{"congressapi", "senate"}, r.Supporting)
	assert.Empty(t, r.Dissenting)
}

func TestAttribute_DissentPenalty(t *testing.T) {
	e := New(weights, DefaultOptions())
	r, ok := e.Attribute([]roster.Fact{
		chairFact("D000563", "congressapi", now),
		chairFact("G000386", "senate", now),
	}, now)
	require.True(t, ok)

	assert.Equal(t, "G000386", r.Value)
	// 35 + 20·0.9 + 5 - 10
	assert.InDelta(t, 48, r.Confidence, 1e-9)
	assert.Equal(t, []string{"senate"}, r.Supporting)
	assert.Equal(t, []string{"congressapi"}, r.Dissenting)
	assert.Equal(t, []string{"G000386", "D000563"}, r.Candidates())
}

func TestAttribute_TieBreaks(t *testing.T) {
	e := New(map[string]float64{"a": 0.8, "b": 0.4, "c": 0.4}, DefaultOptions())

	// Equal scores: more distinct sources win.
	r, _ := e.Attribute([]roster.Fact{
		chairFact("X", "a", now),
		chairFact("Y", "b", now),
		chairFact("Y", "c", now),
	}, now)
	assert.Equal(t, "Y", r.Value)

	// Equal scores and source counts: lexical order decides.
	r, _ = e.Attribute([]roster.Fact{
		chairFact("Z", "b", now),
		chairFact("M", "c", now),
	}, now)
	assert.Equal(t, "M", r.Value)
}

func TestAttribute_FreshnessWeighting(t *testing.T) {
	e := New(weights, DefaultOptions())
	// A 0.9 observation 18h old (freshness 0.25) loses to a fresh 0.6 one.
	r, ok := e.Attribute([]roster.Fact{
		chairFact("OLD", "senate", now.Add(-18*time.Hour)),
		chairFact("NEW", "mirror", now),
	}, now)
	require.True(t, ok)
	assert.Equal(t, "NEW", r.Value)
}

func TestAttribute_ExpiredAndFutureIgnored(t *testing.T) {
	e := New(weights, DefaultOptions())
	_, ok := e.Attribute([]roster.Fact{
		chairFact("G000386", "senate", now.Add(-2*day)),
		chairFact("G000386", "mirror", now.Add(time.Hour)),
	}, now)
	assert.False(t, ok)

	// Exactly at expiry the fact no longer counts.
	_, ok = e.Attribute([]roster.Fact{chairFact("G000386", "senate", now.Add(-day))}, now)
	assert.False(t, ok)
}

func TestAttribute_NewestObservationPerSource(t *testing.T) {
	e := New(weights, DefaultOptions())
	r, ok := e.Attribute([]roster.Fact{
		chairFact("D000563", "senate", now.Add(-6*time.Hour)),
		chairFact("G000386", "senate", now.Add(-time.Hour)),
	}, now)
	require.True(t, ok)
	assert.Equal(t, "G000386", r.Value)
	assert.Empty(t, r.Dissenting)
	assert.Len(t, r.Groups, 1)
}

func TestAttribute_ConfidenceSaturates(t *testing.T) {
	e := New(map[string]float64{"a": 1, "b": 1, "c": 1, "d": 1}, DefaultOptions())
	var facts []roster.Fact
	for _, s := range []string{"a", "b", "c", "d"} {
		facts = append(facts, chairFact("X", s, now))
	}
	r, _ := e.Attribute(facts, now)
	assert.Equal(t, 100.0, r.Confidence)
}

func TestAttribute_ConfidencePerSourceConfigurable(t *testing.T) {
	opts := DefaultOptions()
	opts.ConfidencePerSource = 25
	e := New(weights, opts)

	// Two agreeing sources: 25·2 + 20·0.9 + 5.
	r, _ := e.Attribute([]roster.Fact{
		chairFact("G000386", "senate", now),
		chairFact("G000386", "congressapi", now),
	}, now)
	assert.InDelta(t, 73, r.Confidence, 1e-9)

	// Dissent still costs 10 points and leaves the winner alone.
	r, _ = e.Attribute([]roster.Fact{
		chairFact("D000563", "congressapi", now),
		chairFact("G000386", "senate", now),
	}, now)
	assert.Equal(t, "G000386", r.Value)
	assert.InDelta(t, 25+18+5-10, r.Confidence, 1e-9)

	// Saturation at 100.
	sat := New(map[string]float64{"a": 1, "b": 1, "c": 1, "d": 1, "e": 1}, opts)
	var facts []roster.Fact
	for _, src := range []string{"a", "b", "c", "d", "e"} {
		facts = append(facts, chairFact("X", src, now))
	}
	r, _ = sat.Attribute(facts, now)
	assert.Equal(t, 100.0, r.Confidence)

	// Stale carry-forward decays to zero and never drops the value.
	old := []roster.Fact{fact(roster.KindMember, "G000386", roster.AttrParty, "Republican", "senate", now.Add(-8*day), 7*day)}
	r, ok := e.Value(old, now.Add(30*day))
	require.True(t, ok)
	assert.Equal(t, "Republican", r.Value)
	assert.Equal(t, 0.0, r.Confidence)

	// Unset falls back to the default.
	r, _ = New(weights, Options{}).Attribute([]roster.Fact{chairFact("G000386", "senate", now)}, now)
	assert.InDelta(t, 35+18+5, r.Confidence, 1e-9)
}

// --- Membership presence ---

func presence(value, source string, observed time.Time) roster.Fact {
	id := roster.MembershipID("G000386", "SSJU", 119)
	return fact(roster.KindMembership, id, roster.AttrPresent, value, source, observed, day)
}

func TestAttribute_PresenceProtected(t *testing.T) {
	e := New(map[string]float64{"senate": 0.9, "congressapi": 0.3, "mirror": 0.3}, DefaultOptions())
	r, ok := e.Attribute([]roster.Fact{
		presence("true", "congressapi", now.Add(-2*time.Hour)),
		presence("true", "mirror", now.Add(-2*time.Hour)),
		presence("false", "senate", now),
	}, now)
	require.True(t, ok)

	assert.Equal(t, "true", r.Value)
	assert.True(t, r.Protected)
	assert.Equal(t, []string{"congressapi", "mirror"}, r.Supporting)
	assert.Equal(t, []string{"senate"}, r.Dissenting)
	assert.Less(t, r.Confidence, 90.0)
}

func TestAttribute_PresenceProtectedFromConfirmingSourceRegression(t *testing.T) {
	e := New(weights, DefaultOptions())
	r, ok := e.Attribute([]roster.Fact{
		presence("true", "senate", now.Add(-6*time.Hour)),
		presence("true", "congressapi", now.Add(-6*time.Hour)),
		presence("false", "senate", now),
	}, now)
	require.True(t, ok)

	assert.Equal(t, "true", r.Value)
	assert.True(t, r.Protected)
	assert.Equal(t, []string{"congressapi"}, r.Supporting)
	assert.Equal(t, []string{"senate"}, r.Dissenting)
}

func TestAttribute_PresenceRemovedByTwoDissenters(t *testing.T) {
	e := New(weights, DefaultOptions())
	r, ok := e.Attribute([]roster.Fact{
		presence("true", "senate", now.Add(-6*time.Hour)),
		presence("true", "congressapi", now.Add(-6*time.Hour)),
		presence("true", "mirror", now.Add(-6*time.Hour)),
		presence("false", "senate", now),
		presence("false", "congressapi", now),
	}, now)
	require.True(t, ok)

	assert.Equal(t, "false", r.Value)
	assert.False(t, r.Protected)
	assert.Equal(t, []string{"congressapi", "senate"}, r.Supporting)
	assert.Equal(t, []string{"mirror"}, r.Dissenting)
}

func TestAttribute_PresenceSupportOutsideWindow(t *testing.T) {
	e := New(weights, DefaultOptions())
	r, ok := e.Attribute([]roster.Fact{
		presence("true", "senate", now.Add(-30*time.Hour)),
		fact(roster.KindMembership, roster.MembershipID("G000386", "SSJU", 119), roster.AttrPresent, "true", "congressapi", now.Add(-30*time.Hour), 2*day),
		presence("false", "senate", now),
	}, now)
	require.True(t, ok)

	assert.Equal(t, "false", r.Value)
	assert.False(t, r.Protected)
}

func TestAttribute_PresenceSingleSourceNotProtected(t *testing.T) {
	e := New(map[string]float64{"senate": 0.9, "mirror": 0.3}, DefaultOptions())
	r, ok := e.Attribute([]roster.Fact{
		presence("true", "mirror", now.Add(-2*time.Hour)),
		presence("false", "senate", now),
	}, now)
	require.True(t, ok)
	assert.Equal(t, "false", r.Value)
	assert.False(t, r.Protected)
}

func TestValue_StaleCarryForward(t *testing.T) {
	e := New(weights, DefaultOptions())
	facts := []roster.Fact{fact(roster.KindMember, "G000386", roster.AttrParty, "Republican", "senate", now.Add(-8*day), 7*day)}

	_, ok := e.Attribute(facts, now)
	require.False(t, ok)

	r, ok := e.Value(facts, now)
	require.True(t, ok)
	assert.True(t, r.Stale)
	assert.Equal(t, "Republican", r.Value)
	// One day into a seven day decay window.
	assert.InDelta(t, (35+18+5)*6.0/7.0, r.Confidence, 1e-9)

	r, ok = e.Value(facts, now.Add(30*day))
	require.True(t, ok)
	assert.Equal(t, "Republican", r.Value)
	assert.Equal(t, 0.0, r.Confidence)
}

// --- Projection ---

func memberFacts(id, given, family, party, chamber, state, district, source string, observed time.Time) []roster.Fact {
	out := []roster.Fact{
		fact(roster.KindMember, id, roster.AttrGivenName, given, source, observed, 7*day),
		fact(roster.KindMember, id, roster.AttrFamilyName, family, source, observed, 7*day),
		fact(roster.KindMember, id, roster.AttrParty, party, source, observed, 7*day),
		fact(roster.KindMember, id, roster.AttrChamber, chamber, source, observed, 7*day),
		fact(roster.KindMember, id, roster.AttrState, state, source, observed, 7*day),
	}
	if district != "" {
		out = append(out, fact(roster.KindMember, id, roster.AttrDistrict, district, source, observed, 7*day))
	}
	return out
}

func committeeFacts(code, name, chamber, typ, parent, source string) []roster.Fact {
	out := []roster.Fact{
		fact(roster.KindCommittee, code, roster.AttrName, name, source, now, 7*day),
		fact(roster.KindCommittee, code, roster.AttrChamber, chamber, source, now, 7*day),
		fact(roster.KindCommittee, code, roster.AttrCommitteeType, typ, source, now, 7*day),
	}
	if parent != "" {
		out = append(out, fact(roster.KindCommittee, code, roster.AttrParentCode, parent, source, now, 7*day))
	}
	return out
}

func membershipFacts(bid, code string, pos roster.Position, source string) []roster.Fact {
	id := roster.MembershipID(bid, code, 119)
	out := []roster.Fact{
		fact(roster.KindMembership, id, roster.AttrPresent, "true", source, now, day),
		fact(roster.KindMembership, id, roster.AttrPosition, string(pos), source, now, day),
	}
	switch pos {
	case roster.Chair:
		out = append(out, fact(roster.KindCommittee, code, roster.AttrChair, bid, source, now, day))
	case roster.RankingMember:
		out = append(out, fact(roster.KindCommittee, code, roster.AttrRanking, bid, source, now, day))
	}
	return out
}

func judiciary() []roster.Fact {
	var facts []roster.Fact
	for _, src := range []string{"senate", "congressapi"} {
		facts = append(facts, memberFacts("G000386", "Chuck", "Grassley", "Republican", "Senate", "IA", "", src, now)...)
		facts = append(facts, memberFacts("D000563", "Richard", "Durbin", "Democratic", "Senate", "IL", "", src, now)...)
		facts = append(facts, committeeFacts("SSJU", "Committee on the Judiciary", "Senate", "Standing", "", src)...)
	}
	return facts
}

func findMembership(t *testing.T, v *View, bid, code string) roster.Membership {
	t.Helper()
	i := slices.IndexFunc(v.Memberships, func(ms roster.Membership) bool {
		return ms.BioguideID == bid && ms.CommitteeCode == code
	})
	require.GreaterOrEqual(t, i, 0, "membership %s/%s not projected", bid, code)
	return v.Memberships[i]
}

func TestProject_ChairObservedByTwoSources(t *testing.T) {
	facts := judiciary()
	for _, src := range []string{"senate", "congressapi"} {
		facts = append(facts, membershipFacts("G000386", "SSJU", roster.Chair, src)...)
		facts = append(facts, membershipFacts("D000563", "SSJU", roster.RankingMember, src)...)
	}
	e := New(weights, DefaultOptions())
	v := e.Project(facts, session, now)

	ms := findMembership(t, v, "G000386", "SSJU")
	assert.Equal(t, roster.Chair, ms.Position)
	assert.Equal(t, 119, ms.CongressNumber)
	assert.True(t, ms.IsCurrent)
	assert.GreaterOrEqual(t, ms.Confidence, 90.0)

	require.Len(t, v.Members, 2)
	g := v.Members[1]
	assert.Equal(t, "G000386", g.BioguideID)
	assert.Equal(t, "Chuck Grassley (R-IA)", g.DisplayName())
	assert.Nil(t, g.District)
	assert.True(t, g.IsCurrent)

	require.Len(t, v.Committees, 1)
	assert.True(t, v.Committees[0].IsActive)
	assert.Empty(t, v.Conflicts)
	assert.NoError(t, Check(v, session))
}

func TestProject_ConflictingChair(t *testing.T) {
	facts := judiciary()
	facts = append(facts, membershipFacts("G000386", "SSJU", roster.Chair, "senate")...)
	facts = append(facts, membershipFacts("D000563", "SSJU", roster.MemberRole, "senate")...)
	facts = append(facts, membershipFacts("D000563", "SSJU", roster.Chair, "congressapi")...)

	e := New(weights, DefaultOptions())
	v := e.Project(facts, session, now)

	assert.Equal(t, roster.Chair, findMembership(t, v, "G000386", "SSJU").Position)
	assert.Equal(t, roster.MemberRole, findMembership(t, v, "D000563", "SSJU").Position)

	require.Len(t, v.Conflicts, 1)
	c := v.Conflicts[0]
	assert.Equal(t, "SSJU", c.Committee)
	assert.Equal(t, roster.Chair, c.Role)
	assert.Equal(t, "G000386", c.Winner)
	assert.Equal(t, []string{"G000386", "D000563"}, c.Candidates)
	assert.InDelta(t, 48, c.Confidence, 1e-9)

	assert.NoError(t, Check(v, session))
}

func TestProject_OrphanSubcommitteeWithheld(t *testing.T) {
	facts := judiciary()
	facts = append(facts, committeeFacts("SSJU21", "Subcommittee on the Constitution", "Senate", "Subcommittee", "Committee on Space", "senate")...)
	facts = append(facts, membershipFacts("G000386", "SSJU21", roster.MemberRole, "senate")...)
	facts = append(facts, fact(roster.KindPendingIdentity, "committee:senate:committee on space", roster.AttrUnresolved, "Committee on Space", "senate", now, day))

	e := New(weights, DefaultOptions())
	v := e.Project(facts, session, now)

	require.Len(t, v.Orphans, 1)
	assert.Equal(t, "SSJU21", v.Orphans[0].Code)
	for _, c := range v.Committees {
		assert.NotEqual(t, "SSJU21", c.Code)
	}
	for _, ms := range v.Memberships {
		assert.NotEqual(t, "SSJU21", ms.CommitteeCode)
	}
	require.Len(t, v.Pending, 1)
	assert.Equal(t, roster.KindCommittee, v.Pending[0].Kind)
	assert.Equal(t, "senate", v.Pending[0].SourceID)
	assert.Equal(t, "Committee on Space", v.Pending[0].Hint)

	err := Check(v, session)
	var iv *IntegrityViolation
	require.True(t, errors.As(err, &iv))
	assert.Equal(t, []string{RuleUnresolvedParent}, iv.Rules())
}

func TestProject_AbsenceEndsMembership(t *testing.T) {
	facts := judiciary()
	id := roster.MembershipID("D000563", "SSJU", 119)
	facts = append(facts,
		fact(roster.KindMembership, id, roster.AttrPresent, "true", "mirror", now.Add(-30*time.Hour), day),
		fact(roster.KindMembership, id, roster.AttrPresent, "false", "senate", now, day),
	)
	v := New(weights, DefaultOptions()).Project(facts, session, now)

	ms := findMembership(t, v, "D000563", "SSJU")
	assert.False(t, ms.IsCurrent)
	require.NotNil(t, ms.EndDate)
	assert.Equal(t, now, *ms.EndDate)
}

func TestProject_StaleMemberRetained(t *testing.T) {
	facts := memberFacts("W000779", "Ron", "Wyden", "Democratic", "Senate", "OR", "", "senate", now.Add(-10*day))
	v := New(weights, DefaultOptions()).Project(facts, session, now)

	require.Len(t, v.Members, 1)
	m := v.Members[0]
	assert.True(t, m.IsCurrent)
	assert.Equal(t, roster.Democratic, m.Party)
	assert.Greater(t, m.Confidence, 0.0)
	assert.Less(t, m.Confidence, 58.0)
}

func TestProject_PriorCongressMember(t *testing.T) {
	facts := memberFacts("X000001", "Former", "Member", "Republican", "House", "TX", "3", "house", session.StartDate.Add(-30*day))
	v := New(weights, DefaultOptions()).Project(facts, session, now)

	require.Len(t, v.Members, 1)
	assert.False(t, v.Members[0].IsCurrent)
	require.NotNil(t, v.Members[0].TermEnd)
	assert.Equal(t, session.StartDate, *v.Members[0].TermEnd)
}

func TestProject_OrderIndependent(t *testing.T) {
	facts := judiciary()
	facts = append(facts, membershipFacts("G000386", "SSJU", roster.Chair, "senate")...)
	facts = append(facts, membershipFacts("D000563", "SSJU", roster.Chair, "congressapi")...)

	e := New(weights, DefaultOptions())
	a := e.Project(facts, session, now)
	reversed := slices.Clone(facts)
	slices.Reverse(reversed)
	b := e.Project(reversed, session, now)
	assert.Equal(t, a, b)

	// Re-ingesting the same observations changes nothing.
	c := e.Project(append(slices.Clone(facts), facts...), session, now)
	assert.Equal(t, a, c)
}

// --- Integrity ---

func district(n int) *int { return &n }

func TestCheck_Violations(t *testing.T) {
	v := &View{
		Congress: 119,
		Members: []roster.Member{
			{BioguideID: "R1", Chamber: roster.Senate, Party: roster.Republican, IsCurrent: true},
			{BioguideID: "R2", Chamber: roster.Senate, Party: roster.Republican, IsCurrent: true},
			{BioguideID: "D1", Chamber: roster.Senate, Party: roster.Democratic, IsCurrent: true},
			{BioguideID: "H1", Chamber: roster.House, Party: roster.Republican, State: "OH", IsCurrent: true},
			{BioguideID: "H2", Chamber: roster.House, Party: roster.Democratic, State: "CA", District: district(12), IsCurrent: true},
			{BioguideID: "OLD", Chamber: roster.House, Party: roster.Democratic},
			{BioguideID: "TX3A", Chamber: roster.House, Party: roster.Republican, State: "TX", District: district(3), IsCurrent: true},
			{BioguideID: "TX3B", Chamber: roster.House, Party: roster.Republican, State: "TX", District: district(3), IsCurrent: true},
			{BioguideID: "TX3C", Chamber: roster.House, Party: roster.Democratic, State: "TX", District: district(3)},
			{BioguideID: "IA1", Chamber: roster.Senate, Party: roster.Republican, State: "IA", IsCurrent: true},
			{BioguideID: "IA2", Chamber: roster.Senate, Party: roster.Republican, State: "IA", IsCurrent: true},
			{BioguideID: "IA3", Chamber: roster.Senate, Party: roster.Democratic, State: "IA", IsCurrent: true},
			{BioguideID: "IL1", Chamber: roster.Senate, Party: roster.Democratic, State: "IL", IsCurrent: true},
			{BioguideID: "IL2", Chamber: roster.Senate, Party: roster.Democratic, State: "IL", IsCurrent: true},
		},
		Committees: []roster.Committee{
			{Code: "SSJU", Chamber: roster.Senate, Type: roster.Standing},
			{Code: "SSFI", Chamber: roster.Senate, Type: roster.Standing},
			{Code: "SSJU21", Chamber: roster.Senate, Type: roster.Subcommittee, ParentCode: "SSJU"},
			{Code: "SSJU99", Chamber: roster.Senate, Type: roster.Subcommittee, ParentCode: "SSJU21"},
			{Code: "SSXX", Chamber: roster.Senate, Type: roster.Subcommittee, ParentCode: "SSXX"},
			{Code: "HSXX01", Chamber: roster.House, Type: roster.Subcommittee, ParentCode: "SSJU"},
		},
		Memberships: []roster.Membership{
			{BioguideID: "R1", CommitteeCode: "SSJU", CongressNumber: 119, Position: roster.Chair, IsCurrent: true},
			{BioguideID: "R2", CommitteeCode: "SSJU", CongressNumber: 119, Position: roster.Chair, IsCurrent: true},
			{BioguideID: "D1", CommitteeCode: "SSFI", CongressNumber: 119, Position: roster.Chair, IsCurrent: true},
			{BioguideID: "R2", CommitteeCode: "SSFI", CongressNumber: 119, Position: roster.RankingMember, IsCurrent: true},
			{BioguideID: "H2", CommitteeCode: "SSFI", CongressNumber: 119, Position: roster.MemberRole, IsCurrent: true},
			// Not current: ignored.
			{BioguideID: "OLD", CommitteeCode: "SSJU", CongressNumber: 118, Position: roster.Chair},
		},
	}
	err := Check(v, session)
	var iv *IntegrityViolation
	require.True(t, errors.As(err, &iv))
	assert.Equal(t, []string{
		RuleChairParty,
		RuleDuplicateChair,
		RuleDuplicateSeat,
		RuleHouseDistrict,
		RuleMembershipChamber,
		RuleParentChamber,
		RuleParentIsSelf,
		RuleNestedSubcommittee,
		RuleRankingParty,
		RuleSenateSeats,
	}, iv.Rules())

	i := slices.IndexFunc(iv.Violations, func(v Violation) bool { return v.Rule == RuleDuplicateChair })
	assert.Equal(t, []string{"R1", "R2"}, iv.Violations[i].Offending)

	i = slices.IndexFunc(iv.Violations, func(v Violation) bool { return v.Rule == RuleDuplicateSeat })
	assert.Equal(t, "TX-3", iv.Violations[i].Entity)
	assert.Equal(t, []string{"TX3A", "TX3B"}, iv.Violations[i].Offending)

	seats := slices.DeleteFunc(slices.Clone(iv.Violations), func(v Violation) bool { return v.Rule != RuleSenateSeats })
	require.Len(t, seats, 1, "two Illinois senators are allowed")
	assert.Equal(t, "IA", seats[0].Entity)
	assert.Equal(t, []string{"IA1", "IA2", "IA3"}, seats[0].Offending)
	assert.Contains(t, err.Error(), "integrity violation")
}

func TestCheck_UnknownMajoritySkipsPartyRules(t *testing.T) {
	s := session
	s.MajorityPartySenate = roster.Unknown
	v := &View{
		Members:     []roster.Member{{BioguideID: "D1", Chamber: roster.Senate, Party: roster.Democratic, IsCurrent: true}},
		Committees:  []roster.Committee{{Code: "SSFI", Chamber: roster.Senate, Type: roster.Standing}},
		Memberships: []roster.Membership{{BioguideID: "D1", CommitteeCode: "SSFI", CongressNumber: 119, Position: roster.Chair, IsCurrent: true}},
	}
	assert.NoError(t, Check(v, s))
}
