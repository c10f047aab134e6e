package reconcile

import (
	"cmp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joestump/congress-roster/internal/roster"
)

// View is the canonical roster projected from the fact store at one instant.
type View struct {
	Congress    int
	GeneratedAt time.Time
	Members     []roster.Member
	Committees  []roster.Committee
	Memberships []roster.Membership
	Conflicts   []Conflict
	// Orphans are subcommittees withheld from Committees because their parent
	// is not a known committee.
	Orphans []roster.Committee
	Pending []Pending
}

// Conflict records sources disagreeing on who holds a committee leadership
// role. Candidates lists the winner first.
type Conflict struct {
	Committee  string
	Role       roster.Position
	Winner     string
	Candidates []string
	Confidence float64
}

// Pending is a live unresolved identity.
type Pending struct {
	ID         string
	Kind       roster.EntityKind
	SourceID   string
	Hint       string
	ObservedAt time.Time
}

// CurrentMembers returns the current members of a chamber.
func (v *View) CurrentMembers(c roster.Chamber) []roster.Member {
	var out []roster.Member
	for _, m := range v.Members {
		if m.IsCurrent && m.Chamber == c {
			out = append(out, m)
		}
	}
	return out
}

// CurrentMemberships returns every current membership.
func (v *View) CurrentMemberships() []roster.Membership {
	var out []roster.Membership
	for _, ms := range v.Memberships {
		if ms.IsCurrent {
			out = append(out, ms)
		}
	}
	return out
}

// attrs holds the facts of one entity by attribute.
type attrs struct {
	facts  map[roster.Attribute][]roster.Fact
	latest time.Time
}

func (a *attrs) value(e *Engine, attr roster.Attribute, now time.Time) (Result, bool) {
	return e.Value(a.facts[attr], now)
}

type entities map[string]*attrs

func group(facts []roster.Fact, now time.Time) map[roster.EntityKind]entities {
	out := map[roster.EntityKind]entities{}
	for _, f := range facts {
		if f.ObservedAt.After(now) {
			continue
		}
		ents := out[f.EntityKind]
		if ents == nil {
			ents = entities{}
			out[f.EntityKind] = ents
		}
		a := ents[f.EntityID]
		if a == nil {
			a = &attrs{facts: map[roster.Attribute][]roster.Fact{}}
			ents[f.EntityID] = a
		}
		a.facts[f.Attribute] = append(a.facts[f.Attribute], f)
		if f.ObservedAt.After(a.latest) {
			a.latest = f.ObservedAt
		}
	}
	return out
}

// Project builds the canonical view for session from facts as of now.
// Members and committees observed since the session began are current;
// anything older is kept with is_current false. Losing leadership claims
// are projected as plain members and reported as conflicts.
func (e *Engine) Project(facts []roster.Fact, session roster.CongressSession, now time.Time) *View {
	v := &View{Congress: session.CongressNumber, GeneratedAt: now}
	kinds := group(facts, now)

	for _, id := range sortedIDs(kinds[roster.KindMember]) {
		v.Members = append(v.Members, e.member(id, kinds[roster.KindMember][id], session, now))
	}

	known := map[string]roster.Committee{}
	for _, code := range sortedIDs(kinds[roster.KindCommittee]) {
		c := e.committee(code, kinds[roster.KindCommittee][code], session, now)
		known[code] = c
	}
	orphaned := map[string]bool{}
	for _, code := range sortedIDs(kinds[roster.KindCommittee]) {
		c := known[code]
		if c.Type == roster.Subcommittee {
			if _, ok := known[c.ParentCode]; !ok || c.ParentCode == "" {
				orphaned[code] = true
				v.Orphans = append(v.Orphans, c)
				continue
			}
		}
		v.Committees = append(v.Committees, c)
	}

	for _, id := range sortedIDs(kinds[roster.KindMembership]) {
		ms, ok := e.membership(id, kinds[roster.KindMembership][id], session, now)
		if !ok || orphaned[ms.CommitteeCode] {
			continue
		}
		v.Memberships = append(v.Memberships, ms)
	}
	slices.SortFunc(v.Memberships, func(a, b roster.Membership) int {
		return cmp.Or(
			cmp.Compare(a.CommitteeCode, b.CommitteeCode),
			cmp.Compare(a.CongressNumber, b.CongressNumber),
			cmp.Compare(a.BioguideID, b.BioguideID),
		)
	})

	e.leadership(v, kinds[roster.KindCommittee], now)
	markActive(v)

	for _, id := range sortedIDs(kinds[roster.KindPendingIdentity]) {
		a := kinds[roster.KindPendingIdentity][id]
		r, ok := e.Attribute(a.facts[roster.AttrUnresolved], now)
		if !ok {
			continue
		}
		kind, rest, _ := strings.Cut(id, ":")
		src, _, _ := strings.Cut(rest, ":")
		v.Pending = append(v.Pending, Pending{
			ID:         id,
			Kind:       roster.EntityKind(kind),
			SourceID:   src,
			Hint:       r.Value,
			ObservedAt: r.ObservedAt,
		})
	}
	return v
}

func sortedIDs(ents entities) []string {
	ids := make([]string, 0, len(ents))
	for id := range ents {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// tracker accumulates the weakest confidence among an entity's attributes.
type tracker struct {
	confidence float64
	seen       bool
}

func (t *tracker) add(r Result) {
	if !t.seen || r.Confidence < t.confidence {
		t.confidence = r.Confidence
	}
	t.seen = true
}

func (e *Engine) member(id string, a *attrs, session roster.CongressSession, now time.Time) roster.Member {
	m := roster.Member{BioguideID: id, UpdatedAt: a.latest}
	var conf tracker
	get := func(attr roster.Attribute) (string, bool) {
		r, ok := a.value(e, attr, now)
		if !ok {
			return "", false
		}
		conf.add(r)
		return r.Value, true
	}

	m.GivenName, _ = get(roster.AttrGivenName)
	m.FamilyName, _ = get(roster.AttrFamilyName)
	m.State, _ = get(roster.AttrState)
	if s, ok := get(roster.AttrParty); ok {
		m.Party, _ = roster.ParseParty(s)
	}
	if s, ok := get(roster.AttrChamber); ok {
		m.Chamber, _ = roster.ParseChamber(s)
	}
	if s, ok := get(roster.AttrDistrict); ok {
		if d, err := strconv.Atoi(s); err == nil {
			m.District = &d
		}
	}
	if s, ok := get(roster.AttrTermStart); ok {
		if t, err := time.Parse(time.DateOnly, s); err == nil {
			m.TermStart = &t
		}
	}
	m.Confidence = conf.confidence
	m.IsCurrent = !a.latest.Before(session.StartDate)
	if !m.IsCurrent {
		end := session.StartDate
		m.TermEnd = &end
	}
	return m
}

func (e *Engine) committee(code string, a *attrs, session roster.CongressSession, now time.Time) roster.Committee {
	c := roster.Committee{Code: code, UpdatedAt: a.latest}
	var conf tracker
	get := func(attr roster.Attribute) string {
		r, ok := a.value(e, attr, now)
		if !ok {
			return ""
		}
		conf.add(r)
		return r.Value
	}
	c.Name = get(roster.AttrName)
	c.Chamber, _ = roster.ParseChamber(get(roster.AttrChamber))
	c.Type, _ = roster.ParseCommitteeType(get(roster.AttrCommitteeType))
	c.ParentCode = get(roster.AttrParentCode)
	c.Jurisdiction = get(roster.AttrJurisdiction)
	c.Confidence = conf.confidence
	c.IsActive = !a.latest.Before(session.StartDate)
	return c
}

func (e *Engine) membership(id string, a *attrs, session roster.CongressSession, now time.Time) (roster.Membership, bool) {
	bid, code, congress, err := roster.SplitMembershipID(id)
	if err != nil {
		return roster.Membership{}, false
	}
	pres, ok := a.value(e, roster.AttrPresent, now)
	if !ok {
		return roster.Membership{}, false
	}
	ms := roster.Membership{
		BioguideID:     bid,
		CommitteeCode:  code,
		CongressNumber: congress,
		Position:       roster.MemberRole,
		IsCurrent:      pres.Value == "true" && congress == session.CongressNumber,
		Confidence:     pres.Confidence,
		UpdatedAt:      a.latest,
	}
	if r, ok := a.value(e, roster.AttrPosition, now); ok {
		ms.Position = parsePosition(r.Value)
		ms.Confidence = min(ms.Confidence, r.Confidence)
	}
	if r, ok := a.value(e, roster.AttrRank, now); ok {
		if n, err := strconv.Atoi(r.Value); err == nil {
			ms.RankWithinParty = &n
		}
	}
	switch {
	case congress < session.CongressNumber:
		end := session.StartDate
		ms.EndDate = &end
	case pres.Value != "true":
		end := pres.ObservedAt
		ms.EndDate = &end
	}
	return ms, true
}

func parsePosition(s string) roster.Position {
	switch p := roster.Position(s); p {
	case roster.Chair, roster.RankingMember, roster.ViceChair:
		return p
	}
	return roster.MemberRole
}

// leadership applies the reconciled chair and ranking_member committee
// attributes: current memberships claiming a role the committee attribute
// gives to someone else are demoted, and any disagreement is reported.
func (e *Engine) leadership(v *View, committees entities, now time.Time) {
	roles := []struct {
		attr roster.Attribute
		pos  roster.Position
	}{
		{roster.AttrChair, roster.Chair},
		{roster.AttrRanking, roster.RankingMember},
	}
	for _, code := range sortedIDs(committees) {
		for _, role := range roles {
			r, ok := committees[code].value(e, role.attr, now)
			if !ok {
				continue
			}
			if len(r.Groups) > 1 {
				v.Conflicts = append(v.Conflicts, Conflict{
					Committee:  code,
					Role:       role.pos,
					Winner:     r.Value,
					Candidates: r.Candidates(),
					Confidence: r.Confidence,
				})
			}
			for i := range v.Memberships {
				ms := &v.Memberships[i]
				if ms.CommitteeCode == code && ms.CongressNumber == v.Congress &&
					ms.Position == role.pos && ms.BioguideID != r.Value {
					ms.Position = roster.MemberRole
				}
			}
		}
	}
}

// markActive also activates committees referenced by a current membership.
func markActive(v *View) {
	referenced := map[string]bool{}
	for _, ms := range v.Memberships {
		if ms.IsCurrent {
			referenced[ms.CommitteeCode] = true
		}
	}
	for i := range v.Committees {
		if referenced[v.Committees[i].Code] {
			v.Committees[i].IsActive = true
		}
	}
}
