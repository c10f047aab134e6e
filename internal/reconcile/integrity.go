package reconcile

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/joestump/congress-roster/internal/roster"
)

// Integrity rules.
const (
	RuleDuplicateChair     = "duplicate_chair"
	RuleDuplicateRanking   = "duplicate_ranking_member"
	RuleChairParty         = "chair_party_mismatch"
	RuleRankingParty       = "ranking_member_in_majority"
	RuleHouseDistrict      = "house_member_without_district"
	RuleMemberChamber      = "member_chamber_invalid"
	RuleMembershipChamber  = "membership_chamber_mismatch"
	RuleUnresolvedParent   = "unresolved_parent"
	RuleParentIsSelf       = "parent_is_self"
	RuleNestedSubcommittee = "parent_is_subcommittee"
	RuleParentChamber      = "parent_chamber_mismatch"
	RuleStrayParent        = "parent_on_non_subcommittee"
	RuleDuplicateSeat      = "duplicate_house_seat"
	RuleSenateSeats        = "senate_seats_exceeded"
)

// MaxSenatorsPerState is the number of Senate seats each state holds.
const MaxSenatorsPerState = 2

// Violation is one broken roster invariant.
type Violation struct {
	Rule      string
	Entity    string
	Detail    string
	Offending []string
}

func (v Violation) String() string {
	s := fmt.Sprintf("%s %s: %s", v.Rule, v.Entity, v.Detail)
	if len(v.Offending) > 0 {
		s += " [" + strings.Join(v.Offending, ", ") + "]"
	}
	return s
}

// IntegrityViolation lists every invariant a projected view breaks. A view
// that fails Check is never published.
type IntegrityViolation struct {
	Violations []Violation
}

func (e *IntegrityViolation) Error() string {
	if len(e.Violations) == 1 {
		return "integrity violation: " + e.Violations[0].String()
	}
	return fmt.Sprintf("integrity violation: %d problems, first: %s", len(e.Violations), e.Violations[0])
}

// Rules returns the distinct rules broken, sorted.
func (e *IntegrityViolation) Rules() []string {
	var out []string
	for _, v := range e.Violations {
		if !slices.Contains(out, v.Rule) {
			out = append(out, v.Rule)
		}
	}
	slices.Sort(out)
	return out
}

// Check verifies the post-reconciliation invariants of v against session and
// returns an *IntegrityViolation carrying every offence, or nil.
func Check(v *View, session roster.CongressSession) error {
	var out []Violation
	add := func(rule, entity, format string, args ...any) *Violation {
		out = append(out, Violation{Rule: rule, Entity: entity, Detail: fmt.Sprintf(format, args...)})
		return &out[len(out)-1]
	}

	committees := map[string]roster.Committee{}
	for _, c := range v.Committees {
		committees[c.Code] = c
	}
	for _, c := range v.Orphans {
		add(RuleUnresolvedParent, c.Code, "parent %q is not a known committee", c.ParentCode)
	}
	for _, c := range v.Committees {
		if c.ParentCode == "" {
			continue
		}
		if c.Type != roster.Subcommittee {
			add(RuleStrayParent, c.Code, "%s committee has parent %s", c.Type, c.ParentCode)
		}
		if c.ParentCode == c.Code {
			add(RuleParentIsSelf, c.Code, "committee is its own parent")
			continue
		}
		p, ok := committees[c.ParentCode]
		if !ok {
			add(RuleUnresolvedParent, c.Code, "parent %q is not a known committee", c.ParentCode)
			continue
		}
		if p.Type == roster.Subcommittee {
			add(RuleNestedSubcommittee, c.Code, "parent %s is itself a subcommittee", p.Code)
		}
		if p.Chamber != roster.Joint && p.Chamber != c.Chamber {
			add(RuleParentChamber, c.Code, "%s subcommittee under %s parent %s", c.Chamber, p.Chamber, p.Code)
		}
	}

	members := map[string]roster.Member{}
	for _, m := range v.Members {
		members[m.BioguideID] = m
		if !m.IsCurrent {
			continue
		}
		if m.Chamber == roster.Joint {
			add(RuleMemberChamber, m.BioguideID, "member chamber is %s", m.Chamber)
		}
		if m.Chamber == roster.House && m.District == nil {
			add(RuleHouseDistrict, m.BioguideID, "House member %s has no district", m.DisplayName())
		}
	}

	out = append(out, SeatConflicts(v.Members)...)

	chairs := map[string][]string{}
	ranking := map[string][]string{}
	for _, ms := range v.Memberships {
		if !ms.IsCurrent {
			continue
		}
		c, cok := committees[ms.CommitteeCode]
		m, mok := members[ms.BioguideID]
		if cok && mok && c.Chamber != roster.Joint && c.Chamber != "" && m.Chamber != "" && c.Chamber != m.Chamber {
			add(RuleMembershipChamber, roster.MembershipID(ms.BioguideID, ms.CommitteeCode, ms.CongressNumber),
				"%s member on %s committee", m.Chamber, c.Chamber)
		}
		majority := roster.Unknown
		if cok {
			majority = session.Majority(c.Chamber)
		}
		known := majority != roster.Unknown && majority != "" && mok && m.Party != "" && m.Party != roster.Unknown

		switch ms.Position {
		case roster.Chair:
			chairs[ms.CommitteeCode] = append(chairs[ms.CommitteeCode], ms.BioguideID)
			if known && m.Party != majority {
				add(RuleChairParty, ms.CommitteeCode, "chair %s is %s, %s majority is %s",
					ms.BioguideID, m.Party, c.Chamber, majority).Offending = []string{ms.BioguideID}
			}
		case roster.RankingMember:
			ranking[ms.CommitteeCode] = append(ranking[ms.CommitteeCode], ms.BioguideID)
			if known && m.Party == majority {
				add(RuleRankingParty, ms.CommitteeCode, "ranking member %s belongs to the %s majority",
					ms.BioguideID, c.Chamber).Offending = []string{ms.BioguideID}
			}
		}
	}
	duplicates := func(rule, role string, byCommittee map[string][]string) {
		codes := make([]string, 0, len(byCommittee))
		for code := range byCommittee {
			codes = append(codes, code)
		}
		slices.Sort(codes)
		for _, code := range codes {
			if ids := byCommittee[code]; len(ids) > 1 {
				add(rule, code, "%d current %ss", len(ids), role).Offending = slices.Sorted(slices.Values(ids))
			}
		}
	}
	duplicates(RuleDuplicateChair, "chair", chairs)
	duplicates(RuleDuplicateRanking, "ranking member", ranking)

	if len(out) == 0 {
		return nil
	}
	return &IntegrityViolation{Violations: out}
}

// SeatConflicts reports current members sharing one House seat (state and
// district) and states with more than two current senators. Members without a
// state are skipped; a House member without a district is reported by Check
// on its own.
func SeatConflicts(members []roster.Member) []Violation {
	house := map[string][]string{}
	senate := map[string][]string{}
	for _, m := range members {
		if !m.IsCurrent || m.State == "" {
			continue
		}
		switch m.Chamber {
		case roster.House:
			if m.District != nil {
				seat := fmt.Sprintf("%s-%d", m.State, *m.District)
				house[seat] = append(house[seat], m.BioguideID)
			}
		case roster.Senate:
			senate[m.State] = append(senate[m.State], m.BioguideID)
		}
	}

	var out []Violation
	for _, seat := range slices.Sorted(maps.Keys(house)) {
		if ids := house[seat]; len(ids) > 1 {
			out = append(out, Violation{
				Rule:      RuleDuplicateSeat,
				Entity:    seat,
				Detail:    fmt.Sprintf("%d current members hold House seat %s", len(ids), seat),
				Offending: slices.Sorted(slices.Values(ids)),
			})
		}
	}
	for _, state := range slices.Sorted(maps.Keys(senate)) {
		if ids := senate[state]; len(ids) > MaxSenatorsPerState {
			out = append(out, Violation{
				Rule:      RuleSenateSeats,
				Entity:    state,
				Detail:    fmt.Sprintf("%d current senators for %s", len(ids), state),
				Offending: slices.Sorted(slices.Values(ids)),
			})
		}
	}
	return out
}
