package monitor

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/joestump/congress-roster/internal/calendar"
	"github.com/joestump/congress-roster/internal/db"
	"github.com/joestump/congress-roster/internal/reconcile"
	"github.com/joestump/congress-roster/internal/roster"
)

// Status is the outcome of one check.
type Status string

const (
	Pass  Status = "PASS"
	Warn  Status = "WARN"
	Fail  Status = "FAIL"
	Error Status = "ERROR"
)

func (s Status) level() int {
	switch s {
	case Warn:
		return 1
	case Fail:
		return 2
	case Error:
		return 3
	}
	return 0
}

// worse returns the more severe of a and b.
func worse(a, b Status) Status {
	if b.level() > a.level() {
		return b
	}
	return a
}

// Check names.
const (
	CheckMemberCurrency      = "member_data_currency"
	CheckCommitteeCoverage   = "committee_assignment_coverage"
	CheckLeadership          = "leadership_positions"
	CheckDatabaseIntegrity   = "database_integrity"
	CheckTransitionProximity = "transition_proximity"
	sourceCheckPrefix        = "source:"
)

// CheckResult is one line of the health report.
type CheckResult struct {
	Name            string             `json:"name"`
	Status          Status             `json:"status"`
	Message         string             `json:"message"`
	Details         map[string]any     `json:"details,omitempty"`
	Metrics         map[string]float64 `json:"metrics,omitempty"`
	Recommendations []string           `json:"recommendations,omitempty"`
}

// Expected holds the full chamber sizes.
type Expected struct {
	House  int
	Senate int
}

// DefaultExpected is 441 House seats (435 plus 6 delegates) and 100 senators.
func DefaultExpected() Expected { return Expected{House: 441, Senate: 100} }

// snapshot is everything one evaluation reads, loaded up front so every
// check sees the same state.
type snapshot struct {
	now               time.Time
	view              *reconcile.View
	session           roster.CongressSession
	transitionPending int
	adapters          []db.AdapterRun
}

// band grades a count against its expected total: below 90% fails, below
// 100% or above it warns.
func band(n, expected int) Status {
	switch {
	case expected <= 0:
		return Pass
	case float64(n) < 0.9*float64(expected):
		return Fail
	case n != expected:
		return Warn
	}
	return Pass
}

func checkMemberCurrency(s *snapshot, cal calendar.Calendar, exp Expected) CheckResult {
	r := CheckResult{Name: CheckMemberCurrency, Status: Pass, Details: map[string]any{}, Metrics: map[string]float64{}}
	want := cal.CongressFor(s.now)
	r.Details["data_congress"] = s.view.Congress
	r.Details["calendar_congress"] = want
	if s.view.Congress == 0 {
		r.Status = Fail
		r.Message = "no roster has been published yet"
		r.Recommendations = append(r.Recommendations, "Run a full refresh with `rosterd refresh`.")
		return r
	}

	var house, senate, missing int
	var missingIDs []string
	for _, m := range s.view.Members {
		if !m.IsCurrent {
			continue
		}
		switch m.Chamber {
		case roster.House:
			house++
		case roster.Senate:
			senate++
		}
		if m.FamilyName == "" || m.Party == "" || m.Chamber == "" || m.State == "" {
			missing++
			if len(missingIDs) < 10 {
				missingIDs = append(missingIDs, m.BioguideID)
			}
		}
	}
	total := house + senate
	r.Metrics["house_total"] = float64(house)
	r.Metrics["senate_total"] = float64(senate)
	r.Metrics["total"] = float64(total)
	r.Metrics["house_expected"] = float64(exp.House)
	r.Metrics["senate_expected"] = float64(exp.Senate)
	r.Metrics["missing_attributes"] = float64(missing)

	var problems []string
	for _, c := range []struct {
		name        string
		n, expected int
	}{
		{"total", total, exp.House + exp.Senate},
		{"House", house, exp.House},
		{"Senate", senate, exp.Senate},
	} {
		st := band(c.n, c.expected)
		if st != Pass {
			problems = append(problems, fmt.Sprintf("%s has %d of %d members", c.name, c.n, c.expected))
		}
		r.Status = worse(r.Status, st)
	}
	if missing > 0 {
		r.Status = worse(r.Status, Warn)
		r.Details["missing_attribute_members"] = missingIDs
		problems = append(problems, fmt.Sprintf("%d members lack a required attribute", missing))
		r.Recommendations = append(r.Recommendations, "Check the sources for members without name, party, chamber or state.")
	}
	if s.view.Congress != want {
		r.Status = Fail
		problems = append(problems, fmt.Sprintf("data is for the %d Congress, calendar says %d", s.view.Congress, want))
		r.Recommendations = append(r.Recommendations, "Run `rosterd emergency` to re-ingest for the sitting Congress.")
	}
	if r.Status == Fail && s.view.Congress == want {
		r.Recommendations = append(r.Recommendations, "Member counts are far below expected; check source_* results for failing adapters.")
	}

	if len(problems) == 0 {
		r.Message = fmt.Sprintf("%d current members (%d House, %d Senate)", total, house, senate)
	} else {
		r.Message = strings.Join(problems, "; ")
	}
	return r
}

// maxAssignments is the most current committee seats one member may hold
// before coverage warns.
const maxAssignments = 10

func checkCommitteeCoverage(s *snapshot) CheckResult {
	r := CheckResult{Name: CheckCommitteeCoverage, Status: Pass, Details: map[string]any{}, Metrics: map[string]float64{}}
	assigned := map[string]int{}
	for _, ms := range s.view.Memberships {
		if ms.IsCurrent {
			assigned[ms.BioguideID]++
		}
	}
	var overassigned []string
	most := 0
	for _, id := range slices.Sorted(maps.Keys(assigned)) {
		most = max(most, assigned[id])
		if assigned[id] > maxAssignments {
			overassigned = append(overassigned, id)
		}
	}
	r.Metrics["max_assignments"] = float64(most)
	r.Metrics["overassigned_members"] = float64(len(overassigned))
	var current, covered int
	for _, m := range s.view.Members {
		if !m.IsCurrent {
			continue
		}
		current++
		if assigned[m.BioguideID] > 0 {
			covered++
		}
	}
	r.Metrics["current_members"] = float64(current)
	r.Metrics["members_with_assignments"] = float64(covered)
	if current == 0 {
		r.Status = Fail
		r.Message = "no current members"
		return r
	}
	ratio := float64(covered) / float64(current)
	r.Metrics["coverage"] = ratio
	r.Message = fmt.Sprintf("%.1f%% of current members hold a committee assignment", ratio*100)
	switch {
	case ratio < 0.5:
		r.Status = Fail
	case ratio < 0.8:
		r.Status = Warn
	}
	if r.Status != Pass {
		r.Recommendations = append(r.Recommendations, "Refresh committee memberships; a source may have returned partial rosters.")
	}
	if len(overassigned) > 0 {
		r.Status = worse(r.Status, Warn)
		r.Details["overassigned_members"] = head(overassigned, 20)
		r.Message += fmt.Sprintf("; %d members hold more than %d assignments", len(overassigned), maxAssignments)
		r.Recommendations = append(r.Recommendations,
			"Inspect the facts of the listed members; their seats may be duplicated under several committee codes.")
	}
	return r
}

func checkLeadership(s *snapshot) CheckResult {
	r := CheckResult{Name: CheckLeadership, Status: Pass, Details: map[string]any{}, Metrics: map[string]float64{}}
	leaders := s.view.Leaders()
	party := map[string]roster.Party{}
	for _, m := range s.view.Members {
		party[m.BioguideID] = m.Party
	}

	var (
		standing        int
		missingChair    []string
		missingRanking  []string
		mismatched      []string
		chairsByChamber = map[roster.Chamber]map[roster.Party]int{}
	)
	for _, c := range s.view.Committees {
		if c.Type != roster.Standing || !c.IsActive {
			continue
		}
		standing++
		chair, ok := leaders[c.Code][roster.Chair]
		if !ok {
			missingChair = append(missingChair, c.Code)
		} else {
			p := party[chair]
			if chairsByChamber[c.Chamber] == nil {
				chairsByChamber[c.Chamber] = map[roster.Party]int{}
			}
			chairsByChamber[c.Chamber][p]++
			if maj := s.session.Majority(c.Chamber); knownParty(maj) && knownParty(p) && p != maj {
				mismatched = append(mismatched, fmt.Sprintf("%s chair %s is %s, majority is %s", c.Code, chair, p, maj))
			}
		}
		if _, ok := leaders[c.Code][roster.RankingMember]; !ok {
			missingRanking = append(missingRanking, c.Code)
		}
	}
	r.Metrics["standing_committees"] = float64(standing)
	r.Metrics["missing_chairs"] = float64(len(missingChair))
	r.Metrics["missing_ranking_members"] = float64(len(missingRanking))
	if standing == 0 {
		r.Status = Warn
		r.Message = "no active standing committees"
		return r
	}

	var problems []string
	if len(missingChair) > 0 {
		r.Status = worse(r.Status, Warn)
		r.Details["missing_chair"] = missingChair
		problems = append(problems, fmt.Sprintf("%d committees without a chair", len(missingChair)))
	}
	if len(missingRanking) > 0 {
		r.Status = worse(r.Status, Warn)
		r.Details["missing_ranking_member"] = missingRanking
		problems = append(problems, fmt.Sprintf("%d committees without a ranking member", len(missingRanking)))
	}
	if len(mismatched) > 0 {
		r.Status = Fail
		r.Details["chair_party_mismatch"] = mismatched
		problems = append(problems, fmt.Sprintf("%d chairs outside the majority party", len(mismatched)))
	}

	chambers := make([]roster.Chamber, 0, len(chairsByChamber))
	for ch := range chairsByChamber {
		chambers = append(chambers, ch)
	}
	slices.Sort(chambers)
	for _, ch := range chambers {
		maj := s.session.Majority(ch)
		if maj != roster.Republican && maj != roster.Democratic {
			continue
		}
		other := roster.Democratic
		if maj == roster.Democratic {
			other = roster.Republican
		}
		counts := chairsByChamber[ch]
		r.Metrics[strings.ToLower(string(ch))+"_majority_chairs"] = float64(counts[maj])
		r.Metrics[strings.ToLower(string(ch))+"_minority_chairs"] = float64(counts[other])
		if counts[maj] <= counts[other] {
			r.Status = Fail
			problems = append(problems, fmt.Sprintf("%s chairs %d %s to %d %s do not favor the majority",
				ch, counts[maj], maj, counts[other], other))
		}
	}

	if len(problems) == 0 {
		r.Message = fmt.Sprintf("all %d standing committees have a chair and ranking member", standing)
		return r
	}
	r.Message = strings.Join(problems, "; ")
	if r.Status == Fail {
		r.Recommendations = append(r.Recommendations, "Review the leadership_conflict alerts and the official committee pages.")
	} else {
		r.Recommendations = append(r.Recommendations, "Run the weekly leadership scan or check that committee pages list leadership.")
	}
	return r
}

func knownParty(p roster.Party) bool {
	return p != "" && p != roster.Unknown
}

func checkDatabaseIntegrity(s *snapshot) CheckResult {
	r := CheckResult{Name: CheckDatabaseIntegrity, Status: Pass, Details: map[string]any{}, Metrics: map[string]float64{}}
	members := map[string]roster.Member{}
	var duplicates []string
	for _, m := range s.view.Members {
		if _, dup := members[m.BioguideID]; dup {
			duplicates = append(duplicates, m.BioguideID)
		}
		members[m.BioguideID] = m
	}
	committees := map[string]bool{}
	for _, c := range s.view.Committees {
		committees[c.Code] = true
	}

	var orphans, inactive []string
	for _, ms := range s.view.Memberships {
		id := roster.MembershipID(ms.BioguideID, ms.CommitteeCode, ms.CongressNumber)
		m, mok := members[ms.BioguideID]
		if !mok || !committees[ms.CommitteeCode] {
			orphans = append(orphans, id)
			continue
		}
		if ms.IsCurrent && !m.IsCurrent {
			inactive = append(inactive, id)
		}
	}
	var seats []string
	for _, v := range reconcile.SeatConflicts(s.view.Members) {
		seats = append(seats, v.String())
	}
	r.Metrics["duplicate_members"] = float64(len(duplicates))
	r.Metrics["seat_conflicts"] = float64(len(seats))
	r.Metrics["orphan_memberships"] = float64(len(orphans))
	r.Metrics["memberships_of_former_members"] = float64(len(inactive))
	r.Metrics["pending_identities"] = float64(len(s.view.Pending))
	r.Metrics["leadership_conflicts"] = float64(len(s.view.Conflicts))

	var problems []string
	if len(duplicates) > 0 {
		r.Details["duplicate_members"] = duplicates
		problems = append(problems, fmt.Sprintf("%d duplicate member ids", len(duplicates)))
	}
	if len(seats) > 0 {
		r.Details["seat_conflicts"] = head(seats, 20)
		problems = append(problems, fmt.Sprintf("%d seats held by too many current members", len(seats)))
	}
	if len(orphans) > 0 {
		r.Details["orphan_memberships"] = head(orphans, 20)
		problems = append(problems, fmt.Sprintf("%d memberships reference unknown members or committees", len(orphans)))
	}
	if len(inactive) > 0 {
		r.Details["memberships_of_former_members"] = head(inactive, 20)
		problems = append(problems, fmt.Sprintf("%d current memberships belong to former members", len(inactive)))
	}
	if len(problems) > 0 {
		r.Status = Fail
		r.Message = strings.Join(problems, "; ")
		r.Recommendations = append(r.Recommendations, "Run a full refresh; if it persists, inspect the facts of the listed entities.")
		return r
	}
	r.Message = fmt.Sprintf("%d members, %d committees, %d memberships consistent",
		len(s.view.Members), len(s.view.Committees), len(s.view.Memberships))
	if len(s.view.Pending) > 0 {
		r.Recommendations = append(r.Recommendations,
			fmt.Sprintf("%d unresolved identities; extend the committee alias table or member roster.", len(s.view.Pending)))
	}
	return r
}

func head(s []string, n int) []string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

// transitionWindow is how far ahead a coming Congress is announced.
const transitionWindow = 30

func checkTransitionProximity(s *snapshot, cal calendar.Calendar) CheckResult {
	days := cal.DaysUntilNext(s.now)
	next := cal.CongressFor(s.now) + 1
	if cal.IsTransitionDay(s.now) {
		next = cal.CongressFor(s.now)
	}
	r := CheckResult{
		Name:    CheckTransitionProximity,
		Status:  Pass,
		Details: map[string]any{"next_congress": next, "next_start": cal.Start(next).Format(time.DateOnly)},
		Metrics: map[string]float64{"days_until_transition": float64(days)},
	}
	if rc, ok := cal.RecessAt(s.now); ok {
		r.Details["recess"] = rc.Name
	}
	switch {
	case s.transitionPending != 0:
		r.Status = Fail
		r.Message = fmt.Sprintf("the %d Congress has begun and has not had a full refresh", s.transitionPending)
		r.Recommendations = append(r.Recommendations, "Run `rosterd emergency` to ingest the new Congress.")
	case days <= transitionWindow:
		r.Status = Warn
		r.Message = fmt.Sprintf("the %d Congress convenes in %d days", next, days)
		r.Recommendations = append(r.Recommendations, "Expect new members and committee assignments; schedule a full refresh on the transition day.")
	default:
		r.Message = fmt.Sprintf("%d days until the %d Congress", days, next)
	}
	return r
}

// checkSources turns the latest adapter outcome of each source into a
// result. Static fallback sources pass but are flagged.
func checkSources(s *snapshot, static map[string]bool) []CheckResult {
	var out []CheckResult
	for _, a := range s.adapters {
		r := CheckResult{
			Name:    sourceCheckPrefix + a.SourceID,
			Status:  Pass,
			Details: map[string]any{"run_id": a.RunID, "status": a.Status, "ended_at": a.EndedAt.Format(time.RFC3339)},
			Metrics: map[string]float64{"records": float64(a.Records)},
		}
		switch a.Status {
		case "ok":
			r.Message = fmt.Sprintf("%d records", a.Records)
			if static[a.SourceID] {
				r.Details["fallback"] = true
				r.Message += " from static fallback data"
			}
		case "cancelled":
			r.Status = Warn
			r.Message = "last collection was cancelled"
		default:
			r.Status = Fail
			kind := "error"
			if a.ErrorKind != nil {
				kind = *a.ErrorKind
			}
			r.Details["error_kind"] = kind
			r.Message = fmt.Sprintf("last collection %s (%s)", a.Status, kind)
			if a.Error != nil {
				r.Details["error"] = *a.Error
			}
			r.Recommendations = append(r.Recommendations, fmt.Sprintf("Check %s; other sources keep the roster current meanwhile.", a.SourceID))
		}
		out = append(out, r)
	}
	return out
}
