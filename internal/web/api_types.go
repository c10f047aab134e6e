package web

import (
	"encoding/json"
	"time"

	"github.com/joestump/congress-roster/internal/db"
	"github.com/joestump/congress-roster/internal/reconcile"
	"github.com/joestump/congress-roster/internal/roster"
)

// --- API Response Wrappers ---

// APIMembersResponse wraps a list of members for JSON API responses.
type APIMembersResponse struct {
	Members []APIMember `json:"members"`
}

// APICommitteesResponse wraps a list of committees for JSON API responses.
type APICommitteesResponse struct {
	Committees []APICommittee `json:"committees"`
}

// APIMembershipsResponse wraps the memberships of one Congress.
type APIMembershipsResponse struct {
	Congress    int             `json:"congress"`
	Memberships []APIMembership `json:"memberships"`
}

// APISessionsResponse wraps the known Congress sessions.
type APISessionsResponse struct {
	Sessions []APISession `json:"sessions"`
}

// APIAlertsResponse wraps a list of alerts.
type APIAlertsResponse struct {
	Alerts []APIAlert `json:"alerts"`
}

// APIRunsResponse wraps a list of refresh runs.
type APIRunsResponse struct {
	Runs []APIRun `json:"runs"`
}

// APITriggersResponse wraps the trigger execution log.
type APITriggersResponse struct {
	Executions []APITriggerExecution `json:"executions"`
}

// APIConflictsResponse lists leadership conflicts and unresolved identities of
// the published view.
type APIConflictsResponse struct {
	Conflicts []APIConflict `json:"conflicts"`
	Pending   []APIPending  `json:"pending"`
}

// APIRunDetailResponse is one refresh run with its per-adapter outcomes.
type APIRunDetailResponse struct {
	APIRun
	Streaming bool            `json:"streaming"`
	Adapters  []APIAdapterRun `json:"adapters"`
}

// APIFactsResponse is the observation history of one entity.
type APIFactsResponse struct {
	Kind     string    `json:"kind"`
	EntityID string    `json:"entity_id"`
	Facts    []APIFact `json:"facts"`
}

// APIRefreshResponse is returned when an emergency refresh is queued.
type APIRefreshResponse struct {
	RunID     string `json:"run_id"`
	StreamURL string `json:"stream_url"`
}

// --- API Resource Types ---

// APIMember is the JSON representation of a member.
type APIMember struct {
	BioguideID  string          `json:"bioguide_id"`
	Name        string          `json:"name"`
	GivenName   string          `json:"given_name"`
	FamilyName  string          `json:"family_name"`
	Chamber     string          `json:"chamber"`
	State       string          `json:"state"`
	District    *int            `json:"district"`
	Party       string          `json:"party"`
	TermStart   *string         `json:"term_start"`
	TermEnd     *string         `json:"term_end"`
	IsCurrent   bool            `json:"is_current"`
	Confidence  float64         `json:"confidence"`
	UpdatedAt   string          `json:"updated_at"`
	Memberships []APIMembership `json:"memberships,omitempty"`
}

// APICommittee is the JSON representation of a committee.
type APICommittee struct {
	Code          string          `json:"code"`
	Name          string          `json:"name"`
	Chamber       string          `json:"chamber"`
	Type          string          `json:"type"`
	ParentCode    *string         `json:"parent_code"`
	Jurisdiction  string          `json:"jurisdiction,omitempty"`
	IsActive      bool            `json:"is_active"`
	Confidence    float64         `json:"confidence"`
	UpdatedAt     string          `json:"updated_at"`
	Subcommittees []APICommittee  `json:"subcommittees,omitempty"`
	Roster        []APIMembership `json:"roster,omitempty"`
}

// APIMembership is the JSON representation of a committee seat.
type APIMembership struct {
	BioguideID      string  `json:"bioguide_id"`
	CommitteeCode   string  `json:"committee_code"`
	Congress        int     `json:"congress"`
	Position        string  `json:"position"`
	RankWithinParty *int    `json:"rank_within_party"`
	StartDate       *string `json:"start_date"`
	EndDate         *string `json:"end_date"`
	IsCurrent       bool    `json:"is_current"`
	Confidence      float64 `json:"confidence"`
}

// APISession is the JSON representation of a Congress session.
type APISession struct {
	Congress            int    `json:"congress"`
	StartDate           string `json:"start_date"`
	EndDate             string `json:"end_date"`
	IsCurrent           bool   `json:"is_current"`
	MajorityPartyHouse  string `json:"majority_party_house"`
	MajorityPartySenate string `json:"majority_party_senate"`
}

// APIAlert is the JSON representation of an alert.
type APIAlert struct {
	ID             string         `json:"id"`
	Rule           string         `json:"rule"`
	Severity       string         `json:"severity"`
	Title          string         `json:"title"`
	Message        string         `json:"message"`
	Source         string         `json:"source,omitempty"`
	Context        map[string]any `json:"context,omitempty"`
	CreatedAt      string         `json:"created_at"`
	AcknowledgedAt *string        `json:"acknowledged_at"`
	AcknowledgedBy *string        `json:"acknowledged_by"`
}

// APIRun is the JSON representation of a refresh run.
type APIRun struct {
	ID           string  `json:"id"`
	Trigger      string  `json:"trigger"`
	Congress     int     `json:"congress"`
	Status       string  `json:"status"`
	StartedAt    string  `json:"started_at"`
	EndedAt      *string `json:"ended_at"`
	FactsWritten int     `json:"facts_written"`
	Pending      int     `json:"pending"`
	Published    bool    `json:"published"`
	Error        *string `json:"error"`
}

// APIAdapterRun is the outcome of one adapter within a refresh run.
type APIAdapterRun struct {
	SourceID  string  `json:"source_id"`
	Status    string  `json:"status"`
	Records   int     `json:"records"`
	ErrorKind *string `json:"error_kind"`
	Error     *string `json:"error"`
	StartedAt string  `json:"started_at"`
	EndedAt   string  `json:"ended_at"`
}

// APIFact is one source-tagged observation.
type APIFact struct {
	Attribute  string  `json:"attribute"`
	Value      string  `json:"value"`
	SourceID   string  `json:"source_id"`
	ObservedAt string  `json:"observed_at"`
	ExpiresAt  string  `json:"expires_at"`
	Confidence float64 `json:"confidence"`
	RunID      string  `json:"run_id"`
}

// APITriggerExecution is one entry of the trigger log.
type APITriggerExecution struct {
	ID        int64   `json:"id"`
	Trigger   string  `json:"trigger"`
	Priority  string  `json:"priority"`
	Status    string  `json:"status"`
	Reason    *string `json:"reason"`
	RunID     *string `json:"run_id"`
	StartedAt string  `json:"started_at"`
	EndedAt   *string `json:"ended_at"`
}

// APIConflict is a leadership seat with disagreeing sources.
type APIConflict struct {
	Committee  string   `json:"committee"`
	Role       string   `json:"role"`
	Winner     string   `json:"winner"`
	Candidates []string `json:"candidates"`
	Confidence float64  `json:"confidence"`
}

// APIPending is an identity no resolver rule could place.
type APIPending struct {
	ID         string `json:"id"`
	Kind       string `json:"kind"`
	Source     string `json:"source"`
	Hint       string `json:"hint"`
	ObservedAt string `json:"observed_at"`
}

// --- Conversion Helpers ---

const dateLayout = "2006-01-02"

func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func fmtTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := fmtTime(*t)
	return &s
}

func fmtDatePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(dateLayout)
	return &s
}

func toAPIMember(m roster.Member) APIMember {
	return APIMember{
		BioguideID: m.BioguideID,
		Name:       m.DisplayName(),
		GivenName:  m.GivenName,
		FamilyName: m.FamilyName,
		Chamber:    string(m.Chamber),
		State:      m.State,
		District:   m.District,
		Party:      string(m.Party),
		TermStart:  fmtDatePtr(m.TermStart),
		TermEnd:    fmtDatePtr(m.TermEnd),
		IsCurrent:  m.IsCurrent,
		Confidence: m.Confidence,
		UpdatedAt:  fmtTime(m.UpdatedAt),
	}
}

func toAPIMembers(ms []roster.Member) []APIMember {
	out := make([]APIMember, len(ms))
	for i, m := range ms {
		out[i] = toAPIMember(m)
	}
	return out
}

func toAPICommittee(c roster.Committee) APICommittee {
	ac := APICommittee{
		Code:         c.Code,
		Name:         c.Name,
		Chamber:      string(c.Chamber),
		Type:         string(c.Type),
		Jurisdiction: c.Jurisdiction,
		IsActive:     c.IsActive,
		Confidence:   c.Confidence,
		UpdatedAt:    fmtTime(c.UpdatedAt),
	}
	if c.ParentCode != "" {
		parent := c.ParentCode
		ac.ParentCode = &parent
	}
	return ac
}

func toAPICommittees(cs []roster.Committee) []APICommittee {
	out := make([]APICommittee, len(cs))
	for i, c := range cs {
		out[i] = toAPICommittee(c)
	}
	return out
}

func toAPIMemberships(ms []roster.Membership) []APIMembership {
	out := make([]APIMembership, len(ms))
	for i, m := range ms {
		out[i] = APIMembership{
			BioguideID:      m.BioguideID,
			CommitteeCode:   m.CommitteeCode,
			Congress:        m.CongressNumber,
			Position:        string(m.Position),
			RankWithinParty: m.RankWithinParty,
			StartDate:       fmtDatePtr(m.StartDate),
			EndDate:         fmtDatePtr(m.EndDate),
			IsCurrent:       m.IsCurrent,
			Confidence:      m.Confidence,
		}
	}
	return out
}

func toAPISessions(ss []roster.CongressSession) []APISession {
	out := make([]APISession, len(ss))
	for i, s := range ss {
		out[i] = APISession{
			Congress:            s.CongressNumber,
			StartDate:           s.StartDate.Format(dateLayout),
			EndDate:             s.EndDate.Format(dateLayout),
			IsCurrent:           s.IsCurrent,
			MajorityPartyHouse:  string(s.MajorityPartyHouse),
			MajorityPartySenate: string(s.MajorityPartySenate),
		}
	}
	return out
}

func toAPIAlert(a db.Alert) APIAlert {
	out := APIAlert{
		ID:             a.ID,
		Rule:           a.Rule,
		Severity:       a.Severity,
		Title:          a.Title,
		Message:        a.Message,
		Source:         a.Source,
		CreatedAt:      fmtTime(a.CreatedAt),
		AcknowledgedAt: fmtTimePtr(a.AcknowledgedAt),
		AcknowledgedBy: a.AcknowledgedBy,
	}
	if a.Context != nil {
		_ = json.Unmarshal([]byte(*a.Context), &out.Context)
	}
	return out
}

func toAPIAlerts(as []db.Alert) []APIAlert {
	out := make([]APIAlert, len(as))
	for i, a := range as {
		out[i] = toAPIAlert(a)
	}
	return out
}

func toAPIRun(r db.RefreshRun) APIRun {
	return APIRun{
		ID:           r.ID,
		Trigger:      r.Trigger,
		Congress:     r.CongressNumber,
		Status:       r.Status,
		StartedAt:    fmtTime(r.StartedAt),
		EndedAt:      fmtTimePtr(r.EndedAt),
		FactsWritten: r.FactsWritten,
		Pending:      r.Pending,
		Published:    r.Published,
		Error:        r.Error,
	}
}

func toAPIRuns(rs []db.RefreshRun) []APIRun {
	out := make([]APIRun, len(rs))
	for i, r := range rs {
		out[i] = toAPIRun(r)
	}
	return out
}

func toAPIAdapterRuns(as []db.AdapterRun) []APIAdapterRun {
	out := make([]APIAdapterRun, len(as))
	for i, a := range as {
		out[i] = APIAdapterRun{
			SourceID:  a.SourceID,
			Status:    a.Status,
			Records:   a.Records,
			ErrorKind: a.ErrorKind,
			Error:     a.Error,
			StartedAt: fmtTime(a.StartedAt),
			EndedAt:   fmtTime(a.EndedAt),
		}
	}
	return out
}

func toAPIFacts(fs []roster.Fact) []APIFact {
	out := make([]APIFact, len(fs))
	for i, f := range fs {
		out[i] = APIFact{
			Attribute:  string(f.Attribute),
			Value:      f.Value,
			SourceID:   f.SourceID,
			ObservedAt: fmtTime(f.ObservedAt),
			ExpiresAt:  fmtTime(f.ExpiresAt),
			Confidence: f.Confidence,
			RunID:      f.RunID,
		}
	}
	return out
}

func toAPITriggerExecutions(es []db.TriggerExecution) []APITriggerExecution {
	out := make([]APITriggerExecution, len(es))
	for i, e := range es {
		out[i] = APITriggerExecution{
			ID:        e.ID,
			Trigger:   e.TriggerName,
			Priority:  e.Priority,
			Status:    e.Status,
			Reason:    e.Reason,
			RunID:     e.RunID,
			StartedAt: fmtTime(e.StartedAt),
			EndedAt:   fmtTimePtr(e.EndedAt),
		}
	}
	return out
}

func toAPIConflicts(cs []reconcile.Conflict) []APIConflict {
	out := make([]APIConflict, len(cs))
	for i, c := range cs {
		out[i] = APIConflict{
			Committee:  c.Committee,
			Role:       string(c.Role),
			Winner:     c.Winner,
			Candidates: c.Candidates,
			Confidence: c.Confidence,
		}
	}
	return out
}

func toAPIPending(ps []reconcile.Pending) []APIPending {
	out := make([]APIPending, len(ps))
	for i, p := range ps {
		out[i] = APIPending{
			ID:         p.ID,
			Kind:       string(p.Kind),
			Source:     p.SourceID,
			Hint:       p.Hint,
			ObservedAt: fmtTime(p.ObservedAt),
		}
	}
	return out
}
