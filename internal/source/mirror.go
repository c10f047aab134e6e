package source

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"net/url"
	"strconv"
	"strings"

	"github.com/joestump/congress-roster/internal/fetch"
	"github.com/joestump/congress-roster/internal/roster"
)

// MirrorBase is the default third-party mirror root.
const MirrorBase = "https://www.govtrack.us"

const mirrorPageSize = 600

// Mirror reads a GovTrack-shaped mirror. Responses carry an "objects" array
// and a "meta" block with total_count for offset pagination.
type Mirror struct {
	fetcher   Fetcher
	baseURL   string
	authority float64
}

// NewMirror creates the mirror adapter. An empty baseURL uses MirrorBase.
func NewMirror(f Fetcher, baseURL string, authority float64) *Mirror {
	if baseURL == "" {
		baseURL = MirrorBase
	}
	return &Mirror{fetcher: f, baseURL: strings.TrimRight(baseURL, "/"), authority: authority}
}

func (m *Mirror) Fingerprint() Fingerprint {
	return Fingerprint{ID: "mirror", Authority: m.authority}
}

type mirrorMeta struct {
	Limit      int `json:"limit"`
	Offset     int `json:"offset"`
	TotalCount int `json:"total_count"`
}

type mirrorPerson struct {
	BioguideID string `json:"bioguideid"`
	FirstName  string `json:"firstname"`
	LastName   string `json:"lastname"`
	Name       string `json:"name"`
}

type mirrorRole struct {
	Person    *mirrorPerson `json:"person"`
	Party     string        `json:"party"`
	State     string        `json:"state"`
	District  *int          `json:"district"`
	RoleType  string        `json:"role_type"`
	StartDate string        `json:"startdate"`
}

type mirrorCommittee struct {
	Code          string           `json:"code"`
	Name          string           `json:"name"`
	CommitteeType string           `json:"committee_type"`
	Jurisdiction  string           `json:"jurisdiction"`
	Parent        *mirrorCommittee `json:"committee"`
}

type mirrorMembership struct {
	Person    *mirrorPerson    `json:"person"`
	Committee *mirrorCommittee `json:"committee"`
	Role      string           `json:"role"`
}

// pages walks path with offset pagination, handing each decoded page to fn.
// fn returns the number of objects on the page and whether to continue.
func (m *Mirror) pages(ctx context.Context, op, path string, q url.Values, fn func(raw json.RawMessage) (int, bool)) error {
	for offset := 0; ; {
		v := url.Values{}
		for k, vals := range q {
			v[k] = vals
		}
		v.Set("limit", strconv.Itoa(mirrorPageSize))
		v.Set("offset", strconv.Itoa(offset))
		res, err := m.fetcher.Fetch(ctx, m.baseURL+path+"?"+v.Encode(), fetch.JSON)
		if err != nil {
			return unavailable("mirror", op, err)
		}
		var page struct {
			Meta    mirrorMeta      `json:"meta"`
			Objects json.RawMessage `json:"objects"`
		}
		if err := json.Unmarshal(res.Body, &page); err != nil {
			return parseFailure("mirror", op, fmt.Errorf("decode %s: %w", path, err))
		}
		if page.Objects == nil {
			return parseFailure("mirror", op, fmt.Errorf("%s: response has no objects array", path))
		}
		n, cont := fn(page.Objects)
		if !cont || n == 0 || offset+n >= page.Meta.TotalCount {
			return nil
		}
		offset += n
	}
}

func (m *Mirror) person(t *tally, p *mirrorPerson) (roster.RawMember, bool) {
	t.seen()
	if p == nil || (p.BioguideID == "" && p.LastName == "" && p.Name == "") {
		t.drop()
		return roster.RawMember{}, false
	}
	if p.BioguideID == "" {
		t.miss("bioguideid")
	}
	return roster.RawMember{
		BioguideID: p.BioguideID,
		GivenName:  p.FirstName,
		FamilyName: p.LastName,
		Name:       p.Name,
	}, true
}

func (m *Mirror) ListCurrentMembers(ctx context.Context) iter.Seq2[roster.RawMember, error] {
	return func(yield func(roster.RawMember, error) bool) {
		const op = "list members"
		t := newTally("mirror", op)
		var stopped bool
		err := m.pages(ctx, op, "/api/v2/role", url.Values{"current": {"true"}}, func(raw json.RawMessage) (int, bool) {
			var roles []mirrorRole
			if err := json.Unmarshal(raw, &roles); err != nil {
				yield(roster.RawMember{}, parseFailure("mirror", op, err))
				stopped = true
				return 0, false
			}
			var recs []roster.RawMember
			for _, r := range roles {
				rm, ok := m.person(t, r.Person)
				if !ok {
					continue
				}
				if r.Party == "" {
					t.miss("party")
				}
				if r.State == "" {
					t.miss("state")
				}
				rm.Party = r.Party
				rm.State = r.State
				rm.Chamber = r.RoleType
				rm.TermStart = r.StartDate
				if r.District != nil {
					rm.District = strconv.Itoa(*r.District)
				}
				recs = append(recs, rm)
			}
			if !emit(t, recs, yield) {
				stopped = true
				return len(roles), false
			}
			return len(roles), true
		})
		if stopped {
			return
		}
		if err != nil {
			yield(roster.RawMember{}, err)
			return
		}
		finish(t, yield)
	}
}

func mirrorRaw(c *mirrorCommittee) roster.RawCommittee {
	rc := roster.RawCommittee{
		Code:         c.Code,
		Name:         c.Name,
		Chamber:      c.CommitteeType,
		Jurisdiction: c.Jurisdiction,
	}
	if c.Parent != nil {
		rc.Type = string(roster.Subcommittee)
		rc.ParentHint = c.Parent.Code
		if rc.Chamber == "" {
			rc.Chamber = c.Parent.CommitteeType
		}
	}
	return rc
}

func (m *Mirror) ListCommittees(ctx context.Context, chamber roster.Chamber) iter.Seq2[roster.RawCommittee, error] {
	return func(yield func(roster.RawCommittee, error) bool) {
		const op = "list committees"
		t := newTally("mirror", op)
		q := url.Values{"obsolete": {"false"}}
		if chamber != "" {
			q.Set("committee_type", strings.ToLower(string(chamber)))
		}
		var stopped bool
		err := m.pages(ctx, op, "/api/v2/committee", q, func(raw json.RawMessage) (int, bool) {
			var cs []mirrorCommittee
			if err := json.Unmarshal(raw, &cs); err != nil {
				yield(roster.RawCommittee{}, parseFailure("mirror", op, err))
				stopped = true
				return 0, false
			}
			var recs []roster.RawCommittee
			for i := range cs {
				t.seen()
				if cs[i].Code == "" || cs[i].Name == "" {
					t.drop()
					continue
				}
				if cs[i].CommitteeType == "" && cs[i].Parent == nil {
					t.miss("committee_type")
				}
				recs = append(recs, mirrorRaw(&cs[i]))
			}
			if !emit(t, recs, yield) {
				stopped = true
				return len(cs), false
			}
			return len(cs), true
		})
		if stopped {
			return
		}
		if err != nil {
			yield(roster.RawCommittee{}, err)
			return
		}
		finish(t, yield)
	}
}

// ListCommitteeMemberships takes a mirror committee code as hint.
func (m *Mirror) ListCommitteeMemberships(ctx context.Context, hint string) iter.Seq2[roster.RawMembership, error] {
	return func(yield func(roster.RawMembership, error) bool) {
		const op = "list memberships"
		t := newTally("mirror", op)
		q := url.Values{}
		if hint != "" {
			q.Set("committee", hint)
		}
		var stopped bool
		err := m.pages(ctx, op, "/api/v2/committee_member", q, func(raw json.RawMessage) (int, bool) {
			var ms []mirrorMembership
			if err := json.Unmarshal(raw, &ms); err != nil {
				yield(roster.RawMembership{}, parseFailure("mirror", op, err))
				stopped = true
				return 0, false
			}
			var recs []roster.RawMembership
			for _, e := range ms {
				rm, ok := m.person(t, e.Person)
				if !ok {
					continue
				}
				if e.Committee == nil || e.Committee.Code == "" {
					t.drop()
					continue
				}
				if e.Role == "" {
					t.miss("role")
				}
				rc := mirrorRaw(e.Committee)
				rm.Chamber = rc.Chamber
				recs = append(recs, roster.RawMembership{Member: rm, Committee: rc, PositionHint: e.Role})
			}
			if !emit(t, recs, yield) {
				stopped = true
				return len(ms), false
			}
			return len(ms), true
		})
		if stopped {
			return
		}
		if err != nil {
			yield(roster.RawMembership{}, err)
			return
		}
		finish(t, yield)
	}
}
