package source

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/joestump/congress-roster/internal/fetch"
	"github.com/joestump/congress-roster/internal/roster"
)

// CongressAPIBase is the public Congress.gov API root.
const CongressAPIBase = "https://api.congress.gov/v3"

const congressAPIPageSize = 250

// CongressAPI reads members, committees and committee rosters from the
// Congress.gov JSON API. Every request carries the key in X-API-Key.
type CongressAPI struct {
	fetcher   Fetcher
	apiKey    string
	baseURL   string
	authority float64
}

// NewCongressAPI creates the API adapter. An empty baseURL uses CongressAPIBase.
func NewCongressAPI(f Fetcher, apiKey, baseURL string, authority float64) *CongressAPI {
	if baseURL == "" {
		baseURL = CongressAPIBase
	}
	return &CongressAPI{fetcher: f, apiKey: apiKey, baseURL: strings.TrimRight(baseURL, "/"), authority: authority}
}

func (c *CongressAPI) Fingerprint() Fingerprint {
	return Fingerprint{ID: "congressapi", Authority: c.authority}
}

type apiPagination struct {
	Count int    `json:"count"`
	Next  string `json:"next"`
}

type apiTerm struct {
	Chamber   string `json:"chamber"`
	StartYear int    `json:"startYear"`
}

type apiMember struct {
	BioguideID string `json:"bioguideId"`
	Name       string `json:"name"`
	PartyName  string `json:"partyName"`
	Party      string `json:"party"`
	State      string `json:"state"`
	District   *int   `json:"district"`
	Rank       *int   `json:"rank"`
	Title      string `json:"title"`
	Terms      *struct {
		Item []apiTerm `json:"item"`
	} `json:"terms"`
}

type apiCommitteeRef struct {
	SystemCode string `json:"systemCode"`
	Name       string `json:"name"`
}

type apiCommittee struct {
	SystemCode        string           `json:"systemCode"`
	Name              string           `json:"name"`
	Chamber           string           `json:"chamber"`
	CommitteeTypeCode string           `json:"committeeTypeCode"`
	Parent            *apiCommitteeRef `json:"parent"`
}

// get fetches one page of path and decodes it into v.
func (c *CongressAPI) get(ctx context.Context, op, path string, q url.Values, offset int, v any) error {
	if q == nil {
		q = url.Values{}
	}
	q.Set("format", "json")
	q.Set("limit", strconv.Itoa(congressAPIPageSize))
	q.Set("offset", strconv.Itoa(offset))
	u := c.baseURL + path + "?" + q.Encode()

	res, err := c.fetcher.FetchWithHeader(ctx, u, fetch.JSON, http.Header{"X-Api-Key": {c.apiKey}})
	if err != nil {
		return unavailable("congressapi", op, err)
	}
	if err := json.Unmarshal(res.Body, v); err != nil {
		return parseFailure("congressapi", op, fmt.Errorf("decode %s: %w", path, err))
	}
	return nil
}

// more reports whether another page follows one holding n records.
func more(p apiPagination, offset, n int) bool {
	if n < congressAPIPageSize {
		return false
	}
	if p.Count > 0 {
		return offset+n < p.Count
	}
	return p.Next != ""
}

func (c *CongressAPI) ListCurrentMembers(ctx context.Context) iter.Seq2[roster.RawMember, error] {
	return func(yield func(roster.RawMember, error) bool) {
		const op = "list members"
		t := newTally("congressapi", op)
		for offset := 0; ; {
			var page struct {
				Members    []apiMember   `json:"members"`
				Pagination apiPagination `json:"pagination"`
			}
			if err := c.get(ctx, op, "/member", url.Values{"currentMember": {"true"}}, offset, &page); err != nil {
				yield(roster.RawMember{}, err)
				return
			}
			var recs []roster.RawMember
			for _, m := range page.Members {
				rm, ok := c.member(t, m)
				if ok {
					recs = append(recs, rm)
				}
			}
			if !emit(t, recs, yield) {
				return
			}
			if !more(page.Pagination, offset, len(page.Members)) {
				finish(t, yield)
				return
			}
			offset += len(page.Members)
		}
	}
}

func (c *CongressAPI) member(t *tally, m apiMember) (roster.RawMember, bool) {
	t.seen()
	if m.BioguideID == "" && m.Name == "" {
		t.drop()
		return roster.RawMember{}, false
	}
	if m.BioguideID == "" {
		t.miss("bioguideId")
	}
	if m.State == "" {
		t.miss("state")
	}
	party := m.PartyName
	if party == "" {
		party = m.Party
	}
	if party == "" {
		t.miss("partyName")
	}
	rm := roster.RawMember{
		BioguideID: m.BioguideID,
		Name:       m.Name,
		Party:      party,
		State:      m.State,
	}
	if m.District != nil {
		rm.District = strconv.Itoa(*m.District)
	}
	if m.Terms != nil && len(m.Terms.Item) > 0 {
		last := m.Terms.Item[len(m.Terms.Item)-1]
		rm.Chamber = last.Chamber
		if last.StartYear > 0 {
			rm.TermStart = strconv.Itoa(last.StartYear)
		}
	} else if t.op == "list members" {
		t.miss("terms")
	}
	return rm, true
}

func apiChambers(chamber roster.Chamber) []string {
	switch chamber {
	case roster.House:
		return []string{"house"}
	case roster.Senate:
		return []string{"senate"}
	case roster.Joint:
		return []string{"joint"}
	}
	return []string{"house", "senate", "joint"}
}

// committees pages through /committee/{chamber}, yielding each entry.
func (c *CongressAPI) committees(ctx context.Context, op string, chamber roster.Chamber, t *tally, yield func(roster.RawCommittee, error) bool) bool {
	for _, ch := range apiChambers(chamber) {
		for offset := 0; ; {
			var page struct {
				Committees []apiCommittee `json:"committees"`
				Pagination apiPagination  `json:"pagination"`
			}
			if err := c.get(ctx, op, "/committee/"+ch, nil, offset, &page); err != nil {
				yield(roster.RawCommittee{}, err)
				return false
			}
			var recs []roster.RawCommittee
			for _, cm := range page.Committees {
				t.seen()
				if cm.SystemCode == "" || cm.Name == "" {
					t.drop()
					continue
				}
				if cm.CommitteeTypeCode == "" {
					t.miss("committeeTypeCode")
				}
				rc := roster.RawCommittee{
					Code:    cm.SystemCode,
					Name:    cm.Name,
					Chamber: cm.Chamber,
					Type:    cm.CommitteeTypeCode,
				}
				if rc.Chamber == "" {
					rc.Chamber = ch
				}
				if cm.Parent != nil && cm.Parent.SystemCode != "" {
					rc.ParentHint = cm.Parent.SystemCode
					rc.Type = string(roster.Subcommittee)
				}
				recs = append(recs, rc)
			}
			if !emit(t, recs, yield) {
				return false
			}
			if !more(page.Pagination, offset, len(page.Committees)) {
				break
			}
			offset += len(page.Committees)
		}
	}
	return finish(t, yield)
}

func (c *CongressAPI) ListCommittees(ctx context.Context, chamber roster.Chamber) iter.Seq2[roster.RawCommittee, error] {
	return func(yield func(roster.RawCommittee, error) bool) {
		c.committees(ctx, "list committees", chamber, newTally("congressapi", "list committees"), yield)
	}
}

// ListCommitteeMemberships takes a Congress.gov system code such as
// "ssju00" as hint. Without a hint it walks every committee.
func (c *CongressAPI) ListCommitteeMemberships(ctx context.Context, hint string) iter.Seq2[roster.RawMembership, error] {
	return func(yield func(roster.RawMembership, error) bool) {
		const op = "list memberships"
		t := newTally("congressapi", op)

		var targets []roster.RawCommittee
		if hint != "" {
			targets = []roster.RawCommittee{{Code: hint, Chamber: chamberFromSystemCode(hint)}}
		} else {
			ok := c.committees(ctx, op, "", newTally("congressapi", op), func(rc roster.RawCommittee, err error) bool {
				if err != nil {
					yield(roster.RawMembership{}, err)
					return false
				}
				targets = append(targets, rc)
				return true
			})
			if !ok {
				return
			}
		}

		for _, cm := range targets {
			ch := strings.ToLower(cm.Chamber)
			if p, ok := roster.ParseChamber(ch); ok {
				ch = strings.ToLower(string(p))
			}
			path := fmt.Sprintf("/committee/%s/%s/membership", ch, url.PathEscape(cm.Code))
			for offset := 0; ; {
				var page struct {
					Members    []apiMember   `json:"members"`
					Pagination apiPagination `json:"pagination"`
				}
				if err := c.get(ctx, op, path, nil, offset, &page); err != nil {
					yield(roster.RawMembership{}, err)
					return
				}
				var recs []roster.RawMembership
				for _, m := range page.Members {
					rm, ok := c.member(t, m)
					if !ok {
						continue
					}
					if rm.Chamber == "" {
						rm.Chamber = cm.Chamber
					}
					ms := roster.RawMembership{Member: rm, Committee: cm, PositionHint: m.Title}
					if m.Rank != nil {
						ms.Rank = strconv.Itoa(*m.Rank)
					}
					recs = append(recs, ms)
				}
				if !emit(t, recs, yield) {
					return
				}
				if !more(page.Pagination, offset, len(page.Members)) {
					break
				}
				offset += len(page.Members)
			}
		}
		finish(t, yield)
	}
}

// chamberFromSystemCode reads the chamber letter of codes like "hsif00".
func chamberFromSystemCode(code string) string {
	switch strings.ToLower(code[:1]) {
	case "h":
		return "house"
	case "s":
		return "senate"
	case "j":
		return "joint"
	}
	return ""
}
