package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"iter"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/joestump/congress-roster/internal/fetch"
	"github.com/joestump/congress-roster/internal/roster"
)

// HousePage is one official House committee roster page.
type HousePage struct {
	Code     string `mapstructure:"code" yaml:"code"`
	URL      string `mapstructure:"url" yaml:"url"`
	Selector string `mapstructure:"selector" yaml:"selector"`
}

const defaultHouseSelector = "li.member, .committee-member, .members-list li"

// DefaultHousePages covers the standing committees whose pages publish a
// plain roster list.
var DefaultHousePages = []HousePage{
	{Code: "HSAG", URL: "https://agriculture.house.gov/about/committee-members.htm"},
	{Code: "HSAP", URL: "https://appropriations.house.gov/about/membership"},
	{Code: "HSAS", URL: "https://armedservices.house.gov/committee-members"},
	{Code: "HSIF", URL: "https://energycommerce.house.gov/about/membership"},
	{Code: "HSJU", URL: "https://judiciary.house.gov/about/membership"},
	{Code: "HSWM", URL: "https://waysandmeans.house.gov/members/"},
}

// "Brett Guthrie (R-KY-02), Chairman" and "Eleanor Holmes Norton (D-DC)".
var houseItemRe = regexp.MustCompile(`^(.+?)\s*\(([A-Z]{1,2})-([A-Z]{2})(?:-(\d{1,2}|AL))?\)\s*[,:-]?\s*(.*)$`)

// House scrapes a configurable set of official committee pages. Members are
// the union of the committee rosters.
type House struct {
	fetcher   Fetcher
	pages     []HousePage
	authority float64
}

// NewHouse creates the House adapter. A nil pages slice uses DefaultHousePages.
func NewHouse(f Fetcher, pages []HousePage, authority float64) *House {
	if pages == nil {
		pages = DefaultHousePages
	}
	return &House{fetcher: f, pages: pages, authority: authority}
}

func (h *House) Fingerprint() Fingerprint {
	return Fingerprint{ID: "house", Authority: h.authority}
}

type housePage struct {
	committee roster.RawCommittee
	members   []roster.RawMembership
}

func (h *House) load(ctx context.Context, p HousePage, t *tally) (housePage, error) {
	res, err := h.fetcher.Fetch(ctx, p.URL, fetch.HTML)
	if err != nil {
		return housePage{}, unavailable("house", t.op, err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(res.Body))
	if err != nil {
		return housePage{}, parseFailure("house", t.op, fmt.Errorf("parse %s: %w", p.URL, err))
	}

	out := housePage{committee: roster.RawCommittee{
		Code:    p.Code,
		Name:    strings.Join(strings.Fields(doc.Find("h1").First().Text()), " "),
		Chamber: string(roster.House),
	}}

	sel := p.Selector
	if sel == "" {
		sel = defaultHouseSelector
	}
	items := doc.Find(sel)
	if items.Length() == 0 {
		return housePage{}, parseFailure("house", t.op, fmt.Errorf("selector %q matched nothing on %s", sel, p.URL))
	}
	items.Each(func(_ int, item *goquery.Selection) {
		t.seen()
		text := strings.Join(strings.Fields(item.Text()), " ")
		m := houseItemRe.FindStringSubmatch(text)
		if m == nil {
			t.drop()
			return
		}
		bioguide, _ := item.Attr("data-bioguide")
		if m[4] == "" && len(m[3]) == 2 && !isTerritory(m[3]) {
			t.miss("district")
		}
		pos := strings.TrimSpace(m[5])
		if pos != "" {
			pos = "(" + pos + ")"
		}
		out.members = append(out.members, roster.RawMembership{
			Member: roster.RawMember{
				BioguideID: strings.TrimSpace(bioguide),
				Name:       strings.TrimSpace(m[1]),
				Party:      m[2],
				State:      m[3],
				District:   m[4],
				Chamber:    string(roster.House),
			},
			Committee:    out.committee,
			PositionHint: pos,
		})
	})
	if err := t.check(); err != nil {
		return housePage{}, err
	}
	return out, nil
}

// Delegates and the resident commissioner have no numbered district.
func isTerritory(st string) bool {
	switch st {
	case "DC", "PR", "VI", "GU", "AS", "MP":
		return true
	}
	return false
}

func (h *House) ListCurrentMembers(ctx context.Context) iter.Seq2[roster.RawMember, error] {
	return func(yield func(roster.RawMember, error) bool) {
		if len(h.pages) == 0 {
			yield(roster.RawMember{}, parseFailure("house", "list members", errors.New("no committee pages configured")))
			return
		}
		t := newTally("house", "list members")
		seen := map[string]bool{}
		for _, p := range h.pages {
			page, err := h.load(ctx, p, t)
			if err != nil {
				yield(roster.RawMember{}, err)
				return
			}
			for _, rm := range page.members {
				key := rm.Member.BioguideID + "|" + rm.Member.Name + "|" + rm.Member.State + "|" + rm.Member.District
				if seen[key] {
					continue
				}
				seen[key] = true
				if !yield(rm.Member, nil) {
					return
				}
			}
		}
		finish(t, yield)
	}
}

func (h *House) ListCommittees(ctx context.Context, chamber roster.Chamber) iter.Seq2[roster.RawCommittee, error] {
	return func(yield func(roster.RawCommittee, error) bool) {
		if chamber != "" && chamber != roster.House {
			return
		}
		t := newTally("house", "list committees")
		for _, p := range h.pages {
			page, err := h.load(ctx, p, t)
			if err != nil {
				yield(roster.RawCommittee{}, err)
				return
			}
			if !emit(t, []roster.RawCommittee{page.committee}, yield) {
				return
			}
		}
		finish(t, yield)
	}
}

// ListCommitteeMemberships matches hint against the page code or URL.
func (h *House) ListCommitteeMemberships(ctx context.Context, hint string) iter.Seq2[roster.RawMembership, error] {
	return func(yield func(roster.RawMembership, error) bool) {
		t := newTally("house", "list memberships")
		for _, p := range h.pages {
			if hint != "" && !strings.EqualFold(p.Code, hint) && !containsFold(p.URL, hint) {
				continue
			}
			page, err := h.load(ctx, p, t)
			if err != nil {
				yield(roster.RawMembership{}, err)
				return
			}
			if !emit(t, page.members, yield) {
				return
			}
		}
		finish(t, yield)
	}
}
