package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"iter"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/joestump/congress-roster/internal/fetch"
	"github.com/joestump/congress-roster/internal/roster"
)

// SenateAssignmentsURL is the official Senate committee assignments page.
const SenateAssignmentsURL = "https://www.senate.gov/general/committee_assignments/assignments.htm"

var (
	partyStateRe    = regexp.MustCompile(`\(([A-Z]{1,2})-([A-Z]{2})\)`)
	trailingParenRe = regexp.MustCompile(`\s*\(([^()]*)\)\s*$`)
)

// Senate scrapes the official committee assignments page. Each senator is a
// link to their senate.gov site followed by "(P-ST)" and a list of
// committees, with subcommittees nested one level below.
type Senate struct {
	fetcher   Fetcher
	url       string
	authority float64
}

// NewSenate creates the Senate adapter. An empty pageURL uses
// SenateAssignmentsURL.
func NewSenate(f Fetcher, pageURL string, authority float64) *Senate {
	if pageURL == "" {
		pageURL = SenateAssignmentsURL
	}
	return &Senate{fetcher: f, url: pageURL, authority: authority}
}

func (s *Senate) Fingerprint() Fingerprint {
	return Fingerprint{ID: "senate", Authority: s.authority}
}

type senateAssignment struct {
	committee roster.RawCommittee
	position  string
}

type senator struct {
	member      roster.RawMember
	assignments []senateAssignment
}

// load fetches and parses the page, applying the schema and drop checks to
// what it read.
func (s *Senate) load(ctx context.Context, op string) ([]senator, error) {
	res, err := s.fetcher.Fetch(ctx, s.url, fetch.HTML)
	if err != nil {
		return nil, unavailable("senate", op, err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(res.Body))
	if err != nil {
		return nil, parseFailure("senate", op, fmt.Errorf("parse html: %w", err))
	}

	t := newTally("senate", op)
	var out []senator
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		if !isSenatorSite(href) {
			return
		}
		t.seen()
		name := strings.TrimSpace(a.Text())
		if name == "" {
			t.drop()
			return
		}
		p := a.Parent()
		m := partyStateRe.FindStringSubmatch(p.Text())
		if m == nil {
			t.miss("party_state")
			return
		}
		sen := senator{member: roster.RawMember{
			Name:    name,
			Party:   m[1],
			State:   m[2],
			Chamber: string(roster.Senate),
		}}

		ul := p.ChildrenFiltered("ul").First()
		if ul.Length() == 0 {
			ul = p.NextFiltered("ul")
		}
		if ul.Length() == 0 {
			t.miss("committees")
		}
		ul.ChildrenFiltered("li").Each(func(_ int, li *goquery.Selection) {
			cname, pos := splitPosition(li.Contents().Not("ul").Text())
			if cname == "" {
				return
			}
			sen.assignments = append(sen.assignments, senateAssignment{
				committee: roster.RawCommittee{Name: cname, Chamber: string(roster.Senate)},
				position:  pos,
			})
			li.ChildrenFiltered("ul").ChildrenFiltered("li").Each(func(_ int, sub *goquery.Selection) {
				sname, spos := splitPosition(sub.Text())
				if sname == "" {
					return
				}
				sen.assignments = append(sen.assignments, senateAssignment{
					committee: roster.RawCommittee{
						Name:       sname,
						Chamber:    string(roster.Senate),
						Type:       string(roster.Subcommittee),
						ParentHint: cname,
					},
					position: spos,
				})
			})
		})
		out = append(out, sen)
	})

	if t.total == 0 {
		return nil, parseFailure("senate", op, errors.New("no senator entries found"))
	}
	if err := t.settle(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Senate) ListCurrentMembers(ctx context.Context) iter.Seq2[roster.RawMember, error] {
	return func(yield func(roster.RawMember, error) bool) {
		sens, err := s.load(ctx, "list members")
		if err != nil {
			yield(roster.RawMember{}, err)
			return
		}
		for _, sen := range sens {
			if !yield(sen.member, nil) {
				return
			}
		}
	}
}

func (s *Senate) ListCommittees(ctx context.Context, chamber roster.Chamber) iter.Seq2[roster.RawCommittee, error] {
	return func(yield func(roster.RawCommittee, error) bool) {
		if chamber != "" && chamber != roster.Senate {
			return
		}
		sens, err := s.load(ctx, "list committees")
		if err != nil {
			yield(roster.RawCommittee{}, err)
			return
		}
		seen := map[string]bool{}
		for _, sen := range sens {
			for _, a := range sen.assignments {
				key := a.committee.ParentHint + "/" + a.committee.Name
				if seen[key] {
					continue
				}
				seen[key] = true
				if !yield(a.committee, nil) {
					return
				}
			}
		}
	}
}

// ListCommitteeMemberships filters by committee name when hint is set; a
// subcommittee matches when its parent does.
func (s *Senate) ListCommitteeMemberships(ctx context.Context, hint string) iter.Seq2[roster.RawMembership, error] {
	return func(yield func(roster.RawMembership, error) bool) {
		sens, err := s.load(ctx, "list memberships")
		if err != nil {
			yield(roster.RawMembership{}, err)
			return
		}
		for _, sen := range sens {
			for _, a := range sen.assignments {
				if hint != "" && !containsFold(a.committee.Name, hint) && !containsFold(a.committee.ParentHint, hint) {
					continue
				}
				rm := roster.RawMembership{Member: sen.member, Committee: a.committee, PositionHint: a.position}
				if !yield(rm, nil) {
					return
				}
			}
		}
	}
}

// isSenatorSite reports whether href points at an individual senator's site
// such as https://www.grassley.senate.gov/.
func isSenatorSite(href string) bool {
	u, err := url.Parse(href)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	if !strings.HasSuffix(host, ".senate.gov") {
		return false
	}
	return host != "www.senate.gov" && host != "senate.gov"
}

// splitPosition separates "Committee on Finance (Ranking)" into the name and
// the parenthesized marker, which is returned with its parentheses.
func splitPosition(text string) (name, position string) {
	text = strings.Join(strings.Fields(text), " ")
	loc := trailingParenRe.FindStringSubmatchIndex(text)
	if loc == nil {
		return text, ""
	}
	return strings.TrimSpace(text[:loc[0]]), "(" + strings.TrimSpace(text[loc[2]:loc[3]]) + ")"
}

func containsFold(s, sub string) bool {
	return sub != "" && strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}
