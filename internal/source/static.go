package source

import (
	"context"
	_ "embed"
	"fmt"
	"iter"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/joestump/congress-roster/internal/roster"
)

//go:embed data/leadership_119.yaml
var leadershipYAML []byte

// MaxStaticAuthority caps the weight of the fallback roster.
const MaxStaticAuthority = 0.5

type staticPerson struct {
	Bioguide string `yaml:"bioguide"`
	Name     string `yaml:"name"`
	Party    string `yaml:"party"`
	State    string `yaml:"state"`
	District string `yaml:"district"`
}

type staticCommittee struct {
	Code    string        `yaml:"code"`
	Name    string        `yaml:"name"`
	Chamber string        `yaml:"chamber"`
	Chair   *staticPerson `yaml:"chair"`
	Ranking *staticPerson `yaml:"ranking"`
}

type staticRoster struct {
	Congress   int               `yaml:"congress"`
	Committees []staticCommittee `yaml:"committees"`
}

// Static serves a bundled roster of known committee leadership. It is the
// last resort when the live sources are down and is always flagged.
type Static struct {
	roster    staticRoster
	authority float64
	err       error
}

// NewStatic loads the embedded roster. Authority is clamped to
// MaxStaticAuthority.
func NewStatic(authority float64) *Static {
	return newStatic(leadershipYAML, authority)
}

func newStatic(data []byte, authority float64) *Static {
	s := &Static{authority: min(authority, MaxStaticAuthority)}
	if err := yaml.Unmarshal(data, &s.roster); err != nil {
		s.err = parseFailure("static", "load", fmt.Errorf("decode embedded roster: %w", err))
	}
	return s
}

func (s *Static) Fingerprint() Fingerprint {
	return Fingerprint{ID: "static", Authority: s.authority, Static: true}
}

// Congress is the Congress the bundled roster describes.
func (s *Static) Congress() int { return s.roster.Congress }

func (p *staticPerson) raw(chamber string) roster.RawMember {
	return roster.RawMember{
		BioguideID: p.Bioguide,
		Name:       p.Name,
		Party:      p.Party,
		State:      p.State,
		District:   p.District,
		Chamber:    chamber,
	}
}

func (c staticCommittee) raw() roster.RawCommittee {
	return roster.RawCommittee{Code: c.Code, Name: c.Name, Chamber: c.Chamber, Type: string(roster.Standing)}
}

func (s *Static) ListCurrentMembers(_ context.Context) iter.Seq2[roster.RawMember, error] {
	if s.err != nil {
		return fail[roster.RawMember](s.err)
	}
	return func(yield func(roster.RawMember, error) bool) {
		seen := map[string]bool{}
		for _, c := range s.roster.Committees {
			for _, p := range []*staticPerson{c.Chair, c.Ranking} {
				if p == nil || seen[p.Bioguide+p.Name] {
					continue
				}
				seen[p.Bioguide+p.Name] = true
				if !yield(p.raw(c.Chamber), nil) {
					return
				}
			}
		}
	}
}

func (s *Static) ListCommittees(_ context.Context, chamber roster.Chamber) iter.Seq2[roster.RawCommittee, error] {
	if s.err != nil {
		return fail[roster.RawCommittee](s.err)
	}
	return func(yield func(roster.RawCommittee, error) bool) {
		for _, c := range s.roster.Committees {
			if chamber != "" && !strings.EqualFold(c.Chamber, string(chamber)) {
				continue
			}
			if !yield(c.raw(), nil) {
				return
			}
		}
	}
}

// ListCommitteeMemberships yields only the leadership pairs; the bundled
// roster does not carry rank-and-file members.
func (s *Static) ListCommitteeMemberships(_ context.Context, hint string) iter.Seq2[roster.RawMembership, error] {
	if s.err != nil {
		return fail[roster.RawMembership](s.err)
	}
	return func(yield func(roster.RawMembership, error) bool) {
		for _, c := range s.roster.Committees {
			if hint != "" && !strings.EqualFold(c.Code, hint) && !containsFold(c.Name, hint) {
				continue
			}
			if c.Chair != nil {
				if !yield(roster.RawMembership{Member: c.Chair.raw(c.Chamber), Committee: c.raw(), PositionHint: "(Chair)"}, nil) {
					return
				}
			}
			if c.Ranking != nil {
				if !yield(roster.RawMembership{Member: c.Ranking.raw(c.Chamber), Committee: c.raw(), PositionHint: "(Ranking Member)"}, nil) {
					return
				}
			}
		}
	}
}
