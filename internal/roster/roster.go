// Package roster defines the canonical congressional entities, the raw
// records emitted by source adapters, and the provenance-tagged Fact that
// links the two.
package roster

import (
	"fmt"
	"strings"
	"time"
)

// Chamber is the legislative body a member or committee belongs to.
type Chamber string

const (
	House  Chamber = "House"
	Senate Chamber = "Senate"
	Joint  Chamber = "Joint"
)

// ParseChamber accepts the spellings used by the upstream sources.
func ParseChamber(s string) (Chamber, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "house", "house of representatives", "representative", "rep", "h":
		return House, true
	case "senate", "senator", "sen", "s":
		return Senate, true
	case "joint", "j":
		return Joint, true
	}
	return "", false
}

// Party is a member's party affiliation or a chamber's majority.
type Party string

const (
	Republican  Party = "Republican"
	Democratic  Party = "Democratic"
	Independent Party = "Independent"
	Unknown     Party = "Unknown"
)

// ParseParty maps abbreviations and long forms onto a Party. Unrecognized
// input yields Unknown and false.
func ParseParty(s string) (Party, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "r", "rep", "republican":
		return Republican, true
	case "d", "dem", "democrat", "democratic":
		return Democratic, true
	case "i", "id", "ind", "independent", "independent democrat":
		return Independent, true
	}
	return Unknown, false
}

// Position is a member's role on a committee.
type Position string

const (
	Chair         Position = "Chair"
	RankingMember Position = "Ranking Member"
	ViceChair     Position = "Vice Chair"
	MemberRole    Position = "Member"
)

// CommitteeType classifies committees.
type CommitteeType string

const (
	Standing     CommitteeType = "Standing"
	Select       CommitteeType = "Select"
	Special      CommitteeType = "Special"
	JointType    CommitteeType = "Joint"
	Subcommittee CommitteeType = "Subcommittee"
)

// ParseCommitteeType is lenient about case and the "Committee" suffix.
func ParseCommitteeType(s string) (CommitteeType, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimSuffix(s, " committee")
	switch s {
	case "standing":
		return Standing, true
	case "select", "permanent select":
		return Select, true
	case "special":
		return Special, true
	case "joint":
		return JointType, true
	case "subcommittee", "sub":
		return Subcommittee, true
	}
	return "", false
}

// CongressSession is one two-year sitting of Congress.
type CongressSession struct {
	CongressNumber      int
	StartDate           time.Time
	EndDate             time.Time
	IsCurrent           bool
	MajorityPartyHouse  Party
	MajorityPartySenate Party
}

// Majority returns the majority party of a chamber. Joint committees have no
// single majority and always report Unknown.
func (s CongressSession) Majority(c Chamber) Party {
	switch c {
	case House:
		return s.MajorityPartyHouse
	case Senate:
		return s.MajorityPartySenate
	}
	return Unknown
}

// Member is a canonical legislator keyed by bioguide id.
type Member struct {
	BioguideID string
	GivenName  string
	FamilyName string
	Chamber    Chamber
	State      string
	District   *int
	Party      Party
	TermStart  *time.Time
	TermEnd    *time.Time
	IsCurrent  bool
	Confidence float64
	UpdatedAt  time.Time
}

// DisplayName is derived, never stored by sources.
func (m Member) DisplayName() string {
	name := strings.TrimSpace(m.GivenName + " " + m.FamilyName)
	if m.Party == "" || m.State == "" {
		return name
	}
	return fmt.Sprintf("%s (%s-%s)", name, string(m.Party)[:1], m.State)
}

// Committee is a canonical committee or subcommittee.
type Committee struct {
	Code         string
	Name         string
	Chamber      Chamber
	Type         CommitteeType
	ParentCode   string
	Jurisdiction string
	IsActive     bool
	Confidence   float64
	UpdatedAt    time.Time
}

// Membership relates a member to a committee for one Congress.
type Membership struct {
	BioguideID      string
	CommitteeCode   string
	CongressNumber  int
	Position        Position
	RankWithinParty *int
	StartDate       *time.Time
	EndDate         *time.Time
	IsCurrent       bool
	Confidence      float64
	UpdatedAt       time.Time
}

// MembershipID is the fact entity id for a membership.
func MembershipID(bioguideID, code string, congress int) string {
	return fmt.Sprintf("%s|%s|%d", bioguideID, code, congress)
}

// SplitMembershipID is the inverse of MembershipID.
func SplitMembershipID(id string) (bioguideID, code string, congress int, err error) {
	parts := strings.Split(id, "|")
	if len(parts) != 3 {
		return "", "", 0, fmt.Errorf("malformed membership id %q", id)
	}
	if _, err := fmt.Sscanf(parts[2], "%d", &congress); err != nil {
		return "", "", 0, fmt.Errorf("malformed congress in membership id %q: %w", id, err)
	}
	return parts[0], parts[1], congress, nil
}
