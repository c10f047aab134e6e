package roster

import (
	"errors"
	"time"
)

// EntityKind names the kind of entity a Fact describes.
type EntityKind string

const (
	KindMember          EntityKind = "member"
	KindCommittee       EntityKind = "committee"
	KindMembership      EntityKind = "membership"
	KindPendingIdentity EntityKind = "pending_identity"
)

// Attribute names a single fact-bearing field of an entity.
type Attribute string

// Member attributes.
const (
	AttrGivenName  Attribute = "given_name"
	AttrFamilyName Attribute = "family_name"
	AttrParty      Attribute = "party"
	AttrChamber    Attribute = "chamber"
	AttrState      Attribute = "state"
	AttrDistrict   Attribute = "district"
	AttrTermStart  Attribute = "term_start"
)

// Committee attributes. AttrChamber is shared with members.
const (
	AttrName          Attribute = "name"
	AttrCommitteeType Attribute = "committee_type"
	AttrParentCode    Attribute = "parent_code"
	AttrJurisdiction  Attribute = "jurisdiction"
	AttrChair         Attribute = "chair"
	AttrRanking       Attribute = "ranking_member"
)

// Membership attributes.
const (
	AttrPresent  Attribute = "present"
	AttrPosition Attribute = "position"
	AttrRank     Attribute = "rank_within_party"
)

// AttrUnresolved is the single attribute of a pending identity.
const AttrUnresolved Attribute = "unresolved"

// Fact is one immutable, source-tagged observation of a single attribute of
// a single entity.
type Fact struct {
	ID         string
	EntityKind EntityKind
	EntityID   string
	Attribute  Attribute
	Value      string
	SourceID   string
	ObservedAt time.Time
	ExpiresAt  time.Time
	Confidence float64
	RunID      string
}

// Key identifies the (entity, attribute) pair a fact contributes to.
type Key struct {
	Kind      EntityKind
	EntityID  string
	Attribute Attribute
}

// Key returns the reconciliation key of f.
func (f Fact) Key() Key {
	return Key{Kind: f.EntityKind, EntityID: f.EntityID, Attribute: f.Attribute}
}

// Live reports whether f may still influence the canonical view at now.
func (f Fact) Live(now time.Time) bool {
	return !f.ObservedAt.After(now) && f.ExpiresAt.After(now)
}

// Freshness decays linearly from 1 at ObservedAt to 0 at ExpiresAt.
func (f Fact) Freshness(now time.Time) float64 {
	ttl := f.ExpiresAt.Sub(f.ObservedAt)
	if ttl <= 0 {
		return 0
	}
	left := f.ExpiresAt.Sub(now)
	switch {
	case left <= 0:
		return 0
	case left >= ttl:
		return 1
	}
	return float64(left) / float64(ttl)
}

// Validation errors for facts.
var (
	ErrFactNoEntity   = errors.New("fact has no entity id")
	ErrFactNoSource   = errors.New("fact has no source id")
	ErrFactBadExpiry  = errors.New("fact expires_at must be after observed_at")
	ErrFactConfidence = errors.New("fact confidence must be within 0..1")
)

// Validate checks the structural invariants every stored fact must satisfy.
func (f Fact) Validate() error {
	switch {
	case f.EntityID == "":
		return ErrFactNoEntity
	case f.SourceID == "":
		return ErrFactNoSource
	case !f.ExpiresAt.After(f.ObservedAt):
		return ErrFactBadExpiry
	case f.Confidence < 0 || f.Confidence > 1:
		return ErrFactConfidence
	}
	return nil
}
