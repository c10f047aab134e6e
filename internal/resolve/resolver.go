// Package resolve turns raw source records into provenance-tagged facts keyed
// by canonical identifiers: bioguide ids for members and curated committee
// codes for committees. Records that cannot be tied to an identifier become
// pending identities instead of errors.
package resolve

import (
	"cmp"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joestump/congress-roster/internal/roster"
)

// Options holds the fact lifetimes.
type Options struct {
	MembershipTTL time.Duration // memberships and committee leadership
	ProfileTTL    time.Duration // member and committee profile attributes
}

// DefaultOptions returns 24h membership and 7d profile lifetimes.
func DefaultOptions() Options {
	return Options{MembershipTTL: 24 * time.Hour, ProfileTTL: 7 * 24 * time.Hour}
}

// Origin describes where and when a set of records was observed.
type Origin struct {
	SourceID   string
	Authority  float64
	ObservedAt time.Time
	RunID      string
	Partial    bool // the source never lists complete committee rosters
}

// Input is one source's raw records for a cycle.
type Input struct {
	Origin  Origin
	Records []roster.RawRecord
}

// Pending is a record the resolver could not tie to a canonical identifier.
type Pending struct {
	Kind     roster.EntityKind // KindMember or KindCommittee
	SourceID string
	Hint     string
	Reason   string
}

// EntityID is the pending identity's fact entity id.
func (p Pending) EntityID() string {
	return fmt.Sprintf("%s:%s:%s", p.Kind, p.SourceID, Normalize(p.Hint))
}

// Batch is the resolver output for one cycle. Pending identities are also
// present in Facts as pending_identity facts.
type Batch struct {
	Facts   []roster.Fact
	Pending []Pending
}

type naturalKey struct {
	kind   roster.EntityKind
	id     string
	attr   roster.Attribute
	source string
}

type builder struct {
	batch Batch
	seen  map[naturalKey]bool
}

func (b *builder) add(f roster.Fact) {
	k := naturalKey{f.EntityKind, f.EntityID, f.Attribute, f.SourceID}
	if b.seen[k] {
		return
	}
	b.seen[k] = true
	b.batch.Facts = append(b.batch.Facts, f)
}

// Resolver resolves raw records against the known roster and the committee
// alias table. It is not safe for concurrent use; each refresh cycle builds
// its own.
type Resolver struct {
	aliases *Aliases
	opts    Options
	known   map[string]roster.Member
}

// New creates a Resolver. known is the previously published member roster
// used for name matching.
func New(aliases *Aliases, known []roster.Member, opts Options) *Resolver {
	if aliases == nil {
		aliases = DefaultAliases()
	}
	def := DefaultOptions()
	if opts.MembershipTTL <= 0 {
		opts.MembershipTTL = def.MembershipTTL
	}
	if opts.ProfileTTL <= 0 {
		opts.ProfileTTL = def.ProfileTTL
	}
	r := &Resolver{aliases: aliases, opts: opts, known: make(map[string]roster.Member, len(known))}
	for _, m := range known {
		if m.BioguideID != "" {
			r.known[m.BioguideID] = m
		}
	}
	return r
}

// Aliases returns the committee table the resolver uses.
func (r *Resolver) Aliases() *Aliases { return r.aliases }

// ResolveAll resolves every input for congress. Members carrying a bioguide
// id are learned from all inputs before any name matching happens, and inputs
// are processed in source id order, so the result does not depend on the
// order in which sources finished.
func (r *Resolver) ResolveAll(congress int, inputs []Input) Batch {
	inputs = slices.Clone(inputs)
	slices.SortStableFunc(inputs, func(a, b Input) int { return cmp.Compare(a.Origin.SourceID, b.Origin.SourceID) })

	for _, in := range inputs {
		for _, rec := range in.Records {
			switch v := rec.(type) {
			case roster.RawMember:
				r.learn(v)
			case roster.RawMembership:
				r.learn(v.Member)
			}
		}
	}

	b := &builder{seen: map[naturalKey]bool{}}
	for _, in := range inputs {
		r.resolve(b, in.Origin, congress, in.Records)
	}
	return b.batch
}

// learn records a bioguide-bearing member so nameless records from other
// sources can match it. The published roster wins over source records.
func (r *Resolver) learn(rm roster.RawMember) {
	id := strings.ToUpper(strings.TrimSpace(rm.BioguideID))
	if id == "" {
		return
	}
	if _, ok := r.known[id]; ok {
		return
	}
	given, family := names(rm)
	m := roster.Member{BioguideID: id, GivenName: given, FamilyName: family}
	m.State, _ = State(rm.State)
	m.Chamber, _ = roster.ParseChamber(rm.Chamber)
	r.known[id] = m
}

func (r *Resolver) resolve(b *builder, o Origin, congress int, recs []roster.RawRecord) {
	var (
		committees  []roster.RawCommittee
		withID      []roster.RawMember
		withoutID   []roster.RawMember
		memberships []roster.RawMembership
	)
	for _, rec := range recs {
		switch v := rec.(type) {
		case roster.RawCommittee:
			committees = append(committees, v)
		case roster.RawMember:
			if strings.TrimSpace(v.BioguideID) != "" {
				withID = append(withID, v)
			} else {
				withoutID = append(withoutID, v)
			}
		case roster.RawMembership:
			memberships = append(memberships, v)
		}
	}

	for _, rc := range committees {
		r.committeeFacts(b, o, rc)
	}
	for _, rm := range append(withID, withoutID...) {
		r.memberFacts(b, o, rm)
	}
	for _, ms := range memberships {
		r.membershipFacts(b, o, congress, ms)
	}
}

// --- Facts ---

func (r *Resolver) fact(o Origin, kind roster.EntityKind, id string, attr roster.Attribute, value string, ttl time.Duration, schema float64) roster.Fact {
	if schema <= 0 {
		schema = 1
	}
	return roster.Fact{
		ID:         uuid.NewString(),
		EntityKind: kind,
		EntityID:   id,
		Attribute:  attr,
		Value:      value,
		SourceID:   o.SourceID,
		ObservedAt: o.ObservedAt,
		ExpiresAt:  o.ObservedAt.Add(ttl),
		Confidence: min(1, max(0, o.Authority*schema)),
		RunID:      o.RunID,
	}
}

func (r *Resolver) pending(b *builder, o Origin, kind roster.EntityKind, hint, reason string) {
	hint = strings.TrimSpace(hint)
	if hint == "" {
		return
	}
	p := Pending{Kind: kind, SourceID: o.SourceID, Hint: hint, Reason: reason}
	n := len(b.batch.Facts)
	b.add(r.fact(o, roster.KindPendingIdentity, p.EntityID(), roster.AttrUnresolved, hint, r.opts.MembershipTTL, 1))
	if len(b.batch.Facts) > n {
		b.batch.Pending = append(b.batch.Pending, p)
	}
}

func (r *Resolver) memberFacts(b *builder, o Origin, rm roster.RawMember) {
	id, reason := r.Member(rm)
	if id == "" {
		r.pending(b, o, roster.KindMember, memberHint(rm), reason)
		return
	}
	add := func(attr roster.Attribute, v string) {
		if v != "" {
			b.add(r.fact(o, roster.KindMember, id, attr, v, r.opts.ProfileTTL, rm.SchemaConfidence))
		}
	}
	given, family := names(rm)
	add(roster.AttrGivenName, given)
	add(roster.AttrFamilyName, family)
	if p, ok := roster.ParseParty(rm.Party); ok {
		add(roster.AttrParty, string(p))
	}
	chamber, ok := roster.ParseChamber(rm.Chamber)
	if ok && chamber != roster.Joint {
		add(roster.AttrChamber, string(chamber))
	}
	state, _ := State(rm.State)
	add(roster.AttrState, state)
	if chamber == roster.House {
		if d, ok := District(rm.District, state); ok {
			add(roster.AttrDistrict, strconv.Itoa(d))
		}
	}
	if ts, ok := termStart(rm.TermStart); ok {
		add(roster.AttrTermStart, ts)
	}
}

// committeeFacts records the profile of a resolved committee. Membership
// records call it too, so a committee seen only through its roster still
// enters the view.
func (r *Resolver) committeeFacts(b *builder, o Origin, rc roster.RawCommittee) (string, bool) {
	code, parent, ok := r.committee(b, o, rc)
	if !ok {
		return "", false
	}
	e, _ := r.aliases.ByCode(code)
	add := func(attr roster.Attribute, v string) {
		if v != "" {
			b.add(r.fact(o, roster.KindCommittee, code, attr, v, r.opts.ProfileTTL, rc.SchemaConfidence))
		}
	}
	c := e.Committee()
	add(roster.AttrName, c.Name)
	add(roster.AttrChamber, string(c.Chamber))
	add(roster.AttrCommitteeType, string(c.Type))
	add(roster.AttrParentCode, parent)
	jur := strings.TrimSpace(rc.Jurisdiction)
	if jur == "" {
		jur = c.Jurisdiction
	}
	add(roster.AttrJurisdiction, jur)
	return code, true
}

func (r *Resolver) membershipFacts(b *builder, o Origin, congress int, ms roster.RawMembership) {
	id, reason := r.Member(ms.Member)
	if id == "" {
		r.pending(b, o, roster.KindMember, memberHint(ms.Member), reason)
	}
	code, ok := r.committeeFacts(b, o, ms.Committee)
	if id == "" || !ok {
		return
	}

	sc := ms.SchemaConfidence
	mid := roster.MembershipID(id, code, congress)
	ttl := r.opts.MembershipTTL
	pos := Position(ms.PositionHint)
	b.add(r.fact(o, roster.KindMembership, mid, roster.AttrPresent, "true", ttl, sc))
	b.add(r.fact(o, roster.KindMembership, mid, roster.AttrPosition, string(pos), ttl, sc))
	if n, err := strconv.Atoi(strings.TrimSpace(ms.Rank)); err == nil && n > 0 {
		b.add(r.fact(o, roster.KindMembership, mid, roster.AttrRank, strconv.Itoa(n), ttl, sc))
	}
	switch pos {
	case roster.Chair:
		b.add(r.fact(o, roster.KindCommittee, code, roster.AttrChair, id, ttl, sc))
	case roster.RankingMember:
		b.add(r.fact(o, roster.KindCommittee, code, roster.AttrRanking, id, ttl, sc))
	}
}

// Absences returns present=false facts for current memberships in known that
// the source's complete roster of a committee omitted. Only committees for
// which the batch holds at least one present=true fact from o are considered,
// and partial sources never assert absence.
func (r *Resolver) Absences(o Origin, congress int, known []roster.Membership, b Batch) []roster.Fact {
	if o.Partial {
		return nil
	}
	covered := map[string]bool{}
	seen := map[string]bool{}
	for _, f := range b.Facts {
		if f.SourceID != o.SourceID || f.EntityKind != roster.KindMembership || f.Attribute != roster.AttrPresent || f.Value != "true" {
			continue
		}
		_, code, _, err := roster.SplitMembershipID(f.EntityID)
		if err != nil {
			continue
		}
		covered[code] = true
		seen[f.EntityID] = true
	}

	var out []roster.Fact
	for _, m := range known {
		if !m.IsCurrent || m.CongressNumber != congress || !covered[m.CommitteeCode] {
			continue
		}
		mid := roster.MembershipID(m.BioguideID, m.CommitteeCode, m.CongressNumber)
		if seen[mid] {
			continue
		}
		out = append(out, r.fact(o, roster.KindMembership, mid, roster.AttrPresent, "false", r.opts.MembershipTTL, 1))
	}
	return out
}

// --- Identity ---

// Member resolves a raw member to a bioguide id. On failure it returns an
// empty id and the reason, and the caller records a pending identity.
func (r *Resolver) Member(rm roster.RawMember) (id, reason string) {
	if bid := strings.ToUpper(strings.TrimSpace(rm.BioguideID)); bid != "" {
		return bid, ""
	}
	given, family := names(rm)
	if family == "" {
		return "", "no name"
	}
	state, ok := State(rm.State)
	if !ok {
		return "", "unknown state"
	}
	chamber, hasChamber := roster.ParseChamber(rm.Chamber)
	if chamber == roster.Joint {
		hasChamber = false
	}
	eligible := func(m roster.Member) bool {
		return m.State == state && (!hasChamber || m.Chamber == chamber)
	}

	var exact []string
	for bid, m := range r.known {
		if eligible(m) && m.FamilyName == family {
			exact = append(exact, bid)
		}
	}
	if len(exact) == 1 {
		return exact[0], ""
	}

	full := Normalize(given + " " + family)
	nf := Normalize(family)
	ini := initial(given)
	var loose []string
	for bid, m := range r.known {
		if !eligible(m) {
			continue
		}
		kf := Normalize(m.FamilyName)
		if kf == "" || (kf != nf && !strings.HasSuffix(" "+full, " "+kf)) {
			continue
		}
		if ki := initial(m.GivenName); ini != "" && ki != "" && ki != ini {
			continue
		}
		loose = append(loose, bid)
	}
	if len(loose) == 1 {
		return loose[0], ""
	}
	// Same initial: fall back to the full first given name.
	if first := firstToken(given); first != "" && len(loose) > 1 {
		var narrowed []string
		for _, bid := range loose {
			if firstToken(r.known[bid].GivenName) == first {
				narrowed = append(narrowed, bid)
			}
		}
		if len(narrowed) == 1 {
			return narrowed[0], ""
		}
	}
	if len(loose) > 1 || len(exact) > 1 {
		return "", "ambiguous"
	}
	return "", "no match"
}

func firstToken(given string) string {
	f, _, _ := strings.Cut(Normalize(given), " ")
	return f
}

// committee resolves a raw committee to a canonical code and the parent code
// to record. An unresolvable parent hint is recorded as pending and returned
// verbatim as the parent so the projection can flag the orphan.
func (r *Resolver) committee(b *builder, o Origin, rc roster.RawCommittee) (code, parent string, ok bool) {
	chamber, hasChamber := roster.ParseChamber(rc.Chamber)
	typ, _ := roster.ParseCommitteeType(rc.Type)
	isSub := typ == roster.Subcommittee || strings.TrimSpace(rc.ParentHint) != ""

	var parentCode string
	parentResolved := false
	if hint := strings.TrimSpace(rc.ParentHint); hint != "" {
		if i, found := r.aliases.lookupCode(hint); found {
			parentCode, parentResolved = r.aliases.entries[i].Code, true
		} else if i, found, _ := r.aliases.matchName(hint, func(a Alias) bool {
			return !strings.EqualFold(a.Type, string(roster.Subcommittee)) && chamberFits(a, chamber, hasChamber)
		}); found {
			parentCode, parentResolved = r.aliases.entries[i].Code, true
		} else {
			r.pending(b, o, roster.KindCommittee, hint, "unresolved parent")
			parentCode = hint
		}
	}

	i, found := r.aliases.lookupCode(rc.Code)
	if !found {
		var ambiguous bool
		i, found, ambiguous = r.aliases.matchName(rc.Name, func(a Alias) bool {
			if !chamberFits(a, chamber, hasChamber) {
				return false
			}
			if strings.EqualFold(a.Type, string(roster.Subcommittee)) != isSub {
				return false
			}
			return !parentResolved || strings.EqualFold(a.Parent, parentCode)
		})
		if !found {
			reason := "no match"
			if ambiguous {
				reason = "ambiguous"
			}
			r.pending(b, o, roster.KindCommittee, committeeHint(rc), reason)
			return "", "", false
		}
	}

	e := r.aliases.entries[i]
	parent = e.Parent
	if parentCode != "" {
		parent = parentCode
	}
	return e.Code, parent, true
}

func chamberFits(a Alias, chamber roster.Chamber, known bool) bool {
	if !known {
		return true
	}
	ac, _ := roster.ParseChamber(a.Chamber)
	return ac == chamber || ac == roster.Joint
}

// --- Helpers ---

func names(rm roster.RawMember) (given, family string) {
	given, family = strings.TrimSpace(rm.GivenName), strings.TrimSpace(rm.FamilyName)
	if family != "" {
		return given, family
	}
	g, f := splitName(rm.Name)
	if given == "" {
		given = g
	}
	return given, f
}

func memberHint(rm roster.RawMember) string {
	name := strings.TrimSpace(rm.Name)
	if name == "" {
		name = strings.TrimSpace(rm.GivenName + " " + rm.FamilyName)
	}
	if name == "" {
		return ""
	}
	return strings.TrimSpace(fmt.Sprintf("%s %s %s", name, rm.State, rm.Chamber))
}

func committeeHint(rc roster.RawCommittee) string {
	if rc.Name != "" {
		return rc.Name
	}
	return rc.Code
}

// District parses a House district. At-large seats and delegates from
// territories are district 0.
func District(s, state string) (int, bool) {
	s = strings.ToUpper(strings.TrimSpace(s))
	switch s {
	case "AL", "AT-LARGE", "AT LARGE", "0", "00":
		return 0, true
	case "":
		if IsTerritory(state) {
			return 0, true
		}
		return 0, false
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 || n > 53 {
		return 0, false
	}
	return n, true
}

// termStart accepts a year or a date. Terms begin on January 3.
func termStart(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t.Format(time.DateOnly), true
	}
	if y, err := strconv.Atoi(s); err == nil && y >= 1789 && y < 3000 {
		return fmt.Sprintf("%04d-01-03", y), true
	}
	return "", false
}
