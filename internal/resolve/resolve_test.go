package resolve

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joestump/congress-roster/internal/roster"
)

var observed = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func origin(id string, authority float64) Origin {
	return Origin{SourceID: id, Authority: authority, ObservedAt: observed, RunID: "run-1"}
}

// facts indexes a batch by (entity, attribute, source) for assertions.
func facts(b Batch) map[string]roster.Fact {
	out := map[string]roster.Fact{}
	for _, f := range b.Facts {
		out[string(f.EntityKind)+"/"+f.EntityID+"/"+string(f.Attribute)+"/"+f.SourceID] = f
	}
	return out
}

func TestState(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"IA", "IA", true},
		{"ia", "IA", true},
		{"Iowa", "IA", true},
		{"  new   york ", "NY", true},
		{"District of Columbia", "DC", true},
		{"Northern Mariana Islands", "MP", true},
		{"U.S. Virgin Islands", "VI", true},
		{"XX", "", false},
		{"Narnia", "", false},
	}
	for _, tt := range tests {
		got, ok := State(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("State(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
	assert.Len(t, states, 56)
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "jose diaz balart", Normalize("José  Díaz-Balart Jr."))
	assert.Equal(t, "nydia m velazquez", Normalize("Nydia M. Velázquez"))
	assert.Equal(t, "john smith", Normalize("John Smith III"))
	assert.Equal(t, "o'rourke", Normalize("O'Rourke"))
}

func TestSplitName(t *testing.T) {
	tests := []struct {
		in, given, family string
	}{
		{"Grassley, Chuck", "Chuck", "Grassley"},
		{"Durbin, Richard J.", "Richard J.", "Durbin"},
		{"Brett Guthrie", "Brett", "Guthrie"},
		{"Sen. Charles “Chuck” Grassley [R-IA]", "Charles Chuck", "Grassley"},
		{"Smith, Jason, Jr.", "Jason", "Smith"},
		{"Jason Smith, Jr.", "Jason", "Smith"},
		{"Capito", "", "Capito"},
	}
	for _, tt := range tests {
		given, family := splitName(tt.in)
		if given != tt.given || family != tt.family {
			t.Errorf("splitName(%q) = %q, %q; want %q, %q", tt.in, given, family, tt.given, tt.family)
		}
	}
}

func TestPosition(t *testing.T) {
	tests := []struct {
		in   string
		want roster.Position
	}{
		{"(Chairman)", roster.Chair},
		{"(chairwoman)", roster.Chair},
		{"(Chair)", roster.Chair},
		{"(Ranking)", roster.RankingMember},
		{"(Ranking Member)", roster.RankingMember},
		{"(Vice Chairman)", roster.ViceChair},
		{"(Vice Chairwoman)", roster.ViceChair},
		{"chair", roster.Chair},
		{"ranking_member", roster.RankingMember},
		{"Chairman", roster.Chair},
		{"vice_chair", roster.ViceChair},
		{"Ex Officio", roster.MemberRole},
		{"", roster.MemberRole},
		{"(Ex Officio) (Chairman)", roster.Chair},
	}
	for _, tt := range tests {
		if got := Position(tt.in); got != tt.want {
			t.Errorf("Position(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDistrict(t *testing.T) {
	d, ok := District("02", "KY")
	assert.True(t, ok)
	assert.Equal(t, 2, d)

	d, ok = District("AL", "WY")
	assert.True(t, ok)
	assert.Equal(t, 0, d)

	d, ok = District("", "DC")
	assert.True(t, ok)
	assert.Equal(t, 0, d)

	_, ok = District("", "OH")
	assert.False(t, ok)
	_, ok = District("54", "CA")
	assert.False(t, ok)
}

// --- Committees ---

func TestCommitteeKey(t *testing.T) {
	for _, name := range []string{
		"Committee on the Judiciary",
		"Senate Committee on the Judiciary",
		"Judiciary Committee",
		"JUDICIARY",
	} {
		assert.Equal(t, "judiciary", CommitteeKey(name), name)
	}
	assert.Equal(t, "intelligence", CommitteeKey("Permanent Select Committee on Intelligence"))
	assert.Equal(t, "economic", CommitteeKey("Joint Economic Committee"))
	assert.Equal(t, "banking housing and urban affairs", CommitteeKey("Banking, Housing & Urban Affairs"))
}

func TestDefaultAliases(t *testing.T) {
	a := DefaultAliases()
	e, ok := a.ByCode("ssju")
	require.True(t, ok)
	assert.Equal(t, "Committee on the Judiciary", e.Name)

	sub, ok := a.ByCode("SSJU21")
	require.True(t, ok)
	assert.Equal(t, roster.Subcommittee, sub.Committee().Type)
	assert.Equal(t, "SSJU", sub.Committee().ParentCode)
}

func TestParseAliases_Rejects(t *testing.T) {
	_, err := ParseAliases([]byte(`committees: [{code: X, name: X, chamber: Mars, type: Standing}]`))
	assert.Error(t, err)
	_, err = ParseAliases([]byte(`committees: [{code: X1, name: Sub, chamber: Senate, type: Subcommittee, parent: NOPE}]`))
	assert.Error(t, err)
	_, err = ParseAliases([]byte(`committees: [{code: A, name: A, chamber: Senate, type: Standing}, {code: a, name: B, chamber: Senate, type: Standing}]`))
	assert.Error(t, err)
}

func resolveCommittee(t *testing.T, rc roster.RawCommittee) (string, string, bool, Batch) {
	t.Helper()
	r := New(nil, nil, Options{})
	b := &builder{seen: map[naturalKey]bool{}}
	code, parent, ok := r.committee(b, origin("test", 1), rc)
	return code, parent, ok, b.batch
}

func TestResolveCommittee(t *testing.T) {
	tests := []struct {
		name string
		rc   roster.RawCommittee
		code string
	}{
		{"canonical code", roster.RawCommittee{Code: "HSIF"}, "HSIF"},
		{"system code", roster.RawCommittee{Code: "ssju00", Name: "Judiciary Committee"}, "SSJU"},
		{"code alias", roster.RawCommittee{Code: "HELP"}, "SSHR"},
		{"senate name", roster.RawCommittee{Name: "Committee on the Judiciary", Chamber: "Senate"}, "SSJU"},
		{"house name", roster.RawCommittee{Name: "Committee on the Judiciary", Chamber: "House"}, "HSJU"},
		{"prefixed name", roster.RawCommittee{Name: "Senate Committee on Finance", Chamber: "senate"}, "SSFI"},
		{"name alias", roster.RawCommittee{Name: "Committee on Education and the Workforce", Chamber: "House"}, "HSED"},
		{"fuzzy", roster.RawCommittee{Name: "Committee on the Judicary", Chamber: "Senate"}, "SSJU"},
		{"joint from senate page", roster.RawCommittee{Name: "Joint Economic Committee", Chamber: "Senate"}, "JSEC"},
		{"subcommittee by parent name", roster.RawCommittee{Name: "Subcommittee on Health", Chamber: "House", ParentHint: "Committee on Ways and Means"}, "HSWM02"},
		{"subcommittee by parent code", roster.RawCommittee{Name: "Subcommittee on Health", Chamber: "House", ParentHint: "hsif00"}, "HSIF14"},
		{"fuzzy subcommittee", roster.RawCommittee{Name: "Subcommittee on Crime and Terrorism", Chamber: "Senate", Type: "Subcommittee", ParentHint: "Committee on the Judiciary"}, "SSJU22"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _, ok, b := resolveCommittee(t, tt.rc)
			require.True(t, ok, "pending: %+v", b.Pending)
			assert.Equal(t, tt.code, code)
			assert.Empty(t, b.Pending)
		})
	}
}

func TestResolveCommittee_Pending(t *testing.T) {
	_, _, ok, b := resolveCommittee(t, roster.RawCommittee{Name: "Committee on Space Exploration", Chamber: "Senate"})
	assert.False(t, ok)
	require.Len(t, b.Pending, 1)
	assert.Equal(t, "no match", b.Pending[0].Reason)
	assert.Equal(t, roster.KindPendingIdentity, b.Facts[0].EntityKind)
	assert.Equal(t, "committee:test:committee on space exploration", b.Facts[0].EntityID)

	// Two House subcommittees share the name "Subcommittee on Health".
	_, _, ok, b = resolveCommittee(t, roster.RawCommittee{Name: "Subcommittee on Health", Chamber: "House", Type: "Subcommittee"})
	assert.False(t, ok)
	require.Len(t, b.Pending, 1)
	assert.Equal(t, "ambiguous", b.Pending[0].Reason)
}

func TestResolveCommittee_OrphanSubcommittee(t *testing.T) {
	code, parent, ok, b := resolveCommittee(t, roster.RawCommittee{
		Name:       "Subcommittee on the Constitution",
		Chamber:    "Senate",
		Type:       "Subcommittee",
		ParentHint: "Committee on Space Exploration",
	})
	require.True(t, ok)
	assert.Equal(t, "SSJU21", code)
	assert.Equal(t, "Committee on Space Exploration", parent)
	require.Len(t, b.Pending, 1)
	assert.Equal(t, roster.KindCommittee, b.Pending[0].Kind)
	assert.Equal(t, "unresolved parent", b.Pending[0].Reason)
}

// --- Members ---

func knownRoster() []roster.Member {
	return []roster.Member{
		{BioguideID: "G000386", GivenName: "Chuck", FamilyName: "Grassley", Chamber: roster.Senate, State: "IA"},
		{BioguideID: "D000563", GivenName: "Richard", FamilyName: "Durbin", Chamber: roster.Senate, State: "IL"},
		{BioguideID: "W000797", GivenName: "Debbie", FamilyName: "Wasserman Schultz", Chamber: roster.House, State: "FL"},
		{BioguideID: "D000600", GivenName: "Mario", FamilyName: "Díaz-Balart", Chamber: roster.House, State: "FL"},
		{BioguideID: "S001195", GivenName: "Jason", FamilyName: "Smith", Chamber: roster.House, State: "MO"},
		{BioguideID: "S001172", GivenName: "Adrian", FamilyName: "Smith", Chamber: roster.House, State: "NE"},
		{BioguideID: "J000001", GivenName: "Jane", FamilyName: "Doe", Chamber: roster.House, State: "TX"},
		{BioguideID: "J000002", GivenName: "John", FamilyName: "Doe", Chamber: roster.House, State: "TX"},
	}
}

func TestMember(t *testing.T) {
	r := New(nil, knownRoster(), Options{})
	tests := []struct {
		name   string
		rm     roster.RawMember
		id     string
		reason string
	}{
		{"bioguide wins", roster.RawMember{BioguideID: "g000386", Name: "Someone Else"}, "G000386", ""},
		{"exact", roster.RawMember{Name: "Grassley, Chuck", State: "IA", Chamber: "Senate"}, "G000386", ""},
		{"state by name", roster.RawMember{Name: "Durbin, Richard J.", State: "Illinois", Chamber: "Senate"}, "D000563", ""},
		{"diacritics", roster.RawMember{Name: "Mario Diaz-Balart", State: "FL", Chamber: "House"}, "D000600", ""},
		{"compound family", roster.RawMember{Name: "Debbie Wasserman Schultz", State: "FL", Chamber: "House"}, "W000797", ""},
		{"suffix", roster.RawMember{Name: "Jason Smith Jr.", State: "MO", Chamber: "House"}, "S001195", ""},
		{"initial disambiguates", roster.RawMember{Name: "Doe, Jane", State: "TX", Chamber: "House"}, "J000001", ""},
		{"ambiguous", roster.RawMember{Name: "Doe", State: "TX", Chamber: "House"}, "", "ambiguous"},
		{"wrong chamber", roster.RawMember{Name: "Grassley, Chuck", State: "IA", Chamber: "House"}, "", "no match"},
		{"unknown state", roster.RawMember{Name: "Grassley, Chuck", State: "Atlantis"}, "", "unknown state"},
		{"no name", roster.RawMember{State: "IA"}, "", "no name"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, reason := r.Member(tt.rm)
			assert.Equal(t, tt.id, id)
			assert.Equal(t, tt.reason, reason)
		})
	}
}

// Senator observed by the Senate page (name only) and the API (bioguide) as
// Judiciary chair resolves to one membership with facts from both sources.
func TestResolveAll_ChairFromTwoSources(t *testing.T) {
	r := New(nil, nil, Options{})
	b := r.ResolveAll(119, []Input{
		{Origin: origin("senate", 0.9), Records: []roster.RawRecord{
			roster.RawMember{Name: "Grassley, Chuck", Party: "R", State: "IA", Chamber: "Senate"},
			roster.RawMembership{
				Member:       roster.RawMember{Name: "Grassley, Chuck", Party: "R", State: "IA", Chamber: "Senate"},
				Committee:    roster.RawCommittee{Name: "Committee on the Judiciary", Chamber: "Senate"},
				PositionHint: "(Chairman)",
			},
		}},
		{Origin: origin("congressapi", 0.8), Records: []roster.RawRecord{
			roster.RawMember{BioguideID: "G000386", Name: "Grassley, Chuck", Party: "Republican", State: "Iowa", Chamber: "Senate", TermStart: "2023"},
			roster.RawMembership{
				Member:       roster.RawMember{BioguideID: "G000386", Name: "Grassley, Chuck", State: "Iowa"},
				Committee:    roster.RawCommittee{Code: "ssju00", Name: "Judiciary Committee", Chamber: "senate"},
				PositionHint: "Chairman",
				Rank:         "1",
			},
		}},
	})
	require.Empty(t, b.Pending)

	idx := facts(b)
	mid := "G000386|SSJU|119"
	for _, src := range []string{"senate", "congressapi"} {
		f, ok := idx["membership/"+mid+"/position/"+src]
		require.True(t, ok, src)
		assert.Equal(t, "Chair", f.Value)
		assert.Equal(t, "true", idx["membership/"+mid+"/present/"+src].Value)
		assert.Equal(t, "G000386", idx["committee/SSJU/chair/"+src].Value)
		assert.Equal(t, "Republican", idx["member/G000386/party/"+src].Value)
		assert.Equal(t, "IA", idx["member/G000386/state/"+src].Value)
	}

	pos := idx["membership/"+mid+"/position/senate"]
	assert.Equal(t, observed.Add(24*time.Hour), pos.ExpiresAt)
	assert.InDelta(t, 0.9, pos.Confidence, 1e-9)
	assert.Equal(t, "run-1", pos.RunID)

	profile := idx["member/G000386/family_name/senate"]
	assert.Equal(t, "Grassley", profile.Value)
	assert.Equal(t, observed.Add(7*24*time.Hour), profile.ExpiresAt)

	assert.Equal(t, "2023-01-03", idx["member/G000386/term_start/congressapi"].Value)
	assert.Equal(t, "1", idx["membership/"+mid+"/rank_within_party/congressapi"].Value)
	assert.Equal(t, "Committee on the Judiciary", idx["committee/SSJU/name/senate"].Value)
}

func TestResolveAll_OrderIndependent(t *testing.T) {
	a := Input{Origin: origin("mirror", 0.6), Records: []roster.RawRecord{
		roster.RawMember{Name: "Brett Guthrie", State: "KY", District: "2", Chamber: "House", Party: "R"},
	}}
	bIn := Input{Origin: origin("house", 0.9), Records: []roster.RawRecord{
		roster.RawMember{BioguideID: "G000558", Name: "Brett Guthrie", State: "KY", District: "02", Chamber: "House", Party: "R"},
	}}

	first := New(nil, nil, Options{}).ResolveAll(119, []Input{a, bIn})
	second := New(nil, nil, Options{}).ResolveAll(119, []Input{bIn, a})
	require.Empty(t, first.Pending)
	require.Equal(t, len(first.Facts), len(second.Facts))
	for i := range first.Facts {
		assert.Equal(t, first.Facts[i].Key(), second.Facts[i].Key())
		assert.Equal(t, first.Facts[i].Value, second.Facts[i].Value)
	}
	assert.Equal(t, "2", facts(first)["member/G000558/district/mirror"].Value)
}

func TestResolveAll_PendingMember(t *testing.T) {
	b := New(nil, nil, Options{}).ResolveAll(119, []Input{{
		Origin: origin("senate", 0.9),
		Records: []roster.RawRecord{
			roster.RawMembership{
				Member:    roster.RawMember{Name: "Newcomer, Pat", State: "OH", Chamber: "Senate"},
				Committee: roster.RawCommittee{Name: "Committee on Finance", Chamber: "Senate"},
			},
		},
	}})
	require.Len(t, b.Pending, 1)
	assert.Equal(t, roster.KindMember, b.Pending[0].Kind)
	for _, f := range b.Facts {
		assert.NotEqual(t, roster.KindMembership, f.EntityKind, "no membership without a member")
	}
}

func TestAbsences(t *testing.T) {
	r := New(nil, nil, Options{})
	o := origin("senate", 0.9)
	b := r.ResolveAll(119, []Input{{Origin: o, Records: []roster.RawRecord{
		roster.RawMembership{
			Member:    roster.RawMember{BioguideID: "C000880"},
			Committee: roster.RawCommittee{Code: "SSFI"},
		},
	}}})
	known := []roster.Membership{
		{BioguideID: "C000880", CommitteeCode: "SSFI", CongressNumber: 119, IsCurrent: true},
		{BioguideID: "W000779", CommitteeCode: "SSFI", CongressNumber: 119, IsCurrent: true},
		{BioguideID: "G000386", CommitteeCode: "SSJU", CongressNumber: 119, IsCurrent: true},
		{BioguideID: "X000001", CommitteeCode: "SSFI", CongressNumber: 118, IsCurrent: false},
	}

	abs := r.Absences(o, 119, known, b)
	require.Len(t, abs, 1)
	assert.Equal(t, "W000779|SSFI|119", abs[0].EntityID)
	assert.Equal(t, "false", abs[0].Value)

	o.Partial = true
	assert.Empty(t, r.Absences(o, 119, known, b))
}
