package roster

// RawRecord is what a source adapter extracts before any normalization. The
// set of variants is closed: RawMember, RawCommittee and RawMembership.
type RawRecord interface {
	rawRecord()
}

// RawMember is a loosely parsed legislator as seen by one source.
type RawMember struct {
	BioguideID string // may be empty
	Name       string // free-form, "Family, Given" or "Given Family"
	GivenName  string // optional when Name is set
	FamilyName string // optional when Name is set
	Party      string // abbreviation or long form
	State      string // postal code or full name
	District   string // "", "AL", "0".."53"
	Chamber    string
	TermStart  string // YYYY or YYYY-MM-DD, optional

	// SchemaConfidence is the adapter's parse certainty; zero means 1.0.
	SchemaConfidence float64
}

// RawCommittee is a loosely parsed committee as seen by one source.
type RawCommittee struct {
	Code         string // source-specific code, may be empty
	Name         string
	Chamber      string
	Type         string
	ParentHint   string // source code or name of the parent committee
	Jurisdiction string

	SchemaConfidence float64
}

// RawMembership links a member hint to a committee hint with position text.
type RawMembership struct {
	Member       RawMember
	Committee    RawCommittee
	PositionHint string // e.g. "(Chairman)" or "ranking_member"
	Rank         string // optional rank within party

	SchemaConfidence float64
}

func (RawMember) rawRecord()     {}
func (RawCommittee) rawRecord()  {}
func (RawMembership) rawRecord() {}
