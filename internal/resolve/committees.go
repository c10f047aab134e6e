package resolve

import (
	_ "embed"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/xrash/smetrics"
	"gopkg.in/yaml.v3"

	"github.com/joestump/congress-roster/internal/roster"
)

//go:embed data/committees.yaml
var committeesYAML []byte

// FuzzyThreshold is the minimum Jaro-Winkler similarity for a committee name
// match.
const FuzzyThreshold = 0.92

// Prefixes removed before comparing committee names, longest first.
var committeePrefixes = []string{
	"permanent select committee on ",
	"select committee on the ",
	"select committee on ",
	"special committee on ",
	"joint committee on the ",
	"joint committee on ",
	"subcommittee on the ",
	"subcommittee on ",
	"committee on the ",
	"committee on ",
	"joint ",
	"senate ",
	"house ",
	"the ",
}

// Congress.gov system codes: chamber letter, three letters, two digits.
var systemCodeRe = regexp.MustCompile(`^([hsj][a-z]{3})(\d{2})$`)

// Alias is one canonical committee with the spellings sources use for it.
type Alias struct {
	Code         string   `yaml:"code"`
	Name         string   `yaml:"name"`
	Chamber      string   `yaml:"chamber"`
	Type         string   `yaml:"type"`
	Parent       string   `yaml:"parent"`
	Jurisdiction string   `yaml:"jurisdiction"`
	Aliases      []string `yaml:"aliases"`
}

// Committee converts the alias entry to its canonical form.
func (a Alias) Committee() roster.Committee {
	ch, _ := roster.ParseChamber(a.Chamber)
	typ, _ := roster.ParseCommitteeType(a.Type)
	return roster.Committee{
		Code:         a.Code,
		Name:         a.Name,
		Chamber:      ch,
		Type:         typ,
		ParentCode:   a.Parent,
		Jurisdiction: a.Jurisdiction,
	}
}

// Aliases is the curated committee table.
type Aliases struct {
	entries []Alias
	byCode  map[string]int   // canonical codes and code aliases, upper case
	byName  map[string][]int // normalized names and name aliases
}

// DefaultAliases loads the embedded committee table.
func DefaultAliases() *Aliases {
	a, err := ParseAliases(committeesYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded committee table: %v", err))
	}
	return a
}

// ParseAliases reads a committee table from YAML.
func ParseAliases(data []byte) (*Aliases, error) {
	var doc struct {
		Committees []Alias `yaml:"committees"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode committee table: %w", err)
	}
	a := &Aliases{byCode: map[string]int{}, byName: map[string][]int{}}
	for _, e := range doc.Committees {
		if e.Code == "" || e.Name == "" {
			return nil, fmt.Errorf("committee table entry %+v: code and name are required", e)
		}
		if _, ok := roster.ParseChamber(e.Chamber); !ok {
			return nil, fmt.Errorf("committee %s: unknown chamber %q", e.Code, e.Chamber)
		}
		if _, ok := roster.ParseCommitteeType(e.Type); !ok {
			return nil, fmt.Errorf("committee %s: unknown type %q", e.Code, e.Type)
		}
		if _, dup := a.byCode[strings.ToUpper(e.Code)]; dup {
			return nil, fmt.Errorf("committee %s: duplicate code", e.Code)
		}
		i := len(a.entries)
		a.entries = append(a.entries, e)
		a.byCode[strings.ToUpper(e.Code)] = i
		a.addName(CommitteeKey(e.Name), i)
		for _, al := range e.Aliases {
			a.addName(CommitteeKey(al), i)
			if al == strings.ToUpper(al) && !strings.Contains(al, " ") {
				a.byCode[strings.ToUpper(al)] = i
			}
		}
	}
	for _, e := range a.entries {
		if e.Parent == "" {
			continue
		}
		if _, ok := a.byCode[strings.ToUpper(e.Parent)]; !ok {
			return nil, fmt.Errorf("committee %s: unknown parent %s", e.Code, e.Parent)
		}
	}
	return a, nil
}

func (a *Aliases) addName(key string, i int) {
	if key == "" || slices.Contains(a.byName[key], i) {
		return
	}
	a.byName[key] = append(a.byName[key], i)
}

// Entries returns the canonical committees in table order.
func (a *Aliases) Entries() []Alias { return slices.Clone(a.entries) }

// ByCode returns the entry for a canonical code.
func (a *Aliases) ByCode(code string) (Alias, bool) {
	i, ok := a.byCode[strings.ToUpper(code)]
	if !ok {
		return Alias{}, false
	}
	return a.entries[i], true
}

// CommitteeKey normalizes a committee name for comparison: casefolded,
// diacritics removed, "&" spelled out, and chamber or "Committee on" style
// prefixes and a trailing "Committee" stripped.
func CommitteeKey(name string) string {
	s := " " + strings.ToLower(strings.Join(strings.Fields(name), " ")) + " "
	s = strings.ReplaceAll(s, " & ", " and ")
	s = Normalize(s)
	for {
		trimmed := false
		for _, p := range committeePrefixes {
			if strings.HasPrefix(s, p) {
				s = strings.TrimPrefix(s, p)
				trimmed = true
				break
			}
		}
		if !trimmed {
			break
		}
	}
	s = strings.TrimSuffix(s, " committee")
	return strings.TrimSpace(s)
}

// lookupCode resolves a source code: canonical codes and code aliases first,
// then Congress.gov system codes ("ssju00" is SSJU, "ssju21" is SSJU21).
func (a *Aliases) lookupCode(code string) (int, bool) {
	code = strings.TrimSpace(code)
	if code == "" {
		return 0, false
	}
	if i, ok := a.byCode[strings.ToUpper(code)]; ok {
		return i, true
	}
	if m := systemCodeRe.FindStringSubmatch(strings.ToLower(code)); m != nil {
		c := strings.ToUpper(m[1])
		if m[2] != "00" {
			c += m[2]
		}
		if i, ok := a.byCode[c]; ok {
			return i, true
		}
	}
	return 0, false
}

// matchName finds the committee whose name best matches name among the
// entries accepted by keep. It reports ambiguous when more than one entry
// matches exactly or ties for the best fuzzy score.
func (a *Aliases) matchName(name string, keep func(Alias) bool) (i int, ok, ambiguous bool) {
	key := CommitteeKey(name)
	if key == "" {
		return 0, false, false
	}
	var exact []int
	for _, j := range a.byName[key] {
		if keep(a.entries[j]) {
			exact = append(exact, j)
		}
	}
	switch len(exact) {
	case 1:
		return exact[0], true, false
	case 0:
	default:
		return 0, false, true
	}

	best, bestScore, tie := -1, 0.0, false
	for k, keys := range a.byName {
		score := smetrics.JaroWinkler(key, k, 0.7, 4)
		if score < FuzzyThreshold {
			continue
		}
		for _, j := range keys {
			if !keep(a.entries[j]) {
				continue
			}
			switch {
			case score > bestScore:
				best, bestScore, tie = j, score, false
			case score == bestScore && j != best:
				tie = true
			}
		}
	}
	if best < 0 {
		return 0, false, false
	}
	if tie {
		return 0, false, true
	}
	return best, true, false
}
