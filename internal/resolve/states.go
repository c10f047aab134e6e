package resolve

import "strings"

// states maps postal codes to full names: the 50 states, the District of
// Columbia and the five territories that send delegates.
var states = map[string]string{
	"AL": "Alabama", "AK": "Alaska", "AZ": "Arizona", "AR": "Arkansas",
	"CA": "California", "CO": "Colorado", "CT": "Connecticut", "DE": "Delaware",
	"FL": "Florida", "GA": "Georgia", "HI": "Hawaii", "ID": "Idaho",
	"IL": "Illinois", "IN": "Indiana", "IA": "Iowa", "KS": "Kansas",
	"KY": "Kentucky", "LA": "Louisiana", "ME": "Maine", "MD": "Maryland",
	"MA": "Massachusetts", "MI": "Michigan", "MN": "Minnesota", "MS": "Mississippi",
	"MO": "Missouri", "MT": "Montana", "NE": "Nebraska", "NV": "Nevada",
	"NH": "New Hampshire", "NJ": "New Jersey", "NM": "New Mexico", "NY": "New York",
	"NC": "North Carolina", "ND": "North Dakota", "OH": "Ohio", "OK": "Oklahoma",
	"OR": "Oregon", "PA": "Pennsylvania", "RI": "Rhode Island", "SC": "South Carolina",
	"SD": "South Dakota", "TN": "Tennessee", "TX": "Texas", "UT": "Utah",
	"VT": "Vermont", "VA": "Virginia", "WA": "Washington", "WV": "West Virginia",
	"WI": "Wisconsin", "WY": "Wyoming",
	"DC": "District of Columbia", "PR": "Puerto Rico", "VI": "Virgin Islands",
	"GU": "Guam", "AS": "American Samoa", "MP": "Northern Mariana Islands",
}

var stateByName = func() map[string]string {
	m := make(map[string]string, len(states)+2)
	for code, name := range states {
		m[strings.ToLower(name)] = code
	}
	m["u.s. virgin islands"] = "VI"
	m["united states virgin islands"] = "VI"
	return m
}()

// State normalizes a postal code or full state name to the postal code.
func State(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if code := strings.ToUpper(s); len(code) == 2 {
		if _, ok := states[code]; ok {
			return code, true
		}
	}
	code, ok := stateByName[strings.ToLower(strings.Join(strings.Fields(s), " "))]
	return code, ok
}

// IsTerritory reports whether code elects a non-voting delegate rather than
// a district representative or senators.
func IsTerritory(code string) bool {
	switch code {
	case "DC", "PR", "VI", "GU", "AS", "MP":
		return true
	}
	return false
}
