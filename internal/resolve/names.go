package resolve

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var suffixes = map[string]bool{"jr": true, "sr": true, "ii": true, "iii": true, "iv": true}

// Normalize casefolds s, strips diacritics and punctuation, drops
// generational suffixes and collapses whitespace. "José Díaz-Balart Jr." and
// "jose diaz balart" normalize identically.
func Normalize(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	out = cases.Fold().String(out)

	fields := strings.FieldsFunc(out, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
	kept := fields[:0]
	for _, f := range fields {
		f = strings.Trim(f, "'")
		if f == "" || suffixes[f] {
			continue
		}
		kept = append(kept, f)
	}
	return strings.Join(kept, " ")
}

// quoteReplacer turns quoted nicknames like Charles “Chuck” Grassley into
// plain tokens.
var quoteReplacer = strings.NewReplacer("“", " ", "”", " ", "\"", " ")

// splitName separates a free-form name into given and family parts. It
// accepts "Family, Given", "Given Family" and titled forms such as
// "Sen. Charles Grassley [R-IA]".
func splitName(s string) (given, family string) {
	if i := strings.IndexByte(s, '['); i >= 0 {
		s = s[:i]
	}
	s = quoteReplacer.Replace(s)

	if f, g, ok := strings.Cut(s, ","); ok {
		g = dropSuffixes(g)
		if strings.TrimSpace(g) != "" {
			return strings.Join(strings.Fields(g), " "), strings.Join(strings.Fields(f), " ")
		}
		// "Given Family, Jr."
		s = f
	}

	tokens := strings.Fields(dropSuffixes(s))
	for len(tokens) > 0 && isTitle(tokens[0]) {
		tokens = tokens[1:]
	}
	switch len(tokens) {
	case 0:
		return "", ""
	case 1:
		return "", tokens[0]
	}
	return strings.Join(tokens[:len(tokens)-1], " "), tokens[len(tokens)-1]
}

func dropSuffixes(s string) string {
	tokens := strings.Fields(strings.ReplaceAll(s, ",", " , "))
	kept := tokens[:0]
	for _, t := range tokens {
		if isSuffix(t) {
			continue
		}
		kept = append(kept, t)
	}
	out := strings.Join(kept, " ")
	out = strings.ReplaceAll(out, " , ", ", ")
	return strings.Trim(strings.TrimSpace(out), ",")
}

func isSuffix(s string) bool {
	return suffixes[strings.ToLower(strings.Trim(strings.TrimSpace(s), ".,"))]
}

func isTitle(s string) bool {
	switch strings.ToLower(strings.TrimSuffix(s, ".")) {
	case "sen", "senator", "rep", "representative", "del", "delegate", "commish", "hon":
		return true
	}
	return false
}

// initial is the first letter of the normalized given name.
func initial(given string) string {
	n := Normalize(given)
	if n == "" {
		return ""
	}
	r := []rune(n)
	return string(r[0])
}
