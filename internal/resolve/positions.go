package resolve

import (
	"regexp"
	"strings"

	"github.com/joestump/congress-roster/internal/roster"
)

var parenRe = regexp.MustCompile(`\(([^()]*)\)`)

// Position maps source position text onto a canonical position. Scraped
// pages mark roles with a parenthesized token such as "(Chairman)"; JSON
// sources use bare role words such as "ranking_member", which are wrapped
// and read the same way. Anything unrecognized is a plain Member.
func Position(hint string) roster.Position {
	hint = strings.TrimSpace(hint)
	if hint == "" {
		return roster.MemberRole
	}
	if !strings.Contains(hint, "(") {
		hint = "(" + strings.ReplaceAll(hint, "_", " ") + ")"
	}
	for _, m := range parenRe.FindAllStringSubmatch(hint, -1) {
		if p, ok := positionToken(m[1]); ok {
			return p
		}
	}
	return roster.MemberRole
}

func positionToken(tok string) (roster.Position, bool) {
	switch strings.Join(strings.Fields(strings.ToLower(tok)), " ") {
	case "chair", "chairman", "chairwoman":
		return roster.Chair, true
	case "ranking", "ranking member":
		return roster.RankingMember, true
	case "vice chair", "vice chairman", "vice chairwoman":
		return roster.ViceChair, true
	}
	return "", false
}
