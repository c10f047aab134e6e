// Package calendar implements Congress numbering, session windows, known
// party control and the advisory recess calendar.
package calendar

import (
	"time"

	"github.com/joestump/congress-roster/internal/roster"
)

// firstCongressYear is the year the 1st Congress convened (March 4, 1789).
const firstCongressYear = 1789

// Calendar answers date questions in a fixed location. The zero value uses UTC.
type Calendar struct {
	Location *time.Location
}

// New returns a Calendar for loc (nil means UTC).
func New(loc *time.Location) Calendar {
	return Calendar{Location: loc}
}

func (c Calendar) loc() *time.Location {
	if c.Location == nil {
		return time.UTC
	}
	return c.Location
}

// startYear is the calendar year in which Congress n convenes.
func startYear(n int) int {
	return firstCongressYear + 2*(n-1)
}

// Start returns the instant Congress n convenes.
func (c Calendar) Start(n int) time.Time {
	if n == 1 {
		return time.Date(firstCongressYear, time.March, 4, 0, 0, 0, 0, c.loc())
	}
	return time.Date(startYear(n), time.January, 3, 0, 0, 0, 0, c.loc())
}

// End returns the instant Congress n ends, which is the start of n+1.
func (c Calendar) End(n int) time.Time {
	return c.Start(n + 1)
}

// CongressFor returns the Congress sitting at t. Dates before January 3 of a
// Congress's start year belong to the previous Congress.
func (c Calendar) CongressFor(t time.Time) int {
	t = t.In(c.loc())
	n := (t.Year()-firstCongressYear)/2 + 1
	if t.Before(c.Start(n)) {
		n--
	}
	if n < 1 {
		return 1
	}
	return n
}

// Session builds the CongressSession for n as of now, with majority parties
// from the known control table (Unknown when not recorded).
func (c Calendar) Session(n int, now time.Time) roster.CongressSession {
	start, end := c.Start(n), c.End(n)
	house, senate := Control(n)
	return roster.CongressSession{
		CongressNumber:      n,
		StartDate:           start,
		EndDate:             end,
		IsCurrent:           !now.Before(start) && now.Before(end),
		MajorityPartyHouse:  house,
		MajorityPartySenate: senate,
	}
}

// DaysUntilNext returns whole days from t until the next Congress convenes.
// It is 0 on the transition day itself.
func (c Calendar) DaysUntilNext(t time.Time) int {
	if c.IsTransitionDay(t) {
		return 0
	}
	t = t.In(c.loc())
	next := c.Start(c.CongressFor(t) + 1)
	// Count calendar days in UTC so DST shifts in loc cannot skew the result.
	today := day(t.Year(), t.Month(), t.Day())
	return int(day(next.Year(), next.Month(), next.Day()).Sub(today).Hours() / 24)
}

// IsTransitionDay reports whether t falls on the day a Congress convenes.
func (c Calendar) IsTransitionDay(t time.Time) bool {
	t = t.In(c.loc())
	s := c.Start(c.CongressFor(t))
	return t.Year() == s.Year() && t.YearDay() == s.YearDay()
}

// control records chamber majorities as [house, senate].
var control = map[int][2]roster.Party{
	116: {roster.Democratic, roster.Republican},
	117: {roster.Democratic, roster.Democratic},
	118: {roster.Republican, roster.Democratic},
	119: {roster.Republican, roster.Republican},
}

// Control returns the known majority parties of Congress n.
func Control(n int) (house, senate roster.Party) {
	c, ok := control[n]
	if !ok {
		return roster.Unknown, roster.Unknown
	}
	return c[0], c[1]
}

// Recess is an advisory window during which committee activity is light.
type Recess struct {
	Name  string
	Start time.Time
	End   time.Time
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

var recesses119 = []Recess{
	{Name: "Summer recess", Start: day(2025, 7, 1), End: day(2025, 8, 31)},
	{Name: "Winter recess", Start: day(2025, 12, 20), End: day(2026, 1, 7)},
	{Name: "Spring recess", Start: day(2026, 4, 1), End: day(2026, 4, 14)},
	{Name: "Summer recess", Start: day(2026, 7, 1), End: day(2026, 8, 31)},
	{Name: "Election recess", Start: day(2026, 10, 1), End: day(2026, 11, 30)},
}

// RecessAt returns the advisory recess containing t's date, if any.
// Windows are inclusive of both end dates.
func (c Calendar) RecessAt(t time.Time) (Recess, bool) {
	t = t.In(c.loc())
	d := day(t.Year(), t.Month(), t.Day())
	for _, r := range recesses119 {
		if !d.Before(r.Start) && !d.After(r.End) {
			return r, true
		}
	}
	return Recess{}, false
}
