package calendar

import (
	"testing"
	"time"

	"github.com/joestump/congress-roster/internal/roster"
)

func TestCongressFor(t *testing.T) {
	c := New(time.UTC)
	tests := []struct {
		date time.Time
		want int
	}{
		{time.Date(2025, 1, 2, 23, 59, 59, 0, time.UTC), 118},
		{time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC), 119},
		{time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), 119},
		{time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC), 119},
		{time.Date(2027, 1, 2, 0, 0, 0, 0, time.UTC), 119},
		{time.Date(2027, 1, 3, 0, 0, 0, 0, time.UTC), 120},
		{time.Date(1789, 6, 1, 0, 0, 0, 0, time.UTC), 1},
	}
	for _, tt := range tests {
		if got := c.CongressFor(tt.date); got != tt.want {
			t.Errorf("CongressFor(%s) = %d, want %d", tt.date.Format(time.DateOnly), got, tt.want)
		}
	}
}

func TestSessionWindow(t *testing.T) {
	c := New(time.UTC)
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	s := c.Session(119, now)
	if !s.StartDate.Equal(time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("start = %s", s.StartDate)
	}
	if !s.EndDate.Equal(time.Date(2027, 1, 3, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("end = %s", s.EndDate)
	}
	if !s.IsCurrent {
		t.Error("119 should be current in mid-2025")
	}
	if s.MajorityPartyHouse != roster.Republican || s.MajorityPartySenate != roster.Republican {
		t.Errorf("unexpected majorities %+v", s)
	}

	next := c.Session(120, now)
	if next.IsCurrent {
		t.Error("120 must not be current in 2025")
	}
	if next.MajorityPartyHouse != roster.Unknown {
		t.Errorf("120 majority should be unknown, got %s", next.MajorityPartyHouse)
	}
}

func TestDaysUntilNextAndTransitionDay(t *testing.T) {
	c := New(time.UTC)
	if got := c.DaysUntilNext(time.Date(2026, 12, 4, 12, 0, 0, 0, time.UTC)); got != 30 {
		t.Errorf("DaysUntilNext(2026-12-04) = %d, want 30", got)
	}
	if got := c.DaysUntilNext(time.Date(2027, 1, 3, 0, 0, 0, 0, time.UTC)); got != 0 {
		t.Errorf("DaysUntilNext on transition day = %d, want 0", got)
	}
	if !c.IsTransitionDay(time.Date(2027, 1, 3, 15, 0, 0, 0, time.UTC)) {
		t.Error("2027-01-03 should be a transition day")
	}
	if c.IsTransitionDay(time.Date(2026, 1, 3, 0, 0, 0, 0, time.UTC)) {
		t.Error("2026-01-03 is not a transition day")
	}
}

func TestCalendarLocation(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	c := New(ny)
	// 2027-01-03 03:00 UTC is still Jan 2 in New York.
	if got := c.CongressFor(time.Date(2027, 1, 3, 3, 0, 0, 0, time.UTC)); got != 119 {
		t.Fatalf("expected 119 in New York before local midnight, got %d", got)
	}
}

func TestRecessAt(t *testing.T) {
	c := New(time.UTC)
	if r, ok := c.RecessAt(time.Date(2025, 8, 31, 18, 0, 0, 0, time.UTC)); !ok || r.Name != "Summer recess" {
		t.Errorf("expected summer recess, got %+v %v", r, ok)
	}
	if _, ok := c.RecessAt(time.Date(2025, 9, 15, 0, 0, 0, 0, time.UTC)); ok {
		t.Error("mid-September 2025 is not a recess")
	}
}
