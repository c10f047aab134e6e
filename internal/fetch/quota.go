package fetch

import (
	"sync"
	"time"
)

// quota is a per-host daily request budget that resets at local midnight.
type quota struct {
	mu    sync.Mutex
	limit int
	loc   *time.Location
	day   string
	used  int
}

func newQuota(limit int, loc *time.Location) *quota {
	if loc == nil {
		loc = time.Local
	}
	return &quota{limit: limit, loc: loc}
}

func (q *quota) roll(now time.Time) {
	d := now.In(q.loc).Format(time.DateOnly)
	if d != q.day {
		q.day = d
		q.used = 0
	}
}

// take consumes one request from today's budget. It returns false without
// consuming when the budget is exhausted.
func (q *quota) take(now time.Time) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.roll(now)
	if q.used >= q.limit {
		return false
	}
	q.used++
	return true
}

func (q *quota) remaining(now time.Time) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.roll(now)
	return q.limit - q.used
}
