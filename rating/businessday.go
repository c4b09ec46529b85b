package rating

import "time"

// Calendar buckets timestamps into business days. A session logged before the
// cutoff hour belongs to the previous calendar date, so students studying past
// midnight are credited to the day they started. Every component that groups
// events by day must go through this type.
type Calendar struct {
	CutoffHour int // local hour, typically 4
}

// BusinessDate maps a timestamp to its business day at local midnight.
// Pure function of the timestamp and the fixed cutoff; idempotent. An input
// already at exact local midnight is a normalized business date and passes
// through unchanged, so day values survive re-mapping.
func (c Calendar) BusinessDate(t time.Time) time.Time {
	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	if t.Equal(midnight) {
		return midnight
	}
	if t.Hour() < c.CutoffHour {
		midnight = midnight.AddDate(0, 0, -1)
	}
	return midnight
}

// SameBusinessDay reports whether two timestamps fall on the same business day.
func (c Calendar) SameBusinessDay(a, b time.Time) bool {
	return c.BusinessDate(a).Equal(c.BusinessDate(b))
}

// EachDay calls fn for every calendar day from start to end inclusive.
// start and end are expected at local midnight.
func EachDay(start, end time.Time, fn func(day time.Time)) {
	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		fn(day)
	}
}
