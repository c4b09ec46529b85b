package rating

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusinessDate(t *testing.T) {
	cal := Calendar{CutoffHour: 4}

	tests := []struct {
		name string
		in   time.Time
		want time.Time
	}{
		{
			name: "midday stays on its calendar date",
			in:   time.Date(2025, 3, 10, 14, 30, 0, 0, time.Local),
			want: time.Date(2025, 3, 10, 0, 0, 0, 0, time.Local),
		},
		{
			name: "one second before cutoff belongs to the previous day",
			in:   time.Date(2025, 3, 11, 3, 59, 59, 0, time.Local),
			want: time.Date(2025, 3, 10, 0, 0, 0, 0, time.Local),
		},
		{
			name: "exactly at cutoff starts the new day",
			in:   time.Date(2025, 3, 11, 4, 0, 0, 0, time.Local),
			want: time.Date(2025, 3, 11, 0, 0, 0, 0, time.Local),
		},
		{
			name: "early morning on the first of the month rolls back a month",
			in:   time.Date(2025, 4, 1, 2, 0, 0, 0, time.Local),
			want: time.Date(2025, 3, 31, 0, 0, 0, 0, time.Local),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, cal.BusinessDate(tt.in).Equal(tt.want), "got %v", cal.BusinessDate(tt.in))
		})
	}
}

func TestBusinessDateIdempotent(t *testing.T) {
	cal := Calendar{CutoffHour: 4}
	in := time.Date(2025, 3, 11, 1, 15, 0, 0, time.Local)
	once := cal.BusinessDate(in)
	// A business date is at midnight, which sits before the cutoff; mapping it
	// again must not roll it back another day.
	require.True(t, once.Equal(time.Date(2025, 3, 10, 0, 0, 0, 0, time.Local)))
	require.True(t, cal.BusinessDate(once).Equal(once))
	require.True(t, cal.BusinessDate(cal.BusinessDate(once)).Equal(once))

	// Only exact midnight is treated as already normalized. A real 00:30
	// timestamp still belongs to the previous day.
	late := time.Date(2025, 3, 11, 0, 30, 0, 0, time.Local)
	assert.True(t, cal.BusinessDate(late).Equal(time.Date(2025, 3, 10, 0, 0, 0, 0, time.Local)))
}

func TestBusinessDateZeroCutoff(t *testing.T) {
	cal := Calendar{CutoffHour: 0}
	in := time.Date(2025, 3, 11, 0, 30, 0, 0, time.Local)
	assert.True(t, cal.BusinessDate(in).Equal(time.Date(2025, 3, 11, 0, 0, 0, 0, time.Local)))
}

func TestSameBusinessDay(t *testing.T) {
	cal := Calendar{CutoffHour: 4}
	night := time.Date(2025, 3, 10, 23, 50, 0, 0, time.Local)
	afterMidnight := time.Date(2025, 3, 11, 1, 20, 0, 0, time.Local)
	morning := time.Date(2025, 3, 11, 9, 0, 0, 0, time.Local)

	assert.True(t, cal.SameBusinessDay(night, afterMidnight))
	assert.False(t, cal.SameBusinessDay(afterMidnight, morning))
}

func TestEachDay(t *testing.T) {
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.Local)
	end := time.Date(2025, 3, 4, 0, 0, 0, 0, time.Local)

	var days []string
	EachDay(start, end, func(day time.Time) {
		days = append(days, day.Format("2006-01-02"))
	})
	assert.Equal(t, []string{"2025-03-01", "2025-03-02", "2025-03-03", "2025-03-04"}, days)

	days = nil
	EachDay(end, start, func(day time.Time) {
		days = append(days, day.Format("2006-01-02"))
	})
	assert.Empty(t, days)
}
