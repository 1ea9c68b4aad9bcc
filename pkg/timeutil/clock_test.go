package timeutil

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

var utc8 = time.FixedZone("UTC+8", 8*3600)

func TestNextOccurrence(t *testing.T) {
	tests := []struct {
		name   string
		now    time.Time
		hour   int
		minute int
		want   time.Time
	}{
		{
			name: "later today",
			now:  time.Date(2025, 3, 1, 0, 1, 0, 0, utc8),
			hour: 0, minute: 5,
			want: time.Date(2025, 3, 1, 0, 5, 0, 0, utc8),
		},
		{
			name: "already passed rolls to tomorrow",
			now:  time.Date(2025, 3, 1, 10, 0, 0, 0, utc8),
			hour: 0, minute: 5,
			want: time.Date(2025, 3, 2, 0, 5, 0, 0, utc8),
		},
		{
			name: "exactly now rolls to tomorrow",
			now:  time.Date(2025, 3, 1, 0, 5, 0, 0, utc8),
			hour: 0, minute: 5,
			want: time.Date(2025, 3, 2, 0, 5, 0, 0, utc8),
		},
		{
			name: "utc input uses reference day",
			// 2025-02-28 17:00 UTC is 2025-03-01 01:00 UTC+8
			now:  time.Date(2025, 2, 28, 17, 0, 0, 0, time.UTC),
			hour: 0, minute: 5,
			want: time.Date(2025, 3, 2, 0, 5, 0, 0, utc8),
		},
		{
			name: "month end",
			now:  time.Date(2025, 12, 31, 23, 59, 0, 0, utc8),
			hour: 23, minute: 30,
			want: time.Date(2026, 1, 1, 23, 30, 0, 0, utc8),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NextOccurrence(tt.now, tt.hour, tt.minute, utc8)
			assert.True(t, tt.want.Equal(got), "want %v, got %v", tt.want, got)
		})
	}
}

func TestDayBounds(t *testing.T) {
	// 2025-03-01 16:30 UTC is 2025-03-02 00:30 UTC+8
	start, end := DayBounds(time.Date(2025, 3, 1, 16, 30, 0, 0, time.UTC), utc8)

	assert.True(t, start.Equal(time.Date(2025, 3, 2, 0, 0, 0, 0, utc8)))
	assert.True(t, end.Equal(time.Date(2025, 3, 3, 0, 0, 0, 0, utc8)))
	assert.Equal(t, 24*time.Hour, end.Sub(start))
}

func TestProperty_NextOccurrence(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	properties.Property("next fire is after now, within a day, at hour:minute", prop.ForAll(
		func(offsetSeconds int64, hour, minute int) bool {
			now := base.Add(time.Duration(offsetSeconds) * time.Second)
			next := NextOccurrence(now, hour, minute, utc8)
			local := next.In(utc8)
			return next.After(now) &&
				next.Sub(now) <= 24*time.Hour &&
				local.Hour() == hour &&
				local.Minute() == minute &&
				local.Second() == 0
		},
		gen.Int64Range(0, 3*365*24*3600),
		gen.IntRange(0, 23),
		gen.IntRange(0, 59),
	))

	properties.Property("now lies inside its own day bounds", prop.ForAll(
		func(offsetSeconds int64) bool {
			now := base.Add(time.Duration(offsetSeconds) * time.Second)
			start, end := DayBounds(now, utc8)
			return !now.Before(start) && now.Before(end)
		},
		gen.Int64Range(0, 3*365*24*3600),
	))

	properties.TestingRun(t)
}
