package dr

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseClock(t *testing.T) {
	t.Run("valid time", func(t *testing.T) {
		h, m, err := ParseClock("03:30")
		require.NoError(t, err)
		assert.Equal(t, 3, h)
		assert.Equal(t, 30, m)
	})

	t.Run("rejects missing colon", func(t *testing.T) {
		_, _, err := ParseClock("0330")
		assert.Error(t, err)
	})

	t.Run("rejects out of range hour", func(t *testing.T) {
		_, _, err := ParseClock("24:00")
		assert.Error(t, err)
	})

	t.Run("rejects out of range minute", func(t *testing.T) {
		_, _, err := ParseClock("12:60")
		assert.Error(t, err)
	})
}

func TestNextRun_Daily(t *testing.T) {
	// Tuesday 2026-03-10 12:00 UTC
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	t.Run("later today", func(t *testing.T) {
		next := NextRun(Schedule{Frequency: FrequencyDaily, Time: "18:00"}, now)
		assert.Equal(t, time.Date(2026, 3, 10, 18, 0, 0, 0, time.UTC), next)
	})

	t.Run("already passed rolls to tomorrow", func(t *testing.T) {
		next := NextRun(Schedule{Frequency: FrequencyDaily, Time: "03:00"}, now)
		assert.Equal(t, time.Date(2026, 3, 11, 3, 0, 0, 0, time.UTC), next)
	})

	t.Run("exactly now rolls to tomorrow", func(t *testing.T) {
		next := NextRun(Schedule{Frequency: FrequencyDaily, Time: "12:00"}, now)
		assert.Equal(t, time.Date(2026, 3, 11, 12, 0, 0, 0, time.UTC), next)
	})
}

func TestNextRun_Weekly(t *testing.T) {
	// Tuesday 2026-03-10 12:00 UTC
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	t.Run("later this week", func(t *testing.T) {
		day := time.Friday
		next := NextRun(Schedule{Frequency: FrequencyWeekly, Time: "02:00", DayOfWeek: &day}, now)
		assert.Equal(t, time.Date(2026, 3, 13, 2, 0, 0, 0, time.UTC), next)
		assert.Equal(t, time.Friday, next.Weekday())
	})

	t.Run("same day time passed rolls a full week", func(t *testing.T) {
		day := time.Tuesday
		next := NextRun(Schedule{Frequency: FrequencyWeekly, Time: "02:00", DayOfWeek: &day}, now)
		assert.Equal(t, time.Date(2026, 3, 17, 2, 0, 0, 0, time.UTC), next)
	})

	t.Run("same day time ahead stays today", func(t *testing.T) {
		day := time.Tuesday
		next := NextRun(Schedule{Frequency: FrequencyWeekly, Time: "22:00", DayOfWeek: &day}, now)
		assert.Equal(t, time.Date(2026, 3, 10, 22, 0, 0, 0, time.UTC), next)
	})

	t.Run("defaults to monday", func(t *testing.T) {
		next := NextRun(Schedule{Frequency: FrequencyWeekly, Time: "02:00"}, now)
		assert.Equal(t, time.Monday, next.Weekday())
		assert.True(t, next.After(now))
	})
}

func TestNextRun_Monthly(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	t.Run("later today", func(t *testing.T) {
		next := NextRun(Schedule{Frequency: FrequencyMonthly, Time: "23:00"}, now)
		assert.Equal(t, time.Date(2026, 3, 10, 23, 0, 0, 0, time.UTC), next)
	})

	t.Run("already passed rolls a month", func(t *testing.T) {
		next := NextRun(Schedule{Frequency: FrequencyMonthly, Time: "01:00"}, now)
		assert.Equal(t, time.Date(2026, 4, 10, 1, 0, 0, 0, time.UTC), next)
	})
}
