package cron

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculateAtSchedule(t *testing.T) {
	t.Run("valid ISO 8601 timestamp", func(t *testing.T) {
		schedule := Schedule{
			Kind: ScheduleKindAt,
			At:   "2026-12-25T14:00:00Z",
		}

		nextRun, err := CalculateNextRun(schedule)
		require.NoError(t, err)

		expected := time.Date(2026, 12, 25, 14, 0, 0, 0, time.UTC).UnixMilli()
		assert.Equal(t, expected, nextRun)
	})

	t.Run("invalid timestamp", func(t *testing.T) {
		_, err := CalculateNextRun(Schedule{Kind: ScheduleKindAt, At: "invalid"})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "invalid timestamp")
	})

	t.Run("missing at field", func(t *testing.T) {
		_, err := CalculateNextRun(Schedule{Kind: ScheduleKindAt})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "requires 'at' field")
	})
}

func TestCalculateEverySchedule(t *testing.T) {
	t.Run("without anchor", func(t *testing.T) {
		schedule := EverySchedule(time.Minute)

		before := time.Now().UnixMilli()
		nextRun, err := CalculateNextRun(schedule)
		require.NoError(t, err)
		after := time.Now().UnixMilli()

		assert.GreaterOrEqual(t, nextRun, before+60000)
		assert.LessOrEqual(t, nextRun, after+60000)
	})

	t.Run("with anchor in past", func(t *testing.T) {
		now := time.Now().UnixMilli()
		anchor := now - 150000

		schedule := Schedule{
			Kind:     ScheduleKindEvery,
			EveryMs:  60000,
			AnchorMs: &anchor,
		}

		nextRun, err := CalculateNextRun(schedule)
		require.NoError(t, err)

		// Aligned to the next interval boundary after now.
		assert.Equal(t, anchor+180000, nextRun)
	})

	t.Run("with anchor in future", func(t *testing.T) {
		anchor := time.Now().UnixMilli() + 300000

		schedule := Schedule{
			Kind:     ScheduleKindEvery,
			EveryMs:  60000,
			AnchorMs: &anchor,
		}

		nextRun, err := CalculateNextRun(schedule)
		require.NoError(t, err)
		assert.Equal(t, anchor, nextRun)
	})

	t.Run("non-positive interval", func(t *testing.T) {
		_, err := CalculateNextRun(Schedule{Kind: ScheduleKindEvery, EveryMs: 0})
		assert.Error(t, err)
	})
}

func TestCalculateCronSchedule(t *testing.T) {
	t.Run("valid 5-field expression", func(t *testing.T) {
		nextRun, err := CalculateNextRun(CronSchedule("15 3 * * *"))
		require.NoError(t, err)

		next := time.UnixMilli(nextRun)
		assert.True(t, next.After(time.Now()))
	})

	t.Run("invalid expression", func(t *testing.T) {
		_, err := CalculateNextRun(CronSchedule("not a cron line"))
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "invalid cron expression")
	})

	t.Run("missing expression", func(t *testing.T) {
		_, err := CalculateNextRun(Schedule{Kind: ScheduleKindCron})
		assert.Error(t, err)
	})

	t.Run("invalid timezone", func(t *testing.T) {
		schedule := CronSchedule("0 0 * * *")
		schedule.TZ = "Not/AZone"

		_, err := CalculateNextRun(schedule)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "invalid timezone")
	})
}

func TestCalculateNextRun_UnknownKind(t *testing.T) {
	_, err := CalculateNextRun(Schedule{Kind: "weird"})
	assert.Error(t, err)
}
