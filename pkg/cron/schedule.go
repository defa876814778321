// Package cron schedules recurring maintenance work, such as the membership
// index backfill, from a time specification that is either a one-shot
// timestamp, a fixed interval, or a 5-field cron expression.
package cron

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// ScheduleKind selects how a Schedule is interpreted.
type ScheduleKind string

const (
	ScheduleKindAt    ScheduleKind = "at"
	ScheduleKindEvery ScheduleKind = "every"
	ScheduleKindCron  ScheduleKind = "cron"
)

// Schedule is a time specification for job execution.
type Schedule struct {
	Kind ScheduleKind `json:"kind"`

	// For "at" schedule
	At string `json:"at,omitempty"` // ISO 8601 timestamp

	// For "every" schedule
	EveryMs  int64  `json:"everyMs,omitempty"`  // Interval in milliseconds
	AnchorMs *int64 `json:"anchorMs,omitempty"` // Optional anchor point

	// For "cron" schedule
	Expr string `json:"expr,omitempty"` // Cron expression (5-field format)
	TZ   string `json:"tz,omitempty"`   // Optional timezone
}

// CronSchedule builds a Schedule from a 5-field cron expression.
func CronSchedule(expr string) Schedule {
	return Schedule{Kind: ScheduleKindCron, Expr: expr}
}

// EverySchedule builds a fixed-interval Schedule.
func EverySchedule(interval time.Duration) Schedule {
	return Schedule{Kind: ScheduleKindEvery, EveryMs: interval.Milliseconds()}
}

// CalculateNextRun calculates the next run time for a schedule
func CalculateNextRun(schedule Schedule) (int64, error) {
	switch schedule.Kind {
	case ScheduleKindAt:
		return calculateAtSchedule(schedule)
	case ScheduleKindEvery:
		return calculateEverySchedule(schedule)
	case ScheduleKindCron:
		return calculateCronSchedule(schedule)
	default:
		return 0, fmt.Errorf("unknown schedule kind: %s", schedule.Kind)
	}
}

// calculateAtSchedule calculates next run for "at" schedule
func calculateAtSchedule(schedule Schedule) (int64, error) {
	if schedule.At == "" {
		return 0, fmt.Errorf("'at' schedule requires 'at' field")
	}

	// Parse ISO 8601 timestamp
	t, err := time.Parse(time.RFC3339, schedule.At)
	if err != nil {
		return 0, fmt.Errorf("invalid timestamp: %w", err)
	}

	return t.UnixMilli(), nil
}

// calculateEverySchedule calculates next run for "every" schedule
func calculateEverySchedule(schedule Schedule) (int64, error) {
	if schedule.EveryMs <= 0 {
		return 0, fmt.Errorf("'every' schedule requires positive 'everyMs' value")
	}

	now := time.Now().UnixMilli()

	// Without anchor: next run is now + interval
	if schedule.AnchorMs == nil {
		return now + schedule.EveryMs, nil
	}

	// With anchor: calculate next aligned time
	anchor := *schedule.AnchorMs
	elapsed := now - anchor

	// If anchor is in the future, use it
	if elapsed < 0 {
		return anchor, nil
	}

	// Calculate how many periods have passed
	periods := elapsed / schedule.EveryMs

	// Next run is anchor + (periods + 1) * interval
	nextRun := anchor + (periods+1)*schedule.EveryMs

	return nextRun, nil
}

// calculateCronSchedule calculates next run for "cron" schedule
func calculateCronSchedule(schedule Schedule) (int64, error) {
	if schedule.Expr == "" {
		return 0, fmt.Errorf("'cron' schedule requires 'expr' field")
	}

	// Parse cron expression
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	sched, err := parser.Parse(schedule.Expr)
	if err != nil {
		return 0, fmt.Errorf("invalid cron expression: %w", err)
	}

	// Get current time in appropriate timezone
	now := time.Now()
	if schedule.TZ != "" {
		loc, err := time.LoadLocation(schedule.TZ)
		if err != nil {
			return 0, fmt.Errorf("invalid timezone: %w", err)
		}
		now = now.In(loc)
	}

	// Calculate next run time
	next := sched.Next(now)

	return next.UnixMilli(), nil
}

// Now returns current time in milliseconds
func Now() int64 {
	return time.Now().UnixMilli()
}

// Int64Ptr returns a pointer to an int64 value
func Int64Ptr(v int64) *int64 {
	return &v
}
