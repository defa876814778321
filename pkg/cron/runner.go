package cron

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// JobFunc is the work a Runner executes on each tick.
type JobFunc func(ctx context.Context) error

// JobState tracks runtime state of a scheduled job.
type JobState struct {
	NextRunAtMs       *int64 `json:"nextRunAtMs,omitempty"`
	RunningAtMs       *int64 `json:"runningAtMs,omitempty"`
	LastRunAtMs       *int64 `json:"lastRunAtMs,omitempty"`
	LastStatus        string `json:"lastStatus,omitempty"` // "ok" or "error"
	LastError         string `json:"lastError,omitempty"`
	LastDurationMs    *int64 `json:"lastDurationMs,omitempty"`
	ConsecutiveErrors int    `json:"consecutiveErrors,omitempty"`
}

// Runner executes one named job on a Schedule. Overlapping ticks are
// skipped: a run that is still in flight when the next fires wins.
type Runner struct {
	name     string
	schedule Schedule
	fn       JobFunc
	logger   zerolog.Logger

	mu      sync.Mutex
	state   JobState
	timer   *time.Timer
	stopped bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewRunner validates the schedule and builds a runner. Start must be called
// before anything executes.
func NewRunner(name string, schedule Schedule, fn JobFunc, logger zerolog.Logger) (*Runner, error) {
	if name == "" {
		return nil, fmt.Errorf("job name is required")
	}
	if fn == nil {
		return nil, fmt.Errorf("job function is required")
	}
	if _, err := CalculateNextRun(schedule); err != nil {
		return nil, fmt.Errorf("invalid schedule: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		name:     name,
		schedule: schedule,
		fn:       fn,
		logger:   logger.With().Str("component", "cron").Str("job", name).Logger(),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Start arms the first timer.
func (r *Runner) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped {
		return fmt.Errorf("runner is stopped")
	}
	if err := r.armLocked(); err != nil {
		return err
	}

	r.logger.Info().
		Time("nextRun", time.UnixMilli(*r.state.NextRunAtMs)).
		Msg("Job scheduled")
	return nil
}

// RunNow executes the job immediately, outside the schedule.
func (r *Runner) RunNow() {
	go r.execute()
}

// State returns a snapshot of the job's runtime state.
func (r *Runner) State() JobState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Stop cancels the timer and any in-flight run's context.
func (r *Runner) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped {
		return
	}
	r.stopped = true
	r.cancel()
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.logger.Info().Msg("Job runner stopped")
}

// armLocked computes the next run and sets the timer. Caller holds mu.
func (r *Runner) armLocked() error {
	nextRunAtMs, err := CalculateNextRun(r.schedule)
	if err != nil {
		return err
	}
	r.state.NextRunAtMs = Int64Ptr(nextRunAtMs)

	delay := nextRunAtMs - Now()
	if delay < 0 {
		delay = 0
	}

	r.timer = time.AfterFunc(time.Duration(delay)*time.Millisecond, r.execute)
	return nil
}

func (r *Runner) execute() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	if r.state.RunningAtMs != nil {
		r.mu.Unlock()
		r.logger.Debug().Msg("Job already running, skipping tick")
		return
	}
	startMs := Now()
	r.state.RunningAtMs = Int64Ptr(startMs)
	r.mu.Unlock()

	r.logger.Info().Msg("Executing job")
	err := r.fn(r.ctx)

	r.mu.Lock()
	defer r.mu.Unlock()

	durationMs := Now() - startMs
	r.state.RunningAtMs = nil
	r.state.LastRunAtMs = Int64Ptr(startMs)
	r.state.LastDurationMs = Int64Ptr(durationMs)

	if err != nil {
		r.state.LastStatus = "error"
		r.state.LastError = err.Error()
		r.state.ConsecutiveErrors++
		r.logger.Error().Err(err).
			Int("consecutiveErrors", r.state.ConsecutiveErrors).
			Msg("Job execution failed")
	} else {
		r.state.LastStatus = "ok"
		r.state.LastError = ""
		r.state.ConsecutiveErrors = 0
		r.logger.Info().Int64("durationMs", durationMs).Msg("Job execution completed")
	}

	// One-shot schedules do not rearm.
	if r.stopped || r.schedule.Kind == ScheduleKindAt {
		return
	}
	if armErr := r.armLocked(); armErr != nil {
		r.logger.Error().Err(armErr).Msg("Failed to reschedule job")
	}
}
