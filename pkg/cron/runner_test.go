package cron

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRunner_Validation(t *testing.T) {
	fn := func(context.Context) error { return nil }

	_, err := NewRunner("", EverySchedule(time.Minute), fn, zerolog.Nop())
	assert.Error(t, err)

	_, err = NewRunner("job", EverySchedule(time.Minute), nil, zerolog.Nop())
	assert.Error(t, err)

	_, err = NewRunner("job", CronSchedule("bad expr"), fn, zerolog.Nop())
	assert.Error(t, err)

	r, err := NewRunner("job", CronSchedule("15 3 * * *"), fn, zerolog.Nop())
	require.NoError(t, err)
	r.Stop()
}

func TestRunner_ExecutesOnInterval(t *testing.T) {
	var runs atomic.Int32
	r, err := NewRunner("tick", EverySchedule(20*time.Millisecond), func(context.Context) error {
		runs.Add(1)
		return nil
	}, zerolog.Nop())
	require.NoError(t, err)
	defer r.Stop()

	require.NoError(t, r.Start())

	require.Eventually(t, func() bool {
		return runs.Load() >= 2
	}, 2*time.Second, 10*time.Millisecond)

	state := r.State()
	assert.Equal(t, "ok", state.LastStatus)
	assert.NotNil(t, state.LastRunAtMs)
	assert.NotNil(t, state.NextRunAtMs)
	assert.Zero(t, state.ConsecutiveErrors)
}

func TestRunner_RunNow(t *testing.T) {
	var runs atomic.Int32
	r, err := NewRunner("manual", CronSchedule("15 3 * * *"), func(context.Context) error {
		runs.Add(1)
		return nil
	}, zerolog.Nop())
	require.NoError(t, err)
	defer r.Stop()

	r.RunNow()

	require.Eventually(t, func() bool {
		return runs.Load() == 1
	}, time.Second, 10*time.Millisecond)
}

func TestRunner_TracksFailures(t *testing.T) {
	var runs atomic.Int32
	r, err := NewRunner("flaky", EverySchedule(20*time.Millisecond), func(context.Context) error {
		if runs.Add(1) <= 2 {
			return errors.New("boom")
		}
		return nil
	}, zerolog.Nop())
	require.NoError(t, err)
	defer r.Stop()

	require.NoError(t, r.Start())

	require.Eventually(t, func() bool {
		return runs.Load() >= 3
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		return r.State().LastStatus == "ok"
	}, 2*time.Second, 10*time.Millisecond)

	state := r.State()
	assert.Empty(t, state.LastError)
	assert.Zero(t, state.ConsecutiveErrors, "success resets the failure streak")
}

func TestRunner_StopPreventsFurtherRuns(t *testing.T) {
	var runs atomic.Int32
	r, err := NewRunner("stoppable", EverySchedule(20*time.Millisecond), func(context.Context) error {
		runs.Add(1)
		return nil
	}, zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, r.Start())
	require.Eventually(t, func() bool {
		return runs.Load() >= 1
	}, 2*time.Second, 10*time.Millisecond)

	r.Stop()
	r.Stop() // idempotent
	seen := runs.Load()

	time.Sleep(80 * time.Millisecond)
	assert.LessOrEqual(t, runs.Load(), seen+1, "at most one in-flight run after stop")

	assert.Error(t, r.Start(), "stopped runner cannot be restarted")
}

func TestRunner_CancelsContextOnStop(t *testing.T) {
	started := make(chan struct{})
	canceled := make(chan struct{})

	r, err := NewRunner("blocked", EverySchedule(10*time.Millisecond), func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		close(canceled)
		return ctx.Err()
	}, zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, r.Start())
	<-started

	r.Stop()

	select {
	case <-canceled:
	case <-time.After(time.Second):
		t.Fatal("in-flight run was not canceled")
	}
}
