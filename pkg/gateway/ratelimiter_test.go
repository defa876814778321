package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClientRateLimiter_AllowsWithinLimits(t *testing.T) {
	rl := NewClientRateLimiterWithLimits(5, 2)

	allowed, reason := rl.CheckRequestAllowed()
	assert.True(t, allowed)
	assert.Empty(t, reason)
}

func TestClientRateLimiter_RequestsPerMinute(t *testing.T) {
	rl := NewClientRateLimiterWithLimits(3, 100)

	for i := 0; i < 3; i++ {
		allowed, _ := rl.CheckRequestAllowed()
		assert.True(t, allowed)
		rl.RecordRequestStart()
		rl.RecordRequestEnd()
	}

	allowed, reason := rl.CheckRequestAllowed()
	assert.False(t, allowed)
	assert.Equal(t, "rate limit exceeded", reason)
}

func TestClientRateLimiter_ConcurrentLimit(t *testing.T) {
	rl := NewClientRateLimiterWithLimits(100, 2)

	rl.RecordRequestStart()
	rl.RecordRequestStart()

	allowed, reason := rl.CheckRequestAllowed()
	assert.False(t, allowed)
	assert.Equal(t, "too many concurrent requests", reason)

	rl.RecordRequestEnd()

	allowed, _ = rl.CheckRequestAllowed()
	assert.True(t, allowed)
}

func TestClientRateLimiter_EndWithoutStart(t *testing.T) {
	rl := NewClientRateLimiterWithLimits(10, 10)

	rl.RecordRequestEnd()

	_, concurrent := rl.GetStats()
	assert.Zero(t, concurrent, "concurrent count never goes negative")
}

func TestClientRateLimiter_UpdateLimits(t *testing.T) {
	rl := NewClientRateLimiterWithLimits(1, 1)

	rl.RecordRequestStart()
	rl.RecordRequestEnd()
	allowed, _ := rl.CheckRequestAllowed()
	assert.False(t, allowed)

	rl.UpdateLimits(10, 10)
	allowed, _ = rl.CheckRequestAllowed()
	assert.True(t, allowed)
}

func TestClientRateLimiter_GetStats(t *testing.T) {
	rl := NewClientRateLimiterWithLimits(10, 10)

	rl.RecordRequestStart()
	rl.RecordRequestStart()
	rl.RecordRequestEnd()

	requests, concurrent := rl.GetStats()
	assert.Equal(t, 2, requests)
	assert.Equal(t, 1, concurrent)
}
