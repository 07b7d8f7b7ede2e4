package panos

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilRateLimiterAllowsEverything(t *testing.T) {
	t.Parallel()
	var rl *RateLimiter
	assert.Nil(t, NewRateLimiter(0, 1))
	require.NoError(t, rl.Wait(context.Background()))
	rl.RecordSuccess()
	rl.RecordFailure()
	assert.Equal(t, "unlimited", rl.GetStats()["current_rate"])
}

func TestRateLimiterAdapts(t *testing.T) {
	t.Parallel()
	rl := NewRateLimiter(4, 2)
	require.NotNil(t, rl)
	assert.Equal(t, 4.0, rl.GetCurrentRate())

	rl.RecordSuccess()
	assert.Equal(t, 4.0, rl.GetCurrentRate(), "never above the configured ceiling")

	rl.RecordFailure()
	assert.Equal(t, 2.0, rl.GetCurrentRate())
	rl.RecordFailure()
	rl.RecordFailure()
	rl.RecordFailure()
	assert.Equal(t, MinRate, rl.GetCurrentRate())

	rl.RecordSuccess()
	assert.Equal(t, 1.0, rl.GetCurrentRate())

	stats := rl.GetStats()
	assert.Equal(t, uint64(2), stats["success_count"])
	assert.Equal(t, uint64(4), stats["failure_count"])
}

func TestRateLimiterWaitHonoursContext(t *testing.T) {
	t.Parallel()
	rl := NewRateLimiter(1, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, rl.Wait(ctx))
}
