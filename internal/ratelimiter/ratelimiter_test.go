package ratelimiter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllowEnforcesBurst(t *testing.T) {
	limiter := New(10, 10)

	for i := 0; i < 10; i++ {
		require.True(t, limiter.Allow(), "request %d should fit within the burst", i)
	}

	assert.False(t, limiter.Allow(), "request beyond the burst should be rejected")
}

func TestZeroRateIsUnlimited(t *testing.T) {
	limiter := New(0, 0)

	for i := 0; i < 10_000; i++ {
		require.True(t, limiter.Allow())
	}
}

func TestWaitRespectsCancellation(t *testing.T) {
	limiter := New(1, 1)
	require.True(t, limiter.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := limiter.Wait(ctx)
	assert.Error(t, err, "Wait should fail once the context deadline passes")
}

func TestTokensRefill(t *testing.T) {
	limiter := New(100, 5)

	for i := 0; i < 5; i++ {
		require.True(t, limiter.Allow())
	}
	require.False(t, limiter.Allow())

	time.Sleep(50 * time.Millisecond)
	assert.True(t, limiter.Allow(), "tokens should refill over time")
}

func TestPerClientBucketsAreIndependent(t *testing.T) {
	table := NewPerClient(10, 2)

	require.True(t, table.Allow("alice"))
	require.True(t, table.Allow("alice"))
	require.False(t, table.Allow("alice"), "first client exhausted its burst")

	assert.True(t, table.Allow("bob"), "second client has its own untouched bucket")
}

func TestPerClientEvictsIdleBuckets(t *testing.T) {
	table := NewPerClient(10, 2)
	table.idleAfter = 10 * time.Millisecond

	require.True(t, table.Allow("alice"))

	time.Sleep(25 * time.Millisecond)
	require.True(t, table.Allow("bob"))

	table.mu.Lock()
	_, aliceKept := table.clients["alice"]
	_, bobKept := table.clients["bob"]
	table.mu.Unlock()

	assert.False(t, aliceKept, "idle bucket must be swept")
	assert.True(t, bobKept)
}
