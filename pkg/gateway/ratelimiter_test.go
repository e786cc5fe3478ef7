package gateway

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientRateLimiter_ConcurrentLimit(t *testing.T) {
	limiter := NewClientRateLimiterWithLimits(100, 2)

	r1, err := limiter.Acquire()
	require.Nil(t, err)
	_, err = limiter.Acquire()
	require.Nil(t, err)

	_, err = limiter.Acquire()
	require.NotNil(t, err)
	assert.Equal(t, TooManyConcurrent, err.Code)

	r1()
	r1()
	_, inFlight := limiter.Stats()
	assert.Equal(t, 1, inFlight, "release is idempotent")

	_, err = limiter.Acquire()
	assert.Nil(t, err)
}

func TestClientRateLimiter_BucketRefills(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	limiter := NewClientRateLimiterWithLimits(3, 10)
	limiter.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		release, err := limiter.Acquire()
		require.Nil(t, err)
		release()
	}

	_, err := limiter.Acquire()
	require.NotNil(t, err)
	assert.Equal(t, RateLimitExceeded, err.Code)

	// One token per 20s at 3 requests per minute.
	now = now.Add(21 * time.Second)
	release, err := limiter.Acquire()
	require.Nil(t, err)
	release()
	_, err = limiter.Acquire()
	require.NotNil(t, err)

	now = now.Add(time.Hour)
	tokens, _ := limiter.Stats()
	assert.InDelta(t, 3, tokens, 0.001, "bucket never exceeds one minute of requests")
}

func TestClientRateLimiter_ConcurrencyRejectionKeepsTokens(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	limiter := NewClientRateLimiterWithLimits(2, 1)
	limiter.now = func() time.Time { return now }

	release, err := limiter.Acquire()
	require.Nil(t, err)
	_, err = limiter.Acquire()
	require.NotNil(t, err)
	assert.Equal(t, TooManyConcurrent, err.Code)

	tokens, _ := limiter.Stats()
	assert.InDelta(t, 1, tokens, 0.001)
	release()
}

func TestClientRateLimiter_Defaults(t *testing.T) {
	limiter := NewClientRateLimiter()
	assert.Equal(t, defaultMaxConcurrent, limiter.maxConcurrent)
	assert.Equal(t, defaultRequestsPerMinute, limiter.bucket.Burst())
}
