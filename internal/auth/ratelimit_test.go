package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoginRateLimiter_AllowsUpToMaxHits(t *testing.T) {
	limiter := NewLoginRateLimiter(3, time.Minute)
	now := time.Now().UTC()

	for i := 0; i < 3; i++ {
		allowed, _ := limiter.allow("1.2.3.4", now)
		require.True(t, allowed)
	}

	allowed, retryAfter := limiter.allow("1.2.3.4", now)
	require.False(t, allowed)
	require.Greater(t, retryAfter, time.Duration(0))
}

func TestLoginRateLimiter_WindowSlides(t *testing.T) {
	limiter := NewLoginRateLimiter(2, time.Minute)
	now := time.Now().UTC()

	allowed, _ := limiter.allow("1.2.3.4", now)
	require.True(t, allowed)
	allowed, _ = limiter.allow("1.2.3.4", now)
	require.True(t, allowed)
	allowed, _ = limiter.allow("1.2.3.4", now)
	require.False(t, allowed)

	allowed, _ = limiter.allow("1.2.3.4", now.Add(61*time.Second))
	require.True(t, allowed)
}

func TestLoginRateLimiter_IsolatesAddresses(t *testing.T) {
	limiter := NewLoginRateLimiter(1, time.Minute)
	now := time.Now().UTC()

	allowed, _ := limiter.allow("1.1.1.1", now)
	require.True(t, allowed)
	allowed, _ = limiter.allow("1.1.1.1", now)
	require.False(t, allowed)

	allowed, _ = limiter.allow("2.2.2.2", now)
	require.True(t, allowed)
}
