// File: internal/platform/internal_test.go
package platform

import (
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wyatt727/BSTI/internal/config"
)

func TestTransient(t *testing.T) {
	t.Parallel()

	assert.True(t, transient(0), "transport errors are retryable")
	assert.True(t, transient(http.StatusTooManyRequests))
	assert.True(t, transient(http.StatusInternalServerError))
	assert.True(t, transient(http.StatusBadGateway))

	assert.False(t, transient(http.StatusBadRequest))
	assert.False(t, transient(http.StatusUnauthorized))
	assert.False(t, transient(http.StatusForbidden))
	assert.False(t, transient(http.StatusNotFound))
}

func TestParseRetryAfter(t *testing.T) {
	t.Parallel()

	assert.Equal(t, time.Duration(0), parseRetryAfter(""))
	assert.Equal(t, 7*time.Second, parseRetryAfter("7"))
	assert.Equal(t, time.Duration(0), parseRetryAfter("-3"))
	assert.Equal(t, time.Duration(0), parseRetryAfter("soonish"))

	future := time.Now().Add(10 * time.Second).UTC().Format(http.TimeFormat)
	got := parseRetryAfter(future)
	assert.Greater(t, got, 8*time.Second)
	assert.LessOrEqual(t, got, 10*time.Second)

	past := time.Now().Add(-time.Minute).UTC().Format(http.TimeFormat)
	assert.Equal(t, time.Duration(0), parseRetryAfter(past))
}

func TestBackoffDelay(t *testing.T) {
	t.Parallel()

	client, err := NewClient(config.PlatformConfig{
		BaseURL:            "https://platform.test",
		RateLimitPerSecond: 1,
		RateBurst:          1,
		RetryBackoff:       2 * time.Second,
		RetryBackoffMax:    30 * time.Second,
		MaxAttempts:        3,
	}, zap.NewNop())
	require.NoError(t, err)

	// Jitter stays within plus/minus 20% of the doubled base.
	for attempt, base := range map[int]time.Duration{
		1: 2 * time.Second,
		2: 4 * time.Second,
		3: 8 * time.Second,
	} {
		d := client.backoffDelay(attempt, 0)
		assert.GreaterOrEqual(t, d, time.Duration(float64(base)*0.8), "attempt %d", attempt)
		assert.LessOrEqual(t, d, time.Duration(float64(base)*1.2), "attempt %d", attempt)
	}

	// The cap bounds both the exponent and the jitter.
	for attempt := 4; attempt < 12; attempt++ {
		assert.LessOrEqual(t, client.backoffDelay(attempt, 0), 30*time.Second)
	}

	// Retry-After wins, but never beyond the cap.
	assert.Equal(t, 5*time.Second, client.backoffDelay(1, 5*time.Second))
	assert.Equal(t, 30*time.Second, client.backoffDelay(1, 2*time.Minute))
}

func TestTokenExpiry(t *testing.T) {
	t.Parallel()

	expiresAt := time.Now().Add(45 * time.Minute).Truncate(time.Second)
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "operator",
		"exp": expiresAt.Unix(),
	}).SignedString([]byte("k"))
	require.NoError(t, err)

	got := tokenExpiry(token)
	assert.True(t, got.Equal(expiresAt), "got %v want %v", got, expiresAt)

	// Tokens without exp, or that are not JWTs at all, yield the zero time
	// and disable proactive refresh rather than erroring.
	noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "x"}).
		SignedString([]byte("k"))
	require.NoError(t, err)
	assert.True(t, tokenExpiry(noExp).IsZero())
	assert.True(t, tokenExpiry("opaque-session-token").IsZero())
}

func TestTokenStateInvalidate(t *testing.T) {
	t.Parallel()

	var s tokenState
	s.set("tok-1", time.Time{})

	// A stale 401 must not wipe a token that was already refreshed.
	s.set("tok-2", time.Time{})
	s.invalidate("tok-1")
	token, _ := s.get()
	assert.Equal(t, "tok-2", token)

	s.invalidate("tok-2")
	token, _ = s.get()
	assert.Empty(t, token)
}
