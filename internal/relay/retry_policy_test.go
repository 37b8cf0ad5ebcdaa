package relay

import (
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stillwaterhq/stillwater/internal/platform"
	"github.com/stillwaterhq/stillwater/internal/store"
)

type timeoutError struct{}

func (timeoutError) Error() string   { return "dial tcp: i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantClass string
		retryable bool
	}{
		{"permanent", &PermanentError{Err: errors.New("bad payload")}, RetryClassTerminal, false},
		{"server error", &platform.APIError{StatusCode: 502}, RetryClassUpstream5xx, true},
		{"too many requests", &platform.APIError{StatusCode: 429}, RetryClassRateLimited, true},
		{"conflict", &platform.APIError{StatusCode: 409}, RetryClassConflict, true},
		{"not found", &platform.APIError{StatusCode: 404}, RetryClassTerminal, false},
		{"unprocessable", &platform.APIError{StatusCode: 422}, RetryClassTerminal, false},
		{"net timeout", timeoutError{}, RetryClassNetwork, true},
		{"wrapped net error", fmt.Errorf("push: %w", &net.OpError{Op: "dial", Err: errors.New("refused")}), RetryClassNetwork, true},
		{"connection reset text", errors.New("read: connection reset by peer"), RetryClassNetwork, true},
		{"rate limit text", errors.New("platform rate limit hit"), RetryClassRateLimited, true},
		{"unknown", errors.New("something odd"), RetryClassTransient, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyError(tt.err)
			assert.Equal(t, tt.wantClass, got.Class)
			assert.Equal(t, tt.retryable, got.Retryable)
		})
	}
}

func TestDecideSchedulesBackoff(t *testing.T) {
	policy := DefaultRetryPolicy().WithRandom(func() float64 { return 0.5 })
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

	decision := policy.Decide(store.SyncJobTypeContactReconcile, 1, &platform.APIError{StatusCode: 500}, now)
	assert.Equal(t, RetryClassUpstream5xx, decision.Class)
	assert.True(t, decision.Retryable)
	assert.False(t, decision.Exhausted)
	require.NotNil(t, decision.NextAttemptAt)
	assert.Equal(t, now.Add(time.Second), *decision.NextAttemptAt)

	later := policy.Decide(store.SyncJobTypeContactReconcile, 3, &platform.APIError{StatusCode: 500}, now)
	require.NotNil(t, later.NextAttemptAt)
	assert.Equal(t, now.Add(4*time.Second), *later.NextAttemptAt)
}

func TestDecideExhaustsAfterMaxAttempts(t *testing.T) {
	policy := DefaultRetryPolicy().WithRandom(func() float64 { return 0.5 })
	now := time.Now()

	decision := policy.Decide(store.SyncJobTypeWebhookEvent, 4, &platform.APIError{StatusCode: 500}, now)
	assert.True(t, decision.Retryable)
	assert.True(t, decision.Exhausted)
	assert.Nil(t, decision.NextAttemptAt)
}

func TestDecideTerminalNeverSchedules(t *testing.T) {
	policy := DefaultRetryPolicy()
	decision := policy.Decide(store.SyncJobTypeContactReconcile, 1, &PermanentError{Err: errors.New("nope")}, time.Now())
	assert.False(t, decision.Retryable)
	assert.False(t, decision.Exhausted)
	assert.Nil(t, decision.NextAttemptAt)
}

func TestBackoffGrowsAndCaps(t *testing.T) {
	policy := RetryPolicy{
		BaseDelay:      time.Second,
		MaxDelay:       10 * time.Second,
		JitterFraction: 0,
	}

	assert.Equal(t, time.Second, policy.Backoff(1))
	assert.Equal(t, 2*time.Second, policy.Backoff(2))
	assert.Equal(t, 4*time.Second, policy.Backoff(3))
	assert.Equal(t, 8*time.Second, policy.Backoff(4))
	assert.Equal(t, 10*time.Second, policy.Backoff(5))
	assert.Equal(t, 10*time.Second, policy.Backoff(20))
}

func TestBackoffJitterStaysWithinBounds(t *testing.T) {
	low := RetryPolicy{BaseDelay: time.Second, MaxDelay: time.Minute, JitterFraction: 0.2}.
		WithRandom(func() float64 { return 0 })
	high := RetryPolicy{BaseDelay: time.Second, MaxDelay: time.Minute, JitterFraction: 0.2}.
		WithRandom(func() float64 { return 1 })

	assert.Equal(t, 800*time.Millisecond, low.Backoff(1))
	assert.Equal(t, 1200*time.Millisecond, high.Backoff(1))
}
