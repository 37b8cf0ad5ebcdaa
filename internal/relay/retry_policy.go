package relay

import (
	"errors"
	"math"
	"math/rand"
	"net"
	"strings"
	"time"

	"github.com/stillwaterhq/stillwater/internal/platform"
	"github.com/stillwaterhq/stillwater/internal/store"
)

const (
	RetryClassRateLimited = "rate_limited"
	RetryClassNetwork     = "network"
	RetryClassUpstream5xx = "upstream_5xx"
	RetryClassConflict    = "conflict"
	RetryClassTerminal    = "terminal"
	RetryClassTransient   = "transient"
)

// Classification is an error sorted into a retry class.
type Classification struct {
	Class     string
	Retryable bool
}

// RetryDecision is the outcome of weighing a failed attempt against the
// policy: whether and when to try again.
type RetryDecision struct {
	Class         string
	Retryable     bool
	Exhausted     bool
	Delay         time.Duration
	NextAttemptAt *time.Time
}

// RetryPolicy computes exponential backoff with jitter and per-job-type
// attempt caps.
type RetryPolicy struct {
	BaseDelay        time.Duration
	MaxDelay         time.Duration
	JitterFraction   float64
	MaxAttemptsByJob map[string]int
	random           func() float64
}

// PermanentError wraps an error that must never be retried.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	if e == nil || e.Err == nil {
		return "permanent error"
	}
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// DefaultRetryPolicy returns the policy used by the reconcile worker.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		BaseDelay:      time.Second,
		MaxDelay:       5 * time.Minute,
		JitterFraction: 0.2,
		MaxAttemptsByJob: map[string]int{
			store.SyncJobTypeContactReconcile: 6,
			store.SyncJobTypeWebhookEvent:     4,
		},
		random: rand.Float64,
	}
}

// WithRandom replaces the jitter source, for deterministic tests.
func (p RetryPolicy) WithRandom(randomFunc func() float64) RetryPolicy {
	p.random = randomFunc
	return p
}

// Decide classifies err and, if retryable and not exhausted, schedules the
// next attempt.
func (p RetryPolicy) Decide(jobType string, attempt int, err error, now time.Time) RetryDecision {
	classification := ClassifyError(err)
	decision := RetryDecision{
		Class:     classification.Class,
		Retryable: classification.Retryable,
	}

	if !classification.Retryable {
		return decision
	}

	maxAttempts := p.maxAttempts(strings.TrimSpace(jobType))
	if attempt >= maxAttempts {
		decision.Exhausted = true
		return decision
	}

	delay := p.Backoff(attempt)
	nextAttempt := now.UTC().Add(delay)
	decision.Delay = delay
	decision.NextAttemptAt = &nextAttempt
	return decision
}

// Backoff returns the delay before the given retry attempt.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	randFunc := p.random
	if randFunc == nil {
		randFunc = rand.Float64
	}

	base := p.BaseDelay
	if base <= 0 {
		base = time.Second
	}
	max := p.MaxDelay
	if max <= 0 {
		max = 5 * time.Minute
	}
	jitter := p.JitterFraction
	if jitter < 0 {
		jitter = 0
	}
	if jitter > 1 {
		jitter = 1
	}

	return computeBackoff(base, max, attempt, jitter, randFunc())
}

func (p RetryPolicy) maxAttempts(jobType string) int {
	if p.MaxAttemptsByJob == nil {
		return 5
	}
	if value, ok := p.MaxAttemptsByJob[jobType]; ok && value > 0 {
		return value
	}
	if value, ok := p.MaxAttemptsByJob["default"]; ok && value > 0 {
		return value
	}
	return 5
}

// ClassifyError sorts an error into a retry class. Remote 404 is terminal
// here only in the sense that retrying cannot help; the reconciler already
// settles it before the error ever reaches the policy.
func ClassifyError(err error) Classification {
	if err == nil {
		return Classification{Class: RetryClassTransient, Retryable: true}
	}

	var permanentError *PermanentError
	if errors.As(err, &permanentError) {
		return Classification{Class: RetryClassTerminal, Retryable: false}
	}

	var apiError *platform.APIError
	if errors.As(err, &apiError) {
		switch {
		case apiError.StatusCode >= 500:
			return Classification{Class: RetryClassUpstream5xx, Retryable: true}
		case apiError.StatusCode == 429:
			return Classification{Class: RetryClassRateLimited, Retryable: true}
		case apiError.StatusCode == 408 || apiError.StatusCode == 409 || apiError.StatusCode == 425:
			return Classification{Class: RetryClassConflict, Retryable: true}
		default:
			return Classification{Class: RetryClassTerminal, Retryable: false}
		}
	}

	var netError net.Error
	if errors.As(err, &netError) {
		return Classification{Class: RetryClassNetwork, Retryable: true}
	}

	message := strings.ToLower(err.Error())
	switch {
	case strings.Contains(message, "timeout"),
		strings.Contains(message, "temporary"),
		strings.Contains(message, "connection reset"):
		return Classification{Class: RetryClassNetwork, Retryable: true}
	case strings.Contains(message, "rate limit"):
		return Classification{Class: RetryClassRateLimited, Retryable: true}
	default:
		return Classification{Class: RetryClassTransient, Retryable: true}
	}
}

func computeBackoff(base, max time.Duration, attempt int, jitterFraction, randomFactor float64) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}

	exponent := math.Pow(2, float64(attempt-1))
	delay := time.Duration(float64(base) * exponent)
	if delay > max {
		delay = max
	}

	if jitterFraction <= 0 {
		return delay
	}
	if randomFactor < 0 {
		randomFactor = 0
	}
	if randomFactor > 1 {
		randomFactor = 1
	}

	jitterRange := float64(delay) * jitterFraction
	adjusted := float64(delay) - jitterRange + (2 * jitterRange * randomFactor)
	if adjusted < 0 {
		adjusted = 0
	}
	adjustedDelay := time.Duration(adjusted)
	if adjustedDelay > max {
		adjustedDelay = max
	}
	return adjustedDelay
}
