package ratelimit

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"time"
)

// Backoff computes exponential retry delays with jitter.
type Backoff struct {
	// Base is the delay for the first retry (attempt 0). Default: 1s.
	Base time.Duration

	// Max caps the computed delay. Default: 60s.
	Max time.Duration

	// JitterFraction is the symmetric jitter range applied to the delay,
	// e.g. 0.1 for ±10%. Keeps concurrent callers from synchronizing.
	// Default: 0.1.
	JitterFraction float64
}

// DefaultBackoff returns the default backoff configuration.
func DefaultBackoff() Backoff {
	return Backoff{
		Base:           1 * time.Second,
		Max:            60 * time.Second,
		JitterFraction: 0.1,
	}
}

// Delay returns the backoff delay for the given retry attempt.
// Attempt 0 is the first retry. The delay grows as base * 2^attempt with
// ±JitterFraction jitter; Max bounds the result even after jitter.
func (b Backoff) Delay(attempt int) time.Duration {
	base := b.Base
	if base <= 0 {
		base = DefaultBackoff().Base
	}
	max := b.Max
	if max <= 0 {
		max = DefaultBackoff().Max
	}

	if attempt < 0 {
		attempt = 0
	}

	delay := float64(base) * math.Pow(2, float64(attempt))
	if delay > float64(max) {
		delay = float64(max)
	}

	jitter := b.JitterFraction
	if jitter > 0 {
		// Uniform in [-jitter, +jitter]
		delay *= 1 + (rand.Float64()*2-1)*jitter
	}
	// Max bounds the final delay, jitter included
	if delay > float64(max) {
		delay = float64(max)
	}

	return time.Duration(delay)
}

// Wait blocks for the given duration or until the context is cancelled.
// Returns the context error on cancellation.
func Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// RetryDecision is the outcome of a retry policy evaluation.
type RetryDecision struct {
	// Retry indicates whether the call should be retried at all.
	Retry bool

	// After is how long to wait before the retry. For an explicit server
	// Retry-After directive this carries the server's value verbatim.
	After time.Duration
}

// Abort returns a decision not to retry.
func Abort() RetryDecision {
	return RetryDecision{}
}

// RetryIn returns a decision to retry after the given delay.
func RetryIn(d time.Duration) RetryDecision {
	return RetryDecision{Retry: true, After: d}
}

// RetryPolicy decides whether and when a failed call should be retried.
// Implementations must be safe for concurrent use.
type RetryPolicy interface {
	// Decide is called after a failed attempt. resp may be nil for network
	// errors; attempt starts at 0 for the first retry decision.
	Decide(resp *http.Response, err error, attempt int) RetryDecision
}

// DefaultPolicy retries server errors and rate limit responses with
// exponential backoff, honoring an explicit Retry-After directive verbatim
// over the computed delay. Client errors are not retried.
type DefaultPolicy struct {
	// Backoff computes delays when the server gives no explicit directive.
	Backoff Backoff

	// MaxAttempts bounds the number of retries. Default: 3.
	MaxAttempts int
}

// DefaultMaxAttempts is the retry bound used when none is configured.
const DefaultMaxAttempts = 3

// Decide implements RetryPolicy.
func (p DefaultPolicy) Decide(resp *http.Response, err error, attempt int) RetryDecision {
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if attempt >= maxAttempts {
		return Abort()
	}

	// Network error: no response to inspect, back off and retry.
	if resp == nil {
		if err == nil {
			return Abort()
		}
		return RetryIn(p.Backoff.Delay(attempt))
	}

	// An explicit Retry-After always takes precedence over the computed
	// delay; the server's directive is surfaced verbatim.
	if retryAfter, ok := ParseRetryAfter(resp.Header); ok {
		switch resp.StatusCode {
		case http.StatusTooManyRequests, http.StatusForbidden, http.StatusServiceUnavailable:
			return RetryIn(retryAfter)
		}
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return RetryIn(p.Backoff.Delay(attempt))
	case resp.StatusCode >= 500:
		return RetryIn(p.Backoff.Delay(attempt))
	default:
		// Remaining 4xx: retrying would only spend quota
		return Abort()
	}
}

// ParseRetryAfter parses a Retry-After header, which carries either delay
// seconds or an HTTP-date.
func ParseRetryAfter(headers http.Header) (time.Duration, bool) {
	value := headers.Get("Retry-After")
	if value == "" {
		return 0, false
	}

	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}

	if at, err := http.ParseTime(value); err == nil {
		d := time.Until(at)
		if d < 0 {
			d = 0
		}
		return d, true
	}

	return 0, false
}

// String implements fmt.Stringer for log output.
func (d RetryDecision) String() string {
	if !d.Retry {
		return "abort"
	}
	return fmt.Sprintf("retry after %s", d.After)
}
