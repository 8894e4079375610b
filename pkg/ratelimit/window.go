// Package ratelimit tracks GitHub API quota windows and computes retry
// backoff. It monitors the X-RateLimit-* response headers per resource
// (core, search, graphql, ...) so the request layer can decide whether to
// proceed, wait, or rotate credentials before spending quota.
package ratelimit

import (
	"time"
)

// Default resource name when the API does not identify one.
const ResourceCore = "core"

// Window represents one resource's quota state.
type Window struct {
	// Resource is the quota bucket name (e.g., "core", "search", "graphql").
	Resource string `json:"resource"`

	// Limit is the maximum number of requests in the current window.
	// Extracted from the X-RateLimit-Limit header.
	Limit int `json:"limit"`

	// Remaining is the number of requests left in the current window.
	// Extracted from the X-RateLimit-Remaining header.
	Remaining int `json:"remaining"`

	// Used is the number of requests spent in the current window.
	// Extracted from the X-RateLimit-Used header.
	Used int `json:"used"`

	// ResetAt is when the window resets.
	// Calculated from the X-RateLimit-Reset header (epoch seconds).
	ResetAt time.Time `json:"reset_at"`

	// UpdatedAt is when this window was last updated from headers.
	UpdatedAt time.Time `json:"updated_at"`
}

// PercentUsed returns how much of the window has been consumed, in [0, 100].
// Returns 0 for an unknown limit.
func (w *Window) PercentUsed() float64 {
	if w.Limit <= 0 {
		return 0
	}
	used := w.Limit - w.Remaining
	if used < 0 {
		used = 0
	}
	return float64(used) / float64(w.Limit) * 100
}

// IsExhausted returns true when no quota remains in the current window.
func (w *Window) IsExhausted() bool {
	return w.Limit > 0 && w.Remaining <= 0 && time.Now().Before(w.ResetAt)
}

// TimeUntilReset returns the duration until the window resets.
// Returns 0 if the reset time has already passed.
func (w *Window) TimeUntilReset() time.Duration {
	duration := time.Until(w.ResetAt)
	if duration < 0 {
		return 0
	}
	return duration
}

// IsStale returns true if the window data is older than the given duration.
func (w *Window) IsStale(maxAge time.Duration) bool {
	return time.Since(w.UpdatedAt) > maxAge
}

// defaultWindow is the state assumed for a resource before any headers have
// been observed. Optimistic, matching the primary rate limit for
// unauthenticated core requests.
func defaultWindow(resource string) Window {
	now := time.Now()
	return Window{
		Resource:  resource,
		Limit:     60,
		Remaining: 60,
		Used:      0,
		ResetAt:   now.Add(time.Hour),
		UpdatedAt: now,
	}
}
