package ratelimit

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for rate limit tracking.
var (
	rateLimitRemaining = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ghub_rate_limit_remaining",
		Help: "Requests remaining in the current rate limit window by resource",
	}, []string{"resource"})

	rateLimitWarningsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ghub_rate_limit_warnings_total",
		Help: "Total number of rate limit warning threshold crossings by resource",
	}, []string{"resource"})
)

// DefaultWarningThresholdPercent triggers the warning callback once usage
// crosses this share of the window.
const DefaultWarningThresholdPercent = 80.0

// WarningFunc is invoked when a resource crosses the warning threshold.
// It fires once per crossing, not on every call while above the threshold.
type WarningFunc func(resource string, window Window)

// TrackerConfig holds the tracker configuration.
type TrackerConfig struct {
	// WarningThresholdPercent is the usage percentage at which OnWarning
	// fires. Default: 80.
	WarningThresholdPercent float64

	// OnWarning is the edge-triggered warning callback. Optional.
	OnWarning WarningFunc
}

// Tracker monitors per-resource quota windows parsed from response headers.
// All state is guarded by a single mutex; the tracker is safe for use from
// many concurrent requests.
type Tracker struct {
	mu      sync.Mutex
	windows map[string]Window
	warned  map[string]bool

	threshold float64
	onWarning WarningFunc
	logger    zerolog.Logger
}

// NewTracker creates a rate limit tracker.
func NewTracker(cfg TrackerConfig, logger zerolog.Logger) *Tracker {
	threshold := cfg.WarningThresholdPercent
	if threshold <= 0 {
		threshold = DefaultWarningThresholdPercent
	}

	return &Tracker{
		windows:   make(map[string]Window),
		warned:    make(map[string]bool),
		threshold: threshold,
		onWarning: cfg.OnWarning,
		logger:    logger,
	}
}

// UpdateFromHeaders parses the X-RateLimit-* response headers and records
// the resulting window. Malformed or missing headers never fail ingestion;
// the previous known window is kept instead.
func (t *Tracker) UpdateFromHeaders(headers http.Header) {
	limitStr := headers.Get("X-RateLimit-Limit")
	remainingStr := headers.Get("X-RateLimit-Remaining")
	if limitStr == "" || remainingStr == "" {
		// Not a rate-limited response (e.g., 304 from a conditional request)
		return
	}

	limit, err := strconv.Atoi(limitStr)
	if err != nil {
		t.logger.Warn().Str("value", limitStr).Msg("Malformed X-RateLimit-Limit header, keeping previous window")
		return
	}

	remaining, err := strconv.Atoi(remainingStr)
	if err != nil {
		t.logger.Warn().Str("value", remainingStr).Msg("Malformed X-RateLimit-Remaining header, keeping previous window")
		return
	}

	resource := headers.Get("X-RateLimit-Resource")
	if resource == "" {
		resource = ResourceCore
	}

	now := time.Now()
	window := Window{
		Resource:  resource,
		Limit:     limit,
		Remaining: remaining,
		UpdatedAt: now,
	}

	if usedStr := headers.Get("X-RateLimit-Used"); usedStr != "" {
		if used, err := strconv.Atoi(usedStr); err == nil {
			window.Used = used
		}
	}
	if window.Used == 0 && limit >= remaining {
		window.Used = limit - remaining
	}

	if resetStr := headers.Get("X-RateLimit-Reset"); resetStr != "" {
		if resetEpoch, err := strconv.ParseInt(resetStr, 10, 64); err == nil {
			window.ResetAt = time.Unix(resetEpoch, 0)
		}
	}
	if window.ResetAt.IsZero() {
		// Reset header missing or malformed: keep the previous reset time
		// if we have one, otherwise assume a full window from now.
		if prev, ok := t.Get(resource); ok && prev.ResetAt.After(now) {
			window.ResetAt = prev.ResetAt
		} else {
			window.ResetAt = now.Add(time.Hour)
		}
	}

	t.Record(resource, window)
}

// Record stores a window for a resource and evaluates the warning trigger.
func (t *Tracker) Record(resource string, window Window) {
	t.mu.Lock()

	prev, known := t.windows[resource]
	t.windows[resource] = window
	rateLimitRemaining.WithLabelValues(resource).Set(float64(window.Remaining))

	pct := window.PercentUsed()
	above := pct >= t.threshold

	// Re-arm the trigger when usage drops back below the threshold or the
	// window resets.
	if !above {
		t.warned[resource] = false
	} else if known && window.ResetAt.After(prev.ResetAt) {
		t.warned[resource] = false
	}

	fire := above && !t.warned[resource]
	if fire {
		t.warned[resource] = true
		rateLimitWarningsTotal.WithLabelValues(resource).Inc()
	}
	callback := t.onWarning
	t.mu.Unlock()

	if fire {
		t.logger.Warn().
			Str("resource", resource).
			Int("remaining", window.Remaining).
			Int("limit", window.Limit).
			Float64("percent_used", pct).
			Time("reset_at", window.ResetAt).
			Msg("Rate limit warning threshold crossed")

		if callback != nil {
			callback(resource, window)
		}
	}
}

// Get returns the current window for a resource, and whether it is known.
func (t *Tracker) Get(resource string) (Window, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	w, ok := t.windows[resource]
	if !ok {
		return defaultWindow(resource), false
	}
	return w, true
}

// Snapshot returns a copy of all tracked windows.
func (t *Tracker) Snapshot() map[string]Window {
	t.mu.Lock()
	defer t.mu.Unlock()

	snap := make(map[string]Window, len(t.windows))
	for resource, w := range t.windows {
		snap[resource] = w
	}
	return snap
}

// ShouldWait reports whether a call against the resource should be delayed,
// and for how long. Returns a zero duration when quota remains.
func (t *Tracker) ShouldWait(resource string) time.Duration {
	w, _ := t.Get(resource)
	if w.IsExhausted() {
		return w.TimeUntilReset()
	}
	return 0
}
