// Package client provides the core GitHub HTTP client with rate limit
// tracking, token rotation, response caching, and error handling.
package client

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Sternrassler/github-api-client/pkg/cache"
	"github.com/Sternrassler/github-api-client/pkg/ratelimit"
	"github.com/Sternrassler/github-api-client/pkg/tokens"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for client operations.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ghub_requests_total",
		Help: "Total API requests by endpoint and status",
	}, []string{"endpoint", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ghub_request_duration_seconds",
		Help:    "API request duration in seconds by endpoint",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	}, []string{"endpoint"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ghub_errors_total",
		Help: "Total API errors by class",
	}, []string{"class"})
)

// DefaultBaseURL is the production API endpoint.
const DefaultBaseURL = "https://api.github.com"

// DefaultAPIVersion is sent as X-GitHub-Api-Version on every request.
const DefaultAPIVersion = "2022-11-28"

// Client is the main API client. It coordinates the token pool, the rate
// limit tracker and the response cache around each request.
type Client struct {
	httpClient *http.Client
	cache      cache.ResponseCache
	tracker    *ratelimit.Tracker
	tokens     *tokens.Manager
	policy     ratelimit.RetryPolicy
	config     Config
	logger     zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// BaseURL is the API root. Default: https://api.github.com.
	BaseURL string

	// UserAgent identifies the application. Required.
	UserAgent string

	// APIVersion is the X-GitHub-Api-Version header value.
	// Default: 2022-11-28.
	APIVersion string

	// Tokens configures the credential pool. At least one token is required.
	Tokens tokens.Config

	// Cache configures response caching.
	Cache cache.Config

	// RateLimit configures quota tracking and the warning callback.
	RateLimit ratelimit.TrackerConfig

	// Retry decides whether and when failed calls are retried.
	// Default: ratelimit.DefaultPolicy with default backoff.
	Retry ratelimit.RetryPolicy

	// WaitForReset blocks a request until the quota window resets when the
	// tracked budget is exhausted, instead of failing fast.
	WaitForReset bool

	// Redis is only required for cache storage "redis".
	Redis *redis.Client

	// HTTPClient overrides the transport (for testing).
	HTTPClient *http.Client
}

// DefaultConfig returns a safe default configuration for a single token.
func DefaultConfig(userAgent, token string) Config {
	return Config{
		BaseURL:    DefaultBaseURL,
		UserAgent:  userAgent,
		APIVersion: DefaultAPIVersion,
		Tokens: tokens.Config{
			Tokens: []tokens.Token{{Secret: token, Type: tokens.TypePersonalAccessToken}},
		},
		Cache: cache.DefaultConfig(),
	}
}

// New creates a new API client.
func New(cfg Config) (*Client, error) {
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = DefaultAPIVersion
	}

	logger := log.With().Str("component", "github-client").Logger()

	tokenManager, err := tokens.NewManager(cfg.Tokens, logger)
	if err != nil {
		return nil, fmt.Errorf("token pool: %w", err)
	}

	responseCache, err := cache.New(cfg.Cache, cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("cache: %w", err)
	}

	policy := cfg.Retry
	if policy == nil {
		policy = ratelimit.DefaultPolicy{Backoff: ratelimit.DefaultBackoff()}
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	return &Client{
		httpClient: httpClient,
		cache:      responseCache,
		tracker:    ratelimit.NewTracker(cfg.RateLimit, logger),
		tokens:     tokenManager,
		policy:     policy,
		config:     cfg,
		logger:     logger,
	}, nil
}

// Do performs an HTTP request with token rotation, rate limit gating,
// caching, and retry. This is the core request method.
//
// Responses with status >= 400 that are not retried are returned together
// with a typed *APIError so the caller can inspect both.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	endpoint := req.URL.Path

	startTime := time.Now()
	defer func() {
		requestDuration.WithLabelValues(endpoint).Observe(time.Since(startTime).Seconds())
	}()

	// Step 1: quota gate for the resource this path spends from
	resource := resourceForPath(endpoint)
	if wait := c.tracker.ShouldWait(resource); wait > 0 {
		if !c.config.WaitForReset {
			c.logger.Warn().
				Str("endpoint", endpoint).
				Str("resource", resource).
				Dur("until_reset", wait).
				Msg("Request blocked, quota exhausted")
			requestsTotal.WithLabelValues(endpoint, "quota_exhausted").Inc()
			return nil, &APIError{
				StatusCode: http.StatusTooManyRequests,
				Class:      ErrorClassRateLimit,
				Message:    fmt.Sprintf("quota for %q exhausted, resets in %s", resource, wait),
			}
		}
		c.logger.Info().
			Str("resource", resource).
			Dur("until_reset", wait).
			Msg("Waiting for quota window reset")
		if err := ratelimit.Wait(ctx, wait); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrContextCancelled, err)
		}
	}

	// Step 2: pick a token from the pool
	token, err := c.tokens.Next()
	if err != nil {
		c.logger.Error().Err(err).Str("endpoint", endpoint).Msg("Token selection failed")
		requestsTotal.WithLabelValues(endpoint, "no_token").Inc()
		return nil, fmt.Errorf("token selection: %w", err)
	}

	// Step 3: consult the cache for GET requests
	var cacheKey cache.Key
	var cachedEntry *cache.Entry
	cacheable := req.Method == http.MethodGet

	if cacheable {
		cacheKey = cache.Key{
			Method: req.Method,
			Path:   endpoint,
			Query:  req.URL.Query(),
		}

		cachedEntry, err = c.cache.Get(ctx, cacheKey)
		if err != nil && err != cache.ErrCacheMiss {
			c.logger.Warn().Err(err).Str("endpoint", endpoint).Msg("Cache get error")
		}

		if cachedEntry != nil && cache.ShouldMakeConditionalRequest(cachedEntry) {
			cache.AddConditionalHeaders(req, cachedEntry)
			cache.ConditionalRequestsSent.Inc()
			c.logger.Debug().
				Str("endpoint", endpoint).
				Str("etag", cachedEntry.ETag).
				Msg("Making conditional request")
		}
	}

	// Step 4: standard headers
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", c.config.APIVersion)
	req.Header.Set("Authorization", "Bearer "+token.Secret)

	// Step 5: execute with retry; the tracker is fed inside the loop so
	// every attempt's headers count
	resp, execErr := c.execute(ctx, req)

	// Step 6: token health from the final outcome
	if execErr != nil && resp == nil {
		c.tokens.RecordError(token)
		return nil, execErr
	}
	if tokenAffectingError(resp) {
		c.tokens.RecordError(token)
	} else {
		c.tokens.RecordSuccess(token)
	}

	// Step 7: serve from cache on 304 Not Modified
	if cacheable && resp.StatusCode == http.StatusNotModified && cachedEntry != nil {
		c.logger.Debug().Str("endpoint", endpoint).Msg("304 Not Modified, serving cached body")
		cache.NotModifiedResponses.Inc()

		newExpires := cache.Freshness(resp.Header, c.config.Cache.TTL)
		if err := c.cache.RefreshExpiry(ctx, cacheKey, newExpires); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to refresh cache expiry")
		}

		resp.Body.Close()
		return cache.EntryToResponse(cachedEntry), nil
	}

	// Step 8: store successful GET responses
	if cacheable && resp.StatusCode == http.StatusOK {
		entry, err := cache.ResponseToEntry(resp, c.config.Cache.TTL)
		if err != nil {
			c.logger.Warn().Err(err).Msg("Failed to create cache entry")
		} else if entry.TTL() > 0 {
			if err := c.cache.Set(ctx, cacheKey, entry); err != nil {
				c.logger.Warn().Err(err).Msg("Failed to cache response")
			} else {
				c.logger.Debug().
					Str("endpoint", endpoint).
					Dur("ttl", entry.TTL()).
					Msg("Cached response")
			}
		}
	}

	// Step 9: a successful mutation invalidates the cached read of the
	// same path
	if !cacheable && resp.StatusCode >= 200 && resp.StatusCode < 300 && isMutating(req.Method) {
		readKey := cache.Key{
			Method: http.MethodGet,
			Path:   endpoint,
			Query:  req.URL.Query(),
		}
		if err := c.cache.Delete(ctx, readKey); err != nil {
			c.logger.Warn().Err(err).Str("endpoint", endpoint).Msg("Cache invalidation failed")
		}
	}

	return resp, execErr
}

// Get performs a GET request against an API path (e.g. "/repos/o/r").
func (c *Client) Get(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return c.Do(req)
}

// RateLimits returns a snapshot of all quota windows observed so far.
func (c *Client) RateLimits() map[string]ratelimit.Window {
	return c.tracker.Snapshot()
}

// TokenMetrics returns a snapshot of the token pool counters.
func (c *Client) TokenMetrics() tokens.Metrics {
	return c.tokens.Metrics()
}

// Tracker exposes the rate limit tracker (for wiring warning handlers).
func (c *Client) Tracker() *ratelimit.Tracker {
	return c.tracker
}

// Close releases client resources.
func (c *Client) Close() error {
	if closer, ok := c.cache.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

// resourceForPath maps an API path to the quota resource it spends from.
// The authoritative value arrives in X-RateLimit-Resource; this mapping is
// only used to gate before the first response is seen.
func resourceForPath(path string) string {
	switch {
	case path == "/graphql":
		return "graphql"
	case len(path) >= 7 && path[:7] == "/search":
		return "search"
	default:
		return ratelimit.ResourceCore
	}
}

// isMutating reports whether the HTTP method changes server state.
func isMutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}
