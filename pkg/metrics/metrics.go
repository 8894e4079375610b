// Package metrics provides the centralized Prometheus registry reference
// for the GitHub API client. All metrics are defined in their respective
// packages (client, cache, ratelimit, tokens, webhook) to maintain
// modularity and avoid circular dependencies.
//
// This package provides documentation and reference for all available
// metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry used by the client.
// All metrics are automatically registered via promauto in their
// respective packages.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - ghub_requests_total{endpoint, status} (Counter): Total requests by endpoint and HTTP status
//   - ghub_request_duration_seconds{endpoint} (Histogram): Request duration by endpoint
//   - ghub_errors_total{class} (Counter): Errors by class (client, server, rate_limit, network)
//
// Retry Metrics (pkg/client):
//   - ghub_retries_total{error_class} (Counter): Retry attempts by error class
//   - ghub_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - ghub_retry_exhausted_total{error_class} (Counter): Requests that exhausted max retries
//
// Cache Metrics (pkg/cache):
//   - ghub_cache_hits_total{layer} (Counter): Cache hits by layer
//   - ghub_cache_misses_total (Counter): Cache misses
//   - ghub_cache_evictions_total (Counter): LRU evictions
//   - ghub_cache_entries (Gauge): Current entry count
//   - ghub_304_responses_total (Counter): 304 Not Modified responses
//   - ghub_conditional_requests_total (Counter): Conditional requests sent
//   - ghub_cache_errors_total{operation} (Counter): Cache operation errors
//
// Rate Limit Metrics (pkg/ratelimit):
//   - ghub_rate_limit_remaining{resource} (Gauge): Requests remaining per quota window
//   - ghub_rate_limit_warnings_total{resource} (Counter): Warning threshold crossings
//
// Token Pool Metrics (pkg/tokens):
//   - ghub_token_errors_total (Counter): Errors recorded across the pool
//   - ghub_tokens_healthy (Gauge): Currently healthy tokens
//   - ghub_token_quarantines_total (Counter): Tokens placed in quarantine
//   - ghub_token_pool_exhausted_total (Counter): Selections that found no eligible token
//
// Webhook Metrics (pkg/webhook):
//   - ghub_webhook_deliveries_total{result} (Counter): Deliveries by outcome
//   - ghub_webhook_rejections_total{stage} (Counter): Rejections by pipeline stage
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(ghub_cache_hits_total[5m])) /
//   (sum(rate(ghub_cache_hits_total[5m])) + sum(rate(ghub_cache_misses_total[5m])))
//
//   # Core Quota Headroom
//   ghub_rate_limit_remaining{resource="core"} < 100
//
//   # Request Error Rate
//   rate(ghub_errors_total[5m])
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(ghub_request_duration_seconds_bucket[5m]))
//
//   # Webhook Rejection Rate by Stage
//   rate(ghub_webhook_rejections_total[5m])
