package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/Sternrassler/github-api-client/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for retry operations.
var (
	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ghub_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	retryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ghub_retry_backoff_seconds",
		Help:    "Backoff duration before retries by error class",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"error_class"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ghub_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error class",
	}, []string{"error_class"})
)

// execute runs the request through the retry loop. Each attempt clones the
// request; bodies are replayed through GetBody, so requests built with
// http.NewRequest retry safely.
//
// Every response's headers feed the rate limit tracker, including failed
// attempts. A response the policy declines to retry is returned to the
// caller; statuses >= 400 carry a typed *APIError alongside the response.
func (c *Client) execute(ctx context.Context, req *http.Request) (*http.Response, error) {
	endpoint := req.URL.Path

	var lastErr error
	var lastClass ErrorClass

	for attempt := 0; ; attempt++ {
		attemptReq, err := cloneRequest(ctx, req)
		if err != nil {
			return nil, err
		}

		resp, reqErr := c.httpClient.Do(attemptReq)

		if reqErr == nil {
			c.tracker.UpdateFromHeaders(resp.Header)

			if resp.StatusCode < 400 {
				if attempt > 0 {
					c.logger.Info().
						Str("endpoint", endpoint).
						Int("attempt", attempt+1).
						Msg("Request succeeded after retry")
				}
				requestsTotal.WithLabelValues(endpoint, fmt.Sprintf("%d", resp.StatusCode)).Inc()
				return resp, nil
			}
		}

		class := classifyResponse(resp, reqErr)
		errorsTotal.WithLabelValues(string(class)).Inc()

		if reqErr != nil {
			c.logger.Error().Err(reqErr).Str("endpoint", endpoint).Msg("HTTP request failed")
			requestsTotal.WithLabelValues(endpoint, "network_error").Inc()
			lastErr = reqErr
		} else {
			c.logger.Warn().
				Str("endpoint", endpoint).
				Int("status", resp.StatusCode).
				Str("error_class", string(class)).
				Msg("API request error")
			requestsTotal.WithLabelValues(endpoint, fmt.Sprintf("%d", resp.StatusCode)).Inc()
			lastErr = &APIError{
				StatusCode: resp.StatusCode,
				Class:      class,
				Message:    resp.Status,
			}
		}
		lastClass = class

		decision := c.policy.Decide(resp, reqErr, attempt)
		if !decision.Retry {
			if reqErr != nil {
				if errors.Is(reqErr, context.Canceled) || errors.Is(reqErr, context.DeadlineExceeded) {
					return nil, fmt.Errorf("%w: %v", ErrContextCancelled, reqErr)
				}
				if attempt > 0 {
					retryExhaustedTotal.WithLabelValues(string(class)).Inc()
					return nil, fmt.Errorf("%w after %d attempts: %v", ErrRetryExhausted, attempt+1, reqErr)
				}
				return nil, &APIError{Class: ErrorClassNetwork, Message: "request failed", Err: reqErr}
			}

			if attempt > 0 {
				retryExhaustedTotal.WithLabelValues(string(class)).Inc()
				c.logger.Warn().
					Str("endpoint", endpoint).
					Str("error_class", string(class)).
					Int("attempts", attempt+1).
					Msg("Retry attempts exhausted")
			}
			// Non-retriable HTTP error: hand both response and typed error
			// to the caller
			return resp, lastErr
		}

		if resp != nil {
			resp.Body.Close()
		}

		retriesTotal.WithLabelValues(string(class)).Inc()
		retryBackoffSeconds.WithLabelValues(string(class)).Observe(decision.After.Seconds())

		c.logger.Debug().
			Str("endpoint", endpoint).
			Str("error_class", string(class)).
			Int("attempt", attempt+1).
			Dur("backoff", decision.After).
			Msg("Retrying request after backoff")

		if err := ratelimit.Wait(ctx, decision.After); err != nil {
			c.logger.Warn().
				Str("endpoint", endpoint).
				Str("error_class", string(lastClass)).
				Msg("Context cancelled during retry backoff")
			return nil, fmt.Errorf("%w: %v", ErrContextCancelled, err)
		}
	}
}

// cloneRequest copies a request for one attempt, replaying the body
// through GetBody when present.
func cloneRequest(ctx context.Context, req *http.Request) (*http.Request, error) {
	attemptReq := req.Clone(ctx)
	if req.Body != nil && req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("replay request body: %w", err)
		}
		attemptReq.Body = body
	}
	return attemptReq, nil
}
