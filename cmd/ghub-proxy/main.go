// ghub-proxy is a caching, rate-limit-aware proxy in front of the GitHub
// REST API, with a validated webhook ingestion endpoint.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/github-api-client/pkg/cache"
	"github.com/Sternrassler/github-api-client/pkg/client"
	"github.com/Sternrassler/github-api-client/pkg/logging"
	"github.com/Sternrassler/github-api-client/pkg/tokens"
	"github.com/Sternrassler/github-api-client/pkg/webhook"
)

func main() {
	logger := logging.Setup(logging.Config{
		Level:  logging.LogLevel(getEnv("LOG_LEVEL", "info")),
		Pretty: getEnv("LOG_PRETTY", "") == "true",
		Output: os.Stderr,
	})

	port := getEnv("PORT", "8080")
	userAgent := getEnv("USER_AGENT", "ghub-proxy/0.1.0")
	webhookSecret := os.Getenv("WEBHOOK_SECRET")
	tokenList := splitTokens(os.Getenv("GITHUB_TOKENS"))

	if len(tokenList) == 0 {
		logger.Fatal().Msg("GITHUB_TOKENS is required (comma-separated)")
	}

	// Redis is optional: it upgrades the cache and webhook dedup from
	// in-process to shared state.
	var redisClient *redis.Client
	cacheCfg := cache.DefaultConfig()
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: redisURL})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			logger.Fatal().Err(err).Str("addr", redisURL).Msg("Failed to connect to Redis")
		}
		cacheCfg.Storage = cache.StorageRedis
		logger.Info().Str("addr", redisURL).Msg("Connected to Redis")
	}

	apiClient, err := client.New(client.Config{
		UserAgent: userAgent,
		Tokens: tokens.Config{
			Tokens:           tokenPool(tokenList),
			RotationStrategy: getEnv("ROTATION_STRATEGY", tokens.StrategyRoundRobin),
		},
		Cache:        cacheCfg,
		Redis:        redisClient,
		WaitForReset: getEnv("WAIT_FOR_RESET", "") == "true",
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create API client")
	}
	defer apiClient.Close()

	router := mux.NewRouter()
	router.HandleFunc("/health", healthHandler).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	router.PathPrefix("/gh/").HandlerFunc(proxyHandler(apiClient, logger)).Methods(http.MethodGet)

	if webhookSecret != "" {
		engine, err := newWebhookEngine(webhookSecret, redisClient, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to create webhook engine")
		}
		router.HandleFunc("/webhook", webhookHandler(engine, logger)).Methods(http.MethodPost)
		logger.Info().Msg("Webhook endpoint enabled at /webhook")
	}

	addr := ":" + port
	logger.Info().
		Str("addr", addr).
		Str("user_agent", userAgent).
		Int("tokens", len(tokenList)).
		Msg("Starting ghub-proxy")

	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal().Err(err).Msg("Server failed")
	}
}

func newWebhookEngine(secret string, redisClient *redis.Client, logger zerolog.Logger) (*webhook.Engine, error) {
	cfg := webhook.Config{
		Secret:            secret,
		AllowSHA1Fallback: getEnv("WEBHOOK_ALLOW_SHA1", "") == "true",
	}
	if redisClient != nil {
		cfg.Dedup = webhook.NewRedisDedupStore(redisClient, 0)
	}

	engine, err := webhook.NewEngine(cfg, logging.NewLogger("webhook-engine"))
	if err != nil {
		return nil, err
	}

	// Deliveries are logged after validation; downstream fan-out hangs off
	// these handlers.
	logEvent := func(_ context.Context, event webhook.Event) error {
		logger.Info().
			Str("event", event.Type).
			Str("action", event.Action).
			Str("delivery_id", event.DeliveryID).
			Msg("Webhook event received")
		return nil
	}
	for _, eventType := range []string{"push", "pull_request", "issues", "release"} {
		engine.On(eventType, logEvent)
	}

	return engine, nil
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

// proxyHandler forwards GET requests to the API through the resilient
// client. Example: /gh/repos/owner/name -> /repos/owner/name.
func proxyHandler(apiClient *client.Client, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		endpoint := strings.TrimPrefix(r.URL.Path, "/gh")
		if r.URL.RawQuery != "" {
			endpoint += "?" + r.URL.RawQuery
		}

		ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
		defer cancel()

		resp, err := apiClient.Get(ctx, endpoint)
		if err != nil {
			var apiErr *client.APIError
			if errors.As(err, &apiErr) && resp != nil {
				// Pass API-level errors through with their original status
				defer resp.Body.Close()
				copyResponse(w, resp, logger)
				return
			}
			logger.Error().Err(err).Str("endpoint", endpoint).Msg("Proxy request failed")
			http.Error(w, "upstream request failed", http.StatusBadGateway)
			return
		}
		defer resp.Body.Close()

		copyResponse(w, resp, logger)
	}
}

func copyResponse(w http.ResponseWriter, resp *http.Response, logger zerolog.Logger) {
	for key, values := range resp.Header {
		for _, value := range values {
			w.Header().Add(key, value)
		}
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		logger.Warn().Err(err).Msg("Failed to write response body")
	}
}

// webhookHandler maps pipeline rejections to HTTP status codes without
// leaking validation internals to the sender.
func webhookHandler(engine *webhook.Engine, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, webhook.DefaultMaxPayloadBytes+1))
		if err != nil {
			http.Error(w, "failed to read body", http.StatusBadRequest)
			return
		}

		err = engine.Handle(r.Context(), webhook.DeliveryFromRequest(r, body))
		switch {
		case err == nil:
			w.WriteHeader(http.StatusAccepted)
		case errors.Is(err, webhook.ErrPayloadTooLarge):
			http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
		case errors.Is(err, webhook.ErrSignature):
			http.Error(w, "signature verification failed", http.StatusUnauthorized)
		case errors.Is(err, webhook.ErrMissingHeader), errors.Is(err, webhook.ErrDeliveryID),
			errors.Is(err, webhook.ErrPayloadParse):
			http.Error(w, "invalid webhook delivery", http.StatusBadRequest)
		default:
			logger.Error().Err(err).Msg("Webhook processing failed")
			http.Error(w, "processing failed", http.StatusInternalServerError)
		}
	}
}

func tokenPool(secrets []string) []tokens.Token {
	pool := make([]tokens.Token, 0, len(secrets))
	for _, secret := range secrets {
		pool = append(pool, tokens.Token{Secret: secret, Type: tokens.TypePersonalAccessToken})
	}
	return pool
}

func splitTokens(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
