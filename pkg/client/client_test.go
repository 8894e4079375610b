package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Sternrassler/github-api-client/pkg/cache"
	"github.com/Sternrassler/github-api-client/pkg/ratelimit"
	"github.com/Sternrassler/github-api-client/pkg/tokens"
)

func testConfig(serverURL string) Config {
	return Config{
		BaseURL:   serverURL,
		UserAgent: "github-api-client-test/1.0",
		Tokens: tokens.Config{
			Tokens: []tokens.Token{{Secret: "token-alpha-0123456789", Type: tokens.TypePersonalAccessToken}},
		},
		Cache: cache.DefaultConfig(),
		Retry: ratelimit.DefaultPolicy{
			Backoff: ratelimit.Backoff{Base: time.Millisecond, Max: 5 * time.Millisecond},
		},
	}
}

func rateLimitHeaders(w http.ResponseWriter, remaining int) {
	w.Header().Set("X-RateLimit-Limit", "5000")
	w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))
	w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", time.Now().Add(time.Hour).Unix()))
	w.Header().Set("X-RateLimit-Resource", "core")
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{})
	if err == nil {
		t.Error("Expected error for missing user-agent")
	}

	_, err = New(Config{UserAgent: "test/1.0"})
	if err == nil {
		t.Error("Expected error for empty token pool")
	}
}

func TestClient_Do_Success(t *testing.T) {
	var gotAuth, gotUA, gotAccept string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotUA = r.Header.Get("User-Agent")
		gotAccept = r.Header.Get("Accept")
		rateLimitHeaders(w, 4999)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"login":"octocat"}`)
	}))
	defer server.Close()

	c, err := New(testConfig(server.URL))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer c.Close()

	resp, err := c.Get(context.Background(), "/users/octocat")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200, got %d", resp.StatusCode)
	}
	if gotAuth != "Bearer token-alpha-0123456789" {
		t.Errorf("Expected bearer auth header, got %q", gotAuth)
	}
	if gotUA != "github-api-client-test/1.0" {
		t.Errorf("Expected configured user-agent, got %q", gotUA)
	}
	if gotAccept != "application/vnd.github+json" {
		t.Errorf("Expected API accept header, got %q", gotAccept)
	}

	// The tracker saw the response headers
	windows := c.RateLimits()
	if w, ok := windows["core"]; !ok || w.Remaining != 4999 {
		t.Errorf("Expected tracked core window with 4999 remaining, got %+v", windows)
	}
}

func TestClient_Do_ConditionalRequestServes304FromCache(t *testing.T) {
	const etag = `"abc123"`
	requests := 0
	var gotIfNoneMatch string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		rateLimitHeaders(w, 4999)
		if r.Header.Get("If-None-Match") == etag {
			gotIfNoneMatch = etag
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", etag)
		w.Header().Set("Cache-Control", "max-age=60")
		fmt.Fprint(w, `{"id":1,"name":"repo"}`)
	}))
	defer server.Close()

	c, err := New(testConfig(server.URL))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer c.Close()
	ctx := context.Background()

	resp1, err := c.Get(ctx, "/repos/o/r")
	if err != nil {
		t.Fatalf("First get failed: %v", err)
	}
	body1, _ := io.ReadAll(resp1.Body)
	resp1.Body.Close()

	resp2, err := c.Get(ctx, "/repos/o/r")
	if err != nil {
		t.Fatalf("Second get failed: %v", err)
	}
	body2, _ := io.ReadAll(resp2.Body)
	resp2.Body.Close()

	if requests != 2 {
		t.Errorf("Expected 2 server round trips, got %d", requests)
	}
	if gotIfNoneMatch != etag {
		t.Error("Expected second request to carry If-None-Match")
	}
	if resp2.StatusCode != http.StatusOK {
		t.Errorf("Expected cached 200 after 304, got %d", resp2.StatusCode)
	}
	if string(body1) != string(body2) {
		t.Errorf("Expected cached body to match original, got %q vs %q", body1, body2)
	}
}

func TestClient_Do_RetriesServerErrors(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		rateLimitHeaders(w, 4999)
		fmt.Fprint(w, `{}`)
	}))
	defer server.Close()

	c, err := New(testConfig(server.URL))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer c.Close()

	resp, err := c.Get(context.Background(), "/repos/o/r")
	if err != nil {
		t.Fatalf("Expected success after retries, got %v", err)
	}
	resp.Body.Close()

	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
}

func TestClient_Do_RetryAfterHonored(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		rateLimitHeaders(w, 4999)
		fmt.Fprint(w, `{}`)
	}))
	defer server.Close()

	c, err := New(testConfig(server.URL))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer c.Close()

	start := time.Now()
	resp, err := c.Get(context.Background(), "/repos/o/r")
	if err != nil {
		t.Fatalf("Expected success after rate limit retry, got %v", err)
	}
	resp.Body.Close()

	if attempts != 2 {
		t.Errorf("Expected 2 attempts, got %d", attempts)
	}
	// Retry-After: 0 means the computed exponential delay was not used
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("Expected immediate retry per Retry-After, took %s", elapsed)
	}
}

func TestClient_Do_ClientErrorNotRetried(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		rateLimitHeaders(w, 4999)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	c, err := New(testConfig(server.URL))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer c.Close()

	resp, err := c.Get(context.Background(), "/repos/o/missing")
	if resp == nil {
		t.Fatal("Expected the response to be returned alongside the error")
	}
	resp.Body.Close()

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Expected *APIError, got %v", err)
	}
	if apiErr.Class != ErrorClassClient {
		t.Errorf("Expected client error class, got %q", apiErr.Class)
	}
	if apiErr.StatusCode != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", apiErr.StatusCode)
	}
	if attempts != 1 {
		t.Errorf("Expected no retries for 4xx, got %d attempts", attempts)
	}
}

func TestClient_Do_FailsFastWhenQuotaExhausted(t *testing.T) {
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		rateLimitHeaders(w, 0)
		fmt.Fprint(w, `{}`)
	}))
	defer server.Close()

	cfg := testConfig(server.URL)
	cfg.Cache.Enabled = false
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer c.Close()
	ctx := context.Background()

	// First request drains the window (remaining: 0)
	resp, err := c.Get(ctx, "/repos/o/r")
	if err != nil {
		t.Fatalf("First get failed: %v", err)
	}
	resp.Body.Close()

	// Second request is blocked locally, never reaching the server
	_, err = c.Get(ctx, "/repos/o/r")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Class != ErrorClassRateLimit {
		t.Fatalf("Expected rate limit APIError, got %v", err)
	}
	if requests != 1 {
		t.Errorf("Expected exhausted quota to block locally, server saw %d requests", requests)
	}
}

func TestClient_Do_RotatesTokens(t *testing.T) {
	var seen []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
		rateLimitHeaders(w, 4999)
		fmt.Fprint(w, `{}`)
	}))
	defer server.Close()

	cfg := testConfig(server.URL)
	cfg.Cache.Enabled = false
	cfg.Tokens = tokens.Config{
		Tokens: []tokens.Token{
			{Secret: "token-alpha-0123456789"},
			{Secret: "token-beta-01234567890"},
		},
	}
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer c.Close()
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		resp, err := c.Get(ctx, "/repos/o/r")
		if err != nil {
			t.Fatalf("Get %d failed: %v", i, err)
		}
		resp.Body.Close()
	}

	want := []string{
		"token-alpha-0123456789", "token-beta-01234567890",
		"token-alpha-0123456789", "token-beta-01234567890",
	}
	if len(seen) != len(want) {
		t.Fatalf("Expected %d requests, got %d", len(want), len(seen))
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("Request %d: expected token %q, got %q", i, want[i], seen[i])
		}
	}
}

func TestClient_Do_MutationInvalidatesCachedRead(t *testing.T) {
	gets := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rateLimitHeaders(w, 4999)
		if r.Method == http.MethodGet {
			gets++
			w.Header().Set("ETag", fmt.Sprintf(`"v%d"`, gets))
			w.Header().Set("Cache-Control", "max-age=300")
			fmt.Fprintf(w, `{"version":%d}`, gets)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	c, err := New(testConfig(server.URL))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer c.Close()
	ctx := context.Background()

	resp, err := c.Get(ctx, "/repos/o/r")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	resp.Body.Close()

	req, _ := http.NewRequestWithContext(ctx, http.MethodPatch, server.URL+"/repos/o/r", nil)
	resp, err = c.Do(req)
	if err != nil {
		t.Fatalf("Patch failed: %v", err)
	}
	resp.Body.Close()

	// The cached entry was dropped, so this GET is unconditional
	resp, err = c.Get(ctx, "/repos/o/r")
	if err != nil {
		t.Fatalf("Get after mutation failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	if gets != 2 {
		t.Errorf("Expected 2 unconditional GETs, got %d", gets)
	}
	if string(body) != `{"version":2}` {
		t.Errorf("Expected fresh body after invalidation, got %q", body)
	}
}

func TestResourceForPath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/repos/o/r", "core"},
		{"/users/octocat", "core"},
		{"/search/repositories", "search"},
		{"/search/code", "search"},
		{"/graphql", "graphql"},
		{"", "core"},
	}
	for _, tt := range tests {
		if got := resourceForPath(tt.path); got != tt.want {
			t.Errorf("resourceForPath(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}
