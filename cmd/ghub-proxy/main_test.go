package main

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/github-api-client/internal/testutil"
	"github.com/Sternrassler/github-api-client/pkg/cache"
	"github.com/Sternrassler/github-api-client/pkg/client"
	"github.com/Sternrassler/github-api-client/pkg/ratelimit"
	"github.com/Sternrassler/github-api-client/pkg/tokens"
	"github.com/Sternrassler/github-api-client/pkg/webhook"
)

const testWebhookSecret = "proxy-test-secret-0123456789"

func TestHealthEndpoint(t *testing.T) {
	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()

	healthHandler(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}
	if body := w.Body.String(); body != "OK" {
		t.Errorf("Expected OK body, got %q", body)
	}
}

func TestSplitTokens(t *testing.T) {
	tests := []struct {
		input string
		want  int
	}{
		{"", 0},
		{"one", 1},
		{"one,two,three", 3},
		{" one , two ", 2},
		{"one,,two", 2},
	}
	for _, tt := range tests {
		if got := splitTokens(tt.input); len(got) != tt.want {
			t.Errorf("splitTokens(%q) = %d tokens, want %d", tt.input, len(got), tt.want)
		}
	}
}

func newTestEngine(t *testing.T) *webhook.Engine {
	t.Helper()
	engine, err := webhook.NewEngine(webhook.Config{Secret: testWebhookSecret}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	return engine
}

func TestWebhookHandler_Accepted(t *testing.T) {
	handler := webhookHandler(newTestEngine(t), zerolog.Nop())

	payload := []byte(`{"action":"opened"}`)
	req, err := testutil.SignedWebhookRequest("/webhook", testWebhookSecret, "issues", payload)
	if err != nil {
		t.Fatalf("SignedWebhookRequest failed: %v", err)
	}

	w := httptest.NewRecorder()
	handler(w, req)

	if w.Code != http.StatusAccepted {
		t.Errorf("Expected 202, got %d: %s", w.Code, w.Body.String())
	}
}

func TestWebhookHandler_BadSignature(t *testing.T) {
	handler := webhookHandler(newTestEngine(t), zerolog.Nop())

	payload := []byte(`{"action":"opened"}`)
	req := httptest.NewRequest("POST", "/webhook", bytes.NewReader(payload))
	req.Header.Set(webhook.HeaderEvent, "issues")
	req.Header.Set(webhook.HeaderDelivery, uuid.NewString())
	req.Header.Set(webhook.HeaderSignature256, webhook.SignSHA256([]byte("wrong-secret-0123456789"), payload))

	w := httptest.NewRecorder()
	handler(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401, got %d", w.Code)
	}
}

func TestWebhookHandler_MissingHeaders(t *testing.T) {
	handler := webhookHandler(newTestEngine(t), zerolog.Nop())

	req := httptest.NewRequest("POST", "/webhook", strings.NewReader("{}"))
	w := httptest.NewRecorder()
	handler(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", w.Code)
	}
}

func TestWebhookHandler_Oversize(t *testing.T) {
	engine, err := webhook.NewEngine(webhook.Config{
		Secret:          testWebhookSecret,
		MaxPayloadBytes: 32,
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	handler := webhookHandler(engine, zerolog.Nop())

	payload := []byte(`{"padding":"` + strings.Repeat("x", 64) + `"}`)
	req, err := testutil.SignedWebhookRequest("/webhook", testWebhookSecret, "push", payload)
	if err != nil {
		t.Fatalf("SignedWebhookRequest failed: %v", err)
	}

	w := httptest.NewRecorder()
	handler(w, req)

	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("Expected 413, got %d", w.Code)
	}
}

func TestProxyHandler(t *testing.T) {
	mock := testutil.NewMockGitHub()
	defer mock.Close()
	mock.SetResponse("/repos/o/r", testutil.NewHealthyResponse(`{"id":1}`))

	apiClient, err := client.New(client.Config{
		BaseURL:   mock.URL(),
		UserAgent: "ghub-proxy-test/1.0",
		Tokens: tokens.Config{
			Tokens: []tokens.Token{{Secret: "proxy-token-0123456789"}},
		},
		Cache: cache.DefaultConfig(),
		Retry: ratelimit.DefaultPolicy{
			Backoff: ratelimit.Backoff{Base: time.Millisecond, Max: 5 * time.Millisecond},
		},
	})
	if err != nil {
		t.Fatalf("client.New failed: %v", err)
	}
	defer apiClient.Close()

	handler := proxyHandler(apiClient, zerolog.Nop())

	req := httptest.NewRequest("GET", "/gh/repos/o/r", nil)
	w := httptest.NewRecorder()
	handler(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	body, _ := io.ReadAll(w.Result().Body)
	if string(body) != `{"id":1}` {
		t.Errorf("Expected upstream body, got %q", body)
	}
	if got := w.Header().Get("ETag"); got != `"test-etag-123"` {
		t.Errorf("Expected upstream ETag to pass through, got %q", got)
	}
}

func TestProxyHandler_UpstreamErrorPassThrough(t *testing.T) {
	mock := testutil.NewMockGitHub()
	defer mock.Close()
	mock.SetHandler("/repos/o/missing", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-RateLimit-Limit", "5000")
		w.Header().Set("X-RateLimit-Remaining", "4999")
		w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", time.Now().Add(time.Hour).Unix()))
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"message":"Not Found"}`)
	})

	apiClient, err := client.New(client.Config{
		BaseURL:   mock.URL(),
		UserAgent: "ghub-proxy-test/1.0",
		Tokens: tokens.Config{
			Tokens: []tokens.Token{{Secret: "proxy-token-0123456789"}},
		},
		Cache: cache.DefaultConfig(),
	})
	if err != nil {
		t.Fatalf("client.New failed: %v", err)
	}
	defer apiClient.Close()

	handler := proxyHandler(apiClient, zerolog.Nop())

	req := httptest.NewRequest("GET", "/gh/repos/o/missing", nil)
	w := httptest.NewRecorder()
	handler(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected upstream 404 to pass through, got %d", w.Code)
	}
}
