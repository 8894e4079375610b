package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for webhook processing.
var (
	webhookDeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ghub_webhook_deliveries_total",
		Help: "Total webhook deliveries by result",
	}, []string{"result"}) // "dispatched", "duplicate", "unhandled", "rejected", "handler_error"

	webhookRejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ghub_webhook_rejections_total",
		Help: "Total webhook rejections by pipeline stage",
	}, []string{"stage"}) // "headers", "delivery_id", "size", "signature", "parse"
)

// Webhook header names.
const (
	HeaderEvent        = "X-GitHub-Event"
	HeaderDelivery     = "X-GitHub-Delivery"
	HeaderSignature256 = "X-Hub-Signature-256"
	HeaderSignature1   = "X-Hub-Signature"
)

// DefaultMaxPayloadBytes is the payload size ceiling.
const DefaultMaxPayloadBytes = 25 << 20 // 25 MB

// MinSecretLength is the minimum accepted shared-secret length, validated
// once at construction time.
const MinSecretLength = 16

// Delivery is one inbound webhook delivery: the raw payload plus the
// headers relevant to validation.
type Delivery struct {
	// Event is the event-type header value (e.g., "push").
	Event string

	// DeliveryID is the delivery-id header value, a UUID.
	DeliveryID string

	// Signature256 is the primary-scheme signature header value.
	Signature256 string

	// Signature1 is the legacy-scheme signature header value.
	Signature1 string

	// Payload is the raw request body.
	Payload []byte
}

// DeliveryFromRequest extracts a Delivery from an HTTP request and its
// already-read body. The body must be the raw bytes the signature was
// computed over.
func DeliveryFromRequest(r *http.Request, body []byte) Delivery {
	return Delivery{
		Event:        r.Header.Get(HeaderEvent),
		DeliveryID:   r.Header.Get(HeaderDelivery),
		Signature256: r.Header.Get(HeaderSignature256),
		Signature1:   r.Header.Get(HeaderSignature1),
		Payload:      body,
	}
}

// Event is a validated, parsed webhook notification. It is only
// constructed after the signature, size and delivery-id checks pass.
type Event struct {
	// Type is the event type (e.g., "push", "pull_request").
	Type string

	// Action is the payload's "action" field, empty when absent.
	Action string

	// DeliveryID identifies this delivery.
	DeliveryID string

	// Payload is the raw JSON body.
	Payload json.RawMessage
}

// Handler processes one validated event. A returned error propagates to
// the caller wrapped in ErrHandler; the engine does not retry.
type Handler func(ctx context.Context, event Event) error

// Config holds the webhook engine configuration.
type Config struct {
	// Secret is the shared HMAC secret. Required, at least 16 bytes.
	Secret string

	// AllowSHA1Fallback enables the legacy sha1 scheme for senders that
	// cannot produce sha256 signatures. Off by default.
	AllowSHA1Fallback bool

	// MaxPayloadBytes is the raw payload size ceiling. Default: 25 MB.
	MaxPayloadBytes int64

	// Dedup is the replay-protection store. Defaults to an in-memory
	// store bounded by DedupConfig defaults.
	Dedup DedupStore

	// DedupConfig bounds the default memory store. Ignored when Dedup is
	// provided.
	DedupConfig DedupConfig
}

// Engine validates and dispatches webhook deliveries.
type Engine struct {
	secret     []byte
	allowSHA1  bool
	maxPayload int64
	dedup      DedupStore
	logger     zerolog.Logger

	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewEngine creates a webhook engine. Secret strength is validated here,
// not per request.
func NewEngine(cfg Config, logger zerolog.Logger) (*Engine, error) {
	if len(cfg.Secret) < MinSecretLength {
		return nil, fmt.Errorf("%w: need at least %d bytes, got %d",
			ErrWeakSecret, MinSecretLength, len(cfg.Secret))
	}

	maxPayload := cfg.MaxPayloadBytes
	if maxPayload <= 0 {
		maxPayload = DefaultMaxPayloadBytes
	}

	dedup := cfg.Dedup
	if dedup == nil {
		dedup = NewMemoryDedupStore(cfg.DedupConfig)
	}

	return &Engine{
		secret:     []byte(cfg.Secret),
		allowSHA1:  cfg.AllowSHA1Fallback,
		maxPayload: maxPayload,
		dedup:      dedup,
		logger:     logger,
		handlers:   make(map[string]Handler),
	}, nil
}

// On registers the handler for an event type. One handler per type; a
// later registration replaces an earlier one.
func (e *Engine) On(eventType string, handler Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[eventType] = handler
}

// Handle runs the validation pipeline for one delivery.
//
// A duplicate delivery id returns nil without invoking any handler, as
// does an event type with no registered handler. Any validation failure
// returns the typed error of the stage that failed; no later stage runs.
func (e *Engine) Handle(ctx context.Context, d Delivery) error {
	// Stage 1: header presence
	if d.Event == "" || d.DeliveryID == "" {
		webhookRejectionsTotal.WithLabelValues("headers").Inc()
		webhookDeliveriesTotal.WithLabelValues("rejected").Inc()
		return fmt.Errorf("%w: event type and delivery id are required", ErrMissingHeader)
	}

	// Stage 2: delivery-id format
	if _, err := uuid.Parse(d.DeliveryID); err != nil {
		webhookRejectionsTotal.WithLabelValues("delivery_id").Inc()
		webhookDeliveriesTotal.WithLabelValues("rejected").Inc()
		return fmt.Errorf("%w: %q", ErrDeliveryID, d.DeliveryID)
	}

	// Stage 3: payload size, before any signature work
	if int64(len(d.Payload)) > e.maxPayload {
		webhookRejectionsTotal.WithLabelValues("size").Inc()
		webhookDeliveriesTotal.WithLabelValues("rejected").Inc()
		return fmt.Errorf("%w: %d bytes exceeds limit of %d",
			ErrPayloadTooLarge, len(d.Payload), e.maxPayload)
	}

	// Stage 4: signature over the raw payload bytes
	signature := d.Signature256
	if signature == "" {
		signature = d.Signature1
	}
	if err := verifySignature(e.secret, d.Payload, signature, e.allowSHA1); err != nil {
		webhookRejectionsTotal.WithLabelValues("signature").Inc()
		webhookDeliveriesTotal.WithLabelValues("rejected").Inc()
		e.logger.Warn().
			Str("delivery_id", d.DeliveryID).
			Str("event", d.Event).
			Msg("Webhook signature rejected")
		return err
	}

	// Stage 5: replay check, atomic check-and-insert
	fresh, err := e.dedup.CheckAndInsert(ctx, d.DeliveryID)
	if err != nil {
		return fmt.Errorf("dedup check: %w", err)
	}
	if !fresh {
		webhookDeliveriesTotal.WithLabelValues("duplicate").Inc()
		e.logger.Debug().
			Str("delivery_id", d.DeliveryID).
			Msg("Duplicate webhook delivery ignored")
		return nil
	}

	// Stage 6: parse
	if !json.Valid(d.Payload) {
		webhookRejectionsTotal.WithLabelValues("parse").Inc()
		webhookDeliveriesTotal.WithLabelValues("rejected").Inc()
		return fmt.Errorf("%w: payload is not valid JSON", ErrPayloadParse)
	}

	event := Event{
		Type:       d.Event,
		Action:     payloadAction(d.Payload),
		DeliveryID: d.DeliveryID,
		Payload:    json.RawMessage(d.Payload),
	}

	// Stage 7: dispatch
	e.mu.RLock()
	handler, ok := e.handlers[d.Event]
	e.mu.RUnlock()

	if !ok {
		// Unknown event types are accepted silently
		webhookDeliveriesTotal.WithLabelValues("unhandled").Inc()
		return nil
	}

	if err := handler(ctx, event); err != nil {
		webhookDeliveriesTotal.WithLabelValues("handler_error").Inc()
		return fmt.Errorf("%w: %s: %v", ErrHandler, d.Event, err)
	}

	webhookDeliveriesTotal.WithLabelValues("dispatched").Inc()
	e.logger.Debug().
		Str("delivery_id", d.DeliveryID).
		Str("event", d.Event).
		Str("action", event.Action).
		Msg("Webhook dispatched")

	return nil
}

// payloadAction pulls the "action" field from the payload, if any.
func payloadAction(payload []byte) string {
	var probe struct {
		Action string `json:"action"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil {
		return ""
	}
	return probe.Action
}
