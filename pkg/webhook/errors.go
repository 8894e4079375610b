package webhook

import (
	"errors"
)

// Typed rejection reasons for the validation pipeline. Each maps to a
// distinct stage so the HTTP layer can answer with an appropriate status
// code without leaking internal state.
var (
	// ErrMissingHeader indicates a required event-type or delivery-id
	// header was absent.
	ErrMissingHeader = errors.New("missing required webhook header")

	// ErrDeliveryID indicates the delivery id did not parse as a UUID.
	ErrDeliveryID = errors.New("invalid webhook delivery id")

	// ErrPayloadTooLarge indicates the raw payload exceeded the size limit.
	ErrPayloadTooLarge = errors.New("webhook payload too large")

	// ErrSignature indicates a missing, malformed or mismatching signature.
	ErrSignature = errors.New("webhook signature verification failed")

	// ErrPayloadParse indicates the payload was not valid JSON.
	ErrPayloadParse = errors.New("malformed webhook payload")

	// ErrHandler wraps a failure from the registered event handler.
	ErrHandler = errors.New("webhook handler failed")

	// ErrWeakSecret is returned at construction time for secrets below
	// the minimum length.
	ErrWeakSecret = errors.New("webhook secret too short")
)
