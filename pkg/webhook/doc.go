// Package webhook authenticates, deduplicates and dispatches signed
// GitHub-style webhook deliveries.
//
// Every delivery runs a strict validation pipeline, ordered cheap to
// expensive so hostile input is rejected before costly work:
//
//	headers present -> delivery id is a UUID -> payload within size limit
//	-> HMAC signature valid -> not a replay -> payload parses -> dispatch
//
// The signature is computed over the raw payload bytes and compared in
// constant time. The primary scheme is HMAC-SHA256 (X-Hub-Signature-256);
// the legacy HMAC-SHA1 scheme (X-Hub-Signature) is only accepted when
// compatibility mode is explicitly enabled.
//
// Replay protection is backed by a DedupStore whose check-and-insert is a
// single atomic operation: of two concurrent deliveries with the same id,
// exactly one reaches the handler. A duplicate delivery is a silent
// success, not an error. Delivery ids older than the retention window are
// re-admitted as new; this is a documented weakening of the replay
// guarantee.
//
// # Usage
//
//	engine, err := webhook.NewEngine(webhook.Config{
//		Secret: os.Getenv("WEBHOOK_SECRET"),
//	}, logger)
//	if err != nil {
//		return err
//	}
//
//	engine.On("push", func(ctx context.Context, event webhook.Event) error {
//		// event.Payload is the raw JSON body
//		return nil
//	})
//
//	err = engine.Handle(ctx, webhook.DeliveryFromRequest(r, body))
//
// Validation failures are typed (ErrMissingHeader, ErrDeliveryID,
// ErrPayloadTooLarge, ErrSignature, ErrPayloadParse) so the HTTP layer can
// map them to distinct status codes. Handler failures are wrapped in
// ErrHandler and propagate to the caller; the engine never retries them.
package webhook
