package api

import (
	"io"
	"net/http"

	"pulsecast/internal/fault"
	"pulsecast/internal/observability/metrics"
	"pulsecast/internal/webhook"
)

// maxWebhookBody bounds callback payloads; platform events are small.
const maxWebhookBody = 1 << 20

// WebhookHandler receives signed platform callbacks. Signature failures are
// rejected before anything is read from the payload; valid events are
// applied idempotently and always acknowledged so the platform stops
// redelivering.
type WebhookHandler struct {
	Verifier  *webhook.Verifier
	Processor *webhook.Processor
}

// NewWebhookHandler wires the callback endpoint.
func NewWebhookHandler(verifier *webhook.Verifier, processor *webhook.Processor) *WebhookHandler {
	return &WebhookHandler{Verifier: verifier, Processor: processor}
}

// Receive handles POST /api/webhooks/ingest.
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, "POST")
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeFault(w, fault.Validation("read payload"))
		return
	}
	defer r.Body.Close()

	if err := h.Verifier.Verify(r.Header.Get(webhook.SignatureHeader), body); err != nil {
		// Minimal disclosure: a bare status, no hint about what failed.
		metrics.WebhookRejected()
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	event, err := webhook.ParseEvent(body)
	if err != nil {
		writeFault(w, err)
		return
	}
	if err := h.Processor.Apply(r.Context(), event); err != nil {
		writeFault(w, err)
		return
	}
	metrics.WebhookProcessed(event.Type)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
