package handlers

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/pathlighthq/pathlight/internal/server/billing"
)

// signatureHeader carries the provider's webhook signature
const signatureHeader = "Stripe-Signature"

// maxWebhookBodyBytes caps how much payload the endpoint will read
const maxWebhookBodyBytes = 1 << 20

// WebhookHandler receives billing provider webhooks. The endpoint bypasses
// both auth guards; the signature check is its authentication.
type WebhookHandler struct {
	logger     *slog.Logger
	gateway    billing.Gateway
	reconciler *billing.Reconciler
	configured bool
}

// NewWebhookHandler creates a new webhook handler. gateway and reconciler
// may be nil when webhook verification is not configured.
func NewWebhookHandler(logger *slog.Logger, gateway billing.Gateway, reconciler *billing.Reconciler, configured bool) *WebhookHandler {
	return &WebhookHandler{
		logger:     logger,
		gateway:    gateway,
		reconciler: reconciler,
		configured: configured,
	}
}

// Handle handles POST /api/v1/billing/webhook.
//
// 400 only for a missing or invalid signature, 500 only for failures before
// acknowledgment. Once the signature verifies and the event dispatches, the
// answer is 200 regardless of per-event outcome so the provider's retry
// budget is not spent on internal errors.
func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if !h.configured || h.gateway == nil || h.reconciler == nil {
		sendError(h.logger, w, "webhooks are not configured", http.StatusServiceUnavailable)
		return
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodyBytes))
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to read webhook body", slog.Any("error", err))
		sendError(h.logger, w, "internal server error", http.StatusInternalServerError)
		return
	}

	event, err := h.gateway.VerifyWebhookSignature(payload, r.Header.Get(signatureHeader))
	if err != nil {
		if errors.Is(err, billing.ErrInvalidSignature) {
			h.logger.WarnContext(ctx, "webhook signature rejected", "remote_addr", r.RemoteAddr)
			sendError(h.logger, w, "invalid signature", http.StatusBadRequest)
			return
		}
		// Signed but unparseable; nothing to retry
		h.logger.ErrorContext(ctx, "webhook payload rejected", slog.Any("error", err))
		sendError(h.logger, w, "invalid payload", http.StatusBadRequest)
		return
	}

	// Outcome is journaled by the reconciler; the delivery is acknowledged
	// either way.
	_ = h.reconciler.HandleEvent(ctx, event)

	sendJSON(h.logger, w, map[string]bool{"received": true}, http.StatusOK)
}
