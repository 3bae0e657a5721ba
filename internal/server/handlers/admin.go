package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/pathlighthq/pathlight/internal/apperrors"
	"github.com/pathlighthq/pathlight/internal/server/billing"
	"github.com/pathlighthq/pathlight/internal/server/storage"
	"github.com/pathlighthq/pathlight/internal/server/token"
	"github.com/pathlighthq/pathlight/pkg/api"
)

// EventLister reads back journaled webhook outcomes
type EventLister interface {
	List(ctx context.Context, limit int) ([]*billing.JournalEntry, error)
}

// AdminHandler serves the system-to-system endpoints.
// All routes run behind AdminAuth.
type AdminHandler struct {
	logger     *slog.Logger
	accounts   storage.AccountStorage
	subs       storage.SubscriptionStorage
	tokens     *token.Service
	reconciler *billing.Reconciler
	events     EventLister
}

// NewAdminHandler creates a new admin handler. reconciler may be nil when
// billing is not configured.
func NewAdminHandler(
	logger *slog.Logger,
	accounts storage.AccountStorage,
	subs storage.SubscriptionStorage,
	tokens *token.Service,
	reconciler *billing.Reconciler,
	events EventLister,
) *AdminHandler {
	return &AdminHandler{
		logger:     logger,
		accounts:   accounts,
		subs:       subs,
		tokens:     tokens,
		reconciler: reconciler,
		events:     events,
	}
}

// GetAccount handles GET /api/v1/admin/accounts/{id}
func (h *AdminHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	accountID := r.PathValue("id")
	if accountID == "" {
		sendError(h.logger, w, "account id is required", http.StatusBadRequest)
		return
	}

	account, err := h.accounts.GetAccountByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, storage.ErrAccountNotFound) {
			sendError(h.logger, w, "account not found", http.StatusNotFound)
			return
		}
		h.logger.ErrorContext(ctx, "failed to get account", slog.Any("error", err))
		sendError(h.logger, w, "internal server error", http.StatusInternalServerError)
		return
	}

	resp := api.AdminAccountResponse{
		Account:           accountResponse(account),
		BillingCustomerID: account.BillingCustomerID,
	}

	sub, err := h.subs.GetAccountSubscription(ctx, accountID)
	if err == nil {
		resp.Subscription = subscriptionResponse(sub)
	} else if !errors.Is(err, storage.ErrSubscriptionNotFound) {
		h.logger.ErrorContext(ctx, "failed to load subscription", slog.Any("error", err))
		sendError(h.logger, w, "internal server error", http.StatusInternalServerError)
		return
	}

	sendJSON(h.logger, w, resp, http.StatusOK)
}

// Reconcile handles POST /api/v1/admin/reconcile/{subscription_id}.
// Manual correction path for events lost to per-event failure isolation.
func (h *AdminHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.reconciler == nil {
		sendError(h.logger, w, "billing is not configured", http.StatusServiceUnavailable)
		return
	}

	subscriptionID := r.PathValue("subscription_id")
	if subscriptionID == "" {
		sendError(h.logger, w, "subscription id is required", http.StatusBadRequest)
		return
	}

	sub, err := h.reconciler.ReconcileSubscription(ctx, subscriptionID)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrSubscriptionNotFound):
			sendError(h.logger, w, "subscription not found", http.StatusNotFound)
		case errors.Is(err, apperrors.ErrReconcileSkipped):
			sendError(h.logger, w, err.Error(), http.StatusConflict)
		default:
			h.logger.ErrorContext(ctx, "manual reconcile failed", slog.Any("error", err))
			sendError(h.logger, w, "billing provider unavailable", http.StatusBadGateway)
		}
		return
	}

	sendJSON(h.logger, w, subscriptionResponse(sub), http.StatusOK)
}

// SweepTokens handles POST /api/v1/admin/tokens/sweep.
// Same operation the scheduled job runs, triggerable on demand.
func (h *AdminHandler) SweepTokens(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	deleted, err := h.tokens.CleanupExpiredTokens(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "token sweep failed", slog.Any("error", err))
		sendError(h.logger, w, "internal server error", http.StatusInternalServerError)
		return
	}

	sendJSON(h.logger, w, api.SweepResponse{Deleted: deleted}, http.StatusOK)
}

// Events handles GET /api/v1/admin/events
func (h *AdminHandler) Events(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.events == nil {
		sendError(h.logger, w, "billing is not configured", http.StatusServiceUnavailable)
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 500 {
			sendError(h.logger, w, "limit must be between 1 and 500", http.StatusBadRequest)
			return
		}
		limit = n
	}

	entries, err := h.events.List(ctx, limit)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to list events", slog.Any("error", err))
		sendError(h.logger, w, "internal server error", http.StatusInternalServerError)
		return
	}

	resp := make([]api.WebhookEventResponse, 0, len(entries))
	for _, entry := range entries {
		resp = append(resp, api.WebhookEventResponse{
			EventID:        entry.EventID,
			EventType:      entry.EventType,
			SubscriptionID: entry.SubscriptionID,
			Outcome:        entry.Outcome,
			Detail:         entry.Detail,
			At:             entry.At,
		})
	}

	sendJSON(h.logger, w, resp, http.StatusOK)
}
