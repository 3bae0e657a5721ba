package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/pathlighthq/pathlight/internal/models"
	"github.com/pathlighthq/pathlight/internal/server/middleware"
	"github.com/pathlighthq/pathlight/internal/server/storage"
	"github.com/pathlighthq/pathlight/pkg/api"
)

// AccountHandler serves the caller's own account projection
type AccountHandler struct {
	logger *slog.Logger
	subs   storage.SubscriptionStorage
}

// NewAccountHandler creates a new account handler
func NewAccountHandler(logger *slog.Logger, subs storage.SubscriptionStorage) *AccountHandler {
	return &AccountHandler{
		logger: logger,
		subs:   subs,
	}
}

// Me handles GET /api/v1/account. Runs behind Authenticate.
func (h *AccountHandler) Me(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	account, ok := middleware.AccountFromContext(ctx)
	if !ok {
		sendError(h.logger, w, "authentication required", http.StatusUnauthorized)
		return
	}

	sub, err := h.accountSubscription(r, account.ID)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to load subscription", slog.Any("error", err))
		sendError(h.logger, w, "internal server error", http.StatusInternalServerError)
		return
	}

	resp := api.MeResponse{Account: accountResponse(account)}
	if sub != nil {
		resp.Subscription = subscriptionResponse(sub)
	}

	sendJSON(h.logger, w, resp, http.StatusOK)
}

// accountResponse builds the caller-visible projection
func accountResponse(account *models.Account) api.AccountResponse {
	return api.AccountResponse{
		ID:        account.ID,
		Email:     account.Email,
		Tier:      string(account.Tier),
		CreatedAt: account.CreatedAt,
		LastLogin: account.LastLogin,
	}
}

// subscriptionResponse builds the subscription mirror projection
func subscriptionResponse(sub *models.Subscription) *api.SubscriptionResponse {
	return &api.SubscriptionResponse{
		ProviderSubscriptionID: sub.ProviderSubscriptionID,
		PlanKey:                sub.PlanKey,
		Status:                 string(sub.Status),
		UpdatedAt:              sub.UpdatedAt,
	}
}

// accountSubscription loads the account's subscription, nil when none exists
func (h *AccountHandler) accountSubscription(r *http.Request, accountID string) (*models.Subscription, error) {
	sub, err := h.subs.GetAccountSubscription(r.Context(), accountID)
	if err != nil {
		if errors.Is(err, storage.ErrSubscriptionNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return sub, nil
}
