package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/pathlighthq/pathlight/internal/apperrors"
	"github.com/pathlighthq/pathlight/internal/config"
	"github.com/pathlighthq/pathlight/internal/models"
	"github.com/pathlighthq/pathlight/internal/server/billing"
	"github.com/pathlighthq/pathlight/internal/server/middleware"
	"github.com/pathlighthq/pathlight/internal/server/storage"
	"github.com/pathlighthq/pathlight/pkg/api"
)

// BillingHandler serves the checkout and portal endpoints.
// Both run behind Authenticate.
type BillingHandler struct {
	logger   *slog.Logger
	accounts storage.AccountStorage
	gateway  billing.Gateway
	cfg      config.BillingConfig
}

// NewBillingHandler creates a new billing handler. gateway may be nil when
// billing is not configured; the endpoints then answer 503.
func NewBillingHandler(logger *slog.Logger, accounts storage.AccountStorage, gateway billing.Gateway, cfg config.BillingConfig) *BillingHandler {
	return &BillingHandler{
		logger:   logger,
		accounts: accounts,
		gateway:  gateway,
		cfg:      cfg,
	}
}

// Checkout handles POST /api/v1/billing/checkout
func (h *BillingHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	account, ok := middleware.AccountFromContext(ctx)
	if !ok {
		sendError(h.logger, w, "authentication required", http.StatusUnauthorized)
		return
	}

	if h.gateway == nil || !h.cfg.Configured() {
		sendError(h.logger, w, "billing is not configured", http.StatusServiceUnavailable)
		return
	}

	var req api.CheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(h.logger, w, "invalid request body", http.StatusBadRequest)
		return
	}

	if !models.ValidTier(models.Tier(req.Plan)) || models.Tier(req.Plan) == models.TierExplorer {
		sendError(h.logger, w, "unknown plan", http.StatusBadRequest)
		return
	}

	priceID, ok := h.cfg.PriceForPlan(req.Plan)
	if !ok {
		sendError(h.logger, w, "plan is not configured", http.StatusServiceUnavailable)
		return
	}

	customerID, err := h.ensureCustomer(r, account)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to create billing customer", slog.Any("error", err))
		sendError(h.logger, w, "billing provider unavailable", http.StatusBadGateway)
		return
	}

	session, err := h.gateway.CreateCheckoutSession(ctx, customerID, priceID, account.ID)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to create checkout session",
			slog.Any("error", err),
			slog.Bool("retryable", apperrors.IsRetryable(err)))
		sendError(h.logger, w, "billing provider unavailable", http.StatusBadGateway)
		return
	}

	h.logger.InfoContext(ctx, "checkout session created",
		slog.String("account_id", account.ID),
		slog.String("plan", req.Plan))

	resp := api.CheckoutResponse{
		URL:       session.URL,
		SessionID: session.ID,
	}
	sendJSON(h.logger, w, resp, http.StatusOK)
}

// Portal handles POST /api/v1/billing/portal
func (h *BillingHandler) Portal(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	account, ok := middleware.AccountFromContext(ctx)
	if !ok {
		sendError(h.logger, w, "authentication required", http.StatusUnauthorized)
		return
	}

	if h.gateway == nil || !h.cfg.Configured() {
		sendError(h.logger, w, "billing is not configured", http.StatusServiceUnavailable)
		return
	}

	if account.BillingCustomerID == "" {
		sendError(h.logger, w, "no billing customer for account", http.StatusConflict)
		return
	}

	session, err := h.gateway.CreatePortalSession(ctx, account.BillingCustomerID)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to create portal session", slog.Any("error", err))
		sendError(h.logger, w, "billing provider unavailable", http.StatusBadGateway)
		return
	}

	sendJSON(h.logger, w, api.PortalResponse{URL: session.URL}, http.StatusOK)
}

// ensureCustomer returns the account's provider customer reference,
// registering one on first use.
func (h *BillingHandler) ensureCustomer(r *http.Request, account *models.Account) (string, error) {
	if account.BillingCustomerID != "" {
		return account.BillingCustomerID, nil
	}

	ctx := r.Context()
	customerID, err := h.gateway.CreateCustomer(ctx, account.Email, account.ID, "")
	if err != nil {
		return "", err
	}

	if err := h.accounts.SetBillingCustomerID(ctx, account.ID, customerID); err != nil {
		return "", err
	}

	return customerID, nil
}
