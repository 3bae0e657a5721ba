package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/pathlighthq/pathlight/internal/apperrors"
	"github.com/pathlighthq/pathlight/internal/config"
	"github.com/pathlighthq/pathlight/internal/models"
)

const (
	defaultAPIBase   = "https://api.stripe.com"
	requestTimeout   = 10 * time.Second
	retryBaseBackoff = 200 * time.Millisecond
	maxRetries       = 3

	// maxResponseBytes caps provider response bodies
	maxResponseBytes = 1 << 20
)

// StripeGateway implements Gateway against the provider's REST API with
// form-encoded requests. Transient faults (network, timeout, 429, 5xx) are
// retried with exponential backoff and surface as retryable ExternalErrors;
// 4xx responses are permanent.
type StripeGateway struct {
	logger  *slog.Logger
	client  *http.Client
	cfg     config.BillingConfig
	apiBase string
}

// NewStripeGateway creates a gateway from feature-scoped billing config.
func NewStripeGateway(logger *slog.Logger, cfg config.BillingConfig) *StripeGateway {
	return &StripeGateway{
		logger:  logger,
		client:  &http.Client{Timeout: requestTimeout},
		cfg:     cfg,
		apiBase: defaultAPIBase,
	}
}

// CreateCustomer registers the account with the provider.
func (g *StripeGateway) CreateCustomer(ctx context.Context, email, accountID, name string) (string, error) {
	form := url.Values{}
	form.Set("email", email)
	form.Set("metadata[account_id]", accountID)
	if name != "" {
		form.Set("name", name)
	}

	var resp struct {
		ID string `json:"id"`
	}
	if err := g.call(ctx, "create_customer", http.MethodPost, "/v1/customers", form, &resp); err != nil {
		return "", err
	}

	return resp.ID, nil
}

// CreateCheckoutSession starts a subscription purchase. The account id rides
// along as both the client reference and subscription metadata so the
// webhook path can associate the resulting events.
func (g *StripeGateway) CreateCheckoutSession(ctx context.Context, customerID, priceID, accountID string) (*CheckoutSession, error) {
	form := url.Values{}
	form.Set("mode", "subscription")
	form.Set("customer", customerID)
	form.Set("client_reference_id", accountID)
	form.Set("line_items[0][price]", priceID)
	form.Set("line_items[0][quantity]", "1")
	form.Set("subscription_data[metadata][account_id]", accountID)
	form.Set("success_url", g.cfg.AppURL+"/billing/success?session_id={CHECKOUT_SESSION_ID}")
	form.Set("cancel_url", g.cfg.AppURL+"/billing/canceled")

	var resp struct {
		ID  string `json:"id"`
		URL string `json:"url"`
	}
	if err := g.call(ctx, "create_checkout_session", http.MethodPost, "/v1/checkout/sessions", form, &resp); err != nil {
		return nil, err
	}

	return &CheckoutSession{ID: resp.ID, URL: resp.URL}, nil
}

// CreatePortalSession opens the provider's self-service portal.
func (g *StripeGateway) CreatePortalSession(ctx context.Context, customerID string) (*PortalSession, error) {
	form := url.Values{}
	form.Set("customer", customerID)
	form.Set("return_url", g.cfg.AppURL+"/account")

	var resp struct {
		URL string `json:"url"`
	}
	if err := g.call(ctx, "create_portal_session", http.MethodPost, "/v1/billing_portal/sessions", form, &resp); err != nil {
		return nil, err
	}

	return &PortalSession{URL: resp.URL}, nil
}

// RetrieveSubscription fetches current subscription state and its price.
func (g *StripeGateway) RetrieveSubscription(ctx context.Context, subscriptionID string) (*SubscriptionDetail, error) {
	var resp struct {
		ID     string `json:"id"`
		Status string `json:"status"`
		Items  struct {
			Data []struct {
				Price struct {
					ID string `json:"id"`
				} `json:"price"`
			} `json:"data"`
		} `json:"items"`
	}
	path := "/v1/subscriptions/" + url.PathEscape(subscriptionID)
	if err := g.call(ctx, "retrieve_subscription", http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}

	detail := &SubscriptionDetail{
		ID:     resp.ID,
		Status: models.SubscriptionStatus(resp.Status),
	}
	if len(resp.Items.Data) > 0 {
		detail.PriceID = resp.Items.Data[0].Price.ID
	}

	return detail, nil
}

// VerifyWebhookSignature authenticates a raw delivery and parses it.
func (g *StripeGateway) VerifyWebhookSignature(payload []byte, signatureHeader string) (*Event, error) {
	if err := verifySignatureHeader(payload, signatureHeader, g.cfg.WebhookSecret, time.Now()); err != nil {
		return nil, err
	}
	return parseEvent(payload)
}

// call performs one provider API call with retries and decodes the response.
func (g *StripeGateway) call(ctx context.Context, op, method, path string, form url.Values, out interface{}) error {
	backoff := retry.WithMaxRetries(maxRetries, retry.NewExponential(retryBaseBackoff))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var body io.Reader
		if form != nil {
			body = strings.NewReader(form.Encode())
		}

		req, err := http.NewRequestWithContext(ctx, method, g.apiBase+path, body)
		if err != nil {
			return apperrors.External(op, err, false)
		}
		req.Header.Set("Authorization", "Bearer "+g.cfg.SecretKey)
		if form != nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}

		resp, err := g.client.Do(req)
		if err != nil {
			// Network faults and timeouts are worth another attempt
			return retry.RetryableError(apperrors.External(op, err, true))
		}
		defer func() { _ = resp.Body.Close() }()

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return retry.RetryableError(apperrors.External(op, err, true))
		}

		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			g.logger.WarnContext(ctx, "billing provider transient failure",
				"op", op, "status", resp.StatusCode)
			return retry.RetryableError(apperrors.External(op,
				fmt.Errorf("provider answered %d", resp.StatusCode), true))
		}
		if resp.StatusCode >= 400 {
			return apperrors.External(op, fmt.Errorf("provider answered %d: %s",
				resp.StatusCode, providerErrorMessage(data)), false)
		}

		if err := json.Unmarshal(data, out); err != nil {
			return apperrors.External(op, fmt.Errorf("failed to decode response: %w", err), false)
		}

		return nil
	})
	if err != nil {
		return err
	}

	return nil
}

// providerErrorMessage extracts the human message from an error response
func providerErrorMessage(data []byte) string {
	var body struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &body); err != nil || body.Error.Message == "" {
		return "unknown error"
	}
	return body.Error.Message
}
