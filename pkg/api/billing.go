package api

import "time"

// CheckoutRequest starts a subscription purchase for a plan key
type CheckoutRequest struct {
	Plan string `json:"plan"`
}

// CheckoutResponse points the caller at the provider-hosted payment page
type CheckoutResponse struct {
	URL       string `json:"url"`
	SessionID string `json:"session_id"`
}

// PortalResponse points the caller at the provider's self-service portal
type PortalResponse struct {
	URL string `json:"url"`
}

// SubscriptionResponse is the local mirror of one provider subscription
type SubscriptionResponse struct {
	ProviderSubscriptionID string    `json:"provider_subscription_id"`
	PlanKey                string    `json:"plan_key"`
	Status                 string    `json:"status"`
	UpdatedAt              time.Time `json:"updated_at"`
}

// MeResponse pairs the caller's account with its subscription mirror
type MeResponse struct {
	Account      AccountResponse       `json:"account"`
	Subscription *SubscriptionResponse `json:"subscription,omitempty"`
}

// AdminAccountResponse is the admin view of an account and its subscription
type AdminAccountResponse struct {
	Account           AccountResponse       `json:"account"`
	BillingCustomerID string                `json:"billing_customer_id,omitempty"`
	Subscription      *SubscriptionResponse `json:"subscription,omitempty"`
}

// SweepResponse reports how many expired refresh tokens were deleted
type SweepResponse struct {
	Deleted int `json:"deleted"`
}

// WebhookEventResponse is one journaled webhook outcome
type WebhookEventResponse struct {
	EventID        string    `json:"event_id"`
	EventType      string    `json:"event_type"`
	SubscriptionID string    `json:"subscription_id,omitempty"`
	Outcome        string    `json:"outcome"`
	Detail         string    `json:"detail,omitempty"`
	At             time.Time `json:"at"`
}
