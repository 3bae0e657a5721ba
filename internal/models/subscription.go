package models

import "time"

// SubscriptionStatus mirrors the payment provider's subscription states.
type SubscriptionStatus string

const (
	SubscriptionStatusActive     SubscriptionStatus = "active"
	SubscriptionStatusTrialing   SubscriptionStatus = "trialing"
	SubscriptionStatusPastDue    SubscriptionStatus = "past_due"
	SubscriptionStatusCanceled   SubscriptionStatus = "canceled"
	SubscriptionStatusUnpaid     SubscriptionStatus = "unpaid"
	SubscriptionStatusIncomplete SubscriptionStatus = "incomplete"
)

// Delinquent reports whether the status must revoke paid access.
func (s SubscriptionStatus) Delinquent() bool {
	switch s {
	case SubscriptionStatusCanceled, SubscriptionStatusUnpaid, SubscriptionStatusPastDue:
		return true
	}
	return false
}

// Subscription is the local mirror of one provider subscription.
// Rows are keyed by the immutable provider subscription id so repeated
// webhook delivery converges instead of duplicating.
// LastEventAt is the provider timestamp of the last applied event; events
// older than it are ignored so stale deliveries cannot overwrite newer state.
type Subscription struct {
	ProviderSubscriptionID string             `json:"provider_subscription_id"`
	AccountID              string             `json:"account_id"`
	PlanKey                string             `json:"plan_key"`
	Status                 SubscriptionStatus `json:"status"`
	LastEventAt            time.Time          `json:"last_event_at"`
	CreatedAt              time.Time          `json:"created_at"`
	UpdatedAt              time.Time          `json:"updated_at"`
}
