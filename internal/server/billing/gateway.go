// Package billing holds the payment provider contract and the webhook
// reconciliation state machine. The rest of the server depends only on the
// Gateway interface, never on the provider's wire format.
package billing

import (
	"context"

	"github.com/pathlighthq/pathlight/internal/models"
)

// CheckoutSession is a provider-hosted payment page for starting a subscription
type CheckoutSession struct {
	ID  string
	URL string
}

// PortalSession is a provider-hosted page for managing an existing subscription
type PortalSession struct {
	URL string
}

// SubscriptionDetail is the provider's view of one subscription
type SubscriptionDetail struct {
	ID      string
	Status  models.SubscriptionStatus
	PriceID string
}

// Gateway is the payment provider contract.
//
// Every call carries a bounded timeout through ctx. Failures come back as
// *apperrors.ExternalError; Retryable distinguishes transient faults from
// permanent ones, and callers must never mutate account state on a
// retryable failure.
type Gateway interface {
	// CreateCustomer registers the account with the provider and returns
	// the provider customer reference.
	CreateCustomer(ctx context.Context, email, accountID, name string) (string, error)

	// CreateCheckoutSession starts a subscription purchase for the price.
	CreateCheckoutSession(ctx context.Context, customerID, priceID, accountID string) (*CheckoutSession, error)

	// CreatePortalSession opens the provider's self-service portal.
	CreatePortalSession(ctx context.Context, customerID string) (*PortalSession, error)

	// RetrieveSubscription fetches current subscription state.
	RetrieveSubscription(ctx context.Context, subscriptionID string) (*SubscriptionDetail, error)

	// VerifyWebhookSignature authenticates a raw webhook delivery and
	// parses it. Returns ErrInvalidSignature before looking at the payload
	// content when the signature does not match.
	VerifyWebhookSignature(payload []byte, signatureHeader string) (*Event, error)
}
