package storage

import (
	"context"

	"github.com/pathlighthq/pathlight/internal/models"
)

// SubscriptionStorage defines the interface for the local subscription mirror.
// Rows are written exclusively by the reconciler.
type SubscriptionStorage interface {
	// UpsertSubscription inserts or updates the row keyed by the provider
	// subscription id. The update only applies when the incoming
	// LastEventAt is not older than the stored one, so a stale event can
	// never overwrite newer state. Replays of an identical event converge
	// to one unchanged row. The returned bool reports whether the write
	// applied; callers must gate every mutation derived from the row
	// (tier, customer id) on it so derived state cannot move on a
	// dropped write.
	UpsertSubscription(ctx context.Context, sub *models.Subscription) (bool, error)

	// GetSubscription retrieves the mirror row by provider subscription id
	// Returns ErrSubscriptionNotFound if it doesn't exist
	GetSubscription(ctx context.Context, providerSubscriptionID string) (*models.Subscription, error)

	// GetAccountSubscription retrieves the most recently updated subscription
	// for an account. Returns ErrSubscriptionNotFound if the account has none.
	GetAccountSubscription(ctx context.Context, accountID string) (*models.Subscription, error)
}
