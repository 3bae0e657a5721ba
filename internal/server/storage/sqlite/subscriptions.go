package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/pathlighthq/pathlight/internal/models"
	"github.com/pathlighthq/pathlight/internal/server/storage"
)

// UpsertSubscription inserts or updates the mirror row keyed by the provider
// subscription id. The WHERE guard on the conflict branch drops updates whose
// event timestamp is older than the one already applied; the returned bool is
// false when the guard dropped the write, so callers can skip the tier and
// customer-id mutations that must stay in lockstep with the row.
func (s *Storage) UpsertSubscription(ctx context.Context, sub *models.Subscription) (bool, error) {
	query := `
		INSERT INTO subscriptions (provider_subscription_id, account_id, plan_key, status, last_event_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(provider_subscription_id) DO UPDATE SET
			account_id = excluded.account_id,
			plan_key = excluded.plan_key,
			status = excluded.status,
			last_event_at = excluded.last_event_at,
			updated_at = excluded.updated_at
		WHERE excluded.last_event_at >= subscriptions.last_event_at
	`

	result, err := s.db.ExecContext(ctx, query,
		sub.ProviderSubscriptionID,
		sub.AccountID,
		sub.PlanKey,
		sub.Status,
		sub.LastEventAt,
		sub.CreatedAt,
		sub.UpdatedAt,
	)

	if err != nil {
		return false, fmt.Errorf("failed to upsert subscription: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read upsert result: %w", err)
	}

	return affected > 0, nil
}

// GetSubscription retrieves the mirror row by provider subscription id
func (s *Storage) GetSubscription(ctx context.Context, providerSubscriptionID string) (*models.Subscription, error) {
	query := `
		SELECT provider_subscription_id, account_id, plan_key, status, last_event_at, created_at, updated_at
		FROM subscriptions
		WHERE provider_subscription_id = ?
	`

	return s.scanSubscription(s.db.QueryRowContext(ctx, query, providerSubscriptionID))
}

// GetAccountSubscription retrieves the most recently updated subscription for an account
func (s *Storage) GetAccountSubscription(ctx context.Context, accountID string) (*models.Subscription, error) {
	query := `
		SELECT provider_subscription_id, account_id, plan_key, status, last_event_at, created_at, updated_at
		FROM subscriptions
		WHERE account_id = ?
		ORDER BY updated_at DESC
		LIMIT 1
	`

	return s.scanSubscription(s.db.QueryRowContext(ctx, query, accountID))
}

// scanSubscription reads one subscription row
func (s *Storage) scanSubscription(row *sql.Row) (*models.Subscription, error) {
	sub := &models.Subscription{}

	err := row.Scan(
		&sub.ProviderSubscriptionID,
		&sub.AccountID,
		&sub.PlanKey,
		&sub.Status,
		&sub.LastEventAt,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("failed to scan subscription: %w", err)
	}

	return sub, nil
}
