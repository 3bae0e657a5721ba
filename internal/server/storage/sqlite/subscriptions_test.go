package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pathlighthq/pathlight/internal/models"
	"github.com/pathlighthq/pathlight/internal/server/storage"
)

func newTestSubscription(accountID, providerID string, eventAt time.Time) *models.Subscription {
	now := time.Now().UTC()
	return &models.Subscription{
		ProviderSubscriptionID: providerID,
		AccountID:              accountID,
		PlanKey:                string(models.TierPro),
		Status:                 models.SubscriptionStatusActive,
		LastEventAt:            eventAt,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
}

func TestSubscriptionStorage_UpsertSubscription_Converges(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStorage(t)
	defer cleanup()

	accountID := createTestAccount(t, ctx, s, "sub@x.com")
	eventAt := time.Now().UTC().Truncate(time.Second)

	sub := newTestSubscription(accountID, "sub_1", eventAt)
	applied, err := s.UpsertSubscription(ctx, sub)
	require.NoError(t, err)
	assert.True(t, applied)

	// Redelivering the identical event leaves exactly one row and still
	// counts as applied
	applied, err = s.UpsertSubscription(ctx, sub)
	require.NoError(t, err)
	assert.True(t, applied)

	var count int
	err = s.DB().QueryRow(`SELECT COUNT(*) FROM subscriptions WHERE provider_subscription_id = 'sub_1'`).Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	retrieved, err := s.GetSubscription(ctx, "sub_1")
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusActive, retrieved.Status)
	assert.Equal(t, string(models.TierPro), retrieved.PlanKey)
}

func TestSubscriptionStorage_UpsertSubscription_NewerEventWins(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStorage(t)
	defer cleanup()

	accountID := createTestAccount(t, ctx, s, "order@x.com")
	base := time.Now().UTC().Truncate(time.Second)

	sub := newTestSubscription(accountID, "sub_2", base)
	applied, err := s.UpsertSubscription(ctx, sub)
	require.NoError(t, err)
	assert.True(t, applied)

	newer := newTestSubscription(accountID, "sub_2", base.Add(time.Minute))
	newer.Status = models.SubscriptionStatusCanceled
	applied, err = s.UpsertSubscription(ctx, newer)
	require.NoError(t, err)
	assert.True(t, applied)

	retrieved, err := s.GetSubscription(ctx, "sub_2")
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusCanceled, retrieved.Status)
}

func TestSubscriptionStorage_UpsertSubscription_StaleEventIgnored(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStorage(t)
	defer cleanup()

	accountID := createTestAccount(t, ctx, s, "stale@x.com")
	base := time.Now().UTC().Truncate(time.Second)

	current := newTestSubscription(accountID, "sub_3", base)
	current.Status = models.SubscriptionStatusCanceled
	applied, err := s.UpsertSubscription(ctx, current)
	require.NoError(t, err)
	assert.True(t, applied)

	// A delayed delivery carrying older state must not resurrect the
	// subscription, and the dropped write must be reported so callers do
	// not mutate derived state
	stale := newTestSubscription(accountID, "sub_3", base.Add(-time.Minute))
	stale.Status = models.SubscriptionStatusActive
	applied, err = s.UpsertSubscription(ctx, stale)
	require.NoError(t, err)
	assert.False(t, applied)

	retrieved, err := s.GetSubscription(ctx, "sub_3")
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusCanceled, retrieved.Status)
}

func TestSubscriptionStorage_GetSubscription_NotFound(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStorage(t)
	defer cleanup()

	_, err := s.GetSubscription(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrSubscriptionNotFound)
}

func TestSubscriptionStorage_GetAccountSubscription(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStorage(t)
	defer cleanup()

	accountID := createTestAccount(t, ctx, s, "acct-sub@x.com")

	_, err := s.GetAccountSubscription(ctx, accountID)
	assert.ErrorIs(t, err, storage.ErrSubscriptionNotFound)

	sub := newTestSubscription(accountID, "sub_4", time.Now().UTC())
	_, err = s.UpsertSubscription(ctx, sub)
	require.NoError(t, err)

	retrieved, err := s.GetAccountSubscription(ctx, accountID)
	require.NoError(t, err)
	assert.Equal(t, "sub_4", retrieved.ProviderSubscriptionID)
}
