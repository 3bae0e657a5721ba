package billing

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pathlighthq/pathlight/internal/apperrors"
	"github.com/pathlighthq/pathlight/internal/config"
	"github.com/pathlighthq/pathlight/internal/models"
	"github.com/pathlighthq/pathlight/internal/server/storage"
)

// mockGateway is a configurable Gateway for testing
type mockGateway struct {
	subscription    *SubscriptionDetail
	retrieveErr     error
	panicOnRetrieve bool
	retrieveCalls   int
}

func (m *mockGateway) CreateCustomer(ctx context.Context, email, accountID, name string) (string, error) {
	return "cus_mock", nil
}

func (m *mockGateway) CreateCheckoutSession(ctx context.Context, customerID, priceID, accountID string) (*CheckoutSession, error) {
	return &CheckoutSession{ID: "cs_mock", URL: "https://pay.example/cs_mock"}, nil
}

func (m *mockGateway) CreatePortalSession(ctx context.Context, customerID string) (*PortalSession, error) {
	return &PortalSession{URL: "https://pay.example/portal"}, nil
}

func (m *mockGateway) RetrieveSubscription(ctx context.Context, subscriptionID string) (*SubscriptionDetail, error) {
	m.retrieveCalls++
	if m.panicOnRetrieve {
		panic("gateway exploded")
	}
	if m.retrieveErr != nil {
		return nil, m.retrieveErr
	}
	return m.subscription, nil
}

func (m *mockGateway) VerifyWebhookSignature(payload []byte, signatureHeader string) (*Event, error) {
	return parseEvent(payload)
}

// mockAccounts is an in-memory AccountStorage
type mockAccounts struct {
	accounts map[string]*models.Account
}

func newMockAccounts(ids ...string) *mockAccounts {
	m := &mockAccounts{accounts: make(map[string]*models.Account)}
	for _, id := range ids {
		m.accounts[id] = &models.Account{ID: id, Tier: models.TierExplorer}
	}
	return m
}

func (m *mockAccounts) CreateAccount(ctx context.Context, account *models.Account) error {
	m.accounts[account.ID] = account
	return nil
}

func (m *mockAccounts) GetAccountByEmail(ctx context.Context, email string) (*models.Account, error) {
	for _, a := range m.accounts {
		if a.Email == email {
			return a, nil
		}
	}
	return nil, storage.ErrAccountNotFound
}

func (m *mockAccounts) GetAccountByID(ctx context.Context, accountID string) (*models.Account, error) {
	a, ok := m.accounts[accountID]
	if !ok {
		return nil, storage.ErrAccountNotFound
	}
	return a, nil
}

func (m *mockAccounts) UpdateTier(ctx context.Context, accountID string, tier models.Tier) error {
	a, ok := m.accounts[accountID]
	if !ok {
		return storage.ErrAccountNotFound
	}
	a.Tier = tier
	return nil
}

func (m *mockAccounts) SetBillingCustomerID(ctx context.Context, accountID, customerID string) error {
	a, ok := m.accounts[accountID]
	if !ok {
		return storage.ErrAccountNotFound
	}
	if a.BillingCustomerID == "" {
		a.BillingCustomerID = customerID
	}
	return nil
}

func (m *mockAccounts) UpdateLastLogin(ctx context.Context, accountID string, lastLogin time.Time) error {
	return nil
}

// mockSubs mirrors the sqlite upsert semantics including the stale-event guard
type mockSubs struct {
	subs map[string]*models.Subscription
}

func newMockSubs() *mockSubs {
	return &mockSubs{subs: make(map[string]*models.Subscription)}
}

func (m *mockSubs) UpsertSubscription(ctx context.Context, sub *models.Subscription) (bool, error) {
	existing, ok := m.subs[sub.ProviderSubscriptionID]
	if ok && existing.LastEventAt.After(sub.LastEventAt) {
		return false, nil // stale event
	}
	copied := *sub
	m.subs[sub.ProviderSubscriptionID] = &copied
	return true, nil
}

func (m *mockSubs) GetSubscription(ctx context.Context, providerSubscriptionID string) (*models.Subscription, error) {
	sub, ok := m.subs[providerSubscriptionID]
	if !ok {
		return nil, storage.ErrSubscriptionNotFound
	}
	copied := *sub
	return &copied, nil
}

func (m *mockSubs) GetAccountSubscription(ctx context.Context, accountID string) (*models.Subscription, error) {
	for _, sub := range m.subs {
		if sub.AccountID == accountID {
			copied := *sub
			return &copied, nil
		}
	}
	return nil, storage.ErrSubscriptionNotFound
}

// mockJournal collects entries in memory
type mockJournal struct {
	entries []*JournalEntry
}

func (m *mockJournal) Record(ctx context.Context, entry *JournalEntry) error {
	m.entries = append(m.entries, entry)
	return nil
}

func (m *mockJournal) lastOutcome() string {
	if len(m.entries) == 0 {
		return ""
	}
	return m.entries[len(m.entries)-1].Outcome
}

func testBillingConfig() config.BillingConfig {
	return config.BillingConfig{
		SecretKey:     "sk_test_123",
		WebhookSecret: testWebhookSecret,
		AppURL:        "http://localhost:3000",
		PlanPrices: map[string]string{
			string(models.TierPro):     "price_pro",
			string(models.TierPremium): "price_premium",
		},
	}
}

type reconcilerFixture struct {
	reconciler *Reconciler
	gateway    *mockGateway
	accounts   *mockAccounts
	subs       *mockSubs
	journal    *mockJournal
}

func setupReconciler(t *testing.T, accountIDs ...string) *reconcilerFixture {
	t.Helper()

	f := &reconcilerFixture{
		gateway: &mockGateway{
			subscription: &SubscriptionDetail{
				ID:      "sub_1",
				Status:  models.SubscriptionStatusActive,
				PriceID: "price_pro",
			},
		},
		accounts: newMockAccounts(accountIDs...),
		subs:     newMockSubs(),
		journal:  &mockJournal{},
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.reconciler = NewReconciler(logger, f.gateway, f.accounts, f.subs, f.journal, testBillingConfig())

	return f
}

func checkoutEvent(accountID, subscriptionID string) *Event {
	return &Event{
		ID:      "evt_checkout",
		Type:    EventCheckoutCompleted,
		Created: time.Now().UTC(),
		Data: EventData{
			SubscriptionID: subscriptionID,
			CustomerID:     "cus_1",
			AccountID:      accountID,
		},
	}
}

func subscriptionEvent(eventType EventType, subscriptionID string, status models.SubscriptionStatus) *Event {
	return &Event{
		ID:      "evt_sub",
		Type:    eventType,
		Created: time.Now().UTC(),
		Data: EventData{
			SubscriptionID: subscriptionID,
			Status:         status,
		},
	}
}

func TestReconciler_CheckoutCompleted(t *testing.T) {
	f := setupReconciler(t, "acct-1")
	ctx := context.Background()

	err := f.reconciler.HandleEvent(ctx, checkoutEvent("acct-1", "sub_1"))
	require.NoError(t, err)

	account := f.accounts.accounts["acct-1"]
	assert.Equal(t, models.TierPro, account.Tier)
	assert.Equal(t, "cus_1", account.BillingCustomerID)

	sub, err := f.subs.GetSubscription(ctx, "sub_1")
	require.NoError(t, err)
	assert.Equal(t, "acct-1", sub.AccountID)
	assert.Equal(t, models.SubscriptionStatusActive, sub.Status)
	assert.Equal(t, string(models.TierPro), sub.PlanKey)

	assert.Equal(t, OutcomeApplied, f.journal.lastOutcome())
}

func TestReconciler_CheckoutCompleted_Idempotent(t *testing.T) {
	f := setupReconciler(t, "acct-1")
	ctx := context.Background()

	event := checkoutEvent("acct-1", "sub_1")
	require.NoError(t, f.reconciler.HandleEvent(ctx, event))

	// Redelivering the identical event converges to the same state
	require.NoError(t, f.reconciler.HandleEvent(ctx, event))

	assert.Len(t, f.subs.subs, 1)
	assert.Equal(t, models.TierPro, f.accounts.accounts["acct-1"].Tier)
}

func TestReconciler_CheckoutCompleted_MissingAccountID(t *testing.T) {
	f := setupReconciler(t, "acct-1")
	ctx := context.Background()

	err := f.reconciler.HandleEvent(ctx, checkoutEvent("", "sub_1"))
	assert.ErrorIs(t, err, apperrors.ErrReconcileSkipped)

	// Nothing changed
	assert.Equal(t, models.TierExplorer, f.accounts.accounts["acct-1"].Tier)
	assert.Empty(t, f.subs.subs)
	assert.Equal(t, OutcomeSkipped, f.journal.lastOutcome())
	assert.Zero(t, f.gateway.retrieveCalls)
}

func TestReconciler_CheckoutCompleted_UnknownPrice(t *testing.T) {
	f := setupReconciler(t, "acct-1")
	f.gateway.subscription.PriceID = "price_unknown"
	ctx := context.Background()

	err := f.reconciler.HandleEvent(ctx, checkoutEvent("acct-1", "sub_1"))
	assert.ErrorIs(t, err, apperrors.ErrReconcileSkipped)

	assert.Equal(t, models.TierExplorer, f.accounts.accounts["acct-1"].Tier)
	assert.Empty(t, f.subs.subs)
	assert.Equal(t, OutcomeSkipped, f.journal.lastOutcome())
}

func TestReconciler_CheckoutCompleted_GatewayFailure(t *testing.T) {
	f := setupReconciler(t, "acct-1")
	f.gateway.retrieveErr = apperrors.External("retrieve_subscription", errors.New("timeout"), true)
	ctx := context.Background()

	err := f.reconciler.HandleEvent(ctx, checkoutEvent("acct-1", "sub_1"))
	require.Error(t, err)

	// A retryable provider failure never moves the tier
	assert.Equal(t, models.TierExplorer, f.accounts.accounts["acct-1"].Tier)
	assert.Empty(t, f.subs.subs)
	assert.Equal(t, OutcomeFailed, f.journal.lastOutcome())
}

func TestReconciler_SubscriptionUpdated_Delinquent(t *testing.T) {
	f := setupReconciler(t, "acct-1")
	ctx := context.Background()

	require.NoError(t, f.reconciler.HandleEvent(ctx, checkoutEvent("acct-1", "sub_1")))
	require.Equal(t, models.TierPro, f.accounts.accounts["acct-1"].Tier)

	for _, status := range []models.SubscriptionStatus{
		models.SubscriptionStatusPastDue,
		models.SubscriptionStatusCanceled,
		models.SubscriptionStatusUnpaid,
	} {
		t.Run(string(status), func(t *testing.T) {
			// Restore the paid tier, then deliver the delinquent status
			require.NoError(t, f.accounts.UpdateTier(ctx, "acct-1", models.TierPro))

			event := subscriptionEvent(EventSubscriptionUpdated, "sub_1", status)
			event.Created = time.Now().UTC().Add(time.Minute)
			require.NoError(t, f.reconciler.HandleEvent(ctx, event))

			assert.Equal(t, models.TierExplorer, f.accounts.accounts["acct-1"].Tier)

			sub, err := f.subs.GetSubscription(ctx, "sub_1")
			require.NoError(t, err)
			assert.Equal(t, status, sub.Status)
		})
	}
}

func TestReconciler_SubscriptionUpdated_ActiveKeepsTier(t *testing.T) {
	f := setupReconciler(t, "acct-1")
	ctx := context.Background()

	require.NoError(t, f.reconciler.HandleEvent(ctx, checkoutEvent("acct-1", "sub_1")))

	event := subscriptionEvent(EventSubscriptionUpdated, "sub_1", models.SubscriptionStatusActive)
	event.Created = time.Now().UTC().Add(time.Minute)
	require.NoError(t, f.reconciler.HandleEvent(ctx, event))

	assert.Equal(t, models.TierPro, f.accounts.accounts["acct-1"].Tier)
}

func TestReconciler_SubscriptionUpdated_UnknownSubscription(t *testing.T) {
	f := setupReconciler(t, "acct-1")
	ctx := context.Background()

	err := f.reconciler.HandleEvent(ctx,
		subscriptionEvent(EventSubscriptionUpdated, "sub_never_seen", models.SubscriptionStatusPastDue))

	assert.ErrorIs(t, err, apperrors.ErrReconcileSkipped)
	assert.Equal(t, models.TierExplorer, f.accounts.accounts["acct-1"].Tier)
}

func TestReconciler_SubscriptionDeleted(t *testing.T) {
	f := setupReconciler(t, "acct-1")
	ctx := context.Background()

	require.NoError(t, f.reconciler.HandleEvent(ctx, checkoutEvent("acct-1", "sub_1")))
	require.Equal(t, models.TierPro, f.accounts.accounts["acct-1"].Tier)

	event := subscriptionEvent(EventSubscriptionDeleted, "sub_1", models.SubscriptionStatusCanceled)
	event.Created = time.Now().UTC().Add(time.Minute)
	require.NoError(t, f.reconciler.HandleEvent(ctx, event))

	assert.Equal(t, models.TierExplorer, f.accounts.accounts["acct-1"].Tier)

	sub, err := f.subs.GetSubscription(ctx, "sub_1")
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusCanceled, sub.Status)
}

func TestReconciler_PaymentFailed_NoTierChange(t *testing.T) {
	f := setupReconciler(t, "acct-1")
	ctx := context.Background()

	require.NoError(t, f.reconciler.HandleEvent(ctx, checkoutEvent("acct-1", "sub_1")))

	event := subscriptionEvent(EventPaymentFailed, "sub_1", "")
	require.NoError(t, f.reconciler.HandleEvent(ctx, event))

	assert.Equal(t, models.TierPro, f.accounts.accounts["acct-1"].Tier)
	assert.Equal(t, OutcomeApplied, f.journal.lastOutcome())
}

func TestReconciler_UnknownEventType_Ignored(t *testing.T) {
	f := setupReconciler(t, "acct-1")
	ctx := context.Background()

	event := &Event{
		ID:      "evt_x",
		Type:    EventType("customer.created"),
		Created: time.Now().UTC(),
	}
	require.NoError(t, f.reconciler.HandleEvent(ctx, event))

	assert.Equal(t, OutcomeIgnored, f.journal.lastOutcome())
}

func TestReconciler_HandlerPanic_Contained(t *testing.T) {
	f := setupReconciler(t, "acct-1")
	f.gateway.panicOnRetrieve = true
	ctx := context.Background()

	var err error
	require.NotPanics(t, func() {
		err = f.reconciler.HandleEvent(ctx, checkoutEvent("acct-1", "sub_1"))
	})

	require.Error(t, err)
	assert.Equal(t, OutcomeFailed, f.journal.lastOutcome())
	assert.Equal(t, models.TierExplorer, f.accounts.accounts["acct-1"].Tier)
}

func TestReconciler_StaleEventDoesNotOverwrite(t *testing.T) {
	f := setupReconciler(t, "acct-1")
	ctx := context.Background()

	current := checkoutEvent("acct-1", "sub_1")
	current.Created = time.Now().UTC()
	require.NoError(t, f.reconciler.HandleEvent(ctx, current))

	// A delayed delivery with an older timestamp must not resurrect old state
	stale := subscriptionEvent(EventSubscriptionUpdated, "sub_1", models.SubscriptionStatusTrialing)
	stale.Created = current.Created.Add(-time.Hour)
	err := f.reconciler.HandleEvent(ctx, stale)
	assert.ErrorIs(t, err, apperrors.ErrReconcileSkipped)

	sub, err := f.subs.GetSubscription(ctx, "sub_1")
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusActive, sub.Status)
	assert.Equal(t, OutcomeSkipped, f.journal.lastOutcome())
}

func TestReconciler_StaleDelinquentEventKeepsTier(t *testing.T) {
	f := setupReconciler(t, "acct-1")
	ctx := context.Background()

	current := checkoutEvent("acct-1", "sub_1")
	current.Created = time.Now().UTC()
	require.NoError(t, f.reconciler.HandleEvent(ctx, current))
	require.Equal(t, models.TierPro, f.accounts.accounts["acct-1"].Tier)

	// A delayed past_due older than the applied state must not downgrade:
	// the row stays in lockstep with the tier, both or neither
	stale := subscriptionEvent(EventSubscriptionUpdated, "sub_1", models.SubscriptionStatusPastDue)
	stale.Created = current.Created.Add(-time.Hour)
	err := f.reconciler.HandleEvent(ctx, stale)
	assert.ErrorIs(t, err, apperrors.ErrReconcileSkipped)

	assert.Equal(t, models.TierPro, f.accounts.accounts["acct-1"].Tier)

	sub, err := f.subs.GetSubscription(ctx, "sub_1")
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusActive, sub.Status)
}

func TestReconciler_StaleCheckoutAfterDeletionKeepsDowngrade(t *testing.T) {
	f := setupReconciler(t, "acct-1")
	ctx := context.Background()

	checkout := checkoutEvent("acct-1", "sub_1")
	checkout.Created = time.Now().UTC()
	require.NoError(t, f.reconciler.HandleEvent(ctx, checkout))

	deleted := subscriptionEvent(EventSubscriptionDeleted, "sub_1", models.SubscriptionStatusCanceled)
	deleted.Created = checkout.Created.Add(time.Hour)
	require.NoError(t, f.reconciler.HandleEvent(ctx, deleted))
	require.Equal(t, models.TierExplorer, f.accounts.accounts["acct-1"].Tier)

	// An at-least-once redelivery of the original checkout must not
	// re-grant paid access after cancellation
	err := f.reconciler.HandleEvent(ctx, checkout)
	assert.ErrorIs(t, err, apperrors.ErrReconcileSkipped)

	assert.Equal(t, models.TierExplorer, f.accounts.accounts["acct-1"].Tier)

	sub, err := f.subs.GetSubscription(ctx, "sub_1")
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusCanceled, sub.Status)
}

func TestReconciler_ManualReconcile(t *testing.T) {
	f := setupReconciler(t, "acct-1")
	ctx := context.Background()

	require.NoError(t, f.reconciler.HandleEvent(ctx, checkoutEvent("acct-1", "sub_1")))

	// Provider now says the subscription moved to premium
	f.gateway.subscription = &SubscriptionDetail{
		ID:      "sub_1",
		Status:  models.SubscriptionStatusActive,
		PriceID: "price_premium",
	}

	sub, err := f.reconciler.ReconcileSubscription(ctx, "sub_1")
	require.NoError(t, err)
	assert.Equal(t, string(models.TierPremium), sub.PlanKey)
	assert.Equal(t, models.TierPremium, f.accounts.accounts["acct-1"].Tier)
}

func TestReconciler_ManualReconcile_Delinquent(t *testing.T) {
	f := setupReconciler(t, "acct-1")
	ctx := context.Background()

	require.NoError(t, f.reconciler.HandleEvent(ctx, checkoutEvent("acct-1", "sub_1")))
	require.Equal(t, models.TierPro, f.accounts.accounts["acct-1"].Tier)

	f.gateway.subscription = &SubscriptionDetail{
		ID:      "sub_1",
		Status:  models.SubscriptionStatusUnpaid,
		PriceID: "price_pro",
	}

	_, err := f.reconciler.ReconcileSubscription(ctx, "sub_1")
	require.NoError(t, err)
	assert.Equal(t, models.TierExplorer, f.accounts.accounts["acct-1"].Tier)
}

func TestReconciler_ManualReconcile_UnknownSubscription(t *testing.T) {
	f := setupReconciler(t, "acct-1")

	_, err := f.reconciler.ReconcileSubscription(context.Background(), "sub_missing")
	assert.ErrorIs(t, err, storage.ErrSubscriptionNotFound)
}
