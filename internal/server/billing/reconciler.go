package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pathlighthq/pathlight/internal/apperrors"
	"github.com/pathlighthq/pathlight/internal/config"
	"github.com/pathlighthq/pathlight/internal/models"
	"github.com/pathlighthq/pathlight/internal/server/storage"
)

// Journal entry outcomes
const (
	OutcomeApplied = "applied"
	OutcomeSkipped = "skipped"
	OutcomeFailed  = "failed"
	OutcomeIgnored = "ignored"
)

// JournalEntry records what happened to one webhook delivery
type JournalEntry struct {
	EventID        string    `json:"event_id"`
	EventType      string    `json:"event_type"`
	SubscriptionID string    `json:"subscription_id,omitempty"`
	Outcome        string    `json:"outcome"`
	Detail         string    `json:"detail,omitempty"`
	At             time.Time `json:"at"`
}

// EventJournal persists per-event outcomes for observability and manual
// reconciliation. Journal failures are logged, never propagated.
type EventJournal interface {
	Record(ctx context.Context, entry *JournalEntry) error
}

// Reconciler maps provider webhook events onto the local subscription mirror
// and the derived account tier.
//
// Events for different subscription ids run fully in parallel; events for
// the same id are serialized on a per-key lock so concurrent upserts cannot
// interleave. Each event runs inside its own recover, so one bad event never
// blocks the dispatch loop.
type Reconciler struct {
	logger   *slog.Logger
	gateway  Gateway
	accounts storage.AccountStorage
	subs     storage.SubscriptionStorage
	journal  EventJournal
	billing  config.BillingConfig

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewReconciler creates a reconciler.
func NewReconciler(
	logger *slog.Logger,
	gateway Gateway,
	accounts storage.AccountStorage,
	subs storage.SubscriptionStorage,
	journal EventJournal,
	billing config.BillingConfig,
) *Reconciler {
	return &Reconciler{
		logger:   logger,
		gateway:  gateway,
		accounts: accounts,
		subs:     subs,
		journal:  journal,
		billing:  billing,
		locks:    make(map[string]*sync.Mutex),
	}
}

// HandleEvent applies one verified webhook event.
//
// The returned error is for observability only: the webhook endpoint
// acknowledges the delivery once the signature check passed, so the
// provider's retry budget is never consumed by internal failures.
func (r *Reconciler) HandleEvent(ctx context.Context, event *Event) (err error) {
	unlock := r.lockKey(event.Data.SubscriptionID)
	defer unlock()

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("event handler panicked: %v", rec)
			r.logger.ErrorContext(ctx, "webhook handler panic",
				"event_id", event.ID, "event_type", event.Type, "panic", rec)
			r.record(ctx, event, OutcomeFailed, err.Error())
		}
	}()

	switch event.Type {
	case EventCheckoutCompleted:
		err = r.handleCheckoutCompleted(ctx, event)
	case EventSubscriptionUpdated:
		err = r.handleSubscriptionUpdated(ctx, event)
	case EventSubscriptionDeleted:
		err = r.handleSubscriptionDeleted(ctx, event)
	case EventPaymentFailed:
		err = r.handlePaymentFailed(ctx, event)
	default:
		r.logger.DebugContext(ctx, "ignoring webhook event",
			"event_id", event.ID, "event_type", event.Type)
		r.record(ctx, event, OutcomeIgnored, "")
		return nil
	}

	switch {
	case err == nil:
		r.record(ctx, event, OutcomeApplied, "")
	case errors.Is(err, apperrors.ErrReconcileSkipped):
		r.logger.WarnContext(ctx, "webhook event skipped",
			"event_id", event.ID, "event_type", event.Type, "reason", err)
		r.record(ctx, event, OutcomeSkipped, err.Error())
	default:
		r.logger.ErrorContext(ctx, "webhook event failed",
			"event_id", event.ID, "event_type", event.Type, "error", err)
		r.record(ctx, event, OutcomeFailed, err.Error())
	}

	return err
}

// handleCheckoutCompleted associates a fresh subscription with an account
// and grants the purchased tier.
func (r *Reconciler) handleCheckoutCompleted(ctx context.Context, event *Event) error {
	accountID := event.Data.AccountID
	if accountID == "" {
		// Association is unrecoverable from this event alone
		return fmt.Errorf("%w: checkout event carries no account id", apperrors.ErrReconcileSkipped)
	}
	if event.Data.SubscriptionID == "" {
		return fmt.Errorf("%w: checkout event carries no subscription id", apperrors.ErrReconcileSkipped)
	}

	detail, err := r.gateway.RetrieveSubscription(ctx, event.Data.SubscriptionID)
	if err != nil {
		return fmt.Errorf("failed to retrieve subscription: %w", err)
	}

	tier, ok := r.billing.TierForPrice(detail.PriceID)
	if !ok {
		return fmt.Errorf("%w: no plan mapped to price %q", apperrors.ErrReconcileSkipped, detail.PriceID)
	}

	now := time.Now().UTC()
	sub := &models.Subscription{
		ProviderSubscriptionID: event.Data.SubscriptionID,
		AccountID:              accountID,
		PlanKey:                string(tier),
		Status:                 detail.Status,
		LastEventAt:            event.Created,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	applied, err := r.subs.UpsertSubscription(ctx, sub)
	if err != nil {
		return fmt.Errorf("failed to upsert subscription: %w", err)
	}
	if !applied {
		// A newer event already reconciled this subscription. Granting the
		// tier anyway would let a redelivered checkout resurrect paid access
		// after cancellation.
		return fmt.Errorf("%w: event %q is older than applied state", apperrors.ErrReconcileSkipped, event.ID)
	}

	if err := r.accounts.UpdateTier(ctx, accountID, tier); err != nil {
		return fmt.Errorf("failed to update tier: %w", err)
	}

	if event.Data.CustomerID != "" {
		if err := r.accounts.SetBillingCustomerID(ctx, accountID, event.Data.CustomerID); err != nil {
			return fmt.Errorf("failed to set billing customer: %w", err)
		}
	}

	r.logger.InfoContext(ctx, "checkout reconciled",
		"account_id", accountID,
		"subscription_id", event.Data.SubscriptionID,
		"tier", tier,
	)

	return nil
}

// handleSubscriptionUpdated mirrors the new status. A delinquent status
// revokes access eagerly; upgrades only ever happen through checkout.
func (r *Reconciler) handleSubscriptionUpdated(ctx context.Context, event *Event) error {
	sub, err := r.lookupSubscription(ctx, event)
	if err != nil {
		return err
	}

	sub.Status = event.Data.Status
	sub.LastEventAt = event.Created
	sub.UpdatedAt = time.Now().UTC()
	applied, err := r.subs.UpsertSubscription(ctx, sub)
	if err != nil {
		return fmt.Errorf("failed to upsert subscription: %w", err)
	}
	if !applied {
		// Tier and row move together: a stale delinquent status must not
		// downgrade an account whose subscription is already newer.
		return fmt.Errorf("%w: event %q is older than applied state", apperrors.ErrReconcileSkipped, event.ID)
	}

	if event.Data.Status.Delinquent() {
		if err := r.accounts.UpdateTier(ctx, sub.AccountID, models.TierExplorer); err != nil {
			return fmt.Errorf("failed to downgrade tier: %w", err)
		}
		r.logger.InfoContext(ctx, "account downgraded",
			"account_id", sub.AccountID,
			"subscription_id", sub.ProviderSubscriptionID,
			"status", event.Data.Status,
		)
	}

	return nil
}

// handleSubscriptionDeleted marks the mirror canceled and always downgrades.
func (r *Reconciler) handleSubscriptionDeleted(ctx context.Context, event *Event) error {
	sub, err := r.lookupSubscription(ctx, event)
	if err != nil {
		return err
	}

	sub.Status = models.SubscriptionStatusCanceled
	sub.LastEventAt = event.Created
	sub.UpdatedAt = time.Now().UTC()
	applied, err := r.subs.UpsertSubscription(ctx, sub)
	if err != nil {
		return fmt.Errorf("failed to upsert subscription: %w", err)
	}
	if !applied {
		return fmt.Errorf("%w: event %q is older than applied state", apperrors.ErrReconcileSkipped, event.ID)
	}

	if err := r.accounts.UpdateTier(ctx, sub.AccountID, models.TierExplorer); err != nil {
		return fmt.Errorf("failed to downgrade tier: %w", err)
	}

	r.logger.InfoContext(ctx, "subscription deleted, account downgraded",
		"account_id", sub.AccountID,
		"subscription_id", sub.ProviderSubscriptionID,
	)

	return nil
}

// handlePaymentFailed records the failure and changes nothing. The provider's
// dunning cadence emits SubscriptionUpdated/Deleted if the failure persists.
func (r *Reconciler) handlePaymentFailed(ctx context.Context, event *Event) error {
	r.logger.WarnContext(ctx, "payment failed",
		"event_id", event.ID,
		"subscription_id", event.Data.SubscriptionID,
	)
	return nil
}

// ReconcileSubscription re-syncs one subscription directly from the provider.
// Backs the manual admin path for events lost to per-event failure isolation.
func (r *Reconciler) ReconcileSubscription(ctx context.Context, subscriptionID string) (*models.Subscription, error) {
	unlock := r.lockKey(subscriptionID)
	defer unlock()

	sub, err := r.subs.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("no local subscription to reconcile: %w", err)
	}

	detail, err := r.gateway.RetrieveSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve subscription: %w", err)
	}

	now := time.Now().UTC()
	sub.Status = detail.Status
	sub.LastEventAt = now
	sub.UpdatedAt = now

	tier := models.TierExplorer
	if !detail.Status.Delinquent() {
		mapped, ok := r.billing.TierForPrice(detail.PriceID)
		if !ok {
			return nil, fmt.Errorf("%w: no plan mapped to price %q", apperrors.ErrReconcileSkipped, detail.PriceID)
		}
		tier = mapped
		sub.PlanKey = string(mapped)
	}

	applied, err := r.subs.UpsertSubscription(ctx, sub)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert subscription: %w", err)
	}
	if !applied {
		return nil, fmt.Errorf("%w: applied state is newer than this reconciliation", apperrors.ErrReconcileSkipped)
	}
	if err := r.accounts.UpdateTier(ctx, sub.AccountID, tier); err != nil {
		return nil, fmt.Errorf("failed to update tier: %w", err)
	}

	r.logger.InfoContext(ctx, "subscription reconciled manually",
		"account_id", sub.AccountID,
		"subscription_id", subscriptionID,
		"status", sub.Status,
		"tier", tier,
	)

	return sub, nil
}

// lookupSubscription finds the mirror row an event refers to. Events for
// subscriptions we never associated are skipped, not failed.
func (r *Reconciler) lookupSubscription(ctx context.Context, event *Event) (*models.Subscription, error) {
	if event.Data.SubscriptionID == "" {
		return nil, fmt.Errorf("%w: event carries no subscription id", apperrors.ErrReconcileSkipped)
	}

	sub, err := r.subs.GetSubscription(ctx, event.Data.SubscriptionID)
	if err == nil {
		return sub, nil
	}
	if !errors.Is(err, storage.ErrSubscriptionNotFound) {
		return nil, fmt.Errorf("failed to load subscription: %w", err)
	}

	// No mirror row yet. The subscription metadata may still identify the
	// account when checkout completion was lost.
	if event.Data.AccountID == "" {
		return nil, fmt.Errorf("%w: unknown subscription %q", apperrors.ErrReconcileSkipped, event.Data.SubscriptionID)
	}

	now := time.Now().UTC()
	return &models.Subscription{
		ProviderSubscriptionID: event.Data.SubscriptionID,
		AccountID:              event.Data.AccountID,
		Status:                 event.Data.Status,
		LastEventAt:            event.Created,
		CreatedAt:              now,
		UpdatedAt:              now,
	}, nil
}

// record journals the outcome; journal faults are logged and swallowed
func (r *Reconciler) record(ctx context.Context, event *Event, outcome, detail string) {
	entry := &JournalEntry{
		EventID:        event.ID,
		EventType:      string(event.Type),
		SubscriptionID: event.Data.SubscriptionID,
		Outcome:        outcome,
		Detail:         detail,
		At:             time.Now().UTC(),
	}
	if err := r.journal.Record(ctx, entry); err != nil {
		r.logger.ErrorContext(ctx, "failed to journal webhook event",
			"event_id", event.ID, "error", err)
	}
}

// lockKey serializes work per subscription id. Locks are never freed; the
// map is bounded by the number of distinct subscriptions seen per process.
func (r *Reconciler) lockKey(key string) func() {
	if key == "" {
		return func() {}
	}

	r.mu.Lock()
	lock, ok := r.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[key] = lock
	}
	r.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}
