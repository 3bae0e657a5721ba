package storage

import (
	"context"
	"time"

	"github.com/pathlighthq/pathlight/internal/models"
)

// AccountStorage defines the interface for account persistence
type AccountStorage interface {
	// CreateAccount creates a new account
	// Returns ErrAccountExists if the email is already taken
	CreateAccount(ctx context.Context, account *models.Account) error

	// GetAccountByEmail retrieves an account by email
	// Returns ErrAccountNotFound if it doesn't exist
	GetAccountByEmail(ctx context.Context, email string) (*models.Account, error)

	// GetAccountByID retrieves an account by id
	// Returns ErrAccountNotFound if it doesn't exist
	GetAccountByID(ctx context.Context, accountID string) (*models.Account, error)

	// UpdateTier sets the derived service tier
	// Returns ErrAccountNotFound if the account doesn't exist
	UpdateTier(ctx context.Context, accountID string, tier models.Tier) error

	// SetBillingCustomerID stores the provider customer reference, but only
	// if the account does not have one yet. Setting it twice is a no-op.
	SetBillingCustomerID(ctx context.Context, accountID, customerID string) error

	// UpdateLastLogin updates the last login timestamp
	UpdateLastLogin(ctx context.Context, accountID string, lastLogin time.Time) error
}
