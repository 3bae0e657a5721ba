package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pathlighthq/pathlight/internal/models"
	"github.com/pathlighthq/pathlight/internal/server/storage"
)

// CreateAccount creates a new account
func (s *Storage) CreateAccount(ctx context.Context, account *models.Account) error {
	query := `
		INSERT INTO accounts (id, email, password_hash, tier, billing_customer_id, created_at, updated_at, last_login)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	var customerID sql.NullString
	if account.BillingCustomerID != "" {
		customerID = sql.NullString{String: account.BillingCustomerID, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, query,
		account.ID,
		account.Email,
		account.PasswordHash,
		account.Tier,
		customerID,
		account.CreatedAt,
		account.UpdatedAt,
		account.LastLogin,
	)

	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: accounts.email") {
			return storage.ErrAccountExists
		}
		return fmt.Errorf("failed to insert account: %w", err)
	}

	return nil
}

// GetAccountByEmail retrieves an account by email
func (s *Storage) GetAccountByEmail(ctx context.Context, email string) (*models.Account, error) {
	query := `
		SELECT id, email, password_hash, tier, billing_customer_id, created_at, updated_at, last_login
		FROM accounts
		WHERE email = ?
	`

	return s.scanAccount(s.db.QueryRowContext(ctx, query, email))
}

// GetAccountByID retrieves an account by id
func (s *Storage) GetAccountByID(ctx context.Context, accountID string) (*models.Account, error) {
	query := `
		SELECT id, email, password_hash, tier, billing_customer_id, created_at, updated_at, last_login
		FROM accounts
		WHERE id = ?
	`

	return s.scanAccount(s.db.QueryRowContext(ctx, query, accountID))
}

// UpdateTier sets the derived service tier
func (s *Storage) UpdateTier(ctx context.Context, accountID string, tier models.Tier) error {
	query := `UPDATE accounts SET tier = ?, updated_at = ? WHERE id = ?`

	result, err := s.db.ExecContext(ctx, query, tier, time.Now().UTC(), accountID)
	if err != nil {
		return fmt.Errorf("failed to update tier: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return storage.ErrAccountNotFound
	}

	return nil
}

// SetBillingCustomerID stores the provider customer reference if unset.
// A second call with a different id leaves the original in place.
func (s *Storage) SetBillingCustomerID(ctx context.Context, accountID, customerID string) error {
	query := `
		UPDATE accounts SET billing_customer_id = ?, updated_at = ?
		WHERE id = ? AND (billing_customer_id IS NULL OR billing_customer_id = '')
	`

	if _, err := s.db.ExecContext(ctx, query, customerID, time.Now().UTC(), accountID); err != nil {
		return fmt.Errorf("failed to set billing customer id: %w", err)
	}

	return nil
}

// UpdateLastLogin updates the last login timestamp
func (s *Storage) UpdateLastLogin(ctx context.Context, accountID string, lastLogin time.Time) error {
	query := `UPDATE accounts SET last_login = ? WHERE id = ?`

	if _, err := s.db.ExecContext(ctx, query, lastLogin, accountID); err != nil {
		return fmt.Errorf("failed to update last login: %w", err)
	}

	return nil
}

// scanAccount reads one account row
func (s *Storage) scanAccount(row *sql.Row) (*models.Account, error) {
	account := &models.Account{}
	var customerID sql.NullString
	var lastLogin sql.NullTime

	err := row.Scan(
		&account.ID,
		&account.Email,
		&account.PasswordHash,
		&account.Tier,
		&customerID,
		&account.CreatedAt,
		&account.UpdatedAt,
		&lastLogin,
	)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to scan account: %w", err)
	}

	if customerID.Valid {
		account.BillingCustomerID = customerID.String
	}
	if lastLogin.Valid {
		account.LastLogin = &lastLogin.Time
	}

	return account, nil
}
