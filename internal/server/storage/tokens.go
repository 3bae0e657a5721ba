package storage

import (
	"context"
	"time"

	"github.com/pathlighthq/pathlight/internal/models"
)

// TokenStorage defines the interface for refresh token persistence
type TokenStorage interface {
	// ReplaceAccountToken deletes every refresh token the account owns and
	// inserts the new one, inside a single transaction. This is the sole
	// rotation point: after it returns, at most one live token exists for
	// the account, even under concurrent refresh calls.
	ReplaceAccountToken(ctx context.Context, token *models.RefreshToken) error

	// ListActiveTokens returns all tokens that expire after now
	ListActiveTokens(ctx context.Context, now time.Time) ([]*models.RefreshToken, error)

	// DeleteToken deletes a refresh token by row id
	// Returns ErrTokenNotFound if it doesn't exist
	DeleteToken(ctx context.Context, tokenID string) error

	// DeleteAccountTokens deletes all refresh tokens for an account
	// Returns the number of deleted tokens
	DeleteAccountTokens(ctx context.Context, accountID string) (int, error)

	// DeleteExpiredTokens removes all tokens past expiry
	// Returns the number of deleted tokens
	DeleteExpiredTokens(ctx context.Context, now time.Time) (int, error)
}
