package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/pathlighthq/pathlight/internal/models"
	"github.com/pathlighthq/pathlight/internal/server/storage"
)

// ReplaceAccountToken deletes all of the account's refresh tokens and
// inserts the new one in a single transaction. Two concurrent refresh calls
// cannot interleave the delete and insert steps, so the at-most-one-live-token
// invariant holds.
func (s *Storage) ReplaceAccountToken(ctx context.Context, token *models.RefreshToken) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE account_id = ?`, token.AccountID); err != nil {
		return fmt.Errorf("failed to delete previous tokens: %w", err)
	}

	query := `
		INSERT INTO refresh_tokens (id, account_id, secret_hash, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?)
	`

	if _, err := tx.ExecContext(ctx, query,
		token.ID,
		token.AccountID,
		token.SecretHash,
		token.ExpiresAt,
		token.CreatedAt,
	); err != nil {
		return fmt.Errorf("failed to insert refresh token: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit token rotation: %w", err)
	}

	return nil
}

// ListActiveTokens returns all tokens that expire after now
func (s *Storage) ListActiveTokens(ctx context.Context, now time.Time) ([]*models.RefreshToken, error) {
	query := `
		SELECT id, account_id, secret_hash, expires_at, created_at
		FROM refresh_tokens
		WHERE expires_at > ?
		ORDER BY created_at DESC
	`

	rows, err := s.db.QueryContext(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("failed to query active tokens: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var tokens []*models.RefreshToken

	for rows.Next() {
		token := &models.RefreshToken{}
		if err := rows.Scan(
			&token.ID,
			&token.AccountID,
			&token.SecretHash,
			&token.ExpiresAt,
			&token.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan token: %w", err)
		}
		tokens = append(tokens, token)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return tokens, nil
}

// DeleteToken deletes a refresh token by row id
func (s *Storage) DeleteToken(ctx context.Context, tokenID string) error {
	query := `DELETE FROM refresh_tokens WHERE id = ?`

	result, err := s.db.ExecContext(ctx, query, tokenID)
	if err != nil {
		return fmt.Errorf("failed to delete refresh token: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return storage.ErrTokenNotFound
	}

	return nil
}

// DeleteAccountTokens deletes all refresh tokens for an account
func (s *Storage) DeleteAccountTokens(ctx context.Context, accountID string) (int, error) {
	query := `DELETE FROM refresh_tokens WHERE account_id = ?`

	result, err := s.db.ExecContext(ctx, query, accountID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete account tokens: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return int(rows), nil
}

// DeleteExpiredTokens removes all tokens past expiry
func (s *Storage) DeleteExpiredTokens(ctx context.Context, now time.Time) (int, error) {
	query := `DELETE FROM refresh_tokens WHERE expires_at <= ?`

	result, err := s.db.ExecContext(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired tokens: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return int(rows), nil
}
