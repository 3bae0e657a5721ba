package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pathlighthq/pathlight/internal/models"
	"github.com/pathlighthq/pathlight/internal/server/storage"
)

func newTestToken(accountID string, expiresAt time.Time) *models.RefreshToken {
	return &models.RefreshToken{
		ID:         uuid.New().String(),
		AccountID:  accountID,
		SecretHash: "$2a$10$secrethash",
		ExpiresAt:  expiresAt,
		CreatedAt:  time.Now().UTC(),
	}
}

func TestTokenStorage_ReplaceAccountToken(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStorage(t)
	defer cleanup()

	accountID := createTestAccount(t, ctx, s, "rotate@x.com")

	first := newTestToken(accountID, time.Now().Add(24*time.Hour))
	require.NoError(t, s.ReplaceAccountToken(ctx, first))

	second := newTestToken(accountID, time.Now().Add(24*time.Hour))
	require.NoError(t, s.ReplaceAccountToken(ctx, second))

	// Only the replacement survives
	tokens, err := s.ListActiveTokens(ctx, time.Now())
	require.NoError(t, err)
	require.Len(t, tokens, 1)
	assert.Equal(t, second.ID, tokens[0].ID)
	assert.Equal(t, accountID, tokens[0].AccountID)
}

func TestTokenStorage_ReplaceAccountToken_OtherAccountsUntouched(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStorage(t)
	defer cleanup()

	accountA := createTestAccount(t, ctx, s, "a@x.com")
	accountB := createTestAccount(t, ctx, s, "b@x.com")

	tokenA := newTestToken(accountA, time.Now().Add(24*time.Hour))
	require.NoError(t, s.ReplaceAccountToken(ctx, tokenA))

	tokenB := newTestToken(accountB, time.Now().Add(24*time.Hour))
	require.NoError(t, s.ReplaceAccountToken(ctx, tokenB))

	tokens, err := s.ListActiveTokens(ctx, time.Now())
	require.NoError(t, err)
	assert.Len(t, tokens, 2)
}

func TestTokenStorage_ListActiveTokens_SkipsExpired(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStorage(t)
	defer cleanup()

	accountA := createTestAccount(t, ctx, s, "live@x.com")
	accountB := createTestAccount(t, ctx, s, "dead@x.com")

	live := newTestToken(accountA, time.Now().Add(1*time.Hour))
	require.NoError(t, s.ReplaceAccountToken(ctx, live))

	expired := newTestToken(accountB, time.Now().Add(-1*time.Hour))
	require.NoError(t, s.ReplaceAccountToken(ctx, expired))

	tokens, err := s.ListActiveTokens(ctx, time.Now())
	require.NoError(t, err)
	require.Len(t, tokens, 1)
	assert.Equal(t, live.ID, tokens[0].ID)
}

func TestTokenStorage_DeleteToken(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStorage(t)
	defer cleanup()

	accountID := createTestAccount(t, ctx, s, "del@x.com")
	token := newTestToken(accountID, time.Now().Add(time.Hour))
	require.NoError(t, s.ReplaceAccountToken(ctx, token))

	require.NoError(t, s.DeleteToken(ctx, token.ID))

	err := s.DeleteToken(ctx, token.ID)
	assert.ErrorIs(t, err, storage.ErrTokenNotFound)
}

func TestTokenStorage_DeleteAccountTokens(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStorage(t)
	defer cleanup()

	accountID := createTestAccount(t, ctx, s, "logout@x.com")
	token := newTestToken(accountID, time.Now().Add(time.Hour))
	require.NoError(t, s.ReplaceAccountToken(ctx, token))

	count, err := s.DeleteAccountTokens(ctx, accountID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	count, err = s.DeleteAccountTokens(ctx, accountID)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestTokenStorage_DeleteExpiredTokens(t *testing.T) {
	ctx := context.Background()
	s, cleanup := setupTestStorage(t)
	defer cleanup()

	accountA := createTestAccount(t, ctx, s, "sweep-a@x.com")
	accountB := createTestAccount(t, ctx, s, "sweep-b@x.com")

	expired := newTestToken(accountA, time.Now().Add(-time.Minute))
	require.NoError(t, s.ReplaceAccountToken(ctx, expired))

	live := newTestToken(accountB, time.Now().Add(time.Hour))
	require.NoError(t, s.ReplaceAccountToken(ctx, live))

	count, err := s.DeleteExpiredTokens(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	tokens, err := s.ListActiveTokens(ctx, time.Now())
	require.NoError(t, err)
	require.Len(t, tokens, 1)
	assert.Equal(t, live.ID, tokens[0].ID)
}
