// Package token implements the access/refresh credential lifecycle.
//
// Access tokens are short-lived signed JWTs verified statelessly on every
// request. Refresh secrets are independent high-entropy random values,
// stored only as bcrypt hashes and rotated on every use: redeeming a secret
// invalidates it, so the replay window is exactly one use.
package token

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/pathlighthq/pathlight/internal/apperrors"
	"github.com/pathlighthq/pathlight/internal/models"
	"github.com/pathlighthq/pathlight/internal/server/storage"
)

const (
	// issuer identifies tokens minted by this service
	issuer = "pathlight"

	// refreshSecretBytes is the entropy of a refresh secret (256 bits)
	refreshSecretBytes = 32
)

// Claims represents the JWT claims carried by an access token
type Claims struct {
	AccountID string      `json:"account_id"`
	Email     string      `json:"email"`
	Tier      models.Tier `json:"tier"`
	jwt.RegisteredClaims
}

// Config holds token lifecycle configuration
type Config struct {
	Secret          []byte
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

// Service issues and verifies access and refresh credentials
type Service struct {
	logger *slog.Logger
	tokens storage.TokenStorage
	cfg    Config
}

// NewService creates a new token service
func NewService(logger *slog.Logger, tokens storage.TokenStorage, cfg Config) *Service {
	return &Service{
		logger: logger,
		tokens: tokens,
		cfg:    cfg,
	}
}

// IssueAccessToken creates a signed JWT access token embedding the account
// identity and tier. Returns the token and its TTL in seconds.
func (s *Service) IssueAccessToken(accountID, email string, tier models.Tier) (string, int64, error) {
	now := time.Now()
	claims := Claims{
		AccountID: accountID,
		Email:     email,
		Tier:      tier,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.AccessTokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.cfg.Secret)
	if err != nil {
		return "", 0, fmt.Errorf("failed to sign token: %w", err)
	}

	return tokenString, int64(s.cfg.AccessTokenTTL.Seconds()), nil
}

// VerifyAccessToken validates and parses a JWT access token.
// Malformed, mis-signed and expired tokens all fail with ErrAuthentication;
// the caller never learns which.
func (s *Service) VerifyAccessToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.cfg.Secret, nil
	})

	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrAuthentication, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, apperrors.ErrAuthentication
	}

	return claims, nil
}

// IssueRefreshSecret creates a new random refresh secret.
// The secret is independent of the signing key.
func (s *Service) IssueRefreshSecret() (string, time.Time, error) {
	secretBytes := make([]byte, refreshSecretBytes)
	if _, err := rand.Read(secretBytes); err != nil {
		return "", time.Time{}, fmt.Errorf("failed to generate refresh secret: %w", err)
	}

	secret := base64.RawURLEncoding.EncodeToString(secretBytes)
	expiresAt := time.Now().Add(s.cfg.RefreshTokenTTL)

	return secret, expiresAt, nil
}

// StoreRefreshToken hashes the secret and persists it, replacing every prior
// refresh token the account owns. The replacement is atomic in storage, so
// concurrent refresh calls cannot leave two live tokens behind.
func (s *Service) StoreRefreshToken(ctx context.Context, accountID, secret string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash refresh secret: %w", err)
	}

	token := &models.RefreshToken{
		ID:         uuid.New().String(),
		AccountID:  accountID,
		SecretHash: string(hash),
		ExpiresAt:  time.Now().Add(s.cfg.RefreshTokenTTL),
		CreatedAt:  time.Now(),
	}

	if err := s.tokens.ReplaceAccountToken(ctx, token); err != nil {
		return fmt.Errorf("failed to store refresh token: %w", err)
	}

	return nil
}

// VerifyRefreshToken finds the account owning the secret.
// Secrets are stored hashed with no lookup key, so this scans the live rows
// and compares each hash; bcrypt's compare is constant time per candidate.
// The O(n) cost is a deliberate secrecy/lookup-speed tradeoff and n is
// bounded by the one-live-token-per-account invariant.
func (s *Service) VerifyRefreshToken(ctx context.Context, secret string) (string, error) {
	match, err := s.findToken(ctx, secret)
	if err != nil {
		return "", err
	}

	return match.AccountID, nil
}

// InvalidateRefreshToken deletes the stored token matching the secret.
func (s *Service) InvalidateRefreshToken(ctx context.Context, secret string) error {
	match, err := s.findToken(ctx, secret)
	if err != nil {
		return err
	}

	if err := s.tokens.DeleteToken(ctx, match.ID); err != nil {
		if errors.Is(err, storage.ErrTokenNotFound) {
			// Deleted concurrently, the secret is gone either way
			return nil
		}
		return fmt.Errorf("failed to delete refresh token: %w", err)
	}

	return nil
}

// InvalidateAccountTokens deletes every refresh token the account owns.
func (s *Service) InvalidateAccountTokens(ctx context.Context, accountID string) (int, error) {
	count, err := s.tokens.DeleteAccountTokens(ctx, accountID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete account tokens: %w", err)
	}
	return count, nil
}

// CleanupExpiredTokens deletes all tokens past expiry.
// Runs on a fixed schedule independent of traffic; it only ever touches rows
// already expired, so it is safe concurrently with every other operation.
func (s *Service) CleanupExpiredTokens(ctx context.Context) (int, error) {
	count, err := s.tokens.DeleteExpiredTokens(ctx, time.Now())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired tokens: %w", err)
	}

	if count > 0 {
		s.logger.InfoContext(ctx, "expired refresh tokens swept", slog.Int("count", count))
	}

	return count, nil
}

// findToken scans non-expired rows for the one matching the secret
func (s *Service) findToken(ctx context.Context, secret string) (*models.RefreshToken, error) {
	if secret == "" {
		return nil, apperrors.ErrAuthentication
	}

	tokens, err := s.tokens.ListActiveTokens(ctx, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to list active tokens: %w", err)
	}

	for _, token := range tokens {
		if bcrypt.CompareHashAndPassword([]byte(token.SecretHash), []byte(secret)) == nil {
			return token, nil
		}
	}

	return nil, apperrors.ErrAuthentication
}
