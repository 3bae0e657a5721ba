package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/pathlighthq/pathlight/internal/models"
	"github.com/pathlighthq/pathlight/internal/server/storage"
	"github.com/pathlighthq/pathlight/internal/server/token"
)

type contextKey string

// accountContextKey carries the authenticated account through the request context
const accountContextKey contextKey = "account"

// AccountFromContext returns the account placed in the context by Authenticate.
func AccountFromContext(ctx context.Context) (*models.Account, bool) {
	account, ok := ctx.Value(accountContextKey).(*models.Account)
	return account, ok
}

// Authenticate creates middleware validating the bearer access token and
// loading the caller's account. Missing credential, invalid credential and
// token-valid-but-account-deleted all answer 401 with the same shape.
func Authenticate(logger *slog.Logger, tokens *token.Service, accounts storage.AccountStorage) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				logger.Warn("missing Authorization header", "path", r.URL.Path)
				writeJSONError(w, http.StatusUnauthorized, "authentication required")
				return
			}

			// Expected format: "Bearer <token>"
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
				logger.Warn("invalid Authorization header format", "path", r.URL.Path)
				writeJSONError(w, http.StatusUnauthorized, "authentication required")
				return
			}

			claims, err := tokens.VerifyAccessToken(parts[1])
			if err != nil {
				logger.Warn("invalid access token", "error", err)
				writeJSONError(w, http.StatusUnauthorized, "authentication required")
				return
			}

			account, err := accounts.GetAccountByID(r.Context(), claims.AccountID)
			if err != nil {
				if errors.Is(err, storage.ErrAccountNotFound) {
					// Token outlived the account
					logger.Warn("access token for deleted account", "account_id", claims.AccountID)
					writeJSONError(w, http.StatusUnauthorized, "authentication required")
					return
				}
				logger.Error("failed to load account", "error", err)
				writeJSONError(w, http.StatusInternalServerError, "internal server error")
				return
			}

			ctx := context.WithValue(r.Context(), accountContextKey, account)

			logger.Debug("request authenticated", "account_id", account.ID, "tier", account.Tier)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireTier creates middleware gating a route to the given tiers.
// Must run after Authenticate. The required-vs-actual pair goes to the log
// only, the response body never reveals it.
func RequireTier(logger *slog.Logger, tiers ...models.Tier) func(http.Handler) http.Handler {
	allowed := make(map[models.Tier]bool, len(tiers))
	for _, t := range tiers {
		allowed[t] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			account, ok := AccountFromContext(r.Context())
			if !ok {
				writeJSONError(w, http.StatusUnauthorized, "authentication required")
				return
			}

			if !allowed[account.Tier] {
				logger.Warn("insufficient tier",
					"account_id", account.ID,
					"required", tiers,
					"actual", account.Tier,
				)
				writeJSONError(w, http.StatusForbidden, "insufficient permission")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// writeJSONError writes a minimal JSON error body
func writeJSONError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
