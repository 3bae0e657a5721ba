package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/pathlighthq/pathlight/internal/models"
	"github.com/pathlighthq/pathlight/internal/server/middleware"
	"github.com/pathlighthq/pathlight/internal/server/storage"
	"github.com/pathlighthq/pathlight/internal/server/token"
	"github.com/pathlighthq/pathlight/internal/validation"
	"github.com/pathlighthq/pathlight/pkg/api"
)

// refreshCookieName is the cookie carrying the refresh secret
const refreshCookieName = "refreshToken"

// refreshCookiePath scopes the cookie to the auth endpoints
const refreshCookiePath = "/api/v1/auth"

// AuthHandler handles signup, login and the refresh credential lifecycle
type AuthHandler struct {
	logger   *slog.Logger
	accounts storage.AccountStorage
	tokens   *token.Service
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(logger *slog.Logger, accounts storage.AccountStorage, tokens *token.Service) *AuthHandler {
	return &AuthHandler{
		logger:   logger,
		accounts: accounts,
		tokens:   tokens,
	}
}

// Signup handles POST /api/v1/auth/signup
func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req api.SignupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.ErrorContext(ctx, "failed to decode signup request", slog.Any("error", err))
		sendError(h.logger, w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := validation.ValidateEmail(req.Email); err != nil {
		h.logger.WarnContext(ctx, "invalid email", slog.Any("error", err))
		sendError(h.logger, w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := validation.ValidatePassword(req.Password); err != nil {
		sendError(h.logger, w, err.Error(), http.StatusBadRequest)
		return
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to hash password", slog.Any("error", err))
		sendError(h.logger, w, "internal server error", http.StatusInternalServerError)
		return
	}

	now := time.Now().UTC()
	account := &models.Account{
		ID:           uuid.New().String(),
		Email:        req.Email,
		PasswordHash: string(passwordHash),
		Tier:         models.TierExplorer,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := h.accounts.CreateAccount(ctx, account); err != nil {
		if errors.Is(err, storage.ErrAccountExists) {
			h.logger.WarnContext(ctx, "signup for existing email")
			sendError(h.logger, w, "email already registered", http.StatusConflict)
			return
		}
		h.logger.ErrorContext(ctx, "failed to create account", slog.Any("error", err))
		sendError(h.logger, w, "internal server error", http.StatusInternalServerError)
		return
	}

	h.logger.InfoContext(ctx, "account created",
		slog.String("account_id", account.ID))

	resp := api.SignupResponse{
		AccountID: account.ID,
		Tier:      string(account.Tier),
		Message:   "account created",
	}

	sendJSON(h.logger, w, resp, http.StatusCreated)
}

// Login handles POST /api/v1/auth/login.
// On success the access token goes in the body and the refresh secret in an
// httpOnly cookie. Wrong email and wrong password answer identically.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req api.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.ErrorContext(ctx, "failed to decode login request", slog.Any("error", err))
		sendError(h.logger, w, "invalid request body", http.StatusBadRequest)
		return
	}

	account, err := h.accounts.GetAccountByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, storage.ErrAccountNotFound) {
			h.logger.WarnContext(ctx, "login failed: account not found")
			sendError(h.logger, w, "invalid credentials", http.StatusUnauthorized)
			return
		}
		h.logger.ErrorContext(ctx, "failed to get account", slog.Any("error", err))
		sendError(h.logger, w, "internal server error", http.StatusInternalServerError)
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(req.Password)); err != nil {
		h.logger.WarnContext(ctx, "login failed: bad password", slog.String("account_id", account.ID))
		sendError(h.logger, w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	if err := h.issueSession(ctx, w, account); err != nil {
		sendError(h.logger, w, "internal server error", http.StatusInternalServerError)
		return
	}

	if err := h.accounts.UpdateLastLogin(ctx, account.ID, time.Now().UTC()); err != nil {
		// Not worth failing the login over
		h.logger.WarnContext(ctx, "failed to update last login", slog.Any("error", err))
	}

	h.logger.InfoContext(ctx, "login succeeded", slog.String("account_id", account.ID))
}

// Refresh handles POST /api/v1/auth/refresh.
// Redeeming the cookie rotates it: the presented secret is invalidated and a
// new one is set, so each secret works exactly once.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	cookie, err := r.Cookie(refreshCookieName)
	if err != nil || cookie.Value == "" {
		sendError(h.logger, w, "authentication failed", http.StatusUnauthorized)
		return
	}

	accountID, err := h.tokens.VerifyRefreshToken(ctx, cookie.Value)
	if err != nil {
		h.logger.WarnContext(ctx, "refresh failed", slog.Any("error", err))
		h.clearRefreshCookie(w)
		sendError(h.logger, w, "authentication failed", http.StatusUnauthorized)
		return
	}

	account, err := h.accounts.GetAccountByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, storage.ErrAccountNotFound) {
			h.clearRefreshCookie(w)
			sendError(h.logger, w, "authentication failed", http.StatusUnauthorized)
			return
		}
		h.logger.ErrorContext(ctx, "failed to get account", slog.Any("error", err))
		sendError(h.logger, w, "internal server error", http.StatusInternalServerError)
		return
	}

	if err := h.issueSession(ctx, w, account); err != nil {
		sendError(h.logger, w, "internal server error", http.StatusInternalServerError)
		return
	}

	h.logger.InfoContext(ctx, "tokens refreshed", slog.String("account_id", account.ID))
}

// Logout handles POST /api/v1/auth/logout. Runs behind Authenticate.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	account, ok := middleware.AccountFromContext(ctx)
	if !ok {
		sendError(h.logger, w, "authentication required", http.StatusUnauthorized)
		return
	}

	deleted, err := h.tokens.InvalidateAccountTokens(ctx, account.ID)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to invalidate tokens", slog.Any("error", err))
		sendError(h.logger, w, "internal server error", http.StatusInternalServerError)
		return
	}

	h.clearRefreshCookie(w)

	h.logger.InfoContext(ctx, "logout",
		slog.String("account_id", account.ID),
		slog.Int("tokens_deleted", deleted))

	w.WriteHeader(http.StatusNoContent)
}

// issueSession mints an access token and rotates the refresh cookie
func (h *AuthHandler) issueSession(ctx context.Context, w http.ResponseWriter, account *models.Account) error {
	accessToken, expiresIn, err := h.tokens.IssueAccessToken(account.ID, account.Email, account.Tier)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to issue access token", slog.Any("error", err))
		return err
	}

	secret, expiresAt, err := h.tokens.IssueRefreshSecret()
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to issue refresh secret", slog.Any("error", err))
		return err
	}

	if err := h.tokens.StoreRefreshToken(ctx, account.ID, secret); err != nil {
		h.logger.ErrorContext(ctx, "failed to store refresh token", slog.Any("error", err))
		return err
	}

	h.setRefreshCookie(w, secret, expiresAt)

	resp := api.TokenResponse{
		AccessToken: accessToken,
		ExpiresIn:   expiresIn,
	}
	sendJSON(h.logger, w, resp, http.StatusOK)

	return nil
}

func (h *AuthHandler) setRefreshCookie(w http.ResponseWriter, value string, expiresAt time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    value,
		Path:     refreshCookiePath,
		Expires:  expiresAt,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *AuthHandler) clearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    "",
		Path:     refreshCookiePath,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	})
}
