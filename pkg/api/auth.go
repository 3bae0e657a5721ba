// Package api defines the request/response DTOs of the HTTP API.
package api

import "time"

// SignupRequest is the request to create a new account
type SignupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SignupResponse is the response after successful signup
type SignupResponse struct {
	AccountID string `json:"account_id"`
	Tier      string `json:"tier"`
	Message   string `json:"message"`
}

// LoginRequest is the request to authenticate
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// TokenResponse carries a fresh access token. The refresh credential never
// appears in the body; it travels only in the httpOnly cookie.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"` // seconds
}

// AccountResponse is the caller-visible account projection
type AccountResponse struct {
	ID        string     `json:"id"`
	Email     string     `json:"email"`
	Tier      string     `json:"tier"`
	CreatedAt time.Time  `json:"created_at"`
	LastLogin *time.Time `json:"last_login,omitempty"`
}

// ErrorResponse is the common error shape
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
