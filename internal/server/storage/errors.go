package storage

import "errors"

// Common storage errors
var (
	// ErrAccountNotFound indicates that the account was not found in storage
	ErrAccountNotFound = errors.New("account not found")

	// ErrAccountExists indicates that an account with this email already exists
	ErrAccountExists = errors.New("account already exists")

	// ErrTokenNotFound indicates that the refresh token was not found
	ErrTokenNotFound = errors.New("refresh token not found")

	// ErrSubscriptionNotFound indicates that the subscription mirror row was not found
	ErrSubscriptionNotFound = errors.New("subscription not found")
)
