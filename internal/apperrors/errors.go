// Package apperrors defines the error taxonomy shared by the request path
// and the webhook path.
package apperrors

import (
	"errors"
	"fmt"
)

// Common application errors
var (
	// ErrAuthentication indicates a bad, expired or missing credential.
	// The message never distinguishes which part of the credential failed.
	ErrAuthentication = errors.New("authentication failed")

	// ErrAuthorization indicates a valid identity with an insufficient tier
	ErrAuthorization = errors.New("insufficient permission")

	// ErrValidation indicates malformed caller input
	ErrValidation = errors.New("validation failed")

	// ErrNotConfigured indicates a secret or mapping required by the invoked
	// feature is absent. Scoped to the operation, not the process.
	ErrNotConfigured = errors.New("feature not configured")

	// ErrReconcileSkipped marks a webhook event that is legitimately not
	// actionable. It is journaled and logged, never surfaced to the provider.
	ErrReconcileSkipped = errors.New("reconciliation skipped")
)

// ExternalError wraps a failure from the payment provider.
// Retryable distinguishes transient faults (network, timeout, 5xx) from
// permanent ones (unknown price id, malformed payload). A retryable failure
// must never change an account tier.
type ExternalError struct {
	Op        string
	Err       error
	Retryable bool
}

func (e *ExternalError) Error() string {
	kind := "permanent"
	if e.Retryable {
		kind = "retryable"
	}
	return fmt.Sprintf("billing provider %s failed (%s): %v", e.Op, kind, e.Err)
}

func (e *ExternalError) Unwrap() error { return e.Err }

// External wraps err as a provider failure for the given operation.
func External(op string, err error, retryable bool) *ExternalError {
	return &ExternalError{Op: op, Err: err, Retryable: retryable}
}

// IsRetryable reports whether err is a transient provider failure.
func IsRetryable(err error) bool {
	var ee *ExternalError
	return errors.As(err, &ee) && ee.Retryable
}
