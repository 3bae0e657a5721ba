package apperrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExternalError_Unwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := External("retrieve_subscription", cause, true)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "retrieve_subscription")
	assert.Contains(t, err.Error(), "retryable")
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"retryable external", External("create_customer", errors.New("timeout"), true), true},
		{"permanent external", External("retrieve_subscription", errors.New("no such price"), false), false},
		{"wrapped retryable", fmt.Errorf("handling event: %w", External("x", errors.New("503"), true)), true},
		{"plain error", errors.New("boom"), false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}
