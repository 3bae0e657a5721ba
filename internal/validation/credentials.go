package validation

import (
	"fmt"
	"regexp"
	"unicode"
)

// EmailPattern is a pragmatic email shape check: one @, no spaces, a dot in
// the domain. Deliverability is the mail system's problem, not ours.
var EmailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

const (
	// MaxEmailLen caps stored email length
	MaxEmailLen = 254
	// MinPasswordLen is the minimum password length
	MinPasswordLen = 8
	// MaxPasswordLen keeps passwords inside bcrypt's 72 byte input limit
	MaxPasswordLen = 72
)

// ValidateEmail checks that email looks like an address we can store.
func ValidateEmail(email string) error {
	if email == "" {
		return fmt.Errorf("email cannot be empty")
	}

	if len(email) > MaxEmailLen {
		return fmt.Errorf("email must not exceed %d characters", MaxEmailLen)
	}

	if !EmailPattern.MatchString(email) {
		return fmt.Errorf("email format is invalid")
	}

	return nil
}

// ValidatePassword enforces minimum password strength:
// 8-72 characters with at least one upper case letter, one lower case
// letter and one digit.
func ValidatePassword(password string) error {
	if password == "" {
		return fmt.Errorf("password cannot be empty")
	}

	if len(password) < MinPasswordLen {
		return fmt.Errorf("password must be at least %d characters long", MinPasswordLen)
	}

	if len(password) > MaxPasswordLen {
		return fmt.Errorf("password must not exceed %d characters", MaxPasswordLen)
	}

	var hasUpper, hasLower, hasDigit bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}

	if !hasUpper || !hasLower || !hasDigit {
		return fmt.Errorf("password must contain an upper case letter, a lower case letter and a digit")
	}

	return nil
}
