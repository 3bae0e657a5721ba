package models

import "time"

// Tier is the account service level. It doubles as the request role:
// feature gating always derives from this field, never from client input.
type Tier string

const (
	TierExplorer Tier = "EXPLORER"
	TierPro      Tier = "PRO"
	TierPremium  Tier = "PREMIUM"
)

// ValidTier reports whether t is one of the known service levels.
func ValidTier(t Tier) bool {
	switch t {
	case TierExplorer, TierPro, TierPremium:
		return true
	}
	return false
}

// Account represents a registered user account.
// Tier is derived state: it must match the latest reconciled subscription,
// or TierExplorer when the account has none.
type Account struct {
	ID                string     `json:"id"`
	Email             string     `json:"email"`
	PasswordHash      string     `json:"-"` // bcrypt hash, never serialized
	Tier              Tier       `json:"tier"`
	BillingCustomerID string     `json:"billing_customer_id,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
	LastLogin         *time.Time `json:"last_login,omitempty"`
}

// RefreshToken is a stored long-lived credential.
// SecretHash is a bcrypt hash of the secret; the plaintext only ever lives
// in the client cookie. At most one live row exists per account.
type RefreshToken struct {
	ID         string    `json:"id"`
	AccountID  string    `json:"account_id"`
	SecretHash string    `json:"-"`
	ExpiresAt  time.Time `json:"expires_at"`
	CreatedAt  time.Time `json:"created_at"`
}
