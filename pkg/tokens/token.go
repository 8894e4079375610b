// Package tokens rotates API calls across a pool of credentials by health
// and strategy. Tokens that fail repeatedly are quarantined so a bad
// credential does not burn the error budget for everyone.
package tokens

import (
	"time"
)

// Token types.
const (
	TypePersonalAccessToken = "pat"
	TypeInstallation        = "installation"
	TypeOAuth               = "oauth"
)

// Token is one credential from the configured pool.
// Tokens are immutable once issued; the manager never mutates the secret.
type Token struct {
	// Secret is the credential value sent in the Authorization header.
	Secret string

	// Type identifies the credential kind (pat, installation, oauth).
	Type string

	// Scopes are the permissions granted to this credential.
	Scopes []string

	// ExpiresAt is when the credential itself expires. Zero means no
	// expiry (e.g., a classic PAT).
	ExpiresAt time.Time
}

// IsExpired returns true if the credential itself has expired.
func (t Token) IsExpired(now time.Time) bool {
	return !t.ExpiresAt.IsZero() && now.After(t.ExpiresAt)
}

// HasScopes returns true if the token's scopes are a superset of required.
func (t Token) HasScopes(required []string) bool {
	if len(required) == 0 {
		return true
	}
	granted := make(map[string]struct{}, len(t.Scopes))
	for _, s := range t.Scopes {
		granted[s] = struct{}{}
	}
	for _, r := range required {
		if _, ok := granted[r]; !ok {
			return false
		}
	}
	return true
}

// String returns a redacted representation safe for logs.
func (t Token) String() string {
	const visible = 4
	if len(t.Secret) <= visible {
		return "****"
	}
	return t.Secret[:visible] + "****"
}

// Health is the mutable health record kept per token.
type Health struct {
	// ConsecutiveErrors counts errors since the last success.
	ConsecutiveErrors int

	// TotalErrors counts all recorded errors.
	TotalErrors int

	// TotalSuccesses counts all recorded successes.
	TotalSuccesses int

	// QuarantineUntil excludes the token from selection until this time.
	QuarantineUntil time.Time
}

// uses returns the total recorded outcomes, for least-used selection.
func (h *Health) uses() int {
	return h.TotalSuccesses + h.TotalErrors
}
