package model

import "time"

// APIKey represents a long-lived credential of the form mcp_{id}.{secret}.
// The raw secret is never stored: only a bcrypt hash for verification and a
// server-keyed HMAC digest for indexed lookup are persisted. KeyHMAC is empty
// for records created before the digest column existed; those keys are only
// reachable through the legacy scan path.
type APIKey struct {
	ID          int64      `json:"id" db:"id"`
	Name        string     `json:"name" db:"name"`
	Description string     `json:"description,omitempty" db:"description"`
	KeyHash     string     `json:"-" db:"key_hash"` // bcrypt hash of the secret, never expose
	KeyHMAC     string     `json:"-" db:"key_hmac"` // HMAC-SHA256 digest, indexed
	UserID      int64      `json:"user_id" db:"user_id"`
	Scopes      []string   `json:"scopes"`
	IsActive    bool       `json:"is_active" db:"is_active"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty" db:"expires_at"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	LastUsed    *time.Time `json:"last_used,omitempty" db:"last_used"`
}

// IsExpired reports whether the key's expiry is in the past. Keys without an
// expiry never expire.
func (k *APIKey) IsExpired() bool {
	return k.ExpiresAt != nil && k.ExpiresAt.Before(time.Now().UTC())
}

// HasScopes reports whether every scope in required is present in the key's
// scope set. Containment only; no wildcard or hierarchy matching.
func (k *APIKey) HasScopes(required []string) bool {
	have := make(map[string]struct{}, len(k.Scopes))
	for _, s := range k.Scopes {
		have[s] = struct{}{}
	}
	for _, s := range required {
		if _, ok := have[s]; !ok {
			return false
		}
	}
	return true
}
