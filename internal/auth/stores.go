package auth

import (
	"context"

	"github.com/mcpgate/mcpgate/internal/model"
)

// CredentialStore is the minimal persistence contract the Manager needs.
// Lookups return an error for missing records; the Manager downgrades any
// store error to "credential not accepted" rather than propagating it.
type CredentialStore interface {
	GetUserByUsername(ctx context.Context, username string) (*model.User, error)
	CreateUser(ctx context.Context, user *model.User) error
	GetAPIKey(ctx context.Context, id int64) (*model.APIKey, error)
	CreateAPIKey(ctx context.Context, key *model.APIKey) error
	UpdateAPIKeyLastUsed(ctx context.Context, id int64) error
}

// HMACIndexedStore is an optional store capability: O(1) lookup of an API key
// by its server-keyed HMAC digest. The Manager selects this strategy with a
// type assertion; stores lacking it fall back to the legacy scan.
type HMACIndexedStore interface {
	CredentialStore
	GetAPIKeyByHMAC(ctx context.Context, digest string) (*model.APIKey, error)
}

// LegacyScanStore is the fallback capability for stores without an HMAC
// index: enumerate active keys and verify the presented secret against each.
// Deprecated in favor of HMACIndexedStore; kept for pre-HMAC deployments.
type LegacyScanStore interface {
	CredentialStore
	ListActiveAPIKeys(ctx context.Context) ([]model.APIKey, error)
}
