package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mcpgate/mcpgate/internal/config"
	"github.com/mcpgate/mcpgate/internal/model"
)

// ErrInvalidCredentials is the uniform rejection for any credential that is
// not accepted. Unknown, expired, and deactivated keys all map to it so the
// API surface never leaks whether a key exists.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Manager orchestrates credential verification for both JWT and API-key
// flows. Construct it once at process start and pass it explicitly; there is
// no package-level instance.
type Manager struct {
	store            CredentialStore
	secretKey        []byte
	signingMethod    jwt.SigningMethod
	tokenTTL         time.Duration
	apiKeyExpireDays int
	cacheTTL         time.Duration
	cache            *verifyCache
	logger           *slog.Logger
}

// NewManager creates a Manager from the auth configuration. An empty secret
// key is a configuration fault and fails construction; every other failure
// mode surfaces as a rejected credential at call time.
func NewManager(store CredentialStore, cfg config.AuthConfig, logger *slog.Logger) (*Manager, error) {
	if cfg.SecretKey == "" {
		return nil, errors.New("auth: secret_key is required")
	}

	alg := cfg.Algorithm
	if alg == "" {
		alg = "HS256"
	}
	method := jwt.GetSigningMethod(alg)
	if method == nil {
		return nil, fmt.Errorf("auth: unknown signing algorithm %q", alg)
	}
	if _, ok := method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("auth: algorithm %q is not an HMAC method", alg)
	}

	tokenTTL := cfg.TokenTTL()
	if tokenTTL <= 0 {
		tokenTTL = 30 * time.Minute
	}
	cacheTTL := cfg.CacheTTL()
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	expireDays := cfg.APIKeyExpireDays
	if expireDays <= 0 {
		expireDays = 365
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		store:            store,
		secretKey:        []byte(cfg.SecretKey),
		signingMethod:    method,
		tokenTTL:         tokenTTL,
		apiKeyExpireDays: expireDays,
		cacheTTL:         cacheTTL,
		cache:            newVerifyCache(),
		logger:           logger,
	}, nil
}

// TokenTTL returns the access token lifetime the manager issues tokens with.
func (m *Manager) TokenTTL() time.Duration {
	return m.tokenTTL
}

// AuthenticateUser verifies a username/password pair against the store.
// Returns ErrInvalidCredentials if the user is unknown or the password does
// not match; the check itself has no side effects.
func (m *Manager) AuthenticateUser(ctx context.Context, username, password string) (*model.User, error) {
	user, err := m.store.GetUserByUsername(ctx, username)
	if err != nil {
		m.logger.Debug("user lookup failed", "username", username, "error", err)
		return nil, ErrInvalidCredentials
	}
	if !VerifySecret(password, user.HashedPassword) {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

// AuthenticateAPIKey resolves an API-key token to its record. Resolution
// precedence is strict:
//
//  1. Tokens without the mcp_ prefix are rejected before any store call.
//  2. If the token carries a numeric id, the record is fetched by primary key
//     and the secret verified against its hash. Any failure on this path is a
//     definitive reject — a supplied id that fails must not be retried as a
//     different credential through the HMAC or scan paths.
//  3. Otherwise the secret's HMAC digest drives the lookup: verification
//     cache first, then the store's HMAC index if it has one.
//  4. Stores without an HMAC index fall back to a linear scan of active keys.
//
// Store errors at any step are logged and read as "not accepted" for that
// step; authentication never propagates a store fault to the caller.
func (m *Manager) AuthenticateAPIKey(ctx context.Context, token string) (*model.APIKey, error) {
	parsed, ok := ParseKeyToken(token)
	if !ok {
		return nil, ErrInvalidCredentials
	}

	if parsed.HasID {
		return m.authenticateByID(ctx, parsed)
	}

	if key, err := m.authenticateByDigest(ctx, parsed.Secret); err == nil {
		return key, nil
	}

	// Legacy linear scan, only for stores without an HMAC index.
	if _, indexed := m.store.(HMACIndexedStore); !indexed {
		if key, err := m.authenticateByScan(ctx, parsed.Secret); err == nil {
			return key, nil
		}
	}

	return nil, ErrInvalidCredentials
}

// authenticateByID is the fast path for tokens of the form mcp_{id}.{secret}.
func (m *Manager) authenticateByID(ctx context.Context, parsed ParsedKey) (*model.APIKey, error) {
	key, err := m.store.GetAPIKey(ctx, parsed.ID)
	if err != nil {
		m.logger.Debug("api key id lookup failed", "key_id", parsed.ID, "error", err)
		return nil, ErrInvalidCredentials
	}
	if !key.IsActive || key.IsExpired() {
		return nil, ErrInvalidCredentials
	}
	if !VerifySecret(parsed.Secret, key.KeyHash) {
		return nil, ErrInvalidCredentials
	}
	m.touchAsync(key.ID)
	return key, nil
}

// authenticateByDigest resolves a legacy-form token through the verification
// cache and the store's HMAC index.
func (m *Manager) authenticateByDigest(ctx context.Context, secret string) (*model.APIKey, error) {
	digest := KeyDigest(m.secretKey, secret)
	if digest == "" {
		return nil, ErrInvalidCredentials
	}

	if key := m.cache.get(digest); key != nil {
		m.touchAsync(key.ID)
		return key, nil
	}

	indexed, ok := m.store.(HMACIndexedStore)
	if !ok {
		return nil, ErrInvalidCredentials
	}

	key, err := indexed.GetAPIKeyByHMAC(ctx, digest)
	if err != nil {
		m.logger.Debug("api key hmac lookup failed", "error", err)
		return nil, ErrInvalidCredentials
	}
	if !key.IsActive || key.IsExpired() {
		return nil, ErrInvalidCredentials
	}
	if !VerifySecret(secret, key.KeyHash) {
		return nil, ErrInvalidCredentials
	}
	m.touchAsync(key.ID)
	m.cache.put(digest, key, m.cacheTTL)
	return key, nil
}

// authenticateByScan linearly verifies the secret against every active,
// non-expired key. Deprecated: only pre-HMAC deployments reach this.
func (m *Manager) authenticateByScan(ctx context.Context, secret string) (*model.APIKey, error) {
	legacy, ok := m.store.(LegacyScanStore)
	if !ok {
		return nil, ErrInvalidCredentials
	}

	keys, err := legacy.ListActiveAPIKeys(ctx)
	if err != nil {
		m.logger.Debug("api key scan failed", "error", err)
		return nil, ErrInvalidCredentials
	}
	for i := range keys {
		key := &keys[i]
		if key.IsExpired() {
			continue
		}
		if VerifySecret(secret, key.KeyHash) {
			m.touchAsync(key.ID)
			return key, nil
		}
	}
	return nil, ErrInvalidCredentials
}

// touchAsync updates the key's last_used timestamp as detached background
// work. A slow or failing audit write never delays or fails the
// authentication decision; a lost update under process crash is acceptable.
func (m *Manager) touchAsync(id int64) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.store.UpdateAPIKeyLastUsed(ctx, id); err != nil {
			m.logger.Debug("last_used update failed", "key_id", id, "error", err)
		}
	}()
}

// ResolveSubject resolves a bearer token of either kind to its subject.
// Tokens matching the API-key prefix try API-key resolution first; only when
// that fails is JWT resolution attempted. The order matters: API-key tokens
// are not valid JWTs, and decoding them as JWTs first would waste work and
// produce confusing failures.
func (m *Manager) ResolveSubject(ctx context.Context, token string) (Subject, error) {
	if strings.HasPrefix(token, TokenPrefix) {
		if key, err := m.AuthenticateAPIKey(ctx, token); err == nil {
			return Subject{APIKey: key}, nil
		}
	}

	claims, err := m.VerifyToken(token)
	if err != nil {
		return Subject{}, ErrInvalidCredentials
	}
	username, _ := claims["sub"].(string)
	if username == "" {
		return Subject{}, ErrInvalidCredentials
	}
	user, err := m.store.GetUserByUsername(ctx, username)
	if err != nil {
		m.logger.Debug("token subject lookup failed", "username", username, "error", err)
		return Subject{}, ErrInvalidCredentials
	}
	if !user.IsActive {
		return Subject{}, ErrInvalidCredentials
	}
	return Subject{User: user}, nil
}

// CreateAPIKeyParams are the caller-supplied fields for a new API key.
type CreateAPIKeyParams struct {
	UserID      int64
	Name        string
	Description string
	Scopes      []string
	ExpiresDays int // 0 uses the configured default
}

// CreateAPIKey generates a fresh secret, persists its hash and HMAC digest,
// and returns the stored record together with the one-time plaintext token.
// The token cannot be reconstructed afterwards.
func (m *Manager) CreateAPIKey(ctx context.Context, p CreateAPIKeyParams) (*model.APIKey, string, error) {
	secret, err := GenerateSecret()
	if err != nil {
		return nil, "", err
	}
	keyHash, err := HashSecret(secret)
	if err != nil {
		return nil, "", err
	}

	days := p.ExpiresDays
	if days <= 0 {
		days = m.apiKeyExpireDays
	}
	expiresAt := time.Now().UTC().AddDate(0, 0, days)

	key := &model.APIKey{
		Name:        p.Name,
		Description: p.Description,
		KeyHash:     keyHash,
		KeyHMAC:     KeyDigest(m.secretKey, secret),
		UserID:      p.UserID,
		Scopes:      p.Scopes,
		IsActive:    true,
		ExpiresAt:   &expiresAt,
	}
	if key.Scopes == nil {
		key.Scopes = []string{}
	}

	if err := m.store.CreateAPIKey(ctx, key); err != nil {
		return nil, "", fmt.Errorf("create api key: %w", err)
	}

	return key, EncodeKeyToken(key.ID, secret), nil
}

// CreateUser hashes the password and persists a new user account.
func (m *Manager) CreateUser(ctx context.Context, username, password, email string, superuser bool) (*model.User, error) {
	hashed, err := HashSecret(password)
	if err != nil {
		return nil, err
	}
	user := &model.User{
		Username:       username,
		HashedPassword: hashed,
		Email:          email,
		IsActive:       true,
		IsSuperuser:    superuser,
	}
	if err := m.store.CreateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}
