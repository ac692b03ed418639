package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/mcpgate/mcpgate/internal/model"
)

// Store persists the gateway's internal state backed by SQLite: users, API
// keys, backend registrations, and settings.
type Store struct {
	db *sqlx.DB
}

// NewStore creates a new store. Pass empty string for in-memory.
func NewStore(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == "" {
		dsn = ":memory:?_journal_mode=WAL"
	} else {
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		dsn = filepath.Join(dataDir, "mcpgate.db") + "?_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sqlx.Connect("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open gateway database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite doesn't support concurrent writes

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate gateway database: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ---------------------------------------------------------------------------
// Users
// ---------------------------------------------------------------------------

// CreateUser inserts a new user account. The ID, CreatedAt, and UpdatedAt
// fields on user are populated after a successful insert.
func (s *Store) CreateUser(ctx context.Context, user *model.User) error {
	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now

	const q = `INSERT INTO users
		(username, hashed_password, email, full_name, is_active, is_superuser, created_at, updated_at)
		VALUES
		(:username, :hashed_password, :email, :full_name, :is_active, :is_superuser, :created_at, :updated_at)`

	result, err := s.db.NamedExecContext(ctx, q, user)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get user id: %w", err)
	}
	user.ID = id
	return nil
}

// GetUser returns a user by ID.
func (s *Store) GetUser(ctx context.Context, id int64) (*model.User, error) {
	var user model.User
	if err := s.db.GetContext(ctx, &user, "SELECT * FROM users WHERE id = ?", id); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &user, nil
}

// GetUserByUsername returns a user by its unique username.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	var user model.User
	if err := s.db.GetContext(ctx, &user, "SELECT * FROM users WHERE username = ?", username); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user by username: %w", err)
	}
	return &user, nil
}

// ListUsers returns all user accounts.
func (s *Store) ListUsers(ctx context.Context) ([]model.User, error) {
	var users []model.User
	if err := s.db.SelectContext(ctx, &users, "SELECT * FROM users ORDER BY username"); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

// HasAnyUser reports whether at least one user account exists. Used for
// first-run detection.
func (s *Store) HasAnyUser(ctx context.Context) (bool, error) {
	var count int
	if err := s.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM users"); err != nil {
		return false, fmt.Errorf("count users: %w", err)
	}
	return count > 0, nil
}

// UpdateUserLastLogin sets the last_login_at timestamp for a user.
func (s *Store) UpdateUserLastLogin(ctx context.Context, id int64) error {
	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx,
		"UPDATE users SET last_login_at = ?, updated_at = ? WHERE id = ?", now, now, id)
	if err != nil {
		return fmt.Errorf("update user last login: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update user last login rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ---------------------------------------------------------------------------
// API keys
// ---------------------------------------------------------------------------

// apiKeyRow is a flat struct that maps 1:1 to the api_keys table. The
// scopes_json column stores the JSON-encoded scope list.
type apiKeyRow struct {
	ID          int64      `db:"id"`
	Name        string     `db:"name"`
	Description string     `db:"description"`
	KeyHash     string     `db:"key_hash"`
	KeyHMAC     string     `db:"key_hmac"`
	UserID      int64      `db:"user_id"`
	ScopesJSON  string     `db:"scopes_json"`
	IsActive    bool       `db:"is_active"`
	ExpiresAt   *time.Time `db:"expires_at"`
	CreatedAt   time.Time  `db:"created_at"`
	LastUsed    *time.Time `db:"last_used"`
}

func apiKeyRowFromModel(k *model.APIKey) (apiKeyRow, error) {
	scopes := k.Scopes
	if scopes == nil {
		scopes = []string{}
	}
	scopesJSON, err := json.Marshal(scopes)
	if err != nil {
		return apiKeyRow{}, fmt.Errorf("marshal scopes: %w", err)
	}
	return apiKeyRow{
		ID:          k.ID,
		Name:        k.Name,
		Description: k.Description,
		KeyHash:     k.KeyHash,
		KeyHMAC:     k.KeyHMAC,
		UserID:      k.UserID,
		ScopesJSON:  string(scopesJSON),
		IsActive:    k.IsActive,
		ExpiresAt:   k.ExpiresAt,
		CreatedAt:   k.CreatedAt,
		LastUsed:    k.LastUsed,
	}, nil
}

func (r apiKeyRow) toModel() (model.APIKey, error) {
	var scopes []string
	if r.ScopesJSON != "" {
		if err := json.Unmarshal([]byte(r.ScopesJSON), &scopes); err != nil {
			return model.APIKey{}, fmt.Errorf("unmarshal scopes: %w", err)
		}
	}
	if scopes == nil {
		scopes = []string{}
	}
	return model.APIKey{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		KeyHash:     r.KeyHash,
		KeyHMAC:     r.KeyHMAC,
		UserID:      r.UserID,
		Scopes:      scopes,
		IsActive:    r.IsActive,
		ExpiresAt:   r.ExpiresAt,
		CreatedAt:   r.CreatedAt,
		LastUsed:    r.LastUsed,
	}, nil
}

// CreateAPIKey inserts a new API key record. KeyHash and KeyHMAC must already
// be set by the caller. The ID and CreatedAt fields are populated after insert.
func (s *Store) CreateAPIKey(ctx context.Context, key *model.APIKey) error {
	key.CreatedAt = time.Now().UTC()

	row, err := apiKeyRowFromModel(key)
	if err != nil {
		return err
	}

	const q = `INSERT INTO api_keys
		(name, description, key_hash, key_hmac, user_id, scopes_json, is_active, expires_at, created_at)
		VALUES
		(:name, :description, :key_hash, :key_hmac, :user_id, :scopes_json, :is_active, :expires_at, :created_at)`

	result, err := s.db.NamedExecContext(ctx, q, row)
	if err != nil {
		return fmt.Errorf("insert api key: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get api key id: %w", err)
	}
	key.ID = id
	return nil
}

// GetAPIKey returns an API key by ID.
func (s *Store) GetAPIKey(ctx context.Context, id int64) (*model.APIKey, error) {
	var row apiKeyRow
	if err := s.db.GetContext(ctx, &row, "SELECT * FROM api_keys WHERE id = ?", id); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get api key: %w", err)
	}
	key, err := row.toModel()
	if err != nil {
		return nil, err
	}
	return &key, nil
}

// GetAPIKeyByHMAC looks up an API key by its server-keyed HMAC digest. The
// key_hmac column is indexed, making this an O(1) lookup.
func (s *Store) GetAPIKeyByHMAC(ctx context.Context, digest string) (*model.APIKey, error) {
	if digest == "" {
		return nil, ErrNotFound
	}
	var row apiKeyRow
	if err := s.db.GetContext(ctx, &row, "SELECT * FROM api_keys WHERE key_hmac = ?", digest); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get api key by hmac: %w", err)
	}
	key, err := row.toModel()
	if err != nil {
		return nil, err
	}
	return &key, nil
}

// ListAPIKeys returns all API keys.
func (s *Store) ListAPIKeys(ctx context.Context) ([]model.APIKey, error) {
	var rows []apiKeyRow
	if err := s.db.SelectContext(ctx, &rows, "SELECT * FROM api_keys ORDER BY created_at DESC"); err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	keys := make([]model.APIKey, 0, len(rows))
	for _, r := range rows {
		k, err := r.toModel()
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, nil
}

// ListActiveAPIKeys returns all active API keys. Exists only for the legacy
// linear-scan verification path used with pre-HMAC key records.
func (s *Store) ListActiveAPIKeys(ctx context.Context) ([]model.APIKey, error) {
	var rows []apiKeyRow
	if err := s.db.SelectContext(ctx, &rows, "SELECT * FROM api_keys WHERE is_active = 1 ORDER BY id"); err != nil {
		return nil, fmt.Errorf("list active api keys: %w", err)
	}
	keys := make([]model.APIKey, 0, len(rows))
	for _, r := range rows {
		k, err := r.toModel()
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, nil
}

// UpdateAPIKeyLastUsed sets the last_used timestamp for an API key.
func (s *Store) UpdateAPIKeyLastUsed(ctx context.Context, id int64) error {
	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx,
		"UPDATE api_keys SET last_used = ? WHERE id = ?", now, id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update api key last used rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// RevokeAPIKey marks an API key as inactive by ID.
func (s *Store) RevokeAPIKey(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE api_keys SET is_active = 0 WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("revoke api key rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ---------------------------------------------------------------------------
// Backend instances
// ---------------------------------------------------------------------------

// backendRow maps 1:1 to the backend_instances table. The command_json column
// stores the JSON-encoded argv for stdio backends.
type backendRow struct {
	ID           string     `db:"id"`
	Template     string     `db:"template"`
	Transport    string     `db:"transport"`
	Endpoint     string     `db:"endpoint"`
	CommandJSON  string     `db:"command_json"`
	Healthy      bool       `db:"healthy"`
	FailureCount int        `db:"failure_count"`
	RegisteredAt time.Time  `db:"registered_at"`
	LastSeen     *time.Time `db:"last_seen"`
}

func backendRowFromModel(inst *model.BackendInstance) (backendRow, error) {
	cmd := inst.Command
	if cmd == nil {
		cmd = []string{}
	}
	cmdJSON, err := json.Marshal(cmd)
	if err != nil {
		return backendRow{}, fmt.Errorf("marshal command: %w", err)
	}
	return backendRow{
		ID:           inst.ID,
		Template:     inst.Template,
		Transport:    inst.Transport,
		Endpoint:     inst.Endpoint,
		CommandJSON:  string(cmdJSON),
		Healthy:      inst.Healthy,
		FailureCount: inst.FailureCount,
		RegisteredAt: inst.RegisteredAt,
		LastSeen:     inst.LastSeen,
	}, nil
}

func (r backendRow) toModel() (model.BackendInstance, error) {
	var cmd []string
	if r.CommandJSON != "" && r.CommandJSON != "[]" {
		if err := json.Unmarshal([]byte(r.CommandJSON), &cmd); err != nil {
			return model.BackendInstance{}, fmt.Errorf("unmarshal command: %w", err)
		}
	}
	return model.BackendInstance{
		ID:           r.ID,
		Template:     r.Template,
		Transport:    r.Transport,
		Endpoint:     r.Endpoint,
		Command:      cmd,
		Healthy:      r.Healthy,
		FailureCount: r.FailureCount,
		RegisteredAt: r.RegisteredAt,
		LastSeen:     r.LastSeen,
	}, nil
}

// CreateBackendInstance inserts a new backend registration. Registering the
// same instance ID twice replaces the previous row.
func (s *Store) CreateBackendInstance(ctx context.Context, inst *model.BackendInstance) error {
	inst.RegisteredAt = time.Now().UTC()

	row, err := backendRowFromModel(inst)
	if err != nil {
		return err
	}

	const q = `INSERT OR REPLACE INTO backend_instances
		(id, template, transport, endpoint, command_json, healthy, failure_count, registered_at, last_seen)
		VALUES
		(:id, :template, :transport, :endpoint, :command_json, :healthy, :failure_count, :registered_at, :last_seen)`

	if _, err := s.db.NamedExecContext(ctx, q, row); err != nil {
		return fmt.Errorf("insert backend instance: %w", err)
	}
	return nil
}

// ListBackendInstances returns all registered backend instances.
func (s *Store) ListBackendInstances(ctx context.Context) ([]model.BackendInstance, error) {
	var rows []backendRow
	if err := s.db.SelectContext(ctx, &rows, "SELECT * FROM backend_instances ORDER BY template, id"); err != nil {
		return nil, fmt.Errorf("list backend instances: %w", err)
	}
	instances := make([]model.BackendInstance, 0, len(rows))
	for _, r := range rows {
		inst, err := r.toModel()
		if err != nil {
			return nil, err
		}
		instances = append(instances, inst)
	}
	return instances, nil
}

// DeleteBackendInstance removes a backend registration by ID.
func (s *Store) DeleteBackendInstance(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM backend_instances WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete backend instance: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete backend instance rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateBackendHealth records the outcome of a health check for an instance.
func (s *Store) UpdateBackendHealth(ctx context.Context, id string, healthy bool, failureCount int) error {
	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx,
		"UPDATE backend_instances SET healthy = ?, failure_count = ?, last_seen = ? WHERE id = ?",
		healthy, failureCount, now, id)
	if err != nil {
		return fmt.Errorf("update backend health: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update backend health rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ---------------------------------------------------------------------------
// Settings
// ---------------------------------------------------------------------------

// GetSetting returns the value for a settings key.
func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	if err := s.db.GetContext(ctx, &value, "SELECT value FROM settings WHERE key = ?", key); err != nil {
		if err == sql.ErrNoRows {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("get setting: %w", err)
	}
	return value, nil
}

// SetSetting stores a settings key-value pair, replacing any existing value.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	if _, err := s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO settings (key, value) VALUES (?, ?)", key, value); err != nil {
		return fmt.Errorf("set setting: %w", err)
	}
	return nil
}
