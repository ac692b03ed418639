package store

import (
	"fmt"
	"strings"
)

func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT UNIQUE NOT NULL,
			hashed_password TEXT NOT NULL,
			email TEXT NOT NULL DEFAULT '',
			full_name TEXT NOT NULL DEFAULT '',
			is_active INTEGER NOT NULL DEFAULT 1,
			is_superuser INTEGER NOT NULL DEFAULT 0,
			last_login_at DATETIME,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS api_keys (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			key_hash TEXT NOT NULL,
			user_id INTEGER NOT NULL REFERENCES users(id),
			scopes_json TEXT NOT NULL DEFAULT '[]',
			is_active INTEGER NOT NULL DEFAULT 1,
			expires_at DATETIME,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			last_used DATETIME
		)`,

		`CREATE TABLE IF NOT EXISTS backend_instances (
			id TEXT PRIMARY KEY,
			template TEXT NOT NULL,
			transport TEXT NOT NULL DEFAULT 'http',
			endpoint TEXT NOT NULL DEFAULT '',
			command_json TEXT NOT NULL DEFAULT '[]',
			healthy INTEGER NOT NULL DEFAULT 1,
			failure_count INTEGER NOT NULL DEFAULT 0,
			registered_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			last_seen DATETIME
		)`,

		`CREATE INDEX IF NOT EXISTS idx_backend_instances_template ON backend_instances(template)`,

		// v2: Key-value settings table (telemetry opt-out, instance ID).
		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL DEFAULT ''
		)`,

		// v3: Server-keyed HMAC digest of the key secret for indexed lookup.
		// Nullable: keys created before this column exist only via key_hash.
		`ALTER TABLE api_keys ADD COLUMN key_hmac TEXT NOT NULL DEFAULT ''`,
		`CREATE INDEX IF NOT EXISTS idx_api_keys_hmac ON api_keys(key_hmac)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			// SQLite ALTER TABLE ADD COLUMN fails if the column already
			// exists; treat "duplicate column" as a no-op so migrations
			// stay idempotent.
			if strings.Contains(err.Error(), "duplicate column") {
				continue
			}
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}
