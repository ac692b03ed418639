package model

import "time"

// User represents a gateway operator account. Passwords are stored as bcrypt
// hashes and are never exposed through the API.
type User struct {
	ID             int64      `json:"id" db:"id"`
	Username       string     `json:"username" db:"username"`
	HashedPassword string     `json:"-" db:"hashed_password"` // bcrypt hash, never expose
	Email          string     `json:"email,omitempty" db:"email"`
	FullName       string     `json:"full_name,omitempty" db:"full_name"`
	IsActive       bool       `json:"is_active" db:"is_active"`
	IsSuperuser    bool       `json:"is_superuser" db:"is_superuser"`
	LastLoginAt    *time.Time `json:"last_login_at,omitempty" db:"last_login_at"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
}
