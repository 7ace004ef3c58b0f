package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/aaronwang/vehicle-auctions/internal/store"
)

// PostgresCredentials is the PostgreSQL-backed credential store.
type PostgresCredentials struct {
	db *sql.DB
}

// NewPostgresCredentials creates a credential store on an existing handle.
func NewPostgresCredentials(db *sql.DB) *PostgresCredentials {
	return &PostgresCredentials{db: db}
}

// Exists reports whether an account with the username exists.
func (c *PostgresCredentials) Exists(ctx context.Context, username string) (bool, error) {
	var exists bool
	err := c.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM users WHERE username = $1)
	`, username).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("query user exists: %w", err)
	}
	return exists, nil
}

// Create inserts a new account. Duplicate usernames fail with
// ErrUsernameTaken.
func (c *PostgresCredentials) Create(ctx context.Context, username, passwordHash string) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO users (username, password_hash) VALUES ($1, $2)
	`, username, passwordHash)
	if store.IsUniqueViolation(err) {
		return ErrUsernameTaken
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// PasswordHash returns the stored password hash for a username.
func (c *PostgresCredentials) PasswordHash(ctx context.Context, username string) (string, bool, error) {
	var hash string
	err := c.db.QueryRowContext(ctx, `
		SELECT password_hash FROM users WHERE username = $1
	`, username).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("query password hash: %w", err)
	}
	return hash, true, nil
}
