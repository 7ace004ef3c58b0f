// Package auth implements the session/identity gateway: session tokens
// live in Redis, credentials live in PostgreSQL, and every mutating
// request resolves its caller through Authenticate.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrUnauthenticated    = errors.New("invalid or expired session")
	ErrUnknownIdentity    = errors.New("session identity no longer exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUsernameTaken      = errors.New("username already taken")
)

// SessionStore is a key-value store with expiring entries.
type SessionStore interface {
	// Get resolves a token to an identity. Absent or expired tokens
	// return an empty identity with a nil error.
	Get(ctx context.Context, token string) (string, error)
	SetWithTTL(ctx context.Context, token, identity string, ttl time.Duration) error
}

// CredentialStore holds registered accounts.
type CredentialStore interface {
	Exists(ctx context.Context, username string) (bool, error)
	Create(ctx context.Context, username, passwordHash string) error
	// PasswordHash returns the stored hash and whether the account exists.
	PasswordHash(ctx context.Context, username string) (string, bool, error)
}

// Gateway resolves session tokens to identities and manages accounts.
type Gateway struct {
	sessions    SessionStore
	credentials CredentialStore
	sessionTTL  time.Duration
}

// NewGateway creates a gateway issuing sessions with the given TTL.
func NewGateway(sessions SessionStore, credentials CredentialStore, sessionTTL time.Duration) *Gateway {
	return &Gateway{
		sessions:    sessions,
		credentials: credentials,
		sessionTTL:  sessionTTL,
	}
}

// Authenticate resolves a session token to an identity. The identity is
// re-checked against the credential store so sessions of deleted accounts
// stop working. Read-only.
func (g *Gateway) Authenticate(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", ErrUnauthenticated
	}

	identity, err := g.sessions.Get(ctx, token)
	if err != nil {
		return "", fmt.Errorf("resolve session: %w", err)
	}
	if identity == "" {
		return "", ErrUnauthenticated
	}

	exists, err := g.credentials.Exists(ctx, identity)
	if err != nil {
		return "", fmt.Errorf("check identity: %w", err)
	}
	if !exists {
		return "", ErrUnknownIdentity
	}
	return identity, nil
}

// Register creates a new account with a bcrypt-hashed password.
func (g *Gateway) Register(ctx context.Context, username, password string) error {
	if username == "" || password == "" {
		return ErrInvalidCredentials
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	return g.credentials.Create(ctx, username, string(hash))
}

// Login verifies the password and issues a new session token.
func (g *Gateway) Login(ctx context.Context, username, password string) (string, error) {
	hash, found, err := g.credentials.PasswordHash(ctx, username)
	if err != nil {
		return "", fmt.Errorf("load credentials: %w", err)
	}
	if !found {
		return "", ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return "", ErrInvalidCredentials
	}

	token := uuid.NewString()
	if err := g.sessions.SetWithTTL(ctx, token, username, g.sessionTTL); err != nil {
		return "", fmt.Errorf("save session: %w", err)
	}
	return token, nil
}
