package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type fakeSessions struct {
	entries map[string]string
}

func (f *fakeSessions) Get(_ context.Context, token string) (string, error) {
	return f.entries[token], nil
}

func (f *fakeSessions) SetWithTTL(_ context.Context, token, identity string, _ time.Duration) error {
	f.entries[token] = identity
	return nil
}

type fakeCredentials struct {
	hashes map[string]string
}

func (f *fakeCredentials) Exists(_ context.Context, username string) (bool, error) {
	_, ok := f.hashes[username]
	return ok, nil
}

func (f *fakeCredentials) Create(_ context.Context, username, passwordHash string) error {
	if _, ok := f.hashes[username]; ok {
		return ErrUsernameTaken
	}
	f.hashes[username] = passwordHash
	return nil
}

func (f *fakeCredentials) PasswordHash(_ context.Context, username string) (string, bool, error) {
	hash, ok := f.hashes[username]
	return hash, ok, nil
}

func newTestGateway() (*Gateway, *fakeSessions, *fakeCredentials) {
	sessions := &fakeSessions{entries: map[string]string{}}
	creds := &fakeCredentials{hashes: map[string]string{}}
	return NewGateway(sessions, creds, time.Hour), sessions, creds
}

func TestAuthenticate(t *testing.T) {
	gw, sessions, creds := newTestGateway()
	ctx := context.Background()

	hash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	require.NoError(t, err)
	creds.hashes["alice"] = string(hash)
	sessions.entries["tok-1"] = "alice"

	identity, err := gw.Authenticate(ctx, "tok-1")
	require.NoError(t, err)
	assert.Equal(t, "alice", identity)
}

func TestAuthenticateMissingToken(t *testing.T) {
	gw, _, _ := newTestGateway()

	_, err := gw.Authenticate(context.Background(), "")
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestAuthenticateUnknownSession(t *testing.T) {
	gw, _, _ := newTestGateway()

	_, err := gw.Authenticate(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestAuthenticateDeletedAccount(t *testing.T) {
	gw, sessions, _ := newTestGateway()

	// Session survived the account: the gateway must reject it.
	sessions.entries["tok-1"] = "ghost"

	_, err := gw.Authenticate(context.Background(), "tok-1")
	assert.ErrorIs(t, err, ErrUnknownIdentity)
}

func TestRegisterAndLogin(t *testing.T) {
	gw, sessions, _ := newTestGateway()
	ctx := context.Background()

	require.NoError(t, gw.Register(ctx, "alice", "secret"))

	token, err := gw.Login(ctx, "alice", "secret")
	require.NoError(t, err)
	require.NotEmpty(t, token)
	assert.Equal(t, "alice", sessions.entries[token])

	identity, err := gw.Authenticate(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "alice", identity)
}

func TestRegisterDuplicateUsername(t *testing.T) {
	gw, _, _ := newTestGateway()
	ctx := context.Background()

	require.NoError(t, gw.Register(ctx, "alice", "secret"))
	assert.ErrorIs(t, gw.Register(ctx, "alice", "other"), ErrUsernameTaken)
}

func TestLoginWrongPassword(t *testing.T) {
	gw, _, _ := newTestGateway()
	ctx := context.Background()

	require.NoError(t, gw.Register(ctx, "alice", "secret"))

	_, err := gw.Login(ctx, "alice", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLoginUnknownUser(t *testing.T) {
	gw, _, _ := newTestGateway()

	_, err := gw.Login(context.Background(), "nobody", "secret")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}
