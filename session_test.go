package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeAccountAPI struct {
	mu     sync.Mutex
	calls  int
	fail   bool
	issued int
}

func (f *fakeAccountAPI) Login(_ context.Context, req LoginRequest) (*LoginResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail {
		return nil, &APIError{HTTPStatus: 200, Code: 401, Message: "wrong password"}
	}
	f.issued++
	return &LoginResponse{
		UserID: 7,
		Token:  fmt.Sprintf("user-token-%d", f.issued),
		User:   &User{ID: 7, Email: req.Account, Nickname: "steve"},
	}, nil
}

func (f *fakeAccountAPI) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestSessionStore(t *testing.T, api AccountAPI, path string) (*SessionStore, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	store := NewSessionStore(api, path, nil)
	store.now = clock.Now
	return store, clock
}

func TestSessionTokenWithoutAccount(t *testing.T) {
	api := &fakeAccountAPI{}
	store, _ := newTestSessionStore(t, api, "")

	token, ok := store.Token(context.Background())
	require.False(t, ok)
	require.Empty(t, token)
	require.Zero(t, api.Calls())
	require.False(t, store.IsLoggedIn())
}

func TestSessionTokenFreshness(t *testing.T) {
	api := &fakeAccountAPI{}
	store, clock := newTestSessionStore(t, api, "")
	ctx := context.Background()

	cred, err := store.Login(ctx, "steve@example.com", "hunter2")
	require.NoError(t, err)
	require.Equal(t, "user-token-1", cred.Token)
	require.True(t, store.IsLoggedIn())

	clock.Advance(59 * time.Second)
	token, ok := store.Token(ctx)
	require.True(t, ok)
	require.Equal(t, "user-token-1", token)
	require.Equal(t, 1, api.Calls())

	clock.Advance(2 * time.Second)
	token, ok = store.Token(ctx)
	require.True(t, ok)
	require.Equal(t, "user-token-2", token)
	require.Equal(t, 2, api.Calls())

	token, ok = store.Token(ctx)
	require.True(t, ok)
	require.Equal(t, "user-token-2", token)
	require.Equal(t, 2, api.Calls())
}

func TestSessionRefreshFailureReturnsNoToken(t *testing.T) {
	api := &fakeAccountAPI{}
	store, clock := newTestSessionStore(t, api, "")
	ctx := context.Background()

	_, err := store.Login(ctx, "steve@example.com", "hunter2")
	require.NoError(t, err)

	api.mu.Lock()
	api.fail = true
	api.mu.Unlock()
	clock.Advance(2 * time.Minute)

	token, ok := store.Token(ctx)
	require.False(t, ok)
	require.Empty(t, token)
}

func TestSessionLoginFailureKeepsState(t *testing.T) {
	api := &fakeAccountAPI{fail: true}
	store, _ := newTestSessionStore(t, api, "")

	_, err := store.Login(context.Background(), "steve@example.com", "nope")
	require.Error(t, err)
	require.Equal(t, "wrong password", ErrorMessage(err, ""))
	require.False(t, store.IsLoggedIn())
	require.Nil(t, store.User())
}

func TestSessionLoginRequiresCredentials(t *testing.T) {
	api := &fakeAccountAPI{}
	store, _ := newTestSessionStore(t, api, "")

	_, err := store.Login(context.Background(), "", "pw")
	require.ErrorIs(t, err, ErrNoCredentials)
	require.Zero(t, api.Calls())
}

func TestSessionPersistAndRestore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chelper", "user.json")
	api := &fakeAccountAPI{}
	store, _ := newTestSessionStore(t, api, path)

	_, err := store.Login(context.Background(), "steve@example.com", "hunter2")
	require.NoError(t, err)

	raw := decodeBody(t, readFile(t, path))
	require.Equal(t, "steve@example.com", raw["account"])
	require.Equal(t, "hunter2", raw["password"])
	require.Equal(t, "user-token-1", raw["token"])
	require.NotZero(t, raw["last_login_timestamp"])

	restored := NewSessionStore(api, path, nil)
	require.True(t, restored.IsLoggedIn())
	require.Equal(t, "steve", restored.User().Nickname)
}

func TestSessionCorruptFileIsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "user.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	store := NewSessionStore(&fakeAccountAPI{}, path, nil)
	require.False(t, store.IsLoggedIn())
	_, ok := store.Token(context.Background())
	require.False(t, ok)
}

func TestSessionLogoutDeletesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "user.json")
	store, _ := newTestSessionStore(t, &fakeAccountAPI{}, path)

	_, err := store.Login(context.Background(), "steve@example.com", "hunter2")
	require.NoError(t, err)
	require.FileExists(t, path)

	require.NoError(t, store.Logout())
	require.NoFileExists(t, path)
	require.False(t, store.IsLoggedIn())

	// Logging out twice is harmless.
	require.NoError(t, store.Logout())
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}
