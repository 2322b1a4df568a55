package main

import (
	"context"
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/base64"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeGuestAPI struct {
	mu            sync.Mutex
	loginCalls    int
	registerCalls int
	registered    bool
	delay         time.Duration
	lastRequest   GuestAuthRequest
	registerFails bool
}

func (f *fakeGuestAPI) GuestLogin(_ context.Context, req GuestAuthRequest) (*LoginResponse, error) {
	time.Sleep(f.delay)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loginCalls++
	f.lastRequest = req
	if !f.registered {
		return nil, &APIError{HTTPStatus: 404, Code: 404, Message: "guest not found"}
	}
	return &LoginResponse{UserID: 42, Token: "guest-token", User: &User{ID: 42, IsGuest: true}}, nil
}

func (f *fakeGuestAPI) GuestRegister(_ context.Context, req GuestAuthRequest) (*LoginResponse, error) {
	time.Sleep(f.delay)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registerCalls++
	f.lastRequest = req
	if f.registerFails {
		return nil, &APIError{HTTPStatus: 500, Code: 500, Message: "boom"}
	}
	f.registered = true
	return &LoginResponse{UserID: 42, Token: "guest-token", User: &User{ID: 42, IsGuest: true}}, nil
}

func (f *fakeGuestAPI) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loginCalls, f.registerCalls
}

type fakeUserSession struct {
	loggedIn bool
	token    string
}

func (f *fakeUserSession) IsLoggedIn() bool { return f.loggedIn }

func (f *fakeUserSession) Token(context.Context) (string, bool) {
	return f.token, f.token != ""
}

func testIdentity() *DeviceIdentity {
	return NewDeviceIdentity(func() (string, error) { return "test-device", nil })
}

func TestEnsureLoggedInRegistersNewDevice(t *testing.T) {
	api := &fakeGuestAPI{}
	guests := NewGuestAuthenticator(testIdentity(), api, nil, nil)

	require.True(t, guests.EnsureLoggedIn(context.Background()))

	logins, registers := api.counts()
	require.Equal(t, 1, logins)
	require.Equal(t, 1, registers)

	token, ok := guests.Token()
	require.True(t, ok)
	require.Equal(t, "guest-token", token)
	require.True(t, guests.User().IsGuest)
	require.True(t, guests.IsLoggedIn())
}

func TestEnsureLoggedInSendsSignedFingerprint(t *testing.T) {
	api := &fakeGuestAPI{registered: true}
	identity := testIdentity()
	guests := NewGuestAuthenticator(identity, api, nil, nil)

	require.True(t, guests.EnsureLoggedIn(context.Background()))

	req := api.lastRequest
	require.Equal(t, identity.Fingerprint(), req.Fingerprint)
	sig, err := base64.StdEncoding.DecodeString(req.AuthCode)
	require.NoError(t, err)
	digest := sha256.Sum256([]byte(req.Fingerprint))
	require.True(t, ecdsa.VerifyASN1(identity.PublicKey(), digest[:], sig))

	_, registers := api.counts()
	require.Zero(t, registers)
}

func TestEnsureLoggedInIsSerialized(t *testing.T) {
	api := &fakeGuestAPI{delay: 10 * time.Millisecond}
	guests := NewGuestAuthenticator(testIdentity(), api, nil, nil)

	var wg sync.WaitGroup
	results := make(chan bool, 8)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- guests.EnsureLoggedIn(context.Background())
		}()
	}
	wg.Wait()
	close(results)

	for ok := range results {
		require.True(t, ok)
	}
	logins, registers := api.counts()
	require.Equal(t, 1, logins)
	require.Equal(t, 1, registers)
}

func TestEnsureLoggedInSkipsWhenUserSessionExists(t *testing.T) {
	api := &fakeGuestAPI{}
	guests := NewGuestAuthenticator(testIdentity(), api, &fakeUserSession{loggedIn: true, token: "u"}, nil)

	require.True(t, guests.EnsureLoggedIn(context.Background()))
	logins, registers := api.counts()
	require.Zero(t, logins)
	require.Zero(t, registers)
}

func TestEnsureLoggedInFailure(t *testing.T) {
	api := &fakeGuestAPI{registerFails: true}
	guests := NewGuestAuthenticator(testIdentity(), api, nil, nil)

	require.False(t, guests.EnsureLoggedIn(context.Background()))
	require.False(t, guests.IsLoggedIn())
	_, ok := guests.Token()
	require.False(t, ok)
}

func TestEnsureLoggedInWithoutProof(t *testing.T) {
	api := &fakeGuestAPI{registered: true}
	identity := &DeviceIdentity{source: func() (string, error) { return "x", nil }, keyData: "broken"}
	guests := NewGuestAuthenticator(identity, api, nil, nil)

	require.False(t, guests.EnsureLoggedIn(context.Background()))
	logins, registers := api.counts()
	require.Zero(t, logins)
	require.Zero(t, registers)
}

func TestGuestClear(t *testing.T) {
	api := &fakeGuestAPI{registered: true}
	guests := NewGuestAuthenticator(testIdentity(), api, nil, nil)
	require.True(t, guests.EnsureLoggedIn(context.Background()))

	guests.Clear()
	require.False(t, guests.IsLoggedIn())
	require.Nil(t, guests.User())
}
