package main

import (
	"context"
	"sync"
)

// GuestAPI is the backend surface GuestAuthenticator needs.
type GuestAPI interface {
	GuestLogin(ctx context.Context, req GuestAuthRequest) (*LoginResponse, error)
	GuestRegister(ctx context.Context, req GuestAuthRequest) (*LoginResponse, error)
}

// UserSession is the registered-user side consulted before guest auth.
type UserSession interface {
	IsLoggedIn() bool
	Token(ctx context.Context) (string, bool)
}

// GuestAuthenticator logs the device in as a guest, registering it on first
// use. Guest sessions live in memory only: the fingerprint is stable, so a new
// process simply authenticates again.
type GuestAuthenticator struct {
	identity *DeviceIdentity
	api      GuestAPI
	users    UserSession
	logger   Logger

	// ensureMu serialises EnsureLoggedIn so overlapping callers never register twice.
	ensureMu sync.Mutex

	mu    sync.RWMutex
	token string
	user  *User
}

func NewGuestAuthenticator(identity *DeviceIdentity, api GuestAPI, users UserSession, logger Logger) *GuestAuthenticator {
	return &GuestAuthenticator{
		identity: identity,
		api:      api,
		users:    users,
		logger:   withPrefix(logger, "guest"),
	}
}

// IsLoggedIn reports whether a user session or a guest token+user pair is held.
func (g *GuestAuthenticator) IsLoggedIn() bool {
	if g.users != nil && g.users.IsLoggedIn() {
		return true
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.token != "" && g.user != nil
}

// Token returns the cached guest token.
func (g *GuestAuthenticator) Token() (string, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.token, g.token != ""
}

func (g *GuestAuthenticator) User() *User {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.user
}

// Clear drops the in-memory guest session.
func (g *GuestAuthenticator) Clear() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.token = ""
	g.user = nil
}

// EnsureLoggedIn returns true when a user or guest session is available,
// performing guest login (then registration) if neither is.
func (g *GuestAuthenticator) EnsureLoggedIn(ctx context.Context) bool {
	g.ensureMu.Lock()
	defer g.ensureMu.Unlock()

	if g.IsLoggedIn() {
		return true
	}
	if g.users != nil {
		if _, ok := g.users.Token(ctx); ok {
			return true
		}
	}

	fingerprint := g.identity.Fingerprint()
	if g.authenticate(ctx, "login", fingerprint, g.api.GuestLogin) {
		return true
	}
	return g.authenticate(ctx, "register", fingerprint, g.api.GuestRegister)
}

type guestCall func(ctx context.Context, req GuestAuthRequest) (*LoginResponse, error)

// authenticate signs a fresh proof and runs one guest call. Every failure,
// including a missing proof, is reported as false.
func (g *GuestAuthenticator) authenticate(ctx context.Context, name, fingerprint string, call guestCall) bool {
	proof, err := g.identity.Sign(fingerprint)
	if err != nil {
		g.logger.Log("Skipping guest %s: %v", name, err)
		return false
	}

	resp, err := call(ctx, GuestAuthRequest{Fingerprint: fingerprint, AuthCode: proof})
	if err != nil {
		g.logger.Log("Guest %s failed: %v", name, err)
		return false
	}
	if resp == nil || resp.Token == "" || resp.User == nil {
		g.logger.Log("Guest %s returned no session", name)
		return false
	}

	g.mu.Lock()
	g.token = resp.Token
	g.user = resp.User
	g.mu.Unlock()

	g.logger.Log("Guest %s succeeded (user %d)", name, resp.User.ID)
	return true
}
