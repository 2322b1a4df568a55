package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// tokenFreshness is how long an issued user token is reused without re-login.
const tokenFreshness = 60 * time.Second

// AccountAPI is the backend surface SessionStore needs.
type AccountAPI interface {
	Login(ctx context.Context, req LoginRequest) (*LoginResponse, error)
}

// UserCredential is a full-account session.
type UserCredential struct {
	Account  string
	Token    string
	IssuedAt time.Time
	User     *User
}

// savedSession is the on-disk layout of the user session file.
type savedSession struct {
	Account            string `json:"account"`
	Password           string `json:"password"`
	Token              string `json:"token"`
	LastLoginTimestamp int64  `json:"last_login_timestamp"`
	User               *User  `json:"user"`
}

// SessionStore holds the registered-user credential and keeps its token fresh
// by replaying the stored account/password.
type SessionStore struct {
	api    AccountAPI
	path   string
	logger Logger
	now    func() time.Time

	mu       sync.Mutex
	account  string
	password string
	token    string
	issuedAt time.Time
	user     *User
}

// NewSessionStore restores any session persisted at path. A missing or
// corrupt file yields an empty store.
func NewSessionStore(api AccountAPI, path string, logger Logger) *SessionStore {
	s := &SessionStore{
		api:    api,
		path:   path,
		logger: withPrefix(logger, "session"),
		now:    time.Now,
	}
	s.restore()
	return s
}

func (s *SessionStore) restore() {
	if s.path == "" {
		return
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Log("Cannot read session file: %v", err)
		}
		return
	}

	var saved savedSession
	if err := json.Unmarshal(data, &saved); err != nil {
		s.logger.Log("Ignoring corrupt session file: %v", err)
		return
	}

	s.account = saved.Account
	s.password = saved.Password
	s.token = saved.Token
	s.user = saved.User
	if saved.LastLoginTimestamp > 0 {
		s.issuedAt = time.UnixMilli(saved.LastLoginTimestamp)
	}
}

// Login authenticates with account/password. On success the credentials are
// kept for silent refresh and persisted; on failure nothing changes.
func (s *SessionStore) Login(ctx context.Context, account, password string) (*UserCredential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loginLocked(ctx, account, password)
}

func (s *SessionStore) loginLocked(ctx context.Context, account, password string) (*UserCredential, error) {
	if account == "" || password == "" {
		return nil, ErrNoCredentials
	}
	resp, err := s.api.Login(ctx, LoginRequest{Account: account, Password: password})
	if err != nil {
		return nil, fmt.Errorf("login failed: %w", err)
	}

	s.account = account
	s.password = password
	s.token = resp.Token
	s.user = resp.User
	s.issuedAt = s.now()

	if err := s.persistLocked(); err != nil {
		s.logger.Log("Failed to persist session: %v", err)
	}

	return &UserCredential{Account: account, Token: s.token, IssuedAt: s.issuedAt, User: s.user}, nil
}

// Token returns the user bearer token. A token younger than tokenFreshness is
// returned as is; an older one is reissued by replaying the stored
// credentials. ok is false when no account is stored or the refresh failed.
func (s *SessionStore) Token(ctx context.Context) (token string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.account == "" || s.password == "" {
		return "", false
	}

	if s.token != "" && !s.issuedAt.IsZero() && s.now().Sub(s.issuedAt) < tokenFreshness {
		return s.token, true
	}

	cred, err := s.loginLocked(ctx, s.account, s.password)
	if err != nil {
		s.logger.Log("Token refresh failed: %v", err)
		return "", false
	}
	return cred.Token, true
}

// IsLoggedIn reports whether a user token and user record are held.
func (s *SessionStore) IsLoggedIn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token != "" && s.user != nil
}

func (s *SessionStore) User() *User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user
}

// Logout forgets the session and deletes the persisted file.
func (s *SessionStore) Logout() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.account = ""
	s.password = ""
	s.token = ""
	s.user = nil
	s.issuedAt = time.Time{}

	if s.path == "" {
		return nil
	}
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove session file: %w", err)
	}
	return nil
}

// persistLocked writes the session as one document via rename so readers
// never observe a partial file.
func (s *SessionStore) persistLocked() error {
	if s.path == "" {
		return nil
	}

	data, err := json.Marshal(savedSession{
		Account:            s.account,
		Password:           s.password,
		Token:              s.token,
		LastLoginTimestamp: s.issuedAt.UnixMilli(),
		User:               s.user,
	})
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".session-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}
