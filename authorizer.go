package main

import (
	"context"
	"strings"

	http "github.com/bogdanfinn/fhttp"
)

// authBootstrapPaths never carry a bearer token: resolving one may itself
// call these endpoints, and attaching it there would recurse.
var authBootstrapPaths = []string{
	"/guest/login",
	"/guest/register",
	"/login",
	"/register",
	"/captcha",
}

func isAuthBootstrapPath(path string) bool {
	path = strings.ToLower(path)
	for _, p := range authBootstrapPaths {
		if strings.Contains(path, p) {
			return true
		}
	}
	return false
}

// CookieSource supplies the cached WAF cookie.
type CookieSource interface {
	Cookie() (string, bool)
}

// TokenSource resolves the bearer token for a request.
type TokenSource interface {
	BearerToken(ctx context.Context) string
}

// CredentialChain prefers the registered-user token and falls back to the
// guest token, logging the device in as a guest when neither is held.
type CredentialChain struct {
	Users  *SessionStore
	Guests *GuestAuthenticator
}

func (c *CredentialChain) BearerToken(ctx context.Context) string {
	if c.Users != nil {
		if token, ok := c.Users.Token(ctx); ok {
			return token
		}
	}
	if c.Guests == nil {
		return ""
	}
	if token, ok := c.Guests.Token(); ok {
		return token
	}
	if c.Guests.EnsureLoggedIn(ctx) {
		// EnsureLoggedIn may have succeeded through a user session.
		if c.Users != nil {
			if token, ok := c.Users.Token(ctx); ok {
				return token
			}
		}
		token, _ := c.Guests.Token()
		return token
	}
	return ""
}

// RequestAuthorizer decorates every request to the protected host with the
// WAF cookie, the bearer token and rate limiting. Requests to any other host
// pass through untouched.
type RequestAuthorizer struct {
	next    Doer
	host    string
	cookies CookieSource
	limiter *RateLimiter
	tokens  TokenSource
	logger  Logger
}

func NewRequestAuthorizer(next Doer, host string, cookies CookieSource, limiter *RateLimiter, logger Logger) *RequestAuthorizer {
	return &RequestAuthorizer{
		next:    next,
		host:    strings.ToLower(host),
		cookies: cookies,
		limiter: limiter,
		logger:  withPrefix(logger, "auth"),
	}
}

// SetTokenSource installs the token resolver. The resolver itself issues
// requests through this authorizer, so it is wired after construction and
// must be set before the first request.
func (a *RequestAuthorizer) SetTokenSource(tokens TokenSource) {
	a.tokens = tokens
}

func (a *RequestAuthorizer) Do(req *http.Request) (*http.Response, error) {
	if !strings.EqualFold(req.URL.Hostname(), a.host) {
		return a.next.Do(req)
	}

	ctx := req.Context()
	req = req.Clone(ctx)
	if req.Header == nil {
		req.Header = http.Header{}
	}

	if a.cookies != nil {
		if cookie, ok := a.cookies.Cookie(); ok {
			req.Header.Set("Cookie", cookie)
		}
	}

	if a.tokens != nil && !isAuthBootstrapPath(req.URL.EscapedPath()) {
		if token := a.tokens.BearerToken(ctx); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		} else {
			a.logger.Log("No token for %s %s, sending unauthenticated", req.Method, req.URL.Path)
		}
	}

	if a.limiter != nil {
		if err := a.limiter.Guard(ctx, req.URL.Hostname()); err != nil {
			return nil, err
		}
	}

	return a.next.Do(req)
}
