package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	http "github.com/bogdanfinn/fhttp"
)

const (
	// envelopeSuccess is the envelope code the backend uses for success.
	envelopeSuccess = 200

	// maxGetAttempts bounds retries of idempotent calls on transient errors.
	maxGetAttempts = 3
)

// baseResult is the envelope every Command Lab endpoint responds with.
type baseResult[T any] struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    *T     `json:"data"`
}

// User is the account record returned by login endpoints.
type User struct {
	ID          int    `json:"id"`
	Email       string `json:"email,omitempty"`
	Nickname    string `json:"nickname,omitempty"`
	IsGuest     bool   `json:"is_guest"`
	IsAdmin     bool   `json:"is_admin"`
	IsModerator bool   `json:"is_moderator"`
	GravatarURL string `json:"gravatar_url,omitempty"`
}

// LoginResponse is returned by both guest and account logins.
type LoginResponse struct {
	UserID int    `json:"user_id"`
	Token  string `json:"token"`
	User   *User  `json:"user"`
}

// GuestAuthRequest proves possession of a device fingerprint.
type GuestAuthRequest struct {
	Fingerprint string `json:"fingerprint"`
	AuthCode    string `json:"auth_code"`
}

type LoginRequest struct {
	Account  string `json:"account"`
	Password string `json:"password"`
}

// Verification code purposes for SendCodeRequest.Type.
const (
	SendCodeRegister       = 0
	SendCodeUpdatePassword = 1
	SendCodeResetPassword  = 2
)

// SendCodeRequest asks for an e-mail/SMS code; SpecialCode must come from a
// verified CAPTCHA.
type SendCodeRequest struct {
	SpecialCode string `json:"special_code"`
	Type        int    `json:"type"`
	Email       string `json:"email,omitempty"`
	Phone       string `json:"phone,omitempty"`
	Lang        string `json:"lang"`
}

type RegisterRequest struct {
	SpecialCode string `json:"special_code"`
	Code        string `json:"code"`
	Email       string `json:"email,omitempty"`
	Phone       string `json:"phone,omitempty"`
	Nickname    string `json:"nickname"`
	Password    string `json:"password"`
	AndroidID   string `json:"android_id,omitempty"`
}

// LabAPI is the typed client for the Command Lab backend. All calls go through
// the Doer it was built with, normally the RequestAuthorizer.
type LabAPI struct {
	client  Doer
	baseURL *url.URL
	profile *BrowserProfile
	logger  Logger
	backoff func(attempt int) time.Duration
}

func NewLabAPI(client Doer, baseURL string, logger Logger) (*LabAPI, error) {
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("invalid base url %q: missing host", baseURL)
	}
	return &LabAPI{
		client:  client,
		baseURL: parsed,
		profile: DefaultProfile,
		logger:  withPrefix(logger, "api"),
		backoff: func(attempt int) time.Duration { return time.Duration(1<<attempt) * 500 * time.Millisecond },
	}, nil
}

// BaseURL returns the backend base URL without a trailing slash.
func (a *LabAPI) BaseURL() string {
	return strings.TrimSuffix(a.baseURL.String(), "/")
}

// Host returns the protected backend host.
func (a *LabAPI) Host() string {
	return a.baseURL.Hostname()
}

// =============================================================================
// Guest
// =============================================================================

func (a *LabAPI) GuestLogin(ctx context.Context, req GuestAuthRequest) (*LoginResponse, error) {
	return requireData(callJSON[LoginResponse](ctx, a, http.MethodPost, "guest/login", nil, req))
}

func (a *LabAPI) GuestRegister(ctx context.Context, req GuestAuthRequest) (*LoginResponse, error) {
	return requireData(callJSON[LoginResponse](ctx, a, http.MethodPost, "guest/register", nil, req))
}

// GuestMigrate calls the guest-to-account migration endpoint. The backend
// contract exists but no flow in this client performs a migration.
func (a *LabAPI) GuestMigrate(ctx context.Context, req GuestAuthRequest) error {
	_, err := callJSON[struct{}](ctx, a, http.MethodPost, "guest/migrate", nil, req)
	return err
}

// =============================================================================
// Account
// =============================================================================

func (a *LabAPI) Login(ctx context.Context, req LoginRequest) (*LoginResponse, error) {
	return requireData(callJSON[LoginResponse](ctx, a, http.MethodPost, "register/login", nil, req))
}

func (a *LabAPI) SendCode(ctx context.Context, req SendCodeRequest) error {
	if req.Lang == "" {
		req.Lang = "zh-CN"
	}
	_, err := callJSON[struct{}](ctx, a, http.MethodPost, "register/sendCode", nil, req)
	return err
}

func (a *LabAPI) Register(ctx context.Context, req RegisterRequest) error {
	_, err := callJSON[struct{}](ctx, a, http.MethodPost, "register", nil, req)
	return err
}

// =============================================================================
// Transport
// =============================================================================

// callJSON performs one envelope call. GETs are retried on transient errors
// with exponential backoff; other methods are sent once.
func callJSON[T any](ctx context.Context, a *LabAPI, method, path string, query url.Values, body any) (*T, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal %s body: %w", path, err)
		}
	}

	attempts := 1
	if method == http.MethodGet {
		attempts = maxGetAttempts
	}

	var lastErr error
	for attempt := range attempts {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(a.backoff(attempt)):
			}
		}

		result, err := doEnvelope[T](ctx, a, method, path, query, payload)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !IsRetryableError(err) || ctx.Err() != nil {
			break
		}
		a.logger.Log("%s %s failed (attempt %d/%d): %v", method, path, attempt+1, attempts, err)
	}
	return nil, lastErr
}

func doEnvelope[T any](ctx context.Context, a *LabAPI, method, path string, query url.Values, payload []byte) (*T, error) {
	target := a.baseURL.ResolveReference(&url.URL{Path: path})
	if len(query) > 0 {
		target.RawQuery = query.Encode()
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target.String(), reader)
	if err != nil {
		return nil, err
	}
	req.Header = apiHeaders(a.profile, payload != nil)

	resp, err := a.client.Do(req)
	if err != nil {
		a.logger.Log("%s %s -> error: %v", method, target.Path, err)
		return nil, err
	}
	defer resp.Body.Close()
	a.logger.Log("%s %s -> %d", method, target.Path, resp.StatusCode)

	raw, err := readResponseBody(resp)
	if err != nil {
		return nil, err
	}

	var envelope baseResult[T]
	if err := json.Unmarshal(raw, &envelope); err != nil {
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return nil, &APIError{HTTPStatus: resp.StatusCode, Code: resp.StatusCode}
		}
		return nil, fmt.Errorf("failed to parse %s response: %w", target.Path, err)
	}

	if envelope.Code != envelopeSuccess || resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{HTTPStatus: resp.StatusCode, Code: envelope.Code, Message: envelope.Message}
	}

	if envelope.Data == nil {
		return new(T), nil
	}
	return envelope.Data, nil
}

// requireData rejects a successful envelope whose payload is empty.
func requireData(resp *LoginResponse, err error) (*LoginResponse, error) {
	if err != nil {
		return nil, err
	}
	if resp.Token == "" || resp.User == nil {
		return nil, &APIError{HTTPStatus: 200, Code: envelopeSuccess, Message: "login response missing token or user"}
	}
	return resp, nil
}
