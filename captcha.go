package main

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	http "github.com/bogdanfinn/fhttp"
	"github.com/google/uuid"
)

// =============================================================================
// Captcha API
// =============================================================================

// Server-side CAPTCHA states. The client only observes them.
const (
	CaptchaStatusPending     = "pending"
	CaptchaStatusChallenging = "challenging"
	CaptchaStatusVerified    = "verified"
	CaptchaStatusFailed      = "failed"
	CaptchaStatusUsed        = "used"
)

// Action labels the backend recognises. Free-form labels are accepted too.
const (
	CaptchaActionRegister       = "注册账号"
	CaptchaActionUpdatePassword = "更新密码"
	CaptchaActionDeleteAccount  = "弃用账号"
	CaptchaActionPublish        = "publish"
)

type CaptchaTokenRequest struct {
	SpecialCode string `json:"special_code"`
	Action      string `json:"action"`
}

type CaptchaTokenResponse struct {
	VerificationToken string `json:"verification_token"`
	Action            string `json:"action"`
	SpecialCode       string `json:"special_code"`
}

type CaptchaStatusResponse struct {
	SpecialCode string `json:"special_code"`
	Status      string `json:"status"`
	Action      string `json:"action"`
}

func (a *LabAPI) RequestCaptchaToken(ctx context.Context, req CaptchaTokenRequest) (*CaptchaTokenResponse, error) {
	return callJSON[CaptchaTokenResponse](ctx, a, http.MethodPost, "captcha", nil, req)
}

func (a *LabAPI) CaptchaStatus(ctx context.Context, specialCode string) (*CaptchaStatusResponse, error) {
	return callJSON[CaptchaStatusResponse](ctx, a, http.MethodGet, "captcha/status", url.Values{"special_code": {specialCode}}, nil)
}

// =============================================================================
// Flow
// =============================================================================

const (
	captchaBridgeName   = "android"
	captchaCallbackName = "androidCallback"

	captchaPollInterval = 1500 * time.Millisecond
	captchaTimeout      = 300 * time.Second
)

// captchaScript is evaluated after the verification page loads. Both the
// callback and the message listener end up in the bridge's onSuccess.
const captchaScript = `window.handleCaptcha = function(data) {
    if (!data) return;
    if (data.status === 'verified' && data.special_code) {
        android.onSuccess(data.special_code);
    }
};
window.androidCallback = function(data) {
    window.handleCaptcha(data);
};
window.addEventListener('message', function(event) {
    if (event.data && event.data.type === 'captcha_result') {
        window.handleCaptcha(event.data);
    }
});`

// CaptchaAPI is the backend surface CaptchaFlow needs.
type CaptchaAPI interface {
	RequestCaptchaToken(ctx context.Context, req CaptchaTokenRequest) (*CaptchaTokenResponse, error)
	CaptchaStatus(ctx context.Context, specialCode string) (*CaptchaStatusResponse, error)
}

type CaptchaState int32

const (
	CaptchaIdle CaptchaState = iota
	CaptchaTokenRequested
	CaptchaVerifying
	CaptchaSucceeded
	CaptchaFailed
	CaptchaCancelled
)

func (s CaptchaState) String() string {
	switch s {
	case CaptchaIdle:
		return "idle"
	case CaptchaTokenRequested:
		return "token-requested"
	case CaptchaVerifying:
		return "verifying"
	case CaptchaSucceeded:
		return "succeeded"
	case CaptchaFailed:
		return "failed"
	case CaptchaCancelled:
		return "cancelled"
	}
	return fmt.Sprintf("CaptchaState(%d)", int32(s))
}

// Terminal reports whether s is one of the sticky end states.
func (s CaptchaState) Terminal() bool {
	return s >= CaptchaSucceeded
}

// CaptchaResult is the single outcome of a flow. SpecialCode is set on
// success and Message on failure.
type CaptchaResult struct {
	State       CaptchaState
	SpecialCode string
	Message     string
}

// Err is nil on success and ErrCaptchaCancelled after a cancellation.
func (r CaptchaResult) Err() error {
	switch r.State {
	case CaptchaSucceeded:
		return nil
	case CaptchaCancelled:
		return ErrCaptchaCancelled
	case CaptchaFailed:
		return errors.New(r.Message)
	}
	return fmt.Errorf("captcha flow still %s", r.State)
}

// CaptchaFlow obtains a verified special code for one action. The in-page
// bridge, the status poller and cancellation race to resolve it; only the
// first one counts.
type CaptchaFlow struct {
	api     CaptchaAPI
	baseURL string
	surface WebSurface
	ui      *Looper
	logger  Logger

	pollInterval time.Duration
	timeout      time.Duration
	newID        func() string

	state   atomic.Int32
	started atomic.Bool
	loaded  atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc

	once   sync.Once
	done   chan struct{}
	result CaptchaResult
}

func NewCaptchaFlow(api CaptchaAPI, baseURL string, surface WebSurface, ui *Looper, logger Logger) *CaptchaFlow {
	return &CaptchaFlow{
		api:          api,
		baseURL:      baseURL,
		surface:      surface,
		ui:           ui,
		logger:       withPrefix(logger, "captcha"),
		pollInterval: captchaPollInterval,
		timeout:      captchaTimeout,
		newID:        uuid.NewString,
		cancel:       func() {},
		done:         make(chan struct{}),
	}
}

// Start launches the flow and returns immediately. Cancelling ctx, like
// calling Cancel, resolves the flow as cancelled rather than failed.
func (f *CaptchaFlow) Start(ctx context.Context, action string) {
	if !f.started.CompareAndSwap(false, true) {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	f.mu.Lock()
	f.cancel = cancel
	f.mu.Unlock()
	if f.State().Terminal() {
		cancel()
		return
	}
	go f.run(ctx, action)
}

// Run starts the flow and blocks until it resolves.
func (f *CaptchaFlow) Run(ctx context.Context, action string) CaptchaResult {
	f.Start(ctx, action)
	<-f.done
	return f.result
}

// Done is closed once the flow has resolved.
func (f *CaptchaFlow) Done() <-chan struct{} {
	return f.done
}

// Result is only meaningful after Done is closed.
func (f *CaptchaFlow) Result() CaptchaResult {
	select {
	case <-f.done:
		return f.result
	default:
		return CaptchaResult{State: f.State()}
	}
}

func (f *CaptchaFlow) State() CaptchaState {
	return CaptchaState(f.state.Load())
}

// Cancel resolves the flow as cancelled. Results arriving later are dropped.
func (f *CaptchaFlow) Cancel() {
	f.resolve(CaptchaResult{State: CaptchaCancelled})
}

func (f *CaptchaFlow) run(ctx context.Context, action string) {
	specialCode := f.newID()
	f.advance(CaptchaTokenRequested)

	resp, err := f.api.RequestCaptchaToken(ctx, CaptchaTokenRequest{SpecialCode: specialCode, Action: action})
	if ctx.Err() != nil {
		f.resolve(CaptchaResult{State: CaptchaCancelled})
		return
	}
	if err != nil {
		f.logger.Log("Token request failed: %v", err)
		f.fail(ErrorMessage(err, "failed to obtain verification token"))
		return
	}
	if resp == nil || resp.VerificationToken == "" {
		f.fail("failed to obtain verification token")
		return
	}

	target := f.verificationURL(resp.VerificationToken)
	f.advance(CaptchaVerifying)
	f.ui.Post(func() {
		if f.State().Terminal() {
			return
		}
		f.surface.Configure(SurfaceSettings{JavaScript: true, DOMStorage: true, UserAgent: AndroidChromeUserAgent})
		f.surface.Bind(captchaBridgeName, &captchaBridge{flow: f})
		f.surface.SetListener(&captchaPage{flow: f})
		f.loaded.Store(true)
		f.logger.Log("Loading verification page")
		f.surface.Load(target)
	})

	f.poll(ctx, specialCode)
}

// poll is the fallback channel for pages that never reach the bridge.
// Errors are retried on the next tick.
func (f *CaptchaFlow) poll(ctx context.Context, specialCode string) {
	deadline := time.Now().Add(f.timeout)
	timer := time.NewTimer(f.pollInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			f.resolve(CaptchaResult{State: CaptchaCancelled})
			return
		case <-f.done:
			return
		case <-timer.C:
		}

		if time.Now().After(deadline) {
			f.fail("verification timed out")
			return
		}

		status, err := f.api.CaptchaStatus(ctx, specialCode)
		if err == nil && status != nil {
			switch status.Status {
			case CaptchaStatusVerified:
				code := status.SpecialCode
				if code == "" {
					code = specialCode
				}
				f.succeed(code)
				return
			case CaptchaStatusFailed:
				f.fail("verification failed")
				return
			}
		}
		timer.Reset(f.pollInterval)
	}
}

func (f *CaptchaFlow) verificationURL(token string) string {
	return strings.TrimRight(f.baseURL, "/") + "/captcha/verifing?token=" + url.QueryEscape(token) + "&callback=" + captchaCallbackName
}

// advance moves a live flow forward; terminal states are never left.
func (f *CaptchaFlow) advance(next CaptchaState) {
	for {
		current := f.state.Load()
		if CaptchaState(current).Terminal() {
			return
		}
		if f.state.CompareAndSwap(current, int32(next)) {
			return
		}
	}
}

func (f *CaptchaFlow) succeed(code string) {
	f.resolve(CaptchaResult{State: CaptchaSucceeded, SpecialCode: code})
}

func (f *CaptchaFlow) fail(message string) {
	f.resolve(CaptchaResult{State: CaptchaFailed, Message: message})
}

func (f *CaptchaFlow) resolve(result CaptchaResult) {
	f.once.Do(func() {
		f.result = result
		f.state.Store(int32(result.State))
		close(f.done)
		f.mu.Lock()
		f.cancel()
		f.mu.Unlock()

		switch result.State {
		case CaptchaSucceeded:
			f.logger.Log("Verified")
		case CaptchaFailed:
			f.logger.Log("Failed: %s", result.Message)
		case CaptchaCancelled:
			f.logger.Log("Cancelled")
		}

		f.ui.Post(func() {
			if f.loaded.Load() {
				destroySurface(f.surface)
			}
		})
	})
}

// captchaBridge is bound into the page as window.android.
type captchaBridge struct {
	flow *CaptchaFlow
}

func (b *captchaBridge) OnSuccess(code string) {
	if code == "" {
		b.flow.fail("verification returned empty")
		return
	}
	b.flow.succeed(code)
}

func (b *captchaBridge) OnFail() {
	b.flow.fail("verification failed")
}

func (b *captchaBridge) OnCancel() {
	b.flow.Cancel()
}

// captchaPage injects the completion hooks once the page has loaded.
type captchaPage struct {
	flow *CaptchaFlow
}

func (p *captchaPage) OnPageFinished(string) {
	if p.flow.State().Terminal() {
		return
	}
	p.flow.surface.Evaluate(captchaScript)
}

func (p *captchaPage) OnMainFrameError(code int, description string) {
	err := fmt.Errorf("%w: %d %s", ErrMainFrameLoad, code, description)
	p.flow.fail(err.Error())
}

