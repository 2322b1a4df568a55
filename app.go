package main

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// AppOptions selects the collaborators of an App. Zero values fall back to
// the configured defaults.
type AppOptions struct {
	BaseURL     string
	RateLimit   int
	SessionFile string
	DeviceID    DeviceIDSource
	Transport   Doer
	Surfaces    SurfaceFactory
	Logger      Logger
}

// App owns one instance of every auth pipeline service. Nothing is global:
// tests and the CLI each build their own.
type App struct {
	Logger     Logger
	UI         *Looper
	Identity   *DeviceIdentity
	Limiter    *RateLimiter
	WAF        *ChallengeSolver
	Authorizer *RequestAuthorizer
	API        *LabAPI
	Sessions   *SessionStore
	Guests     *GuestAuthenticator
}

func NewApp(opts AppOptions) (*App, error) {
	if opts.Logger == nil {
		opts.Logger = nopLogger{}
	}
	if opts.BaseURL == "" {
		opts.BaseURL = GetLabAPIURL()
	}
	if opts.DeviceID == nil {
		opts.DeviceID = PlatformDeviceID(GetDeviceIDOverride())
	}
	if opts.Transport == nil {
		client, err := NewClient(nil, GetProxy())
		if err != nil {
			return nil, fmt.Errorf("create http client: %w", err)
		}
		opts.Transport = client
	}

	parsed, err := url.Parse(opts.BaseURL)
	if err != nil || parsed.Hostname() == "" {
		return nil, fmt.Errorf("invalid base url %q", opts.BaseURL)
	}
	host := strings.ToLower(parsed.Hostname())

	ui := NewLooper()
	waf := NewChallengeSolver(opts.BaseURL, opts.Surfaces, ui, opts.Logger)
	limiter := NewRateLimiter(host, opts.RateLimit, opts.Logger)
	authorizer := NewRequestAuthorizer(opts.Transport, host, waf, limiter, opts.Logger)

	api, err := NewLabAPI(authorizer, opts.BaseURL, opts.Logger)
	if err != nil {
		ui.Close()
		return nil, err
	}

	identity := NewDeviceIdentity(opts.DeviceID)
	sessions := NewSessionStore(api, opts.SessionFile, opts.Logger)
	guests := NewGuestAuthenticator(identity, api, sessions, opts.Logger)
	authorizer.SetTokenSource(&CredentialChain{Users: sessions, Guests: guests})

	return &App{
		Logger:     opts.Logger,
		UI:         ui,
		Identity:   identity,
		Limiter:    limiter,
		WAF:        waf,
		Authorizer: authorizer,
		API:        api,
		Sessions:   sessions,
		Guests:     guests,
	}, nil
}

// Start kicks off the initial WAF refresh without waiting for it.
func (a *App) Start() {
	a.WAF.Refresh(func(ok bool) {
		if !ok {
			a.Logger.Log("Initial WAF refresh did not produce a cookie")
		}
	})
}

func (a *App) Close() {
	a.UI.Close()
}

// NewCaptchaFlow prepares a verification flow rendered on surface.
func (a *App) NewCaptchaFlow(surface WebSurface) *CaptchaFlow {
	return NewCaptchaFlow(a.API, a.API.BaseURL(), surface, a.UI, a.Logger)
}

// ReleaseLibrary publishes a private library after a CAPTCHA on surface.
func (a *App) ReleaseLibrary(ctx context.Context, id int, surface WebSurface) error {
	result := a.NewCaptchaFlow(surface).Run(ctx, CaptchaActionPublish)
	if err := result.Err(); err != nil {
		return err
	}
	return a.API.Release(ctx, id, result.SpecialCode)
}

// SyncAll syncs every private library through a worker pool and reports how
// many succeeded.
func (a *App) SyncAll(ctx context.Context, workers int) (int, error) {
	var ids []int
	for page := 1; ; page++ {
		result, err := a.API.MyLibraries(ctx, page, 50)
		if err != nil {
			return 0, err
		}
		for _, fn := range result.Functions {
			ids = append(ids, fn.ID)
		}
		if len(result.Functions) == 0 || len(ids) >= result.TotalCount {
			break
		}
	}
	if len(ids) == 0 {
		return 0, nil
	}

	scheduler := NewScheduler(workers, a.API.Sync, 0, withPrefix(a.Logger, "sync"))
	scheduler.Start(ctx)
	go func() {
		for _, id := range ids {
			if !scheduler.Submit(id) {
				break
			}
		}
		scheduler.Close()
	}()

	synced := 0
	var fatal error
	for result := range scheduler.Results() {
		switch {
		case result.Fatal:
			fatal = result.Error
		case result.Success:
			synced++
		}
	}
	return synced, fatal
}
