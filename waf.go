package main

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// wafMarkerCookie proves the EdgeOne JS challenge was passed.
	wafMarkerCookie = "EO_Bot_Ssid"

	// wafSettleDelay covers challenges that redirect or set cookies after load.
	wafSettleDelay = 3 * time.Second
)

// ChallengeSolver passes the WAF browser challenge in a web surface and
// caches the resulting cookie in memory.
type ChallengeSolver struct {
	targetURL  string
	userAgent  string
	newSurface SurfaceFactory
	ui         *Looper
	logger     Logger
	settle     time.Duration

	refreshing atomic.Bool

	mu     sync.RWMutex
	cookie string
}

func NewChallengeSolver(targetURL string, newSurface SurfaceFactory, ui *Looper, logger Logger) *ChallengeSolver {
	return &ChallengeSolver{
		targetURL:  targetURL,
		userAgent:  AndroidChromeUserAgent,
		newSurface: newSurface,
		ui:         ui,
		logger:     withPrefix(logger, "waf"),
		settle:     wafSettleDelay,
	}
}

// Cookie returns the last harvested cookie.
func (s *ChallengeSolver) Cookie() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cookie, s.cookie != ""
}

func (s *ChallengeSolver) setCookie(cookie string) {
	s.mu.Lock()
	s.cookie = cookie
	s.mu.Unlock()
}

// Refresh solves the challenge asynchronously and reports the verdict to
// callback (which may be nil). A call made while another refresh is running
// is answered false immediately.
func (s *ChallengeSolver) Refresh(callback func(ok bool)) {
	if callback == nil {
		callback = func(bool) {}
	}
	if !s.refreshing.CompareAndSwap(false, true) {
		callback(false)
		return
	}

	s.ui.Post(func() {
		s.performRefresh(func(ok bool) {
			s.refreshing.Store(false)
			callback(ok)
		})
	})
}

// RefreshContext is Refresh for callers that want to wait for the verdict.
func (s *ChallengeSolver) RefreshContext(ctx context.Context) bool {
	done := make(chan bool, 1)
	s.Refresh(func(ok bool) { done <- ok })
	select {
	case ok := <-done:
		return ok
	case <-ctx.Done():
		return false
	}
}

// performRefresh runs on the looper.
func (s *ChallengeSolver) performRefresh(done func(bool)) {
	if s.newSurface == nil {
		s.logger.Log("Refresh skipped: %v", ErrSurfaceUnavailable)
		done(false)
		return
	}
	surface, err := s.newSurface()
	if err != nil {
		s.logger.Log("Refresh skipped: %v", err)
		done(false)
		return
	}

	attempt := &challengeAttempt{solver: s, surface: surface, done: done}
	surface.Configure(SurfaceSettings{JavaScript: true, DOMStorage: true, UserAgent: s.userAgent})
	surface.SetListener(attempt)

	s.logger.Log("Loading %s", s.targetURL)
	surface.Load(s.targetURL)
}

// challengeAttempt tracks a single surface until its verdict. Every exit
// path goes through finish, which tears the surface down exactly once.
type challengeAttempt struct {
	solver  *ChallengeSolver
	surface WebSurface
	done    func(bool)
	ended   atomic.Bool
}

func (a *challengeAttempt) OnPageFinished(url string) {
	if a.ended.Load() {
		return
	}
	s := a.solver
	cookie := a.surface.Cookies(url)
	if strings.Contains(cookie, wafMarkerCookie) {
		s.setCookie(cookie)
		s.logger.Log("WAF cookie obtained")
		a.finish(true)
		return
	}

	s.ui.PostDelayed(s.settle, func() {
		if a.ended.Load() {
			return
		}
		late := a.surface.Cookies(url)
		if strings.Contains(late, wafMarkerCookie) {
			s.logger.Log("WAF cookie obtained after settle delay")
		} else {
			s.logger.Log("WAF cookie may be missing %s", wafMarkerCookie)
		}
		s.setCookie(late)
		a.finish(true)
	})
}

func (a *challengeAttempt) OnMainFrameError(code int, description string) {
	a.solver.logger.Log("Challenge page error %d: %s", code, description)
	a.finish(false)
}

func (a *challengeAttempt) finish(ok bool) {
	if !a.ended.CompareAndSwap(false, true) {
		return
	}
	destroySurface(a.surface)
	a.done(ok)
}

func destroySurface(surface WebSurface) {
	surface.Stop()
	surface.ClearHistory()
	surface.ClearCache()
	surface.Load("about:blank")
	surface.Detach()
	surface.Destroy()
}
