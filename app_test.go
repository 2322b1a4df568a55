package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// labBackend answers like the Command Lab server for a device that has not
// been registered yet.
func labBackend() func(req recordedRequest) (int, string) {
	var (
		mu         sync.Mutex
		registered bool
	)
	guest := map[string]any{"user_id": 42, "token": "guest-token", "user": map[string]any{"id": 42, "is_guest": true}}

	return func(req recordedRequest) (int, string) {
		mu.Lock()
		defer mu.Unlock()

		switch {
		case req.Path == "/guest/login":
			if !registered {
				return 200, envelope(404, "guest not found", nil)
			}
			return 200, envelope(200, "ok", guest)
		case req.Path == "/guest/register":
			registered = true
			return 200, envelope(200, "ok", guest)
		case req.Path == "/captcha":
			return 200, envelope(200, "ok", map[string]any{"verification_token": "vt"})
		case req.Path == "/captcha/status":
			return 200, envelope(200, "ok", map[string]any{"status": "pending"})
		case req.Path == "/library":
			return 200, envelope(200, "ok", map[string]any{
				"list":  []map[string]any{{"id": 1}, {"id": 2}, {"id": 3}},
				"total": 3,
			})
		case strings.HasSuffix(req.Path, "/sync"), strings.HasSuffix(req.Path, "/release"):
			return 200, envelope(200, "ok", nil)
		}
		return 404, envelope(404, "not found", nil)
	}
}

func newTestApp(t *testing.T, transport Doer) *App {
	t.Helper()
	app, err := NewApp(AppOptions{
		BaseURL:     "https://lab.test/",
		SessionFile: filepath.Join(t.TempDir(), "user.json"),
		DeviceID:    func() (string, error) { return "test-device", nil },
		Transport:   transport,
	})
	require.NoError(t, err)
	t.Cleanup(app.Close)
	return app
}

func TestAppAuthorizesWithGuestSession(t *testing.T) {
	transport := newFakeTransport(labBackend())
	app := newTestApp(t, transport)
	app.Start()

	page, err := app.API.MyLibraries(context.Background(), 1, 20)
	require.NoError(t, err)
	require.Len(t, page.Functions, 3)

	var paths []string
	for _, req := range transport.Requests() {
		paths = append(paths, req.Path)
		if strings.HasPrefix(req.Path, "/guest/") {
			require.Empty(t, req.Header.Get("Authorization"), req.Path)
		}
	}
	require.Equal(t, []string{"/guest/login", "/guest/register", "/library"}, paths)

	last := transport.Requests()[2]
	require.Equal(t, "Bearer guest-token", last.Header.Get("Authorization"))
	require.True(t, app.Guests.IsLoggedIn())
}

func TestAppSyncAll(t *testing.T) {
	transport := newFakeTransport(labBackend())
	app := newTestApp(t, transport)

	synced, err := app.SyncAll(context.Background(), 2)
	require.NoError(t, err)
	require.Equal(t, 3, synced)
	for id := 1; id <= 3; id++ {
		require.Equal(t, 1, transport.Count(fmt.Sprintf("/library/%d/sync", id)))
	}
}

func TestAppReleaseLibraryAfterCaptcha(t *testing.T) {
	transport := newFakeTransport(labBackend())
	app := newTestApp(t, transport)

	surface := newFakeSurface()
	surface.onLoad = func(s *fakeSurface, url string) { s.Listener().OnPageFinished(url) }

	done := make(chan error, 1)
	go func() { done <- app.ReleaseLibrary(context.Background(), 2, surface) }()

	waitBridge(t, surface).OnSuccess("verified-code")

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("release did not finish")
	}

	var release *recordedRequest
	for _, req := range transport.Requests() {
		if req.Path == "/library/2/release" {
			release = &req
		}
	}
	require.NotNil(t, release)
	require.Equal(t, map[string]any{"special_code": "verified-code"}, decodeBody(t, release.Body))
	require.Equal(t, "Bearer guest-token", release.Header.Get("Authorization"))
}

func TestAppReleaseLibraryCancelled(t *testing.T) {
	transport := newFakeTransport(labBackend())
	app := newTestApp(t, transport)

	surface := newFakeSurface()
	surface.onLoad = func(s *fakeSurface, url string) { s.Listener().OnPageFinished(url) }

	done := make(chan error, 1)
	go func() { done <- app.ReleaseLibrary(context.Background(), 2, surface) }()
	waitBridge(t, surface).OnCancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrCaptchaCancelled)
	case <-time.After(3 * time.Second):
		t.Fatal("release did not finish")
	}
	require.Zero(t, transport.Count("/library/2/release"))
}

func TestNewAppRejectsBadBaseURL(t *testing.T) {
	_, err := NewApp(AppOptions{BaseURL: "lab", Transport: newFakeTransport(nil)})
	require.Error(t, err)
}
