package main

import (
	"encoding/json"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	http "github.com/bogdanfinn/fhttp"
	"github.com/stretchr/testify/require"
)

// recordedRequest is what fakeTransport saw for one call.
type recordedRequest struct {
	Method string
	Host   string
	Path   string
	Query  string
	Header http.Header
	Body   string
}

// fakeTransport is a Doer answering from handle without any network.
type fakeTransport struct {
	mu       sync.Mutex
	requests []recordedRequest
	handle   func(req recordedRequest) (int, string)
}

func newFakeTransport(handle func(req recordedRequest) (int, string)) *fakeTransport {
	return &fakeTransport{handle: handle}
}

func (f *fakeTransport) Do(req *http.Request) (*http.Response, error) {
	var body string
	if req.Body != nil {
		raw, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		body = string(raw)
	}
	rec := recordedRequest{
		Method: req.Method,
		Host:   req.URL.Hostname(),
		Path:   req.URL.Path,
		Query:  req.URL.RawQuery,
		Header: req.Header.Clone(),
		Body:   body,
	}

	f.mu.Lock()
	f.requests = append(f.requests, rec)
	f.mu.Unlock()

	status, payload := 200, envelope(200, "ok", nil)
	if f.handle != nil {
		status, payload = f.handle(rec)
	}
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{},
		Body:       io.NopCloser(strings.NewReader(payload)),
		Request:    req,
	}, nil
}

func (f *fakeTransport) Requests() []recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedRequest(nil), f.requests...)
}

func (f *fakeTransport) Count(path string) int {
	n := 0
	for _, r := range f.Requests() {
		if r.Path == path {
			n++
		}
	}
	return n
}

// envelope renders a backend response body.
func envelope(code int, message string, data any) string {
	raw, err := json.Marshal(map[string]any{"code": code, "message": message, "data": data})
	if err != nil {
		panic(err)
	}
	return string(raw)
}

func decodeBody(t *testing.T, body string) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(body), &out))
	return out
}

func newTestAPI(t *testing.T, transport Doer) *LabAPI {
	t.Helper()
	api, err := NewLabAPI(transport, "https://lab.test/", nil)
	require.NoError(t, err)
	api.backoff = func(int) time.Duration { return 0 }
	return api
}
