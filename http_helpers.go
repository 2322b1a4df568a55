package main

import (
	"io"

	http "github.com/bogdanfinn/fhttp"
)

// PseudoHeaderOrder is the standard HTTP/2 pseudo-header order for all requests.
var PseudoHeaderOrder = []string{
	":method",
	":authority",
	":scheme",
	":path",
}

// Doer is the subset of tls_client.HttpClient the pipeline depends on.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// DoerFunc adapts a function to Doer.
type DoerFunc func(req *http.Request) (*http.Response, error)

func (f DoerFunc) Do(req *http.Request) (*http.Response, error) {
	return f(req)
}

// readResponseBody decompresses and reads the full response body.
// Caller should defer resp.Body.Close() before calling this.
func readResponseBody(resp *http.Response) ([]byte, error) {
	body := http.DecompressBody(resp)
	defer body.Close()
	return io.ReadAll(body)
}

// apiHeaders returns the header set sent with every Command Lab API call.
// Cookie and Authorization are attached later by the RequestAuthorizer, but
// their slots in the order are reserved here.
func apiHeaders(profile *BrowserProfile, hasBody bool) http.Header {
	h := http.Header{
		"user-agent":         {profile.UserAgent},
		"accept":             {"application/json"},
		"sec-ch-ua":          {profile.SecChUa},
		"sec-ch-ua-mobile":   {profile.Mobile},
		"sec-ch-ua-platform": {profile.Platform},
		"accept-encoding":    {"gzip, deflate, br"},
		"accept-language":    {"zh-CN,zh;q=0.9,en;q=0.8"},
		http.HeaderOrderKey: {
			"content-length",
			"user-agent",
			"accept",
			"content-type",
			"sec-ch-ua",
			"sec-ch-ua-mobile",
			"sec-ch-ua-platform",
			"authorization",
			"accept-encoding",
			"accept-language",
			"cookie",
		},
		http.PHeaderOrderKey: PseudoHeaderOrder,
	}
	if hasBody {
		h["content-type"] = []string{"application/json; charset=UTF-8"}
	}
	return h
}
