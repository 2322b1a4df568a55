package main

import (
	"fmt"

	tls_client "github.com/bogdanfinn/tls-client"
	"github.com/bogdanfinn/tls-client/profiles"
)

// BrowserProfile bundles a TLS client profile with its corresponding browser headers.
type BrowserProfile struct {
	TLSProfile profiles.ClientProfile
	UserAgent  string
	SecChUa    string
	Platform   string
	Mobile     string
}

// DefaultProfile is the browser profile used for new clients.
// Set to AndroidChromeProfile in tls_android.go.
var DefaultProfile = AndroidChromeProfile

// NewClient builds the transport for Command Lab calls. rawProxy accepts any
// format understood by parseProxyLine; empty means direct.
func NewClient(logger tls_client.Logger, rawProxy string) (tls_client.HttpClient, error) {
	return NewClientWithProfile(logger, rawProxy, DefaultProfile.TLSProfile)
}

func NewClientWithProfile(logger tls_client.Logger, rawProxy string, profile profiles.ClientProfile) (tls_client.HttpClient, error) {
	if logger == nil {
		logger = tls_client.NewNoopLogger()
	}

	options, err := clientOptions(rawProxy, profile)
	if err != nil {
		return nil, err
	}

	return tls_client.NewHttpClient(logger, options...)
}

func clientOptions(rawProxy string, profile profiles.ClientProfile) ([]tls_client.HttpClientOption, error) {
	options := []tls_client.HttpClientOption{
		tls_client.WithTimeoutSeconds(15),
		tls_client.WithClientProfile(profile),
		tls_client.WithRandomTLSExtensionOrder(),
		tls_client.WithCookieJar(tls_client.NewCookieJar()),
	}

	if rawProxy != "" {
		proxyURL, _, ok := parseProxyLine(rawProxy)
		if !ok {
			return nil, fmt.Errorf("invalid proxy %q", rawProxy)
		}
		options = append(options, tls_client.WithProxyUrl(proxyURL))
	}

	return options, nil
}
