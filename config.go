package main

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Build-time variables - inject via ldflags
// Example: go build -ldflags "-X main.labAPIURL=https://abyssous.site/ -X main.requestRateLimit=5"
var (
	labAPIURL        string // -X main.labAPIURL=...
	requestRateLimit string // -X main.requestRateLimit=...
	sessionFile      string // -X main.sessionFile=...
)

const (
	defaultLabAPIURL        = "https://abyssous.site/"
	defaultRequestRateLimit = 5
)

// GetLabAPIURL returns the Command Lab base URL (build-time, env, or default).
func GetLabAPIURL() string {
	if labAPIURL != "" {
		return labAPIURL
	}
	if v := strings.TrimSpace(os.Getenv("CHELPER_API_URL")); v != "" {
		return v
	}
	return defaultLabAPIURL
}

// GetRequestRateLimit returns the requests-per-second ceiling for the lab host.
// Unparseable values fall back to the default; zero or negative disables throttling.
func GetRequestRateLimit() int {
	raw := requestRateLimit
	if raw == "" {
		raw = os.Getenv("CHELPER_RATE_LIMIT")
	}
	if raw == "" {
		return defaultRequestRateLimit
	}
	limit, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return defaultRequestRateLimit
	}
	return limit
}

// GetSessionFile returns the path of the persisted user session.
func GetSessionFile() string {
	if sessionFile != "" {
		return sessionFile
	}
	if v := os.Getenv("CHELPER_SESSION_FILE"); v != "" {
		return v
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "chelper", "user.json")
}

// GetDeviceIDOverride returns an explicit device identifier, if configured.
func GetDeviceIDOverride() string {
	return strings.TrimSpace(os.Getenv("CHELPER_DEVICE_ID"))
}

// GetProxy returns the raw proxy line, if configured.
func GetProxy() string {
	return strings.TrimSpace(os.Getenv("CHELPER_PROXY"))
}
