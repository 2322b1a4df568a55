package main

import (
	"fmt"
	"net/url"
	"strings"
)

// parseProxyLine parses a proxy string in various formats and returns normalized URL and display string.
// Supported formats:
//   - ip:port:username:password
//   - ip:port (IP authenticated, no credentials)
//   - http://username:password@ip:port
//   - https://username:password@ip:port
//   - http://ip:port (IP authenticated)
//   - https://ip:port (IP authenticated)
func parseProxyLine(line string) (proxyURL, display string, ok bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return "", "", false
	}

	if strings.HasPrefix(line, "http://") || strings.HasPrefix(line, "https://") {
		parsed, err := url.Parse(line)
		if err != nil || parsed.Host == "" {
			return "", "", false
		}

		display = parsed.Host
		if parsed.User != nil {
			password, _ := parsed.User.Password()
			proxyURL = fmt.Sprintf("http://%s:%s@%s", parsed.User.Username(), password, parsed.Host)
		} else {
			proxyURL = fmt.Sprintf("http://%s", parsed.Host)
		}
		return proxyURL, display, true
	}

	parts := strings.Split(line, ":")

	switch len(parts) {
	case 2:
		host, port := parts[0], parts[1]
		return fmt.Sprintf("http://%s:%s", host, port), fmt.Sprintf("%s:%s", host, port), true

	case 4:
		host, port, user, pass := parts[0], parts[1], parts[2], parts[3]
		return fmt.Sprintf("http://%s:%s@%s:%s", user, pass, host, port), fmt.Sprintf("%s:%s", host, port), true

	default:
		return "", "", false
	}
}
