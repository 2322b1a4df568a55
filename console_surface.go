package main

import (
	"fmt"
	"io"
	"sync"
)

// ConsoleSurface is the WebSurface for a terminal: it cannot render a page,
// so it prints the address for the user to open elsewhere. Scripts, bridges
// and cookies are unsupported, which leaves server polling as the only way
// a CAPTCHA flow on it can complete.
type ConsoleSurface struct {
	out io.Writer

	mu        sync.Mutex
	listener  SurfaceListener
	destroyed bool
}

func NewConsoleSurface(out io.Writer) *ConsoleSurface {
	return &ConsoleSurface{out: out}
}

func (c *ConsoleSurface) Configure(SurfaceSettings) {}

func (c *ConsoleSurface) SetListener(l SurfaceListener) {
	c.mu.Lock()
	c.listener = l
	c.mu.Unlock()
}

func (c *ConsoleSurface) Bind(string, CaptchaBridge) {}

func (c *ConsoleSurface) Load(url string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed || url == "about:blank" {
		return
	}
	fmt.Fprintf(c.out, "Open this address in a browser to complete verification:\n  %s\n", url)
}

func (c *ConsoleSurface) Evaluate(string) {}

func (c *ConsoleSurface) Cookies(string) string { return "" }

func (c *ConsoleSurface) Stop()         {}
func (c *ConsoleSurface) ClearHistory() {}
func (c *ConsoleSurface) ClearCache()   {}
func (c *ConsoleSurface) Detach()       {}

func (c *ConsoleSurface) Destroy() {
	c.mu.Lock()
	c.destroyed = true
	c.listener = nil
	c.mu.Unlock()
}
