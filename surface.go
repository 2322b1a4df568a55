package main

import (
	"sync"
	"time"
)

// SurfaceSettings configures a WebSurface before its first load.
type SurfaceSettings struct {
	JavaScript bool
	DOMStorage bool
	UserAgent  string
}

// SurfaceListener receives page lifecycle events from a WebSurface.
type SurfaceListener interface {
	OnPageFinished(url string)
	OnMainFrameError(code int, description string)
}

// CaptchaBridge is the object exposed to page script under a bridge name.
type CaptchaBridge interface {
	OnSuccess(code string)
	OnFail()
	OnCancel()
}

// WebSurface is whatever renders web content in the host environment. All
// methods must be called on the surface's Looper.
type WebSurface interface {
	Configure(settings SurfaceSettings)
	SetListener(l SurfaceListener)
	Bind(name string, bridge CaptchaBridge)
	Load(url string)
	Evaluate(script string)
	// Cookies returns the raw Cookie header value stored for url.
	Cookies(url string) string

	Stop()
	ClearHistory()
	ClearCache()
	Detach()
	Destroy()
}

// SurfaceFactory creates a fresh WebSurface.
type SurfaceFactory func() (WebSurface, error)

// Looper runs posted functions one at a time on a single goroutine. It plays
// the role of the UI thread that web surfaces require.
type Looper struct {
	tasks chan func()
	quit  chan struct{}
	once  sync.Once
	wg    sync.WaitGroup
}

func NewLooper() *Looper {
	l := &Looper{
		tasks: make(chan func(), 64),
		quit:  make(chan struct{}),
	}
	l.wg.Add(1)
	go l.loop()
	return l
}

func (l *Looper) loop() {
	defer l.wg.Done()
	for {
		select {
		case <-l.quit:
			return
		case fn := <-l.tasks:
			fn()
		}
	}
}

// Post queues fn. Posts after Close are dropped.
func (l *Looper) Post(fn func()) {
	select {
	case <-l.quit:
	case l.tasks <- fn:
	}
}

// PostDelayed queues fn after d.
func (l *Looper) PostDelayed(d time.Duration, fn func()) {
	time.AfterFunc(d, func() { l.Post(fn) })
}

// Close stops the looper and waits for the running task to return.
func (l *Looper) Close() {
	l.once.Do(func() { close(l.quit) })
	l.wg.Wait()
}
