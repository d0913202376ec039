// Package enginetest provides in-memory stand-ins for the playwright objects
// an Engine hands out, so lifecycle and teardown logic can be exercised
// without a browser.
package enginetest

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/playwright-community/playwright-go"
)

// PNG is the body fake screenshots are written with.
var PNG = []byte("\x89PNG\r\n\x1a\nfake")

// Zip is the body fake traces are written with.
var Zip = []byte("PK\x03\x04fake-trace")

// ErrClosed is returned by fakes used after Close.
var ErrClosed = errors.New("target closed")

// Driver is a fake engine.Driver.
type Driver struct {
	// LaunchErr, when set, fails every Launch.
	LaunchErr error

	Launches atomic.Int32
	Stops    atomic.Int32

	mu       sync.Mutex
	browsers []*Browser
}

// Launch implements engine.Driver.
func (d *Driver) Launch() (playwright.Browser, error) {
	d.Launches.Add(1)
	if d.LaunchErr != nil {
		return nil, d.LaunchErr
	}
	b := &Browser{}
	b.connected.Store(true)
	d.mu.Lock()
	d.browsers = append(d.browsers, b)
	d.mu.Unlock()
	return b, nil
}

// Stop implements engine.Driver.
func (d *Driver) Stop() error {
	d.Stops.Add(1)
	return nil
}

// LastBrowser returns the most recently launched browser.
func (d *Driver) LastBrowser() *Browser {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.browsers) == 0 {
		return nil
	}
	return d.browsers[len(d.browsers)-1]
}

// Browser is a fake playwright.Browser. Only the methods an Engine calls
// are implemented.
type Browser struct {
	playwright.Browser

	connected atomic.Bool
	Closes    atomic.Int32

	mu       sync.Mutex
	contexts []*Context
}

// Disconnect simulates a crashed browser process.
func (b *Browser) Disconnect() { b.connected.Store(false) }

func (b *Browser) IsConnected() bool { return b.connected.Load() }

func (b *Browser) NewContext(...playwright.BrowserNewContextOptions) (playwright.BrowserContext, error) {
	if !b.connected.Load() {
		return nil, ErrClosed
	}
	c := &Context{}
	b.mu.Lock()
	b.contexts = append(b.contexts, c)
	b.mu.Unlock()
	return c, nil
}

func (b *Browser) Close(...playwright.BrowserCloseOptions) error {
	b.Closes.Add(1)
	b.connected.Store(false)
	return nil
}

// Contexts returns every context created on this browser.
func (b *Browser) Contexts() []*Context {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*Context(nil), b.contexts...)
}

// Context is a fake playwright.BrowserContext.
type Context struct {
	playwright.BrowserContext

	// CloseErr is returned from Close.
	CloseErr error
	Closed   atomic.Bool

	// TraceStartErr, when set, fails Tracing().Start.
	TraceStartErr error

	mu           sync.Mutex
	page         *Page
	tracing      *Tracing
	onRequest    []func(playwright.Request)
	onResponse   []func(playwright.Response)
	timeoutMS    float64
	navigationMS float64
}

func (c *Context) SetDefaultTimeout(ms float64) {
	c.mu.Lock()
	c.timeoutMS = ms
	c.mu.Unlock()
}

func (c *Context) SetDefaultNavigationTimeout(ms float64) {
	c.mu.Lock()
	c.navigationMS = ms
	c.mu.Unlock()
}

func (c *Context) NewPage() (playwright.Page, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Closed.Load() {
		return nil, ErrClosed
	}
	c.page = &Page{}
	return c.page, nil
}

func (c *Context) Close(...playwright.BrowserContextCloseOptions) error {
	c.Closed.Store(true)
	return c.CloseErr
}

// Tracing returns the context's fake tracer, creating it on first use.
func (c *Context) Tracing() playwright.Tracing {
	return c.FakeTracing()
}

// FakeTracing returns the concrete fake behind Tracing.
func (c *Context) FakeTracing() *Tracing {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tracing == nil {
		c.tracing = &Tracing{startErr: c.TraceStartErr}
	}
	return c.tracing
}

func (c *Context) OnRequest(fn func(playwright.Request)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onRequest = append(c.onRequest, fn)
}

func (c *Context) OnResponse(fn func(playwright.Response)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onResponse = append(c.onResponse, fn)
}

// EmitRequest delivers r to every request listener.
func (c *Context) EmitRequest(r playwright.Request) {
	c.mu.Lock()
	handlers := append([]func(playwright.Request)(nil), c.onRequest...)
	c.mu.Unlock()
	for _, h := range handlers {
		h(r)
	}
}

// EmitResponse delivers r to every response listener.
func (c *Context) EmitResponse(r playwright.Response) {
	c.mu.Lock()
	handlers := append([]func(playwright.Response)(nil), c.onResponse...)
	c.mu.Unlock()
	for _, h := range handlers {
		h(r)
	}
}

// Timeouts returns the default action and navigation timeouts set on the
// context, in milliseconds.
func (c *Context) Timeouts() (action, navigation float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timeoutMS, c.navigationMS
}

// FakePage returns the page opened on this context.
func (c *Context) FakePage() *Page {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.page
}

// Page is a fake playwright.Page.
type Page struct {
	playwright.Page

	// CloseErr is returned from Close.
	CloseErr    error
	Closed      atomic.Bool
	Screenshots atomic.Int32
}

func (p *Page) Close(...playwright.PageCloseOptions) error {
	p.Closed.Store(true)
	return p.CloseErr
}

func (p *Page) IsClosed() bool { return p.Closed.Load() }

func (p *Page) URL() string { return "about:blank" }

// Screenshot writes PNG to the requested path.
func (p *Page) Screenshot(options ...playwright.PageScreenshotOptions) ([]byte, error) {
	if p.Closed.Load() {
		return nil, ErrClosed
	}
	p.Screenshots.Add(1)
	if len(options) > 0 && options[0].Path != nil {
		path := *options[0].Path
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
		if err := os.WriteFile(path, PNG, 0o644); err != nil {
			return nil, err
		}
	}
	return PNG, nil
}

// Tracing is a fake playwright.Tracing. Stop writes Zip to the given path.
type Tracing struct {
	playwright.Tracing

	startErr error
	Started  atomic.Bool
	Stopped  atomic.Bool
}

func (t *Tracing) Start(...playwright.TracingStartOptions) error {
	if t.startErr != nil {
		return t.startErr
	}
	t.Started.Store(true)
	return nil
}

func (t *Tracing) Stop(path ...string) error {
	if !t.Started.Load() {
		return errors.New("tracing not started")
	}
	t.Stopped.Store(true)
	if len(path) == 0 || path[0] == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path[0]), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path[0], Zip, 0o644)
}

// Request is a fake playwright.Request.
type Request struct {
	playwright.Request

	RawURL string
	Verb   string
	Header map[string]string
	Body   string
}

func (r *Request) URL() string                { return r.RawURL }
func (r *Request) Method() string             { return r.Verb }
func (r *Request) Headers() map[string]string { return r.Header }
func (r *Request) PostData() (string, error)  { return r.Body, nil }

// Response is a fake playwright.Response.
type Response struct {
	playwright.Response

	RawURL  string
	Code    int
	Header  map[string]string
	Body    string
	BodyErr error
}

func (r *Response) URL() string                { return r.RawURL }
func (r *Response) Status() int                { return r.Code }
func (r *Response) Headers() map[string]string { return r.Header }
func (r *Response) Text() (string, error)      { return r.Body, r.BodyErr }
