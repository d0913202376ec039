// Package engine manages the shared browser process and the isolated
// per-scenario sessions opened on it.
//
// The shared handle moves through Uninitialized -> Running -> Stopped.
// OpenSession starts the browser lazily, Shutdown is terminal and
// idempotent, and CloseSession never reports errors to its caller.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/playwright-community/playwright-go"

	"github.com/kuitang/flutter-notes-e2e/internal/errs"
	"github.com/kuitang/flutter-notes-e2e/internal/obs"
)

var (
	// ErrEngineUnavailable means the browser could not be (re)started.
	ErrEngineUnavailable = errors.New("browser engine unavailable")
	// ErrEngineStopped means Shutdown already ran.
	ErrEngineStopped = errors.New("browser engine stopped")
)

// State of the shared browser handle.
type State int32

const (
	Uninitialized State = iota
	Running
	Stopped
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Driver starts and stops the browser process behind an Engine.
type Driver interface {
	Launch() (playwright.Browser, error)
	Stop() error
}

// Options tune the sessions an Engine opens.
type Options struct {
	// ActionTimeout is the default timeout for page actions.
	ActionTimeout time.Duration
	// NavigationTimeout is the default timeout for navigations.
	NavigationTimeout time.Duration
	Viewport          *playwright.Size
	// Tracing records a playwright trace (screenshots and DOM snapshots)
	// on every session. Saving it is the caller's job.
	Tracing bool
}

// Session is one isolated browsing context with a single page.
type Session struct {
	ID        string
	Context   playwright.BrowserContext
	Page      playwright.Page
	CreatedAt time.Time
	// Tracing is true when a trace is being recorded on Context.
	Tracing bool
}

// Engine owns the process-wide browser handle.
type Engine struct {
	driver Driver
	opts   Options

	mu      sync.Mutex
	state   State
	browser playwright.Browser

	opened atomic.Int64
	closed atomic.Int64
}

// New returns an Engine in the Uninitialized state.
func New(driver Driver, opts Options) *Engine {
	if opts.ActionTimeout <= 0 {
		opts.ActionTimeout = 30 * time.Second
	}
	if opts.NavigationTimeout <= 0 {
		opts.NavigationTimeout = opts.ActionTimeout
	}
	if opts.Viewport == nil {
		opts.Viewport = &playwright.Size{Width: 1280, Height: 720}
	}
	return &Engine{driver: driver, opts: opts}
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Stats returns how many sessions have been opened and closed.
func (e *Engine) Stats() (opened, closed int64) {
	return e.opened.Load(), e.closed.Load()
}

// EnsureRunning starts the browser if it is not running yet. It is a no-op
// while a connected browser exists.
func (e *Engine) EnsureRunning() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, err := e.ensureRunningLocked()
	return err
}

func (e *Engine) ensureRunningLocked() (playwright.Browser, error) {
	log := obs.Pkg("engine")
	switch e.state {
	case Stopped:
		return nil, errs.Wrap(errs.FailedPrecondition, "open session", ErrEngineStopped)
	case Running:
		if e.browser != nil && e.browser.IsConnected() {
			return e.browser, nil
		}
		log.Warn("browser_disconnected_relaunching")
	}

	start := time.Now()
	browser, err := e.driver.Launch()
	if err != nil {
		log.Error("browser_launch_failed", "error", err)
		return nil, errs.Wrap(errs.Unavailable, "launch browser", fmt.Errorf("%w: %w", ErrEngineUnavailable, err))
	}
	e.browser = browser
	e.state = Running
	log.Info("browser_launched", "dur_ms", time.Since(start).Milliseconds())
	return browser, nil
}

// OpenSession creates a fresh context and page on the shared browser,
// starting the browser first if needed.
func (e *Engine) OpenSession(ctx context.Context) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, errs.Timeout("open session", err)
	}

	e.mu.Lock()
	browser, err := e.ensureRunningLocked()
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}

	bctx, err := browser.NewContext(playwright.BrowserNewContextOptions{
		Viewport: e.opts.Viewport,
	})
	if err != nil {
		return nil, errs.Wrap(errs.Unavailable, "create browser context", fmt.Errorf("%w: %w", ErrEngineUnavailable, err))
	}
	bctx.SetDefaultTimeout(float64(e.opts.ActionTimeout.Milliseconds()))
	bctx.SetDefaultNavigationTimeout(float64(e.opts.NavigationTimeout.Milliseconds()))

	tracing := false
	if e.opts.Tracing {
		err := bctx.Tracing().Start(playwright.TracingStartOptions{
			Screenshots: playwright.Bool(true),
			Snapshots:   playwright.Bool(true),
		})
		if err != nil {
			obs.From(ctx).Warn("trace_start_failed", "pkg", "engine", "error", err)
		} else {
			tracing = true
		}
	}

	page, err := bctx.NewPage()
	if err != nil {
		if cerr := bctx.Close(); cerr != nil {
			obs.From(ctx).Warn("context_close_failed", "pkg", "engine", "error", cerr)
		}
		return nil, errs.Wrap(errs.Unavailable, "create page", err)
	}

	s := &Session{
		ID:        uuid.NewString(),
		Context:   bctx,
		Page:      page,
		CreatedAt: time.Now(),
		Tracing:   tracing,
	}
	e.opened.Add(1)
	obs.From(ctx).Debug("session_opened", "pkg", "engine", "session_id", s.ID)
	return s, nil
}

// CloseSession closes the page, then the context. Failures are logged and
// swallowed so teardown never changes a scenario's verdict.
func (e *Engine) CloseSession(ctx context.Context, s *Session) {
	if s == nil {
		return
	}
	log := obs.From(ctx).With("pkg", "engine", "session_id", s.ID)
	if s.Page != nil {
		if err := s.Page.Close(); err != nil {
			log.Warn("page_close_failed", "error", err)
		}
	}
	if s.Context != nil {
		if err := s.Context.Close(); err != nil {
			log.Warn("context_close_failed", "error", err)
		}
	}
	e.closed.Add(1)
	log.Debug("session_closed", "age_ms", time.Since(s.CreatedAt).Milliseconds())
}

// Shutdown closes the browser and stops the driver. Only the first call
// does anything; later calls return nil.
func (e *Engine) Shutdown() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == Stopped {
		return nil
	}
	e.state = Stopped

	var errList []error
	if e.browser != nil {
		if err := e.browser.Close(); err != nil {
			errList = append(errList, fmt.Errorf("close browser: %w", err))
		}
		e.browser = nil
	}
	if err := e.driver.Stop(); err != nil {
		errList = append(errList, fmt.Errorf("stop driver: %w", err))
	}
	opened, closed := e.Stats()
	obs.Pkg("engine").Info("engine_stopped", "sessions_opened", opened, "sessions_closed", closed)
	return errors.Join(errList...)
}
