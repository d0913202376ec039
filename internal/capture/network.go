package capture

import (
	"context"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/kuitang/flutter-notes-e2e/internal/logutil"
)

// BodyUnavailable stands in for a response body that could not be read.
const BodyUnavailable = "Could not capture response body"

// TraceRequest is a request observed on the browsing context.
type TraceRequest struct {
	URL      string            `json:"url"`
	Method   string            `json:"method"`
	Headers  map[string]string `json:"headers"`
	PostData string            `json:"postData,omitempty"`
}

// TraceResponse is a response observed on the browsing context.
type TraceResponse struct {
	URL     string            `json:"url"`
	Status  int               `json:"status"`
	Headers map[string]string `json:"headers"`
	Body    string            `json:"body"`
}

// NetworkTrace is everything one window observed, each list in arrival
// order.
type NetworkTrace struct {
	Requests  []TraceRequest  `json:"requests"`
	Responses []TraceResponse `json:"responses"`
}

// Empty reports whether nothing was observed.
func (t NetworkTrace) Empty() bool {
	return len(t.Requests) == 0 && len(t.Responses) == 0
}

// TrafficSource emits request and response events. A
// playwright.BrowserContext satisfies it.
type TrafficSource interface {
	OnRequest(fn func(playwright.Request))
	OnResponse(fn func(playwright.Response))
}

type requestView interface {
	URL() string
	Method() string
	Headers() map[string]string
	PostData() (string, error)
}

type responseView interface {
	URL() string
	Status() int
	Headers() map[string]string
	Text() (string, error)
}

// Window collects traffic between StartWindow and Stop. Events arriving
// after Stop are dropped, so a window never grows past its scenario.
type Window struct {
	redact bool

	mu      sync.Mutex
	stopped bool
	trace   NetworkTrace
	pending sync.WaitGroup
}

// StartWindow subscribes to src and returns the open window.
func StartWindow(src TrafficSource, redact bool) *Window {
	w := &Window{redact: redact}
	if src == nil {
		return w
	}
	src.OnRequest(func(r playwright.Request) { w.observeRequest(r) })
	src.OnResponse(func(r playwright.Response) { w.observeResponse(r) })
	return w
}

func (w *Window) observeRequest(r requestView) {
	entry := TraceRequest{
		URL:     r.URL(),
		Method:  r.Method(),
		Headers: w.headers(r.Headers()),
	}
	if body, err := r.PostData(); err == nil && body != "" {
		if w.redact {
			body = string(logutil.RedactJSON([]byte(body)))
		}
		entry.PostData = body
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	w.trace.Requests = append(w.trace.Requests, entry)
}

// observeResponse records the response immediately and reads its body on a
// separate goroutine; body reads round-trip to the browser and must not
// block the event dispatcher.
func (w *Window) observeResponse(r responseView) {
	entry := TraceResponse{
		URL:     r.URL(),
		Status:  r.Status(),
		Headers: w.headers(r.Headers()),
		Body:    BodyUnavailable,
	}

	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	idx := len(w.trace.Responses)
	w.trace.Responses = append(w.trace.Responses, entry)
	w.pending.Add(1)
	w.mu.Unlock()

	go func() {
		defer w.pending.Done()
		body, err := r.Text()
		if err != nil {
			return
		}
		w.mu.Lock()
		defer w.mu.Unlock()
		if idx < len(w.trace.Responses) {
			w.trace.Responses[idx].Body = body
		}
	}()
}

func (w *Window) headers(h map[string]string) map[string]string {
	if h == nil {
		return map[string]string{}
	}
	if w.redact {
		return logutil.RedactHeaders(h)
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}

// Stop waits grace for in-flight traffic, closes the window, gives pending
// body reads up to another grace period to finish, and returns a copy of
// the trace. Stop returns early if ctx ends.
func (w *Window) Stop(ctx context.Context, grace time.Duration) NetworkTrace {
	sleep(ctx, grace)

	w.mu.Lock()
	w.stopped = true
	w.mu.Unlock()

	done := make(chan struct{})
	go func() {
		w.pending.Wait()
		close(done)
	}()
	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
	case <-ctx.Done():
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	return NetworkTrace{
		Requests:  append([]TraceRequest{}, w.trace.Requests...),
		Responses: append([]TraceResponse{}, w.trace.Responses...),
	}
}

func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
