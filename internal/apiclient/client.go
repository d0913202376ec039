// Package apiclient issues REST calls for API steps. Calls are paced by a
// token bucket, carry the scenario's auth token, and are reported through
// apireport before the caller sees the result.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/kuitang/flutter-notes-e2e/internal/apireport"
	"github.com/kuitang/flutter-notes-e2e/internal/errs"
	"github.com/kuitang/flutter-notes-e2e/internal/scenario"
)

// AuthHeader carries the bearer token issued at login.
const AuthHeader = "x-auth-token"

// Options configures a Client.
type Options struct {
	RPS     float64
	Burst   int
	Timeout time.Duration
	Redact  bool
	// HTTPClient overrides the default transport.
	HTTPClient *http.Client
}

// Client is safe for concurrent use by many scenarios.
type Client struct {
	http     *http.Client
	limiter  *rate.Limiter
	reporter *apireport.Adapter
}

// Result is what a step needs from a reported call.
type Result struct {
	Status int
	Body   gjson.Result
}

// New returns a Client.
func New(opts Options) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}
	limit := rate.Inf
	if opts.RPS > 0 {
		limit = rate.Limit(opts.RPS)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Client{
		http:     hc,
		limiter:  rate.NewLimiter(limit, burst),
		reporter: apireport.New(opts.Redact),
	}
}

// Do sends method path (relative to sc.BaseURL) with an optional JSON body,
// reports the exchange under label, and returns the status and decoded
// body. Only transport failures are returned as errors; status checks
// belong to the caller.
func (c *Client) Do(ctx context.Context, sc *scenario.Context, label, method, path string, body any) (Result, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return Result{}, errs.Timeout(label+": wait for rate limiter", err)
	}

	url := strings.TrimRight(sc.BaseURL, "/") + "/" + strings.TrimLeft(path, "/")
	headers := map[string]string{"accept": "application/json"}

	var payload []byte
	if body != nil {
		var err error
		switch b := body.(type) {
		case json.RawMessage:
			payload = b
		case []byte:
			payload = b
		default:
			payload, err = json.Marshal(body)
			if err != nil {
				return Result{}, fmt.Errorf("%s: encode body: %w", label, err)
			}
		}
		headers["content-type"] = "application/json"
	}
	if sc.Token != "" {
		headers[AuthHeader] = sc.Token
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(payload))
	if err != nil {
		return Result{}, fmt.Errorf("%s: build request: %w", label, err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Result{}, errs.Timeout(fmt.Sprintf("%s: %s %s", label, method, url), err)
	}

	var reqBody any
	if payload != nil {
		reqBody = json.RawMessage(payload)
	}
	decoded := c.reporter.Report(ctx, label, method, url, resp, apireport.RequestDescriptor{
		Headers: headers,
		Body:    reqBody,
	}, sc)
	return Result{Status: resp.StatusCode, Body: decoded}, nil
}
