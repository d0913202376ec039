// Package apireport turns a completed HTTP exchange into a normalized
// record on the scenario and three report attachments grouped under one
// report step.
package apireport

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/kuitang/flutter-notes-e2e/internal/logutil"
	"github.com/kuitang/flutter-notes-e2e/internal/obs"
	"github.com/kuitang/flutter-notes-e2e/internal/report"
	"github.com/kuitang/flutter-notes-e2e/internal/scenario"
)

// BodyPlaceholder stands in for a response body that could not be decoded.
const BodyPlaceholder = "Could not capture response body"

const defaultContentType = "application/json"

// maxBodyBytes bounds how much of a response body is read.
const maxBodyBytes = 4 << 20

// Label names set on every reported exchange.
const (
	LabelStatus   = "api-status"
	LabelMethod   = "api-method"
	LabelEndpoint = "api-endpoint"
)

// RequestDescriptor describes the request that produced a response.
type RequestDescriptor struct {
	Headers map[string]string
	// Body is the JSON-encodable payload sent, or nil.
	Body any
}

// Adapter reports exchanges.
type Adapter struct {
	// Redact hides credentials in the request-side attachment.
	Redact bool
	now    func() time.Time
}

// New returns an Adapter.
func New(redact bool) *Adapter {
	return &Adapter{Redact: redact, now: time.Now}
}

type requestDetails struct {
	Method    string            `json:"method"`
	URL       string            `json:"url"`
	Headers   map[string]string `json:"headers"`
	Body      json.RawMessage   `json:"body"`
	Timestamp time.Time         `json:"timestamp"`
}

// Report reads and closes resp.Body, appends the normalized record to sc,
// attaches it to sc.Reporter, and returns the decoded body. A body that is
// not JSON yields an empty result. Reporting problems are logged, never
// returned.
func (a *Adapter) Report(ctx context.Context, stepLabel, method, rawURL string, resp *http.Response, req RequestDescriptor, sc *scenario.Context) gjson.Result {
	log := obs.From(ctx).With("pkg", "apireport")
	ts := a.now().UTC()

	raw, readErr := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if len(raw) > maxBodyBytes {
		raw = raw[:maxBodyBytes]
		log.Warn("response_body_truncated", "url", rawURL, "limit_bytes", maxBodyBytes)
	}
	if err := resp.Body.Close(); err != nil {
		log.Debug("response_body_close_failed", "error", err)
	}

	var (
		body    any
		decoded gjson.Result
	)
	switch {
	case readErr != nil:
		log.Warn("response_body_read_failed", "url", rawURL, "error", readErr)
		body = BodyPlaceholder
	case !gjson.ValidBytes(raw):
		body = BodyPlaceholder
	default:
		body = json.RawMessage(raw)
		decoded = gjson.ParseBytes(raw)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = defaultContentType
	}

	record := scenario.APIResponseRecord{
		Step:        stepLabel,
		Method:      method,
		URL:         rawURL,
		Status:      resp.StatusCode,
		StatusText:  http.StatusText(resp.StatusCode),
		Headers:     logutil.FlattenHeaders(resp.Header),
		Body:        body,
		Timestamp:   ts,
		Size:        len(raw),
		ContentType: contentType,
	}
	sc.AppendResponse(record)

	reqHeaders := req.Headers
	if reqHeaders == nil {
		reqHeaders = map[string]string{}
	}
	reqBody := encodeBody(req.Body, log)
	if a.Redact {
		reqHeaders = logutil.RedactHeaders(reqHeaders)
		reqBody = logutil.RedactJSON(reqBody)
	}

	reporter := sc.Reporter
	if reporter == nil {
		reporter = report.Discard
	}
	reporter.Step(stepLabel+" - API Response", func() {
		reporter.Attach(stepLabel+" - Request Details", report.MediaJSON, marshalIndent(requestDetails{
			Method:    method,
			URL:       rawURL,
			Headers:   reqHeaders,
			Body:      reqBody,
			Timestamp: ts,
		}, log))
		reporter.Attach(stepLabel+" - Response Details", report.MediaJSON, marshalIndent(record, log))
		reporter.Attach(stepLabel+" - Response Body", report.MediaJSON, marshalIndent(body, log))
		reporter.Label(LabelStatus, strconv.Itoa(resp.StatusCode))
		reporter.Label(LabelMethod, method)
		reporter.Label(LabelEndpoint, EndpointLabel(rawURL))
	})

	log.Debug("api_exchange",
		"step", stepLabel,
		"method", method,
		"url", rawURL,
		"status", resp.StatusCode,
		"resp_bytes", len(raw),
		"resp_headers", logutil.HeaderNames(record.Headers),
		"resp_preview", logutil.TruncateForLog(string(logutil.RedactJSON(raw)), 200),
	)
	return decoded
}

func encodeBody(body any, log *slog.Logger) json.RawMessage {
	switch b := body.(type) {
	case nil:
		return json.RawMessage("{}")
	case json.RawMessage:
		if gjson.ValidBytes(b) {
			return b
		}
	case []byte:
		if gjson.ValidBytes(b) {
			return json.RawMessage(b)
		}
		data, _ := json.Marshal(string(b))
		return data
	}
	data, err := json.Marshal(body)
	if err != nil {
		log.Warn("request_body_encode_failed", "error", err)
		return json.RawMessage("null")
	}
	return data
}

func marshalIndent(v any, log *slog.Logger) []byte {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		log.Warn("attachment_encode_failed", "error", err)
		return []byte(`"` + BodyPlaceholder + `"`)
	}
	return data
}

// EndpointLabel returns the last non-empty path segment of rawURL, or
// "unknown" when there is none.
func EndpointLabel(rawURL string) string {
	path := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		path = u.Path
	}
	segments := strings.Split(path, "/")
	for i := len(segments) - 1; i >= 0; i-- {
		if s := strings.TrimSpace(segments[i]); s != "" {
			return s
		}
	}
	return "unknown"
}
