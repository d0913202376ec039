// Package capture collects failure artifacts for a scenario: a screenshot
// when it failed and a log of the browser traffic seen while it ran. Both
// are best effort; nothing here can change a scenario's verdict.
package capture

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/playwright-community/playwright-go"

	"github.com/kuitang/flutter-notes-e2e/internal/obs"
	"github.com/kuitang/flutter-notes-e2e/internal/report"
)

// Attachment names.
const (
	ScreenshotAttachment = "Failed Screenshot"
	NetworkAttachment    = "Network Requests/Responses"
	TraceAttachment      = "Playwright Trace"
)

// Collector writes failure artifacts.
type Collector struct {
	ScreenshotsDir string
	// TraceDir receives trace-<scenario>.zip files.
	TraceDir string
	// Grace is how long Flush waits for in-flight traffic.
	Grace time.Duration
}

// ScreenshotPath returns where the failure screenshot for the named
// scenario is written.
func ScreenshotPath(dir, scenarioName string) string {
	return filepath.Join(dir, "failed-"+sanitize(scenarioName)+".png")
}

// ScreenshotOnFailure captures page when failed is true, writes it under
// ScreenshotsDir, and attaches it to rep. It returns the file path, or ""
// when nothing was captured.
func (c *Collector) ScreenshotOnFailure(ctx context.Context, page playwright.Page, scenarioName string, failed bool, rep report.Reporter) string {
	if !failed {
		return ""
	}
	log := obs.From(ctx).With("pkg", "capture")
	if page == nil {
		log.Warn("screenshot_skipped", "reason", "no page")
		return ""
	}
	if err := os.MkdirAll(c.ScreenshotsDir, 0o755); err != nil {
		log.Warn("screenshot_dir_failed", "dir", c.ScreenshotsDir, "error", err)
		return ""
	}

	path := ScreenshotPath(c.ScreenshotsDir, scenarioName)
	png, err := page.Screenshot(playwright.PageScreenshotOptions{
		Path:     playwright.String(path),
		FullPage: playwright.Bool(true),
	})
	if err != nil {
		log.Warn("screenshot_failed", "path", path, "error", err)
		return ""
	}
	rep.Attach(ScreenshotAttachment, report.MediaPNG, png)
	log.Info("screenshot_saved", "path", path)
	return path
}

// TracePath returns where the trace for the named scenario is written.
func TracePath(dir, scenarioName string) string {
	return filepath.Join(dir, "trace-"+sanitize(scenarioName)+".zip")
}

// SaveTrace stops the trace recorded on bctx, writes it under TraceDir and
// attaches it to rep. It returns the file path, or "" when nothing was
// saved.
func (c *Collector) SaveTrace(ctx context.Context, bctx playwright.BrowserContext, scenarioName string, rep report.Reporter) string {
	if bctx == nil {
		return ""
	}
	log := obs.From(ctx).With("pkg", "capture")
	path := TracePath(c.TraceDir, scenarioName)
	if err := os.MkdirAll(c.TraceDir, 0o755); err != nil {
		log.Warn("trace_dir_failed", "dir", c.TraceDir, "error", err)
		return ""
	}
	if err := bctx.Tracing().Stop(path); err != nil {
		log.Warn("trace_stop_failed", "path", path, "error", err)
		return ""
	}
	data, err := os.ReadFile(path)
	if err != nil {
		log.Warn("trace_read_failed", "path", path, "error", err)
		return ""
	}
	rep.Attach(TraceAttachment, report.MediaZip, data)
	log.Debug("trace_saved", "path", path, "bytes", len(data))
	return path
}

// FlushNetwork stops w and attaches its trace to rep when anything was
// observed.
func (c *Collector) FlushNetwork(ctx context.Context, w *Window, rep report.Reporter) NetworkTrace {
	if w == nil {
		return NetworkTrace{}
	}
	trace := w.Stop(ctx, c.Grace)
	if trace.Empty() {
		return trace
	}
	data, err := json.MarshalIndent(trace, "", "  ")
	if err != nil {
		obs.From(ctx).Warn("network_trace_encode_failed", "pkg", "capture", "error", err)
		return trace
	}
	rep.Attach(NetworkAttachment, report.MediaJSON, data)
	return trace
}

func sanitize(name string) string {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case unicode.IsControl(r):
			return -1
		case strings.ContainsRune(`/\:*?"<>|`, r):
			return '_'
		default:
			return r
		}
	}, strings.TrimSpace(name))
	cleaned = strings.Trim(cleaned, ". ")
	if cleaned == "" {
		return "scenario"
	}
	return cleaned
}
