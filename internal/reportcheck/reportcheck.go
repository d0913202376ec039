// Package reportcheck runs a feature through the e2e runner as a
// subprocess and then verifies that the run left usable report artifacts
// behind: result files carrying API response bodies, an HTML report, and
// a cucumber JSON summary.
package reportcheck

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/tidwall/gjson"

	"github.com/kuitang/flutter-notes-e2e/internal/obs"
)

// Defaults used by the check-report command.
const (
	DefaultFeaturePath = "features/api.feature"
	DefaultResultsFile = "results.json"
)

// responseBodyMarkers identify an API response body attachment in a result
// file.
var responseBodyMarkers = []string{"Response Body", "response-body"}

// LogCapture records subprocess output line by line.
type LogCapture struct {
	mu    sync.RWMutex
	lines []string
}

func (l *LogCapture) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, line := range strings.Split(string(p), "\n") {
		if line != "" {
			l.lines = append(l.lines, line)
		}
	}
	return len(p), nil
}

// Lines returns a copy of all captured lines.
func (l *LogCapture) Lines() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	cp := make([]string, len(l.lines))
	copy(cp, l.lines)
	return cp
}

// Options configure a check.
type Options struct {
	// Runner is the command that runs features. The feature path and
	// "--format json:<ResultsFile>" are appended to it.
	Runner        []string
	FeaturePath   string
	ResultsFile   string
	ResultsDir    string
	HTMLReportDir string
	// Timeout bounds the subprocess. Zero means no limit beyond ctx.
	Timeout time.Duration
	// Out receives progress and the summary. Nil means os.Stdout.
	Out io.Writer
}

// Summary is what the artifact inspection found.
type Summary struct {
	ResultsDirFound   bool
	JSONFiles         int
	HasResponseBodies bool
	HTMLReportFound   bool

	Scenarios int
	Passed    int
	Failed    int
}

// Check runs the feature, then inspects the artifacts and prints a summary.
// It fails only when the subprocess fails; missing artifacts are reported
// in the summary.
func Check(ctx context.Context, opts Options) (Summary, error) {
	opts = withDefaults(opts)
	out := opts.Out

	fmt.Fprintln(out, "Checking API response body reporting")
	fmt.Fprintf(out, "Running %s with JSON results in %s\n", opts.FeaturePath, opts.ResultsFile)

	logs, err := RunFeature(ctx, opts)
	if err != nil {
		fmt.Fprintf(out, "FAIL test execution failed: %v\n", err)
		return Summary{}, err
	}
	fmt.Fprintf(out, "OK tests completed (%d output lines)\n", len(logs.Lines()))

	sum := Inspect(opts)
	if data, err := os.ReadFile(opts.ResultsFile); err == nil {
		sum.Scenarios, sum.Passed, sum.Failed = CucumberTotals(data)
	} else {
		obs.Pkg("reportcheck").Warn("results_file_unreadable", "path", opts.ResultsFile, "error", err)
	}
	PrintSummary(out, opts, sum)
	return sum, nil
}

func withDefaults(opts Options) Options {
	if opts.FeaturePath == "" {
		opts.FeaturePath = DefaultFeaturePath
	}
	if opts.ResultsFile == "" {
		opts.ResultsFile = DefaultResultsFile
	}
	if opts.ResultsDir == "" {
		opts.ResultsDir = "allure-results"
	}
	if opts.HTMLReportDir == "" {
		opts.HTMLReportDir = "allure-report"
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	return opts
}

// RunFeature runs the runner as a subprocess, streaming its output to
// opts.Out and capturing it line by line.
func RunFeature(ctx context.Context, opts Options) (*LogCapture, error) {
	opts = withDefaults(opts)
	if len(opts.Runner) == 0 {
		return nil, errors.New("no runner command configured")
	}
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	args := append(append([]string{}, opts.Runner[1:]...),
		opts.FeaturePath, "--format", "json:"+opts.ResultsFile)
	cmd := exec.CommandContext(ctx, opts.Runner[0], args...)

	logs := &LogCapture{}
	var stderr bytes.Buffer
	cmd.Stdout = io.MultiWriter(opts.Out, logs)
	cmd.Stderr = io.MultiWriter(opts.Out, logs, &stderr)

	log := obs.Pkg("reportcheck")
	start := time.Now()
	log.Info("runner_started", "cmd", cmd.String())
	runErr := cmd.Run()
	log.Info("runner_finished", "duration_ms", time.Since(start).Milliseconds(), "error", runErr)

	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			return logs, fmt.Errorf("runner exited with code %d: %s", exitErr.ExitCode(), strings.TrimSpace(lastLines(stderr.String(), 5)))
		}
		return logs, fmt.Errorf("run %s: %w", opts.Runner[0], runErr)
	}
	return logs, nil
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

// Inspect looks at the results and HTML report directories.
func Inspect(opts Options) Summary {
	opts = withDefaults(opts)
	var sum Summary

	if info, err := os.Stat(opts.ResultsDir); err == nil && info.IsDir() {
		sum.ResultsDirFound = true
		fsys := os.DirFS(opts.ResultsDir)
		files, err := doublestar.Glob(fsys, "*.json")
		if err != nil {
			obs.Pkg("reportcheck").Warn("results_glob_failed", "dir", opts.ResultsDir, "error", err)
		}
		sum.JSONFiles = len(files)
		for _, f := range files {
			data, err := fs.ReadFile(fsys, f)
			if err != nil {
				continue
			}
			if containsAny(data, responseBodyMarkers) {
				sum.HasResponseBodies = true
				break
			}
		}
	}

	if info, err := os.Stat(opts.HTMLReportDir); err == nil && info.IsDir() {
		sum.HTMLReportFound = true
	}
	return sum
}

func containsAny(data []byte, markers []string) bool {
	for _, m := range markers {
		if bytes.Contains(data, []byte(m)) {
			return true
		}
	}
	return false
}

// CucumberTotals counts scenarios in a cucumber JSON document. A scenario
// passed when every one of its steps passed.
func CucumberTotals(data []byte) (scenarios, passed, failed int) {
	for _, feature := range gjson.ParseBytes(data).Array() {
		for _, el := range feature.Get("elements").Array() {
			if el.Get("type").String() != "scenario" {
				continue
			}
			scenarios++
			ok := true
			for _, status := range el.Get("steps.#.result.status").Array() {
				if status.String() != "passed" {
					ok = false
					break
				}
			}
			if ok {
				passed++
			} else {
				failed++
			}
		}
	}
	return scenarios, passed, failed
}

// PrintSummary writes a human-readable report of sum.
func PrintSummary(w io.Writer, opts Options, sum Summary) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Report artifacts")
	if sum.ResultsDirFound {
		fmt.Fprintf(w, "  OK   results directory %s (%d JSON files)\n", opts.ResultsDir, sum.JSONFiles)
		if sum.HasResponseBodies {
			fmt.Fprintln(w, "  OK   response body attachments found")
		} else {
			fmt.Fprintln(w, "  WARN no response body attachments found")
		}
	} else {
		fmt.Fprintf(w, "  FAIL results directory %s not found\n", opts.ResultsDir)
	}
	if sum.HTMLReportFound {
		fmt.Fprintf(w, "  OK   HTML report %s\n", opts.HTMLReportDir)
	} else {
		fmt.Fprintf(w, "  WARN HTML report %s not found\n", opts.HTMLReportDir)
	}
	fmt.Fprintf(w, "Scenarios: %d total, %d passed, %d failed\n", sum.Scenarios, sum.Passed, sum.Failed)
}
