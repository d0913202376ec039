package harness

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/cucumber/godog"
	"github.com/cucumber/godog/colors"

	"github.com/kuitang/flutter-notes-e2e/internal/apiclient"
	"github.com/kuitang/flutter-notes-e2e/internal/config"
	"github.com/kuitang/flutter-notes-e2e/internal/engine"
	"github.com/kuitang/flutter-notes-e2e/internal/errs"
	"github.com/kuitang/flutter-notes-e2e/internal/obs"
	"github.com/kuitang/flutter-notes-e2e/internal/report"
)

// FocusTag marks scenarios a developer wants to run in isolation.
const FocusTag = "@only"

// RunOptions select what a run executes and how it reports.
type RunOptions struct {
	// Paths are feature files or directories. Empty means cfg.Features.
	Paths []string
	// Format is a godog format list; "json:<file>" is accepted as an alias
	// of "cucumber:<file>".
	Format      string
	Tags        string
	Concurrency int
	Output      io.Writer
	// TestingT runs each scenario as a subtest when set.
	TestingT *testing.T
}

// Run builds the production collaborators from cfg and runs the suite.
// It returns godog's exit code.
func Run(ctx context.Context, cfg *config.Config, opts RunOptions) (int, error) {
	rt, err := report.NewRuntime(cfg.ResultsDir)
	if err != nil {
		return 1, err
	}
	eng := engine.New(&engine.PlaywrightDriver{Browser: cfg.Browser, Headless: cfg.Headless}, engine.Options{
		ActionTimeout:     cfg.StepTimeout,
		NavigationTimeout: cfg.StepTimeout,
		Tracing:           cfg.Trace,
	})
	api := apiclient.New(apiclient.Options{
		RPS:     cfg.APIRPS,
		Burst:   cfg.APIBurst,
		Timeout: cfg.APITimeout,
		Redact:  cfg.RedactReports,
	})
	h := New(cfg, Deps{
		Engine:    eng,
		API:       api,
		Formatter: report.NewFormatter(report.Options{}, rt),
		Runtime:   rt,
	})
	return h.Run(ctx, opts)
}

// Run executes the suite with h's collaborators.
func (h *Harness) Run(ctx context.Context, opts RunOptions) (int, error) {
	log := obs.Pkg("harness")

	paths := opts.Paths
	if len(paths) == 0 {
		paths = h.cfg.Features
	}
	tags := opts.Tags
	if tags == "" {
		tags = h.cfg.Tags
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = h.cfg.Workers
	}
	format := opts.Format
	if format == "" {
		format = "pretty"
	}
	output := opts.Output
	if output == nil {
		output = colors.Colored(os.Stdout)
	}

	focused, err := FocusedFiles(paths)
	if err != nil {
		return 1, err
	}
	tags, err = applyFocus(tags, focused, h.cfg.ForbidFocus)
	if err != nil {
		return 1, err
	}

	log.Info("suite_starting",
		"paths", paths,
		"tags", tags,
		"format", format,
		"concurrency", concurrency,
		"strict", h.cfg.Strict,
	)

	suite := godog.TestSuite{
		Name:                 "flutter-notes-e2e",
		TestSuiteInitializer: h.TestSuiteInitializer,
		ScenarioInitializer:  h.ScenarioInitializer,
		Options: &godog.Options{
			Output:         output,
			Format:         NormalizeFormat(format),
			Paths:          paths,
			Tags:           tags,
			Concurrency:    concurrency,
			Strict:         h.cfg.Strict,
			TestingT:       opts.TestingT,
			DefaultContext: ctx,
		},
	}
	return suite.Run(), nil
}

// NormalizeFormat rewrites "json" formatters to godog's cucumber JSON
// formatter. Other entries are kept as they are.
func NormalizeFormat(format string) string {
	parts := strings.Split(format, ",")
	for i, p := range parts {
		p = strings.TrimSpace(p)
		switch {
		case p == "json":
			p = "cucumber"
		case strings.HasPrefix(p, "json:"):
			p = "cucumber:" + strings.TrimPrefix(p, "json:")
		}
		parts[i] = p
	}
	return strings.Join(parts, ",")
}

// applyFocus narrows tags to focused scenarios, or rejects the run when
// focus is forbidden.
func applyFocus(tags string, focused []string, forbid bool) (string, error) {
	if len(focused) == 0 {
		return tags, nil
	}
	if forbid {
		return "", errs.New(errs.FailedPrecondition,
			fmt.Sprintf("%s scenarios are not allowed in this run: %s", FocusTag, strings.Join(focused, ", ")))
	}
	obs.Pkg("harness").Warn("focused_run", "files", focused)
	if tags == "" {
		return FocusTag, nil
	}
	return FocusTag + " && " + tags, nil
}

// FocusedFiles returns the feature files under paths that tag anything
// with FocusTag.
func FocusedFiles(paths []string) ([]string, error) {
	var out []string
	for _, p := range paths {
		files, err := featureFiles(p)
		if err != nil {
			return nil, err
		}
		for _, f := range files {
			ok, err := hasFocusTag(f)
			if err != nil {
				return nil, err
			}
			if ok {
				out = append(out, f)
			}
		}
	}
	return out, nil
}

func featureFiles(p string) ([]string, error) {
	// godog accepts "file.feature:12" to select a line.
	if i := strings.LastIndex(p, ".feature:"); i >= 0 {
		p = p[:i+len(".feature")]
	}
	info, err := os.Stat(p)
	if err != nil {
		return nil, errs.Wrap(errs.InvalidArgument, "feature path "+p, err)
	}
	if !info.IsDir() {
		return []string{p}, nil
	}
	matches, err := doublestar.FilepathGlob(filepath.Join(p, "**", "*.feature"))
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", p, err)
	}
	return matches, nil
}

func hasFocusTag(file string) (bool, error) {
	f, err := os.Open(file)
	if err != nil {
		return false, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if !strings.HasPrefix(line, "@") {
			continue
		}
		for _, tok := range strings.Fields(line) {
			if tok == FocusTag {
				return true, nil
			}
		}
	}
	return false, sc.Err()
}
