// Package harness wires the engine, the scenario context, the step
// definitions, and the failure collectors into godog's suite and scenario
// lifecycle.
package harness

import (
	"context"
	"errors"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/cucumber/godog"
	"github.com/playwright-community/playwright-go"

	"github.com/kuitang/flutter-notes-e2e/internal/apiclient"
	"github.com/kuitang/flutter-notes-e2e/internal/capture"
	"github.com/kuitang/flutter-notes-e2e/internal/config"
	"github.com/kuitang/flutter-notes-e2e/internal/engine"
	"github.com/kuitang/flutter-notes-e2e/internal/obs"
	"github.com/kuitang/flutter-notes-e2e/internal/report"
	"github.com/kuitang/flutter-notes-e2e/internal/scenario"
	"github.com/kuitang/flutter-notes-e2e/internal/steps"
)

// teardownTimeout bounds the After hook. The network grace period is
// added on top of it.
const teardownTimeout = 30 * time.Second

// Deps are the collaborators a Harness drives.
type Deps struct {
	Engine *engine.Engine
	API    *apiclient.Client
	// Formatter writes result files. Nil disables reporting.
	Formatter *report.Formatter
	// Runtime receives environment.properties after the suite. Optional.
	Runtime *report.Runtime
}

// Harness owns the per-run wiring. One Harness serves every scenario of
// a run, concurrently.
type Harness struct {
	cfg       *config.Config
	deps      Deps
	collector *capture.Collector
}

// New returns a Harness.
func New(cfg *config.Config, deps Deps) *Harness {
	return &Harness{
		cfg:  cfg,
		deps: deps,
		collector: &capture.Collector{
			ScreenshotsDir: cfg.ScreenshotsDir,
			TraceDir:       cfg.ResultsDir,
			Grace:          cfg.NetworkGrace,
		},
	}
}

// TestSuiteInitializer shuts the engine down after the last scenario. The
// engine starts lazily with the first session.
func (h *Harness) TestSuiteInitializer(tsc *godog.TestSuiteContext) {
	tsc.AfterSuite(func() {
		log := obs.Pkg("harness")
		opened, closed := h.deps.Engine.Stats()
		if err := h.deps.Engine.Shutdown(); err != nil {
			log.Warn("engine_shutdown_failed", "error", err)
		}
		log.Info("suite_finished", "sessions_opened", opened, "sessions_closed", closed)
		if h.deps.Runtime != nil {
			if err := h.deps.Runtime.WriteEnvironment(h.environment()); err != nil {
				log.Warn("environment_write_failed", "error", err)
			}
		}
	})
}

func (h *Harness) environment() map[string]string {
	return map[string]string{
		"Browser":      h.cfg.Browser,
		"Headless":     strconv.FormatBool(h.cfg.Headless),
		"App.URL":      h.cfg.AppURL,
		"API.BaseURL":  h.cfg.APIBaseURL,
		"CI":           strconv.FormatBool(h.cfg.CI),
		"Workers":      strconv.Itoa(h.cfg.Workers),
		"Step.Timeout": h.cfg.StepTimeout.String(),
	}
}

// ScenarioInitializer is called by godog once per scenario. It builds that
// scenario's context, binds the steps to it, and installs the hooks.
func (h *Harness) ScenarioInitializer(sc *godog.ScenarioContext) {
	run := &scenarioRun{
		h:     h,
		world: scenario.New("", "", h.cfg.APIBaseURL),
	}
	run.registry = steps.Register(sc, run.world, steps.Deps{Config: h.cfg, API: h.deps.API})

	sc.Before(run.before)
	sc.StepContext().Before(run.beforeStep)
	sc.StepContext().After(run.afterStep)
	sc.After(run.after)
}

// scenarioRun is the state of one scenario between its hooks. Steps of a
// scenario run sequentially, so no locking is needed.
type scenarioRun struct {
	h        *Harness
	world    *scenario.Context
	registry *steps.Registry

	report *report.ScenarioReport
	window *capture.Window

	stepOpen   bool
	stepParent context.Context
	stepCancel context.CancelFunc
}

func (r *scenarioRun) before(ctx context.Context, sc *godog.Scenario) (context.Context, error) {
	r.world.Reset()
	r.world.ID = sc.Id
	r.world.Name = sc.Name
	r.world.BaseURL = r.h.cfg.APIBaseURL
	ctx = obs.WithScenario(ctx, sc.Id, sc.Name)

	if r.h.deps.Formatter != nil {
		r.report = r.h.deps.Formatter.StartScenario(report.ScenarioInfo{
			ID:      sc.Id,
			Name:    sc.Name,
			Feature: featureName(sc.Uri),
			Tags:    tagNames(sc),
		})
		r.world.Reporter = r.report
	}

	sess, err := r.h.deps.Engine.OpenSession(ctx)
	if err != nil {
		return ctx, err
	}
	r.world.Session = sess
	r.window = capture.StartWindow(sess.Context, r.h.cfg.RedactReports)
	obs.From(ctx).Debug("scenario_started", "session_id", sess.ID)
	return ctx, nil
}

func (r *scenarioRun) beforeStep(ctx context.Context, st *godog.Step) (context.Context, error) {
	r.stepParent = ctx
	stepCtx, cancel := context.WithTimeout(obs.WithStep(ctx, st.Text), r.registry.Timeout(st.Text))
	r.stepCancel = cancel
	r.stepOpen = true
	if r.report != nil {
		r.report.StartStep(st.Text)
	}
	return stepCtx, nil
}

// afterStep may run after the scenario's After hook: godog tears a scenario
// down as soon as its last or failing step returns, before that step's
// after-step hooks. In that case after has already closed the step.
func (r *scenarioRun) afterStep(ctx context.Context, st *godog.Step, status godog.StepResultStatus, err error) (context.Context, error) {
	if !r.stepOpen {
		return ctx, nil
	}
	r.stepOpen = false
	if r.stepCancel != nil {
		r.stepCancel()
		r.stepCancel = nil
	}
	if r.report != nil {
		r.report.EndStep(stepStatus(status), err)
	}
	// The step deadline must not leak into later steps or teardown.
	parent := r.stepParent
	r.stepParent = nil
	if parent == nil {
		parent = ctx
	}
	return parent, nil
}

// after tears the scenario down in a fixed order. Nothing here can change
// the scenario's verdict, so it always returns a nil error.
func (r *scenarioRun) after(ctx context.Context, sc *godog.Scenario, scenarioErr error) (context.Context, error) {
	tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), teardownTimeout+r.h.cfg.NetworkGrace)
	defer cancel()
	if r.stepCancel != nil {
		r.stepCancel()
		r.stepCancel = nil
	}

	status := scenarioStatus(scenarioErr)
	// The last or failing step is still open here. Close it first so it
	// keeps its error and the artifacts below land on the scenario.
	if r.stepOpen {
		r.stepOpen = false
		if r.report != nil {
			r.report.EndStep(status, scenarioErr)
		}
	}
	rep := r.world.Reporter

	var page playwright.Page
	sess := r.world.Session
	if sess != nil {
		page = sess.Page
	}
	r.h.collector.ScreenshotOnFailure(tctx, page, sc.Name, status == report.Failed, rep)
	if sess != nil && sess.Tracing {
		r.h.collector.SaveTrace(tctx, sess.Context, sc.Name, rep)
	}
	r.h.collector.FlushNetwork(tctx, r.window, rep)
	r.h.deps.Engine.CloseSession(tctx, sess)

	if r.report != nil {
		if err := r.report.Finish(status, scenarioErr); err != nil {
			obs.From(tctx).Warn("report_write_failed", "pkg", "harness", "error", err)
		}
	}
	obs.From(tctx).Info("scenario_finished", "pkg", "harness", "status", string(status))

	r.world.Reset()
	r.window = nil
	r.report = nil
	return ctx, nil
}

func stepStatus(s godog.StepResultStatus) report.Status {
	switch s {
	case godog.StepPassed:
		return report.Passed
	case godog.StepFailed:
		return report.Failed
	case godog.StepSkipped:
		return report.Skipped
	default:
		return report.Broken
	}
}

func scenarioStatus(err error) report.Status {
	switch {
	case err == nil:
		return report.Passed
	case errors.Is(err, godog.ErrSkip):
		return report.Skipped
	case errors.Is(err, godog.ErrPending), errors.Is(err, godog.ErrUndefined):
		return report.Broken
	default:
		return report.Failed
	}
}

func featureName(uri string) string {
	if uri == "" {
		return "unknown"
	}
	return strings.TrimSuffix(path.Base(uri), ".feature")
}

func tagNames(sc *godog.Scenario) []string {
	out := make([]string, 0, len(sc.Tags))
	for _, t := range sc.Tags {
		if t == nil {
			continue
		}
		out = append(out, strings.TrimPrefix(t.Name, "@"))
	}
	return out
}
