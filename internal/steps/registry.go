// Package steps holds the Gherkin step definitions. Each scenario gets its
// own step receivers bound to that scenario's Context, and every step is
// registered with the time budget its deadline is derived from.
package steps

import (
	"context"
	"regexp"
	"sync"
	"time"

	"github.com/cucumber/godog"

	"github.com/kuitang/flutter-notes-e2e/internal/apiclient"
	"github.com/kuitang/flutter-notes-e2e/internal/config"
	"github.com/kuitang/flutter-notes-e2e/internal/errs"
	"github.com/kuitang/flutter-notes-e2e/internal/scenario"
)

// Deps are shared by every scenario's steps.
type Deps struct {
	Config *config.Config
	API    *apiclient.Client
}

type timedStep struct {
	re      *regexp.Regexp
	timeout time.Duration
}

// Registry maps step text to the timeout it runs under.
type Registry struct {
	def time.Duration

	mu      sync.RWMutex
	entries []timedStep
}

// NewRegistry returns a Registry whose unmatched steps get def.
func NewRegistry(def time.Duration) *Registry {
	return &Registry{def: def}
}

// Step registers fn for expr on sc with the given timeout.
func (r *Registry) Step(sc *godog.ScenarioContext, expr string, timeout time.Duration, fn any) {
	r.add(expr, timeout)
	sc.Step(expr, fn)
}

func (r *Registry) add(expr string, timeout time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, timedStep{re: regexp.MustCompile(expr), timeout: timeout})
}

// Timeout returns the budget for a step with the given text.
func (r *Registry) Timeout(text string) time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.entries {
		if e.re.MatchString(text) {
			return e.timeout
		}
	}
	return r.def
}

// Register binds all step definitions to world and returns their
// timeouts.
func Register(sc *godog.ScenarioContext, world *scenario.Context, deps Deps) *Registry {
	cfg := deps.Config
	reg := NewRegistry(cfg.StepTimeout)

	ui := &uiSteps{world: world, cfg: cfg}
	reg.Step(sc, `^navigate to the Flutter Angular app$`, cfg.StepTimeout, ui.navigate)
	reg.Step(sc, `^the app has finished loading$`, cfg.StepTimeout, ui.waitForNetworkIdle)
	reg.Step(sc, `^enable Flutter accessibility semantics$`, cfg.StepTimeout, ui.enableSemantics)
	reg.Step(sc, `^I click the "\+" increment button$`, cfg.StepTimeout, ui.clickIncrement)
	reg.Step(sc, `^I click the "Increment" button by role$`, cfg.StepTimeout, ui.clickIncrementByRole)
	reg.Step(sc, `^I click on a neutral area of the screen$`, cfg.StepTimeout, ui.clickNeutralArea)
	reg.Step(sc, `^The counter should display "([^"]*)"$`, cfg.StepTimeout, ui.counterShouldDisplay)
	reg.Step(sc, `^the counter paragraph should contain "([^"]*)"$`, cfg.StepTimeout, ui.counterParagraphContains)

	api := &apiSteps{world: world, cfg: cfg, client: deps.API}
	reg.Step(sc, `^The API base URL is "([^"]*)"$`, cfg.APITimeout, api.setBaseURL)
	reg.Step(sc, `^the API base URL is configured$`, cfg.APITimeout, api.useConfiguredBaseURL)
	reg.Step(sc, `^no API responses have been recorded yet$`, cfg.APITimeout, api.nothingRecorded)
	reg.Step(sc, `^I register a new user with name "([^"]*)" and password "([^"]*)"$`, cfg.APITimeout, api.register)
	reg.Step(sc, `^The user should be created successfully$`, cfg.APITimeout, api.userCreated)
	reg.Step(sc, `^I log in to get the access token$`, cfg.APITimeout, api.login)
	reg.Step(sc, `^I change my password from "([^"]*)" to "([^"]*)"$`, cfg.APITimeout, api.changePassword)
	reg.Step(sc, `^The password should be updated successfully$`, cfg.APITimeout, api.passwordUpdated)
	reg.Step(sc, `^I log in with the new password "([^"]*)"$`, cfg.APITimeout, api.loginWithNewPassword)
	reg.Step(sc, `^I create a new note with title "([^"]*)" and description "([^"]*)"$`, cfg.APITimeout, api.createNote)
	reg.Step(sc, `^I update the note title to "([^"]*)"$`, cfg.APITimeout, api.updateNoteTitle)
	reg.Step(sc, `^The note should reflect the updated title "([^"]*)"$`, cfg.APITimeout, api.noteHasTitle)
	reg.Step(sc, `^I delete the current note$`, cfg.APITimeout, api.deleteNote)
	reg.Step(sc, `^The note should no longer exist in the system$`, cfg.APITimeout, api.noteGone)

	return reg
}

// remainingMS converts what is left of ctx's deadline into a playwright
// timeout, falling back to def when ctx has none.
func remainingMS(ctx context.Context, def time.Duration) float64 {
	if dl, ok := ctx.Deadline(); ok {
		left := time.Until(dl)
		if left < time.Millisecond {
			left = time.Millisecond
		}
		return float64(left.Milliseconds())
	}
	return float64(def.Milliseconds())
}

// pause waits d or until ctx ends, whichever is first.
func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return errs.Timeout("pause", ctx.Err())
	}
}
