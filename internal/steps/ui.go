package steps

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/kuitang/flutter-notes-e2e/internal/config"
	"github.com/kuitang/flutter-notes-e2e/internal/errs"
	"github.com/kuitang/flutter-notes-e2e/internal/flutter"
	"github.com/kuitang/flutter-notes-e2e/internal/obs"
	"github.com/kuitang/flutter-notes-e2e/internal/scenario"
)

// placeholderClickTimeout bounds the forced click on the semantics
// placeholder, which is allowed to fail.
const placeholderClickTimeout = 2 * time.Second

var errNoSession = errors.New("no browser session for this scenario")

// uiError annotates err from a browser call. Playwright's own wait
// timeouts are coded like an expired step deadline.
func uiError(message string, err error) error {
	if errors.Is(err, playwright.ErrTimeout) {
		return errs.Wrap(errs.DeadlineExceeded, message, err)
	}
	return errs.Timeout(message, err)
}

type uiSteps struct {
	world *scenario.Context
	cfg   *config.Config
}

func (s *uiSteps) page() (playwright.Page, error) {
	if s.world.Session == nil || s.world.Session.Page == nil {
		return nil, errNoSession
	}
	return s.world.Session.Page, nil
}

func (s *uiSteps) navigate(ctx context.Context) error {
	page, err := s.page()
	if err != nil {
		return err
	}
	if _, err := page.Goto(s.cfg.AppURL, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateLoad,
		Timeout:   playwright.Float(remainingMS(ctx, s.cfg.StepTimeout)),
	}); err != nil {
		return uiError("navigate to "+s.cfg.AppURL, err)
	}
	return pause(ctx, s.cfg.SettleDelay)
}

func (s *uiSteps) waitForNetworkIdle(ctx context.Context) error {
	page, err := s.page()
	if err != nil {
		return err
	}
	if err := page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State:   playwright.LoadStateNetworkidle,
		Timeout: playwright.Float(remainingMS(ctx, s.cfg.StepTimeout)),
	}); err != nil {
		return uiError("wait for network idle", err)
	}
	return nil
}

func (s *uiSteps) enableSemantics(ctx context.Context) error {
	page, err := s.page()
	if err != nil {
		return err
	}
	if err := flutter.EnableSemantics(ctx, page, placeholderClickTimeout); err != nil {
		return err
	}
	return pause(ctx, s.cfg.SemanticsDelay)
}

func (s *uiSteps) clickIncrement(ctx context.Context) error {
	page, err := s.page()
	if err != nil {
		return err
	}
	button := page.Locator(flutter.IncrementSelector).First()
	if err := button.WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: playwright.Float(remainingMS(ctx, s.cfg.StepTimeout)),
	}); err != nil {
		return uiError("wait for increment button "+flutter.IncrementSelector, err)
	}
	if err := button.Click(playwright.LocatorClickOptions{
		ClickCount: playwright.Int(1),
		Timeout:    playwright.Float(remainingMS(ctx, s.cfg.StepTimeout)),
	}); err != nil {
		return uiError("click increment button", err)
	}
	return pause(ctx, s.cfg.ClickDelay)
}

func (s *uiSteps) clickIncrementByRole(ctx context.Context) error {
	page, err := s.page()
	if err != nil {
		return err
	}
	err = page.GetByRole(*playwright.AriaRoleButton, playwright.PageGetByRoleOptions{
		Name: "Increment",
	}).First().Click(playwright.LocatorClickOptions{
		Force:   playwright.Bool(true),
		Timeout: playwright.Float(remainingMS(ctx, s.cfg.StepTimeout)),
	})
	if err != nil {
		return uiError("click Increment button by role", err)
	}
	return nil
}

func (s *uiSteps) clickNeutralArea(ctx context.Context) error {
	page, err := s.page()
	if err != nil {
		return err
	}
	if err := page.Mouse().Click(10, 10); err != nil {
		return uiError("click neutral area", err)
	}
	return pause(ctx, s.cfg.ClickDelay)
}

func (s *uiSteps) counterShouldDisplay(ctx context.Context, expected string) error {
	page, err := s.page()
	if err != nil {
		return err
	}
	digits, err := flutter.ExpectedDigits(expected)
	if err != nil {
		return err
	}
	labels, err := flutter.ScanLabels(page)
	if err != nil {
		return err
	}
	match, ok := flutter.MatchCounter(labels, digits)
	obs.From(ctx).Info("counter_check",
		"pkg", "steps",
		"expected", digits,
		"labels", labels,
		"match", match,
	)
	if !ok {
		return &flutter.MismatchError{Expected: digits, Labels: labels}
	}
	return nil
}

func (s *uiSteps) counterParagraphContains(ctx context.Context, text string) error {
	page, err := s.page()
	if err != nil {
		return err
	}
	counter := page.Locator("p").Filter(playwright.LocatorFilterOptions{HasText: "Index:"})
	err = playwright.NewPlaywrightAssertions(remainingMS(ctx, s.cfg.StepTimeout)).
		Locator(counter).
		ToContainText(text)
	if err != nil {
		return uiError(fmt.Sprintf("counter paragraph should contain %q", text), err)
	}
	return nil
}
