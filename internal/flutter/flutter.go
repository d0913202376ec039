// Package flutter reads state out of canvas-rendered Flutter web apps.
// Such apps draw to a canvas and only expose DOM nodes once the
// accessibility tree is switched on; after that, every widget with
// semantics shows up as an flt-semantics element carrying an aria-label.
package flutter

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/kuitang/flutter-notes-e2e/internal/obs"
)

// Selectors for the Flutter semantics DOM.
const (
	PlaceholderSelector = "flt-semantics-placeholder"
	IncrementSelector   = `flt-semantics[aria-label="Increment"]`
	LabelScanSelector   = "flt-semantics, [aria-label]"
)

const scanScript = `(selector) => Array.from(document.querySelectorAll(selector))
	.map((el) => el.getAttribute('aria-label'))
	.filter((label) => !!label)`

var (
	digitsRe = regexp.MustCompile(`\d+`)
	indexRe  = regexp.MustCompile(`Index:\s*(\d+)`)
)

// EnableSemantics asks the app to build its accessibility tree: keyboard
// focus and activation first, then a forced click on the placeholder
// button. The click is allowed to fail; some builds enable semantics on
// the keyboard path alone.
func EnableSemantics(ctx context.Context, page playwright.Page, clickTimeout time.Duration) error {
	kb := page.Keyboard()
	if err := kb.Press("Tab"); err != nil {
		return fmt.Errorf("press Tab: %w", err)
	}
	if err := kb.Press("Enter"); err != nil {
		return fmt.Errorf("press Enter: %w", err)
	}
	err := page.Locator(PlaceholderSelector).Click(playwright.LocatorClickOptions{
		Force:   playwright.Bool(true),
		Timeout: playwright.Float(float64(clickTimeout.Milliseconds())),
	})
	if err != nil {
		obs.From(ctx).Debug("semantics_placeholder_click_failed", "pkg", "flutter", "error", err)
	}
	return nil
}

// ScanLabels returns every non-empty aria-label on the page, in document
// order.
func ScanLabels(page playwright.Page) ([]string, error) {
	raw, err := page.Evaluate(scanScript, LabelScanSelector)
	if err != nil {
		return nil, fmt.Errorf("scan accessibility labels: %w", err)
	}
	items, ok := raw.([]interface{})
	if !ok {
		if raw == nil {
			return nil, nil
		}
		return nil, fmt.Errorf("scan accessibility labels: unexpected result %T", raw)
	}
	labels := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok && s != "" {
			labels = append(labels, s)
		}
	}
	return labels, nil
}

// ExpectedDigits extracts the first run of digits from a display value
// such as "1" or "Index: 1".
func ExpectedDigits(expected string) (string, error) {
	d := digitsRe.FindString(expected)
	if d == "" {
		return "", fmt.Errorf("expected counter value %q contains no digits", expected)
	}
	return d, nil
}

// MatchCounter finds the label showing the counter value digits. An
// "Index: N" label wins; otherwise any label containing N as a whole
// number matches. "1" never matches a label that only shows "10".
func MatchCounter(labels []string, digits string) (string, bool) {
	want := trimZeros(digits)
	for _, l := range labels {
		for _, m := range indexRe.FindAllStringSubmatch(l, -1) {
			if trimZeros(m[1]) == want {
				return l, true
			}
		}
	}
	for _, l := range labels {
		for _, n := range digitsRe.FindAllString(l, -1) {
			if trimZeros(n) == want {
				return l, true
			}
		}
	}
	return "", false
}

// MismatchError reports the labels seen when the counter value was not
// found.
type MismatchError struct {
	Expected string
	Labels   []string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("expected counter %s but found labels: [%s]", e.Expected, strings.Join(e.Labels, ", "))
}

func trimZeros(s string) string {
	t := strings.TrimLeft(s, "0")
	if t == "" {
		return "0"
	}
	return t
}
