package steps

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/playwright-community/playwright-go"

	"github.com/kuitang/flutter-notes-e2e/internal/errs"
)

func TestUIError_CodesTimeouts(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		err  error
		want errs.Code
	}{
		{"playwright wait", fmt.Errorf("%w: Timeout 30000ms exceeded", playwright.ErrTimeout), errs.DeadlineExceeded},
		{"step deadline", fmt.Errorf("goto: %w", context.DeadlineExceeded), errs.DeadlineExceeded},
		{"other", errors.New("element is not attached to the DOM"), errs.Internal},
	}
	for _, tc := range tests {
		err := uiError("click increment button", tc.err)
		if got := errs.CodeOf(err); got != tc.want {
			t.Fatalf("%s: code = %q, want %q", tc.name, got, tc.want)
		}
		if !errors.Is(err, tc.err) {
			t.Fatalf("%s: cause not wrapped", tc.name)
		}
		if !strings.HasPrefix(err.Error(), "click increment button: ") {
			t.Fatalf("%s: message = %q", tc.name, err.Error())
		}
	}
}
