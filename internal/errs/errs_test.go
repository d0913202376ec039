package errs

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"pgregory.net/rapid"
)

func testCodeOf_RoundtripForTypedErrors(t *rapid.T) {
	code := rapid.SampledFrom(Codes).Draw(t, "code")
	message := rapid.StringMatching(`[a-zA-Z0-9 _:\-]{1,80}`).Draw(t, "message")

	err := New(code, message)
	if got := CodeOf(err); got != code {
		t.Fatalf("CodeOf(New) mismatch: got=%q want=%q", got, code)
	}
	if got := MessageOf(err); got != message {
		t.Fatalf("MessageOf(New) mismatch: got=%q want=%q", got, message)
	}
	if !Is(err, code) {
		t.Fatalf("Is(%q) = false", code)
	}
}

func TestCodeOf_RoundtripForTypedErrors(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testCodeOf_RoundtripForTypedErrors)
}

func testWrap_PreservesCodeThroughFmtWrapping(t *rapid.T) {
	code := rapid.SampledFrom(Codes).Draw(t, "code")
	message := rapid.StringMatching(`[a-zA-Z0-9 _:\-]{1,80}`).Draw(t, "message")
	cause := errors.New(rapid.StringMatching(`[a-zA-Z0-9 _:\-]{1,80}`).Draw(t, "cause"))

	wrapped := fmt.Errorf("outer: %w", Wrap(code, message, cause))

	if got := CodeOf(wrapped); got != code {
		t.Fatalf("CodeOf(wrapped) mismatch: got=%q want=%q", got, code)
	}
	if got := MessageOf(wrapped); got != message {
		t.Fatalf("MessageOf(wrapped) mismatch: got=%q want=%q", got, message)
	}
	if !errors.Is(wrapped, cause) {
		t.Fatal("cause lost through wrapping")
	}
}

func TestWrap_PreservesCodeThroughFmtWrapping(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testWrap_PreservesCodeThroughFmtWrapping)
}

func TestCodeOf_UntypedErrors(t *testing.T) {
	t.Parallel()

	if got := CodeOf(nil); got != Internal {
		t.Fatalf("CodeOf(nil) = %q", got)
	}
	if got := CodeOf(errors.New("boom")); got != Internal {
		t.Fatalf("CodeOf(untyped) = %q", got)
	}
	if got := MessageOf(errors.New("open /var/db: permission denied")); got != "internal error" {
		t.Fatalf("MessageOf(untyped) leaked %q", got)
	}
	if got := CodeOf(fmt.Errorf("wait: %w", context.DeadlineExceeded)); got != DeadlineExceeded {
		t.Fatalf("CodeOf(deadline) = %q", got)
	}
}

func TestTimeout(t *testing.T) {
	t.Parallel()

	if Timeout("x", nil) != nil {
		t.Fatal("Timeout(nil) should be nil")
	}
	plain := errors.New("plain")
	got := Timeout("x", plain)
	if !errors.Is(got, plain) || got.Error() != "x: plain" || CodeOf(got) != Internal {
		t.Fatalf("Timeout(non-deadline) = %v (code %q)", got, CodeOf(got))
	}
	err := Timeout("navigate", context.DeadlineExceeded)
	if CodeOf(err) != DeadlineExceeded {
		t.Fatalf("CodeOf = %q", CodeOf(err))
	}
	if err.Error() != "navigate: context deadline exceeded" {
		t.Fatalf("Error() = %q", err.Error())
	}
}

func TestHTTPStatus(t *testing.T) {
	t.Parallel()

	cases := map[Code]int{
		InvalidArgument:    http.StatusBadRequest,
		Unauthenticated:    http.StatusUnauthorized,
		NotFound:           http.StatusNotFound,
		AlreadyExists:      http.StatusConflict,
		FailedPrecondition: http.StatusConflict,
		DeadlineExceeded:   http.StatusGatewayTimeout,
		Unavailable:        http.StatusServiceUnavailable,
		Internal:           http.StatusInternalServerError,
		Code("bogus"):      http.StatusInternalServerError,
	}
	for code, want := range cases {
		if got := HTTPStatus(code); got != want {
			t.Fatalf("HTTPStatus(%q) = %d, want %d", code, got, want)
		}
	}
}
