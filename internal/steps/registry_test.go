package steps

import (
	"context"
	"testing"
	"time"

	"github.com/kuitang/flutter-notes-e2e/internal/errs"
)

func TestRegistry_Timeout(t *testing.T) {
	t.Parallel()
	r := NewRegistry(time.Minute)
	r.add(`^I log in to get the access token$`, 30*time.Second)
	r.add(`^The counter should display "([^"]*)"$`, 45*time.Second)

	tests := []struct {
		text string
		want time.Duration
	}{
		{"I log in to get the access token", 30 * time.Second},
		{`The counter should display "1"`, 45 * time.Second},
		{"something nobody registered", time.Minute},
	}
	for _, tc := range tests {
		if got := r.Timeout(tc.text); got != tc.want {
			t.Fatalf("Timeout(%q) = %v, want %v", tc.text, got, tc.want)
		}
	}
}

func TestRemainingMS(t *testing.T) {
	t.Parallel()
	if got := remainingMS(context.Background(), 2*time.Second); got != 2000 {
		t.Fatalf("no deadline: got %v, want 2000", got)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if got := remainingMS(ctx, time.Hour); got <= 0 || got > 10000 {
		t.Fatalf("with deadline: got %v, want (0, 10000]", got)
	}

	expired, cancel2 := context.WithTimeout(context.Background(), -time.Second)
	defer cancel2()
	if got := remainingMS(expired, time.Hour); got != 1 {
		t.Fatalf("expired: got %v, want 1", got)
	}
}

func TestPause(t *testing.T) {
	t.Parallel()
	if err := pause(context.Background(), 0); err != nil {
		t.Fatalf("zero pause: %v", err)
	}
	if err := pause(context.Background(), time.Millisecond); err != nil {
		t.Fatalf("short pause: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := pause(ctx, time.Minute)
	if !errs.Is(err, errs.DeadlineExceeded) {
		t.Fatalf("pause past deadline: got %v, want DeadlineExceeded", err)
	}
}
