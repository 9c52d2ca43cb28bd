package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/kailas-cloud/imgdex/internal/domain"
)

func TestPolicy_Delay(t *testing.T) {
	p := Policy{MaxAttempts: 5, Base: 10 * time.Millisecond, Max: 35 * time.Millisecond}
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 0},
		{2, 10 * time.Millisecond},
		{3, 20 * time.Millisecond},
		{4, 35 * time.Millisecond},
		{5, 35 * time.Millisecond},
	}
	for _, tt := range tests {
		if got := p.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestDo_SucceedsAfterRetries(t *testing.T) {
	calls := 0
	retries := 0
	n, err := Do(context.Background(), Policy{MaxAttempts: 3, Base: time.Millisecond},
		func(context.Context) error {
			calls++
			if calls < 3 {
				return fmt.Errorf("call: %w", domain.ErrEmbeddingBackend)
			}
			return nil
		},
		func(int, error) { retries++ },
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 3 || calls != 3 {
		t.Errorf("attempts = %d, calls = %d, want 3", n, calls)
	}
	if retries != 2 {
		t.Errorf("onRetry called %d times, want 2", retries)
	}
}

func TestDo_StopsOnNonRetryable(t *testing.T) {
	calls := 0
	n, err := Do(context.Background(), Policy{MaxAttempts: 5}, func(context.Context) error {
		calls++
		return domain.ErrInvalidInput
	}, nil)
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if n != 1 || calls != 1 {
		t.Errorf("attempts = %d, calls = %d, want 1", n, calls)
	}
}

func TestDo_Exhausted(t *testing.T) {
	calls := 0
	n, err := Do(context.Background(), Policy{MaxAttempts: 3}, func(context.Context) error {
		calls++
		return context.DeadlineExceeded
	}, nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
	if n != 3 || calls != 3 {
		t.Errorf("attempts = %d, calls = %d, want 3", n, calls)
	}
}

func TestDo_CancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	n, err := Do(ctx, Policy{MaxAttempts: 3, Base: time.Hour}, func(context.Context) error {
		calls++
		cancel()
		return domain.ErrIndexBackend
	}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 1 || n != 1 {
		t.Errorf("attempts = %d, calls = %d, want 1", n, calls)
	}
}

func TestDo_AlreadyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	_, err := Do(ctx, Policy{MaxAttempts: 3}, func(context.Context) error {
		called = true
		return nil
	}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if called {
		t.Error("fn must not run on a cancelled context")
	}
}
