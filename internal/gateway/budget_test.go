package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
)

func TestBudgetAllowsUpToMinuteCeiling(t *testing.T) {
	b := newBudget(3, 100, 200*time.Millisecond)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := b.Acquire(ctx); err != nil {
			t.Fatalf("acquire %d within ceiling failed: %v", i+1, err)
		}
	}
}

func TestBudgetDefersOverMinuteCeiling(t *testing.T) {
	// 2 calls per 100ms window; the third must wait for the rollover.
	b := newBudget(2, 100, 100*time.Millisecond)
	ctx := context.Background()

	if err := b.Acquire(ctx); err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}
	if err := b.Acquire(ctx); err != nil {
		t.Fatalf("second acquire failed: %v", err)
	}

	start := time.Now()
	if err := b.Acquire(ctx); err != nil {
		t.Fatalf("deferred acquire should succeed after rollover, got: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Errorf("expected third acquire to be deferred, returned after %v", elapsed)
	}
}

func TestBudgetDeferredAcquireHonorsContext(t *testing.T) {
	b := newBudget(1, 100, time.Minute)
	ctx := context.Background()

	if err := b.Acquire(ctx); err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}

	shortCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()

	err := b.Acquire(shortCtx)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got: %v", err)
	}

	// The call never went out, so the month slot must be returned.
	if remaining := b.MonthRemaining(); remaining != 99 {
		t.Errorf("expected 99 month calls remaining, got %d", remaining)
	}
}

func TestBudgetMonthCeiling(t *testing.T) {
	b := newBudget(100, 2, time.Millisecond)
	ctx := context.Background()

	now := time.Date(2025, time.March, 15, 12, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return now }

	if err := b.Acquire(ctx); err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}
	if err := b.Acquire(ctx); err != nil {
		t.Fatalf("second acquire failed: %v", err)
	}

	err := b.Acquire(ctx)
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited on exhausted month budget, got: %v", err)
	}

	// Rolling into April resets the counter.
	now = time.Date(2025, time.April, 1, 0, 0, 0, 0, time.UTC)
	if err := b.Acquire(ctx); err != nil {
		t.Fatalf("acquire after month rollover failed: %v", err)
	}
	if remaining := b.MonthRemaining(); remaining != 1 {
		t.Errorf("expected 1 month call remaining after rollover, got %d", remaining)
	}
}
