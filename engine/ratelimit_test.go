package engine

import (
	"context"
	"testing"
	"time"
)

func TestWindowLimiterBlocksAtLimit(t *testing.T) {
	// GIVEN: a limiter allowing 3 hits per minute
	clock := time.Date(2026, time.March, 15, 12, 0, 0, 0, time.UTC)
	l := NewWindowLimiter(3, time.Minute)
	l.now = func() time.Time { return clock }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := l.Allow(ctx, "k")
		if err != nil || !ok {
			t.Fatalf("hit %d should be allowed, got ok=%v err=%v", i+1, ok, err)
		}
	}

	// THEN: the fourth hit in the same window is denied
	ok, err := l.Allow(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("fourth hit should be denied")
	}

	// Other keys are unaffected.
	if ok, _ := l.Allow(ctx, "other"); !ok {
		t.Error("separate key should be allowed")
	}
}

func TestWindowLimiterResetsAfterWindow(t *testing.T) {
	clock := time.Date(2026, time.March, 15, 12, 0, 0, 0, time.UTC)
	l := NewWindowLimiter(1, time.Minute)
	l.now = func() time.Time { return clock }
	ctx := context.Background()

	if ok, _ := l.Allow(ctx, "k"); !ok {
		t.Fatal("first hit should be allowed")
	}
	if ok, _ := l.Allow(ctx, "k"); ok {
		t.Fatal("second hit should be denied")
	}

	// WHEN: the window elapses
	clock = clock.Add(time.Minute)

	// THEN: the key gets a fresh allowance
	if ok, _ := l.Allow(ctx, "k"); !ok {
		t.Error("hit after window should be allowed")
	}
}
