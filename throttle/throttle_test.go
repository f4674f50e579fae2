package throttle

import (
	"context"
	"errors"
	"testing"
	"time"
)

// fakeClock lets tests advance time manually instead of sleeping.
type fakeClock struct {
	now time.Time
}

func newFakeLimiter(cfg Config) (*Limiter, *fakeClock) {
	l := New(cfg)
	clk := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	l.now = func() time.Time { return clk.now }
	l.sleep = func(_ context.Context, d time.Duration) error {
		clk.now = clk.now.Add(d)
		return nil
	}
	return l, clk
}

func TestBurstThenSpacing(t *testing.T) {
	// WHAT: Burst tokens pass immediately, further calls wait one interval.
	// WHY: anti-scraping pacing must hold per domain regardless of worker.
	l, clk := newFakeLimiter(Config{Interval: time.Second, Burst: 2})
	ctx := context.Background()

	start := clk.now
	for range 2 {
		if err := l.Wait(ctx, "shop.example.com"); err != nil {
			t.Fatalf("burst wait: %v", err)
		}
	}
	if !clk.now.Equal(start) {
		t.Fatalf("burst should not advance clock, advanced %v", clk.now.Sub(start))
	}

	if err := l.Wait(ctx, "shop.example.com"); err != nil {
		t.Fatalf("third wait: %v", err)
	}
	waited := clk.now.Sub(start)
	if waited < 900*time.Millisecond || waited > 1100*time.Millisecond {
		t.Errorf("third request waited %v, want ~1s", waited)
	}
}

func TestKeysIndependent(t *testing.T) {
	l, clk := newFakeLimiter(Config{Interval: time.Second, Burst: 1})
	ctx := context.Background()

	start := clk.now
	if err := l.Wait(ctx, "a.example.com"); err != nil {
		t.Fatal(err)
	}
	if err := l.Wait(ctx, "b.example.com"); err != nil {
		t.Fatal(err)
	}
	if !clk.now.Equal(start) {
		t.Errorf("different domains should not contend, clock advanced %v", clk.now.Sub(start))
	}
}

func TestWaitHonoursContext(t *testing.T) {
	l := New(Config{Interval: time.Hour, Burst: 1})
	ctx, cancel := context.WithCancel(context.Background())

	if err := l.Wait(ctx, "slow.example.com"); err != nil {
		t.Fatal(err)
	}
	cancel()
	err := l.Wait(ctx, "slow.example.com")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want context.Canceled", err)
	}
}
