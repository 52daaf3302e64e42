package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeClock struct {
	now    time.Time
	slept  []time.Duration
	failOn error
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(_ context.Context, d time.Duration) error {
	if c.failOn != nil {
		return c.failOn
	}
	c.slept = append(c.slept, d)
	c.now = c.now.Add(d)
	return nil
}

func newTestLimiter(rate int, clock *fakeClock) *Limiter {
	l := New(rate)
	l.now = clock.Now
	l.sleep = clock.Sleep
	return l
}

func TestEstimateCompletion(t *testing.T) {
	if got := New(60).EstimateCompletion(120); got != 2.0 {
		t.Errorf("expected 2.0 minutes, got %v", got)
	}
	if got := New(0).EstimateCompletion(500); got != 0 {
		t.Errorf("expected 0 for disabled limiter, got %v", got)
	}
}

func TestWaitEnforcesInterval(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	l := newTestLimiter(60, clock)
	ctx := context.Background()

	if err := l.Wait(ctx); err != nil {
		t.Fatal(err)
	}
	if len(clock.slept) != 0 {
		t.Fatalf("first call should not sleep, slept %v", clock.slept)
	}

	clock.now = clock.now.Add(250 * time.Millisecond)
	if err := l.Wait(ctx); err != nil {
		t.Fatal(err)
	}
	if len(clock.slept) != 1 || clock.slept[0] != 750*time.Millisecond {
		t.Fatalf("expected a 750ms sleep, got %v", clock.slept)
	}

	clock.now = clock.now.Add(2 * time.Second)
	if err := l.Wait(ctx); err != nil {
		t.Fatal(err)
	}
	if len(clock.slept) != 1 {
		t.Fatalf("no sleep expected after a long gap, got %v", clock.slept)
	}
}

func TestSetRateTakesEffectOnNextCall(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	l := newTestLimiter(60, clock)
	ctx := context.Background()
	_ = l.Wait(ctx)

	l.SetRate(120)
	if l.Interval() != 500*time.Millisecond {
		t.Fatalf("expected 500ms interval, got %s", l.Interval())
	}
	_ = l.Wait(ctx)
	if len(clock.slept) != 1 || clock.slept[0] != 500*time.Millisecond {
		t.Fatalf("expected a 500ms sleep, got %v", clock.slept)
	}

	l.SetRate(0)
	_ = l.Wait(ctx)
	_ = l.Wait(ctx)
	if len(clock.slept) != 1 {
		t.Fatalf("disabled limiter should never sleep, got %v", clock.slept)
	}
}

func TestWaitHonorsContext(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	l := newTestLimiter(1, clock)
	_ = l.Wait(context.Background())

	clock.failOn = context.Canceled
	if err := l.Wait(context.Background()); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestWaitDoesNotBlockReaders(t *testing.T) {
	l := New(1)
	entered := make(chan struct{})
	wake := make(chan struct{})
	l.sleep = func(context.Context, time.Duration) error {
		close(entered)
		<-wake
		return nil
	}
	_ = l.Wait(context.Background())

	done := make(chan error, 1)
	go func() { done <- l.Wait(context.Background()) }()
	<-entered

	read := make(chan int, 1)
	go func() {
		l.SetRate(30)
		read <- l.Rate()
	}()
	select {
	case got := <-read:
		if got != 30 {
			t.Errorf("expected rate 30, got %d", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Rate blocked while Wait was sleeping")
	}
	close(wake)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
}

func TestCancelledWaitReturnsSlot(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	l := newTestLimiter(60, clock)
	_ = l.Wait(context.Background())

	clock.failOn = context.Canceled
	_ = l.Wait(context.Background())
	clock.failOn = nil

	clock.now = clock.now.Add(time.Second)
	if err := l.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(clock.slept) != 0 {
		t.Fatalf("a cancelled wait should not delay the next caller, slept %v", clock.slept)
	}
}

func TestSleepCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Sleep(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestProgress(t *testing.T) {
	l := New(30)
	p := l.Progress(10, 40)
	if p.Percentage != 25 || p.Remaining != 30 || p.ETAMinutes != 1 {
		t.Errorf("unexpected progress %+v", p)
	}
	if got := l.Progress(0, 0); got != (Progress{}) {
		t.Errorf("expected zero progress, got %+v", got)
	}
}
