// Package ratelimit paces sends by enforcing a minimum interval between
// consecutive calls. There is no burst allowance.
package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"
)

type Limiter struct {
	mu       sync.Mutex
	rate     int
	interval time.Duration
	last     time.Time

	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

// New returns a limiter allowing ratePerMinute sends per minute. A rate of
// zero or less disables pacing.
func New(ratePerMinute int) *Limiter {
	l := &Limiter{now: time.Now, sleep: Sleep}
	l.SetRate(ratePerMinute)
	return l
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (l *Limiter) SetRate(ratePerMinute int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rate = ratePerMinute
	l.interval = 0
	if ratePerMinute > 0 {
		l.interval = time.Duration(float64(time.Minute) / float64(ratePerMinute))
	}
}

func (l *Limiter) Rate() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rate
}

func (l *Limiter) Interval() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.interval
}

// Wait blocks until at least one interval has passed since the previous
// send slot. Each caller reserves its slot under the lock and sleeps without
// it; a cancelled wait hands its slot back if nobody has queued behind it.
func (l *Limiter) Wait(ctx context.Context) error {
	l.mu.Lock()
	if l.interval <= 0 {
		l.mu.Unlock()
		return nil
	}
	now := l.now()
	prev := l.last
	slot := now
	if !prev.IsZero() {
		if next := prev.Add(l.interval); next.After(now) {
			slot = next
		}
	}
	l.last = slot
	l.mu.Unlock()

	wait := slot.Sub(now)
	if wait <= 0 {
		return nil
	}
	if err := l.sleep(ctx, wait); err != nil {
		l.mu.Lock()
		if l.last.Equal(slot) {
			l.last = prev
		}
		l.mu.Unlock()
		return err
	}
	return nil
}

// EstimateCompletion returns the minutes needed to send total messages.
func (l *Limiter) EstimateCompletion(total int) float64 {
	rate := l.Rate()
	if rate <= 0 {
		return 0
	}
	return float64(total) / float64(rate)
}

type Progress struct {
	Sent       int     `json:"sent"`
	Total      int     `json:"total"`
	Percentage float64 `json:"percentage"`
	Remaining  int     `json:"remaining"`
	ETAMinutes float64 `json:"eta_minutes"`
}

func (l *Limiter) Progress(sent, total int) Progress {
	if total <= 0 {
		return Progress{}
	}
	remaining := total - sent
	p := Progress{
		Sent:       sent,
		Total:      total,
		Percentage: round1(float64(sent) / float64(total) * 100),
		Remaining:  remaining,
	}
	if rate := l.Rate(); rate > 0 {
		p.ETAMinutes = round1(float64(remaining) / float64(rate))
	}
	return p
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
