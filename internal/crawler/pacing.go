package crawler

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"
)

// Jitter returns a uniformly random duration in [min, max). A non-positive
// span yields min.
func Jitter(min, max time.Duration, rnd *rand.Rand) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rnd.Int64N(int64(max-min)))
}

// SleepFunc blocks for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the real SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Pacer inserts jittered pauses between browser actions.
type Pacer struct {
	mu    sync.Mutex
	rnd   *rand.Rand
	sleep SleepFunc
}

// NewPacer creates a pacer. Nil arguments select a randomly seeded source and
// the real clock.
func NewPacer(rnd *rand.Rand, sleep SleepFunc) *Pacer {
	if rnd == nil {
		rnd = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if sleep == nil {
		sleep = Sleep
	}
	return &Pacer{rnd: rnd, sleep: sleep}
}

// Pause sleeps for a random duration within r.
func (p *Pacer) Pause(ctx context.Context, r Range) error {
	p.mu.Lock()
	d := Jitter(r.Min, r.Max, p.rnd)
	p.mu.Unlock()
	return p.sleep(ctx, d)
}

// Wait sleeps for exactly d.
func (p *Pacer) Wait(ctx context.Context, d time.Duration) error {
	return p.sleep(ctx, d)
}
