package pending

import (
	"sync"
	"time"
)

// Timer wraps a pooled *time.Timer so per-request deadline arming does not
// allocate on the hot path.
type Timer struct {
	t *time.Timer
}

// C returns the timer's fire channel.
func (tm *Timer) C() <-chan time.Time { return tm.t.C }

// TimerPool recycles *time.Timer values across Send calls.
type TimerPool struct {
	sp sync.Pool
}

// NewTimerPool returns an empty pool.
func NewTimerPool() *TimerPool {
	return &TimerPool{}
}

// Acquire returns a Timer armed to fire after d, reusing a pooled
// *time.Timer when one is available.
func (p *TimerPool) Acquire(d time.Duration) *Timer {
	v := p.sp.Get()
	if v == nil {
		return &Timer{t: time.NewTimer(d)}
	}
	tm := v.(*Timer)
	tm.t.Reset(d)
	return tm
}

// Release disarms tm (draining a pending fire if necessary) and returns it
// to the pool.
func (p *TimerPool) Release(tm *Timer) {
	if !tm.t.Stop() {
		select {
		case <-tm.t.C:
		default:
		}
	}
	p.sp.Put(tm)
}
