// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package wallclock

import (
	"sync"
	"time"
)

// Fake is a manually-driven WallClock for tests. Timers and tickers created
// from it never fire on their own; the test advances time with Advance, which
// fires any timer whose deadline has passed.
type Fake struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock    *Fake
	ch       chan time.Time
	deadline time.Time
	stopped  bool
}

// NewFake returns a fake clock pinned to the provided start time.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

// Now returns the fake current time.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Since returns the elapsed fake time since t.
func (f *Fake) Since(t time.Time) time.Duration {
	return f.Now().Sub(t)
}

// Advance moves the fake time forward and fires every expired timer.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	now := f.now
	expired := make([]*fakeTimer, 0, len(f.timers))
	remaining := f.timers[:0]
	for _, t := range f.timers {
		if !t.stopped && !t.deadline.After(now) {
			// A fired timer is no longer active; Stop and Reset report
			// false for it, as with time.Timer.
			t.stopped = true
			expired = append(expired, t)
		} else {
			remaining = append(remaining, t)
		}
	}
	f.timers = remaining
	f.mu.Unlock()

	for _, t := range expired {
		select {
		case t.ch <- now:
		default:
		}
	}
}

// After returns a channel that receives when Advance passes the deadline.
func (f *Fake) After(d time.Duration) <-chan time.Time {
	return f.NewTimer(d).C()
}

// NewTimer returns a timer driven by Advance.
func (f *Fake) NewTimer(d time.Duration) Timer {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &fakeTimer{
		clock:    f,
		ch:       make(chan time.Time, 1),
		deadline: f.now.Add(d),
	}
	f.timers = append(f.timers, t)
	return t
}

// NewTicker returns a one-shot ticker driven by Advance. Sufficient for
// sweep-loop tests, which only need the tick channel to be controllable.
func (f *Fake) NewTicker(d time.Duration) Ticker {
	return &fakeTicker{f.NewTimer(d).(*fakeTimer)}
}

func (t *fakeTimer) C() <-chan time.Time {
	return t.ch
}

func (t *fakeTimer) Reset(d time.Duration) bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	active := !t.stopped
	t.stopped = false
	t.deadline = t.clock.now.Add(d)
	// The timer stays registered until it expires, so only re-register one
	// that has already fired.
	for _, registered := range t.clock.timers {
		if registered == t {
			return active
		}
	}
	t.clock.timers = append(t.clock.timers, t)
	return active
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	active := !t.stopped
	t.stopped = true
	return active
}

type fakeTicker struct {
	*fakeTimer
}

func (t *fakeTicker) Stop() {
	t.fakeTimer.Stop()
}
