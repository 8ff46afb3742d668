// Package timeutil supplies the time source for the monitoring pipeline.
package timeutil

import (
	"sync"
	"time"
)

// Clock is the only place the pipeline reads time from. Persistence,
// cooldown, pause and gesture holds are all measured between instants
// returned by Now, never by counting frames.
type Clock interface {
	Now() time.Time
	// NewTicker delivers the clock's time every d. Slow receivers miss
	// ticks rather than queueing them.
	NewTicker(d time.Duration) Ticker
}

// Ticker is the subset of *time.Ticker the service loops use.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// RealClock reads the wall clock.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

func (RealClock) NewTicker(d time.Duration) Ticker {
	return wallTicker{time.NewTicker(d)}
}

type wallTicker struct{ t *time.Ticker }

func (w wallTicker) C() <-chan time.Time { return w.t.C }
func (w wallTicker) Stop()               { w.t.Stop() }

// MockClock only moves when told to. Replay sets it from recorded frame
// timestamps and tests step it with Advance.
type MockClock struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*MockTicker
}

// NewMockClock returns a MockClock reading t.
func NewMockClock(t time.Time) *MockClock {
	return &MockClock{now: t}
}

func (c *MockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to t and fires due tickers. Earlier instants are
// ignored, so out-of-order records cannot run the clock backwards.
func (c *MockClock) Set(t time.Time) {
	c.mu.Lock()
	if !t.After(c.now) {
		c.mu.Unlock()
		return
	}
	c.now = t
	live := c.tickers[:0]
	for _, tk := range c.tickers {
		if !tk.isStopped() {
			live = append(live, tk)
		}
	}
	c.tickers = live
	due := append([]*MockTicker(nil), live...)
	c.mu.Unlock()

	for _, tk := range due {
		tk.fire(t)
	}
}

// Advance is Set(Now() + d).
func (c *MockClock) Advance(d time.Duration) {
	c.Set(c.Now().Add(d))
}

func (c *MockClock) NewTicker(d time.Duration) Ticker {
	if d <= 0 {
		panic("timeutil: non-positive ticker interval")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	tk := &MockTicker{ch: make(chan time.Time, 1), every: d, next: c.now.Add(d)}
	c.tickers = append(c.tickers, tk)
	return tk
}

// MockTicker fires at most once per clock move. After a jump that spans
// several intervals the next tick stays on the original grid, the way a
// wall ticker drops ticks for a stalled receiver.
type MockTicker struct {
	mu      sync.Mutex
	ch      chan time.Time
	every   time.Duration
	next    time.Time
	stopped bool
}

func (t *MockTicker) C() <-chan time.Time { return t.ch }

func (t *MockTicker) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
}

func (t *MockTicker) isStopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

func (t *MockTicker) fire(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped || now.Before(t.next) {
		return
	}
	select {
	case t.ch <- now:
	default:
	}
	missed := now.Sub(t.next) / t.every
	t.next = t.next.Add((missed + 1) * t.every)
}
