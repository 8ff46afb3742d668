package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var night = time.Date(2025, 3, 1, 2, 0, 0, 0, time.UTC)

func ticked(tk Ticker) (time.Time, bool) {
	select {
	case at := <-tk.C():
		return at, true
	default:
		return time.Time{}, false
	}
}

// ---- RealClock ----

func TestRealClock(t *testing.T) {
	t.Parallel()

	before := time.Now()
	now := RealClock{}.Now()
	assert.False(t, now.Before(before))

	tk := RealClock{}.NewTicker(5 * time.Millisecond)
	defer tk.Stop()
	select {
	case <-tk.C():
	case <-time.After(time.Second):
		t.Fatal("wall ticker did not fire")
	}
}

// ---- MockClock ----

func TestMockClock_SetAndAdvance(t *testing.T) {
	t.Parallel()

	clk := NewMockClock(night)
	clk.Advance(1500 * time.Millisecond)
	assert.Equal(t, night.Add(1500*time.Millisecond), clk.Now())

	clk.Set(night.Add(10 * time.Second))
	assert.Equal(t, night.Add(10*time.Second), clk.Now())
}

func TestMockClock_SetIgnoresBackwards(t *testing.T) {
	t.Parallel()

	clk := NewMockClock(night)
	clk.Set(night.Add(-time.Minute))
	assert.Equal(t, night, clk.Now())

	clk.Advance(-time.Second)
	assert.Equal(t, night, clk.Now())
}

// ---- MockTicker ----

func TestMockTicker_FiresOnInterval(t *testing.T) {
	t.Parallel()

	clk := NewMockClock(night)
	tk := clk.NewTicker(30 * time.Second)

	clk.Advance(29 * time.Second)
	_, ok := ticked(tk)
	assert.False(t, ok, "fired early")

	clk.Advance(time.Second)
	at, ok := ticked(tk)
	require.True(t, ok)
	assert.Equal(t, night.Add(30*time.Second), at)
}

func TestMockTicker_JumpKeepsGrid(t *testing.T) {
	t.Parallel()

	clk := NewMockClock(night)
	tk := clk.NewTicker(10 * time.Second)

	// One tick for a 35s jump, then the next lands on 40s, not 45s.
	clk.Advance(35 * time.Second)
	_, ok := ticked(tk)
	require.True(t, ok)
	_, ok = ticked(tk)
	assert.False(t, ok, "jump must not queue missed ticks")

	clk.Advance(4 * time.Second)
	_, ok = ticked(tk)
	assert.False(t, ok)

	clk.Advance(time.Second)
	at, ok := ticked(tk)
	require.True(t, ok)
	assert.Equal(t, night.Add(40*time.Second), at)
}

func TestMockTicker_Stop(t *testing.T) {
	t.Parallel()

	clk := NewMockClock(night)
	tk := clk.NewTicker(time.Second)
	tk.Stop()

	clk.Advance(time.Minute)
	_, ok := ticked(tk)
	assert.False(t, ok)
	assert.Empty(t, clk.tickers, "stopped tickers are released on the next move")
}

func TestMockClock_NewTickerRejectsZero(t *testing.T) {
	t.Parallel()

	assert.Panics(t, func() { NewMockClock(night).NewTicker(0) })
}
