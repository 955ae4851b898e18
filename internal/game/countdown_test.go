package game

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jask/shellgame/internal/scheduler"
)

var epoch = time.Date(2016, 5, 1, 12, 0, 0, 0, time.UTC)

func TestCountdownFirstRunShowsFullTimeAndFades(t *testing.T) {
	clock := scheduler.NewManualClock(epoch)
	c := NewCountdown(clock, 20*time.Second)

	var ticks []int
	var value int
	var scale float64
	c.OnTick = func(v int) { ticks = append(ticks, v) }
	c.OnUpdate = func(v int, s float64) { value, scale = v, s }

	require.Equal(t, 30*time.Millisecond, c.Run())
	require.Equal(t, []int{20}, ticks)
	require.Equal(t, 20, value)
	require.InDelta(t, 1.15, scale, 1e-9)

	clock.Advance(180 * time.Millisecond)
	require.Equal(t, 20*time.Millisecond, c.Run())
	require.InDelta(t, 1.015, scale, 1e-9)

	clock.Advance(20 * time.Millisecond)
	require.Equal(t, 800*time.Millisecond, c.Run())
	require.InDelta(t, 1.0, scale, 1e-9)
	require.Equal(t, []int{20}, ticks)
}

func TestCountdownRunsToExpiry(t *testing.T) {
	clock := scheduler.NewManualClock(epoch)
	c := NewCountdown(clock, 5*time.Second)

	var ticks []int
	var stops, runs int
	c.OnTick = func(v int) { ticks = append(ticks, v) }
	c.OnStop = func() { stops++ }

	d := c.Run()
	for d > 0 {
		runs++
		require.Less(t, runs, 1000)
		clock.Advance(d)
		d = c.Run()
	}

	require.Equal(t, []int{5, 4, 3, 2, 1}, ticks)
	require.Equal(t, 1, stops)
	require.Equal(t, epoch.Add(5*time.Second), clock.Now())
}
