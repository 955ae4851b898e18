package game

import (
	"time"

	"github.com/jask/shellgame/internal/scheduler"
)

const (
	fadeTime    = 200 * time.Millisecond
	maxFadeStep = 30 * time.Millisecond
	fadeGrowth  = 0.15
)

// Countdown is the gamble timer shown while the guesser decides. It is a
// periodic task: each run reports the delay until the next redraw, and the
// run that finds the time used up calls OnStop and returns 0.
//
// The displayed number pops up in size for the first 200ms of every second
// and shrinks back to normal, so runs are dense during the fade and sparse
// otherwise.
type Countdown struct {
	clock   scheduler.Clock
	timeout time.Duration

	// OnStop runs once, from the run that finds the countdown expired.
	OnStop func()
	// OnUpdate receives the seconds left (rounded up) and the font scale.
	OnUpdate func(value int, scale float64)
	// OnTick runs whenever the displayed number changes.
	OnTick func(value int)

	end        time.Time
	lastSwitch time.Time
	value      int
}

// NewCountdown returns a countdown of the given length. The clock decides
// what "now" is on every run.
func NewCountdown(clock scheduler.Clock, timeout time.Duration) *Countdown {
	if clock == nil {
		clock = scheduler.SystemClock
	}
	return &Countdown{clock: clock, timeout: timeout, value: -1}
}

// Run advances the countdown. Runs are serialized by the scheduler.
func (c *Countdown) Run() time.Duration {
	now := c.clock.Now()
	if c.end.IsZero() {
		c.lastSwitch = now
		c.end = now.Add(c.timeout - time.Millisecond)
		c.value = int(c.timeout / time.Second)
	}

	if !now.Before(c.end) {
		if c.OnStop != nil {
			c.OnStop()
		}
		return 0
	}

	value := int(c.end.Sub(now) / time.Second)
	tm := now.Sub(c.lastSwitch) % time.Second

	scale := 1.0
	var interval time.Duration
	if tm < fadeTime {
		interval = fadeTime - tm
		scale += float64(interval) / float64(fadeTime) * fadeGrowth
		if interval > maxFadeStep {
			interval = maxFadeStep
		}
	} else {
		interval = time.Second - tm
	}

	if value != c.value {
		c.lastSwitch = now.Add(-tm)
		c.value = value
		if c.OnTick != nil {
			c.OnTick(value + 1)
		}
	}

	if c.OnUpdate != nil {
		c.OnUpdate(value+1, scale)
	}
	return interval
}
