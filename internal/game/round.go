package game

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/jask/shellgame/internal/rtq"
	"github.com/jask/shellgame/internal/scheduler"
	"github.com/jask/shellgame/internal/timer"
)

// NoGuess is sent when the countdown runs out before a cap was picked.
const NoGuess = -1

var (
	ErrNotGuessing     = errors.New("game: no round waiting for a guess")
	ErrBadCap          = errors.New("game: no such cap")
	ErrTooLate         = errors.New("game: countdown already ran out")
	ErrRoundInProgress = errors.New("game: round in progress")
	ErrUnexpectedReply = errors.New("game: reply without a guess")
)

// Phase is where the guessing side is in the current round.
type Phase int

const (
	WaitingRound Phase = iota
	Gamble
	WaitReply
	Finished
)

func (p Phase) String() string {
	switch p {
	case WaitingRound:
		return "waiting for round"
	case Gamble:
		return "gamble"
	case WaitReply:
		return "waiting for reply"
	case Finished:
		return "finished"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Result is the hider's verdict on a guess.
type Result struct {
	Cap  int
	Ball int
	Win  bool
}

// Display is the presentation state round tasks mutate. Its methods are only
// called from tasks running on the render worker.
type Display interface {
	SetCaps(n int)
	SetStatus(text string, scale float64)
	Tick(value int)
	Reveal(r Result)
	SetScore(s Score)
	SetPing(rtt time.Duration)
}

// Outbox carries the guess to the hiding side.
type Outbox interface {
	SendGuess(idx int) error
}

// Round drives the guessing side of a game, one round at a time.
type Round struct {
	Queue     rtq.Submitter
	Scheduler timer.Scheduler
	Clock     scheduler.Clock
	Display   Display
	Outbox    Outbox
	GameTime  time.Duration
	Logger    *log.Logger

	mu    sync.Mutex
	phase Phase
	caps  int
	guess int
	timer *timer.Manager
	score Score
}

// Begin starts a round over caps caps and arms the countdown.
func (r *Round) Begin(caps int) error {
	if caps < 1 {
		return fmt.Errorf("begin round: %w", ErrBadCap)
	}
	r.mu.Lock()
	if r.phase == Gamble || r.phase == WaitReply {
		r.mu.Unlock()
		return ErrRoundInProgress
	}
	m := &timer.Manager{Logger: r.Logger}
	r.phase = Gamble
	r.caps = caps
	r.guess = NoGuess
	r.timer = m
	r.mu.Unlock()

	r.show(false, func(d Display) { d.SetCaps(caps) })

	cd := NewCountdown(r.Clock, r.GameTime)
	// Running out of time is a guess of its own, committed on the render
	// worker so it lands after every countdown frame already queued.
	expire := func() {
		r.Queue.Submit(rtq.TaskFunc(func(rtq.FrameID) bool {
			_ = r.commit(NoGuess)
			return false
		}))
	}
	cd.OnStop = func() {
		if m.SelfStop() {
			expire()
		}
	}
	cd.OnUpdate = func(value int, scale float64) {
		text := strconv.Itoa(value)
		r.show(false, func(d Display) { d.SetStatus(text, scale) })
	}
	cd.OnTick = func(value int) {
		r.show(false, func(d Display) { d.Tick(value) })
	}
	// A Pick or Abort that cancelled the record before it was armed already
	// got ErrTooLate; the round ends the way a countdown that ran out does.
	if !m.Start(r.Scheduler, cd) {
		expire()
	}
	return nil
}

// Pick guesses cap idx. It fails with ErrTooLate when the countdown expired
// while the pick was being made.
func (r *Round) Pick(ctx context.Context, idx int) error {
	r.mu.Lock()
	if r.phase != Gamble {
		r.mu.Unlock()
		return ErrNotGuessing
	}
	if idx < 0 || idx >= r.caps {
		r.mu.Unlock()
		return fmt.Errorf("pick %d of %d: %w", idx, r.caps, ErrBadCap)
	}
	m := r.timer
	r.mu.Unlock()

	won, err := m.Cancel(ctx, r.Scheduler)
	if err != nil {
		return fmt.Errorf("pick: %w", err)
	}
	if !won {
		return ErrTooLate
	}
	return r.commit(idx)
}

func (r *Round) commit(idx int) error {
	r.mu.Lock()
	r.phase = WaitReply
	r.guess = idx
	r.mu.Unlock()

	r.show(false, func(d Display) { d.SetStatus("waiting...", 0.5) })
	if err := r.Outbox.SendGuess(idx); err != nil {
		r.logger().Printf("send guess: %v", err)
		return fmt.Errorf("send guess: %w", err)
	}
	return nil
}

// Reply settles the round with the hider's verdict and returns the updated
// score. The reveal asks for a frame of its own.
func (r *Round) Reply(res Result) (Score, error) {
	r.mu.Lock()
	if r.phase != WaitReply {
		r.mu.Unlock()
		return Score{}, ErrUnexpectedReply
	}
	r.phase = Finished
	r.score = r.score.Add(res.Win)
	score := r.score
	r.mu.Unlock()

	r.show(true, func(d Display) {
		d.Reveal(res)
		d.SetScore(score)
	})
	return score, nil
}

// Abort cancels a running countdown, for teardown.
func (r *Round) Abort(ctx context.Context) error {
	r.mu.Lock()
	m := r.timer
	r.mu.Unlock()
	if m == nil {
		return nil
	}
	if _, err := m.Cancel(ctx, r.Scheduler); err != nil {
		return fmt.Errorf("abort round: %w", err)
	}
	return nil
}

// ShowPing displays the latest round trip time to the opponent.
func (r *Round) ShowPing(rtt time.Duration) {
	r.show(false, func(d Display) { d.SetPing(rtt) })
}

// Phase returns the current phase.
func (r *Round) Phase() Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phase
}

// Guess returns the cap sent for the current round, or NoGuess.
func (r *Round) Guess() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.guess
}

// Score returns the running score.
func (r *Round) Score() Score {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.score
}

// SetScore seeds the running score, typically from storage.
func (r *Round) SetScore(s Score) {
	r.mu.Lock()
	r.score = s
	r.mu.Unlock()
	r.show(false, func(d Display) { d.SetScore(s) })
}

func (r *Round) show(renderNow bool, f func(d Display)) {
	r.Queue.Submit(rtq.TaskFunc(func(rtq.FrameID) bool {
		f(r.Display)
		return renderNow
	}))
}

func (r *Round) logger() *log.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return log.Default()
}
