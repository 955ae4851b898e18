package match

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/jask/shellgame/internal/game"
	"github.com/jask/shellgame/internal/scheduler"
	"github.com/jask/shellgame/internal/session"
)

// Host is the hiding side. It runs without a screen: every round it hides
// the ball, waits for the guess and answers it.
type Host struct {
	Hider     *game.Hider
	Store     Store
	Scheduler *scheduler.Scheduler
	Logger    *log.Logger

	// Pause is how long the guesser gets to look at a reveal before the
	// next round starts.
	Pause         time.Duration
	PingInterval  time.Duration
	PingTimeout   time.Duration
	CancelTimeout time.Duration
}

// Serve plays with one joined session until it ends. It fits
// session.Server.Serve.
func (h *Host) Serve(ctx context.Context, s *session.Session) error {
	peer := s.Peer()
	score, err := h.Store.Seen(ctx, peer)
	if err != nil {
		h.logger().Printf("host: %v", err)
	}
	h.logger().Printf("host: %s joined, score %s", peer.Name, score)

	s.OnRTT = func(rtt time.Duration) {
		h.logger().Printf("host: ping %s %s", peer.Name, rtt.Round(time.Millisecond))
	}
	if s.StartPing(h.Scheduler, h.PingInterval, h.PingTimeout) {
		defer h.stopPing(s)
	}

	next := &pacer{sched: h.Scheduler}
	defer next.stop()

	if err := h.round(s); err != nil {
		return err
	}
	err = s.Run(ctx, session.HandlerFunc(func(s *session.Session, m session.Message) error {
		if m.Type != session.TypeGuess {
			return fmt.Errorf("%w: host got %s", session.ErrProtocol, m.Type)
		}
		res, err := h.Hider.Answer(m.Cap)
		if err != nil {
			return fmt.Errorf("%w: %v", session.ErrProtocol, err)
		}
		if err := s.Send(session.Message{Type: session.TypeGuessReply, Cap: res.Cap, Ball: res.Ball, Win: res.Win}); err != nil {
			return err
		}
		if err := h.Store.Record(ctx, peer, res, !res.Win); err != nil {
			h.logger().Printf("host: %v", err)
		}
		score = score.Add(!res.Win)
		h.logger().Printf("host: %s guessed %d, ball under %d, score %s", peer.Name, res.Cap, res.Ball, score)

		next.after(h.Pause, func() {
			select {
			case <-s.Done():
				return
			default:
			}
			if err := h.round(s); err != nil && !errors.Is(err, session.ErrClosed) {
				h.logger().Printf("host: next round: %v", err)
			}
		})
		return nil
	}))
	h.logger().Printf("host: %s left", peer.Name)
	return err
}

// pacer runs one delayed step at a time for a session. After stop returns
// no step runs, including one the scheduler is already firing.
type pacer struct {
	sched *scheduler.Scheduler

	mu     sync.Mutex
	handle scheduler.Handle
	over   bool
}

func (p *pacer) after(d time.Duration, fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.over {
		return
	}
	p.handle = p.sched.Register(scheduler.TaskFunc(func() time.Duration {
		p.mu.Lock()
		defer p.mu.Unlock()
		if !p.over {
			fn()
		}
		return 0
	}), d)
}

func (p *pacer) stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.over = true
	p.sched.Cancel(p.handle)
}

func (h *Host) round(s *session.Session) error {
	caps := h.Hider.Hide()
	return s.Send(session.Message{Type: session.TypeRound, Caps: caps})
}

func (h *Host) stopPing(s *session.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), h.cancelTimeout())
	defer cancel()
	if err := s.StopPing(ctx, h.Scheduler); err != nil {
		h.logger().Printf("host: stop ping: %v", err)
	}
}

func (h *Host) cancelTimeout() time.Duration {
	if h.CancelTimeout > 0 {
		return h.CancelTimeout
	}
	return 2 * time.Second
}

func (h *Host) logger() *log.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return log.Default()
}
