package match

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/jask/shellgame/internal/game"
	"github.com/jask/shellgame/internal/session"
	"github.com/jask/shellgame/internal/timer"
)

// Guest is the guessing side. It feeds round and reply messages into a
// game.Round and sends the round's guesses back.
type Guest struct {
	Round     *game.Round
	Store     Store
	Scheduler timer.Scheduler
	Logger    *log.Logger

	PingInterval  time.Duration
	PingTimeout   time.Duration
	CancelTimeout time.Duration

	mu      sync.Mutex
	session *session.Session
}

// Play runs the guessing side over an established session until it ends.
// The round's timers are cancelled before Play returns.
func (g *Guest) Play(ctx context.Context, s *session.Session) error {
	g.mu.Lock()
	g.session = s
	g.mu.Unlock()

	peer := s.Peer()
	if score, err := g.Store.Seen(ctx, peer); err != nil {
		g.logger().Printf("guest: %v", err)
	} else {
		g.Round.SetScore(score)
	}

	s.OnRTT = g.Round.ShowPing
	s.StartPing(g.Scheduler, g.PingInterval, g.PingTimeout)

	err := s.Run(ctx, g)

	tctx, cancel := context.WithTimeout(context.Background(), g.cancelTimeout())
	defer cancel()
	if aerr := g.Round.Abort(tctx); aerr != nil {
		g.logger().Printf("guest: %v", aerr)
	}
	if perr := s.StopPing(tctx, g.Scheduler); perr != nil {
		g.logger().Printf("guest: stop ping: %v", perr)
	}
	return err
}

// SendGuess implements game.Outbox.
func (g *Guest) SendGuess(idx int) error {
	g.mu.Lock()
	s := g.session
	g.mu.Unlock()
	if s == nil {
		return session.ErrClosed
	}
	return s.Send(session.Message{Type: session.TypeGuess, Cap: idx})
}

// HandleMessage implements session.Handler.
func (g *Guest) HandleMessage(s *session.Session, m session.Message) error {
	switch m.Type {
	case session.TypeRound:
		err := g.Round.Begin(m.Caps)
		if errors.Is(err, game.ErrRoundInProgress) {
			return fmt.Errorf("%w: round while one is in progress", session.ErrProtocol)
		}
		return err
	case session.TypeGuessReply:
		res := game.Result{Cap: m.Cap, Ball: m.Ball, Win: m.Win}
		score, err := g.Round.Reply(res)
		if err != nil {
			return fmt.Errorf("%w: %v", session.ErrProtocol, err)
		}
		if err := g.Store.Record(context.Background(), s.Peer(), res, res.Win); err != nil {
			g.logger().Printf("guest: %v", err)
		}
		g.logger().Printf("guest: round against %s: guessed %d, ball under %d, score %s", s.Peer().Name, res.Cap, res.Ball, score)
		return nil
	default:
		return fmt.Errorf("%w: guest got %s", session.ErrProtocol, m.Type)
	}
}

func (g *Guest) cancelTimeout() time.Duration {
	if g.CancelTimeout > 0 {
		return g.CancelTimeout
	}
	return 2 * time.Second
}

func (g *Guest) logger() *log.Logger {
	if g.Logger != nil {
		return g.Logger
	}
	return log.Default()
}
