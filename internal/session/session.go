// Package session carries game messages between the hosting and joining
// sides, over a websocket or an in-memory pipe, and keeps the link alive with
// a ping timer.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jask/shellgame/internal/scheduler"
	"github.com/jask/shellgame/internal/timer"
)

var (
	// ErrClosed is returned once the session or its connection is closed.
	ErrClosed = errors.New("session: closed")
	// ErrProtocol wraps malformed or unexpected frames.
	ErrProtocol = errors.New("session: protocol error")
	// ErrRejected is returned by Join when the host refuses the handshake.
	ErrRejected = errors.New("session: handshake rejected")
)

// Handler receives every message other than ping, pong and bye. It runs on
// the session's read goroutine; returning an error ends the session.
type Handler interface {
	HandleMessage(s *Session, m Message) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(s *Session, m Message) error

func (f HandlerFunc) HandleMessage(s *Session, m Message) error { return f(s, m) }

// Session is one established game connection.
type Session struct {
	// Logger receives session diagnostics. Nil means log.Default().
	Logger *log.Logger
	// OnRTT receives the round trip time of every answered ping.
	OnRTT func(rtt time.Duration)

	conn  Conn
	peer  Peer
	clock scheduler.Clock

	wmu       sync.Mutex
	received  atomic.Int64
	closed    chan struct{}
	closeOnce sync.Once

	pmu      sync.Mutex
	pingID   int
	pingSent map[int]time.Time
	ping     *timer.Manager
}

// New wraps an established connection to peer. A nil clock means the system
// clock.
func New(conn Conn, peer Peer, clock scheduler.Clock) *Session {
	if clock == nil {
		clock = scheduler.SystemClock
	}
	return &Session{
		conn:     conn,
		peer:     peer,
		clock:    clock,
		closed:   make(chan struct{}),
		pingSent: make(map[int]time.Time),
	}
}

// Peer returns the other side's identity.
func (s *Session) Peer() Peer { return s.peer }

// Done is closed when the session closes.
func (s *Session) Done() <-chan struct{} { return s.closed }

// Received returns the number of bytes read so far.
func (s *Session) Received() int64 { return s.received.Load() }

// Send writes m. It is safe for concurrent use.
func (s *Session) Send(m Message) error {
	select {
	case <-s.closed:
		return ErrClosed
	default:
	}
	b, err := encode(m)
	if err != nil {
		return err
	}
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if err := s.conn.WriteFrame(b); err != nil {
		return fmt.Errorf("send %s: %w", m.Type, err)
	}
	return nil
}

// Run reads messages until the peer says bye, the connection fails, the
// handler fails or ctx ends. The session is closed when Run returns. A bye
// from the peer ends Run with a nil error.
func (s *Session) Run(ctx context.Context, h Handler) error {
	defer s.Close()

	stop := context.AfterFunc(ctx, func() { s.Close() })
	defer stop()

	for {
		b, err := s.conn.ReadFrame()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if s.isClosed() || errors.Is(err, ErrClosed) {
				return ErrClosed
			}
			return fmt.Errorf("read: %w", err)
		}
		s.received.Add(int64(len(b)))

		m, err := decode(b)
		if err != nil {
			return err
		}
		switch m.Type {
		case TypePing:
			if err := s.Send(Message{Type: TypePong, ID: m.ID}); err != nil {
				return err
			}
		case TypePong:
			s.pong(m.ID)
		case TypeBye:
			return nil
		default:
			if h == nil {
				continue
			}
			if err := h.HandleMessage(s, m); err != nil {
				return err
			}
		}
	}
}

// Bye tells the peer the session is over and closes it.
func (s *Session) Bye() error {
	err := s.Send(Message{Type: TypeBye})
	s.Close()
	if errors.Is(err, ErrClosed) {
		return nil
	}
	return err
}

// Close closes the connection. It is idempotent.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		err = s.conn.Close()
	})
	return err
}

func (s *Session) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// maxPendingPings bounds the pings kept waiting for a pong.
const maxPendingPings = 16

func (s *Session) sendPing() {
	s.pmu.Lock()
	s.pingID++
	id := s.pingID
	s.pingSent[id] = s.clock.Now()
	delete(s.pingSent, id-maxPendingPings)
	s.pmu.Unlock()

	if err := s.Send(Message{Type: TypePing, ID: id}); err != nil && !errors.Is(err, ErrClosed) {
		s.logger().Printf("session %s: ping: %v", s.peer.Name, err)
	}
}

func (s *Session) pong(id int) {
	s.pmu.Lock()
	sent, ok := s.pingSent[id]
	if ok {
		// Pongs come back in order, so older pings are lost.
		for k := range s.pingSent {
			if k <= id {
				delete(s.pingSent, k)
			}
		}
	}
	s.pmu.Unlock()

	if !ok {
		s.logger().Printf("session %s: pong for unknown ping %d", s.peer.Name, id)
		return
	}
	if s.OnRTT != nil {
		s.OnRTT(s.clock.Now().Sub(sent))
	}
}

func (s *Session) logger() *log.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return log.Default()
}
