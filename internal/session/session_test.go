package session

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jask/shellgame/internal/scheduler"
	"github.com/jask/shellgame/internal/timer"
)

var epoch = time.Date(2016, 5, 1, 12, 0, 0, 0, time.UTC)

func readMsg(t *testing.T, c Conn) Message {
	t.Helper()
	b, err := c.ReadFrame()
	require.NoError(t, err)
	m, err := decode(b)
	require.NoError(t, err)
	return m
}

func writeMsg(t *testing.T, c Conn, m Message) {
	t.Helper()
	b, err := encode(m)
	require.NoError(t, err)
	require.NoError(t, c.WriteFrame(b))
}

func runAsync(ctx context.Context, s *Session, h Handler) <-chan error {
	out := make(chan error, 1)
	go func() { out <- s.Run(ctx, h) }()
	return out
}

type collector struct {
	mu   sync.Mutex
	msgs []Message
}

func (c *collector) HandleMessage(_ *Session, m Message) error {
	c.mu.Lock()
	c.msgs = append(c.msgs, m)
	c.mu.Unlock()
	return nil
}

func (c *collector) got() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Message(nil), c.msgs...)
}

func TestMessagesReachHandlerUntilBye(t *testing.T) {
	a, b := Pipe()
	sa := New(a, Peer{Name: "a"}, nil)
	sb := New(b, Peer{Name: "b"}, nil)

	var c collector
	done := runAsync(context.Background(), sa, &c)

	require.NoError(t, sb.Send(Message{Type: TypeRound, Caps: 3}))
	require.NoError(t, sb.Send(Message{Type: TypeGuess, Cap: 0}))
	require.NoError(t, sb.Bye())

	require.NoError(t, <-done)
	got := c.got()
	require.Len(t, got, 2)
	require.Equal(t, TypeRound, got[0].Type)
	require.Equal(t, 3, got[0].Caps)
	require.Equal(t, TypeGuess, got[1].Type)
	require.Zero(t, got[1].Cap)

	require.ErrorIs(t, sa.Send(Message{Type: TypeGuess}), ErrClosed)
	require.ErrorIs(t, sb.Send(Message{Type: TypeGuess}), ErrClosed)
}

func TestGarbageFrameIsProtocolError(t *testing.T) {
	a, b := Pipe()
	s := New(a, Peer{}, nil)
	done := runAsync(context.Background(), s, nil)

	require.NoError(t, b.WriteFrame([]byte("{not json")))
	require.ErrorIs(t, <-done, ErrProtocol)
	<-s.Done()
}

func TestRunEndsWithContext(t *testing.T) {
	a, _ := Pipe()
	s := New(a, Peer{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(ctx, s, nil)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}

func TestPingAnsweredWithRTT(t *testing.T) {
	clock := scheduler.NewManualClock(epoch)
	sched := scheduler.New(clock)
	require.NoError(t, sched.Start())
	defer sched.Stop()

	a, peer := Pipe()
	s := New(a, Peer{Name: "peer"}, clock)
	rtts := make(chan time.Duration, 4)
	s.OnRTT = func(d time.Duration) { rtts <- d }
	done := runAsync(context.Background(), s, nil)

	require.True(t, s.StartPing(sched, time.Second, 10*time.Second))
	require.False(t, s.StartPing(sched, time.Second, 10*time.Second))

	ping := readMsg(t, peer)
	require.Equal(t, TypePing, ping.Type)
	require.Equal(t, 1, ping.ID)

	clock.Advance(40 * time.Millisecond)
	writeMsg(t, peer, Message{Type: TypePong, ID: ping.ID})
	require.Equal(t, 40*time.Millisecond, <-rtts)

	// Pings from the peer are answered.
	writeMsg(t, peer, Message{Type: TypePing, ID: 7})
	pong := readMsg(t, peer)
	require.Equal(t, Message{Type: TypePong, ID: 7}, pong)

	require.NoError(t, s.StopPing(context.Background(), sched))
	require.Equal(t, timer.Done, s.ping.State())
	require.Zero(t, sched.Len())

	s.Close()
	require.ErrorIs(t, <-done, ErrClosed)
}

func TestSilentPeerIsDisconnected(t *testing.T) {
	clock := scheduler.NewManualClock(epoch)
	sched := scheduler.New(clock)
	require.NoError(t, sched.Start())
	defer sched.Stop()

	a, peer := Pipe()
	s := New(a, Peer{Name: "quiet"}, clock)
	require.True(t, s.StartPing(sched, time.Second, 2500*time.Millisecond))

	for i := 0; ; i++ {
		require.Less(t, i, 10, "session never timed out")
		select {
		case <-s.Done():
		default:
			require.Eventually(t, func() bool { return clock.Pending() == 1 || s.isClosed() },
				time.Second, time.Millisecond)
			clock.Advance(time.Second)
			continue
		}
		break
	}

	require.Eventually(t, func() bool { return s.ping.State() == timer.Stopped }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return sched.Len() == 0 }, time.Second, time.Millisecond)
	require.Equal(t, TypePing, readMsg(t, peer).Type)

	ok, err := s.ping.Cancel(context.Background(), sched)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestUnansweredPingsAreBounded(t *testing.T) {
	clock := scheduler.NewManualClock(epoch)
	a, _ := Pipe()
	s := New(a, Peer{Name: "lossy"}, clock)
	var rtts []time.Duration
	s.OnRTT = func(d time.Duration) { rtts = append(rtts, d) }

	for i := 0; i < 40; i++ {
		s.sendPing()
	}
	require.Len(t, s.pingSent, maxPendingPings)
	require.NotContains(t, s.pingSent, 40-maxPendingPings)

	clock.Advance(40 * time.Millisecond)
	s.pong(30)
	require.Equal(t, []time.Duration{40 * time.Millisecond}, rtts)
	require.Len(t, s.pingSent, 10)

	// A late pong for a ping already given up on is ignored.
	s.pong(28)
	require.Len(t, rtts, 1)

	s.pong(40)
	require.Empty(t, s.pingSent)
	require.Len(t, rtts, 2)
}

func TestZeroIntervalDisablesPing(t *testing.T) {
	a, _ := Pipe()
	s := New(a, Peer{}, nil)
	require.False(t, s.StartPing(nil, 0, time.Second))
	require.NoError(t, s.StopPing(context.Background(), nil))
}

func TestAcceptRejectsBadHandshake(t *testing.T) {
	host, joiner := Pipe()
	writeMsg(t, joiner, Message{Type: TypeHandshake, Version: Version + 1, Device: "d"})

	_, err := Accept(context.Background(), host)
	require.ErrorIs(t, err, ErrProtocol)

	reply := readMsg(t, joiner)
	require.Equal(t, TypeHandshakeFail, reply.Type)
	require.Contains(t, reply.Reason, "unsupported version")
}

func TestHandshakeOverPipe(t *testing.T) {
	host, joiner := Pipe()
	srv := &Server{Self: Peer{Name: "host", Device: "dev-h"}, Caps: 4, GameTime: 15 * time.Second}

	served := make(chan Peer, 1)
	srv.Serve = func(ctx context.Context, s *Session) error {
		served <- s.Peer()
		return s.Run(ctx, nil)
	}
	done := make(chan error, 1)
	go func() { done <- srv.Handle(context.Background(), host) }()

	welcome, err := Join(context.Background(), joiner, Peer{Name: "guest", Device: "dev-g"})
	require.NoError(t, err)
	require.Equal(t, "host", welcome.Name)
	require.Equal(t, 4, welcome.Caps)
	require.Equal(t, 15*time.Second, welcome.Duration())
	require.Equal(t, Peer{Name: "guest", Device: "dev-g"}, <-served)

	writeMsg(t, joiner, Message{Type: TypeBye})
	require.NoError(t, <-done)
}

func TestServerOverWebSocket(t *testing.T) {
	srv := &Server{
		Self:             Peer{Name: "host", Device: "dev-h"},
		Caps:             3,
		GameTime:         20 * time.Second,
		HandshakeTimeout: time.Second,
	}
	srv.Serve = func(ctx context.Context, s *Session) error {
		return s.Run(ctx, HandlerFunc(func(s *Session, m Message) error {
			if m.Type != TypeGuess {
				return nil
			}
			return s.Send(Message{Type: TypeGuessReply, Cap: m.Cap, Ball: 2, Win: m.Cap == 2})
		}))
	}
	ts := httptest.NewServer(srv)
	defer ts.Close()
	url := "ws" + strings.TrimPrefix(ts.URL, "http")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, welcome, err := Dial(ctx, url, Peer{Name: "guest", Device: "dev-g"})
	require.NoError(t, err)
	require.Equal(t, 3, welcome.Caps)
	require.Equal(t, "dev-h", welcome.Device)

	_, _, err = Dial(ctx, url, Peer{Name: "second", Device: "dev-2"})
	require.ErrorIs(t, err, ErrRejected)
	require.ErrorContains(t, err, "busy")

	s := New(conn, welcome.Peer(), nil)
	replies := make(chan Message, 1)
	done := runAsync(ctx, s, HandlerFunc(func(_ *Session, m Message) error {
		replies <- m
		return nil
	}))

	require.NoError(t, s.Send(Message{Type: TypeGuess, Cap: 2}))
	reply := <-replies
	require.Equal(t, TypeGuessReply, reply.Type)
	require.True(t, reply.Win)
	require.Equal(t, 2, reply.Ball)

	require.NoError(t, s.Bye())
	require.ErrorIs(t, <-done, ErrClosed)
}
