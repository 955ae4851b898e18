package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jask/shellgame/internal/scheduler"
)

// ErrBusy is returned by Server.Handle when a game is already in progress.
var ErrBusy = errors.New("session: host busy")

// Join sends the joining side's handshake and waits for the host's answer.
// ctx bounds the wait; on expiry the connection is closed.
func Join(ctx context.Context, conn Conn, self Peer) (Message, error) {
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	b, err := encode(Hello(self))
	if err != nil {
		return Message{}, err
	}
	if err := conn.WriteFrame(b); err != nil {
		return Message{}, fmt.Errorf("handshake: %w", err)
	}
	b, err = conn.ReadFrame()
	if err != nil {
		if ctx.Err() != nil {
			return Message{}, ctx.Err()
		}
		return Message{}, fmt.Errorf("handshake: %w", err)
	}
	m, err := decode(b)
	if err != nil {
		return Message{}, err
	}
	switch m.Type {
	case TypeHandshakeOK:
		if m.Version != Version {
			return Message{}, fmt.Errorf("%w: host speaks version %d", ErrProtocol, m.Version)
		}
		if m.Caps < 1 || m.GameTime <= 0 {
			return Message{}, fmt.Errorf("%w: bad game settings", ErrProtocol)
		}
		return m, nil
	case TypeHandshakeFail:
		return Message{}, fmt.Errorf("%w: %s", ErrRejected, m.Reason)
	default:
		return Message{}, fmt.Errorf("%w: unexpected %s during handshake", ErrProtocol, m.Type)
	}
}

// Accept reads the joining side's handshake. A bad handshake is answered
// with handshake_fail.
func Accept(ctx context.Context, conn Conn) (Message, error) {
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	b, err := conn.ReadFrame()
	if err != nil {
		if ctx.Err() != nil {
			return Message{}, ctx.Err()
		}
		return Message{}, fmt.Errorf("handshake: %w", err)
	}
	m, err := decode(b)
	if err != nil {
		return Message{}, err
	}
	switch {
	case m.Type != TypeHandshake:
		err = fmt.Errorf("%w: expected handshake, got %s", ErrProtocol, m.Type)
	case m.Version != Version:
		err = fmt.Errorf("%w: unsupported version %d", ErrProtocol, m.Version)
	case m.Device == "":
		err = fmt.Errorf("%w: missing device id", ErrProtocol)
	}
	if err != nil {
		_ = reject(conn, err.Error())
		return Message{}, err
	}
	return m, nil
}

func reject(conn Conn, reason string) error {
	b, err := encode(Message{Type: TypeHandshakeFail, Reason: reason})
	if err != nil {
		return err
	}
	return conn.WriteFrame(b)
}

// Server is the hosting side. It serves one game at a time.
type Server struct {
	Self     Peer
	Caps     int
	GameTime time.Duration
	Clock    scheduler.Clock
	Logger   *log.Logger

	// HandshakeTimeout bounds how long a joiner has to say hello.
	HandshakeTimeout time.Duration
	// Serve runs an accepted session and returns when the game is over.
	Serve func(ctx context.Context, s *Session) error

	Upgrader websocket.Upgrader

	busy atomic.Bool
}

// ServeHTTP upgrades the request to a websocket and handles it.
func (srv *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := srv.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		srv.logger().Printf("upgrade %s: %v", r.RemoteAddr, err)
		return
	}
	if err := srv.Handle(r.Context(), WebSocket(ws)); err != nil && !errors.Is(err, ErrClosed) {
		srv.logger().Printf("session %s: %v", r.RemoteAddr, err)
	}
}

// Handle runs the handshake on conn and then the session. conn is closed
// when Handle returns.
func (srv *Server) Handle(ctx context.Context, conn Conn) error {
	defer conn.Close()

	hctx := ctx
	if srv.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		hctx, cancel = context.WithTimeout(ctx, srv.HandshakeTimeout)
		defer cancel()
	}
	hello, err := Accept(hctx, conn)
	if err != nil {
		return err
	}
	if !srv.busy.CompareAndSwap(false, true) {
		_ = reject(conn, "busy")
		return ErrBusy
	}
	defer srv.busy.Store(false)

	b, err := encode(Welcome(srv.Self, srv.Caps, srv.GameTime))
	if err != nil {
		return err
	}
	if err := conn.WriteFrame(b); err != nil {
		return fmt.Errorf("handshake: %w", err)
	}

	s := New(conn, hello.Peer(), srv.Clock)
	s.Logger = srv.Logger
	if srv.Serve == nil {
		return s.Run(ctx, nil)
	}
	return srv.Serve(ctx, s)
}

func (srv *Server) logger() *log.Logger {
	if srv.Logger != nil {
		return srv.Logger
	}
	return log.Default()
}

// Dial connects to a host and performs the handshake.
func Dial(ctx context.Context, url string, self Peer) (Conn, Message, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, Message{}, fmt.Errorf("dial %s: %w", url, err)
	}
	conn := WebSocket(ws)
	welcome, err := Join(ctx, conn, self)
	if err != nil {
		conn.Close()
		return nil, Message{}, err
	}
	return conn, welcome, nil
}
