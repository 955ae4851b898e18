package session

import (
	"context"
	"time"

	"github.com/jask/shellgame/internal/timer"
)

// pinger is the keepalive task. Each run checks whether anything arrived
// since the previous run; once the link has been silent for longer than the
// timeout the session is closed.
type pinger struct {
	s        *Session
	m        *timer.Manager
	interval time.Duration
	timeout  time.Duration

	lastReceived int64
	silent       int
}

func (p *pinger) Run() time.Duration {
	if p.s.isClosed() {
		p.m.SelfStop()
		return 0
	}
	if p.timeout > 0 {
		received := p.s.Received()
		if received == p.lastReceived {
			p.silent++
			if silence := time.Duration(p.silent) * p.interval; silence > p.timeout {
				p.s.logger().Printf("session %s: silent for %s, closing", p.s.peer.Name, silence)
				p.s.Close()
				p.m.SelfStop()
				return 0
			}
		} else {
			p.lastReceived = received
			p.silent = 0
		}
	}
	p.s.sendPing()
	return p.interval
}

// StartPing arms the keepalive. An interval of zero leaves it off. It
// reports whether a ping timer was started.
func (s *Session) StartPing(sched timer.Scheduler, interval, timeout time.Duration) bool {
	if interval <= 0 {
		return false
	}
	s.pmu.Lock()
	if s.ping != nil {
		s.pmu.Unlock()
		return false
	}
	m := &timer.Manager{Logger: s.Logger}
	s.ping = m
	s.pmu.Unlock()

	return m.Start(sched, &pinger{s: s, m: m, interval: interval, timeout: timeout})
}

// StopPing cancels the keepalive, waiting at most until ctx ends.
func (s *Session) StopPing(ctx context.Context, sched timer.Scheduler) error {
	s.pmu.Lock()
	m := s.ping
	s.pmu.Unlock()
	if m == nil {
		return nil
	}
	_, err := m.Cancel(ctx, sched)
	return err
}
