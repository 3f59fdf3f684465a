package socket

import (
	"time"

	"github.com/bcoin-org/bsock/metrics"
)

// checkLiveness runs once per stall interval. It returns a fatal error when
// the handshake or the peer has stalled.
//
//	CONNECTING: fail after the handshake timeout.
//	OPEN:       sweep jobs older than the job timeout, then either send a
//	            ping or, if one is outstanding for longer than the ping
//	            timeout, fail.
func (s *Socket[P]) checkLiveness(now time.Time) error {
	s.mu.Lock()

	switch s.state {
	case stateDestroyed:
		s.mu.Unlock()
		return nil
	case stateConnecting:
		elapsed := now.Sub(s.start)
		s.mu.Unlock()
		if elapsed > s.opts.handshakeTimeout {
			return ErrHandshakeTimeout
		}
		return nil
	}

	var expired []*job[P]
	for id, j := range s.jobs {
		if now.Sub(j.issued) > s.opts.jobTimeout {
			delete(s.jobs, id)
			expired = append(expired, j)
		}
	}

	var (
		ping    []byte
		stalled bool
	)
	if s.challenge == nil {
		s.challenge = s.wire.newChallenge()
		s.lastPing = now
		ping = s.challenge
	} else if now.Sub(s.lastPing) > s.pingTimeout {
		stalled = true
	}

	s.mu.Unlock()

	for _, j := range expired {
		s.logger.Debug("job timed out", "id", j.id, "name", j.name, "remote", s.wire.remoteAddr())
		if j.future.reject(ErrJobTimeout) {
			s.opts.metrics.CallDone(metrics.OutcomeTimeout)
		}
	}

	if stalled {
		return ErrStallTimeout
	}

	if ping != nil {
		return s.send("ping", func() error {
			return s.wire.sendPing(ping)
		})
	}

	return nil
}
