// Package socket implements a bsock session: one connection's protocol state
// over either the binary stream protocol or the socket.io compatible text
// protocol.
//
// A session moves through three states:
//
//	CONNECTING ──open──▶ OPEN ──▶ DESTROYED
//	     └──────────────────────────▲
//
// DESTROYED is terminal. Every fatal path (transport error, protocol
// violation, handshake timeout, stall, bad pong, explicit Destroy) funnels
// through one idempotent teardown that closes the transport, stops the
// liveness ticker and rejects every outstanding call with ErrDestroyed.
//
// Payloads are []byte for the binary protocol and []any (JSON argument list)
// for the text protocol.
package socket

import (
	"context"
	"sync"
	"time"

	"github.com/bcoin-org/bsock/message"
	"github.com/bcoin-org/bsock/metrics"
	"github.com/bcoin-org/bsock/middleware"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// noCallID marks an error not addressed to a call.
const noCallID int64 = -1

type state int32

const (
	stateConnecting state = iota
	stateOpen
	stateDestroyed
)

func (s state) String() string {
	switch s {
	case stateConnecting:
		return "connecting"
	case stateOpen:
		return "open"
	default:
		return "destroyed"
	}
}

// wire is the protocol specific half of a session. Send methods are called
// with the session write lock held.
type wire[P any] interface {
	// run reads from the transport and dispatches until it fails.
	// A clean close by the peer returns nil.
	run(ctx context.Context) error
	// open sends the handshake, if the protocol has one.
	open() error
	sendEvent(name string, payload P) error
	sendCall(id uint32, name string, payload P) error
	sendAck(id uint32, payload P) error
	// sendError reports a failure. id is noCallID when the error is not
	// addressed to a call.
	sendError(id int64, e *message.RemoteError) error
	sendPing(challenge []byte) error
	sendPong(data []byte) error
	newChallenge() []byte
	checkName(name string) error
	close() error
	remoteAddr() string
	protocol() string
}

// Channels is implemented by the server owning a session.
type Channels[P any] interface {
	Join(s *Socket[P], name string) bool
	Leave(s *Socket[P], name string) bool
}

type job[P any] struct {
	id     uint32
	name   string
	future *Future[P]
	issued time.Time
}

// Socket is one bsock session.
type Socket[P any] struct {
	wire   wire[P]
	opts   options
	logger Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	opened chan struct{}

	mu          sync.Mutex
	state       state
	start       time.Time
	sequence    uint32
	jobs        map[uint32]*job[P]
	hooks       map[string]HookFunc[P]
	listeners   map[string][]*listener[P]
	middlewares []middleware.Middleware[P]
	challenge   []byte // outstanding heartbeat challenge, nil if none
	lastPing    time.Time
	pingTimeout time.Duration
	err         error
	channels    Channels[P]

	writeMu sync.Mutex
}

func newSocket[P any](opts options) *Socket[P] {
	ctx, cancel := context.WithCancel(context.Background())
	return &Socket[P]{
		opts:      opts,
		logger:    opts.logger,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		opened:    make(chan struct{}),
		start:     time.Now(),
		jobs:      make(map[uint32]*job[P]),
		hooks:     make(map[string]HookFunc[P]),
		listeners: make(map[string][]*listener[P]),
	}
}

// run starts the session goroutines. connect, if not nil, establishes the
// transport while the session is CONNECTING. Without it the transport is
// already established and the session is OPEN when run returns; ready then
// runs before the first packet is read.
func (s *Socket[P]) run(connect func(ctx context.Context) error, ready func(*Socket[P])) {
	s.opts.metrics.SessionOpened(s.wire.protocol())

	if connect == nil {
		if err := s.markOpen(); err != nil {
			s.destroy(err)
			return
		}
		if ready != nil {
			ready(s)
		}
	}

	group, ctx := errgroup.WithContext(s.ctx)

	group.Go(func() error {
		return s.stallLoop(ctx)
	})

	group.Go(func() error {
		err := s.readLoop(ctx, connect)
		s.destroy(err)
		return err
	})

	go func() {
		s.destroy(group.Wait())
	}()
}

func (s *Socket[P]) readLoop(ctx context.Context, connect func(ctx context.Context) error) error {
	if connect != nil {
		if err := connect(ctx); err != nil {
			return err
		}
		if err := s.markOpen(); err != nil {
			return err
		}
	}
	return s.wire.run(ctx)
}

func (s *Socket[P]) markOpen() error {
	if err := s.send("open", s.wire.open); err != nil {
		return err
	}

	s.mu.Lock()
	if s.state != stateConnecting {
		s.mu.Unlock()
		return ErrDestroyed
	}
	s.state = stateOpen
	s.mu.Unlock()

	close(s.opened)
	s.logger.Info("socket open", "remote", s.wire.remoteAddr(), "protocol", s.wire.protocol())
	s.opts.onOpen()
	return nil
}

func (s *Socket[P]) stallLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.opts.stallInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			if err := s.checkLiveness(now); err != nil {
				s.destroy(err)
				return err
			}
		}
	}
}

// send serializes a write. A transport failure is fatal; a packet that
// cannot be encoded is returned to the caller and the session lives on.
func (s *Socket[P]) send(typ string, write func() error) error {
	if s.destroyed() {
		return ErrDestroyed
	}

	s.writeMu.Lock()
	err := write()
	s.writeMu.Unlock()

	if err != nil {
		var encErr *encodeError
		if errors.As(err, &encErr) {
			return errors.WithMessagef(encErr.err, "encode %s", typ)
		}
		s.destroy(errors.Wrapf(err, "write %s", typ))
		return err
	}
	s.opts.metrics.PacketOut(s.wire.protocol(), typ)
	return nil
}

func (s *Socket[P]) destroyed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == stateDestroyed
}

// destroy tears the session down. Only the first call has any effect; its
// cause is what Err reports. A nil cause is a clean close.
func (s *Socket[P]) destroy(cause error) {
	s.mu.Lock()
	if s.state == stateDestroyed {
		s.mu.Unlock()
		return
	}
	s.state = stateDestroyed
	s.err = cause
	jobs := s.jobs
	s.jobs = make(map[uint32]*job[P])
	s.challenge = nil
	s.mu.Unlock()

	s.cancel()
	if err := s.wire.close(); err != nil {
		s.logger.Debug("close transport", "remote", s.wire.remoteAddr(), "error", err.Error())
	}

	for _, j := range jobs {
		if j.future.reject(ErrDestroyed) {
			s.opts.metrics.CallDone(metrics.OutcomeDestroyed)
		}
	}

	if cause != nil {
		s.logger.Warn("socket destroyed", "remote", s.wire.remoteAddr(), "error", cause.Error())
		s.opts.onError(cause)
	} else {
		s.logger.Info("socket closed", "remote", s.wire.remoteAddr())
	}
	s.opts.metrics.SessionClosed(s.wire.protocol(), failureReason(cause))

	s.opts.onClose(cause)
	close(s.done)
}

func failureReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrProtocolViolation):
		return "protocol"
	case errors.Is(err, ErrHandshakeTimeout):
		return "handshake_timeout"
	case errors.Is(err, ErrStallTimeout):
		return "stall"
	case errors.Is(err, ErrBadPong):
		return "bad_pong"
	default:
		return "transport"
	}
}

// Destroy closes the session. It is safe to call more than once.
func (s *Socket[P]) Destroy() {
	s.destroy(nil)
}

// Err returns the cause of destruction, nil while alive or after a clean close.
func (s *Socket[P]) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Done is closed once the session is destroyed.
func (s *Socket[P]) Done() <-chan struct{} {
	return s.done
}

// Opened is closed once the session reaches OPEN. It is never closed for a
// session destroyed while CONNECTING.
func (s *Socket[P]) Opened() <-chan struct{} {
	return s.opened
}

// WaitOpen blocks until the session is OPEN, destroyed or ctx is done.
func (s *Socket[P]) WaitOpen(ctx context.Context) error {
	select {
	case <-s.opened:
		return nil
	case <-s.done:
		if err := s.Err(); err != nil {
			return err
		}
		return ErrDestroyed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Connected reports whether the session is OPEN.
func (s *Socket[P]) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == stateOpen
}

// RemoteAddr returns the peer address.
func (s *Socket[P]) RemoteAddr() string {
	return s.wire.remoteAddr()
}

// SetChannels attaches the session to the server owning it.
func (s *Socket[P]) SetChannels(c Channels[P]) {
	s.mu.Lock()
	s.channels = c
	s.mu.Unlock()
}

// Join adds the session to a server channel. It returns false for a session
// not owned by a server.
func (s *Socket[P]) Join(name string) bool {
	s.mu.Lock()
	c := s.channels
	s.mu.Unlock()
	if c == nil {
		return false
	}
	return c.Join(s, name)
}

// Leave removes the session from a server channel.
func (s *Socket[P]) Leave(name string) bool {
	s.mu.Lock()
	c := s.channels
	s.mu.Unlock()
	if c == nil {
		return false
	}
	return c.Leave(s, name)
}

// Use appends middleware wrapping every hook. It applies to calls received
// after it returns.
func (s *Socket[P]) Use(mws ...middleware.Middleware[P]) {
	s.mu.Lock()
	s.middlewares = append(s.middlewares, mws...)
	s.mu.Unlock()
}
