package socket

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/bcoin-org/bsock/message"
	"github.com/bcoin-org/bsock/metrics"
	"github.com/bcoin-org/bsock/middleware"
	"github.com/pkg/errors"
)

// HookFunc answers calls for one name. A returned error is sent back to the
// caller; a *message.RemoteError or an error implementing message.Coder
// controls the code.
type HookFunc[P any] func(ctx context.Context, payload P) (P, error)

// ListenFunc receives events for one name. Listeners run on the read
// goroutine in registration order and must not block.
type ListenFunc[P any] func(payload P)

type listener[P any] struct {
	fn ListenFunc[P]
}

// Hook binds the handler answering calls named name. At most one hook may be
// bound per name.
func (s *Socket[P]) Hook(name string, fn HookFunc[P]) error {
	if err := s.wire.checkName(name); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.hooks[name]; ok {
		return errors.Wrapf(ErrHookExists, "hook %s", name)
	}
	s.hooks[name] = fn
	return nil
}

// Unhook removes the hook bound to name. Calls arriving afterwards are
// answered with a not found error.
func (s *Socket[P]) Unhook(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.hooks[name]; !ok {
		return false
	}
	delete(s.hooks, name)
	return true
}

// Listen subscribes fn to events named name. The returned function removes
// this subscription only.
func (s *Socket[P]) Listen(name string, fn ListenFunc[P]) (func(), error) {
	if err := s.wire.checkName(name); err != nil {
		return nil, err
	}

	l := &listener[P]{fn: fn}

	s.mu.Lock()
	s.listeners[name] = append(s.listeners[name], l)
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		list := s.listeners[name]
		for i, e := range list {
			if e == l {
				next := make([]*listener[P], 0, len(list)-1)
				next = append(next, list[:i]...)
				next = append(next, list[i+1:]...)
				if len(next) == 0 {
					delete(s.listeners, name)
				} else {
					s.listeners[name] = next
				}
				return
			}
		}
	}, nil
}

// Unlisten removes every listener for name.
func (s *Socket[P]) Unlisten(name string) {
	s.mu.Lock()
	delete(s.listeners, name)
	s.mu.Unlock()
}

// Fire sends a one-way event.
func (s *Socket[P]) Fire(name string, payload P) error {
	if err := s.wire.checkName(name); err != nil {
		return err
	}

	s.mu.Lock()
	st := s.state
	s.mu.Unlock()

	switch st {
	case stateDestroyed:
		return ErrDestroyed
	case stateConnecting:
		return ErrNotOpen
	}

	return s.send("event", func() error {
		return s.wire.sendEvent(name, payload)
	})
}

// Go issues a call and returns its pending result. A session that is not
// OPEN fails the call immediately.
func (s *Socket[P]) Go(name string, payload P) *Future[P] {
	if err := s.wire.checkName(name); err != nil {
		return failedFuture[P](err)
	}

	s.mu.Lock()
	switch s.state {
	case stateDestroyed:
		s.mu.Unlock()
		return failedFuture[P](ErrDestroyed)
	case stateConnecting:
		s.mu.Unlock()
		return failedFuture[P](ErrNotOpen)
	}

	id := s.sequence
	s.sequence++

	if _, ok := s.jobs[id]; ok {
		s.mu.Unlock()
		return failedFuture[P](errors.Wrapf(ErrIDCollision, "id %d", id))
	}

	j := &job[P]{
		id:     id,
		name:   name,
		future: newFuture[P](),
		issued: time.Now(),
	}
	s.jobs[id] = j
	s.mu.Unlock()

	err := s.send("call", func() error {
		return s.wire.sendCall(id, name, payload)
	})
	if err != nil {
		if pending := s.takeJob(id); pending != nil {
			pending.future.reject(err)
		}
	}

	return j.future
}

// Call issues a call and waits for its result. Cancelling ctx stops the wait
// only; the call stays outstanding until answered, swept or destroyed.
func (s *Socket[P]) Call(ctx context.Context, name string, payload P) (P, error) {
	return s.Go(name, payload).Wait(ctx)
}

// takeJob removes and returns the job for id, nil if there is none.
func (s *Socket[P]) takeJob(id uint32) *job[P] {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil
	}
	delete(s.jobs, id)
	return j
}

func (s *Socket[P]) received(typ string) {
	s.opts.metrics.PacketIn(s.wire.protocol(), typ)
}

func (s *Socket[P]) handleEvent(name string, payload P) {
	s.mu.Lock()
	list := s.listeners[name]
	s.mu.Unlock()

	if len(list) == 0 {
		s.logger.Debug("unhandled event", "name", name, "remote", s.wire.remoteAddr())
		return
	}

	for _, l := range list {
		l.fn(payload)
	}
}

func (s *Socket[P]) handleCall(id uint32, name string, payload P) {
	s.mu.Lock()
	hook := s.hooks[name]
	mws := s.middlewares
	s.mu.Unlock()

	if hook == nil {
		s.logger.Debug("call not found", "name", name, "id", id, "remote", s.wire.remoteAddr())
		s.replyError(int64(id), &message.RemoteError{
			Code:    message.CodeNotFound,
			Message: fmt.Sprintf("%s: %s", ErrHookNotFound, name),
		})
		return
	}

	req := &middleware.Request[P]{
		Name:    name,
		ID:      id,
		Payload: payload,
		Remote:  s.wire.remoteAddr(),
	}

	go func() {
		result, err := s.invoke(hook, mws, req)

		if s.destroyed() {
			return
		}

		if err != nil {
			_ = s.send("error", func() error {
				return s.wire.sendError(int64(id), message.FromError(err))
			})
			return
		}

		err = s.send("ack", func() error {
			return s.wire.sendAck(id, result)
		})
		if err != nil && !s.destroyed() {
			s.logger.Warn("cannot encode result", "name", name, "id", id, "error", err.Error())
			_ = s.send("error", func() error {
				return s.wire.sendError(int64(id), &message.RemoteError{
					Message: fmt.Sprintf("cannot encode result of %s: %s", name, err),
				})
			})
		}
	}()
}

// invoke runs a hook behind the middleware chain. A panicking hook fails the
// call only.
func (s *Socket[P]) invoke(hook HookFunc[P], mws []middleware.Middleware[P], req *middleware.Request[P]) (result P, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("hook panic", "name", req.Name, "id", req.ID, "panic", r)
			var zero P
			result, err = zero, errors.Errorf("hook %s panicked: %v", req.Name, r)
		}
	}()

	final := func(ctx context.Context, req *middleware.Request[P]) (P, error) {
		return hook(ctx, req.Payload)
	}

	return middleware.Chain(mws...)(final)(s.ctx, req)
}

// replyError and handlePing write from a new goroutine: the read goroutine
// never blocks on the transport, or two peers over an unbuffered transport
// could each wait for the other to read.
func (s *Socket[P]) replyError(id int64, e *message.RemoteError) {
	go s.send("error", func() error {
		return s.wire.sendError(id, e)
	})
}

func (s *Socket[P]) handleAck(id uint32, payload P) {
	j := s.takeJob(id)
	if j == nil {
		s.logger.Debug("ack for unknown job", "id", id, "remote", s.wire.remoteAddr())
		return
	}
	if j.future.resolve(payload) {
		s.opts.metrics.CallDone(metrics.OutcomeOK)
	}
}

// handleError rejects the call id with e. An error not addressed to a call
// goes to the error callback.
func (s *Socket[P]) handleError(id int64, e *message.RemoteError) {
	if id == noCallID {
		s.logger.Warn("remote error", "remote", s.wire.remoteAddr(), "error", e.Error())
		s.opts.onError(e)
		return
	}

	j := s.takeJob(uint32(id))
	if j == nil {
		s.logger.Debug("error for unknown job", "id", id, "remote", s.wire.remoteAddr())
		return
	}
	if j.future.reject(e) {
		s.opts.metrics.CallDone(metrics.OutcomeRemoteError)
	}
}

func (s *Socket[P]) handlePing(data []byte) {
	go s.send("pong", func() error {
		return s.wire.sendPong(data)
	})
}

// handlePong clears the outstanding challenge. A pong with no challenge
// outstanding, or echoing the wrong nonce, is fatal. The text protocol has no
// nonce and passes nil.
func (s *Socket[P]) handlePong(nonce []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.challenge == nil || !bytes.Equal(nonce, s.challenge) {
		return ErrBadPong
	}
	s.challenge = nil
	return nil
}
