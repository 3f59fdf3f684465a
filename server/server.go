// Package server accepts bsock sessions and groups them into channels.
//
// A Server speaks one protocol: NewTCP serves the binary protocol on a
// stream listener, NewWebSocket serves the text protocol over HTTP upgrades.
//
//	Accept conn → socket.Accept* → OnSocket handlers bind hooks
//	  → session runs until destroyed → removed from every channel
package server

import (
	"context"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bcoin-org/bsock/middleware"
	"github.com/bcoin-org/bsock/socket"
	"github.com/bcoin-org/bsock/transport"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

// ErrServerClosed is returned by Serve after Close.
var ErrServerClosed = errors.New("server closed")

// Server owns accepted sessions and the channels they join.
type Server[P any] struct {
	opts   options
	logger socket.Logger

	// Exactly one of these is set, by NewTCP or NewWebSocket.
	acceptStream  func(conn transport.Stream) *socket.Socket[P]
	acceptMessage func(conn transport.MessageConn) *socket.Socket[P]
	upgrader      *websocket.Upgrader

	mu          sync.RWMutex
	sockets     map[*socket.Socket[P]]struct{}
	channels    map[string]map[*socket.Socket[P]]struct{}
	handlers    []func(*socket.Socket[P])
	middlewares []middleware.Middleware[P]

	lnMu      sync.Mutex
	listeners []net.Listener
	servers   []*http.Server

	shutdown   atomic.Bool
	registered atomic.Bool
	wg         sync.WaitGroup // tracks live sessions
}

// NewTCP creates a server for the binary protocol.
func NewTCP(opt ...Option) *Server[[]byte] {
	s := newServer[[]byte](opt)
	s.acceptStream = func(conn transport.Stream) *socket.StreamSocket {
		return socket.AcceptStream(conn, s.Add, s.socketOptions()...)
	}
	return s
}

// NewWebSocket creates a server for the text protocol.
func NewWebSocket(opt ...Option) *Server[[]any] {
	s := newServer[[]any](opt)
	s.upgrader = &websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.opts.checkOrigin,
	}
	s.acceptMessage = func(conn transport.MessageConn) *socket.MessageSocket {
		return socket.AcceptMessage(conn, s.Add, s.socketOptions()...)
	}
	return s
}

func newServer[P any](opt []Option) *Server[P] {
	opts := buildOptions(opt)
	return &Server[P]{
		opts:     opts,
		logger:   opts.logger,
		sockets:  make(map[*socket.Socket[P]]struct{}),
		channels: make(map[string]map[*socket.Socket[P]]struct{}),
	}
}

func (s *Server[P]) socketOptions() []socket.Option {
	opts := []socket.Option{socket.WithLogger(s.logger)}
	if s.opts.metrics != nil {
		opts = append(opts, socket.WithMetrics(s.opts.metrics))
	}
	return append(opts, s.opts.socketOpts...)
}

// OnSocket registers fn to run for every accepted session, before its first
// packet is read. Hooks bound there are in place for the peer's first call.
func (s *Server[P]) OnSocket(fn func(sock *socket.Socket[P])) {
	s.mu.Lock()
	s.handlers = append(s.handlers, fn)
	s.mu.Unlock()
}

// Use registers middleware applied to the hooks of every accepted session.
func (s *Server[P]) Use(mws ...middleware.Middleware[P]) {
	s.mu.Lock()
	s.middlewares = append(s.middlewares, mws...)
	s.mu.Unlock()
}

// Serve accepts connections on ln until ctx is done or Close is called.
// A TCP server reads raw streams, a WebSocket server serves HTTP upgrades.
func (s *Server[P]) Serve(ctx context.Context, ln net.Listener) error {
	if s.shutdown.Load() {
		return ErrServerClosed
	}

	if err := s.register(ctx); err != nil {
		return err
	}

	stop := context.AfterFunc(ctx, func() {
		s.Close()
	})
	defer stop()

	if s.acceptMessage != nil {
		return s.serveHTTP(ln)
	}
	return s.serveStream(ln)
}

func (s *Server[P]) serveStream(ln net.Listener) error {
	s.lnMu.Lock()
	s.listeners = append(s.listeners, ln)
	s.lnMu.Unlock()

	// Close may have run before ln was recorded.
	if s.shutdown.Load() {
		ln.Close()
		return ErrServerClosed
	}

	s.logger.Info("server listening", "addr", ln.Addr().String(), "protocol", "tcp")

	for {
		conn, err := ln.Accept()
		if err != nil {
			// Close makes Accept fail; that is not an error.
			if s.shutdown.Load() {
				return ErrServerClosed
			}
			return errors.Wrap(err, "accept")
		}
		s.acceptStream(conn)
	}
}

func (s *Server[P]) serveHTTP(ln net.Listener) error {
	var handler http.Handler = s
	if s.opts.handler != nil {
		handler = s.opts.handler
	}
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.lnMu.Lock()
	s.servers = append(s.servers, srv)
	s.lnMu.Unlock()

	// Close may have run before srv was recorded.
	if s.shutdown.Load() {
		return ErrServerClosed
	}

	s.logger.Info("server listening", "addr", ln.Addr().String(), "protocol", "ws")

	err := srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return ErrServerClosed
	}
	return errors.Wrap(err, "serve")
}

// ServeHTTP upgrades a WebSocket request into a session. It answers 400 for
// anything else and 501 on a TCP server.
func (s *Server[P]) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.acceptMessage == nil {
		http.Error(w, "websocket not supported", http.StatusNotImplemented)
		return
	}
	if s.shutdown.Load() {
		http.Error(w, "server closed", http.StatusServiceUnavailable)
		return
	}
	if !transport.IsWebSocket(r) {
		http.Error(w, "websocket upgrade required", http.StatusBadRequest)
		return
	}

	conn, err := transport.Upgrade(s.upgrader, w, r)
	if err != nil {
		s.logger.Warn("upgrade failed", "remote", r.RemoteAddr, "err", err.Error())
		return
	}
	s.acceptMessage(conn)
}

// Add takes ownership of sock: the session gains channel membership, the
// server middleware and OnSocket handlers. Accepted sessions are added
// automatically.
func (s *Server[P]) Add(sock *socket.Socket[P]) {
	s.mu.Lock()
	if s.shutdown.Load() {
		s.mu.Unlock()
		sock.Destroy()
		return
	}
	if _, ok := s.sockets[sock]; ok {
		s.mu.Unlock()
		return
	}
	s.sockets[sock] = struct{}{}
	handlers := s.handlers
	mws := s.middlewares
	s.wg.Add(1)
	s.mu.Unlock()

	sock.SetChannels(s)
	sock.Use(mws...)

	go func() {
		defer s.wg.Done()
		<-sock.Done()
		s.remove(sock)
	}()

	for _, fn := range handlers {
		fn(sock)
	}
}

func (s *Server[P]) remove(sock *socket.Socket[P]) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sockets, sock)
	for name, members := range s.channels {
		delete(members, sock)
		if len(members) == 0 {
			delete(s.channels, name)
		}
	}
}

// Sockets returns the live sessions.
func (s *Server[P]) Sockets() []*socket.Socket[P] {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*socket.Socket[P], 0, len(s.sockets))
	for sock := range s.sockets {
		out = append(out, sock)
	}
	return out
}

// Close stops accepting, deregisters the server and destroys every session.
// It waits for sessions to finish up to the shutdown timeout.
func (s *Server[P]) Close() error {
	if !s.shutdown.CompareAndSwap(false, true) {
		return nil
	}

	// Deregister first so clients stop picking this instance.
	var firstErr error
	if s.registered.Load() {
		ctx, cancel := context.WithTimeout(context.Background(), s.opts.shutdownTimeout)
		if err := s.opts.registry.Deregister(ctx, s.opts.service, s.opts.advertise.Addr); err != nil {
			firstErr = errors.Wrap(err, "deregister")
		}
		cancel()
	}

	s.lnMu.Lock()
	for _, ln := range s.listeners {
		ln.Close()
	}
	for _, srv := range s.servers {
		srv.Close()
	}
	s.lnMu.Unlock()

	for _, sock := range s.Sockets() {
		sock.Destroy()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(s.opts.shutdownTimeout):
		if firstErr == nil {
			firstErr = errors.New("timeout waiting for sessions to close")
		}
	}

	s.logger.Info("server closed")
	return firstErr
}

func (s *Server[P]) register(ctx context.Context) error {
	if s.opts.registry == nil || s.registered.Load() {
		return nil
	}

	inst := s.opts.advertise
	if inst.Transport == "" {
		inst.Transport = "tcp"
		if s.acceptMessage != nil {
			inst.Transport = "ws"
		}
	}

	if err := s.opts.registry.Register(ctx, s.opts.service, inst, s.opts.ttl); err != nil {
		return errors.Wrapf(err, "register %s", s.opts.service)
	}
	s.registered.Store(true)
	s.logger.Info("server registered", "service", s.opts.service, "addr", inst.Addr)
	return nil
}
