package socket

import (
	"context"
	"crypto/rand"
	"io"
	"net"
	"sync"
	"time"

	"github.com/bcoin-org/bsock/message"
	"github.com/bcoin-org/bsock/protocol"
	"github.com/bcoin-org/bsock/transport"
	"github.com/pkg/errors"
)

// StreamSocket is a session speaking the binary protocol over a byte stream.
type StreamSocket = Socket[[]byte]

// streamWire implements the binary protocol: 9-byte framed packets
// reassembled from arbitrary chunks.
type streamWire struct {
	s         *Socket[[]byte]
	assembler *protocol.Assembler
	addr      string

	mu   sync.Mutex
	conn transport.Stream // nil until dialed
}

// NewStream wraps an established stream. The session is OPEN immediately.
func NewStream(conn transport.Stream, opt ...Option) *StreamSocket {
	return AcceptStream(conn, nil, opt...)
}

// AcceptStream is NewStream for servers: ready, if not nil, binds hooks and
// listeners before the first packet is read.
func AcceptStream(conn transport.Stream, ready func(*StreamSocket), opt ...Option) *StreamSocket {
	s := newStreamSocket(opt)
	w := s.wire.(*streamWire)
	w.conn = conn
	w.addr = transport.RemoteAddr(conn)
	s.run(nil, ready)
	return s
}

// DialStream connects to addr over TCP. The session is CONNECTING until the
// dial succeeds and fails with ErrHandshakeTimeout if it takes too long.
func DialStream(addr string, opt ...Option) *StreamSocket {
	s := newStreamSocket(opt)
	w := s.wire.(*streamWire)
	w.addr = addr
	s.run(func(ctx context.Context) error {
		conn, err := transport.DialTCP(ctx, addr)
		if err != nil {
			return errors.Wrapf(err, "dial %s", addr)
		}
		return w.attach(conn)
	}, nil)
	return s
}

func newStreamSocket(opt []Option) *Socket[[]byte] {
	opts := buildOptions(opt)
	if opts.pingTimeout <= 0 {
		opts.pingTimeout = DefaultStreamPingTimeout
	}

	s := newSocket[[]byte](opts)
	s.pingTimeout = opts.pingTimeout
	s.wire = &streamWire{
		s:         s,
		assembler: protocol.NewAssembler(opts.maxPacketSize),
	}
	return s
}

// attach installs a dialed connection, unless the session was destroyed
// while dialing.
func (w *streamWire) attach(conn transport.Stream) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.s.destroyed() {
		conn.Close()
		return ErrDestroyed
	}
	w.conn = conn
	return nil
}

func (w *streamWire) stream() transport.Stream {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn
}

func (w *streamWire) run(ctx context.Context) error {
	conn := w.stream()
	size := w.s.opts.readBufferSize

	for {
		buf := make([]byte, size)
		n, err := conn.Read(buf)
		if n > 0 {
			if ferr := w.assembler.Feed(buf[:n], w.handlePacket); ferr != nil {
				return ferr
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

func (w *streamWire) handlePacket(p *protocol.Packet) error {
	s := w.s
	s.received(p.Type.String())

	switch p.Type {
	case protocol.TypeEvent:
		s.handleEvent(p.Event, p.Payload)
	case protocol.TypeCall:
		s.handleCall(p.ID, p.Event, p.Payload)
	case protocol.TypeAck:
		s.handleAck(p.ID, p.Payload)
	case protocol.TypeError:
		s.handleError(int64(p.ID), &message.RemoteError{
			Code:    int(p.Code),
			Message: message.CastMessage(p.Message),
		})
	case protocol.TypePing:
		s.handlePing(p.Payload)
	case protocol.TypePong:
		return s.handlePong(p.Payload)
	default:
		return errors.Wrapf(protocol.ErrUnknownType, "type %d", p.Type)
	}
	return nil
}

func (w *streamWire) write(p *protocol.Packet) error {
	data, err := protocol.Encode(p)
	if err != nil {
		return &encodeError{err}
	}

	conn := w.stream()
	if conn == nil {
		return ErrNotOpen
	}
	if c, ok := conn.(net.Conn); ok {
		_ = c.SetWriteDeadline(time.Now().Add(w.s.opts.writeTimeout))
	}
	_, err = conn.Write(data)
	return err
}

func (w *streamWire) open() error {
	return nil
}

func (w *streamWire) sendEvent(name string, payload []byte) error {
	return w.write(&protocol.Packet{Type: protocol.TypeEvent, Event: name, Payload: payload})
}

func (w *streamWire) sendCall(id uint32, name string, payload []byte) error {
	return w.write(&protocol.Packet{Type: protocol.TypeCall, ID: id, Event: name, Payload: payload})
}

func (w *streamWire) sendAck(id uint32, payload []byte) error {
	return w.write(&protocol.Packet{Type: protocol.TypeAck, ID: id, Payload: payload})
}

// sendError truncates the message to 255 bytes and clamps the code to a
// byte. The binary protocol has no id-less error; those are dropped.
func (w *streamWire) sendError(id int64, e *message.RemoteError) error {
	if id == noCallID {
		w.s.logger.Debug("dropping id-less error", "error", e.Error())
		return nil
	}

	msg := message.CastMessage(e.Message)
	if len(msg) > 0xff {
		msg = msg[:0xff]
	}
	code := e.Code
	if code < 0 || code > 0xff {
		code = 0
	}

	return w.write(&protocol.Packet{
		Type:    protocol.TypeError,
		ID:      uint32(id),
		Code:    uint8(code),
		Message: msg,
	})
}

func (w *streamWire) sendPing(challenge []byte) error {
	return w.write(&protocol.Packet{Type: protocol.TypePing, Payload: challenge})
}

func (w *streamWire) sendPong(data []byte) error {
	return w.write(&protocol.Packet{Type: protocol.TypePong, Payload: data})
}

func (w *streamWire) newChallenge() []byte {
	nonce := make([]byte, protocol.NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		panic(err)
	}
	return nonce
}

func (w *streamWire) checkName(name string) error {
	if len(name) > 0xff {
		return errors.Wrapf(ErrBadName, "name is %d bytes", len(name))
	}
	return nil
}

func (w *streamWire) close() error {
	conn := w.stream()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

func (w *streamWire) remoteAddr() string {
	return w.addr
}

func (w *streamWire) protocol() string {
	return "tcp"
}
