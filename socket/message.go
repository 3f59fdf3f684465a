package socket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/bcoin-org/bsock/codec"
	"github.com/bcoin-org/bsock/message"
	"github.com/bcoin-org/bsock/transport"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// MessageSocket is a session speaking the socket.io compatible text protocol
// over WebSocket. Payloads are JSON argument lists; []byte values travel as
// binary attachments.
type MessageSocket = Socket[[]any]

// Event names reserved by socket.io. They can be neither fired, listened
// to nor hooked.
var reserved = map[string]struct{}{
	"connect":           {},
	"connect_error":     {},
	"connect_timeout":   {},
	"connecting":        {},
	"disconnect":        {},
	"error":             {},
	"reconnect":         {},
	"reconnect_attempt": {},
	"reconnect_failed":  {},
	"reconnect_error":   {},
	"reconnecting":      {},
	"ping":              {},
	"pong":              {},
}

// IsReserved reports whether name is a reserved socket.io event name.
func IsReserved(name string) bool {
	_, ok := reserved[name]
	return ok
}

var errPeerClosed = errors.New("peer sent close frame")

// handshake is the payload of an OPEN frame.
type handshake struct {
	SID          string   `json:"sid"`
	Upgrades     []string `json:"upgrades"`
	PingInterval int64    `json:"pingInterval"`
	PingTimeout  int64    `json:"pingTimeout"`
}

type messageWire struct {
	s    *Socket[[]any]
	sid  string
	addr string

	mu   sync.Mutex
	conn transport.MessageConn // nil until dialed

	// pending is a packet waiting for its binary attachments. Only the read
	// goroutine touches it.
	pending *codec.Packet
}

// NewMessage wraps an established WebSocket connection. The session sends
// its handshake and is OPEN immediately.
func NewMessage(conn transport.MessageConn, opt ...Option) *MessageSocket {
	return AcceptMessage(conn, nil, opt...)
}

// AcceptMessage is NewMessage for servers: ready, if not nil, runs after the
// handshake is sent and before the first frame is read.
func AcceptMessage(conn transport.MessageConn, ready func(*MessageSocket), opt ...Option) *MessageSocket {
	s := newMessageSocket(opt)
	w := s.wire.(*messageWire)
	w.conn = conn
	if addr := conn.RemoteAddr(); addr != nil {
		w.addr = addr.String()
	}
	s.run(nil, ready)
	return s
}

// DialWebSocket connects to a socket.io endpoint, as built by
// transport.WebSocketURL. The session is CONNECTING until the WebSocket
// handshake completes.
func DialWebSocket(rawurl string, header http.Header, opt ...Option) *MessageSocket {
	s := newMessageSocket(opt)
	w := s.wire.(*messageWire)
	w.addr = rawurl
	s.run(func(ctx context.Context) error {
		conn, err := transport.DialWebSocket(ctx, rawurl, header)
		if err != nil {
			return err
		}
		return w.attach(conn)
	}, nil)
	return s
}

func newMessageSocket(opt []Option) *Socket[[]any] {
	opts := buildOptions(opt)
	if opts.pingTimeout <= 0 {
		opts.pingTimeout = DefaultMessagePingTimeout
	}

	s := newSocket[[]any](opts)
	s.pingTimeout = opts.pingTimeout
	s.wire = &messageWire{
		s:   s,
		sid: uuid.NewString(),
	}
	return s
}

func (w *messageWire) attach(conn transport.MessageConn) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.s.destroyed() {
		conn.Close()
		return ErrDestroyed
	}
	w.conn = conn
	return nil
}

func (w *messageWire) connection() transport.MessageConn {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn
}

func (w *messageWire) run(ctx context.Context) error {
	conn := w.connection()

	for {
		binary, data, err := conn.ReadMessage()
		if err != nil {
			if transport.IsNormalClose(err) {
				return nil
			}
			return err
		}

		frame, err := codec.DecodeFrame(binary, data)
		if err != nil {
			return err
		}

		if err := w.handleFrame(frame); err != nil {
			if errors.Is(err, errPeerClosed) {
				return nil
			}
			return err
		}
	}
}

func (w *messageWire) handleFrame(f *codec.Frame) error {
	s := w.s

	switch f.Type {
	case codec.FrameOpen:
		s.received("open")
		return w.handleOpen(f)
	case codec.FrameClose:
		s.received("close")
		return errPeerClosed
	case codec.FramePing:
		s.received("ping")
		s.handlePing(f.Data)
		return nil
	case codec.FramePong:
		s.received("pong")
		return s.handlePong(nil)
	case codec.FrameMessage:
		return w.handleMessage(f)
	case codec.FrameUpgrade:
		return protocolError("cannot upgrade from websocket")
	case codec.FrameNoop:
		return nil
	default:
		return protocolError("unknown frame type %d", f.Type)
	}
}

// handleOpen adopts the heartbeat settings announced by the peer.
func (w *messageWire) handleOpen(f *codec.Frame) error {
	if f.Binary {
		return protocolError("binary open frame")
	}

	var h struct {
		PingInterval *float64 `json:"pingInterval"`
		PingTimeout  *float64 `json:"pingTimeout"`
	}
	if err := json.Unmarshal(f.Data, &h); err != nil {
		return protocolError("bad handshake: %v", err)
	}
	if !isUint32(h.PingInterval) {
		return protocolError("handshake pingInterval must be a uint32")
	}
	if !isUint32(h.PingTimeout) {
		return protocolError("handshake pingTimeout must be a uint32")
	}

	timeout := time.Duration(*h.PingTimeout) * time.Millisecond

	w.s.mu.Lock()
	w.s.pingTimeout = timeout
	w.s.mu.Unlock()

	w.s.logger.Debug("handshake received", "remote", w.addr,
		"ping_interval", time.Duration(*h.PingInterval)*time.Millisecond,
		"ping_timeout", timeout)
	return nil
}

func isUint32(v *float64) bool {
	return v != nil && *v >= 0 && *v <= 0xffffffff && *v == float64(uint32(*v))
}

func (w *messageWire) handleMessage(f *codec.Frame) error {
	if w.pending != nil {
		if !f.Binary {
			return protocolError("text frame while waiting for %d attachments", w.pending.Attachments)
		}
		p := w.pending
		p.Buffers = append(p.Buffers, f.Data)
		if !p.Complete() {
			return nil
		}
		w.pending = nil
		return w.handlePacket(p)
	}

	if f.Binary {
		return protocolError("binary frame without pending packet")
	}

	p, err := codec.DecodePacket(string(f.Data))
	if err != nil {
		return err
	}

	if p.Attachments > 0 {
		w.pending = p
		return nil
	}

	return w.handlePacket(p)
}

func (w *messageWire) handlePacket(p *codec.Packet) error {
	s := w.s
	s.received(p.Type.String())

	switch p.Type {
	case codec.PacketConnect, codec.PacketDisconnect:
		s.logger.Debug("ignoring packet", "type", p.Type, "remote", w.addr)
		return nil

	case codec.PacketEvent, codec.PacketBinaryEvent:
		v, err := p.Value()
		if err != nil {
			return err
		}
		args, ok := v.([]any)
		if !ok || len(args) == 0 {
			return protocolError("event arguments must be a non-empty array")
		}
		name, ok := args[0].(string)
		if !ok {
			return protocolError("event name must be a string")
		}

		if p.ID != codec.NoID {
			s.handleCall(uint32(p.ID), name, args[1:])
			return nil
		}

		if IsReserved(name) {
			s.replyError(noCallID, &message.RemoteError{
				Message: "cannot emit reserved event: " + name,
			})
			return nil
		}

		s.handleEvent(name, args[1:])
		return nil

	case codec.PacketAck, codec.PacketBinaryAck:
		if p.ID == codec.NoID {
			return protocolError("ack without id")
		}
		v, err := p.Value()
		if err != nil {
			return err
		}

		var args []any
		if v != nil {
			list, ok := v.([]any)
			if !ok {
				return protocolError("ack arguments must be an array, got %T", v)
			}
			args = list
		}

		if len(args) > 0 && truthy(args[0]) {
			obj, ok := args[0].(map[string]any)
			if !ok {
				return protocolError("ack error must be an object, got %T", args[0])
			}
			s.handleError(p.ID, message.FromMap(obj))
			return nil
		}

		result := []any{}
		if len(args) > 1 {
			result = args[1:]
		}
		s.handleAck(uint32(p.ID), result)
		return nil

	case codec.PacketError:
		v, err := p.Value()
		if err != nil {
			return err
		}
		obj, ok := v.(map[string]any)
		if !ok {
			return protocolError("error packet must carry an object, got %T", v)
		}
		s.handleError(noCallID, message.FromMap(obj))
		return nil

	default:
		return protocolError("unknown packet type %d", p.Type)
	}
}

func (w *messageWire) writeFrame(f *codec.Frame) error {
	conn := w.connection()
	if conn == nil {
		return ErrNotOpen
	}
	if c, ok := conn.(interface{ SetWriteDeadline(time.Time) error }); ok {
		_ = c.SetWriteDeadline(time.Now().Add(w.s.opts.writeTimeout))
	}
	return conn.WriteMessage(f.Binary, f.Encode())
}

// writePacket sends the packet text followed by its attachments.
func (w *messageWire) writePacket(p *codec.Packet) error {
	text, err := p.Encode()
	if err != nil {
		return &encodeError{err}
	}

	if err := w.writeFrame(&codec.Frame{Type: codec.FrameMessage, Data: []byte(text)}); err != nil {
		return err
	}

	for _, buf := range p.Buffers {
		if err := w.writeFrame(&codec.Frame{Type: codec.FrameMessage, Data: buf, Binary: true}); err != nil {
			return err
		}
	}
	return nil
}

// open sends the OPEN frame, then the CONNECT packet.
func (w *messageWire) open() error {
	w.s.mu.Lock()
	timeout := w.s.pingTimeout
	w.s.mu.Unlock()

	data, err := json.Marshal(handshake{
		SID:          w.sid,
		Upgrades:     []string{},
		PingInterval: w.s.opts.pingInterval.Milliseconds(),
		PingTimeout:  timeout.Milliseconds(),
	})
	if err != nil {
		return err
	}

	if err := w.writeFrame(&codec.Frame{Type: codec.FrameOpen, Data: data}); err != nil {
		return err
	}
	return w.writePacket(codec.NewPacket(codec.PacketConnect))
}

func (w *messageWire) sendEvent(name string, payload []any) error {
	p := codec.NewPacket(codec.PacketEvent)
	p.SetData(append([]any{name}, payload...))
	return w.writePacket(p)
}

func (w *messageWire) sendCall(id uint32, name string, payload []any) error {
	p := codec.NewPacket(codec.PacketEvent)
	p.ID = int64(id)
	p.SetData(append([]any{name}, payload...))
	return w.writePacket(p)
}

// sendAck sends [null, ...result].
func (w *messageWire) sendAck(id uint32, payload []any) error {
	p := codec.NewPacket(codec.PacketAck)
	p.ID = int64(id)
	p.SetData(append([]any{nil}, payload...))
	return w.writePacket(p)
}

// sendError answers a call with an ACK carrying [{message, code, type}]. An
// error addressed to no call is sent as an ERROR packet.
func (w *messageWire) sendError(id int64, e *message.RemoteError) error {
	if id == noCallID {
		p := codec.NewPacket(codec.PacketError)
		p.SetData(e.Map())
		return w.writePacket(p)
	}

	p := codec.NewPacket(codec.PacketAck)
	p.ID = id
	p.SetData([]any{e.Map()})
	return w.writePacket(p)
}

func (w *messageWire) sendPing(challenge []byte) error {
	return w.writeFrame(&codec.Frame{Type: codec.FramePing})
}

func (w *messageWire) sendPong(data []byte) error {
	return w.writeFrame(&codec.Frame{Type: codec.FramePong, Data: data})
}

// newChallenge returns an empty, non-nil challenge. The text protocol only
// tracks whether a ping is outstanding.
func (w *messageWire) newChallenge() []byte {
	return []byte{}
}

func (w *messageWire) checkName(name string) error {
	if IsReserved(name) {
		return errors.Wrapf(ErrReserved, "event %s", name)
	}
	return nil
}

func (w *messageWire) close() error {
	conn := w.connection()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

func (w *messageWire) remoteAddr() string {
	return w.addr
}

func (w *messageWire) protocol() string {
	return "ws"
}

// truthy reports whether an ack's error slot holds an error. null, false, 0
// and "" all mean success.
func truthy(v any) bool {
	switch v := v.(type) {
	case nil:
		return false
	case bool:
		return v
	case float64:
		return v != 0
	case string:
		return v != ""
	default:
		return true
	}
}
