// Package transport provides the connection capabilities a bsock session consumes.
//
// Two shapes of transport exist:
//
//	Stream       a byte stream with no message boundaries (TCP). The session
//	             reassembles packets itself.
//	MessageConn  a message-oriented connection (WebSocket). Every read returns one
//	             whole message, flagged text or binary.
//
// Sessions never assume anything about a transport beyond these interfaces.
package transport

import (
	"context"
	"io"
	"net"
	"time"
)

// Stream is a byte-stream transport. net.Conn satisfies it.
type Stream interface {
	io.ReadWriteCloser
}

// MessageConn is a message-oriented transport.
type MessageConn interface {
	// ReadMessage blocks until one complete message arrives.
	ReadMessage() (binary bool, data []byte, err error)
	// WriteMessage sends one message. Callers serialize writes.
	WriteMessage(binary bool, data []byte) error
	Close() error
	RemoteAddr() net.Addr
}

// DefaultDialTimeout bounds TCP connection establishment when the context has no deadline.
const DefaultDialTimeout = 10 * time.Second

// DialTCP opens a TCP stream to addr. Nagle's algorithm is disabled since packets
// are small and latency sensitive.
func DialTCP(ctx context.Context, addr string) (net.Conn, error) {
	d := net.Dialer{Timeout: DefaultDialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
	}
	return conn, nil
}

// RemoteAddr returns the peer address of a stream when it exposes one.
func RemoteAddr(s Stream) string {
	if c, ok := s.(interface{ RemoteAddr() net.Addr }); ok && c.RemoteAddr() != nil {
		return c.RemoteAddr().String()
	}
	return ""
}
