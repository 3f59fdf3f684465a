package transport

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

// ErrUnsupportedMessage is returned for WebSocket control or unknown message types
// surfacing from ReadMessage.
var ErrUnsupportedMessage = errors.New("unsupported websocket message type")

// wsConn adapts a gorilla websocket connection to MessageConn.
type wsConn struct {
	conn *websocket.Conn
}

// NewWebSocket wraps an established gorilla websocket connection.
func NewWebSocket(conn *websocket.Conn) MessageConn {
	return &wsConn{conn: conn}
}

func (c *wsConn) ReadMessage() (bool, []byte, error) {
	typ, data, err := c.conn.ReadMessage()
	if err != nil {
		return false, nil, err
	}
	switch typ {
	case websocket.TextMessage:
		return false, data, nil
	case websocket.BinaryMessage:
		return true, data, nil
	default:
		return false, nil, errors.Wrapf(ErrUnsupportedMessage, "type %d", typ)
	}
}

func (c *wsConn) WriteMessage(binary bool, data []byte) error {
	typ := websocket.TextMessage
	if binary {
		typ = websocket.BinaryMessage
	}
	return c.conn.WriteMessage(typ, data)
}

func (c *wsConn) SetWriteDeadline(t time.Time) error {
	return c.conn.SetWriteDeadline(t)
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}

func (c *wsConn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// IsNormalClose reports whether err is the peer closing the WebSocket cleanly.
func IsNormalClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived)
}

// DialWebSocket opens a WebSocket connection to rawurl.
func DialWebSocket(ctx context.Context, rawurl string, header http.Header) (MessageConn, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, rawurl, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", rawurl)
	}
	return NewWebSocket(conn), nil
}

// Upgrade performs the server side of the WebSocket handshake.
func Upgrade(up *websocket.Upgrader, w http.ResponseWriter, r *http.Request) (MessageConn, error) {
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return NewWebSocket(conn), nil
}

// IsWebSocket reports whether r asks for a WebSocket upgrade.
func IsWebSocket(r *http.Request) bool {
	return websocket.IsWebSocketUpgrade(r)
}

// WebSocketURL builds the socket.io endpoint URL for host and port.
func WebSocketURL(host string, port int, secure bool) string {
	scheme := "ws"
	if secure {
		scheme = "wss"
	}
	if host == "" {
		host = "localhost"
	}
	if strings.Contains(host, ":") && !strings.HasPrefix(host, "[") {
		host = "[" + host + "]"
	}
	return fmt.Sprintf("%s://%s:%d/socket.io/?EIO=3&transport=websocket", scheme, host, port)
}
