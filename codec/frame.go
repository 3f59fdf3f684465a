package codec

import "fmt"

// FrameType is the engine.io frame kind.
type FrameType byte

const (
	FrameOpen    FrameType = 0 // Handshake: {sid, upgrades, pingInterval, pingTimeout}
	FrameClose   FrameType = 1 // Peer is closing the transport
	FramePing    FrameType = 2 // Heartbeat challenge
	FramePong    FrameType = 3 // Heartbeat answer
	FrameMessage FrameType = 4 // Carries a socket.io packet or attachment
	FrameUpgrade FrameType = 5 // Transport upgrade, never valid over WebSocket
	FrameNoop    FrameType = 6 // Ignored
)

func (t FrameType) String() string {
	switch t {
	case FrameOpen:
		return "open"
	case FrameClose:
		return "close"
	case FramePing:
		return "ping"
	case FramePong:
		return "pong"
	case FrameMessage:
		return "message"
	case FrameUpgrade:
		return "upgrade"
	case FrameNoop:
		return "noop"
	default:
		return fmt.Sprintf("unknown(%d)", byte(t))
	}
}

// Frame is one engine.io frame.
type Frame struct {
	Type   FrameType
	Data   []byte
	Binary bool
}

// Encode renders f as a WebSocket message body.
func (f *Frame) Encode() []byte {
	out := make([]byte, 1+len(f.Data))
	if f.Binary {
		out[0] = byte(f.Type)
	} else {
		out[0] = '0' + byte(f.Type)
	}
	copy(out[1:], f.Data)
	return out
}

// DecodeFrame parses a WebSocket message body.
func DecodeFrame(binary bool, data []byte) (*Frame, error) {
	if len(data) == 0 {
		return nil, malformed("empty frame")
	}

	typ := data[0]
	if !binary {
		if typ < '0' || typ > '9' {
			return nil, malformed("bad frame type %q", typ)
		}
		typ -= '0'
	}

	if FrameType(typ) > FrameNoop {
		return nil, malformed("unknown frame type %d", typ)
	}

	return &Frame{
		Type:   FrameType(typ),
		Data:   data[1:],
		Binary: binary,
	}, nil
}
