package codec

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// PacketType is the socket.io packet kind.
type PacketType byte

const (
	PacketConnect     PacketType = 0
	PacketDisconnect  PacketType = 1
	PacketEvent       PacketType = 2
	PacketAck         PacketType = 3
	PacketError       PacketType = 4
	PacketBinaryEvent PacketType = 5
	PacketBinaryAck   PacketType = 6
)

// NoID marks a packet that is not part of a call.
const NoID int64 = -1

func (t PacketType) String() string {
	switch t {
	case PacketConnect:
		return "connect"
	case PacketDisconnect:
		return "disconnect"
	case PacketEvent:
		return "event"
	case PacketAck:
		return "ack"
	case PacketError:
		return "error"
	case PacketBinaryEvent:
		return "binary_event"
	case PacketBinaryAck:
		return "binary_ack"
	default:
		return fmt.Sprintf("unknown(%d)", byte(t))
	}
}

func (t PacketType) binary() bool {
	return t == PacketBinaryEvent || t == PacketBinaryAck
}

// Packet is one socket.io packet. Data holds the JSON value with binary
// placeholders still in place; Buffers holds the attachments they refer to.
type Packet struct {
	Type        PacketType
	Nsp         string
	ID          int64
	Attachments int
	Data        any
	Buffers     [][]byte
}

// NewPacket returns a packet of the given type without a call id.
func NewPacket(typ PacketType) *Packet {
	return &Packet{Type: typ, ID: NoID}
}

// SetData stores data, pulling out []byte values as attachments. Event and Ack
// packets become their binary variants when attachments are present.
func (p *Packet) SetData(data any) {
	var bufs [][]byte
	p.Data = deconstruct(data, &bufs)
	p.Buffers = bufs
	p.Attachments = len(bufs)

	if p.Attachments > 0 {
		switch p.Type {
		case PacketEvent:
			p.Type = PacketBinaryEvent
		case PacketAck:
			p.Type = PacketBinaryAck
		}
	}
}

// Complete reports whether every declared attachment has arrived.
func (p *Packet) Complete() bool {
	return len(p.Buffers) >= p.Attachments
}

// Value returns Data with placeholders replaced by their attachments.
func (p *Packet) Value() (any, error) {
	if len(p.Buffers) != p.Attachments {
		return nil, malformed("expected %d attachments, have %d", p.Attachments, len(p.Buffers))
	}
	if p.Attachments == 0 {
		return p.Data, nil
	}
	return reconstruct(p.Data, p.Buffers)
}

// Encode renders the textual part of p. Attachments are sent separately, in
// order, as binary MESSAGE frames.
func (p *Packet) Encode() (string, error) {
	var sb strings.Builder

	sb.WriteString(strconv.Itoa(int(p.Type)))

	if p.Type.binary() {
		sb.WriteString(strconv.Itoa(p.Attachments))
		sb.WriteByte('-')
	}

	if p.Nsp != "" && p.Nsp != "/" {
		sb.WriteString(p.Nsp)
		sb.WriteByte(',')
	}

	if p.ID != NoID {
		sb.WriteString(strconv.FormatInt(p.ID, 10))
	}

	if p.Data != nil {
		data, err := json.Marshal(p.Data)
		if err != nil {
			return "", err
		}
		sb.Write(data)
	}

	return sb.String(), nil
}

// DecodePacket parses the textual part of a packet. Attachments, if declared,
// must be appended to Buffers by the caller as they arrive.
func DecodePacket(s string) (*Packet, error) {
	if len(s) == 0 {
		return nil, malformed("empty packet")
	}

	i := 0
	typ := s[i]
	if typ < '0' || typ > '6' {
		return nil, malformed("unknown packet type %q", typ)
	}
	i++

	p := NewPacket(PacketType(typ - '0'))

	if p.Type.binary() {
		j := strings.IndexByte(s[i:], '-')
		if j <= 0 {
			return nil, malformed("missing attachment count")
		}
		n, err := strconv.Atoi(s[i : i+j])
		if err != nil || n < 0 {
			return nil, malformed("bad attachment count %q", s[i:i+j])
		}
		p.Attachments = n
		i += j + 1
	}

	if i < len(s) && s[i] == '/' {
		j := strings.IndexByte(s[i:], ',')
		if j < 0 {
			p.Nsp = s[i:]
			i = len(s)
		} else {
			p.Nsp = s[i : i+j]
			i += j + 1
		}
	}

	start := i
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i > start {
		id, err := strconv.ParseUint(s[start:i], 10, 32)
		if err != nil {
			return nil, malformed("bad packet id %q", s[start:i])
		}
		p.ID = int64(id)
	}

	if i < len(s) {
		if err := json.Unmarshal([]byte(s[i:]), &p.Data); err != nil {
			return nil, malformed("bad json: %v", err)
		}
	}

	return p, nil
}
