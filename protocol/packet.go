package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"
)

// PacketType distinguishes the six packet kinds of the binary protocol.
type PacketType uint8

const (
	TypeEvent PacketType = 0 // One-way event, no reply
	TypeCall  PacketType = 1 // Request expecting exactly one Ack or Error
	TypeAck   PacketType = 2 // Successful reply to a Call
	TypeError PacketType = 3 // Failed reply to a Call
	TypePing  PacketType = 4 // Heartbeat challenge
	TypePong  PacketType = 5 // Heartbeat answer
)

// NonceSize is the length of a Ping/Pong payload.
const NonceSize = 8

func (t PacketType) String() string {
	switch t {
	case TypeEvent:
		return "event"
	case TypeCall:
		return "call"
	case TypeAck:
		return "ack"
	case TypeError:
		return "error"
	case TypePing:
		return "ping"
	case TypePong:
		return "pong"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// Packet is one logical message. Which fields are meaningful depends on Type:
//
//	Event: Event, Payload
//	Call:  Event, ID, Payload
//	Ack:   ID, Payload
//	Error: ID, Code, Message
//	Ping:  Payload (8-byte nonce)
//	Pong:  Payload (8-byte nonce)
type Packet struct {
	Type    PacketType
	ID      uint32
	Event   string
	Payload []byte
	Code    uint8
	Message string
}

// size returns the body length of p.
func (p *Packet) size() (int, error) {
	switch p.Type {
	case TypeEvent:
		return 1 + len(p.Event) + len(p.Payload), nil
	case TypeCall:
		return 1 + len(p.Event) + 4 + len(p.Payload), nil
	case TypeAck:
		return 4 + len(p.Payload), nil
	case TypeError:
		return 4 + 1 + 1 + len(p.Message), nil
	case TypePing, TypePong:
		return NonceSize, nil
	default:
		return 0, errors.Wrapf(ErrUnknownType, "type %d", p.Type)
	}
}

func (p *Packet) validate() error {
	switch p.Type {
	case TypeEvent, TypeCall:
		if len(p.Event) > 0xff {
			return fmt.Errorf("event name too long: %d bytes", len(p.Event))
		}
	case TypeError:
		if len(p.Message) > 0xff {
			return fmt.Errorf("error message too long: %d bytes", len(p.Message))
		}
	case TypePing, TypePong:
		if len(p.Payload) != NonceSize {
			return fmt.Errorf("nonce must be %d bytes, got %d", NonceSize, len(p.Payload))
		}
	}
	return nil
}

// Encode renders p as a complete frame: header followed by body.
// The checksum is computed over the body only.
func Encode(p *Packet) ([]byte, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}

	size, err := p.size()
	if err != nil {
		return nil, err
	}
	if size > MaxPacketSize {
		return nil, errors.Wrapf(ErrTooLarge, "size %d exceeds %d", size, MaxPacketSize)
	}

	buf := make([]byte, HeaderSize+size)
	body := buf[HeaderSize:]
	off := 0

	switch p.Type {
	case TypeEvent:
		body[off] = byte(len(p.Event))
		off++
		off += copy(body[off:], p.Event)
		copy(body[off:], p.Payload)
	case TypeCall:
		body[off] = byte(len(p.Event))
		off++
		off += copy(body[off:], p.Event)
		binary.LittleEndian.PutUint32(body[off:], p.ID)
		off += 4
		copy(body[off:], p.Payload)
	case TypeAck:
		binary.LittleEndian.PutUint32(body[off:], p.ID)
		off += 4
		copy(body[off:], p.Payload)
	case TypeError:
		binary.LittleEndian.PutUint32(body[off:], p.ID)
		off += 4
		body[off] = p.Code
		body[off+1] = byte(len(p.Message))
		off += 2
		copy(body[off:], p.Message)
	case TypePing, TypePong:
		copy(body, p.Payload)
	}

	encodeHeader(buf, Header{
		Type:     p.Type,
		Size:     uint32(size),
		Checksum: Checksum(body),
	})

	return buf, nil
}

// Decode parses a complete frame produced by Encode.
func Decode(data []byte) (*Packet, error) {
	if len(data) < HeaderSize {
		return nil, ErrShortHeader
	}

	h, err := DecodeHeader(data[:HeaderSize], MaxPacketSize)
	if err != nil {
		return nil, err
	}

	body := data[HeaderSize:]
	if uint32(len(body)) < h.Size {
		return nil, ErrShortBody
	}
	if uint32(len(body)) > h.Size {
		return nil, ErrTrailingData
	}

	return DecodeBody(h, body)
}

// DecodeBody verifies the checksum of body against h and parses it.
func DecodeBody(h Header, body []byte) (*Packet, error) {
	if uint32(len(body)) != h.Size {
		return nil, ErrShortBody
	}

	if Checksum(body) != h.Checksum {
		return nil, ErrChecksumMismatch
	}

	r := reader{data: body}
	p := &Packet{Type: h.Type}

	switch h.Type {
	case TypeEvent:
		p.Event = r.readString(int(r.readU8()))
		p.Payload = r.readBytes(r.left())
	case TypeCall:
		p.Event = r.readString(int(r.readU8()))
		p.ID = r.readU32()
		p.Payload = r.readBytes(r.left())
	case TypeAck:
		p.ID = r.readU32()
		p.Payload = r.readBytes(r.left())
	case TypeError:
		p.ID = r.readU32()
		p.Code = r.readU8()
		p.Message = r.readString(int(r.readU8()))
	case TypePing, TypePong:
		p.Payload = r.readBytes(NonceSize)
	default:
		return nil, errors.Wrapf(ErrUnknownType, "type %d", h.Type)
	}

	if r.err != nil {
		return nil, r.err
	}
	if r.left() > 0 {
		return nil, ErrTrailingData
	}

	return p, nil
}

// reader is a bounds-checked cursor over a packet body. The first out-of-range
// read sets err and every later read returns zero values.
type reader struct {
	data []byte
	off  int
	err  error
}

func (r *reader) left() int {
	return len(r.data) - r.off
}

func (r *reader) need(n int) bool {
	if r.err != nil {
		return false
	}
	if n > r.left() {
		r.err = ErrShortBody
		return false
	}
	return true
}

func (r *reader) readU8() uint8 {
	if !r.need(1) {
		return 0
	}
	v := r.data[r.off]
	r.off++
	return v
}

func (r *reader) readU32() uint32 {
	if !r.need(4) {
		return 0
	}
	v := binary.LittleEndian.Uint32(r.data[r.off:])
	r.off += 4
	return v
}

func (r *reader) readBytes(n int) []byte {
	if !r.need(n) {
		return nil
	}
	out := make([]byte, n)
	copy(out, r.data[r.off:r.off+n])
	r.off += n
	return out
}

func (r *reader) readString(n int) string {
	if !r.need(n) {
		return ""
	}
	s := string(r.data[r.off : r.off+n])
	r.off += n
	return s
}
