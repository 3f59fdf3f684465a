// Package protocol implements the binary frame protocol for bsock over byte streams.
//
// Every packet is a fixed 9-byte header followed by a kind-specific body. The
// receiver reads the header first to learn the body length, then reads exactly
// that many bytes and checks them against the CRC-32 carried in the header.
//
// Frame format:
//
//	0    1         5         9
//	┌────┬─────────┬─────────┬───────────────┐
//	│kind│  size   │  crc32  │   body ...    │
//	│ u8 │ u32 LE  │ u32 LE  │  size bytes   │
//	└────┴─────────┴─────────┴───────────────┘
package protocol

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/pkg/errors"
)

const (
	HeaderSize = 9 // 1 (kind) + 4 (size) + 4 (checksum)

	// MaxPacketSize bounds the body of an RPC packet.
	MaxPacketSize = 10000000
	// MaxFrameSize bounds the body of a generic frame.
	MaxFrameSize = 100000000
)

// ErrProtocol is the root of every decoding failure. All of them are fatal to the
// session that hit them: the stream can no longer be trusted to be in sync.
var ErrProtocol = errors.New("protocol violation")

var (
	ErrTooLarge         = errors.WithMessage(ErrProtocol, "packet too large")
	ErrChecksumMismatch = errors.WithMessage(ErrProtocol, "checksum mismatch")
	ErrUnknownType      = errors.WithMessage(ErrProtocol, "unknown packet type")
	ErrTrailingData     = errors.WithMessage(ErrProtocol, "trailing data")
	ErrShortBody        = errors.WithMessage(ErrProtocol, "short body")
	ErrShortHeader      = errors.WithMessage(ErrProtocol, "short header")
)

// Header is the fixed 9-byte frame header.
type Header struct {
	Type     PacketType // Packet kind, validated when the body is decoded
	Size     uint32     // Body length in bytes
	Checksum uint32     // CRC-32 (IEEE) of the body
}

// DecodeHeader parses a 9-byte header. It rejects sizes above max without
// looking at anything that follows.
func DecodeHeader(data []byte, max uint32) (Header, error) {
	if len(data) != HeaderSize {
		return Header{}, ErrShortHeader
	}

	h := Header{
		Type:     PacketType(data[0]),
		Size:     binary.LittleEndian.Uint32(data[1:5]),
		Checksum: binary.LittleEndian.Uint32(data[5:9]),
	}

	if h.Size > max {
		return Header{}, errors.Wrapf(ErrTooLarge, "size %d exceeds %d", h.Size, max)
	}

	return h, nil
}

// encodeHeader writes h into the first 9 bytes of buf.
func encodeHeader(buf []byte, h Header) {
	buf[0] = byte(h.Type)
	binary.LittleEndian.PutUint32(buf[1:5], h.Size)
	binary.LittleEndian.PutUint32(buf[5:9], h.Checksum)
}

// Checksum computes the body checksum carried in the header.
func Checksum(body []byte) uint32 {
	return crc32.ChecksumIEEE(body)
}
