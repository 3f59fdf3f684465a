package protocol

import (
	"bytes"
	"encoding/binary"
	"math/rand"
	"testing"

	"github.com/pkg/errors"
)

func samplePackets() []*Packet {
	return []*Packet{
		{Type: TypeEvent, Event: "bar", Payload: []byte("baz")},
		{Type: TypeEvent, Event: "empty"},
		{Type: TypeCall, ID: 12345, Event: "foo", Payload: []byte("data")},
		{Type: TypeCall, ID: 0xffffffff, Event: "", Payload: nil},
		{Type: TypeAck, ID: 7, Payload: []byte("resp")},
		{Type: TypeError, ID: 9, Code: 3, Message: "Bad call."},
		{Type: TypePing, Payload: []byte{1, 2, 3, 4, 5, 6, 7, 8}},
		{Type: TypePong, Payload: []byte{8, 7, 6, 5, 4, 3, 2, 1}},
	}
}

func equalPacket(a, b *Packet) bool {
	return a.Type == b.Type &&
		a.ID == b.ID &&
		a.Event == b.Event &&
		bytes.Equal(a.Payload, b.Payload) &&
		a.Code == b.Code &&
		a.Message == b.Message
}

func TestEncodeDecode(t *testing.T) {
	for _, p := range samplePackets() {
		data, err := Encode(p)
		if err != nil {
			t.Fatalf("Encode %s failed: %v", p.Type, err)
		}

		if PacketType(data[0]) != p.Type {
			t.Errorf("kind byte mismatch: got %d, want %d", data[0], p.Type)
		}
		size := binary.LittleEndian.Uint32(data[1:5])
		if int(size) != len(data)-HeaderSize {
			t.Errorf("%s: size field %d, body is %d bytes", p.Type, size, len(data)-HeaderSize)
		}

		got, err := Decode(data)
		if err != nil {
			t.Fatalf("Decode %s failed: %v", p.Type, err)
		}
		if !equalPacket(p, got) {
			t.Errorf("round trip mismatch: got %+v, want %+v", got, p)
		}
	}
}

func TestChecksumCoversBodyOnly(t *testing.T) {
	data, err := Encode(&Packet{Type: TypeAck, ID: 1, Payload: []byte("hello world")})
	if err != nil {
		t.Fatal(err)
	}
	want := Checksum(data[HeaderSize:])
	if got := binary.LittleEndian.Uint32(data[5:9]); got != want {
		t.Fatalf("checksum mismatch: got %08x, want %08x", got, want)
	}
}

func TestDecodeBitFlip(t *testing.T) {
	for _, p := range samplePackets() {
		data, err := Encode(p)
		if err != nil {
			t.Fatal(err)
		}
		for i := HeaderSize; i < len(data); i++ {
			for bit := 0; bit < 8; bit++ {
				corrupt := append([]byte(nil), data...)
				corrupt[i] ^= 1 << bit

				_, err := Decode(corrupt)
				if !errors.Is(err, ErrChecksumMismatch) {
					t.Fatalf("%s: flipping byte %d bit %d: expect checksum mismatch, got %v", p.Type, i, bit, err)
				}
			}
		}
	}
}

func TestDecodeTooLarge(t *testing.T) {
	header := make([]byte, HeaderSize)
	header[0] = byte(TypeAck)
	binary.LittleEndian.PutUint32(header[1:5], MaxPacketSize+1)

	_, err := DecodeHeader(header, MaxPacketSize)
	if !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expect ErrTooLarge, got %v", err)
	}
	if !errors.Is(err, ErrProtocol) {
		t.Fatalf("expect error to be a protocol violation, got %v", err)
	}
}

func TestDecodeUnknownType(t *testing.T) {
	body := []byte{0, 0, 0, 0}
	h := Header{Type: 42, Size: uint32(len(body)), Checksum: Checksum(body)}

	_, err := DecodeBody(h, body)
	if !errors.Is(err, ErrUnknownType) {
		t.Fatalf("expect ErrUnknownType, got %v", err)
	}
}

func TestDecodeTrailingData(t *testing.T) {
	// A ping body carrying 9 bytes instead of 8.
	body := make([]byte, NonceSize+1)
	h := Header{Type: TypePing, Size: uint32(len(body)), Checksum: Checksum(body)}

	_, err := DecodeBody(h, body)
	if !errors.Is(err, ErrTrailingData) {
		t.Fatalf("expect ErrTrailingData, got %v", err)
	}
}

func TestDecodeTruncatedBody(t *testing.T) {
	// Event whose name length byte claims more than the body holds.
	body := []byte{10, 'a', 'b'}
	h := Header{Type: TypeEvent, Size: uint32(len(body)), Checksum: Checksum(body)}

	_, err := DecodeBody(h, body)
	if !errors.Is(err, ErrShortBody) {
		t.Fatalf("expect ErrShortBody, got %v", err)
	}
}

func TestEncodeRejectsLongName(t *testing.T) {
	name := string(bytes.Repeat([]byte("x"), 256))
	if _, err := Encode(&Packet{Type: TypeEvent, Event: name}); err == nil {
		t.Fatal("expect error for 256-byte event name")
	}
	if _, err := Encode(&Packet{Type: TypePing, Payload: []byte{1}}); err == nil {
		t.Fatal("expect error for short nonce")
	}
}

func collect(t *testing.T, a *Assembler, chunks [][]byte) []*Packet {
	t.Helper()
	var out []*Packet
	for _, c := range chunks {
		err := a.Feed(c, func(p *Packet) error {
			out = append(out, p)
			return nil
		})
		if err != nil {
			t.Fatalf("Feed failed: %v", err)
		}
	}
	return out
}

func TestAssemblerByteByByte(t *testing.T) {
	var stream []byte
	packets := samplePackets()
	for _, p := range packets {
		data, err := Encode(p)
		if err != nil {
			t.Fatal(err)
		}
		stream = append(stream, data...)
	}

	var chunks [][]byte
	for i := range stream {
		chunks = append(chunks, []byte{stream[i]})
	}

	got := collect(t, NewAssembler(0), chunks)
	if len(got) != len(packets) {
		t.Fatalf("expect %d packets, got %d", len(packets), len(got))
	}
	for i := range packets {
		if !equalPacket(packets[i], got[i]) {
			t.Errorf("packet %d mismatch: got %+v, want %+v", i, got[i], packets[i])
		}
	}
}

func TestAssemblerRandomSplits(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	var stream []byte
	var packets []*Packet
	for i := 0; i < 200; i++ {
		payload := make([]byte, rng.Intn(300))
		rng.Read(payload)
		p := &Packet{Type: TypeCall, ID: uint32(i), Event: "method", Payload: payload}
		data, err := Encode(p)
		if err != nil {
			t.Fatal(err)
		}
		packets = append(packets, p)
		stream = append(stream, data...)
	}

	var chunks [][]byte
	for len(stream) > 0 {
		n := 1 + rng.Intn(64)
		if n > len(stream) {
			n = len(stream)
		}
		chunks = append(chunks, append([]byte(nil), stream[:n]...))
		stream = stream[n:]
	}

	a := NewAssembler(0)
	got := collect(t, a, chunks)
	if len(got) != len(packets) {
		t.Fatalf("expect %d packets, got %d", len(packets), len(got))
	}
	for i := range packets {
		if !equalPacket(packets[i], got[i]) {
			t.Fatalf("packet %d mismatch", i)
		}
	}
	if a.Buffered() != 0 {
		t.Fatalf("expect empty assembler, %d bytes buffered", a.Buffered())
	}
}

func TestAssemblerPartialStaysBuffered(t *testing.T) {
	data, err := Encode(&Packet{Type: TypeAck, ID: 1, Payload: []byte("partial")})
	if err != nil {
		t.Fatal(err)
	}

	a := NewAssembler(0)
	got := collect(t, a, [][]byte{data[:HeaderSize+3]})
	if len(got) != 0 {
		t.Fatalf("expect no packet yet, got %d", len(got))
	}

	got = collect(t, a, [][]byte{data[HeaderSize+3:]})
	if len(got) != 1 || string(got[0].Payload) != "partial" {
		t.Fatalf("expect completed ack, got %+v", got)
	}
}

func TestAssemblerOversize(t *testing.T) {
	header := make([]byte, HeaderSize)
	header[0] = byte(TypeAck)
	binary.LittleEndian.PutUint32(header[1:5], 1025)

	err := NewAssembler(1024).Feed(header, func(*Packet) error { return nil })
	if !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expect ErrTooLarge, got %v", err)
	}
}

func TestAssemblerChecksum(t *testing.T) {
	data, err := Encode(&Packet{Type: TypeEvent, Event: "bar", Payload: []byte("baz")})
	if err != nil {
		t.Fatal(err)
	}
	data[len(data)-1] ^= 0xff

	err = NewAssembler(0).Feed(data, func(*Packet) error { return nil })
	if !errors.Is(err, ErrChecksumMismatch) {
		t.Fatalf("expect ErrChecksumMismatch, got %v", err)
	}
}
