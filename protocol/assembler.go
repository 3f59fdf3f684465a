package protocol

import (
	"github.com/eapache/queue"
)

// Assembler reassembles packets from a byte stream whose chunk boundaries carry no
// meaning. It alternates between two phases: waiting for a 9-byte header, then
// waiting for exactly header.Size body bytes.
//
// Chunks are kept in a FIFO queue and only copied once, into the buffer of the
// header or body they belong to.
type Assembler struct {
	max     uint32
	pending *queue.Queue // [][]byte chunks not yet consumed
	offset  int          // consumed prefix of the head chunk
	total   int          // unconsumed bytes across all chunks
	waiting int          // bytes needed to complete the current phase
	header  *Header      // nil while in the header phase
}

// NewAssembler creates an assembler rejecting bodies larger than max.
// A max of 0 selects MaxPacketSize.
func NewAssembler(max uint32) *Assembler {
	if max == 0 {
		max = MaxPacketSize
	}
	return &Assembler{
		max:     max,
		pending: queue.New(),
		waiting: HeaderSize,
	}
}

// Buffered returns the number of received bytes not yet assembled into a packet.
func (a *Assembler) Buffered() int {
	return a.total
}

// Feed appends a chunk and calls emit for every packet completed by it.
// Feed takes ownership of data; the caller must not modify it afterwards.
//
// A decoding error is returned as soon as it is detected; the assembler must not
// be fed again after that since the stream is out of sync. An error returned by
// emit stops processing and is returned as is.
func (a *Assembler) Feed(data []byte, emit func(*Packet) error) error {
	if len(data) == 0 {
		return nil
	}

	a.pending.Add(data)
	a.total += len(data)

	for a.total >= a.waiting {
		chunk := a.take(a.waiting)

		if a.header == nil {
			h, err := DecodeHeader(chunk, a.max)
			if err != nil {
				return err
			}
			a.header = &h
			a.waiting = int(h.Size)
			if a.waiting > 0 {
				continue
			}
			chunk = nil
		}

		h := *a.header
		a.header = nil
		a.waiting = HeaderSize

		p, err := DecodeBody(h, chunk)
		if err != nil {
			return err
		}

		if err := emit(p); err != nil {
			return err
		}
	}

	return nil
}

// take removes exactly n bytes from the front of the queue.
func (a *Assembler) take(n int) []byte {
	out := make([]byte, n)
	off := 0

	for off < n {
		head := a.pending.Peek().([]byte)
		c := copy(out[off:], head[a.offset:])
		off += c
		a.offset += c
		if a.offset == len(head) {
			a.pending.Remove()
			a.offset = 0
		}
	}

	a.total -= n
	return out
}
