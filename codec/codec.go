// Package codec implements the text protocol spoken over WebSocket for
// compatibility with socket.io peers.
//
// Two layers are stacked:
//
//	Frame   engine.io transport frame: a type digit followed by data. Binary
//	        WebSocket messages carry the type as their first byte instead.
//	Packet  socket.io application packet, carried in MESSAGE frames:
//	        <type>[<attachments>-][<nsp>,][<id>][<json>]
//
// []byte values inside packet arguments are not JSON encoded; they are replaced
// by {"_placeholder":true,"num":N} and sent as N following binary frames.
package codec

import (
	"github.com/bcoin-org/bsock/protocol"
	"github.com/pkg/errors"
)

// ErrMalformed wraps every text protocol decoding failure. It is a protocol
// violation like its binary counterparts.
var ErrMalformed = errors.WithMessage(protocol.ErrProtocol, "malformed text packet")

func malformed(format string, args ...any) error {
	return errors.Wrapf(ErrMalformed, format, args...)
}
