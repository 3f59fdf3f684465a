package socket

import (
	"github.com/bcoin-org/bsock/protocol"
	"github.com/pkg/errors"
)

// Fatal errors. Any of them destroys the session.
var (
	// ErrProtocolViolation matches every framing, checksum and decoding failure
	// of both the binary and the text protocol.
	ErrProtocolViolation = protocol.ErrProtocol
	ErrHandshakeTimeout  = errors.New("timed out waiting for connection")
	ErrStallTimeout      = errors.New("connection is stalling (ping)")
	ErrBadPong           = errors.New("remote node sent bad pong")
)

// Errors surfaced to a single call. The session stays usable.
var (
	ErrJobTimeout  = errors.New("job timed out")
	ErrDestroyed   = errors.New("socket destroyed")
	ErrNotOpen     = errors.New("socket not open")
	ErrIDCollision = errors.New("call id collision")
)

// Errors returned by the registration API.
var (
	ErrHookNotFound = errors.New("call not found")
	ErrHookExists   = errors.New("hook already bound")
	ErrReserved     = errors.New("reserved event name")
	ErrBadName      = errors.New("invalid event name")
)

func protocolError(format string, args ...any) error {
	return errors.Wrapf(ErrProtocolViolation, format, args...)
}

// encodeError is a packet that could not be encoded. Nothing reached the
// transport, so the session is unaffected.
type encodeError struct {
	err error
}

func (e *encodeError) Error() string { return e.err.Error() }
func (e *encodeError) Unwrap() error { return e.err }
