// Package message defines the error value exchanged between peers when a call fails.
//
// A RemoteError travels inside an Error packet (binary protocol) or as the first
// element of an Ack argument list (text protocol):
//
//	binary: callId | code (u8) | len (u8) | message
//	text:   [{"message": "...", "code": 3, "type": "..."}]
package message

import (
	"fmt"

	"github.com/pkg/errors"
)

// CodeNotFound is sent back when the remote peer has no hook for a call.
const CodeNotFound = 0

// RemoteError is an application error reported by the remote peer for a single call.
//
//   - Code:    numeric code chosen by the remote handler (0 if none)
//   - Message: human readable reason, never empty on the wire
//   - Type:    optional error class name (text protocol only)
type RemoteError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Type    string `json:"type,omitempty"`
}

func (e *RemoteError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("%s (code=%d, type=%s)", e.Message, e.Code, e.Type)
	}
	return fmt.Sprintf("%s (code=%d)", e.Message, e.Code)
}

// Coder is implemented by handler errors that carry their own code.
type Coder interface {
	Code() int
}

// FromError converts a handler error into the value sent to the caller.
// A *RemoteError is forwarded as is, so errors can be relayed across hops by the application.
func FromError(err error) *RemoteError {
	var re *RemoteError
	if errors.As(err, &re) {
		return re
	}

	out := &RemoteError{Message: CastMessage(err.Error())}

	var c Coder
	if errors.As(err, &c) {
		out.Code = c.Code()
	}
	return out
}

// CastMessage substitutes a placeholder for empty messages.
func CastMessage(msg string) string {
	if msg == "" {
		return "No message."
	}
	return msg
}

// FromMap builds a RemoteError from a decoded JSON object.
// Non-numeric codes and non-string messages are dropped, mirroring socket.io peers
// that send arbitrary values there.
func FromMap(obj map[string]any) *RemoteError {
	e := &RemoteError{Message: "No message."}

	if msg, ok := obj["message"].(string); ok {
		e.Message = CastMessage(msg)
	}
	if code, ok := obj["code"].(float64); ok {
		e.Code = int(code)
	}
	if typ, ok := obj["type"].(string); ok {
		e.Type = typ
	}
	return e
}

// Map returns the JSON object form used by the text protocol.
func (e *RemoteError) Map() map[string]any {
	obj := map[string]any{
		"message": CastMessage(e.Message),
		"code":    e.Code,
	}
	if e.Type != "" {
		obj["type"] = e.Type
	} else {
		obj["type"] = nil
	}
	return obj
}
