// Package protocol implements the WebSocket wire formats: the RFC6455 (HyBi)
// binary framing and the older Hixie-76 sentinel framing.
//
// All functions in this package are stateless except Assembler, which holds
// the reassembly state of one fragmented HyBi message.
package protocol

import (
	"errors"
	"fmt"
)

// Version tags the protocol generation negotiated for a connection.
type Version int

const (
	// VersionUnknown is the zero value and never negotiated.
	VersionUnknown Version = iota
	// VersionHixie76 is draft-hixie-thewebsocketprotocol-76.
	VersionHixie76
	// VersionHyBi is the standardized framing (draft-ietf-hybi, RFC6455).
	VersionHyBi
)

func (v Version) String() string {
	switch v {
	case VersionHixie76:
		return "hixie-76"
	case VersionHyBi:
		return "hybi"
	default:
		return "unknown"
	}
}

// Opcode is the 4-bit HyBi frame type.
type Opcode byte

const (
	OpContinuation Opcode = 0x0
	OpText         Opcode = 0x1
	OpBinary       Opcode = 0x2
	OpClose        Opcode = 0x8
	OpPing         Opcode = 0x9
	OpPong         Opcode = 0xA
)

// IsControl reports whether the opcode belongs to the control range (0x8-0xF).
func (op Opcode) IsControl() bool {
	return op&0x8 != 0
}

// IsData reports whether the opcode is continuation, text or binary.
func (op Opcode) IsData() bool {
	return op == OpContinuation || op == OpText || op == OpBinary
}

func (op Opcode) String() string {
	switch op {
	case OpContinuation:
		return "continuation"
	case OpText:
		return "text"
	case OpBinary:
		return "binary"
	case OpClose:
		return "close"
	case OpPing:
		return "ping"
	case OpPong:
		return "pong"
	default:
		return fmt.Sprintf("opcode(0x%x)", byte(op))
	}
}

// MessageType distinguishes text from binary application messages.
// Values match the HyBi opcodes.
type MessageType int

const (
	TextMessage   MessageType = 1
	BinaryMessage MessageType = 2
)

// Message is one fully received application message.
type Message struct {
	Type MessageType
	Data []byte
}

// Text builds a text message from s.
func Text(s string) Message {
	return Message{Type: TextMessage, Data: []byte(s)}
}

// Binary builds a binary message from b.
func Binary(b []byte) Message {
	return Message{Type: BinaryMessage, Data: b}
}

// String returns the payload as a string.
func (m Message) String() string {
	return string(m.Data)
}

// Close status codes used by the server side.
const (
	CloseNormalClosure   uint16 = 1000
	CloseGoingAway       uint16 = 1001
	CloseProtocolError   uint16 = 1002
	CloseUnsupportedData uint16 = 1003
	ClosePolicyViolation uint16 = 1008
	CloseMessageTooBig   uint16 = 1009
)

// ValidCloseCode reports whether code may appear in a close frame on the
// wire. 1005, 1006 and 1015 are reserved for local reporting.
func ValidCloseCode(code uint16) bool {
	switch {
	case code >= 1000 && code <= 1003:
		return true
	case code >= 1007 && code <= 1014:
		return true
	case code >= 3000 && code <= 4999:
		return true
	}
	return false
}

// Error taxonomy shared by the handshake and connection layers.
var (
	// ErrMalformedHandshake rejects an upgrade request before a connection exists.
	ErrMalformedHandshake = errors.New("malformed websocket handshake")
	// ErrInvalidFrame is a structurally impossible frame; the connection is terminated.
	ErrInvalidFrame = errors.New("invalid websocket frame")
	// ErrUnsupportedFrame is a recognized but unhandled frame; receiving may be retried.
	ErrUnsupportedFrame = errors.New("unsupported websocket frame")
	// ErrConnectionTerminated reports that the peer closed or the stream failed.
	ErrConnectionTerminated = errors.New("websocket connection terminated")
	// ErrBadOperation is a caller logic error such as sending after close.
	ErrBadOperation = errors.New("bad websocket operation")
	// ErrAlreadyClosing is returned by sends issued during the closing handshake.
	ErrAlreadyClosing = fmt.Errorf("%w: connection is closing", ErrBadOperation)
	// ErrAlreadyClosed is returned by sends issued after the connection closed.
	ErrAlreadyClosed = fmt.Errorf("%w: connection is closed", ErrBadOperation)
	// ErrMessageTooBig is an ErrInvalidFrame for payloads over the size limit.
	ErrMessageTooBig = fmt.Errorf("%w: message too big", ErrInvalidFrame)
	// ErrWouldBlock is returned by non-blocking receives when no message is queued.
	ErrWouldBlock = errors.New("no websocket message available")
)

func invalidFrame(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidFrame, fmt.Sprintf(format, args...))
}

func tooBig(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMessageTooBig, fmt.Sprintf(format, args...))
}
