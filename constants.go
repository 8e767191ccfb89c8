package upsock

import (
	"github.com/luciancaetano/upsock/internal/handshake"
	"github.com/luciancaetano/upsock/internal/protocol"
)

// Version is the negotiated protocol generation.
type Version = protocol.Version

const (
	VersionHixie76 = protocol.VersionHixie76
	VersionHyBi    = protocol.VersionHyBi
)

// Message is one application message.
type Message = protocol.Message

// MessageType distinguishes text from binary messages.
type MessageType = protocol.MessageType

const (
	TextMessage   = protocol.TextMessage
	BinaryMessage = protocol.BinaryMessage
)

// Text builds a text message.
func Text(s string) Message { return protocol.Text(s) }

// Binary builds a binary message.
func Binary(b []byte) Message { return protocol.Binary(b) }

// Close status codes
const (
	CloseNormalClosure   = protocol.CloseNormalClosure
	CloseGoingAway       = protocol.CloseGoingAway
	CloseProtocolError   = protocol.CloseProtocolError
	CloseUnsupportedData = protocol.CloseUnsupportedData
	ClosePolicyViolation = protocol.ClosePolicyViolation
	CloseMessageTooBig   = protocol.CloseMessageTooBig
)

// Errors. Compare with errors.Is.
var (
	ErrNotWebSocket         = handshake.ErrNotWebSocket
	ErrMalformedHandshake   = protocol.ErrMalformedHandshake
	ErrInvalidFrame         = protocol.ErrInvalidFrame
	ErrUnsupportedFrame     = protocol.ErrUnsupportedFrame
	ErrConnectionTerminated = protocol.ErrConnectionTerminated
	ErrBadOperation         = protocol.ErrBadOperation
	ErrAlreadyClosing       = protocol.ErrAlreadyClosing
	ErrAlreadyClosed        = protocol.ErrAlreadyClosed
	ErrMessageTooBig        = protocol.ErrMessageTooBig
	ErrWouldBlock           = protocol.ErrWouldBlock
)

// Standard error messages
const (
	ErrServerAlreadyRunning = "server already running"
	ErrHijackUnsupported    = "response writer does not support hijacking"
	ErrRateLimitExceeded    = "Rate limit exceeded"
	ErrOriginNotAllowed     = "origin not allowed"
)
