package upsock

import (
	"context"
	"iter"
	"net/http"
)

// Server defines the interface for a WebSocket-capable HTTP server.
//
// The server never owns routing: it wraps application handlers so that
// upgrade requests are negotiated before the handler runs. Upgraded
// connections are tracked until they close.
//
// Example usage:
//
//	import "github.com/luciancaetano/upsock/ws"
//
//	server := ws.New(ws.NewConfig(":8080", ws.DefaultRateLimitConfig(), ws.AllOrigins(), nil, nil))
//
//	server.Handle("/chat", server.Accept(func(w http.ResponseWriter, r *http.Request, rc *upsock.RequestContext) {
//	    if !rc.IsWebSocket() {
//	        fmt.Fprintln(w, "plain HTTP")
//	        return
//	    }
//	    for msg := range rc.Conn().Messages() {
//	        rc.Conn().Send(r.Context(), msg)
//	    }
//	}))
//
//	server.Start(ctx)
type Server interface {
	// Start starts listening on the configured address.
	// Returns an error if the server is already running or the address cannot be bound.
	Start(ctx context.Context) error

	// Stop closes every live connection and shuts the HTTP listener down.
	Stop(ctx context.Context) error

	// Handle registers handler on the server's own mux for pattern.
	Handle(pattern string, handler http.Handler)

	// Accept wraps a handler that serves both WebSocket and plain requests.
	// Upgrade requests are negotiated and the handler receives a live Conn.
	Accept(h HandlerFunc) http.Handler

	// Require wraps a handler that only serves WebSocket requests.
	// Plain requests are answered with 400 Bad Request.
	Require(h HandlerFunc) http.Handler

	// Handler wraps a handler that did not opt in explicitly. Upgrades are
	// only accepted when the server is configured with AcceptAll.
	Handler(h HandlerFunc) http.Handler

	// Broadcast sends msg to every live connection. Per-connection send
	// failures are skipped.
	Broadcast(ctx context.Context, msg Message) error

	// Connections returns a snapshot of the live connections.
	Connections() []Conn
}

// HandlerFunc is application logic invoked after the pre-dispatch hook.
//
// For upgraded requests the response writer has been hijacked and must not be
// used; all traffic goes through rc.Conn().
type HandlerFunc func(w http.ResponseWriter, r *http.Request, rc *RequestContext)

// Conn represents one live WebSocket session.
//
// Receive, TryReceive and Messages must be driven by a single goroutine.
// Send, Close and CloseWithCode may be called from any goroutine.
type Conn interface {
	// ID returns a unique identifier assigned when the connection was upgraded.
	ID() string

	// RemoteAddr returns the peer's network address, for example "192.168.1.100:54321".
	RemoteAddr() string

	// Version reports the negotiated protocol generation.
	Version() Version

	// Subprotocol returns the subprotocol echoed during the handshake.
	Subprotocol() string

	// Context is cancelled when the connection closes.
	Context() context.Context

	// Send encodes and writes one message. Writes from concurrent callers are
	// never interleaved on the wire.
	//
	// Returns ErrAlreadyClosing or ErrAlreadyClosed (both ErrBadOperation)
	// once the closing handshake has begun, or ctx.Err() if ctx ends while
	// waiting for the write lock.
	Send(ctx context.Context, msg Message) error

	// SendText is Send with a text message.
	SendText(ctx context.Context, text string) error

	// SendBinary is Send with a binary message. Hixie-76 has no binary
	// frames, so the bytes travel inside a text frame with invalid UTF-8
	// replaced by U+FFFD.
	SendBinary(ctx context.Context, data []byte) error

	// Receive blocks until a message is available and returns the oldest one.
	//
	// Returns ErrConnectionTerminated once the connection has closed,
	// ErrInvalidFrame (after terminating the connection) for malformed
	// input, and ErrUnsupportedFrame for frames that were skipped; in the
	// last case Receive may simply be called again.
	Receive() (Message, error)

	// TryReceive returns a queued message without reading the stream.
	// Returns ErrWouldBlock when nothing is queued.
	TryReceive() (Message, error)

	// Messages returns a lazy sequence over Receive. The sequence ends
	// quietly when the connection terminates and cannot be replayed.
	Messages() iter.Seq[Message]

	// Close starts the closing handshake with status 1000. Closing an already
	// closed connection is a no-op.
	Close(ctx context.Context) error

	// CloseWithCode closes with a specific status code and reason (HyBi only;
	// Hixie-76 has no status).
	CloseWithCode(ctx context.Context, code uint16, reason string) error

	// CloseCode returns the status of the closing handshake, zero if none.
	CloseCode() uint16

	// CloseReason returns the reason of the closing handshake.
	CloseReason() string

	// IsAlive reports whether the connection is open.
	IsAlive() bool
}
