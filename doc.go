// Package upsock adds WebSocket support to ordinary net/http handlers.
//
// A request passes through a pre-dispatch hook before the application
// handler runs. Upgrade requests are negotiated there, the raw connection is
// hijacked, the handshake response is written and the handler receives a
// live Conn. Other requests reach the handler untouched. When the handler
// returns, a still-open connection is closed.
//
// # Protocol Generations
//
// Two incompatible generations are spoken on the same endpoint:
//
//   - Hixie-76: Sec-WebSocket-Key1/Key2 plus an 8-byte body answered with an
//     MD5 digest; text frames are 0x00 <utf-8> 0xFF and the closing sequence
//     is 0xFF 0x00.
//   - HyBi (Sec-WebSocket-Version 13, 8 or 7): Sec-WebSocket-Accept is the
//     base64 SHA-1 of the key and a fixed GUID; frames carry a FIN bit, an
//     opcode, a 7/16/64-bit length and a client mask.
//
// The generation is chosen per request from the headers alone.
//
// # Quick Start
//
//	import (
//	    "github.com/luciancaetano/upsock"
//	    "github.com/luciancaetano/upsock/ws"
//	)
//
//	server := ws.New(ws.NewConfig(":8080", ws.DefaultRateLimitConfig(), ws.AllOrigins(), nil, nil))
//
//	server.Handle("/echo", server.Require(func(w http.ResponseWriter, r *http.Request, rc *upsock.RequestContext) {
//	    conn := rc.Conn()
//	    for msg := range conn.Messages() {
//	        conn.Send(conn.Context(), msg)
//	    }
//	}))
//
//	server.Start(ctx)
//
// # Endpoint Policy
//
// Handlers opt in explicitly. Accept serves both WebSocket and plain
// requests, Require answers plain requests with 400 Bad Request, and Handler
// only accepts upgrades when ServerConfig.AcceptAll is set.
//
// # Receiving
//
// Receive blocks until a complete message is available. Fragmented HyBi
// messages are reassembled; pings are answered with pongs. Frames with
// reserved opcodes are skipped with ErrUnsupportedFrame. Malformed frames
// terminate the connection with status 1002 and ErrInvalidFrame.
//
// # Rate Limiting
//
// Each connection has independent rate limiting using a token bucket:
//
//	// Default: 100 messages/second, burst 200
//	rateLimitConfig := ws.DefaultRateLimitConfig()
//
//	// Disabled
//	rateLimitConfig := ws.NoRateLimit()
//
// When the rate limit is exceeded, the connection is closed with code 1008
// (Policy Violation).
//
// # Security Features
//
//   - Rate limiting per connection
//   - Maximum message size: 10MB by default (prevents OOM)
//   - Origin validation through CheckOrigin
package upsock
