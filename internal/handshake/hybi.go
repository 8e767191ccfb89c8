package handshake

import (
	"crypto/sha1"
	"encoding/base64"
	"strings"
)

// WebSocketGUID is appended to the client key before hashing.
const WebSocketGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// AcceptKey computes Sec-WebSocket-Accept for a Sec-WebSocket-Key.
func AcceptKey(key string) string {
	h := sha1.New()
	h.Write([]byte(key + WebSocketGUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// HyBiResponse renders the "101 Switching Protocols" response. The
// subprotocol header is only emitted when the client asked for one.
func HyBiResponse(ctx Context, accept string) []byte {
	var b strings.Builder
	b.WriteString("HTTP/1.1 101 Switching Protocols\r\n")
	writeHeader(&b, HeaderUpgrade, "websocket")
	writeHeader(&b, HeaderConnection, "Upgrade")
	if ctx.Origin != "" {
		writeHeader(&b, HeaderSecOrigin, ctx.Origin)
	}
	writeHeader(&b, HeaderSecLocation, ctx.Location())
	if ctx.Protocol != "" {
		writeHeader(&b, HeaderSecProtocol, ctx.Protocol)
	}
	writeHeader(&b, HeaderSecAccept, accept)
	b.WriteString("\r\n")
	return []byte(b.String())
}

// firstToken returns the first entry of a comma separated subprotocol list.
func firstToken(v string) string {
	if i := strings.IndexByte(v, ','); i >= 0 {
		v = v[:i]
	}
	return strings.TrimSpace(v)
}

func writeHeader(b *strings.Builder, name, value string) {
	b.WriteString(name)
	b.WriteString(": ")
	b.WriteString(value)
	b.WriteString("\r\n")
}
