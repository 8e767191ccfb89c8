// Package handshake negotiates the opening handshake for both supported
// protocol generations and renders the literal response bytes.
package handshake

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/luciancaetano/upsock/internal/protocol"
)

// Header names used by the two generations.
const (
	HeaderConnection      = "Connection"
	HeaderUpgrade         = "Upgrade"
	HeaderOrigin          = "Origin"
	HeaderSecOrigin       = "Sec-WebSocket-Origin"
	HeaderSecLocation     = "Sec-WebSocket-Location"
	HeaderSecProtocol     = "Sec-WebSocket-Protocol"
	HeaderSecKey          = "Sec-WebSocket-Key"
	HeaderSecKey1         = "Sec-WebSocket-Key1"
	HeaderSecKey2         = "Sec-WebSocket-Key2"
	HeaderSecVersion      = "Sec-WebSocket-Version"
	HeaderSecAccept       = "Sec-WebSocket-Accept"
	DefaultSubprotocol    = "default"
	DefaultSecurePort     = "443"
	SupportedHyBiVersions = "13, 8, 7"
)

// ErrNotWebSocket means the request is not an upgrade attempt at all.
// Callers treat it as "feature unused", not as a failure.
var ErrNotWebSocket = errors.New("not a websocket request")

// Error is a handshake rejection carrying the HTTP status to answer with.
type Error struct {
	Err    error
	Status int
}

func (e *Error) Error() string {
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func malformed(format string, args ...any) *Error {
	return &Error{
		Err:    fmt.Errorf("%w: %s", protocol.ErrMalformedHandshake, fmt.Sprintf(format, args...)),
		Status: http.StatusBadRequest,
	}
}

// Request is the request metadata the negotiators need.
type Request struct {
	Header http.Header
	Host   string
	Path   string
	Secure bool
}

// FromHTTP extracts negotiation metadata from an incoming request.
func FromHTTP(r *http.Request) Request {
	return Request{
		Header: r.Header,
		Host:   r.Host,
		Path:   r.URL.RequestURI(),
		Secure: r.TLS != nil,
	}
}

// Context is the per-negotiation data echoed back in the response.
type Context struct {
	Origin   string
	Protocol string
	Host     string
	Path     string
	Secure   bool
}

// Location builds the canonical ws:// or wss:// URL of the resource. The
// default secure port is appended only for secure requests whose host does
// not already name a port.
func (c Context) Location() string {
	var b strings.Builder
	if c.Secure {
		b.WriteString("wss://")
	} else {
		b.WriteString("ws://")
	}
	b.WriteString(c.Host)
	if c.Secure && !hasPort(c.Host) {
		b.WriteString(":")
		b.WriteString(DefaultSecurePort)
	}
	if c.Path == "" {
		b.WriteString("/")
	} else {
		b.WriteString(c.Path)
	}
	return b.String()
}

func hasPort(host string) bool {
	_, port, err := net.SplitHostPort(host)
	return err == nil && port != ""
}

// headerContainsToken checks if headerName contains token (case-insensitive)
// within its comma separated values.
func headerContainsToken(h http.Header, headerName, token string) bool {
	for _, v := range h.Values(headerName) {
		for _, part := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(part), token) {
				return true
			}
		}
	}
	return false
}
