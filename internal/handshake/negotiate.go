package handshake

import (
	"io"
	"net/http"
	"strings"

	"github.com/luciancaetano/upsock/internal/protocol"
)

// Negotiation is a validated upgrade request. Everything that can be checked
// from the headers alone is checked by Negotiate, so a Negotiation only fails
// later if the Hixie-76 challenge body cannot be read.
type Negotiation struct {
	Version protocol.Version
	Context Context

	key        string
	key1, key2 uint32
}

// Negotiate selects the protocol generation and validates its key material.
// It returns ErrNotWebSocket for ordinary requests and an *Error otherwise.
func Negotiate(req Request) (*Negotiation, error) {
	v, err := DetectVersion(req.Header)
	if err != nil {
		return nil, err
	}

	n := &Negotiation{
		Version: v,
		Context: Context{
			Origin: origin(req.Header),
			Host:   req.Host,
			Path:   req.Path,
			Secure: req.Secure,
		},
	}

	switch v {
	case protocol.VersionHyBi:
		n.key = strings.TrimSpace(req.Header.Get(HeaderSecKey))
		if n.key == "" {
			return nil, malformed("missing %s header", HeaderSecKey)
		}
		n.Context.Protocol = firstToken(req.Header.Get(HeaderSecProtocol))

	case protocol.VersionHixie76:
		if n.key1, err = reduceHeader(req.Header, HeaderSecKey1); err != nil {
			return nil, err
		}
		if n.key2, err = reduceHeader(req.Header, HeaderSecKey2); err != nil {
			return nil, err
		}
		n.Context.Protocol = strings.TrimSpace(req.Header.Get(HeaderSecProtocol))
	}

	return n, nil
}

// Response renders the literal handshake response. For Hixie-76 it first
// reads the 8-byte challenge body from r; HyBi never reads from r.
func (n *Negotiation) Response(r io.Reader) ([]byte, error) {
	switch n.Version {
	case protocol.VersionHyBi:
		return HyBiResponse(n.Context, AcceptKey(n.key)), nil

	case protocol.VersionHixie76:
		var body [ChallengeSize]byte
		if _, err := io.ReadFull(r, body[:]); err != nil {
			return nil, malformed("reading %d-byte challenge body: %v", ChallengeSize, err)
		}
		return Hixie76Response(n.Context, Hixie76Challenge(n.key1, n.key2, body)), nil

	default:
		return nil, malformed("no protocol version negotiated")
	}
}

// Subprotocol is the subprotocol echoed to the client, if any.
func (n *Negotiation) Subprotocol() string {
	if n.Version == protocol.VersionHixie76 && n.Context.Protocol == "" {
		return DefaultSubprotocol
	}
	return n.Context.Protocol
}

func reduceHeader(h http.Header, name string) (uint32, error) {
	raw := h.Get(name)
	if raw == "" {
		return 0, malformed("missing %s header", name)
	}
	v, err := ReduceKey(raw)
	if err != nil {
		return 0, malformed("%s: %v", name, err)
	}
	return v, nil
}

func origin(h http.Header) string {
	if o := h.Get(HeaderOrigin); o != "" {
		return o
	}
	return h.Get(HeaderSecOrigin)
}
