package handshake

import (
	"crypto/md5"
	"encoding/binary"
	"errors"
	"math"
	"strings"
)

// ChallengeSize is the length of the raw key3 body sent by Hixie-76 clients.
const ChallengeSize = 8

var (
	errKeyNoSpaces = errors.New("key contains no spaces")
	errKeyNoDigits = errors.New("key contains no digits")
	errKeyRange    = errors.New("key value out of range")
)

// ReduceKey turns a Sec-WebSocket-Key1/Key2 value into its 32-bit number:
// the concatenated decimal digits divided by the number of spaces.
func ReduceKey(key string) (uint32, error) {
	var (
		number uint64
		digits int
		spaces uint64
	)
	for _, ch := range key {
		switch {
		case ch >= '0' && ch <= '9':
			d := uint64(ch - '0')
			if number > (math.MaxUint64-d)/10 {
				return 0, errKeyRange
			}
			number = number*10 + d
			digits++
		case ch == ' ':
			spaces++
		}
	}
	if digits == 0 {
		return 0, errKeyNoDigits
	}
	if spaces == 0 {
		return 0, errKeyNoSpaces
	}
	v := number / spaces
	if v > math.MaxUint32 {
		return 0, errKeyRange
	}
	return uint32(v), nil
}

// Hixie76Challenge computes MD5(be32(key1) || be32(key2) || body).
func Hixie76Challenge(key1, key2 uint32, body [ChallengeSize]byte) [md5.Size]byte {
	var in [16]byte
	binary.BigEndian.PutUint32(in[0:4], key1)
	binary.BigEndian.PutUint32(in[4:8], key2)
	copy(in[8:], body[:])
	return md5.Sum(in[:])
}

// Hixie76Response renders the "101 Web Socket Protocol Handshake" response
// followed by the 16-byte challenge digest.
func Hixie76Response(ctx Context, digest [md5.Size]byte) []byte {
	proto := ctx.Protocol
	if proto == "" {
		proto = DefaultSubprotocol
	}

	var b strings.Builder
	b.WriteString("HTTP/1.1 101 Web Socket Protocol Handshake\r\n")
	writeHeader(&b, HeaderUpgrade, "WebSocket")
	writeHeader(&b, HeaderConnection, "Upgrade")
	writeHeader(&b, HeaderSecOrigin, ctx.Origin)
	writeHeader(&b, HeaderSecLocation, ctx.Location())
	writeHeader(&b, HeaderSecProtocol, proto)
	b.WriteString("\r\n")
	b.Write(digest[:])
	return []byte(b.String())
}
