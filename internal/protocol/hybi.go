package protocol

import (
	"encoding/binary"
	"unicode/utf8"
)

const (
	finBit  = 0x80
	rsvBits = 0x70
	maskBit = 0x80

	// MaxControlPayload is the largest payload a control frame may carry.
	MaxControlPayload = 125
)

// Frame is one decoded HyBi frame.
type Frame struct {
	Fin     bool
	Opcode  Opcode
	Masked  bool
	MaskKey [4]byte
	// Length is the declared payload length.
	Length int64
	// Payload is the unmasked payload. It never aliases the source buffer.
	Payload []byte
	// CloseCode and CloseReason are set for close frames carrying a status.
	// CloseCode is zero when the frame had no status.
	CloseCode   uint16
	CloseReason string
	// Remaining counts the bytes that followed this frame in the source buffer.
	Remaining int
}

// EncodeHyBi serializes payload as a single unmasked server frame with FIN set.
func EncodeHyBi(opcode Opcode, payload []byte) []byte {
	n := len(payload)
	var out []byte

	b0 := byte(finBit) | byte(opcode&0x0F)
	switch {
	case n <= 125:
		out = make([]byte, 2, 2+n)
		out[0] = b0
		out[1] = byte(n)
	case n <= 0xFFFF:
		out = make([]byte, 4, 4+n)
		out[0] = b0
		out[1] = 126
		binary.BigEndian.PutUint16(out[2:], uint16(n))
	default:
		out = make([]byte, 10, 10+n)
		out[0] = b0
		out[1] = 127
		binary.BigEndian.PutUint64(out[2:], uint64(n))
	}

	return append(out, payload...)
}

// DecodeHyBi parses the first frame in buf.
//
// If buf does not yet hold a complete frame it returns (nil, nil) and the
// caller must keep buf intact and read more data. maxPayload bounds the
// declared payload length; zero disables the bound.
func DecodeHyBi(buf []byte, maxPayload int64) (*Frame, error) {
	if len(buf) < 2 {
		return nil, nil
	}

	b0, b1 := buf[0], buf[1]
	if b0&rsvBits != 0 {
		return nil, invalidFrame("reserved bits set without negotiated extension")
	}

	f := &Frame{
		Fin:    b0&finBit != 0,
		Opcode: Opcode(b0 & 0x0F),
		Masked: b1&maskBit != 0,
	}

	length := int64(b1 & 0x7F)
	offset := 2
	switch length {
	case 126:
		if len(buf) < offset+2 {
			return nil, nil
		}
		length = int64(binary.BigEndian.Uint16(buf[offset:]))
		offset += 2
	case 127:
		if len(buf) < offset+8 {
			return nil, nil
		}
		ext := binary.BigEndian.Uint64(buf[offset:])
		if ext>>63 != 0 {
			return nil, invalidFrame("64-bit payload length has the most significant bit set")
		}
		length = int64(ext)
		offset += 8
	}

	if maxPayload > 0 && length > maxPayload {
		return nil, tooBig("payload length %d exceeds limit %d", length, maxPayload)
	}
	if f.Opcode.IsControl() {
		if !f.Fin {
			return nil, invalidFrame("fragmented %s frame", f.Opcode)
		}
		if length > MaxControlPayload {
			return nil, invalidFrame("%s frame payload of %d bytes", f.Opcode, length)
		}
	}

	if f.Masked {
		if len(buf) < offset+4 {
			return nil, nil
		}
		copy(f.MaskKey[:], buf[offset:offset+4])
		offset += 4
	}

	if length > int64(len(buf)-offset) {
		return nil, nil
	}

	end := offset + int(length)
	f.Length = length
	f.Payload = make([]byte, length)
	copy(f.Payload, buf[offset:end])
	if f.Masked {
		Unmask(f.Payload, f.MaskKey)
	}
	f.Remaining = len(buf) - end

	if f.Opcode == OpClose {
		switch {
		case length == 1:
			return nil, invalidFrame("close frame with a 1-byte payload")
		case length >= 2:
			f.CloseCode = binary.BigEndian.Uint16(f.Payload)
			if length > 2 {
				reason := f.Payload[2:]
				if !utf8.Valid(reason) {
					return nil, invalidFrame("close reason is not valid UTF-8")
				}
				f.CloseReason = string(reason)
			}
		}
	}

	return f, nil
}

// Unmask XORs b in place with key cycled over 4 bytes. Masking and unmasking
// are the same operation.
func Unmask(b []byte, key [4]byte) {
	for i := range b {
		b[i] ^= key[i&3]
	}
}

// ClosePayload builds the body of a close frame. A zero code yields an empty
// body. The reason is truncated on a rune boundary so the frame stays within
// the control limit.
func ClosePayload(code uint16, reason string) []byte {
	if code == 0 {
		return nil
	}
	if n := MaxControlPayload - 2; len(reason) > n {
		for n > 0 && !utf8.RuneStart(reason[n]) {
			n--
		}
		reason = reason[:n]
	}
	p := make([]byte, 2, 2+len(reason))
	binary.BigEndian.PutUint16(p, code)
	return append(p, reason...)
}
