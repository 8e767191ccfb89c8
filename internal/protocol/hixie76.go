package protocol

import (
	"bytes"
	"strings"
	"unicode/utf8"
)

const (
	hixieFrameStart = 0x00
	hixieFrameEnd   = 0xFF
)

// Hixie76Close is the closing handshake sequence.
var Hixie76Close = []byte{0xFF, 0x00}

// Hixie76Result is the outcome of one pass of DecodeHixie76 over a buffer.
type Hixie76Result struct {
	Messages []Message
	// Consumed is the number of leading bytes of the buffer that were fully
	// decoded; the rest belong to an incomplete frame.
	Consumed int
	// Closing is set when the client sent the 0xFF 0x00 closing sequence.
	// Decoding stops right after it.
	Closing bool
}

// EncodeHixie76 wraps payload between the 0x00 and 0xFF sentinels. Invalid
// UTF-8 is replaced with U+FFFD so no 0xFF byte can end the frame early.
func EncodeHixie76(payload []byte) []byte {
	if !utf8.Valid(payload) {
		payload = bytes.ToValidUTF8(payload, []byte("\uFFFD"))
	}
	out := make([]byte, 0, len(payload)+2)
	out = append(out, hixieFrameStart)
	out = append(out, payload...)
	return append(out, hixieFrameEnd)
}

// DecodeHixie76 decodes every complete frame in buf. Invalid UTF-8 inside a
// frame is replaced rather than rejected. maxSize bounds the payload of a
// single frame; zero disables the bound.
//
// On error the result still holds the messages decoded before the bad frame.
func DecodeHixie76(buf []byte, maxSize int) (Hixie76Result, error) {
	d := Hixie76Decoder{MaxSize: maxSize}
	return d.Decode(buf)
}

// Hixie76Decoder decodes a growing buffer across reads. It remembers how much
// of a trailing incomplete frame was already searched for its terminator, so
// the caller must drop exactly Consumed bytes and only append to the rest
// between calls.
type Hixie76Decoder struct {
	MaxSize int

	scanned int
}

// Decode behaves like DecodeHixie76.
func (d *Hixie76Decoder) Decode(buf []byte) (Hixie76Result, error) {
	var res Hixie76Result
	maxSize := d.MaxSize

	for res.Consumed < len(buf) {
		rest := buf[res.Consumed:]
		switch rest[0] {
		case hixieFrameStart:
			skip := 0
			if res.Consumed == 0 && d.scanned <= len(rest)-1 {
				skip = d.scanned
			}
			d.scanned = 0

			idx := bytes.IndexByte(rest[1+skip:], hixieFrameEnd)
			if idx < 0 {
				if maxSize > 0 && len(rest)-1 > maxSize {
					return res, tooBig("hixie-76 frame exceeds limit %d", maxSize)
				}
				d.scanned = len(rest) - 1
				return res, nil
			}
			end := skip + idx
			if maxSize > 0 && end > maxSize {
				return res, tooBig("hixie-76 frame exceeds limit %d", maxSize)
			}
			text := strings.ToValidUTF8(string(rest[1:1+end]), "\uFFFD")
			res.Messages = append(res.Messages, Text(text))
			res.Consumed += end + 2

		case hixieFrameEnd:
			if len(rest) < 2 {
				return res, nil
			}
			d.scanned = 0
			if rest[1] != 0x00 {
				return res, invalidFrame("unexpected closing handshake byte 0x%02x", rest[1])
			}
			res.Consumed += 2
			res.Closing = true
			return res, nil

		default:
			d.scanned = 0
			return res, invalidFrame("unknown hixie-76 frame type 0x%02x", rest[0])
		}
	}

	return res, nil
}
