package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/gobwas/ws"
)

// compileClientFrame builds a masked client frame the way a browser would.
func compileClientFrame(t *testing.T, f ws.Frame, mask [4]byte) []byte {
	t.Helper()

	raw, err := ws.CompileFrame(ws.MaskFrameWith(f, mask))
	if err != nil {
		t.Fatalf("CompileFrame() error = %v", err)
	}
	return raw
}

// TestEncodeDecodeHyBi tests the three length encodings round trip
func TestEncodeDecodeHyBi(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		size       int
		headerSize int
	}{
		{name: "empty payload", size: 0, headerSize: 2},
		{name: "one byte", size: 1, headerSize: 2},
		{name: "largest short length", size: 125, headerSize: 2},
		{name: "smallest 16-bit length", size: 126, headerSize: 4},
		{name: "largest 16-bit length", size: 65535, headerSize: 4},
		{name: "smallest 64-bit length", size: 65536, headerSize: 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			payload := bytes.Repeat([]byte{'a'}, tt.size)
			encoded := EncodeHyBi(OpText, payload)

			if len(encoded) != tt.headerSize+tt.size {
				t.Fatalf("encoded length = %d, want %d", len(encoded), tt.headerSize+tt.size)
			}
			if encoded[0] != 0x81 {
				t.Errorf("first byte = 0x%02x, want 0x81", encoded[0])
			}
			if encoded[1]&maskBit != 0 {
				t.Error("server frame must not set the mask bit")
			}

			f, err := DecodeHyBi(encoded, 0)
			if err != nil {
				t.Fatalf("DecodeHyBi() error = %v", err)
			}
			if f == nil {
				t.Fatal("DecodeHyBi() reported an incomplete frame")
			}
			if !f.Fin || f.Opcode != OpText || f.Masked {
				t.Errorf("header = fin:%v op:%v masked:%v", f.Fin, f.Opcode, f.Masked)
			}
			if !bytes.Equal(f.Payload, payload) {
				t.Error("payload mismatch after round trip")
			}
			if f.Remaining != 0 {
				t.Errorf("Remaining = %d, want 0", f.Remaining)
			}
		})
	}
}

// TestDecodeHyBiPrefix tests that every strict prefix of a frame is incomplete
func TestDecodeHyBiPrefix(t *testing.T) {
	t.Parallel()

	frames := map[string][]byte{
		"short unmasked":  EncodeHyBi(OpBinary, []byte("hello")),
		"16-bit unmasked": EncodeHyBi(OpText, bytes.Repeat([]byte{'x'}, 300)),
		"masked text":     compileClientFrame(t, ws.NewTextFrame([]byte("masked payload")), [4]byte{1, 2, 3, 4}),
		"masked 16-bit":   compileClientFrame(t, ws.NewBinaryFrame(bytes.Repeat([]byte{7}, 200)), [4]byte{9, 8, 7, 6}),
	}

	for name, frame := range frames {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			for i := 0; i < len(frame); i++ {
				f, err := DecodeHyBi(frame[:i], 0)
				if err != nil {
					t.Fatalf("prefix %d: error = %v", i, err)
				}
				if f != nil {
					t.Fatalf("prefix %d: got a frame, want incomplete", i)
				}
			}
		})
	}
}

// TestDecodeHyBiMultipleFrames tests the remaining byte count
func TestDecodeHyBiMultipleFrames(t *testing.T) {
	t.Parallel()

	first := EncodeHyBi(OpText, []byte("first"))
	second := EncodeHyBi(OpBinary, bytes.Repeat([]byte{0xAB}, 130))
	buf := append(append([]byte{}, first...), second...)

	f, err := DecodeHyBi(buf, 0)
	if err != nil {
		t.Fatalf("DecodeHyBi() error = %v", err)
	}
	if string(f.Payload) != "first" {
		t.Errorf("payload = %q, want %q", f.Payload, "first")
	}
	if f.Remaining != len(second) {
		t.Fatalf("Remaining = %d, want %d", f.Remaining, len(second))
	}

	next, err := DecodeHyBi(buf[len(buf)-f.Remaining:], 0)
	if err != nil {
		t.Fatalf("DecodeHyBi() second frame error = %v", err)
	}
	if next.Opcode != OpBinary || len(next.Payload) != 130 || next.Remaining != 0 {
		t.Errorf("second frame = op:%v len:%d remaining:%d", next.Opcode, len(next.Payload), next.Remaining)
	}
}

// TestDecodeHyBiMasking tests unmasking against a manual XOR
func TestDecodeHyBiMasking(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mask    [4]byte
		payload []byte
	}{
		{name: "zero mask", mask: [4]byte{}, payload: []byte("plain")},
		{name: "short payload", mask: [4]byte{0xFF, 0x00, 0xAA, 0x55}, payload: []byte("ab")},
		{name: "unaligned payload", mask: [4]byte{0x37, 0xFA, 0x21, 0x3D}, payload: []byte("Hello, world")},
		{name: "binary payload", mask: [4]byte{0x01, 0x02, 0x03, 0x04}, payload: bytes.Repeat([]byte{0x00, 0xFF}, 1000)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			raw := compileClientFrame(t, ws.NewBinaryFrame(tt.payload), tt.mask)

			f, err := DecodeHyBi(raw, 0)
			if err != nil {
				t.Fatalf("DecodeHyBi() error = %v", err)
			}
			if !f.Masked || f.MaskKey != tt.mask {
				t.Fatalf("mask = %v %x, want %x", f.Masked, f.MaskKey, tt.mask)
			}

			masked := raw[len(raw)-len(tt.payload):]
			manual := make([]byte, len(masked))
			for i := range masked {
				manual[i] = masked[i] ^ tt.mask[i%4]
			}
			if !bytes.Equal(f.Payload, manual) || !bytes.Equal(f.Payload, tt.payload) {
				t.Error("unmasked payload does not match manual XOR")
			}
		})
	}
}

// TestDecodeHyBiClose tests close code and reason extraction
func TestDecodeHyBiClose(t *testing.T) {
	t.Parallel()

	raw := compileClientFrame(t, ws.NewCloseFrame(ws.NewCloseFrameBody(ws.StatusNormalClosure, "bye")), [4]byte{5, 6, 7, 8})

	f, err := DecodeHyBi(raw, 0)
	if err != nil {
		t.Fatalf("DecodeHyBi() error = %v", err)
	}
	if f.Opcode != OpClose {
		t.Fatalf("Opcode = %v, want close", f.Opcode)
	}
	if f.CloseCode != 1000 {
		t.Errorf("CloseCode = %d, want 1000", f.CloseCode)
	}
	if f.CloseReason != "bye" {
		t.Errorf("CloseReason = %q, want %q", f.CloseReason, "bye")
	}

	empty, err := DecodeHyBi(EncodeHyBi(OpClose, nil), 0)
	if err != nil {
		t.Fatalf("DecodeHyBi() empty close error = %v", err)
	}
	if empty.CloseCode != 0 || empty.CloseReason != "" {
		t.Errorf("empty close = %d %q, want no status", empty.CloseCode, empty.CloseReason)
	}
}

// TestDecodeHyBiInvalid tests structurally impossible frames
func TestDecodeHyBiInvalid(t *testing.T) {
	t.Parallel()

	huge := make([]byte, 10)
	huge[0] = 0x82
	huge[1] = 127
	binary.BigEndian.PutUint64(huge[2:], 1<<63)

	tests := []struct {
		name       string
		raw        []byte
		maxPayload int64
	}{
		{name: "reserved bits", raw: []byte{0xC1, 0x00}},
		{name: "fragmented ping", raw: []byte{0x09, 0x00}},
		{name: "oversized ping", raw: EncodeHyBi(OpPing, make([]byte, 126))},
		{name: "one byte close", raw: []byte{0x88, 0x01, 0x03}},
		{name: "length msb set", raw: huge},
		{name: "over the limit", raw: EncodeHyBi(OpBinary, make([]byte, 64)), maxPayload: 63},
		{name: "invalid close reason", raw: []byte{0x88, 0x04, 0x03, 0xE8, 0xC3, 0x28}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f, err := DecodeHyBi(tt.raw, tt.maxPayload)
			if !errors.Is(err, ErrInvalidFrame) {
				t.Fatalf("DecodeHyBi() error = %v, want ErrInvalidFrame", err)
			}
			if f != nil {
				t.Error("expected no frame on error")
			}
		})
	}
}

// TestDecodeHyBiUnmasked tests that unmasked client frames are still decoded
func TestDecodeHyBiUnmasked(t *testing.T) {
	t.Parallel()

	f, err := DecodeHyBi(EncodeHyBi(OpText, []byte("lenient")), 0)
	if err != nil {
		t.Fatalf("DecodeHyBi() error = %v", err)
	}
	if f.Masked {
		t.Error("Masked = true, want false")
	}
	if string(f.Payload) != "lenient" {
		t.Errorf("payload = %q", f.Payload)
	}
}

// TestClosePayload tests close body construction
func TestClosePayload(t *testing.T) {
	t.Parallel()

	if p := ClosePayload(0, "ignored"); len(p) != 0 {
		t.Errorf("ClosePayload(0) = %v, want empty", p)
	}

	p := ClosePayload(CloseNormalClosure, "bye")
	if !bytes.Equal(p, []byte{0x03, 0xE8, 'b', 'y', 'e'}) {
		t.Errorf("ClosePayload() = %v", p)
	}

	long := ClosePayload(CloseGoingAway, string(bytes.Repeat([]byte{'r'}, 200)))
	if len(long) != MaxControlPayload {
		t.Errorf("len = %d, want %d", len(long), MaxControlPayload)
	}

	// 62 two-byte runes do not fit in 123 bytes; the cut must not split one.
	multi := ClosePayload(CloseGoingAway, strings.Repeat("\u00e9", 62))
	if len(multi) != 2+122 || !utf8.Valid(multi[2:]) {
		t.Errorf("len = %d, valid = %v", len(multi), utf8.Valid(multi[2:]))
	}
	f, err := DecodeHyBi(EncodeHyBi(OpClose, multi), 0)
	if err != nil || f == nil {
		t.Fatalf("DecodeHyBi() = %v, %v", f, err)
	}
	if f.CloseReason != strings.Repeat("\u00e9", 61) {
		t.Errorf("CloseReason = %q", f.CloseReason)
	}
}

// TestValidCloseCode tests which status codes may be sent
func TestValidCloseCode(t *testing.T) {
	t.Parallel()

	for _, code := range []uint16{1000, 1001, 1002, 1003, 1007, 1008, 1009, 1010, 1011, 3000, 4999} {
		if !ValidCloseCode(code) {
			t.Errorf("ValidCloseCode(%d) = false", code)
		}
	}
	for _, code := range []uint16{0, 999, 1004, 1005, 1006, 1015, 1016, 2999, 5000} {
		if ValidCloseCode(code) {
			t.Errorf("ValidCloseCode(%d) = true", code)
		}
	}
}

// TestOpcodeClasses tests control and data classification
func TestOpcodeClasses(t *testing.T) {
	t.Parallel()

	for _, op := range []Opcode{OpClose, OpPing, OpPong, 0xB, 0xF} {
		if !op.IsControl() || op.IsData() {
			t.Errorf("%v: control=%v data=%v", op, op.IsControl(), op.IsData())
		}
	}
	for _, op := range []Opcode{OpContinuation, OpText, OpBinary} {
		if op.IsControl() || !op.IsData() {
			t.Errorf("%v: control=%v data=%v", op, op.IsControl(), op.IsData())
		}
	}
	if op := Opcode(0x3); op.IsControl() || op.IsData() {
		t.Errorf("%v should be neither control nor data", op)
	}
}
