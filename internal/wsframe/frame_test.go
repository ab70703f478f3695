package wsframe

import (
	"bytes"
	"errors"
	"testing"
)

func TestApplyMaskRoundtrip(t *testing.T) {
	key := [4]byte{0x37, 0xfa, 0x21, 0x3d}
	for _, n := range []int{0, 1, 3, 4, 7, 8, 15, 16, 17, 125, 1000} {
		buf := make([]byte, n)
		for i := range buf {
			buf[i] = byte(i * 7)
		}
		orig := append([]byte(nil), buf...)
		ApplyMask(buf, key)
		if n > 0 && bytes.Equal(buf, orig) {
			t.Fatalf("len %d: mask did not change buffer", n)
		}
		ApplyMask(buf, key)
		if !bytes.Equal(buf, orig) {
			t.Fatalf("len %d: double mask did not restore original", n)
		}
	}
}

// From RFC 6455 Section 5.7: a single-frame masked text message "Hello".
func TestApplyMaskVector(t *testing.T) {
	key := [4]byte{0x37, 0xfa, 0x21, 0x3d}
	masked := []byte{0x7f, 0x9f, 0x4d, 0x51, 0x58}
	ApplyMask(masked, key)
	if string(masked) != "Hello" {
		t.Fatalf("got %q, want %q", masked, "Hello")
	}
}

func TestEncodeHeaderLengthClasses(t *testing.T) {
	cases := []struct {
		n       int
		wantLen int
	}{
		{0, 2},
		{125, 2},
		{126, 4},
		{65535, 4},
		{65536, 10},
	}
	for _, c := range cases {
		hdr := EncodeHeader(true, OpBinary, false, c.n)
		if len(hdr) != c.wantLen {
			t.Errorf("n=%d: got header len %d, want %d", c.n, len(hdr), c.wantLen)
		}
	}
}

func TestWriteReadFrameRoundtrip(t *testing.T) {
	payload := []byte("Hello")
	var buf bytes.Buffer
	if err := WriteFrame(&buf, true, OpText, true, payload); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	fr, err := ReadFrame(&buf, true, 0)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if !fr.Fin || fr.Opcode != OpText || string(fr.Payload) != "Hello" {
		t.Fatalf("got %+v", fr)
	}
}

// Hand-built vector: 81 05 48 65 6C 6C 6F -> unmasked "Hello" text frame.
func TestReadFrameUnmaskedVector(t *testing.T) {
	raw := []byte{0x81, 0x05, 0x48, 0x65, 0x6c, 0x6c, 0x6f}
	fr, err := ReadFrame(bytes.NewReader(raw), false, 0)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if !fr.Fin || fr.Opcode != OpText || string(fr.Payload) != "Hello" {
		t.Fatalf("got %+v", fr)
	}
}

// Hand-built vector: 81 85 37 FA 21 3D 7F 9F 4D 51 58 -> masked "Hello".
func TestReadFrameMaskedVector(t *testing.T) {
	raw := []byte{0x81, 0x85, 0x37, 0xfa, 0x21, 0x3d, 0x7f, 0x9f, 0x4d, 0x51, 0x58}
	fr, err := ReadFrame(bytes.NewReader(raw), true, 0)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if string(fr.Payload) != "Hello" {
		t.Fatalf("got %q", fr.Payload)
	}
}

func TestReadFrameRejectsUnmaskedOnServer(t *testing.T) {
	raw := []byte{0x81, 0x05, 0x48, 0x65, 0x6c, 0x6c, 0x6f}
	_, err := ReadFrame(bytes.NewReader(raw), true, 0)
	if !errors.Is(err, ErrMaskRequired) {
		t.Fatalf("got %v, want ErrMaskRequired", err)
	}
}

func TestReadFrameRejectsMaskedOnClient(t *testing.T) {
	raw := []byte{0x81, 0x85, 0x37, 0xfa, 0x21, 0x3d, 0x7f, 0x9f, 0x4d, 0x51, 0x58}
	_, err := ReadFrame(bytes.NewReader(raw), false, 0)
	if !errors.Is(err, ErrMaskForbidden) {
		t.Fatalf("got %v, want ErrMaskForbidden", err)
	}
}

func TestReadFrameRejectsReservedBits(t *testing.T) {
	raw := []byte{0xF1, 0x00}
	_, err := ReadFrame(bytes.NewReader(raw), false, 0)
	if !errors.Is(err, ErrReservedBits) {
		t.Fatalf("got %v, want ErrReservedBits", err)
	}
}

func TestReadFrameRejectsUnknownOpcode(t *testing.T) {
	raw := []byte{0x83, 0x00}
	_, err := ReadFrame(bytes.NewReader(raw), false, 0)
	if !errors.Is(err, ErrInvalidOpcode) {
		t.Fatalf("got %v, want ErrInvalidOpcode", err)
	}
}

func TestReadFrameRejectsFragmentedControl(t *testing.T) {
	raw := []byte{0x09, 0x00} // Ping, FIN not set
	_, err := ReadFrame(bytes.NewReader(raw), false, 0)
	if !errors.Is(err, ErrControlFragmented) {
		t.Fatalf("got %v, want ErrControlFragmented", err)
	}
}

func TestReadFrameRejectsOversizedControl(t *testing.T) {
	hdr := EncodeHeader(true, OpPing, false, 126)
	hdr[1] = 126 // force 16-bit length encoding on a control opcode
	ext := []byte{0x00, 0x7e}
	raw := append(append([]byte{hdr[0], hdr[1]}, ext...), make([]byte, 126)...)
	_, err := ReadFrame(bytes.NewReader(raw), false, 0)
	if !errors.Is(err, ErrControlPayloadTooBig) {
		t.Fatalf("got %v, want ErrControlPayloadTooBig", err)
	}
}

func TestReadFrameRejectsNonMinimal16(t *testing.T) {
	raw := []byte{0x82, 126, 0x00, 0x05}
	raw = append(raw, make([]byte, 5)...)
	_, err := ReadFrame(bytes.NewReader(raw), false, 0)
	if !errors.Is(err, ErrNonMinimalLength) {
		t.Fatalf("got %v, want ErrNonMinimalLength", err)
	}
}

func TestReadFrameRejectsNonMinimal64(t *testing.T) {
	raw := []byte{0x82, 127, 0, 0, 0, 0, 0, 0, 0, 10}
	raw = append(raw, make([]byte, 10)...)
	_, err := ReadFrame(bytes.NewReader(raw), false, 0)
	if !errors.Is(err, ErrNonMinimalLength) {
		t.Fatalf("got %v, want ErrNonMinimalLength", err)
	}
}

func TestReadFrameRejectsMaxPayload(t *testing.T) {
	raw := []byte{0x82, 0x05, 1, 2, 3, 4, 5}
	_, err := ReadFrame(bytes.NewReader(raw), false, 4)
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("got %v, want ErrFrameTooLarge", err)
	}
}

// Ping frame 89 00 should round-trip with an empty payload, and a Pong
// reply built from the same payload should match the RFC 6455 Section
// 5.5.3 example (89 00 -> 8A 00).
func TestPingPongVector(t *testing.T) {
	raw := []byte{0x89, 0x00}
	fr, err := ReadFrame(bytes.NewReader(raw), false, 0)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if fr.Opcode != OpPing || len(fr.Payload) != 0 {
		t.Fatalf("got %+v", fr)
	}

	var buf bytes.Buffer
	if err := WriteFrame(&buf, true, OpPong, false, fr.Payload); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	if !bytes.Equal(buf.Bytes(), []byte{0x8A, 0x00}) {
		t.Fatalf("got % x, want 8A 00", buf.Bytes())
	}
}

// Close frame for code 1000, reason "bye": 88 05 03 E8 62 79 65.
func TestCloseFrameVector(t *testing.T) {
	payload := []byte{0x03, 0xe8, 'b', 'y', 'e'}
	var buf bytes.Buffer
	if err := WriteFrame(&buf, true, OpClose, false, payload); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	want := []byte{0x88, 0x05, 0x03, 0xe8, 'b', 'y', 'e'}
	if !bytes.Equal(buf.Bytes(), want) {
		t.Fatalf("got % x, want % x", buf.Bytes(), want)
	}
}

func TestWriteFrameRejectsOversizedControl(t *testing.T) {
	err := WriteFrame(&bytes.Buffer{}, true, OpPing, false, make([]byte, 126))
	if !errors.Is(err, ErrControlPayloadTooBig) {
		t.Fatalf("got %v, want ErrControlPayloadTooBig", err)
	}
}

func TestWriteFrameDoesNotMutateCallerPayload(t *testing.T) {
	payload := []byte("Hello")
	orig := append([]byte(nil), payload...)
	if err := WriteFrame(&bytes.Buffer{}, true, OpText, true, payload); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	if !bytes.Equal(payload, orig) {
		t.Fatalf("caller payload mutated: got %q, want %q", payload, orig)
	}
}

func TestReadFrameFragmentedContinuation(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, false, OpText, false, []byte("Hel")); err != nil {
		t.Fatalf("WriteFrame first: %v", err)
	}
	if err := WriteFrame(&buf, true, OpContinuation, false, []byte("lo")); err != nil {
		t.Fatalf("WriteFrame second: %v", err)
	}

	fr1, err := ReadFrame(&buf, false, 0)
	if err != nil {
		t.Fatalf("ReadFrame first: %v", err)
	}
	if fr1.Fin || fr1.Opcode != OpText {
		t.Fatalf("got %+v", fr1)
	}
	fr2, err := ReadFrame(&buf, false, 0)
	if err != nil {
		t.Fatalf("ReadFrame second: %v", err)
	}
	if !fr2.Fin || fr2.Opcode != OpContinuation {
		t.Fatalf("got %+v", fr2)
	}
	if string(fr1.Payload)+string(fr2.Payload) != "Hello" {
		t.Fatalf("got %q + %q", fr1.Payload, fr2.Payload)
	}
}

func TestIsControl(t *testing.T) {
	for _, op := range []byte{OpClose, OpPing, OpPong} {
		if !IsControl(op) {
			t.Errorf("opcode 0x%x: want control", op)
		}
	}
	for _, op := range []byte{OpContinuation, OpText, OpBinary} {
		if IsControl(op) {
			t.Errorf("opcode 0x%x: want data", op)
		}
	}
}
