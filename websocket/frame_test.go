package websocket

import (
	"bytes"
	"testing"
)

// TestEncodeParseRoundTrip checks that every frame constructor survives an
// Encode/Parse round trip modulo masking (the encoder masks, ParseForTest
// unmasks as a server would before Parse), per RFC 6455 Section 5.3.
func TestEncodeParseRoundTrip(t *testing.T) {
	cases := []struct {
		name  string
		frame *Frame
	}{
		{"text", TextFrame([]byte("hello"))},
		{"empty text", TextFrame(nil)},
		{"binary", BinaryFrame([]byte{0x00, 0xFF, 0x10})},
		{"ping", PingFrame([]byte("keepalive"))},
		{"pong", PongFrame(nil)},
		{"bare close", CloseFrame()},
		{"close with code", CloseFrameWithCode(CloseNormalClosure, "bye")},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			wire, err := Encode(tc.frame)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}

			// RFC 6455 Section 5.1: client frames MUST be masked.
			if wire[1]&0x80 == 0 {
				t.Error("expected MASK bit set on client-encoded frame")
			}

			got, rest, err := ParseForTest(wire, defaultMaxFrameSize)
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if len(rest) != 0 {
				t.Errorf("expected no remainder, got %d bytes", len(rest))
			}
			if got.Kind != tc.frame.Kind {
				t.Errorf("kind mismatch: want %v got %v", tc.frame.Kind, got.Kind)
			}
			if !bytes.Equal(got.Payload, tc.frame.Payload) {
				t.Errorf("payload mismatch: want %q got %q", tc.frame.Payload, got.Payload)
			}
			if tc.frame.HasCloseCode != got.HasCloseCode || tc.frame.CloseCode != got.CloseCode {
				t.Errorf("close code mismatch: want (%v,%v) got (%v,%v)",
					tc.frame.HasCloseCode, tc.frame.CloseCode, got.HasCloseCode, got.CloseCode)
			}
		})
	}
}

// TestParseIncomplete verifies Parse returns errIncomplete rather than
// blocking or erroring when the buffer doesn't yet hold a whole frame.
func TestParseIncomplete(t *testing.T) {
	wire, err := EncodeUnmaskedForTest(TextFrame([]byte("hello world")))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	for n := 0; n < len(wire); n++ {
		_, rest, err := Parse(wire[:n], defaultMaxFrameSize)
		if err != errIncomplete {
			t.Fatalf("Parse(%d bytes): want errIncomplete, got %v", n, err)
		}
		if !bytes.Equal(rest, wire[:n]) {
			t.Errorf("Parse(%d bytes): expected rest to echo input buffer unchanged", n)
		}
	}
}

// TestParseRejectsMaskedServerFrame covers RFC 6455 Section 5.1: a frame
// from the server MUST NOT be masked.
func TestParseRejectsMaskedServerFrame(t *testing.T) {
	wire := []byte{0x81, 0x85, 0, 0, 0, 0, 'h', 'e', 'l', 'l', 'o'}
	_, _, err := Parse(wire, defaultMaxFrameSize)
	fpe, ok := err.(*FrameParseError)
	if !ok {
		t.Fatalf("want *FrameParseError, got %T (%v)", err, err)
	}
	if fpe.Reason != ErrUnmaskedFrame {
		t.Errorf("want ErrUnmaskedFrame, got %v", fpe.Reason)
	}
	if fpe.CloseCode != CloseProtocolError {
		t.Errorf("want CloseProtocolError, got %v", fpe.CloseCode)
	}
}

// TestParseRejectsReservedBits covers RFC 6455 Section 5.2.
func TestParseRejectsReservedBits(t *testing.T) {
	wire := []byte{0x81 | 0x40, 0x05, 'h', 'e', 'l', 'l', 'o'}
	_, _, err := Parse(wire, defaultMaxFrameSize)
	fpe, ok := err.(*FrameParseError)
	if !ok || fpe.Reason != ErrReservedBits {
		t.Fatalf("want ErrReservedBits, got %v", err)
	}
}

// TestParseRejectsFragmentedControlFrame covers RFC 6455 Section 5.5:
// control frames must not be fragmented.
func TestParseRejectsFragmentedControlFrame(t *testing.T) {
	wire := []byte{0x09, 0x00} // FIN=0, opcode=ping
	_, _, err := Parse(wire, defaultMaxFrameSize)
	fpe, ok := err.(*FrameParseError)
	if !ok || fpe.Reason != ErrControlFragmented {
		t.Fatalf("want ErrControlFragmented, got %v", err)
	}
}

// TestParseRejectsOversizedControlFrame covers RFC 6455 Section 5.5: a
// control frame's payload must be <= 125 bytes.
func TestParseRejectsOversizedControlFrame(t *testing.T) {
	header := []byte{0x89, 126, 0, 200} // ping, 16-bit length = 200
	payload := make([]byte, 200)
	wire := append(header, payload...)

	_, _, err := Parse(wire, defaultMaxFrameSize)
	fpe, ok := err.(*FrameParseError)
	if !ok || fpe.Reason != ErrControlTooLarge {
		t.Fatalf("want ErrControlTooLarge, got %v", err)
	}
}

// TestParseRejectsOversizedDataFrame covers Options.MaxFrameSize: a data
// frame over the ceiling fails with 1009.
func TestParseRejectsOversizedDataFrame(t *testing.T) {
	payload := make([]byte, 100)
	wire, err := EncodeUnmaskedForTest(BinaryFrame(payload))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	_, _, err = Parse(wire, 10)
	fpe, ok := err.(*FrameParseError)
	if !ok || fpe.Reason != ErrFrameTooLarge {
		t.Fatalf("want ErrFrameTooLarge, got %v", err)
	}
	if fpe.CloseCode != CloseMessageTooBig {
		t.Errorf("want CloseMessageTooBig, got %v", fpe.CloseCode)
	}
}

// TestParseRejectsInvalidUTF8 covers RFC 6455 Section 8.1.
func TestParseRejectsInvalidUTF8(t *testing.T) {
	wire := []byte{0x81, 0x02, 0xFF, 0xFE} // text frame, invalid UTF-8
	_, _, err := Parse(wire, defaultMaxFrameSize)
	fpe, ok := err.(*FrameParseError)
	if !ok || fpe.Reason != ErrInvalidUTF8 {
		t.Fatalf("want ErrInvalidUTF8, got %v", err)
	}
	if fpe.CloseCode != CloseInvalidFramePayloadData {
		t.Errorf("want CloseInvalidFramePayloadData, got %v", fpe.CloseCode)
	}
}

// TestParseFragmentClassification covers Fragment/Continuation/Finish
// classification.
func TestParseFragmentClassification(t *testing.T) {
	first := frameHeader(false, opcodeText, false, 1)
	first = append(first, 'a')
	f, rest, err := Parse(first, defaultMaxFrameSize)
	if err != nil {
		t.Fatalf("Parse first fragment: %v", err)
	}
	if f.Kind != KindFragment || f.FragmentKind != KindText {
		t.Fatalf("want KindFragment/KindText, got %v/%v", f.Kind, f.FragmentKind)
	}
	if len(rest) != 0 {
		t.Errorf("expected no remainder")
	}

	mid := frameHeader(false, opcodeContinuation, false, 1)
	mid = append(mid, 'b')
	f, _, err = Parse(mid, defaultMaxFrameSize)
	if err != nil {
		t.Fatalf("Parse continuation: %v", err)
	}
	if f.Kind != KindContinuation {
		t.Fatalf("want KindContinuation, got %v", f.Kind)
	}

	last := frameHeader(true, opcodeContinuation, false, 1)
	last = append(last, 'c')
	f, _, err = Parse(last, defaultMaxFrameSize)
	if err != nil {
		t.Fatalf("Parse finish: %v", err)
	}
	if f.Kind != KindFinish {
		t.Fatalf("want KindFinish, got %v", f.Kind)
	}
}

// TestEncodeRejectsInvalidCloseCode covers RFC 6455 Section 7.4: reserved
// codes (1005, 1006, 1015, etc.) must never reach the wire.
func TestEncodeRejectsInvalidCloseCode(t *testing.T) {
	_, err := Encode(CloseFrameWithCode(CloseNoStatusReceived, ""))
	if err == nil {
		t.Fatal("expected an error encoding a reserved close code")
	}
}

// TestApplyMaskIsSelfInverse covers RFC 6455 Section 5.3: XOR masking
// applied twice with the same key returns the original bytes.
func TestApplyMaskIsSelfInverse(t *testing.T) {
	original := []byte("round trip me")
	mask := [4]byte{0xDE, 0xAD, 0xBE, 0xEF}

	data := append([]byte(nil), original...)
	applyMask(data, mask)
	if bytes.Equal(data, original) {
		t.Fatal("masking did not change the payload")
	}
	applyMask(data, mask)
	if !bytes.Equal(data, original) {
		t.Fatalf("double mask did not restore original: got %q want %q", data, original)
	}
}
