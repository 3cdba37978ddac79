package websocket

// This file exports internal identifiers for the external test package
// (websocket_test), which plays the server side of the handshake and
// frame exchange — this library only implements the client side.

// ComputeAcceptKeyForTest exposes computeAcceptKey.
func ComputeAcceptKeyForTest(key string) string { return computeAcceptKey(key) }

// ParseForTest parses one frame the way the server-role test harness sees
// it: a masked (client) frame is unmasked first, then handed to Parse,
// which itself accepts only unmasked server frames.
func ParseForTest(buf []byte, maxFrameSize int) (*Frame, []byte, error) {
	if len(buf) < 2 || buf[1]&0x80 == 0 {
		return Parse(buf, maxFrameSize)
	}
	hdr := 2
	switch buf[1] & 0x7F {
	case payloadLen16Bit:
		hdr += 2
	case payloadLen64Bit:
		hdr += 8
	}
	if len(buf) < hdr+4 {
		return nil, buf, errIncomplete
	}
	plain := append(append([]byte(nil), buf[:hdr]...), buf[hdr+4:]...)
	plain[1] &^= 0x80
	applyMask(plain[hdr:], [4]byte(buf[hdr:hdr+4]))
	f, rest, err := Parse(plain, maxFrameSize)
	if err != nil {
		return nil, buf, err
	}
	return f, buf[len(buf)-len(rest):], nil
}

// EncodeUnmaskedForTest builds wire bytes for f without masking, the way
// a real server would send them (RFC 6455 Section 5.1: server frames MUST
// NOT be masked) — Encode always masks, since this library is client-only.
func EncodeUnmaskedForTest(f *Frame) ([]byte, error) {
	opcode, fin, err := wireShape(f)
	if err != nil {
		return nil, &FrameEncodeError{Reason: err}
	}
	payload := f.Payload
	if f.Kind == KindClose {
		payload = closeFramePayload(f)
	}
	header := frameHeader(fin, opcode, false, uint64(len(payload)))
	return append(header, payload...), nil
}
