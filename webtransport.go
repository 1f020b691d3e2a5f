package h3chlo

// WebTransportSessionID identifies a WebTransport session by the stream ID
// of the CONNECT request that established it.
type WebTransportSessionID uint64

// SerializeWebTransportStreamFrameHeader writes the preface that precedes a
// WebTransport unidirectional or bidirectional stream's data: the
// WEBTRANSPORT_STREAM type varint followed by the session ID varint, with no
// length field — the remainder of the stream is raw session data, per
// RFC 9220 Section 4.
func SerializeWebTransportStreamFrameHeader(sessionID WebTransportSessionID) ([]byte, error) {
	total := VarIntLen(uint64(FrameTypeWebTransportStream)) + VarIntLen(uint64(sessionID))
	w := NewFrameWriter(total)
	if err := w.WriteVarInt(uint64(FrameTypeWebTransportStream)); err != nil {
		return nil, err
	}
	if err := w.WriteVarInt(uint64(sessionID)); err != nil {
		return nil, err
	}
	if w.Remaining() != 0 {
		return nil, ErrEncodeBug
	}
	return w.Bytes(), nil
}
