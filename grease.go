package h3chlo

import (
	"crypto/rand"
	"encoding/binary"
)

// EnableHTTP3GreaseRandomness selects between the two greasing modes
// described by RFC 9114 Section 7.2.8: when false (the default), grease
// frames are emitted deterministically (type 0x40, one-byte payload "a"),
// useful for byte-exact testing; when true, the frame type and payload are
// drawn from a CSPRNG on every call. This is a process-wide switch, not a
// per-call parameter, mirroring the original's command-line flag.
var EnableHTTP3GreaseRandomness = false

// SerializeGreasingFrame writes a single HTTP/3 GREASE frame, per
// EnableHTTP3GreaseRandomness's current value.
func SerializeGreasingFrame() ([]byte, error) {
	var frameType uint64
	var payload []byte

	if !EnableHTTP3GreaseRandomness {
		frameType = 0x40
		payload = []byte("a")
	} else {
		var buf [4]byte
		if _, err := rand.Read(buf[:]); err != nil {
			return nil, err
		}
		result := binary.LittleEndian.Uint32(buf[:])
		frameType = 0x1f*uint64(result) + 0x21

		payloadLen := int(result % 4)
		if payloadLen > 0 {
			payload = make([]byte, payloadLen)
			if _, err := rand.Read(payload); err != nil {
				return nil, err
			}
		}
	}

	total := VarIntLen(frameType) + VarIntLen(uint64(len(payload))) + len(payload)
	w := NewFrameWriter(total)
	if err := w.WriteVarInt(frameType); err != nil {
		return nil, err
	}
	if err := w.WriteVarInt(uint64(len(payload))); err != nil {
		return nil, err
	}
	if len(payload) > 0 {
		if err := w.WriteBytes(payload); err != nil {
			return nil, err
		}
	}
	return w.Bytes(), nil
}
