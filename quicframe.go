package h3chlo

import (
	"fmt"

	"golang.org/x/crypto/cryptobyte"
)

// QUICFrameType identifies the frame types this module needs to recognize
// inside a decrypted Initial packet payload (RFC 9000 Section 19). Frame
// types outside this narrow set never appear at the Initial encryption
// level in a conformant handshake and are treated as decode errors.
type QUICFrameType uint64

const (
	QUICFramePADDING QUICFrameType = 0x00
	QUICFramePING    QUICFrameType = 0x01
	QUICFrameCRYPTO  QUICFrameType = 0x06
)

// QUICFrame is a single frame decoded from an Initial packet's plaintext
// payload.
type QUICFrame struct {
	Type QUICFrameType

	// Set only for CRYPTO frames.
	CryptoOffset uint64
	CryptoData   []byte
}

// ReadAllQUICFrames walks the decrypted payload of a QUIC Initial packet and
// decodes every frame it contains, in order. PADDING runs are coalesced into
// a single PADDING frame whose length is implicit (all trailing zero bytes).
func ReadAllQUICFrames(payload []byte) ([]QUICFrame, error) {
	s := cryptobyte.String(payload)
	var frames []QUICFrame

	for !s.Empty() {
		frameType, ok := readVarIntCryptobyte(&s)
		if !ok {
			return nil, fmt.Errorf("h3chlo: truncated frame type")
		}

		switch QUICFrameType(frameType) {
		case QUICFramePADDING:
			for !s.Empty() {
				var b byte
				peek := s
				if !peek.ReadUint8(&b) || b != 0x00 {
					break
				}
				s.ReadUint8(&b)
			}
			frames = append(frames, QUICFrame{Type: QUICFramePADDING})
		case QUICFramePING:
			frames = append(frames, QUICFrame{Type: QUICFramePING})
		case QUICFrameCRYPTO:
			offset, ok := readVarIntCryptobyte(&s)
			if !ok {
				return nil, fmt.Errorf("h3chlo: truncated CRYPTO frame offset")
			}
			length, ok := readVarIntCryptobyte(&s)
			if !ok {
				return nil, fmt.Errorf("h3chlo: truncated CRYPTO frame length")
			}
			data := make([]byte, length)
			if !s.ReadBytes(&data, int(length)) {
				return nil, fmt.Errorf("h3chlo: truncated CRYPTO frame data")
			}
			frames = append(frames, QUICFrame{
				Type:         QUICFrameCRYPTO,
				CryptoOffset: offset,
				CryptoData:   data,
			})
		default:
			return nil, fmt.Errorf("h3chlo: unexpected frame type at Initial encryption level: 0x%x", frameType)
		}
	}

	return frames, nil
}

// readVarIntCryptobyte reads one QUIC variable-length integer from the front
// of s, advancing the cursor past it.
func readVarIntCryptobyte(s *cryptobyte.String) (uint64, bool) {
	if s.Empty() {
		return 0, false
	}
	first := (*s)[0]
	var n int
	switch first & 0xc0 {
	case 0x00:
		n = 1
	case 0x40:
		n = 2
	case 0x80:
		n = 4
	case 0xc0:
		n = 8
	}
	if len(*s) < n {
		return 0, false
	}
	raw := make([]byte, n)
	if !s.ReadBytes(&raw, n) {
		return 0, false
	}
	raw[0] &= 0x3f
	var val uint64
	for _, b := range raw {
		val = val<<8 | uint64(b)
	}
	return val, true
}
