package h3chlo

import (
	"errors"

	"golang.org/x/crypto/cryptobyte"
)

var (
	ErrNotQUICLongHeaderFormat = errors.New("h3chlo: packet is not in QUIC long header format")
	ErrNotQUICInitialPacket    = errors.New("h3chlo: packet is not a QUIC Initial packet")
	ErrTruncatedInitialPacket  = errors.New("h3chlo: truncated QUIC Initial packet")
)

// QUICInitialPacket is a single decrypted QUIC Initial packet: its
// connection IDs, packet number, and the frames carried in its plaintext
// payload.
type QUICInitialPacket struct {
	DCID          []byte
	SCID          []byte
	Version       [4]byte
	PacketNumber  uint64
	PacketNumLen  int
	Frames        []QUICFrame
}

// DecodeQUICInitialPacket removes header protection and AEAD-decrypts a
// single QUIC Initial packet (RFC 9000 Section 17.2.2, RFC 9001 Section 5),
// then decodes the resulting plaintext into frames. p is one UDP datagram's
// payload, assumed to carry exactly one Initial packet with no coalesced
// packets following it.
func DecodeQUICInitialPacket(p []byte) (*QUICInitialPacket, error) {
	if len(p) < 7 {
		return nil, ErrTruncatedInitialPacket
	}

	recdata := make([]byte, len(p))
	copy(recdata, p)

	firstByteProtected := p[0]

	// Long header format: top bit set. Always-1 fixed bit: 2nd-highest bit set.
	if firstByteProtected&0xc0 != 0xc0 {
		return nil, ErrNotQUICLongHeaderFormat
	}
	// Initial packet type: bits 4-5 (counting from the LSB, mask 0x30) are 00 for Initial.
	if firstByteProtected&0x30 != 0 {
		return nil, ErrNotQUICInitialPacket
	}

	pkt := &QUICInitialPacket{}
	copy(pkt.Version[:], p[1:5])

	s := cryptobyte.String(p[5:])

	var dcid cryptobyte.String
	if !s.ReadUint8LengthPrefixed(&dcid) {
		return nil, ErrTruncatedInitialPacket
	}
	pkt.DCID = append([]byte(nil), dcid...)

	var scid cryptobyte.String
	if !s.ReadUint8LengthPrefixed(&scid) {
		return nil, ErrTruncatedInitialPacket
	}
	pkt.SCID = append([]byte(nil), scid...)

	tokenLen, ok := readVarIntCryptobyte(&s)
	if !ok {
		return nil, ErrTruncatedInitialPacket
	}
	var token cryptobyte.String
	if !s.ReadBytes((*[]byte)(&token), int(tokenLen)) {
		return nil, ErrTruncatedInitialPacket
	}

	packetLen, ok := readVarIntCryptobyte(&s)
	if !ok {
		return nil, ErrTruncatedInitialPacket
	}
	var payload []byte
	if !s.ReadBytes(&payload, int(packetLen)) {
		return nil, ErrTruncatedInitialPacket
	}
	if len(payload) < 20 {
		return nil, ErrTruncatedInitialPacket
	}

	clientKey, clientIV, clientHPKey, err := deriveClientInitialKeys(pkt.DCID)
	if err != nil {
		return nil, err
	}

	mask, err := computeHeaderProtectionMask(clientHPKey, payload[4:20])
	if err != nil {
		return nil, err
	}

	headerByte := firstByteProtected ^ (mask[0] & 0x0f) // only the low 4 bits are protected
	recdata = recdata[:len(recdata)-len(payload)]        // every header byte up to, not including, the packet number
	recdata[0] = headerByte

	pkt.PacketNumLen = int(headerByte&0x03) + 1
	pnBytes := payload[:pkt.PacketNumLen]
	var packetNumber uint64
	for i, b := range pnBytes {
		unprotected := b ^ mask[i+1]
		recdata = append(recdata, unprotected)
		packetNumber = packetNumber<<8 | uint64(unprotected)
	}
	pkt.PacketNumber = packetNumber

	if len(payload) < pkt.PacketNumLen+16 {
		return nil, ErrTruncatedInitialPacket
	}
	ciphertext := payload[pkt.PacketNumLen : len(payload)-16]
	authTag := payload[len(payload)-16:]

	plaintext, err := decryptAES128GCM(clientIV, packetNumber, clientKey, ciphertext, recdata, authTag)
	if err != nil {
		return nil, err
	}

	pkt.Frames, err = ReadAllQUICFrames(plaintext)
	if err != nil {
		return nil, err
	}

	return pkt, nil
}
