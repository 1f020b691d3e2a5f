package h3chlo

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"errors"

	"golang.org/x/crypto/cryptobyte"
	"golang.org/x/crypto/hkdf"
)

// initialSalt is the version-specific salt RFC 9001 Section 5.2 mixes into
// the Initial secret derivation; this is the salt for QUIC version 1.
var initialSalt = []byte{
	0x38, 0x76, 0x2c, 0xf7,
	0xf5, 0x59, 0x34, 0xb3,
	0x4d, 0x17, 0x9a, 0xe6,
	0xa4, 0xc8, 0x0c, 0xad,
	0xcc, 0xbb, 0x7f, 0x0a,
}

// deriveClientInitialKeys derives the client's Initial packet protection key,
// IV, and header-protection key from the Destination Connection ID chosen by
// the client for its first Initial packet (RFC 9001 Section 5.2).
func deriveClientInitialKeys(dcid []byte) (key, iv, hpKey []byte, err error) {
	initialSecret := hkdf.Extract(sha256.New, dcid, initialSalt)

	clientSecret, err := hkdfExpandLabel(initialSecret, "client in", nil, 32)
	if err != nil {
		return nil, nil, nil, err
	}
	key, err = hkdfExpandLabel(clientSecret, "quic key", nil, 16)
	if err != nil {
		return nil, nil, nil, err
	}
	iv, err = hkdfExpandLabel(clientSecret, "quic iv", nil, 12)
	if err != nil {
		return nil, nil, nil, err
	}
	hpKey, err = hkdfExpandLabel(clientSecret, "quic hp", nil, 16)
	if err != nil {
		return nil, nil, nil, err
	}
	return
}

// hkdfExpandLabel implements the TLS 1.3 HKDF-Expand-Label construction
// (RFC 8446 Section 7.1), reused as-is by QUIC's key schedule.
func hkdfExpandLabel(key []byte, label string, context []byte, length uint16) ([]byte, error) {
	var hkdfLabel cryptobyte.Builder
	hkdfLabel.AddUint16(length)
	hkdfLabel.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) {
		b.AddBytes([]byte("tls13 "))
		b.AddBytes([]byte(label))
	})
	hkdfLabel.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) {
		b.AddBytes(context)
	})
	hkdfLabelBytes, err := hkdfLabel.Bytes()
	if err != nil {
		return nil, err
	}

	r := hkdf.Expand(sha256.New, key, hkdfLabelBytes)
	out := make([]byte, length)
	n, err := r.Read(out)
	if err != nil {
		return nil, err
	}
	if n != int(length) {
		return nil, errors.New("h3chlo: short HKDF-Expand-Label read")
	}
	return out, nil
}

// computeHeaderProtectionMask computes the 5-byte header protection mask for
// the "aes_ecb" header protection algorithm associated with AES-128-based
// Initial packet protection (RFC 9001 Section 5.4.3).
func computeHeaderProtectionMask(hpKey, sample []byte) ([]byte, error) {
	if len(hpKey) != 16 || len(sample) != 16 {
		return nil, errors.New("h3chlo: invalid header protection input length")
	}

	block, err := aes.NewCipher(hpKey)
	if err != nil {
		return nil, err
	}

	mask := make([]byte, 16)
	block.Encrypt(mask, sample)
	return mask[:5], nil
}

// decryptAES128GCM decrypts an AEAD-protected Initial packet payload. iv is
// the client Initial IV; the nonce is built from a copy of it with the
// packet number XORed into its final 8 bytes per RFC 9001 Section 5.3, and
// iv itself is left unchanged. recdata is the associated data (every header
// byte preceding the ciphertext).
func decryptAES128GCM(iv []byte, packetNumber uint64, key, ciphertext, recdata, authTag []byte) ([]byte, error) {
	nonce := make([]byte, len(iv))
	copy(nonce, iv)
	xorPacketNumberIntoNonce(nonce, packetNumber)

	if len(nonce) != 12 || len(key) != 16 || len(authTag) != 16 {
		return nil, errors.New("h3chlo: invalid AEAD input length")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	return aesgcm.Open(nil, nonce, append(ciphertext, authTag...), recdata)
}

// xorPacketNumberIntoNonce XORs the packet number into the low 8 bytes of
// the IV to build the per-packet AEAD nonce, per RFC 9001 Section 5.3.
func xorPacketNumberIntoNonce(iv []byte, packetNumber uint64) {
	for i := 0; i < 8; i++ {
		iv[len(iv)-1-i] ^= byte((packetNumber >> (i * 8)) & 0xff)
	}
}
