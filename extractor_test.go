package h3chlo

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/fisherboys/h3chlo/internal/tlsengine"
)

// buildTestClientHello hand-assembles a minimal TLS 1.3 ClientHello
// handshake message carrying a single application_layer_protocol_negotiation
// extension listing protos, in wire order, for use as a tlsengine.Callbacks
// fixture without needing a real handshake.
func buildTestClientHello(t *testing.T, protos []string) []byte {
	t.Helper()

	var protocolList []byte
	for _, p := range protos {
		protocolList = append(protocolList, byte(len(p)))
		protocolList = append(protocolList, []byte(p)...)
	}

	var alpnExtData []byte
	alpnExtData = append(alpnExtData, byte(len(protocolList)>>8), byte(len(protocolList)))
	alpnExtData = append(alpnExtData, protocolList...)

	var extensions []byte
	extensions = append(extensions, 0x00, 0x10) // extension type 16: ALPN
	extensions = append(extensions, byte(len(alpnExtData)>>8), byte(len(alpnExtData)))
	extensions = append(extensions, alpnExtData...)

	var body []byte
	body = append(body, 0x03, 0x03)       // legacy_version
	body = append(body, make([]byte, 32)...) // random
	body = append(body, 0x00)             // session_id length = 0
	body = append(body, 0x00, 0x02, 0x13, 0x01) // cipher_suites: len=2, TLS_AES_128_GCM_SHA256
	body = append(body, 0x01, 0x00)       // compression_methods: len=1, null
	body = append(body, byte(len(extensions)>>8), byte(len(extensions)))
	body = append(body, extensions...)

	var msg []byte
	msg = append(msg, 0x01) // ClientHello
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))
	msg = append(msg, lenBuf[1:]...) // uint24 length
	msg = append(msg, body...)
	return msg
}

func TestParseALPNProtocolsFromClientHello(t *testing.T) {
	chlo := buildTestClientHello(t, []string{"h3", "h3-29"})
	got, err := parseALPNProtocolsFromClientHello(chlo)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 || got[0] != "h3" || got[1] != "h3-29" {
		t.Fatalf("got %v, want [h3 h3-29]", got)
	}
}

func TestParseALPNProtocolsFromClientHelloNoExtensions(t *testing.T) {
	// A ClientHello with no extensions block at all: nothing past
	// compression_methods.
	body := []byte{0x03, 0x03}
	body = append(body, make([]byte, 32)...)
	body = append(body, 0x00)
	body = append(body, 0x00, 0x02, 0x13, 0x01)
	body = append(body, 0x01, 0x00)

	var msg []byte
	msg = append(msg, 0x01)
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))
	msg = append(msg, lenBuf[1:]...)
	msg = append(msg, body...)

	got, err := parseALPNProtocolsFromClientHello(msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Fatalf("got %v, want nil", got)
	}
}

func TestExtractorSinglePacketChlo(t *testing.T) {
	e := newTlsChloExtractorWithEngine(nil)
	e.packetsSeen = 1

	chlo := buildTestClientHello(t, []string{"h3"})
	if err := e.OnSelectCertificate(tlsengine.ClientHelloInfo{
		ServerName: "example.com",
		Raw:        chlo,
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if e.State() != StateParsedFullSinglePacketChlo {
		t.Errorf("state = %v, want StateParsedFullSinglePacketChlo", e.State())
	}
	if e.ServerName() != "example.com" {
		t.Errorf("ServerName() = %q, want %q", e.ServerName(), "example.com")
	}
	if len(e.ALPNs()) != 1 || e.ALPNs()[0] != "h3" {
		t.Errorf("ALPNs() = %v, want [h3]", e.ALPNs())
	}
	if !e.HasParsedFullChlo() {
		t.Error("HasParsedFullChlo() = false, want true")
	}
}

func TestExtractorMultiPacketChlo(t *testing.T) {
	e := newTlsChloExtractorWithEngine(nil)
	e.packetsSeen = 3
	e.state = StateParsedPartialChloFragment

	chlo := buildTestClientHello(t, []string{"h3"})
	if err := e.OnSelectCertificate(tlsengine.ClientHelloInfo{
		ServerName: "multi.example.com",
		Raw:        chlo,
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if e.State() != StateParsedFullMultiPacketChlo {
		t.Errorf("state = %v, want StateParsedFullMultiPacketChlo", e.State())
	}
}

func TestExtractorUnexpectedWriteSecretCallback(t *testing.T) {
	e := newTlsChloExtractorWithEngine(nil)
	err := e.OnSetWriteSecret(tlsengine.LevelHandshake, 0x1301, []byte{0x01, 0x02})
	if err == nil {
		t.Fatal("expected an error for an unexpected OnSetWriteSecret callback")
	}
	if !errors.Is(err, ErrUnexpectedTlsCallback) {
		t.Errorf("error %v does not wrap ErrUnexpectedTlsCallback", err)
	}
}

func TestExtractorUnexpectedFlushFlightCallback(t *testing.T) {
	e := newTlsChloExtractorWithEngine(nil)
	if err := e.OnFlushFlight(); !errors.Is(err, ErrUnexpectedTlsCallback) {
		t.Errorf("error %v does not wrap ErrUnexpectedTlsCallback", err)
	}
}

func TestExtractorFailureSuppressedAfterFullChlo(t *testing.T) {
	e := newTlsChloExtractorWithEngine(nil)
	e.packetsSeen = 1
	chlo := buildTestClientHello(t, []string{"h3"})
	if err := e.OnSelectCertificate(tlsengine.ClientHelloInfo{Raw: chlo}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := e.fail("a spurious later failure"); err != nil {
		t.Errorf("expected failures to be suppressed once a full CHLO is parsed, got %v", err)
	}
	if e.State() != StateParsedFullSinglePacketChlo {
		t.Errorf("state changed after a suppressed failure: %v", e.State())
	}
}

func TestExtractorIngestPacketIgnoresNonInitialPackets(t *testing.T) {
	e := newTlsChloExtractorWithEngine(nil)
	p := make([]byte, 30)
	p[0] = 0x40 // short header form
	if err := e.IngestPacket(p); err != ErrPacketIgnored {
		t.Fatalf("got %v, want ErrPacketIgnored", err)
	}
	if e.State() != StateInitial {
		t.Errorf("state changed on an ignored packet: %v", e.State())
	}
}

// buildUndecryptableInitialPacket assembles a structurally well-formed QUIC
// Initial packet (correct header form/type, correctly length-prefixed
// connection IDs and token, a payload long enough to carry a sample and an
// AEAD tag) whose payload is not real AEAD-protected ciphertext. It always
// fails AEAD decryption, simulating a stray or wrong-DCID datagram.
func buildUndecryptableInitialPacket(t *testing.T) []byte {
	t.Helper()

	var p []byte
	p = append(p, 0xc0)                   // long header, fixed bit, Initial type
	p = append(p, 0x00, 0x00, 0x00, 0x01) // version

	dcid := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}
	p = append(p, byte(len(dcid)))
	p = append(p, dcid...)

	p = append(p, 0x00) // SCID length = 0

	var err error
	p, err = AppendVarInt(p, 0) // token length = 0
	if err != nil {
		t.Fatalf("AppendVarInt(token length): %v", err)
	}

	payload := make([]byte, 24) // packet number + garbage ciphertext + 16-byte tag
	for i := range payload {
		payload[i] = byte(i + 1)
	}
	p, err = AppendVarInt(p, uint64(len(payload)))
	if err != nil {
		t.Fatalf("AppendVarInt(payload length): %v", err)
	}
	p = append(p, payload...)

	return p
}

func TestExtractorIngestPacketIgnoresUndecryptableInitialPacket(t *testing.T) {
	e := newTlsChloExtractorWithEngine(nil)
	raw := buildUndecryptableInitialPacket(t)
	if err := e.IngestPacket(raw); err != ErrPacketIgnored {
		t.Fatalf("got %v, want ErrPacketIgnored", err)
	}
	if e.State() != StateInitial {
		t.Errorf("state changed on an undecryptable packet: %v", e.State())
	}
}
