package h3chlo

import (
	"bytes"
	"testing"
)

func TestSerializeDataFrameHeader(t *testing.T) {
	got, err := SerializeDataFrameHeader(5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []byte{0x00, 0x05}
	if !bytes.Equal(got, want) {
		t.Errorf("got % x, want % x", got, want)
	}
}

func TestSerializeDataFrameHeaderRejectsZeroLength(t *testing.T) {
	if _, err := SerializeDataFrameHeader(0); err != ErrEncodeBug {
		t.Fatalf("expected ErrEncodeBug, got %v", err)
	}
}

func TestSerializeSettingsFrameCanonicalOrder(t *testing.T) {
	f := &SettingsFrame{Values: map[uint64]uint64{
		0x6: 0x2,
		0x1: 0x4,
	}}
	got, err := SerializeSettingsFrame(f)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// type(0x04) length(0x04) id=1 val=4 id=6 val=2, ascending by id
	// regardless of map iteration order.
	want := []byte{0x04, 0x04, 0x01, 0x04, 0x06, 0x02}
	if !bytes.Equal(got, want) {
		t.Errorf("got % x, want % x", got, want)
	}
}

func TestSerializeGoAwayFrame(t *testing.T) {
	got, err := SerializeGoAwayFrame(&GoAwayFrame{ID: 0x1234})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []byte{0x07, 0x02, 0x52, 0x34}
	if !bytes.Equal(got, want) {
		t.Errorf("got % x, want % x", got, want)
	}
}

func TestSerializePriorityUpdateFrameRejectsPushStream(t *testing.T) {
	f := &PriorityUpdateFrame{
		PrioritizedElementType: PushStream,
		PrioritizedElementID:   1,
	}
	if _, err := SerializePriorityUpdateFrame(f); err != ErrEncodeBug {
		t.Fatalf("expected ErrEncodeBug, got %v", err)
	}
}

func TestSerializePriorityUpdateFrameRequestStream(t *testing.T) {
	f := &PriorityUpdateFrame{
		PrioritizedElementType: RequestStream,
		PrioritizedElementID:   4,
		PriorityFieldValue:     []byte("u=1"),
	}
	got, err := SerializePriorityUpdateFrame(f)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// type varint for 0xf0700 is 4 bytes; payload = varint(4) + "u=1" (3 bytes) = 4 bytes.
	wantTypeBytes, _ := AppendVarInt(nil, uint64(FrameTypePriorityUpdateRequestStream))
	if !bytes.HasPrefix(got, wantTypeBytes) {
		t.Errorf("frame does not start with expected type varint: % x", got)
	}
	if !bytes.HasSuffix(got, []byte{0x04, 'u', '=', '1'}) {
		t.Errorf("frame does not end with expected payload: % x", got)
	}
}

func TestSerializeAcceptChFrame(t *testing.T) {
	f := &AcceptChFrame{Entries: []AcceptChEntry{
		{Origin: "https://example.com", Value: "Sec-CH-UA"},
	}}
	got, err := SerializeAcceptChFrame(f)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) == 0 {
		t.Fatal("expected non-empty frame")
	}
	gotType, _, err := ReadNextVLI(bytes.NewReader(got))
	if err != nil {
		t.Fatalf("failed to decode leading type varint: %v", err)
	}
	if gotType != uint64(FrameTypeAcceptCh) {
		t.Errorf("unexpected frame type: 0x%x", gotType)
	}
}

func TestSerializeGreasingFrameDeterministic(t *testing.T) {
	orig := EnableHTTP3GreaseRandomness
	EnableHTTP3GreaseRandomness = false
	defer func() { EnableHTTP3GreaseRandomness = orig }()

	got, err := SerializeGreasingFrame()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []byte{0x40, 0x40, 0x01, 0x61}
	if !bytes.Equal(got, want) {
		t.Errorf("got % x, want % x", got, want)
	}
}

func TestSerializeGreasingFrameRandomizedShape(t *testing.T) {
	orig := EnableHTTP3GreaseRandomness
	EnableHTTP3GreaseRandomness = true
	defer func() { EnableHTTP3GreaseRandomness = orig }()

	got, err := SerializeGreasingFrame()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) < 2 {
		t.Fatalf("randomized grease frame too short: % x", got)
	}
}

func TestSerializeWebTransportStreamFrameHeader(t *testing.T) {
	got, err := SerializeWebTransportStreamFrameHeader(0x4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// WEBTRANSPORT_STREAM's type value 0x41 (65) exceeds the 1-byte varint
	// range (0-63), so it is itself encoded as a 2-byte varint: 0x40 0x41.
	want := []byte{0x40, 0x41, 0x04}
	if !bytes.Equal(got, want) {
		t.Errorf("got % x, want % x", got, want)
	}
}
