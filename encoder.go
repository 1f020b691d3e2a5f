package h3chlo

import (
	"errors"
	"sort"
)

// ErrEncodeBug is returned for encoder misuse that the original
// implementation treats as a QUIC_BUG: a condition the caller is expected
// never to trigger in correct code, as opposed to a malformed-input error.
var ErrEncodeBug = errors.New("h3chlo: encoder bug")

func writeFrameHeader(w *FrameWriter, length uint64, typ FrameType) error {
	if err := w.WriteVarInt(uint64(typ)); err != nil {
		return err
	}
	return w.WriteVarInt(length)
}

func frameHeaderLen(payloadLen uint64, typ FrameType) int {
	return VarIntLen(payloadLen) + VarIntLen(uint64(typ))
}

// DataFrameHeaderLen returns the length, in bytes, of the DATA frame header
// that would precede payloadLen bytes of frame payload. payloadLen must be
// nonzero.
func DataFrameHeaderLen(payloadLen uint64) int {
	return frameHeaderLen(payloadLen, FrameTypeData)
}

// SerializeDataFrameHeader writes a DATA frame header (type + length varints
// only; the payload itself is never copied). payloadLen must be nonzero.
func SerializeDataFrameHeader(payloadLen uint64) ([]byte, error) {
	if payloadLen == 0 {
		return nil, ErrEncodeBug
	}
	w := NewFrameWriter(DataFrameHeaderLen(payloadLen))
	if err := writeFrameHeader(w, payloadLen, FrameTypeData); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

// SerializeHeadersFrameHeader writes a HEADERS frame header. payloadLen must
// be nonzero.
func SerializeHeadersFrameHeader(payloadLen uint64) ([]byte, error) {
	if payloadLen == 0 {
		return nil, ErrEncodeBug
	}
	w := NewFrameWriter(frameHeaderLen(payloadLen, FrameTypeHeaders))
	if err := writeFrameHeader(w, payloadLen, FrameTypeHeaders); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

// SerializeSettingsFrame writes a complete SETTINGS frame. Settings are
// serialized in ascending order by (identifier, value) regardless of the
// map's iteration order, producing a canonical wire encoding.
func SerializeSettingsFrame(f *SettingsFrame) ([]byte, error) {
	type pair struct{ id, val uint64 }
	ordered := make([]pair, 0, len(f.Values))
	for id, val := range f.Values {
		ordered = append(ordered, pair{id, val})
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].id != ordered[j].id {
			return ordered[i].id < ordered[j].id
		}
		return ordered[i].val < ordered[j].val
	})

	var payloadLen uint64
	for _, p := range ordered {
		payloadLen += uint64(VarIntLen(p.id) + VarIntLen(p.val))
	}

	total := frameHeaderLen(payloadLen, FrameTypeSettings) + int(payloadLen)
	w := NewFrameWriter(total)
	if err := writeFrameHeader(w, payloadLen, FrameTypeSettings); err != nil {
		return nil, err
	}
	for _, p := range ordered {
		if err := w.WriteVarInt(p.id); err != nil {
			return nil, err
		}
		if err := w.WriteVarInt(p.val); err != nil {
			return nil, err
		}
	}
	return w.Bytes(), nil
}

// SerializeGoAwayFrame writes a complete GOAWAY frame.
func SerializeGoAwayFrame(f *GoAwayFrame) ([]byte, error) {
	payloadLen := uint64(VarIntLen(f.ID))
	total := frameHeaderLen(payloadLen, FrameTypeGoAway) + int(payloadLen)
	w := NewFrameWriter(total)
	if err := writeFrameHeader(w, payloadLen, FrameTypeGoAway); err != nil {
		return nil, err
	}
	if err := w.WriteVarInt(f.ID); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

// SerializePriorityUpdateFrame writes a PRIORITY_UPDATE frame for a request
// stream. PRIORITY_UPDATE for push streams is not implemented upstream
// either; it returns (nil, ErrEncodeBug) rather than emit an empty frame.
func SerializePriorityUpdateFrame(f *PriorityUpdateFrame) ([]byte, error) {
	if f.PrioritizedElementType != RequestStream {
		return nil, ErrEncodeBug
	}

	payloadLen := uint64(VarIntLen(f.PrioritizedElementID) + len(f.PriorityFieldValue))
	total := frameHeaderLen(payloadLen, FrameTypePriorityUpdateRequestStream) + int(payloadLen)
	w := NewFrameWriter(total)
	if err := writeFrameHeader(w, payloadLen, FrameTypePriorityUpdateRequestStream); err != nil {
		return nil, err
	}
	if err := w.WriteVarInt(f.PrioritizedElementID); err != nil {
		return nil, err
	}
	if err := w.WriteBytes(f.PriorityFieldValue); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

// SerializeAcceptChFrame writes a complete ACCEPT_CH frame.
func SerializeAcceptChFrame(f *AcceptChFrame) ([]byte, error) {
	var payloadLen uint64
	for _, e := range f.Entries {
		payloadLen += uint64(VarIntLen(uint64(len(e.Origin))) + len(e.Origin))
		payloadLen += uint64(VarIntLen(uint64(len(e.Value))) + len(e.Value))
	}

	total := frameHeaderLen(payloadLen, FrameTypeAcceptCh) + int(payloadLen)
	w := NewFrameWriter(total)
	if err := writeFrameHeader(w, payloadLen, FrameTypeAcceptCh); err != nil {
		return nil, err
	}
	for _, e := range f.Entries {
		if err := w.WriteStringVarInt(e.Origin); err != nil {
			return nil, err
		}
		if err := w.WriteStringVarInt(e.Value); err != nil {
			return nil, err
		}
	}
	return w.Bytes(), nil
}
