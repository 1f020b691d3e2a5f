package h3chlo

import "errors"

// ErrShortBuffer is returned when a FrameWriter cannot accommodate a write
// within its fixed capacity.
var ErrShortBuffer = errors.New("h3chlo: short buffer")

// FrameWriter is a bounded, append-only byte buffer sized up front to the
// exact length of the frame being serialized, mirroring the two-pass
// "compute length, then write" discipline used throughout the encoder: every
// Serialize* function first computes a total length and allocates a buffer
// of exactly that size, then writes into it with a FrameWriter, so a short
// write is a programming bug rather than a runtime possibility.
type FrameWriter struct {
	buf []byte
}

// NewFrameWriter allocates a FrameWriter with capacity exactly n bytes.
func NewFrameWriter(n int) *FrameWriter {
	return &FrameWriter{buf: make([]byte, 0, n)}
}

// WriteVarInt appends the minimal-length encoding of v.
func (w *FrameWriter) WriteVarInt(v uint64) error {
	if VarIntLen(v) > w.Remaining() {
		return ErrShortBuffer
	}
	b, err := AppendVarInt(w.buf, v)
	if err != nil {
		return err
	}
	w.buf = b
	return nil
}

// WriteBytes appends p verbatim.
func (w *FrameWriter) WriteBytes(p []byte) error {
	if len(p) > w.Remaining() {
		return ErrShortBuffer
	}
	w.buf = append(w.buf, p...)
	return nil
}

// WriteStringVarInt writes s prefixed by its length as a varint, the
// equivalent of QuicDataWriter::WriteStringPieceVarInt62.
func (w *FrameWriter) WriteStringVarInt(s string) error {
	if err := w.WriteVarInt(uint64(len(s))); err != nil {
		return err
	}
	return w.WriteBytes([]byte(s))
}

// Len returns the number of bytes written so far.
func (w *FrameWriter) Len() int { return len(w.buf) }

// Capacity returns the fixed capacity the writer was constructed with.
func (w *FrameWriter) Capacity() int { return cap(w.buf) }

// Remaining returns the number of bytes still available before the writer's
// capacity is exhausted.
func (w *FrameWriter) Remaining() int { return cap(w.buf) - len(w.buf) }

// Bytes returns the bytes written so far. The caller must not retain it
// across further writes to w.
func (w *FrameWriter) Bytes() []byte { return w.buf }
