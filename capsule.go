package h3chlo

// capsuleBodyLen returns the length of a capsule's body, i.e. everything
// following the capsule type varint, for each known variant.
func capsuleBodyLen(f *CapsuleFrame) int {
	switch f.Type {
	case CapsuleTypeRegisterDatagramContext:
		c := f.RegisterDatagramContext
		return VarIntLen(c.ContextID) + len(c.ContextExtensions)
	case CapsuleTypeCloseDatagramContext:
		c := f.CloseDatagramContext
		return VarIntLen(c.ContextID) + len(c.ContextExtensions)
	case CapsuleTypeDatagram:
		c := f.Datagram
		n := len(c.Payload)
		if c.HasContextID {
			n += VarIntLen(c.ContextID)
		}
		return n
	case CapsuleTypeRegisterDatagramNoContext:
		return len(f.RegisterDatagramNoContext.ContextExtensions)
	default:
		return len(f.Unknown.Data)
	}
}

func writeCapsuleBody(w *FrameWriter, f *CapsuleFrame) error {
	switch f.Type {
	case CapsuleTypeRegisterDatagramContext:
		c := f.RegisterDatagramContext
		if err := w.WriteVarInt(c.ContextID); err != nil {
			return err
		}
		return w.WriteBytes(c.ContextExtensions)
	case CapsuleTypeCloseDatagramContext:
		c := f.CloseDatagramContext
		if err := w.WriteVarInt(c.ContextID); err != nil {
			return err
		}
		return w.WriteBytes(c.ContextExtensions)
	case CapsuleTypeDatagram:
		c := f.Datagram
		if c.HasContextID {
			if err := w.WriteVarInt(c.ContextID); err != nil {
				return err
			}
		}
		return w.WriteBytes(c.Payload)
	case CapsuleTypeRegisterDatagramNoContext:
		return w.WriteBytes(f.RegisterDatagramNoContext.ContextExtensions)
	default:
		return w.WriteBytes(f.Unknown.Data)
	}
}

// SerializeCapsuleFrame writes a complete CAPSULE frame (RFC 9297 Section
// 3.1): an outer HTTP/3 frame of type CAPSULE whose payload is
// (capsule type varint, capsule body), where the capsule body's shape is
// selected by f.Type. A capsule type outside the four known constants is
// treated as f.Unknown and its body is copied verbatim.
func SerializeCapsuleFrame(f *CapsuleFrame) ([]byte, error) {
	capsuleTypeLen := VarIntLen(uint64(f.Type))
	capsuleDataLen := capsuleBodyLen(f)

	frameLengthFieldValue := uint64(capsuleTypeLen + capsuleDataLen)
	total := VarIntLen(uint64(FrameTypeCapsule)) + VarIntLen(frameLengthFieldValue) +
		capsuleTypeLen + capsuleDataLen

	w := NewFrameWriter(total)
	if err := w.WriteVarInt(uint64(FrameTypeCapsule)); err != nil {
		return nil, ErrEncodeBug
	}
	if err := w.WriteVarInt(frameLengthFieldValue); err != nil {
		return nil, ErrEncodeBug
	}
	if err := w.WriteVarInt(uint64(f.Type)); err != nil {
		return nil, ErrEncodeBug
	}
	if err := writeCapsuleBody(w, f); err != nil {
		return nil, ErrEncodeBug
	}
	if w.Remaining() != 0 {
		return nil, ErrEncodeBug
	}
	return w.Bytes(), nil
}
