package h3chlo

// FrameType identifies an HTTP/3 frame per RFC 9114 Section 7.2.
type FrameType uint64

const (
	FrameTypeData                       FrameType = 0x0
	FrameTypeHeaders                    FrameType = 0x1
	FrameTypeCancelPush                 FrameType = 0x3
	FrameTypeSettings                   FrameType = 0x4
	FrameTypePushPromise                FrameType = 0x5
	FrameTypeGoAway                     FrameType = 0x7
	FrameTypeMaxPushID                  FrameType = 0xd
	FrameTypeAcceptCh                   FrameType = 0x89
	FrameTypeWebTransportStream         FrameType = 0x41
	FrameTypeCapsule                    FrameType = 0xff
	FrameTypePriorityUpdateRequestStream FrameType = 0xf0700
)

// SETTINGS identifiers this module is aware of; unrecognized identifiers are
// preserved verbatim since SETTINGS is an open registry (RFC 9114 Section 7.2.4.1).
const (
	SettingsQpackMaxTableCapacity uint64 = 0x1
	SettingsMaxFieldSectionSize   uint64 = 0x6
	SettingsQpackBlockedStreams   uint64 = 0x7
	SettingsEnableConnectProtocol uint64 = 0x8
	SettingsH3Datagram            uint64 = 0x33
)

// SettingsFrame carries an unordered set of (identifier, value) pairs which
// must be serialized in ascending order by identifier, then by value, to
// produce a canonical wire encoding (RFC 9114 Section 7.2.4).
type SettingsFrame struct {
	Values map[uint64]uint64
}

// GoAwayFrame signals the highest stream or push ID the sender will process.
type GoAwayFrame struct {
	ID uint64
}

// PrioritizedElementType distinguishes a PRIORITY_UPDATE's target, per the
// now-deprecated extensible-priorities draft this code still honors for
// REQUEST_STREAM only.
type PrioritizedElementType int

const (
	RequestStream PrioritizedElementType = iota
	PushStream
)

// PriorityUpdateFrame carries an opaque priority_field_value; this module
// performs no validation of its contents and the caller is responsible for
// producing a value that conforms to the structured-field priority syntax.
type PriorityUpdateFrame struct {
	PrioritizedElementType PrioritizedElementType
	PrioritizedElementID   uint64
	PriorityFieldValue     []byte
}

// AcceptChEntry is a single (origin, value) pair of an ACCEPT_CH frame.
type AcceptChEntry struct {
	Origin string
	Value  string
}

// AcceptChFrame lists a server's opted-in Client Hint origins.
type AcceptChFrame struct {
	Entries []AcceptChEntry
}

// CapsuleType identifies the inner capsule of a CAPSULE frame (RFC 9297).
type CapsuleType uint64

const (
	CapsuleTypeRegisterDatagramContext   CapsuleType = 0xff37a0
	CapsuleTypeCloseDatagramContext      CapsuleType = 0xff37a1
	CapsuleTypeDatagram                  CapsuleType = 0xff37a5
	CapsuleTypeRegisterDatagramNoContext CapsuleType = 0xff37a6
)

// RegisterDatagramContextCapsule assigns context_id to a particular use of
// HTTP Datagrams on the stream carrying the capsule.
type RegisterDatagramContextCapsule struct {
	ContextID         uint64
	ContextExtensions []byte
}

// CloseDatagramContextCapsule retires a previously registered context.
type CloseDatagramContextCapsule struct {
	ContextID         uint64
	ContextExtensions []byte
}

// DatagramCapsule carries an HTTP Datagram payload, optionally scoped to a
// registered context.
type DatagramCapsule struct {
	HasContextID bool
	ContextID    uint64
	Payload      []byte
}

// RegisterDatagramNoContextCapsule declares that the stream will use HTTP
// Datagrams without ever registering an explicit context.
type RegisterDatagramNoContextCapsule struct {
	ContextExtensions []byte
}

// UnknownCapsule preserves an unrecognized capsule's body verbatim.
type UnknownCapsule struct {
	Data []byte
}

// CapsuleFrame is the (type, body) pair carried by a CAPSULE frame. Exactly
// one of the typed fields is meaningful, selected by Type; any capsule type
// not in the four known constants is treated as Unknown.
type CapsuleFrame struct {
	Type CapsuleType

	RegisterDatagramContext   *RegisterDatagramContextCapsule
	CloseDatagramContext      *CloseDatagramContextCapsule
	Datagram                  *DatagramCapsule
	RegisterDatagramNoContext *RegisterDatagramNoContextCapsule
	Unknown                   *UnknownCapsule
}
