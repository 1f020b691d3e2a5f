// Package tlsengine adapts the standard library's crypto/tls QUIC
// integration surface (tls.QUICConn) to the narrow, six-upcall interface the
// original BoringSSL SSL_QUIC_METHOD table exposes to its caller. It knows
// nothing about HTTP/3, CRYPTO frame reassembly, or ClientHello byte layout
// — it only drives a TLS 1.3 handshake far enough to reach certificate
// selection and reports back through Callbacks.
package tlsengine

import (
	"context"
	"crypto/tls"
	"errors"
	"sync"
)

// Level mirrors the four QUIC encryption levels a TLS upcall can be made
// at (RFC 9001 Section 4).
type Level int

const (
	LevelInitial Level = iota
	LevelEarlyData
	LevelHandshake
	LevelApplication
)

func toStdLevel(l Level) tls.QUICEncryptionLevel {
	switch l {
	case LevelInitial:
		return tls.QUICEncryptionLevelInitial
	case LevelEarlyData:
		return tls.QUICEncryptionLevelEarly
	case LevelHandshake:
		return tls.QUICEncryptionLevelHandshake
	default:
		return tls.QUICEncryptionLevelApplication
	}
}

func fromStdLevel(l tls.QUICEncryptionLevel) Level {
	switch l {
	case tls.QUICEncryptionLevelInitial:
		return LevelInitial
	case tls.QUICEncryptionLevelEarly:
		return LevelEarlyData
	case tls.QUICEncryptionLevelHandshake:
		return LevelHandshake
	default:
		return LevelApplication
	}
}

// ClientHelloInfo is handed to Callbacks.OnSelectCertificate at the moment
// the TLS stack has a fully parsed ClientHello and is about to pick a
// certificate. Raw is the exact reassembled ClientHello handshake message
// (type + length + body) as it arrived over the CRYPTO stream, given to the
// caller so it can perform its own extension-level parsing independent of
// whatever the TLS stack decoded internally.
type ClientHelloInfo struct {
	ServerName string
	Raw        []byte
}

// Callbacks is the Go-native replacement for the SSL_QUIC_METHOD callback
// table: six upcalls a driving TLS handshake makes into its owner.
type Callbacks interface {
	OnSelectCertificate(chlo ClientHelloInfo) error
	OnSetReadSecret(level Level, suite uint16, secret []byte) error
	OnSetWriteSecret(level Level, suite uint16, secret []byte) error
	OnWriteMessage(level Level, data []byte) error
	OnFlushFlight() error
	OnSendAlert(level Level, alert uint8) error
}

// Engine drives one side of a QUIC-carried TLS handshake.
type Engine interface {
	// ProvideData delivers a contiguous run of handshake bytes received at
	// the given encryption level and drives the handshake state machine as
	// far forward as it will go, invoking Callbacks synchronously.
	ProvideData(level Level, data []byte) error
}

// errAbortAfterClientHello is returned by the certificate-selection hook
// installed on every Engine's *tls.Config to stop the handshake the instant
// a ClientHello has been parsed — this module never needs a certificate,
// and completing the handshake is explicitly out of scope.
var errAbortAfterClientHello = errors.New("tlsengine: handshake intentionally aborted after ClientHello")

// sharedBaseConfig is the process-wide, immutable *tls.Config skeleton every
// Engine clones from: TLS 1.3 only, no certificates, lazily constructed
// exactly once regardless of how many Engines are created concurrently.
var (
	sharedBaseConfigOnce sync.Once
	sharedBaseConfig     *tls.Config
)

func getSharedBaseConfig() *tls.Config {
	sharedBaseConfigOnce.Do(func() {
		sharedBaseConfig = &tls.Config{
			MinVersion: tls.VersionTLS13,
			MaxVersion: tls.VersionTLS13,
		}
	})
	return sharedBaseConfig
}

// cryptoEngine is the Engine implementation backed by crypto/tls's
// tls.QUICConn.
type cryptoEngine struct {
	cb      Callbacks
	conn    *tls.QUICConn
	lastRaw []byte // every Initial-level byte handed to ProvideData so far, in order
}

// NewServerEngine constructs an Engine that plays the server role of a
// QUIC-carried TLS 1.3 handshake far enough to observe the client's
// ClientHello, then aborts.
func NewServerEngine(cb Callbacks) (Engine, error) {
	cfg := getSharedBaseConfig().Clone()

	e := &cryptoEngine{cb: cb}
	cfg.GetCertificate = func(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
		if err := cb.OnSelectCertificate(ClientHelloInfo{
			ServerName: hello.ServerName,
			Raw:        e.lastRaw,
		}); err != nil {
			return nil, err
		}
		return nil, errAbortAfterClientHello
	}

	conn := tls.QUICServer(&tls.QUICConfig{TLSConfig: cfg})
	e.conn = conn

	if err := conn.Start(context.Background()); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *cryptoEngine) ProvideData(level Level, data []byte) error {
	if level == LevelInitial {
		// The caller only ever hands over newly-available bytes (it marks
		// each delivered run as consumed on its side), so this must
		// accumulate across calls to stay the full reassembled ClientHello
		// by the time GetCertificate fires, not just the last fragment.
		e.lastRaw = append(e.lastRaw, data...)
	}

	if err := e.conn.HandleData(toStdLevel(level), data); err != nil {
		if errors.Is(err, errAbortAfterClientHello) {
			return nil
		}
		var alertErr tls.AlertError
		if errors.As(err, &alertErr) {
			if cbErr := e.cb.OnSendAlert(level, uint8(alertErr)); cbErr != nil {
				return cbErr
			}
			return nil
		}
		return err
	}

	return e.drainEvents()
}

// drainEvents pumps every pending tls.QUICEvent through to Callbacks.
// Unlike BoringSSL, crypto/tls has no explicit "flush" event of its own —
// QUICWriteData events are already flight-boundary-delimited by the point
// the event stream runs dry, so OnFlushFlight is invoked once, after the
// loop, only if at least one QUICWriteData event was seen.
func (e *cryptoEngine) drainEvents() error {
	wrote := false
	for {
		ev := e.conn.NextEvent()
		switch ev.Kind {
		case tls.QUICNoEvent:
			if wrote {
				return e.cb.OnFlushFlight()
			}
			return nil
		case tls.QUICSetReadSecret:
			if err := e.cb.OnSetReadSecret(fromStdLevel(ev.Level), ev.Suite, ev.Data); err != nil {
				return err
			}
		case tls.QUICSetWriteSecret:
			if err := e.cb.OnSetWriteSecret(fromStdLevel(ev.Level), ev.Suite, ev.Data); err != nil {
				return err
			}
		case tls.QUICWriteData:
			wrote = true
			if err := e.cb.OnWriteMessage(fromStdLevel(ev.Level), ev.Data); err != nil {
				return err
			}
		case tls.QUICHandshakeDone, tls.QUICTransportParameters, tls.QUICTransportParametersRequired:
			// Not reached: the handshake is aborted at certificate selection,
			// which happens before any of these events would be emitted.
		}
	}
}
