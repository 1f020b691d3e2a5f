package h3chlo

import (
	"bytes"
	"errors"
)

var (
	ErrDuplicateFragment        = errors.New("h3chlo: duplicate CRYPTO frame fragment")
	ErrOverlapFragment          = errors.New("h3chlo: overlapping CRYPTO frame fragment")
	ErrTooManyFragments         = errors.New("h3chlo: too many pending CRYPTO frame fragments")
	ErrReassemblyBudgetExceeded = errors.New("h3chlo: CRYPTO stream exceeds reassembly budget")
)

const (
	maxPendingFragments = 32
	maxReassemblyBytes  = 0x10000 // 64KiB: generous upper bound on a ClientHello's size
)

// CryptoStreamReassembler reconstructs a contiguous CRYPTO stream from
// out-of-order, possibly overlapping CRYPTO frame fragments, the way
// QuicStreamSequencer does for the TLS handshake stream at the Initial
// encryption level. It has no notion of TLS framing: it knows nothing about
// ClientHello length fields or message boundaries, only offsets and bytes.
// Completion is discovered by the caller attempting to make progress with
// the TLS engine after each packet's fragments have been offered, not by
// this type.
type CryptoStreamReassembler struct {
	buf      []byte
	consumed uint64
	frags    map[uint64][]byte
}

// NewCryptoStreamReassembler returns an empty reassembler.
func NewCryptoStreamReassembler() *CryptoStreamReassembler {
	return &CryptoStreamReassembler{frags: make(map[uint64][]byte)}
}

// Offer adds a CRYPTO frame fragment at the given stream offset. It returns
// an error if the fragment is a duplicate or byte-range overlap of a
// previously offered fragment, if too many fragments are pending
// reassembly, or if the fragment's range would place any byte at or beyond
// the reassembler's fixed budget. A fragment that exactly repeats bytes
// already reassembled into the contiguous prefix is accepted as a no-op.
func (r *CryptoStreamReassembler) Offer(offset uint64, frag []byte) error {
	if len(frag) == 0 {
		return nil
	}

	if _, ok := r.frags[offset]; ok {
		return ErrDuplicateFragment
	}

	for off, f := range r.frags {
		if rangesOverlap(off, uint64(len(f)), offset, uint64(len(frag))) {
			return ErrOverlapFragment
		}
	}

	if offset < uint64(len(r.buf)) {
		// Only an exact re-delivery of already-reassembled bytes is tolerated;
		// anything else overlapping the reassembled prefix is rejected.
		end := offset + uint64(len(frag))
		if end <= uint64(len(r.buf)) && bytes.Equal(r.buf[offset:end], frag) {
			return nil
		}
		return ErrOverlapFragment
	}

	if len(r.frags) >= maxPendingFragments {
		return ErrTooManyFragments
	}

	if offset+uint64(len(frag)) > maxReassemblyBytes {
		return ErrReassemblyBudgetExceeded
	}

	stored := make([]byte, len(frag))
	copy(stored, frag)
	r.frags[offset] = stored

	for {
		next, ok := r.frags[uint64(len(r.buf))]
		if !ok {
			break
		}
		delete(r.frags, uint64(len(r.buf)))
		r.buf = append(r.buf, next...)
	}

	return nil
}

// ReadableRegion returns the contiguous run of bytes assembled so far that
// have not yet been handed off via MarkConsumed. The returned slice must
// not be retained past the next call to Offer or MarkConsumed.
func (r *CryptoStreamReassembler) ReadableRegion() []byte {
	return r.buf[r.consumed:]
}

// MarkConsumed advances the read cursor by n bytes, so that a later
// ReadableRegion call no longer returns bytes already delivered to the
// caller. n must not exceed the length of the slice last returned by
// ReadableRegion.
func (r *CryptoStreamReassembler) MarkConsumed(n int) {
	r.consumed += uint64(n)
}

// Len returns the number of contiguous bytes currently readable (i.e. not
// yet marked consumed).
func (r *CryptoStreamReassembler) Len() int {
	return len(r.buf) - int(r.consumed)
}

func rangesOverlap(offA, lenA, offB, lenB uint64) bool {
	endA, endB := offA+lenA, offB+lenB
	return offA < endB && offB < endA
}
