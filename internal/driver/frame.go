// Package driver implements the generic, escaped-envelope serial framing
// shared by simple braille-display protocols, and wires one such
// connection into an Activity: a worked example of how a real vendor
// driver attaches to the Scheduler, the AckQueue, and a braille.Session.
// Vendor-specific protocols are out of scope; this is the one concrete
// instance that exercises the Device Transport and protocol layers end to
// end.
package driver

import "brld/internal/brlerr"

// Control bytes framing a packet: SOH opens it, EOT closes it, DLE escapes
// a literal occurrence of any control byte inside the payload, ACK/NAK are
// the driver's standalone handshake bytes.
const (
	SOH byte = 0x01
	EOT byte = 0x04
	DLE byte = 0x10
	ACK byte = 0x06
	NAK byte = 0x15
)

func needsEscape(b byte) bool {
	switch b {
	case SOH, EOT, DLE, ACK, NAK:
		return true
	default:
		return false
	}
}

// EncodeFrame builds SOH length payload(+escaped) seq parity EOT, escaping
// control bytes wherever they occur inside payload. parity is the XOR of
// the unescaped payload bytes and seq.
func EncodeFrame(payload []byte, seq byte) []byte {
	parity := seq
	for _, b := range payload {
		parity ^= b
	}

	out := make([]byte, 0, len(payload)*2+5)
	out = append(out, SOH, byte(len(payload)))
	for _, b := range payload {
		if needsEscape(b) {
			out = append(out, DLE)
		}
		out = append(out, b)
	}
	out = append(out, seq, parity, EOT)
	return out
}

type readState int

const (
	waitSOH readState = iota
	readLength
	readPayload
	readSeq
	readParity
	waitEOT
)

// Reader incrementally assembles one escaped frame at a time from a byte
// stream, de-escaping DLE-prefixed payload bytes as it goes.
type Reader struct {
	state      readState
	length     int
	payload    []byte
	pendingDLE bool
	seq        byte
	parity     byte
}

// NewReader constructs a Reader waiting for the next frame's SOH.
func NewReader() *Reader {
	return &Reader{state: waitSOH}
}

// Feed processes one incoming byte. complete is true once a full frame has
// been assembled and validated; ok is false if the frame's parity check
// failed, in which case the caller should treat it as a dropped frame (the
// driver's NAK path) rather than deliver Payload/Seq.
func (r *Reader) Feed(b byte) (complete bool, payload []byte, seq byte, ok bool) {
	switch r.state {
	case waitSOH:
		if b == SOH {
			r.length = 0
			r.payload = r.payload[:0]
			r.pendingDLE = false
			r.state = readLength
		}
		return false, nil, 0, false

	case readLength:
		r.length = int(b)
		if r.length == 0 {
			r.state = readSeq
		} else {
			r.state = readPayload
		}
		return false, nil, 0, false

	case readPayload:
		if r.pendingDLE {
			r.pendingDLE = false
			r.payload = append(r.payload, b)
		} else if b == DLE {
			r.pendingDLE = true
			return false, nil, 0, false
		} else {
			r.payload = append(r.payload, b)
		}
		if len(r.payload) == r.length {
			r.state = readSeq
		}
		return false, nil, 0, false

	case readSeq:
		r.seq = b
		r.state = readParity
		return false, nil, 0, false

	case readParity:
		r.parity = b
		r.state = waitEOT
		return false, nil, 0, false

	case waitEOT:
		r.state = waitSOH
		if b != EOT {
			return true, nil, 0, false
		}
		want := r.seq
		for _, pb := range r.payload {
			want ^= pb
		}
		if want != r.parity {
			return true, nil, 0, false
		}
		return true, append([]byte{}, r.payload...), r.seq, true

	default:
		r.state = waitSOH
		return false, nil, 0, false
	}
}

var errMalformed = brlerr.New(brlerr.InvalidInput, "malformed frame")
