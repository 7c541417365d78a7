// Package transport abstracts serial, pty, and SSH-forwarded braille
// display endpoints behind one read/write/verify interface, so the braille
// session never cares which physical link a display is attached through.
//
// Uses the same process/tunnel lifecycle a tunneled remote connection
// manager would use for its connection-management shape, generalized here
// to a byte-oriented device link with packet verification.
package transport

import (
	"sync"
	"time"

	"brld/internal/brlerr"
	"brld/internal/scheduler"
)

// Verdict is the result of running a Verifier over the bytes accumulated
// so far while assembling one packet.
type Verdict int

const (
	// Include means the byte belongs to the packet; keep accumulating.
	Include Verdict = iota
	// Exclude means the byte does not belong to the packet and the packet
	// is already complete without it.
	Exclude
	// Ignore means discard the byte and keep waiting, without advancing
	// the window.
	Ignore
	// Invalid means the accumulated bytes can never form a valid packet;
	// slide the window by one byte and retry from there.
	Invalid
)

// Verifier inspects the bytes accumulated so far (buf[:count]) and reports
// a Verdict. When it returns Include and count == expectedLength, the
// packet is complete; expectedLength may change across calls as the buffer
// grows (e.g. once a length header becomes available).
type Verifier func(buf []byte, count int) (verdict Verdict, expectedLength int)

// Descriptor carries backend-specific connection options (baud rate,
// serial framing, SSH host, etc). Each backend only reads the fields it
// understands.
type Descriptor struct {
	BaudRate int
	DataBits int
	StopBits int
	Parity   string

	SSHUser           string
	SSHHost           string
	SSHPort           string
	SSHPrivateKeyPath string
	RemoteIdentifier  string
}

// Endpoint is a connected device link.
type Endpoint interface {
	// ReadByte attempts to read a single byte, waiting up to timeout (0
	// means non-blocking: return immediately if nothing is available).
	// The second return is false when the read timed out without data.
	ReadByte(timeout time.Duration) (b byte, ok bool, err error)

	// ReadData reads up to len(buf) bytes. initialTimeout bounds the wait
	// for the first byte; subsequentTimeout bounds the wait for each byte
	// after the first. Returns the count actually read, which may be
	// less than len(buf) if a subsequent read times out.
	ReadData(buf []byte, initialTimeout, subsequentTimeout time.Duration) (int, error)

	// WriteData writes buf in full, blocking as needed.
	WriteData(buf []byte) (int, error)

	// Ready implements scheduler.InputSource: non-blocking poll for
	// whether a read would return data now.
	Ready() (bool, error)

	Close() error
}

// Endpoint is itself a scheduler.InputSource.
var _ scheduler.InputSource = Endpoint(nil)

// ReadPacket accumulates bytes from ep one at a time, running verify after
// each new byte, until verify reports Include with count == expectedLength
// (packet complete) or Exclude (packet complete without this byte). On
// Invalid it slides the window by one byte (dropping buf[0]) and restarts
// verification over the shifted contents, per the drop-and-retry recovery
// rule. Ignore simply discards the byte and continues waiting.
func ReadPacket(ep Endpoint, buf []byte, verify Verifier, initialTimeout, subsequentTimeout time.Duration) (int, error) {
	count := 0
	timeout := initialTimeout
	for {
		if count >= len(buf) {
			return count, brlerr.New(brlerr.InvalidInput, "packet buffer exhausted before verifier completed")
		}
		b, ok, err := ep.ReadByte(timeout)
		if err != nil {
			return count, err
		}
		if !ok {
			return count, brlerr.New(brlerr.Timeout, "packet read timed out")
		}
		timeout = subsequentTimeout

		buf[count] = b
		count++

		verdict, expected := verify(buf, count)
		switch verdict {
		case Include:
			if count == expected {
				return count, nil
			}
		case Exclude:
			return count - 1, nil
		case Ignore:
			count--
		case Invalid:
			copy(buf, buf[1:count])
			count--
		}
	}
}

// WriteThrottle tracks estimated time-on-wire so a caller can throttle
// back-to-back writes to a link that has no native flow control.
type WriteThrottle struct {
	mu        sync.Mutex
	baudRate  int
	lastWrite time.Time
	delay     time.Duration
}

// NewWriteThrottle constructs a throttle for a link running at baudRate
// bits per second (0 disables estimation; Delay always returns 0).
func NewWriteThrottle(baudRate int) *WriteThrottle {
	return &WriteThrottle{baudRate: baudRate}
}

// Track records that n bytes were just written, updating the accumulated
// estimated transmit delay (10 bits per byte: start, 8 data, stop).
func (w *WriteThrottle) Track(n int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.baudRate <= 0 {
		return
	}
	bits := n * 10
	wire := time.Duration(bits) * time.Second / time.Duration(w.baudRate)
	now := time.Now()
	if remaining := w.delay - now.Sub(w.lastWrite); remaining > 0 {
		wire += remaining
	}
	w.delay = wire
	w.lastWrite = now
}

// Delay returns how much longer the caller should wait before writing
// again to stay within the estimated time-on-wire budget.
func (w *WriteThrottle) Delay() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.baudRate <= 0 {
		return 0
	}
	elapsed := time.Since(w.lastWrite)
	if elapsed >= w.delay {
		return 0
	}
	return w.delay - elapsed
}
