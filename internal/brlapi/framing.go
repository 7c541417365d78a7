package brlapi

import (
	"errors"
	"io"

	"brld/internal/brlerr"
)

// ReadState is a session's framing state machine position.
type ReadState int

const (
	ReadingHeader ReadState = iota
	ReadingContent
	DispatchReady
	Discarding
)

// Reader assembles one packet at a time from a byte stream that may
// deliver partial reads, driving the ReadingHeader -> ReadingContent ->
// DispatchReady -> ReadingHeader cycle described for each client session.
type Reader struct {
	state ReadState

	header    [HeaderSize]byte
	headerLen int

	pending Header
	payload []byte
	have    int

	discardRemaining int
}

// NewReader constructs a Reader starting in ReadingHeader.
func NewReader() *Reader {
	return &Reader{state: ReadingHeader}
}

// State reports the reader's current position.
func (r *Reader) State() ReadState { return r.state }

// Feed consumes as much of chunk as the current state needs and advances
// the state machine. It returns the number of bytes consumed; call it
// repeatedly (it will not consume past one state transition boundary when
// reaching DispatchReady) until chunk is exhausted.
func (r *Reader) Feed(chunk []byte) (consumed int) {
	for consumed < len(chunk) && r.state != DispatchReady {
		consumed += r.feedState(chunk[consumed:])
	}
	return consumed
}

// feedState consumes what the current state needs from chunk, advancing at
// most one state, and returns the number of bytes consumed.
func (r *Reader) feedState(chunk []byte) (consumed int) {
	switch r.state {
	case ReadingHeader:
		n := copy(r.header[r.headerLen:], chunk)
		r.headerLen += n
		consumed = n
		if r.headerLen == HeaderSize {
			hdr, err := DecodeHeader(r.header[:])
			if err != nil {
				// malformed header: treat as zero-length packet of an
				// invalid type so the caller can surface an Error.
				hdr = Header{Length: 0, Type: 0}
			}
			r.pending = hdr
			r.headerLen = 0
			if hdr.Length == 0 {
				r.payload = nil
				r.have = 0
				r.state = DispatchReady
			} else if hdr.Length > MaxPacketSize {
				r.discardRemaining = int(hdr.Length)
				r.state = Discarding
			} else {
				r.payload = make([]byte, hdr.Length)
				r.have = 0
				r.state = ReadingContent
			}
		}
	case ReadingContent:
		n := copy(r.payload[r.have:], chunk)
		r.have += n
		consumed = n
		if r.have == len(r.payload) {
			r.state = DispatchReady
		}
	case Discarding:
		n := len(chunk)
		if n > r.discardRemaining {
			n = r.discardRemaining
		}
		r.discardRemaining -= n
		consumed = n
		if r.discardRemaining == 0 {
			r.state = DispatchReady
		}
	case DispatchReady:
		consumed = 0
	}
	return consumed
}

// Take returns the completed packet's type and payload and resets the
// reader to ReadingHeader. Only valid when State() == DispatchReady. When
// the packet was discarded for exceeding MaxPacketSize, the payload is
// nil and ok is false so the caller can emit an Error without treating it
// as a deliverable message.
func (r *Reader) Take() (msgType MessageType, payload []byte, ok bool) {
	if r.state != DispatchReady {
		panic("brlapi: Take called before DispatchReady")
	}
	wasDiscarded := r.pending.Length > MaxPacketSize
	msgType, payload = r.pending.Type, r.payload
	r.payload = nil
	r.pending = Header{}
	r.state = ReadingHeader
	return msgType, payload, !wasDiscarded
}

// ClassifyReadError maps a raw read error into the session-lifecycle
// outcome it implies: transient errors leave the state machine intact,
// EOF ends the session cleanly, anything else is a hard failure.
type ReadOutcome int

const (
	ReadTransient ReadOutcome = iota
	ReadEOF
	ReadFailed
)

func ClassifyReadError(err error) ReadOutcome {
	if err == nil {
		return ReadTransient
	}
	if brlerr.Is(err, brlerr.Timeout) {
		return ReadTransient
	}
	if errors.Is(err, io.EOF) {
		return ReadEOF
	}
	return ReadFailed
}
