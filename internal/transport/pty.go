package transport

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/creack/pty"

	"brld/internal/brlerr"
)

// ptyEndpoint is a virtual display endpoint backed by a pty pair: the
// daemon holds the master side as its Endpoint, and a test harness attaches
// to the returned slave path to play the part of the hardware.
//
// A thin wrapper around creack/pty.Open.
type ptyEndpoint struct {
	master   *os.File
	slave    *os.File
	throttle *WriteThrottle

	mu      sync.Mutex
	peeked  bool
	peekVal byte
}

// OpenVirtual opens a new pty pair for a virtual/test display endpoint,
// returning the Endpoint plus the slave device path a counterpart process
// should open to simulate the hardware side.
func OpenVirtual() (Endpoint, string, error) {
	master, slave, err := pty.Open()
	if err != nil {
		return nil, "", brlerr.Wrap(brlerr.Io, "opening virtual pty", err)
	}
	return &ptyEndpoint{master: master, slave: slave, throttle: NewWriteThrottle(0)}, slave.Name(), nil
}

func (p *ptyEndpoint) ReadByte(timeout time.Duration) (byte, bool, error) {
	p.mu.Lock()
	if p.peeked {
		b := p.peekVal
		p.peeked = false
		p.mu.Unlock()
		return b, true, nil
	}
	p.mu.Unlock()

	buf := make([]byte, 1)
	n, err := p.readWithTimeout(buf, timeout)
	if n == 0 {
		return 0, false, err
	}
	return buf[0], true, nil
}

func (p *ptyEndpoint) ReadData(buf []byte, initialTimeout, subsequentTimeout time.Duration) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	total := 0
	b, ok, err := p.ReadByte(initialTimeout)
	if !ok {
		return total, err
	}
	buf[total] = b
	total++
	for total < len(buf) {
		b, ok, err := p.ReadByte(subsequentTimeout)
		if !ok {
			return total, err
		}
		buf[total] = b
		total++
	}
	return total, nil
}

func (p *ptyEndpoint) readWithTimeout(buf []byte, timeout time.Duration) (int, error) {
	if timeout > 0 {
		_ = p.master.SetReadDeadline(time.Now().Add(timeout))
	} else {
		_ = p.master.SetReadDeadline(time.Now())
	}
	n, err := p.master.Read(buf)
	if err != nil {
		if isTimeoutErr(err) || err == io.EOF {
			return n, nil
		}
		return n, brlerr.Wrap(brlerr.Io, "reading from virtual pty", err)
	}
	return n, nil
}

func (p *ptyEndpoint) WriteData(buf []byte) (int, error) {
	n, err := p.master.Write(buf)
	if err != nil {
		return n, brlerr.Wrap(brlerr.Io, "writing to virtual pty", err)
	}
	p.throttle.Track(n)
	return n, nil
}

// Ready peeks one byte without blocking, buffering it internally so the
// next ReadByte/ReadData call returns it rather than losing it.
func (p *ptyEndpoint) Ready() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.peeked {
		return true, nil
	}
	buf := make([]byte, 1)
	n, err := p.readWithTimeout(buf, 0)
	if n > 0 {
		p.peeked = true
		p.peekVal = buf[0]
		return true, nil
	}
	return false, err
}

func (p *ptyEndpoint) Close() error {
	err := p.master.Close()
	_ = p.slave.Close()
	return err
}

func isTimeoutErr(err error) bool {
	type timeouter interface{ Timeout() bool }
	if t, ok := err.(timeouter); ok {
		return t.Timeout()
	}
	return false
}
