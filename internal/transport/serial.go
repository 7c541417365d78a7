package transport

import (
	"io"
	"sync"
	"time"

	goserial "github.com/daedaluz/goserial"

	"brld/internal/brlerr"
)

// serialEndpoint is a real serial-port backed Endpoint.
//
// Grounded on Daedaluz-goserial's Port type (Open/Read/Write/
// SetReadTimeout), used directly as the device-facing half of a serial
// braille display link.
type serialEndpoint struct {
	port     *goserial.Port
	throttle *WriteThrottle

	mu      sync.Mutex
	peeked  bool
	peekVal byte
}

var baudToSpeed = map[int]goserial.CFlag{
	9600:   goserial.B9600,
	19200:  goserial.B19200,
	38400:  goserial.B38400,
	57600:  goserial.B57600,
	115200: goserial.B115200,
}

// OpenSerial opens the named serial device (e.g. "/dev/ttyUSB0"), puts it
// into raw mode, and sets its baud rate.
func OpenSerial(name string, desc Descriptor) (Endpoint, error) {
	opts := goserial.NewOptions()
	port, err := goserial.Open(name, opts)
	if err != nil {
		return nil, brlerr.Wrap(brlerr.Io, "opening serial port "+name, err)
	}

	if err := port.MakeRaw(); err != nil {
		_ = port.Close()
		return nil, brlerr.Wrap(brlerr.Io, "setting raw mode on "+name, err)
	}
	if speed, ok := baudToSpeed[desc.BaudRate]; ok {
		attrs, err := port.GetAttr()
		if err != nil {
			_ = port.Close()
			return nil, brlerr.Wrap(brlerr.Io, "reading serial attributes on "+name, err)
		}
		attrs.SetSpeed(speed)
		if err := port.SetAttr(goserial.TCSANOW, attrs); err != nil {
			_ = port.Close()
			return nil, brlerr.Wrap(brlerr.Io, "setting baud rate on "+name, err)
		}
	}

	return &serialEndpoint{port: port, throttle: NewWriteThrottle(desc.BaudRate)}, nil
}

func (s *serialEndpoint) ReadByte(timeout time.Duration) (byte, bool, error) {
	s.mu.Lock()
	if s.peeked {
		b := s.peekVal
		s.peeked = false
		s.mu.Unlock()
		return b, true, nil
	}
	s.mu.Unlock()

	buf := make([]byte, 1)
	n, err := s.port.ReadTimeout(buf, timeout)
	if err != nil {
		if err == io.EOF {
			return 0, false, nil
		}
		return 0, false, brlerr.Wrap(brlerr.Io, "reading serial byte", err)
	}
	if n == 0 {
		return 0, false, nil
	}
	return buf[0], true, nil
}

func (s *serialEndpoint) ReadData(buf []byte, initialTimeout, subsequentTimeout time.Duration) (int, error) {
	total := 0
	b, ok, err := s.ReadByte(initialTimeout)
	if !ok {
		return total, err
	}
	buf[total] = b
	total++
	for total < len(buf) {
		b, ok, err := s.ReadByte(subsequentTimeout)
		if !ok {
			return total, err
		}
		buf[total] = b
		total++
	}
	return total, nil
}

func (s *serialEndpoint) WriteData(buf []byte) (int, error) {
	n, err := s.port.Write(buf)
	if err != nil {
		return n, brlerr.Wrap(brlerr.Io, "writing serial data", err)
	}
	s.throttle.Track(n)
	return n, nil
}

// Ready peeks one byte without blocking, buffering it so the next
// ReadByte/ReadData call returns it rather than losing it.
func (s *serialEndpoint) Ready() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.peeked {
		return true, nil
	}
	buf := make([]byte, 1)
	n, err := s.port.ReadTimeout(buf, 0)
	if n > 0 {
		s.peeked = true
		s.peekVal = buf[0]
		return true, nil
	}
	if err != nil && err != io.EOF {
		return false, brlerr.Wrap(brlerr.Io, "polling serial port", err)
	}
	return false, nil
}

func (s *serialEndpoint) Close() error {
	return s.port.Close()
}
