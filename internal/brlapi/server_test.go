package brlapi

import (
	"net"
	"testing"
	"time"

	"brld/internal/auth"
	"brld/internal/braille"
	"brld/internal/keytable"
	"brld/internal/reports"
	"brld/internal/scheduler"
)

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	sched := scheduler.New()
	verifier := auth.NewVerifier()
	registry := NewRegistry()
	bus := reports.New()
	display := braille.NewBuffer(1, 8)
	keys := keytable.New(sched, keytable.NewContext("default"), keytable.Config{})

	s := NewServer(sched, ln, verifier, registry, bus, display, keys)
	go s.AcceptLoop()

	stop := make(chan struct{})
	t.Cleanup(func() { close(stop) })
	go sched.Run(func() bool {
		select {
		case <-stop:
			return true
		default:
			return false
		}
	})

	return s, ln.Addr().String()
}

func dialAndDrainVersion(t *testing.T, addr string) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	msgType, _ := readOneMessage(t, conn)
	if msgType != Version {
		t.Fatalf("expected Version greeting, got %v", msgType)
	}
	return conn
}

func readOneMessage(t *testing.T, conn net.Conn) (MessageType, []byte) {
	t.Helper()
	r := NewReader()
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			t.Fatalf("unexpected read error: %v", err)
		}
		offset := 0
		for offset < n {
			consumed := r.Feed(buf[offset:n])
			offset += consumed
			if r.State() == DispatchReady {
				msgType, payload, ok := r.Take()
				if !ok {
					t.Fatalf("packet too large")
				}
				return msgType, payload
			}
			if consumed == 0 {
				break
			}
		}
	}
}

func TestServerHandshakeAuthAndEnterTty(t *testing.T) {
	_, addr := newTestServer(t)
	conn := dialAndDrainVersion(t, addr)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := conn.Write(EncodeMessage(Auth, []byte("none"))); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	msgType, _ := readOneMessage(t, conn)
	if msgType != Ack {
		t.Fatalf("expected Ack for auth, got %v", msgType)
	}

	if _, err := conn.Write(EncodeMessage(EnterTtyMode, []byte("/dev/tty1"))); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	msgType, _ = readOneMessage(t, conn)
	if msgType != Ack {
		t.Fatalf("expected Ack for enter tty, got %v", msgType)
	}
}

func TestServerWriteOutsideModeIsRejected(t *testing.T) {
	_, addr := newTestServer(t)
	conn := dialAndDrainVersion(t, addr)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := conn.Write(EncodeMessage(Auth, []byte("none"))); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType, _ := readOneMessage(t, conn); msgType != Ack {
		t.Fatalf("expected Ack for auth, got %v", msgType)
	}

	payload := make([]byte, 4)
	if _, err := conn.Write(EncodeMessage(Write, payload)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	msgType, _ := readOneMessage(t, conn)
	if msgType != Error {
		t.Fatalf("expected Error writing outside a claimed mode, got %v", msgType)
	}
}

func TestServerWriteComposesIntoDisplay(t *testing.T) {
	s, addr := newTestServer(t)
	conn := dialAndDrainVersion(t, addr)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := conn.Write(EncodeMessage(Auth, []byte("none"))); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	readOneMessage(t, conn)
	if _, err := conn.Write(EncodeMessage(EnterTtyMode, []byte("/dev/tty1"))); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	readOneMessage(t, conn)

	req := encodeTestWrite(t, "hi")
	if _, err := conn.Write(EncodeMessage(Write, req)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	msgType, _ := readOneMessage(t, conn)
	if msgType != Ack {
		t.Fatalf("expected Ack for write, got %v", msgType)
	}

	if got := string(s.display.Cells[0:2]); got != "hi" {
		t.Fatalf("expected display to show %q, got %q", "hi", got)
	}
}

// encodeTestWrite builds a minimal Write payload: flags(TextFlag) + textLen
// + text, matching decodeWriteRequest's layout.
func encodeTestWrite(t *testing.T, text string) []byte {
	t.Helper()
	payload := make([]byte, 0, 4+2+len(text))
	payload = append(payload, beBytes32(uint32(WriteTextFlag))...)
	textLen := uint16(len(text))
	payload = append(payload, byte(textLen>>8), byte(textLen))
	payload = append(payload, text...)
	return payload
}

func TestServerDisconnectRemovesSession(t *testing.T) {
	s, addr := newTestServer(t)
	conn := dialAndDrainVersion(t, addr)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := conn.Write(EncodeMessage(Auth, []byte("none"))); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	readOneMessage(t, conn)

	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		n := len(s.sessions)
		s.mu.Unlock()
		if n == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected session to be removed after disconnect")
}
