package driver

import "testing"

func TestEncodeFrameEscapesControlBytesInPayload(t *testing.T) {
	payload := []byte{0x41, SOH, 0x42, EOT}
	frame := EncodeFrame(payload, 7)

	if frame[0] != SOH {
		t.Fatalf("expected frame to open with SOH")
	}
	if frame[1] != byte(len(payload)) {
		t.Fatalf("expected length byte to be the unescaped payload length")
	}
	if frame[len(frame)-1] != EOT {
		t.Fatalf("expected frame to close with EOT")
	}

	// escaped body: 0x41, DLE,SOH, 0x42, DLE,EOT
	body := frame[2 : len(frame)-3]
	want := []byte{0x41, DLE, SOH, 0x42, DLE, EOT}
	if len(body) != len(want) {
		t.Fatalf("unexpected escaped body length: got %d want %d (%v)", len(body), len(want), body)
	}
	for i := range want {
		if body[i] != want[i] {
			t.Fatalf("escaped body mismatch at %d: got %x want %x", i, body[i], want[i])
		}
	}
}

func TestReaderRoundTripsEncodedFrame(t *testing.T) {
	payload := []byte{0x41, SOH, 0x42, EOT, DLE}
	frame := EncodeFrame(payload, 9)

	r := NewReader()
	var gotPayload []byte
	var gotSeq byte
	var gotOK, gotComplete bool
	for _, b := range frame {
		complete, p, seq, ok := r.Feed(b)
		if complete {
			gotComplete = true
			gotPayload = p
			gotSeq = seq
			gotOK = ok
		}
	}

	if !gotComplete {
		t.Fatalf("expected frame to complete")
	}
	if !gotOK {
		t.Fatalf("expected parity check to pass")
	}
	if gotSeq != 9 {
		t.Fatalf("unexpected seq: got %d want 9", gotSeq)
	}
	if string(gotPayload) != string(payload) {
		t.Fatalf("unexpected payload: got %v want %v", gotPayload, payload)
	}
}

func TestReaderRejectsCorruptedParity(t *testing.T) {
	frame := EncodeFrame([]byte{1, 2, 3}, 1)
	frame[len(frame)-2] ^= 0xFF // corrupt the parity byte

	r := NewReader()
	var gotComplete, gotOK bool
	for _, b := range frame {
		complete, _, _, ok := r.Feed(b)
		if complete {
			gotComplete = true
			gotOK = ok
		}
	}
	if !gotComplete {
		t.Fatalf("expected frame to complete despite bad parity")
	}
	if gotOK {
		t.Fatalf("expected parity mismatch to be reported")
	}
}

func TestReaderResyncsAfterGarbageBeforeSOH(t *testing.T) {
	frame := EncodeFrame([]byte{0x7f}, 3)
	noisy := append([]byte{0xFF, 0xEE}, frame...)

	r := NewReader()
	var gotComplete, gotOK bool
	var gotPayload []byte
	for _, b := range noisy {
		complete, p, _, ok := r.Feed(b)
		if complete {
			gotComplete = true
			gotOK = ok
			gotPayload = p
		}
	}
	if !gotComplete || !gotOK {
		t.Fatalf("expected the frame following garbage bytes to still assemble")
	}
	if string(gotPayload) != "\x7f" {
		t.Fatalf("unexpected payload: %v", gotPayload)
	}
}
