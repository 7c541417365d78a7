package brlapi

import (
	"testing"

	"github.com/google/uuid"
)

func TestEnterTtyThenRawIsRejected(t *testing.T) {
	s := NewSession(uuid.New())
	if !s.EnterTty("/dev/tty1") {
		t.Fatalf("expected tty claim to succeed")
	}
	if s.EnterRaw() {
		t.Fatalf("expected raw claim to fail while tty is held")
	}
}

func TestLeaveAllowsSwitchingModes(t *testing.T) {
	s := NewSession(uuid.New())
	s.EnterTty("/dev/tty1")
	s.Leave()
	if !s.EnterRaw() {
		t.Fatalf("expected raw claim to succeed after Leave")
	}
}

func TestWantsKeyWithNoFiltersAcceptsEverything(t *testing.T) {
	s := NewSession(uuid.New())
	if !s.WantsKey(KeyCode(0x1234)) {
		t.Fatalf("expected acceptance with no configured filters")
	}
}

func TestWantsKeyRespectsAcceptRange(t *testing.T) {
	s := NewSession(uuid.New())
	s.SetAcceptedRanges([]KeyRange{
		{First: MakeKeyCode(0x20000008, 0, 0, 0), Last: MakeKeyCode(0x20000008, 0, 0, 0xFFFF), Mask: KeyCode(0xFFFF)},
	})
	if !s.WantsKey(MakeKeyCode(0x20000008, 0, 0, 0x42)) {
		t.Fatalf("expected key within accept range to be wanted")
	}
	if s.WantsKey(MakeKeyCode(0x10000000, 0, 0, 0x42)) {
		t.Fatalf("expected key outside accept range to be rejected")
	}
}

func TestWantsKeyIgnoreTakesPriorityOverAccept(t *testing.T) {
	s := NewSession(uuid.New())
	code := MakeKeyCode(0x20000008, 0, 0, 0x42)
	s.SetAcceptedRanges([]KeyRange{{First: code, Last: code, Mask: 0}})
	s.SetIgnoredRanges([]KeyRange{{First: code, Last: code, Mask: 0}})
	if s.WantsKey(code) {
		t.Fatalf("expected ignore range to override a matching accept range")
	}
}
