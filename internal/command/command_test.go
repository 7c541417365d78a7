package command

import "testing"

func TestMakeRoundTrip(t *testing.T) {
	c := Make(3, 0x1234, FlagShift|FlagLongPress)
	if c.Block() != 3 {
		t.Fatalf("block = %d, want 3", c.Block())
	}
	if c.Operand() != 0x1234 {
		t.Fatalf("operand = %x, want 1234", c.Operand())
	}
	if c.Flags() != FlagShift|FlagLongPress {
		t.Fatalf("flags = %x, want %x", c.Flags(), FlagShift|FlagLongPress)
	}
}

func TestWithFlagsPreservesBlockAndOperand(t *testing.T) {
	c := Make(5, 99, 0)
	c2 := c.WithFlags(FlagControl)
	if c2.Block() != 5 || c2.Operand() != 99 {
		t.Fatalf("block/operand mutated: block=%d operand=%d", c2.Block(), c2.Operand())
	}
	if c2.Flags() != FlagControl {
		t.Fatalf("flags not applied")
	}
}

func TestHandlerStackTopFirst(t *testing.T) {
	q := New()
	var order []string

	q.PushHandler("base", func(cmd Command, data any) bool {
		order = append(order, "base")
		return true
	}, nil, nil)
	q.PushHandler("overlay", func(cmd Command, data any) bool {
		order = append(order, "overlay")
		return false
	}, nil, nil)

	q.Dispatch(Make(0, 0, 0))

	if len(order) != 2 || order[0] != "overlay" || order[1] != "base" {
		t.Fatalf("unexpected dispatch order: %v", order)
	}
}

func TestPopHandlerRunsDestructor(t *testing.T) {
	q := New()
	destroyed := false
	q.PushHandler("speech", func(Command, any) bool { return true }, func(any) { destroyed = true }, nil)
	if !q.PopHandler("speech") {
		t.Fatalf("expected PopHandler to find the handler")
	}
	if !destroyed {
		t.Fatalf("destructor never ran")
	}
}

func TestUnhandledCommandIsRejected(t *testing.T) {
	q := New()
	var rejected Command
	q.OnRejected(func(cmd Command) { rejected = cmd })

	c := Make(1, 2, 0)
	q.Dispatch(c)

	if rejected != c {
		t.Fatalf("rejection callback did not receive the command")
	}
}

func TestFallbackHandlesWhenStackDeclines(t *testing.T) {
	q := New()
	handledByFallback := false
	q.PushHandler("overlay", func(Command, any) bool { return false }, nil, nil)
	q.SetFallback(func(Command, any) bool { handledByFallback = true; return true })

	q.Dispatch(Make(0, 0, 0))

	if !handledByFallback {
		t.Fatalf("fallback never ran")
	}
}
