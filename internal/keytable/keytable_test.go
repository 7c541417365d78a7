package keytable

import (
	"testing"
	"time"

	"brld/internal/command"
	"brld/internal/scheduler"
)

const (
	cmdPanDown = 1
	cmdNothing = 0
)

func newTestTable(sched *scheduler.Scheduler, dispatched *[]command.Command) (*KeyTable, *KeyContext) {
	ctx := NewContext("default")
	tbl := New(sched, ctx, Config{
		StickyModifierTimeout: time.Second,
		LongPressTime:         250 * time.Millisecond,
		AutorepeatInterval:    100 * time.Millisecond,
		AutoReleaseTime:       0,
		Dispatch:              func(c command.Command) { *dispatched = append(*dispatched, c) },
	})
	return tbl, ctx
}

func TestPressedCountInvariant(t *testing.T) {
	sched := scheduler.New()
	var dispatched []command.Command
	tbl, _ := newTestTable(sched, &dispatched)

	down := KeyValue{Group: GroupNavigation, Number: 1}
	up := KeyValue{Group: GroupNavigation, Number: 2}

	tbl.ProcessKeyEvent(down, true)
	if tbl.PressedCount() != 1 {
		t.Fatalf("expected 1 pressed key")
	}
	tbl.ProcessKeyEvent(up, true)
	if tbl.PressedCount() != 2 {
		t.Fatalf("expected 2 pressed keys")
	}
	tbl.ProcessKeyEvent(down, true) // duplicate press, rejected
	if tbl.PressedCount() != 2 {
		t.Fatalf("duplicate press should not grow pressed set")
	}
	tbl.ProcessKeyEvent(down, false)
	if tbl.PressedCount() != 1 {
		t.Fatalf("expected 1 pressed key after release")
	}
	tbl.ProcessKeyEvent(down, false) // spurious release, tolerated
	if tbl.PressedCount() != 1 {
		t.Fatalf("spurious release should not go negative")
	}
}

func TestStickyModifierAppliesToNextCommandOnly(t *testing.T) {
	sched := scheduler.New()
	var dispatched []command.Command
	tbl, ctx := newTestTable(sched, &dispatched)

	downArrow := KeyValue{Group: GroupNavigation, Number: 1}
	ctx.AddBinding(&KeyBinding{
		Combination: KeyCombination{Immediate: downArrow, HasImmediate: true},
		Primary:     command.Make(1, 0, 0),
	})

	tbl.SetModifier(uint32(command.FlagShift), StickyNextCommand)
	tbl.ProcessKeyEvent(downArrow, true)

	if len(dispatched) != 1 {
		t.Fatalf("expected exactly 1 dispatched command, got %d", len(dispatched))
	}
	if dispatched[0].Flags()&command.FlagShift == 0 {
		t.Fatalf("expected SHIFT flag on dispatched command")
	}

	tbl.ProcessKeyEvent(downArrow, false)
	tbl.ProcessKeyEvent(downArrow, true)
	if dispatched[1].Flags()&command.FlagShift != 0 {
		t.Fatalf("sticky next-command modifier should have cleared after first dispatch")
	}
}

func TestLongPressThenAutorepeat(t *testing.T) {
	sched := scheduler.New()
	var dispatched []command.Command
	tbl, ctx := newTestTable(sched, &dispatched)

	lndn := KeyValue{Group: GroupNavigation, Number: 3}
	ctx.AddBinding(&KeyBinding{
		Combination: KeyCombination{Immediate: lndn, HasImmediate: true},
		Primary:     command.Make(cmdPanDown, 0, 0),
		LongPress:   true,
		Autorepeat:  true,
	})

	tbl.ProcessKeyEvent(lndn, true)
	if len(dispatched) != 1 {
		t.Fatalf("expected initial press dispatch, got %d", len(dispatched))
	}

	ok := sched.AwaitCondition(time.Second, func() bool { return len(dispatched) >= 5 })
	if !ok {
		t.Fatalf("expected at least 5 dispatches (initial + long-press + 3 autorepeats), got %d", len(dispatched))
	}
	if dispatched[1].Flags()&command.FlagLongPress == 0 {
		t.Fatalf("second dispatch should carry LONG_PRESS flag")
	}

	tbl.ProcessKeyEvent(lndn, false)
	countAtRelease := len(dispatched)
	sched.AwaitCondition(250*time.Millisecond, func() bool { return false })
	if len(dispatched) != countAtRelease {
		t.Fatalf("dispatches continued after release: before=%d after=%d", countAtRelease, len(dispatched))
	}
}

func TestModifierComboMustMatchExactly(t *testing.T) {
	sched := scheduler.New()
	var dispatched []command.Command
	tbl, ctx := newTestTable(sched, &dispatched)

	space := KeyValue{Group: GroupBraille, Number: 0}
	dot1 := KeyValue{Group: GroupBraille, Number: 1}
	ctx.AddBinding(&KeyBinding{
		Combination: KeyCombination{
			Modifiers:    []KeyValue{space},
			Immediate:    dot1,
			HasImmediate: true,
		},
		Primary: command.Make(9, 0, 0),
	})

	// dot1 alone: modifier set doesn't match, falls through (no hotkey/mapped key, dropped silently)
	tbl.ProcessKeyEvent(dot1, true)
	if len(dispatched) != 0 {
		t.Fatalf("expected no dispatch without the space modifier held")
	}
	tbl.ProcessKeyEvent(dot1, false)

	tbl.ProcessKeyEvent(space, true)
	tbl.ProcessKeyEvent(dot1, true)
	if len(dispatched) != 1 {
		t.Fatalf("expected dispatch once space+dot1 combination matches")
	}
}
