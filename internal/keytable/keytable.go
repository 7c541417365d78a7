// Package keytable implements binding/hotkey/mapped-key resolution: the
// engine that turns raw KeyValue press/release edges from a braille
// display's keys into BoundCommands, with modifier combinations, sticky
// (persistent / one-shot) modifiers, long press, autorelease, autorepeat,
// and context switching.
//
// Uses a key/modifier-mask model in the style of gdamore/tcell for the
// KeyValue/group-and-number shape, and a slot-keyed, mutex-guarded
// dispatch table for the held-keys bookkeeping.
package keytable

import (
	"sync"
	"time"

	"brld/internal/command"
	"brld/internal/scheduler"
)

// Group names a logical key bank.
type Group int

const (
	GroupBraille Group = iota
	GroupRouting
	GroupNavigation
)

// AnyNumber is the wildcard in-bank index, matching any key of its group.
const AnyNumber = -1

// KeyValue identifies one physical or logical key.
type KeyValue struct {
	Group  Group
	Number int
}

// Any constructs the wildcard KeyValue for a group.
func Any(g Group) KeyValue { return KeyValue{Group: g, Number: AnyNumber} }

// Matches reports whether kv, used as a pattern, matches pressed — either
// exactly or via the AnyNumber wildcard.
func (kv KeyValue) Matches(pressed KeyValue) bool {
	if kv.Group != pressed.Group {
		return false
	}
	return kv.Number == AnyNumber || kv.Number == pressed.Number
}

// KeyCombination is a set of simultaneously held modifier keys plus an
// optional "immediate" key whose press edge triggers the binding.
type KeyCombination struct {
	Modifiers    []KeyValue
	Immediate    KeyValue
	HasImmediate bool
}

func sameKeySet(a, b []KeyValue) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[KeyValue]bool, len(a))
	for _, k := range a {
		seen[k] = true
	}
	for _, k := range b {
		if !seen[k] {
			return false
		}
	}
	return true
}

// ContextSwitch describes what a binding does to the active context once it
// fires.
type ContextSwitch int

const (
	SwitchNone ContextSwitch = iota
	SwitchPersistent
	SwitchTemporary
)

// KeyBinding is one entry in a KeyContext's binding table.
type KeyBinding struct {
	Combination  KeyCombination
	Primary      command.Command
	Secondary    command.Command
	HasSecondary bool
	LongPress    bool
	Autorepeat   bool
	Switch       ContextSwitch
	TargetContext string
}

// specificity orders bindings so more-modifier combinations are tried
// first, per §4.5's "ordered by specificity" requirement.
func (b *KeyBinding) specificity() int { return len(b.Combination.Modifiers) }

// HotkeyCommands holds the independent press/release commands for a key
// that isn't part of any combination.
type HotkeyCommands struct {
	Press       command.Command
	HasPress    bool
	Release     command.Command
	HasRelease  bool
}

// KeyContext is a named scope of bindings, hotkeys, and mapped keys, with an
// optional parent/default context consulted when nothing in this context
// matches.
type KeyContext struct {
	Name       string
	Bindings   []*KeyBinding
	Hotkeys    map[KeyValue]*HotkeyCommands
	MappedKeys map[KeyValue]uint32
	Parent     *KeyContext
}

// NewContext constructs an empty named context.
func NewContext(name string) *KeyContext {
	return &KeyContext{
		Name:       name,
		Hotkeys:    make(map[KeyValue]*HotkeyCommands),
		MappedKeys: make(map[KeyValue]uint32),
	}
}

// AddBinding inserts a binding, keeping Bindings ordered most-specific
// first; ties keep insertion order, which is the authoritative tie-break
// within one context per §4.5.
func (c *KeyContext) AddBinding(b *KeyBinding) {
	insertAt := len(c.Bindings)
	for i, existing := range c.Bindings {
		if b.specificity() > existing.specificity() {
			insertAt = i
			break
		}
	}
	c.Bindings = append(c.Bindings, nil)
	copy(c.Bindings[insertAt+1:], c.Bindings[insertAt:])
	c.Bindings[insertAt] = b
}

// StickyMode is how a modifier bit contributed by the external
// input-command handler (§4.6) should latch.
type StickyMode int

const (
	StickyOff StickyMode = iota
	StickyPersistent
	StickyNextCommand
)

// KeyTable is one keyboard's full binding/hotkey/mapped-key resolution
// state: the set of contexts, which keys are currently held, sticky
// modifiers, and the long-press/autorelease/autorepeat timers.
type KeyTable struct {
	mu    sync.Mutex
	sched *scheduler.Scheduler

	dispatch           func(command.Command)
	synthesizeKeyboard func(functionMask uint32)
	synthesizeRelease  func(kv KeyValue)
	logDropped         func(kv KeyValue, reason string)

	contexts            map[string]*KeyContext
	defaultContextName  string
	activeContextName   string
	revertAfterNext      bool

	pressed []KeyValue

	firingBinding *KeyBinding

	onPersistent  uint32
	onNextCommand uint32
	stickyTimeout time.Duration
	stickyAlarm   scheduler.AlarmHandle

	longPressTime      time.Duration
	autorepeatInterval time.Duration
	longPressAlarm     scheduler.AlarmHandle
	longPressBinding   *KeyBinding
	longPressKey       KeyValue
	autorepeatAlarm    scheduler.AlarmHandle

	autoReleaseTime  time.Duration
	autoReleaseAlarm scheduler.AlarmHandle

	mappedAccum    uint32
	mappedHeldKeys map[KeyValue]bool
}

// Config bundles the timing constants and external collaborators a KeyTable
// needs at construction.
type Config struct {
	StickyModifierTimeout time.Duration
	LongPressTime         time.Duration
	AutorepeatInterval    time.Duration
	AutoReleaseTime       time.Duration
	Dispatch              func(command.Command)
	SynthesizeKeyboard    func(functionMask uint32)
	SynthesizeRelease     func(kv KeyValue)
	LogDropped            func(kv KeyValue, reason string)
}

// New constructs a KeyTable bound to sched, with defaultContext as both the
// default and initially active context.
func New(sched *scheduler.Scheduler, defaultContext *KeyContext, cfg Config) *KeyTable {
	t := &KeyTable{
		sched:               sched,
		dispatch:            cfg.Dispatch,
		synthesizeKeyboard:  cfg.SynthesizeKeyboard,
		synthesizeRelease:   cfg.SynthesizeRelease,
		logDropped:          cfg.LogDropped,
		contexts:            map[string]*KeyContext{defaultContext.Name: defaultContext},
		defaultContextName:  defaultContext.Name,
		activeContextName:   defaultContext.Name,
		stickyTimeout:       cfg.StickyModifierTimeout,
		longPressTime:       cfg.LongPressTime,
		autorepeatInterval:  cfg.AutorepeatInterval,
		autoReleaseTime:     cfg.AutoReleaseTime,
		mappedHeldKeys:      make(map[KeyValue]bool),
	}
	return t
}

// AddContext registers an additional named context (a binding's
// switch-context target, for instance).
func (t *KeyTable) AddContext(ctx *KeyContext) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.contexts[ctx.Name] = ctx
}

// PressedCount reports how many keys are currently held, for the testable
// invariant that it equals presses minus accepted releases.
func (t *KeyTable) PressedCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pressed)
}

func (t *KeyTable) isPressedLocked(kv KeyValue) bool {
	for _, p := range t.pressed {
		if p == kv {
			return true
		}
	}
	return false
}

func (t *KeyTable) removePressedLocked(kv KeyValue) {
	for i, p := range t.pressed {
		if p == kv {
			t.pressed = append(t.pressed[:i], t.pressed[i+1:]...)
			return
		}
	}
}

// heldModifiersExceptLocked returns the currently held keys other than kv, as a
// set, for matching against a binding's modifier requirement.
func (t *KeyTable) heldModifiersExceptLocked(kv KeyValue) []KeyValue {
	out := make([]KeyValue, 0, len(t.pressed))
	for _, p := range t.pressed {
		if p != kv {
			out = append(out, p)
		}
	}
	return out
}

func (t *KeyTable) contextChainLocked() []*KeyContext {
	var chain []*KeyContext
	name := t.activeContextName
	seen := make(map[string]bool)
	for name != "" && !seen[name] {
		seen[name] = true
		ctx, ok := t.contexts[name]
		if !ok {
			break
		}
		chain = append(chain, ctx)
		if ctx.Parent != nil {
			name = ctx.Parent.Name
		} else {
			name = ""
		}
	}
	return chain
}

func (t *KeyTable) findBindingLocked(kv KeyValue) *KeyBinding {
	held := t.heldModifiersExceptLocked(kv)
	for _, ctx := range t.contextChainLocked() {
		for _, b := range ctx.Bindings {
			if !sameKeySet(held, b.Combination.Modifiers) {
				continue
			}
			if !b.Combination.HasImmediate {
				continue
			}
			if b.Combination.Immediate.Matches(kv) {
				return b
			}
		}
	}
	return nil
}

func (t *KeyTable) findHotkeyLocked(kv KeyValue) *HotkeyCommands {
	for _, ctx := range t.contextChainLocked() {
		if hk, ok := ctx.Hotkeys[kv]; ok {
			return hk
		}
	}
	return nil
}

func (t *KeyTable) findMappedMaskLocked(kv KeyValue) (uint32, bool) {
	for _, ctx := range t.contextChainLocked() {
		if mask, ok := ctx.MappedKeys[kv]; ok {
			return mask, true
		}
	}
	return 0, false
}

// ProcessKeyEvent is the entry point the braille session's key fan-in calls
// for every press/release edge.
func (t *KeyTable) ProcessKeyEvent(kv KeyValue, pressed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.processLocked(kv, pressed)
}

func (t *KeyTable) processLocked(kv KeyValue, pressed bool) {
	t.resetAutoReleaseLocked()

	if pressed {
		if t.isPressedLocked(kv) {
			if t.logDropped != nil {
				t.logDropped(kv, "duplicate press")
			}
			return
		}
		t.pressed = append(t.pressed, kv)
		t.cancelLongPressLocked()

		if b := t.findBindingLocked(kv); b != nil {
			t.fireBindingLocked(b, false)
			return
		}
		if hk := t.findHotkeyLocked(kv); hk != nil && hk.HasPress {
			t.dispatchLocked(hk.Press)
		}
		t.applyMappedKeyLocked(kv, true)
		return
	}

	// release
	if !t.isPressedLocked(kv) {
		if t.logDropped != nil {
			t.logDropped(kv, "spurious release")
		}
		return
	}
	t.removePressedLocked(kv)
	t.cancelLongPressLocked()

	if t.firingBinding != nil && t.firingBinding.Combination.HasImmediate && t.firingBinding.Combination.Immediate.Matches(kv) {
		if t.firingBinding.HasSecondary {
			t.dispatchLocked(t.firingBinding.Secondary)
		}
		t.firingBinding = nil
		return
	}
	if hk := t.findHotkeyLocked(kv); hk != nil && hk.HasRelease {
		t.dispatchLocked(hk.Release)
	}
	t.applyMappedKeyLocked(kv, false)
}

func (t *KeyTable) fireBindingLocked(b *KeyBinding, longPress bool) {
	cmd := b.Primary
	if longPress {
		cmd = cmd.WithFlags(cmd.Flags() | command.FlagLongPress)
	}
	t.dispatchLocked(cmd)

	if b.HasSecondary {
		t.firingBinding = b
	}

	if b.LongPress && !longPress {
		t.armLongPressLocked(b)
	} else if longPress && b.Autorepeat {
		t.armAutorepeatLocked(b)
	}

	switch b.Switch {
	case SwitchPersistent:
		t.defaultContextName = b.TargetContext
		t.activeContextName = b.TargetContext
		t.revertAfterNext = false
	case SwitchTemporary:
		t.activeContextName = b.TargetContext
		t.revertAfterNext = true
	}
}

// dispatchLocked folds in sticky modifiers (on_next_command is consumed
// here, on_persistently stays latched) and sends the command to the
// handler stack, then applies a pending context revert.
func (t *KeyTable) dispatchLocked(cmd command.Command) {
	extra := command.Command(t.onPersistent|t.onNextCommand) & command.FlagMask
	t.onNextCommand = 0
	cmd = cmd.WithFlags(cmd.Flags() | extra)
	if t.dispatch != nil {
		t.dispatch(cmd)
	}
	if t.revertAfterNext {
		t.activeContextName = t.defaultContextName
		t.revertAfterNext = false
	}
}

// SetModifier is the external input-command handler's entry point (§4.6)
// for flipping a sticky modifier bit.
func (t *KeyTable) SetModifier(bit uint32, mode StickyMode) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch mode {
	case StickyPersistent:
		t.onPersistent |= bit
	case StickyNextCommand:
		t.onNextCommand |= bit
		t.armStickyTimeoutLocked()
	case StickyOff:
		t.onPersistent &^= bit
		t.onNextCommand &^= bit
	}
}

func (t *KeyTable) armStickyTimeoutLocked() {
	t.sched.Cancel(t.stickyAlarm)
	t.stickyAlarm = t.sched.NewAlarmIn(t.stickyTimeout, func(scheduler.AlarmHandle, any) {
		t.mu.Lock()
		t.onPersistent = 0
		t.onNextCommand = 0
		t.mu.Unlock()
	}, nil)
}

func (t *KeyTable) cancelLongPressLocked() {
	t.sched.Cancel(t.longPressAlarm)
	t.sched.Cancel(t.autorepeatAlarm)
	t.longPressBinding = nil
}

func (t *KeyTable) armLongPressLocked(b *KeyBinding) {
	t.longPressBinding = b
	t.longPressKey = b.Combination.Immediate
	t.longPressAlarm = t.sched.NewAlarmIn(t.longPressTime, func(scheduler.AlarmHandle, any) {
		t.mu.Lock()
		defer t.mu.Unlock()
		if t.longPressBinding == nil {
			return
		}
		if !t.isPressedLocked(t.longPressKey) {
			return
		}
		fired := t.longPressBinding
		t.longPressBinding = nil
		t.fireBindingLocked(fired, true)
	}, nil)
}

func (t *KeyTable) armAutorepeatLocked(b *KeyBinding) {
	key := b.Combination.Immediate
	t.sched.Cancel(t.autorepeatAlarm)
	t.autorepeatAlarm = t.sched.NewPeriodicAlarm(t.autorepeatInterval, t.autorepeatInterval, func(scheduler.AlarmHandle, any) {
		t.mu.Lock()
		defer t.mu.Unlock()
		if !t.isPressedLocked(key) {
			t.sched.Cancel(t.autorepeatAlarm)
			return
		}
		t.fireBindingLocked(b, true)
	}, nil)
}

func (t *KeyTable) resetAutoReleaseLocked() {
	if t.autoReleaseTime <= 0 {
		return
	}
	t.sched.Cancel(t.autoReleaseAlarm)
	t.autoReleaseAlarm = t.sched.NewAlarmIn(t.autoReleaseTime, func(scheduler.AlarmHandle, any) {
		t.mu.Lock()
		held := make([]KeyValue, len(t.pressed))
		copy(held, t.pressed)
		t.mu.Unlock()

		for i := len(held) - 1; i >= 0; i-- {
			kv := held[i]
			if t.synthesizeRelease != nil {
				t.synthesizeRelease(kv)
			}
			t.ProcessKeyEvent(kv, false)
		}
	}, nil)
}

func (t *KeyTable) applyMappedKeyLocked(kv KeyValue, pressed bool) {
	mask, ok := t.findMappedMaskLocked(kv)
	if !ok {
		return
	}
	if pressed {
		t.mappedHeldKeys[kv] = true
		t.mappedAccum |= mask
		return
	}
	delete(t.mappedHeldKeys, kv)
	t.mappedAccum &^= mask
	if len(t.mappedHeldKeys) == 0 && t.synthesizeKeyboard != nil {
		t.synthesizeKeyboard(t.mappedAccum)
		t.mappedAccum = 0
	}
}
