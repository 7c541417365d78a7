// Session ties a connected display's key scan into the key table: drivers
// that report individual press/release events feed KeyEventSink directly,
// while drivers that only report a whole-keyboard bitmask snapshot go
// through EnqueueUpdatedKeys, which diffs against the previous snapshot and
// replays the implied presses and releases in a safe order.
package braille

import "brld/internal/keytable"

// KeyEventSink receives one key transition at a time, in the order the
// session decides they happened. internal/keytable.KeyTable implements it.
type KeyEventSink interface {
	ProcessKeyEvent(key keytable.KeyValue, press bool)
}

// Session fans key activity from a single connected display into a sink,
// tracking the set of keys currently believed pressed so that a bitmask
// driver's snapshot can be diffed into individual transitions.
type Session struct {
	sink    KeyEventSink
	pressed map[keytable.KeyValue]bool
}

// NewSession constructs a Session that forwards transitions to sink.
func NewSession(sink KeyEventSink) *Session {
	return &Session{
		sink:    sink,
		pressed: make(map[keytable.KeyValue]bool),
	}
}

// EnqueueKeyEvent forwards a single already-known transition, maintaining
// the pressed-set used by EnqueueUpdatedKeys.
func (s *Session) EnqueueKeyEvent(key keytable.KeyValue, press bool) {
	if press {
		s.pressed[key] = true
	} else {
		delete(s.pressed, key)
	}
	s.sink.ProcessKeyEvent(key, press)
}

// EnqueueKeys replays a full set of currently-pressed keys against the
// session's prior belief, in ascending order for presses. Used by drivers
// that can only report "here is everything down right now" rather than
// discrete transitions.
func (s *Session) EnqueueKeys(down []keytable.KeyValue) {
	s.EnqueueUpdatedKeys(down)
}

// EnqueueUpdatedKeys diffs down against the session's remembered pressed
// set and emits the implied transitions: newly-pressed keys ascending
// (lowest group/number first, so modifiers naturally precede the keys they
// qualify when a driver numbers them that way), then newly-released keys
// descending, mirroring the LIFO order a human releasing a chord would
// produce.
func (s *Session) EnqueueUpdatedKeys(down []keytable.KeyValue) {
	nowDown := make(map[keytable.KeyValue]bool, len(down))
	for _, k := range down {
		nowDown[k] = true
	}

	var pressed, released []keytable.KeyValue
	for k := range nowDown {
		if !s.pressed[k] {
			pressed = append(pressed, k)
		}
	}
	for k := range s.pressed {
		if !nowDown[k] {
			released = append(released, k)
		}
	}

	sortKeyValuesAscending(pressed)
	sortKeyValuesAscending(released)
	reverseKeyValues(released)

	for _, k := range pressed {
		s.EnqueueKeyEvent(k, true)
	}
	for _, k := range released {
		s.EnqueueKeyEvent(k, false)
	}
}

func sortKeyValuesAscending(keys []keytable.KeyValue) {
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keyValueLess(keys[j], keys[j-1]); j-- {
			keys[j], keys[j-1] = keys[j-1], keys[j]
		}
	}
}

func keyValueLess(a, b keytable.KeyValue) bool {
	if a.Group != b.Group {
		return a.Group < b.Group
	}
	return a.Number < b.Number
}

func reverseKeyValues(keys []keytable.KeyValue) {
	for i, j := 0, len(keys)-1; i < j; i, j = i+1, j-1 {
		keys[i], keys[j] = keys[j], keys[i]
	}
}
