package brlapi

import (
	"sync"

	"github.com/google/uuid"
)

// Mode is a session's mutually-exclusive claim on the display.
type Mode int

const (
	ModeNone Mode = iota
	ModeTty
	ModeRaw
)

// Session is one connected BrlAPI client's state.
type Session struct {
	ID uuid.UUID

	mu sync.Mutex

	authenticated bool
	mode          Mode
	ttyPath       string
	suspended     bool
	priority      int

	accept []KeyRange
	ignore []KeyRange

	watches map[watchKey]chan ParamChange

	// Monitor marks a read-only observer session. Nothing in the server
	// reads this flag: such a session is authenticated, filtered, and
	// allowed to claim tty/raw mode like any other.
	Monitor bool
}

// NewSession constructs an unauthenticated session with the given id.
func NewSession(id uuid.UUID) *Session {
	return &Session{ID: id, watches: make(map[watchKey]chan ParamChange)}
}

func (s *Session) SetAuthenticated(ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authenticated = ok
}

func (s *Session) Authenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authenticated
}

// EnterTty claims tty mode for path. Fails if already in raw mode (the
// caller must Leave first).
func (s *Session) EnterTty(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mode == ModeRaw {
		return false
	}
	s.mode = ModeTty
	s.ttyPath = path
	return true
}

// EnterRaw claims raw mode. Fails if already in tty mode.
func (s *Session) EnterRaw() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mode == ModeTty {
		return false
	}
	s.mode = ModeRaw
	return true
}

// Leave releases whichever mode the session holds.
func (s *Session) Leave() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = ModeNone
	s.ttyPath = ""
}

func (s *Session) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

func (s *Session) TtyPath() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ttyPath
}

func (s *Session) SetSuspended(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.suspended = v
}

func (s *Session) Suspended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.suspended
}

// SetAcceptedRanges replaces the session's key-acceptance filter.
func (s *Session) SetAcceptedRanges(ranges []KeyRange) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accept = ranges
}

// SetIgnoredRanges replaces the session's key-ignore filter.
func (s *Session) SetIgnoredRanges(ranges []KeyRange) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ignore = ranges
}

// WantsKey reports whether this tty-mode session should receive code:
// accepted if it matches an accept range and does not match an ignore
// range (ignore ranges, if any are set, take priority as an explicit
// opt-out; an empty accept list with a non-empty ignore list means
// "everything except what's ignored").
func (s *Session) WantsKey(code KeyCode) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.ignore {
		if r.Matches(code) {
			return false
		}
	}
	if len(s.accept) == 0 {
		return true
	}
	for _, r := range s.accept {
		if r.Matches(code) {
			return true
		}
	}
	return false
}
