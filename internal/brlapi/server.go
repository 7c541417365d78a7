package brlapi

import (
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"brld/internal/auth"
	"brld/internal/braille"
	"brld/internal/brlerr"
	"brld/internal/history"
	"brld/internal/keytable"
	"brld/internal/reports"
	"brld/internal/scheduler"
)

// Server accepts BrlAPI client connections, authenticates them, and
// routes Write/Key/parameter traffic between sessions, the Braille
// Session, and the Key Table.
//
// Uses a plain net.Listener accept loop, generalized from a single
// long-lived peer to BrlAPI's many concurrent client sessions multiplexed
// over the Scheduler.
type Server struct {
	sched    *scheduler.Scheduler
	listener net.Listener
	verifier *auth.Verifier
	registry *Registry
	reports  *reports.Bus

	display *braille.Buffer
	keys    *keytable.KeyTable
	history *history.Store
	table   braille.TranslationTable

	mu         sync.Mutex
	sessions   map[uuid.UUID]*serverSession
	rawHolder  *serverSession
	focusedTty string

	driverName string
	rawSend    func([]byte)
	syncFlush  func()
}

// SetHistory attaches an audit-trail store; once set, session authentication,
// mode changes, and disconnects are recorded to it. Optional: a nil or
// never-set store simply skips recording.
func (s *Server) SetHistory(store *history.Store) {
	s.history = store
}

func (s *Server) recordSessionEvent(sess *serverSession, kind, detail string) {
	if s.history == nil {
		return
	}
	_ = s.history.RecordSessionEvent(sess.ID.String(), kind, detail, scheduler.Now())
}

type serverSession struct {
	*Session
	conn    net.Conn
	reader  *Reader
	outbox  chan []byte
	peer    auth.PeerInfo
	monitor scheduler.MonitorHandle

	done      chan struct{}
	closeOnce sync.Once
}

// NewServer constructs a Server listening on ln, authenticating with
// verifier, composing writes into display, and routing keys through keys.
func NewServer(sched *scheduler.Scheduler, ln net.Listener, verifier *auth.Verifier, registry *Registry, bus *reports.Bus, display *braille.Buffer, keys *keytable.KeyTable) *Server {
	return &Server{
		sched:    sched,
		listener: ln,
		verifier: verifier,
		registry: registry,
		reports:  bus,
		display:  display,
		keys:     keys,
		table:    braille.IdentityTable(),
		sessions: make(map[uuid.UUID]*serverSession),
	}
}

// SetTranslationTable replaces the dot-pattern translation table applied to
// incoming Write text. Defaults to the identity table.
func (s *Server) SetTranslationTable(tt braille.TranslationTable) {
	s.table = tt
}

// SetDriverName sets the string returned to clients asking GetDriverName,
// normally the configured transport identifier.
func (s *Server) SetDriverName(name string) {
	s.driverName = name
}

// SetRawSender installs the function Packet messages are forwarded to: the
// device transport's raw write path, bypassing cell translation entirely.
// Packet is refused with an Error while unset.
func (s *Server) SetRawSender(fn func([]byte)) {
	s.rawSend = fn
}

// SetSyncFlush installs the function a client's Synchronize request
// triggers to force an immediate display flush instead of waiting for the
// next periodic tick.
func (s *Server) SetSyncFlush(fn func()) {
	s.syncFlush = fn
}

// AcceptLoop accepts connections until the listener is closed, registering
// each as a session with the scheduler via a dedicated monitor. It should
// be run on a dedicated goroutine since net.Listener.Accept blocks; the
// per-connection I/O afterward is driven cooperatively through the
// scheduler via connInputSource.
func (s *Server) AcceptLoop() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return err
		}
		s.acceptConn(conn)
	}
}

func (s *Server) acceptConn(conn net.Conn) {
	id := uuid.New()

	sess := &serverSession{
		Session: NewSession(id),
		conn:    conn,
		reader:  NewReader(),
		outbox:  make(chan []byte, 16),
		peer:    peerInfo(conn),
		done:    make(chan struct{}),
	}

	s.mu.Lock()
	s.sessions[id] = sess
	s.mu.Unlock()

	sess.monitor = s.sched.MonitorInput(&connInputSource{conn: conn}, func(scheduler.InputSource, error) {
		s.pumpSession(sess)
	})

	go s.runOutbox(sess)

	s.send(sess, EncodeMessage(Version, []byte{0, 0, 0, 1}))
}

// runOutbox serializes every message queued for sess (replies, routed keys,
// and param-watch notifications) onto the connection's Write, so no two
// goroutines ever interleave writes on the same socket.
func (s *Server) runOutbox(sess *serverSession) {
	for {
		select {
		case msg := <-sess.outbox:
			if _, err := sess.conn.Write(msg); err != nil {
				return
			}
		case <-sess.done:
			return
		}
	}
}

// connInputSource adapts a net.Conn into scheduler.InputSource. A
// zero-timeout peek read is not available on net.Conn portably, so Ready
// always reports true and pumpSession bounds its own Read with a short
// deadline instead; a timeout is "nothing arrived yet," not a close. This
// keeps one idle connection from blocking the scheduler's single goroutine
// away from every other session's monitor and from due alarms.
type connInputSource struct {
	conn net.Conn
}

func (c *connInputSource) Ready() (bool, error) { return true, nil }

// pumpReadTimeout bounds how long pumpSession may block reading one
// session's socket before yielding back to the scheduler loop.
const pumpReadTimeout = 20 * time.Millisecond

func (s *Server) pumpSession(sess *serverSession) {
	_ = sess.conn.SetReadDeadline(time.Now().Add(pumpReadTimeout))
	buf := make([]byte, 4096)
	n, err := sess.conn.Read(buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return
		}
		s.closeSession(sess)
		return
	}
	offset := 0
	for offset < n {
		consumed := sess.reader.Feed(buf[offset:n])
		offset += consumed
		if sess.reader.State() == DispatchReady {
			msgType, payload, ok := sess.reader.Take()
			if !ok {
				s.send(sess, EncodeMessage(Error, []byte("packet too large")))
				continue
			}
			s.dispatch(sess, msgType, payload)
		}
		if consumed == 0 {
			break
		}
	}
}

func (s *Server) dispatch(sess *serverSession, msgType MessageType, payload []byte) {
	switch msgType {
	case Auth:
		ok := s.verifier.Verify(string(payload), sess.peer)
		sess.SetAuthenticated(ok)
		if !ok {
			s.send(sess, EncodeMessage(Error, []byte("authentication failed")))
			s.closeSession(sess)
			return
		}
		s.send(sess, EncodeMessage(Ack, nil))
		s.recordSessionEvent(sess, "auth", "ok")

	case GetDriverName:
		if !sess.Authenticated() {
			s.send(sess, EncodeMessage(Error, []byte("not authenticated")))
			return
		}
		s.send(sess, EncodeMessage(ParamValue, []byte(s.driverName)))

	case GetDisplaySize:
		if !sess.Authenticated() {
			s.send(sess, EncodeMessage(Error, []byte("not authenticated")))
			return
		}
		resp := make([]byte, 0, 8)
		resp = append(resp, beBytes32(uint32(s.display.Rows))...)
		resp = append(resp, beBytes32(uint32(s.display.Cols))...)
		s.send(sess, EncodeMessage(ParamValue, resp))

	case EnterTtyMode:
		if !sess.Authenticated() {
			s.send(sess, EncodeMessage(Error, []byte("not authenticated")))
			return
		}
		if !sess.EnterTty(string(payload)) {
			s.send(sess, EncodeMessage(Error, []byte("raw mode already claimed")))
			return
		}
		s.send(sess, EncodeMessage(Ack, nil))
		s.recordSessionEvent(sess, "enter-tty", string(payload))

	case SetFocus:
		if !sess.Authenticated() || sess.Mode() != ModeTty {
			s.send(sess, EncodeMessage(Error, []byte("not in tty mode")))
			return
		}
		path := string(payload)
		s.mu.Lock()
		s.focusedTty = path
		s.mu.Unlock()
		s.send(sess, EncodeMessage(Ack, nil))
		s.recordSessionEvent(sess, "set-focus", path)

	case LeaveTtyMode, LeaveRawMode:
		leftTty := sess.TtyPath()
		sess.Leave()
		s.mu.Lock()
		if s.focusedTty == leftTty {
			s.focusedTty = ""
		}
		s.mu.Unlock()
		s.send(sess, EncodeMessage(Ack, nil))

	case EnterRawMode:
		if !sess.Authenticated() {
			s.send(sess, EncodeMessage(Error, []byte("not authenticated")))
			return
		}
		s.mu.Lock()
		if s.rawHolder != nil {
			s.mu.Unlock()
			s.send(sess, EncodeMessage(Error, []byte("raw mode already held")))
			return
		}
		if !sess.EnterRaw() {
			s.mu.Unlock()
			s.send(sess, EncodeMessage(Error, []byte("tty mode already claimed")))
			return
		}
		s.rawHolder = sess
		s.mu.Unlock()
		s.send(sess, EncodeMessage(Ack, nil))
		s.recordSessionEvent(sess, "enter-raw", "")

	case AcceptKeyRanges:
		sess.SetAcceptedRanges(decodeKeyRanges(payload))
		s.send(sess, EncodeMessage(Ack, nil))

	case IgnoreKeyRanges:
		sess.SetIgnoredRanges(decodeKeyRanges(payload))
		s.send(sess, EncodeMessage(Ack, nil))

	case SuspendDriver:
		sess.SetSuspended(true)
		s.send(sess, EncodeMessage(Ack, nil))

	case ResumeDriver:
		sess.SetSuspended(false)
		s.send(sess, EncodeMessage(Ack, nil))

	case Write:
		if !sess.Authenticated() || sess.Mode() == ModeNone {
			s.send(sess, EncodeMessage(Error, []byte("write outside a claimed mode")))
			return
		}
		if err := s.handleWrite(sess, payload); err != nil {
			s.send(sess, EncodeMessage(Error, []byte(err.Error())))
			return
		}
		s.send(sess, EncodeMessage(Ack, nil))

	case Packet:
		s.mu.Lock()
		isRawHolder := s.rawHolder == sess
		s.mu.Unlock()
		if !sess.Authenticated() || sess.Mode() != ModeRaw || !isRawHolder {
			s.send(sess, EncodeMessage(Error, []byte("packet requires the raw mode holder")))
			return
		}
		if s.rawSend == nil {
			s.send(sess, EncodeMessage(Error, []byte("raw driver passthrough unavailable")))
			return
		}
		s.rawSend(payload)
		s.send(sess, EncodeMessage(Ack, nil))

	case Synchronize:
		if !sess.Authenticated() {
			s.send(sess, EncodeMessage(Error, []byte("not authenticated")))
			return
		}
		if s.syncFlush != nil {
			s.syncFlush()
		}
		s.send(sess, EncodeMessage(Ack, nil))

	case ParamRequest:
		s.handleParamRequest(sess, payload)

	default:
		s.send(sess, EncodeMessage(Error, []byte("unhandled message type")))
	}
}

// handleWrite decodes a Write message, converts its text from the declared
// charset to UTF-8, chunks it into one grapheme cluster per cell, and
// composes it into the shared display buffer.
func (s *Server) handleWrite(sess *serverSession, payload []byte) error {
	req, err := decodeWriteRequest(payload)
	if err != nil {
		return err
	}

	begin, size := req.Begin, req.Size
	if req.Flags&WriteRegionFlag == 0 {
		begin, size = 0, len(s.display.Cells)
	}
	if size <= 0 || begin < 0 {
		return brlerr.New(brlerr.InvalidInput, "invalid write region")
	}

	cellBytes := make([]byte, size)
	for i := range cellBytes {
		cellBytes[i] = ' '
	}
	if req.Flags&WriteTextFlag != 0 {
		text, err := decodeCharset(req.Charset, req.Text)
		if err != nil {
			return brlerr.Wrap(brlerr.InvalidInput, "decoding write charset", err)
		}
		for i, cluster := range braille.ChunkGraphemes(text, size) {
			cellBytes[i] = braille.ClusterByte(cluster)
		}
	}

	var andMask, orMask []byte
	if len(req.AndMask) == size {
		andMask = req.AndMask
	}
	if len(req.OrMask) == size {
		orMask = req.OrMask
	}

	cursor := braille.NoCursor
	if req.Flags&WriteCursorFlag != 0 {
		cursor = req.Cursor
	}

	return s.WriteCells(sess, begin, cellBytes, andMask, orMask, s.table, cursor)
}

func (s *Server) handleParamRequest(sess *serverSession, payload []byte) {
	if len(payload) < 8 {
		s.send(sess, EncodeMessage(Error, []byte("malformed param request")))
		return
	}
	param := beUint32(payload[0:4])
	subparam := beUint32(payload[4:8])
	data, flags, ok := s.registry.Get(param, subparam)
	if !ok {
		s.send(sess, EncodeMessage(Error, []byte("unknown or unreadable parameter")))
		return
	}
	if len(payload) >= 9 && payload[8] != 0 {
		ch := make(chan ParamChange, 8)
		s.registry.Watch(param, subparam, ch)
		sess.watches[watchKey{param, subparam}] = ch
		go s.drainParamWatch(sess, ch)
	}
	resp := make([]byte, 0, 12+len(data))
	resp = append(resp, beBytes32(param)...)
	resp = append(resp, beBytes32(subparam)...)
	resp = append(resp, beBytes32(uint32(flags))...)
	resp = append(resp, data...)
	s.send(sess, EncodeMessage(ParamValue, resp))
}

// drainParamWatch runs for the lifetime of a single watch registration,
// turning each ParamChange the registry delivers into a ParamValue message
// on sess's outbox. It exits when the session itself tears down (or if ch
// is closed); Registry.Unwatch only unregisters ch and does not close it.
func (s *Server) drainParamWatch(sess *serverSession, ch chan ParamChange) {
	for {
		select {
		case change, ok := <-ch:
			if !ok {
				return
			}
			resp := make([]byte, 0, 12+len(change.Data))
			resp = append(resp, beBytes32(change.Param)...)
			resp = append(resp, beBytes32(change.Subparam)...)
			resp = append(resp, beBytes32(uint32(change.Flags))...)
			resp = append(resp, change.Data...)
			s.send(sess, EncodeMessage(ParamValue, resp))
		case <-sess.done:
			return
		}
	}
}

// RouteKey delivers code to every tty-mode session whose active tty and
// filters accept it, or publishes it as a reports.KeyEvent on the reports
// bus if no session claims it. The active tty is whichever path a client most
// recently claimed via SetFocus, not a caller-supplied value.
func (s *Server) RouteKey(code KeyCode) {
	s.mu.Lock()
	activeTty := s.focusedTty
	sessions := make([]*serverSession, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	delivered := false
	for _, sess := range sessions {
		if sess.Mode() != ModeTty || sess.TtyPath() != activeTty {
			continue
		}
		if !sess.WantsKey(code) {
			continue
		}
		s.send(sess, EncodeMessage(Key, EncodeKeyCode(code)))
		delivered = true
	}
	if !delivered && s.reports != nil {
		s.reports.Report(reports.KeyEvent, code)
	}
}

// WriteCells composes a client's Write payload into the shared display
// buffer, refusing writes while the driver is suspended by another
// session.
func (s *Server) WriteCells(sess *serverSession, begin int, text, andMask, orMask []byte, tt braille.TranslationTable, cursor int) error {
	s.mu.Lock()
	suspendedElsewhere := false
	for id, other := range s.sessions {
		if id != sess.ID && other.Suspended() {
			suspendedElsewhere = true
			break
		}
	}
	s.mu.Unlock()
	if suspendedElsewhere {
		return brlerr.New(brlerr.Busy, "driver suspended by another session")
	}
	s.display.WriteRegion(begin, text, tt, andMask, orMask, cursor)
	return nil
}

// send queues msg for sess's outbox goroutine, rather than writing the
// socket directly, so replies, routed keys, and param-watch notifications
// from different goroutines never interleave on the wire. It gives up
// once the session is torn down instead of blocking forever on a full
// outbox nobody is draining anymore.
func (s *Server) send(sess *serverSession, msg []byte) {
	select {
	case sess.outbox <- msg:
	case <-sess.done:
	}
}

func (s *Server) closeSession(sess *serverSession) {
	s.mu.Lock()
	delete(s.sessions, sess.ID)
	if s.rawHolder == sess {
		s.rawHolder = nil
	}
	if s.focusedTty == sess.TtyPath() && sess.Mode() == ModeTty {
		s.focusedTty = ""
	}
	s.mu.Unlock()

	sess.closeOnce.Do(func() { close(sess.done) })
	s.sched.CancelMonitor(sess.monitor)
	for key, ch := range sess.watches {
		s.registry.Unwatch(key.param, key.subparam, ch)
	}
	s.recordSessionEvent(sess, "disconnect", "")
	_ = sess.conn.Close()
}

func decodeKeyRanges(payload []byte) []KeyRange {
	const stride = 24
	var ranges []KeyRange
	for i := 0; i+stride <= len(payload); i += stride {
		first, _ := DecodeKeyCode(payload[i : i+8])
		last, _ := DecodeKeyCode(payload[i+8 : i+16])
		mask, _ := DecodeKeyCode(payload[i+16 : i+24])
		ranges = append(ranges, KeyRange{First: first, Last: last, Mask: mask})
	}
	return ranges
}

func beUint32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func beBytes32(v uint32) []byte {
	return []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
}
