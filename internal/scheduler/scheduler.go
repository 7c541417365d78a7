// Package scheduler implements the single-threaded cooperative event loop
// that every other daemon subsystem runs on: alarms, input-readiness
// monitors, cross-thread task injection, and condition waits.
//
// Uses a container/heap ordered-alarm-set shape, the same structure a
// priority task queue would use, applied here to the daemon's alarm/monitor
// contract instead of a generic work queue.
package scheduler

import (
	"container/heap"
	"sync"
	"time"
)

// AlarmHandle is the opaque identity of a scheduled timer. The zero value is
// not a valid handle.
type AlarmHandle struct {
	id uint64
}

// Valid reports whether h refers to a real registration (as opposed to the
// zero AlarmHandle{}).
func (h AlarmHandle) Valid() bool { return h.id != 0 }

// AlarmFunc is invoked on the main loop when an alarm fires. handle is the
// alarm's own handle, so the callback can reschedule or cancel itself.
type AlarmFunc func(handle AlarmHandle, data any)

type alarmEntry struct {
	id        uint64
	seq       uint64 // registration order, used as a tie-break
	when      time.Time
	interval  time.Duration
	callback  AlarmFunc
	data      any
	index     int // position in the heap, maintained by container/heap
	cancelled bool
}

type alarmHeap []*alarmEntry

func (h alarmHeap) Len() int { return len(h) }
func (h alarmHeap) Less(i, j int) bool {
	if h[i].when.Equal(h[j].when) {
		return h[i].seq < h[j].seq
	}
	return h[i].when.Before(h[j].when)
}
func (h alarmHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *alarmHeap) Push(x any) {
	e := x.(*alarmEntry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *alarmHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// InputSource is a non-blocking readiness check for an endpoint monitored by
// the scheduler. Device Transport endpoints and BrlAPI listener sockets both
// implement it. Ready must never block; a cooperative main loop depends on
// that to keep pumping alarms and tasks.
type InputSource interface {
	Ready() (bool, error)
}

// MonitorHandle is the opaque identity of a registered input monitor.
type MonitorHandle struct {
	id uint64
}

type monitorEntry struct {
	id       uint64
	src      InputSource
	callback func(InputSource, error)
	disabled bool
}

// task is a one-shot callback queued from any goroutine to run on the main
// loop.
type task struct {
	fn func()
}

// Scheduler is the daemon's single cooperative event loop. All of its
// exported methods that mutate alarm/monitor state are safe to call from the
// main loop directly; AddTask and Cancel are additionally safe from other
// goroutines (the speech and tune worker threads described in the runtime's
// concurrency model).
type Scheduler struct {
	mu       sync.Mutex
	alarms   alarmHeap
	byID     map[uint64]*alarmEntry
	monitors map[uint64]*monitorEntry
	nextID   uint64

	tasksMu sync.Mutex
	tasks   []task

	wake  chan struct{}
	depth int // nested await_condition depth; tasks only drain at depth 1
}

// New constructs an empty Scheduler.
func New() *Scheduler {
	return &Scheduler{
		byID:     make(map[uint64]*alarmEntry),
		monitors: make(map[uint64]*monitorEntry),
		wake:     make(chan struct{}, 1),
	}
}

func (s *Scheduler) allocID() uint64 {
	s.nextID++
	return s.nextID
}

// NewAlarmAt registers a one-shot alarm firing at the given absolute time.
func (s *Scheduler) NewAlarmAt(when time.Time, cb AlarmFunc, data any) AlarmHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := &alarmEntry{
		id:       s.allocID(),
		seq:      s.nextID,
		when:     when,
		callback: cb,
		data:     data,
	}
	s.byID[e.id] = e
	heap.Push(&s.alarms, e)
	s.notifyWake()
	return AlarmHandle{id: e.id}
}

// NewAlarmIn registers a one-shot alarm firing after delta has elapsed.
func (s *Scheduler) NewAlarmIn(delta time.Duration, cb AlarmFunc, data any) AlarmHandle {
	return s.NewAlarmAt(time.Now().Add(delta), cb, data)
}

// NewPeriodicAlarm registers an alarm that re-arms itself to fire+interval
// every time it fires, until cancelled.
func (s *Scheduler) NewPeriodicAlarm(delta, interval time.Duration, cb AlarmFunc, data any) AlarmHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := &alarmEntry{
		id:       s.allocID(),
		seq:      s.nextID,
		when:     time.Now().Add(delta),
		interval: interval,
		callback: cb,
		data:     data,
	}
	s.byID[e.id] = e
	heap.Push(&s.alarms, e)
	s.notifyWake()
	return AlarmHandle{id: e.id}
}

// ResetAlarmTo reschedules an existing alarm to a new absolute time. A
// periodic alarm keeps its interval; use ResetAlarmInterval to change it.
func (s *Scheduler) ResetAlarmTo(h AlarmHandle, when time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.byID[h.id]
	if !ok {
		return false
	}
	e.when = when
	heap.Fix(&s.alarms, e.index)
	s.notifyWake()
	return true
}

// ResetAlarmIn reschedules an existing alarm to fire after delta.
func (s *Scheduler) ResetAlarmIn(h AlarmHandle, delta time.Duration) bool {
	return s.ResetAlarmTo(h, time.Now().Add(delta))
}

// ResetAlarmInterval changes an alarm's auto-reschedule interval. Pass 0 to
// make a periodic alarm one-shot again.
func (s *Scheduler) ResetAlarmInterval(h AlarmHandle, interval time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.byID[h.id]
	if !ok {
		return false
	}
	e.interval = interval
	return true
}

// Cancel removes a pending alarm. Idempotent: cancelling an already-fired or
// already-cancelled handle is a no-op. Safe to call from any goroutine.
func (s *Scheduler) Cancel(h AlarmHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.byID[h.id]
	if !ok {
		return
	}
	delete(s.byID, h.id)
	if e.index >= 0 {
		heap.Remove(&s.alarms, e.index)
	}
	e.cancelled = true
}

// MonitorInput registers cb to run whenever src reports readiness. The
// callback receives the error from the last Ready() poll, if any.
func (s *Scheduler) MonitorInput(src InputSource, cb func(InputSource, error)) MonitorHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.allocID()
	s.monitors[id] = &monitorEntry{id: id, src: src, callback: cb}
	s.notifyWake()
	return MonitorHandle{id: id}
}

// CancelMonitor unregisters a previously registered input monitor.
func (s *Scheduler) CancelMonitor(h MonitorHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.monitors, h.id)
}

// AddTask queues a one-shot callback to run on the main loop. Safe to call
// from any goroutine; this is how the speech and tune worker threads hand
// results back without touching main-loop state directly.
func (s *Scheduler) AddTask(fn func()) {
	s.tasksMu.Lock()
	s.tasks = append(s.tasks, task{fn: fn})
	s.tasksMu.Unlock()
	s.notifyWake()
}

func (s *Scheduler) notifyWake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// nextDeadline returns the earliest pending alarm deadline, and whether one
// exists.
func (s *Scheduler) nextDeadline() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.alarms) == 0 {
		return time.Time{}, false
	}
	return s.alarms[0].when, true
}

// popDueAlarms pops and returns every alarm whose deadline has passed,
// leaving periodic ones re-armed in the heap per their interval (re-armed
// relative to the missed deadline, not to now, so a slow loop does not
// accumulate drift).
func (s *Scheduler) popDueAlarms(now time.Time) []*alarmEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []*alarmEntry
	for len(s.alarms) > 0 && !s.alarms[0].when.After(now) {
		e := heap.Pop(&s.alarms).(*alarmEntry)
		if e.cancelled {
			delete(s.byID, e.id)
			continue
		}
		due = append(due, e)
		if e.interval > 0 {
			// Re-arm the same entry so its handle stays valid for Cancel.
			e.when = e.when.Add(e.interval)
			heap.Push(&s.alarms, e)
		} else {
			delete(s.byID, e.id)
		}
	}
	return due
}

func (s *Scheduler) drainTasks() []task {
	s.tasksMu.Lock()
	defer s.tasksMu.Unlock()
	if len(s.tasks) == 0 {
		return nil
	}
	drained := s.tasks
	s.tasks = nil
	return drained
}

func (s *Scheduler) snapshotMonitors() []*monitorEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*monitorEntry, 0, len(s.monitors))
	for _, m := range s.monitors {
		if !m.disabled {
			out = append(out, m)
		}
	}
	return out
}

// pumpOnce runs one dispatch pass: due alarms, then tasks (only at depth 1),
// then ready monitors. Returns true if any work was performed.
func (s *Scheduler) pumpOnce() bool {
	did := false

	for _, e := range s.popDueAlarms(time.Now()) {
		e.callback(AlarmHandle{id: e.id}, e.data)
		did = true
	}

	if s.depth == 1 {
		for _, t := range s.drainTasks() {
			t.fn()
			did = true
		}
	}

	for _, m := range s.snapshotMonitors() {
		ready, err := m.src.Ready()
		if err != nil || ready {
			m.callback(m.src, err)
			did = true
		}
	}

	return did
}

// sleepBudget returns how long the loop may block waiting for the next
// alarm or wake-up, capped by budget.
func (s *Scheduler) sleepBudget(budget time.Duration) time.Duration {
	if deadline, ok := s.nextDeadline(); ok {
		until := time.Until(deadline)
		if until < budget {
			if until < 0 {
				return 0
			}
			return until
		}
	}
	return budget
}

// subIntervalCap bounds how long a single sleep may last so long-lived
// AwaitCondition/WaitFor calls still let alarms and monitors run.
const subIntervalCap = 200 * time.Millisecond

// AwaitCondition pumps the loop until tester returns true or timeout
// elapses. A non-positive timeout waits forever. Nested calls are tracked by
// depth: task callbacks only run at depth 1, so a task cannot itself call
// AwaitCondition and expect other queued tasks to drain underneath it.
func (s *Scheduler) AwaitCondition(timeout time.Duration, tester func() bool) bool {
	s.depth++
	defer func() { s.depth-- }()

	var deadline time.Time
	hasDeadline := timeout > 0
	if hasDeadline {
		deadline = time.Now().Add(timeout)
	}

	for {
		if tester() {
			return true
		}
		if hasDeadline && !time.Now().Before(deadline) {
			return false
		}

		sub := subIntervalCap
		if hasDeadline {
			remaining := time.Until(deadline)
			if remaining < sub {
				sub = remaining
			}
		}
		sub = s.sleepBudget(sub)

		if s.pumpOnce() {
			continue
		}
		if sub <= 0 {
			continue
		}
		select {
		case <-s.wake:
		case <-time.After(sub):
		}
	}
}

// WaitFor blocks, pumping the loop, until tester returns true. Implemented
// as repeated bounded AwaitCondition calls so alarms registered elsewhere
// keep firing while this call is outstanding.
func (s *Scheduler) WaitFor(tester func() bool) {
	for !s.AwaitCondition(subIntervalCap, tester) {
	}
}

// Run pumps the loop forever until ctx-like stop function returns true. It
// is the daemon's outermost call, installed by cmd/serve.go.
func (s *Scheduler) Run(stop func() bool) {
	s.WaitFor(stop)
}

// Now returns the current monotonic-backed time, exposed so callers build
// TimePoint/TimePeriod values against the same clock the scheduler uses.
func Now() time.Time { return time.Now() }
