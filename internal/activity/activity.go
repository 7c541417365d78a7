// Package activity implements the supervisor state machine described for
// drivers and servers: a restartable unit that is started, stopped, and
// retried without ever running two transitions concurrently.
//
// Built around mutex-guarded state bookkeeping, with requests that arrive
// mid-transition recorded as compound states of an explicit eleven-state
// machine.
package activity

import (
	"fmt"
	"sync"
	"time"

	"brld/internal/scheduler"
)

// State is one of the eleven observable states an Activity can be in.
type State int

const (
	Stopped State = iota
	Prepared
	Scheduled
	Started
	Preparing
	PreparingStop
	Starting
	StartingStop
	StartingRestart
	Stopping
	StoppingStart
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Prepared:
		return "prepared"
	case Scheduled:
		return "scheduled"
	case Started:
		return "started"
	case Preparing:
		return "preparing"
	case PreparingStop:
		return "preparing+stop"
	case Starting:
		return "starting"
	case StartingStop:
		return "starting+stop"
	case StartingRestart:
		return "starting+restart"
	case Stopping:
		return "stopping"
	case StoppingStart:
		return "stopping+start"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ParseState reverses State.String, for reconstructing a Transition from a
// persisted record in internal/history.
func ParseState(s string) (State, bool) {
	switch s {
	case "stopped":
		return Stopped, true
	case "prepared":
		return Prepared, true
	case "scheduled":
		return Scheduled, true
	case "started":
		return Started, true
	case "preparing":
		return Preparing, true
	case "preparing+stop":
		return PreparingStop, true
	case "starting":
		return Starting, true
	case "starting+stop":
		return StartingStop, true
	case "starting+restart":
		return StartingRestart, true
	case "stopping":
		return Stopping, true
	case "stopping+start":
		return StoppingStart, true
	default:
		return Stopped, false
	}
}

// WaitOutcome distinguishes a satisfied wait from one that ran out of time,
// per §7's requirement that timeouts are reported distinctly from failure.
type WaitOutcome int

const (
	WaitReached WaitOutcome = iota
	WaitTimedOut
)

// PrepareFunc allocates whatever per-activity state the Start/Stop callbacks
// need and returns it, or an error to keep the activity Stopped.
type PrepareFunc func() (any, error)

// StartFunc attempts to bring the activity up. A non-nil error is a
// retryable failure; the supervisor reschedules per RetryInterval.
type StartFunc func(data any) error

// StopFunc tears the activity down. It is expected to succeed; there is no
// retry path for stop.
type StopFunc func(data any)

// Transition records one state change for the audit history in
// internal/history.
type Transition struct {
	From  State
	To    State
	At    time.Time
	Event string
}

// Activity is a supervised, restartable unit of work.
type Activity struct {
	Name          string
	RetryInterval time.Duration
	StartTimeout  time.Duration
	StopTimeout   time.Duration

	Prepare PrepareFunc
	Start   StartFunc
	Stop    StopFunc

	sched    *scheduler.Scheduler
	recorder func(Transition)

	mu    sync.Mutex
	state State
	data  any
	alarm scheduler.AlarmHandle
}

// New constructs an Activity bound to sched, initially Stopped.
func New(sched *scheduler.Scheduler, name string, retryInterval time.Duration) *Activity {
	return &Activity{
		Name:          name,
		RetryInterval: retryInterval,
		sched:         sched,
		state:         Stopped,
	}
}

// OnTransition installs a recorder invoked (synchronously, on the main
// loop) after every state change. Used to feed internal/history.
func (a *Activity) OnTransition(fn func(Transition)) {
	a.mu.Lock()
	a.recorder = fn
	a.mu.Unlock()
}

// State returns the activity's current observable state.
func (a *Activity) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// mu must be held by caller.
func (a *Activity) setState(to State, event string) {
	from := a.state
	a.state = to
	if a.recorder != nil && from != to {
		a.recorder(Transition{From: from, To: to, At: scheduler.Now(), Event: event})
	}
}

// Start requests activation. See §4.1 for the per-state transition table.
func (a *Activity) Start() {
	a.mu.Lock()

	switch a.state {
	case Stopped:
		a.setState(Preparing, "start")
		prepareFn := a.Prepare
		a.mu.Unlock()

		var data any
		var err error
		if prepareFn != nil {
			data, err = prepareFn()
		}

		a.mu.Lock()
		switch a.state {
		case Preparing:
			if err != nil {
				a.setState(Stopped, "prepare-fail")
				break
			}
			a.data = data
			a.setState(Prepared, "prepare-ok")
			a.scheduleLocked()
		case PreparingStop:
			// Stop arrived while Prepare was in flight; honor it now that
			// Prepare has returned, regardless of its outcome.
			a.setState(Stopped, "stop-after-prepare")
		}
		a.mu.Unlock()
		return
	case Preparing:
		// no-op: a concurrent prepare is already in flight.
	case PreparingStop:
		a.setState(Preparing, "start")
	case Prepared:
		a.scheduleLocked()
	case Scheduled:
		a.sched.ResetAlarmIn(a.alarm, 0)
	case StartingStop:
		a.setState(StartingRestart, "start")
	case Stopping:
		a.setState(StoppingStart, "start")
	case Starting, StartingRestart, Started, StoppingStart:
		// already converging toward Started; nothing further to do.
	}
	a.mu.Unlock()
}

// Stop requests deactivation. See §4.1 for the per-state transition table.
func (a *Activity) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch a.state {
	case Stopped, PreparingStop, StartingStop, Stopping:
		// already stopped or already converging toward stopped.
	case Preparing:
		a.setState(PreparingStop, "stop")
	case Prepared:
		a.setState(Stopped, "stop")
	case Scheduled:
		a.sched.Cancel(a.alarm)
		a.setState(Stopped, "stop")
	case Starting:
		a.setState(StartingStop, "stop")
	case StartingRestart:
		// downgrade the pending restart to a plain stop.
		a.setState(StartingStop, "stop")
	case Started:
		a.setState(Stopping, "stop")
		a.runStopLocked()
	case StoppingStart:
		a.setState(Stopping, "stop")
	}
}

// scheduleLocked arms the retry alarm. The first attempt fires immediately;
// on failure the alarm re-fires every RetryInterval until Start succeeds or
// Stop cancels it.
func (a *Activity) scheduleLocked() {
	a.setState(Scheduled, "schedule")
	a.alarm = a.sched.NewPeriodicAlarm(0, a.RetryInterval, a.onRetryFire, nil)
}

func (a *Activity) onRetryFire(scheduler.AlarmHandle, any) {
	a.mu.Lock()
	if a.state != Scheduled {
		a.mu.Unlock()
		return
	}
	a.setState(Starting, "retry")
	startFn := a.Start
	data := a.data
	a.mu.Unlock()

	var err error
	if startFn != nil {
		err = startFn(data)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	switch a.state {
	case Starting:
		if err == nil {
			a.sched.Cancel(a.alarm)
			a.setState(Started, "start-ok")
		} else {
			a.setState(Scheduled, "start-fail")
		}
	case StartingStop:
		a.sched.Cancel(a.alarm)
		if err == nil {
			a.setState(Stopping, "stop-after-start")
			a.runStopLocked()
		} else {
			a.setState(Stopped, "start-fail")
		}
	case StartingRestart:
		a.sched.Cancel(a.alarm)
		if err == nil {
			a.setState(Stopping, "restart")
			a.runStopLocked()
			a.Start()
		} else {
			a.scheduleLocked()
		}
	}
}

// runStopLocked must be called with mu held; it releases the lock for the
// duration of the Stop callback and re-acquires it before returning.
func (a *Activity) runStopLocked() {
	data := a.data
	stopFn := a.Stop
	a.mu.Unlock()
	if stopFn != nil {
		stopFn(data)
	}
	a.mu.Lock()

	switch a.state {
	case Stopping:
		a.setState(Stopped, "stop-ok")
	case StoppingStart:
		a.setState(Stopped, "stop-ok")
		a.mu.Unlock()
		a.Start()
		a.mu.Lock()
	}
}

// AwaitStarted blocks (pumping the scheduler) until the activity reaches
// Started, or timeout elapses. A non-positive timeout uses StartTimeout.
func (a *Activity) AwaitStarted(timeout time.Duration) WaitOutcome {
	if timeout <= 0 {
		timeout = a.StartTimeout
	}
	ok := a.sched.AwaitCondition(timeout, func() bool { return a.State() == Started })
	if ok {
		return WaitReached
	}
	return WaitTimedOut
}

// AwaitStopped blocks until the activity reaches Stopped, or timeout
// elapses. A non-positive timeout uses StopTimeout.
func (a *Activity) AwaitStopped(timeout time.Duration) WaitOutcome {
	if timeout <= 0 {
		timeout = a.StopTimeout
	}
	ok := a.sched.AwaitCondition(timeout, func() bool { return a.State() == Stopped })
	if ok {
		return WaitReached
	}
	return WaitTimedOut
}

// Destroy stops the activity and waits for it to settle before the caller
// discards it.
func (a *Activity) Destroy() WaitOutcome {
	a.Stop()
	return a.AwaitStopped(a.StopTimeout)
}
