package activity

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"brld/internal/scheduler"
)

func TestRetryThenSucceed(t *testing.T) {
	sched := scheduler.New()
	a := New(sched, "display", 100*time.Millisecond)
	a.StartTimeout = time.Second

	var attempts int32
	var states []State
	a.OnTransition(func(tr Transition) { states = append(states, tr.To) })

	a.Start = func(data any) error {
		n := atomic.AddInt32(&attempts, 1)
		if n < 3 {
			return errors.New("not yet")
		}
		return nil
	}

	a.Start()

	outcome := a.AwaitStarted(400 * time.Millisecond)
	if outcome != WaitReached {
		t.Fatalf("activity did not reach Started within budget, attempts=%d states=%v", attempts, states)
	}
	if atomic.LoadInt32(&attempts) != 3 {
		t.Fatalf("expected exactly 3 start attempts, got %d", attempts)
	}
	if a.State() != Started {
		t.Fatalf("expected Started, got %v", a.State())
	}
}

func TestStopFromStartedRunsStopCallback(t *testing.T) {
	sched := scheduler.New()
	a := New(sched, "display", 10*time.Millisecond)
	a.StartTimeout = time.Second
	a.StopTimeout = time.Second

	stopped := false
	a.Start = func(any) error { return nil }
	a.Stop = func(any) { stopped = true }

	a.Start()
	if a.AwaitStarted(0) != WaitReached {
		t.Fatalf("never started")
	}

	a.Stop()
	if a.AwaitStopped(0) != WaitReached {
		t.Fatalf("never stopped")
	}
	if !stopped {
		t.Fatalf("stop callback never ran")
	}
}

func TestStartDuringStopUpgradesToStoppingStart(t *testing.T) {
	sched := scheduler.New()
	a := New(sched, "display", 10*time.Millisecond)
	a.StartTimeout = time.Second
	a.StopTimeout = time.Second

	restarted := false
	a.Start = func(any) error {
		if restarted {
			return nil
		}
		return nil
	}
	a.Stop = func(any) {
		// not reached: the test forces Stopping directly below and only
		// checks the state a Start request moves it to.
		restarted = true
	}

	a.Start()
	a.AwaitStarted(0)

	a.mu.Lock()
	a.state = Stopping
	a.mu.Unlock()
	a.Start() // -> StoppingStart

	a.mu.Lock()
	got := a.state
	a.mu.Unlock()
	if got != StoppingStart {
		t.Fatalf("expected StoppingStart, got %v", got)
	}
}

func TestStopDuringPrepareTransitionsThroughPreparingStop(t *testing.T) {
	sched := scheduler.New()
	a := New(sched, "display", 10*time.Millisecond)
	a.StopTimeout = time.Second

	proceed := make(chan struct{})
	var states []State
	var mu sync.Mutex
	a.OnTransition(func(tr Transition) {
		mu.Lock()
		states = append(states, tr.To)
		mu.Unlock()
	})
	a.Prepare = func() (any, error) {
		<-proceed
		return nil, nil
	}
	a.Start = func(any) error { return nil }

	go a.Start()

	deadline := time.Now().Add(time.Second)
	for {
		if a.State() == Preparing {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("activity never reached Preparing")
		}
		time.Sleep(time.Millisecond)
	}

	a.Stop()
	a.mu.Lock()
	got := a.state
	a.mu.Unlock()
	if got != PreparingStop {
		t.Fatalf("expected PreparingStop, got %v", got)
	}

	close(proceed)
	if a.AwaitStopped(0) != WaitReached {
		t.Fatalf("never settled to Stopped after prepare finished")
	}

	mu.Lock()
	defer mu.Unlock()
	wantPrefix := []State{Preparing, PreparingStop, Stopped}
	if len(states) < len(wantPrefix) {
		t.Fatalf("expected at least %v, got %v", wantPrefix, states)
	}
	for i, s := range wantPrefix {
		if states[i] != s {
			t.Fatalf("expected transition %d to be %v, got %v (full: %v)", i, s, states[i], states)
		}
	}
}

func TestDoubleStopIsNoop(t *testing.T) {
	sched := scheduler.New()
	a := New(sched, "display", 10*time.Millisecond)
	a.Start = func(any) error { return nil }
	a.Stop = func(any) {}

	a.Stop()
	a.Stop()
	if a.State() != Stopped {
		t.Fatalf("expected Stopped, got %v", a.State())
	}
}
